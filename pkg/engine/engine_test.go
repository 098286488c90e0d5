package engine

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/mockswitch/mockswitch/pkg/logging"
	"github.com/mockswitch/mockswitch/pkg/scenario"
)

func respMock(method, url string, body any) *scenario.Mock {
	return &scenario.Mock{
		Method:   method,
		URL:      url,
		Response: &scenario.Response{Status: 200, Body: body},
	}
}

func defaultDef(mocks ...*scenario.Mock) *scenario.Definition {
	return &scenario.Definition{ID: scenario.DefaultScenarioID, Mocks: mocks}
}

func newEngine(t *testing.T, defs ...*scenario.Definition) *Engine {
	t.Helper()
	e := New(scenario.NewRegistry())
	if err := e.Initialize(defs...); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return e
}

func TestEngine_InitializeRequiresDefault(t *testing.T) {
	e := New(scenario.NewRegistry())
	err := e.Initialize(&scenario.Definition{
		ID:    "other",
		Mocks: []*scenario.Mock{respMock("GET", "/x", nil)},
	})
	if err == nil {
		t.Fatal("expected error for missing default scenario")
	}
	var cfgErr *scenario.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError, got %T", err)
	}
}

func TestEngine_InitializeIdempotent(t *testing.T) {
	reg := scenario.NewRegistry()
	e := New(reg)
	def := defaultDef(respMock("GET", "/x", nil))

	if err := e.Initialize(def); err != nil {
		t.Fatalf("first initialize: %v", err)
	}
	if err := e.Initialize(def); err != nil {
		t.Errorf("re-initializing the same instance with the same set should pass: %v", err)
	}

	conflicting := defaultDef(respMock("GET", "/y", nil))
	err := e.Initialize(conflicting)
	var dupErr *scenario.DuplicateScenarioError
	if !errors.As(err, &dupErr) {
		t.Errorf("expected DuplicateScenarioError for a conflicting set, got %v", err)
	}
}

func TestEngine_InitializeLogsOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Config{Level: logging.LevelInfo, Format: logging.FormatJSON, Output: &buf})
	e := New(scenario.NewRegistry(), WithLogger(logger))
	def := defaultDef(respMock("GET", "/x", nil))

	if err := e.Initialize(def); err != nil {
		t.Fatalf("first initialize: %v", err)
	}
	if err := e.Initialize(def); err != nil {
		t.Fatalf("second initialize: %v", err)
	}

	if n := strings.Count(buf.String(), "engine initialized"); n != 1 {
		t.Errorf("init log emitted %d times, want 1", n)
	}
}

func TestEngine_RegisterRejectsBadPattern(t *testing.T) {
	e := New(scenario.NewRegistry())
	err := e.RegisterScenario(defaultDef(respMock("GET", "/users/:a:b", nil)))
	if err == nil {
		t.Fatal("expected pattern error")
	}
	var synErr *scenario.PatternSyntaxError
	if !errors.As(err, &synErr) {
		t.Errorf("expected PatternSyntaxError, got %T", err)
	}
}

func TestEngine_RegisterRejectsBadWhenExpr(t *testing.T) {
	e := New(scenario.NewRegistry())
	mock := &scenario.Mock{
		Method: "GET",
		URL:    "/x",
		StateResponse: &scenario.StateResponse{
			Default: &scenario.Response{Status: 200},
			Conditions: []*scenario.StateCondition{
				{WhenExpr: "state.count >", Then: &scenario.Response{Status: 402}},
			},
		},
	}
	err := e.RegisterScenario(defaultDef(mock))
	if err == nil {
		t.Fatal("expected compile error for malformed whenExpr")
	}
	var cfgErr *scenario.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError, got %T", err)
	}
}

func TestEngine_SwitchScenario(t *testing.T) {
	e := newEngine(t,
		defaultDef(respMock("GET", "/x", nil)),
		&scenario.Definition{ID: "declined", Mocks: []*scenario.Mock{respMock("GET", "/x", "no")}},
	)

	if err := e.SwitchScenario("t1", "declined", "visa"); err != nil {
		t.Fatalf("SwitchScenario: %v", err)
	}
	active := e.ActiveScenario("t1")
	if active.ScenarioID != "declined" || active.Variant != "visa" {
		t.Errorf("active = %+v", active)
	}

	if got := e.ActiveScenario("t2"); got.ScenarioID != scenario.DefaultScenarioID {
		t.Errorf("other identity should stay on default, got %+v", got)
	}
}

func TestEngine_SwitchScenarioUnknown(t *testing.T) {
	e := newEngine(t, defaultDef(respMock("GET", "/x", nil)))

	err := e.SwitchScenario("t1", "no-such", "")
	var nfErr *scenario.ScenarioNotFoundError
	if !errors.As(err, &nfErr) {
		t.Fatalf("expected ScenarioNotFoundError, got %v", err)
	}
	if nfErr.Hint() == "" {
		t.Error("ScenarioNotFoundError should carry a hint")
	}
}

func TestEngine_SwitchClearsStateAndSequences(t *testing.T) {
	seq := &scenario.Mock{
		ID:     "seq",
		Method: "GET",
		URL:    "/poll",
		Sequence: &scenario.Sequence{
			Responses: []*scenario.Response{
				{Status: 202, Body: "pending"},
				{Status: 200, Body: "done"},
			},
		},
	}
	e := newEngine(t,
		defaultDef(seq),
		&scenario.Definition{ID: "alt", Mocks: []*scenario.Mock{respMock("GET", "/other", nil)}},
	)

	req := &scenario.RequestContext{Method: "GET", URL: "https://x.test/poll"}
	res, err := e.SelectResponse("t1", req)
	if err != nil {
		t.Fatalf("SelectResponse: %v", err)
	}
	if res.Response.Body != "pending" {
		t.Fatalf("first body = %v, want pending", res.Response.Body)
	}

	e.StateStore().Set("t1", "seen", true)

	if err := e.SwitchScenario("t1", "alt", ""); err != nil {
		t.Fatal(err)
	}

	if _, ok := e.StateStore().Get("t1", "seen"); ok {
		t.Error("switch should clear state for the identity")
	}

	res, err = e.SelectResponse("t1", req)
	if err != nil {
		t.Fatalf("SelectResponse after switch: %v", err)
	}
	if res.Response.Body != "pending" {
		t.Errorf("sequence should restart after switch, body = %v", res.Response.Body)
	}
}

func TestEngine_ClearScenario(t *testing.T) {
	e := newEngine(t,
		defaultDef(respMock("GET", "/x", nil)),
		&scenario.Definition{ID: "alt", Mocks: []*scenario.Mock{respMock("GET", "/x", nil)}},
	)

	if err := e.SwitchScenario("t1", "alt", ""); err != nil {
		t.Fatal(err)
	}
	e.ClearScenario("t1")
	if got := e.ActiveScenario("t1"); got.ScenarioID != scenario.DefaultScenarioID {
		t.Errorf("after clear, active = %+v, want default", got)
	}
}

func TestEngine_CandidateMocksOrder(t *testing.T) {
	defMock := respMock("GET", "/a", nil)
	altMock := respMock("GET", "/b", nil)
	e := newEngine(t,
		defaultDef(defMock),
		&scenario.Definition{ID: "alt", Mocks: []*scenario.Mock{altMock}},
	)

	candidates := e.CandidateMocks("t1")
	if len(candidates) != 1 {
		t.Fatalf("default identity should see only default mocks, got %d", len(candidates))
	}

	if err := e.SwitchScenario("t1", "alt", ""); err != nil {
		t.Fatal(err)
	}
	candidates = e.CandidateMocks("t1")
	if len(candidates) != 2 {
		t.Fatalf("got %d candidates, want 2", len(candidates))
	}
	if candidates[0].URL != "/a" || candidates[1].URL != "/b" {
		t.Errorf("candidate order = [%s, %s], want default first", candidates[0].URL, candidates[1].URL)
	}
}

func TestEngine_ListScenarios(t *testing.T) {
	e := newEngine(t,
		defaultDef(respMock("GET", "/x", nil)),
		&scenario.Definition{ID: "beta", Mocks: []*scenario.Mock{respMock("GET", "/x", nil)}},
		&scenario.Definition{ID: "alpha", Mocks: []*scenario.Mock{respMock("GET", "/x", nil)}},
	)

	list := e.ListScenarios()
	if len(list) != 3 || list[0].ID != scenario.DefaultScenarioID {
		t.Fatalf("ListScenarios order wrong: %v", ids(list))
	}
	if list[1].ID != "alpha" || list[2].ID != "beta" {
		t.Errorf("ListScenarios = %v, want default, alpha, beta", ids(list))
	}

	if _, ok := e.ScenarioByID("beta"); !ok {
		t.Error("ScenarioByID(beta) should resolve")
	}
}

func ids(defs []*scenario.Definition) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.ID
	}
	return out
}

func TestEngine_ServedResponseUnaffectedByLaterMutation(t *testing.T) {
	body := map[string]any{"status": "ok"}
	m := respMock("GET", "/health", body)
	def := defaultDef(m)
	e := newEngine(t, def)

	// Corrupting the caller's definition after registration must not leak
	// into what the engine serves.
	body["status"] = "corrupted"
	m.Response.Status = 500

	res, err := e.SelectResponse("t1", &scenario.RequestContext{Method: "GET", URL: "/health"})
	if err != nil {
		t.Fatalf("SelectResponse: %v", err)
	}
	if res.Response.Status != 200 {
		t.Errorf("status = %d, want 200", res.Response.Status)
	}
	served := res.Response.Body.(map[string]any)
	if served["status"] != "ok" {
		t.Errorf("body status = %v, want ok", served["status"])
	}
}
