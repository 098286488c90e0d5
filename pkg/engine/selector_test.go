package engine

import (
	"errors"
	"testing"

	"github.com/mockswitch/mockswitch/pkg/scenario"
)

func criteriaMock(url string, headers map[string]scenario.MatchValue, body any) *scenario.Mock {
	return &scenario.Mock{
		Method:   "GET",
		URL:      url,
		Match:    &scenario.MatchCriteria{Headers: headers},
		Response: &scenario.Response{Status: 200, Body: body},
	}
}

func exact(v any) scenario.MatchValue {
	return scenario.MatchValue{Kind: scenario.KindExact, Exact: v}
}

func TestSelect_SpecificityBeatsOrder(t *testing.T) {
	fallback := respMock("GET", "/api/users", "fallback")
	specific := criteriaMock("/api/users", map[string]scenario.MatchValue{
		"X-Tier": exact("gold"),
	}, "specific")

	// Fallback declared first; the criteria mock must still win.
	e := newEngine(t, defaultDef(fallback, specific))

	req := &scenario.RequestContext{
		Method:  "GET",
		URL:     "https://x.test/api/users",
		Headers: map[string]string{"X-Tier": "gold"},
	}
	res, err := e.SelectResponse("t1", req)
	if err != nil {
		t.Fatalf("SelectResponse: %v", err)
	}
	if res.Response.Body != "specific" {
		t.Errorf("body = %v, want specific", res.Response.Body)
	}
}

func TestSelect_MoreFieldsWins(t *testing.T) {
	one := criteriaMock("/api/users", map[string]scenario.MatchValue{
		"X-A": exact("1"),
	}, "one")
	two := criteriaMock("/api/users", map[string]scenario.MatchValue{
		"X-A": exact("1"),
		"X-B": exact("2"),
	}, "two")

	e := newEngine(t, defaultDef(one, two))

	req := &scenario.RequestContext{
		Method:  "GET",
		URL:     "https://x.test/api/users",
		Headers: map[string]string{"X-A": "1", "X-B": "2"},
	}
	res, err := e.SelectResponse("t1", req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Response.Body != "two" {
		t.Errorf("body = %v, want the two-field mock", res.Response.Body)
	}
}

func TestSelect_CriteriaTieFirstWins(t *testing.T) {
	first := criteriaMock("/api/users", map[string]scenario.MatchValue{
		"X-A": exact("1"),
	}, "first")
	second := criteriaMock("/api/users", map[string]scenario.MatchValue{
		"X-A": exact("1"),
	}, "second")

	e := newEngine(t, defaultDef(first, second))

	req := &scenario.RequestContext{
		Method:  "GET",
		URL:     "https://x.test/api/users",
		Headers: map[string]string{"X-A": "1"},
	}
	res, err := e.SelectResponse("t1", req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Response.Body != "first" {
		t.Errorf("body = %v, tied criteria mocks should pick the first", res.Response.Body)
	}
}

func TestSelect_ActiveFallbackOverridesDefaultFallback(t *testing.T) {
	e := newEngine(t,
		defaultDef(respMock("GET", "/api/users", "default")),
		&scenario.Definition{ID: "declined", Mocks: []*scenario.Mock{
			respMock("GET", "/api/users", "declined"),
		}},
	)

	if err := e.SwitchScenario("t1", "declined", ""); err != nil {
		t.Fatal(err)
	}

	req := &scenario.RequestContext{Method: "GET", URL: "https://x.test/api/users"}
	res, err := e.SelectResponse("t1", req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Response.Body != "declined" {
		t.Errorf("body = %v, active fallback should override the default's", res.Response.Body)
	}

	// Another identity still on the default scenario is unaffected.
	res, err = e.SelectResponse("t2", req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Response.Body != "default" {
		t.Errorf("t2 body = %v, want default", res.Response.Body)
	}
}

func TestSelect_SequenceFallbackOutranksPlainFallback(t *testing.T) {
	plain := respMock("GET", "/poll", "plain")
	seq := &scenario.Mock{
		Method: "GET",
		URL:    "/poll",
		Sequence: &scenario.Sequence{
			Responses: []*scenario.Response{{Status: 202, Body: "queued"}},
		},
	}

	// Sequence fallback first, plain fallback after: plain would win a pure
	// last-wins tie, so this checks the sequence's higher score.
	e := newEngine(t, defaultDef(seq, plain))

	req := &scenario.RequestContext{Method: "GET", URL: "https://x.test/poll"}
	res, err := e.SelectResponse("t1", req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Response.Body != "queued" {
		t.Errorf("body = %v, want the sequence fallback", res.Response.Body)
	}
}

func TestSelect_SequenceRepeatPolicies(t *testing.T) {
	responses := []*scenario.Response{
		{Status: 202, Body: "first"},
		{Status: 200, Body: "second"},
	}

	tests := []struct {
		name   string
		repeat scenario.RepeatPolicy
		want   []any
	}{
		{name: "last pins final response", repeat: scenario.RepeatLast, want: []any{"first", "second", "second"}},
		{name: "cycle wraps", repeat: scenario.RepeatCycle, want: []any{"first", "second", "first"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, defaultDef(&scenario.Mock{
				Method:   "GET",
				URL:      "/poll",
				Sequence: &scenario.Sequence{Responses: responses, Repeat: tt.repeat},
			}))

			req := &scenario.RequestContext{Method: "GET", URL: "https://x.test/poll"}
			for i, want := range tt.want {
				res, err := e.SelectResponse("t1", req)
				if err != nil {
					t.Fatalf("request %d: %v", i, err)
				}
				if res.Response.Body != want {
					t.Errorf("request %d body = %v, want %v", i, res.Response.Body, want)
				}
			}
		})
	}
}

func TestSelect_ExhaustedSequenceFallsThrough(t *testing.T) {
	seq := &scenario.Mock{
		Method: "GET",
		URL:    "/job",
		Sequence: &scenario.Sequence{
			Responses: []*scenario.Response{{Status: 202, Body: "running"}},
			Repeat:    scenario.RepeatNone,
		},
	}
	fallback := respMock("GET", "/job", "done")

	e := newEngine(t, defaultDef(seq, fallback))
	req := &scenario.RequestContext{Method: "GET", URL: "https://x.test/job"}

	res, err := e.SelectResponse("t1", req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Response.Body != "running" {
		t.Fatalf("first body = %v, want running", res.Response.Body)
	}

	// The sequence is now exhausted for t1: it must stop matching and let
	// the plain fallback take over.
	res, err = e.SelectResponse("t1", req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Response.Body != "done" {
		t.Errorf("second body = %v, want done", res.Response.Body)
	}

	// A different identity still gets the sequence.
	res, err = e.SelectResponse("t2", req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Response.Body != "running" {
		t.Errorf("t2 body = %v, want running", res.Response.Body)
	}
}

func TestSelect_TemplateSubstitution(t *testing.T) {
	mock := &scenario.Mock{
		Method: "GET",
		URL:    "/users/:id",
		Response: &scenario.Response{
			Status:  200,
			Headers: map[string]string{"X-Scenario": "{{scenario.id}}"},
			Body: map[string]any{
				"id":      "{{params.id}}",
				"tier":    "{{state.user.tier}}",
				"message": "user {{params.id}} is {{state.user.tier}}",
			},
		},
	}
	e := newEngine(t,
		defaultDef(respMock("GET", "/x", nil)),
		&scenario.Definition{ID: "premium-user", Mocks: []*scenario.Mock{mock}},
	)

	if err := e.SwitchScenario("t1", "premium-user", ""); err != nil {
		t.Fatal(err)
	}
	e.StateStore().Set("t1", "user.tier", "premium")

	res, err := e.SelectResponse("t1", &scenario.RequestContext{
		Method: "GET",
		URL:    "https://x.test/users/42",
	})
	if err != nil {
		t.Fatal(err)
	}

	body := res.Response.Body.(map[string]any)
	if body["id"] != "42" {
		t.Errorf("id = %v, want 42", body["id"])
	}
	if body["tier"] != "premium" {
		t.Errorf("tier = %v, want premium", body["tier"])
	}
	if body["message"] != "user 42 is premium" {
		t.Errorf("message = %v", body["message"])
	}
	if res.Response.Headers["X-Scenario"] != "premium-user" {
		t.Errorf("header = %v, want premium-user", res.Response.Headers["X-Scenario"])
	}
	if res.Params["id"] != "42" {
		t.Errorf("Params = %#v", res.Params)
	}
}

func TestSelect_StateResponseFlow(t *testing.T) {
	order := &scenario.Mock{
		Method: "POST",
		URL:    "/orders",
		Response: &scenario.Response{
			Status: 201,
			Body:   "created",
		},
		AfterResponse: &scenario.AfterResponse{
			SetState: map[string]any{"order.status": "pending"},
		},
	}
	status := &scenario.Mock{
		Method: "GET",
		URL:    "/orders/status",
		StateResponse: &scenario.StateResponse{
			Default: &scenario.Response{Status: 404, Body: "no order"},
			Conditions: []*scenario.StateCondition{
				{
					When: map[string]any{"order.status": "pending"},
					Then: &scenario.Response{Status: 200, Body: "pending"},
				},
			},
		},
	}
	e := newEngine(t, defaultDef(order, status))

	statusReq := &scenario.RequestContext{Method: "GET", URL: "https://x.test/orders/status"}

	res, err := e.SelectResponse("t1", statusReq)
	if err != nil {
		t.Fatal(err)
	}
	if res.Response.Body != "no order" {
		t.Fatalf("before order, body = %v, want default", res.Response.Body)
	}

	if _, err := e.SelectResponse("t1", &scenario.RequestContext{Method: "POST", URL: "https://x.test/orders"}); err != nil {
		t.Fatal(err)
	}

	res, err = e.SelectResponse("t1", statusReq)
	if err != nil {
		t.Fatal(err)
	}
	if res.Response.Body != "pending" {
		t.Errorf("after order, body = %v, want pending", res.Response.Body)
	}
}

func TestSelect_StateResponseConditionRanking(t *testing.T) {
	mock := &scenario.Mock{
		Method: "GET",
		URL:    "/quote",
		StateResponse: &scenario.StateResponse{
			Default: &scenario.Response{Status: 200, Body: "base"},
			Conditions: []*scenario.StateCondition{
				{
					When: map[string]any{"tier": "gold"},
					Then: &scenario.Response{Status: 200, Body: "gold"},
				},
				{
					When: map[string]any{"tier": "gold", "region": "eu"},
					Then: &scenario.Response{Status: 200, Body: "gold-eu"},
				},
			},
		},
	}
	e := newEngine(t, defaultDef(mock))
	e.StateStore().Merge("t1", map[string]any{"tier": "gold", "region": "eu"})

	res, err := e.SelectResponse("t1", &scenario.RequestContext{Method: "GET", URL: "https://x.test/quote"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Response.Body != "gold-eu" {
		t.Errorf("body = %v, the condition with more keys should win", res.Response.Body)
	}
}

func TestSelect_StateResponseWhenExpr(t *testing.T) {
	mock := &scenario.Mock{
		Method: "GET",
		URL:    "/cart",
		StateResponse: &scenario.StateResponse{
			Default: &scenario.Response{Status: 200, Body: "ok"},
			Conditions: []*scenario.StateCondition{
				{
					WhenExpr: "state.total > 100",
					Then:     &scenario.Response{Status: 200, Body: "free shipping"},
				},
			},
		},
	}
	e := newEngine(t, defaultDef(mock))
	req := &scenario.RequestContext{Method: "GET", URL: "https://x.test/cart"}

	e.StateStore().Set("t1", "total", 50)
	res, err := e.SelectResponse("t1", req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Response.Body != "ok" {
		t.Errorf("below threshold body = %v, want ok", res.Response.Body)
	}

	e.StateStore().Set("t1", "total", 150)
	res, err = e.SelectResponse("t1", req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Response.Body != "free shipping" {
		t.Errorf("above threshold body = %v, want free shipping", res.Response.Body)
	}
}

func TestSelect_AfterResponseNullSuppressesInheritance(t *testing.T) {
	mock := &scenario.Mock{
		Method: "GET",
		URL:    "/step",
		StateResponse: &scenario.StateResponse{
			Default: &scenario.Response{Status: 200, Body: "start"},
			Conditions: []*scenario.StateCondition{
				{
					When:              map[string]any{"stage": "done"},
					Then:              &scenario.Response{Status: 200, Body: "finished"},
					AfterResponseNull: true,
				},
			},
		},
		AfterResponse: &scenario.AfterResponse{
			SetState: map[string]any{"stage": "done", "visits[]": "x"},
		},
	}
	e := newEngine(t, defaultDef(mock))
	req := &scenario.RequestContext{Method: "GET", URL: "https://x.test/step"}

	// First request serves the default and applies the mock-level mutation.
	res, err := e.SelectResponse("t1", req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Response.Body != "start" {
		t.Fatalf("first body = %v", res.Response.Body)
	}

	// Second request hits the condition, whose explicit null afterResponse
	// suppresses the mock-level mutation: visits is appended exactly once.
	res, err = e.SelectResponse("t1", req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Response.Body != "finished" {
		t.Fatalf("second body = %v", res.Response.Body)
	}

	visits, _ := e.StateStore().Get("t1", "visits")
	arr, ok := visits.([]any)
	if !ok || len(arr) != 1 {
		t.Errorf("visits = %#v, want exactly one append", visits)
	}
}

func TestSelect_NoMatchPolicies(t *testing.T) {
	reg := func() *scenario.Registry { return scenario.NewRegistry() }
	def := defaultDef(criteriaMock("/api/users", map[string]scenario.MatchValue{
		"X-Tier": exact("gold"),
	}, "ok"))
	req := &scenario.RequestContext{Method: "GET", URL: "https://x.test/api/users"}

	failEngine := New(reg())
	if err := failEngine.Initialize(def); err != nil {
		t.Fatal(err)
	}
	_, err := failEngine.SelectResponse("t1", req)
	var noMatch *scenario.NoMockMatchedError
	if !errors.As(err, &noMatch) {
		t.Fatalf("expected NoMockMatchedError, got %v", err)
	}
	if len(noMatch.NearMisses) != 1 || noMatch.NearMisses[0].Reason != "headers.X-Tier" {
		t.Errorf("near misses = %#v", noMatch.NearMisses)
	}
	if noMatch.Hint() == "" {
		t.Error("NoMockMatchedError should carry a hint")
	}

	warnEngine := New(reg(), WithMatchPolicy(PolicyWarn))
	if err := warnEngine.Initialize(def); err != nil {
		t.Fatal(err)
	}
	res, err := warnEngine.SelectResponse("t1", req)
	if err != nil {
		t.Fatalf("warn policy should not error: %v", err)
	}
	if !res.PassThrough {
		t.Error("warn policy should signal pass-through")
	}

	ignoreEngine := New(reg(), WithMatchPolicy(PolicyIgnore))
	if err := ignoreEngine.Initialize(def); err != nil {
		t.Fatal(err)
	}
	res, err = ignoreEngine.SelectResponse("t1", req)
	if err != nil || !res.PassThrough {
		t.Errorf("ignore policy = (%+v, %v), want silent pass-through", res, err)
	}
}

func TestSelect_DisabledStateServesStateResponseDefault(t *testing.T) {
	mock := &scenario.Mock{
		Method: "GET",
		URL:    "/x",
		StateResponse: &scenario.StateResponse{
			Default: &scenario.Response{Status: 200, Body: "default"},
			Conditions: []*scenario.StateCondition{
				{When: map[string]any{"k": "v"}, Then: &scenario.Response{Status: 500, Body: "boom"}},
			},
		},
	}
	e := New(scenario.NewRegistry(), WithStateStore(nil))
	if err := e.Initialize(defaultDef(mock)); err != nil {
		t.Fatal(err)
	}

	res, err := e.SelectResponse("t1", &scenario.RequestContext{Method: "GET", URL: "https://x.test/x"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Response.Body != "default" {
		t.Errorf("body = %v, want default when state is disabled", res.Response.Body)
	}
}

func TestSelect_ZeroStatusDefaultsTo200(t *testing.T) {
	e := newEngine(t, defaultDef(&scenario.Mock{
		Method:   "GET",
		URL:      "/x",
		Response: &scenario.Response{Body: "ok"},
	}))

	res, err := e.SelectResponse("t1", &scenario.RequestContext{Method: "GET", URL: "https://x.test/x"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Response.Status != 200 {
		t.Errorf("status = %d, want 200", res.Response.Status)
	}
}
