// Package engine ties the scenario registry, per-test stores, matcher, and
// template engine into one long-lived instance. It owns scenario switching
// (which resets per-test state and sequence positions) and response
// selection for intercepted requests.
package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"

	"github.com/mockswitch/mockswitch/internal/matching"
	"github.com/mockswitch/mockswitch/pkg/logging"
	"github.com/mockswitch/mockswitch/pkg/scenario"
	"github.com/mockswitch/mockswitch/pkg/sequence"
	"github.com/mockswitch/mockswitch/pkg/state"
	"github.com/mockswitch/mockswitch/pkg/store"
	"github.com/mockswitch/mockswitch/pkg/template"
)

// Engine is the response selection engine. All collaborators are injected;
// construct one long-lived instance per process and share it across test
// identities. Core operations are synchronous and perform no I/O.
type Engine struct {
	id        string
	registry  *scenario.Registry
	scenarios store.ScenarioStore
	state     store.StateStore
	sequences store.SequenceStore
	matcher   *matching.Matcher
	templates *template.Engine
	logger    *slog.Logger
	policy    MatchPolicy

	mu          sync.Mutex
	initialized bool // set on first successful Initialize

	exprMu   sync.RWMutex
	programs map[string]*vm.Program
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithScenarioStore injects an alternative active-scenario store.
func WithScenarioStore(s store.ScenarioStore) Option {
	return func(e *Engine) { e.scenarios = s }
}

// WithStateStore injects an alternative state store. Passing nil disables
// state entirely: match.state criteria fail and stateResponse mocks always
// serve their default.
func WithStateStore(s store.StateStore) Option {
	return func(e *Engine) { e.state = s }
}

// WithSequenceStore injects an alternative sequence store.
func WithSequenceStore(s store.SequenceStore) Option {
	return func(e *Engine) { e.sequences = s }
}

// WithMatchPolicy sets how unmatched requests are reported.
func WithMatchPolicy(p MatchPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// New creates an engine around a registry. In-memory stores are used unless
// alternatives are injected.
func New(registry *scenario.Registry, opts ...Option) *Engine {
	e := &Engine{
		id:        uuid.NewString(),
		registry:  registry,
		scenarios: store.NewMemoryScenarioStore(),
		state:     state.NewManager(),
		sequences: nil,
		matcher:   matching.NewMatcher(),
		templates: template.New(),
		logger:    logging.Nop(),
		policy:    PolicyFail,
		programs:  make(map[string]*vm.Program),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sequences == nil {
		e.sequences = defaultSequences()
	}
	return e
}

func defaultSequences() store.SequenceStore { return sequence.NewTracker() }

// ID returns the engine instance token, useful for log correlation.
func (e *Engine) ID() string { return e.id }

// Initialize registers a set of definitions and verifies the required
// default scenario is present. Calling it again on the same instance with
// an identical set is a no-op; a conflicting set fails with
// DuplicateScenarioError.
func (e *Engine) Initialize(defs ...*scenario.Definition) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, def := range defs {
		if err := e.registerLocked(def); err != nil {
			return err
		}
	}
	if !e.registry.HasDefault() {
		return &scenario.ConfigurationError{
			Field:   "scenarios",
			Message: fmt.Sprintf("a scenario with id %q must be registered", scenario.DefaultScenarioID),
		}
	}
	if !e.initialized {
		e.initialized = true
		e.logger.Info("engine initialized",
			"engine", e.id,
			"scenarios", e.registry.Len())
	}
	return nil
}

// RegisterScenario validates and registers a single definition.
func (e *Engine) RegisterScenario(def *scenario.Definition) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registerLocked(def)
}

func (e *Engine) registerLocked(def *scenario.Definition) error {
	if def != nil {
		for _, m := range def.Mocks {
			if m == nil {
				continue
			}
			if err := e.matcher.ValidateMock(m); err != nil {
				return err
			}
			if err := e.compileConditions(m); err != nil {
				return err
			}
		}
	}
	return e.registry.Register(def)
}

// compileConditions compiles whenExpr predicates at registration time so an
// invalid expression fails the configuration, not a request.
func (e *Engine) compileConditions(m *scenario.Mock) error {
	if m.StateResponse == nil {
		return nil
	}
	for i, cond := range m.StateResponse.Conditions {
		if cond == nil || cond.WhenExpr == "" {
			continue
		}
		if _, err := e.program(cond.WhenExpr); err != nil {
			return &scenario.ConfigurationError{
				Field:   fmt.Sprintf("stateResponse.conditions[%d].whenExpr", i),
				Message: err.Error(),
			}
		}
	}
	return nil
}

// program returns the compiled expression for a whenExpr source, caching
// per source string.
func (e *Engine) program(src string) (*vm.Program, error) {
	e.exprMu.RLock()
	p, ok := e.programs[src]
	e.exprMu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	e.exprMu.Lock()
	e.programs[src] = p
	e.exprMu.Unlock()
	return p, nil
}

// SwitchScenario activates a registered scenario for a test identity and
// clears that identity's state and sequence positions. Other identities are
// untouched.
func (e *Engine) SwitchScenario(testID, scenarioID, variant string) error {
	if _, ok := e.registry.Get(scenarioID); !ok {
		return &scenario.ScenarioNotFoundError{ID: scenarioID}
	}

	e.scenarios.Set(testID, store.ActiveScenario{ScenarioID: scenarioID, Variant: variant})
	if e.state != nil {
		e.state.Clear(testID)
	}
	e.sequences.Reset(testID)

	e.logger.Info("scenario switched",
		"testId", testID,
		"scenario", scenarioID,
		"variant", variant)
	return nil
}

// ClearScenario removes the active scenario pointer for a test identity and
// clears its state and sequence positions, returning it to the default
// scenario.
func (e *Engine) ClearScenario(testID string) {
	e.scenarios.Delete(testID)
	if e.state != nil {
		e.state.Clear(testID)
	}
	e.sequences.Reset(testID)

	e.logger.Info("scenario cleared", "testId", testID)
}

// ActiveScenario returns the active scenario for a test identity, falling
// back to the default scenario when none was switched.
func (e *Engine) ActiveScenario(testID string) store.ActiveScenario {
	if active, ok := e.scenarios.Get(testID); ok {
		return active
	}
	return store.ActiveScenario{ScenarioID: scenario.DefaultScenarioID}
}

// ScenarioByID is a pure registry lookup.
func (e *Engine) ScenarioByID(id string) (*scenario.Definition, bool) {
	return e.registry.Get(id)
}

// ListScenarios returns all registered definitions, default first.
func (e *Engine) ListScenarios() []*scenario.Definition {
	return e.registry.List()
}

// CandidateMocks assembles the ordered candidate list for a test identity:
// default-scenario mocks first, active-scenario mocks appended after. The
// order is semantically significant for fallback tie-breaking.
func (e *Engine) CandidateMocks(testID string) []*scenario.Mock {
	var candidates []*scenario.Mock
	if def, ok := e.registry.Get(scenario.DefaultScenarioID); ok {
		candidates = append(candidates, def.Mocks...)
	}
	active := e.ActiveScenario(testID)
	if active.ScenarioID != scenario.DefaultScenarioID {
		if def, ok := e.registry.Get(active.ScenarioID); ok {
			candidates = append(candidates, def.Mocks...)
		}
	}
	return candidates
}

// StateStore exposes the injected state store, letting adapters seed or
// inspect per-test state.
func (e *Engine) StateStore() store.StateStore { return e.state }

// stateView adapts the state store to the matcher's per-identity view.
type stateView struct {
	st     store.StateStore
	testID string
}

func (v stateView) Value(path string) (any, bool) {
	return v.st.Get(v.testID, path)
}

func (e *Engine) viewFor(testID string) matching.StateView {
	if e.state == nil {
		return nil
	}
	return stateView{st: e.state, testID: testID}
}
