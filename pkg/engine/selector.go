package engine

import (
	"github.com/expr-lang/expr"

	"github.com/mockswitch/mockswitch/internal/matching"
	"github.com/mockswitch/mockswitch/pkg/scenario"
	"github.com/mockswitch/mockswitch/pkg/template"
)

// MatchPolicy controls how an unmatched request is reported.
type MatchPolicy int

const (
	// PolicyFail returns NoMockMatchedError to the caller (strict mode:
	// unmatched requests become hard test failures).
	PolicyFail MatchPolicy = iota
	// PolicyWarn logs the miss and signals pass-through, letting the real
	// network call proceed.
	PolicyWarn
	// PolicyIgnore signals pass-through silently.
	PolicyIgnore
)

// Resolution is the outcome of selecting a response for one request.
type Resolution struct {
	// Mock is the winning mock rule.
	Mock *scenario.Mock

	// Response is the finalized response with templates substituted.
	Response *scenario.Response

	// Params holds the path parameters extracted by the winning pattern.
	Params map[string]any

	// PassThrough is set instead of Mock/Response when no mock matched and
	// the policy is warn or ignore; the caller should let the real request
	// proceed.
	PassThrough bool
}

// SelectResponse resolves the active scenario for a test identity,
// assembles its candidate mocks, and selects one response.
func (e *Engine) SelectResponse(testID string, req *scenario.RequestContext) (*Resolution, error) {
	active := e.ActiveScenario(testID)
	return e.Select(testID, active.ScenarioID, req, e.CandidateMocks(testID))
}

// Select runs the selection algorithm over an explicit candidate list,
// ordered default-scenario mocks first. The highest specificity score wins.
// Ties among criteria-bearing mocks (score above the fallback band) go to
// the first candidate in order; ties among fallbacks (score 0 or 1) go to
// the last, so an active scenario's unconstrained fallback overrides the
// default scenario's without needing criteria.
func (e *Engine) Select(testID, activeScenarioID string, req *scenario.RequestContext, candidates []*scenario.Mock) (*Resolution, error) {
	view := e.viewFor(testID)

	var (
		winner     *scenario.Mock
		winnerPara map[string]any
		winnerScor = -1
		nearMisses []scenario.NearMiss
	)

	for _, m := range candidates {
		if m == nil {
			continue
		}
		if m.Sequence != nil && m.Sequence.Policy() == scenario.RepeatNone &&
			e.sequences.Exhausted(testID, m.ID) {
			continue
		}

		v := e.matcher.Match(m, req, view)
		if !v.Matched {
			nearMisses = append(nearMisses, scenario.NearMiss{MockID: m.ID, Reason: v.Reason})
			continue
		}

		score := matching.Specificity(m, v.Fields)
		replace := score > winnerScor ||
			(score == winnerScor && score <= matching.ScoreSequenceFallback)
		if replace {
			winner = m
			winnerPara = v.Params
			winnerScor = score
		}
	}

	if winner == nil {
		return e.unmatched(testID, req, nearMisses)
	}

	res, err := e.resolveMock(testID, activeScenarioID, winner, winnerPara)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("response selected",
		"testId", testID,
		"scenario", activeScenarioID,
		"mock", winner.ID,
		"score", winnerScor)
	return res, nil
}

// unmatched applies the configured match policy to a request no candidate
// matched.
func (e *Engine) unmatched(testID string, req *scenario.RequestContext, nearMisses []scenario.NearMiss) (*Resolution, error) {
	err := &scenario.NoMockMatchedError{
		Method:     req.Method,
		URL:        req.URL,
		NearMisses: nearMisses,
	}
	switch e.policy {
	case PolicyWarn:
		e.logger.Warn("no mock matched, passing through",
			"testId", testID,
			"method", req.Method,
			"url", req.URL,
			"hint", err.Hint())
		return &Resolution{PassThrough: true}, nil
	case PolicyIgnore:
		return &Resolution{PassThrough: true}, nil
	default:
		return nil, err
	}
}

// resolveMock turns the winning mock into a final response: pick the
// payload from its mechanism, substitute templates, then apply the
// effective afterResponse mutation.
func (e *Engine) resolveMock(testID, activeScenarioID string, m *scenario.Mock, params map[string]any) (*Resolution, error) {
	mech, err := m.Mechanism()
	if err != nil {
		return nil, err
	}

	var (
		base  *scenario.Response
		after = m.AfterResponse
	)

	switch mech {
	case scenario.MechanismResponse:
		base = m.Response
	case scenario.MechanismSequence:
		if len(m.Sequence.Responses) == 0 {
			return nil, &scenario.InvalidMockDefinitionError{MockID: m.ID, Message: "sequence must contain at least one response"}
		}
		idx, ok := e.sequences.Advance(testID, m.ID, len(m.Sequence.Responses), m.Sequence.Policy())
		if !ok {
			return nil, &scenario.InvalidMockDefinitionError{MockID: m.ID, Message: "sequence is exhausted"}
		}
		base = m.Sequence.Responses[idx]
	case scenario.MechanismStateResponse:
		base, after = e.resolveStateResponse(testID, m)
	}

	stateSnapshot := map[string]any{}
	if e.state != nil {
		stateSnapshot = e.state.GetAll(testID)
	}

	active := e.ActiveScenario(testID)
	ctx := &template.Context{
		Params: params,
		State:  stateSnapshot,
		Scenario: template.ScenarioInfo{
			ID:      activeScenarioID,
			Variant: active.Variant,
		},
	}

	final := e.renderResponse(base, ctx)

	if after != nil && e.state != nil && len(after.SetState) > 0 {
		e.state.Merge(testID, after.SetState)
	}

	return &Resolution{Mock: m, Response: final, Params: params}, nil
}

// resolveStateResponse evaluates conditions against current state. The
// condition with the most when-keys wins; ties go to the earliest declared.
// With no state store the default response is always served. The returned
// afterResponse honors condition-level overrides: explicit null suppresses
// the mock-level mutation, an absent key inherits it.
func (e *Engine) resolveStateResponse(testID string, m *scenario.Mock) (*scenario.Response, *scenario.AfterResponse) {
	sr := m.StateResponse
	if e.state == nil {
		return sr.Default, m.AfterResponse
	}

	var (
		best     *scenario.StateCondition
		bestKeys = 0
	)
	for _, cond := range sr.Conditions {
		if cond == nil || !e.conditionHolds(testID, cond) {
			continue
		}
		if keys := cond.KeyCount(); keys > bestKeys {
			best = cond
			bestKeys = keys
		}
	}

	if best == nil {
		return sr.Default, m.AfterResponse
	}

	after := m.AfterResponse
	if best.AfterResponseNull {
		after = nil
	} else if best.AfterResponse != nil {
		after = best.AfterResponse
	}
	return best.Then, after
}

// conditionHolds evaluates a condition's partial-state map and optional
// whenExpr. All when keys must equal current state under stringified
// comparison; both predicates must hold when both are declared.
func (e *Engine) conditionHolds(testID string, cond *scenario.StateCondition) bool {
	for path, expected := range cond.When {
		actual, ok := e.state.Get(testID, path)
		if !ok {
			return false
		}
		if matching.Stringify(expected) != matching.Stringify(actual) {
			return false
		}
	}

	if cond.WhenExpr != "" {
		program, err := e.program(cond.WhenExpr)
		if err != nil {
			return false
		}
		out, err := expr.Run(program, map[string]any{"state": e.state.GetAll(testID)})
		if err != nil {
			return false
		}
		holds, ok := out.(bool)
		if !ok || !holds {
			return false
		}
	}
	return true
}

// renderResponse substitutes templates into a response, returning a copy so
// registered definitions stay immutable.
func (e *Engine) renderResponse(base *scenario.Response, ctx *template.Context) *scenario.Response {
	if base == nil {
		return nil
	}

	out := &scenario.Response{Status: base.Status}
	if out.Status == 0 {
		out.Status = 200
	}

	if len(base.Headers) > 0 {
		out.Headers = make(map[string]string, len(base.Headers))
		for k, v := range base.Headers {
			if sub, ok := e.templates.Substitute(v, ctx).(string); ok {
				out.Headers[k] = sub
			} else {
				out.Headers[k] = v
			}
		}
	}

	out.Body = e.templates.Substitute(base.Body, ctx)
	return out
}
