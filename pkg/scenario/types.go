// Package scenario defines the declarative mock scenario model: scenario
// definitions, mock rules, match criteria, and the response mechanisms
// (single response, sequence, state-conditioned response).
package scenario

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DefaultScenarioID is the id of the scenario that must always be registered.
// Its mocks are considered for every request, before active-scenario mocks.
const DefaultScenarioID = "default"

// Definition is a named, registered bundle of mock definitions.
// Definitions are immutable once registered.
type Definition struct {
	// ID uniquely identifies the scenario. The id "default" must exist
	// exactly once among registered scenarios.
	ID string `json:"id" yaml:"id"`

	// Name is a human-readable name for the scenario.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Description is an optional longer description.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Mocks is the ordered list of mock rules. Order is semantically
	// significant for fallback tie-breaking.
	Mocks []*Mock `json:"mocks" yaml:"mocks"`
}

// RepeatPolicy controls what a sequence returns once its response list is
// consumed.
type RepeatPolicy string

const (
	// RepeatLast pins the cursor at the final response (default).
	RepeatLast RepeatPolicy = "last"
	// RepeatCycle wraps the cursor back to the first response.
	RepeatCycle RepeatPolicy = "cycle"
	// RepeatNone exhausts the mock; it stops matching for that test identity.
	RepeatNone RepeatPolicy = "none"
)

// Mock is one matchable rule producing a response, sequence, or
// state-conditioned response for a method + URL pattern.
// Exactly one of Response, Sequence, or StateResponse must be set.
type Mock struct {
	// ID identifies the mock for sequence tracking. When empty it is
	// derived deterministically from the scenario id and mock index at
	// registration time.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	// Method is the HTTP method to match (case-insensitive).
	Method string `json:"method" yaml:"method"`

	// URL is the URL pattern: an exact string, a wildcard string
	// (* and ** globs), or a parametrized path (:name, :name?, :name+,
	// :name*, :name(re)). A pathname-only pattern matches any origin; a
	// pattern carrying scheme+host pins that exact origin.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// URLPattern is a native regex alternative to URL. It is matched as a
	// substring of the full request URL regardless of origin.
	// URL and URLPattern are mutually exclusive.
	URLPattern string `json:"urlPattern,omitempty" yaml:"urlPattern,omitempty"`

	// Match holds optional request-content criteria. A mock with criteria
	// scores 100 plus one per compared field.
	Match *MatchCriteria `json:"match,omitempty" yaml:"match,omitempty"`

	// Response is a single static response.
	Response *Response `json:"response,omitempty" yaml:"response,omitempty"`

	// Sequence is an ordered response list with a repeat policy.
	Sequence *Sequence `json:"sequence,omitempty" yaml:"sequence,omitempty"`

	// StateResponse selects a response from current per-test state.
	StateResponse *StateResponse `json:"stateResponse,omitempty" yaml:"stateResponse,omitempty"`

	// AfterResponse mutates per-test state after a response is finalized.
	AfterResponse *AfterResponse `json:"afterResponse,omitempty" yaml:"afterResponse,omitempty"`
}

// MatchCriteria maps field names to match values per request aspect.
// Every declared field must satisfy its strategy for the mock to match.
type MatchCriteria struct {
	// Body fields are dotted paths resolved against the parsed JSON body.
	Body map[string]MatchValue `json:"body,omitempty" yaml:"body,omitempty"`

	// Headers are matched with case-insensitive keys and case-sensitive values.
	Headers map[string]MatchValue `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Query fields are matched against request query parameters.
	Query map[string]MatchValue `json:"query,omitempty" yaml:"query,omitempty"`

	// State fields are matched against the per-test state store. A state
	// criterion without a state manager fails the mock.
	State map[string]MatchValue `json:"state,omitempty" yaml:"state,omitempty"`
}

// FieldCount returns the number of declared criteria fields. It feeds the
// specificity score: 100 + FieldCount for mocks with criteria.
func (c *MatchCriteria) FieldCount() int {
	if c == nil {
		return 0
	}
	return len(c.Body) + len(c.Headers) + len(c.Query) + len(c.State)
}

// Empty reports whether no criteria fields are declared.
func (c *MatchCriteria) Empty() bool {
	return c.FieldCount() == 0
}

// MatchKind discriminates the MatchValue union.
type MatchKind int

const (
	// KindExact is a plain scalar compared by stringified equality.
	KindExact MatchKind = iota
	// KindStrategy is a single-strategy object such as {contains: "x"}.
	KindStrategy
)

// Match strategy names.
const (
	OpContains   = "contains"
	OpStartsWith = "startsWith"
	OpEndsWith   = "endsWith"
	OpEquals     = "equals"
	OpRegex      = "regex"
)

// MatchValue is a tagged union: either a plain scalar (exact match) or a
// single-strategy object. Strategy dispatch is explicit; an unrecognized
// strategy key fails the field at match time.
type MatchValue struct {
	Kind    MatchKind
	Exact   any    // populated for KindExact; may be nil (matches empty string)
	Op      string // populated for KindStrategy
	Operand any    // strategy operand; a string for all recognized strategies
}

// UnmarshalJSON decodes a scalar into KindExact and a single-key object into
// KindStrategy. Objects with zero or multiple keys are rejected.
func (v *MatchValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return v.fromAny(raw)
}

// UnmarshalYAML mirrors UnmarshalJSON for YAML config files.
func (v *MatchValue) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return v.fromAny(raw)
}

func (v *MatchValue) fromAny(raw any) error {
	switch val := raw.(type) {
	case map[string]any:
		if len(val) != 1 {
			return &ConfigurationError{
				Field:   "match",
				Message: fmt.Sprintf("a match strategy object must declare exactly one strategy key, got %d", len(val)),
			}
		}
		for op, operand := range val {
			v.Kind = KindStrategy
			v.Op = op
			v.Operand = operand
		}
		return nil
	case []any:
		return &ConfigurationError{
			Field:   "match",
			Message: "a match value must be a scalar or a single-strategy object, not an array",
		}
	default:
		v.Kind = KindExact
		v.Exact = raw
		return nil
	}
}

// MarshalJSON writes the union back in its wire shape.
func (v MatchValue) MarshalJSON() ([]byte, error) {
	if v.Kind == KindStrategy {
		return json.Marshal(map[string]any{v.Op: v.Operand})
	}
	return json.Marshal(v.Exact)
}

// Response specifies the payload returned for a matched request.
type Response struct {
	// Status is the HTTP status code. Zero means 200.
	Status int `json:"status,omitempty" yaml:"status,omitempty"`

	// Headers are returned verbatim.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body is a JSON-like value. Template tokens ({{state.x}}, {{params.x}})
	// are substituted before the response is returned.
	Body any `json:"body,omitempty" yaml:"body,omitempty"`
}

// Sequence is an ordered response list advanced once per matching request.
type Sequence struct {
	Responses []*Response `json:"responses" yaml:"responses"`

	// Repeat defaults to RepeatLast when empty.
	Repeat RepeatPolicy `json:"repeat,omitempty" yaml:"repeat,omitempty"`
}

// Policy returns the effective repeat policy.
func (s *Sequence) Policy() RepeatPolicy {
	if s.Repeat == "" {
		return RepeatLast
	}
	return s.Repeat
}

// StateResponse selects a response from per-test state: the matching
// condition with the most when-keys wins, ties going to the earliest
// declared; with no match the default response is used.
type StateResponse struct {
	Default    *Response         `json:"default" yaml:"default"`
	Conditions []*StateCondition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// StateCondition pairs a partial-state predicate with a response.
type StateCondition struct {
	// When is a partial-state map; every key must equal the corresponding
	// state value (stringified comparison). Keys may be dotted paths.
	When map[string]any `json:"when,omitempty" yaml:"when,omitempty"`

	// WhenExpr is an expression over {state} evaluated as an alternative
	// predicate. It counts as one key for condition ranking.
	WhenExpr string `json:"whenExpr,omitempty" yaml:"whenExpr,omitempty"`

	// Then is the response returned when the predicate holds.
	Then *Response `json:"then" yaml:"then"`

	// AfterResponse overrides the mock-level state mutation for this
	// condition. An explicitly null afterResponse suppresses inheritance;
	// an absent key inherits the mock-level mutation.
	AfterResponse *AfterResponse `json:"afterResponse,omitempty" yaml:"afterResponse,omitempty"`

	// AfterResponseNull records that afterResponse was explicitly null.
	AfterResponseNull bool `json:"-" yaml:"-"`
}

// UnmarshalJSON distinguishes an explicitly null afterResponse from an
// absent one, which have different inheritance semantics.
func (c *StateCondition) UnmarshalJSON(data []byte) error {
	type alias StateCondition
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = StateCondition(a)

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if raw, ok := probe["afterResponse"]; ok && string(raw) == "null" {
		c.AfterResponseNull = true
	}
	return nil
}

// UnmarshalYAML mirrors UnmarshalJSON's null detection for YAML.
func (c *StateCondition) UnmarshalYAML(node *yaml.Node) error {
	type alias StateCondition
	var a alias
	if err := node.Decode(&a); err != nil {
		return err
	}
	*c = StateCondition(a)

	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "afterResponse" && node.Content[i+1].Tag == "!!null" {
			c.AfterResponseNull = true
		}
	}
	return nil
}

// KeyCount returns the number of predicate keys, used for condition ranking.
func (c *StateCondition) KeyCount() int {
	n := len(c.When)
	if c.WhenExpr != "" {
		n++
	}
	return n
}

// AfterResponse declares a per-test state mutation applied after a response
// is finalized.
type AfterResponse struct {
	// SetState is shallow-merged into the test identity's state. Keys may
	// be dotted paths.
	SetState map[string]any `json:"setState,omitempty" yaml:"setState,omitempty"`
}

// ResponseMechanism names which of the three response mechanisms a mock uses.
type ResponseMechanism int

const (
	// MechanismNone means no mechanism is declared (invalid).
	MechanismNone ResponseMechanism = iota
	// MechanismResponse is a single static response.
	MechanismResponse
	// MechanismSequence is an ordered response list.
	MechanismSequence
	// MechanismStateResponse is a state-conditioned response.
	MechanismStateResponse
)

// Mechanism reports which response mechanism the mock declares, if exactly one.
func (m *Mock) Mechanism() (ResponseMechanism, error) {
	var mech ResponseMechanism
	count := 0
	if m.Response != nil {
		mech = MechanismResponse
		count++
	}
	if m.Sequence != nil {
		mech = MechanismSequence
		count++
	}
	if m.StateResponse != nil {
		mech = MechanismStateResponse
		count++
	}
	switch count {
	case 0:
		return MechanismNone, &InvalidMockDefinitionError{MockID: m.ID, Message: "one of response, sequence, or stateResponse is required"}
	case 1:
		return mech, nil
	default:
		return MechanismNone, &InvalidMockDefinitionError{MockID: m.ID, Message: "only one of response, sequence, or stateResponse may be specified"}
	}
}

// IsFallback reports whether the mock declares no match criteria.
func (m *Mock) IsFallback() bool {
	return m.Match.Empty()
}
