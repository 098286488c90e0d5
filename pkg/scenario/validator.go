package scenario

import (
	"fmt"
	"strings"
)

// validHTTPMethods are the allowed HTTP methods for mock rules.
var validHTTPMethods = map[string]bool{
	"GET":     true,
	"POST":    true,
	"PUT":     true,
	"DELETE":  true,
	"PATCH":   true,
	"HEAD":    true,
	"OPTIONS": true,
}

// Validate checks the structural shape of a definition: ids, methods, the
// one-mechanism rule, and match value shapes. Pattern compilation and regex
// safety are checked separately at registration time.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return &ConfigurationError{Field: "id", Message: "scenario id is required"}
	}
	for i, m := range d.Mocks {
		if m == nil {
			return &ConfigurationError{
				Field:   fmt.Sprintf("mocks[%d]", i),
				Message: "mock cannot be null",
			}
		}
		if err := m.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks a single mock rule.
func (m *Mock) Validate() error {
	if m.Method == "" {
		return &ConfigurationError{Field: "method", Message: "method is required"}
	}
	if !validHTTPMethods[strings.ToUpper(m.Method)] {
		return &ConfigurationError{
			Field:   "method",
			Message: fmt.Sprintf("invalid HTTP method: %s", m.Method),
		}
	}

	if m.URL == "" && m.URLPattern == "" {
		return &ConfigurationError{Field: "url", Message: "one of url or urlPattern is required"}
	}
	if m.URL != "" && m.URLPattern != "" {
		return &ConfigurationError{Field: "url", Message: "cannot specify both url and urlPattern"}
	}

	mech, err := m.Mechanism()
	if err != nil {
		return err
	}

	switch mech {
	case MechanismSequence:
		if len(m.Sequence.Responses) == 0 {
			return &InvalidMockDefinitionError{MockID: m.ID, Message: "sequence must contain at least one response"}
		}
		switch m.Sequence.Policy() {
		case RepeatLast, RepeatCycle, RepeatNone:
		default:
			return &ConfigurationError{
				Field:   "sequence.repeat",
				Message: fmt.Sprintf("unknown repeat policy %q", m.Sequence.Repeat),
			}
		}
	case MechanismStateResponse:
		if m.StateResponse.Default == nil {
			return &InvalidMockDefinitionError{MockID: m.ID, Message: "stateResponse requires a default response"}
		}
		for i, cond := range m.StateResponse.Conditions {
			if cond == nil {
				return &InvalidMockDefinitionError{
					MockID:  m.ID,
					Message: fmt.Sprintf("stateResponse.conditions[%d] cannot be null", i),
				}
			}
			if cond.Then == nil {
				return &InvalidMockDefinitionError{
					MockID:  m.ID,
					Message: fmt.Sprintf("stateResponse.conditions[%d] requires a then response", i),
				}
			}
			if len(cond.When) == 0 && cond.WhenExpr == "" {
				return &InvalidMockDefinitionError{
					MockID:  m.ID,
					Message: fmt.Sprintf("stateResponse.conditions[%d] requires when or whenExpr", i),
				}
			}
		}
	}

	if m.Match != nil {
		if err := m.Match.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks match value shapes across all criteria groups.
func (c *MatchCriteria) Validate() error {
	groups := []struct {
		name   string
		fields map[string]MatchValue
	}{
		{"body", c.Body},
		{"headers", c.Headers},
		{"query", c.Query},
		{"state", c.State},
	}
	for _, g := range groups {
		for field, mv := range g.fields {
			if err := mv.validate(g.name + "." + field); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v MatchValue) validate(field string) error {
	if v.Kind != KindStrategy {
		return nil
	}
	if v.Op == "" {
		return &ConfigurationError{Field: "match." + field, Message: "strategy key cannot be empty"}
	}
	// Recognized string strategies require a string operand. Unrecognized
	// strategy keys are allowed here; they fail the field at match time.
	switch v.Op {
	case OpContains, OpStartsWith, OpEndsWith, OpEquals, OpRegex:
		if _, ok := v.Operand.(string); !ok {
			return &ConfigurationError{
				Field:   "match." + field,
				Message: fmt.Sprintf("strategy %q requires a string operand", v.Op),
			}
		}
	}
	return nil
}
