package scenario

import (
	"fmt"
	"strings"
)

// ConfigurationError is returned when scenario configuration is invalid at
// registration or build time (missing default scenario, unsafe regex, etc).
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration error on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// PatternSyntaxError is returned when a URL pattern cannot be compiled.
type PatternSyntaxError struct {
	Pattern  string
	Position int
	Message  string
}

func (e *PatternSyntaxError) Error() string {
	return fmt.Sprintf("invalid URL pattern %q at position %d: %s", e.Pattern, e.Position, e.Message)
}

// ScenarioNotFoundError is returned when switching to an unregistered scenario.
type ScenarioNotFoundError struct {
	ID string
}

func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("scenario %q not found", e.ID)
}

// Hint returns a user-friendly suggestion for resolving this error.
func (e *ScenarioNotFoundError) Hint() string {
	return fmt.Sprintf("Scenario %q is not registered. Check the scenario id against the registered set.", e.ID)
}

// DuplicateScenarioError is returned when a scenario id is re-registered
// with a different definition.
type DuplicateScenarioError struct {
	ID string
}

func (e *DuplicateScenarioError) Error() string {
	return fmt.Sprintf("scenario %q already registered with a different definition", e.ID)
}

// InvalidMockDefinitionError is returned when a mock declares no response
// mechanism, more than one, or an empty sequence list.
type InvalidMockDefinitionError struct {
	MockID  string
	Message string
}

func (e *InvalidMockDefinitionError) Error() string {
	if e.MockID != "" {
		return fmt.Sprintf("invalid mock %q: %s", e.MockID, e.Message)
	}
	return fmt.Sprintf("invalid mock definition: %s", e.Message)
}

// NearMiss records why a candidate mock failed to match, to aid debugging
// unmatched requests.
type NearMiss struct {
	MockID string
	Reason string
}

// NoMockMatchedError is returned when no candidate mock matches a request.
type NoMockMatchedError struct {
	Method     string
	URL        string
	NearMisses []NearMiss
}

func (e *NoMockMatchedError) Error() string {
	return fmt.Sprintf("no mock matched %s %s", e.Method, e.URL)
}

// Hint returns a user-friendly summary of the closest candidates.
func (e *NoMockMatchedError) Hint() string {
	if len(e.NearMisses) == 0 {
		return "No candidate mocks were considered. Check the active scenario for this test identity."
	}
	parts := make([]string, 0, len(e.NearMisses))
	for _, nm := range e.NearMisses {
		parts = append(parts, fmt.Sprintf("%s (failed on %s)", nm.MockID, nm.Reason))
	}
	return "Closest candidates: " + strings.Join(parts, ", ")
}

// HintError is an interface for errors that provide resolution hints.
type HintError interface {
	error
	Hint() string
}
