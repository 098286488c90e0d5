// Package store defines the storage contracts the engine depends on and an
// in-memory implementation of each. Adapters may inject alternative
// implementations honoring the same contracts (e.g. for cross-process
// sharing); the engine itself assumes nothing beyond these interfaces.
package store

import "github.com/mockswitch/mockswitch/pkg/scenario"

// ActiveScenario is the per-test-identity pointer to the scenario currently
// driving mock selection, with an optional variant label.
type ActiveScenario struct {
	ScenarioID string `json:"scenarioId"`
	Variant    string `json:"variant,omitempty"`
}

// ScenarioStore tracks the active scenario per test identity.
type ScenarioStore interface {
	// Set overwrites the active scenario for a test identity.
	Set(testID string, active ActiveScenario)

	// Get returns the active scenario for a test identity, if any.
	Get(testID string) (ActiveScenario, bool)

	// Delete removes the pointer for a test identity.
	Delete(testID string)
}

// StateStore is the per-test-identity key/value store contract.
type StateStore interface {
	// Set writes a flat, dotted-path, or append-form ("key[]") value.
	Set(testID, path string, value any)

	// Get reads a value by flat or dotted path.
	Get(testID, path string) (any, bool)

	// GetAll returns a snapshot of the identity's state.
	GetAll(testID string) map[string]any

	// Merge shallow-merges key/values into the identity's state.
	Merge(testID string, values map[string]any)

	// Clear removes all state for the identity.
	Clear(testID string)
}

// SequenceStore is the per-(test identity, mock identity) cursor contract.
type SequenceStore interface {
	// Advance returns the index to serve and moves the cursor under the
	// repeat policy; false once a repeat=none sequence is exhausted.
	Advance(testID, mockID string, length int, policy scenario.RepeatPolicy) (int, bool)

	// Exhausted reports whether a repeat=none sequence is consumed.
	Exhausted(testID, mockID string) bool

	// Reset drops all cursors for the identity.
	Reset(testID string)
}
