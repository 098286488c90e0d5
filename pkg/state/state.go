// Package state implements the per-test-identity key/value store that
// state-conditioned responses and afterResponse mutations read and write.
package state

import (
	"strings"
	"sync"
)

// AppendSuffix marks a set path as an array append: Set("items[]", v)
// appends v to the array at "items", creating it when absent.
const AppendSuffix = "[]"

// Manager is a nested-path-aware key/value store partitioned by test
// identity. Identities are mutually isolated; clearing one never touches
// another. The zero-value map for an identity is created lazily on first
// write.
type Manager struct {
	mu   sync.RWMutex
	data map[string]map[string]any
}

// NewManager creates an empty state manager.
func NewManager() *Manager {
	return &Manager{data: make(map[string]map[string]any)}
}

// Set writes a value for a test identity. Flat keys write directly; dotted
// paths ("user.profile.name") create intermediate maps as needed; paths
// ending in [] append to an array at the prefix.
func (m *Manager) Set(testID, path string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, ok := m.data[testID]
	if !ok {
		bucket = make(map[string]any)
		m.data[testID] = bucket
	}

	if strings.HasSuffix(path, AppendSuffix) {
		appendAt(bucket, strings.TrimSuffix(path, AppendSuffix), value)
		return
	}
	setAt(bucket, path, value)
}

// Get reads a value by flat or dotted path.
func (m *Manager) Get(testID, path string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bucket, ok := m.data[testID]
	if !ok {
		return nil, false
	}
	return getAt(bucket, path)
}

// GetAll returns a deep copy of the identity's state, safe to hand to
// template substitution without racing later mutations.
func (m *Manager) GetAll(testID string) map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bucket, ok := m.data[testID]
	if !ok {
		return map[string]any{}
	}
	return cloneMap(bucket)
}

// Clear removes all state for one test identity.
func (m *Manager) Clear(testID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, testID)
}

// Merge shallow-merges key/values into the identity's state, honoring
// dotted paths and the append form per key. Used by afterResponse.setState.
func (m *Manager) Merge(testID string, values map[string]any) {
	for path, value := range values {
		m.Set(testID, path, value)
	}
}

func setAt(bucket map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := bucket
	for i, part := range parts {
		if i == len(parts)-1 {
			current[part] = value
			return
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
}

func appendAt(bucket map[string]any, path string, value any) {
	existing, _ := getAt(bucket, path)
	arr, _ := existing.([]any)
	setAt(bucket, path, append(arr, value))
}

func getAt(bucket map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = bucket
	for _, part := range parts {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func cloneMap(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
