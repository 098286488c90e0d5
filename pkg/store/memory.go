package store

import "sync"

// MemoryScenarioStore is the in-memory ScenarioStore. Safe for concurrent
// use across distinct test identities.
type MemoryScenarioStore struct {
	mu     sync.RWMutex
	active map[string]ActiveScenario
}

// NewMemoryScenarioStore creates an empty in-memory scenario store.
func NewMemoryScenarioStore() *MemoryScenarioStore {
	return &MemoryScenarioStore{active: make(map[string]ActiveScenario)}
}

// Set overwrites the active scenario for a test identity.
func (s *MemoryScenarioStore) Set(testID string, active ActiveScenario) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[testID] = active
}

// Get returns the active scenario for a test identity.
func (s *MemoryScenarioStore) Get(testID string) (ActiveScenario, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.active[testID]
	return a, ok
}

// Delete removes the pointer for a test identity.
func (s *MemoryScenarioStore) Delete(testID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, testID)
}
