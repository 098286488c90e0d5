package scenario

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Registry is an immutable-once-registered store of scenario definitions
// keyed by id. Re-registering an identical definition is a no-op;
// re-registering a different definition under the same id fails.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]*Definition
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register validates and stores a definition. The stored copy is normalized:
// methods are uppercased and mocks without an id get a deterministic one
// derived from the scenario id and mock index.
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return &ConfigurationError{Message: "definition cannot be nil"}
	}
	if err := def.Validate(); err != nil {
		return err
	}

	normalized := normalize(def)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.defs[normalized.ID]; ok {
		if reflect.DeepEqual(existing, normalized) {
			return nil
		}
		return &DuplicateScenarioError{ID: normalized.ID}
	}

	r.defs[normalized.ID] = normalized
	r.order = append(r.order, normalized.ID)
	return nil
}

// Get returns a registered definition by id.
func (r *Registry) Get(id string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	return def, ok
}

// List returns all registered definitions sorted by id for deterministic
// output, with the default scenario first.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i] == DefaultScenarioID {
			return true
		}
		if ids[j] == DefaultScenarioID {
			return false
		}
		return ids[i] < ids[j]
	})

	defs := make([]*Definition, 0, len(ids))
	for _, id := range ids {
		defs = append(defs, r.defs[id])
	}
	return defs
}

// HasDefault reports whether the required default scenario is registered.
func (r *Registry) HasDefault() bool {
	_, ok := r.Get(DefaultScenarioID)
	return ok
}

// Len returns the number of registered scenarios.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// normalize deep-copies a definition, uppercases methods, and assigns
// deterministic mock ids where absent. The copy shares nothing with the
// caller's value, so mutating a definition after Register cannot reach the
// stored one.
func normalize(def *Definition) *Definition {
	out := &Definition{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Mocks:       make([]*Mock, len(def.Mocks)),
	}
	for i, m := range def.Mocks {
		cp := cloneMock(m)
		cp.Method = strings.ToUpper(cp.Method)
		if cp.ID == "" {
			cp.ID = fmt.Sprintf("%s/%d", def.ID, i)
		}
		out.Mocks[i] = cp
	}
	return out
}

func cloneMock(m *Mock) *Mock {
	cp := *m
	cp.Match = cloneCriteria(m.Match)
	cp.Response = cloneResponse(m.Response)
	cp.Sequence = cloneSequence(m.Sequence)
	cp.StateResponse = cloneStateResponse(m.StateResponse)
	cp.AfterResponse = cloneAfterResponse(m.AfterResponse)
	return &cp
}

func cloneCriteria(c *MatchCriteria) *MatchCriteria {
	if c == nil {
		return nil
	}
	return &MatchCriteria{
		Body:    cloneMatchValues(c.Body),
		Headers: cloneMatchValues(c.Headers),
		Query:   cloneMatchValues(c.Query),
		State:   cloneMatchValues(c.State),
	}
}

// cloneMatchValues copies a criteria map. MatchValue operands are scalars,
// so a value copy suffices.
func cloneMatchValues(m map[string]MatchValue) map[string]MatchValue {
	if m == nil {
		return nil
	}
	out := make(map[string]MatchValue, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneResponse(r *Response) *Response {
	if r == nil {
		return nil
	}
	cp := &Response{Status: r.Status, Body: cloneAny(r.Body)}
	if r.Headers != nil {
		cp.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			cp.Headers[k] = v
		}
	}
	return cp
}

func cloneSequence(s *Sequence) *Sequence {
	if s == nil {
		return nil
	}
	cp := &Sequence{Repeat: s.Repeat, Responses: make([]*Response, len(s.Responses))}
	for i, r := range s.Responses {
		cp.Responses[i] = cloneResponse(r)
	}
	return cp
}

func cloneStateResponse(sr *StateResponse) *StateResponse {
	if sr == nil {
		return nil
	}
	cp := &StateResponse{Default: cloneResponse(sr.Default)}
	if sr.Conditions != nil {
		cp.Conditions = make([]*StateCondition, len(sr.Conditions))
		for i, c := range sr.Conditions {
			cp.Conditions[i] = cloneCondition(c)
		}
	}
	return cp
}

func cloneCondition(c *StateCondition) *StateCondition {
	if c == nil {
		return nil
	}
	return &StateCondition{
		When:              cloneAnyMap(c.When),
		WhenExpr:          c.WhenExpr,
		Then:              cloneResponse(c.Then),
		AfterResponse:     cloneAfterResponse(c.AfterResponse),
		AfterResponseNull: c.AfterResponseNull,
	}
}

func cloneAfterResponse(a *AfterResponse) *AfterResponse {
	if a == nil {
		return nil
	}
	return &AfterResponse{SetState: cloneAnyMap(a.SetState)}
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneAnyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneAny(e)
		}
		return out
	default:
		return v
	}
}
