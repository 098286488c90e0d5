// Package sequence tracks per-test sequence cursors: which response a
// sequence mock returns next, and whether a repeat=none sequence has been
// consumed for a given test identity.
package sequence

import (
	"sync"

	"github.com/mockswitch/mockswitch/pkg/scenario"
)

// Position is a sequence cursor for one (test identity, mock) pair.
type Position struct {
	// Index is the next response index the cursor will serve.
	Index int

	// Exhausted is set once a repeat=none sequence has served its final
	// response; the mock then stops matching for this test identity.
	Exhausted bool
}

type key struct {
	testID string
	mockID string
}

// Tracker holds sequence positions keyed by (test identity, mock identity).
// Positions for an identity are reset together with its state on scenario
// switch.
type Tracker struct {
	mu        sync.Mutex
	positions map[key]*Position
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{positions: make(map[key]*Position)}
}

// Advance returns the response index to serve now and moves the cursor
// forward under the given repeat policy for a sequence of the given length.
// The boolean is false when the sequence is already exhausted.
func (t *Tracker) Advance(testID, mockID string, length int, policy scenario.RepeatPolicy) (int, bool) {
	if length <= 0 {
		return 0, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{testID, mockID}
	pos, ok := t.positions[k]
	if !ok {
		pos = &Position{}
		t.positions[k] = pos
	}
	if pos.Exhausted {
		return 0, false
	}

	switch policy {
	case scenario.RepeatCycle:
		idx := pos.Index % length
		pos.Index++
		return idx, true
	case scenario.RepeatNone:
		idx := pos.Index
		pos.Index++
		if pos.Index >= length {
			pos.Exhausted = true
		}
		return idx, true
	default: // RepeatLast
		idx := pos.Index
		if idx >= length {
			idx = length - 1
		} else {
			pos.Index++
		}
		return idx, true
	}
}

// Exhausted reports whether a repeat=none sequence has been consumed for
// this test identity.
func (t *Tracker) Exhausted(testID, mockID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[key{testID, mockID}]
	return ok && pos.Exhausted
}

// Position exposes the current cursor for inspection. The boolean is false
// when the pair has never advanced.
func (t *Tracker) Position(testID, mockID string) (Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[key{testID, mockID}]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Reset drops all cursors for one test identity.
func (t *Tracker) Reset(testID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.positions {
		if k.testID == testID {
			delete(t.positions, k)
		}
	}
}
