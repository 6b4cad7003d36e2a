// Package components holds per-component UI state in memory.
//
// Store implements engine.StateStore. Every update is kept in an ordered
// history so tests and the scenario harness can assert not only the final
// state but the order patches arrived in (a visibility patch lands after
// the property patch of the same envelope).
package components

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// Update is one recorded state patch.
type Update struct {
	ID         int            `json:"id" yaml:"id"`
	Patch      map[string]any `json:"patch" yaml:"patch"`
	Visibility bool           `json:"visibility,omitempty" yaml:"visibility,omitempty"`
}

// Store is an in-memory component state store.
//
// Thread-safety: all methods are safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	state   map[int]map[string]any
	history []Update
}

// New creates a store seeded with initial state. initial is copied.
func New(initial map[int]map[string]any) *Store {
	s := &Store{state: make(map[int]map[string]any, len(initial))}
	for id, st := range initial {
		s.state[id] = maps.Clone(st)
	}
	return s
}

// Get returns a copy of the component state, or nil when the component
// has none.
func (s *Store) Get(_ context.Context, id int) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state[id]
	if !ok {
		return nil, nil
	}
	return maps.Clone(st), nil
}

// Update merges patch into the component state, creating it if needed.
func (s *Store) Update(_ context.Context, id int, patch map[string]any, visibility bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state[id]
	if !ok {
		st = make(map[string]any, len(patch))
		s.state[id] = st
	}
	maps.Copy(st, patch)

	s.history = append(s.history, Update{ID: id, Patch: maps.Clone(patch), Visibility: visibility})
	return nil
}

// Set replaces the state of id without recording history.
func (s *Store) Set(id int, st map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[id] = maps.Clone(st)
}

// Value returns the "value" key of id.
func (s *Store) Value(id int) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[id]["value"]
}

// History returns every recorded update in order.
func (s *Store) History() []Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// HistoryFor returns the recorded updates of one component in order.
func (s *Store) HistoryFor(id int) []Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Update
	for _, u := range s.history {
		if u.ID == id {
			out = append(out, u)
		}
	}
	return out
}

// Snapshot returns a deep-enough copy of all component state.
func (s *Store) Snapshot() map[int]map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int]map[string]any, len(s.state))
	for id, st := range s.state {
		out[id] = maps.Clone(st)
	}
	return out
}

// ResetHistory forgets recorded updates but keeps state.
func (s *Store) ResetHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}
