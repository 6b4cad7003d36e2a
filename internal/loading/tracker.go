// Package loading tracks the loading status of components while the
// dependencies writing to them run.
package loading

import (
	"slices"
	"sync"

	"github.com/roach88/depflow/internal/ir"
)

// Status is the loading status of one component.
type Status struct {
	FnIndex  int      `json:"fn_index" yaml:"fn_index"`
	Stage    ir.Stage `json:"stage" yaml:"stage"`
	Message  string   `json:"message,omitempty" yaml:"message,omitempty"`
	Position *int     `json:"position,omitempty" yaml:"position,omitempty"`
	Eta      *float64 `json:"eta,omitempty" yaml:"eta,omitempty"`
}

type registration struct {
	inputs  []int
	outputs []int
}

// Tracker implements engine.StatusTracker in memory.
//
// An update for a dependency sets the status of every output it was
// registered with. Inputs are remembered for inspection only.
//
// Thread-safety: all methods are safe for concurrent use.
type Tracker struct {
	mu         sync.Mutex
	deps       map[int]registration
	components map[int]Status
	last       map[int]ir.Stage
	history    []ir.StatusUpdate
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		deps:       make(map[int]registration),
		components: make(map[int]Status),
		last:       make(map[int]ir.Stage),
	}
}

// Register records which components depID reads and writes. Registering
// again replaces the previous registration.
func (t *Tracker) Register(depID int, inputs, outputs []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deps[depID] = registration{
		inputs:  slices.Clone(inputs),
		outputs: slices.Clone(outputs),
	}
}

// Update applies u to every output of its dependency.
func (t *Tracker) Update(u ir.StatusUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history = append(t.history, u)
	t.last[u.FnIndex] = u.Stage

	for _, id := range t.deps[u.FnIndex].outputs {
		t.components[id] = Status{
			FnIndex:  u.FnIndex,
			Stage:    u.Stage,
			Message:  u.Message,
			Position: u.Position,
			Eta:      u.Eta,
		}
	}
}

// Clear forgets the status of componentIDs.
func (t *Tracker) Clear(componentIDs []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range componentIDs {
		delete(t.components, id)
	}
}

// Status returns the loading status of a component.
func (t *Tracker) Status(componentID int) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.components[componentID]
	return st, ok
}

// Stage returns the last stage reported for a dependency.
func (t *Tracker) Stage(depID int) (ir.Stage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.last[depID]
	return st, ok
}

// Registered returns the inputs and outputs registered for depID.
func (t *Tracker) Registered(depID int) (inputs, outputs []int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.deps[depID]
	return slices.Clone(r.inputs), slices.Clone(r.outputs), ok
}

// History returns every update in order.
func (t *Tracker) History() []ir.StatusUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.history)
}

// Stages returns the stages reported for depID in order.
func (t *Tracker) Stages(depID int) []ir.Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []ir.Stage
	for _, u := range t.history {
		if u.FnIndex == depID {
			out = append(out, u.Stage)
		}
	}
	return out
}
