package harness

import (
	"github.com/roach88/depflow/internal/components"
	"github.com/roach88/depflow/internal/ir"
)

// Trace event types.
const (
	EventDispatch = "dispatch"
	EventSubmit   = "submit"
	EventUpdate   = "update"
	EventStatus   = "status"
	EventNotify   = "notify"
	EventRender   = "render"
	EventError    = "error"
)

// TraceEvent is one observable action of the manager, in the order it
// happened.
type TraceEvent struct {
	Type      string         `json:"type"`
	Seq       int64          `json:"seq"`
	FnIndex   *int           `json:"fn_index,omitempty"`
	Component *int           `json:"component,omitempty"`
	Event     string         `json:"event,omitempty"`
	Data      []any          `json:"data,omitempty"`
	Patch     map[string]any `json:"patch,omitempty"`
	Stage     ir.Stage       `json:"stage,omitempty"`
	Title     string         `json:"title,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all assertions match.
	Pass bool `json:"pass"`

	// Trace contains every dispatch, submission, state update, status
	// update and notification in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the final component state.
	State map[int]map[string]any `json:"state,omitempty"`

	// Updates is the ordered state patch history.
	Updates []components.Update `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[int]map[string]any),
	}
}

// AddError adds an assertion error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Submissions returns the submit events of fnIndex in order.
func (r *Result) Submissions(fnIndex int) []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Type == EventSubmit && ev.FnIndex != nil && *ev.FnIndex == fnIndex {
			out = append(out, ev)
		}
	}
	return out
}
