package engine

import "github.com/roach88/depflow/internal/ir"

// Decision is the outcome of gating a dispatch.
type Decision int

const (
	// DecisionRun starts a new invocation.
	DecisionRun Decision = iota
	// DecisionSkip drops the dispatch.
	DecisionSkip
	// DecisionDefer remembers the dispatch and replays it when the running
	// invocation finishes.
	DecisionDefer
)

func (d Decision) String() string {
	switch d {
	case DecisionSkip:
		return "skip"
	case DecisionDefer:
		return "defer"
	default:
		return "run"
	}
}

// ShouldDispatch decides what to do with a dispatch given the trigger mode
// and whether the dependency already has an invocation in flight.
func ShouldDispatch(mode ir.TriggerMode, running bool) Decision {
	if !running {
		return DecisionRun
	}
	switch mode {
	case ir.TriggerModeAlwaysLast:
		return DecisionDefer
	case ir.TriggerModeMultiple:
		return DecisionRun
	default:
		return DecisionSkip
	}
}
