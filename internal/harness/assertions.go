package harness

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/roach88/depflow/internal/ir"
	"github.com/roach88/depflow/internal/loading"
	"github.com/roach88/depflow/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", ev.Seq, describeEvent(ev))
		}
	}

	return buf.String()
}

func describeEvent(ev TraceEvent) string {
	switch ev.Type {
	case EventDispatch:
		if ev.FnIndex != nil {
			return fmt.Sprintf("dispatch fn %d", *ev.FnIndex)
		}
		return fmt.Sprintf("dispatch %s on %d", ev.Event, deref(ev.Component))
	case EventSubmit:
		return fmt.Sprintf("submit fn %d %v", deref(ev.FnIndex), ev.Data)
	case EventUpdate:
		return fmt.Sprintf("update %d %v", deref(ev.Component), ev.Patch)
	case EventStatus:
		return fmt.Sprintf("status fn %d %s", deref(ev.FnIndex), ev.Stage)
	case EventNotify:
		return fmt.Sprintf("notify fn %d %q: %s", deref(ev.FnIndex), ev.Title, ev.Message)
	default:
		return ev.Type + " " + ev.Message
	}
}

func deref(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}

// AssertionContext provides collaborators for evaluating assertions.
type AssertionContext struct {
	Ctx     context.Context
	Store   *store.Store
	Session string
	Tracker *loading.Tracker
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertState:
			err = assertState(result, a)
		case AssertSubmitCount:
			err = assertSubmitCount(result, a)
		case AssertCallOrder:
			err = assertCallOrder(result, a)
		case AssertSubmitData:
			err = assertSubmitData(result, a)
		case AssertStage:
			if actx == nil || actx.Tracker == nil {
				err = fmt.Errorf("assertion[%d]: stage requires a status tracker", i)
			} else {
				err = assertStage(actx.Tracker, a)
			}
		case AssertNotified:
			err = assertNotified(result, a)
		case AssertAPICalls:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: api_calls requires an audit store", i)
			} else {
				err = assertAPICalls(actx, a)
			}
		case AssertUpdateCount:
			err = assertUpdateCount(result, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}

// assertState checks that the final component state contains every
// expected key (subset match).
func assertState(result *Result, a Assertion) error {
	actual := result.State[*a.Component]
	for key, want := range a.Expect {
		got, ok := actual[key]
		if !ok || !valuesEqual(got, want) {
			return &AssertionError{
				Type:     AssertState,
				Expected: fmt.Sprintf("component %d has %s=%v", *a.Component, key, want),
				Actual:   fmt.Sprintf("state %v", actual),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

func assertSubmitCount(result *Result, a Assertion) error {
	got := len(result.Submissions(*a.Fn))
	if got != a.Count {
		return &AssertionError{
			Type:     AssertSubmitCount,
			Expected: fmt.Sprintf("fn %d submitted %d times", *a.Fn, a.Count),
			Actual:   fmt.Sprintf("%d times", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertCallOrder checks that the first submission of each fn appears in
// the given order. Submissions don't need to be consecutive.
func assertCallOrder(result *Result, a Assertion) error {
	positions := make(map[int]int64, len(a.Fns))
	for _, fn := range a.Fns {
		subs := result.Submissions(fn)
		if len(subs) == 0 {
			return &AssertionError{
				Type:     AssertCallOrder,
				Expected: fmt.Sprintf("all fns submitted: %v", a.Fns),
				Actual:   fmt.Sprintf("missing fn: %d", fn),
				Trace:    result.Trace,
			}
		}
		positions[fn] = subs[0].Seq
	}

	for i := 1; i < len(a.Fns); i++ {
		prev, curr := a.Fns[i-1], a.Fns[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertCallOrder,
				Expected: fmt.Sprintf("fns in order: %v", a.Fns),
				Actual: fmt.Sprintf("fn %d (seq %d) should be before fn %d (seq %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: result.Trace,
			}
		}
	}
	return nil
}

func assertSubmitData(result *Result, a Assertion) error {
	subs := result.Submissions(*a.Fn)
	if a.Index >= len(subs) {
		return &AssertionError{
			Type:     AssertSubmitData,
			Expected: fmt.Sprintf("fn %d submission #%d", *a.Fn, a.Index),
			Actual:   fmt.Sprintf("%d submissions", len(subs)),
			Trace:    result.Trace,
		}
	}
	got := subs[a.Index].Data
	if !valuesEqual(got, a.Data) {
		return &AssertionError{
			Type:     AssertSubmitData,
			Expected: fmt.Sprintf("fn %d submission #%d data %v", *a.Fn, a.Index, a.Data),
			Actual:   fmt.Sprintf("%v", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertStage(tracker *loading.Tracker, a Assertion) error {
	got, ok := tracker.Stage(*a.Fn)
	if !ok || got != a.Stage {
		return &AssertionError{
			Type:     AssertStage,
			Expected: fmt.Sprintf("fn %d stage %s", *a.Fn, a.Stage),
			Actual:   fmt.Sprintf("stage %q (history %v)", got, tracker.Stages(*a.Fn)),
		}
	}
	return nil
}

func assertNotified(result *Result, a Assertion) error {
	idx := slices.IndexFunc(result.Trace, func(ev TraceEvent) bool {
		return ev.Type == EventNotify && ev.Title == a.Title &&
			(a.Message == "" || ev.Message == a.Message)
	})
	if idx < 0 {
		return &AssertionError{
			Type:     AssertNotified,
			Expected: fmt.Sprintf("notification %q %s", a.Title, a.Message),
			Actual:   "not found in trace",
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertAPICalls counts recorded calls in the audit log.
func assertAPICalls(actx *AssertionContext, a Assertion) error {
	var (
		calls []store.CallRecord
		err   error
	)
	if a.Fn != nil {
		calls, err = actx.Store.ReadAPICallsFor(actx.Ctx, actx.Session, *a.Fn)
	} else {
		calls, err = actx.Store.ReadAPICalls(actx.Ctx, actx.Session)
	}
	if err != nil {
		return fmt.Errorf("api_calls: %w", err)
	}
	if len(calls) != a.Count {
		return &AssertionError{
			Type:     AssertAPICalls,
			Expected: fmt.Sprintf("%d recorded calls", a.Count),
			Actual:   fmt.Sprintf("%d", len(calls)),
		}
	}
	return nil
}

func assertUpdateCount(result *Result, a Assertion) error {
	got := 0
	for _, u := range result.Updates {
		if u.ID == *a.Component {
			got++
		}
	}
	if got != a.Count {
		return &AssertionError{
			Type:     AssertUpdateCount,
			Expected: fmt.Sprintf("component %d updated %d times", *a.Component, a.Count),
			Actual:   fmt.Sprintf("%d times", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// valuesEqual compares two values by canonical JSON so that YAML ints,
// engine int64s and whole floats compare equal.
func valuesEqual(actual, expected any) bool {
	if actual == nil && expected == nil {
		return true
	}
	if actual == nil || expected == nil {
		return false
	}

	a, errA := ir.MarshalCanonical(actual)
	e, errE := ir.MarshalCanonical(expected)
	if errA != nil || errE != nil {
		return reflect.DeepEqual(actual, expected)
	}
	return bytes.Equal(a, e)
}
