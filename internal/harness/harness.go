package harness

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/depflow/internal/components"
	"github.com/roach88/depflow/internal/engine"
	"github.com/roach88/depflow/internal/ir"
	"github.com/roach88/depflow/internal/loading"
	"github.com/roach88/depflow/internal/store"
	"github.com/roach88/depflow/internal/testutil"
)

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh in-memory audit log, a scripted
// backend and sequential invocation ids, so traces are reproducible.
//
// Execution flow:
//  1. Resolve declarations and build the manager
//  2. Script backend responses
//  3. Execute steps, draining chained work after each dispatch
//  4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	return RunWithStore(scenario, st)
}

// RunWithStore executes a scenario and writes its audit log to st under a
// session named after the scenario. The caller owns st.
func RunWithStore(scenario *Scenario, st *store.Store) (*Result, error) {
	decls, err := scenario.resolveDeclarations()
	if err != nil {
		return nil, fmt.Errorf("failed to load declarations: %w", err)
	}

	ctx := context.Background()
	hash, err := ir.DeclarationsHash(decls)
	if err != nil {
		return nil, fmt.Errorf("failed to hash declarations: %w", err)
	}
	if err := st.WriteSession(ctx, store.Session{
		ID:               scenario.Name,
		DeclarationsHash: hash,
		SchemaVersion:    ir.SchemaVersion,
		DependencyCount:  len(decls),
	}); err != nil {
		return nil, fmt.Errorf("failed to register session: %w", err)
	}

	tr := &tracer{clock: engine.NewClock()}
	client := testutil.NewScriptedClient()
	scriptResponses(client, scenario.Responses)

	state := components.New(scenario.InitialState)
	tracker := loading.NewTracker()
	recorder := store.NewRecorder(st, scenario.Name, &tracingTracker{t: tr, next: tracker})

	opts := []engine.ManagerOption{
		engine.WithStatusTracker(recorder),
		engine.WithAPIRecorder(recorder),
		engine.WithNotifier(&tracingNotifier{t: tr}),
		engine.WithRenderer(&tracingRenderer{t: tr}),
		engine.WithInvocationIDs(testutil.NewSequentialIDs("inv")),
	}
	if scenario.MaxSteps > 0 {
		opts = append(opts, engine.WithMaxSteps(scenario.MaxSteps))
	}

	mgr, err := engine.New(&tracingClient{t: tr, next: client}, &tracingState{t: tr, next: state}, decls, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create manager: %w", err)
	}
	defer mgr.Stop()

	for i, step := range scenario.Steps {
		if step.SetState != nil {
			state.Set(step.SetState.ID, step.SetState.State)
			continue
		}

		ev := *step.Dispatch
		tr.add(dispatchEvent(ev))
		if err := mgr.Dispatch(ctx, ev); err != nil {
			tr.add(TraceEvent{Type: EventError, Message: err.Error()})
		}
		if err := mgr.Drain(ctx); err != nil {
			return nil, fmt.Errorf("step %d: drain: %w", i, err)
		}
	}

	result := NewResult()
	result.Trace = tr.snapshot()
	result.State = state.Snapshot()
	result.Updates = state.History()

	actx := &AssertionContext{
		Ctx:     ctx,
		Store:   st,
		Session: scenario.Name,
		Tracker: tracker,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

func scriptResponses(client *testutil.ScriptedClient, responses []Response) {
	for _, r := range responses {
		if r.Error == "" {
			client.Script(r.Fn, r.Messages...)
			continue
		}
		sub := client.Stream(r.Fn)
		for _, msg := range r.Messages {
			sub.Push(msg)
		}
		sub.Fail(errors.New(r.Error))
		sub.Finish()
	}
}

func dispatchEvent(ev ir.DispatchEvent) TraceEvent {
	te := TraceEvent{Type: EventDispatch}
	if ev.Type == ir.DispatchTypeFn {
		te.FnIndex = ir.IntPtr(ev.FnIndex)
		return te
	}
	te.Event = ev.EventName
	if ev.TargetID != nil {
		te.Component = ir.IntPtr(*ev.TargetID)
	}
	return te
}

// tracer assigns each observed action a logical sequence number.
type tracer struct {
	mu     sync.Mutex
	clock  *engine.Clock
	events []TraceEvent
}

func (t *tracer) add(ev TraceEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ev.Seq = t.clock.Next()
	t.events = append(t.events, ev)
}

func (t *tracer) snapshot() []TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.events)
}

type tracingClient struct {
	t    *tracer
	next engine.Client
}

func (c *tracingClient) Submit(ctx context.Context, fnIndex int, data []any, eventData any, targetID *int) (engine.Submission, error) {
	c.t.add(TraceEvent{Type: EventSubmit, FnIndex: ir.IntPtr(fnIndex), Data: slices.Clone(data)})
	return c.next.Submit(ctx, fnIndex, data, eventData, targetID)
}

type tracingState struct {
	t    *tracer
	next engine.StateStore
}

func (s *tracingState) Get(ctx context.Context, id int) (map[string]any, error) {
	return s.next.Get(ctx, id)
}

func (s *tracingState) Update(ctx context.Context, id int, patch map[string]any, visibility bool) error {
	s.t.add(TraceEvent{Type: EventUpdate, Component: ir.IntPtr(id), Patch: maps.Clone(patch)})
	return s.next.Update(ctx, id, patch, visibility)
}

type tracingTracker struct {
	t    *tracer
	next engine.StatusTracker
}

func (tt *tracingTracker) Register(depID int, inputs, outputs []int) {
	tt.next.Register(depID, inputs, outputs)
}

func (tt *tracingTracker) Update(u ir.StatusUpdate) {
	tt.t.add(TraceEvent{Type: EventStatus, FnIndex: ir.IntPtr(u.FnIndex), Stage: u.Stage, Message: u.Message})
	tt.next.Update(u)
}

func (tt *tracingTracker) Clear(componentIDs []int) {
	tt.next.Clear(componentIDs)
}

type tracingNotifier struct {
	t *tracer
}

func (n *tracingNotifier) Notify(msg ir.LogMessage) {
	n.t.add(TraceEvent{Type: EventNotify, FnIndex: ir.IntPtr(msg.FnIndex), Title: msg.Title, Message: msg.Message})
}

type tracingRenderer struct {
	t *tracer
}

func (r *tracingRenderer) Rerender([]any, any) {
	r.t.add(TraceEvent{Type: EventRender})
}
