package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/depflow/internal/ir"
)

type streamState int

const (
	streamNone streamState = iota
	streamWaiting
	streamOpen
	streamClosed
)

// invocation is the bookkeeping of one run of a dependency that issues a
// backend call. It is reserved before the call is submitted so gating sees
// the dependency as running from that point on.
type invocation struct {
	id  string
	seq int64
	dep *Dependency

	// Guarded by Manager.mu.
	sub      Submission
	stream   streamState
	canceled bool
	pending  [][]any
	allFired bool
}

// run carries the per-dispatch context of one dependency run.
type run struct {
	dep      *Dependency
	ev       ir.DispatchEvent
	inv      *invocation
	targetID *int
	restore  func(context.Context)
	quota    *QuotaEnforcer
}

// Dispatch resolves ev to its dependencies and runs each in declaration
// order.
//
// Chained triggers, deferred replays and state-change events are put on
// the work queue; process them with Run or Drain.
//
// Execution failures are contained per dependency and turned into failure
// triggers, so the returned error only reports a dispatch that could not
// be resolved.
func (m *Manager) Dispatch(ctx context.Context, ev ir.DispatchEvent) error {
	return m.dispatch(ctx, ev, NewQuotaEnforcer(m.maxSteps))
}

func (m *Manager) dispatch(ctx context.Context, ev ir.DispatchEvent, quota *QuotaEnforcer) error {
	deps, err := m.resolve(ev)
	if err != nil {
		return err
	}

	slog.Debug("dispatch resolved",
		"dispatch", describe(ev),
		"dependencies", len(deps),
	)

	for _, dep := range deps {
		m.dispatchOne(ctx, dep, ev, quota)
	}
	return nil
}

func (m *Manager) resolve(ev ir.DispatchEvent) ([]*Dependency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.Type {
	case ir.DispatchTypeFn:
		dep, ok := m.byFn[ev.FnIndex]
		if !ok {
			return nil, NewUnknownDependencyError(ev.FnIndex)
		}
		return []*Dependency{dep}, nil

	case ir.DispatchTypeEvent:
		if ev.TargetID == nil {
			return nil, nil
		}
		return append([]*Dependency(nil), m.byEvent[ir.EventKey(ev.EventName, *ev.TargetID)]...), nil

	default:
		return nil, fmt.Errorf("unknown dispatch type %q", ev.Type)
	}
}

func (m *Manager) dispatchOne(ctx context.Context, dep *Dependency, ev ir.DispatchEvent, quota *QuotaEnforcer) {
	decl := dep.Declaration()

	m.cancel(ctx, decl.Cancels)

	decision, inv, chunkTo := m.gate(dep, ev)

	slog.Debug("gating decision",
		"dependency", dep.ID(),
		"mode", decl.Mode(),
		"decision", decision,
		"stream_chunk", chunkTo != nil,
	)

	if chunkTo == nil && decision != DecisionRun {
		return
	}

	if chunkTo == nil && dep.Submits() {
		m.status.Update(ir.StatusUpdate{FnIndex: dep.ID(), Stage: ir.StagePending})
	}

	r := &run{dep: dep, ev: ev, inv: inv, quota: quota, restore: func(context.Context) {}}

	data, err := m.gather(ctx, decl.Inputs)
	if err != nil {
		m.fail(ctx, r, err)
		return
	}

	r.restore = m.setEventArgs(ctx, dep)
	r.targetID = m.effectiveTarget(ev, dep)

	if chunkTo != nil {
		m.sendChunk(chunkTo, data)
		r.restore(ctx)
		return
	}

	invokeID := ""
	if inv != nil {
		invokeID = inv.id
	}
	m.recorder.RecordAPICall(ctx, ir.APICall{
		FnIndex:   dep.ID(),
		Data:      data,
		EventData: ev.EventData,
		TriggerID: r.targetID,
		Seq:       m.clock.Next(),
		InvokeID:  invokeID,
	})

	res, err := dep.Run(ctx, m.client, data, ev.EventData, r.targetID)
	if err != nil {
		m.fail(ctx, r, err)
		return
	}

	switch res.Kind {
	case RunVoid:
		m.release(inv)
		r.restore(ctx)

	case RunData:
		m.release(inv)
		if err := m.ApplyOutputs(ctx, decl.Outputs, res.Data); err != nil {
			m.fail(ctx, r, err)
			return
		}
		r.restore(ctx)

	case RunSubmit:
		if !m.open(ctx, inv, res.Submission) {
			slog.Debug("invocation canceled before it opened",
				"dependency", dep.ID(),
				"invocation", inv.id,
			)
			r.restore(ctx)
			m.replayDeferred(dep.ID(), quota)
			return
		}
		m.consume(ctx, r, res.Submission)
	}
}

// cancel drops every in-flight invocation of ids and cancels their
// submissions. Invocations that have not opened yet are marked and
// canceled as soon as their submission arrives.
func (m *Manager) cancel(ctx context.Context, ids []int) {
	if len(ids) == 0 {
		return
	}

	type target struct {
		depID int
		sub   Submission
	}
	var targets []target

	m.mu.Lock()
	for _, id := range ids {
		for _, inv := range m.submissions[id] {
			inv.canceled = true
			targets = append(targets, target{depID: id, sub: inv.sub})
		}
		delete(m.submissions, id)
	}
	m.mu.Unlock()

	for _, t := range targets {
		slog.Info("canceling submission", "dependency", t.depID)
		if t.sub != nil {
			if err := t.sub.Cancel(ctx); err != nil {
				slog.Warn("cancel failed",
					"dependency", t.depID,
					"error", err,
				)
			}
		}
		m.status.Update(ir.StatusUpdate{FnIndex: t.depID, Stage: ir.StageComplete})
	}
}

// gate applies the trigger mode and reserves an invocation slot in one
// critical section, so two dispatches of the same id cannot both observe
// "not running".
//
// An open stream connection takes precedence over the trigger mode: new
// input is sent as a chunk on it instead of starting another call.
func (m *Manager) gate(dep *Dependency, ev ir.DispatchEvent) (Decision, *invocation, *invocation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	decl := dep.Declaration()
	invs := m.submissions[dep.ID()]
	running := len(invs) > 0

	if running && decl.Connection() == ir.ConnectionStream {
		var latest *invocation
		for _, inv := range invs {
			if inv.stream == streamClosed {
				continue
			}
			if latest == nil || inv.seq > latest.seq {
				latest = inv
			}
		}
		if latest != nil {
			return DecisionRun, nil, latest
		}
	}

	decision := ShouldDispatch(decl.Mode(), running)
	switch decision {
	case DecisionDefer:
		m.deferred[dep.ID()] = ev
		return decision, nil, nil
	case DecisionSkip:
		return decision, nil, nil
	}

	if !dep.Submits() {
		return decision, nil, nil
	}

	m.nextSeq++
	inv := &invocation{
		id:  m.ids.Generate(),
		seq: m.nextSeq,
		dep: dep,
	}
	if decl.Connection() == ir.ConnectionStream {
		inv.stream = streamWaiting
	}
	if invs == nil {
		invs = make(map[string]*invocation)
		m.submissions[dep.ID()] = invs
	}
	invs[inv.id] = inv
	return decision, inv, nil
}

// open attaches sub to its reserved invocation and flushes chunks that
// arrived while the call was being submitted. Returns false when the
// invocation was canceled in the meantime; sub is canceled then.
func (m *Manager) open(ctx context.Context, inv *invocation, sub Submission) bool {
	m.mu.Lock()
	if inv.canceled {
		m.mu.Unlock()
		if err := sub.Cancel(ctx); err != nil {
			slog.Warn("cancel failed", "dependency", inv.dep.ID(), "error", err)
		}
		return false
	}
	inv.sub = sub
	if inv.stream == streamWaiting {
		inv.stream = streamOpen
	}
	pending := inv.pending
	inv.pending = nil
	m.mu.Unlock()

	slog.Info("submission opened",
		"dependency", inv.dep.ID(),
		"invocation", inv.id,
	)

	for _, chunk := range pending {
		if err := sub.SendChunk(chunk); err != nil {
			slog.Warn("send chunk failed", "dependency", inv.dep.ID(), "error", err)
		}
	}
	return true
}

func (m *Manager) sendChunk(inv *invocation, data []any) {
	m.mu.Lock()
	if inv.sub == nil {
		inv.pending = append(inv.pending, data)
		m.mu.Unlock()
		return
	}
	sub := inv.sub
	m.mu.Unlock()

	if err := sub.SendChunk(data); err != nil {
		slog.Warn("send chunk failed", "dependency", inv.dep.ID(), "error", err)
	}
}

// release drops inv from the submission bookkeeping.
func (m *Manager) release(inv *invocation) {
	if inv == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id := inv.dep.ID()
	invs := m.submissions[id]
	if invs == nil {
		return
	}
	delete(invs, inv.id)
	if len(invs) == 0 {
		delete(m.submissions, id)
	}
}

func (m *Manager) isCanceled(inv *invocation) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return inv.canceled
}

// gather reads the "value" of every input component. Components without
// state contribute nil.
func (m *Manager) gather(ctx context.Context, inputs []int) ([]any, error) {
	data := make([]any, len(inputs))
	for i, id := range inputs {
		st, err := m.state.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get state %d: %w", id, err)
		}
		if st != nil {
			data[i] = st["value"]
		}
	}
	return data, nil
}

// setEventArgs applies the dependency's event-specific overrides to its
// target components and returns a closure that puts the previous values
// back. The closure runs at most once.
func (m *Manager) setEventArgs(ctx context.Context, dep *Dependency) func(context.Context) {
	args := dep.Declaration().EventArgs
	if len(args) == 0 {
		return func(context.Context) {}
	}

	type saved struct {
		id   int
		prev map[string]any
	}
	var restores []saved
	seen := make(map[int]bool)

	for _, t := range dep.Declaration().Targets {
		if seen[t.ComponentID] {
			continue
		}
		seen[t.ComponentID] = true

		st, err := m.state.Get(ctx, t.ComponentID)
		if err != nil {
			slog.Warn("event args: get state failed", "component", t.ComponentID, "error", err)
			continue
		}
		prev := make(map[string]any, len(args))
		for k := range args {
			prev[k] = st[k]
		}
		if err := m.state.Update(ctx, t.ComponentID, copyMap(args), false); err != nil {
			slog.Warn("event args: update failed", "component", t.ComponentID, "error", err)
			continue
		}
		restores = append(restores, saved{id: t.ComponentID, prev: prev})
	}

	var once sync.Once
	return func(ctx context.Context) {
		once.Do(func() {
			for _, s := range restores {
				if err := m.state.Update(ctx, s.id, s.prev, false); err != nil {
					slog.Warn("event args: restore failed", "component", s.id, "error", err)
				}
			}
		})
	}
}

// effectiveTarget picks the target id passed to the backend and to chained
// triggers. UI events always pass their own target. The chain root is
// read under m.mu because a render re-links it.
func (m *Manager) effectiveTarget(ev ir.DispatchEvent, dep *Dependency) *int {
	if ev.TargetID != nil || ev.Type == ir.DispatchTypeEvent {
		return ev.TargetID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return ir.IntPtr(dep.OriginalTriggerID())
}

// fail converts an execution failure into the failure path: error status,
// bookkeeping release, failure triggers, and the deferred replay.
func (m *Manager) fail(ctx context.Context, r *run, err error) {
	id := r.dep.ID()

	if !errors.Is(err, context.Canceled) {
		slog.Error("dependency failed",
			"dependency", id,
			"error", err,
		)
	}

	m.status.Update(ir.StatusUpdate{FnIndex: id, Stage: ir.StageError, Message: err.Error()})
	m.release(r.inv)
	r.restore(ctx)

	_, failure, all := m.triggersOf(r.dep)
	m.fire(failure, r.targetID, r.quota)
	if m.markAllFired(r.inv) {
		m.fire(all, r.targetID, r.quota)
	}
	m.replayDeferred(id, r.quota)
}

func (m *Manager) triggersOf(dep *Dependency) (success, failure, all []int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return dep.Triggers()
}

// markAllFired returns true the first time it is called for inv.
// Runs without an invocation fire "all" triggers unconditionally.
func (m *Manager) markAllFired(inv *invocation) bool {
	if inv == nil {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv.allFired {
		return false
	}
	inv.allFired = true
	return true
}

// fire enqueues the chained dependencies ids. Once the root's quota is
// spent the rest of the list is dropped without further reports.
func (m *Manager) fire(ids []int, targetID *int, quota *QuotaEnforcer) {
	for _, id := range ids {
		slog.Debug("firing chained dependency", "dependency", id)
		if err := m.enqueueChained(ir.FnEvent(id, targetID), quota); IsQuotaError(err) {
			return
		}
	}
}

// replayDeferred re-dispatches the latest deferred event of id, if any.
func (m *Manager) replayDeferred(id int, quota *QuotaEnforcer) {
	m.mu.Lock()
	ev, ok := m.deferred[id]
	if ok {
		delete(m.deferred, id)
	}
	m.mu.Unlock()

	if ok {
		slog.Debug("replaying deferred dispatch", "dependency", id)
		_ = m.enqueueChained(ev, quota)
	}
}

func copyMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
