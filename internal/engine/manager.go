package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/depflow/internal/ir"
	"github.com/roach88/depflow/internal/script"
)

// DefaultMaxSteps is the default number of dispatches one root dispatch
// may cause through chained triggers, replays and state-change events.
const DefaultMaxSteps = 1000

// Manager owns the dependency set and is the single entry point for
// dispatching events to it.
//
// Thread-safety model:
//   - Dispatch, Enqueue, queries: safe from any goroutine
//   - Run: call from exactly one goroutine
//   - Drain: call from one goroutine at a time, not concurrently with Run
//
// One mutex guards every index and bookkeeping map so that cross-map
// invariants (an id in submissions is also in byFn) change atomically.
// Collaborator calls never happen with the mutex held.
type Manager struct {
	client    Client
	state     StateStore
	status    StatusTracker
	notifier  Notifier
	renderer  Renderer
	recorder  APIRecorder
	evaluator script.Evaluator
	ids       InvocationIDGenerator
	clock     *Clock

	maxSteps      int
	maxHops       int
	maxConcurrent int

	mu          sync.Mutex
	byFn        map[int]*Dependency
	byEvent     map[string][]*Dependency
	submissions map[int]map[string]*invocation
	deferred    map[int]ir.DispatchEvent
	renderDeps  map[int]map[int]struct{}
	nextSeq     int64

	queue *workQueue
}

// ManagerOption allows configuration of manager collaborators and limits.
type ManagerOption func(*Manager)

// WithStatusTracker sets the loading-status tracker.
func WithStatusTracker(t StatusTracker) ManagerOption {
	return func(m *Manager) { m.status = t }
}

// WithNotifier sets the toast collaborator. Default: SlogNotifier.
func WithNotifier(n Notifier) ManagerOption {
	return func(m *Manager) { m.notifier = n }
}

// WithRenderer sets the re-render callback.
func WithRenderer(r Renderer) ManagerOption {
	return func(m *Manager) { m.renderer = r }
}

// WithAPIRecorder sets the outbound call audit hook.
func WithAPIRecorder(r APIRecorder) ManagerOption {
	return func(m *Manager) { m.recorder = r }
}

// WithEvaluator sets the transform evaluator. Default: script.NewExprEvaluator.
func WithEvaluator(e script.Evaluator) ManagerOption {
	return func(m *Manager) { m.evaluator = e }
}

// WithInvocationIDs sets the invocation id generator. Default: UUIDv7Generator.
func WithInvocationIDs(g InvocationIDGenerator) ManagerOption {
	return func(m *Manager) { m.ids = g }
}

// WithClock sets the clock used to stamp API calls.
func WithClock(c *Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// WithMaxSteps sets the per-root dispatch quota.
//
// Default: 1000 steps (DefaultMaxSteps).
// Use WithMaxSteps(10) for testing quota enforcement.
func WithMaxSteps(maxSteps int) ManagerOption {
	return func(m *Manager) { m.maxSteps = maxSteps }
}

// WithMaxConcurrent bounds how many dispatches Run executes at once.
// Zero or less means no limit, which is the default.
func WithMaxConcurrent(n int) ManagerOption {
	return func(m *Manager) { m.maxConcurrent = n }
}

// WithMaxOriginHops bounds the trigger_after origin walk.
func WithMaxOriginHops(hops int) ManagerOption {
	return func(m *Manager) { m.maxHops = hops }
}

// New creates a Manager over decls.
//
// client and state are required collaborators. A declaration whose
// transform fails to compile makes New fail; this is the only fatal
// condition of the dependency set.
func New(client Client, state StateStore, decls []ir.Declaration, opts ...ManagerOption) (*Manager, error) {
	if client == nil {
		return nil, fmt.Errorf("new manager: nil client")
	}
	if state == nil {
		return nil, fmt.Errorf("new manager: nil state store")
	}

	m := &Manager{
		client:      client,
		state:       state,
		status:      nopTracker{},
		notifier:    SlogNotifier{},
		renderer:    nopRenderer{},
		recorder:    nopRecorder{},
		evaluator:   script.NewExprEvaluator(),
		ids:         UUIDv7Generator{},
		clock:       NewClock(),
		maxSteps:    DefaultMaxSteps,
		maxHops:     DefaultMaxOriginHops,
		submissions: make(map[int]map[string]*invocation),
		deferred:    make(map[int]ir.DispatchEvent),
		renderDeps:  make(map[int]map[int]struct{}),
		queue:       newWorkQueue(),
	}

	for _, opt := range opts {
		opt(m)
	}

	byFn, byEvent, err := Create(decls, m.evaluator, m.maxHops)
	if err != nil {
		return nil, fmt.Errorf("create dependencies: %w", err)
	}
	m.byFn = byFn
	m.byEvent = byEvent

	for _, decl := range decls {
		if decl.RenderID != nil {
			m.rememberRender(*decl.RenderID, decl.ID)
		}
	}
	m.registerStatus(m.dependencyList())

	slog.Info("dependency manager created",
		"dependencies", len(byFn),
		"event_bindings", len(byEvent),
	)

	return m, nil
}

func (m *Manager) rememberRender(renderID, depID int) {
	set, ok := m.renderDeps[renderID]
	if !ok {
		set = make(map[int]struct{})
		m.renderDeps[renderID] = set
	}
	set[depID] = struct{}{}
}

func (m *Manager) dependencyList() []*Dependency {
	m.mu.Lock()
	defer m.mu.Unlock()

	deps := make([]*Dependency, 0, len(m.byFn))
	for _, id := range sortedIDs(m.byFn) {
		deps = append(deps, m.byFn[id])
	}
	return deps
}

func (m *Manager) registerStatus(deps []*Dependency) {
	for _, dep := range deps {
		decl := dep.Declaration()
		outputs := decl.Outputs
		if !decl.Progress() {
			outputs = nil
		}
		m.status.Register(dep.ID(), decl.Inputs, outputs)
	}
}

// Dependency returns the registered dependency with id.
func (m *Manager) Dependency(id int) (*Dependency, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dep, ok := m.byFn[id]
	return dep, ok
}

// IDs returns every registered dependency id in ascending order.
func (m *Manager) IDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedIDs(m.byFn)
}

// Bound returns the ids bound to event on component target, in
// declaration order.
func (m *Manager) Bound(event string, target int) []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.byEvent[ir.EventKey(event, target)]
	ids := make([]int, len(list))
	for i, dep := range list {
		ids[i] = dep.ID()
	}
	return ids
}

// Running reports whether any invocation of id is in flight.
func (m *Manager) Running(id int) bool {
	return m.InFlight(id) > 0
}

// InFlight returns the number of in-flight invocations of id.
// Only trigger_mode "multiple" can exceed one.
func (m *Manager) InFlight(id int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submissions[id])
}

// Deferred returns the ids waiting for an always_last replay.
func (m *Manager) Deferred() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int, 0, len(m.deferred))
	for id := range m.deferred {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// CloseStream ends the input side of every open stream submission of id.
func (m *Manager) CloseStream(id int) {
	m.mu.Lock()
	var subs []Submission
	for _, inv := range m.submissions[id] {
		if inv.sub != nil && inv.stream == streamOpen {
			inv.stream = streamClosed
			subs = append(subs, inv.sub)
		}
	}
	m.mu.Unlock()

	for _, sub := range subs {
		sub.CloseStream()
	}
}

// Enqueue schedules ev as a new root dispatch on the work queue.
// Returns false if the manager has been stopped.
func (m *Manager) Enqueue(ev ir.DispatchEvent) bool {
	return m.queue.Enqueue(workItem{Event: ev, Quota: NewQuotaEnforcer(m.maxSteps)})
}

// enqueueChained schedules a dispatch descending from a running root.
//
// A dispatch over the root's step quota is dropped and reported to the
// Notifier; the returned QUOTA_EXCEEDED error tells callers the root has
// no budget left.
func (m *Manager) enqueueChained(ev ir.DispatchEvent, quota *QuotaEnforcer) error {
	if err := quota.Check(describe(ev)); err != nil {
		depID := -1
		if ev.Type == ir.DispatchTypeFn {
			depID = ev.FnIndex
		}
		var steps *StepsExceededError
		errors.As(err, &steps)
		rerr := NewQuotaError(depID, steps)

		slog.Error("max steps quota exceeded",
			"dispatch", describe(ev),
			"steps", quota.Current(),
			"limit", quota.MaxSteps(),
			"event", "quota_exceeded",
		)
		m.notifier.Notify(ir.LogMessage{
			Title:   "Quota exceeded",
			Message: rerr.Error(),
			FnIndex: depID,
			Level:   ir.LevelError,
			Visible: true,
		})
		return rerr
	}
	if !m.queue.Enqueue(workItem{Event: ev, Quota: quota}) {
		slog.Warn("dispatch dropped: manager stopped", "dispatch", describe(ev))
	}
	return nil
}

// Run starts the work-queue loop. Each dequeued dispatch runs on its own
// goroutine so a long stream never blocks unrelated dispatches. With
// WithMaxConcurrent set, Run waits for a free slot before starting the
// next one.
// Blocks until ctx is cancelled or Stop is called, then waits for the
// dispatches it started.
//
// ERROR HANDLING: a failed dispatch is logged and the loop continues.
func (m *Manager) Run(ctx context.Context) error {
	slog.Info("manager starting", "max_concurrent", m.maxConcurrent)

	var g errgroup.Group
	if m.maxConcurrent > 0 {
		g.SetLimit(m.maxConcurrent)
	}
	defer func() { _ = g.Wait() }()

	for {
		item, ok := m.queue.TryDequeue()
		if ok {
			g.Go(func() error {
				if err := m.dispatch(ctx, item.Event, item.Quota); err != nil {
					logDispatchError(item.Event, err)
				}
				return nil
			})
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("manager stopping: context cancelled")
			m.queue.Close()
			return ctx.Err()

		case <-m.queue.Wait():
			// The signal channel closes with the queue.
			if m.queue.Closed() && m.queue.Len() == 0 {
				slog.Info("manager stopping: queue closed")
				return nil
			}
		}
	}
}

// Drain processes queued dispatches on the calling goroutine until the
// queue is empty, including dispatches enqueued while draining.
func (m *Manager) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, ok := m.queue.TryDequeue()
		if !ok {
			return nil
		}
		if err := m.dispatch(ctx, item.Event, item.Quota); err != nil {
			logDispatchError(item.Event, err)
		}
	}
}

// Pending returns the number of queued dispatches.
func (m *Manager) Pending() int {
	return m.queue.Len()
}

// Stop closes the work queue, which causes Run to return.
func (m *Manager) Stop() {
	m.queue.Close()
}

func logDispatchError(ev ir.DispatchEvent, err error) {
	slog.Error("dispatch failed",
		"dispatch", describe(ev),
		"error", err,
	)
}

func describe(ev ir.DispatchEvent) string {
	if ev.Type == ir.DispatchTypeFn {
		return fmt.Sprintf("fn:%d", ev.FnIndex)
	}
	if ev.TargetID == nil {
		return "event:" + ev.EventName
	}
	return "event:" + ir.EventKey(ev.EventName, *ev.TargetID)
}
