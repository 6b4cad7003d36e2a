package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/depflow/internal/components"
	"github.com/roach88/depflow/internal/engine"
	"github.com/roach88/depflow/internal/ir"
	"github.com/roach88/depflow/internal/loading"
	"github.com/roach88/depflow/internal/testutil"
)

type notes struct {
	mu   sync.Mutex
	msgs []ir.LogMessage
}

func (n *notes) Notify(msg ir.LogMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *notes) all() []ir.LogMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ir.LogMessage(nil), n.msgs...)
}

type calls struct {
	mu    sync.Mutex
	calls []ir.APICall
}

func (c *calls) RecordAPICall(_ context.Context, call ir.APICall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *calls) all() []ir.APICall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ir.APICall(nil), c.calls...)
}

type renders struct {
	mu    sync.Mutex
	count int
}

func (r *renders) Rerender([]any, any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
}

func (r *renders) n() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

type fixture struct {
	mgr      *engine.Manager
	client   *testutil.ScriptedClient
	state    *components.Store
	tracker  *loading.Tracker
	notes    *notes
	calls    *calls
	renders  *renders
	inflight sync.WaitGroup
}

func newFixture(t *testing.T, decls []ir.Declaration, initial map[int]map[string]any, opts ...engine.ManagerOption) *fixture {
	t.Helper()

	f := &fixture{
		client:  testutil.NewScriptedClient(),
		state:   components.New(initial),
		tracker: loading.NewTracker(),
		notes:   &notes{},
		calls:   &calls{},
		renders: &renders{},
	}

	base := []engine.ManagerOption{
		engine.WithStatusTracker(f.tracker),
		engine.WithNotifier(f.notes),
		engine.WithAPIRecorder(f.calls),
		engine.WithRenderer(f.renders),
		engine.WithInvocationIDs(testutil.NewSequentialIDs("inv")),
	}
	mgr, err := engine.New(f.client, f.state, decls, append(base, opts...)...)
	require.NoError(t, err)
	f.mgr = mgr
	return f
}

// dispatch runs ev synchronously and then drains chained work.
func (f *fixture) dispatch(t *testing.T, ev ir.DispatchEvent) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.mgr.Dispatch(ctx, ev))
	require.NoError(t, f.mgr.Drain(ctx))
}

// dispatchAsync runs ev on its own goroutine; wait collects it.
func (f *fixture) dispatchAsync(t *testing.T, ev ir.DispatchEvent) {
	t.Helper()
	f.inflight.Add(1)
	go func() {
		defer f.inflight.Done()
		_ = f.mgr.Dispatch(context.Background(), ev)
	}()
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		f.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not finish")
	}
	require.NoError(t, f.mgr.Drain(context.Background()))
}

func (f *fixture) waitSubmits(t *testing.T, fnIndex, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.client.SubmitCount(fnIndex) == n
	}, 2*time.Second, time.Millisecond)
}

func backendDecl(id int, inputs, outputs []int) ir.Declaration {
	return ir.Declaration{ID: id, Inputs: inputs, Outputs: outputs, Backend: true}
}

// registeringClient records the declarations passed to Register.
type registeringClient struct {
	*testutil.ScriptedClient
	mu    sync.Mutex
	decls []ir.Declaration
}

func (c *registeringClient) Register(decls ...ir.Declaration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decls = append(c.decls, decls...)
}

func (c *registeringClient) registered() []ir.Declaration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ir.Declaration(nil), c.decls...)
}
