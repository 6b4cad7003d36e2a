package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/depflow/internal/components"
	"github.com/roach88/depflow/internal/engine"
	"github.com/roach88/depflow/internal/ir"
)

// upperServer completes every call with its inputs upper-cased.
func upperServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var join joinRequest
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &join); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out := make([]any, len(join.Data))
		for i, v := range join.Data {
			out[i] = strings.ToUpper(fmt.Sprint(v))
		}
		data, _ := json.Marshal(map[string]any{"type": "data", "data": out})

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", data)
		fmt.Fprint(w, "data: {\"type\":\"status\",\"status\":{\"stage\":\"complete\"}}\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_DrivesManager(t *testing.T) {
	srv := upperServer(t)
	decls := []ir.Declaration{
		{ID: 1, Targets: []ir.Target{{ComponentID: 10, Event: "submit"}}, Inputs: []int{10}, Outputs: []int{20}, Backend: true},
		{ID: 2, Inputs: []int{20}, Outputs: []int{30}, Backend: true, TriggerAfter: ir.IntPtr(1), TriggerOnlyOnSuccess: true},
	}

	c, err := New(srv.URL, decls)
	require.NoError(t, err)
	state := components.New(map[int]map[string]any{10: {"value": "hi"}})

	m, err := engine.New(c, state, decls)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.Dispatch(ctx, ir.UIEvent("submit", 10, nil)))
	require.NoError(t, m.Drain(ctx))

	assert.Equal(t, "HI", state.Value(20))
	assert.Equal(t, "HI", state.Value(30))
	assert.False(t, m.Running(1))
}

func TestClient_RegistersRenderedDependencies(t *testing.T) {
	render := `{"type":"render","render":{"render_id":1,"dependencies":[` +
		`{"id":5,"targets":[],"inputs":[],"outputs":[],"backend_fn":true,"connection":"stream","rendered_in":1}]}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", render)
	}))
	t.Cleanup(srv.Close)

	decls := []ir.Declaration{{ID: 1, Backend: true}}
	c, err := New(srv.URL, decls)
	require.NoError(t, err)
	m, err := engine.New(c, components.New(nil), decls)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.Dispatch(ctx, ir.FnEvent(1, nil)))
	require.NoError(t, m.Drain(ctx))

	_, ok := m.Dependency(5)
	require.True(t, ok)
	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.True(t, c.streams[5], "rendered stream dependency opens a stream connection")
}
