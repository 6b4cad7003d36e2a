package cli

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/depflow/internal/ir"
	"github.com/roach88/depflow/internal/store"
)

var chainApp = filepath.Join("..", "harness", "testdata", "apps", "chain.json")

// backendServer answers /queue/join: fn 1 fails when fail is set, every
// other call completes with its inputs upper-cased.
func backendServer(t *testing.T, fail bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var join struct {
			FnIndex int   `json:"fn_index"`
			Data    []any `json:"data"`
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &join); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		if fail && join.FnIndex == 1 {
			fmt.Fprint(w, "data: {\"type\":\"status\",\"status\":{\"stage\":\"error\",\"title\":\"Boom\",\"message\":\"backend down\"}}\n\n")
			return
		}
		out := make([]any, len(join.Data))
		for i, v := range join.Data {
			out[i] = strings.ToUpper(fmt.Sprint(v))
		}
		data, _ := json.Marshal(map[string]any{"type": "data", "data": out})
		fmt.Fprintf(w, "data: %s\n\n", data)
		fmt.Fprint(w, "data: {\"type\":\"status\",\"status\":{\"stage\":\"complete\"}}\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeState(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDispatchEventRunsChain(t *testing.T) {
	srv := backendServer(t, false)
	state := writeState(t, "1:\n  value: hello\n")

	out, err := execute(t, NewDispatchCommand(&RootOptions{Format: "text"}),
		chainApp, "--url", srv.URL, "--event", "click", "--target", "9", "--state", state, "--session", "live")
	require.NoError(t, err)

	assert.Contains(t, out, "✓ session live: 2 call(s)")
	assert.Contains(t, out, "component 2: {value=HELLO}")
	assert.Contains(t, out, "component 3: {value=HELLO}")
	assert.Contains(t, out, "fn 0: complete")
	assert.Contains(t, out, "fn 1: complete")
}

func TestDispatchFailureExitsNonZero(t *testing.T) {
	srv := backendServer(t, true)
	state := writeState(t, "2:\n  value: x\n")

	out, err := execute(t, NewDispatchCommand(&RootOptions{Format: "json"}),
		chainApp, "--url", srv.URL, "--fn", "1", "--state", state)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string         `json:"status"`
		Data   DispatchResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Data.Failed)
	assert.Equal(t, 1, resp.Data.Calls)
	assert.Equal(t, ir.StageError, resp.Data.Stages[1])
	require.Len(t, resp.Data.Notifications, 1)
	assert.Equal(t, "Boom", resp.Data.Notifications[0].Title)
	assert.Equal(t, "backend down", resp.Data.Notifications[0].Message)
}

func TestDispatchRecordsSession(t *testing.T) {
	srv := backendServer(t, false)
	dbPath := filepath.Join(t.TempDir(), "audit.db")

	_, err := execute(t, NewDispatchCommand(&RootOptions{Format: "text"}),
		chainApp, "--url", srv.URL, "--event", "click", "--target", "9", "--db", dbPath, "--session", "live")
	require.NoError(t, err)

	out, err := execute(t, NewTraceCommand(&RootOptions{Format: "text"}), "--db", dbPath, "--session", "live")
	require.NoError(t, err)
	assert.Contains(t, out, "Trace for Session: live")
	assert.Contains(t, out, "Calls:             2")
	assert.Contains(t, out, "Status: Settled")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	calls, err := st.ReadAPICalls(t.Context(), "live")
	require.NoError(t, err)
	require.Len(t, calls, 2)
	require.NotNil(t, calls[0].TriggerID)
	assert.Equal(t, 9, *calls[0].TriggerID)
}

func TestDispatchAppendsToExistingSession(t *testing.T) {
	srv := backendServer(t, false)
	dbPath := filepath.Join(t.TempDir(), "audit.db")

	for range 2 {
		_, err := execute(t, NewDispatchCommand(&RootOptions{Format: "text"}),
			chainApp, "--url", srv.URL, "--event", "click", "--target", "9", "--db", dbPath, "--session", "live")
		require.NoError(t, err)
	}

	st, err := store.Open(dbPath, store.ReadOnly())
	require.NoError(t, err)
	defer st.Close()
	calls, err := st.ReadAPICalls(t.Context(), "live")
	require.NoError(t, err)
	require.Len(t, calls, 4)
	for i, c := range calls {
		assert.Equal(t, int64(i+1), c.Seq)
	}
}

func TestDispatchInvalidFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no event", []string{chainApp, "--url", "http://localhost:1"}, "one of --fn, --api or --event is required"},
		{"event without target", []string{chainApp, "--url", "http://localhost:1", "--event", "click"}, "--event needs --target"},
		{"both", []string{chainApp, "--url", "http://localhost:1", "--event", "click", "--target", "9", "--fn", "0"}, "mutually exclusive"},
		{"api and fn", []string{chainApp, "--url", "http://localhost:1", "--api", "shout", "--fn", "0"}, "mutually exclusive"},
		{"unknown api", []string{chainApp, "--url", "http://localhost:1", "--api", "fin"}, `no dependency named "fin" (did you mean finish?)`},
		{"bad event data", []string{chainApp, "--url", "http://localhost:1", "--fn", "0", "--event-data", "{"}, "--event-data"},
		{"bad url", []string{chainApp, "--url", "localhost:1", "--fn", "0"}, "invalid backend url"},
		{"missing declarations", []string{"nope.json", "--url", "http://localhost:1", "--fn", "0"}, "declarations not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, NewDispatchCommand(&RootOptions{Format: "text"}), tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDispatchByAPIName(t *testing.T) {
	srv := backendServer(t, false)
	state := writeState(t, "2:\n  value: done\n")

	out, err := execute(t, NewDispatchCommand(&RootOptions{Format: "text"}),
		chainApp, "--url", srv.URL, "--api", "FINISH", "--state", state)
	require.NoError(t, err)
	assert.Contains(t, out, "1 call(s)")
	assert.Contains(t, out, "component 3: {value=DONE}")
}

func TestDispatchMissingURL(t *testing.T) {
	_, err := execute(t, NewDispatchCommand(&RootOptions{Format: "text"}), chainApp, "--fn", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}
