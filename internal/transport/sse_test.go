package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/depflow/internal/ir"
)

func collectEvents(t *testing.T, stream string) []string {
	t.Helper()
	var got []string
	err := readEvents(strings.NewReader(stream), func(data []byte) bool {
		got = append(got, string(data))
		return true
	})
	require.NoError(t, err)
	return got
}

func TestReadEvents(t *testing.T) {
	tests := []struct {
		name   string
		stream string
		want   []string
	}{
		{"single", "data: a\n\n", []string{"a"}},
		{"two events", "data: a\n\ndata: b\n\n", []string{"a", "b"}},
		{"multi-line data", "data: a\ndata: b\n\n", []string{"a\nb"}},
		{"comments and fields skipped", ": ping\nevent: msg\nid: 3\ndata: x\n\n", []string{"x"}},
		{"no space after colon", "data:x\n\n", []string{"x"}},
		{"trailing event flushed", "data: a\n\ndata: b", []string{"a", "b"}},
		{"blank lines only", "\n\n\n", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, collectEvents(t, tt.stream))
		})
	}
}

func TestReadEvents_StopsWhenAsked(t *testing.T) {
	n := 0
	err := readEvents(strings.NewReader("data: a\n\ndata: b\n\n"), func([]byte) bool {
		n++
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReadEvents_CapsMultiLineEvent(t *testing.T) {
	line := "data: " + strings.Repeat("x", 1<<20) + "\n"
	stream := strings.Repeat(line, 6) + "\n"

	called := false
	err := readEvents(strings.NewReader(stream), func([]byte) bool {
		called = true
		return true
	})
	require.ErrorIs(t, err, ErrEventTooLarge)
	assert.False(t, called, "oversized event is not delivered")
}

func TestReadEvents_ManyLinesUnderLimit(t *testing.T) {
	line := "data: " + strings.Repeat("x", 1<<20) + "\n"
	got := collectEvents(t, strings.Repeat(line, 3)+"\n")
	require.Len(t, got, 1)
	assert.Len(t, got[0], 3<<20+2)
}

// sseServer answers /queue/join with one event per message in msgs.
func sseServer(t *testing.T, joins chan<- joinRequest, msgs ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/queue/join" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var join joinRequest
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &join); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if joins != nil {
			joins <- join
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, m := range msgs {
			fmt.Fprintf(w, "data: %s\n\n", m)
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_SSE(t *testing.T) {
	joins := make(chan joinRequest, 1)
	srv := sseServer(t, joins,
		`{"type":"status","status":{"stage":"pending"}}`,
		`{"type":"data","data":["HI"]}`,
		`{"type":"status","status":{"stage":"complete"}}`,
	)

	c, err := New(srv.URL, nil, WithSessionHash("sess"))
	require.NoError(t, err)

	sub, err := c.Submit(context.Background(), 1, []any{"hi"}, nil, ir.IntPtr(10))
	require.NoError(t, err)

	join := <-joins
	assert.Equal(t, 1, join.FnIndex)
	assert.Equal(t, []any{"hi"}, join.Data)
	require.NotNil(t, join.TriggerID)
	assert.Equal(t, 10, *join.TriggerID)
	assert.Equal(t, "sess", join.SessionHash)

	var msgs []ir.Message
	for msg, err := range sub.Messages(context.Background()) {
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}
	require.Len(t, msgs, 3)
	assert.Equal(t, ir.StagePending, msgs[0].Status.Stage)
	assert.Equal(t, []any{"HI"}, ir.Values(msgs[1].Data))
	assert.Equal(t, ir.StageComplete, msgs[2].Status.Stage)
}

func TestClient_SSESendsEmptyDataArray(t *testing.T) {
	joins := make(chan joinRequest, 1)
	srv := sseServer(t, joins)

	c, err := New(srv.URL, nil)
	require.NoError(t, err)
	_, err = c.Submit(context.Background(), 0, nil, nil, nil)
	require.NoError(t, err)

	join := <-joins
	assert.NotNil(t, join.Data)
	assert.Empty(t, join.Data)
	assert.NotEmpty(t, join.SessionHash, "a random session hash is generated")
}

func TestClient_SSEHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, nil)
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), 3, nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "join queue for 3")
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "queue full")
}

func TestClient_SSEDecodeError(t *testing.T) {
	srv := sseServer(t, nil, `{"type":`)

	c, err := New(srv.URL, nil)
	require.NoError(t, err)
	sub, err := c.Submit(context.Background(), 0, nil, nil, nil)
	require.NoError(t, err)

	var errs []error
	for _, err := range sub.Messages(context.Background()) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "decode message from 0")
}

func TestClient_SSERejectsChunks(t *testing.T) {
	srv := sseServer(t, nil)

	c, err := New(srv.URL, nil)
	require.NoError(t, err)
	sub, err := c.Submit(context.Background(), 0, nil, nil, nil)
	require.NoError(t, err)

	err = sub.SendChunk([]any{"x"})
	assert.True(t, errors.Is(err, ErrNotStream))
}

func TestClient_SSECancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"status\",\"status\":{\"stage\":\"pending\"}}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, nil)
	require.NoError(t, err)
	sub, err := c.Submit(context.Background(), 0, nil, nil, nil)
	require.NoError(t, err)

	n := 0
	for _, err := range sub.Messages(context.Background()) {
		require.NoError(t, err, "a canceled call ends quietly")
		n++
		require.NoError(t, sub.Cancel(context.Background()))
	}
	assert.Equal(t, 1, n)
}

func TestClient_SSEContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, nil)
	require.NoError(t, err)
	sub, err := c.Submit(context.Background(), 0, nil, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var errs []error
	for _, err := range sub.Messages(ctx) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], context.Canceled)
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme must be http or https")
}
