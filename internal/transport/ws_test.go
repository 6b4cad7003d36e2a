package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/depflow/internal/ir"
)

func readFrame(ctx context.Context, conn *websocket.Conn, v any) error {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeFrame(ctx context.Context, conn *websocket.Conn, raw string) error {
	return conn.Write(ctx, websocket.MessageText, []byte(raw))
}

// echoStreamServer echoes every chunk back as a data message and
// completes once the client closes its input.
func echoStreamServer(t *testing.T, joins chan<- joinRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stream" {
			http.NotFound(w, r)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		var join joinRequest
		if err := readFrame(ctx, conn, &join); err != nil {
			return
		}
		joins <- join

		for {
			var frame clientFrame
			if err := readFrame(ctx, conn, &frame); err != nil {
				return
			}
			switch frame.Type {
			case frameChunk:
				data, _ := json.Marshal(map[string]any{"type": "data", "data": frame.Data})
				if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
					return
				}
			case frameCloseStream:
				_ = writeFrame(ctx, conn, `{"type":"status","status":{"stage":"complete"}}`)
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func streamDecl(id int) ir.Declaration {
	return ir.Declaration{ID: id, Backend: true, ConnectionType: ir.ConnectionStream}
}

func TestClient_Stream(t *testing.T) {
	joins := make(chan joinRequest, 1)
	srv := echoStreamServer(t, joins)

	c, err := New(srv.URL, []ir.Declaration{streamDecl(4)})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := c.Submit(ctx, 4, []any{"a"}, nil, nil)
	require.NoError(t, err)

	join := <-joins
	assert.Equal(t, 4, join.FnIndex)
	assert.Equal(t, []any{"a"}, join.Data)

	require.NoError(t, sub.SendChunk([]any{"b"}))
	require.NoError(t, sub.SendChunk([]any{"c"}))

	var got []ir.Message
	for msg, err := range sub.Messages(ctx) {
		require.NoError(t, err)
		got = append(got, msg)
		if len(got) == 2 {
			sub.CloseStream()
		}
	}

	require.Len(t, got, 3)
	assert.Equal(t, []any{"b"}, ir.Values(got[0].Data))
	assert.Equal(t, []any{"c"}, ir.Values(got[1].Data))
	assert.Equal(t, ir.StageComplete, got[2].Status.Stage)
}

func TestClient_StreamChunkAfterClose(t *testing.T) {
	joins := make(chan joinRequest, 1)
	srv := echoStreamServer(t, joins)

	c, err := New(srv.URL, []ir.Declaration{streamDecl(4)})
	require.NoError(t, err)

	sub, err := c.Submit(context.Background(), 4, nil, nil, nil)
	require.NoError(t, err)
	<-joins

	sub.CloseStream()
	err = sub.SendChunk([]any{"late"})
	assert.True(t, errors.Is(err, ErrStreamClosed))
}

func TestClient_StreamCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		var join joinRequest
		if err := readFrame(ctx, conn, &join); err != nil {
			return
		}
		_ = writeFrame(ctx, conn, `{"type":"status","status":{"stage":"pending"}}`)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, []ir.Declaration{streamDecl(2)})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub, err := c.Submit(ctx, 2, nil, nil, nil)
	require.NoError(t, err)

	n := 0
	for _, err := range sub.Messages(ctx) {
		require.NoError(t, err, "a canceled stream ends quietly")
		n++
		require.NoError(t, sub.Cancel(ctx))
	}
	assert.Equal(t, 1, n)
	assert.Error(t, sub.SendChunk([]any{"x"}))
}

func TestClient_StreamAbnormalClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		var join joinRequest
		if err := readFrame(r.Context(), conn, &join); err != nil {
			return
		}
		conn.Close(websocket.StatusInternalError, "boom")
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, []ir.Declaration{streamDecl(2)})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub, err := c.Submit(ctx, 2, nil, nil, nil)
	require.NoError(t, err)

	var errs []error
	for _, err := range sub.Messages(ctx) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "read stream from 2")
	assert.Equal(t, websocket.StatusInternalError, websocket.CloseStatus(errs[0]))
}

func TestClient_StreamDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, []ir.Declaration{streamDecl(1)})
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), 1, nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial stream for 1")
}

func TestClient_RegisterSwitchesConnection(t *testing.T) {
	joins := make(chan joinRequest, 1)
	srv := echoStreamServer(t, joins)

	c, err := New(srv.URL, nil)
	require.NoError(t, err)
	c.Register(streamDecl(9))

	sub, err := c.Submit(context.Background(), 9, nil, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &wsSubmission{}, sub)
	<-joins
	require.NoError(t, sub.Cancel(context.Background()))
}

func TestWSURL(t *testing.T) {
	c, err := New("https://example.com/app/", nil)
	require.NoError(t, err)
	assert.Equal(t, "wss://example.com/app/stream", c.wsURL())
	assert.Equal(t, "https://example.com/app/queue/join", c.endpoint("/queue/join"))

	c, err = New("http://localhost:7860", nil)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:7860/stream", c.wsURL())
}
