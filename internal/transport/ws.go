package transport

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/roach88/depflow/internal/ir"
)

// writeTimeout bounds a single client frame.
const writeTimeout = 10 * time.Second

// ErrStreamClosed is returned when chunks are sent after CloseStream.
var ErrStreamClosed = errors.New("stream closed")

// clientFrame is a frame sent after the join request.
type clientFrame struct {
	Type string `json:"type"`
	Data []any  `json:"data,omitempty"`
}

const (
	frameChunk       = "chunk"
	frameCloseStream = "close_stream"
)

func (c *Client) wsURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = u.Path + "/stream"
	return u.String()
}

func (c *Client) dialStream(ctx context.Context, join joinRequest) (*wsSubmission, error) {
	conn, _, err := websocket.Dial(ctx, c.wsURL(), &websocket.DialOptions{HTTPClient: c.ws})
	if err != nil {
		return nil, fmt.Errorf("dial stream for %d: %w", join.FnIndex, err)
	}

	s := &wsSubmission{fnIndex: join.FnIndex, conn: conn}
	if err := s.write(ctx, join); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("send join for %d: %w", join.FnIndex, err)
	}
	return s, nil
}

// wsSubmission is a call over a websocket that also accepts input chunks.
type wsSubmission struct {
	fnIndex int
	conn    *websocket.Conn

	mu       sync.Mutex
	closed   bool
	canceled bool
}

// Messages implements engine.Submission. A normal closure from the server
// ends the sequence without an error.
func (s *wsSubmission) Messages(ctx context.Context) iter.Seq2[ir.Message, error] {
	return func(yield func(ir.Message, error) bool) {
		for {
			typ, data, err := s.conn.Read(ctx)
			if err != nil {
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure || s.isCanceled() {
					return
				}
				if ctxErr := ctx.Err(); ctxErr != nil {
					yield(ir.Message{}, ctxErr)
					return
				}
				yield(ir.Message{}, fmt.Errorf("read stream from %d: %w", s.fnIndex, err))
				return
			}
			if typ != websocket.MessageText {
				continue
			}

			var msg ir.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				yield(ir.Message{}, fmt.Errorf("decode message from %d: %w", s.fnIndex, err))
				return
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

// Cancel implements engine.Submission by closing the connection. A close
// handshake the server does not complete is not reported.
func (s *wsSubmission) Cancel(context.Context) error {
	s.mu.Lock()
	if s.canceled {
		s.mu.Unlock()
		return nil
	}
	s.canceled = true
	s.mu.Unlock()

	if err := s.conn.Close(websocket.StatusNormalClosure, "canceled"); err != nil {
		slog.Debug("close handshake incomplete", "dependency", s.fnIndex, "error", err)
	}
	return nil
}

// SendChunk implements engine.Submission.
func (s *wsSubmission) SendChunk(data []any) error {
	s.mu.Lock()
	closed, canceled := s.closed, s.canceled
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("send chunk to %d: %w", s.fnIndex, ErrStreamClosed)
	}
	if canceled {
		return fmt.Errorf("send chunk to %d: submission canceled", s.fnIndex)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return s.write(ctx, clientFrame{Type: frameChunk, Data: data})
}

// CloseStream implements engine.Submission. The server keeps sending
// results until it closes the connection.
func (s *wsSubmission) CloseStream() {
	s.mu.Lock()
	if s.closed || s.canceled {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.write(ctx, clientFrame{Type: frameCloseStream}); err != nil {
		slog.Warn("close stream failed", "dependency", s.fnIndex, "error", err)
	}
}

func (s *wsSubmission) write(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *wsSubmission) isCanceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}
