package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"slices"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/roach88/depflow/internal/ir"
)

// maxEventSize bounds one server-sent event.
const maxEventSize = 4 << 20

// ErrNotStream is returned when input chunks are sent on an sse call.
var ErrNotStream = errors.New("not a stream connection")

// ErrEventTooLarge is returned when the data of one event, summed over its
// lines, exceeds maxEventSize.
var ErrEventTooLarge = errors.New("event too large")

func (c *Client) joinQueue(ctx context.Context, join joinRequest) (*sseSubmission, error) {
	body, err := json.Marshal(join)
	if err != nil {
		return nil, fmt.Errorf("encode join request: %w", err)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint("/queue/join"), bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build join request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("join queue for %d: %w", join.FnIndex, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("join queue for %d: %s: %s", join.FnIndex, resp.Status, bytes.TrimSpace(msg))
	}

	return &sseSubmission{fnIndex: join.FnIndex, body: resp.Body, cancel: cancel}, nil
}

// sseSubmission is a call whose results arrive as server-sent events.
type sseSubmission struct {
	fnIndex int
	body    io.ReadCloser
	cancel  context.CancelFunc

	mu       sync.Mutex
	canceled bool
}

// Messages implements engine.Submission.
func (s *sseSubmission) Messages(ctx context.Context) iter.Seq2[ir.Message, error] {
	return func(yield func(ir.Message, error) bool) {
		defer s.body.Close()
		stop := context.AfterFunc(ctx, func() { s.body.Close() })
		defer stop()

		stopped := false
		err := readEvents(s.body, func(data []byte) bool {
			var msg ir.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				stopped = true
				yield(ir.Message{}, fmt.Errorf("decode message from %d: %w", s.fnIndex, err))
				return false
			}
			if !yield(msg, nil) {
				stopped = true
				return false
			}
			return true
		})
		if stopped || s.isCanceled() {
			return
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			yield(ir.Message{}, ctxErr)
			return
		}
		if err != nil {
			yield(ir.Message{}, fmt.Errorf("read events from %d: %w", s.fnIndex, err))
		}
	}
}

// Cancel implements engine.Submission by abandoning the request.
func (s *sseSubmission) Cancel(context.Context) error {
	s.mu.Lock()
	s.canceled = true
	s.mu.Unlock()
	s.cancel()
	return nil
}

// SendChunk implements engine.Submission. sse calls take no further input.
func (s *sseSubmission) SendChunk([]any) error {
	return fmt.Errorf("send chunk to %d: %w", s.fnIndex, ErrNotStream)
}

// CloseStream implements engine.Submission.
func (s *sseSubmission) CloseStream() {}

func (s *sseSubmission) isCanceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

// readEvents calls fn with the data of each event in an event stream.
// Multi-line data is joined with newlines; comments and other fields are
// skipped. A trailing event without a blank line is still delivered.
func readEvents(r io.Reader, fn func(data []byte) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var data []byte
	has := false
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			if has {
				if !fn(slices.Clone(data)) {
					return nil
				}
				data = data[:0]
				has = false
			}
			continue
		}
		if line[0] == ':' {
			continue
		}
		field, value, _ := bytes.Cut(line, []byte(":"))
		if string(field) != "data" {
			continue
		}
		value = bytes.TrimPrefix(value, []byte(" "))
		if len(data)+len(value)+1 > maxEventSize {
			return fmt.Errorf("read event: %w (limit %d bytes)", ErrEventTooLarge, maxEventSize)
		}
		if has {
			data = append(data, '\n')
		}
		data = append(data, value...)
		has = true
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if has {
		fn(slices.Clone(data))
	}
	return nil
}
