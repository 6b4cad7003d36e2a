package testutil

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/roach88/depflow/internal/engine"
	"github.com/roach88/depflow/internal/ir"
)

// SubmitCall records one ScriptedClient.Submit call.
type SubmitCall struct {
	FnIndex   int
	Data      []any
	EventData any
	TargetID  *int
}

// ScriptedClient is an engine.Client whose submissions are prepared by
// the test.
//
// Submissions are handed out per function index in the order they were
// scripted. A Submit without a prepared submission gets one that
// completes immediately.
//
// Thread-safety: all methods are safe for concurrent use.
type ScriptedClient struct {
	mu      sync.Mutex
	scripts map[int][]*ScriptedSubmission
	errs    map[int]error
	calls   []SubmitCall
	subs    []*ScriptedSubmission
}

// NewScriptedClient creates a client with nothing scripted.
func NewScriptedClient() *ScriptedClient {
	return &ScriptedClient{
		scripts: make(map[int][]*ScriptedSubmission),
		errs:    make(map[int]error),
	}
}

// Script queues a submission for fnIndex that yields msgs and ends.
func (c *ScriptedClient) Script(fnIndex int, msgs ...ir.Message) *ScriptedSubmission {
	sub := newScriptedSubmission(fnIndex, len(msgs))
	for _, msg := range msgs {
		sub.items <- item{msg: msg}
	}
	sub.Finish()
	c.enqueue(fnIndex, sub)
	return sub
}

// Stream queues a submission for fnIndex that yields whatever the test
// pushes until Finish is called.
func (c *ScriptedClient) Stream(fnIndex int) *ScriptedSubmission {
	sub := newScriptedSubmission(fnIndex, 64)
	c.enqueue(fnIndex, sub)
	return sub
}

// FailSubmit makes every later Submit for fnIndex return err.
func (c *ScriptedClient) FailSubmit(fnIndex int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[fnIndex] = err
}

func (c *ScriptedClient) enqueue(fnIndex int, sub *ScriptedSubmission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[fnIndex] = append(c.scripts[fnIndex], sub)
}

// Submit implements engine.Client.
func (c *ScriptedClient) Submit(ctx context.Context, fnIndex int, data []any, eventData any, targetID *int) (engine.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, SubmitCall{
		FnIndex:   fnIndex,
		Data:      append([]any(nil), data...),
		EventData: eventData,
		TargetID:  copyIntPtr(targetID),
	})

	if err := c.errs[fnIndex]; err != nil {
		return nil, err
	}

	var sub *ScriptedSubmission
	if queued := c.scripts[fnIndex]; len(queued) > 0 {
		sub = queued[0]
		c.scripts[fnIndex] = queued[1:]
	} else {
		sub = newScriptedSubmission(fnIndex, 1)
		sub.items <- item{msg: ir.Message{Type: ir.MessageStatus, Status: &ir.Status{Stage: ir.StageComplete}}}
		sub.Finish()
	}
	c.subs = append(c.subs, sub)
	return sub, nil
}

// Calls returns every Submit call so far, in order.
func (c *ScriptedClient) Calls() []SubmitCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SubmitCall(nil), c.calls...)
}

// SubmitCount returns the number of Submit calls for fnIndex.
func (c *ScriptedClient) SubmitCount(fnIndex int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call.FnIndex == fnIndex {
			n++
		}
	}
	return n
}

// Submissions returns the submissions handed out so far, in order.
func (c *ScriptedClient) Submissions() []*ScriptedSubmission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*ScriptedSubmission(nil), c.subs...)
}

type item struct {
	msg ir.Message
	err error
}

// ScriptedSubmission is an engine.Submission fed by the test.
type ScriptedSubmission struct {
	FnIndex int

	items    chan item
	finish   sync.Once
	cancelCh chan struct{}
	cancel   sync.Once

	mu       sync.Mutex
	chunks   [][]any
	canceled bool
	closed   bool
}

func newScriptedSubmission(fnIndex, buffer int) *ScriptedSubmission {
	return &ScriptedSubmission{
		FnIndex:  fnIndex,
		items:    make(chan item, buffer),
		cancelCh: make(chan struct{}),
	}
}

// Push yields msg to the consumer. Must not be called after Finish.
func (s *ScriptedSubmission) Push(msg ir.Message) {
	s.items <- item{msg: msg}
}

// Fail yields a transport error to the consumer.
func (s *ScriptedSubmission) Fail(err error) {
	s.items <- item{err: err}
}

// Finish ends the message sequence after the items already pushed.
func (s *ScriptedSubmission) Finish() {
	s.finish.Do(func() { close(s.items) })
}

// Messages implements engine.Submission.
func (s *ScriptedSubmission) Messages(ctx context.Context) iter.Seq2[ir.Message, error] {
	return func(yield func(ir.Message, error) bool) {
		for {
			select {
			case it, ok := <-s.items:
				if !ok {
					return
				}
				if !yield(it.msg, it.err) {
					return
				}
			case <-s.cancelCh:
				return
			case <-ctx.Done():
				yield(ir.Message{}, ctx.Err())
				return
			}
		}
	}
}

// Cancel implements engine.Submission.
func (s *ScriptedSubmission) Cancel(ctx context.Context) error {
	s.mu.Lock()
	s.canceled = true
	s.mu.Unlock()
	s.cancel.Do(func() { close(s.cancelCh) })
	return nil
}

// SendChunk implements engine.Submission.
func (s *ScriptedSubmission) SendChunk(data []any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("send chunk: stream closed")
	}
	if s.canceled {
		return fmt.Errorf("send chunk: submission for %d canceled", s.FnIndex)
	}
	s.chunks = append(s.chunks, append([]any(nil), data...))
	return nil
}

// CloseStream implements engine.Submission.
func (s *ScriptedSubmission) CloseStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Chunks returns the chunks sent so far.
func (s *ScriptedSubmission) Chunks() [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]any(nil), s.chunks...)
}

// Canceled reports whether Cancel was called.
func (s *ScriptedSubmission) Canceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

// StreamClosed reports whether CloseStream was called.
func (s *ScriptedSubmission) StreamClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Complete is a status message with stage "complete".
func Complete() ir.Message {
	return ir.Message{Type: ir.MessageStatus, Status: &ir.Status{Stage: ir.StageComplete}}
}

// Data is a data message carrying vals as set outputs.
func Data(vals ...any) ir.Message {
	return ir.Message{Type: ir.MessageData, Data: ir.Outputs(vals...)}
}

// Failure is a status message with stage "error".
func Failure(title, message string) ir.Message {
	return ir.Message{Type: ir.MessageStatus, Status: &ir.Status{Stage: ir.StageError, Title: title, Message: message}}
}

func copyIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
