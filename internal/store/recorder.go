package store

import (
	"context"
	"log/slog"

	"github.com/roach88/depflow/internal/engine"
	"github.com/roach88/depflow/internal/ir"
)

// Recorder writes a Manager's outbound calls and status updates to the
// audit log.
//
// It implements engine.APIRecorder and engine.StatusTracker. Status calls
// are forwarded to an inner tracker (which may be nil) before being
// logged. Write failures are logged and never reach the Manager.
type Recorder struct {
	store   *Store
	session string
	next    engine.StatusTracker
	clock   *engine.Clock
}

// NewRecorder creates a recorder for a registered session.
func NewRecorder(s *Store, sessionID string, next engine.StatusTracker) *Recorder {
	return &Recorder{
		store:   s,
		session: sessionID,
		next:    next,
		clock:   engine.NewClock(),
	}
}

// ResumeRecorder creates a recorder that appends to a session already in
// the log. Its status clock continues after the last recorded update, and
// the returned clock, for engine.WithClock, continues after the last call.
func ResumeRecorder(ctx context.Context, s *Store, sessionID string, next engine.StatusTracker) (*Recorder, *engine.Clock, error) {
	calls, statuses, err := s.LastSeqs(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	r := NewRecorder(s, sessionID, next)
	r.clock = engine.NewClockAt(statuses)
	return r, engine.NewClockAt(calls), nil
}

// Session returns the session ID the recorder writes to.
func (r *Recorder) Session() string {
	return r.session
}

// RecordAPICall implements engine.APIRecorder.
func (r *Recorder) RecordAPICall(ctx context.Context, call ir.APICall) {
	if err := r.store.WriteAPICall(ctx, r.session, call); err != nil {
		slog.Error("audit log write failed",
			"session", r.session,
			"fn_index", call.FnIndex,
			"seq", call.Seq,
			"error", err,
		)
	}
}

// Register implements engine.StatusTracker.
func (r *Recorder) Register(depID int, inputs, outputs []int) {
	if r.next != nil {
		r.next.Register(depID, inputs, outputs)
	}
}

// Update implements engine.StatusTracker.
func (r *Recorder) Update(u ir.StatusUpdate) {
	if r.next != nil {
		r.next.Update(u)
	}
	seq := r.clock.Next()
	if err := r.store.WriteStatus(context.Background(), r.session, seq, u); err != nil {
		slog.Error("audit log write failed",
			"session", r.session,
			"fn_index", u.FnIndex,
			"seq", seq,
			"error", err,
		)
	}
}

// Clear implements engine.StatusTracker.
func (r *Recorder) Clear(componentIDs []int) {
	if r.next != nil {
		r.next.Clear(componentIDs)
	}
}

var (
	_ engine.APIRecorder   = (*Recorder)(nil)
	_ engine.StatusTracker = (*Recorder)(nil)
)
