package engine

import (
	"context"
	"iter"
	"log/slog"

	"github.com/roach88/depflow/internal/ir"
)

// Client submits backend calls.
type Client interface {
	// Submit starts a backend call for fnIndex. The returned submission is
	// not yet consumed; the manager iterates it.
	Submit(ctx context.Context, fnIndex int, data []any, eventData any, targetID *int) (Submission, error)
}

// Registrar is implemented by clients that need the declarations of
// dependencies a re-render introduces, such as their connection type.
type Registrar interface {
	Register(decls ...ir.Declaration)
}

// Submission is a handle to an in-flight backend call.
type Submission interface {
	// Messages yields stream items until the call ends. Breaking out of the
	// range stops consumption but does not cancel the call.
	Messages(ctx context.Context) iter.Seq2[ir.Message, error]

	// Cancel is best-effort: items already in flight may still be yielded.
	Cancel(ctx context.Context) error

	// SendChunk pushes more input on a stream connection.
	SendChunk(data []any) error

	// CloseStream ends the input side of a stream connection.
	CloseStream()
}

// StateStore holds per-component state.
type StateStore interface {
	// Get returns the component state, or nil when the component has none.
	Get(ctx context.Context, id int) (map[string]any, error)

	// Update merges patch into the component state. visibility marks a
	// patch that only carries the "visible" key.
	Update(ctx context.Context, id int, patch map[string]any, visibility bool) error
}

// StatusTracker drives loading indicators.
type StatusTracker interface {
	Register(depID int, inputs, outputs []int)
	Update(u ir.StatusUpdate)
	Clear(componentIDs []int)
}

// Notifier surfaces user facing messages (toasts).
type Notifier interface {
	Notify(msg ir.LogMessage)
}

// Renderer is told about partial re-renders before dependencies are
// re-registered.
type Renderer interface {
	Rerender(components []any, layout any)
}

// APIRecorder receives one record per outbound call.
type APIRecorder interface {
	RecordAPICall(ctx context.Context, call ir.APICall)
}

// SlogNotifier forwards notifications to slog.
type SlogNotifier struct{}

// Notify implements Notifier.
func (SlogNotifier) Notify(msg ir.LogMessage) {
	level := slog.LevelInfo
	switch msg.Level {
	case ir.LevelError:
		level = slog.LevelError
	case ir.LevelWarning:
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, msg.Message,
		"title", msg.Title,
		"fn_index", msg.FnIndex,
		"visible", msg.Visible,
	)
}

type nopTracker struct{}

func (nopTracker) Register(int, []int, []int) {}
func (nopTracker) Update(ir.StatusUpdate)     {}
func (nopTracker) Clear([]int)                {}

type nopRenderer struct{}

func (nopRenderer) Rerender([]any, any) {}

type nopRecorder struct{}

func (nopRecorder) RecordAPICall(context.Context, ir.APICall) {}
