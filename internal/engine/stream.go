package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/depflow/internal/ir"
)

// consume iterates a submission until it ends, fails, or a render message
// supersedes it.
//
// Data messages are applied as they arrive. A "complete" status fires the
// success and all triggers, releases the invocation slot, restores event
// args and replays a deferred dispatch right away. The transport may still
// deliver data after that: it is applied, later statuses are ignored and a
// transport error only ends the read. A render message re-registers
// dependencies and ends consumption without firing all triggers. A canceled
// invocation stops reading, restores event args and replays a deferred
// dispatch; its triggers do not fire.
func (m *Manager) consume(ctx context.Context, r *run, sub Submission) {
	id := r.dep.ID()
	first := true
	completed := false
	rendered := false

loop:
	for msg, err := range sub.Messages(ctx) {
		if m.isCanceled(r.inv) {
			slog.Debug("stream abandoned: invocation canceled",
				"dependency", id,
				"invocation", r.inv.id,
			)
			r.restore(ctx)
			m.replayDeferred(id, r.quota)
			return
		}
		if err != nil {
			if completed {
				slog.Debug("read after complete failed", "dependency", id, "error", err)
				return
			}
			m.fail(ctx, r, err)
			return
		}

		if first {
			first = false
			m.clearValidation(ctx, r.dep.Inputs())
		}

		switch msg.Type {
		case ir.MessageData:
			if err := m.ApplyOutputs(ctx, r.dep.Outputs(), msg.Data); err != nil {
				if completed {
					slog.Warn("apply trailing data failed", "dependency", id, "error", err)
					continue
				}
				m.fail(ctx, r, err)
				return
			}

		case ir.MessageStatus:
			st := msg.Status
			if st == nil || completed {
				continue
			}
			switch st.Stage {
			case ir.StageComplete:
				m.closeStream(r.inv)
				success, _, all := m.triggersOf(r.dep)
				m.fire(success, r.targetID, r.quota)
				if m.markAllFired(r.inv) {
					m.fire(all, r.targetID, r.quota)
				}
				m.dispatchChanged(st.ChangedStateIDs, r.quota)
				m.status.Update(statusUpdate(id, st))
				completed = true
				r.restore(ctx)
				m.release(r.inv)
				m.replayDeferred(id, r.quota)

			case ir.StageGenerating:
				m.dispatchChanged(st.ChangedStateIDs, r.quota)
				m.status.Update(statusUpdate(id, st))

			case ir.StageError:
				if len(st.ValidationErrors) > 0 {
					m.rejectInputs(ctx, r, st.ValidationErrors)
					return
				}
				title := st.Title
				if title == "" {
					title = "Error"
				}
				m.notifier.Notify(ir.LogMessage{
					Title:   title,
					Message: st.Message,
					FnIndex: id,
					Level:   ir.LevelError,
					Visible: true,
				})
				m.fail(ctx, r, NewExecutionError(id, title, st.Message))
				return

			default:
				m.status.Update(statusUpdate(id, st))
			}

		case ir.MessageRender:
			if msg.Render == nil || completed {
				continue
			}
			if err := m.applyRender(*msg.Render); err != nil {
				m.notifier.Notify(ir.LogMessage{
					Title:   "Render failed",
					Message: err.Error(),
					FnIndex: id,
					Level:   ir.LevelError,
					Visible: true,
				})
				m.fail(ctx, r, err)
				return
			}
			rendered = true
			break loop

		case ir.MessageLog:
			if msg.Log == nil {
				continue
			}
			entry := *msg.Log
			entry.FnIndex = id
			m.notifier.Notify(entry)

		default:
			// Empty items carry nothing.
		}
	}

	if completed {
		slog.Debug("submission finished", "dependency", id, "invocation", r.inv.id)
		return
	}
	if m.isCanceled(r.inv) {
		r.restore(ctx)
		m.replayDeferred(id, r.quota)
		return
	}

	if !rendered && m.markAllFired(r.inv) {
		_, _, all := m.triggersOf(r.dep)
		m.fire(all, r.targetID, r.quota)
	}
	r.restore(ctx)
	m.release(r.inv)
	m.replayDeferred(id, r.quota)

	slog.Debug("submission finished",
		"dependency", id,
		"invocation", r.inv.id,
		"rendered", rendered,
	)
}

func (m *Manager) closeStream(inv *invocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv.stream != streamNone {
		inv.stream = streamClosed
	}
}

// dispatchChanged dispatches a "change" event on every component the
// backend reported as changed.
func (m *Manager) dispatchChanged(ids []int, quota *QuotaEnforcer) {
	for _, id := range ids {
		if err := m.enqueueChained(ir.UIEvent("change", id, nil), quota); IsQuotaError(err) {
			return
		}
	}
}

func statusUpdate(fnIndex int, st *ir.Status) ir.StatusUpdate {
	return ir.StatusUpdate{
		FnIndex:  fnIndex,
		Stage:    st.Stage,
		Message:  st.Message,
		Queue:    st.Queue,
		Position: st.Position,
		Eta:      st.Eta,
		Progress: st.Progress,
	}
}
