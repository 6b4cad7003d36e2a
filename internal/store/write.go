package store

import (
	"context"
	"fmt"

	"github.com/roach88/depflow/internal/ir"
)

// Session describes one Manager lifetime in the audit log.
type Session struct {
	ID               string
	DeclarationsHash string
	SchemaVersion    string
	DependencyCount  int
}

// WriteSession registers a session. Writing the same session twice is a
// no-op.
func (s *Store) WriteSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, declarations_hash, schema_version, dependency_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		sess.ID,
		sess.DeclarationsHash,
		sess.SchemaVersion,
		sess.DependencyCount,
	)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// WriteAPICall appends one outbound call to the session log.
// Uses ON CONFLICT DO NOTHING so a replayed write of the same seq is ignored.
//
// Data and EventData are serialized to canonical JSON per RFC 8785 and
// fingerprinted with ir.PayloadHash.
func (s *Store) WriteAPICall(ctx context.Context, sessionID string, call ir.APICall) error {
	dataJSON, err := marshalPayload(call.Data)
	if err != nil {
		return fmt.Errorf("write api call: %w", err)
	}
	eventJSON, err := marshalPayload(call.EventData)
	if err != nil {
		return fmt.Errorf("write api call: %w", err)
	}
	hash, err := ir.PayloadHash(call.FnIndex, call.Data, call.EventData)
	if err != nil {
		return fmt.Errorf("write api call: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_calls
		(session_id, seq, invocation_id, fn_index, data, event_data, trigger_id, payload_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		sessionID,
		call.Seq,
		call.InvokeID,
		call.FnIndex,
		dataJSON,
		eventJSON,
		nullableInt(call.TriggerID),
		hash,
	)
	if err != nil {
		return fmt.Errorf("write api call: %w", err)
	}
	return nil
}

// WriteStatus appends one status update to the session log.
func (s *Store) WriteStatus(ctx context.Context, sessionID string, seq int64, u ir.StatusUpdate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO status_updates
		(session_id, seq, fn_index, stage, message, queue, position, eta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		sessionID,
		seq,
		u.FnIndex,
		string(u.Stage),
		u.Message,
		u.Queue,
		nullableInt(u.Position),
		nullableFloat(u.Eta),
	)
	if err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
