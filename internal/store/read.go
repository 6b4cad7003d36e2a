package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/depflow/internal/ir"
	"github.com/roach88/depflow/internal/queryir"
	"github.com/roach88/depflow/internal/querysql"
)

// CallRecord is an API call read back from the log.
type CallRecord struct {
	ir.APICall
	PayloadHash string
}

// StatusRecord is a status update read back from the log.
type StatusRecord struct {
	Seq int64
	ir.StatusUpdate
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// ReadSession retrieves a single session by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, declarations_hash, schema_version, dependency_count
		FROM sessions
		WHERE id = ?
	`, id).Scan(&sess.ID, &sess.DeclarationsHash, &sess.SchemaVersion, &sess.DependencyCount)
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

// ReadSessions returns every session ordered by ID.
// Returns an empty slice (not nil) when the log is empty.
func (s *Store) ReadSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, declarations_hash, schema_version, dependency_count
		FROM sessions
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.DeclarationsHash, &sess.SchemaVersion, &sess.DependencyCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// ReadAPICalls returns every API call of a session ordered by seq.
// Returns an empty slice (not nil) if the session recorded none.
func (s *Store) ReadAPICalls(ctx context.Context, sessionID string) ([]CallRecord, error) {
	return s.FilterAPICalls(ctx, sessionID, nil)
}

// ReadAPICallsFor returns the API calls of one dependency ordered by seq.
func (s *Store) ReadAPICallsFor(ctx context.Context, sessionID string, fnIndex int) ([]CallRecord, error) {
	return s.FilterAPICalls(ctx, sessionID, queryir.Equals{Field: "fn_index", Value: fnIndex})
}

// FilterAPICalls returns the API calls of a session matching filter,
// ordered by seq. A nil filter matches every call.
func (s *Store) FilterAPICalls(ctx context.Context, sessionID string, filter queryir.Predicate) ([]CallRecord, error) {
	query, args, err := compileSessionQuery(queryir.TableAPICalls, sessionID, filter)
	if err != nil {
		return nil, err
	}
	return s.queryCalls(ctx, query, args...)
}

// CountByPayload returns how many calls of a session carried the given
// payload hash.
func (s *Store) CountByPayload(ctx context.Context, sessionID, payloadHash string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM api_calls
		WHERE session_id = ? AND payload_hash = ?
	`, sessionID, payloadHash).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count by payload: %w", err)
	}
	return n, nil
}

func (s *Store) queryCalls(ctx context.Context, query string, args ...any) ([]CallRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query api calls: %w", err)
	}
	defer rows.Close()

	calls := []CallRecord{}
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api calls: %w", err)
	}
	return calls, nil
}

// ReadStatus returns every status update of a session ordered by seq.
func (s *Store) ReadStatus(ctx context.Context, sessionID string) ([]StatusRecord, error) {
	return s.FilterStatus(ctx, sessionID, nil)
}

// FilterStatus returns the status updates of a session matching filter,
// ordered by seq. A nil filter matches every update.
func (s *Store) FilterStatus(ctx context.Context, sessionID string, filter queryir.Predicate) ([]StatusRecord, error) {
	query, args, err := compileSessionQuery(queryir.TableStatus, sessionID, filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query status: %w", err)
	}
	defer rows.Close()

	records := []StatusRecord{}
	for rows.Next() {
		rec, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status: %w", err)
	}
	return records, nil
}

// compileSessionQuery scopes filter to one session and compiles it.
func compileSessionQuery(table queryir.Table, sessionID string, filter queryir.Predicate) (string, []any, error) {
	c := querysql.NewSQLCompiler()
	c.BoundValues["bound.session"] = sessionID

	q := queryir.Select{
		From:   table,
		Filter: queryir.Where(queryir.BoundEquals{Field: "session_id", BoundVar: "bound.session"}, filter),
	}
	query, args, err := c.Compile(q)
	if err != nil {
		return "", nil, fmt.Errorf("compile %s filter: %w", table, err)
	}
	return query, args, nil
}

func scanCall(row scanner) (CallRecord, error) {
	var rec CallRecord
	var dataJSON, eventJSON string
	var trigger sql.NullInt64

	if err := row.Scan(
		&rec.Seq, &rec.InvokeID, &rec.FnIndex, &dataJSON, &eventJSON,
		&trigger, &rec.PayloadHash,
	); err != nil {
		return CallRecord{}, fmt.Errorf("scan api call: %w", err)
	}

	data, err := unmarshalData(dataJSON)
	if err != nil {
		return CallRecord{}, err
	}
	rec.Data = data

	eventData, err := unmarshalEventData(eventJSON)
	if err != nil {
		return CallRecord{}, err
	}
	rec.EventData = eventData

	if trigger.Valid {
		rec.TriggerID = ir.IntPtr(int(trigger.Int64))
	}
	return rec, nil
}

func scanStatus(row scanner) (StatusRecord, error) {
	var rec StatusRecord
	var stage string
	var position sql.NullInt64
	var eta sql.NullFloat64

	if err := row.Scan(
		&rec.Seq, &rec.FnIndex, &stage, &rec.Message, &rec.Queue, &position, &eta,
	); err != nil {
		return StatusRecord{}, fmt.Errorf("scan status: %w", err)
	}

	rec.Stage = ir.Stage(stage)
	if position.Valid {
		rec.Position = ir.IntPtr(int(position.Int64))
	}
	if eta.Valid {
		v := eta.Float64
		rec.Eta = &v
	}
	return rec, nil
}

// LastSeqs returns the highest call seq and status seq recorded for a
// session, or zero when it has none.
func (s *Store) LastSeqs(ctx context.Context, sessionID string) (calls, statuses int64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COALESCE(MAX(seq), 0) FROM api_calls WHERE session_id = ?),
			(SELECT COALESCE(MAX(seq), 0) FROM status_updates WHERE session_id = ?)
	`, sessionID, sessionID).Scan(&calls, &statuses)
	if err != nil {
		return 0, 0, fmt.Errorf("read last seqs: %w", err)
	}
	return calls, statuses, nil
}
