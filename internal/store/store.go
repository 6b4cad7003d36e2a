package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotAuditLog is returned when a read-only open finds no audit tables.
var ErrNotAuditLog = errors.New("not a depflow audit log")

// migration upgrades a database whose user_version is below version.
type migration struct {
	version int
	name    string
	stmt    string
}

// migrations run in order inside one transaction each. The last version is
// the schema version new databases are stamped with.
var migrations = []migration{
	{
		version: 1,
		name:    "index api_calls by payload hash",
		stmt:    `CREATE INDEX IF NOT EXISTS idx_api_calls_payload ON api_calls(session_id, payload_hash)`,
	},
}

func currentSchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// Store is the SQLite audit log of dispatch sessions.
//
// A writable store allows one connection: the engine records calls from
// several goroutines and SQLite takes one writer at a time.
type Store struct {
	db       *sql.DB
	readOnly bool
}

type openConfig struct {
	readOnly    bool
	busyTimeout time.Duration
}

// OpenOption configures Open.
type OpenOption func(*openConfig)

// ReadOnly opens an existing audit log without creating or migrating it.
func ReadOnly() OpenOption {
	return func(c *openConfig) { c.readOnly = true }
}

// WithBusyTimeout sets how long a statement waits on a locked database.
// Default: 5s.
func WithBusyTimeout(d time.Duration) OpenOption {
	return func(c *openConfig) { c.busyTimeout = d }
}

// Open opens the audit log at path.
//
// A writable open creates the file if needed, enables WAL journaling,
// NORMAL sync and foreign keys, then applies the schema and any pending
// migrations. Opening the same file again is a no-op upgrade.
func Open(path string, opts ...OpenOption) (*Store, error) {
	cfg := openConfig{busyTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("sqlite3", dsn(path, cfg))
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}

	s := &Store{db: db, readOnly: cfg.readOnly}
	if cfg.readOnly {
		err = s.checkTables()
	} else {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		err = s.migrate()
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	return s, nil
}

// dsn builds a go-sqlite3 connection string; the driver applies the
// underscore parameters as pragmas on every new connection.
func dsn(path string, cfg openConfig) string {
	q := url.Values{}
	q.Set("_busy_timeout", strconv.FormatInt(cfg.busyTimeout.Milliseconds(), 10))
	q.Set("_foreign_keys", "on")
	if cfg.readOnly {
		q.Set("mode", "ro")
	} else {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	return "file:" + path + "?" + q.Encode()
}

// Close closes the database. Closing a zero Store is a no-op.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ReadOnly reports whether the store was opened with ReadOnly.
func (s *Store) ReadOnly() bool {
	return s.readOnly
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(m.stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		// PRAGMA does not take bound parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		version = m.version
	}
	return nil
}

func (s *Store) checkTables() error {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'table' AND name IN ('sessions', 'api_calls', 'status_updates')
	`).Scan(&n)
	if err != nil {
		return fmt.Errorf("inspect tables: %w", err)
	}
	if n != 3 {
		return ErrNotAuditLog
	}
	return nil
}

// pragma returns the current value of a pragma.
func (s *Store) pragma(name string) (string, error) {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return value, nil
}
