package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/depflow/internal/ir"
)

// createTestStore creates a new on-disk store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestSession registers a session with minimal required fields.
func createTestSession(t *testing.T, s *Store, id string) {
	t.Helper()
	err := s.WriteSession(context.Background(), Session{
		ID:               id,
		DeclarationsHash: "test-hash",
		SchemaVersion:    ir.SchemaVersion,
		DependencyCount:  1,
	})
	if err != nil {
		t.Fatalf("WriteSession() failed: %v", err)
	}
}

// createTestCall creates a test API call with minimal required fields.
func createTestCall(fnIndex int, seq int64, data ...any) ir.APICall {
	return ir.APICall{
		FnIndex:  fnIndex,
		Data:     data,
		Seq:      seq,
		InvokeID: "inv-1",
	}
}
