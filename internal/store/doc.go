// Package store provides a SQLite-backed audit log of dependency runtime
// sessions.
//
// A session is one Manager lifetime. The log keeps, per session:
//   - API calls: every outbound backend call, with its payload and a
//     content hash of it (see ir.PayloadHash)
//   - Status updates: every loading-status update pushed for a dependency
//
// # Ordering
//
// Rows are keyed by (session_id, seq) where seq comes from a logical
// clock, never wall time. All reads are ORDER BY seq ASC so traces read
// back identically across runs.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Payload columns hold RFC 8785 canonical JSON produced by
// ir.MarshalCanonical.
package store
