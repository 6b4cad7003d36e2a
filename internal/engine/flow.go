package engine

import "github.com/google/uuid"

// InvocationIDGenerator names individual runs of a dependency. Tests use
// testutil.SequentialIDs for stable ids.
type InvocationIDGenerator interface {
	Generate() string
}

// UUIDv7Generator is the default generator. UUIDv7 ids sort by creation
// time, so invocation_id order in the audit log follows dispatch order.
type UUIDv7Generator struct{}

// Generate panics only if the system random source fails.
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
