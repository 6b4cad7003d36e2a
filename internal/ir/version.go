package ir

// Version constants for the declaration schema and engine.
const (
	// SchemaVersion is the declaration schema version.
	SchemaVersion = "1"

	// EngineVersion is the depflow engine version.
	EngineVersion = "0.1.0"
)
