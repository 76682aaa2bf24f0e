package event

// Version constants for the event schema and engine.
const (
	// SchemaVersion is the event schema version carried in Context.
	SchemaVersion = "1"

	// EngineVersion is the cairn engine version.
	EngineVersion = "0.1.0"
)
