package ir

const (
	// TraceVersion is the schema version of recorded trace entries.
	TraceVersion = "1"

	// EngineVersion is the engine release recorded alongside traces.
	EngineVersion = "0.1.0"
)
