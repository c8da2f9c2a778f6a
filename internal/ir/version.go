package ir

// Version constants for the rule schema and engine.
const (
	// SchemaVersion is the rule document schema version.
	SchemaVersion = "1"

	// EngineVersion is the finrules engine version.
	EngineVersion = "0.1.0"
)

// Priority bounds for a rule. Lower values run first.
const (
	MinPriority     = 1
	MaxPriority     = 1000
	DefaultPriority = 100
)
