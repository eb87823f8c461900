package tools

import "errors"

var (
	// ErrEmptyToolName is returned when registering a tool without a name
	ErrEmptyToolName = errors.New("tool name cannot be empty")

	// ErrInvalidSchema is returned when a tool's parameter schema is not a valid JSON schema
	ErrInvalidSchema = errors.New("invalid tool schema")

	// ErrMissingParam is returned by tools that read a required parameter that is absent
	ErrMissingParam = errors.New("missing parameter")

	// ErrSpawnNotConfigured is returned when the spawn tool has no spawner
	ErrSpawnNotConfigured = errors.New("subagent spawning not configured")
)
