package sandbox

import (
	"context"
	"time"
)

// ExecuteRequest represents a shell execution request
type ExecuteRequest struct {
	// Command is a full shell command line
	Command string `json:"command"`

	// WorkingDir is the directory the shell starts in
	WorkingDir string `json:"working_dir"`

	// Env is merged over the inherited environment
	Env map[string]string `json:"env"`

	// Timeout overrides the executor's default when positive
	Timeout time.Duration `json:"timeout"`
}

// ExecuteResult represents a finished command
type ExecuteResult struct {
	Stdout   []byte        `json:"stdout"`
	Stderr   []byte        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Executor runs shell commands.
type Executor interface {
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)
}
