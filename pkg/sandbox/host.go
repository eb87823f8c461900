package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds a command when neither the request nor the sandbox sets one.
const DefaultTimeout = 60 * time.Second

// waitDelay bounds how long Wait keeps reading pipes after the process group is killed.
const waitDelay = 2 * time.Second

// HostSandbox runs commands directly on the host through the system shell.
type HostSandbox struct {
	timeout time.Duration
}

// NewHostSandbox creates a host executor with the given default timeout.
func NewHostSandbox(timeout time.Duration) *HostSandbox {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HostSandbox{timeout: timeout}
}

// Timeout returns the default timeout
func (h *HostSandbox) Timeout() time.Duration {
	return h.timeout
}

// Execute runs req.Command and waits for it. A non-zero exit is reported in
// the result, not as an error. Exceeding the timeout kills the process group
// and returns ErrExecutionTimeout.
func (h *HostSandbox) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	if strings.TrimSpace(req.Command) == "" {
		return ExecuteResult{}, ErrEmptyCommand
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = h.timeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := shellCommand(execCtx, req.Command)
	cmd.Dir = req.WorkingDir
	cmd.Env = buildEnvironment(req.Env)
	cmd.WaitDelay = waitDelay
	configureProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := ExecuteResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: duration,
	}

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		result.ExitCode = -1
		log.Warn().
			Str("working_dir", req.WorkingDir).
			Dur("timeout", timeout).
			Msg("Command timed out and was killed")
		return result, ErrExecutionTimeout
	}
	if ctx.Err() != nil {
		return result, fmt.Errorf("command cancelled: %w", ctx.Err())
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return result, fmt.Errorf("failed to run command: %w", err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	log.Debug().
		Str("working_dir", req.WorkingDir).
		Int("exit_code", result.ExitCode).
		Dur("duration", duration).
		Msg("Command executed")

	return result, nil
}

func buildEnvironment(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
