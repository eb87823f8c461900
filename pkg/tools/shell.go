package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/harun/nanobot/internal/observability"
	"github.com/harun/nanobot/internal/tracing"
	"github.com/harun/nanobot/pkg/sandbox"
	"github.com/rs/zerolog/log"
)

// MaxExecOutput is the character ceiling for exec results.
const MaxExecOutput = 10000

// ExecConfig configures the exec tool.
type ExecConfig struct {
	Timeout    time.Duration
	WorkingDir string
	Guard      sandbox.GuardConfig
}

// ExecTool runs shell commands behind the safety guard.
type ExecTool struct {
	guard      *sandbox.Guard
	executor   sandbox.Executor
	timeout    time.Duration
	workingDir string
}

// NewExecTool creates exec with a host executor.
func NewExecTool(cfg ExecConfig) (*ExecTool, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = sandbox.DefaultTimeout
	}
	return NewExecToolWithExecutor(cfg, sandbox.NewHostSandbox(cfg.Timeout))
}

// NewExecToolWithExecutor creates exec on top of a custom executor.
func NewExecToolWithExecutor(cfg ExecConfig, executor sandbox.Executor) (*ExecTool, error) {
	guard, err := sandbox.NewGuard(cfg.Guard)
	if err != nil {
		return nil, fmt.Errorf("failed to create command guard: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = sandbox.DefaultTimeout
	}

	return &ExecTool{
		guard:      guard,
		executor:   executor,
		timeout:    cfg.Timeout,
		workingDir: cfg.WorkingDir,
	}, nil
}

func (t *ExecTool) Name() string { return "exec" }

func (t *ExecTool) Description() string {
	return "Execute a shell command and return its output. Use with caution."
}

func (t *ExecTool) Parameters() *Schema {
	return Object(map[string]*Schema{
		"command":     String("The shell command to execute"),
		"working_dir": String("Optional working directory for the command"),
	}, "command")
}

func (t *ExecTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	command, err := requireString(params, "command")
	if err != nil {
		return "", err
	}

	cwd := stringParam(params, "working_dir")
	if cwd == "" {
		cwd = t.workingDir
	}
	if cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		}
	}
	cwd = expandPath(cwd, "")

	if err := t.guard.Check(command, cwd); err != nil {
		var blocked *sandbox.BlockedError
		if errors.As(err, &blocked) {
			observability.RecordGuardBlock(blocked.Label)
		}
		observability.RecordSecurityAudit(ctx, "exec_blocked", tracing.GetSessionKey(ctx), "blocked", map[string]any{
			"reason": err.Error(),
		})
		log.Warn().Str("working_dir", cwd).Err(err).Msg("Command blocked by safety guard")
		return sandbox.BlockMessage(err), nil
	}

	res, err := t.executor.Execute(ctx, sandbox.ExecuteRequest{
		Command:    command,
		WorkingDir: cwd,
		Timeout:    t.timeout,
	})
	if err != nil {
		if errors.Is(err, sandbox.ErrExecutionTimeout) {
			return fmt.Sprintf("Error: Command timed out after %d seconds", int(t.timeout.Seconds())), nil
		}
		return fmt.Sprintf("Error executing command: %v", err), nil
	}

	return formatExecOutput(res), nil
}

func formatExecOutput(res sandbox.ExecuteResult) string {
	var parts []string
	if len(res.Stdout) > 0 {
		parts = append(parts, string(res.Stdout))
	}
	if stderr := string(res.Stderr); strings.TrimSpace(stderr) != "" {
		parts = append(parts, "STDERR:\n"+stderr)
	}
	if res.ExitCode != 0 {
		parts = append(parts, fmt.Sprintf("\nExit code: %d", res.ExitCode))
	}

	out := strings.Join(parts, "\n")
	if out == "" {
		out = "(no output)"
	}
	return truncateRunes(out, MaxExecOutput)
}

func truncateRunes(s string, max int) string {
	n := utf8.RuneCountInString(s)
	if n <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + fmt.Sprintf("\n... (truncated, %d more chars)", n-max)
}
