//go:build windows

package sandbox

import (
	"context"
	"os/exec"
)

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	return exec.CommandContext(ctx, "cmd", "/C", command)
}

func configureProcessGroup(cmd *exec.Cmd) {}
