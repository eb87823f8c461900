package agent

import (
	"fmt"

	"github.com/harun/nanobot/pkg/tools"
)

// ToolOptions configures the built-in tools.
type ToolOptions struct {
	Workspace        string
	Exec             tools.ExecConfig
	BraveAPIKey      string
	SearchMaxResults int
	FetchMaxChars    int
}

// registerWorkerTools registers the tools every agent gets: filesystem, exec and web.
func registerWorkerTools(reg *tools.Registry, opts ToolOptions) error {
	if opts.Exec.WorkingDir == "" {
		opts.Exec.WorkingDir = opts.Workspace
	}
	exec, err := tools.NewExecTool(opts.Exec)
	if err != nil {
		return fmt.Errorf("failed to create exec tool: %w", err)
	}

	for _, t := range []tools.Tool{
		tools.NewReadFileTool(opts.Workspace),
		tools.NewWriteFileTool(opts.Workspace),
		tools.NewEditFileTool(opts.Workspace),
		tools.NewListDirTool(opts.Workspace),
		exec,
		tools.NewWebSearchTool(opts.BraveAPIKey, opts.SearchMaxResults),
		tools.NewWebFetchTool(opts.FetchMaxChars),
	} {
		if err := reg.Register(t); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", t.Name(), err)
		}
	}
	return nil
}

// NewDefaultRegistry builds the main agent's registry: the worker tools plus message
// and spawn.
func NewDefaultRegistry(opts ToolOptions, send tools.SendFunc, spawner tools.Spawner) (*tools.Registry, error) {
	reg := tools.NewRegistry()
	if err := registerWorkerTools(reg, opts); err != nil {
		return nil, err
	}
	if err := reg.Register(tools.NewMessageTool(send)); err != nil {
		return nil, fmt.Errorf("failed to register tool message: %w", err)
	}
	if err := reg.Register(tools.NewSpawnTool(spawner)); err != nil {
		return nil, fmt.Errorf("failed to register tool spawn: %w", err)
	}
	return reg, nil
}
