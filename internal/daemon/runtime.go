package daemon

import (
	"fmt"
	"time"

	"github.com/harun/nanobot/internal/config"
	"github.com/harun/nanobot/pkg/agent"
	"github.com/harun/nanobot/pkg/bus"
	"github.com/harun/nanobot/pkg/sandbox"
	"github.com/harun/nanobot/pkg/session"
	"github.com/harun/nanobot/pkg/tools"
)

// Runtime is the agent core shared by the gateway and the one-shot CLI commands.
type Runtime struct {
	Config   *config.Config
	Bus      *bus.MessageBus
	Sessions *session.Manager
	Context  *agent.ContextBuilder
	Loop     *agent.Loop
}

// NewRuntime wires the bus, session store, context builder and loop from cfg. A nil
// provider is resolved from the configured API keys.
func NewRuntime(cfg *config.Config, provider agent.LLMProvider) (*Runtime, error) {
	if provider == nil {
		p, err := agent.NewProviderFromConfig(cfg, cfg.Agents.Defaults.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create provider: %w", err)
		}
		provider = p
	}

	sessions, err := session.NewManager(cfg.SessionsDir())
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	builder, err := agent.NewContextBuilder(cfg.WorkspacePath(), "")
	if err != nil {
		return nil, fmt.Errorf("failed to create context builder: %w", err)
	}

	mb := bus.NewMessageBus()
	loop, err := agent.NewLoop(agent.LoopConfig{
		Bus:           mb,
		Provider:      provider,
		Sessions:      sessions,
		Context:       builder,
		Tools:         ToolOptions(cfg),
		Model:         cfg.Agents.Defaults.Model,
		MaxIterations: cfg.Agents.Defaults.MaxToolIterations,
		MaxTokens:     cfg.Agents.Defaults.MaxTokens,
		Temperature:   cfg.Agents.Defaults.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent loop: %w", err)
	}

	return &Runtime{
		Config:   cfg,
		Bus:      mb,
		Sessions: sessions,
		Context:  builder,
		Loop:     loop,
	}, nil
}

// ToolOptions maps the tools section of cfg onto the built-in tool set.
func ToolOptions(cfg *config.Config) agent.ToolOptions {
	exec := cfg.Tools.Exec
	return agent.ToolOptions{
		Workspace: cfg.WorkspacePath(),
		Exec: tools.ExecConfig{
			Timeout: time.Duration(exec.Timeout) * time.Second,
			Guard: sandbox.GuardConfig{
				DenyPatterns:        exec.DenyPatterns,
				AllowPatterns:       exec.AllowPatterns,
				RestrictToWorkspace: exec.RestrictToWorkspace,
			},
		},
		BraveAPIKey:      cfg.Tools.Web.Search.APIKey,
		SearchMaxResults: cfg.Tools.Web.Search.MaxResults,
		FetchMaxChars:    cfg.Tools.Web.Fetch.MaxChars,
	}
}

// Close stops background subagents.
func (r *Runtime) Close() {
	r.Loop.Close()
}
