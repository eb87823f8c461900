package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/harun/nanobot/pkg/bus"
	"github.com/harun/nanobot/pkg/session"
	"github.com/harun/nanobot/pkg/tools"
	"github.com/stretchr/testify/require"
)

// scriptedProvider replays step for each call, in order. The last step repeats.
type scriptedProvider struct {
	mu       sync.Mutex
	steps    []func(req ChatRequest) (*LLMResponse, error)
	requests []ChatRequest
}

func script(steps ...func(req ChatRequest) (*LLMResponse, error)) *scriptedProvider {
	return &scriptedProvider{steps: steps}
}

func reply(content string) func(ChatRequest) (*LLMResponse, error) {
	return func(ChatRequest) (*LLMResponse, error) {
		return &LLMResponse{Content: content}, nil
	}
}

func callTool(id, name string, args map[string]any) func(ChatRequest) (*LLMResponse, error) {
	return func(ChatRequest) (*LLMResponse, error) {
		return &LLMResponse{ToolCalls: []ToolCall{{ID: id, Name: name, Arguments: args}}}, nil
	}
}

func fail(err error) func(ChatRequest) (*LLMResponse, error) {
	return func(ChatRequest) (*LLMResponse, error) {
		return nil, err
	}
}

func (p *scriptedProvider) Chat(ctx context.Context, req ChatRequest) (*LLMResponse, error) {
	p.mu.Lock()
	n := len(p.requests)
	req.Messages = append([]Message(nil), req.Messages...)
	p.requests = append(p.requests, req)
	step := p.steps[min(n, len(p.steps)-1)]
	p.mu.Unlock()
	return step(req)
}

func (p *scriptedProvider) DefaultModel() string { return "scripted-model" }
func (p *scriptedProvider) Provider() string     { return "scripted" }

func (p *scriptedProvider) calls() []ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ChatRequest(nil), p.requests...)
}

type fixture struct {
	bus       *bus.MessageBus
	sessions  *session.Manager
	builder   *ContextBuilder
	registry  *tools.Registry
	workspace string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	workspace := t.TempDir()

	sessions, err := session.NewManager(t.TempDir())
	require.NoError(t, err)
	builder, err := NewContextBuilder(workspace, "")
	require.NoError(t, err)

	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.NewListDirTool(workspace)))

	return &fixture{
		bus:       bus.NewMessageBus(),
		sessions:  sessions,
		builder:   builder,
		registry:  reg,
		workspace: workspace,
	}
}

func (f *fixture) loop(t *testing.T, provider LLMProvider, maxIterations int) *Loop {
	t.Helper()
	l, err := NewLoop(LoopConfig{
		Bus:           f.bus,
		Provider:      provider,
		Sessions:      f.sessions,
		Context:       f.builder,
		Registry:      f.registry,
		MaxIterations: maxIterations,
		PollInterval:  20 * time.Millisecond,
		RetryDelay:    time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}
