package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harun/nanobot/internal/observability"
	"github.com/harun/nanobot/internal/tracing"
	"github.com/harun/nanobot/pkg/bus"
	"github.com/harun/nanobot/pkg/tools"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// SubagentMaxIterations caps each background task.
const SubagentMaxIterations = 15

const taskIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// SubagentConfig configures a SubagentManager.
type SubagentConfig struct {
	Provider    LLMProvider
	Bus         *bus.MessageBus
	Context     *ContextBuilder
	Tools       ToolOptions
	Model       string
	MaxTokens   int
	Temperature float64
	// RetryDelay overrides the provider retry backoff base.
	RetryDelay time.Duration
}

// SubagentManager runs background tasks and announces their results on the bus as
// system messages.
type SubagentManager struct {
	cfg    SubagentConfig
	logger zerolog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// NewSubagentManager creates a manager. It satisfies tools.Spawner.
func NewSubagentManager(cfg SubagentConfig) *SubagentManager {
	return &SubagentManager{
		cfg:     cfg,
		logger:  log.With().Str("component", "subagent").Logger(),
		running: make(map[string]context.CancelFunc),
	}
}

var _ tools.Spawner = (*SubagentManager)(nil)

// Spawn starts task in the background and returns an acknowledgement for the model.
func (m *SubagentManager) Spawn(ctx context.Context, task, label, originChannel, originChatID string) (string, error) {
	if m.cfg.Provider == nil || m.cfg.Bus == nil {
		return "", tools.ErrSpawnNotConfigured
	}

	id, err := gonanoid.Generate(taskIDAlphabet, 8)
	if err != nil {
		return "", fmt.Errorf("failed to generate task id: %w", err)
	}
	if label == "" {
		label = truncateLabel(task, 30)
	}
	if originChannel == "" {
		originChannel = "cli"
	}
	if originChatID == "" {
		originChatID = "direct"
	}

	// The task outlives the turn that spawned it, so only trace values are inherited.
	taskCtx, cancel := context.WithCancel(tracing.PropagateToSubAgent(ctx, "subagent:"+id))

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return "", ErrManagerClosed
	}
	m.running[id] = cancel
	observability.SetSubagentsRunning(len(m.running))
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer m.finish(id)
		m.run(taskCtx, id, task, label, originChannel, originChatID)
	}()

	m.logger.Info().Str("task_id", id).Str("label", label).Msg("Spawned subagent")
	return fmt.Sprintf("Subagent [%s] started (id: %s). I'll notify you when it completes.", label, id), nil
}

// RunningCount reports how many subagents are active.
func (m *SubagentManager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// Close cancels every running subagent and waits for them to exit.
func (m *SubagentManager) Close() {
	m.mu.Lock()
	m.closed = true
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *SubagentManager) finish(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.running[id]; ok {
		cancel()
		delete(m.running, id)
	}
	observability.SetSubagentsRunning(len(m.running))
}

func (m *SubagentManager) run(ctx context.Context, id, task, label, originChannel, originChatID string) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.subagent",
		attribute.String("task_id", id),
		attribute.String("label", label),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, m.logger)

	status := "completed successfully"
	result, err := m.execute(ctx, task, logger)
	if err != nil {
		if m.isClosed() {
			logger.Debug().Err(err).Msg("Subagent cancelled during shutdown")
			return
		}
		status = "failed"
		result = "Error: " + err.Error()
		span.RecordError(err)
		logger.Error().Err(err).Msg("Subagent failed")
	} else {
		logger.Info().Msg("Subagent completed")
	}

	m.cfg.Bus.PublishInbound(bus.InboundMessage{
		Channel:  bus.SystemChannel,
		SenderID: "subagent",
		ChatID:   originChannel + ":" + originChatID,
		Content: fmt.Sprintf("[Subagent '%s' %s]\n\nTask: %s\n\nResult:\n%s\n\n"+
			"Summarize this naturally for the user. Keep it brief (1-2 sentences). "+
			"Do not mention technical details like \"subagent\" or task IDs.",
			label, status, task, result),
	})
}

func (m *SubagentManager) execute(ctx context.Context, task string, logger zerolog.Logger) (string, error) {
	reg := tools.NewRegistry()
	if err := registerWorkerTools(reg, m.cfg.Tools); err != nil {
		return "", err
	}

	messages := []Message{
		{Role: RoleSystem, Content: subagentPrompt(task, m.cfg.Tools.Workspace)},
		{Role: RoleUser, Content: task},
	}

	model := m.cfg.Model
	if model == "" {
		model = m.cfg.Provider.DefaultModel()
	}

	res, err := react(ctx, reactParams{
		provider:      m.cfg.Provider,
		registry:      reg,
		context:       m.cfg.Context,
		model:         model,
		maxTokens:     m.cfg.MaxTokens,
		temperature:   m.cfg.Temperature,
		maxIterations: SubagentMaxIterations,
		retryDelay:    m.cfg.RetryDelay,
		logger:        logger,
	}, messages)
	if err != nil {
		return "", err
	}
	if res.content == "" {
		return "Task completed but no final response was generated.", nil
	}
	return res.content, nil
}

func (m *SubagentManager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func subagentPrompt(task, workspace string) string {
	return fmt.Sprintf(`# Subagent

You are a subagent spawned by the main agent to complete a specific task.

## Your Task
%s

## Rules
1. Stay focused - complete only the assigned task, nothing else
2. Your final response will be reported back to the main agent
3. Do not initiate conversations or take on side tasks
4. Be concise but informative in your findings

## What You Cannot Do
- Send messages directly to users (no message tool available)
- Spawn other subagents

## Workspace
Your workspace is at: %s

When you have completed the task, provide a clear summary of your findings or actions.`, task, workspace)
}

func truncateLabel(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
