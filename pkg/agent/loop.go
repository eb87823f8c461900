package agent

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/harun/nanobot/internal/observability"
	"github.com/harun/nanobot/internal/tracing"
	"github.com/harun/nanobot/pkg/bus"
	"github.com/harun/nanobot/pkg/session"
	"github.com/harun/nanobot/pkg/tools"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "nanobot/agent"

// DefaultMaxIterations caps model calls per turn.
const DefaultMaxIterations = 20

// Replies used when the model gives nothing usable or the turn fails.
const (
	EmptyResponseFallback  = "I've completed processing but have no response to give."
	BackgroundTaskFallback = "Background task completed."
	ErrorReply             = "Sorry, I encountered an error while processing your message."
)

// DirectSessionKey is the session used by the CLI when none is given.
const DirectSessionKey = "cli:direct"

// LoopConfig wires a Loop.
type LoopConfig struct {
	Bus      *bus.MessageBus
	Provider LLMProvider
	Sessions *session.Manager
	Context  *ContextBuilder

	// Registry defaults to the built-in tools described by Tools.
	Registry *tools.Registry
	Tools    ToolOptions

	Model         string
	MaxIterations int
	MaxTokens     int
	Temperature   float64

	// PollInterval bounds each inbound wait so Stop is noticed. Defaults to bus.PollInterval.
	PollInterval time.Duration
	// RetryDelay overrides the provider retry backoff base.
	RetryDelay time.Duration
}

// Loop consumes inbound messages, runs the reason-act exchange and publishes replies.
// Turns run one at a time.
type Loop struct {
	bus       *bus.MessageBus
	provider  LLMProvider
	sessions  *session.Manager
	context   *ContextBuilder
	registry  *tools.Registry
	subagents *SubagentManager

	model         string
	maxIterations int
	maxTokens     int
	temperature   float64
	pollInterval  time.Duration
	retryDelay    time.Duration

	stopped atomic.Bool
	logger  zerolog.Logger
}

// NewLoop validates cfg and creates a loop. Without a registry, the built-in tools are
// registered with message wired to the bus and spawn wired to a SubagentManager.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	observability.EnsureRegistered()

	if cfg.Bus == nil {
		return nil, fmt.Errorf("message bus is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if cfg.Context == nil {
		return nil, fmt.Errorf("context builder is required")
	}

	model := cfg.Model
	if model == "" {
		model = cfg.Provider.DefaultModel()
	}
	if cfg.Tools.Workspace == "" {
		cfg.Tools.Workspace = cfg.Context.Workspace()
	}

	l := &Loop{
		bus:           cfg.Bus,
		provider:      cfg.Provider,
		sessions:      cfg.Sessions,
		context:       cfg.Context,
		registry:      cfg.Registry,
		model:         model,
		maxIterations: cfg.MaxIterations,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
		pollInterval:  cfg.PollInterval,
		retryDelay:    cfg.RetryDelay,
		logger:        log.With().Str("component", "agent").Logger(),
	}
	if l.maxIterations <= 0 {
		l.maxIterations = DefaultMaxIterations
	}
	if l.pollInterval <= 0 {
		l.pollInterval = bus.PollInterval
	}

	l.subagents = NewSubagentManager(SubagentConfig{
		Provider:    cfg.Provider,
		Bus:         cfg.Bus,
		Context:     cfg.Context,
		Tools:       cfg.Tools,
		Model:       model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		RetryDelay:  cfg.RetryDelay,
	})

	if l.registry == nil {
		reg, err := NewDefaultRegistry(cfg.Tools, l.publish, l.subagents)
		if err != nil {
			return nil, err
		}
		l.registry = reg
	}

	return l, nil
}

// Registry returns the loop's tools.
func (l *Loop) Registry() *tools.Registry {
	return l.registry
}

// Subagents returns the background task manager.
func (l *Loop) Subagents() *SubagentManager {
	return l.subagents
}

// Model is the model name sent with each request.
func (l *Loop) Model() string {
	return l.model
}

// Run processes inbound messages until Stop is called or ctx is done.
// A failed turn is logged and answered with ErrorReply; it never ends the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info().Str("model", l.model).Msg("Agent loop started")
	defer l.logger.Info().Msg("Agent loop stopped")

	for !l.stopped.Load() {
		if ctx.Err() != nil {
			return nil
		}

		pollCtx, cancel := context.WithTimeout(ctx, l.pollInterval)
		msg, err := l.bus.ConsumeInbound(pollCtx)
		cancel()
		if err != nil {
			continue
		}

		l.handle(ctx, msg)
	}
	return nil
}

// Stop asks Run to return after the current turn.
func (l *Loop) Stop() {
	l.stopped.Store(true)
	l.logger.Info().Msg("Agent loop stopping")
}

// Close stops the loop and every background subagent.
func (l *Loop) Close() {
	l.Stop()
	l.subagents.Close()
}

func (l *Loop) handle(ctx context.Context, msg bus.InboundMessage) {
	out, err := l.safeProcess(ctx, msg)
	if err != nil {
		channel, chatID := resolveTarget(msg)
		l.logger.Error().
			Err(err).
			Str("session_key", channel+":"+chatID).
			Str("sender_id", msg.SenderID).
			Msg("Error processing message")
		l.bus.PublishOutbound(bus.OutboundMessage{
			Channel: channel,
			ChatID:  chatID,
			Content: ErrorReply,
		})
		return
	}
	if out != nil {
		l.bus.PublishOutbound(*out)
	}
}

func (l *Loop) safeProcess(ctx context.Context, msg bus.InboundMessage) (out *bus.OutboundMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.ProcessMessage(ctx, msg)
}

// ProcessMessage runs one turn and returns the reply for the resolved destination.
// System messages carry their destination in ChatID as "channel:chat_id".
func (l *Loop) ProcessMessage(ctx context.Context, msg bus.InboundMessage) (*bus.OutboundMessage, error) {
	start := time.Now()
	isSystem := msg.Channel == bus.SystemChannel
	channel, chatID := resolveTarget(msg)
	key := channel + ":" + chatID

	ctx = tracing.NewTurnContext(ctx, "main", key)
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.turn",
		attribute.String("channel", channel),
		attribute.String("session_key", key),
		attribute.Bool("system", isSystem),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, l.logger)

	if isSystem {
		logger.Info().Str("sender_id", msg.SenderID).Msg("Processing system message")
	} else {
		logger.Info().Str("sender_id", msg.SenderID).Msg("Processing message")
	}

	sess := l.sessions.GetOrCreate(key)

	for _, t := range l.registry.Contextual() {
		t.SetContext(channel, chatID)
	}

	messages := l.context.BuildMessages(sess.GetHistory(session.DefaultHistoryLimit), msg.Content, msg.Media)

	res, err := react(ctx, reactParams{
		provider:      l.provider,
		registry:      l.registry,
		context:       l.context,
		model:         l.model,
		maxTokens:     l.maxTokens,
		temperature:   l.temperature,
		maxIterations: l.maxIterations,
		retryDelay:    l.retryDelay,
		logger:        logger,
	}, messages)
	if err != nil {
		logger.Error().Err(err).Int("iterations", res.iterations).Msg("Turn failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordAgentTurn(channel, time.Since(start), res.iterations, false)
		return nil, err
	}

	final := res.content
	if final == "" {
		kind := "empty"
		if res.capped {
			kind = "iteration_cap"
			logger.Warn().Int("max_iterations", l.maxIterations).Msg("Iteration limit reached")
		}
		observability.RecordAgentFallback(kind)
		final = EmptyResponseFallback
		if isSystem {
			final = BackgroundTaskFallback
		}
	}

	userTurn := msg.Content
	if isSystem {
		userTurn = fmt.Sprintf("[System: %s] %s", msg.SenderID, msg.Content)
	}
	sess.AddMessage(RoleUser, userTurn)
	sess.AddMessage(RoleAssistant, final)
	if err := l.sessions.Save(sess); err != nil {
		// The reply is still delivered; the turn is lost from history only.
		logger.Error().Err(err).Msg("Failed to save session")
	}

	span.SetAttributes(attribute.Int("iterations", res.iterations))
	observability.RecordAgentTurn(channel, time.Since(start), res.iterations, true)
	logger.Debug().
		Int("iterations", res.iterations).
		Dur("duration", time.Since(start)).
		Msg("Turn complete")

	return &bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: final,
	}, nil
}

// ProcessDirect runs one turn synchronously and returns the reply text.
// An empty sessionKey means DirectSessionKey.
func (l *Loop) ProcessDirect(ctx context.Context, content, sessionKey string) (string, error) {
	if sessionKey == "" {
		sessionKey = DirectSessionKey
	}
	channel, chatID := "cli", sessionKey
	if c, id, ok := strings.Cut(sessionKey, ":"); ok {
		channel, chatID = c, id
	}

	out, err := l.ProcessMessage(ctx, bus.InboundMessage{
		Channel:   channel,
		SenderID:  "user",
		ChatID:    chatID,
		Content:   content,
		Timestamp: time.Now(),
	})
	if err != nil {
		return "", err
	}
	return out.Content, nil
}

// publish is the message tool's delivery path.
func (l *Loop) publish(_ context.Context, msg bus.OutboundMessage) error {
	l.bus.PublishOutbound(msg)
	return nil
}

// resolveTarget returns where the reply goes. System messages name their origin in
// ChatID; without a ":" the origin channel is cli.
func resolveTarget(msg bus.InboundMessage) (channel, chatID string) {
	if msg.Channel != bus.SystemChannel {
		return msg.Channel, msg.ChatID
	}
	if c, id, ok := strings.Cut(msg.ChatID, ":"); ok {
		return c, id
	}
	return "cli", msg.ChatID
}
