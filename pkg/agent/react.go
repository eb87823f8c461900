package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harun/nanobot/internal/tracing"
	"github.com/harun/nanobot/pkg/tools"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// reactParams describes one reason-act exchange.
type reactParams struct {
	provider      LLMProvider
	registry      *tools.Registry
	context       *ContextBuilder
	model         string
	maxTokens     int
	temperature   float64
	maxIterations int
	retryDelay    time.Duration
	logger        zerolog.Logger
}

// reactResult is what the exchange produced.
type reactResult struct {
	content    string
	iterations int
	capped     bool
	messages   []Message
}

// react calls the model until it answers without tool calls or maxIterations is reached.
// Every tool call id in an assistant entry gets exactly one tool result before the next call.
func react(ctx context.Context, p reactParams, messages []Message) (reactResult, error) {
	var defs []map[string]any
	if p.registry != nil {
		defs = p.registry.Definitions()
	}

	for i := 1; i <= p.maxIterations; i++ {
		resp, err := callWithRetry(ctx, p, ChatRequest{
			Model:       p.model,
			Messages:    messages,
			Tools:       defs,
			MaxTokens:   p.maxTokens,
			Temperature: p.temperature,
		})
		if err != nil {
			return reactResult{iterations: i, messages: messages}, err
		}

		if !resp.HasToolCalls() {
			return reactResult{content: resp.Content, iterations: i, messages: messages}, nil
		}

		calls := assignCallIDs(resp.ToolCalls)
		messages = p.context.AddAssistantMessage(messages, resp.Content, calls)

		for _, call := range calls {
			result := executeTool(ctx, p, call)
			messages = p.context.AddToolResult(messages, call.ID, call.Name, result)
		}
	}

	return reactResult{iterations: p.maxIterations, capped: true, messages: messages}, nil
}

func executeTool(ctx context.Context, p reactParams, call ToolCall) string {
	if p.logger.GetLevel() <= zerolog.DebugLevel {
		args, _ := json.Marshal(call.Arguments)
		p.logger.Debug().Str("tool", call.Name).RawJSON("arguments", args).Msg("Executing tool")
	}
	if p.registry == nil {
		return fmt.Sprintf("Error: Tool '%s' not found", call.Name)
	}
	return p.registry.Execute(ctx, call.Name, call.Arguments)
}

// callWithRetry calls the provider with exponential backoff on transient errors.
func callWithRetry(ctx context.Context, p reactParams, req ChatRequest) (*LLMResponse, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.model_call",
		attribute.String("provider", p.provider.Provider()),
		attribute.String("model", req.Model),
	)
	defer span.End()

	delay := p.retryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}

	var lastErr error
	for attempt := 0; attempt < defaultMaxRetries; attempt++ {
		resp, err := p.provider.Chat(ctx, req)
		if err == nil {
			if resp == nil {
				resp = &LLMResponse{}
			}
			span.SetAttributes(attribute.Int("tool_calls", len(resp.ToolCalls)))
			return resp, nil
		}
		lastErr = err

		if !IsRetryableError(err) || attempt == defaultMaxRetries-1 {
			break
		}

		wait := delay * time.Duration(1<<attempt)
		p.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", wait).
			Err(err).
			Msg("Retrying after error")

		select {
		case <-ctx.Done():
			span.RecordError(ctx.Err())
			span.SetStatus(codes.Error, ctx.Err().Error())
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return nil, fmt.Errorf("failed to call model: %w", lastErr)
}

// assignCallIDs gives every call an id; some providers omit them.
func assignCallIDs(calls []ToolCall) []ToolCall {
	out := make([]ToolCall, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			id, err := gonanoid.New()
			if err != nil {
				id = fmt.Sprintf("%d_%d", time.Now().UnixNano(), i)
			}
			c.ID = "call_" + id
		}
		if c.Arguments == nil {
			c.Arguments = map[string]any{}
		}
		out[i] = c
	}
	return out
}
