package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey correlates every log line and span of one turn.
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey identifies a single loop run (a turn or a subagent task).
	RunIDKey ContextKey = "run_id"
	// AgentIDKey names the agent doing the work: "main" or a subagent task id.
	AgentIDKey ContextKey = "agent_id"
	// SessionKeyKey carries the conversation identity (channel:chat_id).
	SessionKeyKey ContextKey = "session_key"
)

// TraceContext is every correlation value a context can carry.
type TraceContext struct {
	TraceID    string
	RunID      string
	AgentID    string
	SessionKey string
}

// NewTraceID returns a random trace id.
func NewTraceID() string {
	return uuid.NewString()
}

// NewRunID returns a random run id.
func NewRunID() string {
	return uuid.NewString()
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, AgentIDKey, agentID)
}

func WithSessionKey(ctx context.Context, sessionKey string) context.Context {
	return context.WithValue(ctx, SessionKeyKey, sessionKey)
}

func GetTraceID(ctx context.Context) string    { return stringValue(ctx, TraceIDKey) }
func GetRunID(ctx context.Context) string      { return stringValue(ctx, RunIDKey) }
func GetAgentID(ctx context.Context) string    { return stringValue(ctx, AgentIDKey) }
func GetSessionKey(ctx context.Context) string { return stringValue(ctx, SessionKeyKey) }

func stringValue(ctx context.Context, key ContextKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// FromContext collects the correlation values of ctx.
func FromContext(ctx context.Context) TraceContext {
	return TraceContext{
		TraceID:    GetTraceID(ctx),
		RunID:      GetRunID(ctx),
		AgentID:    GetAgentID(ctx),
		SessionKey: GetSessionKey(ctx),
	}
}

// NewTurnContext starts a fresh trace for one agent turn.
func NewTurnContext(ctx context.Context, agentID, sessionKey string) context.Context {
	ctx = WithTraceID(ctx, NewTraceID())
	ctx = WithRunID(ctx, NewRunID())
	ctx = WithAgentID(ctx, agentID)
	return WithSessionKey(ctx, sessionKey)
}
