package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToSubAgent keeps the parent's trace and session but gives the subagent its own run.
// The returned context is detached from the parent's cancellation.
func PropagateToSubAgent(ctx context.Context, subAgentID string) context.Context {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = NewTraceID()
	}

	newCtx := WithTraceID(context.Background(), traceID)
	newCtx = WithRunID(newCtx, NewRunID())
	newCtx = WithAgentID(newCtx, subAgentID)

	if sessionKey := GetSessionKey(ctx); sessionKey != "" {
		newCtx = WithSessionKey(newCtx, sessionKey)
	}

	return newCtx
}

// LoggerFromContext returns baseLogger enriched with whatever tracing fields ctx carries.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	lc := baseLogger.With()

	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.RunID != "" {
		lc = lc.Str("run_id", tc.RunID)
	}
	if tc.AgentID != "" {
		lc = lc.Str("agent_id", tc.AgentID)
	}
	if tc.SessionKey != "" {
		lc = lc.Str("session_key", tc.SessionKey)
	}

	return lc.Logger()
}
