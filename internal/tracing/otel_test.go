package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestOpenTelemetry(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, InitOpenTelemetry(Options{ServiceName: "nanobot-test", ServiceVersion: "0.1.0", Output: &out}))
	t.Cleanup(func() { _ = ShutdownOpenTelemetry(context.Background()) })

	t.Run("should ignore a second init", func(t *testing.T) {
		assert.NoError(t, InitOpenTelemetry(Options{ServiceName: "other"}))
	})

	t.Run("should seed the trace id from the span", func(t *testing.T) {
		ctx, span := StartSpan(context.Background(), "test", "agent.turn", attribute.String("channel", "cli"))
		span.End()

		assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))
	})

	t.Run("should keep an existing trace id", func(t *testing.T) {
		ctx, span := StartSpan(WithTraceID(context.Background(), "turn-1"), "test", "tool.exec")
		span.End()

		assert.Equal(t, "turn-1", GetTraceID(ctx))
	})

	t.Run("should export spans on shutdown", func(t *testing.T) {
		require.NoError(t, ShutdownOpenTelemetry(context.Background()))
		assert.Contains(t, out.String(), `"Name":"agent.turn"`)
		assert.Contains(t, out.String(), "nanobot-test")
		assert.NoError(t, ShutdownOpenTelemetry(context.Background()))
	})
}
