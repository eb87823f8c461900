package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name   string
	schema *Schema
	run    func(ctx context.Context, params map[string]any) (string, error)
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub " + s.name }
func (s *stubTool) Parameters() *Schema {
	if s.schema != nil {
		return s.schema
	}
	return Object(map[string]*Schema{"text": String("text")}, "text")
}
func (s *stubTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	if s.run != nil {
		return s.run(ctx, params)
	}
	return "echo: " + stringParam(params, "text"), nil
}

type customValidated struct{ stubTool }

func (c *customValidated) Validate(params map[string]any) []string {
	return []string{"always wrong"}
}

func TestRegistry_RegisterAndList(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Register(&stubTool{name: "b"}))
	require.NoError(t, reg.Register(&stubTool{name: "a"}))
	require.NoError(t, reg.Register(&stubTool{name: "c"}))

	assert.Equal(t, []string{"b", "a", "c"}, reg.List())
	assert.Equal(t, 3, reg.Len())
	assert.True(t, reg.Has("a"))

	t.Run("should replace in place", func(t *testing.T) {
		require.NoError(t, reg.Register(&stubTool{name: "a"}))
		assert.Equal(t, []string{"b", "a", "c"}, reg.List())
	})

	t.Run("should unregister", func(t *testing.T) {
		reg.Unregister("a")
		reg.Unregister("missing")
		assert.Equal(t, []string{"b", "c"}, reg.List())
		assert.Nil(t, reg.Get("a"))
	})

	t.Run("should reject empty name", func(t *testing.T) {
		assert.ErrorIs(t, reg.Register(&stubTool{name: ""}), ErrEmptyToolName)
	})

	t.Run("should reject malformed schema", func(t *testing.T) {
		err := reg.Register(&stubTool{name: "bad", schema: Object(map[string]*Schema{"x": {Type: "strng"}})})
		assert.ErrorIs(t, err, ErrInvalidSchema)
	})
}

func TestRegistry_Definitions(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubTool{name: "echo"}))

	defs := reg.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "function", defs[0]["type"])

	fn := defs[0]["function"].(map[string]any)
	assert.Equal(t, "echo", fn["name"])
	assert.Equal(t, "stub echo", fn["description"])
	assert.Equal(t, "object", fn["parameters"].(map[string]any)["type"])
}

func TestRegistry_Execute(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	require.NoError(t, reg.Register(&stubTool{name: "echo"}))
	require.NoError(t, reg.Register(&stubTool{name: "fails", run: func(ctx context.Context, params map[string]any) (string, error) {
		return "", errors.New("disk full")
	}}))
	require.NoError(t, reg.Register(&stubTool{name: "panics", run: func(ctx context.Context, params map[string]any) (string, error) {
		panic("kaboom")
	}}))
	require.NoError(t, reg.Register(&customValidated{stubTool{name: "custom"}}))

	t.Run("should run tool", func(t *testing.T) {
		assert.Equal(t, "echo: hi", reg.Execute(ctx, "echo", map[string]any{"text": "hi"}))
	})

	t.Run("should report unknown tool", func(t *testing.T) {
		assert.Equal(t, "Error: Tool 'nope' not found", reg.Execute(ctx, "nope", nil))
	})

	t.Run("should report invalid params", func(t *testing.T) {
		out := reg.Execute(ctx, "echo", map[string]any{"text": 5})
		assert.Equal(t, "Error: Invalid parameters for tool 'echo': text should be string", out)
	})

	t.Run("should validate with the schema compiled at registration", func(t *testing.T) {
		out := reg.Execute(ctx, "echo", map[string]any{})
		assert.Equal(t, "Error: Invalid parameters for tool 'echo': missing required text", out)
	})

	t.Run("should drop the compiled schema on unregister", func(t *testing.T) {
		tmp := NewRegistry()
		require.NoError(t, tmp.Register(&stubTool{name: "echo"}))
		tmp.Unregister("echo")
		assert.Empty(t, tmp.schemas)
	})

	t.Run("should convert errors to text", func(t *testing.T) {
		assert.Equal(t, "Error executing fails: disk full", reg.Execute(ctx, "fails", map[string]any{"text": "x"}))
	})

	t.Run("should convert panics to text", func(t *testing.T) {
		assert.Equal(t, "Error executing panics: panic: kaboom", reg.Execute(ctx, "panics", map[string]any{"text": "x"}))
	})

	t.Run("should prefer custom validator", func(t *testing.T) {
		out := reg.Execute(ctx, "custom", map[string]any{"text": "x"})
		assert.Equal(t, "Error: Invalid parameters for tool 'custom': always wrong", out)
	})
}

func TestRegistry_Contextual(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubTool{name: "echo"}))
	require.NoError(t, reg.Register(NewMessageTool(nil)))
	require.NoError(t, reg.Register(NewSpawnTool(nil)))

	ctxTools := reg.Contextual()
	require.Len(t, ctxTools, 2)
	assert.Equal(t, "message", ctxTools[0].Name())
	assert.Equal(t, "spawn", ctxTools[1].Name())
}
