package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/nanobot/internal/observability"
	"github.com/harun/nanobot/internal/tracing"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "nanobot/tools"

// Registry holds the tools available to one agent loop.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*gojsonschema.Schema
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	observability.EnsureRegistered()

	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return ErrEmptyToolName
	}

	// compiled once here and reused for every call
	compiled, err := CompileSchema(tool.Parameters())
	if err != nil {
		return fmt.Errorf("%w for %s: %v", ErrInvalidSchema, name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
	r.schemas[name] = compiled

	log.Debug().Str("tool", name).Msg("Tool registered")
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return
	}
	delete(r.tools, name)
	delete(r.schemas, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	log.Debug().Str("tool", name).Msg("Tool unregistered")
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	return r.Get(name) != nil
}

// List returns tool names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns the function-calling descriptors for every tool.
func (r *Registry) Definitions() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, Definition(r.tools[name]))
	}
	return defs
}

// Definition renders one tool in the function-calling shape.
func Definition(t Tool) map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        t.Name(),
			"description": t.Description(),
			"parameters":  t.Parameters().ToMap(),
		},
	}
}

// Contextual returns the registered tools that depend on the turn's destination.
func (r *Registry) Contextual() []ContextualTool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ContextualTool
	for _, name := range r.order {
		if ct, ok := r.tools[name].(ContextualTool); ok {
			out = append(out, ct)
		}
	}
	return out
}

// Execute validates and runs a tool. Failures are returned as text.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) string {
	ctx, span := tracing.StartSpan(ctx, tracerName, "tools.execute",
		attribute.String("tool.name", name),
		attribute.String("session_key", tracing.GetSessionKey(ctx)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger)

	r.mu.RLock()
	tool, compiled := r.tools[name], r.schemas[name]
	r.mu.RUnlock()
	if tool == nil {
		span.SetStatus(codes.Error, "tool not found")
		logger.Warn().Str("tool", name).Msg("Tool not found")
		return fmt.Sprintf("Error: Tool '%s' not found", name)
	}

	var violations []string
	if v, ok := tool.(Validator); ok {
		violations = v.Validate(params)
	} else {
		violations = validateCompiled(tool.Parameters(), compiled, params)
	}
	if len(violations) > 0 {
		span.SetStatus(codes.Error, "invalid parameters")
		logger.Warn().Str("tool", name).Strs("violations", violations).Msg("Tool parameter validation failed")
		observability.RecordToolExecution(name, 0, false)
		return fmt.Sprintf("Error: Invalid parameters for tool '%s': %s", name, strings.Join(violations, "; "))
	}

	start := time.Now()
	result, err := safeExecute(ctx, tool, params)
	duration := time.Since(start)

	observability.RecordToolExecution(name, duration, err == nil)
	observability.RecordToolAudit(ctx, name, tracing.GetSessionKey(ctx), statusOf(err), map[string]any{
		"duration_ms": duration.Milliseconds(),
	})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Str("tool", name).Dur("duration", duration).Msg("Tool execution failed")
		return fmt.Sprintf("Error executing %s: %v", name, err)
	}

	logger.Debug().Str("tool", name).Dur("duration", duration).Int("result_len", len(result)).Msg("Tool executed")
	return result
}

func safeExecute(ctx context.Context, tool Tool, params map[string]any) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return tool.Execute(ctx, params)
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
