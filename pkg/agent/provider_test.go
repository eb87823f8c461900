package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/harun/nanobot/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderFromConfig(t *testing.T) {
	cases := []struct {
		name      string
		providers config.ProvidersConfig
		model     string
		provider  string
		wantModel string
	}{
		{
			name: "should prefer openrouter over everything",
			providers: config.ProvidersConfig{
				OpenRouter: config.ProviderConfig{APIKey: "or"},
				Anthropic:  config.ProviderConfig{APIKey: "an"},
			},
			model:     "anthropic/claude-opus-4-5",
			provider:  "openrouter",
			wantModel: "anthropic/claude-opus-4-5",
		},
		{
			name:      "should route claude models to anthropic",
			providers: config.ProvidersConfig{Anthropic: config.ProviderConfig{APIKey: "an"}, OpenAI: config.ProviderConfig{APIKey: "oa"}},
			model:     "Anthropic/claude-sonnet-4-5",
			provider:  "anthropic",
			wantModel: "claude-sonnet-4-5",
		},
		{
			name:      "should route gpt models to openai",
			providers: config.ProvidersConfig{Anthropic: config.ProviderConfig{APIKey: "an"}, OpenAI: config.ProviderConfig{APIKey: "oa"}},
			model:     "gpt-4o",
			provider:  "openai",
			wantModel: "gpt-4o",
		},
		{
			name:      "should route groq prefix",
			providers: config.ProvidersConfig{Groq: config.ProviderConfig{APIKey: "gq"}},
			model:     "groq/llama-3.3-70b",
			provider:  "groq",
			wantModel: "llama-3.3-70b",
		},
		{
			name:      "should use gemini by substring",
			providers: config.ProvidersConfig{Gemini: config.ProviderConfig{APIKey: "gm"}},
			model:     "gemini/gemini-2.0-flash",
			provider:  "gemini",
			wantModel: "gemini-2.0-flash",
		},
		{
			name:      "should fall back to vllm with a base url",
			providers: config.ProvidersConfig{VLLM: config.ProviderConfig{APIBase: "http://localhost:8000/v1"}},
			model:     "hosted_vllm/llama",
			provider:  "vllm",
			wantModel: "llama",
		},
		{
			name:      "should fall back to the first key when the prefix key is missing",
			providers: config.ProvidersConfig{OpenAI: config.ProviderConfig{APIKey: "oa"}},
			model:     "claude-sonnet-4-5",
			provider:  "openai",
			wantModel: "claude-sonnet-4-5",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Providers = tc.providers

			p, err := NewProviderFromConfig(cfg, tc.model)
			require.NoError(t, err)
			assert.Equal(t, tc.provider, p.Provider())
			assert.Equal(t, tc.wantModel, p.DefaultModel())
		})
	}

	t.Run("should fail without any key", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Providers = config.ProvidersConfig{}
		_, err := NewProviderFromConfig(cfg, "gpt-4o")
		assert.ErrorIs(t, err, ErrNoProvider)
	})

	t.Run("should use the configured default model", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Providers = config.ProvidersConfig{Anthropic: config.ProviderConfig{APIKey: "an"}}
		p, err := NewProviderFromConfig(cfg, "")
		require.NoError(t, err)
		assert.Equal(t, stripPrefix(cfg.Agents.Defaults.Model, "anthropic/"), p.DefaultModel())
	})
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.True(t, IsRetryableError(errors.New("read: connection reset by peer")))
	assert.True(t, IsRetryableError(errors.New("POST: 429 Too Many Requests")))
	assert.True(t, IsRetryableError(errors.New("Overloaded")))
	assert.True(t, IsRetryableError(errors.New("unexpected EOF")))
	assert.False(t, IsRetryableError(errors.New("401 invalid x-api-key")))
}

func TestProviderHelpers(t *testing.T) {
	t.Run("should strip prefixes case-insensitively", func(t *testing.T) {
		assert.Equal(t, "claude", stripPrefix("ANTHROPIC/claude", "anthropic/"))
		assert.Equal(t, "gpt-4o", stripPrefix("gpt-4o", "openai/"))
	})

	t.Run("should parse data urls", func(t *testing.T) {
		mime, payload, ok := parseDataURL("data:image/png;base64,AAAA")
		require.True(t, ok)
		assert.Equal(t, "image/png", mime)
		assert.Equal(t, "AAAA", payload)

		_, _, ok = parseDataURL("https://example.com/a.png")
		assert.False(t, ok)
	})

	t.Run("should read function definitions", func(t *testing.T) {
		name, desc, params := functionDef(map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        "exec",
				"description": "Run a command",
				"parameters":  map[string]any{"type": "object", "required": []string{"command"}},
			},
		})
		assert.Equal(t, "exec", name)
		assert.Equal(t, "Run a command", desc)
		assert.Equal(t, []string{"command"}, params["required"])

		_, _, params = functionDef(map[string]any{"name": "bare"})
		assert.Equal(t, "object", params["type"])
	})
}

// captureServer answers every request with body and keeps the last request body.
type captureServer struct {
	*httptest.Server
	mu   sync.Mutex
	path string
	body map[string]any
}

func newCaptureServer(t *testing.T, response string) *captureServer {
	t.Helper()
	s := &captureServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.path = r.URL.Path
		s.body = nil
		_ = json.Unmarshal(data, &s.body)
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *captureServer) request() (string, map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path, s.body
}

var conversation = []Message{
	{Role: RoleSystem, Content: "be brief"},
	{Role: RoleUser, Content: "what is here?"},
	{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "t0", Name: "list_dir", Arguments: map[string]any{"path": "/"}}}},
	{Role: RoleTool, ToolCallID: "t0", Name: "list_dir", Content: "📄 a.txt"},
}

var listDirDef = map[string]any{
	"type": "function",
	"function": map[string]any{
		"name":        "list_dir",
		"description": "List a directory",
		"parameters": map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []any{"path"},
		},
	},
}

func TestOpenAIProvider_Chat(t *testing.T) {
	srv := newCaptureServer(t, `{
		"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o",
		"choices": [{
			"index": 0, "finish_reason": "tool_calls",
			"message": {"role": "assistant", "content": "",
				"tool_calls": [
					{"id": "call_1", "type": "function", "function": {"name": "list_dir", "arguments": "{\"path\":\".\"}"}},
					{"id": "call_2", "type": "function", "function": {"name": "exec", "arguments": "not json"}}
				]}
		}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`)

	p := NewOpenAIProvider("", "key", srv.URL+"/", "gpt-4o")
	assert.Equal(t, "openai", p.Provider())

	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages:  conversation,
		Tools:     []map[string]any{listDirDef},
		MaxTokens: 256,
	})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 2)
	assert.Equal(t, ToolCall{ID: "call_1", Name: "list_dir", Arguments: map[string]any{"path": "."}}, resp.ToolCalls[0])
	assert.Equal(t, map[string]any{"raw": "not json"}, resp.ToolCalls[1].Arguments)
	assert.Equal(t, "tool_calls", resp.FinishReason)
	assert.Equal(t, &TokenUsage{InputTokens: 10, OutputTokens: 5}, resp.Usage)

	path, body := srv.request()
	assert.True(t, strings.HasSuffix(path, "/chat/completions"))
	assert.Equal(t, "gpt-4o", body["model"])
	messages, _ := body["messages"].([]any)
	require.Len(t, messages, 4)
	toolMsg, _ := messages[3].(map[string]any)
	assert.Equal(t, "tool", toolMsg["role"])
	assert.Equal(t, "t0", toolMsg["tool_call_id"])
	tools, _ := body["tools"].([]any)
	assert.Len(t, tools, 1)
}

func TestAnthropicProvider_Chat(t *testing.T) {
	srv := newCaptureServer(t, `{
		"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-sonnet-4-5",
		"content": [
			{"type": "text", "text": "Let me look."},
			{"type": "tool_use", "id": "tu_1", "name": "list_dir", "input": {"path": "."}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 12, "output_tokens": 7}
	}`)

	p := NewAnthropicProvider("key", srv.URL+"/", "claude-sonnet-4-5")
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: conversation,
		Tools:    []map[string]any{listDirDef},
	})
	require.NoError(t, err)

	assert.Equal(t, "Let me look.", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, ToolCall{ID: "tu_1", Name: "list_dir", Arguments: map[string]any{"path": "."}}, resp.ToolCalls[0])
	assert.Equal(t, "tool_use", resp.FinishReason)
	assert.Equal(t, &TokenUsage{InputTokens: 12, OutputTokens: 7}, resp.Usage)

	path, body := srv.request()
	assert.Equal(t, "/v1/messages", path)
	assert.Equal(t, float64(4096), body["max_tokens"])
	assert.Contains(t, toJSON(t, body["system"]), "be brief")
	messages, _ := body["messages"].([]any)
	// user, assistant tool_use, user tool_result
	require.Len(t, messages, 3)
	assert.Contains(t, toJSON(t, messages[2]), "tool_result")
}

func toJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
