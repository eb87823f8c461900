package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/nanobot/internal/config"
)

// OpenAI-compatible endpoints for providers that have no dedicated SDK.
const (
	groqBaseURL   = "https://api.groq.com/openai/v1"
	geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
)

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Chat sends one request and returns the model's reply.
	Chat(ctx context.Context, req ChatRequest) (*LLMResponse, error)

	// DefaultModel is used when a request carries no model.
	DefaultModel() string

	// Provider returns the provider name
	Provider() string
}

// ChatRequest contains the request parameters for one model call.
// Tools uses the {"type":"function","function":{...}} shape produced by the tool registry.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Tools       []map[string]any
	MaxTokens   int
	Temperature float64
}

// NewProviderFromConfig picks a provider for model using the configured keys.
// A model prefix ("anthropic/", "openai/", ...) selects that provider when its key is set.
// Otherwise gateway-style providers (openrouter, zhipu, vllm) win, then the first key in
// config priority order.
func NewProviderFromConfig(cfg *config.Config, model string) (LLMProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if model == "" {
		model = cfg.Agents.Defaults.Model
	}
	p := cfg.Providers
	lower := strings.ToLower(model)

	switch {
	case p.OpenRouter.APIKey != "":
		return NewOpenAIProvider("openrouter", p.OpenRouter.APIKey, cfg.GetAPIBase(), model), nil
	case strings.HasPrefix(lower, "anthropic/") || strings.Contains(lower, "claude"):
		if p.Anthropic.APIKey != "" {
			return NewAnthropicProvider(p.Anthropic.APIKey, p.Anthropic.APIBase, stripPrefix(model, "anthropic/")), nil
		}
	case strings.HasPrefix(lower, "openai/") || strings.Contains(lower, "gpt"):
		if p.OpenAI.APIKey != "" {
			return NewOpenAIProvider("openai", p.OpenAI.APIKey, p.OpenAI.APIBase, stripPrefix(model, "openai/")), nil
		}
	case strings.HasPrefix(lower, "gemini/") || strings.Contains(lower, "gemini"):
		if p.Gemini.APIKey != "" {
			return NewOpenAIProvider("gemini", p.Gemini.APIKey, firstNonEmpty(p.Gemini.APIBase, geminiBaseURL), stripPrefix(model, "gemini/")), nil
		}
	case strings.HasPrefix(lower, "groq/"):
		if p.Groq.APIKey != "" {
			return NewOpenAIProvider("groq", p.Groq.APIKey, firstNonEmpty(p.Groq.APIBase, groqBaseURL), stripPrefix(model, "groq/")), nil
		}
	case strings.HasPrefix(lower, "zhipu/") || strings.Contains(lower, "glm"):
		if p.Zhipu.APIKey != "" {
			return NewOpenAIProvider("zhipu", p.Zhipu.APIKey, p.Zhipu.APIBase, stripPrefix(model, "zhipu/")), nil
		}
	}

	switch {
	case p.Zhipu.APIKey != "" && p.Zhipu.APIBase != "":
		return NewOpenAIProvider("zhipu", p.Zhipu.APIKey, p.Zhipu.APIBase, stripPrefix(model, "zhipu/")), nil
	case p.VLLM.APIBase != "":
		return NewOpenAIProvider("vllm", firstNonEmpty(p.VLLM.APIKey, "dummy"), p.VLLM.APIBase, stripPrefix(model, "hosted_vllm/")), nil
	case p.Anthropic.APIKey != "":
		return NewAnthropicProvider(p.Anthropic.APIKey, p.Anthropic.APIBase, stripPrefix(model, "anthropic/")), nil
	case p.OpenAI.APIKey != "":
		return NewOpenAIProvider("openai", p.OpenAI.APIKey, p.OpenAI.APIBase, stripPrefix(model, "openai/")), nil
	case p.Gemini.APIKey != "":
		return NewOpenAIProvider("gemini", p.Gemini.APIKey, firstNonEmpty(p.Gemini.APIBase, geminiBaseURL), stripPrefix(model, "gemini/")), nil
	case p.Groq.APIKey != "":
		return NewOpenAIProvider("groq", p.Groq.APIKey, firstNonEmpty(p.Groq.APIBase, groqBaseURL), stripPrefix(model, "groq/")), nil
	}

	return nil, ErrNoProvider
}

func stripPrefix(model, prefix string) string {
	if len(model) >= len(prefix) && strings.EqualFold(model[:len(prefix)], prefix) {
		return model[len(prefix):]
	}
	return model
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// functionDef pulls name, description and parameters out of a registry definition.
func functionDef(def map[string]any) (name, description string, params map[string]any) {
	fn, _ := def["function"].(map[string]any)
	if fn == nil {
		fn = def
	}
	name, _ = fn["name"].(string)
	description, _ = fn["description"].(string)
	params, _ = fn["parameters"].(map[string]any)
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return name, description, params
}

// parseDataURL splits "data:<mime>;base64,<payload>".
func parseDataURL(u string) (mime, payload string, ok bool) {
	rest, found := strings.CutPrefix(u, "data:")
	if !found {
		return "", "", false
	}
	meta, data, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mime, _, _ = strings.Cut(meta, ";")
	return mime, data, true
}
