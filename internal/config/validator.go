package config

import (
	"fmt"
	"regexp"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format for providers with a known prefix.
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return nil
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	case "openrouter":
		if !strings.HasPrefix(key, "sk-or-") {
			return fmt.Errorf("invalid OpenRouter API key format (should start with sk-or-)")
		}
	}

	return nil
}

// ValidateTelegramToken validates a Telegram bot token
func (v *Validator) ValidateTelegramToken(token string) error {
	if token == "" {
		return fmt.Errorf("telegram bot token cannot be empty")
	}

	// <bot_id>:<secret>
	pattern := regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)
	if !pattern.MatchString(token) {
		return fmt.Errorf("invalid Telegram bot token format")
	}

	return nil
}

// ValidateBridgeURL requires a ws:// or wss:// URL.
func (v *Validator) ValidateBridgeURL(url string) error {
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return fmt.Errorf("invalid WhatsApp bridge URL %q (must start with ws:// or wss://)", url)
	}
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"trace", "debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}
	return nil
}

// ValidatePatterns compiles each guard pattern.
func (v *Validator) ValidatePatterns(kind string, patterns []string) []error {
	var errs []error
	for _, p := range patterns {
		if _, err := regexp.Compile("(?i)" + p); err != nil {
			errs = append(errs, fmt.Errorf("tools.exec.%s: invalid pattern %q: %w", kind, p, err))
		}
	}
	return errs
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	d := cfg.Agents.Defaults
	if strings.TrimSpace(d.Workspace) == "" {
		errors = append(errors, fmt.Errorf("agents.defaults.workspace is required"))
	}
	if strings.TrimSpace(d.Model) == "" {
		errors = append(errors, fmt.Errorf("agents.defaults.model is required"))
	}
	if err := v.ValidateMaxTokens(d.MaxTokens); err != nil {
		errors = append(errors, fmt.Errorf("agents.defaults: %w", err))
	}
	if err := v.ValidateTemperature(d.Temperature); err != nil {
		errors = append(errors, fmt.Errorf("agents.defaults: %w", err))
	}
	if d.MaxToolIterations <= 0 {
		errors = append(errors, fmt.Errorf("agents.defaults.max_tool_iterations must be > 0"))
	}

	p := cfg.Providers
	for _, pk := range []struct{ name, key string }{
		{"anthropic", p.Anthropic.APIKey},
		{"openai", p.OpenAI.APIKey},
		{"openrouter", p.OpenRouter.APIKey},
	} {
		if err := v.ValidateAPIKey(pk.key, pk.name); err != nil {
			errors = append(errors, err)
		}
	}

	if cfg.Channels.Telegram.Enabled {
		if err := v.ValidateTelegramToken(cfg.Channels.Telegram.Token); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Channels.WhatsApp.Enabled {
		if err := v.ValidateBridgeURL(cfg.Channels.WhatsApp.BridgeURL); err != nil {
			errors = append(errors, err)
		}
	}

	if err := v.ValidatePort(cfg.Gateway.Port); err != nil {
		errors = append(errors, fmt.Errorf("gateway: %w", err))
	}

	if cfg.Tools.Exec.Timeout <= 0 {
		errors = append(errors, fmt.Errorf("tools.exec.timeout must be > 0"))
	}
	errors = append(errors, v.ValidatePatterns("deny_patterns", cfg.Tools.Exec.DenyPatterns)...)
	errors = append(errors, v.ValidatePatterns("allow_patterns", cfg.Tools.Exec.AllowPatterns)...)

	if cfg.Tools.Web.Search.MaxResults < 1 || cfg.Tools.Web.Search.MaxResults > 10 {
		errors = append(errors, fmt.Errorf("tools.web.search.max_results must be between 1 and 10"))
	}
	if cfg.Tools.Web.Fetch.MaxChars < 100 {
		errors = append(errors, fmt.Errorf("tools.web.fetch.max_chars must be >= 100"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errors = append(errors, fmt.Errorf("telemetry.sample_ratio must be between 0 and 1, got %g", r))
	}

	return errors
}
