package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the root nanobot configuration.
type Config struct {
	Agents    AgentsConfig    `json:"agents" mapstructure:"agents"`
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`
	Channels  ChannelsConfig  `json:"channels" mapstructure:"channels"`
	Gateway   GatewayConfig   `json:"gateway" mapstructure:"gateway"`
	Tools     ToolsConfig     `json:"tools" mapstructure:"tools"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
	Telemetry TelemetryConfig `json:"telemetry" mapstructure:"telemetry"`

	// DataDir holds sessions, cron jobs, media and the gateway PID file.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// AgentsConfig holds agent settings
type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults" mapstructure:"defaults"`
}

// AgentDefaults are applied to every agent loop.
type AgentDefaults struct {
	Workspace         string  `json:"workspace" mapstructure:"workspace"`
	Model             string  `json:"model" mapstructure:"model"`
	MaxTokens         int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature       float64 `json:"temperature" mapstructure:"temperature"`
	MaxToolIterations int     `json:"max_tool_iterations" mapstructure:"max_tool_iterations"`
}

// ProviderConfig holds credentials for one LLM provider.
type ProviderConfig struct {
	APIKey  string `json:"api_key" mapstructure:"api_key"`
	APIBase string `json:"api_base" mapstructure:"api_base"`
}

// ProvidersConfig holds every supported provider.
type ProvidersConfig struct {
	Anthropic  ProviderConfig `json:"anthropic" mapstructure:"anthropic"`
	OpenAI     ProviderConfig `json:"openai" mapstructure:"openai"`
	OpenRouter ProviderConfig `json:"openrouter" mapstructure:"openrouter"`
	Groq       ProviderConfig `json:"groq" mapstructure:"groq"`
	Zhipu      ProviderConfig `json:"zhipu" mapstructure:"zhipu"`
	VLLM       ProviderConfig `json:"vllm" mapstructure:"vllm"`
	Gemini     ProviderConfig `json:"gemini" mapstructure:"gemini"`
}

// ChannelsConfig holds chat front-end configuration
type ChannelsConfig struct {
	Telegram  TelegramConfig  `json:"telegram" mapstructure:"telegram"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp" mapstructure:"whatsapp"`
	WebSocket WebSocketConfig `json:"websocket" mapstructure:"websocket"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	Enabled   bool     `json:"enabled" mapstructure:"enabled"`
	Token     string   `json:"token" mapstructure:"token"`
	AllowFrom []string `json:"allow_from" mapstructure:"allow_from"`
}

// WhatsAppConfig points at a WhatsApp bridge websocket.
type WhatsAppConfig struct {
	Enabled   bool     `json:"enabled" mapstructure:"enabled"`
	BridgeURL string   `json:"bridge_url" mapstructure:"bridge_url"`
	AllowFrom []string `json:"allow_from" mapstructure:"allow_from"`
}

// WebSocketConfig enables the /ws endpoint on the gateway server.
type WebSocketConfig struct {
	Enabled   bool     `json:"enabled" mapstructure:"enabled"`
	AllowFrom []string `json:"allow_from" mapstructure:"allow_from"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Host           string `json:"host" mapstructure:"host"`
	Port           int    `json:"port" mapstructure:"port"`
	MetricsEnabled bool   `json:"metrics_enabled" mapstructure:"metrics_enabled"`
}

// ToolsConfig holds built-in tool configuration
type ToolsConfig struct {
	Web  WebToolsConfig `json:"web" mapstructure:"web"`
	Exec ExecToolConfig `json:"exec" mapstructure:"exec"`
}

// WebToolsConfig configures web_search and web_fetch.
type WebToolsConfig struct {
	Search WebSearchConfig `json:"search" mapstructure:"search"`
	Fetch  WebFetchConfig  `json:"fetch" mapstructure:"fetch"`
}

// WebSearchConfig configures the Brave search tool.
type WebSearchConfig struct {
	APIKey     string `json:"api_key" mapstructure:"api_key"`
	MaxResults int    `json:"max_results" mapstructure:"max_results"`
}

// WebFetchConfig configures the fetch tool.
type WebFetchConfig struct {
	MaxChars int `json:"max_chars" mapstructure:"max_chars"`
}

// ExecToolConfig configures the shell tool and its safety guard.
type ExecToolConfig struct {
	Timeout             int      `json:"timeout" mapstructure:"timeout"` // seconds
	RestrictToWorkspace bool     `json:"restrict_to_workspace" mapstructure:"restrict_to_workspace"`
	DenyPatterns        []string `json:"deny_patterns" mapstructure:"deny_patterns"`
	AllowPatterns       []string `json:"allow_patterns" mapstructure:"allow_patterns"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
}

// TelemetryConfig toggles OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
	// File receives finished spans as JSON lines; empty keeps spans in-process only.
	File string `json:"file" mapstructure:"file"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:         "~/.nanobot/workspace",
				Model:             "anthropic/claude-opus-4-5",
				MaxTokens:         8192,
				Temperature:       0.7,
				MaxToolIterations: 20,
			},
		},
		Channels: ChannelsConfig{
			Telegram:  TelegramConfig{AllowFrom: []string{}},
			WhatsApp:  WhatsAppConfig{BridgeURL: "ws://localhost:3001", AllowFrom: []string{}},
			WebSocket: WebSocketConfig{AllowFrom: []string{}},
		},
		Gateway: GatewayConfig{
			Host:           "0.0.0.0",
			Port:           18790,
			MetricsEnabled: true,
		},
		Tools: ToolsConfig{
			Web: WebToolsConfig{
				Search: WebSearchConfig{MaxResults: 5},
				Fetch:  WebFetchConfig{MaxChars: 50000},
			},
			Exec: ExecToolConfig{
				Timeout:       60,
				DenyPatterns:  []string{},
				AllowPatterns: []string{},
			},
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
			MaxSize:   100,
			MaxAge:    7,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "nanobot",
			SampleRatio: 1,
		},
		DataDir: "~/.nanobot",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// WorkspacePath returns the agent workspace with ~ expanded.
func (c *Config) WorkspacePath() string {
	return ExpandHome(c.Agents.Defaults.Workspace)
}

// DataPath returns the data directory with ~ expanded.
func (c *Config) DataPath() string {
	return ExpandHome(c.DataDir)
}

// SessionsDir is where conversation logs live.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.DataPath(), "sessions")
}

// CronStorePath is the cron job store.
func (c *Config) CronStorePath() string {
	return filepath.Join(c.DataPath(), "cron", "jobs.json")
}

// MediaDir is where channels store downloaded attachments.
func (c *Config) MediaDir() string {
	return filepath.Join(c.DataPath(), "media")
}

// AuditLogPath is the JSONL audit trail of tool runs and guard rejections.
func (c *Config) AuditLogPath() string {
	return filepath.Join(c.DataPath(), "audit.log")
}

// PIDFile is written by the gateway while it runs.
func (c *Config) PIDFile() string {
	return filepath.Join(c.DataPath(), "nanobot.pid")
}

// GetAPIKey returns the first configured key in provider priority order.
func (c *Config) GetAPIKey() string {
	p := c.Providers
	for _, key := range []string{
		p.OpenRouter.APIKey,
		p.Anthropic.APIKey,
		p.OpenAI.APIKey,
		p.Gemini.APIKey,
		p.Zhipu.APIKey,
		p.Groq.APIKey,
		p.VLLM.APIKey,
	} {
		if key != "" {
			return key
		}
	}
	return ""
}

// GetAPIBase returns the base URL for gateway-style providers.
func (c *Config) GetAPIBase() string {
	p := c.Providers
	if p.OpenRouter.APIKey != "" {
		if p.OpenRouter.APIBase != "" {
			return p.OpenRouter.APIBase
		}
		return "https://openrouter.ai/api/v1"
	}
	if p.Zhipu.APIKey != "" {
		return p.Zhipu.APIBase
	}
	if p.VLLM.APIBase != "" {
		return p.VLLM.APIBase
	}
	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	errs := NewValidator().ValidateConfig(c)
	if len(errs) == 0 {
		return nil
	}

	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
