// Package am holds peterbot's core configuration ("am" as in "I am configured as").
package am

import "time"

// Config represents the core peterbot configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	Pulse      PulseConfig      `mapstructure:"pulse"`
	AI         AIConfig         `mapstructure:"ai"`
	OpenRouter OpenRouterConfig `mapstructure:"openrouter"`
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Sandbox    SandboxConfig    `mapstructure:"sandbox"`
	Blocklist  BlocklistConfig  `mapstructure:"blocklist"`
	Persona    PersonaConfig    `mapstructure:"persona"`
	Log        LogConfig        `mapstructure:"log"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"` // websocket origin check; empty = localhost only
}

// DefaultServerPort is the port `peterbot serve` binds when none is configured
const DefaultServerPort = 8787

// PulseConfig configures the job worker, the scheduler and the inline fast path
type PulseConfig struct {
	WorkerPollMS       int    `mapstructure:"worker_poll_ms"`      // job worker poll interval
	SchedulerPollMS    int    `mapstructure:"scheduler_poll_ms"`   // schedule ticker interval
	InlineTimeoutMS    int    `mapstructure:"inline_timeout_ms"`   // inline answer deadline before escalation
	MaxRetries         int    `mapstructure:"max_retries"`         // delivery attempts before a job is failed
	RetryBackoffMS     int    `mapstructure:"retry_backoff_ms"`    // base delay between delivery attempts
	MessageLimit       int    `mapstructure:"message_limit"`       // max characters per outbound message
	ConversationTarget string `mapstructure:"conversation_target"` // chat id scheduled jobs deliver to
	Timezone           string `mapstructure:"timezone"`            // IANA zone for cron evaluation; empty = local
}

// WorkerPollInterval returns the job worker poll interval
func (p PulseConfig) WorkerPollInterval() time.Duration {
	return time.Duration(p.WorkerPollMS) * time.Millisecond
}

// SchedulerPollInterval returns the schedule ticker interval
func (p PulseConfig) SchedulerPollInterval() time.Duration {
	return time.Duration(p.SchedulerPollMS) * time.Millisecond
}

// InlineTimeout returns the inline fast path deadline
func (p PulseConfig) InlineTimeout() time.Duration {
	return time.Duration(p.InlineTimeoutMS) * time.Millisecond
}

// RetryBackoff returns the base delivery retry delay
func (p PulseConfig) RetryBackoff() time.Duration {
	return time.Duration(p.RetryBackoffMS) * time.Millisecond
}

// Location resolves Timezone, falling back to time.Local when unset
func (p PulseConfig) Location() (*time.Location, error) {
	if p.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(p.Timezone)
}

// AIConfig configures model invocation across providers
type AIConfig struct {
	Providers         []string `mapstructure:"providers"`            // fallback order, e.g. ["anthropic", "openrouter"]
	MaxSteps          int      `mapstructure:"max_steps"`            // tool-use rounds per invocation
	MaxCallsPerMinute int      `mapstructure:"max_calls_per_minute"` // sliding-window cap; 0 = unlimited
}

// OpenRouterConfig configures OpenRouter.ai API access
type OpenRouterConfig struct {
	APIKey      string   `mapstructure:"api_key"`
	BaseURL     string   `mapstructure:"base_url"`
	Model       string   `mapstructure:"model"`       // e.g. "openai/gpt-4o-mini"
	Temperature *float64 `mapstructure:"temperature"` // nil = default 0.2
	MaxTokens   *int     `mapstructure:"max_tokens"`  // nil = default 1000
}

// AnthropicConfig configures the Anthropic Messages API
type AnthropicConfig struct {
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// TelegramConfig configures the chat transport
type TelegramConfig struct {
	BotToken          string  `mapstructure:"bot_token"`
	BaseURL           string  `mapstructure:"base_url"`
	MessagesPerSecond float64 `mapstructure:"messages_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// SandboxConfig configures the remote code executor
type SandboxConfig struct {
	BaseURL         string `mapstructure:"base_url"` // empty = code tool disabled
	APIKey          string `mapstructure:"api_key"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	AllowPrivateIPs bool   `mapstructure:"allow_private_ips"` // sandbox on localhost or LAN
}

// BlocklistConfig points at the YAML rules file gating code execution
type BlocklistConfig struct {
	Path string `mapstructure:"path"`
}

// PersonaConfig points at the directory holding personality.md and memory.md
type PersonaConfig struct {
	Dir string `mapstructure:"dir"`
}

// LogConfig configures log output
type LogConfig struct {
	JSON  bool   `mapstructure:"json"`
	Theme string `mapstructure:"theme"` // everforest, gruvbox
}

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)
