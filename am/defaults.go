package am

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "peterbot.db")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{})

	// Pulse (job worker + scheduler)
	v.SetDefault("pulse.worker_poll_ms", 5000)
	v.SetDefault("pulse.scheduler_poll_ms", 60000)
	v.SetDefault("pulse.inline_timeout_ms", 30000)
	v.SetDefault("pulse.max_retries", 3)
	v.SetDefault("pulse.retry_backoff_ms", 30000)
	v.SetDefault("pulse.message_limit", 4096) // Telegram sendMessage cap
	v.SetDefault("pulse.conversation_target", "")
	v.SetDefault("pulse.timezone", "")

	v.SetDefault("ai.providers", []string{"anthropic", "openrouter"})
	v.SetDefault("ai.max_steps", 10)
	v.SetDefault("ai.max_calls_per_minute", 30)

	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.model", "openai/gpt-4o-mini")
	v.SetDefault("openrouter.temperature", 0.2)
	v.SetDefault("openrouter.max_tokens", 1000)

	v.SetDefault("anthropic.base_url", "https://api.anthropic.com/v1")
	v.SetDefault("anthropic.model", "claude-3-5-haiku-latest")
	v.SetDefault("anthropic.max_tokens", 4096)

	v.SetDefault("telegram.base_url", "https://api.telegram.org")
	v.SetDefault("telegram.messages_per_second", 1.0)
	v.SetDefault("telegram.burst", 3)

	v.SetDefault("sandbox.timeout_seconds", 60)
	v.SetDefault("sandbox.allow_private_ips", false)

	v.SetDefault("blocklist.path", "blocklist.yaml")
	v.SetDefault("persona.dir", "persona")

	v.SetDefault("log.json", false)
	v.SetDefault("log.theme", "everforest")
}

// BindSensitiveEnvVars binds secrets to both the PETERBOT_* name and the
// provider's conventional variable, so an existing .env works unchanged.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("openrouter.api_key", "PETERBOT_OPENROUTER_API_KEY", "OPENROUTER_API_KEY")
	v.BindEnv("anthropic.api_key", "PETERBOT_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	v.BindEnv("telegram.bot_token", "PETERBOT_TELEGRAM_BOT_TOKEN", "TELEGRAM_BOT_TOKEN")
	v.BindEnv("sandbox.api_key", "PETERBOT_SANDBOX_API_KEY", "SANDBOX_API_KEY")
	v.BindEnv("pulse.conversation_target", "PETERBOT_PULSE_CONVERSATION_TARGET", "TELEGRAM_CHAT_ID")
}
