package am

import (
	"time"

	"github.com/teranos/peterbot/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path cannot be empty")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be in 1-65535, got %d", c.Server.Port)
	}

	// Poll intervals drive time.Ticker, which panics on non-positive durations
	if c.Pulse.WorkerPollMS <= 0 {
		return errors.Newf("pulse.worker_poll_ms must be > 0, got %d", c.Pulse.WorkerPollMS)
	}
	if c.Pulse.SchedulerPollMS <= 0 {
		return errors.Newf("pulse.scheduler_poll_ms must be > 0, got %d", c.Pulse.SchedulerPollMS)
	}
	if c.Pulse.InlineTimeoutMS <= 0 {
		return errors.Newf("pulse.inline_timeout_ms must be > 0, got %d", c.Pulse.InlineTimeoutMS)
	}
	if c.Pulse.MaxRetries < 1 {
		return errors.Newf("pulse.max_retries must be >= 1, got %d", c.Pulse.MaxRetries)
	}
	if c.Pulse.RetryBackoffMS < 0 {
		return errors.Newf("pulse.retry_backoff_ms must be >= 0, got %d", c.Pulse.RetryBackoffMS)
	}
	// Header "[job xxxxxxxx]\n\n" plus the truncation notice must fit
	if c.Pulse.MessageLimit < 64 {
		return errors.Newf("pulse.message_limit must be >= 64, got %d", c.Pulse.MessageLimit)
	}
	if c.Pulse.Timezone != "" {
		if _, err := time.LoadLocation(c.Pulse.Timezone); err != nil {
			return errors.Wrapf(err, "pulse.timezone %q is not a known IANA zone", c.Pulse.Timezone)
		}
	}

	if c.AI.MaxSteps < 1 {
		return errors.Newf("ai.max_steps must be >= 1, got %d", c.AI.MaxSteps)
	}
	// 0 = unlimited
	if c.AI.MaxCallsPerMinute < 0 {
		return errors.Newf("ai.max_calls_per_minute must be >= 0, got %d", c.AI.MaxCallsPerMinute)
	}
	for _, p := range c.AI.Providers {
		if p != "anthropic" && p != "openrouter" {
			return errors.Newf("ai.providers: unknown provider %q", p)
		}
	}

	if c.Telegram.MessagesPerSecond < 0 {
		return errors.Newf("telegram.messages_per_second must be >= 0, got %f", c.Telegram.MessagesPerSecond)
	}
	if c.Sandbox.TimeoutSeconds < 0 {
		return errors.Newf("sandbox.timeout_seconds must be >= 0, got %d", c.Sandbox.TimeoutSeconds)
	}

	return nil
}
