package am

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/peterbot/errors"
	"github.com/teranos/peterbot/logger"
)

// defaultFile mirrors SetDefaults in the shape written by `peterbot am init`.
// Secrets are left out so the file is safe to commit.
type defaultFile struct {
	Database struct {
		Path string `toml:"path"`
	} `toml:"database"`
	Server struct {
		Host string `toml:"host"`
		Port int    `toml:"port"`
	} `toml:"server"`
	Pulse struct {
		WorkerPollMS       int    `toml:"worker_poll_ms"`
		SchedulerPollMS    int    `toml:"scheduler_poll_ms"`
		InlineTimeoutMS    int    `toml:"inline_timeout_ms"`
		MaxRetries         int    `toml:"max_retries"`
		RetryBackoffMS     int    `toml:"retry_backoff_ms"`
		MessageLimit       int    `toml:"message_limit"`
		ConversationTarget string `toml:"conversation_target"`
	} `toml:"pulse"`
	AI struct {
		Providers         []string `toml:"providers"`
		MaxSteps          int      `toml:"max_steps"`
		MaxCallsPerMinute int      `toml:"max_calls_per_minute"`
	} `toml:"ai"`
	Blocklist struct {
		Path string `toml:"path"`
	} `toml:"blocklist"`
	Persona struct {
		Dir string `toml:"dir"`
	} `toml:"persona"`
}

// WriteDefault writes a default am.toml to path.
// An existing file is rotated into .back1..3 first.
func WriteDefault(path string, cfg *Config) error {
	var f defaultFile
	f.Database.Path = cfg.Database.Path
	f.Server.Host = cfg.Server.Host
	f.Server.Port = cfg.Server.Port
	f.Pulse.WorkerPollMS = cfg.Pulse.WorkerPollMS
	f.Pulse.SchedulerPollMS = cfg.Pulse.SchedulerPollMS
	f.Pulse.InlineTimeoutMS = cfg.Pulse.InlineTimeoutMS
	f.Pulse.MaxRetries = cfg.Pulse.MaxRetries
	f.Pulse.RetryBackoffMS = cfg.Pulse.RetryBackoffMS
	f.Pulse.MessageLimit = cfg.Pulse.MessageLimit
	f.Pulse.ConversationTarget = cfg.Pulse.ConversationTarget
	f.AI.Providers = cfg.AI.Providers
	f.AI.MaxSteps = cfg.AI.MaxSteps
	f.AI.MaxCallsPerMinute = cfg.AI.MaxCallsPerMinute
	f.Blocklist.Path = cfg.Blocklist.Path
	f.Persona.Dir = cfg.Persona.Dir

	data, err := toml.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return errors.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}
	if err := createBackup(path); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}
	if err := os.WriteFile(path, data, DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		logger.Warnw("Failed to delete old config backup", "file", back3, "error", err)
	}

	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}
	return nil
}

// isBackupFile reports whether path is a rotated backup (.back1, .back2, .back3)
func isBackupFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".back1" || ext == ".back2" || ext == ".back3"
}
