package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var knownDrivers = map[string]bool{
	"": true, "file": true, "json": true,
	"sqlite": true, "sqlite3": true,
	"memory": true, "mem": true,
}

var knownLevels = map[string]bool{
	"": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

// Validate reports every malformed field at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	check("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if strings.TrimSpace(cfg.Telegram.Token) == "" && !cfg.Telegram.DryRun {
		errs = append(errs, errors.New("telegram.token: required unless dry_run is set"))
	}

	if !knownLevels[strings.ToLower(strings.TrimSpace(cfg.Logging.Level))] {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if !knownLevels[strings.ToLower(strings.TrimSpace(cfg.Logging.Chat.MinLevel))] {
		errs = append(errs, fmt.Errorf("logging.chat.min_level: unknown level %q", cfg.Logging.Chat.MinLevel))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		errs = append(errs, errors.New("logging.file.path: required when file logging is enabled"))
	}
	if cfg.Logging.Chat.Enabled && cfg.Telegram.LogChatID == 0 {
		errs = append(errs, errors.New("telegram.log_chat_id: required when logging.chat is enabled"))
	}

	if !knownDrivers[strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))] {
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	check("storage.busy_timeout", cfg.Storage.BusyTimeout)

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	check("scheduler.grace", cfg.Scheduler.Grace)
	check("scheduler.horizon", cfg.Scheduler.Horizon)
	check("scheduler.miss_after", cfg.Scheduler.MissAfter)
	check("scheduler.fire_ahead", cfg.Scheduler.FireAhead)
	check("scheduler.min_interval", cfg.Scheduler.MinInterval)
	check("scheduler.max_interval", cfg.Scheduler.MaxInterval)
	if cfg.Scheduler.Workers < 0 {
		errs = append(errs, errors.New("scheduler.workers: must be >= 0"))
	}

	check("dedup.ttl", cfg.Dedup.TTL)
	if cfg.Dedup.MaxEntries < 0 {
		errs = append(errs, errors.New("dedup.max_entries: must be >= 0"))
	}

	check("dispatch.send_timeout", cfg.Dispatch.SendTimeout)
	if cfg.Dispatch.RatePerSec < 0 || cfg.Dispatch.HistorySize < 0 {
		errs = append(errs, errors.New("dispatch: rate_per_sec and history_size must be >= 0"))
	}

	check("debug.read_timeout", cfg.Debug.ReadTimeout)
	check("debug.write_timeout", cfg.Debug.WriteTimeout)
	check("debug.idle_timeout", cfg.Debug.IdleTimeout)

	switch strings.ToLower(strings.TrimSpace(cfg.Tracing.Exporter)) {
	case "", "otlp", "stdout":
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter: unknown exporter %q", cfg.Tracing.Exporter))
	}
	if r := cfg.Tracing.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, errors.New("tracing.sample_ratio: must be within [0,1]"))
	}

	return errors.Join(errs...)
}
