package app

import (
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/dispatch"
	"remindbot/internal/observability/debugserver"
	"remindbot/internal/observability/tracing"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

// The map* helpers assume cfg passed config.Validate.

func mapStorageConfig(cfg *config.Config) storage.Config {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		switch driver {
		case "", "file", "json":
			path = "./data/reminders.json"
		case "sqlite", "sqlite3":
			path = "./data/reminders.db"
		}
	}
	return storage.Config{
		Driver:      driver,
		Path:        path,
		BusyTimeout: config.DurationOr(sc.BusyTimeout, time.Second),
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Chat.Enabled,
			ChatID:     cfg.Telegram.LogChatID,
			MinLevel:   l.Chat.MinLevel,
			RatePerSec: l.Chat.RatePerSec,
		},
	}
}

// mapSchedulerConfig leaves unset fields zero so scheduler defaults apply.
// An explicit zero fire_ahead maps to scheduler.NoFireAhead.
func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	s := cfg.Scheduler
	fireAhead := config.DurationOr(s.FireAhead, 0)
	if fireAhead == 0 && strings.TrimSpace(s.FireAhead) != "" {
		fireAhead = scheduler.NoFireAhead
	}
	return scheduler.Config{
		Grace:       config.DurationOr(s.Grace, 0),
		Horizon:     config.DurationOr(s.Horizon, 0),
		MissAfter:   config.DurationOr(s.MissAfter, 0),
		FireAhead:   fireAhead,
		MinInterval: config.DurationOr(s.MinInterval, 0),
		MaxInterval: config.DurationOr(s.MaxInterval, 0),
		Workers:     s.Workers,
	}
}

func mapDedup(cfg *config.Config) (time.Duration, int) {
	return config.DurationOr(cfg.Dedup.TTL, time.Hour), cfg.Dedup.MaxEntries
}

func mapDispatchConfig(cfg *config.Config) dispatch.Config {
	d := cfg.Dispatch
	return dispatch.Config{
		RatePerSec:  d.RatePerSec,
		SendTimeout: config.DurationOr(d.SendTimeout, 10*time.Second),
		HistorySize: d.HistorySize,
	}
}

func mapDebugConfig(cfg *config.Config) debugserver.Config {
	d := cfg.Debug
	return debugserver.Config{
		Enabled:       d.Enabled,
		Addr:          d.Addr,
		Token:         d.Token,
		AllowInsecure: d.AllowInsecure,
		ReadTimeout:   config.DurationOr(d.ReadTimeout, 10*time.Second),
		WriteTimeout:  config.DurationOr(d.WriteTimeout, 0),
		IdleTimeout:   config.DurationOr(d.IdleTimeout, time.Minute),
	}
}

func mapTracingConfig(cfg *config.Config) tracing.Config {
	t := cfg.Tracing
	return tracing.Config{
		Enabled:     t.Enabled,
		Exporter:    t.Exporter,
		Endpoint:    t.Endpoint,
		Insecure:    t.Insecure,
		ServiceName: t.ServiceName,
		SampleRatio: t.SampleRatio,
	}
}

func location(cfg *config.Config) *time.Location {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
