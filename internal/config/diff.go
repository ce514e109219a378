package config

import (
	"strings"

	logx "remindbot/pkg/logx"
)

// Change describes what a reload touched.
type Change struct {
	// Sections lists changed top-level keys in file order.
	Sections []string

	// Fields are safe to log: tokens are reduced to a "set" flag.
	Fields []logx.Field

	// Restart lists sections whose new values only take effect after a
	// restart.
	Restart []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// SummarizeConfigChange compares two configs section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Fields = append(ch.Fields, fields...)
	}

	// Telegram (never log the token)
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot != nt {
		mark("telegram",
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int64("telegram.log_chat_id", nt.LogChatID),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Bool("telegram.dry_run", nt.DryRun),
		)
		if ot.Token != nt.Token || ot.DryRun != nt.DryRun || ot.PollTimeout != nt.PollTimeout {
			ch.Restart = append(ch.Restart, "telegram")
		}
	}

	if oldCfg.Logging != newCfg.Logging {
		l := newCfg.Logging
		mark("logging",
			logx.String("logging.level", l.Level),
			logx.Bool("logging.console", l.Console),
			logx.Bool("logging.file_enabled", l.File.Enabled),
			logx.Bool("logging.chat_enabled", l.Chat.Enabled),
		)
	}

	ost, ns := oldCfg.Storage, newCfg.Storage
	if ost != ns {
		mark("storage",
			logx.String("storage.driver", ns.Driver),
			logx.String("storage.path", ns.Path),
			logx.String("storage.backup_schedule", ns.BackupSchedule),
		)
		if ost.Driver != ns.Driver || ost.Path != ns.Path || ost.BusyTimeout != ns.BusyTimeout {
			ch.Restart = append(ch.Restart, "storage")
		}
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		s := newCfg.Scheduler
		mark("scheduler",
			logx.Bool("scheduler.enabled", s.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(s.Timezone)),
			logx.String("scheduler.grace", s.Grace),
			logx.String("scheduler.min_interval", s.MinInterval),
			logx.String("scheduler.max_interval", s.MaxInterval),
			logx.String("scheduler.stats_schedule", s.StatsSchedule),
		)
		if oldCfg.Scheduler.Enabled != s.Enabled {
			ch.Restart = append(ch.Restart, "scheduler")
		}
	}

	if oldCfg.Dedup != newCfg.Dedup {
		mark("dedup",
			logx.String("dedup.ttl", newCfg.Dedup.TTL),
			logx.Int("dedup.max_entries", newCfg.Dedup.MaxEntries),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		d := newCfg.Dispatch
		mark("dispatch",
			logx.Int("dispatch.rate_per_sec", d.RatePerSec),
			logx.String("dispatch.send_timeout", d.SendTimeout),
			logx.Int("dispatch.history_size", d.HistorySize),
		)
	}

	// Debug (never log the token)
	od, nd := oldCfg.Debug, newCfg.Debug
	if od != nd {
		mark("debug",
			logx.Bool("debug.enabled", nd.Enabled),
			logx.String("debug.addr", strings.TrimSpace(nd.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(nd.Token) != ""),
			logx.Bool("debug.allow_insecure", nd.AllowInsecure),
		)
	}

	if oldCfg.Tracing != newCfg.Tracing {
		tr := newCfg.Tracing
		mark("tracing",
			logx.Bool("tracing.enabled", tr.Enabled),
			logx.String("tracing.exporter", tr.Exporter),
			logx.String("tracing.endpoint", tr.Endpoint),
		)
		ch.Restart = append(ch.Restart, "tracing")
	}

	return ch
}
