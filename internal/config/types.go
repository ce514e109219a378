package config

// Config is the daemon configuration. All durations are Go duration strings
// (e.g. "500ms", "10s", "1m"); empty means the component default.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Dedup     DedupConfig     `json:"dedup"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Debug     DebugConfig     `json:"debug,omitempty"`
	Tracing   TracingConfig   `json:"tracing,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// LogChatID receives warn+ log lines when logging.chat is enabled.
	LogChatID int64 `json:"log_chat_id,omitempty"`

	PollTimeout string `json:"poll_timeout,omitempty"`

	// DryRun records messages in memory instead of calling Telegram.
	DryRun bool `json:"dry_run,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig selects the reminder backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/reminders.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only

	// BackupSchedule enables the store.backup job. Accepts cron, @every,
	// a bare duration or HH:MM.
	BackupSchedule string `json:"backup_schedule,omitempty"`
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Timezone applies to absolute time specs without an explicit zone.
	Timezone string `json:"timezone,omitempty"`

	Grace       string `json:"grace,omitempty"`
	Horizon     string `json:"horizon,omitempty"`
	MissAfter   string `json:"miss_after,omitempty"`
	FireAhead   string `json:"fire_ahead,omitempty"`
	MinInterval string `json:"min_interval,omitempty"`
	MaxInterval string `json:"max_interval,omitempty"`
	Workers     int    `json:"workers,omitempty"`

	// StatsSchedule enables the stats.report job.
	StatsSchedule string `json:"stats_schedule,omitempty"`
}

type DedupConfig struct {
	TTL        string `json:"ttl,omitempty"`
	MaxEntries int    `json:"max_entries,omitempty"`
}

type DispatchConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

// DebugConfig controls the debug HTTP server (/healthz, /metrics, /status,
// pprof).
//
// Binding to a non-loopback address requires a token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // bearer token (never logged)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// TracingConfig exports OpenTelemetry spans for scheduler ticks and sends.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Exporter    string  `json:"exporter,omitempty"` // otlp (default) | stdout
	Endpoint    string  `json:"endpoint,omitempty"` // otlp gRPC host:port
	Insecure    bool    `json:"insecure,omitempty"`
	ServiceName string  `json:"service_name,omitempty"`
	SampleRatio float64 `json:"sample_ratio,omitempty"`
}
