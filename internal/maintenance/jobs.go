package maintenance

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

var (
	mJobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remindbot_maintenance_runs_total", Help: "Maintenance job runs",
	}, []string{"job", "status"})
	mReminders = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "remindbot_reminders", Help: "Stored reminders by state at the last stats report",
	}, []string{"state"})
)

const (
	JobBackup = "store.backup"
	JobStats  = "stats.report"
)

// BackupJob snapshots the backend to dst (tmp file then rename).
func BackupJob(schedule string, b storage.Backend, dst string, log logx.Logger) Job {
	return Job{
		Name:     JobBackup,
		Schedule: schedule,
		Timeout:  2 * time.Minute,
		Run: func(ctx context.Context) error {
			if err := b.Backup(ctx, dst); err != nil {
				return err
			}
			log.Info("store backed up", logx.String("driver", b.Driver()), logx.String("dst", dst))
			return nil
		},
	}
}

// BackupPath is where a store at path is backed up.
func BackupPath(path string) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}
	return path + ".bak"
}

// Lister is the read side of the reminder store.
type Lister interface {
	List(ctx context.Context) ([]reminder.Reminder, error)
}

// Counts is a census of stored reminders by trigger state.
type Counts struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	LeadDue int `json:"lead_due"`
	MainDue int `json:"main_due"`
	Expired int `json:"expired"`
}

func Census(rs []reminder.Reminder, now time.Time, grace time.Duration) Counts {
	c := Counts{Total: len(rs)}
	for _, r := range rs {
		switch r.State(now, grace) {
		case reminder.Pending:
			c.Pending++
		case reminder.LeadDue:
			c.LeadDue++
		case reminder.MainDue:
			c.MainDue++
		case reminder.Expired:
			c.Expired++
		}
	}
	return c
}

// StatsJob logs a census of the store and exports it as gauges.
func StatsJob(schedule string, store Lister, now func() time.Time, grace time.Duration, log logx.Logger) Job {
	return Job{
		Name:     JobStats,
		Schedule: schedule,
		Timeout:  30 * time.Second,
		Run: func(ctx context.Context) error {
			rs, err := store.List(ctx)
			if err != nil {
				return err
			}
			c := Census(rs, now(), grace)
			mReminders.WithLabelValues("pending").Set(float64(c.Pending))
			mReminders.WithLabelValues("lead_due").Set(float64(c.LeadDue))
			mReminders.WithLabelValues("main_due").Set(float64(c.MainDue))
			mReminders.WithLabelValues("expired").Set(float64(c.Expired))
			log.Info("reminder stats",
				logx.Int("total", c.Total),
				logx.Int("pending", c.Pending),
				logx.Int("lead_due", c.LeadDue),
				logx.Int("main_due", c.MainDue),
				logx.Int("expired", c.Expired),
			)
			return nil
		},
	}
}
