package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "remindbot_scheduler_ticks_total", Help: "Scheduler ticks run",
	})
	mTickErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "remindbot_scheduler_tick_errors_total", Help: "Ticks that failed before processing reminders",
	})
	mItemErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "remindbot_scheduler_item_errors_total", Help: "Per-reminder failures isolated inside a tick",
	})
	mFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remindbot_scheduler_triggers_fired_total", Help: "Triggers handed to the dispatcher",
	}, []string{"kind"})
	mMissed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "remindbot_scheduler_triggers_missed_total", Help: "Triggers found too late and dropped",
	})
	mRetired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "remindbot_scheduler_reminders_retired_total", Help: "Reminders removed after the grace period",
	})
	mActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "remindbot_scheduler_active_reminders", Help: "Reminders with a trigger inside the horizon",
	})
	mInterval = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "remindbot_scheduler_next_interval_seconds", Help: "Sleep chosen after the last tick",
	})
	mDedupLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "remindbot_dedup_entries", Help: "Live deduplication entries",
	})
	mTickDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "remindbot_scheduler_tick_duration_seconds", Help: "Scheduler tick duration",
		Buckets: prometheus.DefBuckets,
	})
)
