package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remindbot_dispatch_total",
		Help: "Notification send attempts by trigger kind and outcome.",
	}, []string{"kind", "status"})
	dispatchGone = promauto.NewCounter(prometheus.CounterOpts{
		Name: "remindbot_dispatch_destination_gone_total",
		Help: "Sends that failed because the chat or user is unreachable.",
	})
	dispatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "remindbot_dispatch_duration_seconds",
		Help:    "Time spent in one send, rate limit wait included.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)
