// Package dispatch renders reminder notifications and hands them to the
// messaging transport, one attempt per call.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type Status int

const (
	Delivered Status = iota + 1
	Failed
)

func (s Status) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	ReasonDestinationGone = "destination gone"
	ReasonRateLimited     = "rate limited"
	ReasonTimeout         = "timeout"
	ReasonTransport       = "transport error"
	ReasonBadDestination  = "bad destination"
)

// Outcome reports one send attempt. Failures never surface as errors.
type Outcome struct {
	Status  Status
	Reason  string
	Err     error
	Message kit.MessageRef
}

func (o Outcome) Delivered() bool { return o.Status == Delivered }

// Record is one entry of the recent-outcome history.
type Record struct {
	At          time.Time     `json:"at"`
	ReminderID  string        `json:"reminder_id"`
	Trigger     string        `json:"trigger"`
	TriggerAt   time.Time     `json:"trigger_at"`
	Destination string        `json:"destination"`
	Status      string        `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	Took        time.Duration `json:"took"`
}

type Config struct {
	RatePerSec  int
	SendTimeout time.Duration
	HistorySize int
}

// Sender is what the scheduler needs from a dispatcher.
type Sender interface {
	Send(ctx context.Context, r reminder.Reminder, kind reminder.TriggerKind, at time.Time) Outcome
}

type Dispatcher struct {
	msg kit.Messenger
	log logx.Logger
	bus eventbus.Bus

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	hmu     sync.Mutex
	history []Record
}

func New(cfg Config, msg kit.Messenger, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	d := &Dispatcher{
		msg: msg,
		log: log.With(logx.String("comp", "dispatch")),
		bus: bus,
	}
	d.Apply(cfg)
	return d
}

// Apply swaps rate and timeout settings at runtime.
func (d *Dispatcher) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	d.mu.Lock()
	d.cfg = cfg
	// Burst = rate, so a burst of simultaneous triggers is not serialized.
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	d.mu.Unlock()
}

// Send renders and delivers one notification. It makes exactly one transport
// attempt bounded by SendTimeout and never retries.
func (d *Dispatcher) Send(ctx context.Context, r reminder.Reminder, kind reminder.TriggerKind, at time.Time) Outcome {
	start := time.Now()
	d.mu.Lock()
	cfg := d.cfg
	lim := d.limiter
	d.mu.Unlock()

	ctx, span := otel.Tracer("dispatch").Start(ctx, "dispatch.send",
		trace.WithAttributes(
			attribute.String("reminder.id", r.ID),
			attribute.String("trigger.kind", kind.String()),
			attribute.String("destination", r.Destination.String()),
		),
	)
	defer span.End()

	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()

	out := d.attempt(sctx, lim, r, kind, at)
	took := time.Since(start)

	dispatchTotal.WithLabelValues(kind.String(), out.Status.String()).Inc()
	dispatchLatency.WithLabelValues(kind.String()).Observe(took.Seconds())
	span.SetAttributes(attribute.String("dispatch.status", out.Status.String()))

	log := d.log.With(
		logx.String("id", r.ID),
		logx.String("trigger", kind.String()),
		logx.Time("at", at),
		logx.String("destination", r.Destination.String()),
		logx.Duration("took", took),
	)
	ev := eventbus.DispatchEvent{
		ReminderID:  r.ID,
		Trigger:     kind.String(),
		At:          at,
		Destination: r.Destination.String(),
		Reason:      out.Reason,
	}
	if out.Delivered() {
		log.Info("notification delivered")
		d.bus.Publish(eventbus.Event{Type: eventbus.DispatchDelivered, Data: ev})
	} else {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Reason)
		if out.Reason == ReasonDestinationGone {
			dispatchGone.Inc()
			log.Warn("destination gone, notification dropped", logx.Err(out.Err))
		} else {
			log.Error("notification failed", logx.String("reason", out.Reason), logx.Err(out.Err))
		}
		d.bus.Publish(eventbus.Event{Type: eventbus.DispatchFailed, Data: ev})
	}

	d.appendHistory(Record{
		At:          start,
		ReminderID:  r.ID,
		Trigger:     kind.String(),
		TriggerAt:   at,
		Destination: r.Destination.String(),
		Status:      out.Status.String(),
		Reason:      out.Reason,
		Took:        took,
	}, cfg.HistorySize)
	return out
}

func (d *Dispatcher) attempt(ctx context.Context, lim *rate.Limiter, r reminder.Reminder, kind reminder.TriggerKind, at time.Time) Outcome {
	if err := r.Destination.Validate(); err != nil {
		return Outcome{Status: Failed, Reason: ReasonBadDestination, Err: err}
	}
	if d.msg == nil {
		return Outcome{Status: Failed, Reason: ReasonTransport, Err: errors.New("no messenger configured")}
	}
	if err := lim.Wait(ctx); err != nil {
		return Outcome{Status: Failed, Reason: ReasonRateLimited, Err: err}
	}

	text := Render(r, kind, at)
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}

	var (
		ref kit.MessageRef
		err error
	)
	switch r.Destination.Kind {
	case reminder.Channel:
		ref, err = d.msg.SendToChannel(ctx, r.Destination.ChannelID, text, opt)
	case reminder.DirectMessage:
		ref, err = d.msg.SendToUser(ctx, r.Destination.UserID, text, opt)
	}

	switch {
	case err == nil:
		return Outcome{Status: Delivered, Message: ref}
	case errors.Is(err, kit.ErrDestinationGone):
		return Outcome{Status: Failed, Reason: ReasonDestinationGone, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return Outcome{Status: Failed, Reason: ReasonTimeout, Err: err}
	default:
		return Outcome{Status: Failed, Reason: ReasonTransport, Err: err}
	}
}

func (d *Dispatcher) appendHistory(rec Record, limit int) {
	d.hmu.Lock()
	d.history = append(d.history, rec)
	if len(d.history) > limit {
		d.history = d.history[len(d.history)-limit:]
	}
	d.hmu.Unlock()
}

// History returns recent outcomes, oldest first.
func (d *Dispatcher) History() []Record {
	d.hmu.Lock()
	out := append([]Record(nil), d.history...)
	d.hmu.Unlock()
	return out
}
