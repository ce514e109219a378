// Package scheduler runs the polling loop that turns stored reminders into
// dispatched notifications.
//
// Each tick loads the collection, fires every trigger inside the firing
// window that the deduplicator has not seen, retires reminders past their
// grace period, prunes spent lead times, and picks the next sleep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"remindbot/internal/dispatch"
	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// NoFireAhead is the FireAhead value for firing nothing before its instant.
const NoFireAhead time.Duration = -1

type Config struct {
	// Grace keeps a reminder stored this long after its main time.
	Grace time.Duration

	// Horizon bounds how far ahead a trigger counts as active.
	Horizon time.Duration

	// A trigger fires from FireAhead before its instant until MissAfter
	// after it; later than that it is dropped as missed. Zero FireAhead
	// means the 3s default; NoFireAhead disables firing early.
	MissAfter time.Duration
	FireAhead time.Duration

	MinInterval time.Duration
	MaxInterval time.Duration

	// Workers bounds concurrent sends within one tick.
	Workers int
}

func (c Config) withDefaults() Config {
	if c.Grace <= 0 {
		c.Grace = 5 * time.Minute
	}
	if c.Horizon <= 0 {
		c.Horizon = time.Hour
	}
	if c.MissAfter <= 0 {
		c.MissAfter = 30 * time.Second
	}
	if c.FireAhead < 0 {
		c.FireAhead = 0 // NoFireAhead
	} else if c.FireAhead == 0 {
		c.FireAhead = 3 * time.Second
	}
	if c.MinInterval <= 0 {
		c.MinInterval = 5 * time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.MaxInterval < c.MinInterval {
		c.MaxInterval = c.MinInterval
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	return c
}

// Store is the slice of the reminder store the scheduler needs.
type Store interface {
	List(ctx context.Context) ([]reminder.Reminder, error)
	Update(ctx context.Context, fn func([]reminder.Reminder) ([]reminder.Reminder, error)) error
}

type Deduplicator interface {
	ShouldSend(key reminder.NotificationKey) bool
	MarkSent(key reminder.NotificationKey)
	Sweep(now time.Time) int
	Evict(reminderID string) int
	Len() int
}

// TickReport summarizes one tick. It is kept for /status.
type TickReport struct {
	At        time.Time     `json:"at"`
	Took      time.Duration `json:"took"`
	Reminders int           `json:"reminders"`
	Active    int           `json:"active"`
	Fired     int           `json:"fired"`
	Delivered int           `json:"delivered"`
	Failed    int           `json:"failed"`
	Missed    int           `json:"missed"`
	Retired   int           `json:"retired"`
	Pruned    int           `json:"pruned"`
	ItemErrs  int           `json:"item_errors"`
	Swept     int           `json:"swept"`
	Next      time.Duration `json:"next"`
	Err       string        `json:"err,omitempty"`

	err error
}

type Scheduler struct {
	store  Store
	dedup  Deduplicator
	sender dispatch.Sender
	log    logx.Logger
	bus    eventbus.Bus
	now    func() time.Time

	// OnTick runs after every tick, from the loop goroutine.
	OnTick func(TickReport)

	wake chan struct{}

	mu   sync.Mutex
	cfg  Config
	last TickReport
	next time.Duration
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }
func WithBus(bus eventbus.Bus) Option       { return func(s *Scheduler) { s.bus = bus } }
func WithLogger(log logx.Logger) Option     { return func(s *Scheduler) { s.log = log } }

func New(cfg Config, store Store, dedup Deduplicator, sender dispatch.Sender, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:  store,
		dedup:  dedup,
		sender: sender,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.bus == nil {
		s.bus = eventbus.Nop()
	}
	s.log = s.log.With(logx.String("comp", "scheduler"))
	s.cfg = cfg.withDefaults()
	s.next = s.cfg.MinInterval
	return s
}

// Apply swaps timing settings; the running loop picks them up next tick.
func (s *Scheduler) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
	s.Wake()
}

func (s *Scheduler) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Wake cuts the current sleep short. It never blocks.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) LastTick() TickReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Interval computes the sleep after a tick that saw active reminders: each
// active reminder shaves 100ms off MaxInterval, floored at MinInterval.
func (c Config) Interval(active int) time.Duration {
	d := c.MaxInterval - time.Duration(active)*time.Second/10
	return min(max(d, c.MinInterval), c.MaxInterval)
}

// Run ticks until ctx is canceled. Cancellation is only observed between
// ticks; a tick in progress finishes its dispatches first.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started")
	defer s.log.Info("scheduler stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rep := s.Tick(ctx, s.now())
		if s.OnTick != nil {
			s.OnTick(rep)
		}

		timer := time.NewTimer(rep.Next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

type job struct {
	r    reminder.Reminder
	trg  reminder.Trigger
	key  reminder.NotificationKey
	seen bool
}

// Tick runs one pass at now. It never returns an error; failures are logged,
// counted and reported.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (rep TickReport) {
	start := time.Now()
	s.mu.Lock()
	cfg := s.cfg
	prevNext := s.next
	s.mu.Unlock()

	now = now.UTC()
	rep.At = now

	ctx, span := otel.Tracer("scheduler").Start(ctx, "scheduler.tick",
		trace.WithAttributes(attribute.String("tick.at", now.Format(time.RFC3339))),
	)
	defer func() {
		rep.Took = time.Since(start)
		span.SetAttributes(
			attribute.Int("tick.reminders", rep.Reminders),
			attribute.Int("tick.fired", rep.Fired),
			attribute.Int("tick.retired", rep.Retired),
		)
		span.End()

		mTicks.Inc()
		mTickDur.Observe(rep.Took.Seconds())
		mActive.Set(float64(rep.Active))
		mInterval.Set(rep.Next.Seconds())
		mDedupLive.Set(float64(s.dedup.Len()))

		s.mu.Lock()
		s.last = rep
		s.next = rep.Next
		s.mu.Unlock()
	}()

	rs, err := s.store.List(ctx)
	if err != nil {
		mTickErrors.Inc()
		span.RecordError(err)
		s.log.Error("tick failed", logx.Err(err), logx.Duration("retry_in", prevNext))
		rep.err, rep.Err = err, err.Error()
		rep.Next = prevNext
		return rep
	}
	rep.Reminders = len(rs)

	var (
		jobs    []job
		changes = map[string]*change{}
	)
	for _, r := range rs {
		func() {
			defer func() {
				if p := recover(); p != nil {
					rep.ItemErrs++
					mItemErrors.Inc()
					s.log.Error("reminder processing panicked",
						logx.String("id", r.ID), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
				}
			}()
			active, due, missed := s.plan(cfg, r, now)
			if active {
				rep.Active++
			}
			jobs = append(jobs, due...)
			for _, m := range missed {
				changeFor(changes, r.ID).handled(m.trg)
				if m.seen {
					continue
				}
				rep.Missed++
				mMissed.Inc()
				s.dedup.MarkSent(m.key)
				s.log.Warn("trigger missed, dropping",
					logx.String("id", r.ID), logx.String("trigger", m.trg.Kind.String()),
					logx.Time("at", m.trg.At), logx.Duration("late", now.Sub(m.trg.At)))
				s.bus.Publish(eventbus.Event{Type: eventbus.TriggerMissed, Data: eventbus.ReminderEvent{
					ReminderID: r.ID, OwnerID: r.OwnerID, Trigger: m.trg.Kind.String(), At: m.trg.At,
				}})
			}
			if now.Sub(r.MainTime) > cfg.Grace {
				changeFor(changes, r.ID).retire = true
			}
		}()
	}

	s.dispatch(ctx, cfg, jobs, &rep)
	for _, j := range jobs {
		changeFor(changes, j.r.ID).handled(j.trg)
	}

	if len(changes) > 0 {
		s.persist(ctx, changes, &rep)
	}
	rep.Swept = s.dedup.Sweep(now)
	rep.Next = cfg.Interval(rep.Active)

	if rep.Fired > 0 || rep.Retired > 0 || rep.Missed > 0 {
		s.log.Debug("tick",
			logx.Int("reminders", rep.Reminders),
			logx.Int("fired", rep.Fired),
			logx.Int("missed", rep.Missed),
			logx.Int("retired", rep.Retired),
			logx.Duration("next", rep.Next),
		)
	}
	return rep
}

// plan classifies the pending triggers of r at now.
func (s *Scheduler) plan(cfg Config, r reminder.Reminder, now time.Time) (active bool, due, missed []job) {
	for _, trg := range r.Triggers() {
		delta := trg.At.Sub(now)
		if delta > cfg.Horizon {
			continue
		}
		key := reminder.KeyOf(r, trg)
		if delta < -cfg.MissAfter {
			if s.dedup.ShouldSend(key) {
				missed = append(missed, job{r: r, trg: trg, key: key})
			} else {
				// Sent earlier but the store update did not land yet.
				missed = append(missed, job{r: r, trg: trg, key: key, seen: true})
			}
			continue
		}
		active = true
		if delta <= cfg.FireAhead && s.dedup.ShouldSend(key) {
			due = append(due, job{r: r, trg: trg, key: key})
		}
	}
	return active, due, missed
}

// dispatch sends jobs with at most cfg.Workers in flight. Sends run on a
// context detached from cancellation so shutdown lets them finish; each send
// is still bounded by the dispatcher timeout.
func (s *Scheduler) dispatch(ctx context.Context, cfg Config, jobs []job, rep *TickReport) {
	if len(jobs) == 0 {
		return
	}
	sendCtx := context.WithoutCancel(ctx)

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, cfg.Workers)
	)
	for _, j := range jobs {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if p := recover(); p != nil {
					// A panicking send is not retried either.
					s.dedup.MarkSent(j.key)
					mItemErrors.Inc()
					s.log.Error("dispatch panicked",
						logx.String("id", j.r.ID), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
					mu.Lock()
					rep.ItemErrs++
					rep.Failed++
					mu.Unlock()
				}
			}()

			out := s.sender.Send(sendCtx, j.r, j.trg.Kind, j.trg.At)
			s.dedup.MarkSent(j.key)
			mFired.WithLabelValues(j.trg.Kind.String()).Inc()

			mu.Lock()
			rep.Fired++
			if out.Delivered() {
				rep.Delivered++
			} else {
				rep.Failed++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
}

// change is what one tick does to one stored reminder.
type change struct {
	retire    bool
	mainFired bool
	dropLeads map[int64]bool // unix millis
}

func changeFor(m map[string]*change, id string) *change {
	c := m[id]
	if c == nil {
		c = &change{dropLeads: map[int64]bool{}}
		m[id] = c
	}
	return c
}

func (c *change) handled(t reminder.Trigger) {
	if t.Kind == reminder.Main {
		c.mainFired = true
		return
	}
	c.dropLeads[t.At.UnixMilli()] = true
}

// persist applies the tick's changes to the latest stored collection, so
// reminders added while the tick ran survive.
func (s *Scheduler) persist(ctx context.Context, changes map[string]*change, rep *TickReport) {
	var gone []reminder.Reminder
	pruned := 0

	err := s.store.Update(context.WithoutCancel(ctx), func(cur []reminder.Reminder) ([]reminder.Reminder, error) {
		gone, pruned = gone[:0], 0
		out := make([]reminder.Reminder, 0, len(cur))
		for _, r := range cur {
			c := changes[r.ID]
			if c == nil {
				out = append(out, r)
				continue
			}
			if c.retire {
				gone = append(gone, r)
				continue
			}
			if c.mainFired {
				r.MainFired = true
			}
			if len(c.dropLeads) > 0 {
				kept := make([]time.Time, 0, len(r.LeadTimes))
				for _, t := range r.LeadTimes {
					if c.dropLeads[t.UnixMilli()] {
						pruned++
						continue
					}
					kept = append(kept, t)
				}
				r.LeadTimes = kept
			}
			out = append(out, r)
		}
		return out, nil
	})
	if err != nil {
		rep.ItemErrs++
		s.log.Error("persisting tick changes failed, retrying next tick", logx.Err(err))
		return
	}

	rep.Pruned = pruned
	for _, r := range gone {
		rep.Retired++
		mRetired.Inc()
		s.dedup.Evict(r.ID)
		s.log.Info("reminder retired", logx.String("id", r.ID), logx.Time("main_time", r.MainTime))
		s.bus.Publish(eventbus.Event{Type: eventbus.ReminderRetired, Data: eventbus.ReminderEvent{
			ReminderID: r.ID, OwnerID: r.OwnerID, At: r.MainTime,
		}})
	}
}

// ErrStopped is returned by RunOnce when the context is already done.
var ErrStopped = errors.New("scheduler stopped")

// RunOnce runs a single tick at the current time and returns a failed store
// load as an error.
func (s *Scheduler) RunOnce(ctx context.Context) (TickReport, error) {
	if ctx.Err() != nil {
		return TickReport{}, fmt.Errorf("%w: %v", ErrStopped, ctx.Err())
	}
	rep := s.Tick(ctx, s.now())
	return rep, rep.err
}
