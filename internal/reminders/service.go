package reminders

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/timeparse"
	logx "remindbot/pkg/logx"
)

// ScheduleRequest is what the command layer hands over after its own parsing
// and permission checks.
type ScheduleRequest struct {
	OwnerID     int64
	Title       string
	Description string
	// TimeSpec is "YYYY-MM-DD HH:MM" or a relative offset such as "2h".
	TimeSpec string
	// LeadTimeSpecs are relative offsets before the main time ("15m") or
	// absolute instants. Specs already in the past are dropped.
	LeadTimeSpecs []string
	Destination   reminder.Destination
	Mentions      reminder.Mentions
	// Timezone is an IANA name used for absolute specs; empty means the
	// service default.
	Timezone string
}

// Waker is notified after a reminder is added so the scheduler can re-plan.
type Waker interface {
	Wake()
}

type ServiceConfig struct {
	DefaultLocation *time.Location
	Now             func() time.Time
	NewID           func() string
}

// Service implements the public reminder operations.
type Service struct {
	store *Store
	log   logx.Logger
	bus   eventbus.Bus
	waker Waker

	loc   atomic.Pointer[time.Location]
	now   func() time.Time
	newID func() string
}

func NewService(store *Store, cfg ServiceConfig, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{
		store: store,
		log:   log.With(logx.String("comp", "reminders")),
		bus:   bus,
		now:   cfg.Now,
		newID: cfg.NewID,
	}
	s.SetDefaultLocation(time.UTC)
	s.SetDefaultLocation(cfg.DefaultLocation)
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// SetWaker wires the scheduler after construction.
func (s *Service) SetWaker(w Waker) { s.waker = w }

func (s *Service) Store() *Store { return s.store }

// SetDefaultLocation swaps the zone used for absolute specs without a timezone.
func (s *Service) SetDefaultLocation(loc *time.Location) {
	if loc != nil {
		s.loc.Store(loc)
	}
}

// ScheduleReminder parses the specs, builds a validated Reminder and stores it.
func (s *Service) ScheduleReminder(ctx context.Context, req ScheduleRequest) (string, error) {
	now := s.now().UTC()

	loc := s.loc.Load()
	if tz := strings.TrimSpace(req.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return "", &reminder.ValidationError{Field: "timezone", Reason: fmt.Sprintf("unknown timezone %q", tz), Err: err}
		}
		loc = l
	}

	spec, err := timeparse.Parse(req.TimeSpec, loc)
	if err != nil {
		return "", reminder.Invalid("time_spec", err)
	}
	main := spec.Resolve(now).Truncate(time.Second)

	leads := make([]time.Time, 0, len(req.LeadTimeSpecs))
	for _, ls := range req.LeadTimeSpecs {
		if strings.TrimSpace(ls) == "" {
			continue
		}
		lspec, err := timeparse.Parse(ls, loc)
		if err != nil {
			return "", reminder.Invalid("lead_time_specs", err)
		}
		if lspec.Kind == timeparse.Relative {
			leads = append(leads, main.Add(-lspec.After))
		} else {
			leads = append(leads, lspec.At)
		}
	}

	r := reminder.Reminder{
		ID:          s.newID(),
		OwnerID:     req.OwnerID,
		Destination: req.Destination,
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		MainTime:    main,
		LeadTimes:   reminder.NormalizeLeadTimes(leads, main, now),
		Mentions:    req.Mentions,
		CreatedAt:   now.Truncate(time.Second),
	}
	if len(r.LeadTimes) < len(leads) {
		s.log.Debug("dropped lead times outside the schedulable window",
			logx.String("id", r.ID), logx.Int("requested", len(leads)), logx.Int("kept", len(r.LeadTimes)))
	}

	if err := s.store.Add(ctx, r); err != nil {
		return "", err
	}

	s.log.Info("reminder scheduled",
		logx.String("id", r.ID),
		logx.Int64("owner", r.OwnerID),
		logx.String("destination", r.Destination.String()),
		logx.Time("main_time", r.MainTime),
		logx.Int("leads", len(r.LeadTimes)),
	)
	s.bus.Publish(eventbus.Event{Type: eventbus.ReminderScheduled, Data: eventbus.ReminderEvent{
		ReminderID: r.ID, OwnerID: r.OwnerID, At: r.MainTime,
	}})
	if s.waker != nil {
		s.waker.Wake()
	}
	return r.ID, nil
}

// ListReminders returns the owner's reminders ordered by main time, then id.
func (s *Service) ListReminders(ctx context.Context, owner int64) ([]reminder.Reminder, error) {
	rs, err := s.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	SortByMainTime(rs)
	return rs, nil
}

// DeleteReminder removes id if owner owns it; otherwise reminder.ErrNotFound.
func (s *Service) DeleteReminder(ctx context.Context, owner int64, id string) error {
	if err := s.store.Remove(ctx, owner, strings.TrimSpace(id)); err != nil {
		return err
	}
	s.log.Info("reminder deleted", logx.String("id", id), logx.Int64("owner", owner))
	s.bus.Publish(eventbus.Event{Type: eventbus.ReminderDeleted, Data: eventbus.ReminderEvent{ReminderID: id, OwnerID: owner}})
	return nil
}

func SortByMainTime(rs []reminder.Reminder) {
	slices.SortStableFunc(rs, func(a, b reminder.Reminder) int {
		if c := a.MainTime.Compare(b.MainTime); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
