// Package reminders owns the reminder collection: the lock-guarded store and
// the public operations the command layer calls.
package reminders

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

// Store serializes access to a storage.Backend. Every mutating call runs one
// full load-modify-save cycle through Backend.Update, which also excludes
// other processes on the same path; nothing is cached between calls.
type Store struct {
	backend storage.Backend
	log     logx.Logger
	bus     eventbus.Bus
	now     func() time.Time

	mu sync.Mutex
}

type StoreOption func(*Store)

func WithStoreLogger(log logx.Logger) StoreOption { return func(s *Store) { s.log = log } }
func WithStoreBus(bus eventbus.Bus) StoreOption   { return func(s *Store) { s.bus = bus } }
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func NewStore(backend storage.Backend, opts ...StoreOption) *Store {
	s := &Store{backend: backend, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.bus == nil {
		s.bus = eventbus.Nop()
	}
	s.log = s.log.With(logx.String("comp", "reminders.store"))
	return s
}

func (s *Store) Backend() storage.Backend { return s.backend }

func (s *Store) reportCorrupt(op string, err error) {
	s.log.Warn("reminder data corrupt, treating store as empty", logx.String("op", op), logx.Err(err))
	s.bus.Publish(eventbus.Event{Type: eventbus.StoreCorrupt, Data: err.Error()})
}

// load reads the collection. Corrupt data reads as empty so the next save
// overwrites it.
func (s *Store) load(ctx context.Context, op string) ([]reminder.Reminder, error) {
	rs, err := s.backend.Load(ctx)
	if err == nil {
		return rs, nil
	}
	if errors.Is(err, storage.ErrCorrupt) {
		s.reportCorrupt(op, err)
		return []reminder.Reminder{}, nil
	}
	return nil, reminder.Persistence(op, err)
}

// mutate runs fn inside one backend transaction. Errors returned by fn pass
// through unchanged; backend failures become persistence errors.
func (s *Store) mutate(ctx context.Context, op string, fn func([]reminder.Reminder) ([]reminder.Reminder, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fnErr error
	err := s.backend.Update(ctx, func(cur []reminder.Reminder, loadErr error) ([]reminder.Reminder, error) {
		if loadErr != nil {
			s.reportCorrupt(op, loadErr)
		}
		next, err := fn(cur)
		fnErr = err
		return next, err
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		s.log.Error("reminder save failed", logx.String("op", op), logx.Err(err))
		return reminder.Persistence(op, err)
	}
	return nil
}

// Update is the atomic read-modify-write primitive. fn receives the current
// collection and returns the one to persist; returning an error aborts
// without writing.
func (s *Store) Update(ctx context.Context, fn func([]reminder.Reminder) ([]reminder.Reminder, error)) error {
	return s.mutate(ctx, "update", fn)
}

// Add validates r and appends it.
func (s *Store) Add(ctx context.Context, r reminder.Reminder) error {
	if err := r.Validate(s.now()); err != nil {
		return err
	}
	return s.mutate(ctx, "add", func(cur []reminder.Reminder) ([]reminder.Reminder, error) {
		if slices.ContainsFunc(cur, func(x reminder.Reminder) bool { return x.ID == r.ID }) {
			return nil, &reminder.ValidationError{Field: "id", Reason: "duplicate id " + r.ID}
		}
		return append(cur, r.Clone()), nil
	})
}

// List returns every stored reminder.
func (s *Store) List(ctx context.Context) ([]reminder.Reminder, error) {
	return s.load(ctx, "list")
}

func (s *Store) ListByOwner(ctx context.Context, owner int64) ([]reminder.Reminder, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]reminder.Reminder, 0, len(all))
	for _, r := range all {
		if r.OwnerID == owner {
			out = append(out, r)
		}
	}
	return out, nil
}

// Remove deletes the reminder matching both owner and id.
func (s *Store) Remove(ctx context.Context, owner int64, id string) error {
	return s.mutate(ctx, "remove", func(cur []reminder.Reminder) ([]reminder.Reminder, error) {
		i := slices.IndexFunc(cur, func(r reminder.Reminder) bool { return r.ID == id && r.OwnerID == owner })
		if i < 0 {
			return nil, reminder.ErrNotFound
		}
		return slices.Delete(cur, i, i+1), nil
	})
}

// ReplaceAll atomically rewrites the whole collection.
func (s *Store) ReplaceAll(ctx context.Context, rs []reminder.Reminder) error {
	return s.mutate(ctx, "replace_all", func([]reminder.Reminder) ([]reminder.Reminder, error) {
		return rs, nil
	})
}
