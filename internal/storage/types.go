package storage

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/reminder"
)

// ErrCorrupt reports persisted data that exists but cannot be decoded.
var ErrCorrupt = errors.New("reminder data corrupt")

// Config configures storage.
//
// Driver values:
//   - "file": JSON document at Path (default)
//   - "sqlite": SQLite database file at Path
//   - "memory": nothing touches disk
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// UpdateFunc maps the stored collection to the one to persist. When the
// stored data cannot be decoded, cur is empty and loadErr wraps ErrCorrupt.
// Returning an error aborts without writing.
type UpdateFunc func(cur []reminder.Reminder, loadErr error) ([]reminder.Reminder, error)

// Backend is the byte-level persistence the reminder store sits on.
// Load returns an empty collection when nothing was saved yet.
//
// Update is the only safe read-modify-write: it holds a lock that other
// processes opening the same path also honor, from the load through the
// write.
type Backend interface {
	Load(ctx context.Context) ([]reminder.Reminder, error)
	Save(ctx context.Context, rs []reminder.Reminder) error
	Update(ctx context.Context, fn UpdateFunc) error
	Backup(ctx context.Context, dst string) error
	Driver() string
	Close() error
}
