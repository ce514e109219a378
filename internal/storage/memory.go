package storage

import (
	"context"
	"sync"

	"remindbot/internal/reminder"
)

// Memory is a process-local Backend. Tests use FailSave and Corrupt to
// simulate a broken disk.
type Memory struct {
	mu       sync.Mutex
	data     []reminder.Reminder
	corrupt  bool
	failSave error
	saves    int
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Driver() string { return "memory" }

func (m *Memory) Close() error { return nil }

func (m *Memory) Load(ctx context.Context) ([]reminder.Reminder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.corrupt {
		return nil, ErrCorrupt
	}
	out := make([]reminder.Reminder, 0, len(m.data))
	for _, r := range m.data {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (m *Memory) Save(ctx context.Context, rs []reminder.Reminder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(rs)
}

func (m *Memory) saveLocked(rs []reminder.Reminder) error {
	if m.failSave != nil {
		return m.failSave
	}
	m.data = make([]reminder.Reminder, 0, len(rs))
	for _, r := range rs {
		m.data = append(m.data, r.Clone())
	}
	m.corrupt = false
	m.saves++
	return nil
}

// Update holds the mutex across load, fn and save.
func (m *Memory) Update(ctx context.Context, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := make([]reminder.Reminder, 0, len(m.data))
	var loadErr error
	if m.corrupt {
		loadErr = ErrCorrupt
	} else {
		for _, r := range m.data {
			cur = append(cur, r.Clone())
		}
	}
	next, err := fn(cur, loadErr)
	if err != nil {
		return err
	}
	return m.saveLocked(next)
}

func (m *Memory) Backup(ctx context.Context, dst string) error { return nil }

// Corrupt makes Load fail with ErrCorrupt until the next successful Save.
func (m *Memory) Corrupt() {
	m.mu.Lock()
	m.corrupt = true
	m.mu.Unlock()
}

// FailSave makes every Save return err; nil restores normal behavior.
func (m *Memory) FailSave(err error) {
	m.mu.Lock()
	m.failSave = err
	m.mu.Unlock()
}

func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
