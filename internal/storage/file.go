package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

const fileFormatVersion = 1

// fileStore keeps the whole collection in one JSON document:
//
//	{"version":1,"reminders":[...]}
//
// Writes go to a unique temp file next to <path>, are fsynced, then renamed
// over <path>, so a reader sees either the old or the new document, never a
// torn one. Writers serialize on an advisory lock held on <path>.lock, which
// every process opening the same path takes.
type fileStore struct {
	path string
	log  logx.Logger
}

type fileDoc struct {
	Version   int                 `json:"version"`
	Reminders []reminder.Reminder `json:"reminders"`
}

func openFile(cfg Config, log logx.Logger) (Backend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{path: path, log: log}, nil
}

func (s *fileStore) Driver() string { return "file" }

func (s *fileStore) lockPath() string { return s.path + ".lock" }

func (s *fileStore) Close() error { return nil }

func (s *fileStore) Load(ctx context.Context) ([]reminder.Reminder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []reminder.Reminder{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return []reminder.Reminder{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var doc fileDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	if doc.Version != fileFormatVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", ErrCorrupt, s.path, doc.Version)
	}
	if doc.Reminders == nil {
		doc.Reminders = []reminder.Reminder{}
	}
	return doc.Reminders, nil
}

func (s *fileStore) Save(ctx context.Context, rs []reminder.Reminder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock, err := lockFile(ctx, s.lockPath())
	if err != nil {
		return err
	}
	defer func() { _ = unlock() }()
	return s.write(rs)
}

// Update runs load, fn and write under the path lock.
func (s *fileStore) Update(ctx context.Context, fn UpdateFunc) error {
	unlock, err := lockFile(ctx, s.lockPath())
	if err != nil {
		return err
	}
	defer func() { _ = unlock() }()

	cur, loadErr := s.Load(ctx)
	if loadErr != nil {
		if !errors.Is(loadErr, ErrCorrupt) {
			return loadErr
		}
		cur = []reminder.Reminder{}
	}
	next, err := fn(cur, loadErr)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.write(next)
}

func (s *fileStore) write(rs []reminder.Reminder) error {
	if rs == nil {
		rs = []reminder.Reminder{}
	}
	b, err := json.MarshalIndent(fileDoc{Version: fileFormatVersion, Reminders: rs}, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(s.path, append(b, '\n'))
}

// Backup copies the current document to dst with the same temp+rename discipline.
func (s *fileStore) Backup(ctx context.Context, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return writeAtomic(dst, b)
}

func writeAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
