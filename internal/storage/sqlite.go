package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Backend, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Driver() string { return "sqlite" }

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// querier is the subset of *sql.DB, *sql.Conn and *sql.Tx the row helpers use.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

func (s *sqliteStore) Load(ctx context.Context) ([]reminder.Reminder, error) {
	return loadRows(ctx, s.db)
}

func loadRows(ctx context.Context, q querier) ([]reminder.Reminder, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, payload FROM reminders ORDER BY main_time, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []reminder.Reminder{}
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		var r reminder.Reminder
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, fmt.Errorf("%w: row %s: %v", ErrCorrupt, id, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func replaceRows(ctx context.Context, q querier, rs []reminder.Reminder) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM reminders`); err != nil {
		return err
	}
	stmt, err := q.PrepareContext(ctx, `INSERT INTO reminders(id, owner_id, payload, main_time) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rs {
		payload, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.OwnerID, string(payload), r.MainTime.UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}
	return nil
}

// Save swaps the whole table inside one transaction.
func (s *sqliteStore) Save(ctx context.Context, rs []reminder.Reminder) error {
	return s.Update(ctx, func([]reminder.Reminder, error) ([]reminder.Reminder, error) { return rs, nil })
}

// Update runs load, fn and the table swap inside one BEGIN IMMEDIATE
// transaction, so the write lock is taken before the read and another
// process waits on busy_timeout instead of interleaving.
func (s *sqliteStore) Update(ctx context.Context, fn UpdateFunc) (err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err = conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_, _ = conn.ExecContext(context.WithoutCancel(ctx), `ROLLBACK`)
		}
	}()

	cur, loadErr := loadRows(ctx, conn)
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
	if err = replaceRows(ctx, conn, next); err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, `COMMIT`)
	return err
}

// Backup writes a consistent copy of the database to dst.
func (s *sqliteStore) Backup(ctx context.Context, dst string) error {
	f, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	_ = f.Close()
	// VACUUM INTO refuses an existing file.
	_ = os.Remove(tmp)
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
