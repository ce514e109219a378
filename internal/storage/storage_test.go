package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

func sample(id string, owner int64, main time.Time) reminder.Reminder {
	return reminder.Reminder{
		ID:          id,
		OwnerID:     owner,
		Destination: reminder.ToChannel(-100),
		Title:       "t-" + id,
		MainTime:    main,
		LeadTimes:   []time.Time{main.Add(-time.Hour)},
		Mentions:    reminder.MentionEveryone(),
	}
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Backend{"memory": NewMemory()}
	for _, c := range []Config{
		{Driver: "file", Path: filepath.Join(dir, "reminders.json")},
		{Driver: "sqlite", Path: filepath.Join(dir, "reminders.db")},
	} {
		b, err := Open(c, logx.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = b.Close() })
		out[c.Driver] = b
	}
	return out
}

func TestBackendsSaveReplacesCollection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	main := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			got, err := b.Load(ctx)
			require.NoError(t, err)
			require.Empty(t, got)

			require.NoError(t, b.Save(ctx, []reminder.Reminder{sample("a", 1, main), sample("b", 2, main.Add(time.Hour))}))
			require.NoError(t, b.Save(ctx, []reminder.Reminder{sample("b", 2, main.Add(time.Hour))}))

			got, err = b.Load(ctx)
			require.NoError(t, err)
			require.Len(t, got, 1)
			require.Equal(t, "b", got[0].ID)
			require.True(t, got[0].MainTime.Equal(main.Add(time.Hour)))
			require.True(t, got[0].Mentions.Everyone)
			require.Len(t, got[0].LeadTimes, 1)
		})
	}
}

func TestFileStoreCorruptAndHeal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reminders.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"reminders":[{`), 0o600))

	b, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)

	_, err = b.Load(ctx)
	require.ErrorIs(t, err, ErrCorrupt)

	require.NoError(t, b.Save(ctx, []reminder.Reminder{sample("a", 1, time.Now().Add(time.Hour).UTC())}))
	got, err := b.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)

	leftovers, err := filepath.Glob(path + ".*.tmp")
	require.NoError(t, err)
	require.Empty(t, leftovers)
}

func TestFileStoreRejectsUnknownVersion(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "reminders.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":9,"reminders":[]}`), 0o600))

	b, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	_, err = b.Load(context.Background())
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestBackup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	main := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)

	for name, b := range backends(t) {
		if name == "memory" {
			continue
		}
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Save(ctx, []reminder.Reminder{sample("a", 1, main)}))
			dst := filepath.Join(t.TempDir(), "backup."+name)
			require.NoError(t, b.Backup(ctx, dst))

			cp, err := Open(Config{Driver: name, Path: dst}, logx.Nop())
			require.NoError(t, err)
			defer cp.Close()
			got, err := cp.Load(ctx)
			require.NoError(t, err)
			require.Len(t, got, 1)
		})
	}
}

func appendOne(r reminder.Reminder) UpdateFunc {
	return func(cur []reminder.Reminder, _ error) ([]reminder.Reminder, error) {
		return append(cur, r), nil
	}
}

func TestUpdateFromTwoBackendsOnOnePathKeepsEveryWrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	main := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	dir := t.TempDir()

	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			cfg := Config{Driver: driver, Path: filepath.Join(dir, "shared."+driver), BusyTimeout: 10 * time.Second}
			var opened []Backend
			for i := 0; i < 2; i++ {
				b, err := Open(cfg, logx.Nop())
				require.NoError(t, err)
				t.Cleanup(func() { _ = b.Close() })
				opened = append(opened, b)
			}

			const perBackend = 50
			var wg sync.WaitGroup
			errs := make(chan error, 2*perBackend)
			for bi, b := range opened {
				for i := 0; i < perBackend; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						errs <- b.Update(ctx, appendOne(sample(fmt.Sprintf("b%d-%03d", bi, i), 1, main)))
					}()
				}
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			got, err := opened[0].Load(ctx)
			require.NoError(t, err)
			require.Len(t, got, 2*perBackend)
		})
	}
}

func TestUpdateOnCorruptDataStartsEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reminders.json")
	require.NoError(t, os.WriteFile(path, []byte("{garbage"), 0o600))
	b, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)

	var seen error
	err = b.Update(ctx, func(cur []reminder.Reminder, loadErr error) ([]reminder.Reminder, error) {
		seen = loadErr
		require.Empty(t, cur)
		return append(cur, sample("a", 1, time.Now().Add(time.Hour).UTC())), nil
	})
	require.NoError(t, err)
	require.ErrorIs(t, seen, ErrCorrupt)

	got, err := b.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestUpdateAbortKeepsStoredData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	main := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	boom := errors.New("boom")

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Save(ctx, []reminder.Reminder{sample("keep", 1, main)}))
			err := b.Update(ctx, func([]reminder.Reminder, error) ([]reminder.Reminder, error) {
				return nil, boom
			})
			require.ErrorIs(t, err, boom)

			got, err := b.Load(ctx)
			require.NoError(t, err)
			require.Len(t, got, 1)
			require.Equal(t, "keep", got[0].ID)

			// The lock is released after an abort.
			require.NoError(t, b.Update(ctx, appendOne(sample("next", 1, main))))
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "etcd"}, logx.Nop())
	require.Error(t, err)
}
