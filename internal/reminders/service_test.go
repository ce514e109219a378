package reminders

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/timeparse"
	logx "remindbot/pkg/logx"
)

var t0 = time.Date(2030, 6, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	backend storage.Backend
	store   *Store
	svc     *Service
	bus     eventbus.Bus
}

func newFixture(t *testing.T, backend storage.Backend) fixture {
	t.Helper()
	clock := func() time.Time { return t0 }
	var seq atomic.Int64
	bus := eventbus.New()
	st := NewStore(backend, WithStoreClock(clock), WithStoreBus(bus))
	svc := NewService(st, ServiceConfig{
		Now:   clock,
		NewID: func() string { return fmt.Sprintf("id-%02d", seq.Add(1)) },
	}, logx.Nop(), bus)
	return fixture{backend: backend, store: st, svc: svc, bus: bus}
}

func channelReq(owner int64, title, spec string, leads ...string) ScheduleRequest {
	return ScheduleRequest{
		OwnerID:       owner,
		Title:         title,
		TimeSpec:      spec,
		LeadTimeSpecs: leads,
		Destination:   reminder.ToChannel(-100123),
		Mentions:      reminder.MentionEveryone(),
	}
}

func TestScheduleThenListRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, storage.NewMemory())

	id, err := f.svc.ScheduleReminder(ctx, ScheduleRequest{
		OwnerID:       42,
		Title:         "  standup ",
		Description:   "daily sync",
		TimeSpec:      "10m",
		LeadTimeSpecs: []string{"5m", "5m", "2030-06-01 10:02", "1h"},
		Destination:   reminder.ToUser(42),
		Mentions:      reminder.MentionUsers(42),
	})
	require.NoError(t, err)

	got, err := f.svc.ListReminders(ctx, 42)
	require.NoError(t, err)
	require.Len(t, got, 1)

	r := got[0]
	require.Equal(t, id, r.ID)
	require.Equal(t, int64(42), r.OwnerID)
	require.Equal(t, "standup", r.Title)
	require.Equal(t, "daily sync", r.Description)
	require.Equal(t, reminder.ToUser(42), r.Destination)
	require.Equal(t, []int64{42}, r.Mentions.UserIDs)
	require.True(t, r.MainTime.Equal(t0.Add(10*time.Minute)))
	// "1h" lands before now and is dropped; the duplicate "5m" collapses.
	require.Equal(t, []time.Time{t0.Add(2 * time.Minute), t0.Add(5 * time.Minute)}, r.LeadTimes)

	others, err := f.svc.ListReminders(ctx, 7)
	require.NoError(t, err)
	require.Empty(t, others)
}

func TestSchedulePastMainTimeIsValidationError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, storage.NewMemory())

	_, err := f.svc.ScheduleReminder(context.Background(), channelReq(1, "late", "2030-06-01 09:59"))
	require.ErrorIs(t, err, reminder.ErrValidation)

	rs, err := f.store.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, rs)
}

func TestScheduleMalformedTime(t *testing.T) {
	t.Parallel()
	f := newFixture(t, storage.NewMemory())

	_, err := f.svc.ScheduleReminder(context.Background(), channelReq(1, "x", "next tuesday"))
	require.ErrorIs(t, err, reminder.ErrValidation)
	require.ErrorIs(t, err, timeparse.ErrMalformedTime)

	_, err = f.svc.ScheduleReminder(context.Background(), channelReq(1, "x", "1h", "soon"))
	require.ErrorIs(t, err, timeparse.ErrMalformedTime)
}

func TestScheduleTimezone(t *testing.T) {
	t.Parallel()
	f := newFixture(t, storage.NewMemory())

	req := channelReq(1, "tz", "2030-06-01 20:00")
	req.Timezone = "Asia/Jakarta"
	id, err := f.svc.ScheduleReminder(context.Background(), req)
	if err != nil && errors.Is(err, reminder.ErrValidation) {
		var ve *reminder.ValidationError
		if errors.As(err, &ve) && ve.Field == "timezone" {
			t.Skip("tzdata not available")
		}
	}
	require.NoError(t, err)

	rs, err := f.svc.ListReminders(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, id, rs[0].ID)
	require.True(t, rs[0].MainTime.Equal(time.Date(2030, 6, 1, 13, 0, 0, 0, time.UTC)))

	req.Timezone = "Mars/Olympus"
	_, err = f.svc.ScheduleReminder(context.Background(), req)
	require.ErrorIs(t, err, reminder.ErrValidation)
}

func TestListSortedByMainTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, storage.NewMemory())

	for _, spec := range []string{"3h", "1h", "2h", "1h"} {
		_, err := f.svc.ScheduleReminder(ctx, channelReq(5, "r"+spec, spec))
		require.NoError(t, err)
	}
	rs, err := f.svc.ListReminders(ctx, 5)
	require.NoError(t, err)
	require.Len(t, rs, 4)
	for i := 1; i < len(rs); i++ {
		require.False(t, rs[i].MainTime.Before(rs[i-1].MainTime))
	}
	require.Equal(t, "id-02", rs[0].ID)
	require.Equal(t, "id-04", rs[1].ID)
}

// Two owners, same main time: a foreign delete is NotFound and changes nothing.
func TestDeleteIsOwnerScoped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, storage.NewMemory())

	idA, err := f.svc.ScheduleReminder(ctx, channelReq(1, "a", "2030-06-01 12:00"))
	require.NoError(t, err)
	idB, err := f.svc.ScheduleReminder(ctx, channelReq(2, "b", "2030-06-01 12:00"))
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.DeleteReminder(ctx, 1, idB), reminder.ErrNotFound)
	require.ErrorIs(t, f.svc.DeleteReminder(ctx, 1, "missing"), reminder.ErrNotFound)

	all, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, f.svc.DeleteReminder(ctx, 1, idA))
	left, err := f.svc.ListReminders(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, left)
	bs, err := f.svc.ListReminders(ctx, 2)
	require.NoError(t, err)
	require.Len(t, bs, 1)
}

// A corrupt file reads as empty and the next schedule rewrites it.
func TestCorruptFileSelfHeals(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reminders.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	backend, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	f := newFixture(t, backend)
	events, unsub := f.bus.Subscribe(16)
	defer unsub()

	rs, err := f.svc.ListReminders(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, rs)
	require.Equal(t, eventbus.StoreCorrupt, (<-events).Type)

	id, err := f.svc.ScheduleReminder(ctx, channelReq(1, "again", "30m"))
	require.NoError(t, err)

	// A fresh backend over the same file sees the healed document.
	reopened, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	stored, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, id, stored[0].ID)
}

func TestAddPersistenceFailureLeavesStoreUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := storage.NewMemory()
	f := newFixture(t, mem)

	_, err := f.svc.ScheduleReminder(ctx, channelReq(1, "first", "1h"))
	require.NoError(t, err)

	mem.FailSave(errors.New("disk full"))
	_, err = f.svc.ScheduleReminder(ctx, channelReq(1, "second", "2h"))
	require.ErrorIs(t, err, reminder.ErrPersistence)
	var pe *reminder.PersistenceError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, "add", pe.Op)

	mem.FailSave(nil)
	rs, err := f.svc.ListReminders(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	require.Equal(t, "first", rs[0].Title)
}

func TestAddRejectsDuplicateID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, storage.NewMemory())

	r := reminder.Reminder{
		ID: "same", OwnerID: 1, Title: "x",
		Destination: reminder.ToChannel(9),
		MainTime:    t0.Add(time.Hour),
	}
	require.NoError(t, f.store.Add(ctx, r))
	require.ErrorIs(t, f.store.Add(ctx, r), reminder.ErrValidation)
}

func TestUpdateAbortDoesNotWrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := storage.NewMemory()
	f := newFixture(t, mem)

	_, err := f.svc.ScheduleReminder(ctx, channelReq(1, "x", "1h"))
	require.NoError(t, err)
	saves := mem.Saves()

	boom := errors.New("boom")
	err = f.store.Update(ctx, func(rs []reminder.Reminder) ([]reminder.Reminder, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, saves, mem.Saves())
}

func TestConcurrentAddsAllLand(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reminders.json")
	backend, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	f := newFixture(t, backend)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ScheduleReminder(ctx, channelReq(3, "c", "1h"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rs, err := f.svc.ListReminders(ctx, 3)
	require.NoError(t, err)
	require.Len(t, rs, 20)
}

type countingWaker struct{ n atomic.Int32 }

func (w *countingWaker) Wake() { w.n.Add(1) }

func TestScheduleWakesScheduler(t *testing.T) {
	t.Parallel()
	f := newFixture(t, storage.NewMemory())
	w := &countingWaker{}
	f.svc.SetWaker(w)

	_, err := f.svc.ScheduleReminder(context.Background(), channelReq(1, "x", "1h"))
	require.NoError(t, err)
	require.Equal(t, int32(1), w.n.Load())
}

func TestTwoStoresOnOnePathKeepEveryAdd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			cfg := storage.Config{Driver: driver, Path: filepath.Join(dir, "shared."+driver), BusyTimeout: 10 * time.Second}
			var stores []*Store
			for i := 0; i < 2; i++ {
				b, err := storage.Open(cfg, logx.Nop())
				require.NoError(t, err)
				t.Cleanup(func() { _ = b.Close() })
				stores = append(stores, NewStore(b, WithStoreClock(func() time.Time { return t0 })))
			}

			const perStore = 100
			var wg sync.WaitGroup
			errs := make(chan error, 2*perStore)
			for si, st := range stores {
				for i := 0; i < perStore; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						errs <- st.Add(ctx, reminder.Reminder{
							ID:          fmt.Sprintf("s%d-%03d", si, i),
							OwnerID:     5,
							Title:       "shared",
							Destination: reminder.ToChannel(-100123),
							MainTime:    t0.Add(time.Hour),
						})
					}()
				}
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			for _, st := range stores {
				rs, err := st.List(ctx)
				require.NoError(t, err)
				require.Len(t, rs, 2*perStore)
			}
		})
	}
}
