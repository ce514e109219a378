package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGoRecordsErrorAndPanics(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	s.Go("ok", func(ctx context.Context) error { return nil })
	s.Go("boom", func(ctx context.Context) error { panic("kaboom") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Wait(ctx)
	require.ErrorContains(t, err, "boom: panic: kaboom")

	snap := s.Snapshot()
	require.Equal(t, uint64(2), snap.Started)
	require.Zero(t, snap.Active)
	byName := map[string]Stats{}
	for _, g := range snap.Goroutines {
		byName[g.Name] = g
	}
	require.Equal(t, uint64(1), byName["boom"].Panics)
	require.Empty(t, byName["ok"].LastErr)
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))

	stopped := make(chan struct{})
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	})
	s.Go("fails", func(context.Context) error { return errors.New("bad") })

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("context not canceled on error")
	}
	require.ErrorContains(t, s.Stop(context.Background()), "fails: bad")
}

func TestGoRestartRestartsUntilSuccess(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		switch runs.Add(1) {
		case 1:
			return errors.New("first")
		case 2:
			panic("second")
		default:
			return nil
		}
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	require.Equal(t, int32(3), runs.Load())

	st := s.Snapshot().Goroutines[0]
	require.Equal(t, "flaky", st.Name)
	require.Equal(t, uint64(2), st.Restarts)
	require.Equal(t, uint64(1), st.Panics)
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	var runs atomic.Int32
	s.GoRestart("doomed", func(context.Context) error {
		runs.Add(1)
		return errors.New("nope")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.ErrorContains(t, s.Wait(ctx), "doomed: nope")
	require.Equal(t, int32(3), runs.Load())
}

func TestStopBoundedByContext(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	release := make(chan struct{})
	defer close(release)
	s.Go("stubborn", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)
}
