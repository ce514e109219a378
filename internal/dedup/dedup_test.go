package dedup

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/reminder"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var base = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

func key(id string, off time.Duration) reminder.NotificationKey {
	return reminder.NotificationKey{ReminderID: id, At: base.Add(off)}
}

func TestShouldSendAndTTL(t *testing.T) {
	t.Parallel()
	clk := &clock{t: base}
	c := New(Config{TTL: time.Hour, Now: clk.Now})

	k := key("r1", 0)
	require.True(t, c.ShouldSend(k))
	c.MarkSent(k)
	require.False(t, c.ShouldSend(k))

	// Same instant in another zone is the same key.
	require.False(t, c.ShouldSend(reminder.NotificationKey{ReminderID: "r1", At: base.In(time.FixedZone("X", 3600))}))

	clk.Advance(59 * time.Minute)
	require.False(t, c.ShouldSend(k))
	clk.Advance(time.Minute)
	require.True(t, c.ShouldSend(k))
}

func TestSweep(t *testing.T) {
	t.Parallel()
	clk := &clock{t: base}
	c := New(Config{TTL: 10 * time.Minute, Now: clk.Now})

	c.MarkSent(key("a", 0))
	clk.Advance(5 * time.Minute)
	c.MarkSent(key("b", 0))

	require.Equal(t, 0, c.Sweep(clk.Now()))
	clk.Advance(6 * time.Minute)
	require.Equal(t, 1, c.Sweep(clk.Now()))
	require.Equal(t, 1, c.Len())
	require.False(t, c.ShouldSend(key("b", 0)))

	// Re-marking refreshes the entry and its position.
	c.MarkSent(key("b", 0))
	clk.Advance(9 * time.Minute)
	require.Equal(t, 0, c.Sweep(clk.Now()))
	require.Equal(t, uint64(1), c.Stats().Swept)
}

func TestEvictByReminder(t *testing.T) {
	t.Parallel()
	c := New(Config{})

	for i := 0; i < 5; i++ {
		c.MarkSent(key("long", time.Duration(i)*time.Minute))
	}
	c.MarkSent(key("other", 0))

	require.Equal(t, 5, c.Evict("long"))
	require.Equal(t, 0, c.Evict("long"))
	require.Equal(t, 1, c.Len())
	require.True(t, c.ShouldSend(key("long", 0)))
	require.False(t, c.ShouldSend(key("other", 0)))
}

func TestCapEvictsOldestInserted(t *testing.T) {
	t.Parallel()
	c := New(Config{MaxEntries: 3})

	for i := 0; i < 5; i++ {
		c.MarkSent(key(fmt.Sprintf("r%d", i), 0))
	}
	require.Equal(t, 3, c.Len())
	require.True(t, c.ShouldSend(key("r0", 0)))
	require.True(t, c.ShouldSend(key("r1", 0)))
	require.False(t, c.ShouldSend(key("r4", 0)))
	require.Equal(t, uint64(2), c.Stats().EvictedCap)

	c.Apply(time.Hour, 1)
	require.Equal(t, 1, c.Len())
	require.False(t, c.ShouldSend(key("r4", 0)))
}

func TestConcurrentMarkRespectsCap(t *testing.T) {
	t.Parallel()
	c := New(Config{MaxEntries: 100})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				k := key(fmt.Sprintf("g%d-%d", g, i), 0)
				if c.ShouldSend(k) {
					c.MarkSent(k)
				}
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 100, c.Len())
	require.Equal(t, uint64(3900), c.Stats().EvictedCap)
}
