package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: ReminderScheduled, Data: ReminderEvent{ReminderID: "r1"}})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			require.Equal(t, ReminderScheduled, e.Type)
			require.False(t, e.Time.IsZero())
			require.Equal(t, "r1", e.Data.(ReminderEvent).ReminderID)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	unsubA()
	unsubA()
	b.Publish(Event{Type: ReminderDeleted})
	_, open := <-a
	require.False(t, open)
}

func TestPublishDropsOnSlowSubscriber(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: DispatchDelivered})
	}
	require.Len(t, ch, 1)
}

func TestNop(t *testing.T) {
	t.Parallel()
	b := Nop()
	b.Publish(Event{Type: StoreCorrupt})
	ch, unsub := b.Subscribe(1)
	unsub()
	_, open := <-ch
	require.False(t, open)
}
