package reminder

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var now = time.Date(2030, 3, 1, 12, 0, 0, 0, time.UTC)

func valid() Reminder {
	return Reminder{
		ID:          "r1",
		OwnerID:     7,
		Destination: ToChannel(-1001),
		Title:       "standup",
		MainTime:    now.Add(10 * time.Minute),
		LeadTimes:   []time.Time{now.Add(5 * time.Minute)},
		Mentions:    MentionUsers(1, 2),
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		mut   func(r *Reminder)
		field string
	}{
		{"ok", func(r *Reminder) {}, ""},
		{"past main", func(r *Reminder) { r.MainTime = now.Add(-time.Second) }, "main_time"},
		{"main equals now", func(r *Reminder) { r.MainTime = now }, "main_time"},
		{"lead after main", func(r *Reminder) { r.LeadTimes = []time.Time{now.Add(11 * time.Minute)} }, "lead_times"},
		{"lead in past", func(r *Reminder) { r.LeadTimes = []time.Time{now.Add(-time.Minute)} }, "lead_times"},
		{"lead duplicate", func(r *Reminder) {
			r.LeadTimes = []time.Time{now.Add(time.Minute), now.Add(time.Minute)}
		}, "lead_times"},
		{"no title", func(r *Reminder) { r.Title = "" }, "title"},
		{"no owner", func(r *Reminder) { r.OwnerID = 0 }, "owner_id"},
		{"both ids", func(r *Reminder) { r.Destination.UserID = 5 }, "destination"},
		{"dm without user", func(r *Reminder) { r.Destination = Destination{Kind: DirectMessage} }, "destination"},
		{"dm everyone", func(r *Reminder) {
			r.Destination = ToUser(5)
			r.Mentions = MentionEveryone()
		}, "mentions"},
		{"unknown kind", func(r *Reminder) { r.Destination = Destination{Kind: "pigeon", ChannelID: 1} }, "destination"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := valid()
			tc.mut(&r)
			err := r.Validate(now)
			if tc.field == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrValidation)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			require.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestNormalizeLeadTimes(t *testing.T) {
	t.Parallel()

	main := now.Add(time.Hour)
	in := []time.Time{
		now.Add(30 * time.Minute),
		now.Add(-time.Minute),
		now.Add(10 * time.Minute),
		now.Add(30 * time.Minute),
		main,
		now.Add(2 * time.Hour),
	}
	got := NormalizeLeadTimes(in, main, now)
	require.Equal(t, []time.Time{now.Add(10 * time.Minute), now.Add(30 * time.Minute)}, got)
}

func TestMentionsJSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(MentionEveryone())
	require.NoError(t, err)
	require.JSONEq(t, `"everyone"`, string(b))

	b, err = json.Marshal(Mentions{})
	require.NoError(t, err)
	require.JSONEq(t, `[]`, string(b))

	var m Mentions
	require.NoError(t, json.Unmarshal([]byte(`[3,4]`), &m))
	require.Equal(t, []int64{3, 4}, m.UserIDs)
	require.False(t, m.Everyone)

	require.Error(t, json.Unmarshal([]byte(`"nobody"`), &m))
}

func TestNotificationKey(t *testing.T) {
	t.Parallel()

	k := NotificationKey{ReminderID: "abc@x", At: time.UnixMilli(1700000000123).UTC()}
	require.Equal(t, "abc@x@1700000000123", k.String())

	back, ok := ParseKey(k.String())
	require.True(t, ok)
	require.Equal(t, k.ReminderID, back.ReminderID)
	require.True(t, k.At.Equal(back.At))

	_, ok = ParseKey("nope")
	require.False(t, ok)
}

func TestState(t *testing.T) {
	t.Parallel()

	r := valid()
	grace := 5 * time.Minute
	require.Equal(t, Pending, r.State(now, grace))
	require.Equal(t, LeadDue, r.State(now.Add(5*time.Minute), grace))
	require.Equal(t, MainDue, r.State(now.Add(10*time.Minute), grace))
	require.Equal(t, MainDue, r.State(now.Add(15*time.Minute), grace))
	require.Equal(t, Expired, r.State(now.Add(15*time.Minute+time.Second), grace))
}
