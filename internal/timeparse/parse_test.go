package timeparse

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseAbsolute(t *testing.T) {
	t.Parallel()

	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		paris = time.FixedZone("CET", 3600)
	}

	cases := []struct {
		name string
		in   string
		loc  *time.Location
		want time.Time
		ok   bool
	}{
		{"utc default", "2030-01-02 03:04", nil, time.Date(2030, 1, 2, 3, 4, 0, 0, time.UTC), true},
		{"outer spaces", "  2030-01-02 03:04 ", nil, time.Date(2030, 1, 2, 3, 4, 0, 0, time.UTC), true},
		{"zone converted", "2030-01-15 10:00", paris, time.Date(2030, 1, 15, 9, 0, 0, 0, time.UTC), true},
		{"seconds", "2030-01-02 03:04:05", nil, time.Time{}, false},
		{"short month", "2030-1-02 03:04", nil, time.Time{}, false},
		{"T separator", "2030-01-02T03:04", nil, time.Time{}, false},
		{"bad month", "2030-13-02 03:04", nil, time.Time{}, false},
		{"bad hour", "2030-01-02 24:04", nil, time.Time{}, false},
		{"empty", "", nil, time.Time{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseAbsolute(tc.in, tc.loc)
			if !tc.ok {
				require.ErrorIs(t, err, ErrMalformedTime)
				return
			}
			require.NoError(t, err)
			require.True(t, tc.want.Equal(got), "got %s want %s", got, tc.want)
			require.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParseRelative(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"30m", 30 * time.Minute, true},
		{"30 min", 30 * time.Minute, true},
		{"1 minute", time.Minute, true},
		{"2h", 2 * time.Hour, true},
		{"2 HRS", 2 * time.Hour, true},
		{"1d", 24 * time.Hour, true},
		{"3 days", 72 * time.Hour, true},
		{"1w", 7 * 24 * time.Hour, true},
		{"2Weeks", 14 * 24 * time.Hour, true},
		{"in 2 hours", 2 * time.Hour, true},
		{"0m", 0, false},
		{"-5m", 0, false},
		{"5", 0, false},
		{"m", 0, false},
		{"5 years", 0, false},
		{"5s", 0, false},
		{"99999999999999999999m", 0, false},
		{"9999999999999w", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseRelative(tc.in)
			if !tc.ok {
				require.ErrorIs(t, err, ErrMalformedTime)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParseDispatch(t *testing.T) {
	t.Parallel()

	base := time.Date(2030, 5, 1, 12, 0, 0, 0, time.UTC)

	spec, err := Parse("2030-05-02 08:30", nil)
	require.NoError(t, err)
	require.Equal(t, Absolute, spec.Kind)
	require.True(t, spec.Resolve(base).Equal(time.Date(2030, 5, 2, 8, 30, 0, 0, time.UTC)))

	spec, err = Parse("45m", nil)
	require.NoError(t, err)
	require.Equal(t, Relative, spec.Kind)
	require.True(t, spec.Resolve(base).Equal(base.Add(45*time.Minute)))

	// Absolute-shaped but invalid never falls back to relative.
	_, err = Parse("2030-02-30 08:30", nil)
	require.ErrorIs(t, err, ErrMalformedTime)

	_, err = Parse("tomorrow", nil)
	var me *MalformedTimeError
	require.True(t, errors.As(err, &me))
	require.Equal(t, "tomorrow", me.Input)
}

func TestFormatRemaining(t *testing.T) {
	t.Parallel()

	cases := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "moins d'une minute"},
		{time.Minute, "1 minute"},
		{5 * time.Minute, "5 minutes"},
		{time.Hour + 30*time.Minute, "1 heure, 30 minutes"},
		{51 * time.Hour, "2 jours, 3 heures"},
		{7 * 24 * time.Hour, "1 semaine"},
		{8*24*time.Hour + 2*time.Hour, "1 semaine, 1 jour"},
		{24*time.Hour + 5*time.Minute, "1 jour"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, FormatRemaining(tc.d), tc.d.String())
	}
}
