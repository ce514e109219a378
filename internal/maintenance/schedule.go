package maintenance

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Schedule is a normalized schedule string. Spec is always something the
// cron parser accepts.
type Schedule struct {
	Spec   string
	Every  time.Duration // set for interval forms
	Source string        // "cron" | "duration" | "daily"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

// ParseSchedule accepts:
//   - cron: "*/5 * * * *", "0 30 3 * * *", "@hourly", "@every 6h"
//   - a duration: "6h", "90m" (interval)
//   - HH:MM: "03:30" (daily at that wall-clock time)
//
// "cron:" forces cron parsing; "every:" and "interval:" force an interval.
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return Schedule{}, fmt.Errorf("cron expression required after 'cron:'")
		}
		return Schedule{Spec: expr, Source: "cron"}, nil
	case strings.HasPrefix(low, "every:"):
		return parseEvery(s[len("every:"):])
	case strings.HasPrefix(low, "interval:"):
		return parseEvery(s[len("interval:"):])
	}

	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return Schedule{Spec: s, Source: "cron"}, nil
	}
	if m := reHHMM.FindStringSubmatch(s); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if hh > 23 || mm > 59 {
			return Schedule{}, fmt.Errorf("invalid time of day %q", raw)
		}
		return Schedule{Spec: fmt.Sprintf("%d %d * * *", mm, hh), Source: "daily"}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return every(d)
	}
	return Schedule{}, fmt.Errorf(
		"invalid schedule %q (use cron like '0 3 * * *', HH:MM like '03:30', or a duration like '6h')", raw)
}

func parseEvery(v string) (Schedule, error) {
	v = strings.TrimSpace(v)
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Schedule{}, fmt.Errorf("invalid minutes in %q", v)
		}
		return every(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid interval %q (use HH:MM or a duration like '55m')", v)
	}
	return every(d)
}

func every(d time.Duration) (Schedule, error) {
	if d < time.Second {
		return Schedule{}, fmt.Errorf("interval must be >= 1s")
	}
	return Schedule{Spec: "@every " + d.String(), Every: d, Source: "duration"}, nil
}
