// Package timeparse turns user time specifications into instants and durations.
//
// Two shapes are accepted: an absolute wall-clock time "YYYY-MM-DD HH:MM" and a
// relative offset "<n><unit>" ("30m", "2 hours", "in 1w"). Parse applies one
// fixed dispatch rule: absolute first, relative second, otherwise an error.
package timeparse

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ErrMalformedTime is the sentinel behind every parse failure.
var ErrMalformedTime = errors.New("malformed time")

// MalformedTimeError carries the offending input.
type MalformedTimeError struct {
	Input  string
	Reason string
}

func (e *MalformedTimeError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("malformed time %q", e.Input)
	}
	return fmt.Sprintf("malformed time %q: %s", e.Input, e.Reason)
}

func (e *MalformedTimeError) Unwrap() error { return ErrMalformedTime }

func malformed(in, reason string) error {
	return &MalformedTimeError{Input: in, Reason: reason}
}

// AbsoluteLayout is the only accepted absolute format.
const AbsoluteLayout = "2006-01-02 15:04"

// ParseAbsolute parses exactly "YYYY-MM-DD HH:MM" in loc (UTC when nil) and
// returns the instant in UTC.
func ParseAbsolute(s string, loc *time.Location) (time.Time, error) {
	in := strings.TrimSpace(s)
	if !looksAbsolute(in) {
		return time.Time{}, malformed(s, "want YYYY-MM-DD HH:MM")
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(AbsoluteLayout, in, loc)
	if err != nil {
		return time.Time{}, malformed(s, "invalid calendar date or clock time")
	}
	return t.UTC(), nil
}

// looksAbsolute checks the fixed-width shape without validating ranges.
func looksAbsolute(s string) bool {
	if len(s) != len(AbsoluteLayout) {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch i {
		case 4, 7:
			if c != '-' {
				return false
			}
		case 10:
			if c != ' ' {
				return false
			}
		case 13:
			if c != ':' {
				return false
			}
		default:
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}

var units = map[string]time.Duration{
	"minute":  time.Minute,
	"minutes": time.Minute,
	"min":     time.Minute,
	"mins":    time.Minute,
	"m":       time.Minute,
	"hour":    time.Hour,
	"hours":   time.Hour,
	"hr":      time.Hour,
	"hrs":     time.Hour,
	"h":       time.Hour,
	"day":     24 * time.Hour,
	"days":    24 * time.Hour,
	"d":       24 * time.Hour,
	"week":    7 * 24 * time.Hour,
	"weeks":   7 * 24 * time.Hour,
	"w":       7 * 24 * time.Hour,
}

// ParseRelative parses "<integer><unit>" with optional whitespace in between.
// Units are case-insensitive. A leading "in " is tolerated.
func ParseRelative(s string) (time.Duration, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	if rest, ok := strings.CutPrefix(in, "in "); ok {
		in = strings.TrimSpace(rest)
	}
	if in == "" {
		return 0, malformed(s, "empty")
	}

	i := 0
	for i < len(in) && in[i] >= '0' && in[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, malformed(s, "missing number")
	}
	n, err := strconv.ParseInt(in[:i], 10, 64)
	if err != nil {
		return 0, malformed(s, "number out of range")
	}
	if n <= 0 {
		return 0, malformed(s, "number must be positive")
	}

	unit := strings.TrimLeftFunc(in[i:], unicode.IsSpace)
	step, ok := units[unit]
	if !ok {
		if unit == "" {
			return 0, malformed(s, "missing unit")
		}
		return 0, malformed(s, fmt.Sprintf("unknown unit %q", unit))
	}
	if n > int64(math.MaxInt64/step) {
		return 0, malformed(s, "duration out of range")
	}
	return time.Duration(n) * step, nil
}

type Kind int

const (
	Absolute Kind = iota + 1
	Relative
)

func (k Kind) String() string {
	switch k {
	case Absolute:
		return "absolute"
	case Relative:
		return "relative"
	default:
		return "unknown"
	}
}

// Spec is a parsed time specification. Exactly one of At and After is meaningful.
type Spec struct {
	Kind  Kind
	At    time.Time
	After time.Duration
}

// Resolve returns the instant the spec designates relative to base.
func (s Spec) Resolve(base time.Time) time.Time {
	if s.Kind == Absolute {
		return s.At
	}
	return base.Add(s.After).UTC()
}

// Parse applies the dispatch rule: input shaped like an absolute time is parsed
// as one (and only as one); everything else goes to ParseRelative.
func Parse(s string, loc *time.Location) (Spec, error) {
	if looksAbsolute(strings.TrimSpace(s)) {
		at, err := ParseAbsolute(s, loc)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Kind: Absolute, At: at}, nil
	}
	d, err := ParseRelative(s)
	if err != nil {
		return Spec{}, err
	}
	return Spec{Kind: Relative, After: d}, nil
}
