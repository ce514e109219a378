package timeparse

import (
	"strconv"
	"strings"
	"time"
)

type frUnit struct {
	size     time.Duration
	singular string
	plural   string
}

var frUnits = []frUnit{
	{7 * 24 * time.Hour, "semaine", "semaines"},
	{24 * time.Hour, "jour", "jours"},
	{time.Hour, "heure", "heures"},
	{time.Minute, "minute", "minutes"},
}

// FormatRemaining renders d in French using at most the two largest non-zero
// units, e.g. "2 jours, 3 heures". Durations under a minute read
// "moins d'une minute".
func FormatRemaining(d time.Duration) string {
	if d < time.Minute {
		return "moins d'une minute"
	}
	parts := make([]string, 0, 2)
	for _, u := range frUnits {
		if len(parts) == 2 {
			break
		}
		n := d / u.size
		if n == 0 {
			// Only adjacent units are shown.
			if len(parts) > 0 {
				break
			}
			continue
		}
		d -= n * u.size
		name := u.plural
		if n == 1 {
			name = u.singular
		}
		parts = append(parts, strconv.FormatInt(int64(n), 10)+" "+name)
	}
	return strings.Join(parts, ", ")
}
