package reminder

import (
	"strconv"
	"strings"
	"time"
)

type TriggerKind int

const (
	Lead TriggerKind = iota + 1
	Main
)

func (k TriggerKind) String() string {
	switch k {
	case Lead:
		return "lead"
	case Main:
		return "main"
	default:
		return "unknown"
	}
}

// Trigger is one firing instant of a reminder.
type Trigger struct {
	Kind TriggerKind
	At   time.Time
}

// NotificationKey identifies one (reminder, trigger instant) firing.
type NotificationKey struct {
	ReminderID string
	At         time.Time
}

func KeyOf(r Reminder, t Trigger) NotificationKey {
	return NotificationKey{ReminderID: r.ID, At: t.At}
}

// String renders "<reminder_id>@<unix_millis>".
func (k NotificationKey) String() string {
	return k.ReminderID + "@" + strconv.FormatInt(k.At.UnixMilli(), 10)
}

// ParseKey reverses String.
func ParseKey(s string) (NotificationKey, bool) {
	i := strings.LastIndexByte(s, '@')
	if i <= 0 {
		return NotificationKey{}, false
	}
	ms, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil {
		return NotificationKey{}, false
	}
	return NotificationKey{ReminderID: s[:i], At: time.UnixMilli(ms).UTC()}, true
}

// State is the lifecycle position of a reminder at a given instant.
type State int

const (
	Pending State = iota
	LeadDue
	MainDue
	Expired
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case LeadDue:
		return "lead_due"
	case MainDue:
		return "main_due"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// State classifies r at now. grace is the retention window after MainTime.
func (r Reminder) State(now time.Time, grace time.Duration) State {
	switch {
	case now.Sub(r.MainTime) > grace:
		return Expired
	case !r.MainTime.After(now):
		return MainDue
	}
	for _, t := range r.LeadTimes {
		if !t.After(now) {
			return LeadDue
		}
	}
	return Pending
}
