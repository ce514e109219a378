// Package reminder defines the persisted Reminder record and the rules every
// stored reminder satisfies.
package reminder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"
)

// DestinationKind selects the delivery capability. It is fixed at creation.
type DestinationKind string

const (
	Channel       DestinationKind = "channel"
	DirectMessage DestinationKind = "dm"
)

// Destination is a tagged variant: ChannelID is set for Channel, UserID for DirectMessage.
type Destination struct {
	Kind      DestinationKind `json:"kind"`
	ChannelID int64           `json:"channel_id,omitempty"`
	UserID    int64           `json:"user_id,omitempty"`
}

func ToChannel(id int64) Destination { return Destination{Kind: Channel, ChannelID: id} }
func ToUser(id int64) Destination    { return Destination{Kind: DirectMessage, UserID: id} }

func (d Destination) String() string {
	switch d.Kind {
	case Channel:
		return "channel:" + strconv.FormatInt(d.ChannelID, 10)
	case DirectMessage:
		return "dm:" + strconv.FormatInt(d.UserID, 10)
	default:
		return "unknown"
	}
}

// Validate checks that exactly one side of the variant is populated.
func (d Destination) Validate() error {
	switch d.Kind {
	case Channel:
		if d.ChannelID == 0 {
			return invalid("destination", "channel id is required")
		}
		if d.UserID != 0 {
			return invalid("destination", "channel destination must not carry a user id")
		}
	case DirectMessage:
		if d.UserID == 0 {
			return invalid("destination", "user id is required")
		}
		if d.ChannelID != 0 {
			return invalid("destination", "dm destination must not carry a channel id")
		}
	default:
		return invalid("destination", fmt.Sprintf("unknown kind %q", d.Kind))
	}
	return nil
}

const everyoneSentinel = "everyone"

// Mentions is either the broadcast sentinel or an explicit list of user ids.
// It persists as the string "everyone" or a JSON array.
type Mentions struct {
	Everyone bool
	UserIDs  []int64
}

func MentionEveryone() Mentions          { return Mentions{Everyone: true} }
func MentionUsers(ids ...int64) Mentions { return Mentions{UserIDs: ids} }

func (m Mentions) IsEmpty() bool { return !m.Everyone && len(m.UserIDs) == 0 }

func (m Mentions) MarshalJSON() ([]byte, error) {
	if m.Everyone {
		return json.Marshal(everyoneSentinel)
	}
	ids := m.UserIDs
	if ids == nil {
		ids = []int64{}
	}
	return json.Marshal(ids)
}

func (m *Mentions) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*m = Mentions{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s != everyoneSentinel {
			return fmt.Errorf("mentions: unknown sentinel %q", s)
		}
		*m = MentionEveryone()
		return nil
	}
	var ids []int64
	if err := json.Unmarshal(b, &ids); err != nil {
		return fmt.Errorf("mentions: %w", err)
	}
	*m = MentionUsers(ids...)
	return nil
}

// Reminder is one persisted request to notify at MainTime, with optional
// earlier lead notifications. All instants are UTC.
type Reminder struct {
	ID          string      `json:"id"`
	OwnerID     int64       `json:"owner_id"`
	Destination Destination `json:"destination"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	MainTime    time.Time   `json:"main_time"`
	LeadTimes   []time.Time `json:"lead_times"`
	Mentions    Mentions    `json:"mentions"`
	CreatedAt   time.Time   `json:"created_at,omitzero"`

	// MainFired is set once the main trigger was handled (sent or missed),
	// so a lost dedup entry cannot fire it twice.
	MainFired bool `json:"main_fired,omitempty"`
}

// Clone returns a deep copy so callers can mutate lead times safely.
func (r Reminder) Clone() Reminder {
	cp := r
	cp.LeadTimes = slices.Clone(r.LeadTimes)
	cp.Mentions.UserIDs = slices.Clone(r.Mentions.UserIDs)
	return cp
}

// Triggers lists every pending firing instant: lead times first, main time
// last unless it already fired.
func (r Reminder) Triggers() []Trigger {
	out := make([]Trigger, 0, len(r.LeadTimes)+1)
	for _, t := range r.LeadTimes {
		out = append(out, Trigger{Kind: Lead, At: t})
	}
	if r.MainFired {
		return out
	}
	return append(out, Trigger{Kind: Main, At: r.MainTime})
}

// NormalizeLeadTimes sorts and deduplicates lead times, dropping any that are
// not strictly before main or not strictly after notBefore.
func NormalizeLeadTimes(leads []time.Time, main, notBefore time.Time) []time.Time {
	out := make([]time.Time, 0, len(leads))
	for _, t := range leads {
		t = t.UTC().Truncate(time.Second)
		if !t.Before(main) || !t.After(notBefore) {
			continue
		}
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return slices.CompactFunc(out, func(a, b time.Time) bool { return a.Equal(b) })
}

// Validate checks the creation invariants against now.
func (r Reminder) Validate(now time.Time) error {
	var errs []error
	if r.ID == "" {
		errs = append(errs, invalid("id", "required"))
	}
	if r.OwnerID == 0 {
		errs = append(errs, invalid("owner_id", "required"))
	}
	if r.Title == "" {
		errs = append(errs, invalid("title", "required"))
	}
	if err := r.Destination.Validate(); err != nil {
		errs = append(errs, err)
	}
	if r.Destination.Kind == DirectMessage && r.Mentions.Everyone {
		errs = append(errs, invalid("mentions", "a direct message has exactly one recipient"))
	}
	if r.MainTime.IsZero() {
		errs = append(errs, invalid("main_time", "required"))
	} else if !r.MainTime.After(now) {
		errs = append(errs, invalid("main_time", "must be in the future"))
	}
	for i, t := range r.LeadTimes {
		if !t.Before(r.MainTime) {
			errs = append(errs, invalid("lead_times", "must be before main_time"))
			break
		}
		if !t.After(now) {
			errs = append(errs, invalid("lead_times", "must be in the future"))
			break
		}
		if i > 0 && !t.After(r.LeadTimes[i-1]) {
			errs = append(errs, invalid("lead_times", "must be strictly increasing"))
			break
		}
	}
	return errors.Join(errs...)
}
