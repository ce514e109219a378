// Package dedup remembers which notification keys were already dispatched.
//
// Entries expire after a TTL and the cache holds at most MaxEntries; past the
// cap the oldest-inserted entries go first, whatever their age. Dropping an
// entry early re-opens a theoretical duplicate window, which is accepted in
// exchange for bounded memory.
package dedup

import (
	"container/list"
	"sync"
	"time"

	"remindbot/internal/reminder"
)

const (
	DefaultTTL        = time.Hour
	DefaultMaxEntries = 1000
)

type Config struct {
	TTL        time.Duration
	MaxEntries int
	Now        func() time.Time
}

type Stats struct {
	Live        int    `json:"live"`
	MaxEntries  int    `json:"max_entries"`
	TTL         string `json:"ttl"`
	Marked      uint64 `json:"marked"`
	Swept       uint64 `json:"swept"`
	EvictedCap  uint64 `json:"evicted_cap"`
	EvictedByID uint64 `json:"evicted_by_id"`
}

type entry struct {
	key    reminder.NotificationKey
	sentAt time.Time
}

// Cache is safe for concurrent use. Insertion order lives in a list so both
// cap eviction and Sweep walk from the oldest entry.
type Cache struct {
	mu    sync.Mutex
	ttl   time.Duration
	max   int
	now   func() time.Time
	order *list.List
	index map[reminder.NotificationKey]*list.Element
	byID  map[string]int

	marked, swept, evictedCap, evictedByID uint64
}

func New(cfg Config) *Cache {
	c := &Cache{
		order: list.New(),
		index: map[reminder.NotificationKey]*list.Element{},
		byID:  map[string]int{},
	}
	c.configure(cfg)
	return c
}

func (c *Cache) configure(cfg Config) {
	c.ttl = cfg.TTL
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	c.max = cfg.MaxEntries
	if c.max <= 0 {
		c.max = DefaultMaxEntries
	}
	c.now = cfg.Now
	if c.now == nil {
		c.now = time.Now
	}
}

// Apply changes TTL and cap at runtime. A smaller cap trims immediately.
func (c *Cache) Apply(ttl time.Duration, maxEntries int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configure(Config{TTL: ttl, MaxEntries: maxEntries, Now: c.now})
	c.enforceCapLocked()
}

// normalize drops monotonic and location so equal instants hash equally.
func normalize(k reminder.NotificationKey) reminder.NotificationKey {
	return reminder.NotificationKey{ReminderID: k.ReminderID, At: time.UnixMilli(k.At.UnixMilli()).UTC()}
}

// ShouldSend reports whether key is absent or its entry expired.
func (c *Cache) ShouldSend(key reminder.NotificationKey) bool {
	key = normalize(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		return true
	}
	return c.now().Sub(el.Value.(*entry).sentAt) >= c.ttl
}

// MarkSent records key as dispatched now. A re-marked key counts as newly inserted.
func (c *Cache) MarkSent(key reminder.NotificationKey) {
	key = normalize(key)
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.marked++
	if el, ok := c.index[key]; ok {
		el.Value.(*entry).sentAt = now
		c.order.MoveToBack(el)
		return
	}
	c.index[key] = c.order.PushBack(&entry{key: key, sentAt: now})
	c.byID[key.ReminderID]++
	c.enforceCapLocked()
}

func (c *Cache) enforceCapLocked() {
	for c.order.Len() > c.max {
		c.removeLocked(c.order.Front())
		c.evictedCap++
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	e := c.order.Remove(el).(*entry)
	delete(c.index, e.key)
	if n := c.byID[e.key.ReminderID] - 1; n > 0 {
		c.byID[e.key.ReminderID] = n
	} else {
		delete(c.byID, e.key.ReminderID)
	}
}

// Sweep drops entries older than the TTL and returns how many went.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	// Insertion order tracks sentAt order (MarkSent moves to back), so stop at
	// the first live entry unless the clock went backwards.
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if now.Sub(el.Value.(*entry).sentAt) < c.ttl {
			break
		}
		c.removeLocked(el)
		n++
		el = next
	}
	c.swept += uint64(n)
	return n
}

// Evict drops every key of reminderID.
func (c *Cache) Evict(reminderID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.byID[reminderID] == 0 {
		return 0
	}
	n := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*entry).key.ReminderID == reminderID {
			c.removeLocked(el)
			n++
		}
		el = next
	}
	c.evictedByID += uint64(n)
	return n
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Live:        c.order.Len(),
		MaxEntries:  c.max,
		TTL:         c.ttl.String(),
		Marked:      c.marked,
		Swept:       c.swept,
		EvictedCap:  c.evictedCap,
		EvictedByID: c.evictedByID,
	}
}
