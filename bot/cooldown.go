package bot

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// CooldownTable remembers when each user last got a response on one channel.
//
// Staleness is decided lazily against the window at lookup time. The
// underlying cache additionally evicts entries once they are older than
// window+sweep so long-running channels don't grow without bound; eviction
// only ever drops entries that are already outside the window.
type CooldownTable struct {
	window  time.Duration
	retain  time.Duration
	entries *cache.Cache
}

// NewCooldownTable returns a table for window. A sweep interval <= 0 disables
// eviction and keeps every entry for the process lifetime.
func NewCooldownTable(window, sweep time.Duration) *CooldownTable {
	retain := cache.NoExpiration
	if sweep > 0 {
		retain = window + sweep
	}
	return &CooldownTable{
		window:  window,
		retain:  retain,
		entries: cache.New(retain, sweep),
	}
}

// Window returns the configured cooldown window.
func (c *CooldownTable) Window() time.Duration { return c.window }

// Cooling reports whether user got a response within the window ending at now.
func (c *CooldownTable) Cooling(user string, now time.Time) bool {
	v, ok := c.entries.Get(user)
	if !ok {
		return false
	}
	last, ok := v.(time.Time)
	if !ok {
		return false
	}
	return now.Sub(last) <= c.window
}

// Touch records a response to user at now.
func (c *CooldownTable) Touch(user string, now time.Time) {
	c.entries.Set(user, now, c.retain)
}

// Last returns the last response instant for user, if any.
func (c *CooldownTable) Last(user string) (time.Time, bool) {
	v, ok := c.entries.Get(user)
	if !ok {
		return time.Time{}, false
	}
	last, ok := v.(time.Time)
	return last, ok
}

// Len returns the number of users currently tracked.
func (c *CooldownTable) Len() int { return c.entries.ItemCount() }
