package activity

import (
	"sync"
	"time"
)

// Clock tracks per-session last-activity timestamps and the idle budget.
// All state lives in memory; the registry removes entries on eviction.
type Clock struct {
	mu         sync.Mutex
	lastActive map[string]time.Time
	warned     map[string]bool

	idleBudget time.Duration
	now        func() time.Time
}

func NewClock(idleBudget time.Duration) *Clock {
	if idleBudget <= 0 {
		idleBudget = 15 * time.Minute
	}
	return &Clock{
		lastActive: make(map[string]time.Time),
		warned:     make(map[string]bool),
		idleBudget: idleBudget,
		now:        time.Now,
	}
}

// SetNow overrides the time source. Test hook.
func (c *Clock) SetNow(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Clock) IdleBudget() time.Duration { return c.idleBudget }

// Touch advances last-activity to now. Monotonic: an older timestamp never
// overwrites a newer one because now() is taken under the lock.
func (c *Clock) Touch(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActive[sessionID] = c.now()
	c.warned[sessionID] = false
}

// TimeRemaining returns (last + idleBudget) - now, and whether the session is
// tracked at all.
func (c *Clock) TimeRemaining(sessionID string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.lastActive[sessionID]
	if !ok {
		return 0, false
	}
	return last.Add(c.idleBudget).Sub(c.now()), true
}

// Ping resets last-activity and returns the new expiry.
func (c *Clock) Ping(sessionID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lastActive[sessionID]; !ok {
		return time.Time{}, false
	}
	now := c.now()
	c.lastActive[sessionID] = now
	c.warned[sessionID] = false
	return now.Add(c.idleBudget), true
}

// MarkWarned flags the session as inside the warning window.
func (c *Clock) MarkWarned(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lastActive[sessionID]; ok {
		c.warned[sessionID] = true
	}
}

func (c *Clock) Warned(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.warned[sessionID]
}

// Remove drops the session from tracking.
func (c *Clock) Remove(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lastActive, sessionID)
	delete(c.warned, sessionID)
}

// Tracked returns the ids of all tracked sessions.
func (c *Clock) Tracked() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.lastActive))
	for id := range c.lastActive {
		ids = append(ids, id)
	}
	return ids
}
