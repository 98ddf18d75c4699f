package session

import (
	"sync"
	"time"

	"github.com/Yoshiki785/realtime-translator/internal/observability"
)

// Cooldown blocks session starts until a deadline, armed by rate limits or
// client throttle violations.
type Cooldown struct {
	mu    sync.Mutex
	until time.Time
	now   func() time.Time
}

// NewCooldown creates a cooldown with an injectable clock for tests.
func NewCooldown(now func() time.Time) *Cooldown {
	if now == nil {
		now = time.Now
	}
	return &Cooldown{now: now}
}

// Start arms the cooldown for the given wait. A shorter wait never cuts an
// already-armed longer one short.
func (c *Cooldown) Start(wait time.Duration) {
	if wait <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := c.now().Add(wait)
	if deadline.After(c.until) {
		c.until = deadline
	}
	observability.SetCooldownActive(true)
}

// Remaining returns the time left before starts are allowed again, zero
// when the window has passed.
func (c *Cooldown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	left := c.until.Sub(c.now())
	if left <= 0 {
		if !c.until.IsZero() {
			c.until = time.Time{}
			observability.SetCooldownActive(false)
		}
		return 0
	}
	return left
}

// Active reports whether a cooldown window is in effect.
func (c *Cooldown) Active() bool {
	return c.Remaining() > 0
}

// Clear drops any armed cooldown.
func (c *Cooldown) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.until = time.Time{}
	observability.SetCooldownActive(false)
}
