package auth

import (
	"sync"
	stdtime "time"
)

// FakeClock is a Clock that only moves when told to. Safe for use by a test
// and the twin server at the same time.
type FakeClock struct {
	mu  sync.Mutex
	now stdtime.Time
}

// NewFakeClock creates a FakeClock frozen at t.
func NewFakeClock(t stdtime.Time) *FakeClock {
	return &FakeClock{now: t}
}

func (c *FakeClock) Now() stdtime.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d stdtime.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
