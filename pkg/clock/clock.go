package clock

import (
	"sync"
	"time"
)

// Clock hands out commit timestamps.
type Clock interface {
	Now() time.Time
	// Tick returns a unix-nanosecond timestamp strictly greater than any
	// previous Tick from this clock.
	Tick() int64
}

// Monotonic is a wall clock whose ticks never repeat or go backwards.
type Monotonic struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewMonotonic() *Monotonic {
	return &Monotonic{now: time.Now}
}

func (c *Monotonic) Now() time.Time {
	return c.now().UTC()
}

func (c *Monotonic) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now().UnixNano()
	if ts <= c.last {
		ts = c.last + 1
	}
	c.last = ts
	return ts
}
