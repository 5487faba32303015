// Package clock provides the session clock driven by runtime ticks.
package clock

import (
	"context"
	"sync"
	"time"
)

// Virtual is a session clock that only moves when its driver advances
// it. Sleepers wake on the first advance that reaches their deadline.
type Virtual struct {
	mu       sync.Mutex
	now      time.Duration
	sleepers map[chan struct{}]time.Duration
}

// NewVirtual returns a clock reading start.
func NewVirtual(start time.Duration) *Virtual {
	return &Virtual{now: start, sleepers: make(map[chan struct{}]time.Duration)}
}

// Now returns the current clock reading.
func (c *Virtual) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep blocks until the clock has advanced by d.
func (c *Virtual) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	if d <= 0 {
		c.mu.Unlock()
		return ctx.Err()
	}
	ch := make(chan struct{})
	c.sleepers[ch] = c.now + d
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.sleepers, ch)
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Advance moves the clock forward by d.
func (c *Virtual) Advance(d time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(c.now + d)
	return c.now
}

// AdvanceTo moves the clock to t. Readings never go backwards; an
// earlier t is ignored.
func (c *Virtual) AdvanceTo(t time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t > c.now {
		c.set(t)
	}
	return c.now
}

func (c *Virtual) set(t time.Duration) {
	c.now = t
	for ch, until := range c.sleepers {
		if until <= c.now {
			close(ch)
			delete(c.sleepers, ch)
		}
	}
}

// Sleepers returns the number of blocked Sleep calls.
func (c *Virtual) Sleepers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sleepers)
}
