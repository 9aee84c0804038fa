// Package testutil provides deterministic helpers for tests and the
// scenario harness.
package testutil

import (
	"sync"
	"time"
)

// DeterministicClock hands out strictly increasing wall times from a fixed
// base. Scenario runs get identical client timestamps on every execution,
// which keeps golden traces stable.
type DeterministicClock struct {
	mu   sync.Mutex
	base time.Time
	step time.Duration
	tick int64
}

// NewDeterministicClock creates a clock starting at base, advancing by step
// on every call to Now.
func NewDeterministicClock(base time.Time, step time.Duration) *DeterministicClock {
	return &DeterministicClock{base: base, step: step}
}

// Now returns the next timestamp. The first call returns base.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.base.Add(time.Duration(c.tick) * c.step)
	c.tick++
	return t
}

// Reset rewinds the clock so the next call to Now returns base again.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick = 0
}
