package testutil

import (
	"sync"
	"time"
)

// FakeClock is a deterministic wall clock for tests.
//
// Each call to Now returns the current instant and then advances it by the
// configured step, so timestamps written by successive allocations are
// distinct and predictable.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// DefaultEpoch is where NewFakeClock starts.
var DefaultEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// NewFakeClock creates a clock at DefaultEpoch that advances one second per
// reading.
func NewFakeClock() *FakeClock {
	return NewFakeClockAt(DefaultEpoch, time.Second)
}

// NewFakeClockAt creates a clock at start that advances by step per reading.
// A zero step freezes the clock.
func NewFakeClockAt(start time.Time, step time.Duration) *FakeClock {
	return &FakeClock{now: start.UTC(), step: step}
}

// Now returns the current instant and advances the clock.
//
// Its method value satisfies numbering.Options.Clock.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the current instant without advancing.
func (c *FakeClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Reset moves the clock back to start.
func (c *FakeClock) Reset(start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = start.UTC()
}
