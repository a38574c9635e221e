package clock

import (
	"sync"
	"time"
)

// Clock provides current time abstraction for deterministic tests.
// Params: none.
// Returns: current wall-clock time.
type Clock interface {
	Now() time.Time
}

// RealClock reads current UTC time from system clock.
// Params: none.
// Returns: current UTC timestamp.
type RealClock struct{}

// Now returns current UTC time.
// Params: none.
// Returns: current UTC timestamp.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// FakeClock is settable clock for suppression-window and snapshot tests.
// Params: starting timestamp.
// Returns: clock advanced explicitly by test code.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates fake clock pinned to one timestamp.
// Params: initial timestamp.
// Returns: settable clock instance.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now.UTC()}
}

// Now returns currently pinned timestamp.
// Params: none.
// Returns: pinned UTC timestamp.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves pinned timestamp forward.
// Params: positive duration delta.
// Returns: nothing; subsequent Now calls observe the new timestamp.
func (c *FakeClock) Advance(delta time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(delta)
}
