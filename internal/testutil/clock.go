package testutil

import (
	"sync"
	"time"
)

// Epoch is the instant StepClock starts at by default: 2026-02-05T00:00:00Z.
var Epoch = time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC)

// StepClock is a deterministic clock for tests. Every call to Now returns
// the current instant and then moves it forward by the step.
//
// It satisfies store.Clock, so snapshots written without an explicit as-of
// get reproducible keys.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
	step  time.Duration
}

// NewStepClock creates a clock starting at start that advances by step per
// reading. A zero start means Epoch; a zero step freezes the clock.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	if start.IsZero() {
		start = Epoch
	}
	start = start.UTC()
	return &StepClock{start: start, now: start, step: step}
}

// Now returns the current instant and advances the clock.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the instant the next call to Now will return.
func (c *StepClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *StepClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Reset returns the clock to its start instant.
//
// Used for test reuse. After Reset(), Now() replays the same sequence.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
