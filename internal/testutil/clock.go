package testutil

import (
	"sync"
	"time"
)

// DefaultEpoch is the first instant a StepClock reports.
var DefaultEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// StepClock is a deterministic wall clock for tests.
//
// Every call to Now returns the previous instant plus the step, starting at
// the epoch. Two runs that make the same calls observe the same times, which
// keeps applied_at and updated_at stable in golden files.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu    sync.Mutex
	epoch time.Time
	step  time.Duration
	calls int64
}

// NewStepClock creates a clock starting at DefaultEpoch that advances one
// second per call.
func NewStepClock() *StepClock {
	return NewStepClockAt(DefaultEpoch, time.Second)
}

// NewStepClockAt creates a clock starting at epoch that advances by step.
// A zero step freezes the clock.
func NewStepClockAt(epoch time.Time, step time.Duration) *StepClock {
	return &StepClock{epoch: epoch.UTC(), step: step}
}

// Now returns the next instant. It matches engine.NowFunc and the
// ruleset.WithNow signature.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.epoch.Add(time.Duration(c.calls) * c.step)
	c.calls++
	return t
}

// Calls returns how many times Now has been called.
func (c *StepClock) Calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Reset rewinds the clock to its epoch.
//
// Used for test reuse. After Reset(), the next call to Now() returns the epoch.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = 0
}
