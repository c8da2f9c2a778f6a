package engine

import (
	"sync/atomic"
	"time"
)

// Clock is a monotonic logical clock for ordering application logs.
//
// Every log is stamped with a strictly increasing seq from this clock, so
// logs written concurrently by a batch still have a total order.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock that resumes after start.
// Used to continue numbering after the last persisted log.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// NowFunc returns wall-clock time for applied_at stamps and timings.
type NowFunc func() time.Time

// FixedNow returns a NowFunc that always reports t.
func FixedNow(t time.Time) NowFunc {
	return func() time.Time { return t }
}
