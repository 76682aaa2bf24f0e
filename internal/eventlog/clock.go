package eventlog

import "sync/atomic"

// Clock is a monotonic logical clock for event ordering.
//
// All locally authored events are stamped with a strictly increasing value
// from this clock. This ensures:
// - Deterministic ordering (no wall-clock race conditions)
// - Replay produces identical order
// - Causal relationships are explicit
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
// Used on open to resume from the store's last known position.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// Observe raises the clock to at least the given value. Applying a remote
// event with a higher logical clock advances the local clock so later local
// events sort after it.
func (c *Clock) Observe(value int64) {
	for {
		cur := c.seq.Load()
		if value <= cur {
			return
		}
		if c.seq.CompareAndSwap(cur, value) {
			return
		}
	}
}
