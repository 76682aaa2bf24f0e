// Package vclock implements per-node vector clocks for approximate causal
// ordering between sync peers.
//
// A vector clock maps node IDs to monotonically non-decreasing counters.
// Comparison yields a partial order: Before, After, Equal, or Concurrent.
// The sync session uses the clock for session-level causal position; exact
// per-event precedence comes from DAG ancestry, not from the clock.
package vclock

import "maps"

// Relation is the outcome of comparing two vector clocks.
type Relation string

const (
	// Before means this clock is pointwise <= the other and differs somewhere.
	Before Relation = "before"
	// After means this clock is pointwise >= the other and differs somewhere.
	After Relation = "after"
	// Concurrent means each clock exceeds the other on some node.
	Concurrent Relation = "concurrent"
	// Equal means the clocks agree on every node.
	Equal Relation = "equal"
)

// Clock is a vector clock owned by one node. Increment advances only the
// owner's counter; Merge folds in a remote clock.
// Clock is not safe for concurrent use; owners serialize access.
type Clock struct {
	owner    string
	counters map[string]int64
}

// New creates a clock owned by the given node, with all counters at zero.
func New(owner string) *Clock {
	return &Clock{
		owner:    owner,
		counters: make(map[string]int64),
	}
}

// FromMap creates a clock owned by owner with the given counter snapshot.
// The map is copied.
func FromMap(owner string, counters map[string]int64) *Clock {
	c := New(owner)
	maps.Copy(c.counters, counters)
	return c
}

// Owner returns the owning node ID.
func (c *Clock) Owner() string { return c.owner }

// Increment advances the owner's counter and returns the new value.
func (c *Clock) Increment() int64 {
	c.counters[c.owner]++
	return c.counters[c.owner]
}

// Get returns the counter for a node; absent nodes read as zero.
func (c *Clock) Get(nodeID string) int64 {
	return c.counters[nodeID]
}

// Observe raises the counter for a node to at least value. Used when an
// accepted event carries the originating node's logical clock.
func (c *Clock) Observe(nodeID string, value int64) {
	if value > c.counters[nodeID] {
		c.counters[nodeID] = value
	}
}

// Merge takes the pointwise maximum of both clocks into this one.
func (c *Clock) Merge(other map[string]int64) {
	for node, count := range other {
		if count > c.counters[node] {
			c.counters[node] = count
		}
	}
}

// Export returns a copy of the counters for transmission.
func (c *Clock) Export() map[string]int64 {
	out := make(map[string]int64, len(c.counters))
	maps.Copy(out, c.counters)
	return out
}

// Compare relates this clock to another counter snapshot.
//
// The comparison must range over the union of node IDs from both clocks,
// with absent entries read as zero. Comparing only the intersection
// mis-detects causality when nodes have partially overlapping histories.
func (c *Clock) Compare(other map[string]int64) Relation {
	selfAhead := false
	otherAhead := false

	for node, count := range c.counters {
		if count > other[node] {
			selfAhead = true
		} else if count < other[node] {
			otherAhead = true
		}
	}
	for node, count := range other {
		if _, seen := c.counters[node]; !seen && count > 0 {
			otherAhead = true
		}
	}

	switch {
	case selfAhead && otherAhead:
		return Concurrent
	case selfAhead:
		return After
	case otherAhead:
		return Before
	default:
		return Equal
	}
}

// IsConcurrent reports whether neither clock causally precedes the other.
func (c *Clock) IsConcurrent(other map[string]int64) bool {
	return c.Compare(other) == Concurrent
}
