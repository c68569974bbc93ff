// Package clock provides the per-node Lamport clock used to order chat events.
package clock

import "sync"

// Lamport is a scalar logical clock.
//
// After any sequence of TickLocal and Observe calls the clock is strictly
// greater than every value it has produced or observed, so a freshly minted
// local event can never reuse a key already seen from the peer.
//
// Thread-safety: Lamport is safe for concurrent use (single mutex).
type Lamport struct {
	mu  sync.Mutex
	now int64
}

// New creates a clock starting at 0. The first TickLocal returns 1.
func New() *Lamport {
	return &Lamport{}
}

// NewAt creates a clock seeded at start.
// Used at startup with the store's max lamport so a restart never reuses
// a value that is already durable.
func NewAt(start int64) *Lamport {
	return &Lamport{now: start}
}

// TickLocal increments the clock and returns the new value.
// Called exactly once per locally originated chat event, before persistence.
func (c *Lamport) TickLocal() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now++
	return c.now
}

// Observe sets the clock to max(clock, remote)+1 and returns the new value.
// Called exactly once per event merged in from the peer.
func (c *Lamport) Observe(remote int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remote > c.now {
		c.now = remote
	}
	c.now++
	return c.now
}

// Current returns the clock value without advancing it.
func (c *Lamport) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
