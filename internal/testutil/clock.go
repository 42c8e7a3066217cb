// Package testutil provides deterministic clocks and ID generators for
// tests. Production code takes these as injected dependencies; tests pin
// them so event payloads and schedules are reproducible.
package testutil

import (
	"fmt"
	"sync"
	"time"
)

// Clock is a manually advanced wall clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at the given instant.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current instant without advancing.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// IDs yields sequential identifiers with a fixed prefix: p-1, p-2, ...
// A stand-in for UUID generation wherever tests need stable IDs.
type IDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewIDs builds a generator with the given prefix.
func NewIDs(prefix string) *IDs {
	return &IDs{prefix: prefix}
}

// Next returns the next identifier.
func (g *IDs) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
