// Package timeutil wraps the wall clock so run timestamps and pass timings
// can be pinned in tests.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the time source of the engines and the catalog.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// RealClock reads the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

// MockClock starts at a fixed instant and moves on by a configurable step
// after every call to Now. With a zero step it never moves.
type MockClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewMockClock returns a clock stopped at start.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

// SetAutoStep sets the step taken after every reading.
func (c *MockClock) SetAutoStep(d time.Duration) {
	c.mu.Lock()
	c.step = d
	c.mu.Unlock()
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = t.Add(c.step)
	return t
}

// Since does not take a step.
func (c *MockClock) Since(t time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Sub(t)
}
