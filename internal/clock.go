// Package internal provides internal utility functions and types used across the resilience layer.
package internal

import "time"

// Clock returns the current time. Components take a Clock so tests can
// drive TTL expiry and retry schedules without sleeping.
type Clock func() time.Time

// SystemClock is the wall clock
func SystemClock() time.Time {
	return time.Now()
}

// OrSystem returns c, or SystemClock when c is nil
func (c Clock) OrSystem() Clock {
	if c == nil {
		return SystemClock
	}
	return c
}

// FakeClock is a manually advanced clock for tests
type FakeClock struct {
	now safeTime
}

// NewFakeClock creates a fake clock set to start
func NewFakeClock(start time.Time) *FakeClock {
	c := &FakeClock{}
	c.now.set(start)
	return c
}

// Now returns the fake current time
func (c *FakeClock) Now() time.Time {
	return c.now.get()
}

// Advance moves the clock forward by d
func (c *FakeClock) Advance(d time.Duration) {
	c.now.add(d)
}

// Set moves the clock to t
func (c *FakeClock) Set(t time.Time) {
	c.now.set(t)
}
