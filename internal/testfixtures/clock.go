package testfixtures

import (
	"sync"
	"time"
)

// Clock is a manual time source shared by generation runs, leases and the
// scheduler in tests. Runs read "today" from it, so moving it by whole days
// rolls the generation window.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts at start, or at ReferenceTime when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NowFunc returns Now for Options.Now style fields. A nil clock yields
// time.Now.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance is used for lease expiry, which runs on wall durations.
func (c *Clock) Advance(d time.Duration) time.Time {
	return c.move(func(t time.Time) time.Time { return t.Add(d) })
}

// AdvanceDays moves to the same wall time days later, i.e. the next nightly
// run.
func (c *Clock) AdvanceDays(days int) time.Time {
	return c.move(func(t time.Time) time.Time { return t.AddDate(0, 0, days) })
}

func (c *Clock) move(step func(time.Time) time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = step(c.now)
	return c.now
}
