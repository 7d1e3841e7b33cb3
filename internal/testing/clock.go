// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

// Clock implements clock.Clock for tests. Every wait fires at once
// and advances Now by the requested duration, so retry budgets
// measured in minutes complete instantly while the total time slept
// stays observable.
type Clock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

var _ clock.Clock = (*Clock)(nil)

// NewClock returns a new clock set to the supplied time.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now is part of the clock.Clock interface.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After is part of the clock.Clock interface.
func (c *Clock) After(d time.Duration) <-chan time.Time {
	notify := make(chan time.Time, 1)
	notify <- c.advance(d)
	return notify
}

// AfterFunc is part of the clock.Clock interface.
func (c *Clock) AfterFunc(d time.Duration, f func()) clock.Timer {
	t := c.NewTimer(d)
	f()
	return t
}

// NewTimer is part of the clock.Clock interface.
func (c *Clock) NewTimer(d time.Duration) clock.Timer {
	t := &Timer{clock: c, ch: make(chan time.Time, 1)}
	t.ch <- c.advance(d)
	return t
}

// At is part of the clock.Clock interface.
func (c *Clock) At(t time.Time) <-chan time.Time {
	return c.After(c.until(t))
}

// AtFunc is part of the clock.Clock interface.
func (c *Clock) AtFunc(t time.Time, f func()) clock.Alarm {
	a := c.NewAlarm(t)
	f()
	return a
}

// NewAlarm is part of the clock.Clock interface.
func (c *Clock) NewAlarm(t time.Time) clock.Alarm {
	a := &Alarm{clock: c, ch: make(chan time.Time, 1)}
	a.ch <- c.advance(c.until(t))
	return a
}

// until returns how far t lies ahead of Now.
func (c *Clock) until(t time.Time) time.Duration {
	return t.Sub(c.Now())
}

// Waits returns every duration waited on, in order.
func (c *Clock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

// Elapsed returns the sum of every wait.
func (c *Clock) Elapsed() time.Duration {
	var total time.Duration
	for _, d := range c.Waits() {
		total += d
	}
	return total
}

func (c *Clock) advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	c.waits = append(c.waits, d)
	return c.now
}

// Timer implements clock.Timer for Clock. It has always fired.
type Timer struct {
	clock *Clock
	ch    chan time.Time
}

// Chan is part of the clock.Timer interface.
func (t *Timer) Chan() <-chan time.Time {
	return t.ch
}

// Reset is part of the clock.Timer interface.
func (t *Timer) Reset(d time.Duration) bool {
	select {
	case <-t.ch:
	default:
	}
	t.ch <- t.clock.advance(d)
	return false
}

// Stop is part of the clock.Timer interface.
func (t *Timer) Stop() bool {
	return false
}

// Alarm implements clock.Alarm for Clock. Like Timer it has always
// fired.
type Alarm struct {
	clock *Clock
	ch    chan time.Time
}

// Chan is part of the clock.Alarm interface.
func (a *Alarm) Chan() <-chan time.Time {
	return a.ch
}

// Reset is part of the clock.Alarm interface.
func (a *Alarm) Reset(t time.Time) bool {
	select {
	case <-a.ch:
	default:
	}
	a.ch <- a.clock.advance(a.clock.until(t))
	return false
}

// Stop is part of the clock.Alarm interface.
func (a *Alarm) Stop() bool {
	return false
}
