// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package clock keeps kernel time in ticks and runs callbacks
// registered for a future tick.
package clock

import (
	"sort"
	"time"

	"rsc.io/smpkern/ksync"
)

// A Clock is a tick counter plus a list of pending timers ordered by
// expiry. Advance is called once per timer interrupt.
type Clock struct {
	lock  ksync.Spinlock
	hz    int
	boot  time.Time
	now   uint64
	seq   uint64
	timer []*timer
}

type timer struct {
	when uint64
	seq  uint64
	f    func()
}

// New returns a clock ticking hz times per second of wall time,
// with tick 0 at boot.
func New(hz int, boot time.Time) *Clock {
	if hz <= 0 {
		hz = 100
	}
	c := &Clock{hz: hz, boot: boot}
	c.lock.Name = "clock"
	return c
}

// Now returns the current tick.
func (c *Clock) Now() uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

// Wall returns the wall-clock time of the current tick.
func (c *Clock) Wall() time.Time {
	return c.boot.Add(c.Duration(int(c.Now())))
}

// Duration converts ticks to wall-clock time.
func (c *Clock) Duration(ticks int) time.Duration {
	return time.Duration(ticks) * time.Second / time.Duration(c.hz)
}

// After arranges for f to run on the tick ticks from now, from the
// goroutine calling Advance. Timers due on the same tick run in
// registration order. The returned cancel func reports whether it
// stopped the timer before it ran.
func (c *Clock) After(ticks int, f func()) (cancel func() bool) {
	if ticks < 1 {
		ticks = 1
	}
	c.lock.Lock()
	t := &timer{when: c.now + uint64(ticks), seq: c.seq, f: f}
	c.seq++
	i := sort.Search(len(c.timer), func(i int) bool {
		return c.timer[i].when > t.when
	})
	c.timer = append(c.timer, nil)
	copy(c.timer[i+1:], c.timer[i:])
	c.timer[i] = t
	c.lock.Unlock()
	return func() bool { return c.cancel(t) }
}

func (c *Clock) cancel(t *timer) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	for i, t1 := range c.timer {
		if t1 == t {
			c.timer = append(c.timer[:i], c.timer[i+1:]...)
			return true
		}
	}
	return false
}

// Deadline returns the absolute tick for a timer registered ticks from now.
func (c *Clock) Deadline(ticks int) uint64 {
	if ticks < 1 {
		ticks = 1
	}
	return c.Now() + uint64(ticks)
}

// Advance moves the clock forward one tick and runs every timer that
// became due, outside the clock lock.
func (c *Clock) Advance() {
	c.lock.Lock()
	c.now++
	n := 0
	for n < len(c.timer) && c.timer[n].when <= c.now {
		n++
	}
	due := append([]*timer(nil), c.timer[:n]...)
	c.timer = append(c.timer[:0], c.timer[n:]...)
	c.lock.Unlock()

	for _, t := range due {
		t.f()
	}
}

// Pending returns the number of armed timers.
func (c *Clock) Pending() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.timer)
}
