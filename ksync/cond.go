// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ksync

import "sync"

// A Cond is a pure FIFO wait queue with monitor semantics:
// Wait releases the caller's lock and blocks atomically with respect
// to Signal and Broadcast, and re-acquires the lock before returning.
type Cond struct {
	lock Spinlock
	q    waitq
}

// Wait blocks uninterruptibly until signaled.
func (c *Cond) Wait(w Waiter, l sync.Locker) {
	if r := c.wait(w, l, false, nil, 0); r != Done {
		panic("ksync: uninterruptible wait ended with " + r.String())
	}
}

// WaitIntr blocks until signaled or until an unblocked signal
// is pending for w.
func (c *Cond) WaitIntr(w Waiter, l sync.Locker) Result {
	return c.wait(w, l, true, nil, 0)
}

// WaitTimed is WaitIntr with a deadline ticks in the future.
// A deadline that has already passed returns TimedOut at once,
// with l still held.
func (c *Cond) WaitTimed(w Waiter, l sync.Locker, t Timers, ticks int) Result {
	if ticks <= 0 {
		return TimedOut
	}
	return c.wait(w, l, true, t, ticks)
}

func (c *Cond) wait(w Waiter, l sync.Locker, intr bool, t Timers, ticks int) Result {
	e := NewECB(w, 2)
	c.lock.Lock()
	c.q.push(e)
	if t != nil {
		e.arm(t, ticks)
	}
	c.lock.Unlock()
	if l != nil {
		l.Unlock()
	}

	w.Sleep(e, intr)

	c.lock.Lock()
	c.q.remove(e)
	c.lock.Unlock()
	e.disarm()
	if l != nil {
		l.Lock()
	}
	return e.Result()
}

// Signal wakes the first waiter that has not already been woken
// by a signal or timeout.
func (c *Cond) Signal() {
	c.lock.Lock()
	defer c.lock.Unlock()
	for e := c.q.pop(); e != nil; e = c.q.pop() {
		if e.Complete(Done) {
			return
		}
	}
}

// Broadcast wakes every current waiter.
func (c *Cond) Broadcast() {
	c.lock.Lock()
	defer c.lock.Unlock()
	for e := c.q.pop(); e != nil; e = c.q.pop() {
		e.Complete(Done)
	}
}

// Len returns the number of queued waiters.
func (c *Cond) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.q.n
}

// Waiters lists the queued waiters in FIFO order.
func (c *Cond) Waiters() []WaitInfo {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.q.info()
}
