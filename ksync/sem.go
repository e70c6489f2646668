// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ksync

// A Semaphore is a non-negative counter plus a FIFO of waiters.
// The zero value has count zero; use Init or NewSemaphore to set a count.
type Semaphore struct {
	lock  Spinlock
	count int
	q     waitq
	Name  string
}

// NewSemaphore returns a semaphore holding count units.
func NewSemaphore(name string, count int) *Semaphore {
	s := new(Semaphore)
	s.Init(name, count)
	return s
}

// Init resets s to hold count units. s must have no waiters.
func (s *Semaphore) Init(name string, count int) {
	if count < 0 {
		panic("ksync: negative semaphore count")
	}
	s.Name = name
	s.lock.Name = name
	s.count = count
}

// Down takes one unit, blocking uninterruptibly while none is available.
func (s *Semaphore) Down(w Waiter) {
	if r := s.down(w, false, nil, 0); r != Done {
		panic("ksync: uninterruptible down ended with " + r.String())
	}
}

// DownNoWait takes one unit if one is available and never blocks.
func (s *Semaphore) DownNoWait() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.count > 0 {
		s.count--
		return true
	}
	return false
}

// DownIntr is Down, except that it returns Interrupted if an unblocked
// signal is pending before or while the caller waits.
func (s *Semaphore) DownIntr(w Waiter) Result {
	return s.down(w, true, nil, 0)
}

// DownTimed is DownIntr with a deadline ticks in the future,
// after which it returns TimedOut. A deadline that has already
// passed returns TimedOut at once unless a unit is free.
func (s *Semaphore) DownTimed(w Waiter, t Timers, ticks int) Result {
	return s.down(w, true, t, ticks)
}

func (s *Semaphore) down(w Waiter, intr bool, t Timers, ticks int) Result {
	s.lock.Lock()
	if s.count > 0 {
		s.count--
		s.lock.Unlock()
		return Done
	}
	if intr && w.SignalPending() {
		s.lock.Unlock()
		return Interrupted
	}
	if t != nil && ticks <= 0 {
		s.lock.Unlock()
		return TimedOut
	}
	e := NewECB(w, 2)
	s.q.push(e)
	if t != nil {
		e.arm(t, ticks)
	}
	s.lock.Unlock()

	w.Sleep(e, intr)

	s.lock.Lock()
	s.q.remove(e)
	s.lock.Unlock()
	e.disarm()
	return e.Result()
}

// Up releases one unit: to the first waiter not already woken by a
// signal or timeout, or back to the counter if there is none.
func (s *Semaphore) Up() {
	s.up(0)
}

// UpMutex is Up for a semaphore used as a mutex: the counter never
// exceeds one.
func (s *Semaphore) UpMutex() {
	s.up(1)
}

func (s *Semaphore) up(max int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for e := s.q.pop(); e != nil; e = s.q.pop() {
		if e.Complete(Done) {
			return
		}
	}
	if max > 0 && s.count >= max {
		return
	}
	s.count++
}

// Count returns the number of available units.
func (s *Semaphore) Count() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.count
}

// Waiters lists the queued waiters in FIFO order.
func (s *Semaphore) Waiters() []WaitInfo {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.q.info()
}
