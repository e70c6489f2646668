// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ksync

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sync/atomic"
)

// A Result is the outcome of a blocking wait.
type Result int32

const (
	pending Result = iota
	Done
	Interrupted
	TimedOut
)

func (r Result) String() string {
	switch r {
	case pending:
		return "pending"
	case Done:
		return "done"
	case Interrupted:
		return "interrupted"
	case TimedOut:
		return "timed out"
	}
	return fmt.Sprintf("Result(%d)", int32(r))
}

// A Waiter is an execution context that can block on an ECB.
type Waiter interface {
	// Tid identifies the waiter in diagnostics.
	Tid() int

	// Sleep parks the caller until e completes.
	// If intr is set and an unblocked signal is pending, or becomes
	// pending while parked, the wait ends with Interrupted.
	// Sleep is called with no spinlocks held.
	Sleep(e *ECB, intr bool)

	// Wakeup makes the waiter parked on e runnable again.
	// It is a no-op if the waiter has not parked yet;
	// Sleep notices the completed ECB instead.
	Wakeup(e *ECB)

	// SignalPending reports whether an unblocked signal is pending.
	SignalPending() bool
}

// Timers schedules callbacks a number of ticks in the future.
type Timers interface {
	After(ticks int, f func()) (cancel func() bool)
}

// An ECB (event control block) links a blocked waiter to the
// primitive it is queued on.
type ECB struct {
	W      Waiter
	Tid    int
	Site   string
	result atomic.Int32
	cancel func() bool
	next   *ECB
	prev   *ECB
	queued bool
}

// NewECB returns an ECB for w recording the call site skip frames
// above the caller.
func NewECB(w Waiter, skip int) *ECB {
	e := &ECB{W: w, Tid: w.Tid()}
	if _, file, line, ok := runtime.Caller(skip + 1); ok {
		e.Site = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	return e
}

// Result returns e's outcome, or 0 while it is still pending.
func (e *ECB) Result() Result {
	return Result(e.result.Load())
}

// Completed reports whether e has an outcome.
func (e *ECB) Completed() bool {
	return e.Result() != pending
}

// Abort records r as e's outcome without waking the waiter.
// It reports whether r won.
func (e *ECB) Abort(r Result) bool {
	return e.result.CompareAndSwap(int32(pending), int32(r))
}

// Complete records r as e's outcome and wakes the waiter.
// Only the first of Complete and Abort has any effect;
// Complete reports whether it was first.
func (e *ECB) Complete(r Result) bool {
	if !e.Abort(r) {
		return false
	}
	e.W.Wakeup(e)
	return true
}

// arm registers a timeout that completes e with TimedOut.
func (e *ECB) arm(t Timers, ticks int) {
	e.cancel = t.After(ticks, func() { e.Complete(TimedOut) })
}

// disarm cancels a pending timeout, if any.
func (e *ECB) disarm() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

// A waitq is a FIFO of ECBs. It is guarded by the owning primitive's lock.
type waitq struct {
	head *ECB
	tail *ECB
	n    int
}

func (q *waitq) push(e *ECB) {
	e.prev = q.tail
	e.next = nil
	if q.tail != nil {
		q.tail.next = e
	} else {
		q.head = e
	}
	q.tail = e
	e.queued = true
	q.n++
}

func (q *waitq) pop() *ECB {
	e := q.head
	if e != nil {
		q.remove(e)
	}
	return e
}

// remove unlinks e. Removing an ECB that is no longer queued is a no-op,
// so both the waker and the waiter may call it.
func (q *waitq) remove(e *ECB) {
	if !e.queued {
		return
	}
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		q.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		q.tail = e.prev
	}
	e.next, e.prev = nil, nil
	e.queued = false
	q.n--
}

// A WaitInfo describes one queued waiter for contention diagnostics.
type WaitInfo struct {
	Tid  int
	Site string
}

func (q *waitq) info() []WaitInfo {
	var list []WaitInfo
	for e := q.head; e != nil; e = e.next {
		list = append(list, WaitInfo{e.Tid, e.Site})
	}
	return list
}
