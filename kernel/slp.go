// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"fmt"

	"rsc.io/smpkern/ksync"
)

// Tasks implement ksync.Waiter, so any task can block on the
// kernel's semaphores and condition variables.
var _ ksync.Waiter = (*Task)(nil)

/*
 * Give up the processor until e completes.
 * If intr is set, a signal the task does not block,
 * or an exit request, ends the wait early
 * with ksync.Interrupted.
 * Callers hold no spinlocks and must be prepared to
 * find that the reason for sleeping has not gone away.
 */
func (t *Task) Sleep(e *ksync.ECB, intr bool) {
	if t.idle {
		panic("kernel: idle task sleeping")
	}
	if t.cpu.ncli.Load() != 0 {
		panic(fmt.Sprintf("kernel: %v: sleep with interrupts masked", t))
	}
	// A timeout completing e on this cpu waits for the unlock.
	c := t.cpu
	t.lock.LockIRQ(c)
	if e.Completed() {
		t.lock.UnlockIRQ(c)
		return
	}
	if intr && t.interruptible() {
		e.Abort(ksync.Interrupted)
		t.lock.UnlockIRQ(c)
		return
	}
	t.ecb = e
	if intr {
		t.leave(TaskBlockedIntr)
	} else {
		t.leave(TaskBlocked)
	}
	t.lock.UnlockIRQ(c)
	t.swtch()
}

/*
 * Wake up the task sleeping on e.
 * It is a no-op if the task is not
 * sleeping on e (yet or any more).
 */
func (t *Task) Wakeup(e *ksync.ECB) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.ecb != e || (t.status != TaskBlocked && t.status != TaskBlockedIntr) {
		return
	}
	t.ecb = nil
	t.ready(nil)
}

// SignalPending reports whether an interruptible wait by t should end.
func (t *Task) SignalPending() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.interruptible()
}

// interruptible reports whether t has a deliverable signal or must exit.
// t.lock must be held.
func (t *Task) interruptible() bool {
	return t.pending&^t.blocked != 0 || t.pending&t.waitfor != 0 ||
		t.killed.Load() || t.proc.exiting.Load()
}

// interruptUnlock ends t's interruptible wait, if any, and resumes t
// if it is stopped and resume is set. The ECB is completed after t.lock is
// released: completing it calls back into t.Wakeup.
// t.lock must be held on entry; it is released.
func (t *Task) interruptUnlock(resume bool) {
	var e *ksync.ECB
	switch t.status {
	case TaskBlockedIntr:
		e = t.ecb
	case TaskStopped:
		if resume {
			t.ready(nil)
		}
	}
	t.lock.Unlock()
	if e != nil {
		e.Complete(ksync.Interrupted)
	}
}

// preempt gives up the cpu at a kernel boundary, keeping t runnable.
func (t *Task) preempt() {
	t.swtch()
}

// Checkpoint is a return to user mode: t handles pending signals,
// honors exit requests and gives up the cpu if it should. Programs
// that compute for a long time without making syscalls should call
// it regularly.
func (t *Task) Checkpoint() {
	if t.idle {
		return
	}
	for {
		t.checkExit()
		if t.doSignal() {
			continue
		}
		if t.cpu.rq.NeedResched() {
			t.preempt()
			continue
		}
		return
	}
}

// checkExit ends t if it or its process has been told to exit.
func (t *Task) checkExit() {
	if t.killed.Load() || t.proc.exiting.Load() {
		t.exitTask()
	}
}
