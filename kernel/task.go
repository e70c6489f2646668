// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"fmt"
	"sync/atomic"

	"rsc.io/smpkern/ksync"
)

// A TaskStatus is a task's place in its life cycle:
//
//	TaskNew -> TaskRunning <-> {TaskBlocked, TaskBlockedIntr, TaskStopped} -> TaskDone
//
// A running task leaves TaskRunning only on its own CPU. Any CPU holding
// the task's lock may return a blocked or stopped task to TaskRunning.
type TaskStatus int8

const (
	TaskNew TaskStatus = iota
	TaskRunning
	TaskBlocked
	TaskBlockedIntr
	TaskStopped
	TaskDone
)

func (s TaskStatus) String() string {
	switch s {
	case TaskNew:
		return "New"
	case TaskRunning:
		return "Running"
	case TaskBlocked:
		return "Blocked"
	case TaskBlockedIntr:
		return "BlockedIntr"
	case TaskStopped:
		return "Stopped"
	case TaskDone:
		return "Done"
	}
	return fmt.Sprintf("TaskStatus(%d)", s)
}

// A Context is the saved switch state of a task that is not running.
type Context struct {
	SP   uintptr
	ASID int
}

// Regs is the user register state visible to a task's program.
// Ret holds the last syscall's return value, or -errno on failure.
type Regs struct {
	PC   uintptr
	SP   uintptr
	Ret  int
	Args [6]int
}

const fpuSize = 512

// A Task is a schedulable thread of execution in a process.
type Task struct {
	lock ksync.Spinlock

	k        *Kernel
	slot     int
	tid      int
	proc     *Process
	status   TaskStatus
	ctx      Context // valid only while not running
	prio     int
	quantum  int
	affinity int
	cpu      *CPU // cpu running the task, or the last one
	idle     bool

	blocked SigSet
	pending SigSet
	waitfor SigSet // signals an explicit sigwait accepts
	oldmask SigSet // mask sigsuspend restores
	restore bool

	ecb    *ksync.ECB // wait in progress
	float  atomic.Pointer[handoff]
	killed atomic.Bool // exit at the next kernel boundary

	fpuDirty bool
	fpu      []byte // saved FPU registers

	stack  Stack
	run    chan *CPU
	body   Program
	argv   []string
	thread bool // created by CreateThread
	code   int  // ThreadExit status

	// User state.
	Regs     Regs
	frames   []SigFrame
	nhandled int          // signal handlers run
	depth    atomic.Int32 // syscalls in progress

	pause ksync.Cond
	utime atomic.Int64
	stime atomic.Int64
}

func (t *Task) Tid() int           { return t.tid }
func (t *Task) Pid() int           { return t.proc.pid }
func (t *Task) Process() *Process  { return t.proc }
func (t *Task) Kernel() *Kernel    { return t.k }
func (t *Task) Args() []string     { return t.argv }
func (t *Task) Idle() bool         { return t.idle }
func (t *Task) Frames() []SigFrame { return t.frames }

func (t *Task) String() string {
	return fmt.Sprintf("task %d (pid %d)", t.tid, t.proc.pid)
}

// Status returns t's current status.
func (t *Task) Status() TaskStatus {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.status
}

// Blocked returns t's blocked signal mask.
func (t *Task) Blocked() SigSet {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.blocked
}

// CPU returns the id of the cpu t runs on or last ran on.
func (t *Task) CPU() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.cpu == nil {
		return -1
	}
	return t.cpu.id
}

// Context returns t's saved context. It is meaningful only
// while t is not running.
func (t *Task) Context() Context {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.ctx
}

// FPU returns the live FPU registers of t's cpu and marks them dirty,
// so the next switch away from t saves them.
func (t *Task) FPU() []byte {
	t.fpuDirty = true
	return t.cpu.fpu[:]
}

// setStatus changes t's status, enforcing the task state machine.
// t.lock must be held.
func (t *Task) setStatus(s TaskStatus) {
	old := t.status
	ok := false
	switch s {
	case TaskRunning:
		ok = old == TaskNew || old == TaskBlocked || old == TaskBlockedIntr || old == TaskStopped
	case TaskBlocked, TaskBlockedIntr, TaskStopped:
		ok = old == TaskRunning
	case TaskDone:
		ok = old == TaskRunning
	}
	if !ok {
		panic(fmt.Sprintf("kernel: %v: bad transition %v -> %v", t, old, s))
	}
	t.status = s
}

// A TaskRef is a counted reference to a task obtained from GetTask.
type TaskRef struct {
	t    *Task
	done bool
}

// GetTask returns a reference to the task with the given tid.
// The caller must Release it.
func (k *Kernel) GetTask(tid int) (*TaskRef, bool) {
	_, t, ok := k.tasks.get(tid)
	if !ok {
		return nil, false
	}
	return &TaskRef{t: t}, true
}

func (r *TaskRef) Task() *Task {
	if r.done {
		panic("kernel: use of released task reference")
	}
	return r.t
}

// Release drops the reference. A task slot is freed by the release
// that takes its count negative; the owner reference is dropped only
// after the task has left its cpu for good, so a release never frees
// a running task.
func (r *TaskRef) Release() {
	if r.done {
		panic("kernel: task reference released twice")
	}
	r.done = true
	r.t.k.tasks.release(r.t.slot, r.t.tid)
}

// newTask reserves a task slot and a kernel stack for a task of p.
// The task is not visible until activated.
func (k *Kernel) newTask(p *Process, body Program) (*Task, Errno) {
	i, tid, t, err := k.tasks.reserve(nil)
	if err != 0 {
		return nil, err
	}
	st, ok := k.stacks.Alloc(tid)
	if !ok {
		k.tasks.unreserve(i)
		return nil, ENOMEM
	}
	t.k = k
	t.slot = i
	t.tid = tid
	t.proc = p
	t.stack = st
	t.body = body
	t.affinity = AnyCPU
	t.prio = PUSER
	t.run = make(chan *CPU, 1)
	t.lock.Name = fmt.Sprintf("task%d", tid)
	t.Regs.SP = st.Base + st.Size
	return t, 0
}

// dropTask undoes newTask for a task that never ran.
func (k *Kernel) dropTask(t *Task) {
	k.stacks.Free(t.tid)
	k.tasks.unreserve(t.slot)
}

// Tasks returns the tids of all live tasks in slot order.
func (k *Kernel) Tasks() []int {
	var list []int
	k.tasks.each(func(t *Task) { list = append(list, t.tid) })
	return list
}
