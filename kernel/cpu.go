// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sys/cpu"

	"rsc.io/smpkern/ksync"
	"rsc.io/smpkern/sched"
)

// A CPU is one virtual processor. Exactly one task goroutine owns a
// CPU at a time: the owner is the task the CPU's run queue made active,
// and ownership passes from task to task over the tasks' run channels.
type CPU struct {
	_ cpu.CacheLinePad

	id   int
	k    *Kernel
	rq   *sched.RunQueue
	idle *Task
	cur  atomic.Pointer[Task]

	ncli     atomic.Int32 // interrupt mask depth
	deferred atomic.Int32 // ticks that arrived while masked
	kick     chan struct{}
	ticks    atomic.Uint64
	ipis     atomic.Uint64

	// Owned by the task holding the cpu.
	post []func()
	fpu  [fpuSize]byte

	_ cpu.CacheLinePad
}

// A handoff marks a task that has left TaskRunning but whose context
// is not saved yet. landed is closed once it is.
type handoff struct {
	landed chan struct{}
}

func newCPU(k *Kernel, id int) *CPU {
	return &CPU{
		id:   id,
		k:    k,
		rq:   sched.New(id, k.cfg.Quantum),
		kick: make(chan struct{}, 1),
	}
}

var _ ksync.IRQMask = (*CPU)(nil)

func (c *CPU) ID() int { return c.id }

// PushOff masks timer interrupts on c. Calls nest.
func (c *CPU) PushOff() { c.ncli.Add(1) }

// PopOff undoes one PushOff. A tick that arrived while masked is
// delivered by the next Tick.
func (c *CPU) PopOff() {
	if c.ncli.Add(-1) < 0 {
		panic(fmt.Sprintf("kernel: cpu %d: unbalanced PopOff", c.id))
	}
}

// interrupt nudges c to reschedule at its next boundary.
func (c *CPU) interrupt() {
	c.ipis.Add(1)
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Tick is the timer interrupt for cpu n. It charges the tick to the
// running task, advances the clock on cpu 0, and marks the cpu for
// rescheduling when the running task's quantum is spent. A tick that
// finds the cpu's interrupts masked is held until the next one.
func (k *Kernel) Tick(n int) {
	c := k.cpus[n]
	if c.ncli.Load() > 0 {
		c.deferred.Add(1)
		return
	}
	for i := c.deferred.Swap(0); i >= 0; i-- {
		c.tick()
	}
}

// TickAll delivers one tick to every cpu.
func (k *Kernel) TickAll() {
	for i := range k.cpus {
		k.Tick(i)
	}
}

func (c *CPU) tick() {
	c.ticks.Add(1)
	if t := c.cur.Load(); t != nil && !t.idle {
		if t.depth.Load() > 0 {
			t.stime.Add(1)
		} else {
			t.utime.Add(1)
		}
	}
	resched := c.rq.Tick()
	if c.id == 0 {
		c.k.clock.Advance()
	}
	if resched {
		c.interrupt()
	}
}

// Current returns the task cpu n is running.
func (k *Kernel) Current(n int) *Task {
	return k.cpus[n].cur.Load()
}

// leave records that t is leaving TaskRunning for s and takes it off
// its cpu's run queue. Until t's next switch saves its context, t is
// floating: a cpu that picks it must wait for it to land.
// t.lock must be held.
func (t *Task) leave(s TaskStatus) {
	t.setStatus(s)
	t.float.Store(&handoff{landed: make(chan struct{})})
	_, q, ok := t.cpu.rq.Dequeue(t.tid)
	if !ok {
		panic(fmt.Sprintf("kernel: %v: running but not on cpu %d", t, t.cpu.id))
	}
	t.quantum = q
}

// ready makes a blocked, stopped or new task runnable on the cpu
// sched.Pick chooses and kicks that cpu if t should preempt its
// active task. from is the caller's cpu, nil if unknown.
// t.lock must be held.
func (t *Task) ready(from *CPU) {
	t.setStatus(TaskRunning)
	k := t.k
	n := sched.Pick(k.rqs, t.affinity)
	if k.rqs[n].Enqueue(t.tid, t.prio, t.quantum) {
		k.kick(n, from)
	}
	t.quantum = 0
}

// kick interrupts cpu n on behalf of a caller running on from.
// A cpu does not interrupt itself: its task notices the pending
// reschedule at its next kernel boundary.
func (k *Kernel) kick(n int, from *CPU) {
	if from != nil && from.id == n {
		return
	}
	k.cpus[n].interrupt()
}

// swtch gives t's cpu to the task its run queue selects and returns
// when t is selected again, possibly on another cpu. A TaskDone task
// never returns. The caller holds no spinlocks.
func (t *Task) swtch() {
	c := t.cpu
	if c.ncli.Load() != 0 {
		panic(fmt.Sprintf("kernel: %v: switch with interrupts masked", t))
	}
	t.save()

	tid := c.rq.Schedule()
	if tid == t.tid {
		return
	}
	next, ok := c.k.tasks.lookup(tid)
	if !ok {
		panic(fmt.Sprintf("kernel: cpu %d: scheduled nonexistent task %d", c.id, tid))
	}
	next.await(c)
	exited := t.status == TaskDone
	c.cur.Store(next)
	next.run <- c

	if exited {
		runtime.Goexit()
	}
	t.land(<-t.run)
}

// save records t's context and ends any hand-off in progress.
func (t *Task) save() {
	c := t.cpu
	t.lock.Lock()
	t.ctx = Context{SP: t.Regs.SP, ASID: t.proc.asid}
	t.lock.Unlock()
	if t.fpuDirty {
		if t.fpu == nil {
			t.fpu = make([]byte, fpuSize)
		}
		copy(t.fpu, c.fpu[:])
		t.fpuDirty = false
	}
	if h := t.float.Swap(nil); h != nil {
		close(h.landed)
	}
}

// await waits until t, picked by c, has finished leaving its old cpu.
func (t *Task) await(c *CPU) {
	h := t.float.Load()
	if h == nil {
		return
	}
	timer := time.NewTimer(c.k.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case <-h.landed:
	case <-timer.C:
		panic(fmt.Sprintf("kernel: cpu %d: %v still floating after %v", c.id, t, c.k.cfg.HandoffTimeout))
	}
}

// land installs t on c after a switch and runs c's post-switch hooks.
func (t *Task) land(c *CPU) {
	t.lock.Lock()
	t.cpu = c
	t.lock.Unlock()
	if t.fpu != nil {
		copy(c.fpu[:], t.fpu)
	} else {
		clear(c.fpu[:])
	}
	post := c.post
	c.post = nil
	for _, f := range post {
		f()
	}
}

// idleLoop runs on each cpu's idle task. It switches to real work
// whenever some is queued and otherwise waits for an interrupt.
func (c *CPU) idleLoop(t *Task) {
	for {
		if c.rq.NeedResched() {
			t.swtch()
			continue
		}
		select {
		case <-c.kick:
		case <-c.k.halt:
			runtime.Goexit()
		}
	}
}
