// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sched implements the per-CPU run queues of the kernel scheduler.
//
// Each CPU has sixteen FIFO ready queues, one per priority (0 lowest,
// 15 highest), an active slot holding the task currently selected to
// run, and an idle guard that is selected only when every queue is
// empty. A RunQueue owns the runnable entries of its CPU; all methods
// lock the queue themselves.
package sched

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"rsc.io/smpkern/ksync"
)

const (
	NPRIO          = 16
	MaxPrio        = NPRIO - 1
	DefaultQuantum = 10
	LoadInterval   = 100 // ticks between load recomputations
	None           = -1  // no task
)

// A Runnable is a CPU's view of a task eligible to run.
type Runnable struct {
	Tid         int
	Valid       bool
	Prio        int
	Quantum     int
	NeedResched bool

	yielded   bool
	preempted bool
	idle      bool
}

type fifo struct {
	items []*Runnable
}

func (f *fifo) push(r *Runnable) { f.items = append(f.items, r) }

func (f *fifo) pop() *Runnable {
	if len(f.items) == 0 {
		return nil
	}
	r := f.items[0]
	f.items[0] = nil
	f.items = f.items[1:]
	return r
}

func (f *fifo) remove(r *Runnable) bool {
	for i, r1 := range f.items {
		if r1 == r {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return true
		}
	}
	return false
}

// A RunQueue is one CPU's scheduling state.
type RunQueue struct {
	_ cpu.CacheLinePad

	lock     ksync.Spinlock
	cpu      int
	quantum  int
	queues   [NPRIO]fifo
	runnable map[int]*Runnable
	active   *Runnable
	idle     *Runnable

	nready atomic.Int32 // queued entries
	nrun   atomic.Int32 // non-idle runnables, readable without lock

	window    uint64
	busyTicks uint64
	idleTicks uint64
	load      atomic.Int32

	_ cpu.CacheLinePad
}

// New returns the run queue for cpu. Tasks exhausting their quantum
// are refreshed with quantum ticks.
func New(cpuID, quantum int) *RunQueue {
	if quantum <= 0 {
		quantum = DefaultQuantum
	}
	q := &RunQueue{
		cpu:      cpuID,
		quantum:  quantum,
		runnable: make(map[int]*Runnable),
	}
	q.lock.Name = fmt.Sprintf("runq%d", cpuID)
	return q
}

func (q *RunQueue) CPU() int     { return q.cpu }
func (q *RunQueue) Quantum() int { return q.quantum }

// SetIdle installs tid as the CPU's idle guard. It can be set once.
func (q *RunQueue) SetIdle(tid int) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.idle != nil {
		panic(fmt.Sprintf("sched: cpu %d: idle task already set", q.cpu))
	}
	r := &Runnable{Tid: tid, Valid: true, idle: true}
	q.idle = r
	q.runnable[tid] = r
}

// Enqueue makes tid runnable on this CPU at priority min(prio+1, MaxPrio)
// with the given remaining quantum (a fresh quantum if quantum <= 0).
// It reports whether tid outranks the active task, in which case the
// active task has been marked for rescheduling.
func (q *RunQueue) Enqueue(tid, prio, quantum int) (preempt bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if _, ok := q.runnable[tid]; ok {
		panic(fmt.Sprintf("sched: cpu %d: tid %d enqueued twice", q.cpu, tid))
	}
	prio = clamp(prio + 1)
	if quantum <= 0 {
		quantum = q.quantum
	}
	r := &Runnable{Tid: tid, Valid: true, Prio: prio, Quantum: quantum}
	q.runnable[tid] = r
	q.queues[prio].push(r)
	q.nready.Add(1)
	q.nrun.Add(1)

	if a := q.active; a != nil && (a.idle || prio > a.Prio) {
		a.NeedResched = true
		a.preempted = true
		return true
	}
	return false
}

// Dequeue removes tid from this CPU and returns the priority and
// quantum it had left. Dequeuing the idle guard is fatal.
func (q *RunQueue) Dequeue(tid int) (prio, quantum int, ok bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	r, ok := q.runnable[tid]
	if !ok {
		return 0, 0, false
	}
	if r.idle {
		panic(fmt.Sprintf("sched: cpu %d: dequeue of idle task %d", q.cpu, tid))
	}
	if r == q.active {
		q.active = nil
	} else if q.queues[r.Prio].remove(r) {
		q.nready.Add(-1)
	} else {
		panic(fmt.Sprintf("sched: cpu %d: runnable %d not queued", q.cpu, tid))
	}
	r.Valid = false
	delete(q.runnable, tid)
	q.nrun.Add(-1)
	return r.Prio, r.Quantum, true
}

// Tick charges one timer tick to the active task and reports whether
// the CPU should reschedule at its next opportunity.
func (q *RunQueue) Tick() bool {
	q.lock.Lock()
	defer q.lock.Unlock()

	a := q.active
	if a == nil || a.idle {
		q.idleTicks++
	} else {
		q.busyTicks++
		if a.Quantum > 0 {
			a.Quantum--
		}
		if a.Quantum == 0 {
			a.NeedResched = true
		}
	}
	if q.window++; q.window >= LoadInterval {
		if total := q.busyTicks + q.idleTicks; total > 0 {
			q.load.Store(int32(q.busyTicks * 100 / total))
		}
		q.window, q.busyTicks, q.idleTicks = 0, 0, 0
	}
	return q.needResched()
}

// Yield gives up the rest of this turn for the active task without
// losing its remaining quantum.
func (q *RunQueue) Yield() {
	q.lock.Lock()
	defer q.lock.Unlock()
	if a := q.active; a != nil {
		a.yielded = true
		a.NeedResched = true
	}
}

// NeedResched reports whether the active task should be switched out.
func (q *RunQueue) NeedResched() bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.needResched()
}

func (q *RunQueue) needResched() bool {
	a := q.active
	if a == nil {
		return true
	}
	if a.idle {
		return q.nready.Load() > 0
	}
	return a.NeedResched
}

// Schedule selects the task to run next and returns its tid.
//
// An active task that has quantum left and has neither yielded nor been
// preempted keeps the CPU. Otherwise it goes to the tail of the queue
// for its priority, first decaying one level and taking a fresh quantum
// if its quantum ran out, and the head of the highest non-empty queue
// becomes active. The idle guard runs only when every queue is empty.
func (q *RunQueue) Schedule() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	a := q.active
	if a != nil && !a.idle && a.Quantum > 0 && !a.yielded && !a.preempted {
		a.NeedResched = false
		return a.Tid
	}
	if a != nil {
		if !a.idle {
			if a.Quantum <= 0 {
				a.Prio = max(a.Prio-1, 0)
				a.Quantum = q.quantum
			}
			q.queues[a.Prio].push(a)
			q.nready.Add(1)
		}
		a.yielded, a.preempted, a.NeedResched = false, false, false
		q.active = nil
	}
	for p := MaxPrio; p >= 0; p-- {
		if r := q.queues[p].pop(); r != nil {
			q.nready.Add(-1)
			q.active = r
			return r.Tid
		}
	}
	if q.idle == nil {
		panic(fmt.Sprintf("sched: cpu %d: no runnable task", q.cpu))
	}
	q.active = q.idle
	return q.idle.Tid
}

// Active returns the tid of the active task, or None.
func (q *RunQueue) Active() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.active == nil {
		return None
	}
	return q.active.Tid
}

// Lookup returns a copy of tid's runnable entry.
func (q *RunQueue) Lookup(tid int) (Runnable, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	r, ok := q.runnable[tid]
	if !ok {
		return Runnable{}, false
	}
	return *r, true
}

// Reprioritize sets tid's priority. A queued task moves to the tail
// of its new queue; the active task keeps the CPU.
func (q *RunQueue) Reprioritize(tid, prio int) bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	r, ok := q.runnable[tid]
	if !ok || r.idle {
		return false
	}
	prio = clamp(prio)
	if r != q.active && q.queues[r.Prio].remove(r) {
		q.queues[prio].push(r)
	}
	r.Prio = prio
	return true
}

// Len returns the number of non-idle tasks runnable on this CPU,
// the active one included. It does not take the queue lock: the value
// is a hint for load balancing and may be stale.
func (q *RunQueue) Len() int {
	return int(q.nrun.Load())
}

// Load returns the percentage of ticks the CPU spent running non-idle
// tasks over the last complete LoadInterval.
func (q *RunQueue) Load() int {
	return int(q.load.Load())
}

// Tids returns every runnable tid on this CPU, active first,
// then by descending priority, idle last.
func (q *RunQueue) Tids() []int {
	q.lock.Lock()
	defer q.lock.Unlock()
	var list []int
	if q.active != nil && !q.active.idle {
		list = append(list, q.active.Tid)
	}
	for p := MaxPrio; p >= 0; p-- {
		for _, r := range q.queues[p].items {
			list = append(list, r.Tid)
		}
	}
	if q.idle != nil {
		list = append(list, q.idle.Tid)
	}
	return list
}

func clamp(prio int) int {
	return min(max(prio, 0), MaxPrio)
}

// Pick chooses a CPU for a task with the given affinity: the affinity
// CPU if there is one, otherwise the CPU with the fewest queued tasks.
// Queue lengths are read without locking; a stale read only costs balance.
func Pick(qs []*RunQueue, affinity int) int {
	if affinity >= 0 && affinity < len(qs) {
		return affinity
	}
	best, n := 0, qs[0].Len()
	for i, q := range qs[1:] {
		if l := q.Len(); l < n {
			best, n = i+1, l
		}
	}
	return best
}
