// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import "fmt"

// execUnwind is the panic value Exec uses to abandon the old
// program's stack. runProgram recovers it.
type execUnwind struct{}

// main is the body of a task's goroutine. It waits for a cpu,
// runs the task's program, and runs the new one after each exec.
func (t *Task) main() {
	t.land(<-t.run)
	for t.runProgram() {
	}
	if t.thread {
		t.ThreadExit(0)
	} else {
		t.Exit(0)
	}
}

// runProgram runs t.body and reports whether it ended in exec.
func (t *Task) runProgram() (exec bool) {
	defer func() {
		if e := recover(); e != nil {
			if _, ok := e.(execUnwind); ok {
				exec = true
				return
			}
			panic(e)
		}
	}()
	t.Checkpoint()
	t.body(t)
	return false
}

// Exit terminates the calling process with status code.
// Every task of the process exits at its next kernel boundary.
// Exit does not return.
func (t *Task) Exit(code int) {
	k := t.k
	if k.cfg.Trace {
		k.tracef(t, "exit(%d)", code)
	}
	p := t.proc
	p.lock.Lock()
	k.exitProcLocked(p, exitStatus(code))
	p.unlock()
	t.exitTask()
}

// ThreadExit terminates the calling task only. If it is the last
// task of its process, the process exits with status code.
// ThreadExit does not return.
func (t *Task) ThreadExit(code int) {
	k := t.k
	if k.cfg.Trace {
		k.tracef(t, "thread_exit(%d)", code)
	}
	t.code = code
	t.killed.Store(true)
	t.exitTask()
}

func sysexit(t *Task, a []int) (int, Errno) {
	t.Exit(a[0])
	panic("unreachable")
}

func systhreadexit(t *Task, a []int) (int, Errno) {
	t.ThreadExit(a[0])
	panic("unreachable")
}

// exitTask ends t. The task leaves its cpu for good; the task that
// runs next on the cpu reclaims it.
func (t *Task) exitTask() {
	t.lock.Lock()
	t.leave(TaskDone)
	t.lock.Unlock()
	c := t.cpu
	c.post = append(c.post, func() { t.k.reclaim(t) })
	t.swtch()
	panic(fmt.Sprintf("kernel: %v: resumed after exit", t))
}

/*
 * Release the resources of a task
 * that has left its cpu for good.
 * The last task out finishes the process.
 */
func (k *Kernel) reclaim(t *Task) {
	k.stacks.Free(t.tid)
	p := t.proc
	p.lock.Lock()
	for i, t1 := range p.tasks {
		if t1 == t {
			p.tasks = append(p.tasks[:i], p.tasks[i+1:]...)
			break
		}
	}
	p.ntasks--
	p.Utime += t.utime.Load()
	p.Stime += t.stime.Load()
	last := p.ntasks == 0
	if last && !p.exiting.Load() {
		p.status = exitStatus(t.code)
		p.exiting.Store(true)
	}
	p.lock.Unlock()
	k.tasks.release(t.slot, t.tid)
	p.taskExit.Broadcast()
	if last {
		k.finishProcess(p)
	}
}

/*
 * Finish a process with no tasks left.
 * Release its address space, give its
 * children to init and become a zombie
 * for the parent to collect.
 */
func (k *Kernel) finishProcess(p *Process) {
	k.spaces.Release(p.pid)

	p.lock.Lock()
	if p.alarm != nil {
		p.alarm()
		p.alarm = nil
	}
	p.lock.Unlock()

	var stopped, discard []*ProcRef
	k.procs.lock.Lock()
	heir := k.heir(p)
	moved := 0
	for i := range k.procs.slots {
		s := &k.procs.slots[i]
		if s.state != slotUsed || s.val == p {
			continue
		}
		c := s.val
		c.lock.Lock()
		if c.ppid == p.pid {
			c.ppid = heir.pid
			if c.zombie {
				moved++
				if heir == k.kproc {
					s.refs++
					discard = append(discard, &ProcRef{p: c})
				}
			}
			if c.stopped {
				s.refs++
				stopped = append(stopped, &ProcRef{p: c})
			}
		}
		c.lock.Unlock()
	}
	if moved > 0 {
		heir.lock.Lock()
		heir.unwaited += moved
		heir.childGen++
		heir.lock.Unlock()
	}

	p.lock.Lock()
	p.zombie = true
	p.stopped = false
	ppid, status, spawned := p.ppid, p.status, p.spawned
	p.unwaited = 0
	p.lock.Unlock()
	pi, ok := k.procs.ids[ppid]
	var parent *Process
	if ok && k.procs.slots[pi].state == slotUsed {
		parent = k.procs.slots[pi].val
		k.procs.slots[pi].refs++
		parent.lock.Lock()
		parent.unwaited++
		parent.childGen++
		parent.lock.Unlock()
	}
	k.procs.lock.Unlock()

	if k.cfg.Trace {
		k.logf("[pid %d] zombie: %v", p.pid, status)
	}
	close(p.done)
	if moved > 0 {
		heir.child.Broadcast()
	}
	// Nothing would ever continue a stopped orphan.
	for _, r := range stopped {
		k.psignal(r.Proc(), SIGCONT)
	}
	releaseAll(stopped)
	// Nobody but the kernel knows the pids of zombies it inherited.
	for _, r := range discard {
		k.collect(k.kproc, r.Proc())
	}
	releaseAll(discard)

	if parent == nil {
		return
	}
	pref := &ProcRef{p: parent}
	defer pref.Release()
	parent.child.Broadcast()
	if parent == k.kproc {
		if !spawned {
			k.collect(parent, p)
		}
		return
	}
	if parent.Action(SIGCHLD).Disposition == SigIgnore {
		k.collect(parent, p)
		return
	}
	k.psignal(parent, SIGCHLD)
}

// heir returns the process that adopts the children of p:
// init, unless init is p or gone, and the kernel otherwise.
// The process table lock must be held.
func (k *Kernel) heir(p *Process) *Process {
	i, ok := k.procs.ids[1]
	if !ok || p.pid == 1 || k.procs.slots[i].state != slotUsed {
		return k.kproc
	}
	ip := k.procs.slots[i].val
	ip.lock.Lock()
	dead := ip.zombie
	ip.lock.Unlock()
	if dead {
		return k.kproc
	}
	return ip
}

/*
 * Collect a zombie child for its parent:
 * charge its times to the parent and drop
 * the child's table slot.
 * Reports false if someone else got there first.
 */
func (k *Kernel) collect(parent, child *Process) bool {
	k.procs.lock.Lock()
	child.lock.Lock()
	if child.reaped || !child.zombie {
		child.lock.Unlock()
		k.procs.lock.Unlock()
		return false
	}
	child.reaped = true
	child.ppid = -1
	times := child.Times
	child.lock.Unlock()
	k.procs.lock.Unlock()

	parent.lock.Lock()
	parent.Cutime += times.Utime + times.Cutime
	parent.Cstime += times.Stime + times.Cstime
	parent.unwaited--
	parent.lock.Unlock()
	k.procs.release(child.slot, child.pid)
	return true
}
