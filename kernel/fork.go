// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

/*
 * Create a new process running child.
 * The child is a copy of the calling task alone:
 * it shares nothing with the parent afterward.
 * The parent gets the child's pid;
 * the child starts with Regs.Ret = 0.
 */
func (t *Task) Fork(child Program) (int, Errno) {
	return t.syscall(SYS_FORK, nil, func() (int, Errno) {
		return t.fork(child)
	})
}

func (t *Task) fork(body Program) (int, Errno) {
	if body == nil {
		return -1, EINVAL
	}
	k := t.k
	pp := t.proc
	cp, err := k.newProc(pp.name)
	if err != 0 {
		return -1, err
	}
	ct, err := k.newTask(cp, body)
	if err != 0 {
		k.procs.unreserve(cp.slot)
		return -1, err
	}
	asid, ok := k.spaces.Clone(pp.pid, cp.pid)
	if !ok {
		k.dropTask(ct)
		k.procs.unreserve(cp.slot)
		return -1, ENOMEM
	}

	cp.asid = asid
	cp.tasks = []*Task{ct}
	cp.ntasks = 1
	pp.lock.Lock()
	cp.ppid = pp.pid
	cp.sid = pp.sid
	cp.pgid = pp.pgid
	cp.tty = pp.tty
	cp.Cred = pp.Cred
	cp.actions = pp.actions
	pp.lock.Unlock()

	t.lock.Lock()
	ct.blocked = t.blocked
	ct.prio = t.prio
	ct.affinity = t.affinity
	t.lock.Unlock()
	ct.argv = t.argv
	ct.Regs = t.Regs
	ct.Regs.Ret = 0
	if t.fpuDirty || t.fpu != nil {
		ct.fpu = append([]byte(nil), t.cpu.fpu[:]...)
	}

	k.procs.activate(cp.slot)
	k.tasks.activate(ct.slot)
	if k.cfg.Trace {
		k.tracef(t, "fork: pid %d tid %d", cp.pid, ct.tid)
	}
	k.start(ct, t.cpu)
	return cp.pid, 0
}

/*
 * Create a new task in the calling process,
 * running body with the caller's mask,
 * priority and affinity.
 */
func (t *Task) CreateThread(body Program) (int, Errno) {
	return t.syscall(SYS_THREAD, nil, func() (int, Errno) {
		return t.createThread(body)
	})
}

func (t *Task) createThread(body Program) (int, Errno) {
	if body == nil {
		return -1, EINVAL
	}
	k := t.k
	p := t.proc
	nt, err := k.newTask(p, body)
	if err != 0 {
		return -1, err
	}
	nt.thread = true
	nt.argv = t.argv
	t.lock.Lock()
	nt.blocked = t.blocked
	nt.prio = t.prio
	nt.affinity = t.affinity
	t.lock.Unlock()

	p.lock.Lock()
	if p.exiting.Load() {
		p.lock.Unlock()
		k.dropTask(nt)
		return -1, EAGAIN
	}
	p.tasks = append(p.tasks, nt)
	p.ntasks++
	k.tasks.activate(nt.slot)
	p.unlock()
	if k.cfg.Trace {
		k.tracef(t, "thread: tid %d", nt.tid)
	}
	k.start(nt, t.cpu)
	return nt.tid, 0
}
