// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

// Signals are pending in two tiers. A signal sent to a process is
// recorded in the process's pending set and promoted to the first
// task that does not block it or is waiting for it in sigwait.
// A signal sent to a task goes straight to the task. Tasks act on
// their pending signals at every return to user mode.
//
// No code holds two process locks at once. Work that must touch
// another process while p.lock is held is queued with p.later and
// runs when p.unlock releases the lock.

func (p *Process) later(f func()) { p.deferred = append(p.deferred, f) }

// unlock releases p.lock and runs the work queued while it was held.
func (p *Process) unlock() {
	work := p.deferred
	p.deferred = nil
	p.lock.Unlock()
	for _, f := range work {
		f()
	}
}

// unlockIRQ is unlock for a p.lock taken with LockIRQ on c.
// The queued work runs with interrupts on again.
func (p *Process) unlockIRQ(c *CPU) {
	work := p.deferred
	p.deferred = nil
	p.lock.UnlockIRQ(c)
	for _, f := range work {
		f()
	}
}

/*
 * Send the specified signal to
 * the specified process.
 * The caller holds no locks.
 */
func (k *Kernel) psignal(p *Process, sig Signal) {
	p.lock.Lock()
	defer p.unlock()
	k.psignalLocked(p, sig)
}

// psignalLocked is psignal with p.lock held.
func (k *Kernel) psignalLocked(p *Process, sig Signal) {
	if p.zombie || p.exiting.Load() {
		return
	}
	switch {
	case sig == SIGKILL:
		k.exitProcLocked(p, signaledStatus(SIGKILL))
		return
	case sig == SIGCONT:
		k.contLocked(p)
	case stopSigs.Has(sig):
		p.pending &^= Sigmask(SIGCONT)
		for _, t := range p.tasks {
			t.lock.Lock()
			t.pending &^= Sigmask(SIGCONT)
			t.lock.Unlock()
		}
	}
	if p.actions[sig].Disposition == SigIgnore {
		return
	}
	p.pending |= Sigmask(sig)
	k.promote(p)
}

/*
 * Send the specified signal to the specified task.
 * Signals whose action is process-wide (kill, stop,
 * continue) go to the whole process.
 */
func (k *Kernel) tsignal(t *Task, sig Signal) {
	p := t.proc
	p.lock.Lock()
	defer p.unlock()
	if sig == SIGKILL || sig == SIGCONT || stopSigs.Has(sig) && p.actions[sig].Disposition == SigDefault {
		k.psignalLocked(p, sig)
		return
	}
	if p.zombie || p.exiting.Load() || p.actions[sig].Disposition == SigIgnore {
		return
	}
	t.lock.Lock()
	if t.status == TaskDone {
		t.lock.Unlock()
		return
	}
	t.pending |= Sigmask(sig)
	if t.blocked.Has(sig) && !t.waitfor.Has(sig) {
		t.lock.Unlock()
		return
	}
	t.interruptUnlock(false)
}

// promote moves process-pending signals down to tasks: a signal goes
// to the first task that does not block it or is waiting for it.
// p.lock must be held.
func (k *Kernel) promote(p *Process) {
	for _, t := range p.tasks {
		if p.pending == 0 {
			return
		}
		t.lock.Lock()
		take := p.pending&^t.blocked | p.pending&t.waitfor
		if t.status == TaskDone || take == 0 {
			t.lock.Unlock()
			continue
		}
		p.pending &^= take
		t.pending |= take
		t.interruptUnlock(false)
	}
}

// contLocked continues p: pending stop signals are discarded and
// stopped tasks run again. p.lock must be held.
func (k *Kernel) contLocked(p *Process) {
	p.pending &^= stopSigs
	for _, t := range p.tasks {
		t.lock.Lock()
		t.pending &^= stopSigs | Sigmask(sigStop)
		if t.status == TaskStopped {
			t.ready(nil)
		}
		t.lock.Unlock()
	}
	if p.stopped {
		p.stopped = false
		p.stopReport = false
		p.contReport = true
		k.notifyParent(p)
	}
}

// stopLocked begins a group stop of p by sig: every task gets the
// stop pseudo-signal and stops itself at its next boundary.
// p.lock must be held.
func (k *Kernel) stopLocked(p *Process, sig Signal) {
	if p.exiting.Load() || p.stopped {
		return
	}
	p.stopped = true
	p.stopSig = sig
	p.stopReport = true
	p.contReport = false
	for _, t := range p.tasks {
		t.lock.Lock()
		if t.status == TaskDone {
			t.lock.Unlock()
			continue
		}
		t.pending |= Sigmask(sigStop)
		t.interruptUnlock(false)
	}
	k.notifyParent(p)
}

// exitProcLocked flags p for termination with status and wakes every
// blocked or stopped task so it notices at its next boundary.
// The first status sticks. p.lock must be held.
func (k *Kernel) exitProcLocked(p *Process, status WaitStatus) {
	if !p.exiting.Load() {
		p.status = status
		p.exiting.Store(true)
	}
	p.stopped = false
	for _, t := range p.tasks {
		t.lock.Lock()
		t.interruptUnlock(true)
	}
}

// notifyParent reports a stop or continue of p to its parent, once
// p.lock is released: the parent's waitpid is woken and, unless it
// set SA_NOCLDSTOP, it is sent SIGCHLD.
func (k *Kernel) notifyParent(p *Process) {
	ppid := p.ppid
	p.later(func() {
		r, ok := k.GetProc(ppid)
		if !ok {
			return
		}
		defer r.Release()
		parent := r.Proc()
		parent.lock.Lock()
		parent.childGen++
		nostop := parent.actions[SIGCHLD].Flags&SA_NOCLDSTOP != 0
		parent.lock.Unlock()
		parent.child.Broadcast()
		if !nostop && parent != k.kproc {
			k.psignal(parent, SIGCHLD)
		}
	})
}

// doSignal acts on one of t's pending signals, if any, and reports
// whether it did. SIGKILL goes first, then the lowest numbered.
func (t *Task) doSignal() bool {
	p := t.proc
	k := t.k
	c := t.cpu
	p.lock.LockIRQ(c)
	k.promote(p)
	t.lock.Lock()
	ready := t.pending &^ t.blocked
	if ready == 0 {
		t.lock.Unlock()
		p.unlockIRQ(c)
		return false
	}
	sig := ready.first()
	t.pending &^= Sigmask(sig)
	t.lock.Unlock()
	act := p.actions[sig]
	if act.Disposition == SigCatch && act.Flags&SA_RESETHAND != 0 {
		p.actions[sig] = SigAction{}
	}

	switch {
	case sig == sigStop:
		p.unlockIRQ(c)
		t.stop()
	case sig == SIGKILL:
		k.exitProcLocked(p, signaledStatus(SIGKILL))
		p.unlockIRQ(c)
	case act.Disposition == SigIgnore:
		p.unlockIRQ(c)
	case act.Disposition == SigCatch:
		p.unlockIRQ(c)
		if k.cfg.Trace {
			k.tracef(t, "%v: handler", sig)
		}
		t.deliver(sig, act)
	default:
		switch defaultAction(sig) {
		case actIgnore:
		case actStop:
			k.stopLocked(p, sig)
		case actTerm:
			k.exitProcLocked(p, signaledStatus(sig))
		case actCore:
			k.exitProcLocked(p, signaledStatus(sig)|wcore)
		}
		p.unlockIRQ(c)
		if k.cfg.Trace && defaultAction(sig) != actIgnore {
			k.tracef(t, "%v: default action", sig)
		}
	}
	return true
}

// stop parks t for a group stop until the process is continued or
// killed. A continue that got in first cancels the stop.
func (t *Task) stop() {
	p := t.proc
	p.lock.Lock()
	if !p.stopped || p.exiting.Load() {
		p.lock.Unlock()
		return
	}
	t.lock.Lock()
	t.leave(TaskStopped)
	t.lock.Unlock()
	p.lock.Unlock()
	t.swtch()
}

// kill sends sig to the processes pid selects, as the kill syscall:
//
//	pid > 0   the process pid
//	pid == 0  the sender's process group
//	pid == -1 every process the sender may signal except pid 0, init and itself
//	pid < -1  the process group -pid
//
// Signal 0 checks existence and permission only.
func (k *Kernel) kill(from *Process, pid int, sig Signal) Errno {
	if sig < 0 || sig >= NSIG {
		return EINVAL
	}
	from.lock.Lock()
	cred, sid := from.Cred, from.sid
	from.lock.Unlock()

	var list []*ProcRef
	switch {
	case pid > 0:
		r, ok := k.GetProc(pid)
		if !ok || r.Proc() == k.kproc {
			if ok {
				r.Release()
			}
			return ESRCH
		}
		list = []*ProcRef{r}
	case pid == 0 || pid < -1:
		pgid := -pid
		if pid == 0 {
			k.procs.lock.Lock()
			pgid = from.pgid
			k.procs.lock.Unlock()
		}
		list = k.findProcs(func(p *Process) bool { return p.pgid == pgid && p != k.kproc })
	case pid == -1:
		list = k.findProcs(func(p *Process) bool { return p.pid > 1 && p != from })
	}
	defer releaseAll(list)
	if len(list) == 0 {
		return ESRCH
	}

	sent := 0
	for _, r := range list {
		p := r.Proc()
		p.lock.Lock()
		ok := cred.canSignal(&p.Cred, sig, p.sid == sid)
		p.lock.Unlock()
		if !ok {
			continue
		}
		sent++
		if sig != 0 {
			k.psignal(p, sig)
		}
	}
	if sent == 0 {
		return EPERM
	}
	return 0
}

// killpg sends sig to process group pgid with kernel authority.
func (k *Kernel) killpg(pgid int, sig Signal) {
	list := k.findProcs(func(p *Process) bool { return p.pgid == pgid && p != k.kproc })
	defer releaseAll(list)
	for _, r := range list {
		k.psignal(r.Proc(), sig)
	}
}
