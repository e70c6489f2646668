// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import "rsc.io/smpkern/ksync"

// Sigaction sets the action for sig and returns the old one.
// SIGKILL and SIGSTOP cannot be caught or ignored. Setting a
// signal to be ignored discards any pending instance of it.
func (t *Task) Sigaction(sig Signal, act SigAction) (SigAction, Errno) {
	var old SigAction
	_, err := t.syscall(SYS_SIGACTION, []int{int(sig), int(act.Disposition)}, func() (int, Errno) {
		if !sig.valid() || sig == SIGKILL || sig == SIGSTOP {
			return -1, EINVAL
		}
		switch act.Disposition {
		default:
			return -1, EINVAL
		case SigCatch:
			if act.Handler == nil {
				return -1, EINVAL
			}
		case SigDefault, SigIgnore:
		}
		act.Mask &^= unblockable
		p := t.proc
		p.lock.Lock()
		old = p.actions[sig]
		p.actions[sig] = act
		if act.Disposition == SigIgnore {
			p.pending &^= Sigmask(sig)
			for _, t1 := range p.tasks {
				t1.lock.Lock()
				t1.pending &^= Sigmask(sig)
				t1.lock.Unlock()
			}
		}
		p.unlock()
		return 0, 0
	})
	return old, err
}

func syssigaction(t *Task, a []int) (int, Errno) {
	if Disposition(a[1]) == SigCatch {
		return -1, EINVAL
	}
	_, err := t.Sigaction(Signal(a[0]), SigAction{Disposition: Disposition(a[1])})
	return 0, err
}

// Sigprocmask changes t's blocked mask as how says and returns the
// old mask. SIGKILL and SIGSTOP are never blocked.
func (t *Task) Sigprocmask(how int, set SigSet) (SigSet, Errno) {
	ret, err := t.syscall(SYS_SIGPROCMASK, []int{how, int(set)}, func() (int, Errno) {
		t.lock.Lock()
		defer t.lock.Unlock()
		old := t.blocked
		switch how {
		case SIG_BLOCK:
			t.blocked |= set
		case SIG_UNBLOCK:
			t.blocked &^= set
		case SIG_SETMASK:
			t.blocked = set
		default:
			return -1, EINVAL
		}
		t.blocked &^= unblockable
		return int(old), 0
	})
	return SigSet(ret), err
}

func syssigprocmask(t *Task, a []int) (int, Errno) {
	old, err := t.Sigprocmask(a[0], SigSet(a[1]))
	return int(old), err
}

// Sigpending returns the signals pending for t or its process.
func (t *Task) Sigpending() SigSet {
	ret, _ := t.syscall(SYS_SIGPENDING, nil, func() (int, Errno) {
		p := t.proc
		p.lock.Lock()
		t.lock.Lock()
		set := (p.pending | t.pending) &^ Sigmask(sigStop)
		t.lock.Unlock()
		p.lock.Unlock()
		return int(set), 0
	})
	return SigSet(ret)
}

func syssigpending(t *Task, a []int) (int, Errno) {
	return int(t.Sigpending()), 0
}

// Sigwait waits for one of the signals in set to be pending,
// takes it without running its action, and returns it.
// The signals in set are normally blocked by the caller.
func (t *Task) Sigwait(set SigSet) (Signal, Errno) {
	ret, err := t.syscall(SYS_SIGWAIT, []int{int(set)}, func() (int, Errno) {
		return t.sigwait(set)
	})
	return Signal(ret), err
}

func syssigwait(t *Task, a []int) (int, Errno) {
	sig, err := t.Sigwait(SigSet(a[0]))
	return int(sig), err
}

func (t *Task) sigwait(set SigSet) (int, Errno) {
	set &^= unblockable
	if set == 0 {
		return -1, EINVAL
	}
	k := t.k
	p := t.proc
	p.lock.Lock()
	t.lock.Lock()
	t.waitfor = set
	t.lock.Unlock()
	for {
		k.promote(p)
		t.lock.Lock()
		if got := t.pending & set; got != 0 {
			sig := got.first()
			t.pending &^= Sigmask(sig)
			t.waitfor = 0
			t.lock.Unlock()
			p.unlock()
			return int(sig), 0
		}
		t.lock.Unlock()
		if t.pause.WaitIntr(t, &p.lock) != ksync.Interrupted {
			continue
		}
		t.lock.Lock()
		if t.pending&set != 0 {
			t.lock.Unlock()
			continue
		}
		t.waitfor = 0
		t.lock.Unlock()
		p.unlock()
		return -1, ERESTART
	}
}

// Sigsuspend replaces t's mask with mask until a signal runs a
// handler, and then restores it. It returns only with EINTR.
func (t *Task) Sigsuspend(mask SigSet) Errno {
	_, err := t.syscall(SYS_SIGSUSPEND, []int{int(mask)}, func() (int, Errno) {
		t.lock.Lock()
		if !t.restore {
			t.oldmask = t.blocked
			t.restore = true
		}
		t.blocked = mask &^ unblockable
		t.lock.Unlock()
		return t.pause1()
	})
	return err
}

func syssigsuspend(t *Task, a []int) (int, Errno) {
	return -1, t.Sigsuspend(SigSet(a[0]))
}

// Pause waits until a signal runs a handler. It returns only with EINTR.
func (t *Task) Pause() Errno {
	_, err := t.syscall(SYS_PAUSE, nil, t.pause1)
	return err
}

func syspause(t *Task, a []int) (int, Errno) {
	return -1, t.Pause()
}

// pause1 waits for any signal t does not block. It always
// reports ERESTART, so the signal is handled and the wait
// repeated unless a handler ran.
func (t *Task) pause1() (int, Errno) {
	p := t.proc
	p.lock.Lock()
	t.k.promote(p)
	p.unlock()
	for t.pause.WaitIntr(t, nil) != ksync.Interrupted {
	}
	return -1, ERESTART
}

// Kill sends sig to the processes pid selects (see kill(2)).
func (t *Task) Kill(pid int, sig Signal) Errno {
	_, err := t.syscall(SYS_KILL, []int{pid, int(sig)}, func() (int, Errno) {
		if err := t.k.kill(t.proc, pid, sig); err != 0 {
			return -1, err
		}
		return 0, 0
	})
	return err
}

func syskill(t *Task, a []int) (int, Errno) {
	return 0, t.Kill(a[0], Signal(a[1]))
}

// Tkill sends sig to the task tid.
func (t *Task) Tkill(tid int, sig Signal) Errno {
	_, err := t.syscall(SYS_TKILL, []int{tid, int(sig)}, func() (int, Errno) {
		return t.tkill(tid, sig)
	})
	return err
}

func systkill(t *Task, a []int) (int, Errno) {
	return 0, t.Tkill(a[0], Signal(a[1]))
}

func (t *Task) tkill(tid int, sig Signal) (int, Errno) {
	if sig < 0 || sig >= NSIG || tid <= 0 {
		return -1, EINVAL
	}
	k := t.k
	r, ok := k.GetTask(tid)
	if !ok {
		return -1, ESRCH
	}
	defer r.Release()
	t1 := r.Task()
	if t1.idle || t1.Status() == TaskDone {
		return -1, ESRCH
	}
	p := t.proc
	p.lock.Lock()
	cred, sid := p.Cred, p.sid
	p.lock.Unlock()
	p1 := t1.proc
	p1.lock.Lock()
	ok = cred.canSignal(&p1.Cred, sig, p1.sid == sid)
	p1.lock.Unlock()
	if !ok {
		return -1, EPERM
	}
	if sig != 0 {
		k.tsignal(t1, sig)
	}
	return 0, 0
}

// Alarm arranges for SIGALRM to be sent to the process in ticks
// clock ticks, replacing any earlier alarm, and returns the ticks
// the earlier alarm had left. Alarm(0) cancels.
func (t *Task) Alarm(ticks int) int {
	ret, _ := t.syscall(SYS_ALARM, []int{ticks}, func() (int, Errno) {
		return t.alarm(ticks), 0
	})
	return ret
}

func sysalarm(t *Task, a []int) (int, Errno) {
	return t.Alarm(a[0]), 0
}

func (t *Task) alarm(ticks int) int {
	k := t.k
	p := t.proc
	now := k.clock.Now()
	// The old alarm cannot fire on this cpu while it is replaced.
	c := t.cpu
	p.lock.LockIRQ(c)
	defer p.unlockIRQ(c)
	left := 0
	if p.alarm != nil && p.alarm() {
		left = int(p.alarmAt - now)
	}
	p.alarm = nil
	if ticks > 0 {
		p.alarmAt = now + uint64(ticks)
		p.alarm = k.clock.After(ticks, func() {
			k.psignal(p, SIGALRM)
		})
	}
	return left
}

// SleepTicks blocks t for ticks clock ticks. A signal that runs a
// handler ends the sleep early with EINTR; any other signal does not.
func (t *Task) SleepTicks(ticks int) Errno {
	k := t.k
	deadline := k.clock.Now() + uint64(max(ticks, 0))
	_, err := t.syscall(SYS_SLEEP, []int{ticks}, func() (int, Errno) {
		now := k.clock.Now()
		if now >= deadline {
			return 0, 0
		}
		switch t.pause.WaitTimed(t, nil, k.clock, int(deadline-now)) {
		case ksync.Interrupted:
			return -1, ERESTART
		}
		return 0, 0
	})
	return err
}

func syssleep(t *Task, a []int) (int, Errno) {
	return 0, t.SleepTicks(a[0])
}
