// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

// Yield gives up the rest of t's turn on its cpu.
func (t *Task) Yield() {
	t.syscall(SYS_YIELD, nil, func() (int, Errno) {
		t.cpu.rq.Yield()
		t.swtch()
		return 0, 0
	})
}

func sysyield(t *Task, a []int) (int, Errno) {
	t.Yield()
	return 0, 0
}

func (t *Task) Getpid() int {
	ret, _ := t.syscall(SYS_GETPID, nil, func() (int, Errno) { return t.proc.pid, 0 })
	return ret
}

func (t *Task) Getppid() int {
	ret, _ := t.syscall(SYS_GETPPID, nil, func() (int, Errno) { return t.proc.Ppid(), 0 })
	return ret
}

func (t *Task) Gettid() int {
	ret, _ := t.syscall(SYS_GETTID, nil, func() (int, Errno) { return t.tid, 0 })
	return ret
}

func sysgetpid(t *Task, a []int) (int, Errno)  { return t.Getpid(), 0 }
func sysgetppid(t *Task, a []int) (int, Errno) { return t.Getppid(), 0 }
func sysgettid(t *Task, a []int) (int, Errno)  { return t.Gettid(), 0 }

/*
 * Sessions and process groups.
 * pid, ppid, sid and pgid change only with the
 * process table lock and the process's own lock
 * both held, so either lock is enough to read them.
 */

// Setsid makes the caller the leader of a new session and of a new
// process group in it, with no controlling terminal.
func (t *Task) Setsid() (int, Errno) {
	return t.syscall(SYS_SETSID, nil, t.setsid)
}

func syssetsid(t *Task, a []int) (int, Errno) { return t.Setsid() }

func (t *Task) setsid() (int, Errno) {
	k := t.k
	p := t.proc
	k.procs.lock.Lock()
	defer k.procs.lock.Unlock()
	if p.pgid == p.pid || k.groupExists(p.pid) {
		return -1, EPERM
	}
	p.lock.Lock()
	p.sid = p.pid
	p.pgid = p.pid
	p.tty = -1
	p.lock.Unlock()
	return p.pid, 0
}

// groupExists reports whether a live process is in group pgid.
// The process table lock must be held.
func (k *Kernel) groupExists(pgid int) bool {
	for i := range k.procs.slots {
		s := &k.procs.slots[i]
		if s.state == slotUsed && s.val != k.kproc && s.val.pgid == pgid {
			return true
		}
	}
	return false
}

// Getsid returns the session of process pid, 0 meaning the caller.
func (t *Task) Getsid(pid int) (int, Errno) {
	return t.syscall(SYS_GETSID, []int{pid}, func() (int, Errno) {
		return t.procAttr(pid, func(p *Process) int { return p.sid })
	})
}

// Getpgid returns the process group of process pid, 0 meaning the caller.
func (t *Task) Getpgid(pid int) (int, Errno) {
	return t.syscall(SYS_GETPGID, []int{pid}, func() (int, Errno) {
		return t.procAttr(pid, func(p *Process) int { return p.pgid })
	})
}

func sysgetsid(t *Task, a []int) (int, Errno)  { return t.Getsid(a[0]) }
func sysgetpgid(t *Task, a []int) (int, Errno) { return t.Getpgid(a[0]) }

func (t *Task) procAttr(pid int, f func(*Process) int) (int, Errno) {
	if pid < 0 {
		return -1, EINVAL
	}
	if pid == 0 {
		pid = t.proc.pid
	}
	r, ok := t.k.GetProc(pid)
	if !ok || r.Proc() == t.k.kproc {
		if ok {
			r.Release()
		}
		return -1, ESRCH
	}
	defer r.Release()
	p := r.Proc()
	p.lock.Lock()
	defer p.lock.Unlock()
	return f(p), 0
}

// Setpgid puts process pid (0 meaning the caller) into group pgid
// (0 meaning pid). The target must be the caller or a child of it
// in the same session and not a session leader. A new group takes
// the target's pid; an existing one must be in the caller's session.
func (t *Task) Setpgid(pid, pgid int) Errno {
	_, err := t.syscall(SYS_SETPGID, []int{pid, pgid}, func() (int, Errno) {
		return t.setpgid(pid, pgid)
	})
	return err
}

func syssetpgid(t *Task, a []int) (int, Errno) { return 0, t.Setpgid(a[0], a[1]) }

func (t *Task) setpgid(pid, pgid int) (int, Errno) {
	if pid < 0 || pgid < 0 {
		return -1, EINVAL
	}
	k := t.k
	me := t.proc
	if pid == 0 {
		pid = me.pid
	}
	if pgid == 0 {
		pgid = pid
	}
	k.procs.lock.Lock()
	defer k.procs.lock.Unlock()
	i, ok := k.procs.ids[pid]
	if !ok || k.procs.slots[i].state != slotUsed {
		return -1, ESRCH
	}
	p := k.procs.slots[i].val
	if p != me && p.ppid != me.pid {
		return -1, ESRCH
	}
	if p.sid != me.sid || p.sid == p.pid {
		return -1, EPERM
	}
	if pgid != p.pid && !k.groupInSession(pgid, me.sid) {
		return -1, EPERM
	}
	p.lock.Lock()
	p.pgid = pgid
	p.lock.Unlock()
	return 0, 0
}

// groupInSession reports whether a live process in session sid is
// in group pgid. The process table lock must be held.
func (k *Kernel) groupInSession(pgid, sid int) bool {
	for i := range k.procs.slots {
		s := &k.procs.slots[i]
		if s.state == slotUsed && s.val.pgid == pgid && s.val.sid == sid {
			return true
		}
	}
	return false
}

/*
 * Credentials.
 * The super-user may set all three ids;
 * others may only switch the effective id
 * to the real or saved one.
 */

func (t *Task) Setuid(uid int) Errno {
	_, err := t.syscall(SYS_SETUID, []int{uid}, func() (int, Errno) {
		return t.setid(uid, func(c *Cred) (r, e, s *int) { return &c.Uid, &c.Euid, &c.Suid })
	})
	return err
}

func (t *Task) Setgid(gid int) Errno {
	_, err := t.syscall(SYS_SETGID, []int{gid}, func() (int, Errno) {
		return t.setid(gid, func(c *Cred) (r, e, s *int) { return &c.Gid, &c.Egid, &c.Sgid })
	})
	return err
}

func (t *Task) setid(id int, ids func(*Cred) (r, e, s *int)) (int, Errno) {
	if id < 0 || id >= MAXUID {
		return -1, EINVAL
	}
	p := t.proc
	p.lock.Lock()
	defer p.lock.Unlock()
	r, e, s := ids(&p.Cred)
	switch {
	case p.suser():
		*r, *e, *s = id, id, id
	case id == *r || id == *s:
		*e = id
	default:
		return -1, EPERM
	}
	return 0, 0
}

// Getuid returns the real user id.
func (t *Task) Getuid() int {
	ret, _ := t.syscall(SYS_GETUID, nil, func() (int, Errno) {
		p := t.proc
		p.lock.Lock()
		defer p.lock.Unlock()
		return p.Uid, 0
	})
	return ret
}

// Getgid returns the real group id.
func (t *Task) Getgid() int {
	ret, _ := t.syscall(SYS_GETGID, nil, func() (int, Errno) {
		p := t.proc
		p.lock.Lock()
		defer p.lock.Unlock()
		return p.Gid, 0
	})
	return ret
}

func syssetuid(t *Task, a []int) (int, Errno) { return 0, t.Setuid(a[0]) }
func syssetgid(t *Task, a []int) (int, Errno) { return 0, t.Setgid(a[0]) }
func sysgetuid(t *Task, a []int) (int, Errno) { return t.Getuid(), 0 }
func sysgetgid(t *Task, a []int) (int, Errno) { return t.Getgid(), 0 }

// Nice lowers t's priority by inc, or raises it for the super-user,
// and returns the new priority. Priorities stay within 1..PMAX;
// 0 belongs to the idle tasks.
func (t *Task) Nice(inc int) (int, Errno) {
	return t.syscall(SYS_NICE, []int{inc}, func() (int, Errno) {
		p := t.proc
		p.lock.Lock()
		su := p.suser()
		p.lock.Unlock()
		if inc < 0 && !su {
			return -1, EPERM
		}
		t.lock.Lock()
		t.prio = min(max(t.prio-inc, PIDLE+1), PMAX)
		prio := t.prio
		t.lock.Unlock()
		t.cpu.rq.Reprioritize(t.tid, prio)
		return prio, 0
	})
}

func sysnice(t *Task, a []int) (int, Errno) { return t.Nice(a[0]) }

// SetAffinity binds t to cpu n, or unbinds it for AnyCPU.
// A task bound elsewhere moves before SetAffinity returns.
func (t *Task) SetAffinity(n int) Errno {
	_, err := t.syscall(SYS_AFFINITY, []int{n}, func() (int, Errno) {
		if n != AnyCPU && (n < 0 || n >= len(t.k.cpus)) {
			return -1, EINVAL
		}
		t.lock.Lock()
		t.affinity = n
		if n == AnyCPU || n == t.cpu.id {
			t.lock.Unlock()
			return 0, 0
		}
		// Off this cpu's queue and onto n's; the switch lands t there.
		t.leave(TaskBlocked)
		t.ready(t.cpu)
		t.lock.Unlock()
		t.swtch()
		return 0, 0
	})
	return err
}

func sysaffinity(t *Task, a []int) (int, Errno) { return 0, t.SetAffinity(a[0]) }

// Times returns the cpu times of the process and of its collected
// children, counting the tasks still running.
func (t *Task) Times() Times {
	var tm Times
	t.syscall(SYS_TIMES, nil, func() (int, Errno) {
		p := t.proc
		p.lock.Lock()
		tm = p.Times
		for _, t1 := range p.tasks {
			tm.Utime += t1.utime.Load()
			tm.Stime += t1.stime.Load()
		}
		p.lock.Unlock()
		return int(t.k.clock.Now()), 0
	})
	return tm
}

func systimes(t *Task, a []int) (int, Errno) {
	t.Times()
	return int(t.k.clock.Now()), 0
}

// Setctty makes tty n the controlling terminal of the caller's
// session, which the caller must lead.
func (t *Task) Setctty(n int) Errno {
	_, err := t.syscall(SYS_SETCTTY, []int{n}, func() (int, Errno) {
		tp, err := t.k.tty(n)
		if err != 0 {
			return -1, err
		}
		p := t.proc
		p.lock.Lock()
		sid, pgid, pid := p.sid, p.pgid, p.pid
		p.lock.Unlock()
		if sid != pid {
			return -1, EPERM
		}
		tp.lock.Lock()
		if tp.sid != 0 && tp.sid != sid {
			tp.lock.Unlock()
			return -1, EPERM
		}
		tp.sid = sid
		tp.pgrp = pgid
		tp.lock.Unlock()
		p.lock.Lock()
		p.tty = n
		p.lock.Unlock()
		return 0, 0
	})
	return err
}

func syssetctty(t *Task, a []int) (int, Errno) { return 0, t.Setctty(a[0]) }

// Tcsetpgrp makes pgid the foreground group of tty n, the caller's
// controlling terminal. The group must be in the caller's session.
func (t *Task) Tcsetpgrp(n, pgid int) Errno {
	_, err := t.syscall(SYS_TCSETPGRP, []int{n, pgid}, func() (int, Errno) {
		k := t.k
		tp, err := k.tty(n)
		if err != 0 {
			return -1, err
		}
		p := t.proc
		p.lock.Lock()
		sid, ctty := p.sid, p.tty
		p.lock.Unlock()
		if ctty != n {
			return -1, ENOTTY
		}
		k.procs.lock.Lock()
		ok := k.groupInSession(pgid, sid)
		k.procs.lock.Unlock()
		if !ok {
			return -1, EPERM
		}
		tp.lock.Lock()
		tp.pgrp = pgid
		tp.lock.Unlock()
		return 0, 0
	})
	return err
}

func systcsetpgrp(t *Task, a []int) (int, Errno) { return 0, t.Tcsetpgrp(a[0], a[1]) }
