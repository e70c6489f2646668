// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import "rsc.io/smpkern/ksync"

/*
 * Wait for a child to exit, or with WUNTRACED
 * and WCONTINUED to stop or continue.
 * pid selects the children:
 *
 *	pid > 0   the child pid
 *	pid == -1 any child
 *	pid == 0  any child in the caller's process group
 *	pid < -1  any child in process group -pid
 *
 * An exited child is collected: its status and
 * times go to the caller exactly once.
 * With WNOHANG, Waitpid returns pid 0 if no
 * selected child has anything to report.
 */
func (t *Task) Waitpid(pid, options int) (int, WaitStatus, Errno) {
	var st WaitStatus
	ret, err := t.syscall(SYS_WAITPID, []int{pid, options}, func() (int, Errno) {
		var r int
		var e Errno
		r, st, e = t.waitpid(pid, options)
		return r, e
	})
	return ret, st, err
}

func syswaitpid(t *Task, a []int) (int, Errno) {
	pid, st, err := t.Waitpid(a[0], a[1])
	if err == 0 && pid > 0 {
		t.Regs.Args[1] = int(st)
	}
	return pid, err
}

func (t *Task) waitpid(pid, options int) (int, WaitStatus, Errno) {
	if options&^(WNOHANG|WUNTRACED|WCONTINUED) != 0 {
		return -1, 0, EINVAL
	}
	k := t.k
	p := t.proc
	for {
		p.lock.Lock()
		gen := p.childGen
		pgid := p.pgid
		p.lock.Unlock()

		var match func(c *Process) bool
		switch {
		case pid > 0:
			match = func(c *Process) bool { return c.ppid == p.pid && c.pid == pid }
		case pid == -1:
			match = func(c *Process) bool { return c.ppid == p.pid }
		case pid == 0:
			match = func(c *Process) bool { return c.ppid == p.pid && c.pgid == pgid }
		default:
			match = func(c *Process) bool { return c.ppid == p.pid && c.pgid == -pid }
		}
		kids := k.findProcs(match)
		if len(kids) == 0 {
			return -1, 0, ECHILD
		}
		for _, r := range kids {
			c := r.Proc()
			c.lock.Lock()
			if c.zombie {
				st := c.status
				c.lock.Unlock()
				if k.collect(p, c) {
					releaseAll(kids)
					return c.pid, st, 0
				}
				continue
			}
			var st WaitStatus
			switch {
			case options&WUNTRACED != 0 && c.stopReport:
				c.stopReport = false
				st = stoppedStatus(c.stopSig)
			case options&WCONTINUED != 0 && c.contReport:
				c.contReport = false
				st = wcont
			}
			c.lock.Unlock()
			if st != 0 {
				releaseAll(kids)
				return c.pid, st, 0
			}
		}
		releaseAll(kids)
		if options&WNOHANG != 0 {
			return 0, 0, 0
		}

		p.lock.Lock()
		for p.childGen == gen {
			if p.child.WaitIntr(t, &p.lock) == ksync.Interrupted {
				p.lock.Unlock()
				return -1, 0, ERESTART
			}
		}
		p.lock.Unlock()
	}
}
