// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"fmt"
	"sync/atomic"

	"rsc.io/smpkern/ksync"
)

// A Process is an address space, credentials and signal state
// shared by one or more tasks.
type Process struct {
	lock ksync.Spinlock

	k    *Kernel
	slot int
	pid  int
	ppid int
	sid  int
	pgid int
	tty  int // controlling terminal, -1 if none
	asid int
	name string

	Cred
	actions [NSIG]SigAction
	pending SigSet

	tasks   []*Task
	ntasks  int
	exiting atomic.Bool // every task exits at its next kernel boundary
	status  WaitStatus  // exit status, valid once exiting
	zombie  bool        // no tasks left; waiting for the parent
	reaped  bool        // collected by the parent
	spawned bool        // created by Spawn, collected by Kernel.Wait
	done    chan struct{}

	// Stop and continue reports for the parent's waitpid.
	stopped    bool
	stopSig    Signal
	stopReport bool
	contReport bool

	unwaited int      // children with a report the parent has not collected
	childGen uint64   // bumped on every child report
	child    ksync.Cond
	taskExit ksync.Cond // broadcast as each task is reclaimed

	alarm   func() bool
	alarmAt uint64

	deferred []func() // run by unlock

	Times
}

// Cred is a process's user and group ids.
type Cred struct {
	Uid, Euid, Suid int
	Gid, Egid, Sgid int
}

// Times is CPU time in ticks.
type Times struct {
	Utime  int64
	Stime  int64
	Cutime int64
	Cstime int64
}

func (p *Process) Pid() int     { return p.pid }
func (p *Process) Name() string { return p.name }

func (p *Process) String() string {
	return fmt.Sprintf("pid %d (%s)", p.pid, p.name)
}

// Ppid returns the parent's pid.
func (p *Process) Ppid() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.ppid
}

// Pgid returns the process group id.
func (p *Process) Pgid() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.pgid
}

// NTasks returns the number of tasks not yet reclaimed.
func (p *Process) NTasks() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.ntasks
}

// Pending returns the process-level pending signals.
func (p *Process) Pending() SigSet {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.pending
}

// Action returns the action for sig.
func (p *Process) Action(sig Signal) SigAction {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.actions[sig]
}

// Zombie reports whether every task of p is gone.
func (p *Process) Zombie() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.zombie
}

// Done is closed when p becomes a zombie.
func (p *Process) Done() <-chan struct{} { return p.done }

// A ProcRef is a counted reference to a process obtained from GetProc.
type ProcRef struct {
	p    *Process
	done bool
}

// GetProc returns a reference to the process with the given pid.
// The caller must Release it.
func (k *Kernel) GetProc(pid int) (*ProcRef, bool) {
	_, p, ok := k.procs.get(pid)
	if !ok {
		return nil, false
	}
	return &ProcRef{p: p}, true
}

func (r *ProcRef) Proc() *Process {
	if r.done {
		panic("kernel: use of released process reference")
	}
	return r.p
}

func (r *ProcRef) Release() {
	if r.done {
		panic("kernel: process reference released twice")
	}
	r.done = true
	r.p.k.procs.release(r.p.slot, r.p.pid)
}

// newProc reserves a process slot. The pid skips every id in use as
// a process group, so setpgid(pid, pid) never joins a stale group.
func (k *Kernel) newProc(name string) (*Process, Errno) {
	i, pid, p, err := k.procs.reserve(k.pidFree)
	if err != 0 {
		return nil, err
	}
	p.k = k
	p.slot = i
	p.pid = pid
	p.name = name
	p.tty = -1
	p.done = make(chan struct{})
	p.lock.Name = fmt.Sprintf("proc%d", pid)
	return p, 0
}

// pidFree reports whether no live process uses pid as its group
// or session id. It runs with the process table lock held.
func (k *Kernel) pidFree(pid int) bool {
	for i := range k.procs.slots {
		s := &k.procs.slots[i]
		if s.state != slotUsed {
			continue
		}
		if s.val.pgid == pid || s.val.sid == pid {
			return false
		}
	}
	return true
}

// Procs returns the pids of all live processes in slot order.
func (k *Kernel) Procs() []int {
	var list []int
	k.procs.each(func(p *Process) { list = append(list, p.pid) })
	return list
}

// findProcs returns counted references to every live process
// for which match reports true. match runs with the process table
// lock held and may read pid, ppid, pgid and sid, which change
// only under that lock.
func (k *Kernel) findProcs(match func(*Process) bool) []*ProcRef {
	var list []*ProcRef
	k.procs.lock.Lock()
	for i := range k.procs.slots {
		s := &k.procs.slots[i]
		if s.state == slotUsed && match(s.val) {
			s.refs++
			list = append(list, &ProcRef{p: s.val})
		}
	}
	k.procs.lock.Unlock()
	return list
}

func releaseAll(list []*ProcRef) {
	for _, r := range list {
		r.Release()
	}
}

// suser reports whether the credentials are the super-user's.
func (c *Cred) suser() bool { return c.Euid == 0 }

// canSignal reports whether a process with credentials c may send
// sig to one with credentials d.
func (c *Cred) canSignal(d *Cred, sig Signal, sameSession bool) bool {
	if c.suser() {
		return true
	}
	if sig == SIGCONT && sameSession {
		return true
	}
	return c.Uid == d.Uid || c.Uid == d.Suid || c.Euid == d.Uid || c.Euid == d.Suid
}
