// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"fmt"
	"math/bits"
	"strings"
)

/*
 * tunable defaults
 */
const (
	NCPU   = 4   /* virtual cpus */
	NTASK  = 256 /* max number of tasks */
	NPROC  = 128 /* max number of processes */
	NTTY   = 4   /* terminals */
	HZ     = 100 /* ticks/second of the clock */
	NSTACK = 256 /* kernel stacks in the default pool */
	SSIZE  = 16 << 10

	AnyCPU = -1

	// Task priorities. Higher runs first.
	PIDLE  = 0
	PUSER  = 4
	PMAX   = 15
	NZERO  = 20 /* nice bias */
	MAXUID = 1 << 16
)

// A Signal is a signal number, 1 through NSIG-1.
type Signal int

/*
 * signals, Linux numbering
 */
const (
	NSIG = 32

	SIGHUP    Signal = 1
	SIGINT    Signal = 2
	SIGQUIT   Signal = 3
	SIGILL    Signal = 4
	SIGTRAP   Signal = 5
	SIGABRT   Signal = 6
	SIGBUS    Signal = 7
	SIGFPE    Signal = 8
	SIGKILL   Signal = 9
	SIGUSR1   Signal = 10
	SIGSEGV   Signal = 11
	SIGUSR2   Signal = 12
	SIGPIPE   Signal = 13
	SIGALRM   Signal = 14
	SIGTERM   Signal = 15
	SIGSTKFLT Signal = 16
	SIGCHLD   Signal = 17
	SIGCONT   Signal = 18
	SIGSTOP   Signal = 19
	SIGTSTP   Signal = 20
	SIGTTIN   Signal = 21
	SIGTTOU   Signal = 22
	SIGURG    Signal = 23
	SIGXCPU   Signal = 24
	SIGXFSZ   Signal = 25
	SIGVTALRM Signal = 26
	SIGPROF   Signal = 27
	SIGWINCH  Signal = 28
	SIGIO     Signal = 29
	SIGPWR    Signal = 30
	SIGSYS    Signal = 31

	// sigStop occupies the unused bit 0. A task finding it pending
	// stops itself on behalf of a process-wide stop.
	sigStop Signal = 0
)

var signames = [NSIG]string{
	"STOPGROUP", "HUP", "INT", "QUIT", "ILL", "TRAP", "ABRT", "BUS",
	"FPE", "KILL", "USR1", "SEGV", "USR2", "PIPE", "ALRM", "TERM",
	"STKFLT", "CHLD", "CONT", "STOP", "TSTP", "TTIN", "TTOU", "URG",
	"XCPU", "XFSZ", "VTALRM", "PROF", "WINCH", "IO", "PWR", "SYS",
}

func (s Signal) String() string {
	if 0 <= s && s < NSIG {
		return "SIG" + signames[s]
	}
	return fmt.Sprintf("Signal(%d)", int(s))
}

func (s Signal) valid() bool { return 0 < s && s < NSIG }

// A SigSet is a set of signals; bit n is signal n.
type SigSet uint32

func Sigmask(sigs ...Signal) SigSet {
	var m SigSet
	for _, s := range sigs {
		m |= 1 << uint(s)
	}
	return m
}

func (m SigSet) Has(s Signal) bool { return m&(1<<uint(s)) != 0 }

// first returns the signal a task handles next from m:
// SIGKILL if present, otherwise the lowest numbered.
func (m SigSet) first() Signal {
	if m.Has(SIGKILL) {
		return SIGKILL
	}
	return Signal(bits.TrailingZeros32(uint32(m)))
}

func (m SigSet) String() string {
	var list []string
	for s := Signal(0); s < NSIG; s++ {
		if m.Has(s) {
			list = append(list, s.String())
		}
	}
	return "{" + strings.Join(list, ",") + "}"
}

var (
	// unblockable signals are stripped from every blocked mask.
	unblockable = Sigmask(SIGKILL, SIGSTOP, sigStop)

	stopSigs = Sigmask(SIGSTOP, SIGTSTP, SIGTTIN, SIGTTOU)
)

// A Disposition says what a process does with a signal.
type Disposition int

const (
	SigDefault Disposition = iota
	SigIgnore
	SigCatch
)

/* sigaction flags */
const (
	SA_NOCLDSTOP = 1 << iota /* no SIGCHLD when children stop or continue */
	SA_NODEFER               /* do not block the signal in its handler */
	SA_RESETHAND             /* reset to default on delivery */
)

// A SigAction is one entry of a process's signal action table.
type SigAction struct {
	Disposition Disposition
	Handler     func(t *Task, sig Signal)
	Mask        SigSet
	Flags       int
}

/* sigprocmask how */
const (
	SIG_BLOCK = iota
	SIG_UNBLOCK
	SIG_SETMASK
)

type defact int8

const (
	actTerm defact = iota
	actIgnore
	actStop
	actCore
)

func defaultAction(s Signal) defact {
	switch s {
	case SIGCHLD, SIGCONT, SIGURG, SIGWINCH:
		return actIgnore
	case SIGSTOP, SIGTSTP, SIGTTIN, SIGTTOU:
		return actStop
	case SIGQUIT, SIGILL, SIGTRAP, SIGABRT, SIGBUS, SIGFPE, SIGSEGV, SIGSYS, SIGXCPU, SIGXFSZ:
		return actCore
	}
	return actTerm
}

/* waitpid options */
const (
	WNOHANG    = 1
	WUNTRACED  = 2
	WCONTINUED = 8
)

// A WaitStatus is the status waitpid reports for a child,
// encoded the way Linux does.
type WaitStatus uint32

const (
	wcore    = 0x80
	wstopped = 0x7f
	wcont    = 0xffff
)

func exitStatus(code int) WaitStatus     { return WaitStatus(code&0xff) << 8 }
func signaledStatus(s Signal) WaitStatus { return WaitStatus(s) }
func stoppedStatus(s Signal) WaitStatus  { return WaitStatus(s)<<8 | wstopped }

func (w WaitStatus) Exited() bool    { return w&0x7f == 0 }
func (w WaitStatus) ExitStatus() int { return int(w>>8) & 0xff }
func (w WaitStatus) Signaled() bool  { return w&0x7f != 0 && w&0x7f != wstopped && w != wcont }
func (w WaitStatus) Signal() Signal  { return Signal(w & 0x7f) }
func (w WaitStatus) CoreDump() bool  { return w.Signaled() && w&wcore != 0 }
func (w WaitStatus) Stopped() bool   { return w&0xff == wstopped }
func (w WaitStatus) Continued() bool { return w == wcont }

func (w WaitStatus) StopSignal() Signal {
	if !w.Stopped() {
		return -1
	}
	return Signal(w>>8) & 0xff
}

func (w WaitStatus) String() string {
	switch {
	case w.Exited():
		return fmt.Sprintf("exit %d", w.ExitStatus())
	case w.Stopped():
		return fmt.Sprintf("stopped by %v", w.StopSignal())
	case w.Continued():
		return "continued"
	case w.CoreDump():
		return fmt.Sprintf("%v (core dumped)", w.Signal())
	}
	return w.Signal().String()
}
