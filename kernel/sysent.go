// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

// System call numbers.
const (
	SYS_EXIT = 1 + iota
	SYS_FORK
	SYS_WAITPID
	SYS_EXEC
	SYS_KILL
	SYS_TKILL
	SYS_SIGACTION
	SYS_SIGPROCMASK
	SYS_SIGPENDING
	SYS_SIGWAIT
	SYS_SIGSUSPEND
	SYS_PAUSE
	SYS_SLEEP
	SYS_ALARM
	SYS_YIELD
	SYS_GETPID
	SYS_GETPPID
	SYS_GETTID
	SYS_SETSID
	SYS_GETSID
	SYS_SETPGID
	SYS_GETPGID
	SYS_SETUID
	SYS_GETUID
	SYS_SETGID
	SYS_GETGID
	SYS_NICE
	SYS_TIMES
	SYS_THREAD
	SYS_THREAD_EXIT
	SYS_AFFINITY
	SYS_SETCTTY
	SYS_TCSETPGRP
	NSYS
)

// A sysentry describes one system call. name is a trace format:
// %d prints an argument in decimal, %s as a signal, %m as a signal
// set; after the closing parenthesis, %d prints the result.
// impl runs the call from integer arguments; it is nil for calls
// that take Go values.
type sysentry struct {
	args int
	name string
	impl func(t *Task, a []int) (int, Errno)
}

var sysent [NSYS]sysentry

func init() {
	sysent = [NSYS]sysentry{
		SYS_EXIT:    {1, "exit(%d)", sysexit},
		SYS_FORK:    {0, "fork() = %d", nil},
		SYS_WAITPID: {2, "waitpid(%d, %d) = %d", syswaitpid},
		SYS_EXEC:    {0, "exec()", nil},
		SYS_KILL:    {2, "kill(%d, %s)", syskill},
		SYS_TKILL:   {2, "tkill(%d, %s)", systkill},

		SYS_SIGACTION:   {2, "sigaction(%s, %d)", syssigaction},
		SYS_SIGPROCMASK: {2, "sigprocmask(%d, %m) = %m", syssigprocmask},
		SYS_SIGPENDING:  {0, "sigpending() = %m", syssigpending},
		SYS_SIGWAIT:     {1, "sigwait(%m) = %s", syssigwait},
		SYS_SIGSUSPEND:  {1, "sigsuspend(%m)", syssigsuspend},
		SYS_PAUSE:       {0, "pause()", syspause},
		SYS_SLEEP:       {1, "sleep(%d) = %d", syssleep},
		SYS_ALARM:       {1, "alarm(%d) = %d", sysalarm},
		SYS_YIELD:       {0, "yield()", sysyield},

		SYS_GETPID:  {0, "getpid() = %d", sysgetpid},
		SYS_GETPPID: {0, "getppid() = %d", sysgetppid},
		SYS_GETTID:  {0, "gettid() = %d", sysgettid},
		SYS_SETSID:  {0, "setsid() = %d", syssetsid},
		SYS_GETSID:  {1, "getsid(%d) = %d", sysgetsid},
		SYS_SETPGID: {2, "setpgid(%d, %d)", syssetpgid},
		SYS_GETPGID: {1, "getpgid(%d) = %d", sysgetpgid},
		SYS_SETUID:  {1, "setuid(%d)", syssetuid},
		SYS_GETUID:  {0, "getuid() = %d", sysgetuid},
		SYS_SETGID:  {1, "setgid(%d)", syssetgid},
		SYS_GETGID:  {0, "getgid() = %d", sysgetgid},
		SYS_NICE:    {1, "nice(%d) = %d", sysnice},
		SYS_TIMES:   {0, "times() = %d", systimes},

		SYS_THREAD:      {0, "thread() = %d", nil},
		SYS_THREAD_EXIT: {1, "thread_exit(%d)", systhreadexit},
		SYS_AFFINITY:    {1, "affinity(%d)", sysaffinity},
		SYS_SETCTTY:     {1, "setctty(%d)", syssetctty},
		SYS_TCSETPGRP:   {2, "tcsetpgrp(%d, %d)", systcsetpgrp},
	}
}

// SyscallName returns the name of system call nr.
func SyscallName(nr int) string {
	if nr <= 0 || nr >= NSYS {
		return ""
	}
	name := sysent[nr].name
	for i := 0; i < len(name); i++ {
		if name[i] == '(' {
			return name[:i]
		}
	}
	return name
}

// LookupSyscall returns the number of the system call with the given name.
func LookupSyscall(name string) (int, bool) {
	for nr := 1; nr < NSYS; nr++ {
		if SyscallName(nr) == name {
			return nr, true
		}
	}
	return 0, false
}
