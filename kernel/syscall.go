// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"fmt"
	"strings"
)

// Syscall runs system call nr with integer arguments, the way a trap
// from user code would. Calls that take Go values (fork, exec,
// thread creation, catching a signal) have their own methods and
// fail here with ENOSYS.
func (t *Task) Syscall(nr int, args ...int) (int, Errno) {
	if nr <= 0 || nr >= NSYS || sysent[nr].impl == nil {
		return -1, ENOSYS
	}
	sys := &sysent[nr]
	if len(args) < sys.args {
		return -1, EINVAL
	}
	return sys.impl(t, args)
}

// syscall runs fn as system call nr. If fn reports ERESTART, t handles
// its pending signals as on a return to user mode; unless one of them
// ran a handler, fn runs again, and otherwise the call fails with EINTR.
// On the way out t sees its signals once more, and a mask saved by
// sigsuspend that no handler restored is put back.
func (t *Task) syscall(nr int, args []int, fn func() (int, Errno)) (int, Errno) {
	if t.idle {
		panic("kernel: system call on idle task")
	}
	k := t.k
	var ret int
	var err Errno
	for {
		t.depth.Add(1)
		ret, err = fn()
		t.depth.Add(-1)
		if err != ERESTART {
			break
		}
		t.Regs.Ret = -int(EINTR)
		n := t.nhandled
		t.Checkpoint()
		if t.nhandled != n {
			err = EINTR
			break
		}
		if k.cfg.Trace {
			k.tracef(t, "%s restart", SyscallName(nr))
		}
	}
	if err != 0 {
		ret = -1
		t.Regs.Ret = -int(err)
	} else {
		t.Regs.Ret = ret
	}
	if k.cfg.Trace {
		k.tracef(t, "%s", sysdesc(nr, args, ret, err))
	}
	t.Checkpoint()
	if t.restore {
		t.lock.Lock()
		t.blocked = t.oldmask &^ unblockable
		t.restore = false
		t.lock.Unlock()
	}
	return ret, err
}

// sysdesc formats a traced call from its sysent name.
func sysdesc(nr int, args []int, ret int, err Errno) string {
	name := sysent[nr].name
	var b strings.Builder
	arg := 0
	i := 0
	for ; i < len(name); i++ {
		c := name[i]
		if c != '%' || i+1 == len(name) {
			b.WriteByte(c)
			if c == ')' {
				i++
				break
			}
			continue
		}
		i++
		var v int
		if arg < len(args) {
			v = args[arg]
		}
		arg++
		fmtval(&b, name[i], v)
	}
	if err != 0 {
		fmt.Fprintf(&b, ": %v", err)
		return b.String()
	}
	for ; i < len(name); i++ {
		c := name[i]
		if c != '%' || i+1 == len(name) {
			b.WriteByte(c)
			continue
		}
		i++
		fmtval(&b, name[i], ret)
	}
	return b.String()
}

func fmtval(b *strings.Builder, verb byte, v int) {
	switch verb {
	case 'd':
		fmt.Fprintf(b, "%d", v)
	case 's':
		b.WriteString(Signal(v).String())
	case 'm':
		b.WriteString(SigSet(v).String())
	default:
		fmt.Fprintf(b, "%%%c", verb)
	}
}
