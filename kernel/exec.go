// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import "rsc.io/smpkern/ksync"

/*
 * exec system call.
 * Replace the calling process's program with the
 * one at path. The other tasks of the process exit
 * first. Caught signals revert to the default action;
 * ignored ones and the mask are kept.
 * On success Exec does not return: the task starts
 * over in the new program.
 */
func (t *Task) Exec(path string, argv []string) Errno {
	k := t.k
	if k.cfg.Trace {
		k.tracef(t, "exec %s %q", path, argv)
	}
	_, err := t.syscall(SYS_EXEC, nil, func() (int, Errno) {
		return t.exec(path, argv)
	})
	if err != 0 {
		return err
	}
	panic(execUnwind{})
}

func (t *Task) exec(path string, argv []string) (int, Errno) {
	k := t.k
	p := t.proc
	prog, ok := k.loader.Load(path)
	if !ok {
		return -1, ENOENT
	}
	if err := t.killSiblings(); err != 0 {
		return -1, err
	}

	k.spaces.Release(p.pid)
	asid, ok := k.spaces.Create(p.pid)
	p.lock.Lock()
	if !ok {
		// The old image is gone; there is nothing to return to.
		k.exitProcLocked(p, signaledStatus(SIGSEGV))
		p.unlock()
		return -1, ENOMEM
	}
	p.asid = asid
	p.name = path
	for i := range p.actions {
		if p.actions[i].Disposition == SigCatch {
			p.actions[i] = SigAction{}
		}
	}
	p.unlock()

	t.body = prog
	t.argv = argv
	t.thread = false
	t.frames = nil
	t.Regs = Regs{SP: t.stack.Base + t.stack.Size}
	t.fpu = nil
	t.fpuDirty = false
	clear(t.cpu.fpu[:])
	return 0, 0
}

// killSiblings makes every other task of t's process exit and
// waits until they are gone.
func (t *Task) killSiblings() Errno {
	p := t.proc
	p.lock.Lock()
	for p.ntasks > 1 {
		for _, s := range p.tasks {
			if s == t {
				continue
			}
			s.killed.Store(true)
			s.lock.Lock()
			s.interruptUnlock(true)
		}
		if p.taskExit.WaitIntr(t, &p.lock) == ksync.Interrupted {
			p.lock.Unlock()
			return ERESTART
		}
	}
	p.lock.Unlock()
	return 0
}
