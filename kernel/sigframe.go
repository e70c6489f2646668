// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

// A SigFrame is what the kernel pushes on a task's user stack before
// running a signal handler: the interrupted registers, the blocked
// mask to restore, and the FPU state if the task had any.
type SigFrame struct {
	Sig  Signal
	Regs Regs
	Mask SigSet
	FPU  []byte
}

const sigFrameSize = 1024

// deliver runs act's handler for sig on t's user stack and returns
// once the handler does, as sigreturn would.
func (t *Task) deliver(sig Signal, act SigAction) {
	f := SigFrame{Sig: sig, Regs: t.Regs}
	if t.fpuDirty || t.fpu != nil {
		f.FPU = append([]byte(nil), t.cpu.fpu[:]...)
	}

	t.lock.Lock()
	f.Mask = t.blocked
	if t.restore {
		f.Mask = t.oldmask
		t.restore = false
	}
	t.blocked |= act.Mask
	if act.Flags&SA_NODEFER == 0 {
		t.blocked |= Sigmask(sig)
	}
	t.blocked &^= unblockable
	t.lock.Unlock()

	t.frames = append(t.frames, f)
	t.Regs.SP -= sigFrameSize
	t.Regs.Args[0] = int(sig)
	t.nhandled++

	act.Handler(t, sig)
	t.sigreturn()
}

// sigreturn pops the innermost signal frame and restores the
// registers, mask and FPU state it saved.
func (t *Task) sigreturn() {
	n := len(t.frames)
	if n == 0 {
		panic("kernel: sigreturn without a signal frame")
	}
	f := t.frames[n-1]
	t.frames = t.frames[:n-1]
	t.Regs = f.Regs
	if f.FPU != nil {
		copy(t.cpu.fpu[:], f.FPU)
		t.fpuDirty = true
	}
	t.lock.Lock()
	t.blocked = f.Mask &^ unblockable
	t.lock.Unlock()
}
