// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"bytes"

	"rsc.io/smpkern/ksync"
)

// A TTY is a terminal line. Its only job here is to turn the
// interrupt, quit and suspend characters typed on it into signals
// for its foreground process group; other input is buffered.
type TTY struct {
	k    *Kernel
	n    int
	lock ksync.Spinlock
	sid  int // session owning the line, 0 if none
	pgrp int // foreground process group

	// Print echoes input; nil means no echo.
	Print func(b []byte)

	Raw   bytes.Buffer
	Intr  byte
	Quit  byte
	Susp  byte
	Flags uint16
}

/* default special characters */
const (
	CINTR = 'C' - '@'
	CQUIT = '\\' - '@'
	CSUSP = 'Z' - '@'
)

/* modes */
const (
	ECHO = 0o10
	RAW  = 0o40
)

func newTTY(k *Kernel, n int) *TTY {
	tp := &TTY{k: k, n: n, Intr: CINTR, Quit: CQUIT, Susp: CSUSP, Flags: ECHO}
	tp.lock.Name = "tty"
	return tp
}

// TTY returns terminal n, or nil if there is none.
func (k *Kernel) TTY(n int) *TTY {
	tp, err := k.tty(n)
	if err != 0 {
		return nil
	}
	return tp
}

func (k *Kernel) tty(n int) (*TTY, Errno) {
	if n < 0 || n >= len(k.ttys) {
		return nil, ENOTTY
	}
	return k.ttys[n], 0
}

// Pgrp returns the foreground process group, 0 if none.
func (tp *TTY) Pgrp() int {
	tp.lock.Lock()
	defer tp.lock.Unlock()
	return tp.pgrp
}

// WriteByte delivers one input character typed on the line.
func (tp *TTY) WriteByte(c byte) error {
	tp.lock.Lock()
	pgrp, flags := tp.pgrp, tp.Flags
	tp.lock.Unlock()

	if flags&RAW == 0 {
		var sig Signal
		switch c {
		case tp.Intr:
			sig = SIGINT
		case tp.Quit:
			sig = SIGQUIT
		case tp.Susp:
			sig = SIGTSTP
		}
		if sig != 0 {
			if pgrp != 0 {
				tp.k.killpg(pgrp, sig)
			}
			tp.lock.Lock()
			tp.Raw.Reset()
			tp.lock.Unlock()
			return nil
		}
	}
	tp.lock.Lock()
	tp.Raw.WriteByte(c)
	tp.lock.Unlock()
	if flags&ECHO != 0 && tp.Print != nil {
		var buf [1]byte
		buf[0] = c
		tp.Print(buf[:])
	}
	return nil
}
