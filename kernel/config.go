// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"fmt"
	"io"
	"os"
	"time"

	"rsc.io/smpkern/sched"
)

// A Config describes the machine a Kernel simulates and the
// collaborators it calls for memory and programs.
// The zero value of each field means its default.
type Config struct {
	NCPU    int // virtual cpus
	NTask   int // task table size
	NProc   int // process table size
	NTTY    int // terminals
	Quantum int // ticks per scheduling quantum

	// HZ is the rate at which a ticker goroutine drives Kernel.Tick.
	// Zero means no ticker: the caller calls Tick itself.
	HZ int

	// HandoffTimeout bounds how long a CPU waits for a task
	// that is still leaving another CPU. Expiry is fatal.
	HandoffTimeout time.Duration

	Trace bool      // log syscalls
	Log   io.Writer // trace output; os.Stderr if nil

	Stacks Stacks
	Spaces AddressSpaces
	Loader Loader
}

// DefaultConfig returns the configuration New uses for zero fields.
func DefaultConfig() Config {
	return Config{
		NCPU:           NCPU,
		NTask:          NTASK,
		NProc:          NPROC,
		NTTY:           NTTY,
		Quantum:        sched.DefaultQuantum,
		HandoffTimeout: 5 * time.Second,
		Log:            os.Stderr,
		Stacks:         NewStackPool(NSTACK, SSIZE),
		Spaces:         NewSpaceTable(),
		Loader:         make(Programs),
	}
}

func (c *Config) fill() error {
	def := DefaultConfig()
	if c.NCPU == 0 {
		c.NCPU = def.NCPU
	}
	if c.NTask == 0 {
		c.NTask = def.NTask
	}
	if c.NProc == 0 {
		c.NProc = def.NProc
	}
	if c.NTTY == 0 {
		c.NTTY = def.NTTY
	}
	if c.Quantum == 0 {
		c.Quantum = def.Quantum
	}
	if c.HandoffTimeout == 0 {
		c.HandoffTimeout = def.HandoffTimeout
	}
	if c.Log == nil {
		c.Log = def.Log
	}
	if c.Stacks == nil {
		c.Stacks = def.Stacks
	}
	if c.Spaces == nil {
		c.Spaces = def.Spaces
	}
	if c.Loader == nil {
		c.Loader = def.Loader
	}

	switch {
	case c.NCPU < 1:
		return fmt.Errorf("invalid cpu count %d", c.NCPU)
	case c.NTask < c.NCPU+1:
		return fmt.Errorf("task table of %d cannot hold %d idle tasks and init", c.NTask, c.NCPU)
	case c.NProc < 2:
		return fmt.Errorf("process table of %d too small", c.NProc)
	case c.Quantum < 1:
		return fmt.Errorf("invalid quantum %d", c.Quantum)
	case c.HZ < 0:
		return fmt.Errorf("invalid clock rate %d", c.HZ)
	}
	return nil
}
