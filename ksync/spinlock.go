// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ksync implements the kernel's blocking and non-blocking
// synchronization primitives: spinlocks, semaphores, condition variables
// and reader/writer locks.
//
// The blocking primitives queue an event control block (ECB) for each
// waiter and park the waiter through the Waiter interface, which the
// kernel's tasks implement. A waiter never sleeps while holding a
// spinlock: every blocking call releases its locks before parking.
package ksync

import (
	"runtime"
	"sync/atomic"
)

// An IRQMask suppresses interrupt delivery on the local CPU.
// PushOff/PopOff nest.
type IRQMask interface {
	PushOff()
	PopOff()
}

// A Spinlock is a single-word test-and-set lock.
// Holders must not sleep or be switched away from.
type Spinlock struct {
	v    atomic.Uint32
	Name string
}

const spinYield = 64

// Lock spins until l is acquired.
func (l *Spinlock) Lock() {
	for n := 0; !l.v.CompareAndSwap(0, 1); n++ {
		// Virtual CPUs are goroutines; let the holder run.
		if n%spinYield == spinYield-1 {
			runtime.Gosched()
		}
	}
}

// TryLock acquires l if it is free.
func (l *Spinlock) TryLock() bool {
	return l.v.CompareAndSwap(0, 1)
}

// Unlock releases l. The atomic store orders every write made
// in the critical section before the release.
func (l *Spinlock) Unlock() {
	if l.v.Swap(0) == 0 {
		panic("ksync: unlock of unlocked spinlock " + l.Name)
	}
}

// Held reports whether l is currently held by anyone.
func (l *Spinlock) Held() bool {
	return l.v.Load() != 0
}

// LockIRQ masks interrupts on the local CPU and then acquires l.
func (l *Spinlock) LockIRQ(m IRQMask) {
	m.PushOff()
	l.Lock()
}

// UnlockIRQ releases l and restores the interrupt mask.
func (l *Spinlock) UnlockIRQ(m IRQMask) {
	l.Unlock()
	m.PopOff()
}
