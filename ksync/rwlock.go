// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ksync

// An RWLock is a reader/writer lock built from two semaphores.
// The first reader in takes the writer semaphore on behalf of all
// readers and the last reader out releases it.
//
// There is no fairness: a continuous stream of readers starves writers.
type RWLock struct {
	mu      Semaphore // guards readers
	wsem    Semaphore
	readers int
}

// NewRWLock returns an unlocked RWLock.
func NewRWLock(name string) *RWLock {
	l := new(RWLock)
	l.Init(name)
	return l
}

// Init resets l to the unlocked state.
func (l *RWLock) Init(name string) {
	l.mu.Init(name+".readers", 1)
	l.wsem.Init(name+".writer", 1)
	l.readers = 0
}

// RLock acquires l for reading. Readers share l with each other.
func (l *RWLock) RLock(w Waiter) {
	l.mu.Down(w)
	l.readers++
	if l.readers == 1 {
		l.wsem.Down(w)
	}
	l.mu.UpMutex()
}

// RUnlock releases one read hold; the last reader out lets writers in.
func (l *RWLock) RUnlock(w Waiter) {
	l.mu.Down(w)
	l.readers--
	switch {
	case l.readers == 0:
		l.wsem.UpMutex()
	case l.readers < 0:
		panic("ksync: RUnlock of unlocked RWLock")
	}
	l.mu.UpMutex()
}

// Lock acquires l for writing, excluding readers and other writers.
func (l *RWLock) Lock(w Waiter) {
	l.wsem.Down(w)
}

// Unlock releases a write hold.
func (l *RWLock) Unlock() {
	l.wsem.UpMutex()
}
