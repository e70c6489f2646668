// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"rsc.io/smpkern/ksync"
)

func TestKick(t *testing.T) {
	k, err := New(Config{NCPU: 2, Log: io.Discard})
	if err != nil {
		t.Fatal(err)
	}
	c0, c1 := k.cpus[0], k.cpus[1]
	k.kick(0, c0)
	if n := c0.ipis.Load(); n != 0 {
		t.Fatalf("kick of own cpu: cpu0 ipis = %d, want 0", n)
	}
	k.kick(1, c0)
	if n := c1.ipis.Load(); n != 1 {
		t.Fatalf("kick of cpu1 from cpu0: cpu1 ipis = %d, want 1", n)
	}
	k.kick(0, nil)
	if n := c0.ipis.Load(); n != 1 {
		t.Fatalf("kick of cpu0 from host: cpu0 ipis = %d, want 1", n)
	}
}

func TestMaskedTick(t *testing.T) {
	k := boot(t, Config{NCPU: 1, Quantum: 100})
	var l ksync.Spinlock
	var unlock, unlocked, finish atomic.Bool
	held := make(chan bool, 1)
	utime := make(chan int64, 1)
	pid, err := k.Spawn("masked", func(task *Task) {
		c := task.cpu
		l.LockIRQ(c)
		held <- true
		for !unlock.Load() {
			runtime.Gosched()
		}
		l.UnlockIRQ(c)
		unlocked.Store(true)
		for !finish.Load() {
			runtime.Gosched()
		}
		utime <- task.utime.Load()
	}, []string{"masked"})
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-held:
	case <-time.After(testTimeout):
		t.Fatal("task never took the lock")
	}

	c := k.cpus[0]
	before := c.ticks.Load()
	k.Tick(0)
	if have := c.ticks.Load(); have != before {
		t.Errorf("masked Tick: ticks = %d, want %d", have, before)
	}
	if have := c.deferred.Load(); have != 1 {
		t.Errorf("masked Tick: deferred = %d, want 1", have)
	}

	unlock.Store(true)
	deadline := time.Now().Add(testTimeout)
	for !unlocked.Load() {
		if time.Now().After(deadline) {
			t.Fatal("task never released the lock")
		}
		time.Sleep(time.Millisecond)
	}
	k.Tick(0)
	if have, want := c.ticks.Load(), before+2; have != want {
		t.Errorf("Tick after unlock: ticks = %d, want %d", have, want)
	}
	if have := c.deferred.Load(); have != 0 {
		t.Errorf("Tick after unlock: deferred = %d, want 0", have)
	}

	finish.Store(true)
	select {
	case have := <-utime:
		if have != 2 {
			t.Errorf("utime = %d, want 2", have)
		}
	case <-time.After(testTimeout):
		t.Fatal("task did not finish")
	}
	wait(t, k, pid)
}

func TestHandoffTimeout(t *testing.T) {
	k, err := New(Config{NCPU: 2, Log: io.Discard, HandoffTimeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	task := k.cpus[1].idle
	task.float.Store(&handoff{landed: make(chan struct{})})
	msg := func() (msg string) {
		defer func() {
			msg = fmt.Sprint(recover())
		}()
		task.await(k.cpus[0])
		return ""
	}()
	if !strings.Contains(msg, "still floating") {
		t.Fatalf("await of a task that never lands: panic %q, want still floating", msg)
	}

	k.cfg.HandoffTimeout = testTimeout
	h := &handoff{landed: make(chan struct{})}
	task.float.Store(h)
	go func() {
		time.Sleep(5 * time.Millisecond)
		close(h.landed)
	}()
	task.await(k.cpus[0])
}
