// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"sync/atomic"
	"testing"

	"rsc.io/smpkern/ksync"
)

// joinThreads yields until t is the only task left in its process.
func joinThreads(t *Task) {
	for t.Process().NTasks() > 1 {
		t.Yield()
	}
}

func TestSemaphoreTasks(t *testing.T) {
	const nthread, iters = 4, 50
	k := boot(t, Config{})
	sem := ksync.NewSemaphore("counter", 1)
	counter := 0
	run(t, k, func(task *Task) {
		for i := 0; i < nthread; i++ {
			task.CreateThread(func(th *Task) {
				for j := 0; j < iters; j++ {
					sem.Down(th)
					v := counter
					th.Yield()
					counter = v + 1
					sem.Up()
				}
			})
		}
		joinThreads(task)
	})
	if counter != nthread*iters {
		t.Fatalf("counter = %d, want %d", counter, nthread*iters)
	}
	if sem.Count() != 1 || len(sem.Waiters()) != 0 {
		t.Fatalf("semaphore count %d with %d waiters, want 1 and 0", sem.Count(), len(sem.Waiters()))
	}
}

func TestDownIntrTask(t *testing.T) {
	k := boot(t, Config{})
	sem := ksync.NewSemaphore("never", 0)
	run(t, k, func(task *Task) {
		var caught int
		task.Sigaction(SIGUSR1, SigAction{Disposition: SigCatch, Handler: func(*Task, Signal) { caught++ }})
		main := task.Tid()
		task.CreateThread(func(th *Task) {
			for task.Status() != TaskBlockedIntr {
				th.Yield()
			}
			th.Tkill(main, SIGUSR1)
		})
		if r := sem.DownIntr(task); r != ksync.Interrupted {
			t.Errorf("DownIntr = %v, want Interrupted", r)
		}
		if n := len(sem.Waiters()); n != 0 {
			t.Errorf("%d waiters left after interrupt", n)
		}
		task.Checkpoint()
		if caught != 1 {
			t.Errorf("handler ran %d times, want 1", caught)
		}
		joinThreads(task)
	})
}

func TestRWLockTasks(t *testing.T) {
	k := boot(t, Config{})
	l := ksync.NewRWLock("rw")
	var readers, writers atomic.Int32
	run(t, k, func(task *Task) {
		for i := 0; i < 2; i++ {
			task.CreateThread(func(r *Task) {
				l.RLock(r)
				readers.Add(1)
				// Both readers must get in together.
				for readers.Load() < 2 {
					r.Yield()
				}
				if writers.Load() != 0 {
					t.Errorf("reader inside with a writer")
				}
				l.RUnlock(r)
			})
		}
		task.CreateThread(func(w *Task) {
			l.Lock(w)
			writers.Add(1)
			if n := readers.Load(); n != 0 && n != 2 {
				t.Errorf("writer inside with %d readers", n)
			}
			w.Yield()
			writers.Add(-1)
			l.Unlock()
		})
		joinThreads(task)
	})
}
