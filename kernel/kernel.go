// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kernel implements the process and task core of a simulated
// SMP kernel: task and process tables, per-CPU scheduling and context
// switch, POSIX signals, and fork, exec, exit and wait.
//
// Each task runs on its own goroutine. A virtual CPU is owned by one
// task goroutine at a time and passes from task to task when the CPU's
// run queue selects a new task, so at most NCPU tasks execute at once.
// A task's program is an ordinary Go function; it enters the kernel
// through the syscall methods of *Task and through Checkpoint, which
// stands for a return to user mode and is where signals are handled
// and exit requests honored.
package kernel

import (
	"fmt"
	"sync"
	"time"

	"rsc.io/smpkern/clock"
	"rsc.io/smpkern/sched"
)

// A Kernel is one simulated machine.
type Kernel struct {
	cfg    Config
	tasks  table[Task]
	procs  table[Process]
	cpus   []*CPU
	rqs    []*sched.RunQueue
	clock  *clock.Clock
	stacks Stacks
	spaces AddressSpaces
	loader Loader
	ttys   []*TTY
	kproc  *Process // pid 0, parent of spawned processes

	halt     chan struct{}
	haltOnce sync.Once
	bootOnce sync.Once
	logMu    sync.Mutex
}

// New returns a kernel for cfg. Zero fields of cfg take their
// DefaultConfig values. Call Boot to start the cpus.
func New(cfg Config) (*Kernel, error) {
	if err := cfg.fill(); err != nil {
		return nil, err
	}
	k := &Kernel{
		cfg:    cfg,
		stacks: cfg.Stacks,
		spaces: cfg.Spaces,
		loader: cfg.Loader,
		halt:   make(chan struct{}),
	}
	k.tasks.init("tasktab", cfg.NTask, 1)
	k.procs.init("proctab", cfg.NProc, 0)
	k.clock = clock.New(cfg.HZ, time.Now())
	for i := 0; i < cfg.NCPU; i++ {
		c := newCPU(k, i)
		k.cpus = append(k.cpus, c)
		k.rqs = append(k.rqs, c.rq)
	}
	for i := 0; i < cfg.NTTY; i++ {
		k.ttys = append(k.ttys, newTTY(k, i))
	}

	kp, err := k.newProc("kernel")
	if err != 0 {
		return nil, fmt.Errorf("kernel process: %v", err)
	}
	k.kproc = kp
	for _, c := range k.cpus {
		t, err := k.newTask(kp, nil)
		if err != 0 {
			return nil, fmt.Errorf("idle task for cpu %d: %v", c.id, err)
		}
		t.idle = true
		t.prio = PIDLE
		t.affinity = c.id
		t.cpu = c
		t.status = TaskRunning
		t.lock.Name = fmt.Sprintf("idle%d", c.id)
		c.idle = t
		c.rq.SetIdle(t.tid)
		kp.tasks = append(kp.tasks, t)
		kp.ntasks++
		k.tasks.activate(t.slot)
	}
	k.procs.activate(kp.slot)
	return k, nil
}

// Boot starts every cpu on its idle task and, if HZ is set,
// the timer ticker.
func (k *Kernel) Boot() {
	k.bootOnce.Do(func() {
		for _, c := range k.cpus {
			go c.idle.idleMain()
			c.cur.Store(c.idle)
			c.idle.run <- c
		}
		if k.cfg.HZ > 0 {
			go k.ticker()
		}
	})
}

func (t *Task) idleMain() {
	c := <-t.run
	t.land(c)
	c.idleLoop(t)
}

func (k *Kernel) ticker() {
	tk := time.NewTicker(time.Second / time.Duration(k.cfg.HZ))
	defer tk.Stop()
	for {
		select {
		case <-tk.C:
			k.TickAll()
		case <-k.halt:
			return
		}
	}
}

// Shutdown stops the ticker and the idle loops. Tasks still parked
// stay parked.
func (k *Kernel) Shutdown() {
	k.haltOnce.Do(func() { close(k.halt) })
}

func (k *Kernel) NCPU() int           { return len(k.cpus) }
func (k *Kernel) Clock() *clock.Clock { return k.clock }
func (k *Kernel) Config() Config      { return k.cfg }

// RunQueue returns cpu n's run queue.
func (k *Kernel) RunQueue(n int) *sched.RunQueue { return k.rqs[n] }

// Start loads the program at path and spawns it.
func (k *Kernel) Start(path string, argv []string) (int, error) {
	prog, ok := k.loader.Load(path)
	if !ok {
		return 0, fmt.Errorf("start %s: %v", path, ENOENT)
	}
	return k.Spawn(path, prog, argv)
}

// Spawn creates a process running prog as a child of the kernel.
// The process leads a new session and group and runs as root.
// The first process spawned is pid 1, which inherits orphans.
func (k *Kernel) Spawn(name string, prog Program, argv []string) (int, error) {
	p, err := k.newProc(name)
	if err != 0 {
		return 0, fmt.Errorf("spawn %s: %v", name, err)
	}
	t, err := k.newTask(p, prog)
	if err != 0 {
		k.procs.unreserve(p.slot)
		return 0, fmt.Errorf("spawn %s: %v", name, err)
	}
	asid, ok := k.spaces.Create(p.pid)
	if !ok {
		k.dropTask(t)
		k.procs.unreserve(p.slot)
		return 0, fmt.Errorf("spawn %s: %v", name, ENOMEM)
	}
	p.asid = asid
	p.ppid = 0
	p.sid = p.pid
	p.pgid = p.pid
	p.spawned = true
	p.tasks = []*Task{t}
	p.ntasks = 1
	t.argv = argv

	k.procs.activate(p.slot)
	k.tasks.activate(t.slot)
	if k.cfg.Trace {
		k.tracef(t, "spawn %s %q", name, argv)
	}
	k.start(t, nil)
	return p.pid, nil
}

// start launches t's goroutine and makes it runnable.
// from is the cpu of the task starting t, nil for the host.
func (k *Kernel) start(t *Task, from *CPU) {
	go t.main()
	t.lock.Lock()
	t.ready(from)
	t.lock.Unlock()
}

// Wait waits for pid, a child of the kernel, to exit, reaps it
// and returns its status.
func (k *Kernel) Wait(pid int) (WaitStatus, error) {
	r, ok := k.GetProc(pid)
	if !ok {
		return 0, fmt.Errorf("wait %d: %v", pid, ESRCH)
	}
	p := r.Proc()
	<-p.done
	p.lock.Lock()
	st, ppid := p.status, p.ppid
	p.lock.Unlock()
	r.Release()
	if ppid != 0 {
		return st, fmt.Errorf("wait %d: not a child of the kernel", pid)
	}
	k.collect(k.kproc, p)
	return st, nil
}

func (k *Kernel) tracef(t *Task, format string, args ...any) {
	k.logf("[pid %d tid %d] %s", t.proc.pid, t.tid, fmt.Sprintf(format, args...))
}

func (k *Kernel) logf(format string, args ...any) {
	k.logMu.Lock()
	defer k.logMu.Unlock()
	fmt.Fprintf(k.cfg.Log, format+"\n", args...)
}
