// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"bytes"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"
)

const testTimeout = 10 * time.Second

// boot returns a running kernel for a test, shut down at cleanup.
func boot(t *testing.T, cfg Config) *Kernel {
	t.Helper()
	if cfg.NCPU == 0 {
		cfg.NCPU = 2
	}
	if cfg.Log == nil {
		cfg.Log = io.Discard
	}
	k, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	k.Boot()
	t.Cleanup(k.Shutdown)
	return k
}

// run spawns prog and waits for it to exit.
func run(t *testing.T, k *Kernel, prog Program) WaitStatus {
	t.Helper()
	pid, err := k.Spawn("test", prog, []string{"test"})
	if err != nil {
		t.Fatal(err)
	}
	return wait(t, k, pid)
}

func wait(t *testing.T, k *Kernel, pid int) WaitStatus {
	t.Helper()
	type result struct {
		st  WaitStatus
		err error
	}
	c := make(chan result, 1)
	go func() {
		st, err := k.Wait(pid)
		c <- result{st, err}
	}()
	select {
	case r := <-c:
		if r.err != nil {
			t.Fatal(r.err)
		}
		return r.st
	case <-time.After(testTimeout):
		var buf bytes.Buffer
		k.Dump(&buf)
		t.Fatalf("pid %d did not exit:\n%s", pid, buf.String())
		panic("unreachable")
	}
}

func TestTableStaleID(t *testing.T) {
	var tb table[int]
	tb.init("test", 2, 1)
	i, id, _, err := tb.reserve(nil)
	if err != 0 {
		t.Fatal(err)
	}
	if _, _, ok := tb.get(id); ok {
		t.Fatalf("get of reserved slot succeeded")
	}
	tb.activate(i)
	j, v, ok := tb.get(id)
	if !ok || j != i || v == nil {
		t.Fatalf("get(%d) = %d, %v, %v, want %d, non-nil, true", id, j, v, ok, i)
	}
	if tb.release(i, id) {
		t.Fatalf("release of extra reference freed slot")
	}
	if !tb.release(i, id) {
		t.Fatalf("release of owner reference did not free slot")
	}

	i2, id2, _, _ := tb.reserve(nil)
	tb.activate(i2)
	if id2 == id {
		t.Fatalf("id %d reused", id)
	}
	if _, _, ok := tb.get(id); ok {
		t.Fatalf("stale id %d found a reused slot", id)
	}

	tb.reserve(nil)
	if _, _, _, err := tb.reserve(nil); err != EAGAIN {
		t.Fatalf("reserve on full table: have %v, want EAGAIN", err)
	}
	if n := tb.inUse(); n != 2 {
		t.Fatalf("inUse() = %d, want 2", n)
	}
}

func TestReleaseStalePanics(t *testing.T) {
	var tb table[int]
	tb.init("test", 1, 1)
	i, id, _, _ := tb.reserve(nil)
	tb.activate(i)
	tb.release(i, id)
	defer func() {
		if recover() == nil {
			t.Fatal("release of freed slot did not panic")
		}
	}()
	tb.release(i, id)
}

func TestPidSkipsLiveGroup(t *testing.T) {
	k, err := New(Config{NCPU: 1, Log: io.Discard})
	if err != nil {
		t.Fatal(err)
	}
	p, errno := k.newProc("a")
	if errno != 0 {
		t.Fatal(errno)
	}
	p.pgid = p.pid + 1
	p.sid = p.pid
	k.procs.activate(p.slot)
	q, errno := k.newProc("b")
	if errno != 0 {
		t.Fatal(errno)
	}
	if q.pid == p.pid+1 {
		t.Fatalf("new pid %d equals live process group", q.pid)
	}
}

func TestConfig(t *testing.T) {
	if _, err := New(Config{NCPU: 4, NTask: 4}); err == nil {
		t.Fatal("New accepted a task table too small for the idle tasks")
	}
	k, err := New(Config{NCPU: 3, Log: io.Discard})
	if err != nil {
		t.Fatal(err)
	}
	if k.NCPU() != 3 {
		t.Fatalf("NCPU() = %d, want 3", k.NCPU())
	}
	if n := len(k.Tasks()); n != 3 {
		t.Fatalf("%d tasks at boot, want 3 idle tasks", n)
	}
	for i := 0; i < 3; i++ {
		if a := k.RunQueue(i).Active(); a != -1 {
			t.Fatalf("cpu %d active %d before boot", i, a)
		}
	}
}

func TestSpawnExit(t *testing.T) {
	k := boot(t, Config{})
	st := run(t, k, func(task *Task) {
		if task.Pid() != 1 {
			t.Errorf("first spawned pid = %d, want 1", task.Pid())
		}
		if task.Getppid() != 0 {
			t.Errorf("getppid() = %d, want 0", task.Getppid())
		}
		if !reflect.DeepEqual(task.Args(), []string{"test"}) {
			t.Errorf("args = %q", task.Args())
		}
		task.Exit(3)
	})
	if !st.Exited() || st.ExitStatus() != 3 {
		t.Fatalf("status = %v, want exit 3", st)
	}
	if n := len(k.Procs()); n != 1 {
		t.Fatalf("%d processes left, want only the kernel", n)
	}
}

func TestForkWait(t *testing.T) {
	k := boot(t, Config{})
	st := run(t, k, func(task *Task) {
		task.Sigprocmask(SIG_BLOCK, Sigmask(SIGCHLD))
		var chld int
		task.Sigaction(SIGCHLD, SigAction{Disposition: SigCatch, Handler: func(*Task, Signal) { chld++ }})

		pid, err := task.Fork(func(child *Task) {
			if child.Regs.Ret != 0 {
				t.Errorf("child: fork returned %d, want 0", child.Regs.Ret)
			}
			if n := child.Process().NTasks(); n != 1 {
				t.Errorf("child: %d tasks, want 1", n)
			}
			if child.Blocked() != Sigmask(SIGCHLD) {
				t.Errorf("child: mask %v not inherited", child.Blocked())
			}
			child.Exit(7)
		})
		if err != 0 {
			t.Errorf("fork: %v", err)
			return
		}
		if task.Regs.Ret != pid {
			t.Errorf("parent: Regs.Ret = %d, want %d", task.Regs.Ret, pid)
		}

		wpid, st, err := task.Waitpid(-1, 0)
		if err != 0 || wpid != pid || st.ExitStatus() != 7 {
			t.Errorf("waitpid = %d, %v, %v, want %d, exit 7, 0", wpid, st, err, pid)
		}
		if !task.Sigpending().Has(SIGCHLD) {
			t.Errorf("no SIGCHLD pending after child exit")
		}
		task.Sigprocmask(SIG_UNBLOCK, Sigmask(SIGCHLD))
		if chld != 1 {
			t.Errorf("got %d SIGCHLD, want 1", chld)
		}
		if _, _, err := task.Waitpid(pid, 0); err != ECHILD {
			t.Errorf("second waitpid: have %v, want ECHILD", err)
		}
	})
	if !st.Exited() || st.ExitStatus() != 0 {
		t.Fatalf("status = %v", st)
	}
}

func TestWaitNoHang(t *testing.T) {
	k := boot(t, Config{})
	run(t, k, func(task *Task) {
		if _, _, err := task.Waitpid(-1, WNOHANG); err != ECHILD {
			t.Errorf("waitpid with no children: have %v, want ECHILD", err)
		}
		pid, _ := task.Fork(func(child *Task) { child.Pause() })
		wpid, _, err := task.Waitpid(pid, WNOHANG)
		if wpid != 0 || err != 0 {
			t.Errorf("waitpid(WNOHANG) = %d, %v, want 0, 0", wpid, err)
		}
		task.Kill(pid, SIGKILL)
		_, st, _ := task.Waitpid(pid, 0)
		if !st.Signaled() || st.Signal() != SIGKILL {
			t.Errorf("status = %v, want SIGKILL", st)
		}
	})
}

func TestForkExhaustion(t *testing.T) {
	stacks := NewStackPool(NSTACK, SSIZE)
	k := boot(t, Config{NCPU: 1, NProc: 3, Stacks: stacks})
	run(t, k, func(task *Task) {
		before := stacks.InUse()
		// kernel, init, one child: the table is full.
		pid, err := task.Fork(func(child *Task) { child.Pause() })
		if err != 0 {
			t.Errorf("fork: %v", err)
			return
		}
		if _, err := task.Fork(func(*Task) {}); err != EAGAIN {
			t.Errorf("fork on full table: have %v, want EAGAIN", err)
		}
		if n := stacks.InUse(); n != before+1 {
			t.Errorf("stacks in use = %d, want %d", n, before+1)
		}
		task.Kill(pid, SIGKILL)
		task.Waitpid(pid, 0)
	})
}

func TestForkNoAddressSpace(t *testing.T) {
	spaces := NewSpaceTable()
	k := boot(t, Config{Spaces: spaces})
	run(t, k, func(task *Task) {
		spaces.SetLimit(1)
		if _, err := task.Fork(func(*Task) {}); err != ENOMEM {
			t.Errorf("fork without address space: have %v, want ENOMEM", err)
		}
		if n := len(k.Procs()); n != 2 {
			t.Errorf("%d processes after failed fork, want 2", n)
		}
	})
	if n := spaces.Live(); n != 0 {
		t.Fatalf("%d address spaces live after exit", n)
	}
}

func TestOrphans(t *testing.T) {
	k := boot(t, Config{})
	run(t, k, func(root *Task) {
		done := make(chan int, 1)
		mid, _ := root.Fork(func(mid *Task) {
			pid, _ := mid.Fork(func(gc *Task) {
				for gc.Getppid() != 1 {
					gc.Yield()
				}
				gc.Exit(4)
			})
			done <- pid
			mid.Exit(0)
		})
		if pid, _, _ := root.Waitpid(mid, 0); pid != mid {
			t.Errorf("waitpid(mid) = %d", pid)
		}
		gc := <-done
		pid, st, err := root.Waitpid(-1, 0)
		if pid != gc || st.ExitStatus() != 4 || err != 0 {
			t.Errorf("init waitpid = %d, %v, %v, want orphan %d with exit 4", pid, st, err, gc)
		}
	})
}

// Once init is gone, orphans belong to the kernel, which collects
// them as they die so their slots do not leak.
func TestKernelCollectsOrphans(t *testing.T) {
	var tests = []struct {
		name  string
		child Program
		// init exits once ready reports true
		ready func(k *Kernel, pid int) bool
	}{
		{
			name:  "exit after init",
			child: func(c *Task) { c.SleepTicks(5); c.Exit(3) },
			ready: func(*Kernel, int) bool { return true },
		},
		{
			name:  "zombie before init exits",
			child: func(c *Task) { c.Exit(3) },
			ready: func(k *Kernel, pid int) bool {
				r, ok := k.GetProc(pid)
				if !ok {
					return false
				}
				defer r.Release()
				return r.Proc().Zombie()
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := boot(t, Config{NProc: 4})
			pid, err := k.Spawn("init", func(task *Task) {
				child, err := task.Fork(tt.child)
				if err != 0 {
					t.Errorf("fork: %v", err)
					return
				}
				for !tt.ready(k, child) {
					task.Yield()
				}
			}, nil)
			if err != nil {
				t.Fatal(err)
			}
			wait(t, k, pid)
			deadline := time.Now().Add(testTimeout)
			for !reflect.DeepEqual(k.Procs(), []int{0}) {
				if time.Now().After(deadline) {
					t.Fatalf("procs = %v, want [0]", k.Procs())
				}
				k.TickAll()
				time.Sleep(time.Millisecond)
			}
			// Every slot but the kernel's is free again.
			for i := 0; i < 3; i++ {
				pid, err := k.Spawn("x", func(*Task) {}, nil)
				if err != nil {
					t.Fatalf("spawn %d: %v", i, err)
				}
				wait(t, k, pid)
			}
		})
	}
}

func TestAutoReap(t *testing.T) {
	k := boot(t, Config{})
	run(t, k, func(task *Task) {
		task.Sigaction(SIGCHLD, SigAction{Disposition: SigIgnore})
		pid, _ := task.Fork(func(child *Task) { child.Exit(1) })
		for {
			r, ok := k.GetProc(pid)
			if !ok {
				break
			}
			r.Release()
			task.Yield()
		}
		if _, _, err := task.Waitpid(-1, 0); err != ECHILD {
			t.Errorf("waitpid after auto-reap: have %v, want ECHILD", err)
		}
	})
}

func TestThreads(t *testing.T) {
	k := boot(t, Config{})
	st := run(t, k, func(task *Task) {
		p := task.Process()
		ran := make(chan int, 2)
		for i := 0; i < 2; i++ {
			tid, err := task.CreateThread(func(th *Task) {
				if th.Pid() != task.Pid() {
					t.Errorf("thread pid %d, want %d", th.Pid(), task.Pid())
				}
				ran <- th.Gettid()
				th.ThreadExit(9)
			})
			if err != 0 || tid == task.Tid() {
				t.Errorf("CreateThread = %d, %v", tid, err)
			}
		}
		for p.NTasks() > 1 {
			task.Yield()
		}
		if len(ran) != 2 {
			t.Errorf("%d threads ran, want 2", len(ran))
		}
		task.ThreadExit(5)
	})
	if st.ExitStatus() != 5 {
		t.Fatalf("status = %v, want exit 5 from the last task", st)
	}
}

func TestExitKillsThreads(t *testing.T) {
	k := boot(t, Config{})
	st := run(t, k, func(task *Task) {
		for i := 0; i < 3; i++ {
			task.CreateThread(func(th *Task) { th.Pause() })
		}
		task.Yield()
		task.Exit(2)
	})
	if st.ExitStatus() != 2 {
		t.Fatalf("status = %v, want exit 2", st)
	}
	if n := len(k.Tasks()); n != 2 {
		t.Fatalf("%d tasks left, want the 2 idle tasks", n)
	}
}

func TestExec(t *testing.T) {
	progs := Programs{
		"/bin/hello": func(task *Task) {
			p := task.Process()
			if !reflect.DeepEqual(task.Args(), []string{"hello", "x"}) {
				t.Errorf("args = %q", task.Args())
			}
			if p.Name() != "/bin/hello" {
				t.Errorf("name = %q", p.Name())
			}
			if d := p.Action(SIGUSR1).Disposition; d != SigDefault {
				t.Errorf("caught SIGUSR1 now %v, want default", d)
			}
			if d := p.Action(SIGUSR2).Disposition; d != SigIgnore {
				t.Errorf("ignored SIGUSR2 now %v, want ignore", d)
			}
			if !task.Blocked().Has(SIGTERM) {
				t.Errorf("mask lost across exec")
			}
			if n := p.NTasks(); n != 1 {
				t.Errorf("%d tasks after exec, want 1", n)
			}
			task.Exit(3)
		},
	}
	k := boot(t, Config{Loader: progs})
	st := run(t, k, func(task *Task) {
		task.Sigaction(SIGUSR1, SigAction{Disposition: SigCatch, Handler: func(*Task, Signal) {}})
		task.Sigaction(SIGUSR2, SigAction{Disposition: SigIgnore})
		task.Sigprocmask(SIG_BLOCK, Sigmask(SIGTERM))
		task.CreateThread(func(th *Task) { th.Pause() })
		if err := task.Exec("/bin/missing", nil); err != ENOENT {
			t.Errorf("exec of missing program: have %v, want ENOENT", err)
		}
		task.Exec("/bin/hello", []string{"hello", "x"})
		t.Errorf("exec returned")
	})
	if st.ExitStatus() != 3 {
		t.Fatalf("status = %v, want exit 3", st)
	}
}

func TestStart(t *testing.T) {
	k := boot(t, Config{Loader: Programs{"/etc/init": func(task *Task) { task.Exit(task.Getpid()) }}})
	if _, err := k.Start("/etc/none", nil); err == nil {
		t.Fatal("Start of missing program succeeded")
	}
	pid, err := k.Start("/etc/init", nil)
	if err != nil {
		t.Fatal(err)
	}
	if st := wait(t, k, pid); st.ExitStatus() != pid {
		t.Fatalf("status = %v, want exit %d", st, pid)
	}
}

func TestProcessGroups(t *testing.T) {
	k := boot(t, Config{})
	run(t, k, func(task *Task) {
		if _, err := task.Setsid(); err != EPERM {
			t.Errorf("setsid by group leader: have %v, want EPERM", err)
		}
		a, _ := task.Fork(func(child *Task) {
			for {
				if pg, _ := child.Getpgid(0); pg == child.Pid() {
					break
				}
				child.Yield()
			}
			child.Exit(0)
		})
		if err := task.Setpgid(a, 0); err != 0 {
			t.Errorf("setpgid(child, 0): %v", err)
		}
		if pg, _ := task.Getpgid(a); pg != a {
			t.Errorf("getpgid(child) = %d, want %d", pg, a)
		}
		if err := task.Setpgid(a, 999); err != EPERM {
			t.Errorf("setpgid to missing group: have %v, want EPERM", err)
		}
		if err := task.Setpgid(999, 0); err != ESRCH {
			t.Errorf("setpgid of non-child: have %v, want ESRCH", err)
		}
		if sid, _ := task.Getsid(0); sid != task.Pid() {
			t.Errorf("getsid(0) = %d", sid)
		}
		task.Waitpid(a, 0)

		b, _ := task.Fork(func(child *Task) {
			sid, err := child.Setsid()
			if err != 0 || sid != child.Pid() {
				t.Errorf("child setsid = %d, %v", sid, err)
			}
			if pg, _ := child.Getpgid(0); pg != child.Pid() {
				t.Errorf("pgid after setsid = %d", pg)
			}
			if err := child.Setpgid(0, task.Pid()); err != EPERM {
				t.Errorf("setpgid by session leader: have %v, want EPERM", err)
			}
			child.Exit(0)
		})
		task.Waitpid(b, 0)
	})
}

func TestCredentials(t *testing.T) {
	k := boot(t, Config{})
	run(t, k, func(task *Task) {
		pid, _ := task.Fork(func(child *Task) {
			if err := child.Setuid(100); err != 0 {
				t.Errorf("root setuid: %v", err)
			}
			if err := child.Setuid(0); err != EPERM {
				t.Errorf("setuid(0) by user: have %v, want EPERM", err)
			}
			if child.Getuid() != 100 {
				t.Errorf("getuid() = %d", child.Getuid())
			}
			if err := child.Kill(child.Getppid(), SIGUSR1); err != EPERM {
				t.Errorf("kill of root process: have %v, want EPERM", err)
			}
			if err := child.Kill(99999, 0); err != ESRCH {
				t.Errorf("kill of missing pid: have %v, want ESRCH", err)
			}
			if err := child.Kill(child.Getpid(), 99); err != EINVAL {
				t.Errorf("kill with bad signal: have %v, want EINVAL", err)
			}
			if _, err := child.Nice(-1); err != EPERM {
				t.Errorf("nice(-1) by user: have %v, want EPERM", err)
			}
			if prio, err := child.Nice(2); err != 0 || prio != PUSER-2 {
				t.Errorf("nice(2) = %d, %v, want %d", prio, err, PUSER-2)
			}
			child.Exit(0)
		})
		_, st, _ := task.Waitpid(pid, 0)
		if st.ExitStatus() != 0 {
			t.Errorf("child status %v", st)
		}
	})
}

func TestAffinity(t *testing.T) {
	k := boot(t, Config{NCPU: 3})
	run(t, k, func(task *Task) {
		if err := task.SetAffinity(7); err != EINVAL {
			t.Errorf("affinity to missing cpu: have %v, want EINVAL", err)
		}
		for _, n := range []int{2, 1, 0, 2} {
			if err := task.SetAffinity(n); err != 0 {
				t.Errorf("SetAffinity(%d): %v", n, err)
				continue
			}
			if c := task.CPU(); c != n {
				t.Errorf("after SetAffinity(%d) on cpu %d", n, c)
			}
			if k.Current(n) != task {
				t.Errorf("cpu %d not running the task", n)
			}
		}
		task.SetAffinity(AnyCPU)
	})
}

func TestSleepTicks(t *testing.T) {
	k := boot(t, Config{NCPU: 1})
	pid, err := k.Spawn("sleep", func(task *Task) {
		if err := task.SleepTicks(3); err != 0 {
			t.Errorf("sleep: %v", err)
		}
		if now := k.Clock().Now(); now < 3 {
			t.Errorf("sleep(3) ended at tick %d", now)
		}
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := k.Wait(pid)
		done <- err
	}()
	deadline := time.After(testTimeout)
	for {
		select {
		case err := <-done:
			if err != nil {
				t.Fatal(err)
			}
			return
		case <-deadline:
			t.Fatal("sleeping process did not exit")
		default:
			k.TickAll()
			time.Sleep(time.Millisecond)
		}
	}
}

func TestSyscallTable(t *testing.T) {
	for nr := 1; nr < NSYS; nr++ {
		name := SyscallName(nr)
		if name == "" {
			t.Errorf("syscall %d has no name", nr)
			continue
		}
		if n, ok := LookupSyscall(name); !ok || n != nr {
			t.Errorf("LookupSyscall(%q) = %d, %v, want %d", name, n, ok, nr)
		}
	}
	var tests = []struct {
		nr   int
		args []int
		ret  int
		err  Errno
		out  string
	}{
		{SYS_KILL, []int{3, 9}, 0, 0, "kill(3, SIGKILL)"},
		{SYS_KILL, []int{3, 9}, -1, ESRCH, "kill(3, SIGKILL): ESRCH"},
		{SYS_GETPID, nil, 5, 0, "getpid() = 5"},
		{SYS_SIGPROCMASK, []int{SIG_BLOCK, int(Sigmask(SIGUSR1))}, 0, 0, "sigprocmask(0, {SIGUSR1}) = {}"},
		{SYS_SIGWAIT, []int{int(Sigmask(SIGINT, SIGTERM))}, int(SIGTERM), 0, "sigwait({SIGINT,SIGTERM}) = SIGTERM"},
	}
	for _, tt := range tests {
		if out := sysdesc(tt.nr, tt.args, tt.ret, tt.err); out != tt.out {
			t.Errorf("sysdesc(%s) = %q, want %q", SyscallName(tt.nr), out, tt.out)
		}
	}
}

func TestSyscallDispatch(t *testing.T) {
	var log bytes.Buffer
	k := boot(t, Config{Trace: true, Log: &log})
	run(t, k, func(task *Task) {
		if pid, err := task.Syscall(SYS_GETPID); pid != task.Pid() || err != 0 {
			t.Errorf("syscall getpid = %d, %v", pid, err)
		}
		if _, err := task.Syscall(SYS_FORK); err != ENOSYS {
			t.Errorf("syscall fork: have %v, want ENOSYS", err)
		}
		if _, err := task.Syscall(SYS_KILL, 1); err != EINVAL {
			t.Errorf("syscall kill with one argument: have %v, want EINVAL", err)
		}
		if _, err := task.Syscall(NSYS); err != ENOSYS {
			t.Errorf("syscall %d: have %v, want ENOSYS", NSYS, err)
		}
		task.Syscall(SYS_EXIT, 6)
	})
	out := log.String()
	for _, want := range []string{"[pid 1 tid ", "getpid() = 1", "exit(6)"} {
		if !strings.Contains(out, want) {
			t.Errorf("trace missing %q:\n%s", want, out)
		}
	}
}
