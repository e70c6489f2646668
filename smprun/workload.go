// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/tools/txtar"
	"rsc.io/smpkern/kernel"
)

// A Workload is a set of programs read from a txtar archive, one
// file per program. The first file is init; the others run only
// when a step forks, execs or starts a thread with them.
//
// Each file holds one step per line; # starts a comment.
//
//	nice N       change priority by N
//	cpu N        bind to cpu N, or -1 for any
//	spin N       compute for N ticks
//	sleep N      sleep for N ticks
//	yield        give up the cpu
//	fork NAME    start a child process running NAME
//	thread NAME  start a thread running NAME
//	exec NAME    replace the process image with NAME
//	wait         collect every child
//	echo TEXT    print "[NAME pid] TEXT"
//	exit N       exit the process with status N
//
// A program that runs off its end exits with status 0.
type Workload struct {
	Init  string
	progs map[string][]step
	order []string

	mu  sync.Mutex
	out io.Writer
}

type step struct {
	op   string
	n    int
	arg  string
	line int
}

// argument kinds
const (
	argNone = iota
	argInt
	argName
	argText
)

var ops = map[string]int{
	"nice":   argInt,
	"cpu":    argInt,
	"spin":   argInt,
	"sleep":  argInt,
	"yield":  argNone,
	"fork":   argName,
	"thread": argName,
	"exec":   argName,
	"wait":   argNone,
	"echo":   argText,
	"exit":   argInt,
}

// ParseWorkload parses the archive file, with text as its contents.
func ParseWorkload(file string, text []byte) (*Workload, error) {
	ar := txtar.Parse(text)
	if len(ar.Files) == 0 {
		return nil, fmt.Errorf("%s: no programs", file)
	}
	w := &Workload{progs: make(map[string][]step)}
	for _, f := range ar.Files {
		if _, ok := w.progs[f.Name]; ok {
			return nil, fmt.Errorf("%s: duplicate program %s", file, f.Name)
		}
		steps, err := parseSteps(string(f.Data))
		if err != nil {
			return nil, fmt.Errorf("%s: %s:%v", file, f.Name, err)
		}
		w.progs[f.Name] = steps
		w.order = append(w.order, f.Name)
	}
	w.Init = w.order[0]

	for _, name := range w.order {
		for _, s := range w.progs[name] {
			if ops[s.op] != argName {
				continue
			}
			if _, ok := w.progs[s.arg]; !ok {
				return nil, fmt.Errorf("%s: %s:%d: %s of unknown program %s", file, name, s.line, s.op, s.arg)
			}
		}
	}
	return w, nil
}

func parseSteps(text string) ([]step, error) {
	var steps []step
	for i, line := range strings.Split(text, "\n") {
		lineno := i + 1
		if j := strings.Index(line, "#"); j >= 0 {
			line = line[:j]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		op, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		kind, ok := ops[op]
		if !ok {
			return nil, fmt.Errorf("%d: unknown step %q", lineno, op)
		}
		s := step{op: op, line: lineno}
		switch kind {
		case argNone:
			if arg != "" {
				return nil, fmt.Errorf("%d: %s takes no argument", lineno, op)
			}
		case argInt:
			n, err := strconv.Atoi(arg)
			if err != nil {
				return nil, fmt.Errorf("%d: %s: bad count %q", lineno, op, arg)
			}
			s.n = n
		case argName:
			if arg == "" || strings.Contains(arg, " ") {
				return nil, fmt.Errorf("%d: %s: bad program name %q", lineno, op, arg)
			}
			s.arg = arg
		case argText:
			s.arg = arg
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// Programs returns a loader holding every program of w
// under /bin/NAME, printing to out.
func (w *Workload) Programs(out io.Writer) kernel.Programs {
	w.out = out
	m := make(kernel.Programs)
	for _, name := range w.order {
		m["/bin/"+name] = w.program(name)
	}
	return m
}

func (w *Workload) printf(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, format, args...)
}

func (w *Workload) program(name string) kernel.Program {
	steps := w.progs[name]
	return func(t *kernel.Task) {
		for _, s := range steps {
			if err := w.do(t, name, s); err != nil {
				w.printf("[%s %d] %s:%d: %s: %v\n", name, t.Pid(), name, s.line, s.op, err)
			}
		}
	}
}

func (w *Workload) do(t *kernel.Task, name string, s step) error {
	var err kernel.Errno
	switch s.op {
	case "nice":
		_, err = t.Nice(s.n)
	case "cpu":
		err = t.SetAffinity(s.n)
	case "spin":
		clk := t.Kernel().Clock()
		end := clk.Now() + uint64(s.n)
		for clk.Now() < end {
			t.Checkpoint()
		}
	case "sleep":
		// A handled signal cuts the sleep short.
		if err = t.SleepTicks(s.n); err == kernel.EINTR {
			err = 0
		}
	case "yield":
		t.Yield()
	case "fork":
		_, err = t.Fork(w.program(s.arg))
	case "thread":
		_, err = t.CreateThread(w.program(s.arg))
	case "exec":
		err = t.Exec("/bin/"+s.arg, []string{s.arg})
	case "wait":
		for {
			_, _, err = t.Waitpid(-1, 0)
			if err == kernel.ECHILD {
				err = 0
				break
			}
			if err != 0 && err != kernel.EINTR {
				break
			}
		}
	case "echo":
		w.printf("[%s %d] %s\n", name, t.Pid(), s.arg)
	case "exit":
		t.Exit(s.n)
	}
	if err != 0 {
		return err
	}
	return nil
}
