// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Smprun boots a simulated multiprocessor kernel and runs a workload
// on it, with the terminal as the console.
//
// Usage:
//
//	smprun [-cpus N] [-hz N] [-quantum N] [-trace] [-w workload.txtar]
//
// Without -w, smprun runs a built-in workload. On the console,
// ^C interrupts the foreground process group, ^T prints the task
// table and ^\ quits.
package main

import (
	"bytes"
	_ "embed"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"runtime/pprof"

	"golang.org/x/term"
	"rsc.io/smpkern/kernel"
)

var (
	cpus       = flag.Int("cpus", 4, "number of cpus")
	hz         = flag.Int("hz", 100, "clock ticks per second")
	quantum    = flag.Int("quantum", 0, "ticks per scheduling quantum (0 for default)")
	trace      = flag.Bool("trace", false, "trace every syscall")
	cpuprofile = flag.String("cpuprofile", "", "write cpuprofile to `file`")
	workload   = flag.String("w", "", "run the workload in `file`")
)

//go:embed default.txtar
var defaultWorkload []byte

func usage() {
	fmt.Fprintf(os.Stderr, "usage: smprun [flags]\n")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	log.SetPrefix("smprun: ")
	log.SetFlags(0)
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 0 || *hz <= 0 {
		usage()
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal(err)
		}
		defer pprof.StopCPUProfile()
	}

	file, text := "default.txtar", defaultWorkload
	if *workload != "" {
		data, err := os.ReadFile(*workload)
		if err != nil {
			log.Fatal(err)
		}
		file, text = *workload, data
	}
	w, err := ParseWorkload(file, text)
	if err != nil {
		log.Fatal(err)
	}

	var out io.Writer = os.Stdout
	var diag io.Writer = os.Stderr
	fixup := func() {}
	raw := term.IsTerminal(int(os.Stdin.Fd()))
	if raw {
		oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			log.Fatal(err)
		}
		fixup = func() { term.Restore(int(os.Stdin.Fd()), oldState) }
		out = crlfWriter{os.Stdout}
		diag = crlfWriter{os.Stderr}
	}
	defer fixup()

	cfg := kernel.Config{
		NCPU:    *cpus,
		Quantum: *quantum,
		HZ:      *hz,
		Trace:   *trace,
		Log:     diag,
		Loader:  w.Programs(out),
	}
	st, err := run(cfg, w, func(k *kernel.Kernel) {
		if raw {
			k.TTY(0).Print = func(b []byte) { out.Write(b) }
			go console(k, diag, func() {
				pprof.StopCPUProfile()
				fixup()
				os.Exit(0)
			})
		}
	})
	if err != nil {
		fixup()
		log.Fatal(err)
	}
	fmt.Fprintf(out, "%s: %v\n", w.Init, st)
}

// run boots a kernel, starts w's init on it with tty 0 as its
// controlling terminal, and waits for init to exit.
func run(cfg kernel.Config, w *Workload, booted func(*kernel.Kernel)) (kernel.WaitStatus, error) {
	k, err := kernel.New(cfg)
	if err != nil {
		return 0, err
	}
	k.Boot()
	defer k.Shutdown()
	if booted != nil {
		booted(k)
	}

	prog, ok := cfg.Loader.Load("/bin/" + w.Init)
	if !ok {
		return 0, fmt.Errorf("no program %s", w.Init)
	}
	pid, err := k.Spawn(w.Init, func(t *kernel.Task) {
		t.Setctty(0)
		prog(t)
	}, []string{w.Init})
	if err != nil {
		return 0, err
	}
	return k.Wait(pid)
}

// console feeds keystrokes to tty 0 until stdin ends.
func console(k *kernel.Kernel, diag io.Writer, quit func()) {
	tp := k.TTY(0)
	buf := make([]byte, 100)
	for {
		n, err := os.Stdin.Read(buf)
		for _, c := range buf[:n] {
			switch c {
			case 0x1c: // ^\
				quit()
			case 0x14: // ^T
				k.Dump(diag)
			default:
				tp.WriteByte(c)
			}
		}
		if err == io.EOF {
			return
		} else if err != nil {
			log.Printf("reading stdin: %v", err)
			return
		}
	}
}

// A crlfWriter turns \n into \r\n for a terminal in raw mode.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(b []byte) (int, error) {
	if _, err := c.w.Write(bytes.ReplaceAll(b, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(b), nil
}
