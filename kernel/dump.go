// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// Dump writes the state of every cpu and task to w, for debugging
// a hung workload. Blocked tasks show where they went to sleep.
func (k *Kernel) Dump(w io.Writer) {
	fmt.Fprintf(w, "tick %d\n", k.clock.Now())
	for _, c := range k.cpus {
		cur := "-"
		if t := c.cur.Load(); t != nil {
			cur = fmt.Sprint(t.tid)
		}
		fmt.Fprintf(w, "cpu%d: cur %s active %d runnable %d load %d%% ticks %d ipis %d\n",
			c.id, cur, c.rq.Active(), c.rq.Len(), c.rq.Load(), c.ticks.Load(), c.ipis.Load())
	}

	type row struct {
		tid, pid, prio, cpu int
		status              TaskStatus
		name, wait          string
		pending, blocked    SigSet
	}
	var rows []row
	k.tasks.each(func(t *Task) {
		t.lock.Lock()
		r := row{tid: t.tid, pid: t.proc.pid, prio: t.prio, cpu: -1, status: t.status,
			name: t.proc.name, pending: t.pending, blocked: t.blocked}
		if t.cpu != nil {
			r.cpu = t.cpu.id
		}
		if e := t.ecb; e != nil && (t.status == TaskBlocked || t.status == TaskBlockedIntr) {
			r.wait = e.Site
		}
		if t.idle {
			r.name = fmt.Sprintf("idle%d", r.cpu)
		}
		t.lock.Unlock()
		rows = append(rows, r)
	})

	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	fmt.Fprintf(tw, "TID\tPID\tSTAT\tPRI\tCPU\tPEND\tMASK\tWAIT\tNAME\n")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%d\t%v\t%d\t%d\t%#x\t%#x\t%s\t%s\n",
			r.tid, r.pid, r.status, r.prio, r.cpu, uint32(r.pending), uint32(r.blocked), r.wait, r.name)
	}
	tw.Flush()
}
