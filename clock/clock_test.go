// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package clock

import (
	"testing"
	"time"
)

func TestAfter(t *testing.T) {
	c := New(100, time.Unix(0, 0))
	var fired []int
	c.After(3, func() { fired = append(fired, 3) })
	c.After(1, func() { fired = append(fired, 1) })
	cancel := c.After(2, func() { fired = append(fired, 2) })
	c.After(3, func() { fired = append(fired, 33) })

	if !cancel() {
		t.Fatal("cancel of armed timer returned false")
	}
	if cancel() {
		t.Fatal("second cancel returned true")
	}
	for i := 0; i < 3; i++ {
		c.Advance()
	}
	want := []int{1, 3, 33}
	if len(fired) != len(want) {
		t.Fatalf("have %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("have %v, want %v", fired, want)
		}
	}
	if c.Pending() != 0 {
		t.Fatalf("have %d pending timers, want 0", c.Pending())
	}
}

func TestWall(t *testing.T) {
	boot := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(50, boot)
	for i := 0; i < 100; i++ {
		c.Advance()
	}
	if have, want := c.Wall(), boot.Add(2*time.Second); !have.Equal(want) {
		t.Fatalf("have %v, want %v", have, want)
	}
	if c.Now() != 100 {
		t.Fatalf("have tick %d, want 100", c.Now())
	}
}

func TestTimerRearmsFromCallback(t *testing.T) {
	c := New(100, time.Unix(0, 0))
	n := 0
	var tick func()
	tick = func() {
		n++
		if n < 3 {
			c.After(1, tick)
		}
	}
	c.After(1, tick)
	for i := 0; i < 5; i++ {
		c.Advance()
	}
	if n != 3 {
		t.Fatalf("have %d callbacks, want 3", n)
	}
}
