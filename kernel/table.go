// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"fmt"

	"rsc.io/smpkern/ksync"
)

type slotState int8

const (
	slotFree slotState = iota
	slotReserved
	slotUsed
)

// A table is a fixed-capacity arena of T with a free list.
// Each occupied slot carries the id it was reserved under; lookups
// validate the id, so a stale id never finds a reused slot.
//
// A slot's reference count starts at zero, meaning one implicit
// owner reference. get adds a reference and release drops one;
// the slot is freed when the count goes negative.
type table[T any] struct {
	lock  ksync.Spinlock
	name  string
	slots []slot[T]
	free  []int
	ids   map[int]int // id -> slot
	next  int         // next id to try
}

type slot[T any] struct {
	state slotState
	id    int
	refs  int
	val   *T
}

func (tb *table[T]) init(name string, n, first int) {
	tb.lock.Name = name
	tb.name = name
	tb.slots = make([]slot[T], n)
	tb.free = make([]int, 0, n)
	for i := n - 1; i >= 0; i-- {
		tb.free = append(tb.free, i)
	}
	tb.ids = make(map[int]int)
	tb.next = first
}

// reserve claims a free slot, moving it from FREE to RESERVED, and
// assigns it the next id for which ok reports true. ok is called
// with the table lock held. It returns the slot index, id and a
// fresh value, or EAGAIN if the table is full.
func (tb *table[T]) reserve(ok func(id int) bool) (int, int, *T, Errno) {
	tb.lock.Lock()
	defer tb.lock.Unlock()
	if len(tb.free) == 0 {
		return 0, 0, nil, EAGAIN
	}
	id := tb.next
	for tries := 0; ; tries++ {
		if tries > 1<<20 {
			return 0, 0, nil, EAGAIN
		}
		if _, used := tb.ids[id]; !used && (ok == nil || ok(id)) {
			break
		}
		id++
	}
	tb.next = id + 1

	i := tb.free[len(tb.free)-1]
	tb.free = tb.free[:len(tb.free)-1]
	s := &tb.slots[i]
	if s.state != slotFree {
		panic(fmt.Sprintf("kernel: %s slot %d on free list in state %d", tb.name, i, s.state))
	}
	v := new(T)
	*s = slot[T]{state: slotReserved, id: id, val: v}
	tb.ids[id] = i
	return i, id, v, 0
}

// activate moves a reserved slot to USED, making it visible to get.
func (tb *table[T]) activate(i int) {
	tb.lock.Lock()
	defer tb.lock.Unlock()
	if s := &tb.slots[i]; s.state != slotReserved {
		panic(fmt.Sprintf("kernel: %s: activate of slot %d in state %d", tb.name, i, s.state))
	}
	tb.slots[i].state = slotUsed
}

// unreserve returns a reserved slot to the free list.
func (tb *table[T]) unreserve(i int) {
	tb.lock.Lock()
	defer tb.lock.Unlock()
	if s := &tb.slots[i]; s.state != slotReserved {
		panic(fmt.Sprintf("kernel: %s: unreserve of slot %d in state %d", tb.name, i, s.state))
	}
	tb.freeLocked(i)
}

func (tb *table[T]) freeLocked(i int) {
	s := &tb.slots[i]
	delete(tb.ids, s.id)
	*s = slot[T]{}
	tb.free = append(tb.free, i)
}

// get returns the value for id and adds a reference to it.
func (tb *table[T]) get(id int) (int, *T, bool) {
	tb.lock.Lock()
	defer tb.lock.Unlock()
	i, ok := tb.ids[id]
	if !ok || tb.slots[i].state != slotUsed {
		return 0, nil, false
	}
	tb.slots[i].refs++
	return i, tb.slots[i].val, true
}

// lookup returns the value for id without taking a reference.
// The caller must know the slot cannot be freed meanwhile.
func (tb *table[T]) lookup(id int) (*T, bool) {
	tb.lock.Lock()
	defer tb.lock.Unlock()
	i, ok := tb.ids[id]
	if !ok || tb.slots[i].state != slotUsed {
		return nil, false
	}
	return tb.slots[i].val, true
}

// release drops a reference on slot i, which must still hold id.
// It frees the slot and reports true when the count goes negative.
func (tb *table[T]) release(i, id int) bool {
	tb.lock.Lock()
	defer tb.lock.Unlock()
	s := &tb.slots[i]
	if s.state != slotUsed || s.id != id {
		panic(fmt.Sprintf("kernel: %s: release of stale id %d (slot %d holds %d)", tb.name, id, i, s.id))
	}
	if s.refs--; s.refs >= 0 {
		return false
	}
	tb.freeLocked(i)
	return true
}

// each calls f for every USED value, in slot order, with the table
// lock held. f must not block or take the table lock.
func (tb *table[T]) each(f func(*T)) {
	tb.lock.Lock()
	defer tb.lock.Unlock()
	for i := range tb.slots {
		if s := &tb.slots[i]; s.state == slotUsed {
			f(s.val)
		}
	}
}

// inUse returns the number of slots not free.
func (tb *table[T]) inUse() int {
	tb.lock.Lock()
	defer tb.lock.Unlock()
	return len(tb.slots) - len(tb.free)
}
