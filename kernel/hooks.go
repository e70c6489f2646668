// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"sync"
)

// A Stack is a kernel stack reserved for one task.
type Stack struct {
	Base uintptr
	Size uintptr
}

// Stacks reserves and releases kernel stacks by tid.
type Stacks interface {
	Alloc(tid int) (Stack, bool)
	Free(tid int)
}

// AddressSpaces creates, clones and releases user address spaces
// by pid. The returned asid names the space in a saved context.
type AddressSpaces interface {
	Create(pid int) (asid int, ok bool)
	Clone(parent, child int) (asid int, ok bool)
	Release(pid int)
}

// A Program is the user code of an executable image.
type Program func(t *Task)

// A Loader finds the program for a path.
type Loader interface {
	Load(path string) (Program, bool)
}

// Programs is a Loader backed by a map.
type Programs map[string]Program

func (m Programs) Load(path string) (Program, bool) {
	p, ok := m[path]
	return p, ok && p != nil
}

// A StackPool hands out fixed-size stacks from a fixed number of slots.
type StackPool struct {
	mu    sync.Mutex
	size  uintptr
	slots []int // tid using each slot, 0 if free
	byTid map[int]int
}

const stackBase = 1 << 40

func NewStackPool(n int, size uintptr) *StackPool {
	return &StackPool{size: size, slots: make([]int, n), byTid: make(map[int]int)}
}

func (p *StackPool) Alloc(tid int) (Stack, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byTid[tid]; ok {
		panic("kernel: stack allocated twice for one task")
	}
	for i, used := range p.slots {
		if used == 0 {
			p.slots[i] = tid
			p.byTid[tid] = i
			return Stack{Base: stackBase + uintptr(i)*p.size, Size: p.size}, true
		}
	}
	return Stack{}, false
}

func (p *StackPool) Free(tid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.byTid[tid]
	if !ok {
		panic("kernel: free of unallocated stack")
	}
	p.slots[i] = 0
	delete(p.byTid, tid)
}

// InUse returns the number of allocated stacks.
func (p *StackPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byTid)
}

// A SpaceTable numbers address spaces and remembers which pid holds each.
type SpaceTable struct {
	mu    sync.Mutex
	next  int
	byPid map[int]int
	limit int
}

func NewSpaceTable() *SpaceTable {
	return &SpaceTable{next: 1, byPid: make(map[int]int)}
}

// SetLimit caps the number of live address spaces; 0 means no cap.
func (s *SpaceTable) SetLimit(n int) {
	s.mu.Lock()
	s.limit = n
	s.mu.Unlock()
}

func (s *SpaceTable) Create(pid int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit > 0 && len(s.byPid) >= s.limit {
		return 0, false
	}
	asid := s.next
	s.next++
	s.byPid[pid] = asid
	return asid, true
}

func (s *SpaceTable) Clone(parent, child int) (int, bool) {
	s.mu.Lock()
	_, ok := s.byPid[parent]
	s.mu.Unlock()
	if !ok && parent != 0 {
		return 0, false
	}
	return s.Create(child)
}

func (s *SpaceTable) Release(pid int) {
	s.mu.Lock()
	delete(s.byPid, pid)
	s.mu.Unlock()
}

// Live returns the number of address spaces not yet released.
func (s *SpaceTable) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byPid)
}
