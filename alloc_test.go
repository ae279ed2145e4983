// Copyright 2026 The bare-metal-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ehci

// fakeAllocator is a plain Go-heap-backed Allocator for unit tests: the real
// dma.Region touches a fixed physical memory window via unsafe pointers,
// which only makes sense on the bare-metal targets it was written for. This
// stands in for it the way the Allocator interface is meant to be used: any
// collaborator that satisfies the contract.
type fakeAllocator struct {
	next uint
	mem  map[uint][]byte

	// budget, when >= 0, is the number of remaining AllocAligned calls
	// before the allocator panics "out of memory", mirroring dma.Region's
	// own exhaustion behavior (dma/region.go's alloc: panic("out of
	// memory")). -1 means unlimited.
	budget int
}

func newFakeAllocator() *fakeAllocator {
	return &fakeAllocator{next: 0x1000, mem: make(map[uint][]byte), budget: -1}
}

// newBudgetedFakeAllocator panics like an exhausted dma.Region after n more
// AllocAligned calls succeed.
func newBudgetedFakeAllocator(n int) *fakeAllocator {
	return &fakeAllocator{next: 0x1000, mem: make(map[uint][]byte), budget: n}
}

func (f *fakeAllocator) AllocAligned(size, align int) uint {
	if f.budget == 0 {
		panic("out of memory")
	}
	if f.budget > 0 {
		f.budget--
	}
	if align == 0 {
		align = 4
	}
	if pad := int(f.next) % align; pad != 0 {
		f.next += uint(align - pad)
	}
	addr := f.next
	f.mem[addr] = make([]byte, size)
	f.next += uint(size)
	return addr
}

func (f *fakeAllocator) FreeAligned(addr uint, _ int) {
	delete(f.mem, addr)
}

func (f *fakeAllocator) Alloc(buf []byte, align int) uint {
	addr := f.AllocAligned(len(buf), align)
	copy(f.mem[addr], buf)
	return addr
}

func (f *fakeAllocator) Free(addr uint) {
	delete(f.mem, addr)
}

func (f *fakeAllocator) VA2PA(addr uint) uint {
	return addr
}

func (f *fakeAllocator) Read(addr uint, off int, buf []byte) {
	copy(buf, f.mem[addr][off:])
}

func (f *fakeAllocator) Write(addr uint, off int, buf []byte) {
	copy(f.mem[addr][off:], buf)
}
