// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package reg provides primitives for retrieving and modifying
// memory-mapped hardware registers exposed as arrays of volatile 32-bit
// words.
package reg

import (
	"sync/atomic"
	"unsafe"
)

// Bank is a memory-mapped register bank: a fixed-size array of volatile
// 32-bit words, indexed by word offset rather than byte address. It backs
// both the EHCI capability and operational register banks.
type Bank []uint32

// NewBank constructs a Bank of the given word count over a raw MMIO base
// address. The caller guarantees base is mapped device memory for at least
// words*4 bytes and remains valid for the Bank's lifetime.
func NewBank(base uintptr, words int) Bank {
	hdr := (*[1 << 30]uint32)(unsafe.Pointer(base))
	return Bank(hdr[:words:words])
}

func (b Bank) ptr(idx int) *uint32 {
	return &b[idx]
}

// Get returns the value at word idx, shifted right by pos and masked.
func (b Bank) Get(idx, pos int, mask uint32) uint32 {
	r := atomic.LoadUint32(b.ptr(idx))
	return (r >> uint(pos)) & mask
}

// Read returns the raw value at word idx.
func (b Bank) Read(idx int) uint32 {
	return atomic.LoadUint32(b.ptr(idx))
}

// Write stores val at word idx.
func (b Bank) Write(idx int, val uint32) {
	atomic.StoreUint32(b.ptr(idx), val)
}

// Set sets an individual bit at word idx.
func (b Bank) Set(idx, pos int) {
	p := b.ptr(idx)
	for {
		old := atomic.LoadUint32(p)
		if atomic.CompareAndSwapUint32(p, old, old|(1<<uint(pos))) {
			return
		}
	}
}

// Clear clears an individual bit at word idx.
func (b Bank) Clear(idx, pos int) {
	p := b.ptr(idx)
	for {
		old := atomic.LoadUint32(p)
		if atomic.CompareAndSwapUint32(p, old, old&^(1<<uint(pos))) {
			return
		}
	}
}

// SetN sets a multi-bit field at word idx, position pos, width mask, to val.
func (b Bank) SetN(idx, pos int, mask, val uint32) {
	p := b.ptr(idx)
	for {
		old := atomic.LoadUint32(p)
		n := (old &^ (mask << uint(pos))) | (val << uint(pos))
		if atomic.CompareAndSwapUint32(p, old, n) {
			return
		}
	}
}

// Or ors val into word idx.
func (b Bank) Or(idx int, val uint32) {
	p := b.ptr(idx)
	for {
		old := atomic.LoadUint32(p)
		if atomic.CompareAndSwapUint32(p, old, old|val) {
			return
		}
	}
}

// AndNot clears the bits of val from word idx.
func (b Bank) AndNot(idx int, val uint32) {
	p := b.ptr(idx)
	for {
		old := atomic.LoadUint32(p)
		if atomic.CompareAndSwapUint32(p, old, old&^val) {
			return
		}
	}
}

// Barrier is a data-memory barrier: every sequence of descriptor or
// register writes that must become visible to the DMA-walking controller
// ends in a call to Barrier before the lock guarding it is released.
//
// The atomic operations above already carry sequentially consistent
// ordering on every Go/GOARCH pair, so Barrier is a named no-op: call sites
// read the same way the hardware-ordering discipline is described in the
// source material, and an architecture-specific build later has a single
// place to land a real fence instruction.
func Barrier() {}
