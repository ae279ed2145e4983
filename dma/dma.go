// First-fit memory allocator for DMA buffers
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dma provides a first-fit allocator over a DMA-coherent memory
// region, the reference implementation of the ehci package's Allocator
// downward-contract interface.
//
// It is a direct descendant of the allocator tamago uses throughout its
// bare-metal device drivers (see github.com/usbarmory/tamago/dma) for the
// same purpose: avoid passing Go-managed pointers across a hardware DMA
// boundary by confining descriptor and buffer storage to a region the Go
// garbage collector never touches.
package dma

import (
	"container/list"
	"fmt"
)

// Init initializes the package-level default Region. The caller guarantees
// [start, start+size) is memory the Go runtime never allocates into.
func Init(start, size uint) {
	def = NewRegion(start, size)
}

// Default returns the package-level default Region, or nil if Init has not
// been called.
func Default() *Region {
	return def
}

var def *Region

// NewRegion constructs a standalone DMA region. Most applications use a
// single region via Init/Default; NewRegion exists for hosting a second
// region (e.g. external RAM) or for test isolation.
func NewRegion(start, size uint) *Region {
	r := &Region{
		start: start,
		size:  size,
	}

	r.freeBlocks = list.New()
	r.freeBlocks.PushFront(&block{addr: start, size: size})
	r.usedBlocks = make(map[uint]*block)

	return r
}

// AllocAligned reserves size bytes of uninitialized, aligned DMA memory and
// returns its address. The region can be freed with FreeAligned.
func (r *Region) AllocAligned(size, align int) uint {
	addr, _ := r.Reserve(size, align)
	return addr
}

// FreeAligned releases memory obtained from AllocAligned.
func (r *Region) FreeAligned(addr uint, _ int) {
	r.Release(addr)
}

// VA2PA translates a virtual (Go-visible) DMA region address into the
// physical address the controller's DMA engine uses.
//
// This allocator models a platform with a single unified address space (as
// the teacher's bare-metal targets do): virtual and physical addresses
// coincide, so VA2PA is the identity function. A platform with a real
// IOMMU/SMMU translation step supplies its own Allocator implementation
// that overrides this behavior; the ehci core never assumes identity itself,
// it always calls through the Allocator.
func (r *Region) VA2PA(addr uint) uint {
	return addr
}

func (r *Region) String() string {
	return fmt.Sprintf("dma.Region{start:%#x size:%d used:%d}", r.start, r.size, len(r.usedBlocks))
}
