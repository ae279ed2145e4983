// Copyright 2026 The bare-metal-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ehci

// Allocator is the DMA-coherent allocation collaborator this core requires.
// Every qH and qTD hardware image, and every transfer data buffer the core
// itself stages, is obtained through it.
//
// dma.Region (package github.com/bare-metal-go/ehci/dma) is the reference
// implementation.
type Allocator interface {
	// Alloc copies buf into a freshly allocated, aligned DMA-coherent
	// block and returns its address.
	Alloc(buf []byte, align int) (addr uint)
	// AllocAligned reserves size bytes of uninitialized, aligned
	// DMA-coherent memory and returns its address.
	AllocAligned(size, align int) (addr uint)
	// Free releases memory obtained from Alloc.
	Free(addr uint)
	// FreeAligned releases memory obtained from AllocAligned.
	FreeAligned(addr uint, size int)
	// VA2PA translates a core-visible address into the physical address
	// the controller's DMA engine dereferences.
	VA2PA(addr uint) uint
	// Read copies size bytes starting at offset off within the block at
	// addr into buf.
	Read(addr uint, off int, buf []byte)
	// Write copies buf into the block at addr starting at offset off.
	Write(addr uint, off int, buf []byte)
}

// PHY is the narrow board-specific bring-up hook. The core calls it once,
// during New, before touching any operational register.
type PHY interface {
	Init(c *Controller) error
}

// Roothub is the narrow collaborator that owns port-status reporting and
// root-hub-addressed control requests. The transfer engine forwards any
// transfer whose target device is the root hub to it unconditionally.
type Roothub interface {
	// IsRoothub reports whether dev is the virtual root hub device.
	IsRoothub(dev *Device) bool
	// Status computes the current root-hub status change bitmap.
	Status(dev *Device) uint32
	// Request services a control transfer addressed to the root hub.
	Request(dev *Device, t *Transfer) error
}

// TransferCallback is the upstream transfer-object lifecycle collaborator.
type TransferCallback interface {
	// Finished reports a transfer's terminal status: a non-negative
	// byte count on success, or a negative error magnitude.
	Finished(t *Transfer, status int)
	// Check reports whether a transfer (typically the root hub's
	// outstanding status-change transfer) is still outstanding.
	Check(t *Transfer) bool
}
