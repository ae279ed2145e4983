// Copyright 2026 The bare-metal-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ehci

import "encoding/binary"

// ptrInvalid is the EHCI terminator bit (T), encoded in the low bit of every
// horizontal/next/alt-next physical pointer field. A pointer with this bit
// set is never dereferenced by the controller.
const ptrInvalid uint32 = 1

// ptrTypeQH marks a horizontal pointer as addressing a queue head, used by
// the periodic list's "Typ" field (bits 1-2) on hardware that walks mixed
// qH/iTD/siTD chains. This driver only ever links qHs, so every non-invalid
// pointer it writes carries this type.
const ptrTypeQH uint32 = 0b01 << 1

// linkPtr encodes a physical address as a horizontal/next/alt-next pointer
// field: aligned address with the QH type bits set and the terminator bit
// left clear.
func linkPtr(paddr uint32) uint32 {
	return paddr | ptrTypeQH
}

const (
	pageSize  = 4096
	qtdPages  = 5
	qtdAlign  = 32
	qhAlign   = 32
)

// qTD token field: bit positions and masks, per the queue transfer
// descriptor Token word (spec §3).
const (
	tokDT           = 31
	tokTotalPos     = 16
	tokTotalMask    = 0x7fff
	tokIOC          = 15
	tokCerrPos      = 10
	tokCerrMask     = 0b11
	tokPIDPos       = 8
	tokPIDMask      = 0b11
	tokActive       = 7
	tokHalted       = 6
	tokBufErr       = 5
	tokBabble       = 4
	tokXact         = 3
	tokMissedUFrame = 2
	tokSplit        = 1
	tokPing         = 0

	// tokErrMask is every status bit that indicates a failed transaction,
	// cleared together when a qH is restarted after an error (spec §4.5
	// "continue"). It deliberately excludes the active and ping bits.
	tokErrMask = (1 << tokHalted) | (1 << tokBufErr) | (1 << tokBabble) | (1 << tokXact) | (1 << tokMissedUFrame) | (1 << tokSplit)

	// errorStatusMask is the subset of tokErrMask that qtdsCheck treats as
	// a failed qTD (spec §4.5 qtds_check / §7).
	errorStatusMask = (1 << tokXact) | (1 << tokBabble) | (1 << tokBufErr) | (1 << tokHalted)
)

// PID codes (USB2.0 / EHCI token PID field).
const (
	pidOUT   = 0
	pidIN    = 1
	pidSetup = 2
)

// DefaultErrorCounter is the qTD error-counter value this driver encodes on
// every built qTD: the hardware retries a failing transaction this many
// times before giving up and halting the queue (spec §4.2 step 6, §7
// "hardware retries... up to its error counter").
const DefaultErrorCounter = 3

func readWord(a Allocator, addr uint, idx int) uint32 {
	var b [4]byte
	a.Read(addr, idx*4, b[:])
	return binary.LittleEndian.Uint32(b[:])
}

func writeWord(a Allocator, addr uint, idx int, val uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], val)
	a.Write(addr, idx*4, b[:])
}
