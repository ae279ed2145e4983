// Copyright 2026 The bare-metal-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ehci

// Queue Head (qH) hardware image word layout (spec §3): two info words,
// the horizontal pointer, and the overlay area (current, next qTD, alt-next
// qTD, token, 5x(buffer, buffer-high)) the controller uses to stage the qTD
// it is actively executing.
const (
	qhInfo0Idx      = 0
	qhInfo1Idx      = 1
	qhHorizontalIdx = 2
	qhCurrentIdx    = 3
	qhNextQtdIdx    = 4
	qhAltNextQtdIdx = 5
	qhTokenIdx      = 6
	qhBufferIdx     = 7  // + [0,5)
	qhBufferHiIdx   = 12 // + [0,5)
	qhWords         = 17 // 68 bytes
)

// info[0] (Endpoint Characteristics) field positions.
const (
	info0DevAddrPos  = 0
	info0DevAddrMask = 0x7f
	info0EPNumPos    = 8
	info0EPNumMask   = 0xf
	info0SpeedPos    = 12
	info0SpeedMask   = 0b11
	info0DTC         = 14 // data toggle control: take DT from qTD, not info[0]
	info0Head        = 15 // head-of-reclamation-list (H) / sentinel bit
	info0MaxPktPos   = 16
	info0MaxPktMask  = 0x7ff
	info0ControlEP   = 27 // control-endpoint flag (FS/LS control only)
	info0NakPos      = 28
	info0NakMask     = 0xf

	// nakCountReload is the fixed NAK-count-reload value this driver
	// programs into every qH (spec §4.3).
	nakCountReload = 3
)

// info[1] (Endpoint Capabilities: split-transaction masks) field positions.
const (
	info1SMaskPos  = 0
	info1SMaskMask = 0xff
	info1CMaskPos  = 8
	info1CMaskMask = 0xff
)

// Speed encodes a USB device's negotiated link speed.
type Speed int

const (
	FullSpeed Speed = iota
	LowSpeed
	HighSpeed
)

// qh is the software record wrapping one queue-head hardware image: its
// position on whichever schedule (async ring or a periodic slot chain) it
// is linked to, and the bookkeeping transferEnqueue/continue need to splice
// a follow-up qTD chain onto a qH that may already have one linked.
type qh struct {
	addr uint

	// next/prev: async ring (doubly linked) or periodic slot chain
	// (singly linked via next only, spec §4.4).
	next, prev *qh

	// period, uframe, phase: periodic band allocation (spec §4.3, §4.4).
	// uframe == 0xff means "unassigned" (full/low-speed or period==1).
	period int
	uframe int
	phase  int

	// lastQtd is the DMA address of the hardware image of the last qTD
	// currently linked under this qH, or 0 if the qTD queue is empty
	// (spec §3 invariant "qH.last_qtd is non-null iff...").
	lastQtd uint32

	// device/pipe identify the endpoint this qH is bound to, needed by
	// band allocation (device speed) and by transferEnqueue's info[0]
	// reconciliation.
	device *Device
	pipe   *Pipe
}

const uframeUnassigned = 0xff

// newQH allocates a fresh queue head with cleared info/token/overlay and
// every pointer field set to the terminator.
func newQH(a Allocator) *qh {
	addr := a.AllocAligned(qhWords*4, qhAlign)

	q := &qh{addr: addr, uframe: uframeUnassigned}
	writeWord(a, addr, qhInfo0Idx, 0)
	writeWord(a, addr, qhInfo1Idx, 0)
	writeWord(a, addr, qhHorizontalIdx, ptrInvalid)
	writeWord(a, addr, qhCurrentIdx, ptrInvalid)
	writeWord(a, addr, qhNextQtdIdx, ptrInvalid)
	writeWord(a, addr, qhAltNextQtdIdx, ptrInvalid)
	writeWord(a, addr, qhTokenIdx, 0)

	for i := 0; i < qtdPages; i++ {
		writeWord(a, addr, qhBufferIdx+i, 0)
		writeWord(a, addr, qhBufferHiIdx+i, 0)
	}

	return q
}

func (q *qh) info0(a Allocator) uint32     { return readWord(a, q.addr, qhInfo0Idx) }
func (q *qh) setInfo0(a Allocator, v uint32) { writeWord(a, q.addr, qhInfo0Idx, v) }
func (q *qh) setInfo1(a Allocator, v uint32) { writeWord(a, q.addr, qhInfo1Idx, v) }

func (q *qh) horizontal(a Allocator) uint32      { return readWord(a, q.addr, qhHorizontalIdx) }
func (q *qh) setHorizontal(a Allocator, v uint32) { writeWord(a, q.addr, qhHorizontalIdx, v) }

func (q *qh) current(a Allocator) uint32 { return readWord(a, q.addr, qhCurrentIdx) }
func (q *qh) nextQtd(a Allocator) uint32 { return readWord(a, q.addr, qhNextQtdIdx) }
func (q *qh) setNextQtd(a Allocator, v uint32) { writeWord(a, q.addr, qhNextQtdIdx, v) }

func (q *qh) token(a Allocator) uint32      { return readWord(a, q.addr, qhTokenIdx) }
func (q *qh) setToken(a Allocator, v uint32) { writeWord(a, q.addr, qhTokenIdx, v) }

// deviceAddr/maxPacket read back the two fields transferEnqueue reconciles
// against the pipe on every call, since device address and max-packet can
// change mid-life as USB enumeration progresses (spec §4.5 step 3).
func (q *qh) deviceAddr(a Allocator) uint32 {
	return (q.info0(a) >> info0DevAddrPos) & info0DevAddrMask
}

func (q *qh) maxPacket(a Allocator) uint32 {
	return (q.info0(a) >> info0MaxPktPos) & info0MaxPktMask
}

// patchAddress rewrites only the device-address field of info[0] in place.
func (q *qh) patchAddress(a Allocator, addr uint8) {
	v := q.info0(a)
	v = (v &^ (info0DevAddrMask << info0DevAddrPos)) | (uint32(addr) << info0DevAddrPos)
	q.setInfo0(a, v)
}

// patchMaxPacket rewrites only the max-packet-length field of info[0].
func (q *qh) patchMaxPacket(a Allocator, mps uint16) {
	v := q.info0(a)
	v = (v &^ (info0MaxPktMask << info0MaxPktPos)) | (uint32(mps) << info0MaxPktPos)
	q.setInfo0(a, v)
}

// conf encodes endpoint parameters into a freshly allocated qH (spec §4.3).
func (q *qh) conf(a Allocator, p *Pipe) {
	q.device = p.Device
	q.pipe = p

	var info0 uint32

	info0 |= uint32(p.Device.Address) << info0DevAddrPos
	info0 |= uint32(p.Number) << info0EPNumPos
	info0 |= uint32(p.Device.Speed) << info0SpeedPos
	info0 |= uint32(p.MaxPacketLen) << info0MaxPktPos

	if p.Type == Control {
		info0 |= 1 << info0DTC

		if p.Device.Speed != HighSpeed {
			info0 |= 1 << info0ControlEP
		}
	}

	info0 |= nakCountReload << info0NakPos

	q.setInfo0(a, info0)
	q.setInfo1(a, 0)

	if p.Type == Interrupt {
		q.period = interruptPeriod(p.Device.Speed, p.Interval)
	}
}

// interruptPeriod derives a qH's period, in frames, from the endpoint's
// polling interval (spec §4.3):
//
//   - high-speed: period = max(1, 2^(interval-1) / 8) frames (0 means
//     "every microframe", clamped up to 1 frame).
//   - full/low-speed behind a high-speed hub: the largest power of two
//     strictly less than interval.
func interruptPeriod(speed Speed, interval int) int {
	if speed == HighSpeed {
		period := (1 << uint(interval-1)) >> 3
		if period == 0 {
			period = 1
		}
		return period
	}

	period := 1
	for period*2 < interval {
		period *= 2
	}
	return period
}
