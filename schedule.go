// Copyright 2026 The bare-metal-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ehci

import (
	"time"

	"github.com/bare-metal-go/ehci/internal/reg"
)

// linkAsync splices q into the async ring immediately after the sentinel
// (spec §4.4 "Asynchronous linking"). Caller holds asyncLock.
func (c *Controller) linkAsync(q *qh) {
	s := c.sentinel

	q.next = s.next
	q.prev = s
	s.next.prev = q
	s.next = q

	h := s.horizontal(c.alloc)
	q.setHorizontal(c.alloc, h)
	reg.Barrier()

	s.setHorizontal(c.alloc, linkPtr(uint32(c.alloc.VA2PA(q.addr))))
	reg.Barrier()
}

// unlinkAsync splices q out of the async ring, bracketing the hardware
// splice with an async-schedule stop/restart so the controller never
// dereferences a stale pointer mid-traversal (spec §4.4 "Asynchronous
// unlinking"). Caller holds asyncLock.
func (c *Controller) unlinkAsync(q *qh) {
	c.stopAsync()

	prev := q.prev
	next := q.next
	prev.setHorizontal(c.alloc, q.horizontal(c.alloc))
	reg.Barrier()

	c.startAsync()

	prev.next = next
	next.prev = prev
	q.next = nil
	q.prev = nil
}

func (c *Controller) stopAsync() {
	c.ops.AndNot(opUSBCmd, 1<<usbCmdASE)
	c.spinUntilClear(opUSBSts, stsAS)
}

func (c *Controller) startAsync() {
	c.ops.Or(opUSBCmd, 1<<usbCmdASE)
	c.spinUntilSet(opUSBSts, stsAS)
}

func (c *Controller) spinUntilClear(idx, bit int) {
	deadline := time.Now().Add(spinTimeout)
	for c.ops.Get(idx, bit, 1) != 0 {
		if time.Now().After(deadline) {
			return
		}
	}
}

func (c *Controller) spinUntilSet(idx, bit int) {
	deadline := time.Now().Add(spinTimeout)
	for c.ops.Get(idx, bit, 1) == 0 {
		if time.Now().After(deadline) {
			return
		}
	}
}

// spinTimeout bounds every USBSTS spin-wait. The source this driver
// generalizes from spins unboundedly (spec §9 "Stop/start async for
// unlink"); this driver instead budgets a timeout so a wedged controller
// cannot hang a caller thread forever.
const spinTimeout = 100 * time.Millisecond

// bandAlloc picks a (phase, uframe) slot pair for an interrupt qH (spec §4.4
// "Periodic band allocation"). Caller holds periodicLock.
func (c *Controller) bandAlloc(q *qh) {
	period := q.period
	if period < 1 {
		period = 1
	}
	if period > len(c.periodicList) {
		period = len(c.periodicList)
	}

	best, bestCount := 0, -1
	for slot := 0; slot < period; slot++ {
		n := 0
		for node := c.periodicNodes[slot]; node != nil; node = node.next {
			n++
		}
		if bestCount == -1 || n < bestCount {
			best, bestCount = slot, n
		}
	}
	q.phase = best
	q.period = period

	if q.device.Speed == HighSpeed && period > 1 {
		var load [8]int
		for node := c.periodicNodes[best]; node != nil; node = node.next {
			if node.uframe != uframeUnassigned {
				load[node.uframe]++
			}
		}
		uf, bestLoad := 0, load[0]
		for i := 1; i < 8; i++ {
			if load[i] < bestLoad {
				uf, bestLoad = i, load[i]
			}
		}
		q.uframe = uf
	} else {
		q.uframe = uframeUnassigned
	}

	var smask uint32
	if q.uframe != uframeUnassigned {
		smask = 1 << uint(q.uframe)
	} else {
		smask = 0xff
	}
	var info1 uint32
	info1 |= smask << info1SMaskPos
	info1 |= uint32(info1CMaskMask) << info1CMaskPos
	q.setInfo1(c.alloc, info1)
}

// linkPeriodic inserts q into periodicList[phase]'s chain, sorted by
// descending period, and propagates the hardware/software head at every
// slot the qH's period spans (spec §4.4 "Periodic linking"). Caller holds
// periodicLock; bandAlloc must already have set q.phase/q.period/q.uframe.
func (c *Controller) linkPeriodic(q *qh) {
	phase := q.phase
	head := c.periodicNodes[phase]

	if head == nil || head.period < q.period {
		q.next = head
		if head != nil {
			q.setHorizontal(c.alloc, linkPtr(uint32(c.alloc.VA2PA(head.addr))))
		} else {
			q.setHorizontal(c.alloc, ptrInvalid)
		}
		reg.Barrier()
		for i := phase; i < len(c.periodicList); i += q.period {
			c.periodicNodes[i] = q
			c.writePeriodicSlot(i, linkPtr(uint32(c.alloc.VA2PA(q.addr))))
		}
		reg.Barrier()
		return
	}

	prev := head
	for prev.next != nil && prev.next.period >= q.period {
		prev = prev.next
	}
	q.next = prev.next
	prev.next = q

	if q.next != nil {
		q.setHorizontal(c.alloc, linkPtr(uint32(c.alloc.VA2PA(q.next.addr))))
	} else {
		q.setHorizontal(c.alloc, ptrInvalid)
	}
	reg.Barrier()
	prev.setHorizontal(c.alloc, linkPtr(uint32(c.alloc.VA2PA(q.addr))))
	reg.Barrier()
}

// unlinkPeriodic removes q from every slot it was linked at (spec §4.4
// "Periodic unlinking"). Caller holds periodicLock.
func (c *Controller) unlinkPeriodic(q *qh) {
	for slot := 0; slot < len(c.periodicNodes); slot++ {
		head := c.periodicNodes[slot]
		if head == nil {
			continue
		}
		if head == q {
			c.periodicNodes[slot] = q.next
			if q.next != nil {
				c.writePeriodicSlot(slot, linkPtr(uint32(c.alloc.VA2PA(q.next.addr))))
			} else {
				c.writePeriodicSlot(slot, ptrInvalid)
			}
			continue
		}
		prev := head
		for prev.next != nil && prev.next != q {
			prev = prev.next
		}
		if prev.next == q {
			prev.next = q.next
			if q.next != nil {
				prev.setHorizontal(c.alloc, linkPtr(uint32(c.alloc.VA2PA(q.next.addr))))
			} else {
				prev.setHorizontal(c.alloc, ptrInvalid)
			}
		}
	}
	reg.Barrier()
	q.next = nil
}
