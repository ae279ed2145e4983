// Copyright 2026 The bare-metal-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ehci

import "testing"

// newTestController builds a Controller with everything transfer.go and
// schedule.go touch, without running bring-up: controller.go's New
// dereferences raw MMIO addresses via reg.NewBank, which only makes sense
// against real device memory. c.ops is instead a plain in-memory word
// slice, so stopAsync/startAsync (async qH unlink) run against it; since
// nothing sets USBSTS.AS there, startAsync returns after spinTimeout.
func newTestController(t *testing.T) (*Controller, *fakeAllocator) {
	t.Helper()
	return newTestControllerWithAllocator(t, newFakeAllocator())
}

func newTestControllerWithAllocator(t *testing.T, a *fakeAllocator) (*Controller, *fakeAllocator) {
	t.Helper()

	c := &Controller{
		alloc:         a,
		qtdPool:       newQTDPool(8),
		qhPool:        newQHPool(8),
		pipeQH:        make(map[*Pipe]*qh),
		ops:           make([]uint32, opUSBMode+1),
		periodicAddr:  a.AllocAligned(64*4, 4096),
		periodicList:  make([]uint32, 64),
		periodicNodes: make([]*qh, 64),
	}
	for i := range c.periodicList {
		c.writePeriodicSlot(i, ptrInvalid)
	}

	c.sentinel = newQH(a)
	v := c.sentinel.info0(a)
	v |= 1 << info0Head
	c.sentinel.setInfo0(a, v)
	c.sentinel.next = c.sentinel
	c.sentinel.prev = c.sentinel
	c.sentinel.setHorizontal(a, linkPtr(uint32(a.VA2PA(c.sentinel.addr))))

	return c, a
}

func testDevice() *Device {
	return &Device{Address: 5, Speed: HighSpeed}
}

func TestTransferEnqueue_ControlRoundTrip(t *testing.T) {
	c, a := newTestController(t)

	p := &Pipe{Device: testDevice(), Number: 0, Type: Control, Direction: In, MaxPacketLen: 64}
	tr := &Transfer{
		Setup:  &SetupData{RequestType: 0x80, Request: 6, Value: 0x0100, Length: 18},
		Buffer: make([]byte, 18),
	}

	if err := c.transferEnqueue(tr, p); err != nil {
		t.Fatalf("transferEnqueue: %v", err)
	}

	st := tr.hcdpriv
	if st == nil {
		t.Fatal("expected hcdpriv to be populated")
	}
	if st.count != 3 {
		t.Fatalf("expected a 3-stage control chain (setup/data/status), got %d qTDs", st.count)
	}

	q, ok := c.pipeQH[p]
	if !ok {
		t.Fatal("expected a qH to be bound to the pipe")
	}
	if q.lastQtd == 0 {
		t.Fatal("expected qH.lastQtd to be set after handoff")
	}

	// Simulate hardware retiring every qTD: clear active on all, and leave
	// the last one with its full byte count consumed (success).
	cur := st.head
	for i := 0; i < st.count; i++ {
		cur.deactivate(a)
		cur = cur.next
	}

	finished, status := c.qtdsCheck(st)
	if !finished {
		t.Fatal("expected the chain to be reported finished once every qTD is inactive")
	}
	if status != 18 {
		t.Fatalf("expected status to report all 18 bytes transferred, got %d", status)
	}
}

func TestTransferEnqueue_BulkChainSinglePipeReuse(t *testing.T) {
	c, _ := newTestController(t)

	dev := testDevice()
	p := &Pipe{Device: dev, Number: 1, Type: Bulk, Direction: Out, MaxPacketLen: 512}

	t1 := &Transfer{Buffer: make([]byte, 100)}
	if err := c.transferEnqueue(t1, p); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}

	q1 := c.pipeQH[p]

	t2 := &Transfer{Buffer: make([]byte, 200)}
	if err := c.transferEnqueue(t2, p); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}

	q2 := c.pipeQH[p]
	if q1 != q2 {
		t.Fatal("expected the same pipe to reuse its qH across enqueues")
	}
}

func TestTransferEnqueue_DeadControllerRejected(t *testing.T) {
	c, _ := newTestController(t)
	c.dead.Store(true)

	p := &Pipe{Device: testDevice(), Number: 1, Type: Bulk, Direction: Out, MaxPacketLen: 512}
	tr := &Transfer{Buffer: make([]byte, 10)}

	if err := c.transferEnqueue(tr, p); err != ErrHostSystem {
		t.Fatalf("expected ErrHostSystem, got %v", err)
	}
}

func TestQHFor_InterruptPipeGetsAssignedAPeriod(t *testing.T) {
	c, _ := newTestController(t)

	p := &Pipe{Device: testDevice(), Number: 2, Type: Interrupt, Direction: In, MaxPacketLen: 64, Interval: 8}

	q, isNew, err := c.qhFor(p)
	if err != nil {
		t.Fatalf("qhFor: %v", err)
	}
	if !isNew {
		t.Fatal("expected a fresh qH on first use")
	}
	if q.period < 1 {
		t.Fatalf("expected a positive period for an interrupt qH, got %d", q.period)
	}
	if c.periodicNodes[q.phase] != q {
		t.Fatal("expected the qH to head its assigned phase's chain")
	}
}

func TestTransferDequeue_DeactivatesChain(t *testing.T) {
	c, a := newTestController(t)

	p := &Pipe{Device: testDevice(), Number: 1, Type: Bulk, Direction: Out, MaxPacketLen: 512}
	tr := &Transfer{Buffer: make([]byte, 100)}

	if err := c.transferEnqueue(tr, p); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	c.transferDequeue(tr)

	st := tr.hcdpriv
	if st.head.isActive(a) {
		t.Fatal("expected transferDequeue to deactivate every qTD in the chain")
	}

	found := false
	for _, other := range c.transfers.snapshot() {
		if other == tr {
			found = true
		}
	}
	if found {
		t.Fatal("expected the dequeued transfer to be removed from the outstanding list once collected")
	}
}

// TestPipeDestroy_CollectsInFlightTransfersBeforeRecyclingQH guards against
// a qH being handed to a brand-new pipe while a stale transferState from a
// torn-down pipe still points at it: pipeDestroy must deactivate and collect
// any transfer still queued on the pipe's qH before pooling it.
func TestPipeDestroy_CollectsInFlightTransfersBeforeRecyclingQH(t *testing.T) {
	c, a := newTestController(t)

	p := &Pipe{Device: testDevice(), Number: 1, Type: Bulk, Direction: Out, MaxPacketLen: 512}
	tr := &Transfer{Buffer: make([]byte, 100)}

	if err := c.transferEnqueue(tr, p); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	st := tr.hcdpriv
	if !st.head.isActive(a) {
		t.Fatal("sanity: chain should still be active (hardware hasn't retired it) before teardown")
	}

	c.pipeDestroy(p)

	if st.head.isActive(a) {
		t.Fatal("expected pipeDestroy to deactivate the in-flight transfer's qTD chain")
	}

	for _, other := range c.transfers.snapshot() {
		if other == tr {
			t.Fatal("expected pipeDestroy to collect the in-flight transfer, not leave it outstanding")
		}
	}

	if _, stillBound := c.pipeQH[p]; stillBound {
		t.Fatal("expected the pipe's qH binding to be removed")
	}

	// The qH must now be sitting in the free pool, available for reuse by
	// an unrelated pipe, with no outstanding transfer referencing it.
	p2 := &Pipe{Device: testDevice(), Number: 2, Type: Bulk, Direction: In, MaxPacketLen: 64}
	q2, isNew, err := c.qhFor(p2)
	if err != nil {
		t.Fatalf("qhFor: %v", err)
	}
	if !isNew {
		t.Fatal("expected a fresh-looking qH binding for the new pipe")
	}
	if q2.pipe != p2 {
		t.Fatal("expected the recycled qH to be reconfigured for the new pipe")
	}
}

// TestQHFor_AllocatorExhaustionReturnsErrNoMemory covers the recover
// boundary qhFor wraps around the pool/Allocator call: a panicking
// Allocator (the reference dma.Region's own behavior on exhaustion) must
// surface as ErrNoMemory, not propagate as a panic.
func TestQHFor_AllocatorExhaustionReturnsErrNoMemory(t *testing.T) {
	// Budget covers exactly the two allocations newTestControllerWithAllocator
	// performs during bring-up (periodic list, sentinel qH); the next
	// allocation--the new qH qhFor requests--exhausts it.
	a := newBudgetedFakeAllocator(2)
	c, _ := newTestControllerWithAllocator(t, a)

	p := &Pipe{Device: testDevice(), Number: 1, Type: Bulk, Direction: Out, MaxPacketLen: 512}

	_, _, err := c.qhFor(p)
	if err != ErrNoMemory {
		t.Fatalf("expected ErrNoMemory, got %v", err)
	}
	if _, ok := c.pipeQH[p]; ok {
		t.Fatal("expected no qH to be bound to the pipe after an allocation failure")
	}
}

// TestTransferEnqueue_AllocatorExhaustionReleasesPartialChain covers
// buildChain's recover: a panic partway through building a multi-stage
// control chain must release the qTDs already linked into head back to the
// pool rather than losing them, and report ErrNoMemory without touching
// t.hcdpriv.
func TestTransferEnqueue_AllocatorExhaustionReleasesPartialChain(t *testing.T) {
	// Budget allows: periodic list, sentinel qH, the pipe's qH, the setup
	// stage's data buffer, and the setup qTD itself (5 allocations). The
	// status-stage qTD allocation (the 6th) is what exhausts it, after the
	// setup stage has already been linked into buildChain's head.
	a := newBudgetedFakeAllocator(5)
	c, _ := newTestControllerWithAllocator(t, a)

	p := &Pipe{Device: testDevice(), Number: 0, Type: Control, Direction: In, MaxPacketLen: 64}
	tr := &Transfer{
		Setup: &SetupData{RequestType: 0x80, Request: 6, Value: 0x0100},
	}

	err := c.transferEnqueue(tr, p)
	if err != ErrNoMemory {
		t.Fatalf("expected ErrNoMemory, got %v", err)
	}
	if tr.hcdpriv != nil {
		t.Fatal("expected hcdpriv to remain unset after an allocation failure")
	}
	if len(c.qtdPool.free) != 1 {
		t.Fatalf("expected the setup stage's qTD to be released back to the pool, free list has %d entries", len(c.qtdPool.free))
	}
}
