// Copyright 2026 The bare-metal-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ehci

import "testing"

// chainLenTest counts the qTDs in a circular chain starting at head.
func chainLenTest(head *qtd) int {
	if head == nil {
		return 0
	}
	n := 1
	for t := head.next; t != head; t = t.next {
		n++
	}
	return n
}

func TestBuildQTD_SingleFullPageAligned(t *testing.T) {
	a := newFakeAllocator()
	pool := newQTDPool(8)

	buf := a.AllocAligned(pageSize, pageSize)
	_ = buf

	head, dt := qtdAdd(a, pool, nil, pidOUT, 512, buf, 5000, 0)
	if n := chainLenTest(head); n != 1 {
		t.Fatalf("expected a single qTD to cover 5000 bytes from a page-aligned address (fits in 2 of the 5 buffer pages), got %d", n)
	}
	if head.remainingBytes(a) != 5000 {
		t.Fatalf("expected the qTD to carry all 5000 bytes, got %d", head.remainingBytes(a))
	}
	if dt != 1 {
		t.Fatalf("expected data toggle to flip once after a single qTD, got %d", dt)
	}
}

func TestBuildQTD_OffsetFitsWithoutTruncation(t *testing.T) {
	a := newFakeAllocator()
	pool := newQTDPool(8)

	base := a.AllocAligned(pageSize*4, pageSize)
	vaddr := base + 3072

	head, _ := qtdAdd(a, pool, nil, pidIN, 512, vaddr, 9000, 0)

	total := 0
	t2 := head
	for {
		total += t2.remainingBytes(a)
		t2 = t2.next
		if t2 == head {
			break
		}
	}

	if total != 9000 {
		t.Fatalf("expected chain to cover all 9000 requested bytes, covered %d", total)
	}
}

func TestBuildQTD_ControlChainSetupDataStatus(t *testing.T) {
	a := newFakeAllocator()
	pool := newQTDPool(8)

	setupBuf := a.AllocAligned(8, 8)
	dataBuf := a.AllocAligned(18, 8)

	head, dt := qtdAdd(a, pool, nil, pidSetup, 64, setupBuf, 8, 0)
	head, dt = qtdAdd(a, pool, head, pidIN, 64, dataBuf, 18, dt)
	head, _ = qtdAdd(a, pool, head, pidOUT, 64, 0, 0, 1)

	if n := chainLenTest(head); n != 3 {
		t.Fatalf("expected a 3-qTD control chain (setup+data+status), got %d", n)
	}

	setup := head
	data := setup.next
	status := data.next

	if setup.remainingBytes(a) != 8 {
		t.Fatalf("setup stage should carry 8 bytes, got %d", setup.remainingBytes(a))
	}
	if data.remainingBytes(a) != 18 {
		t.Fatalf("data stage should carry 18 bytes, got %d", data.remainingBytes(a))
	}
	if status.remainingBytes(a) != 0 {
		t.Fatalf("status stage should carry 0 bytes, got %d", status.remainingBytes(a))
	}
}

func TestBuildQTD_ShortPacketAvoidanceTruncatesTrailingPage(t *testing.T) {
	a := newFakeAllocator()

	mps := 512
	base := a.AllocAligned(pageSize, pageSize)
	vaddr := base + 100 // non-page-aligned offset, so full-page chunks don't land on mps boundaries
	size := 20381        // exceeds the 5-page (4096*5 - 100) capacity, forcing a qTD split

	t1 := &qtd{addr: a.AllocAligned(qtdWords*4, qtdAlign)}
	consumed := buildQTD(a, t1, pidOUT, mps, vaddr, size, 0)

	if consumed >= size {
		t.Fatalf("expected this qTD to only cover part of the %d-byte request, covered %d", size, consumed)
	}
	if consumed%mps != 0 {
		t.Fatalf("invariant: a qTD that doesn't complete the transfer must truncate to a multiple of max-packet-size (%d), got consumed=%d", mps, consumed)
	}
}

func TestQTDAdd_ZeroLengthStatusStage(t *testing.T) {
	a := newFakeAllocator()
	pool := newQTDPool(4)

	head, dt := qtdAdd(a, pool, nil, pidOUT, 64, 0, 0, 1)
	if chainLenTest(head) != 1 {
		t.Fatalf("zero-length request must still produce exactly one qTD")
	}
	if head.remainingBytes(a) != 0 {
		t.Fatalf("zero-length qTD must carry 0 total bytes, got %d", head.remainingBytes(a))
	}
	if dt != 0 {
		t.Fatalf("zero-length qTD append must still toggle data toggle, got %d", dt)
	}
}
