// Copyright 2026 The bare-metal-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ehci

import "testing"

func TestQTDPool_ReusesBeforeAllocating(t *testing.T) {
	a := newFakeAllocator()
	p := newQTDPool(4)

	t1 := p.get(a)
	addr := t1.addr
	p.put(a, t1)

	t2 := p.get(a)
	if t2.addr != addr {
		t.Fatalf("expected the freed qTD's address to be reused, got %#x want %#x", t2.addr, addr)
	}
}

func TestQTDPool_FreesOutrightAtCapacity(t *testing.T) {
	a := newFakeAllocator()
	p := newQTDPool(2)

	var ts []*qtd
	for i := 0; i < 3; i++ {
		ts = append(ts, p.get(a))
	}
	for _, t2 := range ts {
		p.put(a, t2)
	}

	if len(p.free) != 2 {
		t.Fatalf("expected the pool to cap its free list at max=2, got %d", len(p.free))
	}
}

func TestQHPool_ResetsBookkeepingOnGet(t *testing.T) {
	a := newFakeAllocator()
	p := newQHPool(4)

	q := p.get(a)
	q.uframe = 3
	q.lastQtd = 0xdead
	q.next = q
	p.put(a, q)

	q2 := p.get(a)
	if q2.uframe != uframeUnassigned {
		t.Fatalf("expected uframe reset to unassigned on reuse, got %d", q2.uframe)
	}
	if q2.lastQtd != 0 {
		t.Fatalf("expected lastQtd reset to 0 on reuse, got %#x", q2.lastQtd)
	}
	if q2.next != nil {
		t.Fatal("expected next to be reset to nil on reuse")
	}
}
