// Copyright 2026 The bare-metal-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ehci

// pool is a bounded free-list of qHs or qTDs (spec §4.1): allocation first
// tries the free-list before asking the Allocator for fresh DMA memory, and
// release pushes onto the free-list unless it is already at capacity, in
// which case the descriptor is returned to the Allocator instead of grown
// without bound.
type qtdPool struct {
	free []*qtd
	max  int
}

func newQTDPool(max int) *qtdPool {
	return &qtdPool{max: max}
}

func (p *qtdPool) get(a Allocator) *qtd {
	if n := len(p.free); n > 0 {
		t := p.free[n-1]
		p.free = p.free[:n-1]
		t.next = t
		t.prev = t
		return t
	}
	return newQTD(a)
}

// put returns t to the pool, or frees its backing memory outright if the
// pool is already at capacity.
func (p *qtdPool) put(a Allocator, t *qtd) {
	t.qh = nil
	t.next = t
	t.prev = t

	if len(p.free) >= p.max {
		a.FreeAligned(t.addr, qtdWords*4)
		return
	}
	p.free = append(p.free, t)
}

type qhPool struct {
	free []*qh
	max  int
}

func newQHPool(max int) *qhPool {
	return &qhPool{max: max}
}

func (p *qhPool) get(a Allocator) *qh {
	if n := len(p.free); n > 0 {
		q := p.free[n-1]
		p.free = p.free[:n-1]
		q.next = nil
		q.prev = nil
		q.lastQtd = 0
		q.uframe = uframeUnassigned
		return q
	}
	return newQH(a)
}

func (p *qhPool) put(a Allocator, q *qh) {
	q.next = nil
	q.prev = nil
	q.lastQtd = 0

	if len(p.free) >= p.max {
		a.FreeAligned(q.addr, qhWords*4)
		return
	}
	p.free = append(p.free, q)
}
