// Copyright 2026 The bare-metal-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ehci

// buildQTD fills one qTD hardware image with up to five pages' worth of buf,
// starting at vaddr, and returns the number of bytes it consumed (spec
// §4.2). The caller advances vaddr/size by that amount and calls again if
// bytes remain.
func buildQTD(a Allocator, t *qtd, pid int, mps int, vaddr uint, size int, dt int) int {
	paddr := a.VA2PA(vaddr)
	pageOff := int(paddr % pageSize)

	first := size
	if max := pageSize - pageOff; first > max {
		first = max
	}

	contrib := [qtdPages]int{}
	contrib[0] = first
	consumed := first

	for i := 1; i < qtdPages && consumed < size; i++ {
		n := size - consumed
		if n > pageSize {
			n = pageSize
		}
		contrib[i] = n
		consumed += n
	}

	// Short-packet avoidance: if this qTD does not drain the whole
	// request and the fifth page is in use, trim page 5's contribution
	// so this qTD's total byte count is a multiple of mps and the qTD
	// ends on a packet boundary, deferring the remainder to the next
	// qTD. The trim is applied only when the excess over that multiple
	// is smaller than page 5's contribution.
	if consumed < size && contrib[qtdPages-1] > 0 && mps > 0 {
		total := consumed
		tail := total % mps
		if tail != 0 && tail < contrib[qtdPages-1] {
			contrib[qtdPages-1] -= tail
			consumed -= tail
		}
	}

	writeWord(a, t.addr, qtdBufferIdx, uint32(paddr))
	writeWord(a, t.addr, qtdBufferHi, 0)

	base := paddr - uint(pageOff) + pageSize
	for i := 1; i < qtdPages; i++ {
		if contrib[i] > 0 {
			writeWord(a, t.addr, qtdBufferIdx+i, uint32(base))
		} else {
			writeWord(a, t.addr, qtdBufferIdx+i, 0)
		}
		writeWord(a, t.addr, qtdBufferHi+i, 0)
		base += pageSize
	}

	var tok uint32
	tok |= uint32(pid) << tokPIDPos
	tok |= DefaultErrorCounter << tokCerrPos
	tok |= 1 << tokActive
	tok |= uint32(consumed) << tokTotalPos
	if dt != 0 {
		tok |= 1 << tokDT
	}
	t.setToken(a, tok)

	return consumed
}

// qtdAdd loops buildQTD, appending freshly built qTDs to the circular
// software list rooted at head (may be nil), flipping the data toggle
// between qTDs, until size bytes of buf (addressed starting at vaddr) are
// staged. It returns the (possibly new) head and the final data-toggle
// value, which the caller carries forward to the next call on the same
// pipe.
func qtdAdd(a Allocator, pool *qtdPool, head *qtd, pid, mps int, vaddr uint, size int, dt int) (*qtd, int) {
	if size == 0 {
		t := pool.get(a)
		buildQTD(a, t, pid, mps, vaddr, 0, dt)
		return appendQTD(head, t), dt ^ 1
	}

	remaining := size
	addr := vaddr

	for remaining > 0 {
		t := pool.get(a)
		n := buildQTD(a, t, pid, mps, addr, remaining, dt)
		head = appendQTD(head, t)

		remaining -= n
		addr += uint(n)
		dt ^= 1
	}

	return head, dt
}
