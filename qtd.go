// Copyright 2026 The bare-metal-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ehci

// Queue Transfer Descriptor (qTD) hardware image word layout (spec §3):
// next pointer, alt-next pointer, token, 5x(buffer, buffer-high).
const (
	qtdNextIdx    = 0
	qtdAltNextIdx = 1
	qtdTokenIdx   = 2
	qtdBufferIdx  = 3  // + [0,5)
	qtdBufferHi   = 8  // + [0,5)
	qtdWords      = 13 // 52 bytes
)

// qtd is the software record wrapping one qTD hardware image: its DMA
// address, the owning queue head, and the doubly-linked circular chain
// position within a single logical transfer (spec §3 "Circular qTD chain").
type qtd struct {
	addr uint
	qh   *qh

	next, prev *qtd
}

// newQTD allocates a fresh, zeroed, 32-byte-aligned qTD hardware image and
// its software wrapper. Both pointer fields are initialized to the
// terminator so a half-built qTD is never dereferenced by hardware.
func newQTD(a Allocator) *qtd {
	addr := a.AllocAligned(qtdWords*4, qtdAlign)

	t := &qtd{addr: addr}
	writeWord(a, addr, qtdNextIdx, ptrInvalid)
	writeWord(a, addr, qtdAltNextIdx, ptrInvalid)
	writeWord(a, addr, qtdTokenIdx, 0)

	for i := 0; i < qtdPages; i++ {
		writeWord(a, addr, qtdBufferIdx+i, 0)
		writeWord(a, addr, qtdBufferHi+i, 0)
	}

	t.next = t
	t.prev = t

	return t
}

func (t *qtd) token(a Allocator) uint32 {
	return readWord(a, t.addr, qtdTokenIdx)
}

func (t *qtd) setToken(a Allocator, val uint32) {
	writeWord(a, t.addr, qtdTokenIdx, val)
}

func (t *qtd) next_(a Allocator) uint32 {
	return readWord(a, t.addr, qtdNextIdx)
}

// setHWNext sets this qTD's hardware next pointer, i.e. what the controller
// follows after retiring this qTD. A barrier must follow before the change
// is relied on by the controller.
func (t *qtd) setHWNext(a Allocator, paddr uint32) {
	writeWord(a, t.addr, qtdNextIdx, paddr)
}

func (t *qtd) setAltNext(a Allocator, paddr uint32) {
	writeWord(a, t.addr, qtdAltNextIdx, paddr)
}

// deactivate clears the active bit, the lazy-cancellation primitive
// transferDequeue relies on: hardware skips an inactive qTD on its next
// visit rather than executing it (spec §4.5, §5 "Cancellation").
func (t *qtd) deactivate(a Allocator) {
	tok := t.token(a)
	t.setToken(a, tok&^(1<<tokActive))
}

// isActive reports whether the qTD is still owned by hardware.
func (t *qtd) isActive(a Allocator) bool {
	return t.token(a)&(1<<tokActive) != 0
}

// isHalted reports whether the qTD was halted by a transaction error.
func (t *qtd) isHalted(a Allocator) bool {
	return t.token(a)&(1<<tokHalted) != 0
}

// hasError reports whether any of the error-status bits are set.
func (t *qtd) hasError(a Allocator) bool {
	return t.token(a)&errorStatusMask != 0
}

// remainingBytes returns the qTD's current "total bytes to transfer" field,
// which hardware decrements as it consumes the buffer (spec §3 token word).
func (t *qtd) remainingBytes(a Allocator) int {
	return int((t.token(a) >> tokTotalPos) & tokTotalMask)
}

// appendQTD inserts a freshly allocated, self-looped qTD t at the tail of
// the circular software chain rooted at head, and returns the (possibly
// unchanged) head. Used by the builder to grow a transfer's chain one qTD
// at a time.
func appendQTD(head, t *qtd) *qtd {
	if head == nil {
		return t
	}

	tail := head.prev

	t.prev = tail
	t.next = head
	tail.next = t
	head.prev = t

	return head
}
