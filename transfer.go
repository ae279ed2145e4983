// Copyright 2026 The bare-metal-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ehci

import (
	"errors"
	"sync"

	"github.com/bare-metal-go/ehci/internal/reg"
)

// ErrNoDescriptors is returned when a transfer requires building a qTD
// chain but none could be obtained (spec §7 "Invalid operation").
var ErrNoDescriptors = errors.New("ehci: no qtds allocated for non-empty request")

// transferState is a Transfer's hcdpriv: the qTD chain and owning qH a
// transfer needs torn down or scanned for completion.
type transferState struct {
	qh    *qh
	head  *qtd // chain head; equals transfer.hcdpriv conceptually (spec §9)
	count int
	size  int // original requested byte count
}

// transferList is the HCD's externally-locked (transLock) set of
// outstanding transfers (spec §5 "transLock").
type transferList struct {
	mu    sync.Mutex
	items []*Transfer
}

func (l *transferList) append(t *Transfer) {
	l.mu.Lock()
	l.items = append(l.items, t)
	l.mu.Unlock()
}

func (l *transferList) remove(t *Transfer) {
	l.mu.Lock()
	for i, v := range l.items {
		if v == t {
			l.items = append(l.items[:i], l.items[i+1:]...)
			break
		}
	}
	l.mu.Unlock()
}

func (l *transferList) snapshot() []*Transfer {
	l.mu.Lock()
	out := make([]*Transfer, len(l.items))
	copy(out, l.items)
	l.mu.Unlock()
	return out
}

// transferEnqueue builds and links the qTD chain for t against pipe p,
// and performs the enqueue handoff onto p's qH (spec §4.5).
func (c *Controller) transferEnqueue(t *Transfer, p *Pipe) error {
	t.Pipe = p

	if c.roothub != nil && c.roothub.IsRoothub(p.Device) {
		return c.roothub.Request(p.Device, t)
	}

	if c.dead.Load() {
		return ErrHostSystem
	}

	q, isNew, err := c.qhFor(p)
	if err != nil {
		return err
	}

	if !isNew {
		c.asyncLock.Lock()
		if q.deviceAddr(c.alloc) != uint32(p.Device.Address) {
			q.patchAddress(c.alloc, p.Device.Address)
		}
		if q.maxPacket(c.alloc) != uint32(p.MaxPacketLen) {
			q.patchMaxPacket(c.alloc, p.MaxPacketLen)
		}
		c.asyncLock.Unlock()
	}

	head, count, err := c.buildChain(q, t, p)
	if err != nil {
		return err
	}

	t.hcdpriv = &transferState{qh: q, head: head, count: count, size: len(t.Buffer)}

	c.transLock.Lock()
	defer c.transLock.Unlock()

	c.transfers.append(t)
	c.handoff(q, head)

	return nil
}

// qhFor returns the qH bound to p, allocating and linking a fresh one on
// first use (spec §4.5 step 2).
func (c *Controller) qhFor(p *Pipe) (q *qh, isNew bool, err error) {
	c.pipeMu.Lock()
	defer c.pipeMu.Unlock()

	if q, ok := c.pipeQH[p]; ok {
		return q, false, nil
	}

	// qH/qTD pool access is always guarded by asyncLock, even for an
	// interrupt pipe's qH (spec §5: "asyncLock — guards... qH/qTD
	// pools" is unconditional; periodicLock separately guards the band
	// allocation and the periodic list itself).
	//
	// The reference Allocator panics on exhaustion instead of returning an
	// error (dma.Region.alloc: "out of memory"); recover it here and
	// surface ErrNoMemory instead, leaving no qH allocated and the pipe
	// untouched (spec §7 "Allocation failure").
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = ErrNoMemory
			}
		}()
		c.asyncLock.Lock()
		defer c.asyncLock.Unlock()
		q = c.qhPool.get(c.alloc)
		q.conf(c.alloc, p)
	}()
	if err != nil {
		return nil, false, err
	}

	if p.Type == Interrupt {
		c.periodicLock.Lock()
		c.bandAlloc(q)
		c.linkPeriodic(q)
		c.periodicLock.Unlock()
	} else {
		c.asyncLock.Lock()
		c.linkAsync(q)
		c.asyncLock.Unlock()
	}

	c.pipeQH[p] = q
	return q, true, nil
}

// buildChain constructs the per-transfer qTD chain by stage (spec §4.5
// step 4-5).
//
// The reference Allocator panics on exhaustion instead of returning an
// error (dma.Region.alloc: "out of memory"); this recovers that panic,
// releases whatever qTDs had already been linked into head back to the
// pool, and surfaces ErrNoMemory instead (spec §7 "Allocation failure").
// A qTD pulled from the pool by the in-progress stage that panicked is not
// itself recoverable here (its own chain splice never completed), so it is
// lost to the underlying Allocator rather than returned to the pool; this
// is a known gap of a panic-based allocator contract, closed only by an
// Allocator whose Alloc/AllocAligned can report failure without panicking.
func (c *Controller) buildChain(q *qh, t *Transfer, p *Pipe) (head *qtd, count int, err error) {
	c.asyncLock.Lock()
	defer c.asyncLock.Unlock()

	defer func() {
		if r := recover(); r != nil {
			cur := head
			for i := 0; i < count; i++ {
				next := cur.next
				c.qtdPool.put(c.alloc, cur)
				cur = next
			}
			head, count, err = nil, 0, ErrNoMemory
		}
	}()

	var vaddr uint
	if len(t.Buffer) > 0 {
		vaddr = c.alloc.Alloc(t.Buffer, 4)
	}

	switch p.Type {
	case Control:
		setupVA := c.alloc.AllocAligned(8, 4)
		encodeSetup(c.alloc, setupVA, t.Setup)

		h := c.qtdPool.get(c.alloc)
		buildQTD(c.alloc, h, pidSetup, int(p.MaxPacketLen), setupVA, 8, 0)
		head = appendQTD(nil, h)
		count++

		dt := 1
		if len(t.Buffer) > 0 {
			pid := pidOUT
			if p.Direction == In {
				pid = pidIN
			}
			var n int
			head, dt = qtdAddCounting(c.alloc, c.qtdPool, head, pid, int(p.MaxPacketLen), vaddr, len(t.Buffer), dt, &n)
			count += n
		}

		statusPID := pidIN
		if p.Direction == In {
			statusPID = pidOUT
		}
		s := c.qtdPool.get(c.alloc)
		buildQTD(c.alloc, s, statusPID, int(p.MaxPacketLen), 0, 0, 1)
		head = appendQTD(head, s)
		count++

	case Bulk, Interrupt:
		pid := pidOUT
		if p.Direction == In {
			pid = pidIN
		}
		var n int
		head, _ = qtdAddCounting(c.alloc, c.qtdPool, nil, pid, int(p.MaxPacketLen), vaddr, len(t.Buffer), 1, &n)
		count = n

	default:
		return nil, 0, ErrNoDescriptors
	}

	if head == nil {
		return nil, 0, ErrNoDescriptors
	}

	// Stitch hardware next pointers; final qTD terminates and requests
	// interrupt-on-complete (spec §4.5 step 5).
	cur := head
	for i := 0; i < count; i++ {
		nxt := cur.next
		if i == count-1 {
			cur.setHWNext(c.alloc, ptrInvalid)
			tok := cur.token(c.alloc)
			cur.setToken(c.alloc, tok|(1<<tokIOC))
		} else {
			cur.setHWNext(c.alloc, linkPtr(uint32(c.alloc.VA2PA(nxt.addr))))
		}
		cur.qh = q
		cur = nxt
	}
	reg.Barrier()

	return head, count, nil
}

// qtdAddCounting wraps qtdAdd, also reporting how many qTDs it appended.
func qtdAddCounting(a Allocator, pool *qtdPool, head *qtd, pid, mps int, vaddr uint, size int, dt int, n *int) (*qtd, int) {
	before := chainLen(head)
	head, dt = qtdAdd(a, pool, head, pid, mps, vaddr, size, dt)
	*n = chainLen(head) - before
	return head, dt
}

func chainLen(head *qtd) int {
	if head == nil {
		return 0
	}
	n := 1
	for cur := head.next; cur != head; cur = cur.next {
		n++
	}
	return n
}

func encodeSetup(a Allocator, vaddr uint, s *SetupData) {
	buf := make([]byte, 8)
	buf[0] = s.RequestType
	buf[1] = s.Request
	buf[2] = byte(s.Value)
	buf[3] = byte(s.Value >> 8)
	buf[4] = byte(s.Index)
	buf[5] = byte(s.Index >> 8)
	buf[6] = byte(s.Length)
	buf[7] = byte(s.Length >> 8)
	a.Write(vaddr, 0, buf)
}

// handoff links head onto q, either as the hardware next_qtd (queue was
// empty) or onto the current tail's software-recorded next (spec §4.5
// step 6). Caller holds transLock; takes asyncLock itself.
func (c *Controller) handoff(q *qh, head *qtd) {
	c.asyncLock.Lock()
	defer c.asyncLock.Unlock()

	if q.lastQtd == 0 {
		q.setNextQtd(c.alloc, linkPtr(uint32(c.alloc.VA2PA(head.addr))))
	} else {
		// Find the qTD software record whose hardware address is
		// lastQtd (the tail of an earlier transfer still queued on q)
		// and splice head after it.
		var tail *qtd
		for _, t := range c.transfers.snapshot() {
			if st := t.hcdpriv; st != nil && st.qh == q && st.head != head {
				if tail = findByAddr(st.head, uint(q.lastQtd)); tail != nil {
					break
				}
			}
		}
		if tail != nil {
			tail.setHWNext(c.alloc, linkPtr(uint32(c.alloc.VA2PA(head.addr))))
		}
	}

	tailOfNew := head.prev
	q.lastQtd = uint32(c.alloc.VA2PA(tailOfNew.addr))
	reg.Barrier()
}

func findByAddr(start *qtd, paddr uint) *qtd {
	cur := start
	for {
		if uint32(cur.addr) == uint32(paddr) {
			return cur
		}
		cur = cur.next
		if cur == start {
			return nil
		}
	}
}

// transferDequeue soft-cancels t: every qTD in its chain is deactivated in
// place, left linked, and then collected by a completion scan that
// transferDequeue runs itself before returning (spec §4.5
// "transfer_dequeue").
func (c *Controller) transferDequeue(t *Transfer) {
	c.transLock.Lock()
	defer c.transLock.Unlock()

	st := t.hcdpriv
	if st == nil {
		return
	}

	cur := st.head
	for i := 0; i < st.count; i++ {
		cur.deactivate(c.alloc)
		cur = cur.next
	}
	reg.Barrier()

	c.transUpdateLocked()
}

// transUpdate is the completion scan (spec §4.5 "transUpdate"). It takes
// transLock itself; the caller must not hold it.
func (c *Controller) transUpdate() {
	c.transLock.Lock()
	defer c.transLock.Unlock()
	c.transUpdateLocked()
}

// transUpdateLocked runs the completion scan. Caller holds transLock.
func (c *Controller) transUpdateLocked() {
	for _, t := range c.transfers.snapshot() {
		st := t.hcdpriv
		if st == nil {
			continue
		}

		finished, status := c.qtdsCheck(st)
		if !finished {
			continue
		}

		c.continueQH(st.qh, st.head)
		c.releaseChain(st)
		c.transfers.remove(t)

		if t.Callback != nil {
			t.Callback.Finished(t, status)
		}
	}
}

// qtdsCheck walks a transfer's circular qTD chain and determines whether it
// has finished, and with what status (spec §4.5 "transUpdate").
func (c *Controller) qtdsCheck(st *transferState) (finished bool, status int) {
	errCount := 0
	cur := st.head
	for i := 0; i < st.count; i++ {
		if cur.hasError(c.alloc) {
			errCount++
		}
		cur = cur.next
	}

	if errCount > 0 {
		return true, -errCount
	}

	last := st.head.prev
	if last.isActive(c.alloc) && !last.isHalted(c.alloc) {
		return false, 0
	}

	remaining := last.remainingBytes(c.alloc)
	return true, st.size - remaining
}

// continueQH rearms qH q after its chain headed by last's first qTD has
// finished (spec §4.5 "continue").
func (c *Controller) continueQH(q *qh, head *qtd) {
	c.asyncLock.Lock()
	defer c.asyncLock.Unlock()

	last := head.prev
	lastPaddr := uint32(c.alloc.VA2PA(last.addr))

	if q.lastQtd == lastPaddr {
		q.lastQtd = 0
		q.setNextQtd(c.alloc, ptrInvalid)
		reg.Barrier()
		return
	}

	if q.current(c.alloc) == lastPaddr && q.nextQtd(c.alloc) == ptrInvalid {
		q.setNextQtd(c.alloc, last.next_(c.alloc))
		reg.Barrier()
		return
	}

	if tok := q.token(c.alloc); tok&tokErrMask != 0 {
		q.setToken(c.alloc, tok&^tokErrMask)
		q.setNextQtd(c.alloc, last.next_(c.alloc))
		reg.Barrier()
	}
}

// releaseChain returns every qTD in st's chain to the pool.
func (c *Controller) releaseChain(st *transferState) {
	c.asyncLock.Lock()
	defer c.asyncLock.Unlock()

	cur := st.head
	for i := 0; i < st.count; i++ {
		next := cur.next
		c.qtdPool.put(c.alloc, cur)
		cur = next
	}
}

// pipeDestroy tears p down: every transfer still queued against p's qH is
// deactivated and collected before the qH is unlinked and returned to the
// pool, so the pool can never hand the same hardware image to a new pipe
// while a stale transferState still points at it (spec §5 Lifecycles "wait
// for in-flight qTDs to be deactivated").
func (c *Controller) pipeDestroy(p *Pipe) {
	c.pipeMu.Lock()
	q, ok := c.pipeQH[p]
	if ok {
		delete(c.pipeQH, p)
	}
	c.pipeMu.Unlock()

	if !ok {
		return
	}

	c.transLock.Lock()
	for _, t := range c.transfers.snapshot() {
		if t.Pipe != p {
			continue
		}
		st := t.hcdpriv
		if st == nil {
			continue
		}
		cur := st.head
		for i := 0; i < st.count; i++ {
			cur.deactivate(c.alloc)
			cur = cur.next
		}
	}
	reg.Barrier()
	c.transUpdateLocked()
	c.transLock.Unlock()

	if p.Type == Interrupt {
		c.periodicLock.Lock()
		c.unlinkPeriodic(q)
		c.periodicLock.Unlock()
	} else {
		c.asyncLock.Lock()
		c.unlinkAsync(q)
		c.asyncLock.Unlock()
	}

	c.asyncLock.Lock()
	c.qhPool.put(c.alloc, q)
	c.asyncLock.Unlock()
}
