// Copyright 2026 The bare-metal-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ehci

import (
	"log"
)

// irqHandler is the hard IRQ context (spec §4.6 "Hard IRQ handler"): it
// reads USBSTS, acknowledges consumed bits, ORs them into the sticky status
// word, and loops until nothing interrupting remains. It returns whether it
// consumed at least one bit, and signals irqCond so the soft thread wakes.
//
// The caller (the platform's interrupt dispatch) must not hold irqMu:
// irqHandler takes it itself around each update of the sticky status word.
// This matches the downward contract's "handler function + condition
// signaled on handled IRQs" (spec §6).
func (c *Controller) irqHandler() bool {
	handled := false

	for {
		sts := c.ops.Read(opUSBSts) & intrMask
		if sts == 0 {
			break
		}
		c.ops.Write(opUSBSts, sts)

		c.irqMu.Lock()
		c.stickyStatus |= sts
		c.irqMu.Unlock()

		handled = true
	}

	if handled {
		c.irqCond.Signal()
	}

	return handled
}

// HandleIRQ is the hard-IRQ entry point a platform's interrupt-registration
// collaborator calls. It runs irqHandler and reports whether any status bit
// was consumed.
func (c *Controller) HandleIRQ() bool {
	return c.irqHandler()
}

// softThread is the single long-lived completion thread per controller
// (spec §4.6 "Soft thread"). It must be started once, as a goroutine, by
// controller bring-up.
func (c *Controller) softThread() {
	c.irqMu.Lock()
	defer c.irqMu.Unlock()

	for {
		for c.stickyStatus == 0 {
			select {
			case <-c.stopCh:
				return
			default:
			}
			c.irqCond.Wait()
			select {
			case <-c.stopCh:
				return
			default:
			}
		}

		status := c.stickyStatus
		c.stickyStatus = 0

		if status&(1<<stsSEI) != 0 {
			log.Printf("ehci: host system error, controller halted")
			c.dead.Store(true)
			status &^= 1 << stsSEI
		}

		if status&((1<<stsUI)|(1<<stsUEI)) != 0 {
			c.irqMu.Unlock()
			c.transUpdate()
			c.irqMu.Lock()
			status &^= (1 << stsUI) | (1 << stsUEI)
		}

		if status&(1<<stsPCI) != 0 {
			c.irqMu.Unlock()
			c.deliverPortChange()
			c.irqMu.Lock()
			status &^= 1 << stsPCI
		}
	}
}

// deliverPortChange handles a port-change interrupt (spec §4.6 "PCI"). For
// each outstanding transfer addressed to the root hub whose Callback, if
// any, still reports it outstanding, it calls Roothub.Status. The returned
// bitmap is discarded: it is not written into the transfer and no Callback
// is notified. transferEnqueue hands root-hub transfers to Roothub.Request
// without adding them to the outstanding list, so this scan finds none.
func (c *Controller) deliverPortChange() {
	if c.roothub == nil {
		return
	}
	for _, t := range c.transfers.snapshot() {
		if t.Pipe == nil || t.Pipe.Device == nil {
			continue
		}
		if !c.roothub.IsRoothub(t.Pipe.Device) {
			continue
		}
		if t.Callback != nil && !t.Callback.Check(t) {
			continue
		}
		c.roothub.Status(t.Pipe.Device)
	}
}

