// Copyright 2026 The bare-metal-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ehci

import "github.com/bare-metal-go/ehci/internal/bits"

// PORTSC bit positions (EHCI 1.0 Table 2-19). These decode a snapshot value
// already read out of the register bank, rather than the bank itself, so
// they use the plain-value bits helpers rather than reg.Bank's atomic
// accessors.
const (
	portscCCS   = 0 // current connect status
	portscCSC   = 1 // connect status change
	portscPE    = 2 // port enabled
	portscPEC   = 3 // port enable change
	portscOCA   = 4 // over-current active
	portscOCC   = 5 // over-current change
	portscFPR   = 6 // force port resume
	portscSusp  = 7
	portscPR    = 8 // port reset
	portscLSPos = 10
	portscLSMask = 0b11
	portscPP    = 12 // port power
	portscOwner = 13 // port owner (0: EHCI, 1: companion controller)
)

// PortStatus is a decoded snapshot of one PORTSC register, computed by
// DecodePortStatus (spec §4.6 "PCI" root-hub status delivery, §6
// downward-contract Root hub collaborator).
type PortStatus struct {
	Connected       bool
	ConnectChanged  bool
	Enabled         bool
	EnableChanged   bool
	OverCurrent     bool
	OverCurrentChg  bool
	Suspended       bool
	Resetting       bool
	Powered         bool
	CompanionOwned  bool
	LowSpeedLineSts uint32
}

// DecodePortStatus decodes a raw PORTSC value, as read by a Roothub
// implementation, into its named fields.
func DecodePortStatus(v uint32) PortStatus {
	return PortStatus{
		Connected:       bits.Get(&v, portscCCS, 1) != 0,
		ConnectChanged:  bits.Get(&v, portscCSC, 1) != 0,
		Enabled:         bits.Get(&v, portscPE, 1) != 0,
		EnableChanged:   bits.Get(&v, portscPEC, 1) != 0,
		OverCurrent:     bits.Get(&v, portscOCA, 1) != 0,
		OverCurrentChg:  bits.Get(&v, portscOCC, 1) != 0,
		Suspended:       bits.Get(&v, portscSusp, 1) != 0,
		Resetting:       bits.Get(&v, portscPR, 1) != 0,
		Powered:         bits.Get(&v, portscPP, 1) != 0,
		CompanionOwned:  bits.Get(&v, portscOwner, 1) != 0,
		LowSpeedLineSts: bits.Get(&v, portscLSPos, portscLSMask),
	}
}

// AckPortChange returns the mask that clears the three sticky change bits
// (CSC, PEC, OCC) a Roothub
// implementation must write back after observing them, leaving the
// remaining status bits untouched.
func AckPortChange() uint32 {
	return (1 << portscCSC) | (1 << portscPEC) | (1 << portscOCC)
}

// ReadPortSC reads PORTSC for 1-indexed port n from the operational
// register bank.
func (c *Controller) ReadPortSC(n int) uint32 {
	return c.ops.Read(opPortSC1 + (n - 1))
}

// AckPortSC acknowledges the sticky change bits on PORTSC for port n,
// leaving the rest of the register unmodified.
func (c *Controller) AckPortSC(n int) {
	idx := opPortSC1 + (n - 1)
	c.ops.Write(idx, c.ops.Read(idx)|AckPortChange())
}
