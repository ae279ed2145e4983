// Copyright 2026 The bare-metal-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ehci

// EHCI register banks are exposed as arrays of volatile 32-bit words (see
// internal/reg.Bank): a read-only capability bank starting at the
// controller's base address, and an operational bank at
// base+CAPLENGTH (word-indexed, not byte-indexed).
//
// Word offsets below follow the EHCI 1.0 specification's register map; the
// collapsed-base platform variant (Config.CollapsedBase) instead maps the
// operational bank onto the same base as the capability bank and folds
// USBMODE into the operational bank at a fixed offset, matching the i.MX
// EHCI-compatible controller deviation this driver generalizes from.
const (
	// Capability registers (word-indexed from Base).
	capCapLength = 0 // low byte: CAPLENGTH, high halfword: HCIVERSION
	capHCSParams = 1
	capHCCParams = 2
)

const (
	hccParams64BitAddrs = 0 // HCCPARAMS bit: 64-bit addressing capability
)

const (
	// Operational registers (word-indexed from opbase).
	opUSBCmd           = 0x00 / 4
	opUSBSts           = 0x04 / 4
	opUSBIntr          = 0x08 / 4
	opFrIndex          = 0x0c / 4
	opCtrlDSSegment    = 0x10 / 4
	opPeriodicListBase = 0x14 / 4
	opAsyncListAddr    = 0x18 / 4
	opConfigFlag       = 0x40 / 4
	opPortSC1          = 0x44 / 4

	// opUSBMode is platform-specific: present on the collapsed-base
	// (EHCI_IMX-style) variant only, at a fixed offset past the
	// standard operational bank.
	opUSBMode = 0xa8 / 4
)

// USBCMD bits.
const (
	usbCmdRun     = 0 // RS: run/stop
	usbCmdHCReset = 1
	usbCmdPSE     = 4 // periodic schedule enable
	usbCmdASE     = 5 // async schedule enable
	usbCmdIAA     = 6 // interrupt on async advance doorbell
	usbCmdLReset  = 7

	usbCmdFrameListSizePos  = 2
	usbCmdFrameListSizeMask = 0b11
)

// USBSTS / USBINTR bits (shared bit positions between the status and
// interrupt-enable registers, per EHCI 1.0 Table 2-16/2-17).
const (
	stsUI   = 0 // USB transaction complete
	stsUEI  = 1 // USB error
	stsPCI  = 2 // port change
	stsFRI  = 3 // frame list rollover
	stsSEI  = 4 // host system error
	stsAAI  = 5 // interrupt on async advance
	stsHCH  = 12 // host controller halted
	stsPS   = 14 // periodic schedule status
	stsAS   = 15 // async schedule status
)

// intrMask is the set of USBSTS/USBINTR bits this driver enables and
// acknowledges; SEI, UI and UEI per spec §4.7, PCI so root-hub port change
// notifications reach the soft thread.
const intrMask = (1 << stsUI) | (1 << stsUEI) | (1 << stsSEI) | (1 << stsPCI)

// USBMODE bits (collapsed-base variant only).
const (
	usbModeCMPos  = 0
	usbModeCMMask = 0b11
	usbModeCMHost = 0b11
)
