// Copyright 2026 The bare-metal-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ehci

// TransferType identifies one of the four USB transfer types, matching the
// PID/schedule handling each requires (spec §2, §4.3).
type TransferType int

const (
	Control TransferType = iota
	Bulk
	Interrupt
	Isochronous
)

// Direction is the data-stage direction of a transfer.
type Direction int

const (
	Out Direction = iota
	In
)

// Device is the minimal upstream-owned device record this core dereferences:
// the fields that feed qH endpoint-characteristics encoding (spec §4.3).
type Device struct {
	Address uint8
	Speed   Speed

	// HubAddr/HubPort locate the transaction-translator hub a full- or
	// low-speed device sits behind when the host itself runs high-speed.
	// The band allocator does not read them: it sets info[1]'s C-mask to
	// all ones and encodes no hub address or port.
	HubAddr uint8
	HubPort uint8
}

// Pipe identifies one endpoint on one device: the identity a qH is bound to
// for its lifetime (spec §4.1, §4.3).
type Pipe struct {
	Device *Device

	Number       int
	Type         TransferType
	Direction    Direction
	MaxPacketLen uint16

	// Interval is the polling interval, in the units the USB endpoint
	// descriptor specifies it (frames for full/low-speed, microframes
	// expressed as 2^(interval-1) for high-speed), meaningful only for
	// Interrupt and Isochronous pipes.
	Interval int
}

// SetupData is the 8-byte control-transfer setup packet (USB 2.0 §9.3),
// copied verbatim into the first qTD of every control transfer.
type SetupData struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// Transfer describes one upstream transfer request: the pipe it targets,
// the data buffer, and (for control transfers) the setup packet. hcdpriv
// carries this driver's private per-transfer state (its qTD chain and
// owning qH) between transferEnqueue and transUpdate.
type Transfer struct {
	Pipe   *Pipe
	Buffer []byte
	Setup  *SetupData

	// Callback receives the terminal completion notification. May be nil,
	// in which case the root-hub status-change poll or a synchronous
	// caller is expected to observe completion some other way.
	Callback TransferCallback

	hcdpriv *transferState
}
