// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package bits provides primitives for bitwise operations on uint32 values,
// used to encode and decode descriptor and register fields in place.
package bits

// Get returns the field at bit position pos, masked, of the pointed value.
func Get(addr *uint32, pos int, mask int) uint32 {
	return uint32((int(*addr) >> pos) & mask)
}

// Set sets an individual bit at the given position.
func Set(addr *uint32, pos int) {
	*addr |= (1 << uint(pos))
}

// Clear clears an individual bit at the given position.
func Clear(addr *uint32, pos int) {
	*addr &= ^(uint32(1) << uint(pos))
}

// SetN sets a multi-bit field at the given position and mask width.
func SetN(addr *uint32, pos int, mask int, val uint32) {
	*addr = (*addr &^ (uint32(mask) << uint(pos))) | (val << uint(pos))
}
