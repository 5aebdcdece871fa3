// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package dalicode defines the DALI forward-frame command codes used by
// this controller, taken from IEC 62386-102/-103.
package dalicode

// Code is a DALI command code. The low 8 bits carry the command byte;
// the Special flag marks a "special command" frame, where the first
// byte of the forward frame carries the command itself rather than an
// address (see companion standard 102, table 16).
type Code uint16

// Special marks a command as a special command: the first forward-frame
// byte is the command byte (masked to its low 8 bits) and the second
// byte carries a parameter, rather than addressing a short/group/
// broadcast target.
const Special Code = 0x100

// Addressed commands: sent to a short address, a group address, or
// broadcast via the normal forward-frame addressing of companion
// standard 102, table 15. Every ballast matching the address executes
// the command; ADD/REMOVE-FROM-GROUP and SET-SHORT-ADDRESS require two
// identical frames within 100ms to take effect.
const (
	QueryStatus      Code = 0x90 // 144: QUERY STATUS
	QueryGroups0To7  Code = 0xC0 // 192: QUERY GROUPS 0-7
	QueryGroups8To15 Code = 0xC1 // 193: QUERY GROUPS 8-15
	SetFadeTime      Code = 0x2E // 46: SET FADE TIME (parameter from DTR0)
	SetExtendedFade  Code = 0x30 // 48: SET EXTENDED FADE TIME (parameter from DTR0)
	SetShortAddress  Code = 0x80 // 128: set short address from DTR0 if addressed

	// AddToGroup0 .. AddToGroup0+15 is a contiguous run of 16 commands,
	// one per group address; AddToGroup0+Code(g) targets group g.
	AddToGroup0 Code = 0x60 // 96: ADD TO GROUP 0

	// RemoveFromGroup0 .. RemoveFromGroup0+15 is a contiguous run of 16
	// commands, one per group address; RemoveFromGroup0+Code(g) targets
	// group g.
	RemoveFromGroup0 Code = 0x70 // 112: REMOVE FROM GROUP 0
)

// Special commands drive bus-wide enumeration and configuration and are
// never addressed to an individual short or group address. See
// companion standard 102, table 16.
const (
	Terminate             Code = Special | 0xA1
	DataTransferRegister0 Code = Special | 0xA3
	Initialise            Code = Special | 0xA5
	Randomise             Code = Special | 0xA7
	Compare               Code = Special | 0xA9
	Withdraw              Code = Special | 0xAB
	SearchAddrH           Code = Special | 0xB1
	SearchAddrM           Code = Special | 0xB3
	SearchAddrL           Code = Special | 0xB5
	ProgramShortAddress   Code = Special | 0xB7
)

// IsSpecial reports whether c is a special command (first byte carries
// the command, not an address).
func (c Code) IsSpecial() bool {
	return c&Special != 0
}

// Byte returns the low 8 bits of c, the value placed on the wire.
func (c Code) Byte() byte {
	return byte(c & 0xff)
}
