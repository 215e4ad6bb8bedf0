// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fpu decodes saved x87, SSE and AVX state.
package fpu

import (
	"encoding/binary"
)

// State is a saved XSAVE area, whose first 512 bytes are the legacy FXSAVE
// region (Intel SDM Vol. 1, Table 10-2 "Format of an FXSAVE Area").
//
// This is a simple byte slice, typically a view into a larger register
// block. Accessors panic if the slice is shorter than the legacy region.
type State []byte

// byteOrder is the byte order of saved state, which is always little endian.
var byteOrder = binary.LittleEndian

// Offsets in bytes from the start of the FXSAVE area.
const (
	fcwOffset       = 0x00
	fswOffset       = 0x02
	ftwOffset       = 0x04
	fopOffset       = 0x06
	fpuIPOffset     = 0x08
	fpuCSOffset     = 0x0c
	fpuDPOffset     = 0x10
	fpuDSOffset     = 0x14
	mxcsrOffset     = 0x18
	mxcsrMaskOffset = 0x1c

	// stOffset is the offset of the first of eight 16-byte x87/MMX register
	// slots. Each holds an 80-bit value in its low 10 bytes.
	stOffset  = 0x20
	stSlot    = 16
	NumFPRegs = 8

	// xmmOffset is the offset of the first of sixteen 16-byte XMM registers.
	xmmOffset  = 0xa0
	xmmSize    = 16
	NumXMMRegs = 16

	// xstateBVOffset is the offset in bytes of the XSTATE_BV field in an x86
	// XSAVE area.
	xstateBVOffset = 512

	// xcompBVOffset is the offset of XCOMP_BV.
	xcompBVOffset = 520

	// legacySize is the size of the FXSAVE region.
	legacySize = 512
)

func (s State) u16(off int) uint16 { return byteOrder.Uint16(s[off : off+2]) }
func (s State) u32(off int) uint32 { return byteOrder.Uint32(s[off : off+4]) }
func (s State) u64(off int) uint64 { return byteOrder.Uint64(s[off : off+8]) }

// ControlWord returns FCW.
func (s State) ControlWord() uint16 {
	return s.u16(fcwOffset)
}

// StatusWord returns FSW.
func (s State) StatusWord() StatusWord {
	return StatusWord(s.u16(fswOffset))
}

// AbridgedTags returns the abridged tag byte saved by FXSAVE: bit i is set iff
// physical register i is not empty.
func (s State) AbridgedTags() uint8 {
	return s[ftwOffset]
}

// Opcode returns FOP, the last non-control x87 opcode.
func (s State) Opcode() uint16 {
	return s.u16(fopOffset)
}

// IP returns the low 32 bits of the last x87 instruction pointer.
func (s State) IP() uint32 {
	return s.u32(fpuIPOffset)
}

// CS returns the code selector of the last x87 instruction.
func (s State) CS() uint16 {
	return s.u16(fpuCSOffset)
}

// DP returns the low 32 bits of the last x87 operand pointer.
func (s State) DP() uint32 {
	return s.u32(fpuDPOffset)
}

// DS returns the data selector of the last x87 operand.
func (s State) DS() uint16 {
	return s.u16(fpuDSOffset)
}

// MXCSR returns the SSE control and status register.
func (s State) MXCSR() MXCSR {
	return MXCSR(s.u32(mxcsrOffset))
}

// MXCSRMask returns the mask of supported MXCSR bits.
func (s State) MXCSRMask() uint32 {
	return s.u32(mxcsrMaskOffset)
}

// XStateBV returns XSTATE_BV from the XSAVE header, or 0 if s only holds the
// legacy region.
func (s State) XStateBV() uint64 {
	if len(s) < xstateBVOffset+8 {
		return 0
	}
	return s.u64(xstateBVOffset)
}

// XCompBV returns XCOMP_BV from the XSAVE header, or 0 if s only holds the
// legacy region.
func (s State) XCompBV() uint64 {
	if len(s) < xcompBVOffset+8 {
		return 0
	}
	return s.u64(xcompBVOffset)
}

// physicalSlot returns the storage of physical register i.
func (s State) physicalSlot(i int) []byte {
	off := stOffset + (i&7)*stSlot
	return s[off : off+stSlot]
}

// Register returns x87 register ST(i).
func (s State) Register(i int) Float80 {
	var f Float80
	copy(f[:], s.physicalSlot((i+8-int(s.StatusWord().Top()))&7))
	return f
}

// MMX returns MMX register i, the low 64 bits of its x87 slot.
func (s State) MMX(i int) uint64 {
	return byteOrder.Uint64(s.physicalSlot(i))
}

// XMM returns XMM register i.
func (s State) XMM(i int) [xmmSize]byte {
	var r [xmmSize]byte
	off := xmmOffset + (i%NumXMMRegs)*xmmSize
	copy(r[:], s[off:off+xmmSize])
	return r
}

// PartialXMM returns 32-bit lane part (0-3) of XMM register i.
func (s State) PartialXMM(i, part int) uint32 {
	return s.u32(xmmOffset + (i%NumXMMRegs)*xmmSize + (part&3)*4)
}

// StatusWord is the x87 FPU status word.
type StatusWord uint16

// Exception flags.
func (w StatusWord) IE() bool { return w&(1<<0) != 0 }
func (w StatusWord) DE() bool { return w&(1<<1) != 0 }
func (w StatusWord) ZE() bool { return w&(1<<2) != 0 }
func (w StatusWord) OE() bool { return w&(1<<3) != 0 }
func (w StatusWord) UE() bool { return w&(1<<4) != 0 }
func (w StatusWord) PE() bool { return w&(1<<5) != 0 }

// SF returns the stack fault flag.
func (w StatusWord) SF() bool { return w&(1<<6) != 0 }

// ES returns the exception summary status.
func (w StatusWord) ES() bool { return w&(1<<7) != 0 }

// Condition codes.
func (w StatusWord) C0() bool { return w&(1<<8) != 0 }
func (w StatusWord) C1() bool { return w&(1<<9) != 0 }
func (w StatusWord) C2() bool { return w&(1<<10) != 0 }
func (w StatusWord) C3() bool { return w&(1<<14) != 0 }

// Top returns the top of stack pointer: the physical register that is ST(0).
func (w StatusWord) Top() uint8 { return uint8(w>>11) & 7 }

// Busy returns the FPU busy bit.
func (w StatusWord) Busy() bool { return w&(1<<15) != 0 }
