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

package vbox

import (
	"fmt"
)

// Offsets of the fields of DBGFCORECPU shared by every supported format
// version. Each general purpose register is 8 bytes.
const (
	OffsetRAX    = 0x000
	OffsetRBX    = 0x008
	OffsetRCX    = 0x010
	OffsetRDX    = 0x018
	OffsetRSI    = 0x020
	OffsetRDI    = 0x028
	OffsetR8     = 0x030
	OffsetR9     = 0x038
	OffsetR10    = 0x040
	OffsetR11    = 0x048
	OffsetR12    = 0x050
	OffsetR13    = 0x058
	OffsetR14    = 0x060
	OffsetR15    = 0x068
	OffsetRIP    = 0x070
	OffsetRSP    = 0x078
	OffsetRBP    = 0x080
	OffsetRFLAGS = 0x088

	// Segment registers, SelectorSize bytes each.
	OffsetCS = 0x090
	OffsetDS = 0x0a8
	OffsetES = 0x0c0
	OffsetFS = 0x0d8
	OffsetGS = 0x0f0
	OffsetSS = 0x108

	OffsetCR0 = 0x120
	OffsetCR2 = 0x128
	OffsetCR3 = 0x130
	OffsetCR4 = 0x138

	// OffsetDR is the offset of dr[0]; there are eight debug registers.
	OffsetDR = 0x140

	// Descriptor table registers, XDTRSize bytes each.
	OffsetGDTR = 0x180
	OffsetIDTR = 0x190

	// System segments, SelectorSize bytes each.
	OffsetLDTR = 0x1a0
	OffsetTR   = 0x1b8

	OffsetSysenterCS  = 0x1d0
	OffsetSysenterEIP = 0x1d8
	OffsetSysenterESP = 0x1e0

	OffsetMSREFER         = 0x1e8
	OffsetMSRSTAR         = 0x1f0
	OffsetMSRPAT          = 0x1f8
	OffsetMSRLSTAR        = 0x200
	OffsetMSRCSTAR        = 0x208
	OffsetMSRSFMASK       = 0x210
	OffsetMSRKernelGSBase = 0x218
	OffsetMSRApicBase     = 0x220

	// baseSize is the size of the shared prefix.
	baseSize = 0x228
)

// NumDebugRegisters is the length of DBGFCORECPU.dr.
const NumDebugRegisters = 8

// NumXCRs is the length of DBGFCORECPU.aXcr.
const NumXCRs = 2

// CPULayout describes where a format version places the fields that follow
// the shared prefix of DBGFCORECPU.
//
// The extended state area (X86XSAVEAREA) is 16-byte aligned within the block.
type CPULayout struct {
	// Name is a short human readable name.
	Name string

	// Size is sizeof(DBGFCORECPU) for this version.
	Size int

	// TSCAuxOffset is the offset of msrTscAux, or -1 if the version does not
	// record it.
	TSCAuxOffset int

	// XCROffset is the offset of aXcr[0].
	XCROffset int

	// ExtOffset is the offset of the XSaveAreaSize byte extended state.
	ExtOffset int
}

// HasTSCAux returns true if the layout records the TSC_AUX MSR.
func (l *CPULayout) HasTSCAux() bool {
	return l.TSCAuxOffset >= 0
}

var (
	// CompatLayout is the register block of FormatVersionCompat.
	CompatLayout = CPULayout{
		Name:         "compat",
		Size:         0x2240,
		TSCAuxOffset: -1,
		XCROffset:    baseSize,
		ExtOffset:    0x240,
	}

	// CurrentLayout is the register block of FormatVersion.
	CurrentLayout = CPULayout{
		Name:         "current",
		Size:         0x2240,
		TSCAuxOffset: baseSize,
		XCROffset:    baseSize + 8,
		ExtOffset:    0x240,
	}
)

// MaxCPUSize is the largest register block of any supported version.
const MaxCPUSize = 0x2240

// LayoutFor returns the register block layout of the given format version.
func LayoutFor(version uint32) (*CPULayout, error) {
	switch {
	case version == FormatVersionCompat:
		return &CompatLayout, nil
	case version == FormatVersion:
		return &CurrentLayout, nil
	default:
		return nil, ErrBadVersion{version}
	}
}

// SelectorAttr is the attribute word of a segment selector, in the layout of
// the VMX access rights field.
type SelectorAttr uint32

// Type returns the segment type (bits 0-3).
func (a SelectorAttr) Type() uint8 { return uint8(a & 0xf) }

// DescType returns true for code or data segments, false for system segments
// (bit 4).
func (a SelectorAttr) DescType() bool { return a&(1<<4) != 0 }

// DPL returns the descriptor privilege level (bits 5-6).
func (a SelectorAttr) DPL() uint8 { return uint8(a>>5) & 0x3 }

// Present returns the present bit (bit 7).
func (a SelectorAttr) Present() bool { return a&(1<<7) != 0 }

// LimitHigh returns limit bits 16-19 (bits 8-11).
func (a SelectorAttr) LimitHigh() uint8 { return uint8(a>>8) & 0xf }

// Available returns the bit available to system software (bit 12).
func (a SelectorAttr) Available() bool { return a&(1<<12) != 0 }

// Long returns the 64-bit code segment bit (bit 13).
func (a SelectorAttr) Long() bool { return a&(1<<13) != 0 }

// DefBig returns the default operation size bit (bit 14).
func (a SelectorAttr) DefBig() bool { return a&(1<<14) != 0 }

// Granularity returns true if the limit is scaled by 4 KiB (bit 15).
func (a SelectorAttr) Granularity() bool { return a&(1<<15) != 0 }

// Unusable returns the VT-x "unusable" bit (bit 16).
func (a SelectorAttr) Unusable() bool { return a&(1<<16) != 0 }

// Selector is DBGFCORESEL, a segment register with its hidden part.
type Selector struct {
	Base  uint64
	Limit uint32
	Attr  SelectorAttr
	Sel   uint16
}

// SizeBytes returns the encoded size of a Selector.
func (s *Selector) SizeBytes() int {
	return SelectorSize
}

// UnmarshalBytes decodes src into s. Reserved fields are skipped.
func (s *Selector) UnmarshalBytes(src []byte) []byte {
	s.Base = ByteOrder.Uint64(src[:8])
	src = src[8:]
	s.Limit = ByteOrder.Uint32(src[:4])
	src = src[4:]
	s.Attr = SelectorAttr(ByteOrder.Uint32(src[:4]))
	src = src[4:]
	s.Sel = ByteOrder.Uint16(src[:2])
	return src[SelectorSize-16:]
}

// MarshalBytes encodes s into dst, zeroing reserved fields.
func (s *Selector) MarshalBytes(dst []byte) []byte {
	ByteOrder.PutUint64(dst[:8], s.Base)
	dst = dst[8:]
	ByteOrder.PutUint32(dst[:4], s.Limit)
	dst = dst[4:]
	ByteOrder.PutUint32(dst[:4], uint32(s.Attr))
	dst = dst[4:]
	ByteOrder.PutUint16(dst[:2], s.Sel)
	clear(dst[2:8])
	return dst[SelectorSize-16:]
}

// String implements fmt.Stringer.
func (s Selector) String() string {
	return fmt.Sprintf("sel=%#06x base=%#x limit=%#x attr=%#x", s.Sel, s.Base, s.Limit, uint32(s.Attr))
}

// XDTR is DBGFCOREXDTR, a GDTR or IDTR value.
type XDTR struct {
	Addr  uint64
	Limit uint32
}

// SizeBytes returns the encoded size of an XDTR.
func (x *XDTR) SizeBytes() int {
	return XDTRSize
}

// UnmarshalBytes decodes src into x.
func (x *XDTR) UnmarshalBytes(src []byte) []byte {
	x.Addr = ByteOrder.Uint64(src[:8])
	x.Limit = ByteOrder.Uint32(src[8:12])
	return src[XDTRSize:]
}

// MarshalBytes encodes x into dst.
func (x *XDTR) MarshalBytes(dst []byte) []byte {
	ByteOrder.PutUint64(dst[:8], x.Addr)
	ByteOrder.PutUint32(dst[8:12], x.Limit)
	clear(dst[12:16])
	return dst[XDTRSize:]
}

// VendorMagic is VendorCPU.Magic.
const VendorMagic = 0x62647570634e5652

// VendorCPU is the payload of a NoteTypeVendorCPU note. It carries state that
// DBGFCORECPU omits.
type VendorCPU struct {
	// Magic must be VendorMagic.
	Magic uint64

	// Size is the producer's payload size. It is not checked, so that future
	// producers may append fields.
	Size uint64

	// CR8 is the task priority register.
	CR8 uint64
}

// SizeBytes returns the encoded size of a VendorCPU.
func (v *VendorCPU) SizeBytes() int {
	return VendorCPUSize
}

// UnmarshalBytes decodes src into v.
func (v *VendorCPU) UnmarshalBytes(src []byte) []byte {
	v.Magic = ByteOrder.Uint64(src[:8])
	v.Size = ByteOrder.Uint64(src[8:16])
	v.CR8 = ByteOrder.Uint64(src[16:24])
	return src[VendorCPUSize:]
}

// MarshalBytes encodes v into dst.
func (v *VendorCPU) MarshalBytes(dst []byte) []byte {
	ByteOrder.PutUint64(dst[:8], v.Magic)
	ByteOrder.PutUint64(dst[8:16], v.Size)
	ByteOrder.PutUint64(dst[16:24], v.CR8)
	return dst[VendorCPUSize:]
}

// NoteHeader is Elf64_Nhdr.
type NoteHeader struct {
	NameSize uint32
	DescSize uint32
	Type     uint32
}

// UnmarshalBytes decodes src into n.
func (n *NoteHeader) UnmarshalBytes(src []byte) []byte {
	n.NameSize = ByteOrder.Uint32(src[:4])
	n.DescSize = ByteOrder.Uint32(src[4:8])
	n.Type = ByteOrder.Uint32(src[8:12])
	return src[NoteHeaderSize:]
}

// MarshalBytes encodes n into dst.
func (n *NoteHeader) MarshalBytes(dst []byte) []byte {
	ByteOrder.PutUint32(dst[:4], n.NameSize)
	ByteOrder.PutUint32(dst[4:8], n.DescSize)
	ByteOrder.PutUint32(dst[8:12], n.Type)
	return dst[NoteHeaderSize:]
}

// DescOffset returns the offset of the note payload from the note header.
func (n *NoteHeader) DescOffset() uint64 {
	return NoteHeaderSize + Align4(uint64(n.NameSize))
}

// Size returns the total size of the note, including padding.
func (n *NoteHeader) Size() uint64 {
	return n.DescOffset() + Align4(uint64(n.DescSize))
}
