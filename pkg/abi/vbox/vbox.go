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

// Package vbox contains the on-disk definitions of VirtualBox ELF core
// files as written by "VBoxManage debugvm dumpvmcore".
//
// A core file is an ELF64 image. PT_LOAD segments carry guest physical
// memory; PT_NOTE segments carry a core descriptor, one register block per
// virtual CPU and, optionally, one vendor extension record per virtual CPU.
//
// All values are little endian regardless of the host.
package vbox

import (
	"encoding/binary"
)

// ByteOrder is the byte order of all core file records.
var ByteOrder = binary.LittleEndian

// Core descriptor constants, see DBGFCORECOREDESCRIPTOR.
const (
	// CoreMagic is Descriptor.Magic.
	CoreMagic = 0xc01ac0de

	// FormatVersionCompat is the oldest supported Descriptor.FormatVersion.
	// Its register block does not record the TSC_AUX MSR.
	FormatVersionCompat = 0x00010004

	// FormatVersion is the newest supported Descriptor.FormatVersion.
	FormatVersion = 0x00010005

	// MaxCPUs is the largest Descriptor.CPUs accepted.
	MaxCPUs = 1024
)

// Note types.
const (
	// NoteTypeCore identifies the note holding the Descriptor.
	NoteTypeCore = 0xb00

	// NoteTypeCPU identifies a note holding one register block.
	NoteTypeCPU = 0xb01

	// NoteTypeVendorCPU identifies a note holding one VendorCPU record.
	NoteTypeVendorCPU = 0xbeef
)

// Note names. The parser dispatches on type only.
const (
	NoteNameCore = "VBCORE"
	NoteNameCPU  = "VBCPU"
)

// Sizes of fixed records, in bytes.
const (
	DescriptorSize = 24
	NoteHeaderSize = 12
	SelectorSize   = 24
	XDTRSize       = 16
	FXStateSize    = 512
	XSaveAreaSize  = 8192
	VendorCPUSize  = 24
)

// Align4 rounds n up to a multiple of 4, the ELF note alignment.
func Align4(n uint64) uint64 {
	return (n + 3) &^ 3
}
