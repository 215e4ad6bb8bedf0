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

// Package coretest builds synthetic core files for tests.
package coretest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"gvisor.dev/vmcore/pkg/abi/vbox"
)

const (
	ehdrSize = 64
	phdrSize = 56
)

type load struct {
	paddr   uint64
	data    []byte
	memSize uint64
}

type note struct {
	name string
	typ  uint32
	desc []byte
}

// Builder assembles an ELF64 core file in memory. Notes are placed in a
// single PT_NOTE segment, which precedes the PT_LOAD segments.
//
// The zero value is an empty core with no segments.
type Builder struct {
	loads []load
	notes []note
}

// AddLoad adds a PT_LOAD segment mapping data at paddr. memSize is the size
// of the segment in memory; the bytes past len(data) are uninitialized.
func (b *Builder) AddLoad(paddr uint64, data []byte, memSize uint64) *Builder {
	b.loads = append(b.loads, load{paddr: paddr, data: data, memSize: memSize})
	return b
}

// AddRawNote adds a note with arbitrary contents.
func (b *Builder) AddRawNote(name string, typ uint32, desc []byte) *Builder {
	b.notes = append(b.notes, note{name: name, typ: typ, desc: desc})
	return b
}

// AddDescriptor adds a core descriptor note.
func (b *Builder) AddDescriptor(d vbox.Descriptor) *Builder {
	desc := make([]byte, d.SizeBytes())
	d.MarshalBytes(desc)
	return b.AddRawNote(vbox.NoteNameCore, vbox.NoteTypeCore, desc)
}

// AddCPU adds a register block note.
func (b *Builder) AddCPU(block CPUBlock) *Builder {
	return b.AddRawNote(vbox.NoteNameCPU, vbox.NoteTypeCPU, block)
}

// AddVendor adds a vendor extension note.
func (b *Builder) AddVendor(v vbox.VendorCPU) *Builder {
	desc := make([]byte, v.SizeBytes())
	v.MarshalBytes(desc)
	return b.AddRawNote(vbox.NoteNameCPU, vbox.NoteTypeVendorCPU, desc)
}

func (n *note) encode() []byte {
	name := append([]byte(n.name), 0)
	hdr := vbox.NoteHeader{
		NameSize: uint32(len(name)),
		DescSize: uint32(len(n.desc)),
		Type:     n.typ,
	}
	buf := make([]byte, hdr.Size())
	hdr.MarshalBytes(buf)
	copy(buf[vbox.NoteHeaderSize:], name)
	copy(buf[hdr.DescOffset():], n.desc)
	return buf
}

// Bytes returns the encoded core file.
func (b *Builder) Bytes() []byte {
	var notes []byte
	for i := range b.notes {
		notes = append(notes, b.notes[i].encode()...)
	}

	var phdrs []elf.Prog64
	off := uint64(ehdrSize)
	if len(b.notes) > 0 {
		phdrs = append(phdrs, elf.Prog64{})
	}
	off += uint64(len(phdrs)+len(b.loads)) * phdrSize
	if len(b.notes) > 0 {
		phdrs[0] = elf.Prog64{
			Type:   uint32(elf.PT_NOTE),
			Off:    off,
			Filesz: uint64(len(notes)),
			Align:  4,
		}
		off += uint64(len(notes))
	}
	for _, l := range b.loads {
		phdrs = append(phdrs, elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(elf.PF_R | elf.PF_W | elf.PF_X),
			Off:    off,
			Paddr:  l.paddr,
			Filesz: uint64(len(l.data)),
			Memsz:  l.memSize,
			Align:  1,
		})
		off += uint64(len(l.data))
	}

	hdr := elf.Header64{
		Type:      uint16(elf.ET_CORE),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     uint16(len(phdrs)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, &hdr)
	binary.Write(&buf, binary.LittleEndian, phdrs)
	buf.Write(notes)
	for _, l := range b.loads {
		buf.Write(l.data)
	}
	return buf.Bytes()
}

// WriteFile writes the core to a new file in a temporary directory and
// returns its path.
func (b *Builder) WriteFile(t testing.TB) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "core.elf")
	if err := os.WriteFile(path, b.Bytes(), 0644); err != nil {
		t.Fatalf("writing core: %v", err)
	}
	return path
}

// Descriptor returns a valid descriptor for a core with the given number of
// CPUs at the given format version.
func Descriptor(version, cpus uint32) vbox.Descriptor {
	return vbox.Descriptor{
		Magic:         vbox.CoreMagic,
		FormatVersion: version,
		SizeSelf:      vbox.DescriptorSize,
		VBoxVersion:   7<<24 | 12,
		VBoxRevision:  163906,
		CPUs:          cpus,
	}
}

// CPUBlock is a register block under construction.
type CPUBlock []byte

// NewCPUBlock returns a zeroed register block for the given format version.
func NewCPUBlock(version uint32) CPUBlock {
	l, err := vbox.LayoutFor(version)
	if err != nil {
		l = &vbox.CurrentLayout
	}
	return make(CPUBlock, l.Size)
}

// Set64 stores v at offset off.
func (b CPUBlock) Set64(off int, v uint64) CPUBlock {
	vbox.ByteOrder.PutUint64(b[off:], v)
	return b
}

// FPU returns the legacy FXSAVE region of the block.
func (b CPUBlock) FPU() []byte {
	return b[vbox.CurrentLayout.ExtOffset : vbox.CurrentLayout.ExtOffset+vbox.FXStateSize]
}

// SimpleCore returns a core with one CPU and one PT_LOAD segment holding data
// at physical address 0.
func SimpleCore(data []byte) *Builder {
	b := &Builder{}
	return b.AddLoad(0, data, uint64(len(data))).
		AddDescriptor(Descriptor(vbox.FormatVersion, 1)).
		AddCPU(NewCPUBlock(vbox.FormatVersion))
}
