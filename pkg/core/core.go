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

// Package core reads VirtualBox ELF core files.
//
// A Core is parsed in a single pass over the program header table. PT_LOAD
// segments become chunks of the guest physical address space; PT_NOTE
// segments supply the core descriptor and the saved state of each virtual
// CPU. Chunk contents are read from the core file on demand.
//
// A Core that failed to parse holds no memory and no CPUs, and CPU lookups
// return ErrNotParsed until a later Parse succeeds.
package core

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"gvisor.dev/vmcore/pkg/abi/vbox"
	"gvisor.dev/vmcore/pkg/log"
	"gvisor.dev/vmcore/pkg/physmem"
	"gvisor.dev/vmcore/pkg/vcpu"
)

var (
	// ErrFileAccess is returned when the core file cannot be opened or read.
	ErrFileAccess = errors.New("cannot access core file")

	// ErrFormat is returned for a core file that is not a well formed
	// VirtualBox core.
	ErrFormat = errors.New("bad core file")

	// ErrNotParsed is returned by accessors of a Core without a successful
	// parse.
	ErrNotParsed = errors.New("core not parsed")

	// ErrNoSuchCPU is returned for a CPU index past the CPU count.
	ErrNoSuchCPU = errors.New("no such cpu")
)

// Options control how a core is read.
type Options struct {
	// Mmap maps the core file into memory instead of reading it with
	// positional reads.
	Mmap bool
}

// Core is a parsed core file.
type Core struct {
	opts Options

	// mu serializes Parse and Close against the accessors. Memory and CPU
	// contents are immutable between parses and are read without it.
	mu sync.RWMutex

	// path is the file most recently passed to Parse.
	path string

	// backing holds the open core file while the core is usable.
	backing backing

	// usable is true after a successful parse.
	usable bool

	desc vbox.Descriptor
	mem  physmem.AddressSpace
	cpus []*vcpu.Context
}

// New returns an unparsed Core.
func New(opts Options) *Core {
	return &Core{opts: opts}
}

// Open returns the Core parsed from path.
func Open(path string, opts Options) (*Core, error) {
	c := New(opts)
	if err := c.Parse(path); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse parses the core file at path, replacing any previous contents of c.
// On failure c is left empty and unusable.
func (c *Core) Parse(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := openBacking(path, c.opts)
	if err != nil {
		c.resetLocked()
		c.path = path
		return fmt.Errorf("%w: %w", ErrFileAccess, err)
	}

	c.resetLocked()
	c.path = path
	c.backing = b
	if err := c.parseLocked(); err != nil {
		c.resetLocked()
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	c.usable = true

	mem, file := c.mem.Size()
	log.Infof("Parsed core %s: VirtualBox %s, format %#x, %d CPUs, %d chunks (%d bytes of memory, %d in file)",
		path, c.desc.VersionString(), c.desc.FormatVersion, len(c.cpus), c.mem.Len(), mem, file)
	return nil
}

// Close releases the core file. c is unusable afterwards.
func (c *Core) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resetLocked()
}

// resetLocked drops all parsed state and closes the backing file.
//
// Preconditions: c.mu must be locked.
func (c *Core) resetLocked() error {
	var err error
	if c.backing != nil {
		err = c.backing.Close()
		c.backing = nil
	}
	c.usable = false
	c.desc = vbox.Descriptor{}
	c.mem.Clear()
	c.cpus = nil
	return err
}

// noteState tracks note dispatch across all PT_NOTE segments.
type noteState struct {
	haveDesc bool
	layout   *vbox.CPULayout

	// cpus and vendors count the CPU and vendor notes seen so far. Each kind
	// is assigned to CPUs in its own encounter order.
	cpus    int
	vendors int
}

// parseLocked walks the program header table.
//
// Preconditions: c.mu must be locked and c.backing must be set.
func (c *Core) parseLocked() error {
	var hdr elf.Header64
	if err := c.readStruct(0, &hdr); err != nil {
		return fmt.Errorf("%w: reading ELF header: %v", ErrFormat, err)
	}
	if string(hdr.Ident[:len(elf.ELFMAG)]) != elf.ELFMAG {
		return fmt.Errorf("%w: not an ELF file", ErrFormat)
	}
	if class := elf.Class(hdr.Ident[elf.EI_CLASS]); class != elf.ELFCLASS64 {
		return fmt.Errorf("%w: ELF class %v, want %v", ErrFormat, class, elf.ELFCLASS64)
	}
	if data := elf.Data(hdr.Ident[elf.EI_DATA]); data != elf.ELFDATA2LSB {
		return fmt.Errorf("%w: ELF data encoding %v, want %v", ErrFormat, data, elf.ELFDATA2LSB)
	}
	if hdr.Phnum > 0 && uint64(hdr.Phentsize) < uint64(binary.Size(elf.Prog64{})) {
		return fmt.Errorf("%w: program header size %d too small", ErrFormat, hdr.Phentsize)
	}
	log.Debugf("ELF header: type %v, %d program headers of %d bytes at %#x",
		elf.Type(hdr.Type), hdr.Phnum, hdr.Phentsize, hdr.Phoff)

	var st noteState
	for i := 0; i < int(hdr.Phnum); i++ {
		var ph elf.Prog64
		off := hdr.Phoff + uint64(i)*uint64(hdr.Phentsize)
		if err := c.readStruct(off, &ph); err != nil {
			return fmt.Errorf("%w: reading program header %d: %v", ErrFormat, i, err)
		}

		switch elf.ProgType(ph.Type) {
		case elf.PT_LOAD:
			if err := c.addLoad(i, &ph); err != nil {
				return err
			}
		case elf.PT_NOTE:
			log.Debugf("Program header %d: PT_NOTE at %#x, %#x bytes", i, ph.Off, ph.Filesz)
			if err := c.parseNotes(&ph, &st); err != nil {
				return err
			}
		default:
			log.Debugf("Program header %d: skipping %v", i, elf.ProgType(ph.Type))
		}
	}
	return nil
}

// addLoad adds the chunk described by a PT_LOAD header.
func (c *Core) addLoad(i int, ph *elf.Prog64) error {
	log.Debugf("Program header %d: PT_LOAD paddr %#x, memsz %#x, filesz %#x at %#x",
		i, ph.Paddr, ph.Memsz, ph.Filesz, ph.Off)
	if ph.Filesz > ph.Memsz {
		return fmt.Errorf("%w: PT_LOAD %d file size %#x exceeds memory size %#x", ErrFormat, i, ph.Filesz, ph.Memsz)
	}
	chunk, err := physmem.NewChunk(c.backing, ph.Off, ph.Filesz, physmem.Addr(ph.Paddr), ph.Memsz)
	if err != nil {
		return fmt.Errorf("%w: PT_LOAD %d: %v", ErrFormat, i, err)
	}
	if old := c.mem.Insert(chunk); old != nil {
		log.Warningf("PT_LOAD %d replaces chunk %v", i, old)
	}
	return nil
}

// parseNotes dispatches the notes of a PT_NOTE segment.
func (c *Core) parseNotes(ph *elf.Prog64, st *noteState) error {
	var buf [vbox.NoteHeaderSize]byte
	for off := uint64(0); off < ph.Filesz; {
		if ph.Filesz-off < vbox.NoteHeaderSize {
			return fmt.Errorf("%w: truncated note header at %#x", ErrFormat, ph.Off+off)
		}
		if err := c.readAt(buf[:], ph.Off+off); err != nil {
			return err
		}
		var nh vbox.NoteHeader
		nh.UnmarshalBytes(buf[:])
		if nh.DescOffset()+uint64(nh.DescSize) > ph.Filesz-off {
			return fmt.Errorf("%w: note at %#x runs past its segment", ErrFormat, ph.Off+off)
		}
		desc := ph.Off + off + nh.DescOffset()
		log.Debugf("Note at %#x: type %#x, %d byte name, %d byte payload", ph.Off+off, nh.Type, nh.NameSize, nh.DescSize)

		var err error
		switch nh.Type {
		case vbox.NoteTypeCore:
			err = c.parseDescriptor(desc, nh.DescSize, st)
		case vbox.NoteTypeCPU:
			err = c.parseCPU(desc, nh.DescSize, st)
		case vbox.NoteTypeVendorCPU:
			err = c.parseVendor(desc, nh.DescSize, st)
		default:
			log.Debugf("Skipping unknown note type %#x", nh.Type)
		}
		if err != nil {
			return err
		}
		off += nh.Size()
	}
	return nil
}

// parseDescriptor reads the core descriptor and sizes the CPU list.
func (c *Core) parseDescriptor(off uint64, size uint32, st *noteState) error {
	if st.haveDesc {
		return fmt.Errorf("%w: duplicate core descriptor", ErrFormat)
	}
	if size < vbox.DescriptorSize {
		return fmt.Errorf("%w: core descriptor is %d bytes, want %d", ErrFormat, size, vbox.DescriptorSize)
	}
	var buf [vbox.DescriptorSize]byte
	if err := c.readAt(buf[:], off); err != nil {
		return err
	}
	c.desc.UnmarshalBytes(buf[:])
	if err := c.desc.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrFormat, err)
	}
	layout, err := vbox.LayoutFor(c.desc.FormatVersion)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFormat, err)
	}
	log.Debugf("Core descriptor: %v", c.desc)

	st.haveDesc = true
	st.layout = layout
	c.cpus = make([]*vcpu.Context, c.desc.CPUs)
	for i := range c.cpus {
		c.cpus[i] = vcpu.NewContext()
		c.cpus[i].SetVersion(c.desc.FormatVersion)
	}
	return nil
}

// parseCPU reads the register block of the next CPU.
func (c *Core) parseCPU(off uint64, size uint32, st *noteState) error {
	if !st.haveDesc || st.cpus >= len(c.cpus) {
		return fmt.Errorf("%w: more CPUs than expected (%d)", ErrFormat, len(c.cpus))
	}
	if int(size) < st.layout.Size {
		return fmt.Errorf("%w: CPU %d register block is %d bytes, want %d", ErrFormat, st.cpus, size, st.layout.Size)
	}
	raw := make([]byte, st.layout.Size)
	if err := c.readAt(raw, off); err != nil {
		return err
	}
	if err := c.cpus[st.cpus].SetRegisters(raw); err != nil {
		return fmt.Errorf("%w: CPU %d: %v", ErrFormat, st.cpus, err)
	}
	st.cpus++
	return nil
}

// parseVendor reads the vendor extension record of the next CPU. The
// record's size field is not checked, so that newer producers may append
// fields.
func (c *Core) parseVendor(off uint64, size uint32, st *noteState) error {
	if size < vbox.VendorCPUSize {
		return fmt.Errorf("%w: vendor record is %d bytes, want %d", ErrFormat, size, vbox.VendorCPUSize)
	}
	var buf [vbox.VendorCPUSize]byte
	if err := c.readAt(buf[:], off); err != nil {
		return err
	}
	var v vbox.VendorCPU
	v.UnmarshalBytes(buf[:])
	if v.Magic != vbox.VendorMagic {
		return fmt.Errorf("%w: vendor record magic %#x, want %#x", ErrFormat, v.Magic, uint64(vbox.VendorMagic))
	}
	if st.vendors >= len(c.cpus) {
		return fmt.Errorf("%w: more vendor records than CPUs (%d)", ErrFormat, len(c.cpus))
	}
	c.cpus[st.vendors].SetVendor(v)
	st.vendors++
	return nil
}

// readAt fills dst from offset off of the core file.
func (c *Core) readAt(dst []byte, off uint64) error {
	if off > uint64(c.backing.Size()) {
		return fmt.Errorf("%w: offset %#x past end of file", ErrFormat, off)
	}
	if _, err := c.backing.ReadAt(dst, int64(off)); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %d bytes at %#x: %w", ErrFormat, len(dst), off, io.ErrUnexpectedEOF)
		}
		return fmt.Errorf("%w: %w", ErrFileAccess, err)
	}
	return nil
}

// readStruct decodes the fixed size structure v from offset off.
func (c *Core) readStruct(off uint64, v any) error {
	buf := make([]byte, binary.Size(v))
	if err := c.readAt(buf, off); err != nil {
		return err
	}
	_, err := binary.Decode(buf, binary.LittleEndian, v)
	return err
}

// Path returns the path most recently passed to Parse.
func (c *Core) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// Usable returns true if the last parse succeeded.
func (c *Core) Usable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.usable
}

// Descriptor returns the core descriptor.
func (c *Core) Descriptor() vbox.Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.desc
}

// FormatVersion returns the core format version.
func (c *Core) FormatVersion() uint32 {
	return c.Descriptor().FormatVersion
}

// VBoxVersion returns the version of the producing VirtualBox.
func (c *Core) VBoxVersion() uint32 {
	return c.Descriptor().VBoxVersion
}

// VBoxRevision returns the revision of the producing VirtualBox.
func (c *Core) VBoxRevision() uint32 {
	return c.Descriptor().VBoxRevision
}

// CPUCount returns the number of CPUs.
func (c *Core) CPUCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cpus)
}

// CPU returns the state of CPU i.
func (c *Core) CPU(i int) (*vcpu.Context, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.usable {
		return nil, ErrNotParsed
	}
	if i < 0 || i >= len(c.cpus) {
		return nil, fmt.Errorf("cpu %d of %d: %w", i, len(c.cpus), ErrNoSuchCPU)
	}
	return c.cpus[i], nil
}

// CPUs returns the state of all CPUs.
func (c *Core) CPUs() []*vcpu.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*vcpu.Context(nil), c.cpus...)
}

// Memory returns the guest physical address space. It is empty unless the
// core is usable.
func (c *Core) Memory() *physmem.AddressSpace {
	return &c.mem
}

// MarshalText implements encoding.TextMarshaler. A core is persisted as the
// path it was parsed from.
func (c *Core) MarshalText() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.usable {
		return nil, ErrNotParsed
	}
	return []byte(c.path), nil
}

// UnmarshalText implements encoding.TextUnmarshaler by parsing the core at
// the path in text.
func (c *Core) UnmarshalText(text []byte) error {
	return c.Parse(string(text))
}
