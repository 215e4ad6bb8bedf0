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

package core

import (
	"bytes"
	"debug/elf"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/vmcore/pkg/abi/vbox"
	"gvisor.dev/vmcore/pkg/core/coretest"
	"gvisor.dev/vmcore/pkg/physmem"
	"gvisor.dev/vmcore/pkg/vcpu"
)

var sample = []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03, 0x04}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i>>8)
	}
	return b
}

func mustOpen(t *testing.T, path string, opts Options) *Core {
	t.Helper()
	c, err := Open(path, opts)
	if err != nil {
		t.Fatalf("Open(%q): %v", path, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func read(c *Core, addr physmem.Addr, n int) []byte {
	buf := make([]byte, n)
	c.Memory().ReadBuffer(addr, buf)
	return buf
}

func TestEndToEnd(t *testing.T) {
	path := coretest.SimpleCore(sample).WriteFile(t)
	for _, opts := range []Options{{}, {Mmap: true}} {
		c := mustOpen(t, path, opts)
		if !c.Usable() {
			t.Errorf("Usable() = false after a successful parse")
		}
		if got := c.CPUCount(); got != 1 {
			t.Errorf("CPUCount() = %d, want 1", got)
		}
		if got := read(c, 0, len(sample)); !bytes.Equal(got, sample) {
			t.Errorf("memory at 0 = %x, want %x", got, sample)
		}
		if got := c.Memory().ReadUint64(0); got != 0x04030201efbeadde {
			t.Errorf("ReadUint64(0) = %#x", got)
		}
		if c.FormatVersion() != vbox.FormatVersion || c.VBoxVersion() != 7<<24|12 || c.VBoxRevision() != 163906 {
			t.Errorf("Descriptor() = %v", c.Descriptor())
		}
		if c.Path() != path {
			t.Errorf("Path() = %q, want %q", c.Path(), path)
		}
		if _, err := c.CPU(0); err != nil {
			t.Errorf("CPU(0): %v", err)
		}
	}
}

func TestOpenNonexistent(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"), Options{})
	if !errors.Is(err, ErrFileAccess) {
		t.Errorf("Open() error = %v, want ErrFileAccess", err)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Open() error = %v, want fs.ErrNotExist", err)
	}

	if _, err := Open(t.TempDir(), Options{}); !errors.Is(err, ErrFileAccess) {
		t.Errorf("Open(directory) error = %v, want ErrFileAccess", err)
	}
}

func TestMalformedMagicLeavesCoreUnusable(t *testing.T) {
	good := coretest.SimpleCore(sample).WriteFile(t)

	bad := coretest.Descriptor(vbox.FormatVersion, 1)
	bad.Magic ^= 1
	b := &coretest.Builder{}
	badPath := b.AddLoad(0, sample, uint64(len(sample))).
		AddDescriptor(bad).
		AddCPU(coretest.NewCPUBlock(vbox.FormatVersion)).
		WriteFile(t)

	c := mustOpen(t, good, Options{})
	err := c.Parse(badPath)
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("Parse() error = %v, want ErrFormat", err)
	}
	var magicErr vbox.ErrBadMagic
	if !errors.As(err, &magicErr) || magicErr.Magic != bad.Magic {
		t.Errorf("Parse() error = %v, want ErrBadMagic{%#x}", err, bad.Magic)
	}

	if c.Usable() {
		t.Errorf("Usable() = true after a failed parse")
	}
	if got := read(c, 0, len(sample)); !bytes.Equal(got, make([]byte, len(sample))) {
		t.Errorf("memory after failed parse = %x, want zeros", got)
	}
	if _, err := c.CPU(0); !errors.Is(err, ErrNotParsed) {
		t.Errorf("CPU(0) error = %v, want ErrNotParsed", err)
	}
	if c.CPUCount() != 0 || c.Memory().Len() != 0 {
		t.Errorf("failed parse left %d CPUs and %d chunks", c.CPUCount(), c.Memory().Len())
	}
	if _, err := c.MarshalText(); !errors.Is(err, ErrNotParsed) {
		t.Errorf("MarshalText() error = %v, want ErrNotParsed", err)
	}

	// A later successful parse makes the core usable again.
	if err := c.Parse(good); err != nil {
		t.Fatalf("Parse(%q): %v", good, err)
	}
	if got := read(c, 0, len(sample)); !bytes.Equal(got, sample) {
		t.Errorf("memory after reparse = %x, want %x", got, sample)
	}
}

func TestFormatErrors(t *testing.T) {
	cpu := coretest.NewCPUBlock(vbox.FormatVersion)
	desc := coretest.Descriptor(vbox.FormatVersion, 1)
	vendor := vbox.VendorCPU{Magic: vbox.VendorMagic, Size: vbox.VendorCPUSize}

	// simple is laid out as: ELF header, 2 program headers, the note
	// segment, then the load segment.
	const notesOff = 64 + 2*56
	simple := coretest.SimpleCore(sample).Bytes()

	for _, tc := range []struct {
		name string
		data []byte
	}{
		{
			name: "empty file",
			data: nil,
		},
		{
			name: "truncated ELF header",
			data: simple[:40],
		},
		{
			name: "not ELF",
			data: append([]byte("\x7fELG"), simple[4:]...),
		},
		{
			name: "32-bit ELF",
			data: func() []byte {
				d := bytes.Clone(simple)
				d[elf.EI_CLASS] = byte(elf.ELFCLASS32)
				return d
			}(),
		},
		{
			name: "big endian",
			data: func() []byte {
				d := bytes.Clone(simple)
				d[elf.EI_DATA] = byte(elf.ELFDATA2MSB)
				return d
			}(),
		},
		{
			name: "small program headers",
			data: func() []byte {
				d := bytes.Clone(simple)
				vbox.ByteOrder.PutUint16(d[54:], 32)
				return d
			}(),
		},
		{
			name: "program headers past end of file",
			data: simple[:64+56+8],
		},
		{
			name: "note runs past segment",
			data: func() []byte {
				d := bytes.Clone(simple)
				vbox.ByteOrder.PutUint32(d[notesOff+4:], 0xffff)
				return d
			}(),
		},
		{
			name: "unsupported version",
			data: (&coretest.Builder{}).
				AddDescriptor(coretest.Descriptor(vbox.FormatVersion+1, 1)).
				Bytes(),
		},
		{
			name: "too many CPUs",
			data: (&coretest.Builder{}).
				AddDescriptor(desc).
				AddCPU(cpu).
				AddCPU(cpu).
				Bytes(),
		},
		{
			name: "descriptor declares too many CPUs",
			data: (&coretest.Builder{}).
				AddDescriptor(coretest.Descriptor(vbox.FormatVersion, 0xffffffff)).
				Bytes(),
		},
		{
			name: "CPU before descriptor",
			data: (&coretest.Builder{}).
				AddCPU(cpu).
				AddDescriptor(desc).
				Bytes(),
		},
		{
			name: "short CPU note",
			data: (&coretest.Builder{}).
				AddDescriptor(desc).
				AddRawNote(vbox.NoteNameCPU, vbox.NoteTypeCPU, make([]byte, 100)).
				Bytes(),
		},
		{
			name: "short descriptor",
			data: (&coretest.Builder{}).
				AddRawNote(vbox.NoteNameCore, vbox.NoteTypeCore, make([]byte, 20)).
				Bytes(),
		},
		{
			name: "duplicate descriptor",
			data: (&coretest.Builder{}).
				AddDescriptor(desc).
				AddDescriptor(desc).
				Bytes(),
		},
		{
			name: "bad vendor magic",
			data: (&coretest.Builder{}).
				AddDescriptor(desc).
				AddCPU(cpu).
				AddVendor(vbox.VendorCPU{Magic: vbox.VendorMagic + 1}).
				Bytes(),
		},
		{
			name: "too many vendor records",
			data: (&coretest.Builder{}).
				AddDescriptor(desc).
				AddVendor(vendor).
				AddVendor(vendor).
				Bytes(),
		},
		{
			name: "short vendor record",
			data: (&coretest.Builder{}).
				AddDescriptor(desc).
				AddRawNote(vbox.NoteNameCPU, vbox.NoteTypeVendorCPU, make([]byte, 16)).
				Bytes(),
		},
		{
			name: "file size exceeds memory size",
			data: (&coretest.Builder{}).
				AddLoad(0, sample, 4).
				Bytes(),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "core")
			if err := os.WriteFile(path, tc.data, 0644); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
			for _, opts := range []Options{{}, {Mmap: true}} {
				c := New(opts)
				if err := c.Parse(path); !errors.Is(err, ErrFormat) {
					t.Errorf("Parse(mmap=%t) error = %v, want ErrFormat", opts.Mmap, err)
				}
				if c.Usable() {
					t.Errorf("Usable() = true after a failed parse")
				}
			}
		})
	}
}

func TestNotesDispatchByType(t *testing.T) {
	b := &coretest.Builder{}
	path := b.AddRawNote("CORE", 0x1, []byte{1, 2, 3}).
		AddRawNote("OTHER", vbox.NoteTypeCore, func() []byte {
			d := coretest.Descriptor(vbox.FormatVersion, 1)
			buf := make([]byte, vbox.DescriptorSize)
			d.MarshalBytes(buf)
			return buf
		}()).
		AddRawNote("", vbox.NoteTypeCPU, coretest.NewCPUBlock(vbox.FormatVersion).Set64(vbox.OffsetRIP, 0x1234)).
		WriteFile(t)

	c := mustOpen(t, path, Options{})
	cpu, err := c.CPU(0)
	if err != nil {
		t.Fatalf("CPU(0): %v", err)
	}
	if cpu.RIP() != 0x1234 {
		t.Errorf("RIP() = %#x, want 0x1234", cpu.RIP())
	}
}

func TestCPUsAndVendorRecords(t *testing.T) {
	cpu := func(rax uint64) coretest.CPUBlock {
		return coretest.NewCPUBlock(vbox.FormatVersion).Set64(vbox.OffsetRAX, rax)
	}
	b := &coretest.Builder{}
	path := b.AddDescriptor(coretest.Descriptor(vbox.FormatVersion, 3)).
		AddVendor(vbox.VendorCPU{Magic: vbox.VendorMagic, Size: 0x1000, CR8: 1}).
		AddCPU(cpu(10)).
		AddCPU(cpu(20)).
		AddVendor(vbox.VendorCPU{Magic: vbox.VendorMagic, Size: vbox.VendorCPUSize, CR8: 2}).
		AddCPU(cpu(30)).
		WriteFile(t)

	c := mustOpen(t, path, Options{})
	if c.CPUCount() != 3 {
		t.Fatalf("CPUCount() = %d, want 3", c.CPUCount())
	}
	for i, want := range []struct {
		rax uint64
		cr8 uint64
		err error
	}{
		{rax: 10, cr8: 1},
		{rax: 20, cr8: 2},
		{rax: 30, err: vcpu.ErrNoVendorExtension},
	} {
		ctx, err := c.CPU(i)
		if err != nil {
			t.Fatalf("CPU(%d): %v", i, err)
		}
		if got := ctx.GPR(vcpu.RAX); got != want.rax {
			t.Errorf("CPU %d: RAX = %d, want %d", i, got, want.rax)
		}
		cr8, err := ctx.CR8()
		if want.err != nil {
			if !errors.Is(err, want.err) {
				t.Errorf("CPU %d: CR8() error = %v, want %v", i, err, want.err)
			}
			continue
		}
		if err != nil || cr8 != want.cr8 {
			t.Errorf("CPU %d: CR8() = %d, %v, want %d", i, cr8, err, want.cr8)
		}
	}
	if len(c.CPUs()) != 3 {
		t.Errorf("len(CPUs()) = %d, want 3", len(c.CPUs()))
	}
	if _, err := c.CPU(3); !errors.Is(err, ErrNoSuchCPU) {
		t.Errorf("CPU(3) error = %v, want ErrNoSuchCPU", err)
	}
}

func TestFormatVersions(t *testing.T) {
	for _, tc := range []struct {
		version uint32
		wantErr error
	}{
		{version: vbox.FormatVersionCompat, wantErr: vcpu.ErrUnsupported},
		{version: vbox.FormatVersion},
	} {
		b := &coretest.Builder{}
		path := b.AddDescriptor(coretest.Descriptor(tc.version, 1)).
			AddCPU(coretest.NewCPUBlock(tc.version).Set64(0x228, 0x55)).
			WriteFile(t)
		c := mustOpen(t, path, Options{})
		ctx, err := c.CPU(0)
		if err != nil {
			t.Fatalf("CPU(0): %v", err)
		}
		if ctx.Version() != tc.version {
			t.Errorf("Version() = %#x, want %#x", ctx.Version(), tc.version)
		}
		aux, err := ctx.TSCAux()
		if tc.wantErr != nil {
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("version %#x: TSCAux() error = %v, want %v", tc.version, err, tc.wantErr)
			}
			continue
		}
		if err != nil || aux != 0x55 {
			t.Errorf("version %#x: TSCAux() = %#x, %v, want 0x55", tc.version, aux, err)
		}
	}
}

func TestMemoryLayout(t *testing.T) {
	low := pattern(0x1000)
	high := pattern(0x800)
	b := &coretest.Builder{}
	path := b.AddLoad(0, low, 0x1000).
		AddLoad(0x100000, high, 0x2000).
		AddDescriptor(coretest.Descriptor(vbox.FormatVersion, 1)).
		AddCPU(coretest.NewCPUBlock(vbox.FormatVersion)).
		WriteFile(t)

	c := mustOpen(t, path, Options{})
	var got []string
	c.Memory().VisitChunks(func(ch *physmem.Chunk) bool {
		got = append(got, ch.Base().String())
		return true
	})
	if diff := cmp.Diff([]string{physmem.Addr(0).String(), physmem.Addr(0x100000).String()}, got); diff != "" {
		t.Errorf("chunks mismatch (-want +got):\n%s", diff)
	}

	for _, tc := range []struct {
		addr physmem.Addr
		want []byte
	}{
		{0x10, low[0x10:0x20]},
		{0x100400, high[0x400:0x410]},
		// Uninitialized tail of the second chunk.
		{0x100900, make([]byte, 16)},
		// Hole between chunks.
		{0x2000, make([]byte, 16)},
		// Straddles the end of the first chunk.
		{0xff8, make([]byte, 16)},
	} {
		if diff := cmp.Diff(tc.want, read(c, tc.addr, 16)); diff != "" {
			t.Errorf("read at %v mismatch (-want +got):\n%s", tc.addr, diff)
		}
	}
}

func TestMmapMatchesFile(t *testing.T) {
	data := pattern(0x3000)
	b := &coretest.Builder{}
	path := b.AddLoad(0x1000, data[:0x2000], 0x2000).
		AddLoad(0x8000, data[0x2000:], 0x4000).
		AddDescriptor(coretest.Descriptor(vbox.FormatVersion, 1)).
		AddCPU(coretest.NewCPUBlock(vbox.FormatVersion)).
		WriteFile(t)

	file := mustOpen(t, path, Options{})
	mapped := mustOpen(t, path, Options{Mmap: true})
	for addr := physmem.Addr(0); addr < 0xd000; addr += 0x1f0 {
		if diff := cmp.Diff(read(file, addr, 0x40), read(mapped, addr, 0x40)); diff != "" {
			t.Fatalf("read at %v differs (-file +mmap):\n%s", addr, diff)
		}
	}
}

func TestTextRoundTrip(t *testing.T) {
	data := pattern(0x800)
	path := coretest.SimpleCore(data).WriteFile(t)
	c := mustOpen(t, path, Options{})

	text, err := c.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if string(text) != path {
		t.Errorf("MarshalText() = %q, want %q", text, path)
	}

	restored := New(Options{})
	if err := restored.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	defer restored.Close()
	for _, addr := range []physmem.Addr{0, 0x10, 0x7f8, 0x800, 0x1000} {
		if diff := cmp.Diff(read(c, addr, 8), read(restored, addr, 8)); diff != "" {
			t.Errorf("read at %v differs after restore (-orig +restored):\n%s", addr, diff)
		}
	}

	if _, err := New(Options{}).MarshalText(); !errors.Is(err, ErrNotParsed) {
		t.Errorf("MarshalText() on a new core: %v, want ErrNotParsed", err)
	}
}

func TestCheckpoint(t *testing.T) {
	data := pattern(0x100)
	path := coretest.SimpleCore(data).WriteFile(t)
	c := mustOpen(t, path, Options{})

	cp := filepath.Join(t.TempDir(), "core.toml")
	if err := SaveCheckpoint(cp, c); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	restored, err := LoadCheckpoint(cp, Options{Mmap: true})
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	defer restored.Close()
	if diff := cmp.Diff(read(c, 0, 0x100), read(restored, 0, 0x100)); diff != "" {
		t.Errorf("memory differs after restore (-orig +restored):\n%s", diff)
	}
	if restored.Path() != path {
		t.Errorf("restored Path() = %q, want %q", restored.Path(), path)
	}

	// Saving over an existing checkpoint replaces it.
	if err := SaveCheckpoint(cp, c); err != nil {
		t.Fatalf("SaveCheckpoint again: %v", err)
	}

	empty := filepath.Join(t.TempDir(), "empty.toml")
	if err := os.WriteFile(empty, []byte("other = 1\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadCheckpoint(empty, Options{}); err == nil {
		t.Errorf("LoadCheckpoint accepted a checkpoint without a core")
	}
	if _, err := LoadCheckpoint(filepath.Join(t.TempDir(), "missing.toml"), Options{}); err == nil {
		t.Errorf("LoadCheckpoint accepted a missing checkpoint")
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := LoadCheckpoint(cp, Options{}); !errors.Is(err, ErrFileAccess) {
		t.Errorf("LoadCheckpoint after removing the core: %v, want ErrFileAccess", err)
	}
}

func TestClose(t *testing.T) {
	c := mustOpen(t, coretest.SimpleCore(sample).WriteFile(t), Options{})
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.Usable() {
		t.Errorf("Usable() = true after Close")
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestConcurrentReaders(t *testing.T) {
	data := pattern(0x4000)
	c := mustOpen(t, coretest.SimpleCore(data).WriteFile(t), Options{})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				addr := physmem.Addr((g*997 + i*61) % (len(data) - 32))
				if got := read(c, addr, 32); !bytes.Equal(got, data[addr:addr+32]) {
					t.Errorf("read at %v = %x, want %x", addr, got, data[addr:addr+32])
					return
				}
				if _, err := c.CPU(0); err != nil {
					t.Errorf("CPU(0): %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()
}
