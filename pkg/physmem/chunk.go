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

// Package physmem provides a sparse guest physical address space backed by
// extents of a core file.
//
// Unbacked physical memory reads as zero, as it does on hardware for pages no
// device claims. Reads never fail because of the address alone; only
// malformed requests against a single Chunk and I/O errors from the backing
// file are reported.
package physmem

import (
	"errors"
	"fmt"
	"io"
)

// ErrOutOfRange is returned by Chunk.Read for requests outside the chunk.
var ErrOutOfRange = errors.New("read outside of memory chunk")

// Addr is a guest physical address.
type Addr uint64

// Add returns a+n.
func (a Addr) Add(n uint64) Addr {
	return a + Addr(n)
}

// String implements fmt.Stringer.
func (a Addr) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}

// Chunk is a contiguous region of guest physical memory backed by an extent
// of the core file. The first FileSize bytes come from the file; the
// remaining MemSize-FileSize bytes are uninitialized and read as zero.
//
// Chunks are immutable.
type Chunk struct {
	r          io.ReaderAt
	fileOffset uint64
	fileSize   uint64
	base       Addr
	memSize    uint64
}

// NewChunk returns a chunk mapping [base, base+memSize) onto
// [fileOffset, fileOffset+fileSize) of r.
func NewChunk(r io.ReaderAt, fileOffset, fileSize uint64, base Addr, memSize uint64) (*Chunk, error) {
	if fileSize > memSize {
		return nil, fmt.Errorf("chunk at %v: file size %#x exceeds memory size %#x", base, fileSize, memSize)
	}
	if memSize != 0 && base.Add(memSize-1) < base {
		return nil, fmt.Errorf("chunk at %v: memory size %#x overflows the address space", base, memSize)
	}
	return &Chunk{
		r:          r,
		fileOffset: fileOffset,
		fileSize:   fileSize,
		base:       base,
		memSize:    memSize,
	}, nil
}

// FileOffset returns the offset of the backing extent in the core file.
func (c *Chunk) FileOffset() uint64 { return c.fileOffset }

// FileSize returns the number of initialized bytes.
func (c *Chunk) FileSize() uint64 { return c.fileSize }

// Base returns the first physical address of the chunk.
func (c *Chunk) Base() Addr { return c.base }

// MemSize returns the size of the chunk in guest memory.
func (c *Chunk) MemSize() uint64 { return c.memSize }

// End returns the physical address just beyond the chunk. It is 0 for a
// chunk that ends at the top of the address space; see Last.
func (c *Chunk) End() Addr { return c.base.Add(c.memSize) }

// Last returns the last physical address of a non-empty chunk.
func (c *Chunk) Last() Addr { return c.base.Add(c.memSize - 1) }

// Contains returns true if a lies within the chunk.
func (c *Chunk) Contains(a Addr) bool {
	return a >= c.base && uint64(a-c.base) < c.memSize
}

// String implements fmt.Stringer.
func (c *Chunk) String() string {
	if c.memSize == 0 {
		return fmt.Sprintf("[%v, %v) file=%#x+%#x", c.base, c.base, c.fileOffset, c.fileSize)
	}
	return fmt.Sprintf("[%v, %v] file=%#x+%#x", c.base, c.Last(), c.fileOffset, c.fileSize)
}

// Read reads len(dst) bytes of guest memory at a into dst.
//
// Only the initialized part of the request is written: bytes of dst that
// correspond to the uninitialized tail of the chunk are left untouched, so
// callers that need zeros must clear dst first.
func (c *Chunk) Read(a Addr, dst []byte) error {
	size := uint64(len(dst))
	if !c.Contains(a) || uint64(a-c.base)+size > c.memSize {
		return fmt.Errorf("%w: [%v, %v) is not within %v", ErrOutOfRange, a, a.Add(size), c)
	}

	off := uint64(a - c.base)
	if off >= c.fileSize {
		// Entirely uninitialized.
		return nil
	}
	if off+size > c.fileSize {
		size = c.fileSize - off
	}

	n, err := c.r.ReadAt(dst[:size], int64(c.fileOffset+off))
	if n == int(size) {
		// ReadAt may report io.EOF alongside a full read at the end of the
		// file.
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("reading %#x bytes at file offset %#x: %w", size, c.fileOffset+off, err)
}
