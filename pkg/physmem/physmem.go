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

package physmem

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/btree"
	"gvisor.dev/vmcore/pkg/log"
)

// degree is the B-tree degree of the chunk index.
const degree = 16

// readWarning reports backing file failures on paths that cannot return
// errors.
var readWarning = log.BasicRateLimitedLogger(time.Minute)

// entry is a chunk index entry, keyed by base address.
type entry struct {
	base  Addr
	chunk *Chunk
}

func lessEntry(a, b entry) bool {
	return a.base < b.base
}

// AddressSpace is a guest physical address space assembled from Chunks,
// keyed by base address.
//
// Chunks are expected not to overlap; this is not validated. Overlapping
// chunks never cause reads outside of the backing extents, but a lookup
// only consults the chunk with the greatest base at or below the address.
//
// Insert and Clear must not be called concurrently with any other method.
// All read methods may be called concurrently, provided the backing
// io.ReaderAt permits it (*os.File does).
//
// The zero value is an empty address space.
type AddressSpace struct {
	chunks *btree.BTreeG[entry]
}

// NewAddressSpace returns an empty address space.
func NewAddressSpace() *AddressSpace {
	return &AddressSpace{chunks: btree.NewG(degree, lessEntry)}
}

// Insert adds c, replacing any chunk with the same base address. The replaced
// chunk, if any, is returned.
func (s *AddressSpace) Insert(c *Chunk) *Chunk {
	if s.chunks == nil {
		s.chunks = btree.NewG(degree, lessEntry)
	}
	old, replaced := s.chunks.ReplaceOrInsert(entry{base: c.base, chunk: c})
	if !replaced {
		return nil
	}
	return old.chunk
}

// Clear removes all chunks.
func (s *AddressSpace) Clear() {
	if s.chunks != nil {
		s.chunks.Clear(false /* addNodesToFreelist */)
	}
}

// Len returns the number of chunks.
func (s *AddressSpace) Len() int {
	if s.chunks == nil {
		return 0
	}
	return s.chunks.Len()
}

// Find returns the chunk containing a, or nil if a is not backed.
func (s *AddressSpace) Find(a Addr) *Chunk {
	if s.chunks == nil {
		return nil
	}
	var found *Chunk
	s.chunks.DescendLessOrEqual(entry{base: a}, func(e entry) bool {
		found = e.chunk
		return false
	})
	if found == nil || !found.Contains(a) {
		return nil
	}
	return found
}

// ReadBuffer reads len(dst) bytes of guest memory at a.
//
// dst is always zeroed first. It is only filled from the core file when a
// single chunk contains both the first and the last byte of the request; a
// request that touches a hole or spans two chunks reads as all zeros. The
// returned error reports backing file failures only.
func (s *AddressSpace) ReadBuffer(a Addr, dst []byte) error {
	clear(dst)
	if len(dst) == 0 {
		return nil
	}
	last := a.Add(uint64(len(dst) - 1))
	if last < a {
		// Wraps around the address space.
		return nil
	}
	c := s.Find(a)
	if c == nil || !c.Contains(last) {
		return nil
	}
	return c.Read(a, dst)
}

// readByte reads the byte at a. Unbacked memory and backing file failures
// read as zero.
func (s *AddressSpace) readByte(a Addr) byte {
	var b [1]byte
	if err := s.ReadBuffer(a, b[:]); err != nil {
		readWarning.Warningf("physical memory read at %v: %v", a, err)
		return 0
	}
	return b[0]
}

// ReadUint8 returns the byte at a.
func (s *AddressSpace) ReadUint8(a Addr) uint8 {
	return s.readByte(a)
}

// ReadUint16 returns the little-endian 16-bit value at a.
func (s *AddressSpace) ReadUint16(a Addr) uint16 {
	v, _ := s.ReadUint(a, 2)
	return uint16(v)
}

// ReadUint32 returns the little-endian 32-bit value at a.
func (s *AddressSpace) ReadUint32(a Addr) uint32 {
	v, _ := s.ReadUint(a, 4)
	return uint32(v)
}

// ReadUint64 returns the little-endian 64-bit value at a.
func (s *AddressSpace) ReadUint64(a Addr) uint64 {
	v, _ := s.ReadUint(a, 8)
	return v
}

// ReadUint composes size single byte reads at consecutive addresses into a
// little-endian value. Each byte is looked up on its own, so a value that
// straddles two chunks, or a chunk and a hole, is assembled byte by byte.
//
// ok is false only for a size other than 1, 2, 4 or 8. Since single byte
// reads never fail, unbacked bytes contribute zeros rather than an error.
func (s *AddressSpace) ReadUint(a Addr, size int) (v uint64, ok bool) {
	switch size {
	case 1, 2, 4, 8:
	default:
		return 0, false
	}
	for i := 0; i < size; i++ {
		v |= uint64(s.readByte(a.Add(uint64(i)))) << (8 * i)
	}
	return v, true
}

// ReadAt implements io.ReaderAt over guest physical memory, with the
// semantics of ReadBuffer.
func (s *AddressSpace) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative physical address %d", off)
	}
	if err := s.ReadBuffer(Addr(off), p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// VisitChunks calls fn for each chunk in ascending address order, until fn
// returns false.
func (s *AddressSpace) VisitChunks(fn func(c *Chunk) bool) {
	if s.chunks == nil {
		return
	}
	s.chunks.Ascend(func(e entry) bool {
		return fn(e.chunk)
	})
}

// Chunks returns all chunks in ascending address order.
func (s *AddressSpace) Chunks() []*Chunk {
	cs := make([]*Chunk, 0, s.Len())
	s.VisitChunks(func(c *Chunk) bool {
		cs = append(cs, c)
		return true
	})
	return cs
}

// Size returns the total number of bytes of guest memory covered by chunks,
// and the number of those bytes that are initialized from the file.
func (s *AddressSpace) Size() (mem, file uint64) {
	s.VisitChunks(func(c *Chunk) bool {
		mem += c.memSize
		file += c.fileSize
		return true
	})
	return mem, file
}

// IsOutOfRange returns true if err is a Chunk.Read range error.
func IsOutOfRange(err error) bool {
	return errors.Is(err, ErrOutOfRange)
}
