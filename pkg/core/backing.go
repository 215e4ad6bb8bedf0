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
	"fmt"
	"io"
	"os"
)

// backing is the storage behind a parsed core. Chunks read from it with
// positional reads, so it may be shared by concurrent readers.
type backing interface {
	io.ReaderAt
	io.Closer

	// Size returns the size of the core file.
	Size() int64
}

// fileBacking reads from an open file.
type fileBacking struct {
	*os.File
	size int64
}

// Size implements backing.Size.
func (f *fileBacking) Size() int64 {
	return f.size
}

// mappedBacking reads from a read-only mapping of the core file.
type mappedBacking struct {
	data  []byte
	unmap func([]byte) error
}

// ReadAt implements io.ReaderAt.ReadAt.
func (m *mappedBacking) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close implements io.Closer.Close.
func (m *mappedBacking) Close() error {
	data := m.data
	m.data = nil
	if data == nil || m.unmap == nil {
		return nil
	}
	return m.unmap(data)
}

// Size implements backing.Size.
func (m *mappedBacking) Size() int64 {
	return int64(len(m.data))
}

// openBacking opens the core file at path.
func openBacking(path string, opts Options) (backing, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	if !opts.Mmap {
		return &fileBacking{File: f, size: fi.Size()}, nil
	}

	// The mapping outlives the descriptor.
	defer f.Close()
	if fi.Size() == 0 {
		return &mappedBacking{}, nil
	}
	data, unmap, err := mapFile(f, fi.Size())
	if err != nil {
		return nil, fmt.Errorf("mapping %s: %w", path, err)
	}
	return &mappedBacking{data: data, unmap: unmap}, nil
}
