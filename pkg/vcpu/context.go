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

// Package vcpu decodes the register state of one virtual CPU as saved in a
// core file.
//
// A Context keeps the register block exactly as it appears on disk and
// decodes fields on demand. Contexts are filled once while a core is parsed
// and are read-only afterwards, so any number of goroutines may read them.
package vcpu

import (
	"errors"
	"fmt"

	"gvisor.dev/vmcore/pkg/abi/vbox"
	"gvisor.dev/vmcore/pkg/vcpu/fpu"
)

var (
	// ErrUnsupported is returned for fields that the register block does not
	// record.
	ErrUnsupported = errors.New("field not recorded by this register block")

	// ErrNoVendorExtension is returned for fields that live in the vendor
	// extension record when no such record was attached.
	ErrNoVendorExtension = fmt.Errorf("no vendor extension record: %w", ErrUnsupported)
)

// Context is the saved state of one virtual CPU.
type Context struct {
	// version is the core format version the block was written with. It
	// selects the layout of fields past the shared prefix.
	version uint32

	// regs is the raw register block.
	regs []byte

	// vendor is the optional vendor extension record.
	vendor *vbox.VendorCPU
}

// NewContext returns a Context with an all-zero register block of the current
// format version.
func NewContext() *Context {
	return &Context{
		version: vbox.FormatVersion,
		regs:    make([]byte, vbox.MaxCPUSize),
	}
}

// SetVersion sets the format version. The caller must keep it consistent
// with the register block.
func (c *Context) SetVersion(version uint32) {
	c.version = version
}

// Version returns the format version.
func (c *Context) Version() uint32 {
	return c.version
}

// SetRegisters copies raw into the register block. raw must hold at least
// the block size of the current version.
func (c *Context) SetRegisters(raw []byte) error {
	l := c.layout()
	if len(raw) < l.Size {
		return fmt.Errorf("register block is %d bytes, %s layout needs %d", len(raw), l.Name, l.Size)
	}
	c.regs = append(c.regs[:0], raw[:l.Size]...)
	return nil
}

// Raw returns the register block. It must not be modified.
func (c *Context) Raw() []byte {
	return c.regs
}

// SetVendor attaches a vendor extension record.
func (c *Context) SetVendor(v vbox.VendorCPU) {
	c.vendor = &v
}

// HasVendor returns true if a vendor extension record is attached.
func (c *Context) HasVendor() bool {
	return c.vendor != nil
}

// layout returns the block layout of c's version. This is the only place the
// version is consulted for field placement.
func (c *Context) layout() *vbox.CPULayout {
	if c.version <= vbox.FormatVersionCompat {
		return &vbox.CompatLayout
	}
	return &vbox.CurrentLayout
}

// Layout returns the name of the block layout in use.
func (c *Context) Layout() string {
	return c.layout().Name
}

// FPU returns the extended state area.
func (c *Context) FPU() fpu.State {
	l := c.layout()
	return fpu.State(c.regs[l.ExtOffset : l.ExtOffset+vbox.XSaveAreaSize])
}

func (c *Context) u64(off int) uint64 {
	return vbox.ByteOrder.Uint64(c.regs[off : off+8])
}
