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

package vcpu

import (
	"fmt"

	"gvisor.dev/vmcore/pkg/abi/vbox"
)

// Register names a general purpose register. Registers are stored in this
// order, 8 bytes apart, from the start of the block.
type Register int

// General purpose registers.
const (
	RAX Register = iota
	RBX
	RCX
	RDX
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	RIP
	RSP
	RBP
	RFLAGS

	// NumRegisters is the number of general purpose registers.
	NumRegisters
)

var registerNames = [NumRegisters]string{
	"rax", "rbx", "rcx", "rdx", "rsi", "rdi", "r8", "r9", "r10", "r11",
	"r12", "r13", "r14", "r15", "rip", "rsp", "rbp", "rflags",
}

// String implements fmt.Stringer.
func (r Register) String() string {
	if r < 0 || r >= NumRegisters {
		return fmt.Sprintf("Register(%d)", int(r))
	}
	return registerNames[r]
}

// GPR returns general purpose register r.
func (c *Context) GPR(r Register) uint64 {
	if r < 0 || r >= NumRegisters {
		return 0
	}
	return c.u64(vbox.OffsetRAX + 8*int(r))
}

// RIP returns the instruction pointer.
func (c *Context) RIP() uint64 { return c.u64(vbox.OffsetRIP) }

// RSP returns the stack pointer.
func (c *Context) RSP() uint64 { return c.u64(vbox.OffsetRSP) }

// RFLAGS returns the flags register.
func (c *Context) RFLAGS() Flags { return Flags(c.u64(vbox.OffsetRFLAGS)) }

// CR0 returns control register 0.
func (c *Context) CR0() uint64 { return c.u64(vbox.OffsetCR0) }

// CR2 returns the page fault linear address.
func (c *Context) CR2() uint64 { return c.u64(vbox.OffsetCR2) }

// CR3 returns the page table base.
func (c *Context) CR3() uint64 { return c.u64(vbox.OffsetCR3) }

// CR4 returns control register 4.
func (c *Context) CR4() uint64 { return c.u64(vbox.OffsetCR4) }

// CR8 returns the task priority register, which is only recorded by the
// vendor extension.
func (c *Context) CR8() (uint64, error) {
	if c.vendor == nil {
		return 0, fmt.Errorf("cr8: %w", ErrNoVendorExtension)
	}
	return c.vendor.CR8, nil
}

// PagingEnabled returns CR0.PG.
func (c *Context) PagingEnabled() bool { return c.CR0()&(1<<31) != 0 }

// PAEEnabled returns true if paging is enabled and CR4.PAE is set.
func (c *Context) PAEEnabled() bool { return c.PagingEnabled() && c.CR4()&(1<<5) != 0 }

// PSEEnabled returns CR4.PSE.
func (c *Context) PSEEnabled() bool { return c.CR4()&(1<<4) != 0 }

// SMEPEnabled returns CR4.SMEP.
func (c *Context) SMEPEnabled() bool { return c.CR4()&(1<<20) != 0 }

// PSE36Enabled returns bit 17 of RDX, where the producer leaves the CPUID
// leaf 1 feature bits.
func (c *Context) PSE36Enabled() bool { return c.GPR(RDX)&(1<<17) != 0 }

// NXEnabled returns EFER.NXE.
func (c *Context) NXEnabled() bool { return c.EFER()&(1<<11) != 0 }

// SegmentRegister names a segment or system segment register.
type SegmentRegister int

// Segment registers.
const (
	CS SegmentRegister = iota
	DS
	ES
	FS
	GS
	SS
	LDTR
	TR

	// NumSegmentRegisters is the number of segment registers.
	NumSegmentRegisters
)

var segments = [NumSegmentRegisters]struct {
	name   string
	offset int
}{
	CS:   {"cs", vbox.OffsetCS},
	DS:   {"ds", vbox.OffsetDS},
	ES:   {"es", vbox.OffsetES},
	FS:   {"fs", vbox.OffsetFS},
	GS:   {"gs", vbox.OffsetGS},
	SS:   {"ss", vbox.OffsetSS},
	LDTR: {"ldtr", vbox.OffsetLDTR},
	TR:   {"tr", vbox.OffsetTR},
}

// String implements fmt.Stringer.
func (s SegmentRegister) String() string {
	if s < 0 || s >= NumSegmentRegisters {
		return fmt.Sprintf("SegmentRegister(%d)", int(s))
	}
	return segments[s].name
}

// Segment returns segment register s.
func (c *Context) Segment(s SegmentRegister) vbox.Selector {
	var sel vbox.Selector
	if s < 0 || s >= NumSegmentRegisters {
		return sel
	}
	off := segments[s].offset
	sel.UnmarshalBytes(c.regs[off : off+vbox.SelectorSize])
	return sel
}

func (c *Context) xdtr(off int) vbox.XDTR {
	var x vbox.XDTR
	x.UnmarshalBytes(c.regs[off : off+vbox.XDTRSize])
	return x
}

// GDTR returns the global descriptor table register.
func (c *Context) GDTR() vbox.XDTR { return c.xdtr(vbox.OffsetGDTR) }

// IDTR returns the interrupt descriptor table register.
func (c *Context) IDTR() vbox.XDTR { return c.xdtr(vbox.OffsetIDTR) }

// DR returns debug register i, or 0 if there is no such register.
func (c *Context) DR(i int) uint64 {
	if i < 0 || i >= vbox.NumDebugRegisters {
		return 0
	}
	return c.u64(vbox.OffsetDR + 8*i)
}

// XCR returns extended control register i, or 0 if there is no such
// register.
func (c *Context) XCR(i int) uint64 {
	if i < 0 || i >= vbox.NumXCRs {
		return 0
	}
	return c.u64(c.layout().XCROffset + 8*i)
}

// SysenterCS returns the SYSENTER_CS MSR.
func (c *Context) SysenterCS() uint64 { return c.u64(vbox.OffsetSysenterCS) }

// SysenterEIP returns the SYSENTER_EIP MSR.
func (c *Context) SysenterEIP() uint64 { return c.u64(vbox.OffsetSysenterEIP) }

// SysenterESP returns the SYSENTER_ESP MSR.
func (c *Context) SysenterESP() uint64 { return c.u64(vbox.OffsetSysenterESP) }

// The selectors below are not recorded. They follow from SYSENTER_CS under
// the GDT layout the producing hypervisor installs: ring 0 code, ring 0
// stack, then ring 3 code and ring 3 stack, 8 bytes apart. They do not hold
// for guests that lay out their GDT differently.

// SysenterCSR0 returns the ring 0 code selector.
func (c *Context) SysenterCSR0() uint16 { return uint16(c.SysenterCS() & 0xff) }

// SysenterSSR0 returns the ring 0 stack selector.
func (c *Context) SysenterSSR0() uint16 { return c.SysenterCSR0() + 8 }

// CSR3 returns the ring 3 code selector.
func (c *Context) CSR3() uint16 { return (c.SysenterCSR0() + 0x10) | 3 }

// SSR3 returns the ring 3 stack selector.
func (c *Context) SSR3() uint16 { return (c.SysenterSSR0() + 0x10) | 3 }

// DSR3 returns the ring 3 data selector, which is the stack selector.
func (c *Context) DSR3() uint16 { return c.SSR3() }

// EFER returns the extended feature enable register.
func (c *Context) EFER() uint64 { return c.u64(vbox.OffsetMSREFER) }

// STAR returns the STAR MSR.
func (c *Context) STAR() uint64 { return c.u64(vbox.OffsetMSRSTAR) }

// PAT returns the page attribute table MSR.
func (c *Context) PAT() uint64 { return c.u64(vbox.OffsetMSRPAT) }

// LSTAR returns the LSTAR MSR.
func (c *Context) LSTAR() uint64 { return c.u64(vbox.OffsetMSRLSTAR) }

// CSTAR returns the CSTAR MSR.
func (c *Context) CSTAR() uint64 { return c.u64(vbox.OffsetMSRCSTAR) }

// SFMASK returns the SFMASK MSR.
func (c *Context) SFMASK() uint64 { return c.u64(vbox.OffsetMSRSFMASK) }

// KernelGSBase returns the KERNEL_GS_BASE MSR.
func (c *Context) KernelGSBase() uint64 { return c.u64(vbox.OffsetMSRKernelGSBase) }

// ApicBase returns the APIC_BASE MSR.
func (c *Context) ApicBase() uint64 { return c.u64(vbox.OffsetMSRApicBase) }

// TSCAux returns the TSC_AUX MSR, which older format versions do not record.
func (c *Context) TSCAux() (uint64, error) {
	l := c.layout()
	if !l.HasTSCAux() {
		return 0, fmt.Errorf("tsc_aux in format version %#x: %w", c.version, ErrUnsupported)
	}
	return c.u64(l.TSCAuxOffset), nil
}
