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
	"gvisor.dev/vmcore/pkg/abi/vbox"
)

// Registers is a decoded copy of a Context, for display and serialization.
type Registers struct {
	Layout string `json:"layout" yaml:"layout"`

	// General holds general purpose registers by name.
	General map[string]uint64 `json:"general" yaml:"general"`
	Flags   string            `json:"flags" yaml:"flags"`

	CR0 uint64 `json:"cr0" yaml:"cr0"`
	CR2 uint64 `json:"cr2" yaml:"cr2"`
	CR3 uint64 `json:"cr3" yaml:"cr3"`
	CR4 uint64 `json:"cr4" yaml:"cr4"`

	// CR8 is nil if there is no vendor extension record.
	CR8 *uint64 `json:"cr8,omitempty" yaml:"cr8,omitempty"`

	Segments map[string]vbox.Selector `json:"segments" yaml:"segments"`
	GDTR     vbox.XDTR                `json:"gdtr" yaml:"gdtr"`
	IDTR     vbox.XDTR                `json:"idtr" yaml:"idtr"`

	DR  [vbox.NumDebugRegisters]uint64 `json:"dr" yaml:"dr"`
	XCR [vbox.NumXCRs]uint64           `json:"xcr" yaml:"xcr"`

	Sysenter Sysenter `json:"sysenter" yaml:"sysenter"`

	// MSRs holds model specific registers by name. TSC_AUX is omitted
	// when the layout does not record it.
	MSRs map[string]uint64 `json:"msrs" yaml:"msrs"`

	Paging Paging `json:"paging" yaml:"paging"`
	FPU    FPU    `json:"fpu" yaml:"fpu"`
}

// Sysenter holds the SYSENTER MSRs and the selectors derived from them.
type Sysenter struct {
	CS   uint64 `json:"cs" yaml:"cs"`
	EIP  uint64 `json:"eip" yaml:"eip"`
	ESP  uint64 `json:"esp" yaml:"esp"`
	CSR0 uint16 `json:"cs_r0" yaml:"cs_r0"`
	SSR0 uint16 `json:"ss_r0" yaml:"ss_r0"`
	CSR3 uint16 `json:"cs_r3" yaml:"cs_r3"`
	SSR3 uint16 `json:"ss_r3" yaml:"ss_r3"`
	DSR3 uint16 `json:"ds_r3" yaml:"ds_r3"`
}

// Paging holds the paging mode predicates.
type Paging struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	PAE     bool `json:"pae" yaml:"pae"`
	PSE     bool `json:"pse" yaml:"pse"`
	PSE36   bool `json:"pse36" yaml:"pse36"`
	SMEP    bool `json:"smep" yaml:"smep"`
	NX      bool `json:"nx" yaml:"nx"`
}

// FPU holds the decoded x87 and SSE state.
type FPU struct {
	FCW   uint16 `json:"fcw" yaml:"fcw"`
	FSW   uint16 `json:"fsw" yaml:"fsw"`
	FTW   uint16 `json:"ftw" yaml:"ftw"`
	FOP   uint16 `json:"fop" yaml:"fop"`
	IP    uint32 `json:"ip" yaml:"ip"`
	CS    uint16 `json:"cs" yaml:"cs"`
	DP    uint32 `json:"dp" yaml:"dp"`
	DS    uint16 `json:"ds" yaml:"ds"`
	MXCSR uint32 `json:"mxcsr" yaml:"mxcsr"`

	// ST holds ST(0) through ST(7), formatted.
	ST [8]string `json:"st" yaml:"st"`
}

// Snapshot decodes every field of c.
func (c *Context) Snapshot() Registers {
	r := Registers{
		Layout:   c.Layout(),
		General:  make(map[string]uint64, NumRegisters),
		Flags:    c.RFLAGS().String(),
		CR0:      c.CR0(),
		CR2:      c.CR2(),
		CR3:      c.CR3(),
		CR4:      c.CR4(),
		Segments: make(map[string]vbox.Selector, NumSegmentRegisters),
		GDTR:     c.GDTR(),
		IDTR:     c.IDTR(),
		Sysenter: Sysenter{
			CS:   c.SysenterCS(),
			EIP:  c.SysenterEIP(),
			ESP:  c.SysenterESP(),
			CSR0: c.SysenterCSR0(),
			SSR0: c.SysenterSSR0(),
			CSR3: c.CSR3(),
			SSR3: c.SSR3(),
			DSR3: c.DSR3(),
		},
		MSRs: map[string]uint64{
			"efer":           c.EFER(),
			"star":           c.STAR(),
			"pat":            c.PAT(),
			"lstar":          c.LSTAR(),
			"cstar":          c.CSTAR(),
			"sfmask":         c.SFMASK(),
			"kernel_gs_base": c.KernelGSBase(),
			"apic_base":      c.ApicBase(),
		},
		Paging: Paging{
			Enabled: c.PagingEnabled(),
			PAE:     c.PAEEnabled(),
			PSE:     c.PSEEnabled(),
			PSE36:   c.PSE36Enabled(),
			SMEP:    c.SMEPEnabled(),
			NX:      c.NXEnabled(),
		},
	}
	for reg := Register(0); reg < NumRegisters; reg++ {
		r.General[reg.String()] = c.GPR(reg)
	}
	if cr8, err := c.CR8(); err == nil {
		r.CR8 = &cr8
	}
	for s := SegmentRegister(0); s < NumSegmentRegisters; s++ {
		r.Segments[s.String()] = c.Segment(s)
	}
	for i := range r.DR {
		r.DR[i] = c.DR(i)
	}
	for i := range r.XCR {
		r.XCR[i] = c.XCR(i)
	}
	if aux, err := c.TSCAux(); err == nil {
		r.MSRs["tsc_aux"] = aux
	}

	f := c.FPU()
	r.FPU = FPU{
		FCW:   f.ControlWord(),
		FSW:   uint16(f.StatusWord()),
		FTW:   f.TagWord(),
		FOP:   f.Opcode(),
		IP:    f.IP(),
		CS:    f.CS(),
		DP:    f.DP(),
		DS:    f.DS(),
		MXCSR: uint32(f.MXCSR()),
	}
	for i := range r.FPU.ST {
		r.FPU.ST[i] = f.Register(i).String()
	}
	return r
}
