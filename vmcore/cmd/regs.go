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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"

	"github.com/google/subcommands"
	"gvisor.dev/vmcore/pkg/vcpu"
	"gvisor.dev/vmcore/vmcore/cmd/util"
)

// Regs implements subcommands.Command for the "regs" command.
type Regs struct {
	cpu int
}

// Name implements subcommands.Command.Name.
func (*Regs) Name() string {
	return "regs"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Regs) Synopsis() string {
	return "print the saved registers of virtual CPUs"
}

// Usage implements subcommands.Command.Usage.
func (*Regs) Usage() string {
	return `regs [flags] <core> - print decoded registers.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Regs) SetFlags(f *flag.FlagSet) {
	f.IntVar(&r.cpu, "cpu", -1, "CPU to print; all CPUs if negative.")
}

// CPURegisters is the register state of one CPU.
type CPURegisters struct {
	CPU       int            `json:"cpu" yaml:"cpu"`
	Registers vcpu.Registers `json:"registers" yaml:"registers"`
}

// Execute implements subcommands.Command.Execute.
func (r *Regs) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf, out := commandArgs(args)

	c, err := openCore(conf, f.Arg(0))
	if err != nil {
		return util.Errorf("regs: %v", err)
	}
	defer c.Close()

	var regs []CPURegisters
	if r.cpu >= 0 {
		ctx, err := c.CPU(r.cpu)
		if err != nil {
			return util.Errorf("regs: %v", err)
		}
		regs = append(regs, CPURegisters{CPU: r.cpu, Registers: ctx.Snapshot()})
	} else {
		for i, ctx := range c.CPUs() {
			regs = append(regs, CPURegisters{CPU: i, Registers: ctx.Snapshot()})
		}
	}

	text := func(w io.Writer) error {
		for _, cr := range regs {
			if err := printRegisters(w, cr); err != nil {
				return err
			}
		}
		return nil
	}
	if err := printResult(out, conf.Format, regs, text); err != nil {
		return util.Errorf("regs: %v", err)
	}
	return subcommands.ExitSuccess
}

// printRegisters prints registers in the style of a debugger.
func printRegisters(w io.Writer, cr CPURegisters) error {
	r := &cr.Registers
	p := &errWriter{w: w}
	p.printf("CPU %d (%s layout)\n", cr.CPU, r.Layout)
	for reg := vcpu.Register(0); reg < vcpu.NumRegisters; reg++ {
		p.printf("  %-8s %#018x\n", reg, r.General[reg.String()])
	}
	p.printf("  %-8s %s\n", "flags", r.Flags)
	p.printf("  %-8s %#018x\n  %-8s %#018x\n  %-8s %#018x\n  %-8s %#018x\n", "cr0", r.CR0, "cr2", r.CR2, "cr3", r.CR3, "cr4", r.CR4)
	if r.CR8 != nil {
		p.printf("  %-8s %#018x\n", "cr8", *r.CR8)
	}
	for s := vcpu.SegmentRegister(0); s < vcpu.NumSegmentRegisters; s++ {
		p.printf("  %-8s %v\n", s, r.Segments[s.String()])
	}
	p.printf("  %-8s addr=%#x limit=%#x\n", "gdtr", r.GDTR.Addr, r.GDTR.Limit)
	p.printf("  %-8s addr=%#x limit=%#x\n", "idtr", r.IDTR.Addr, r.IDTR.Limit)
	for i, dr := range r.DR {
		p.printf("  dr%-6d %#018x\n", i, dr)
	}
	for i, xcr := range r.XCR {
		p.printf("  xcr%-5d %#018x\n", i, xcr)
	}
	p.printf("  sysenter cs=%#x eip=%#x esp=%#x (r0 cs=%#x ss=%#x, r3 cs=%#x ss=%#x ds=%#x)\n",
		r.Sysenter.CS, r.Sysenter.EIP, r.Sysenter.ESP, r.Sysenter.CSR0, r.Sysenter.SSR0, r.Sysenter.CSR3, r.Sysenter.SSR3, r.Sysenter.DSR3)

	names := make([]string, 0, len(r.MSRs))
	for name := range r.MSRs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p.printf("  %-14s %#018x\n", name, r.MSRs[name])
	}
	p.printf("  paging=%t pae=%t pse=%t pse36=%t smep=%t nx=%t\n",
		r.Paging.Enabled, r.Paging.PAE, r.Paging.PSE, r.Paging.PSE36, r.Paging.SMEP, r.Paging.NX)
	p.printf("  fcw=%#06x fsw=%#06x ftw=%#06x fop=%#06x fip=%#x:%#x fdp=%#x:%#x mxcsr=%#x\n",
		r.FPU.FCW, r.FPU.FSW, r.FPU.FTW, r.FPU.FOP, r.FPU.CS, r.FPU.IP, r.FPU.DS, r.FPU.DP, r.FPU.MXCSR)
	for i, st := range r.FPU.ST {
		p.printf("  st%d %s\n", i, st)
	}
	return p.err
}

// errWriter remembers the first write error.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
