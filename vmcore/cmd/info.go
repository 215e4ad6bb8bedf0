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
	"runtime"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/vmcore/pkg/core"
	"gvisor.dev/vmcore/vmcore/cmd/util"
)

// Info implements subcommands.Command for the "info" command.
type Info struct {
	jobs int
}

// Name implements subcommands.Command.Name.
func (*Info) Name() string {
	return "info"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Info) Synopsis() string {
	return "print a summary of one or more core files"
}

// Usage implements subcommands.Command.Usage.
func (*Info) Usage() string {
	return `info [flags] <core>... - print the core descriptor and the size of each core.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (i *Info) SetFlags(f *flag.FlagSet) {
	f.IntVar(&i.jobs, "j", runtime.GOMAXPROCS(0), "number of cores to open concurrently.")
}

// CoreInfo summarizes a core file.
type CoreInfo struct {
	Path          string `json:"path" yaml:"path"`
	VBoxVersion   string `json:"vbox_version" yaml:"vbox_version"`
	FormatVersion uint32 `json:"format_version" yaml:"format_version"`
	CPUs          int    `json:"cpus" yaml:"cpus"`
	VendorCPUs    int    `json:"vendor_cpus" yaml:"vendor_cpus"`
	Chunks        int    `json:"chunks" yaml:"chunks"`
	MemoryBytes   uint64 `json:"memory_bytes" yaml:"memory_bytes"`
	FileBytes     uint64 `json:"file_bytes" yaml:"file_bytes"`
}

func coreInfo(c *core.Core) CoreInfo {
	desc := c.Descriptor()
	mem, file := c.Memory().Size()
	info := CoreInfo{
		Path:          c.Path(),
		VBoxVersion:   desc.VersionString(),
		FormatVersion: desc.FormatVersion,
		CPUs:          c.CPUCount(),
		Chunks:        c.Memory().Len(),
		MemoryBytes:   mem,
		FileBytes:     file,
	}
	for _, cpu := range c.CPUs() {
		if cpu.HasVendor() {
			info.VendorCPUs++
		}
	}
	return info
}

func printInfo(out io.Writer, infos []CoreInfo) error {
	for _, info := range infos {
		if _, err := fmt.Fprintf(out, "%s: VirtualBox %s, format %#x, %d CPUs (%d with vendor records), %d chunks, %d bytes of memory (%d in file)\n",
			info.Path, info.VBoxVersion, info.FormatVersion, info.CPUs, info.VendorCPUs, info.Chunks, info.MemoryBytes, info.FileBytes); err != nil {
			return err
		}
	}
	return nil
}

// Execute implements subcommands.Command.Execute.
func (i *Info) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf, out := commandArgs(args)

	paths := f.Args()
	infos := make([]CoreInfo, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	if i.jobs > 0 {
		g.SetLimit(i.jobs)
	}
	for idx, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, err := openCore(conf, path)
			if err != nil {
				return err
			}
			defer c.Close()
			infos[idx] = coreInfo(c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return util.Errorf("info: %v", err)
	}

	if err := printResult(out, conf.Format, infos, func(w io.Writer) error { return printInfo(w, infos) }); err != nil {
		return util.Errorf("info: %v", err)
	}
	return subcommands.ExitSuccess
}
