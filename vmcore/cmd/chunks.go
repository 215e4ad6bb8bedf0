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
	"text/tabwriter"

	"github.com/google/subcommands"
	"gvisor.dev/vmcore/pkg/physmem"
	"gvisor.dev/vmcore/vmcore/cmd/util"
)

// Chunks implements subcommands.Command for the "chunks" command.
type Chunks struct{}

// Name implements subcommands.Command.Name.
func (*Chunks) Name() string {
	return "chunks"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Chunks) Synopsis() string {
	return "list the physical memory chunks of a core file"
}

// Usage implements subcommands.Command.Usage.
func (*Chunks) Usage() string {
	return `chunks <core> - list chunks in physical address order.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Chunks) SetFlags(*flag.FlagSet) {}

// ChunkInfo describes one chunk.
type ChunkInfo struct {
	Base       uint64 `json:"base" yaml:"base"`
	Last       uint64 `json:"last" yaml:"last"`
	MemSize    uint64 `json:"mem_size" yaml:"mem_size"`
	FileSize   uint64 `json:"file_size" yaml:"file_size"`
	FileOffset uint64 `json:"file_offset" yaml:"file_offset"`
}

// Execute implements subcommands.Command.Execute.
func (*Chunks) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf, out := commandArgs(args)

	c, err := openCore(conf, f.Arg(0))
	if err != nil {
		return util.Errorf("chunks: %v", err)
	}
	defer c.Close()

	var chunks []ChunkInfo
	c.Memory().VisitChunks(func(ch *physmem.Chunk) bool {
		chunks = append(chunks, ChunkInfo{
			Base:       uint64(ch.Base()),
			Last:       uint64(ch.Last()),
			MemSize:    ch.MemSize(),
			FileSize:   ch.FileSize(),
			FileOffset: ch.FileOffset(),
		})
		return true
	})

	text := func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
		fmt.Fprint(tw, "BASE\tLAST\tMEMSIZE\tFILESIZE\tOFFSET\n")
		for _, ch := range chunks {
			fmt.Fprintf(tw, "%#x\t%#x\t%#x\t%#x\t%#x\n", ch.Base, ch.Last, ch.MemSize, ch.FileSize, ch.FileOffset)
		}
		return tw.Flush()
	}
	if err := printResult(out, conf.Format, chunks, text); err != nil {
		return util.Errorf("chunks: %v", err)
	}
	return subcommands.ExitSuccess
}
