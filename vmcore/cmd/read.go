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
	"encoding/hex"
	"flag"
	"io"

	"github.com/google/subcommands"
	"gvisor.dev/vmcore/pkg/physmem"
	"gvisor.dev/vmcore/vmcore/cmd/util"
)

// maxReadLen bounds the length of a single read.
const maxReadLen = 16 << 20

// Read implements subcommands.Command for the "read" command.
type Read struct {
	addr   uint64
	length uint64
}

// Name implements subcommands.Command.Name.
func (*Read) Name() string {
	return "read"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Read) Synopsis() string {
	return "dump guest physical memory from a core file"
}

// Usage implements subcommands.Command.Usage.
func (*Read) Usage() string {
	return `read -addr <address> -len <length> <core> - hexdump physical memory.

Memory not backed by the core reads as zero. A range that is not contained in
a single chunk reads as zero in its entirety.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Read) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&r.addr, "addr", 0, "guest physical address to read from.")
	f.Uint64Var(&r.length, "len", 256, "number of bytes to read.")
}

// MemoryDump is the result of a read.
type MemoryDump struct {
	Addr uint64 `json:"addr" yaml:"addr"`
	Len  uint64 `json:"len" yaml:"len"`
	Data string `json:"data" yaml:"data"`
}

// Execute implements subcommands.Command.Execute.
func (r *Read) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if r.length > maxReadLen {
		return util.Errorf("read: length %d exceeds %d", r.length, maxReadLen)
	}
	conf, out := commandArgs(args)

	c, err := openCore(conf, f.Arg(0))
	if err != nil {
		return util.Errorf("read: %v", err)
	}
	defer c.Close()

	buf := make([]byte, r.length)
	if err := c.Memory().ReadBuffer(physmem.Addr(r.addr), buf); err != nil {
		return util.Errorf("read: %v", err)
	}

	dump := MemoryDump{Addr: r.addr, Len: r.length, Data: hex.EncodeToString(buf)}
	if err := printResult(out, conf.Format, dump, func(w io.Writer) error { return hexdump(w, r.addr, buf) }); err != nil {
		return util.Errorf("read: %v", err)
	}
	return subcommands.ExitSuccess
}

// hexdump writes buf in the format of "hexdump -C", labelled with guest
// physical addresses.
func hexdump(w io.Writer, addr uint64, buf []byte) error {
	p := &errWriter{w: w}
	for off := 0; off < len(buf); off += 16 {
		line := buf[off:min(off+16, len(buf))]
		p.printf("%016x ", addr+uint64(off))
		for i := 0; i < 16; i++ {
			if i == 8 {
				p.printf(" ")
			}
			if i < len(line) {
				p.printf(" %02x", line[i])
			} else {
				p.printf("   ")
			}
		}
		ascii := make([]byte, len(line))
		for i, b := range line {
			if b < 0x20 || b > 0x7e {
				b = '.'
			}
			ascii[i] = b
		}
		p.printf("  |%s|\n", ascii)
	}
	return p.err
}
