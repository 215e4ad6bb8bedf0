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

	"github.com/google/subcommands"
	"gvisor.dev/vmcore/pkg/core"
	"gvisor.dev/vmcore/vmcore/cmd/util"
)

// Checkpoint implements subcommands.Command for the "checkpoint" command.
type Checkpoint struct {
	output string
}

// Name implements subcommands.Command.Name.
func (*Checkpoint) Name() string {
	return "checkpoint"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Checkpoint) Synopsis() string {
	return "record a parsed core in a checkpoint file"
}

// Usage implements subcommands.Command.Usage.
func (*Checkpoint) Usage() string {
	return `checkpoint -o <checkpoint> <core> - parse a core and save a checkpoint.

The checkpoint records the path of the core; "restore" parses it again.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Checkpoint) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.output, "o", "", "path of the checkpoint file to write.")
}

// Execute implements subcommands.Command.Execute.
func (c *Checkpoint) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 || c.output == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf, out := commandArgs(args)

	vc, err := openCore(conf, f.Arg(0))
	if err != nil {
		return util.Errorf("checkpoint: %v", err)
	}
	defer vc.Close()

	if err := core.SaveCheckpoint(c.output, vc); err != nil {
		return util.Errorf("checkpoint: %v", err)
	}
	fmt.Fprintf(out, "Checkpoint of %s written to %s\n", vc.Path(), c.output)
	return subcommands.ExitSuccess
}

// Restore implements subcommands.Command for the "restore" command.
type Restore struct{}

// Name implements subcommands.Command.Name.
func (*Restore) Name() string {
	return "restore"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Restore) Synopsis() string {
	return "parse the core recorded in a checkpoint file"
}

// Usage implements subcommands.Command.Usage.
func (*Restore) Usage() string {
	return `restore <checkpoint> - parse the core named by a checkpoint and print its summary.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Restore) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Restore) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf, out := commandArgs(args)

	vc, err := core.LoadCheckpoint(f.Arg(0), coreOptions(conf))
	if err != nil {
		return util.Errorf("restore: %v", err)
	}
	defer vc.Close()

	infos := []CoreInfo{coreInfo(vc)}
	if err := printResult(out, conf.Format, infos, func(w io.Writer) error { return printInfo(w, infos) }); err != nil {
		return util.Errorf("restore: %v", err)
	}
	return subcommands.ExitSuccess
}
