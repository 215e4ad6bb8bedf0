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

// Package cmd holds implementations of the vmcore commands.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
	"gvisor.dev/vmcore/pkg/core"
	"gvisor.dev/vmcore/vmcore/config"
)

// commandArgs unpacks the arguments passed to subcommands.Execute: the
// configuration and, optionally, the writer that results are printed to.
func commandArgs(args []any) (*config.Config, io.Writer) {
	conf := args[0].(*config.Config)
	out := io.Writer(os.Stdout)
	if len(args) > 1 {
		out = args[1].(io.Writer)
	}
	return conf, out
}

// openCore opens the core at path as configured.
func openCore(conf *config.Config, path string) (*core.Core, error) {
	return core.Open(path, coreOptions(conf))
}

func coreOptions(conf *config.Config) core.Options {
	return core.Options{Mmap: conf.Mmap}
}

// printResult writes v to out in the configured format. text renders the
// text format.
func printResult(out io.Writer, format config.OutputFormat, v any, text func(io.Writer) error) error {
	switch format {
	case config.FormatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case config.FormatYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case config.FormatText:
		return text(out)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
