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

// Package config provides basic infrastructure to set configuration settings
// for vmcore. Each setting is a global flag that may also be set from a TOML
// configuration file. Flags given on the command line take precedence over
// the file.
package config

import (
	"fmt"
	"strings"

	"gvisor.dev/vmcore/pkg/log"
)

// Config holds configuration that is shared by all commands.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name and a matching toml tag.
//  3. Register the new flag in flags.go, in RegisterFlags.
//  4. Add any necessary validation into validate().
type Config struct {
	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log" toml:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format" toml:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug"`

	// DebugLog is the path to log debug information to, if not empty. It may
	// contain %COMMAND% and %TIMESTAMP%.
	DebugLog string `flag:"debug-log" toml:"debug-log"`

	// Mmap maps core files into memory instead of reading them.
	Mmap bool `flag:"mmap" toml:"mmap"`

	// Format is the output format of commands.
	Format OutputFormat `flag:"format" toml:"format"`
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	if _, err := parseOutputFormat(string(c.Format)); err != nil {
		return err
	}
	return nil
}

// Log logs the settings that differ from their defaults, in flag form.
func (c *Config) Log() {
	log.Infof("Config: %s", strings.Join(c.ToFlags(), " "))
}

// OutputFormat is the format commands print results in.
type OutputFormat string

// Output formats.
const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
	FormatYAML OutputFormat = "yaml"
)

func parseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("invalid output format %q, must be 'text', 'json' or 'yaml'", s)
	}
}

func outputFormatPtr(f OutputFormat) *OutputFormat {
	return &f
}

// Set implements flag.Value.
func (f *OutputFormat) Set(v string) error {
	parsed, err := parseOutputFormat(v)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Get implements flag.Getter.
func (f *OutputFormat) Get() any {
	return *f
}

// String implements flag.Value.
func (f OutputFormat) String() string {
	return string(f)
}

// UnmarshalText implements encoding.TextUnmarshaler, which validates values
// read from configuration files.
func (f *OutputFormat) UnmarshalText(text []byte) error {
	return f.Set(string(text))
}
