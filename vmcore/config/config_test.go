// Copyright 2020 The gVisor Authors.
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

package config

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/vmcore/pkg/log"
)

func newFlagSet(t *testing.T, args ...string) *flag.FlagSet {
	t.Helper()
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Parse(args); err != nil {
		t.Fatalf("Parse(%v): %v", args, err)
	}
	return testFlags
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vmcore.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t))
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{LogFormat: "text", Format: FormatText}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("default config mismatch (-want +got):\n%s", diff)
	}

	// All defaults doesn't require setting flags.
	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
}

func TestFromFlags(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t, "--debug", "--mmap", "--format=yaml", "--log=/tmp/vmcore.log"))
	if err != nil {
		t.Fatal(err)
	}
	if want := true; c.Debug != want {
		t.Errorf("Debug=%v, want: %v", c.Debug, want)
	}
	if want := true; c.Mmap != want {
		t.Errorf("Mmap=%v, want: %v", c.Mmap, want)
	}
	if want := FormatYAML; c.Format != want {
		t.Errorf("Format=%v, want: %v", c.Format, want)
	}
	if want := "/tmp/vmcore.log"; c.LogFilename != want {
		t.Errorf("LogFilename=%v, want: %v", c.LogFilename, want)
	}
}

func TestToFlagsFromFlags(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t, "--debug", "--format=json", "--log-format=text"))
	if err != nil {
		t.Fatal(err)
	}

	flags := c.ToFlags()
	t.Logf("Flags: %s", flags)
	fm := map[string]string{}
	for _, f := range flags {
		kv := strings.Split(f, "=")
		fm[kv[0]] = kv[1]
	}
	// log-format matches its default and is omitted.
	want := map[string]string{
		"--debug":  "true",
		"--format": "json",
	}
	if diff := cmp.Diff(want, fm); diff != "" {
		t.Errorf("flags mismatch (-want +got):\n%s", diff)
	}
}

func TestInvalidValues(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	testFlags.SetOutput(&strings.Builder{})
	RegisterFlags(testFlags)
	if err := testFlags.Parse([]string{"--format=xml"}); err == nil {
		t.Errorf("--format=xml accepted")
	}

	if _, err := NewFromFlags(newFlagSet(t, "--log-format=json-k8s")); err == nil {
		t.Errorf("--log-format=json-k8s accepted")
	}
}

func TestConfigFile(t *testing.T) {
	path := writeConfig(t, `
debug = true
mmap = true
format = "json"
log-format = "json"
`)

	c, err := NewFromFlags(newFlagSet(t, "--config="+path))
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{LogFormat: "json", Debug: true, Mmap: true, Format: FormatJSON}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}

	// Explicit flags win over the file, even when set to their defaults.
	c, err = NewFromFlags(newFlagSet(t, "--config="+path, "--format=text", "--mmap=false"))
	if err != nil {
		t.Fatal(err)
	}
	want = &Config{LogFormat: "json", Debug: true, Mmap: false, Format: FormatText}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigFileErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
	}{
		{name: "unknown key", contents: "platform = \"kvm\"\n"},
		{name: "bad format", contents: "format = \"xml\"\n"},
		{name: "bad log format", contents: "log-format = \"csv\"\n"},
		{name: "syntax", contents: "debug = \n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.contents)
			if _, err := NewFromFlags(newFlagSet(t, "--config="+path)); err == nil {
				t.Errorf("NewFromFlags accepted %q", tc.contents)
			}
		})
	}

	missing := filepath.Join(t.TempDir(), "missing.toml")
	if _, err := NewFromFlags(newFlagSet(t, "--config="+missing)); err == nil {
		t.Errorf("NewFromFlags accepted a missing config file")
	}
}

func TestLog(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t, "--mmap", "--format=yaml"))
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	prev := log.Log().Emitter
	log.SetTarget(&log.Writer{Next: &buf})
	defer log.SetTarget(prev)

	c.Log()
	if got, want := buf.String(), "Config: --mmap=true --format=yaml\n"; got != want {
		t.Errorf("Log() wrote %q, want %q", got, want)
	}
}
