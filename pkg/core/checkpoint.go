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

package core

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/gofrs/flock"
	"gvisor.dev/vmcore/pkg/log"
)

// Checkpoint is the on-disk form of a persisted Core.
type Checkpoint struct {
	// Core is the absolute path of the core file.
	Core string `toml:"core"`
}

// lockPath returns the path of the lock file guarding the checkpoint at path.
func lockPath(path string) string {
	return path + ".lock"
}

// SaveCheckpoint persists c to the checkpoint file at path. The file is
// replaced atomically while holding an exclusive lock.
func SaveCheckpoint(path string, c *Core) error {
	text, err := c.MarshalText()
	if err != nil {
		return err
	}
	corePath, err := filepath.Abs(string(text))
	if err != nil {
		return fmt.Errorf("resolving %q: %w", text, err)
	}

	lock := flock.New(lockPath(path))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking checkpoint %q: %w", path, err)
	}
	defer lock.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := toml.NewEncoder(tmp).Encode(Checkpoint{Core: corePath}); err != nil {
		tmp.Close()
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	log.Debugf("Saved checkpoint %q for core %q", path, corePath)
	return nil
}

// LoadCheckpoint restores the Core persisted at path by parsing it again.
func LoadCheckpoint(path string, opts Options) (*Core, error) {
	lock := flock.New(lockPath(path))
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("locking checkpoint %q: %w", path, err)
	}
	defer lock.Unlock()

	var cp Checkpoint
	md, err := toml.DecodeFile(path, &cp)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		log.Warningf("Checkpoint %q: ignoring unknown keys %v", path, undecoded)
	}
	if cp.Core == "" {
		return nil, fmt.Errorf("checkpoint %q names no core", path)
	}

	c := New(opts)
	if err := c.UnmarshalText([]byte(cp.Core)); err != nil {
		return nil, err
	}
	return c, nil
}
