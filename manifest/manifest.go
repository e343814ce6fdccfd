// Package manifest handles zeta.toml host configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest file name looked up in the host directory.
const FileName = "zeta.toml"

// Manifest is the zeta.toml host configuration.
type Manifest struct {
	VM       VMConfig    `toml:"vm"`
	Packages Packages    `toml:"packages"`
	Cache    CacheConfig `toml:"cache"`

	// Dir is the directory containing the zeta.toml file (set at load
	// time).
	Dir string `toml:"-"`
}

// VMConfig overrides the machine sizes.
type VMConfig struct {
	// Operand stack size in words; 0 keeps the engine default
	StackSize int `toml:"stack-size"`

	// Code heap size in bytes; 0 keeps the engine default
	CodeHeapSize int `toml:"code-heap-size"`
}

// Packages configures package resolution.
type Packages struct {
	Dirs []string `toml:"dirs"`
}

// CacheConfig configures the on-disk package cache.
type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Default returns the configuration used when no manifest file exists.
func Default(dir string) *Manifest {
	return &Manifest{
		Packages: Packages{Dirs: []string{"packages"}},
		Cache:    CacheConfig{Path: ".zeta-cache.db"},
		Dir:      dir,
	}
}

// Load parses a zeta.toml file from the given directory. A missing
// file yields the defaults.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(dir), nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default(dir)
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	m.Dir = dir
	return m, nil
}

// SearchDirs returns the package search directories resolved against
// the manifest directory.
func (m *Manifest) SearchDirs() []string {
	dirs := make([]string, 0, len(m.Packages.Dirs))
	for _, d := range m.Packages.Dirs {
		if !filepath.IsAbs(d) {
			d = filepath.Join(m.Dir, d)
		}
		dirs = append(dirs, d)
	}
	return dirs
}

// CachePath returns the cache database path resolved against the
// manifest directory, or "" when the cache is disabled.
func (m *Manifest) CachePath() string {
	if !m.Cache.Enabled {
		return ""
	}
	p := m.Cache.Path
	if !filepath.IsAbs(p) {
		p = filepath.Join(m.Dir, p)
	}
	return p
}
