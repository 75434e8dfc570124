// Package manifest handles tape.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/tape/store"
	"github.com/chazu/tape/vm"
)

// FileName is the manifest file looked up next to programs.
const FileName = "tape.toml"

// DefaultCachePath is the cache database path, relative to the manifest
// directory.
const DefaultCachePath = ".tape/cache.db"

// Manifest represents a tape.toml project configuration.
type Manifest struct {
	Tape  TapeConfig  `toml:"tape"`
	Run   RunConfig   `toml:"run"`
	Cache CacheConfig `toml:"cache"`
	Log   LogConfig   `toml:"log"`
	Image ImageConfig `toml:"image"`

	// Dir is the directory containing the tape.toml file (set at load time).
	// Empty for the built-in defaults.
	Dir string `toml:"-"`
}

// TapeConfig configures interpreter memory.
type TapeConfig struct {
	Cells int `toml:"cells"`
}

// RunConfig configures execution limits.
type RunConfig struct {
	MaxSteps uint64 `toml:"max-steps"`
}

// CacheConfig configures the compile cache.
type CacheConfig struct {
	Enabled *bool  `toml:"enabled"`
	Path    string `toml:"path"`
}

// LogConfig configures diagnostic logging. Verbosity follows commonlog:
// 0 logs errors only, each step up adds a level.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// ImageConfig configures compiled image output.
type ImageConfig struct {
	IncludeSource bool `toml:"include-source"`
}

// Default returns the configuration used when no tape.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Tape.Cells <= 0 {
		m.Tape.Cells = vm.DefaultTapeSize
	}
	if m.Cache.Path == "" {
		m.Cache.Path = DefaultCachePath
	}
}

// Load parses a tape.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if m.Tape.Cells < 0 {
		return nil, fmt.Errorf("%s: tape.cells must not be negative, got %d", path, m.Tape.Cells)
	}
	if m.Log.Verbosity < 0 {
		return nil, fmt.Errorf("%s: log.verbosity must not be negative, got %d", path, m.Log.Verbosity)
	}

	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a tape.toml file, then loads
// and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// CacheEnabled reports whether the compile cache should be used. It is off
// unless a manifest or the command line turns it on.
func (m *Manifest) CacheEnabled() bool {
	return m.Cache.Enabled != nil && *m.Cache.Enabled
}

// CacheFilePath returns the cache database path. Relative paths are
// resolved against the manifest directory, or against the working
// directory when running on defaults. store.MemoryPath is returned as is.
func (m *Manifest) CacheFilePath() string {
	if m.Cache.Path == store.MemoryPath || filepath.IsAbs(m.Cache.Path) {
		return m.Cache.Path
	}
	if m.Dir != "" {
		return filepath.Join(m.Dir, m.Cache.Path)
	}
	if abs, err := filepath.Abs(m.Cache.Path); err == nil {
		return abs
	}
	return m.Cache.Path
}

// LogFilePath returns the absolute log file path, or "" for stderr.
func (m *Manifest) LogFilePath() string {
	if m.Log.File == "" || filepath.IsAbs(m.Log.File) || m.Dir == "" {
		return m.Log.File
	}
	return filepath.Join(m.Dir, m.Log.File)
}
