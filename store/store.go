// Package store caches compiled programs keyed by the hash of their source,
// so unchanged programs skip lexing and parsing on later runs.
package store

import (
	"fmt"

	"github.com/chazu/tape/vm"
	"github.com/chazu/tape/vm/dist"
)

// Store is a content-addressed compile cache.
type Store interface {
	// Get returns the program cached for the source hash key. The bool is
	// false on a miss.
	Get(key [32]byte) (*vm.Program, bool, error)

	// Put caches img under its source hash.
	Put(img *dist.Image) error

	// Stats reports the number of cached programs and total cache hits.
	Stats() (Stats, error)

	// Close releases the underlying database.
	Close() error
}

// Stats summarizes cache contents.
type Stats struct {
	Entries int
	Hits    int
}

// Config for store initialization.
type Config struct {
	// Path is the database file path. Parent directories are created.
	Path string
}

// New creates a new Store. MemoryPath returns a MemoryStore; any other
// path opens a SQLite database.
func New(cfg Config) (Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if cfg.Path == MemoryPath {
		return NewMemory(), nil
	}
	return NewSQLite(cfg.Path)
}
