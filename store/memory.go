package store

import (
	"sync"

	"github.com/chazu/tape/vm"
	"github.com/chazu/tape/vm/dist"
)

// MemoryPath selects the in-memory backend in Config.
const MemoryPath = ":memory:"

type memoryEntry struct {
	img  *dist.Image
	hits int
}

// MemoryStore implements Store with a map. Nothing outlives the process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[[32]byte]*memoryEntry
}

// NewMemory creates a new in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{entries: make(map[[32]byte]*memoryEntry)}
}

func (m *MemoryStore) Get(key [32]byte) (*vm.Program, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	e.hits++
	return e.img.Program(), true, nil
}

func (m *MemoryStore) Put(img *dist.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[img.SourceHash] = &memoryEntry{img: img}
	return nil
}

func (m *MemoryStore) Stats() (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{Entries: len(m.entries)}
	for _, e := range m.entries {
		st.Hits += e.hits
	}
	return st, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
