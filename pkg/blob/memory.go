package blob

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory Store implementation for tests and
// ephemeral setups. It additionally counts physical writes so tests
// can assert that deduplicated content is written at most once.
type MemoryStore struct {
	mu     sync.RWMutex
	blobs  map[string][]byte
	writes int64
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Put stores content under digest if absent.
func (m *MemoryStore) Put(ctx context.Context, digest string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[digest]; ok {
		return nil
	}

	cp := make([]byte, len(content))
	copy(cp, content)
	m.blobs[digest] = cp
	m.writes++
	return nil
}

// Get returns the content stored under digest.
func (m *MemoryStore) Get(ctx context.Context, digest string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	content, ok := m.blobs[digest]
	if !ok {
		return nil, fmt.Errorf("digest %s: %w", digest, ErrNotFound)
	}

	cp := make([]byte, len(content))
	copy(cp, content)
	return cp, nil
}

// Exists reports whether a blob is stored under digest.
func (m *MemoryStore) Exists(ctx context.Context, digest string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[digest]
	return ok, nil
}

// WriteCount returns the number of physical writes performed.
// A deduplicated Put does not increment the count.
func (m *MemoryStore) WriteCount() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)
