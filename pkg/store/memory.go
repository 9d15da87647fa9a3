package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements QueryStore, VersionStore and BlobIndex in
// memory, for tests and ephemeral setups. All operations are guarded
// by a single mutex, which gives AppendVersion the same atomicity as
// the SQLite transaction.
type MemoryStore struct {
	mu       sync.Mutex
	queries  map[string]*Query
	versions map[string]*Version
	byQuery  map[string][]string // insertion-ordered version ids per query
	blobs    map[string]*BlobInfo
}

// Compile-time interface checks
var (
	_ QueryStore   = (*MemoryStore)(nil)
	_ VersionStore = (*MemoryStore)(nil)
	_ BlobIndex    = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory metadata store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		queries:  make(map[string]*Query),
		versions: make(map[string]*Version),
		byQuery:  make(map[string][]string),
		blobs:    make(map[string]*BlobInfo),
	}
}

// CreateQuery inserts a new query record.
func (m *MemoryStore) CreateQuery(ctx context.Context, query *Query) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if query.ID == "" {
		query.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if query.CreatedAt.IsZero() {
		query.CreatedAt = now
	}
	if query.UpdatedAt.IsZero() {
		query.UpdatedAt = now
	}

	if _, ok := m.queries[query.ID]; ok {
		return fmt.Errorf("failed to create query: id %s already exists", query.ID)
	}

	cp := *query
	m.queries[query.ID] = &cp
	return nil
}

// GetQuery retrieves a live query by id.
func (m *MemoryStore) GetQuery(ctx context.Context, id string) (*Query, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queries[id]
	if !ok || q.IsDeleted {
		return nil, nil
	}
	cp := *q
	return &cp, nil
}

// UpdateHeadVersion atomically advances the head pointer.
func (m *MemoryStore) UpdateHeadVersion(ctx context.Context, queryID, newHeadID string, expectedHeadID *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.casHeadLocked(queryID, newHeadID, expectedHeadID), nil
}

// casHeadLocked performs the conditional head swap. Caller holds mu.
func (m *MemoryStore) casHeadLocked(queryID, newHeadID string, expectedHeadID *string) bool {
	q, ok := m.queries[queryID]
	if !ok || q.IsDeleted {
		return false
	}
	if !headEqual(q.HeadVersionID, expectedHeadID) {
		return false
	}
	head := newHeadID
	q.HeadVersionID = &head
	q.UpdatedAt = time.Now().UTC()
	return true
}

func headEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// SoftDeleteQuery marks a query as deleted.
func (m *MemoryStore) SoftDeleteQuery(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queries[id]
	if !ok || q.IsDeleted {
		return false, nil
	}
	now := time.Now().UTC()
	q.IsDeleted = true
	q.DeletedAt = &now
	q.UpdatedAt = now
	return true, nil
}

// QueryCount returns the total number of live queries.
func (m *MemoryStore) QueryCount(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for _, q := range m.queries {
		if !q.IsDeleted {
			count++
		}
	}
	return count, nil
}

// AppendVersion inserts a version and advances the head atomically.
func (m *MemoryStore) AppendVersion(ctx context.Context, version *Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if version.ID == "" {
		version.ID = uuid.New().String()
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	q, ok := m.queries[version.QueryID]
	if !ok || q.IsDeleted {
		return fmt.Errorf("query %s: %w", version.QueryID, ErrQueryNotFound)
	}
	if _, ok := m.versions[version.ID]; ok {
		return fmt.Errorf("version %s: %w", version.ID, ErrDuplicateVersionID)
	}

	version.ParentVersionID = nil
	if q.HeadVersionID != nil {
		parent := *q.HeadVersionID
		version.ParentVersionID = &parent
	}

	if !m.casHeadLocked(version.QueryID, version.ID, version.ParentVersionID) {
		// Cannot happen while holding the lock, but keeps the memory
		// and SQLite implementations behaviorally symmetric.
		return ErrHeadConflict
	}

	cp := *version
	m.versions[version.ID] = &cp
	m.byQuery[version.QueryID] = append(m.byQuery[version.QueryID], version.ID)
	return nil
}

// GetVersion retrieves a version by its id.
func (m *MemoryStore) GetVersion(ctx context.Context, id string) (*Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.versions[id]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

// ListVersionsByQuery returns a query's history, newest first.
func (m *MemoryStore) ListVersionsByQuery(ctx context.Context, queryID string) ([]*Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.byQuery[queryID]
	versions := make([]*Version, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		cp := *m.versions[ids[i]]
		versions = append(versions, &cp)
	}
	return versions, nil
}

// HasVersionWithDigest reports whether the query has a version with
// the given content digest.
func (m *MemoryStore) HasVersionWithDigest(ctx context.Context, queryID, digest string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.byQuery[queryID] {
		if m.versions[id].BlobHash == digest {
			return true, nil
		}
	}
	return false, nil
}

// GetHeadVersionID reads the query's current head pointer.
func (m *MemoryStore) GetHeadVersionID(ctx context.Context, queryID string) (*string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queries[queryID]
	if !ok || q.IsDeleted {
		return nil, fmt.Errorf("query %s: %w", queryID, ErrQueryNotFound)
	}
	if q.HeadVersionID == nil {
		return nil, nil
	}
	head := *q.HeadVersionID
	return &head, nil
}

// VersionCount returns the total number of versions in the ledger.
func (m *MemoryStore) VersionCount(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.versions)), nil
}

// RecordBlob records blob metadata, ignoring already-known digests.
func (m *MemoryStore) RecordBlob(ctx context.Context, digest string, byteSize int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[digest]; ok {
		return nil
	}
	m.blobs[digest] = &BlobInfo{
		Hash:      digest,
		ByteSize:  byteSize,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

// BlobExists reports whether a blob digest has been recorded.
func (m *MemoryStore) BlobExists(ctx context.Context, digest string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[digest]
	return ok, nil
}

// GetBlobInfo retrieves blob metadata by digest.
func (m *MemoryStore) GetBlobInfo(ctx context.Context, digest string) (*BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.blobs[digest]
	if !ok {
		return nil, nil
	}
	cp := *info
	return &cp, nil
}

// BlobCount returns the total number of recorded blobs.
func (m *MemoryStore) BlobCount(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.blobs)), nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
