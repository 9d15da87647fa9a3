package vault

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dan-solli/sqlvault/pkg/blob"
	"github.com/dan-solli/sqlvault/pkg/hashing"
	"github.com/dan-solli/sqlvault/pkg/metrics"
	"github.com/dan-solli/sqlvault/pkg/store"
)

// newTestVault creates a Vault over in-memory stores, returning the
// blob store so tests can probe physical write counts.
func newTestVault(t *testing.T) (*Vault, *blob.MemoryStore) {
	t.Helper()

	blobs := blob.NewMemoryStore()
	v, err := NewWithStores(Config{}, store.NewMemoryStore(), blobs)
	if err != nil {
		t.Fatalf("NewWithStores failed: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	return v, blobs
}

func TestCreateQuery(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	query, err := v.CreateQuery(ctx, "orders")
	if err != nil {
		t.Fatalf("CreateQuery failed: %v", err)
	}
	if query.ID == "" {
		t.Error("Expected generated query id")
	}
	if query.Name != "orders" {
		t.Errorf("Expected name 'orders', got '%s'", query.Name)
	}
	if query.HeadVersionID != nil {
		t.Errorf("Expected nil head for new query, got %v", *query.HeadVersionID)
	}

	got, err := v.GetQuery(ctx, query.ID)
	if err != nil {
		t.Fatalf("GetQuery failed: %v", err)
	}
	if got == nil || got.Name != "orders" {
		t.Fatalf("Expected to fetch query back, got %+v", got)
	}
}

func TestCreateQuery_EmptyName(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	if _, err := v.CreateQuery(ctx, ""); err != ErrEmptyName {
		t.Errorf("Expected ErrEmptyName, got %v", err)
	}
}

func TestGetQuery_Missing(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	got, err := v.GetQuery(ctx, "no-such-id")
	if err != nil {
		t.Fatalf("GetQuery failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for missing query, got %+v", got)
	}
}

func TestCreateQueryWithVersion_CreateAndFetch(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	query, version, err := v.CreateQueryWithVersion(ctx, "orders", "SELECT 1;", "init")
	if err != nil {
		t.Fatalf("CreateQueryWithVersion failed: %v", err)
	}
	if query.HeadVersionID == nil || *query.HeadVersionID != version.ID {
		t.Errorf("Expected head %s, got %v", version.ID, query.HeadVersionID)
	}
	if version.ParentVersionID != nil {
		t.Errorf("Expected nil parent for initial version, got %v", *version.ParentVersionID)
	}
	if version.Note != "init" {
		t.Errorf("Expected note 'init', got '%s'", version.Note)
	}

	content, err := v.GetVersionContent(ctx, version.ID)
	if err != nil {
		t.Fatalf("GetVersionContent failed: %v", err)
	}
	if content != "SELECT 1;" {
		t.Errorf("Expected 'SELECT 1;', got '%s'", content)
	}

	// The stored record reflects the head advance too.
	stored, err := v.GetQuery(ctx, query.ID)
	if err != nil {
		t.Fatalf("GetQuery failed: %v", err)
	}
	if stored.HeadVersionID == nil || *stored.HeadVersionID != version.ID {
		t.Errorf("Expected stored head %s, got %v", version.ID, stored.HeadVersionID)
	}
}

func TestCreateQueryWithVersion_Validation(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	if _, _, err := v.CreateQueryWithVersion(ctx, "", "SELECT 1;", ""); err != ErrEmptyName {
		t.Errorf("Expected ErrEmptyName, got %v", err)
	}
	if _, _, err := v.CreateQueryWithVersion(ctx, "orders", "", ""); err != ErrEmptyContent {
		t.Errorf("Expected ErrEmptyContent, got %v", err)
	}

	// Validation fails before anything is written.
	stats, err := v.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Queries != 0 || stats.Versions != 0 {
		t.Errorf("Expected empty stores after failed validation, got %+v", stats)
	}
}

func TestCreateVersion_SecondVersion(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	query, first, err := v.CreateQueryWithVersion(ctx, "orders", "SELECT 1;", "init")
	if err != nil {
		t.Fatalf("CreateQueryWithVersion failed: %v", err)
	}

	second, err := v.CreateVersion(ctx, query.ID, "SELECT 2;", "")
	if err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}
	if second.ParentVersionID == nil || *second.ParentVersionID != first.ID {
		t.Errorf("Expected parent %s, got %v", first.ID, second.ParentVersionID)
	}

	versions, err := v.ListVersions(ctx, query.ID)
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("Expected 2 versions, got %d", len(versions))
	}
	if versions[0].ID != second.ID || versions[1].ID != first.ID {
		t.Errorf("Expected newest first, got [%s, %s]", versions[0].ID, versions[1].ID)
	}

	stored, err := v.GetQuery(ctx, query.ID)
	if err != nil {
		t.Fatalf("GetQuery failed: %v", err)
	}
	if stored.HeadVersionID == nil || *stored.HeadVersionID != second.ID {
		t.Errorf("Expected head %s, got %v", second.ID, stored.HeadVersionID)
	}
}

func TestCreateVersion_IdenticalContentTwice(t *testing.T) {
	ctx := context.Background()
	v, blobs := newTestVault(t)

	query, first, err := v.CreateQueryWithVersion(ctx, "orders", "SELECT 1;", "")
	if err != nil {
		t.Fatalf("CreateQueryWithVersion failed: %v", err)
	}

	second, err := v.CreateVersion(ctx, query.ID, "SELECT 1;", "")
	if err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}

	// Two distinct version records, one stored blob.
	if first.ID == second.ID {
		t.Error("Expected distinct version ids")
	}
	if first.BlobHash != second.BlobHash {
		t.Errorf("Expected same digest, got %s and %s", first.BlobHash, second.BlobHash)
	}
	if n := blobs.WriteCount(); n != 1 {
		t.Errorf("Expected 1 physical blob write, got %d", n)
	}

	stats, err := v.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Versions != 2 || stats.Blobs != 1 {
		t.Errorf("Expected 2 versions over 1 blob, got %+v", stats)
	}
}

func TestCreateVersion_SameContentAcrossQueries(t *testing.T) {
	ctx := context.Background()
	v, blobs := newTestVault(t)

	_, _, err := v.CreateQueryWithVersion(ctx, "orders", "SELECT 1;", "")
	if err != nil {
		t.Fatalf("CreateQueryWithVersion failed: %v", err)
	}
	_, _, err = v.CreateQueryWithVersion(ctx, "invoices", "SELECT 1;", "")
	if err != nil {
		t.Fatalf("CreateQueryWithVersion failed: %v", err)
	}

	if n := blobs.WriteCount(); n != 1 {
		t.Errorf("Expected 1 physical blob write across queries, got %d", n)
	}
}

func TestCreateVersion_EmptyContent(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	query, err := v.CreateQuery(ctx, "orders")
	if err != nil {
		t.Fatalf("CreateQuery failed: %v", err)
	}
	if _, err := v.CreateVersion(ctx, query.ID, "", ""); err != ErrEmptyContent {
		t.Errorf("Expected ErrEmptyContent, got %v", err)
	}
}

func TestCreateVersion_MissingQuery(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	_, err := v.CreateVersion(ctx, "no-such-id", "SELECT 1;", "")
	if !errors.Is(err, ErrQueryNotFound) {
		t.Errorf("Expected ErrQueryNotFound, got %v", err)
	}
}

func TestSoftDeleteQuery(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	query, _, err := v.CreateQueryWithVersion(ctx, "orders", "SELECT 1;", "")
	if err != nil {
		t.Fatalf("CreateQueryWithVersion failed: %v", err)
	}

	if err := v.SoftDeleteQuery(ctx, query.ID); err != nil {
		t.Fatalf("SoftDeleteQuery failed: %v", err)
	}

	// Hidden from reads
	got, err := v.GetQuery(ctx, query.ID)
	if err != nil {
		t.Fatalf("GetQuery failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for soft-deleted query, got %+v", got)
	}

	// Rejects new versions
	if _, err := v.CreateVersion(ctx, query.ID, "SELECT 2;", ""); !errors.Is(err, ErrQueryNotFound) {
		t.Errorf("Expected ErrQueryNotFound for deleted query, got %v", err)
	}

	// Second delete reports not found
	if err := v.SoftDeleteQuery(ctx, query.ID); !errors.Is(err, ErrQueryNotFound) {
		t.Errorf("Expected ErrQueryNotFound on repeat delete, got %v", err)
	}
}

// probeBlobStore counts reads so tests can assert the content store is
// not contacted on a metadata miss.
type probeBlobStore struct {
	*blob.MemoryStore
	gets int64
}

func (p *probeBlobStore) Get(ctx context.Context, digest string) ([]byte, error) {
	atomic.AddInt64(&p.gets, 1)
	return p.MemoryStore.Get(ctx, digest)
}

func TestGetVersionContent_MissingVersion(t *testing.T) {
	ctx := context.Background()
	probe := &probeBlobStore{MemoryStore: blob.NewMemoryStore()}
	v, err := NewWithStores(Config{}, store.NewMemoryStore(), probe)
	if err != nil {
		t.Fatalf("NewWithStores failed: %v", err)
	}
	defer v.Close()

	if _, err := v.GetVersionContent(ctx, "no-such-id"); !errors.Is(err, ErrVersionNotFound) {
		t.Errorf("Expected ErrVersionNotFound, got %v", err)
	}
	if got, err := v.GetVersion(ctx, "no-such-id"); err != nil || got != nil {
		t.Errorf("Expected (nil, nil) for missing version, got %+v, %v", got, err)
	}
	if n := atomic.LoadInt64(&probe.gets); n != 0 {
		t.Errorf("Expected no blob reads on metadata miss, got %d", n)
	}
}

func TestCreateVersion_ConcurrentSameQuery(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	query, err := v.CreateQuery(ctx, "orders")
	if err != nil {
		t.Fatalf("CreateQuery failed: %v", err)
	}

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := v.CreateVersion(ctx, query.ID, fmt.Sprintf("SELECT %d;", n), "")
			if err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Concurrent CreateVersion failed: %v", err)
	}

	// Walk the parent chain from the head: every version must be
	// reachable exactly once.
	stored, err := v.GetQuery(ctx, query.ID)
	if err != nil {
		t.Fatalf("GetQuery failed: %v", err)
	}
	if stored.HeadVersionID == nil {
		t.Fatal("Expected non-nil head after concurrent appends")
	}

	seen := make(map[string]bool)
	cursor := stored.HeadVersionID
	for cursor != nil {
		if seen[*cursor] {
			t.Fatalf("Cycle in parent chain at %s", *cursor)
		}
		seen[*cursor] = true
		version, err := v.GetVersion(ctx, *cursor)
		if err != nil {
			t.Fatalf("GetVersion failed: %v", err)
		}
		if version == nil {
			t.Fatalf("Head chain references missing version %s", *cursor)
		}
		cursor = version.ParentVersionID
	}
	if len(seen) != writers {
		t.Errorf("Expected %d versions in chain, got %d", writers, len(seen))
	}
}

// flakyMeta fails AppendVersion with a head conflict a fixed number of
// times before delegating.
type flakyMeta struct {
	*store.MemoryStore
	conflicts int32
}

func (f *flakyMeta) AppendVersion(ctx context.Context, version *store.Version) error {
	if atomic.AddInt32(&f.conflicts, -1) >= 0 {
		return store.ErrHeadConflict
	}
	return f.MemoryStore.AppendVersion(ctx, version)
}

func TestCreateVersion_RetriesOnHeadConflict(t *testing.T) {
	ctx := context.Background()
	meta := &flakyMeta{MemoryStore: store.NewMemoryStore(), conflicts: 2}
	v, err := NewWithStores(Config{MaxHeadRetries: 5}, meta, blob.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewWithStores failed: %v", err)
	}
	defer v.Close()

	query, err := v.CreateQuery(ctx, "orders")
	if err != nil {
		t.Fatalf("CreateQuery failed: %v", err)
	}

	version, err := v.CreateVersion(ctx, query.ID, "SELECT 1;", "")
	if err != nil {
		t.Fatalf("Expected retry to absorb conflicts, got %v", err)
	}
	if version == nil || version.ID == "" {
		t.Fatal("Expected a created version after retries")
	}
}

func TestCreateVersion_RetriesExhausted(t *testing.T) {
	ctx := context.Background()
	meta := &flakyMeta{MemoryStore: store.NewMemoryStore(), conflicts: 100}
	v, err := NewWithStores(Config{MaxHeadRetries: 3}, meta, blob.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewWithStores failed: %v", err)
	}
	defer v.Close()

	query, err := v.CreateQuery(ctx, "orders")
	if err != nil {
		t.Fatalf("CreateQuery failed: %v", err)
	}

	_, err = v.CreateVersion(ctx, query.ID, "SELECT 1;", "")
	if !errors.Is(err, ErrHeadConflict) {
		t.Errorf("Expected wrapped ErrHeadConflict after exhausted retries, got %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "3 attempts") {
		t.Errorf("Expected attempt count in error, got %v", err)
	}
}

func TestHashContent(t *testing.T) {
	v, _ := newTestVault(t)

	digest := v.HashContent("SELECT 1;")
	if digest != hashing.Hash("SELECT 1;") {
		t.Error("Expected HashContent to match the digest function")
	}
	if !hashing.Valid(digest) {
		t.Errorf("Expected valid digest, got '%s'", digest)
	}
}

func TestCreateVersion_RecordsMetrics(t *testing.T) {
	ctx := context.Background()
	collector := metrics.NewCollector()
	v, err := NewWithStores(Config{}, store.NewMemoryStore(), blob.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewWithStores failed: %v", err)
	}
	defer v.Close()
	v.WithMetrics(collector)

	query, _, err := v.CreateQueryWithVersion(ctx, "orders", "SELECT 1;", "")
	if err != nil {
		t.Fatalf("CreateQueryWithVersion failed: %v", err)
	}
	if _, err := v.CreateVersion(ctx, query.ID, "SELECT 1;", ""); err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}

	families, err := collector.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	found := make(map[string]bool)
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, name := range []string{
		"sqlvault_operations_total",
		"sqlvault_operation_duration_seconds",
		"sqlvault_blob_dedup_total",
	} {
		if !found[name] {
			t.Errorf("Expected metric family %s after operations", name)
		}
	}
}

func TestVault_SQLiteAndBadgerBacked(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	v, err := New(Config{
		DBPath:  filepath.Join(dir, "vault.db"),
		BlobDir: filepath.Join(dir, "blobs"),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer v.Close()

	query, first, err := v.CreateQueryWithVersion(ctx, "orders", "SELECT 1;", "init")
	if err != nil {
		t.Fatalf("CreateQueryWithVersion failed: %v", err)
	}
	second, err := v.CreateVersion(ctx, query.ID, "SELECT 2;", "")
	if err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}
	if second.ParentVersionID == nil || *second.ParentVersionID != first.ID {
		t.Errorf("Expected parent %s, got %v", first.ID, second.ParentVersionID)
	}

	content, err := v.GetVersionContent(ctx, second.ID)
	if err != nil {
		t.Fatalf("GetVersionContent failed: %v", err)
	}
	if content != "SELECT 2;" {
		t.Errorf("Expected 'SELECT 2;', got '%s'", content)
	}
}
