// Package vault provides the versioning workflow for content-addressed
// SQL query storage: deduplicated blobs keyed by content digest, an
// append-only version ledger and a per-query head pointer.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dan-solli/sqlvault/pkg/blob"
	"github.com/dan-solli/sqlvault/pkg/hashing"
	"github.com/dan-solli/sqlvault/pkg/metrics"
	"github.com/dan-solli/sqlvault/pkg/store"
	"github.com/dan-solli/sqlvault/pkg/trace"
)

// Config holds configuration for the Vault
type Config struct {
	// SQLite database path for query/version metadata (":memory:" for ephemeral)
	DBPath string

	// Directory for the Badger blob store; empty selects an in-memory store
	BlobDir string

	// Maximum append attempts when concurrent writers race on a query's
	// head pointer (default: 5)
	MaxHeadRetries int
}

// MetadataStore is the combined ledger interface the Vault drives.
// Both store.SQLiteStore and store.MemoryStore satisfy it.
type MetadataStore interface {
	store.QueryStore
	store.VersionStore
	store.BlobIndex
	Close() error
}

// Vault is the main entry point for the versioning system
type Vault struct {
	config  Config
	meta    MetadataStore
	blobs   blob.Store
	logger  *slog.Logger
	metrics metrics.Collector
	tracer  trace.Exporter
}

// New creates a new Vault instance backed by SQLite metadata and a
// Badger blob store. An empty BlobDir selects an in-memory blob store.
func New(cfg Config) (*Vault, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = ":memory:"
	}

	meta, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	var blobs blob.Store
	if cfg.BlobDir == "" {
		blobs = blob.NewMemoryStore()
	} else {
		blobs, err = blob.NewBadgerStore(cfg.BlobDir)
		if err != nil {
			meta.Close()
			return nil, fmt.Errorf("failed to open blob store: %w", err)
		}
	}

	return NewWithStores(cfg, meta, blobs)
}

// NewWithStores creates a Vault with injected stores. Used by tests and
// by callers that manage store lifecycles themselves (e.g. a GCS blob
// store sharing credentials with other components).
func NewWithStores(cfg Config, meta MetadataStore, blobs blob.Store) (*Vault, error) {
	if meta == nil {
		return nil, errors.New("metadata store is required")
	}
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if cfg.MaxHeadRetries <= 0 {
		cfg.MaxHeadRetries = 5
	}

	return &Vault{
		config:  cfg,
		meta:    meta,
		blobs:   blobs,
		metrics: metrics.NewNoopCollector(),
	}, nil
}

// WithLogger attaches a structured logger. Returns the same instance
// for chaining. Safe to skip; all logging is nil-guarded.
func (v *Vault) WithLogger(logger *slog.Logger) *Vault {
	v.logger = logger
	return v
}

// WithMetrics attaches a metrics collector, replacing the default no-op
// collector. Returns the same instance for chaining.
func (v *Vault) WithMetrics(collector metrics.Collector) *Vault {
	if collector != nil {
		v.metrics = collector
	}
	return v
}

// WithTracer attaches a trace exporter. Returns the same instance for
// chaining. Without one, no traces are recorded.
func (v *Vault) WithTracer(exporter trace.Exporter) *Vault {
	v.tracer = exporter
	return v
}

// Close releases the underlying stores.
func (v *Vault) Close() error {
	metaErr := v.meta.Close()
	blobErr := v.blobs.Close()
	if metaErr != nil {
		return metaErr
	}
	return blobErr
}

// CreateQuery creates a new named query with no versions.
func (v *Vault) CreateQuery(ctx context.Context, name string) (*Query, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	rec := v.startOp("create_query")
	query := &store.Query{Name: name}
	err := v.meta.CreateQuery(ctx, query)
	if err == nil {
		rec.setID("queryId", query.ID)
	}
	rec.finish(ctx, err)
	if err != nil {
		return nil, err
	}

	if v.logger != nil {
		v.logger.InfoContext(ctx, "query created", "query_id", query.ID, "name", name)
	}
	return query, nil
}

// CreateQueryWithVersion creates a query together with its initial
// version in one call.
func (v *Vault) CreateQueryWithVersion(ctx context.Context, name, content, note string) (*Query, *Version, error) {
	if name == "" {
		return nil, nil, ErrEmptyName
	}
	if content == "" {
		return nil, nil, ErrEmptyContent
	}

	query, err := v.CreateQuery(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	version, err := v.CreateVersion(ctx, query.ID, content, note)
	if err != nil {
		return nil, nil, err
	}

	// Reflect the head advance in the returned record.
	query.HeadVersionID = &version.ID
	return query, version, nil
}

// GetQuery retrieves a live query by id.
// Returns (nil, nil) if the query is not found.
func (v *Vault) GetQuery(ctx context.Context, id string) (*Query, error) {
	return v.meta.GetQuery(ctx, id)
}

// SoftDeleteQuery marks a query as deleted. Its versions remain in the
// ledger but the query is hidden from reads and rejects new versions.
// Returns ErrQueryNotFound if no live query with the id exists.
func (v *Vault) SoftDeleteQuery(ctx context.Context, id string) error {
	ok, err := v.meta.SoftDeleteQuery(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("query %s: %w", id, store.ErrQueryNotFound)
	}
	if v.logger != nil {
		v.logger.InfoContext(ctx, "query soft-deleted", "query_id", id)
	}
	return nil
}

// CreateVersion creates a new version of a query from the given
// content. Content is stored once per digest; creating a version with
// already-stored content skips the blob write. The new version's parent
// is the query's head at append time, and the head advances to the new
// version atomically. Safe to call concurrently for the same query.
func (v *Vault) CreateVersion(ctx context.Context, queryID, content, note string) (*Version, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}

	rec := v.startOp("create_version")
	rec.setID("queryId", queryID)
	version, err := v.createVersion(ctx, rec, queryID, content, note)
	rec.finish(ctx, err)
	if err != nil {
		return nil, err
	}
	return version, nil
}

func (v *Vault) createVersion(ctx context.Context, rec *opRecorder, queryID, content, note string) (*store.Version, error) {
	st := rec.stage("hash")
	digest := hashing.Hash(content)
	st.done(ctx, nil, nil)
	rec.setID("digest", digest)

	// Blob index presence implies the blob itself is durable: content
	// is written before it is indexed.
	known, err := v.meta.BlobExists(ctx, digest)
	if err != nil {
		return nil, err
	}
	if known {
		v.metrics.RecordDedup(ctx, metrics.DedupHit)
	} else {
		v.metrics.RecordDedup(ctx, metrics.DedupMiss)

		st = rec.stage("blob-write")
		err = v.blobs.Put(ctx, digest, []byte(content))
		st.done(ctx, err, map[string]int64{"byteSize": int64(len(content))})
		if err != nil {
			return nil, fmt.Errorf("failed to store content: %w", err)
		}

		st = rec.stage("index-blob")
		err = v.meta.RecordBlob(ctx, digest, int64(len(content)))
		st.done(ctx, err, nil)
		if err != nil {
			return nil, err
		}
	}

	if v.logger != nil {
		dup, derr := v.meta.HasVersionWithDigest(ctx, queryID, digest)
		if derr == nil && dup {
			v.logger.DebugContext(ctx, "content identical to an existing version",
				"query_id", queryID, "digest", digest)
		}
	}

	st = rec.stage("append")
	version, retries, err := v.appendWithRetry(ctx, queryID, digest, note)
	st.done(ctx, err, map[string]int64{"headRetries": int64(retries)})
	if err != nil {
		return nil, err
	}
	rec.setID("versionId", version.ID)

	if v.logger != nil {
		v.logger.InfoContext(ctx, "version created",
			"query_id", queryID, "version_id", version.ID, "digest", digest)
	}
	return version, nil
}

// appendWithRetry appends a version, retrying with a fresh head when a
// concurrent writer advances the pointer first. Each retry re-reads the
// head inside the store's append transaction, so losers re-parent onto
// the winner instead of orphaning their version.
func (v *Vault) appendWithRetry(ctx context.Context, queryID, digest, note string) (*store.Version, int, error) {
	var lastErr error
	for attempt := 0; attempt < v.config.MaxHeadRetries; attempt++ {
		version := &store.Version{
			QueryID:  queryID,
			BlobHash: digest,
			Note:     note,
		}
		err := v.meta.AppendVersion(ctx, version)
		if err == nil {
			return version, attempt, nil
		}
		if !errors.Is(err, store.ErrHeadConflict) {
			return nil, attempt, err
		}
		lastErr = err
		if v.logger != nil {
			v.logger.DebugContext(ctx, "head pointer moved, retrying append",
				"query_id", queryID, "attempt", attempt+1)
		}
	}
	return nil, v.config.MaxHeadRetries,
		fmt.Errorf("append retries exhausted after %d attempts: %w", v.config.MaxHeadRetries, lastErr)
}

// ListVersions returns a query's full history, newest first.
func (v *Vault) ListVersions(ctx context.Context, queryID string) ([]*Version, error) {
	return v.meta.ListVersionsByQuery(ctx, queryID)
}

// GetVersion retrieves a version by id.
// Returns (nil, nil) if the version is not found.
func (v *Vault) GetVersion(ctx context.Context, id string) (*Version, error) {
	return v.meta.GetVersion(ctx, id)
}

// GetVersionContent returns the raw SQL text of a version. Returns
// ErrVersionNotFound for an unknown version id; the blob store is not
// contacted in that case.
func (v *Vault) GetVersionContent(ctx context.Context, versionID string) (string, error) {
	rec := v.startOp("get_version_content")
	rec.setID("versionId", versionID)
	content, err := v.getVersionContent(ctx, rec, versionID)
	rec.finish(ctx, err)
	if err != nil {
		return "", err
	}
	return content, nil
}

func (v *Vault) getVersionContent(ctx context.Context, rec *opRecorder, versionID string) (string, error) {
	version, err := v.meta.GetVersion(ctx, versionID)
	if err != nil {
		return "", err
	}
	if version == nil {
		return "", fmt.Errorf("version %s: %w", versionID, store.ErrVersionNotFound)
	}

	st := rec.stage("read-blob")
	raw, err := v.blobs.Get(ctx, version.BlobHash)
	st.done(ctx, err, nil)
	if err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	return string(raw), nil
}

// HashContent returns the digest a given content would be stored under.
func (v *Vault) HashContent(content string) string {
	return hashing.Hash(content)
}

// Stats reports record counts across the stores and publishes them as
// storage gauges.
func (v *Vault) Stats(ctx context.Context) (*Stats, error) {
	queries, err := v.meta.QueryCount(ctx)
	if err != nil {
		return nil, err
	}
	versions, err := v.meta.VersionCount(ctx)
	if err != nil {
		return nil, err
	}
	blobs, err := v.meta.BlobCount(ctx)
	if err != nil {
		return nil, err
	}

	v.metrics.SetStorageCount(ctx, "queries", queries)
	v.metrics.SetStorageCount(ctx, "versions", versions)
	v.metrics.SetStorageCount(ctx, "blobs", blobs)

	return &Stats{
		Queries:  queries,
		Versions: versions,
		Blobs:    blobs,
	}, nil
}
