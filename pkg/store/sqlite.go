package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLiteStore implements QueryStore, VersionStore and BlobIndex using
// SQLite as the backend.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time interface checks
var (
	_ QueryStore   = (*SQLiteStore)(nil)
	_ VersionStore = (*SQLiteStore)(nil)
	_ BlobIndex    = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates a new SQLite-backed metadata store.
// The dbPath can be a file path or ":memory:" for an in-memory database.
// Creates tables and indexes if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open(driverName, dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; one pooled connection avoids
	// SQLITE_BUSY under concurrent appends and keeps ":memory:"
	// databases from splitting across connections.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS queries (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		head_version_id TEXT,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS versions (
		id TEXT PRIMARY KEY,
		query_id TEXT NOT NULL,
		parent_version_id TEXT,
		blob_hash TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (query_id) REFERENCES queries(id)
	);

	CREATE INDEX IF NOT EXISTS idx_versions_query ON versions(query_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_versions_query_hash ON versions(query_id, blob_hash);

	CREATE TABLE IF NOT EXISTS blobs (
		hash TEXT PRIMARY KEY,
		byte_size INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		key_hash TEXT NOT NULL UNIQUE,
		label TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		revoked_at DATETIME
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// DB exposes the underlying connection for stores that share it
// (the API-key store). The connection is owned by this store and must
// not be closed by borrowers.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// ---------------------------------------------------------------
// QueryStore
// ---------------------------------------------------------------

// CreateQuery inserts a new query record.
func (s *SQLiteStore) CreateQuery(ctx context.Context, query *Query) error {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queries (id, name, head_version_id, is_deleted, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		query.ID,
		query.Name,
		query.HeadVersionID,
		boolToInt(query.IsDeleted),
		query.CreatedAt,
		query.UpdatedAt,
		query.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create query: %w", err)
	}
	return nil
}

// GetQuery retrieves a live query by id.
func (s *SQLiteStore) GetQuery(ctx context.Context, id string) (*Query, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, head_version_id, is_deleted, created_at, updated_at, deleted_at
		FROM queries
		WHERE id = ? AND is_deleted = 0`, id)

	query, err := scanQuery(row)
	if err == sql.ErrNoRows {
		return nil, nil // Not found, no error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get query: %w", err)
	}
	return query, nil
}

// UpdateHeadVersion atomically advances the head pointer via a
// conditional update: the write only lands if the stored head still
// equals expectedHeadID.
func (s *SQLiteStore) UpdateHeadVersion(ctx context.Context, queryID, newHeadID string, expectedHeadID *string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queries
		SET head_version_id = ?, updated_at = ?
		WHERE id = ? AND is_deleted = 0 AND head_version_id IS ?`,
		newHeadID, time.Now().UTC(), queryID, expectedHeadID)
	if err != nil {
		return false, fmt.Errorf("failed to update head version: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// SoftDeleteQuery marks a query as deleted.
func (s *SQLiteStore) SoftDeleteQuery(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE queries
		SET is_deleted = 1, deleted_at = ?, updated_at = ?
		WHERE id = ? AND is_deleted = 0`,
		now, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to soft-delete query: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// QueryCount returns the total number of live queries.
func (s *SQLiteStore) QueryCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM queries WHERE is_deleted = 0").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count queries: %w", err)
	}
	return count, nil
}

// ---------------------------------------------------------------
// VersionStore
// ---------------------------------------------------------------

// AppendVersion inserts a version and advances the head in one
// transaction. The parent is the head read inside the transaction, so
// the chain can never fork or skip under concurrent writers: a loser
// of the head race has its insert rolled back and gets ErrHeadConflict.
func (s *SQLiteStore) AppendVersion(ctx context.Context, version *Version) error {
	if version.ID == "" {
		version.ID = uuid.New().String()
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var head sql.NullString
	err = tx.QueryRowContext(ctx,
		"SELECT head_version_id FROM queries WHERE id = ? AND is_deleted = 0",
		version.QueryID).Scan(&head)
	if err == sql.ErrNoRows {
		return fmt.Errorf("query %s: %w", version.QueryID, ErrQueryNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read head version: %w", err)
	}

	version.ParentVersionID = nil
	if head.Valid {
		version.ParentVersionID = &head.String
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO versions (id, query_id, parent_version_id, blob_hash, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		version.ID,
		version.QueryID,
		version.ParentVersionID,
		version.BlobHash,
		version.Note,
		version.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("version %s: %w", version.ID, ErrDuplicateVersionID)
		}
		return fmt.Errorf("failed to insert version: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE queries
		SET head_version_id = ?, updated_at = ?
		WHERE id = ? AND is_deleted = 0 AND head_version_id IS ?`,
		version.ID, time.Now().UTC(), version.QueryID, version.ParentVersionID)
	if err != nil {
		return fmt.Errorf("failed to advance head version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n != 1 {
		// The deferred Rollback undoes the insert, nothing orphans.
		return ErrHeadConflict
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit version append: %w", err)
	}
	return nil
}

// GetVersion retrieves a version by its id.
func (s *SQLiteStore) GetVersion(ctx context.Context, id string) (*Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, query_id, parent_version_id, blob_hash, note, created_at
		FROM versions
		WHERE id = ?`, id)

	version, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, nil // Not found, no error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return version, nil
}

// ListVersionsByQuery returns a query's history, newest first.
func (s *SQLiteStore) ListVersionsByQuery(ctx context.Context, queryID string) ([]*Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query_id, parent_version_id, blob_hash, note, created_at
		FROM versions
		WHERE query_id = ?
		ORDER BY created_at DESC, rowid DESC`, queryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	versions := make([]*Version, 0)
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}
	return versions, nil
}

// HasVersionWithDigest reports whether the query has a version with
// the given content digest.
func (s *SQLiteStore) HasVersionWithDigest(ctx context.Context, queryID, digest string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM versions WHERE query_id = ? AND blob_hash = ?",
		queryID, digest).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check version digest: %w", err)
	}
	return count > 0, nil
}

// GetHeadVersionID reads the query's current head pointer.
func (s *SQLiteStore) GetHeadVersionID(ctx context.Context, queryID string) (*string, error) {
	var head sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT head_version_id FROM queries WHERE id = ? AND is_deleted = 0",
		queryID).Scan(&head)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("query %s: %w", queryID, ErrQueryNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read head version: %w", err)
	}
	if !head.Valid {
		return nil, nil
	}
	return &head.String, nil
}

// VersionCount returns the total number of versions in the ledger.
func (s *SQLiteStore) VersionCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM versions").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count versions: %w", err)
	}
	return count, nil
}

// ---------------------------------------------------------------
// BlobIndex
// ---------------------------------------------------------------

// RecordBlob records blob metadata, ignoring already-known digests.
func (s *SQLiteStore) RecordBlob(ctx context.Context, digest string, byteSize int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO blobs (hash, byte_size, created_at)
		VALUES (?, ?, ?)`,
		digest, byteSize, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record blob: %w", err)
	}
	return nil
}

// BlobExists reports whether a blob digest has been recorded.
func (s *SQLiteStore) BlobExists(ctx context.Context, digest string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM blobs WHERE hash = ?", digest).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check blob: %w", err)
	}
	return count > 0, nil
}

// GetBlobInfo retrieves blob metadata by digest.
func (s *SQLiteStore) GetBlobInfo(ctx context.Context, digest string) (*BlobInfo, error) {
	var info BlobInfo
	err := s.db.QueryRowContext(ctx,
		"SELECT hash, byte_size, created_at FROM blobs WHERE hash = ?",
		digest).Scan(&info.Hash, &info.ByteSize, &info.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil // Not found, no error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blob info: %w", err)
	}
	return &info, nil
}

// BlobCount returns the total number of recorded blobs.
func (s *SQLiteStore) BlobCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM blobs").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count blobs: %w", err)
	}
	return count, nil
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------
// scan helpers
// ---------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuery(row rowScanner) (*Query, error) {
	var query Query
	var head sql.NullString
	var deleted int
	var deletedAt sql.NullTime

	err := row.Scan(
		&query.ID,
		&query.Name,
		&head,
		&deleted,
		&query.CreatedAt,
		&query.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if head.Valid {
		query.HeadVersionID = &head.String
	}
	query.IsDeleted = deleted != 0
	if deletedAt.Valid {
		query.DeletedAt = &deletedAt.Time
	}
	return &query, nil
}

func scanVersion(row rowScanner) (*Version, error) {
	var version Version
	var parent sql.NullString

	err := row.Scan(
		&version.ID,
		&version.QueryID,
		&parent,
		&version.BlobHash,
		&version.Note,
		&version.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if parent.Valid {
		version.ParentVersionID = &parent.String
	}
	return &version, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
