// Package apikey manages bearer credentials for callers. Keys are
// random, shown to the caller once at creation, and stored only as
// content digests; validation is a digest compare against the stored
// table, so a database leak never exposes usable keys.
package apikey

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dan-solli/sqlvault/pkg/hashing"
)

// keyPrefix marks sqlvault keys so they are recognizable in configs
// and secret scanners.
const keyPrefix = "sqlv_"

// keyRandomBytes is the entropy per generated key.
const keyRandomBytes = 32

// ErrInvalidKey indicates an unknown or revoked credential.
var ErrInvalidKey = errors.New("invalid api key")

// ErrKeyNotFound indicates no key record exists for the given id.
var ErrKeyNotFound = errors.New("api key not found")

// Key is the stored metadata of a credential. The plaintext key is
// never stored and never appears here.
type Key struct {
	ID        string
	Label     string
	CreatedAt time.Time
	RevokedAt *time.Time // nil while the key is active
}

// Store manages API key records. It borrows an open database
// connection (typically store.SQLiteStore.DB()) and never closes it.
type Store struct {
	db *sql.DB
}

// NewStore creates an API key store over an existing connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create generates a new key under the given label and returns its
// record together with the plaintext key. The plaintext is returned
// exactly once; only its digest is persisted.
func (s *Store) Create(ctx context.Context, label string) (*Key, string, error) {
	raw := make([]byte, keyRandomBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("failed to generate key material: %w", err)
	}
	plaintext := keyPrefix + hex.EncodeToString(raw)

	key := &Key{
		ID:        uuid.New().String(),
		Label:     label,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, key_hash, label, created_at, revoked_at)
		VALUES (?, ?, ?, ?, NULL)`,
		key.ID, hashing.Hash(plaintext), key.Label, key.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create api key: %w", err)
	}
	return key, plaintext, nil
}

// Validate checks a presented key against the stored digests and
// returns the matching record. Returns ErrInvalidKey for unknown or
// revoked keys; callers must not distinguish the two cases.
func (s *Store) Validate(ctx context.Context, plaintext string) (*Key, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, label, created_at, revoked_at
		FROM api_keys
		WHERE key_hash = ?`, hashing.Hash(plaintext))

	key, err := scanKey(row)
	if err == sql.ErrNoRows {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("failed to validate api key: %w", err)
	}
	if key.RevokedAt != nil {
		return nil, ErrInvalidKey
	}
	return key, nil
}

// Revoke permanently deactivates a key by id. Idempotent for an
// already-revoked key; returns ErrKeyNotFound for an unknown id.
func (s *Store) Revoke(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys
		SET revoked_at = ?
		WHERE id = ? AND revoked_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	// Distinguish already-revoked (no-op) from unknown id.
	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM api_keys WHERE id = ?", id).Scan(&count); err != nil {
		return fmt.Errorf("failed to check api key: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("api key %s: %w", id, ErrKeyNotFound)
	}
	return nil
}

// List returns all key records, newest first, active and revoked.
func (s *Store) List(ctx context.Context) ([]*Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, label, created_at, revoked_at
		FROM api_keys
		ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]*Key, 0)
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating api keys: %w", err)
	}
	return keys, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanKey(row rowScanner) (*Key, error) {
	var key Key
	var revokedAt sql.NullTime

	err := row.Scan(&key.ID, &key.Label, &key.CreatedAt, &revokedAt)
	if err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		key.RevokedAt = &revokedAt.Time
	}
	return &key, nil
}
