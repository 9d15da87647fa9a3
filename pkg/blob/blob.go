// Package blob provides content-addressed storage implementations for
// deduplicated query payloads. Blobs are keyed by the digest of their
// content; two payloads with the same digest are by definition the same
// payload, so writes never overwrite and never compare content.
package blob

import (
	"context"
	"errors"
)

// Store defines the interface for content-addressed blob storage.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put durably stores content under its digest. If a blob already
	// exists under the digest the call is a no-op: content identity is
	// assumed from digest equality, so nothing is re-written or
	// re-validated. The blob is durable before Put returns nil.
	Put(ctx context.Context, digest string, content []byte) error

	// Get retrieves the content stored under digest.
	// Returns an error wrapping ErrNotFound if no blob exists.
	Get(ctx context.Context, digest string) ([]byte, error)

	// Exists reports whether a blob is stored under digest.
	// Must never return a false negative after a completed Put.
	Exists(ctx context.Context, digest string) (bool, error)

	// Close releases any resources held by the store.
	Close() error
}

// ErrNotFound indicates that no blob exists under the given digest.
var ErrNotFound = errors.New("blob not found")

// ErrUnavailable indicates that the backing storage could not be
// reached. The store does not retry; callers may, since Put is
// idempotent.
var ErrUnavailable = errors.New("blob storage unavailable")
