package store

import "context"

// VersionStore defines the interface for the append-only version ledger.
type VersionStore interface {
	// AppendVersion inserts a new immutable version record and advances
	// the owning query's head pointer to it, as one atomic step. The
	// current head is read inside the same transaction and written to
	// version.ParentVersionID, so the caller never supplies a parent.
	//
	// Returns ErrQueryNotFound if the owning query is missing or
	// soft-deleted, ErrDuplicateVersionID if the id already exists, and
	// ErrHeadConflict if a concurrent writer advanced the head first;
	// on ErrHeadConflict nothing was written and the caller may retry.
	AppendVersion(ctx context.Context, version *Version) error

	// GetVersion retrieves a version by its id.
	// Returns (nil, nil) if the version is not found (no error).
	GetVersion(ctx context.Context, id string) (*Version, error)

	// ListVersionsByQuery returns the full history of a query, newest
	// first. Ordering is deterministic: creation time descending with
	// insertion order as tiebreak. Returns an empty slice for a query
	// with no versions.
	ListVersionsByQuery(ctx context.Context, queryID string) ([]*Version, error)

	// HasVersionWithDigest reports whether the query already has a
	// version whose content maps to digest. Informational only: it does
	// not gate version creation, duplicate-content versions are allowed.
	HasVersionWithDigest(ctx context.Context, queryID, digest string) (bool, error)

	// GetHeadVersionID reads the query's current head pointer.
	// Returns nil for a query with no versions, ErrQueryNotFound if the
	// query is missing or soft-deleted.
	GetHeadVersionID(ctx context.Context, queryID string) (*string, error)

	// VersionCount returns the total number of versions in the ledger.
	VersionCount(ctx context.Context) (int64, error)
}
