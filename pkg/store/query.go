package store

import "context"

// QueryStore defines the interface for query record storage.
// Implementations must provide durable storage and an atomic
// compare-and-swap on the head pointer, which is the only piece of
// mutable shared state in the system.
type QueryStore interface {
	// CreateQuery inserts a new query record.
	// If ID is empty a new UUID is generated; zero timestamps are
	// filled with the current time. The head pointer starts nil.
	CreateQuery(ctx context.Context, query *Query) error

	// GetQuery retrieves a live (not soft-deleted) query by id.
	// Returns (nil, nil) if the query is not found (no error).
	GetQuery(ctx context.Context, id string) (*Query, error)

	// UpdateHeadVersion atomically advances the query's head pointer
	// from expectedHeadID to newHeadID. Returns false if the current
	// head no longer equals expectedHeadID (a concurrent writer won)
	// or the query is missing or soft-deleted; nothing is written in
	// that case. expectedHeadID nil means "no versions yet".
	UpdateHeadVersion(ctx context.Context, queryID, newHeadID string, expectedHeadID *string) (bool, error)

	// SoftDeleteQuery marks a query as deleted. Returns false if no
	// live query with the id exists. The record and its versions are
	// never hard-deleted.
	SoftDeleteQuery(ctx context.Context, id string) (bool, error)

	// QueryCount returns the total number of live queries.
	QueryCount(ctx context.Context) (int64, error)
}
