// Package store provides storage implementations for sqlvault's query
// and version metadata: the append-only version ledger, the per-query
// head pointer and the blob index.
package store

import (
	"errors"
	"time"
)

// Query represents a named, independently addressable sequence of versions.
type Query struct {
	ID            string     // Unique identifier (UUID)
	Name          string     // Display name
	HeadVersionID *string    // Most recent version in the chain, nil if no versions yet
	IsDeleted     bool       // Soft-delete flag; deleted queries are hidden from reads
	CreatedAt     time.Time  // Timestamp of creation
	UpdatedAt     time.Time  // Timestamp of last mutation (head update or delete)
	DeletedAt     *time.Time // Timestamp of soft-delete, nil while live
}

// Version represents one immutable snapshot in a query's history.
// A version never changes after insertion.
type Version struct {
	ID              string    // Unique identifier (UUID)
	QueryID         string    // Owning query
	ParentVersionID *string   // Immediate predecessor in the chain, nil for the first version
	BlobHash        string    // Content digest, foreign key into the blob store
	Note            string    // Optional human note, empty if none
	CreatedAt       time.Time // Timestamp of creation
}

// BlobInfo is the ledger-side record of a stored content blob.
// The raw bytes live in the content store; this is metadata only.
type BlobInfo struct {
	Hash      string    // Content digest (primary key)
	ByteSize  int64     // Length of the content in bytes
	CreatedAt time.Time // First time any version mapped to this digest
}

// ErrQueryNotFound indicates that no live query exists for the given id.
var ErrQueryNotFound = errors.New("query not found")

// ErrVersionNotFound indicates that no version exists for the given id.
var ErrVersionNotFound = errors.New("version not found")

// ErrDuplicateVersionID indicates an append with an id that already
// exists in the ledger. Ids are generated, so this is a programming
// error, not a condition to retry.
var ErrDuplicateVersionID = errors.New("duplicate version id")

// ErrHeadConflict indicates that a concurrent writer advanced the
// query's head between the parent read and the head update. The whole
// append was rolled back; callers retry with a fresh head.
var ErrHeadConflict = errors.New("head pointer changed concurrently")
