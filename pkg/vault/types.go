package vault

import (
	"github.com/dan-solli/sqlvault/pkg/blob"
	"github.com/dan-solli/sqlvault/pkg/store"
)

// Query, Version and BlobInfo are the records returned by Vault
// operations. They alias the store types so callers need not import
// the storage package.
type (
	Query    = store.Query
	Version  = store.Version
	BlobInfo = store.BlobInfo
)

// Errors surfaced by Vault operations, re-exported from the stores.
var (
	ErrQueryNotFound   = store.ErrQueryNotFound
	ErrVersionNotFound = store.ErrVersionNotFound
	ErrHeadConflict    = store.ErrHeadConflict
	ErrContentNotFound = blob.ErrNotFound
)

// Stats holds record counts across the stores.
type Stats struct {
	Queries  int64 // Live (not soft-deleted) queries
	Versions int64 // Versions in the ledger, across all queries
	Blobs    int64 // Distinct content blobs
}
