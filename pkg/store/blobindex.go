package store

import "context"

// BlobIndex provides operations for the ledger-side blob metadata.
// Separate from QueryStore/VersionStore to maintain interface cohesion.
// The raw content lives in the blob store; the index records which
// digests exist and how large they are, enabling write-path dedup
// without a round-trip to the content store.
type BlobIndex interface {
	// RecordBlob records that a blob with the given digest and size is
	// stored. Recording an already-known digest is a no-op (insert or
	// ignore), so the call is safe to repeat.
	RecordBlob(ctx context.Context, digest string, byteSize int64) error

	// BlobExists reports whether a blob with the given digest has been
	// recorded.
	BlobExists(ctx context.Context, digest string) (bool, error)

	// GetBlobInfo retrieves blob metadata by digest.
	// Returns (nil, nil) if the digest is not recorded (no error).
	GetBlobInfo(ctx context.Context, digest string) (*BlobInfo, error)

	// BlobCount returns the total number of recorded blobs.
	BlobCount(ctx context.Context) (int64, error)
}
