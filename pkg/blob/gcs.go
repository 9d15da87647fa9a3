package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// objectPrefix namespaces blob objects inside the bucket.
const objectPrefix = "queries/"

// GCSStore is a Store backed by a Google Cloud Storage bucket, one
// object per unique digest under the "queries/" prefix. Writes use a
// DoesNotExist precondition so concurrent uploads of the same digest
// are resolved by the bucket, not by the client.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

// NewGCSStore creates a GCS-backed blob store for the given bucket.
// credentialsFile may be empty, in which case ambient credentials
// (workload identity, ADC) are used.
func NewGCSStore(ctx context.Context, bucketName, credentialsFile string) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStore{
		client: client,
		bucket: client.Bucket(bucketName),
	}, nil
}

func objectName(digest string) string {
	return objectPrefix + digest
}

// Put stores content under digest if absent.
func (g *GCSStore) Put(ctx context.Context, digest string, content []byte) error {
	obj := g.bucket.Object(objectName(digest)).If(storage.Conditions{DoesNotExist: true})

	w := obj.NewWriter(ctx)
	w.ContentType = "text/plain; charset=utf-8"

	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write blob %s: %w: %w", digest, ErrUnavailable, err)
	}
	if err := w.Close(); err != nil {
		// Precondition failure means another writer got there first,
		// which is exactly the no-op the contract asks for.
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 412 {
			return nil
		}
		return fmt.Errorf("failed to upload blob %s: %w: %w", digest, ErrUnavailable, err)
	}
	return nil
}

// Get returns the content stored under digest.
func (g *GCSStore) Get(ctx context.Context, digest string) ([]byte, error) {
	r, err := g.bucket.Object(objectName(digest)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("digest %s: %w", digest, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w: %w", digest, ErrUnavailable, err)
	}
	defer r.Close()

	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w: %w", digest, ErrUnavailable, err)
	}
	return content, nil
}

// Exists reports whether a blob is stored under digest.
func (g *GCSStore) Exists(ctx context.Context, digest string) (bool, error) {
	_, err := g.bucket.Object(objectName(digest)).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat blob %s: %w: %w", digest, ErrUnavailable, err)
	}
	return true, nil
}

// Close closes the underlying GCS client.
func (g *GCSStore) Close() error {
	return g.client.Close()
}

// Compile-time interface check
var _ Store = (*GCSStore)(nil)
