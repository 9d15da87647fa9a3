package blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is a Store backed by a local Badger key/value database.
// Keys are the content digests, values the raw content. SyncWrites is
// enabled so a blob is durable on disk before Put returns, which the
// versioning flow relies on (content is written before any version
// record that references it).
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a Badger database at dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger blob store: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

// Put stores content under digest if absent.
func (b *BadgerStore) Put(ctx context.Context, digest string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(digest))
		if err == nil {
			return nil // already stored, dedup hit
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set([]byte(digest), content)
	})
	if errors.Is(err, badger.ErrConflict) {
		// A concurrent transaction wrote this key. Keys are content
		// digests, so the competing write carried identical bytes and
		// losing the race is equivalent to a dedup hit.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to put blob %s: %w: %w", digest, ErrUnavailable, err)
	}
	return nil
}

// Get returns the content stored under digest.
func (b *BadgerStore) Get(ctx context.Context, digest string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var content []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(digest))
		if err != nil {
			return err
		}
		content, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("digest %s: %w", digest, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blob %s: %w: %w", digest, ErrUnavailable, err)
	}
	return content, nil
}

// Exists reports whether a blob is stored under digest.
func (b *BadgerStore) Exists(ctx context.Context, digest string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(digest))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check blob %s: %w: %w", digest, ErrUnavailable, err)
	}
	return true, nil
}

// Close closes the underlying Badger database.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// Compile-time interface check
var _ Store = (*BadgerStore)(nil)
