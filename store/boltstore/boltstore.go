// Package boltstore is a store backend on a bbolt file.
//
// bbolt serializes writers, so Apply validates and writes a changeset inside
// one Update transaction and conflicts are detected by version comparison
// alone.
package boltstore

import (
	"context"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/roach88/numbering/store"
)

var entitiesBucket = []byte("entities")

// Backend stores versioned records in a bbolt bucket.
type Backend struct {
	db *bolt.DB
}

// Open creates or opens the database file at path.
func Open(path string) (*Backend, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entitiesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Backend{db: db}, nil
}

// Load returns the record stored at key.
func (b *Backend) Load(ctx context.Context, key string) (store.Versioned, error) {
	if err := ctx.Err(); err != nil {
		return store.Versioned{}, err
	}

	var rec store.Versioned
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(entitiesBucket).Get([]byte(key))
		if raw == nil {
			return store.ErrNotFound
		}
		var err error
		rec, err = store.UnmarshalVersioned(raw)
		return err
	})
	return rec, err
}

// Apply validates and writes cs in one bbolt write transaction.
func (b *Backend) Apply(ctx context.Context, cs *store.Changeset) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(entitiesBucket)
		return cs.Commit(
			func(key string) (uint64, error) {
				raw := bucket.Get([]byte(key))
				if raw == nil {
					return 0, nil
				}
				rec, err := store.UnmarshalVersioned(raw)
				if err != nil {
					return 0, err
				}
				return rec.Version, nil
			},
			func(w store.Write, version uint64) error {
				return bucket.Put([]byte(w.Key), store.MarshalVersioned(store.Versioned{
					Data:    w.Data,
					Version: version,
				}))
			},
		)
	})
}

// Close closes the database file.
func (b *Backend) Close() error {
	return b.db.Close()
}
