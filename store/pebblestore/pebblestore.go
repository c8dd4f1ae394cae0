// Package pebblestore is a store backend on a Pebble LSM directory.
package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/roach88/numbering/store"
)

// Backend stores versioned records in Pebble.
//
// Pebble has no read-write transactions. Apply holds a mutex while it
// validates versions and commits one synced batch, which makes commits from
// this process atomic. The directory must not be shared between processes.
type Backend struct {
	mu sync.Mutex
	db *pebble.DB
}

// Open creates or opens the Pebble directory at dir.
func Open(dir string) (*Backend, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", dir, err)
	}
	return &Backend{db: db}, nil
}

// Load returns the record stored at key.
func (b *Backend) Load(ctx context.Context, key string) (store.Versioned, error) {
	if err := ctx.Err(); err != nil {
		return store.Versioned{}, err
	}
	return b.get(key)
}

func (b *Backend) get(key string) (store.Versioned, error) {
	val, closer, err := b.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return store.Versioned{}, store.ErrNotFound
	}
	if err != nil {
		return store.Versioned{}, fmt.Errorf("get %s: %w", key, err)
	}
	defer closer.Close()
	return store.UnmarshalVersioned(val)
}

// Apply validates cs and writes it as one batch.
func (b *Backend) Apply(ctx context.Context, cs *store.Changeset) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	batch := b.db.NewBatch()
	defer closeQuietly(batch)

	err := cs.Commit(
		func(key string) (uint64, error) {
			rec, err := b.get(key)
			if errors.Is(err, store.ErrNotFound) {
				return 0, nil
			}
			return rec.Version, err
		},
		func(w store.Write, version uint64) error {
			return batch.Set([]byte(w.Key), store.MarshalVersioned(store.Versioned{
				Data:    w.Data,
				Version: version,
			}), nil)
		},
	)
	if err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

func closeQuietly(c io.Closer) {
	_ = c.Close()
}
