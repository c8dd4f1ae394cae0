// Package memstore is an in-memory store backend.
//
// It honours the full optimistic contract (version checks, create-if-absent
// inserts) so allocator tests exercise the same conflict paths a durable
// backend would. Data lives only as long as the Backend value.
package memstore

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/numbering/store"
)

// Options configures a Backend.
type Options struct {
	// BeforeApply runs under the backend lock before a changeset is
	// validated. A non-nil error aborts the commit unchanged. Tests use it to
	// force conflicts or to interleave a competing writer.
	BeforeApply func(cs *store.Changeset) error
}

// Backend is a map-backed store.Backend. It is safe for concurrent use.
type Backend struct {
	mu      sync.Mutex
	records map[string]store.Versioned
	opts    Options
	applied int
}

// New creates an empty backend.
func New() *Backend {
	return NewWithOptions(Options{})
}

// NewWithOptions creates an empty backend with hooks.
func NewWithOptions(opts Options) *Backend {
	return &Backend{
		records: make(map[string]store.Versioned),
		opts:    opts,
	}
}

// Load returns the record stored at key.
func (b *Backend) Load(ctx context.Context, key string) (store.Versioned, error) {
	if err := ctx.Err(); err != nil {
		return store.Versioned{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[key]
	if !ok {
		return store.Versioned{}, store.ErrNotFound
	}
	return store.Versioned{Data: slices.Clone(rec.Data), Version: rec.Version}, nil
}

// Apply validates and writes cs atomically.
func (b *Backend) Apply(ctx context.Context, cs *store.Changeset) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.opts.BeforeApply != nil {
		if err := b.opts.BeforeApply(cs); err != nil {
			return err
		}
	}

	err := cs.Commit(
		func(key string) (uint64, error) {
			return b.records[key].Version, nil
		},
		func(w store.Write, version uint64) error {
			b.records[w.Key] = store.Versioned{Data: slices.Clone(w.Data), Version: version}
			return nil
		},
	)
	if err != nil {
		return err
	}
	b.applied++
	return nil
}

// Close is a no-op; the data stays readable.
func (b *Backend) Close() error {
	return nil
}

// Len returns the number of stored records.
func (b *Backend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Keys returns all stored keys in sorted order.
func (b *Backend) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys := make([]string, 0, len(b.records))
	for k := range b.records {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Applied returns the number of committed changesets.
func (b *Backend) Applied() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.applied
}
