package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/numbering/internal/record"
)

var (
	// ErrNotFound is returned by Tx.Get when no entity exists for the key.
	ErrNotFound = errors.New("store: entity not found")

	// ErrConflict is returned by Tx.Commit when a concurrent writer changed
	// a key the transaction read, or an inserted key already exists.
	ErrConflict = errors.New("store: transaction conflict")

	// ErrTxDone is returned when a finished transaction is used again.
	ErrTxDone = errors.New("store: transaction already committed or rolled back")
)

// Key addresses an entity by kind and name beneath an optional parent.
type Key struct {
	Kind   string
	Name   string
	Parent *Key
}

// NameKey creates a key with the given kind, name and parent.
func NameKey(kind, name string, parent *Key) *Key {
	return &Key{Kind: kind, Name: name, Parent: parent}
}

// Path returns the key as alternating kinds and names, root first.
func (k *Key) Path() []string {
	if k == nil {
		return nil
	}
	return append(k.Parent.Path(), k.Kind, k.Name)
}

// Equal reports whether both keys have exactly the same path.
func (k *Key) Equal(o *Key) bool {
	if k == nil || o == nil {
		return k == o
	}
	return k.Kind == o.Kind && k.Name == o.Name && k.Parent.Equal(o.Parent)
}

// String renders the key for logs, e.g. /NumberingAncestor,A_/NumberingItem,A_1.
func (k *Key) String() string {
	if k == nil {
		return "/"
	}
	var b strings.Builder
	path := k.Path()
	for i := 0; i < len(path); i += 2 {
		fmt.Fprintf(&b, "/%s,%s", path[i], path[i+1])
	}
	return b.String()
}

// Encode returns the storage form of the key: the path as a canonical JSON
// array. The encoding is unambiguous for any names, including ones that
// contain separators.
func (k *Key) Encode() (string, error) {
	if k == nil {
		return "", fmt.Errorf("encode key: nil key")
	}
	data, err := record.MarshalCanonical(k.Path())
	if err != nil {
		return "", fmt.Errorf("encode key %s: %w", k, err)
	}
	return string(data), nil
}

// DecodeKey parses a key produced by Key.Encode.
func DecodeKey(s string) (*Key, error) {
	var path []string
	if err := json.Unmarshal([]byte(s), &path); err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(path) == 0 || len(path)%2 != 0 {
		return nil, fmt.Errorf("decode key: path must hold kind/name pairs, got %d elements", len(path))
	}
	var k *Key
	for i := 0; i < len(path); i += 2 {
		k = NameKey(path[i], path[i+1], k)
	}
	return k, nil
}

// Entity is a stored document together with the key it was read from.
type Entity struct {
	Key  *Key
	Data []byte
}

// Store begins transactions against a backing key-value store.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is one all-or-nothing unit of work.
//
// Reads go to the store; they do not observe the transaction's own staged
// writes. Insert and Upsert only stage; nothing is visible to others until
// Commit succeeds.
type Tx interface {
	// Get returns the entity stored at key, or ErrNotFound.
	Get(ctx context.Context, key *Key) (*Entity, error)

	// Insert stages a create. Commit fails with ErrConflict if the key
	// exists by then.
	Insert(key *Key, data []byte) error

	// Upsert stages an unconditional write.
	Upsert(key *Key, data []byte) error

	// Commit applies all staged writes atomically.
	Commit(ctx context.Context) error

	// Rollback discards the transaction. It returns ErrTxDone after Commit
	// or a previous Rollback, so it is safe to defer.
	Rollback() error
}
