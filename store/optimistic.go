package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Versioned is a backend record. Version grows by one on every write and
// is never 0 for a stored record; 0 stands for "absent".
type Versioned struct {
	Data    []byte
	Version uint64
}

// Op is the kind of a staged write.
type Op int

const (
	// OpInsert creates a record and fails if it exists.
	OpInsert Op = iota + 1
	// OpUpsert writes a record unconditionally.
	OpUpsert
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpsert:
		return "upsert"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Read is a version observed by a transaction.
type Read struct {
	Key     string
	Version uint64
}

// Write is a staged mutation. Key is the encoded key; Kind is the kind of
// its last path element, kept for backends that index by kind.
type Write struct {
	Op   Op
	Key  string
	Kind string
	Data []byte
}

// Changeset is everything a transaction observed and staged.
type Changeset struct {
	Reads  []Read
	Writes []Write
}

// Backend is a versioned key-value engine.
//
// Apply must be atomic: either every read version still matches, every
// inserted key is still absent, and all writes land, or nothing changes and
// the error wraps ErrConflict. Backends with a native transaction can
// implement Apply by calling Changeset.Commit inside it.
type Backend interface {
	Load(ctx context.Context, key string) (Versioned, error)
	Apply(ctx context.Context, cs *Changeset) error
	Close() error
}

// Commit validates the changeset and then writes it.
//
// version reports the current version of a key (0 if absent). put receives
// each write with the version it must be stored under. All checks run before
// the first put, so a conflict never leaves a partial write behind even on
// backends whose puts are immediately visible.
func (cs *Changeset) Commit(
	version func(key string) (uint64, error),
	put func(w Write, version uint64) error,
) error {
	for _, r := range cs.Reads {
		current, err := version(r.Key)
		if err != nil {
			return fmt.Errorf("check %s: %w", r.Key, err)
		}
		if current != r.Version {
			return fmt.Errorf("%w: %s moved from version %d to %d", ErrConflict, r.Key, r.Version, current)
		}
	}

	next := make([]uint64, len(cs.Writes))
	for i, w := range cs.Writes {
		current, err := version(w.Key)
		if err != nil {
			return fmt.Errorf("check %s: %w", w.Key, err)
		}
		switch w.Op {
		case OpInsert:
			if current != 0 {
				return fmt.Errorf("%w: %s already exists", ErrConflict, w.Key)
			}
			next[i] = 1
		case OpUpsert:
			next[i] = current + 1
		default:
			return fmt.Errorf("apply %s: unknown %s", w.Key, w.Op)
		}
	}

	for i, w := range cs.Writes {
		if err := put(w, next[i]); err != nil {
			return fmt.Errorf("%s %s: %w", w.Op, w.Key, err)
		}
	}
	return nil
}

// Optimistic implements Store on top of a Backend.
type Optimistic struct {
	backend Backend
}

// New wraps a backend in optimistic transactions.
func New(b Backend) *Optimistic {
	return &Optimistic{backend: b}
}

// Begin starts a transaction. It does not touch the backend.
func (s *Optimistic) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &optimisticTx{
		backend: s.backend,
		reads:   make(map[string]uint64),
		writes:  make(map[string]int),
	}, nil
}

// Backend returns the wrapped backend.
func (s *Optimistic) Backend() Backend {
	return s.backend
}

// Close closes the backend.
func (s *Optimistic) Close() error {
	return s.backend.Close()
}

type optimisticTx struct {
	backend Backend

	mu        sync.Mutex
	done      bool
	reads     map[string]uint64
	readOrder []string
	writes    map[string]int // encoded key -> index into staged
	staged    []Write
}

func (tx *optimisticTx) Get(ctx context.Context, key *Key) (*Entity, error) {
	enc, err := key.Encode()
	if err != nil {
		return nil, err
	}

	tx.mu.Lock()
	done := tx.done
	tx.mu.Unlock()
	if done {
		return nil, ErrTxDone
	}

	rec, err := tx.backend.Load(ctx, enc)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		rec = Versioned{}
	default:
		return nil, fmt.Errorf("get %s: %w", key, err)
	}

	tx.mu.Lock()
	if _, seen := tx.reads[enc]; !seen {
		// The first observation is what the commit validates against.
		tx.reads[enc] = rec.Version
		tx.readOrder = append(tx.readOrder, enc)
	}
	tx.mu.Unlock()

	if rec.Version == 0 {
		return nil, ErrNotFound
	}
	stored, err := DecodeKey(enc)
	if err != nil {
		return nil, err
	}
	return &Entity{Key: stored, Data: rec.Data}, nil
}

func (tx *optimisticTx) Insert(key *Key, data []byte) error {
	return tx.stage(OpInsert, key, data)
}

func (tx *optimisticTx) Upsert(key *Key, data []byte) error {
	return tx.stage(OpUpsert, key, data)
}

func (tx *optimisticTx) stage(op Op, key *Key, data []byte) error {
	enc, err := key.Encode()
	if err != nil {
		return err
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxDone
	}

	w := Write{Op: op, Key: enc, Kind: key.Kind, Data: append([]byte(nil), data...)}
	if i, ok := tx.writes[enc]; ok {
		// Last mutation of a key wins.
		tx.staged[i] = w
		return nil
	}
	tx.writes[enc] = len(tx.staged)
	tx.staged = append(tx.staged, w)
	return nil
}

func (tx *optimisticTx) Commit(ctx context.Context) error {
	tx.mu.Lock()
	if tx.done {
		tx.mu.Unlock()
		return ErrTxDone
	}
	tx.done = true
	cs := &Changeset{
		Reads:  make([]Read, 0, len(tx.readOrder)),
		Writes: tx.staged,
	}
	for _, k := range tx.readOrder {
		cs.Reads = append(cs.Reads, Read{Key: k, Version: tx.reads[k]})
	}
	tx.mu.Unlock()

	if len(cs.Writes) == 0 {
		return nil
	}
	if err := tx.backend.Apply(ctx, cs); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (tx *optimisticTx) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	return nil
}
