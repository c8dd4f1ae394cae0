// Package store defines the transactional key-value capability the
// allocator is built on, and an optimistic transaction layer that turns any
// versioned key-value backend into that capability.
//
// # Model
//
//   - Keys are hierarchical Kind/Name paths, ancestor first
//   - Entities carry opaque document bytes (see internal/record)
//   - A transaction reads through to the backend, stages writes, and
//     commits them all or nothing
//
// # Optimistic Commit
//
// Every Get records the version it observed (0 when the key is absent).
// Commit hands the backend a Changeset; the backend re-reads each recorded
// version and each inserted key inside its own native transaction and
// refuses the whole changeset with ErrConflict if anything moved. Two
// transactions that read and write the same keys can therefore never both
// commit, whether they run in one process or on different machines.
//
// # Backends
//
//   - memstore: in-process map, used by tests and the harness
//   - sqlitestore: SQLite in WAL mode, safe across processes on one host
//   - boltstore, pebblestore: embedded single-process engines
//   - redisstore: WATCH/MULTI, safe across machines
//   - pgstore: PostgreSQL via gorm, safe across machines
package store
