// Package sqlitestore is a store backend on a single SQLite file.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/numbering/store"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - entities table
const currentSchemaVersion = 1

// Backend stores versioned records in SQLite.
type Backend struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens a SQLite database at the given path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - immediate transactions, so a commit takes the write lock up front
func Open(path string) (*Backend, error) {
	db, err := sql.Open("sqlite3", path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// SQLite has one writer; a single connection keeps commits serial.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Backend{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (b *Backend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// DB returns the underlying sql.DB.
func (b *Backend) DB() *sql.DB {
	return b.db
}

// Load returns the record stored at key.
func (b *Backend) Load(ctx context.Context, key string) (store.Versioned, error) {
	var rec store.Versioned
	err := b.db.QueryRowContext(ctx,
		`SELECT version, data FROM entities WHERE entity_key = ?`, key,
	).Scan(&rec.Version, &rec.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Versioned{}, store.ErrNotFound
	}
	if err != nil {
		return store.Versioned{}, fmt.Errorf("load %s: %w", key, err)
	}
	return rec, nil
}

// Apply validates and writes cs in one immediate transaction.
func (b *Backend) Apply(ctx context.Context, cs *store.Changeset) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	stamp := b.now().UTC().Format(time.RFC3339Nano)
	err = cs.Commit(
		func(key string) (uint64, error) {
			var v uint64
			err := tx.QueryRowContext(ctx,
				`SELECT version FROM entities WHERE entity_key = ?`, key,
			).Scan(&v)
			if errors.Is(err, sql.ErrNoRows) {
				return 0, nil
			}
			return v, err
		},
		func(w store.Write, version uint64) error {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO entities (entity_key, kind, version, data, updated_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(entity_key) DO UPDATE SET
					version = excluded.version,
					data = excluded.data,
					updated_at = excluded.updated_at
			`, w.Key, w.Kind, version, w.Data, stamp)
			return err
		},
	)
	if err != nil {
		return mapError(err)
	}

	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Count returns the number of records of the given kind.
func (b *Backend) Count(ctx context.Context, kind string) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE kind = ?`, kind,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", kind, err)
	}
	return n, nil
}

// mapError turns lock contention and uniqueness violations into
// store.ErrConflict so the caller retries them.
func mapError(err error) error {
	if errors.Is(err, store.ErrConflict) {
		return err
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		switch serr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", store.ErrConflict, err)
		case sqlite3.ErrConstraint:
			if serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
				serr.ExtendedCode == sqlite3.ErrConstraintUnique {
				return fmt.Errorf("%w: %v", store.ErrConflict, err)
			}
		}
	}
	return err
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and records the schema
// version. It refuses databases written by a newer schema.
func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d",
			version, currentSchemaVersion)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (b *Backend) pragma(name string) (string, error) {
	var value string
	if err := b.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return "", fmt.Errorf("query %s: %w", name, err)
	}
	return value, nil
}
