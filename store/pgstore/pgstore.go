// Package pgstore is a store backend on PostgreSQL through gorm.
//
// Apply runs in a database transaction. Existing rows are locked with
// SELECT ... FOR UPDATE while versions are checked; updates are
// conditioned on the previous version and concurrent inserts of the same
// key fail on the primary key, so commits are safe across machines.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/roach88/numbering/store"
)

// DefaultTable is the table used when no namespace is given.
const DefaultTable = "numbering_entities"

type entity struct {
	EntityKey string    `gorm:"column:entity_key;primaryKey"`
	Kind      string    `gorm:"column:kind;not null;index"`
	Version   uint64    `gorm:"column:version;not null"`
	Data      []byte    `gorm:"column:data;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// Backend stores versioned records in one PostgreSQL table.
type Backend struct {
	db    *gorm.DB
	table string
}

// Open connects with dsn and creates the table if needed. A non-empty
// namespace selects the table name.
func Open(dsn, namespace string) (*Backend, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	table := DefaultTable
	if namespace != "" {
		table = namespace
	}
	b, err := New(db, table)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return b, nil
}

// New uses an existing connection and migrates table.
func New(db *gorm.DB, table string) (*Backend, error) {
	if err := db.Table(table).AutoMigrate(&entity{}); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", table, err)
	}
	return &Backend{db: db, table: table}, nil
}

// Load returns the record stored at key.
func (b *Backend) Load(ctx context.Context, key string) (store.Versioned, error) {
	var e entity
	err := b.db.WithContext(ctx).Table(b.table).Where("entity_key = ?", key).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.Versioned{}, store.ErrNotFound
	}
	if err != nil {
		return store.Versioned{}, fmt.Errorf("load %s: %w", key, err)
	}
	return store.Versioned{Data: e.Data, Version: e.Version}, nil
}

// Apply validates and writes cs in one transaction.
func (b *Backend) Apply(ctx context.Context, cs *store.Changeset) error {
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return cs.Commit(
			func(key string) (uint64, error) {
				var e entity
				err := tx.Table(b.table).
					Clauses(clause.Locking{Strength: "UPDATE"}).
					Where("entity_key = ?", key).
					Take(&e).Error
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return 0, nil
				}
				return e.Version, err
			},
			func(w store.Write, version uint64) error {
				now := time.Now().UTC()
				if version == 1 {
					return tx.Table(b.table).Create(&entity{
						EntityKey: w.Key,
						Kind:      w.Kind,
						Version:   version,
						Data:      w.Data,
						UpdatedAt: now,
					}).Error
				}
				res := tx.Table(b.table).
					Where("entity_key = ? AND version = ?", w.Key, version-1).
					Updates(map[string]any{
						"version":    version,
						"data":       w.Data,
						"updated_at": now,
					})
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected == 0 {
					return fmt.Errorf("%w: %s changed during commit", store.ErrConflict, w.Key)
				}
				return nil
			},
		)
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}

// Close closes the connection pool.
func (b *Backend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
