// Package redisstore is a store backend on Redis.
//
// Each record is a hash with a version field "v" and a data field "d".
// Apply watches every key the changeset touched, validates versions, and
// writes inside MULTI/EXEC, so commits are safe across processes that share
// the server.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/numbering/store"
)

const (
	fieldVersion = "v"
	fieldData    = "d"
)

// Backend stores versioned records in Redis hashes.
type Backend struct {
	client    *redis.Client
	namespace string
}

// Open connects to the server at url and verifies connectivity. Every key
// is prefixed with namespace and a colon when namespace is non-empty.
func Open(url, namespace string) (*Backend, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return New(client, namespace), nil
}

// New wraps an existing client. Close closes the client.
func New(client *redis.Client, namespace string) *Backend {
	return &Backend{client: client, namespace: namespace}
}

func (b *Backend) redisKey(key string) string {
	if b.namespace == "" {
		return key
	}
	return b.namespace + ":" + key
}

// Load returns the record stored at key.
func (b *Backend) Load(ctx context.Context, key string) (store.Versioned, error) {
	return b.load(ctx, b.client, key)
}

// hashReader is satisfied by both *redis.Client and *redis.Tx.
type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (b *Backend) load(ctx context.Context, c hashReader, key string) (store.Versioned, error) {
	fields, err := c.HGetAll(ctx, b.redisKey(key)).Result()
	if err != nil {
		return store.Versioned{}, fmt.Errorf("load %s: %w", key, err)
	}
	if len(fields) == 0 {
		return store.Versioned{}, store.ErrNotFound
	}
	var rec store.Versioned
	if _, err := fmt.Sscan(fields[fieldVersion], &rec.Version); err != nil || rec.Version == 0 {
		return store.Versioned{}, fmt.Errorf("load %s: invalid version %q", key, fields[fieldVersion])
	}
	rec.Data = []byte(fields[fieldData])
	return rec, nil
}

// Apply validates and writes cs in one optimistic Redis transaction.
func (b *Backend) Apply(ctx context.Context, cs *store.Changeset) error {
	watched := make([]string, 0, len(cs.Reads)+len(cs.Writes))
	seen := make(map[string]bool)
	for _, r := range cs.Reads {
		if !seen[r.Key] {
			seen[r.Key] = true
			watched = append(watched, b.redisKey(r.Key))
		}
	}
	for _, w := range cs.Writes {
		if !seen[w.Key] {
			seen[w.Key] = true
			watched = append(watched, b.redisKey(w.Key))
		}
	}

	err := b.client.Watch(ctx, func(tx *redis.Tx) error {
		type put struct {
			key     string
			version uint64
			data    []byte
		}
		var puts []put

		err := cs.Commit(
			func(key string) (uint64, error) {
				rec, err := b.load(ctx, tx, key)
				if errors.Is(err, store.ErrNotFound) {
					return 0, nil
				}
				return rec.Version, err
			},
			func(w store.Write, version uint64) error {
				puts = append(puts, put{key: b.redisKey(w.Key), version: version, data: w.Data})
				return nil
			},
		)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, p := range puts {
				pipe.HSet(ctx, p.key, fieldVersion, p.version, fieldData, p.data)
			}
			return nil
		})
		return err
	}, watched...)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: watched key changed", store.ErrConflict)
	}
	return err
}

// Close closes the client.
func (b *Backend) Close() error {
	return b.client.Close()
}
