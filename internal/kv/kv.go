// Package kv provides the durable key-value storage the reliability layer persists to.
//
// The layer does not care about the medium, only that writes survive a
// process restart. Backends:
//   - SQLite (default): single file, WAL mode, immediate transactions
//   - LevelDB: embedded LSM directory
//   - Redis: shared server; read-modify-write runs under WATCH/MULTI
//   - Memory: tests only, not durable
//
// Keys are plain strings scoped by the caller (see OperationsKey, CacheKey).
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("key not found")

// Store is a durable byte-oriented key-value store.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes value under key, replacing any previous value.
	// A nil error means the write is durable.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the backend.
	Close() error
}

// Updater is implemented by backends that can run a read-modify-write of
// one key atomically with respect to other processes using the same data.
type Updater interface {
	// Update calls fn with the current value of key (nil when absent) and
	// writes the value fn returns. A nil value from fn writes nothing. fn
	// may be called more than once when a concurrent write wins the race.
	Update(ctx context.Context, key string, fn func(old []byte) ([]byte, error)) error
}

// OperationsKey is the key of owner's operation collection.
func OperationsKey(owner string) string {
	return "operations:" + strings.ToLower(owner)
}

// CacheKey is the key of the cache entry for (owner, counterpart).
func CacheKey(owner, counterpart string) string {
	return "cache:" + strings.ToLower(owner) + ":" + strings.ToLower(counterpart)
}

// Backend names accepted by Open.
const (
	BackendSQLite  = "sqlite"
	BackendLevelDB = "leveldb"
	BackendRedis   = "redis"
	BackendMemory  = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend   string
	Path      string // sqlite file or leveldb directory
	RedisAddr string
	RedisDB   int
}

// Open opens the backend described by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendSQLite:
		return OpenSQLite(opts.Path)
	case BackendLevelDB:
		return OpenLevelDB(opts.Path)
	case BackendRedis:
		return DialRedis(ctx, opts.RedisAddr, opts.RedisDB)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
