// Package cache holds remote read results with bounded freshness.
//
// Entries are keyed by (owner, counterpart) and persisted through the same
// durable key-value store as operations, under kv.CacheKey. An entry older
// than the caller's maxAge is evicted on access and reported absent; callers
// cannot tell a miss from an expiry.
//
// The cache validates freshness only. Whether cached correspondence may be
// trusted (e.g. the counterpart is still eligible) is the caller's check.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/userops/internal/codec"
	"github.com/roach88/userops/internal/keylock"
	"github.com/roach88/userops/internal/kv"
)

// SchemaVersion is stamped on every entry. Entries with another version are
// discarded instead of being misread.
const SchemaVersion = 1

// DefaultMaxAge is the freshness bound for live chat reads.
const DefaultMaxAge = 30 * time.Second

type entry[T any] struct {
	Values        []T       `json:"values"`
	CachedAt      time.Time `json:"cached_at"`
	SchemaVersion int       `json:"schema_version"`
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the wall clock. Used by tests to advance time.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Cache is a TTL-bounded, versioned read cache.
//
// Thread-safety: safe for concurrent use. Read-evict-return is atomic per key;
// different keys never coordinate.
type Cache[T any] struct {
	kv    kv.Store
	locks *keylock.Map
	now   func() time.Time
}

// New creates a Cache persisting to backend.
func New[T any](backend kv.Store, opts ...Option) *Cache[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[T]{kv: backend, locks: keylock.New(), now: o.now}
}

// Get returns the cached values for (owner, counterpart) if present and no
// older than maxAge. A maxAge <= 0 means DefaultMaxAge.
//
// Expired, unreadable, and wrong-version entries are evicted and reported absent.
func (c *Cache[T]) Get(ctx context.Context, owner, counterpart string, maxAge time.Duration) ([]T, bool) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	key := kv.CacheKey(owner, counterpart)
	unlock := c.locks.Lock(key)
	defer unlock()

	data, err := c.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		slog.Warn("cache read failed", "key", key, "error", err)
		return nil, false
	}

	var e entry[T]
	if err := codec.Unmarshal(data, &e); err != nil {
		slog.Warn("discarding unreadable cache entry", "key", key, "error", err)
		c.evict(ctx, key)
		return nil, false
	}
	if err := codec.CheckVersion(e.SchemaVersion, SchemaVersion); err != nil {
		slog.Debug("discarding cache entry", "key", key, "error", err)
		c.evict(ctx, key)
		return nil, false
	}

	age := c.now().Sub(e.CachedAt)
	if age > maxAge {
		slog.Debug("cache entry expired", "key", key, "age", age, "max_age", maxAge)
		c.evict(ctx, key)
		return nil, false
	}

	if e.Values == nil {
		e.Values = []T{}
	}
	return e.Values, true
}

// Put overwrites the entry for (owner, counterpart), stamping the current
// time and schema version. Failures are logged, never surfaced: the next
// read simply misses and falls through to the remote call.
func (c *Cache[T]) Put(ctx context.Context, owner, counterpart string, values []T) {
	key := kv.CacheKey(owner, counterpart)
	unlock := c.locks.Lock(key)
	defer unlock()

	if values == nil {
		values = []T{}
	}
	data, err := codec.Marshal(entry[T]{
		Values:        values,
		CachedAt:      c.now().UTC(),
		SchemaVersion: SchemaVersion,
	})
	if err != nil {
		slog.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.kv.Put(ctx, key, data); err != nil {
		slog.Warn("cache write failed", "key", key, "error", err)
	}
}

// Purge removes the entry for (owner, counterpart).
func (c *Cache[T]) Purge(ctx context.Context, owner, counterpart string) {
	key := kv.CacheKey(owner, counterpart)
	unlock := c.locks.Lock(key)
	defer unlock()
	c.evict(ctx, key)
}

func (c *Cache[T]) evict(ctx context.Context, key string) {
	if err := c.kv.Delete(ctx, key); err != nil {
		slog.Warn("cache eviction failed", "key", key, "error", err)
	}
}
