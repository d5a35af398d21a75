// Package cache provides the loading cache that every read is served from.
//
// Entries are keyed by (collection, language) and loaded on demand through a
// Loader. The cache guarantees:
//   - concurrent misses on one key share a single Loader call
//   - failed loads are never cached; the next read tries again
//   - an entry older than the refresh-after-write interval, or one marked with
//     Revalidate, is still served while a background load replaces it
//   - an entry removed with Invalidate is never served again; the next read waits for a fresh load
//   - a load that started before an Invalidate, Revalidate or Put never overwrites their effect
//
// Writers (Put, Update, Invalidate*) hold the collection's write lock. Code
// that needs a consistent view across several keys of one collection holds
// RLock for the duration and reads with Peek.
package cache

import (
	"context"
	"fmt"
)

// Key identifies a cache entry. Typed objects use an empty Language.
type Key struct {
	Collection string
	Language   string
}

func (k Key) String() string {
	if k.Language == "" {
		return k.Collection
	}
	return fmt.Sprintf("%s/%s", k.Collection, k.Language)
}

// Loader fetches the value for key from the backing store.
// ctx carries the cache's fetch timeout and is not tied to any single reader.
type Loader[V any] func(ctx context.Context, key Key) (V, error)

// Stats is a snapshot of cache counters
type Stats struct {
	Entries   int
	Hits      uint64
	Misses    uint64
	Loads     uint64
	LoadFails uint64
	Evictions uint64
}

// Cache is a concurrent loading cache
type Cache[V any] interface {
	// Get returns the cached value, loading it if missing.
	// Cancelling ctx stops the wait; an in-flight load still completes and is cached.
	Get(ctx context.Context, key Key) (V, error)

	// Peek returns the cached value without loading or refreshing
	Peek(key Key) (V, bool)

	// Put atomically replaces the entry for key
	Put(key Key, value V)

	// Update replaces the entry for key with fn's result while holding the collection write lock.
	// It returns ErrNotCached when key has no entry; when fn fails the entry is left untouched.
	Update(key Key, fn func(current V) (V, error)) error

	// Invalidate drops key; the next Get waits for a fresh load
	Invalidate(key Key)

	// InvalidateCollection drops every entry of collection
	InvalidateCollection(collection string)

	// InvalidateAll drops every entry
	InvalidateAll()

	// Revalidate keeps serving key while a background load replaces it
	Revalidate(key Key)

	// RevalidateCollection revalidates every cached entry of collection except the listed keys
	RevalidateCollection(collection string, except ...Key)

	// Reload drops key and waits for a fresh load
	Reload(ctx context.Context, key Key) (V, error)

	// Keys returns the cached keys of collection
	Keys(collection string) []Key

	// RLock takes the collection read lock and returns its release function
	RLock(collection string) (unlock func())

	// Stats returns the cache counters
	Stats() Stats

	// Close stops background expiry; later calls fail with ErrCacheClosed
	Close()
}
