package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dailyyoga/mongoconfigs/logger"
	"github.com/dailyyoga/mongoconfigs/routine"
	"github.com/dailyyoga/mongoconfigs/store"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type entry[V any] struct {
	value    V
	loadedAt time.Time
	stale    atomic.Bool
}

// version identifies the write state a load started from.
// A load result is stored only if the version is unchanged when it completes.
type version struct {
	col uint64
	key uint64
}

type loadingCache[V any] struct {
	log    logger.Logger
	loader Loader[V]
	now    func() time.Time

	name         string
	refreshAfter time.Duration
	fetchTimeout time.Duration

	items      *ttlcache.Cache[Key, *entry[V]]
	group      singleflight.Group
	refreshing sync.Map

	// mu guards the maps below; it is never held while taking a collection lock
	mu     sync.Mutex
	locks  map[string]*sync.RWMutex
	colGen map[string]uint64
	keyGen map[Key]uint64

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	loads     atomic.Uint64
	loadFails atomic.Uint64
}

// New creates a loading cache backed by loader
func New[V any](log logger.Logger, cfg *Config, loader Loader[V]) (Cache[V], error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.MergeDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if loader == nil {
		return nil, ErrNilLoader
	}

	items := ttlcache.New(
		ttlcache.WithTTL[Key, *entry[V]](cfg.TTL),
		ttlcache.WithCapacity[Key, *entry[V]](cfg.MaxSize),
		ttlcache.WithDisableTouchOnHit[Key, *entry[V]](),
	)

	ctx, cancel := context.WithCancel(context.Background())
	c := &loadingCache[V]{
		log:          log,
		loader:       loader,
		now:          time.Now,
		name:         cfg.Name,
		refreshAfter: cfg.RefreshAfterWrite,
		fetchTimeout: cfg.FetchTimeout,
		items:        items,
		locks:        make(map[string]*sync.RWMutex),
		colGen:       make(map[string]uint64),
		keyGen:       make(map[Key]uint64),
		ctx:          ctx,
		cancel:       cancel,
	}

	items.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[Key, *entry[V]]) {
		if reason == ttlcache.EvictionReasonCapacityReached {
			c.log.Debug("cache entry evicted for capacity",
				zap.String("cache", c.name),
				zap.Stringer("key", item.Key()),
			)
		}
	})
	routine.GoNamed(log, c.name+"-expiry", items.Start)

	return c, nil
}

func (c *loadingCache[V]) Get(ctx context.Context, key Key) (V, error) {
	var zero V
	if c.closed.Load() {
		return zero, ErrCacheClosed
	}
	if item := c.items.Get(key); item != nil {
		e := item.Value()
		if e.stale.Load() || c.now().Sub(e.loadedAt) >= c.refreshAfter {
			c.refresh(key)
		}
		return e.value, nil
	}
	return c.load(ctx, key)
}

func (c *loadingCache[V]) Peek(key Key) (V, bool) {
	if item := c.items.Get(key); item != nil {
		return item.Value().value, true
	}
	var zero V
	return zero, false
}

func (c *loadingCache[V]) Put(key Key, value V) {
	unlock := c.lock(key.Collection)
	defer unlock()

	c.bumpKey(key)
	c.items.Set(key, &entry[V]{value: value, loadedAt: c.now()}, ttlcache.DefaultTTL)
}

func (c *loadingCache[V]) Update(key Key, fn func(current V) (V, error)) error {
	if c.closed.Load() {
		return ErrCacheClosed
	}
	unlock := c.lock(key.Collection)
	defer unlock()

	item := c.items.Get(key)
	if item == nil {
		return ErrNotCached
	}
	next, err := fn(item.Value().value)
	if err != nil {
		return err
	}
	c.bumpKey(key)
	c.items.Set(key, &entry[V]{value: next, loadedAt: c.now()}, ttlcache.DefaultTTL)
	return nil
}

func (c *loadingCache[V]) Invalidate(key Key) {
	unlock := c.lock(key.Collection)
	defer unlock()

	c.bumpKey(key)
	c.items.Delete(key)
}

func (c *loadingCache[V]) InvalidateCollection(collection string) {
	unlock := c.lock(collection)
	defer unlock()

	c.mu.Lock()
	c.colGen[collection]++
	c.mu.Unlock()

	for _, key := range c.items.Keys() {
		if key.Collection == collection {
			c.items.Delete(key)
		}
	}
	c.log.Debug("cache collection invalidated", zap.String("cache", c.name), zap.String("collection", collection))
}

func (c *loadingCache[V]) InvalidateAll() {
	c.mu.Lock()
	collections := make([]string, 0, len(c.locks))
	for name := range c.locks {
		collections = append(collections, name)
	}
	c.mu.Unlock()

	seen := make(map[string]struct{}, len(collections))
	for _, name := range collections {
		seen[name] = struct{}{}
	}
	for _, key := range c.items.Keys() {
		if _, ok := seen[key.Collection]; !ok {
			seen[key.Collection] = struct{}{}
			collections = append(collections, key.Collection)
		}
	}
	sort.Strings(collections)

	for _, name := range collections {
		c.InvalidateCollection(name)
	}
}

func (c *loadingCache[V]) Revalidate(key Key) {
	unlock := c.lock(key.Collection)
	item := c.items.Get(key)
	if item == nil {
		unlock()
		return
	}
	c.bumpKey(key)
	item.Value().stale.Store(true)
	unlock()

	c.refresh(key)
}

func (c *loadingCache[V]) RevalidateCollection(collection string, except ...Key) {
	for _, key := range c.Keys(collection) {
		skip := false
		for _, ex := range except {
			if key == ex {
				skip = true
				break
			}
		}
		if !skip {
			c.Revalidate(key)
		}
	}
}

func (c *loadingCache[V]) Reload(ctx context.Context, key Key) (V, error) {
	var zero V
	if c.closed.Load() {
		return zero, ErrCacheClosed
	}
	c.Invalidate(key)
	return c.load(ctx, key)
}

func (c *loadingCache[V]) Keys(collection string) []Key {
	var keys []Key
	for _, key := range c.items.Keys() {
		if key.Collection == collection {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Language < keys[j].Language })
	return keys
}

func (c *loadingCache[V]) RLock(collection string) func() {
	l := c.lockFor(collection)
	l.RLock()
	return l.RUnlock
}

func (c *loadingCache[V]) Stats() Stats {
	m := c.items.Metrics()
	return Stats{
		Entries:   c.items.Len(),
		Hits:      m.Hits,
		Misses:    m.Misses,
		Evictions: m.Evictions,
		Loads:     c.loads.Load(),
		LoadFails: c.loadFails.Load(),
	}
}

func (c *loadingCache[V]) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.cancel()
	c.items.Stop()
	c.log.Info("cache closed", zap.String("cache", c.name))
}

// load joins or starts the single in-flight load for key and waits for it
func (c *loadingCache[V]) load(ctx context.Context, key Key) (V, error) {
	var zero V
	v := c.version(key)
	ch := c.group.DoChan(flightKey(key, v), func() (any, error) {
		return c.fetch(key, v)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		val, _ := res.Val.(V)
		return val, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// refresh starts a background load for key unless one is already running
func (c *loadingCache[V]) refresh(key Key) {
	if c.closed.Load() {
		return
	}
	v := c.version(key)
	fk := flightKey(key, v)
	if _, running := c.refreshing.LoadOrStore(fk, struct{}{}); running {
		return
	}

	ch := c.group.DoChan(fk, func() (any, error) {
		return c.fetch(key, v)
	})
	routine.GoNamed(c.log, c.name+"-refresh", func() {
		defer c.refreshing.Delete(fk)
		if res := <-ch; res.Err != nil {
			c.log.Warn("background refresh failed, serving previous value",
				zap.String("cache", c.name),
				zap.Stringer("key", key),
				zap.Error(res.Err),
			)
		}
	})
}

// fetch runs the loader on the cache's own context so that no single reader can cancel it
func (c *loadingCache[V]) fetch(key Key, v version) (any, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.fetchTimeout)
	defer cancel()

	c.loads.Add(1)
	var val V
	err := routine.Safe(func() error {
		var err error
		val, err = c.loader(ctx, key)
		return err
	})
	if err != nil {
		c.loadFails.Add(1)
		var timeout *store.TimeoutError
		if !errors.As(err, &timeout) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = store.ErrTimeout("find", key.Collection, c.fetchTimeout, err)
		}
		return nil, ErrLoad(key, err)
	}

	unlock := c.lock(key.Collection)
	defer unlock()
	if c.version(key) != v {
		c.log.Debug("discarding load superseded by a newer write",
			zap.String("cache", c.name),
			zap.Stringer("key", key),
		)
		return val, nil
	}
	c.items.Set(key, &entry[V]{value: val, loadedAt: c.now()}, ttlcache.DefaultTTL)
	return val, nil
}

func (c *loadingCache[V]) lockFor(collection string) *sync.RWMutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lockForLocked(collection)
}

func (c *loadingCache[V]) lockForLocked(collection string) *sync.RWMutex {
	l, ok := c.locks[collection]
	if !ok {
		l = &sync.RWMutex{}
		c.locks[collection] = l
	}
	return l
}

func (c *loadingCache[V]) lock(collection string) func() {
	l := c.lockFor(collection)
	l.Lock()
	return l.Unlock
}

// version also registers the collection so InvalidateAll sees loads that have not stored anything yet
func (c *loadingCache[V]) version(key Key) version {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lockForLocked(key.Collection)
	return version{col: c.colGen[key.Collection], key: c.keyGen[key]}
}

func (c *loadingCache[V]) bumpKey(key Key) {
	c.mu.Lock()
	c.keyGen[key]++
	c.mu.Unlock()
}

func flightKey(key Key, v version) string {
	return fmt.Sprintf("%s\x00%s\x00%d.%d", key.Collection, key.Language, v.col, v.key)
}
