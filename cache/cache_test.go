package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dailyyoga/mongoconfigs/logger"
	"github.com/dailyyoga/mongoconfigs/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	shopEN = Key{Collection: "shop", Language: "en"}
	shopPL = Key{Collection: "shop", Language: "pl"}
	shopDE = Key{Collection: "shop", Language: "de"}
)

type fakeClock struct {
	offset atomic.Int64
}

func (f *fakeClock) now() time.Time {
	return time.Now().Add(time.Duration(f.offset.Load()))
}

func (f *fakeClock) advance(d time.Duration) {
	f.offset.Add(int64(d))
}

func newTestCache(t *testing.T, cfg *Config, loader Loader[string]) (*loadingCache[string], *fakeClock) {
	t.Helper()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.Name = "test"
	c, err := New(logger.Nop(), cfg, loader)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	lc := c.(*loadingCache[string])
	clock := &fakeClock{}
	lc.now = clock.now
	return lc, clock
}

// versionedLoader returns "<key>#<n>" where n counts calls per key
type versionedLoader struct {
	mu    sync.Mutex
	calls map[Key]int
}

func (l *versionedLoader) load(_ context.Context, key Key) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.calls == nil {
		l.calls = make(map[Key]int)
	}
	l.calls[key]++
	return fmt.Sprintf("%s#%d", key, l.calls[key]), nil
}

func (l *versionedLoader) count(key Key) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[key]
}

func TestNew_Validation(t *testing.T) {
	_, err := New[string](logger.Nop(), &Config{}, func(context.Context, Key) (string, error) { return "", nil })
	assert.Error(t, err, "name is required")

	_, err = New[string](logger.Nop(), &Config{Name: "x"}, nil)
	assert.ErrorIs(t, err, ErrNilLoader)

	cfg := &Config{Name: "x", TTL: time.Minute, RefreshAfterWrite: time.Hour}
	_, err = New[string](logger.Nop(), cfg, func(context.Context, Key) (string, error) { return "", nil })
	assert.Error(t, err, "refresh after write must be below ttl")
}

func TestGet_SingleLoaderPerMiss(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	c, _ := newTestCache(t, nil, func(ctx context.Context, key Key) (string, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return "value", nil
	})

	const readers = 50
	var wg sync.WaitGroup
	results := make(chan string, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(context.Background(), shopEN)
			assert.NoError(t, err)
			results <- v
		}()
	}

	<-started
	// let the remaining readers join the in-flight load
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	assert.Equal(t, int32(1), calls.Load())
	for v := range results {
		assert.Equal(t, "value", v)
	}
	assert.Equal(t, uint64(1), c.Stats().Loads)
}

func TestGet_FailedLoadIsNotCached(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32
	c, _ := newTestCache(t, nil, func(context.Context, Key) (string, error) {
		if calls.Add(1) == 1 {
			return "", boom
		}
		return "ok", nil
	})

	_, err := c.Get(context.Background(), shopEN)
	require.ErrorIs(t, err, boom)
	_, cached := c.Peek(shopEN)
	assert.False(t, cached)

	v, err := c.Get(context.Background(), shopEN)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, uint64(1), c.Stats().LoadFails)
}

func TestGet_TimeoutFailsWithTimeoutError(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestCache(t, &Config{FetchTimeout: 20 * time.Millisecond}, func(ctx context.Context, key Key) (string, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "late", nil
	})

	_, err := c.Get(context.Background(), shopEN)
	var timeout *store.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "shop", timeout.Collection)
	assert.True(t, store.IsTransient(err))

	v, err := c.Get(context.Background(), shopEN)
	require.NoError(t, err)
	assert.Equal(t, "late", v)
}

func TestGet_LoaderPanicIsReturned(t *testing.T) {
	c, _ := newTestCache(t, nil, func(context.Context, Key) (string, error) {
		panic("loader bug")
	})

	_, err := c.Get(context.Background(), shopEN)
	assert.Error(t, err)
}

func TestGet_CallerCancelDoesNotCancelLoad(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	c, _ := newTestCache(t, nil, func(ctx context.Context, key Key) (string, error) {
		close(started)
		select {
		case <-release:
			return "loaded", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, shopEN)
		errCh <- err
	}()

	<-started
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	require.Eventually(t, func() bool {
		v, ok := c.Peek(shopEN)
		return ok && v == "loaded"
	}, time.Second, 5*time.Millisecond)
}

func TestGet_RefreshAfterWriteServesPreviousValue(t *testing.T) {
	loader := &versionedLoader{}
	c, clock := newTestCache(t, &Config{TTL: time.Hour, RefreshAfterWrite: time.Minute}, loader.load)

	v, err := c.Get(context.Background(), shopEN)
	require.NoError(t, err)
	assert.Equal(t, "shop/en#1", v)

	clock.advance(2 * time.Minute)

	v, err = c.Get(context.Background(), shopEN)
	require.NoError(t, err)
	assert.Equal(t, "shop/en#1", v, "old value is served while refreshing")

	require.Eventually(t, func() bool {
		v, _ := c.Peek(shopEN)
		return v == "shop/en#2"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, loader.count(shopEN))
}

func TestInvalidate_NextGetWaitsForFreshLoad(t *testing.T) {
	loader := &versionedLoader{}
	c, _ := newTestCache(t, nil, loader.load)

	_, err := c.Get(context.Background(), shopEN)
	require.NoError(t, err)

	c.Invalidate(shopEN)
	_, cached := c.Peek(shopEN)
	assert.False(t, cached)

	v, err := c.Get(context.Background(), shopEN)
	require.NoError(t, err)
	assert.Equal(t, "shop/en#2", v)
}

func TestLoadStartedBeforePutDoesNotOverwrite(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	c, _ := newTestCache(t, nil, func(ctx context.Context, key Key) (string, error) {
		close(started)
		<-release
		return "from-store", nil
	})

	done := make(chan string, 1)
	go func() {
		v, _ := c.Get(context.Background(), shopEN)
		done <- v
	}()

	<-started
	c.Put(shopEN, "written")
	close(release)

	assert.Equal(t, "from-store", <-done, "the waiter still gets its own load")
	v, ok := c.Peek(shopEN)
	require.True(t, ok)
	assert.Equal(t, "written", v)
}

func TestLoadStartedBeforeInvalidateCollectionIsDiscarded(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	c, _ := newTestCache(t, nil, func(ctx context.Context, key Key) (string, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			return "old", nil
		}
		return "new", nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Get(context.Background(), shopEN)
	}()

	<-started
	c.InvalidateCollection("shop")
	close(release)
	<-done

	_, cached := c.Peek(shopEN)
	assert.False(t, cached)

	v, err := c.Get(context.Background(), shopEN)
	require.NoError(t, err)
	assert.Equal(t, "new", v)
}

func TestUpdate(t *testing.T) {
	loader := &versionedLoader{}
	c, _ := newTestCache(t, nil, loader.load)

	err := c.Update(shopEN, func(cur string) (string, error) { return cur + "!", nil })
	assert.ErrorIs(t, err, ErrNotCached)

	_, err = c.Get(context.Background(), shopEN)
	require.NoError(t, err)

	require.NoError(t, c.Update(shopEN, func(cur string) (string, error) { return cur + "!", nil }))
	v, _ := c.Peek(shopEN)
	assert.Equal(t, "shop/en#1!", v)

	bad := errors.New("rejected")
	err = c.Update(shopEN, func(string) (string, error) { return "broken", bad })
	assert.ErrorIs(t, err, bad)
	v, _ = c.Peek(shopEN)
	assert.Equal(t, "shop/en#1!", v, "failed update keeps the previous value")
}

func TestRevalidateCollection_SkipsExcepted(t *testing.T) {
	loader := &versionedLoader{}
	c, _ := newTestCache(t, nil, loader.load)

	for _, k := range []Key{shopEN, shopPL, shopDE} {
		_, err := c.Get(context.Background(), k)
		require.NoError(t, err)
	}

	c.RevalidateCollection("shop", shopEN)

	// stale entries remain readable until their refresh lands
	_, ok := c.Peek(shopPL)
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		return loader.count(shopPL) == 2 && loader.count(shopDE) == 2
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		v, _ := c.Peek(shopPL)
		return v == "shop/pl#2"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, loader.count(shopEN))
}

func TestKeysAndInvalidateAll(t *testing.T) {
	loader := &versionedLoader{}
	c, _ := newTestCache(t, nil, loader.load)

	other := Key{Collection: "gui", Language: "en"}
	for _, k := range []Key{shopPL, shopEN, other} {
		_, err := c.Get(context.Background(), k)
		require.NoError(t, err)
	}

	assert.Equal(t, []Key{shopEN, shopPL}, c.Keys("shop"))
	assert.Equal(t, []Key{other}, c.Keys("gui"))

	c.InvalidateAll()
	assert.Empty(t, c.Keys("shop"))
	assert.Empty(t, c.Keys("gui"))
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestReload_FetchesEagerly(t *testing.T) {
	loader := &versionedLoader{}
	c, _ := newTestCache(t, nil, loader.load)

	_, err := c.Get(context.Background(), shopEN)
	require.NoError(t, err)

	v, err := c.Reload(context.Background(), shopEN)
	require.NoError(t, err)
	assert.Equal(t, "shop/en#2", v)
	cached, _ := c.Peek(shopEN)
	assert.Equal(t, "shop/en#2", cached)
}

func TestMaxSizeEvicts(t *testing.T) {
	loader := &versionedLoader{}
	c, _ := newTestCache(t, &Config{MaxSize: 2}, loader.load)

	for _, k := range []Key{shopEN, shopPL, shopDE} {
		_, err := c.Get(context.Background(), k)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Stats().Entries)
}

func TestClose(t *testing.T) {
	loader := &versionedLoader{}
	c, _ := newTestCache(t, nil, loader.load)

	c.Close()
	c.Close()

	_, err := c.Get(context.Background(), shopEN)
	assert.ErrorIs(t, err, ErrCacheClosed)
	assert.ErrorIs(t, c.Update(shopEN, func(s string) (string, error) { return s, nil }), ErrCacheClosed)
}
