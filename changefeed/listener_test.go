package changefeed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dailyyoga/mongoconfigs/logger"
	"github.com/dailyyoga/mongoconfigs/store"
	"github.com/dailyyoga/mongoconfigs/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recorder struct {
	mu            sync.Mutex
	events        []store.ChangeEvent
	invalidations []string
	applyErr      error
	onInvalidate  func()
}

func (r *recorder) Apply(_ context.Context, ev store.ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.applyErr
}

func (r *recorder) InvalidateAll(_ context.Context, collection string) {
	r.mu.Lock()
	r.invalidations = append(r.invalidations, collection)
	hook := r.onInvalidate
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (r *recorder) ops() []store.Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]store.Op, len(r.events))
	for i, ev := range r.events {
		ops[i] = ev.Op
	}
	return ops
}

func (r *recorder) ids() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]any, len(r.events))
	for i, ev := range r.events {
		ids[i] = ev.DocumentID
	}
	return ids
}

func (r *recorder) invalidated() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.invalidations...)
}

func fastConfig() *Config {
	return &Config{
		MaxReconnectAttempts: 5,
		BackoffBase:          5 * time.Millisecond,
		BackoffMax:           20 * time.Millisecond,
	}
}

func startListener(t *testing.T, log logger.Logger, cfg *Config, db *memstore.Store, h Handler) Listener {
	t.Helper()
	l, err := New(log, cfg, db, "shop", h)
	require.NoError(t, err)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.Stop(ctx)
	})
	waitState(t, l, StateStreaming)
	return l
}

func waitState(t *testing.T, l Listener, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return l.State() == want }, 2*time.Second, time.Millisecond,
		"listener never reached %s", want)
}

func upsert(t *testing.T, db *memstore.Store, id string, doc store.Document) {
	t.Helper()
	doc[store.IDField] = id
	_, err := db.BulkUpsert(context.Background(), "shop", []store.Upsert{{Filter: store.ByID(id), Document: doc}})
	require.NoError(t, err)
}

func TestNew_Validation(t *testing.T) {
	db := memstore.New(0)
	_, err := New(logger.Nop(), nil, db, "", &recorder{})
	assert.Error(t, err)
	_, err = New(logger.Nop(), nil, db, "shop", nil)
	assert.ErrorIs(t, err, ErrNilHandler)
	_, err = New(logger.Nop(), &Config{BackoffBase: time.Second, BackoffMax: time.Millisecond}, db, "shop", &recorder{})
	assert.Error(t, err)
}

func TestListener_StartStop(t *testing.T) {
	db := memstore.New(0)
	l, err := New(logger.Nop(), fastConfig(), db, "shop", &recorder{})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, l.State())
	assert.ErrorIs(t, l.Stop(context.Background()), ErrNotStarted)

	require.NoError(t, l.Start(context.Background()))
	assert.ErrorIs(t, l.Start(context.Background()), ErrAlreadyStarted)
	waitState(t, l, StateStreaming)
	assert.Equal(t, 1, db.OpenStreams())

	require.NoError(t, l.Stop(context.Background()))
	assert.Equal(t, StateStopped, l.State())
	assert.Equal(t, 0, db.OpenStreams(), "the cursor is released on stop")
	select {
	case <-l.Done():
	default:
		t.Fatal("Done is not closed after Stop")
	}
}

func TestListener_AppliesEventsInOrder(t *testing.T) {
	db := memstore.New(0)
	rec := &recorder{}
	startListener(t, logger.Nop(), fastConfig(), db, rec)
	ctx := context.Background()

	upsert(t, db, "en", store.Document{"greeting": "Hi"})
	require.NoError(t, db.Update(ctx, "shop", "en", store.Document{"greeting": "Hello"}))
	require.NoError(t, db.Delete(ctx, "shop", "en"))

	require.Eventually(t, func() bool { return len(rec.ops()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []store.Op{store.OpInsert, store.OpUpdate, store.OpDelete}, rec.ops())
}

func TestListener_HandlerErrorDoesNotStopStream(t *testing.T) {
	db := memstore.New(0)
	rec := &recorder{applyErr: errors.New("rejected")}
	l := startListener(t, logger.Nop(), fastConfig(), db, rec)

	upsert(t, db, "en", store.Document{})
	upsert(t, db, "pl", store.Document{})

	require.Eventually(t, func() bool { return len(rec.ops()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, StateStreaming, l.State())
}

func TestListener_ResumesAfterDisconnect(t *testing.T) {
	db := memstore.New(0)
	rec := &recorder{}
	l := startListener(t, logger.Nop(), fastConfig(), db, rec)

	upsert(t, db, "en", store.Document{})
	require.Eventually(t, func() bool { return len(rec.ops()) == 1 }, time.Second, time.Millisecond)

	db.Disconnect(nil)
	upsert(t, db, "pl", store.Document{})

	require.Eventually(t, func() bool { return len(rec.ops()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []any{"en", "pl"}, rec.ids(), "the event written while disconnected is delivered once")
	assert.Empty(t, rec.invalidated())
	waitState(t, l, StateStreaming)
	assert.Equal(t, 1, db.OpenStreams())
}

func TestListener_InvalidatesAllOnBrokenResume(t *testing.T) {
	db := memstore.New(0)
	rec := &recorder{}
	cfg := &Config{MaxReconnectAttempts: 5, BackoffBase: 200 * time.Millisecond, BackoffMax: time.Second}
	l := startListener(t, logger.Nop(), cfg, db, rec)

	upsert(t, db, "en", store.Document{})
	require.Eventually(t, func() bool { return len(rec.ops()) == 1 }, time.Second, time.Millisecond)

	// the update made while disconnected falls out of the retained history
	db.Disconnect(nil)
	upsert(t, db, "pl", store.Document{})
	db.TruncateHistory("shop")

	require.Eventually(t, func() bool { return len(rec.invalidated()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []string{"shop"}, rec.invalidated())
	assert.Equal(t, []any{"en"}, rec.ids(), "no resume across the gap")

	waitState(t, l, StateStreaming)
	upsert(t, db, "de", store.Document{})
	require.Eventually(t, func() bool { return len(rec.ops()) == 2 }, time.Second, time.Millisecond)
}

func TestListener_WriteDuringBrokenResumeInvalidationIsSeen(t *testing.T) {
	db := memstore.New(0)
	openAtInvalidation := -1
	rec := &recorder{}
	rec.onInvalidate = func() {
		openAtInvalidation = db.OpenStreams()
		// a reader refetches and another process writes right after the invalidation
		_, _ = db.BulkUpsert(context.Background(), "shop", []store.Upsert{{
			Filter:   store.ByID("fr"),
			Document: store.Document{store.IDField: "fr"},
		}})
	}
	cfg := &Config{MaxReconnectAttempts: 5, BackoffBase: 50 * time.Millisecond, BackoffMax: time.Second}
	startListener(t, logger.Nop(), cfg, db, rec)

	upsert(t, db, "en", store.Document{})
	require.Eventually(t, func() bool { return len(rec.ops()) == 1 }, time.Second, time.Millisecond)

	db.Disconnect(nil)
	upsert(t, db, "pl", store.Document{})
	db.TruncateHistory("shop")

	require.Eventually(t, func() bool { return len(rec.ops()) == 2 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []any{"en", "fr"}, rec.ids())
	assert.Equal(t, 1, openAtInvalidation, "the fresh stream is open before the collection is invalidated")
}

func TestListener_FailsAfterRetryBudget(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	db := memstore.New(0)
	down := store.ErrUnavailable("watch", "shop", errors.New("connection refused"))
	db.FailWatch(down, down, down, down)

	cfg := &Config{MaxReconnectAttempts: 3, BackoffBase: time.Millisecond, BackoffMax: 2 * time.Millisecond}
	l, err := New(zap.New(core), cfg, db, "shop", &recorder{})
	require.NoError(t, err)
	require.NoError(t, l.Start(context.Background()))

	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not give up")
	}
	assert.Equal(t, StateFailed, l.State())

	failed := recorded.FilterMessage("change feed failed, degrading to ttl expiry").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.ErrorLevel, failed[0].Level)
	assert.Equal(t, "shop", failed[0].ContextMap()["collection"])
	assert.Len(t, recorded.FilterMessage("change stream interrupted, reconnecting").All(), 3)
}

func TestListener_RecoversWithinBudget(t *testing.T) {
	db := memstore.New(0)
	down := store.ErrUnavailable("watch", "shop", errors.New("connection refused"))
	db.FailWatch(down, down)

	l, err := New(logger.Nop(), fastConfig(), db, "shop", &recorder{})
	require.NoError(t, err)
	require.NoError(t, l.Start(context.Background()))
	defer func() { _ = l.Stop(context.Background()) }()

	waitState(t, l, StateStreaming)
}

func TestListener_StopDuringBackoff(t *testing.T) {
	db := memstore.New(0)
	db.FailWatch(errors.New("down"))

	cfg := &Config{MaxReconnectAttempts: 3, BackoffBase: time.Hour, BackoffMax: time.Hour}
	l, err := New(logger.Nop(), cfg, db, "shop", &recorder{})
	require.NoError(t, err)
	require.NoError(t, l.Start(context.Background()))
	waitState(t, l, StateReconnecting)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Stop(ctx))
	assert.Equal(t, StateStopped, l.State())
}

func TestBackoff(t *testing.T) {
	base, max := 100*time.Millisecond, time.Second
	for n := 1; n <= 8; n++ {
		want := base << (n - 1)
		if want > max {
			want = max
		}
		for i := 0; i < 20; i++ {
			got := backoff(base, max, n)
			assert.GreaterOrEqual(t, got, want*3/4, "attempt %d", n)
			assert.LessOrEqual(t, got, want*5/4, "attempt %d", n)
		}
	}
}
