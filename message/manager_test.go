package message

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dailyyoga/mongoconfigs/logger"
	"github.com/dailyyoga/mongoconfigs/routine"
	"github.com/dailyyoga/mongoconfigs/store"
	"github.com/dailyyoga/mongoconfigs/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, db store.Client) *Manager {
	t.Helper()
	pool, err := routine.NewPool(logger.Nop(), &routine.PoolConfig{Name: "test", Size: 4})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	cfg := &Config{
		DefaultLanguage:    "en",
		SupportedLanguages: []string{"en", "pl", "de"},
		Collections:        []string{"shop"},
	}
	m, err := New(logger.Nop(), cfg, db, pool)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func seed(t *testing.T, db *memstore.Store, coll string, docs ...store.Document) {
	t.Helper()
	ups := make([]store.Upsert, len(docs))
	for i, d := range docs {
		ups[i] = store.Upsert{Filter: store.ByID(d.ID()), Document: d}
	}
	_, err := db.BulkUpsert(context.Background(), coll, ups)
	require.NoError(t, err)
}

func shopCatalog(t *testing.T) *memstore.Store {
	db := memstore.New(0)
	seed(t, db, "shop",
		store.Document{"_id": "en", "language": "en", "greeting": "Hi {0}", "farewell": "Bye",
			"menu": map[string]any{"title": "Shop", "lore": []any{"Line one", "Line two"}}},
		store.Document{"_id": "pl", "language": "pl", "farewell": "Pa"},
	)
	return db
}

func TestResolve_FallbackScenario(t *testing.T) {
	m := newTestManager(t, shopCatalog(t))
	ctx := context.Background()

	res, err := m.Resolve(ctx, "shop", "pl", "greeting")
	require.NoError(t, err)
	assert.True(t, res.Found())
	assert.True(t, res.FromDefault)
	assert.Equal(t, "Hi {0}", res.String())
	assert.Equal(t, "Hi Bob", res.With("Bob").String())

	got, err := m.Get(ctx, "shop", "pl", "greeting", "Bob").Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Hi Bob", got.String())
}

func TestResolve_FallbackDeterminism(t *testing.T) {
	m := newTestManager(t, shopCatalog(t))
	ctx := context.Background()

	for _, path := range []string{"greeting", "menu.title", "menu.lore"} {
		for _, lang := range []string{"pl", "de", "fr"} {
			got, err := m.Resolve(ctx, "shop", lang, path)
			require.NoError(t, err)
			want, err := m.Resolve(ctx, "shop", "en", path)
			require.NoError(t, err)
			assert.Equal(t, want.Value, got.Value, "%s/%s", lang, path)
		}
	}
}

func TestResolve_RequestedLanguageWins(t *testing.T) {
	m := newTestManager(t, shopCatalog(t))

	res, err := m.Resolve(context.Background(), "shop", "pl", "farewell")
	require.NoError(t, err)
	assert.Equal(t, "Pa", res.String())
	assert.False(t, res.FromDefault)
}

func TestResolve_Missing(t *testing.T) {
	m := newTestManager(t, shopCatalog(t))

	res, err := m.Resolve(context.Background(), "shop", "pl", "nope")
	require.NoError(t, err, "a missing path is not an error")
	assert.False(t, res.Found())
	require.NotNil(t, res.Missing)
	assert.Equal(t, "pl", res.Missing.Language)
	assert.Equal(t, "nope", res.Missing.Path)
	assert.Equal(t, "Missing message: nope for pl", res.String())

	var missing *MissingMessage
	assert.True(t, errors.As(res.Err(), &missing))
}

func TestResolve_ListsJoinWithNewline(t *testing.T) {
	m := newTestManager(t, shopCatalog(t))

	res, err := m.Resolve(context.Background(), "shop", "en", "menu.lore")
	require.NoError(t, err)
	assert.True(t, res.Value.IsList())
	assert.Equal(t, []string{"Line one", "Line two"}, res.Lines())
	assert.Equal(t, "Line one\nLine two", res.String())
}

func TestResolve_NotRegistered(t *testing.T) {
	m := newTestManager(t, shopCatalog(t))

	_, err := m.Resolve(context.Background(), "gui", "en", "x")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestResolve_StoreFailureIsReturnedAndRetried(t *testing.T) {
	db := shopCatalog(t)
	m := newTestManager(t, db)
	boom := store.ErrUnavailable("find", "shop", errors.New("connection refused"))

	db.SetFindError(boom)
	_, err := m.Resolve(context.Background(), "shop", "en", "greeting")
	require.Error(t, err)
	assert.True(t, store.IsTransient(err))

	db.SetFindError(nil)
	res, err := m.Resolve(context.Background(), "shop", "en", "greeting")
	require.NoError(t, err)
	assert.True(t, res.Found())
}

// failingFind fails every Find for one document id
type failingFind struct {
	*memstore.Store
	id  string
	err error
}

func (f *failingFind) Find(ctx context.Context, collection string, filter store.Filter) (store.Document, error) {
	if filter["_id"] == f.id {
		return nil, f.err
	}
	return f.Store.Find(ctx, collection, filter)
}

func TestResolve_RequestedLanguageDoesNotNeedDefault(t *testing.T) {
	db := shopCatalog(t)
	boom := store.ErrUnavailable("find", "shop", errors.New("boom"))
	m := newTestManager(t, &failingFind{Store: db, id: "en", err: boom})
	ctx := context.Background()

	res, err := m.Resolve(ctx, "shop", "pl", "farewell")
	require.NoError(t, err)
	assert.Equal(t, "Pa", res.String())
	assert.False(t, res.FromDefault)
	assert.Equal(t, 1, db.FindCalls("shop"), "the default language is not fetched")

	_, err = m.Resolve(ctx, "shop", "pl", "greeting")
	assert.ErrorIs(t, err, boom, "a fallback still needs the default language")
}

func TestResolve_ConcurrentMissesLoadOnce(t *testing.T) {
	db := shopCatalog(t)
	db.SetFindDelay(20 * time.Millisecond)
	m := newTestManager(t, db)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Resolve(context.Background(), "shop", "en", "greeting")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, db.FindCalls("shop"))
}

func TestApply_LanguageUpdateIsVisible(t *testing.T) {
	db := shopCatalog(t)
	m := newTestManager(t, db)
	ctx := context.Background()

	_, err := m.Resolve(ctx, "shop", "pl", "greeting")
	require.NoError(t, err)

	require.NoError(t, db.Update(ctx, "shop", "pl", store.Document{"greeting": "Cześć {0}"}))
	require.NoError(t, m.Apply(ctx, store.ChangeEvent{Collection: "shop", Op: store.OpUpdate, DocumentID: "pl"}))

	res, err := m.Resolve(ctx, "shop", "pl", "greeting")
	require.NoError(t, err)
	assert.Equal(t, "Cześć Bob", res.With("Bob").String())
}

func TestApply_DefaultUpdateRevalidatesOtherLanguages(t *testing.T) {
	db := shopCatalog(t)
	m := newTestManager(t, db)
	ctx := context.Background()

	_, err := m.Resolve(ctx, "shop", "pl", "greeting")
	require.NoError(t, err)
	plCalls := db.FindCalls("shop")

	require.NoError(t, db.Update(ctx, "shop", "en", store.Document{"greeting": "Hello {0}"}))
	require.NoError(t, m.Apply(ctx, store.ChangeEvent{Collection: "shop", Op: store.OpUpdate, DocumentID: "en"}))

	res, err := m.Resolve(ctx, "shop", "pl", "greeting")
	require.NoError(t, err)
	assert.Equal(t, "Hello {0}", res.String(), "the default entry was dropped and reloaded")

	// en reload plus the background pl refresh
	require.Eventually(t, func() bool {
		return db.FindCalls("shop") >= plCalls+2
	}, time.Second, 5*time.Millisecond)
}

func TestApply_InvalidateDropsCollection(t *testing.T) {
	db := shopCatalog(t)
	m := newTestManager(t, db)
	ctx := context.Background()

	_, err := m.Resolve(ctx, "shop", "pl", "greeting")
	require.NoError(t, err)

	require.NoError(t, m.Apply(ctx, store.ChangeEvent{Collection: "shop", Op: store.OpInvalidate}))
	assert.Equal(t, 0, m.Stats().Entries)

	assert.NoError(t, m.Apply(ctx, store.ChangeEvent{Collection: "other", Op: store.OpInvalidate}), "unregistered collections are ignored")
}

func TestApply_DuplicateEventsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		ev   store.ChangeEvent
		// background refreshes started by one delivery
		refreshes int
	}{
		{"update", store.ChangeEvent{Collection: "shop", Op: store.OpUpdate, DocumentID: "pl", Updated: store.Document{"farewell": "Nara"}, Token: store.ResumeToken("t1")}, 0},
		{"delete", store.ChangeEvent{Collection: "shop", Op: store.OpDelete, DocumentID: "pl", Token: store.ResumeToken("t2")}, 0},
		{"default language", store.ChangeEvent{Collection: "shop", Op: store.OpUpdate, DocumentID: "en", Updated: store.Document{"greeting": "Hello {0}"}, Token: store.ResumeToken("t3")}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			once, twice := shopCatalog(t), shopCatalog(t)
			single, double := newTestManager(t, once), newTestManager(t, twice)

			for _, m := range []*Manager{single, double} {
				_, err := m.Resolve(ctx, "shop", "pl", "greeting")
				require.NoError(t, err)
			}
			base := once.FindCalls("shop")
			require.NoError(t, single.Apply(ctx, tc.ev))
			require.NoError(t, double.Apply(ctx, tc.ev))
			require.NoError(t, double.Apply(ctx, tc.ev))

			require.Eventually(t, func() bool {
				return once.FindCalls("shop") == base+tc.refreshes && twice.FindCalls("shop") == base+tc.refreshes
			}, time.Second, 5*time.Millisecond)
			assert.Equal(t, single.Stats().Entries, double.Stats().Entries)

			for _, path := range []string{"greeting", "farewell"} {
				want, err := single.Resolve(ctx, "shop", "pl", path)
				require.NoError(t, err)
				got, err := double.Resolve(ctx, "shop", "pl", path)
				require.NoError(t, err)
				assert.Equal(t, want, got, path)
			}
			assert.Equal(t, once.FindCalls("shop"), twice.FindCalls("shop"))
		})
	}
}

func TestApply_UnsupportedLanguageDropsCollection(t *testing.T) {
	db := shopCatalog(t)
	m := newTestManager(t, db)
	ctx := context.Background()

	_, err := m.Resolve(ctx, "shop", "pl", "greeting")
	require.NoError(t, err)
	require.Equal(t, 2, m.Stats().Entries)

	require.NoError(t, m.Apply(ctx, store.ChangeEvent{Collection: "shop", Op: store.OpInsert, DocumentID: "fr"}))
	assert.Equal(t, 0, m.Stats().Entries)
}

func TestSetMessages(t *testing.T) {
	db := shopCatalog(t)
	m := newTestManager(t, db)
	ctx := context.Background()

	doc := Document{
		"greeting":   Text("Servus {name}"),
		"menu.title": Text("Laden"),
		"menu.lore":  List("Eins", "Zwei"),
	}
	require.NoError(t, m.SetMessages(ctx, "shop", "de", doc))

	calls := db.FindCalls("shop")
	res, err := m.Resolve(ctx, "shop", "de", "greeting")
	require.NoError(t, err)
	assert.Equal(t, "Servus Ana", res.With(Named{"name": "Ana"}).String())
	assert.Equal(t, calls, db.FindCalls("shop"), "the saved catalog answers without a fetch")

	stored, err := db.Find(ctx, "shop", store.ByID("de"))
	require.NoError(t, err)
	assert.Equal(t, "de", stored[LanguageField])
	assert.Equal(t, doc, Flatten(stored))
}

func TestSetMessages_PathConflict(t *testing.T) {
	m := newTestManager(t, shopCatalog(t))

	err := m.SetMessages(context.Background(), "shop", "de", Document{
		"menu":       Text("x"),
		"menu.title": Text("y"),
	})
	assert.Error(t, err)
}

func TestReload(t *testing.T) {
	db := shopCatalog(t)
	m := newTestManager(t, db)
	ctx := context.Background()

	require.NoError(t, m.Reload(ctx, "shop"))
	assert.Equal(t, 3, m.Stats().Entries, "every supported language is fetched eagerly")

	m.Register("empty")
	err := m.Reload(ctx, "empty")
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = m.Reload(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotRegistered)
}
