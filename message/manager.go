// Package message serves per-language message catalogs with fallback to a default language.
//
// Each collection holds one document per language. A lookup reads the
// requested language first and the default language second; a path found in
// neither yields a Result carrying a *MissingMessage instead of an error.
package message

import (
	"context"
	"errors"
	"fmt"

	"github.com/dailyyoga/mongoconfigs/cache"
	"github.com/dailyyoga/mongoconfigs/logger"
	"github.com/dailyyoga/mongoconfigs/routine"
	"github.com/dailyyoga/mongoconfigs/store"
	"github.com/dailyyoga/mongoconfigs/task"
	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Result is the outcome of a lookup
type Result struct {
	Collection string
	// Language is the language that was requested
	Language string
	Path     string
	Value    Value
	// FromDefault is set when the value came from the default language
	FromDefault bool
	// Missing is set when neither language has Path
	Missing *MissingMessage

	params []any
}

// Found reports whether the lookup produced a value
func (r Result) Found() bool {
	return r.Missing == nil
}

// Err returns the MissingMessage as an error, or nil when the message was found
func (r Result) Err() error {
	if r.Missing == nil {
		return nil
	}
	return r.Missing
}

// With returns r with placeholder parameters applied on rendering
func (r Result) With(params ...any) Result {
	r.params = params
	return r
}

// Lines returns the rendered lines of the message
func (r Result) Lines() []string {
	if r.Missing != nil {
		return []string{r.String()}
	}
	lines := r.Value.Lines()
	for i, l := range lines {
		lines[i] = Substitute(l, r.params...)
	}
	return lines
}

// String renders the message, joining lists with a newline
func (r Result) String() string {
	if r.Missing != nil {
		return fmt.Sprintf("Missing message: %s for %s", r.Path, r.Language)
	}
	return Substitute(r.Value.String(), r.params...)
}

// Manager owns the catalog cache of every registered message collection
type Manager struct {
	log    logger.Logger
	client store.Client
	pool   routine.Pool

	defaultLanguage string
	languages       mapset.Set[string]
	applied         store.AppliedTokens
	collections     mapset.Set[string]

	cache cache.Cache[Document]
}

// New creates a message manager reading catalogs from client
func New(log logger.Logger, cfg *Config, client store.Client, pool routine.Pool) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.MergeDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log = logger.Component(log, "message")
	m := &Manager{
		log:             log,
		client:          client,
		pool:            pool,
		defaultLanguage: cfg.DefaultLanguage,
		languages:       mapset.NewSet(cfg.SupportedLanguages...),
		collections:     mapset.NewSet[string](),
	}

	c, err := cache.New(log, cfg.Cache, m.load)
	if err != nil {
		return nil, err
	}
	m.cache = c

	for _, name := range cfg.Collections {
		m.Register(name)
	}
	return m, nil
}

// Register declares collection as a message catalog
func (m *Manager) Register(collection string) {
	if m.collections.Add(collection) {
		m.log.Info("message collection registered", zap.String("collection", collection))
	}
}

// Registered reports whether collection was registered
func (m *Manager) Registered(collection string) bool {
	return m.collections.Contains(collection)
}

// Collections returns the registered collections
func (m *Manager) Collections() []string {
	return m.collections.ToSlice()
}

// DefaultLanguage returns the fallback language
func (m *Manager) DefaultLanguage() string {
	return m.defaultLanguage
}

// Languages returns the supported languages
func (m *Manager) Languages() []string {
	return m.languages.ToSlice()
}

// load reads one language document. A missing document yields a nil Document, which is cached like any other.
func (m *Manager) load(ctx context.Context, key cache.Key) (Document, error) {
	doc, err := m.client.Find(ctx, key.Collection, store.ByID(key.Language))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return Flatten(doc), nil
}

func (m *Manager) language(requested string) string {
	if requested == "" || !m.languages.Contains(requested) {
		if requested != "" {
			m.log.Debug("unsupported language, using default",
				zap.String("language", requested),
				zap.String("default", m.defaultLanguage),
			)
		}
		return m.defaultLanguage
	}
	return requested
}

// Resolve looks path up in language, falling back to the default language.
// Errors are store failures only; an absent path is reported through Result.Missing.
func (m *Manager) Resolve(ctx context.Context, collection, language, path string) (Result, error) {
	res := Result{Collection: collection, Language: language, Path: path}
	if !m.Registered(collection) {
		return res, ErrNotRegistered
	}

	lang := m.language(language)
	reqKey := cache.Key{Collection: collection, Language: lang}
	defKey := cache.Key{Collection: collection, Language: m.defaultLanguage}

	requested, err := m.cache.Get(ctx, reqKey)
	if err != nil {
		return res, err
	}
	unlock := m.cache.RLock(collection)
	if d, ok := m.cache.Peek(reqKey); ok {
		requested = d
	}
	v, ok := requested[path]
	unlock()
	if ok {
		res.Value = v
		return res, nil
	}
	if reqKey == defKey {
		res.Missing = &MissingMessage{Collection: collection, Language: language, Path: path}
		return res, nil
	}

	fallback, err := m.cache.Get(ctx, defKey)
	if err != nil {
		return res, err
	}
	// both documents are read under one read lock so no write lands between them
	unlock = m.cache.RLock(collection)
	if d, ok := m.cache.Peek(reqKey); ok {
		requested = d
	}
	if d, ok := m.cache.Peek(defKey); ok {
		fallback = d
	}
	unlock()

	if v, ok := requested[path]; ok {
		res.Value = v
		return res, nil
	}
	if v, ok := fallback[path]; ok {
		res.Value = v
		res.FromDefault = true
		return res, nil
	}
	res.Missing = &MissingMessage{Collection: collection, Language: language, Path: path}
	return res, nil
}

// Get resolves path on the pool and applies params to the result
func (m *Manager) Get(ctx context.Context, collection, language, path string, params ...any) *task.Task[Result] {
	return task.Go(ctx, m.pool, func(ctx context.Context) (Result, error) {
		res, err := m.Resolve(ctx, collection, language, path)
		if err != nil {
			return res, err
		}
		return res.With(params...), nil
	})
}

// Catalog returns the cached or loaded document of collection in language, without fallback
func (m *Manager) Catalog(ctx context.Context, collection, language string) (Document, error) {
	if !m.Registered(collection) {
		return nil, ErrNotRegistered
	}
	return m.cache.Get(ctx, cache.Key{Collection: collection, Language: language})
}

// SetMessages stores doc as the catalog of collection in language and replaces the cached entry
func (m *Manager) SetMessages(ctx context.Context, collection, language string, doc Document) error {
	if !m.Registered(collection) {
		return ErrNotRegistered
	}
	stored, err := Unflatten(doc, language)
	if err != nil {
		return ErrSave(collection, language, err)
	}
	_, err = m.client.BulkUpsert(ctx, collection, []store.Upsert{{
		Filter:   store.ByID(language),
		Document: stored,
	}})
	if err != nil {
		return ErrSave(collection, language, err)
	}

	saved := make(Document, len(doc))
	for k, v := range doc {
		saved[k] = v
	}
	m.cache.Put(cache.Key{Collection: collection, Language: language}, saved)
	m.log.Info("messages saved",
		zap.String("collection", collection),
		zap.String("language", language),
		zap.Int("paths", len(doc)),
	)
	return nil
}

// Reload drops every cached language of collection and fetches the supported languages again.
// It fails with store.ErrNotFound when no language document exists.
func (m *Manager) Reload(ctx context.Context, collection string) error {
	if !m.Registered(collection) {
		return ErrReload(collection, ErrNotRegistered)
	}
	m.cache.InvalidateCollection(collection)

	langs := m.languages.ToSlice()
	docs := make([]Document, len(langs))
	g, gctx := errgroup.WithContext(ctx)
	for i, lang := range langs {
		g.Go(func() error {
			doc, err := m.cache.Get(gctx, cache.Key{Collection: collection, Language: lang})
			docs[i] = doc
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return ErrReload(collection, err)
	}

	for _, doc := range docs {
		if doc != nil {
			m.log.Info("message collection reloaded", zap.String("collection", collection))
			return nil
		}
	}
	return ErrReload(collection, store.ErrNotFound)
}

// Apply reacts to a change of collection.
// A language document change drops that language; a default language change
// also revalidates every other language, which keeps serving its previous
// view until the refresh lands. A document that is not a supported language
// drops the whole collection.
func (m *Manager) Apply(_ context.Context, ev store.ChangeEvent) error {
	if !m.Registered(ev.Collection) {
		return nil
	}
	if m.applied.Redelivered(ev) {
		m.log.Debug("skipping redelivered change", zap.String("collection", ev.Collection))
		return nil
	}

	lang, ok := ev.DocumentID.(string)
	if ev.Op == store.OpInvalidate || !ok || !m.languages.Contains(lang) {
		m.cache.InvalidateCollection(ev.Collection)
		m.log.Debug("message collection invalidated",
			zap.String("collection", ev.Collection),
			zap.String("op", string(ev.Op)),
		)
		return nil
	}

	key := cache.Key{Collection: ev.Collection, Language: lang}
	m.cache.Invalidate(key)
	if lang == m.defaultLanguage {
		m.cache.RevalidateCollection(ev.Collection, key)
	}
	m.log.Debug("message change applied",
		zap.String("collection", ev.Collection),
		zap.String("language", lang),
		zap.String("op", string(ev.Op)),
	)
	return nil
}

// InvalidateAll drops every cached language of collection
func (m *Manager) InvalidateAll(_ context.Context, collection string) {
	m.applied.Forget(collection)
	m.cache.InvalidateCollection(collection)
}

// Stats returns the catalog cache counters
func (m *Manager) Stats() cache.Stats {
	return m.cache.Stats()
}

// Close releases the catalog cache
func (m *Manager) Close() {
	m.cache.Close()
}
