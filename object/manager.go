// Package object caches typed configuration objects, one document per id.
//
// Every id is bound to a Go type with Register. The stored document of an id
// lives in the collection of the same name under _id = id. Change events
// carrying a partial update are merged into the cached value field by field;
// the cached value is replaced, never modified, so values handed out earlier
// keep their contents.
package object

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"github.com/dailyyoga/mongoconfigs/cache"
	"github.com/dailyyoga/mongoconfigs/logger"
	"github.com/dailyyoga/mongoconfigs/merge"
	"github.com/dailyyoga/mongoconfigs/store"
	"go.uber.org/zap"
)

// snapshot is a cached object; found is false when the id has no stored document yet
type snapshot struct {
	value any
	found bool
}

type binding struct {
	typ    reflect.Type
	schema *merge.Schema
	blank  func() any
	decode func(doc map[string]any) (any, error)
	merge  func(existing any, delta map[string]any) (any, error)
	encode func(v any) (map[string]any, error)
}

// Manager owns the object cache
type Manager struct {
	log    logger.Logger
	client store.Client
	cache  cache.Cache[snapshot]

	mu       sync.RWMutex
	bindings map[string]*binding
	applied  store.AppliedTokens
}

// New creates an object manager reading documents from client
func New(log logger.Logger, cfg *Config, client store.Client) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.MergeDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		log:      logger.Component(log, "object"),
		client:   client,
		bindings: make(map[string]*binding),
	}
	c, err := cache.New(m.log, cfg.Cache, m.load)
	if err != nil {
		return nil, err
	}
	m.cache = c
	return m, nil
}

// Register binds id to T. Registering the same id again with T is a no-op.
func Register[T any](m *Manager, id string) error {
	if id == "" {
		return ErrInvalidID
	}
	schema, err := merge.SchemaOf[T]()
	if err != nil {
		return err
	}
	typ := reflect.TypeOf((*T)(nil)).Elem()

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bindings[id]; ok {
		if b.typ != typ {
			return ErrTypeMismatch(id, b.typ, typ)
		}
		return nil
	}
	m.bindings[id] = &binding{
		typ:    typ,
		schema: schema,
		blank:  func() any { return merge.Instantiate[T]() },
		decode: func(doc map[string]any) (any, error) {
			return merge.Decode[T](doc)
		},
		merge: func(existing any, delta map[string]any) (any, error) {
			cur, _ := existing.(T)
			return merge.Merge(cur, delta)
		},
		encode: func(v any) (map[string]any, error) {
			cur, _ := v.(T)
			return merge.Encode(cur)
		},
	}
	m.log.Info("object registered", zap.String("id", id), zap.Stringer("type", typ))
	return nil
}

// Get returns the object stored under id. An id without a stored document yields a blank T.
// Callers must not modify the returned value when T is a pointer or holds maps or slices.
func Get[T any](ctx context.Context, m *Manager, id string) (T, error) {
	var zero T
	b, err := m.bindingFor(id)
	if err != nil {
		return zero, err
	}
	if want := reflect.TypeOf((*T)(nil)).Elem(); b.typ != want {
		return zero, ErrTypeMismatch(id, b.typ, want)
	}

	snap, err := m.cache.Get(ctx, key(id))
	if err != nil {
		return zero, err
	}
	v, _ := snap.value.(T)
	return v, nil
}

// Set stores v as the document of id and replaces the cached object
func Set[T any](ctx context.Context, m *Manager, id string, v T) error {
	b, err := m.bindingFor(id)
	if err != nil {
		return err
	}
	if want := reflect.TypeOf((*T)(nil)).Elem(); b.typ != want {
		return ErrTypeMismatch(id, b.typ, want)
	}

	doc, err := b.encode(v)
	if err != nil {
		return ErrSave(id, err)
	}
	doc[store.IDField] = id
	if _, err := m.client.BulkUpsert(ctx, id, []store.Upsert{{Filter: store.ByID(id), Document: doc}}); err != nil {
		return ErrSave(id, err)
	}

	m.cache.Put(key(id), snapshot{value: v, found: true})
	m.log.Info("object saved", zap.String("id", id))
	return nil
}

// Registered reports whether id has a bound type
func (m *Manager) Registered(id string) bool {
	_, err := m.bindingFor(id)
	return err == nil
}

// IDs returns every registered id
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.bindings))
	for id := range m.bindings {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) bindingFor(id string) (*binding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bindings[id]
	if !ok {
		return nil, ErrNotRegistered
	}
	return b, nil
}

func key(id string) cache.Key {
	return cache.Key{Collection: id}
}

func (m *Manager) load(ctx context.Context, k cache.Key) (snapshot, error) {
	b, err := m.bindingFor(k.Collection)
	if err != nil {
		return snapshot{}, err
	}

	doc, err := m.client.Find(ctx, k.Collection, store.ByID(k.Collection))
	if errors.Is(err, store.ErrNotFound) {
		m.log.Debug("object has no stored document, using blank value", zap.String("id", k.Collection))
		return snapshot{value: b.blank()}, nil
	}
	if err != nil {
		return snapshot{}, err
	}

	v, err := b.decode(doc)
	if err != nil {
		return snapshot{}, ErrDecode(k.Collection, err)
	}
	m.logUnknown(b, k.Collection, doc)
	return snapshot{value: v, found: true}, nil
}

func (m *Manager) logUnknown(b *binding, id string, delta map[string]any) {
	var unknown []string
	for _, f := range b.schema.UnknownFields(delta) {
		if f != store.IDField {
			unknown = append(unknown, f)
		}
	}
	if len(unknown) > 0 {
		m.log.Debug("ignoring fields unknown to the object type",
			zap.String("id", id),
			zap.Strings("fields", unknown),
		)
	}
}

// Reload drops the cached object of id and fetches it again.
// It fails with store.ErrNotFound when id has no stored document.
func (m *Manager) Reload(ctx context.Context, id string) error {
	if !m.Registered(id) {
		return ErrReload(id, ErrNotRegistered)
	}
	snap, err := m.cache.Reload(ctx, key(id))
	if err != nil {
		return ErrReload(id, err)
	}
	if !snap.found {
		return ErrReload(id, store.ErrNotFound)
	}
	m.log.Info("object reloaded", zap.String("id", id))
	return nil
}

// Apply reacts to a change of an object document.
// Partial updates are merged into the cached value; a delta that does not fit
// the type leaves the cached value untouched and schedules a refresh.
func (m *Manager) Apply(_ context.Context, ev store.ChangeEvent) error {
	b, err := m.bindingFor(ev.Collection)
	if err != nil {
		return nil
	}
	k := key(ev.Collection)
	if id, ok := ev.DocumentID.(string); ev.Op != store.OpInvalidate && (!ok || id != ev.Collection) {
		// another document in the same collection
		return nil
	}
	if m.applied.Redelivered(ev) {
		m.log.Debug("skipping redelivered change", zap.String("id", ev.Collection))
		return nil
	}

	switch ev.Op {
	case store.OpDelete, store.OpInvalidate:
		m.cache.Invalidate(k)
		return nil

	case store.OpInsert, store.OpReplace:
		if ev.FullDocument == nil {
			m.cache.Invalidate(k)
			return nil
		}
		v, err := b.decode(ev.FullDocument)
		if err != nil {
			m.cache.Invalidate(k)
			return ErrDecode(ev.Collection, err)
		}
		m.cache.Put(k, snapshot{value: v, found: true})
		return nil

	case store.OpUpdate:
		delta := make(map[string]any, len(ev.Updated)+len(ev.Removed))
		for path, v := range ev.Updated {
			delta[path] = v
		}
		for _, path := range ev.Removed {
			delta[path] = nil
		}
		m.logUnknown(b, ev.Collection, delta)

		err := m.cache.Update(k, func(cur snapshot) (snapshot, error) {
			v, err := b.merge(cur.value, delta)
			if err != nil {
				return cur, err
			}
			return snapshot{value: v, found: true}, nil
		})
		switch {
		case err == nil, errors.Is(err, cache.ErrNotCached):
			return nil
		default:
			m.log.Warn("rejected change that does not fit the object type, keeping previous value",
				zap.String("id", ev.Collection),
				zap.Error(err),
			)
			m.cache.Revalidate(k)
			return err
		}
	}

	m.cache.Invalidate(k)
	return nil
}

// InvalidateAll drops the cached object of id
func (m *Manager) InvalidateAll(_ context.Context, id string) {
	m.applied.Forget(id)
	m.cache.Invalidate(key(id))
}

// Stats returns the object cache counters
func (m *Manager) Stats() cache.Stats {
	return m.cache.Stats()
}

// Close releases the object cache
func (m *Manager) Close() {
	m.cache.Close()
}
