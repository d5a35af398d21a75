// Package configs is the entry point of the engine.
//
// A Configs value owns everything a process needs to serve cached message
// catalogs and typed objects from a shared document store: the caches, the
// worker pool every asynchronous result runs on, one change-feed listener
// per registered collection, the reload coordinator, the optional reload
// schedule and the optional cross-process reload signals. Create one with
// New, register collections, call Start and Close it once on shutdown.
package configs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dailyyoga/mongoconfigs/broadcast"
	"github.com/dailyyoga/mongoconfigs/cache"
	"github.com/dailyyoga/mongoconfigs/changefeed"
	"github.com/dailyyoga/mongoconfigs/cron"
	"github.com/dailyyoga/mongoconfigs/logger"
	"github.com/dailyyoga/mongoconfigs/message"
	"github.com/dailyyoga/mongoconfigs/object"
	"github.com/dailyyoga/mongoconfigs/reload"
	"github.com/dailyyoga/mongoconfigs/routine"
	"github.com/dailyyoga/mongoconfigs/store"
	"github.com/dailyyoga/mongoconfigs/task"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

const (
	kindMessages = "messages"
	kindObject   = "object"

	scheduledReload = "scheduled-reload"
	reloadResultKey = "reload_result"
)

// Option customizes New
type Option func(*options)

type options struct {
	transport broadcast.Transport
	instance  uuid.UUID
}

// WithTransport sends and receives reload signals over t instead of the configured Kafka topic
func WithTransport(t broadcast.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// WithInstanceID sets the id this process signs its reload signals with; random by default
func WithInstanceID(id uuid.UUID) Option {
	return func(o *options) {
		o.instance = id
	}
}

// Configs is the engine of one process
type Configs struct {
	base   logger.Logger
	log    logger.Logger
	cfg    *Config
	client store.Client

	pool        routine.Pool
	messages    *message.Manager
	objects     *object.Manager
	reloads     *reload.Coordinator
	cron        cron.Cron
	broadcaster broadcast.Broadcaster

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	kinds     map[string]string
	listeners map[string]changefeed.Listener

	started atomic.Bool
	closed  atomic.Bool
}

// New creates the engine on client. Collections listed in cfg.Message are registered as message catalogs.
// The caller keeps ownership of client.
func New(log logger.Logger, cfg *Config, client store.Client, opts ...Option) (*Configs, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.MergeDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.instance == uuid.Nil {
		o.instance = uuid.New()
	}

	c := &Configs{
		base:      log,
		log:       logger.Component(log, "configs"),
		cfg:       cfg,
		client:    client,
		kinds:     make(map[string]string),
		listeners: make(map[string]changefeed.Listener),
	}
	if err := c.init(o); err != nil {
		c.release()
		return nil, err
	}

	c.log.Info("configs engine created",
		zap.Stringer("instance", o.instance),
		zap.Strings("message_collections", c.messages.Collections()),
		zap.Bool("broadcast", c.broadcaster != nil),
		zap.String("reload_schedule", cfg.Reload.Schedule),
	)
	return c, nil
}

func (c *Configs) init(o options) error {
	var err error
	if c.pool, err = routine.NewPool(c.base, c.cfg.Pool); err != nil {
		return err
	}
	if c.messages, err = message.New(c.base, c.cfg.Message, c.client, c.pool); err != nil {
		return err
	}
	if c.objects, err = object.New(c.base, c.cfg.Object, c.client); err != nil {
		return err
	}
	if c.reloads, err = reload.New(c.base, c.cfg.Reload, c.pool); err != nil {
		return err
	}
	for _, coll := range c.messages.Collections() {
		c.kinds[coll] = kindMessages
		if err := c.reloads.Register(coll, c.messages.Reload); err != nil {
			return err
		}
	}

	if spec := c.cfg.Reload.Schedule; spec != "" {
		c.cron = cron.NewCron(c.base)
		if err := c.cron.AddTasks(scheduledReload, spec, c.reloadAllTask(), c.checkResultTask()); err != nil {
			return err
		}
	}

	transport := o.transport
	if transport == nil && c.cfg.Broadcast.Enabled {
		if transport, err = broadcast.NewKafka(c.base, c.cfg.Broadcast, o.instance.String()); err != nil {
			return err
		}
	}
	if transport != nil {
		c.broadcaster = broadcast.New(c.base, o.instance, transport)
	}
	return nil
}

// release closes whatever init managed to create
func (c *Configs) release() {
	if c.pool != nil {
		c.pool.Close()
	}
	if c.messages != nil {
		c.messages.Close()
	}
	if c.objects != nil {
		c.objects.Close()
	}
}

func (c *Configs) reloadAllTask() cron.Task {
	return cron.TaskFunc("reload-all", func(ctx context.Context) error {
		res, err := c.reloads.ReloadAll(ctx).Await(ctx)
		if err != nil {
			return err
		}
		cron.GetSharedData(ctx).Set(reloadResultKey, res)
		return nil
	})
}

func (c *Configs) checkResultTask() cron.Task {
	return cron.TaskFunc("check-result", func(ctx context.Context) error {
		res, ok := cron.Value[*reload.Result](ctx, reloadResultKey)
		if !ok {
			return cron.ErrMissingValue(reloadResultKey)
		}
		return res.Err()
	})
}

// RegisterMessages declares collection as a message catalog
func (c *Configs) RegisterMessages(collection string) error {
	if collection == "" {
		return message.ErrInvalidCollection(collection)
	}
	return c.register(collection, kindMessages, func() error {
		c.messages.Register(collection)
		return nil
	})
}

// RegisterObject binds id to T; the object lives in the collection named id
func RegisterObject[T any](c *Configs, id string) error {
	return c.register(id, kindObject, func() error {
		return object.Register[T](c.objects, id)
	})
}

func (c *Configs) register(collection, kind string, bind func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	if prev, ok := c.kinds[collection]; ok && prev != kind {
		return ErrCollectionInUse(collection, prev)
	}
	if err := bind(); err != nil {
		return err
	}

	reloader := reload.Reloader(c.messages.Reload)
	if kind == kindObject {
		reloader = c.objects.Reload
	}
	if err := c.reloads.Register(collection, reloader); err != nil {
		return err
	}
	c.kinds[collection] = kind

	if c.ctx != nil {
		return c.watchLocked(collection)
	}
	return nil
}

// handler returns the change handler of collection; callers hold c.mu
func (c *Configs) handlerLocked(collection string) changefeed.Handler {
	var target changefeed.Handler = c.messages
	if c.kinds[collection] == kindObject {
		target = c.objects
	}
	return &feedHandler{target: target, reloads: c.reloads}
}

func (c *Configs) watchLocked(collection string) error {
	if _, ok := c.listeners[collection]; ok {
		return nil
	}
	l, err := changefeed.New(c.base, c.cfg.ChangeFeed, c.client, collection, c.handlerLocked(collection))
	if err != nil {
		return err
	}
	if err := l.Start(c.ctx); err != nil {
		return err
	}
	c.listeners[collection] = l
	return nil
}

// Start opens a change feed per registered collection and starts the reload schedule
// and the reload signal subscription when configured. Collections registered later
// are watched as soon as they are registered.
func (c *Configs) Start(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(ctx)
	ctx = c.ctx
	for collection := range c.kinds {
		if err := c.watchLocked(collection); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	watched := len(c.listeners)
	c.mu.Unlock()

	if c.cron != nil {
		c.cron.Start(ctx)
	}
	if c.broadcaster != nil {
		if err := c.broadcaster.Start(ctx, c.handleSignal); err != nil {
			return err
		}
	}
	c.log.Info("configs engine started", zap.Int("watched_collections", watched))
	return nil
}

func (c *Configs) handleSignal(ctx context.Context, sig broadcast.Signal) error {
	var t *task.Task[*reload.Result]
	if sig.All {
		t = c.reloads.ReloadAll(ctx)
	} else {
		var ids []string
		c.mu.Lock()
		for _, id := range sig.Collections {
			if _, ok := c.kinds[id]; ok {
				ids = append(ids, id)
			}
		}
		c.mu.Unlock()
		if len(ids) == 0 {
			return nil
		}
		t = c.reloads.ReloadBatch(ctx, ids, 0)
	}
	res, err := t.Await(ctx)
	if err != nil {
		return err
	}
	return res.Err()
}

// GetMessage resolves path in collection for language, falling back to the default language
func (c *Configs) GetMessage(ctx context.Context, collection, language, path string, params ...any) *task.Task[message.Result] {
	if c.closed.Load() {
		return task.Failed[message.Result](ErrClosed)
	}
	return c.messages.Get(ctx, collection, language, path, params...)
}

// SetMessages stores doc as the catalog of collection in language
func (c *Configs) SetMessages(ctx context.Context, collection, language string, doc message.Document) *task.Task[struct{}] {
	if c.closed.Load() {
		return task.Failed[struct{}](ErrClosed)
	}
	return task.Go(ctx, c.pool, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.messages.SetMessages(ctx, collection, language, doc)
	})
}

// GetObject returns the object registered under id
func GetObject[T any](ctx context.Context, c *Configs, id string) *task.Task[T] {
	if c.closed.Load() {
		return task.Failed[T](ErrClosed)
	}
	return task.Go(ctx, c.pool, func(ctx context.Context) (T, error) {
		return object.Get[T](ctx, c.objects, id)
	})
}

// SetObject stores v as the object of id
func SetObject[T any](ctx context.Context, c *Configs, id string, v T) *task.Task[struct{}] {
	if c.closed.Load() {
		return task.Failed[struct{}](ErrClosed)
	}
	return task.Go(ctx, c.pool, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, object.Set(ctx, c.objects, id, v)
	})
}

// ReloadCollection drops and refetches the cached state of one collection or object id
func (c *Configs) ReloadCollection(ctx context.Context, id string) *task.Task[struct{}] {
	if c.closed.Load() {
		return task.Failed[struct{}](ErrClosed)
	}
	return c.reloads.ReloadOne(ctx, id)
}

// ReloadCollections reloads ids with at most maxConcurrency in flight; <= 0 uses the configured bound
func (c *Configs) ReloadCollections(ctx context.Context, ids []string, maxConcurrency int) *task.Task[*reload.Result] {
	if c.closed.Load() {
		return task.Failed[*reload.Result](ErrClosed)
	}
	return c.reloads.ReloadBatch(ctx, ids, maxConcurrency)
}

// ReloadAll reloads every registered collection and object
func (c *Configs) ReloadAll(ctx context.Context) *task.Task[*reload.Result] {
	if c.closed.Load() {
		return task.Failed[*reload.Result](ErrClosed)
	}
	return c.reloads.ReloadAll(ctx)
}

// OnReload registers fn to run after id was reloaded or changed by another writer
func (c *Configs) OnReload(id string, fn reload.Listener) {
	c.reloads.OnReload(id, fn)
}

// Announce asks the other processes to reload collections, or everything when none are given.
// It does nothing when no reload signal transport is configured.
func (c *Configs) Announce(ctx context.Context, collections ...string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.broadcaster == nil {
		return nil
	}
	if len(collections) == 0 {
		return c.broadcaster.PublishAll(ctx)
	}
	return c.broadcaster.Publish(ctx, collections...)
}

// Collections returns every registered collection and object id in sorted order
func (c *Configs) Collections() []string {
	return c.reloads.IDs()
}

// FeedStates returns the change feed state of every watched collection
func (c *Configs) FeedStates() map[string]changefeed.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	states := make(map[string]changefeed.State, len(c.listeners))
	for collection, l := range c.listeners {
		states[collection] = l.State()
	}
	return states
}

// Stats returns the counters of the message and object caches
func (c *Configs) Stats() (messages, objects cache.Stats) {
	return c.messages.Stats(), c.objects.Stats()
}

// Close stops every listener, the schedule and the signal subscription, then releases the caches.
// It waits for listeners to release their cursors until ctx is done.
func (c *Configs) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	cancel := c.cancel
	collections := make([]string, 0, len(c.listeners))
	for collection := range c.listeners {
		collections = append(collections, collection)
	}
	sort.Strings(collections)
	listeners := make([]changefeed.Listener, len(collections))
	for i, collection := range collections {
		listeners[i] = c.listeners[collection]
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var merr *multierror.Error
	for _, l := range listeners {
		if err := l.Stop(ctx); err != nil && !errors.Is(err, changefeed.ErrNotStarted) {
			merr = multierror.Append(merr, err)
		}
	}
	if c.cron != nil {
		c.cron.Close()
	}
	if c.broadcaster != nil {
		if err := c.broadcaster.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	// queued reads still use the caches
	c.pool.Close()
	c.messages.Close()
	c.objects.Close()

	c.log.Info("configs engine closed")
	return merr.ErrorOrNil()
}

// feedHandler applies change events to a manager and notifies the reload listeners
type feedHandler struct {
	target  changefeed.Handler
	reloads *reload.Coordinator
}

func (h *feedHandler) Apply(ctx context.Context, ev store.ChangeEvent) error {
	if err := h.target.Apply(ctx, ev); err != nil {
		return err
	}
	h.reloads.Notify(ctx, ev.Collection)
	return nil
}

func (h *feedHandler) InvalidateAll(ctx context.Context, collection string) {
	h.target.InvalidateAll(ctx, collection)
	h.reloads.Notify(ctx, collection)
}
