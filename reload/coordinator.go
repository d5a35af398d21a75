// Package reload runs explicit reloads of message collections and typed objects.
//
// Every reloadable id registers a Reloader. Batches fan out over a bounded
// number of goroutines and report per-id outcomes instead of failing as a
// whole. Listeners registered with OnReload run on the worker pool after a
// successful reload and after change-feed updates.
package reload

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/dailyyoga/mongoconfigs/logger"
	"github.com/dailyyoga/mongoconfigs/routine"
	"github.com/dailyyoga/mongoconfigs/task"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Reloader drops the cached state of id and fetches it again
type Reloader func(ctx context.Context, id string) error

// Listener is notified after id was reloaded or changed
type Listener func(ctx context.Context, id string)

// Result reports the outcome of a batch
type Result struct {
	Succeeded []string
	Failed    map[string]error
}

// Err aggregates every failure, naming the failed id; nil when all ids succeeded
func (r *Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var merr *multierror.Error
	for _, id := range ids {
		merr = multierror.Append(merr, ErrReload(id, r.Failed[id]))
	}
	return merr.ErrorOrNil()
}

// Coordinator owns the reloaders and reload listeners
type Coordinator struct {
	log  logger.Logger
	cfg  *Config
	pool routine.Pool

	mu        sync.RWMutex
	reloaders map[string]Reloader
	listeners map[string][]Listener
}

// New creates a coordinator scheduling its work on pool
func New(log logger.Logger, cfg *Config, pool routine.Pool) (*Coordinator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.MergeDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Coordinator{
		log:       logger.Component(log, "reload"),
		cfg:       cfg,
		pool:      pool,
		reloaders: make(map[string]Reloader),
		listeners: make(map[string][]Listener),
	}, nil
}

// Register makes id reloadable; a later registration replaces the reloader
func (c *Coordinator) Register(id string, r Reloader) error {
	if r == nil {
		return ErrNilReloader
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reloaders[id] = r
	return nil
}

// IDs returns every registered id in sorted order
func (c *Coordinator) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.reloaders))
	for id := range c.reloaders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OnReload registers fn to run after id was reloaded or changed
func (c *Coordinator) OnReload(id string, fn Listener) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[id] = append(c.listeners[id], fn)
}

// Notify schedules the listeners of id on the pool.
// Listeners outlive ctx's cancellation but keep its values.
func (c *Coordinator) Notify(ctx context.Context, id string) {
	c.mu.RLock()
	listeners := slices.Clone(c.listeners[id])
	c.mu.RUnlock()

	ctx = context.WithoutCancel(ctx)
	for _, fn := range listeners {
		err := c.pool.Submit(func() {
			err := routine.Safe(func() error {
				fn(ctx, id)
				return nil
			})
			if err != nil {
				c.log.Error("reload listener failed", zap.String("id", id), zap.Error(err))
			}
		})
		if err != nil {
			c.log.Warn("reload listener not scheduled", zap.String("id", id), zap.Error(err))
		}
	}
}

func (c *Coordinator) reload(ctx context.Context, id string) error {
	c.mu.RLock()
	r, ok := c.reloaders[id]
	c.mu.RUnlock()
	if !ok {
		return ErrReload(id, ErrNotRegistered)
	}

	if err := routine.Safe(func() error { return r(ctx, id) }); err != nil {
		return ErrReload(id, err)
	}
	c.Notify(ctx, id)
	return nil
}

// ReloadOne reloads id
func (c *Coordinator) ReloadOne(ctx context.Context, id string) *task.Task[struct{}] {
	return task.Go(ctx, c.pool, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.reload(ctx, id)
	})
}

// ReloadBatch reloads ids with at most maxConcurrency reloads in flight.
// Duplicate ids are reloaded once; maxConcurrency <= 0 uses the configured bound.
// The task fails only when ctx is done before the batch starts; per-id failures are in the Result.
func (c *Coordinator) ReloadBatch(ctx context.Context, ids []string, maxConcurrency int) *task.Task[*Result] {
	if maxConcurrency <= 0 {
		maxConcurrency = c.cfg.MaxConcurrency
	}
	seen := mapset.NewThreadUnsafeSet[string]()
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen.Add(id) {
			unique = append(unique, id)
		}
	}

	return task.Go(ctx, c.pool, func(ctx context.Context) (*Result, error) {
		res := &Result{Failed: make(map[string]error)}
		var mu sync.Mutex

		// a failing id must not cancel its siblings, so the group has no shared context
		var g errgroup.Group
		g.SetLimit(maxConcurrency)
		for _, id := range unique {
			g.Go(func() error {
				err := c.reload(ctx, id)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					res.Failed[id] = err
				} else {
					res.Succeeded = append(res.Succeeded, id)
				}
				return nil
			})
		}
		_ = g.Wait()
		sort.Strings(res.Succeeded)

		if len(res.Failed) > 0 {
			c.log.Warn("reload batch finished with failures",
				zap.Int("succeeded", len(res.Succeeded)),
				zap.Int("failed", len(res.Failed)),
				zap.Error(res.Err()),
			)
		} else {
			c.log.Info("reload batch finished", zap.Int("succeeded", len(res.Succeeded)))
		}
		return res, nil
	})
}

// ReloadAll reloads every registered id
func (c *Coordinator) ReloadAll(ctx context.Context) *task.Task[*Result] {
	return c.ReloadBatch(ctx, c.IDs(), 0)
}
