package routine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dailyyoga/mongoconfigs/logger"
	"github.com/smallnest/chanx"
	"go.uber.org/zap"
)

// Pool executes submitted functions on a fixed number of workers.
//
// Submit never blocks the caller: work that cannot start immediately is held
// in an unbounded queue. A function running on the pool must not wait for
// another function submitted to the same pool.
type Pool interface {
	// Submit schedules fn; it returns ErrPoolClosed after Close
	Submit(fn func()) error
	// Size returns the number of workers
	Size() int
	// Pending returns the number of queued functions not yet picked up by a worker
	Pending() int
	// Close stops accepting work, runs everything already queued and waits for the workers
	Close()
}

type defaultPool struct {
	log    logger.Logger
	name   string
	size   int
	queue  *chanx.UnboundedChan[func()]
	runner Runner

	// mu orders Submit against closing queue.In
	mu     sync.RWMutex
	closed atomic.Bool
}

// NewPool creates and starts a worker pool
func NewPool(log logger.Logger, cfg *PoolConfig) (Pool, error) {
	if cfg == nil {
		cfg = DefaultPoolConfig()
	}
	cfg.MergeDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &defaultPool{
		log:    log,
		name:   cfg.Name,
		size:   cfg.Size,
		queue:  chanx.NewUnboundedChan[func()](context.Background(), cfg.QueueCapacity),
		runner: New(log),
	}
	for i := 0; i < p.size; i++ {
		p.runner.GoNamed(fmt.Sprintf("%s-worker-%d", p.name, i+1), p.work)
	}

	log.Debug("worker pool started", zap.String("pool", p.name), zap.Int("size", p.size))
	return p, nil
}

func (p *defaultPool) Submit(fn func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.queue.In <- fn
	return nil
}

func (p *defaultPool) Size() int {
	return p.size
}

func (p *defaultPool) Pending() int {
	return p.queue.Len()
}

func (p *defaultPool) Close() {
	p.mu.Lock()
	if !p.closed.CompareAndSwap(false, true) {
		p.mu.Unlock()
		return
	}
	close(p.queue.In)
	p.mu.Unlock()

	p.runner.Wait()
	p.log.Debug("worker pool stopped", zap.String("pool", p.name))
}

// work drains the queue until it is closed and empty
func (p *defaultPool) work() {
	for fn := range p.queue.Out {
		p.run(fn)
	}
}

func (p *defaultPool) run(fn func()) {
	defer recoverWithLog(p.log, p.name)
	fn()
}
