package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dailyyoga/mongoconfigs/logger"
	"github.com/dailyyoga/mongoconfigs/routine"
	"github.com/smallnest/chanx"
	"go.uber.org/zap"
)

// Bus connects the transports of processes that share one address space.
// Every transport created by the same Bus receives what any of them publishes.
type Bus struct {
	log logger.Logger

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

type subscription struct {
	ctx   context.Context
	queue *chanx.UnboundedChan[[]byte]
}

// NewBus creates an empty bus
func NewBus(log logger.Logger) *Bus {
	return &Bus{
		log:  logger.Component(log, "broadcast-bus"),
		subs: make(map[*subscription]struct{}),
	}
}

// Transport returns a new member of the bus
func (b *Bus) Transport() Transport {
	return &busTransport{bus: b}
}

func (b *Bus) publish(ctx context.Context, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		msg := append([]byte(nil), payload...)
		select {
		case sub.queue.In <- msg:
		case <-sub.ctx.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *Bus) subscribe(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub] = struct{}{}
}

func (b *Bus) unsubscribe(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.queue.In)
	}
}

type busTransport struct {
	bus    *Bus
	closed atomic.Bool

	mu   sync.Mutex
	subs []*subscription
}

func (t *busTransport) Publish(ctx context.Context, payload []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	return t.bus.publish(ctx, payload)
}

func (t *busTransport) Subscribe(ctx context.Context, handler PayloadHandler) error {
	if t.closed.Load() {
		return ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{ctx: ctx, queue: chanx.NewUnboundedChan[[]byte](ctx, 16)}
	t.bus.subscribe(sub)

	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()

	routine.GoNamed(t.bus.log, "broadcast-bus-subscriber", func() {
		defer cancel()
		for {
			select {
			case payload, ok := <-sub.queue.Out:
				if !ok {
					return
				}
				if err := handler(ctx, payload); err != nil {
					t.bus.log.Warn("reload signal not handled", zap.Error(err))
				}
			case <-ctx.Done():
				t.bus.unsubscribe(sub)
				return
			}
		}
	})
	return nil
}

func (t *busTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.Lock()
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()
	for _, sub := range subs {
		t.bus.unsubscribe(sub)
	}
	return nil
}
