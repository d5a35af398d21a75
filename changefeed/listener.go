// Package changefeed keeps caches in step with writes made by other processes.
//
// A Listener holds one change stream per collection and hands every event to
// a Handler. Lost connections are retried with exponential backoff, resuming
// after the last applied event. When the store can no longer resume from that
// point the handler is told to drop everything it cached for the collection.
// After MaxReconnectAttempts consecutive failures the listener stops in
// StateFailed and the caches fall back to TTL expiry.
package changefeed

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dailyyoga/mongoconfigs/logger"
	"github.com/dailyyoga/mongoconfigs/routine"
	"github.com/dailyyoga/mongoconfigs/store"
	"github.com/smallnest/chanx"
	"go.uber.org/zap"
)

// State is the connection state of a Listener
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateReconnecting
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Handler applies change events to caches. Events may be delivered more than once.
type Handler interface {
	// Apply handles one event; an error is logged and the stream continues
	Apply(ctx context.Context, ev store.ChangeEvent) error
	// InvalidateAll drops every cached value of collection
	InvalidateAll(ctx context.Context, collection string)
}

// Listener follows the change stream of one collection
type Listener interface {
	// Start opens the stream in the background; cancelling ctx stops the listener
	Start(ctx context.Context) error
	// Stop cancels the stream and waits until its cursor is released or ctx is done
	Stop(ctx context.Context) error
	// State returns the current connection state
	State() State
	// Done is closed when the listener has stopped or failed
	Done() <-chan struct{}
	// Collection returns the watched collection
	Collection() string
}

type listener struct {
	log        logger.Logger
	cfg        *Config
	client     store.Client
	collection string
	handler    Handler

	state   atomic.Int32
	started atomic.Bool
	done    chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc

	// token is the position after the last applied event; only the run goroutine touches it
	token store.ResumeToken
}

// New creates a listener for collection
func New(log logger.Logger, cfg *Config, client store.Client, collection string, handler Handler) (Listener, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.MergeDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if collection == "" {
		return nil, ErrInvalidCollection(collection)
	}
	if handler == nil {
		return nil, ErrNilHandler
	}

	return &listener{
		log:        logger.With(logger.Component(log, "changefeed"), zap.String("collection", collection)),
		cfg:        cfg,
		client:     client,
		collection: collection,
		handler:    handler,
		done:       make(chan struct{}),
	}, nil
}

func (l *listener) Collection() string {
	return l.collection
}

func (l *listener) State() State {
	return State(l.state.Load())
}

func (l *listener) Done() <-chan struct{} {
	return l.done
}

func (l *listener) setState(s State) {
	if prev := State(l.state.Swap(int32(s))); prev != s {
		l.log.Debug("change feed state changed",
			zap.Stringer("from", prev),
			zap.Stringer("to", s),
		)
	}
}

func (l *listener) Start(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	l.setState(StateConnecting)
	routine.GoNamedWithContext(ctx, l.log, "changefeed-"+l.collection, l.run)
	l.log.Info("change feed listener started")
	return nil
}

func (l *listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel == nil {
		return ErrNotStarted
	}
	cancel()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *listener) run(ctx context.Context) {
	defer close(l.done)

	attempts := 0
	// set when the resume position was lost; cleared once a fresh stream is open
	lost := false
	for {
		stream, err := l.client.Watch(ctx, l.collection, store.WatchOptions{ResumeAfter: l.token})
		if err == nil {
			if lost {
				// the fresh stream already sees writes racing with the refetch
				l.handler.InvalidateAll(ctx, l.collection)
				lost = false
			}
			l.setState(StateStreaming)
			if l.token == nil {
				l.token = stream.ResumeToken()
			}
			opened := time.Now()
			var applied bool
			applied, err = l.consume(ctx, stream)
			l.closeStream(ctx, stream)
			if applied || time.Since(opened) >= l.cfg.BackoffMax {
				attempts = 0
			}
		}

		if ctx.Err() != nil {
			l.setState(StateStopped)
			l.log.Info("change feed listener stopped")
			return
		}

		attempts++
		if attempts > l.cfg.MaxReconnectAttempts {
			if lost {
				l.handler.InvalidateAll(ctx, l.collection)
			}
			l.setState(StateFailed)
			l.log.Error("change feed failed, degrading to ttl expiry",
				zap.Int("attempts", attempts-1),
				zap.Error(err),
			)
			return
		}
		l.setState(StateReconnecting)

		if errors.Is(err, store.ErrCursorInvalid) {
			// the events between our position and the oldest one the store retains are gone
			l.log.Warn("change stream cannot resume, invalidating collection", zap.Error(err))
			lost = true
			l.token = nil
			continue
		}

		delay := backoff(l.cfg.BackoffBase, l.cfg.BackoffMax, attempts)
		l.log.Warn("change stream interrupted, reconnecting",
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			l.setState(StateStopped)
			l.log.Info("change feed listener stopped")
			return
		}
	}
}

// consume applies events until the stream fails or ctx is done.
// A reader goroutine pulls from the cursor into an unbounded buffer so that
// slow handlers never hold up the cursor.
func (l *listener) consume(ctx context.Context, stream store.Stream) (applied bool, err error) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := chanx.NewUnboundedChan[store.ChangeEvent](sctx, l.cfg.BufferSize)
	readErr := make(chan error, 1)

	routine.GoNamed(l.log, "changefeed-reader-"+l.collection, func() {
		defer close(events.In)
		for {
			ev, err := stream.Next(sctx)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case events.In <- ev:
			case <-sctx.Done():
				readErr <- sctx.Err()
				return
			}
		}
	})

	for ev := range events.Out {
		if err := l.handler.Apply(ctx, ev); err != nil {
			l.log.Warn("change event not applied",
				zap.String("op", string(ev.Op)),
				zap.Any("document_id", ev.DocumentID),
				zap.Error(err),
			)
		}
		if ev.Token != nil {
			l.token = ev.Token
		}
		applied = true
	}

	// the reader must be gone before the cursor is closed
	cancel()
	return applied, <-readErr
}

func (l *listener) closeStream(ctx context.Context, stream store.Stream) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.CloseTimeout)
	defer cancel()
	if err := stream.Close(ctx); err != nil {
		l.log.Warn("failed to close change stream", zap.Error(err))
	}
}

// backoff returns the delay before reconnect attempt n (1-based): base doubled n-1 times, capped at max, ±25% jitter
func backoff(base, max time.Duration, n int) time.Duration {
	d := base
	for i := 1; i < n && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	jitter := time.Duration(float64(d) * (0.5*rand.Float64() - 0.25))
	return d + jitter
}
