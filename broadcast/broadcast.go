// Package broadcast tells other processes to reload.
//
// An administrative reload only refreshes the caches of the process that ran
// it. Publishing a Signal lets every other process sharing the store reload
// the same collections. Signals travel over a Transport: Kafka in
// production, an in-process Bus for tests and the in-memory mode. Every
// process ignores the signals it sent itself.
package broadcast

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dailyyoga/mongoconfigs/logger"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// Signal asks the receiving processes to reload
type Signal struct {
	Sender uuid.UUID `msgpack:"sender"`
	// Collections to reload; ignored when All is set
	Collections []string  `msgpack:"collections,omitempty"`
	All         bool      `msgpack:"all,omitempty"`
	SentAt      time.Time `msgpack:"sent_at"`
}

// Encode returns the wire form of s
func Encode(s Signal) ([]byte, error) {
	return msgpack.Marshal(&s)
}

// Decode parses the wire form of a signal
func Decode(payload []byte) (Signal, error) {
	var s Signal
	if err := msgpack.Unmarshal(payload, &s); err != nil {
		return Signal{}, ErrDecode(err)
	}
	return s, nil
}

// PayloadHandler handles one raw message
type PayloadHandler func(ctx context.Context, payload []byte) error

// Transport moves encoded signals between processes
type Transport interface {
	// Publish sends payload to every subscribed process
	Publish(ctx context.Context, payload []byte) error
	// Subscribe delivers every payload published after it returns to handler until ctx is done
	Subscribe(ctx context.Context, handler PayloadHandler) error
	Close() error
}

// Handler reacts to a signal sent by another process
type Handler func(ctx context.Context, sig Signal) error

// Broadcaster publishes and receives reload signals
type Broadcaster interface {
	// ID identifies this process as a sender
	ID() uuid.UUID
	// Publish asks the other processes to reload collections
	Publish(ctx context.Context, collections ...string) error
	// PublishAll asks the other processes to reload everything
	PublishAll(ctx context.Context) error
	// Start delivers signals from other processes to handler until ctx is done
	Start(ctx context.Context, handler Handler) error
	Close() error
}

type broadcaster struct {
	log       logger.Logger
	id        uuid.UUID
	transport Transport
	started   atomic.Bool
}

// New creates a broadcaster identified by id; uuid.Nil picks a random id
func New(log logger.Logger, id uuid.UUID, transport Transport) Broadcaster {
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &broadcaster{
		log:       logger.With(logger.Component(log, "broadcast"), zap.Stringer("instance", id)),
		id:        id,
		transport: transport,
	}
}

func (b *broadcaster) ID() uuid.UUID {
	return b.id
}

func (b *broadcaster) Publish(ctx context.Context, collections ...string) error {
	if len(collections) == 0 {
		return ErrEmptySignal
	}
	return b.publish(ctx, Signal{Collections: collections})
}

func (b *broadcaster) PublishAll(ctx context.Context) error {
	return b.publish(ctx, Signal{All: true})
}

func (b *broadcaster) publish(ctx context.Context, sig Signal) error {
	sig.Sender = b.id
	sig.SentAt = time.Now().UTC()
	payload, err := Encode(sig)
	if err != nil {
		return ErrPublish(err)
	}
	if err := b.transport.Publish(ctx, payload); err != nil {
		return ErrPublish(err)
	}
	b.log.Info("reload signal published",
		zap.Strings("collections", sig.Collections),
		zap.Bool("all", sig.All),
	)
	return nil
}

func (b *broadcaster) Start(ctx context.Context, handler Handler) error {
	if handler == nil {
		return ErrNilHandler
	}
	if !b.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	return b.transport.Subscribe(ctx, func(ctx context.Context, payload []byte) error {
		sig, err := Decode(payload)
		if err != nil {
			// retrying cannot fix a malformed payload
			b.log.Warn("dropping malformed reload signal", zap.Error(err))
			return nil
		}
		if sig.Sender == b.id {
			return nil
		}
		b.log.Info("reload signal received",
			zap.Stringer("sender", sig.Sender),
			zap.Strings("collections", sig.Collections),
			zap.Bool("all", sig.All),
		)
		return handler(ctx, sig)
	})
}

func (b *broadcaster) Close() error {
	return b.transport.Close()
}
