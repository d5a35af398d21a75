// Package routine runs goroutines that cannot take the process down.
//
// Runner and the Go helpers are meant for long-lived loops such as change
// stream listeners. Pool is the bounded worker pool every asynchronous
// operation is executed on.
package routine

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/dailyyoga/mongoconfigs/logger"
	"go.uber.org/zap"
)

// Runner provides safe goroutine execution with panic recovery
type Runner interface {
	// Go executes fn in a new goroutine
	Go(fn func())

	// GoNamed executes fn in a new goroutine; name is attached to panic logs
	GoNamed(name string, fn func())

	// GoNamedWithContext executes fn with ctx in a new goroutine
	GoNamedWithContext(ctx context.Context, name string, fn func(ctx context.Context))

	// Wait waits for all goroutines started by this runner to complete
	Wait()
}

type defaultRunner struct {
	log logger.Logger
	wg  sync.WaitGroup
}

// New creates a new Runner with the given logger
func New(log logger.Logger) Runner {
	return &defaultRunner{log: log}
}

func (r *defaultRunner) Go(fn func()) {
	r.GoNamed("", fn)
}

func (r *defaultRunner) GoNamed(name string, fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer recoverWithLog(r.log, name)
		fn()
	}()
}

func (r *defaultRunner) GoNamedWithContext(ctx context.Context, name string, fn func(ctx context.Context)) {
	r.GoNamed(name, func() { fn(ctx) })
}

func (r *defaultRunner) Wait() {
	r.wg.Wait()
}

// Go executes fn in a new goroutine, logging any panic to log
func Go(log logger.Logger, fn func()) {
	GoNamed(log, "", fn)
}

// GoNamed executes a named fn in a new goroutine with panic recovery
func GoNamed(log logger.Logger, name string, fn func()) {
	go func() {
		defer recoverWithLog(log, name)
		fn()
	}()
}

// GoNamedWithContext executes a named fn with ctx in a new goroutine
func GoNamedWithContext(ctx context.Context, log logger.Logger, name string, fn func(ctx context.Context)) {
	GoNamed(log, name, func() { fn(ctx) })
}

// Safe runs fn on the calling goroutine and converts a panic into an error.
func Safe(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = ErrPanic(rec)
		}
	}()
	return fn()
}

func recoverWithLog(log logger.Logger, name string) {
	if rec := recover(); rec != nil {
		fields := []zap.Field{
			zap.Any("panic", rec),
			zap.String("stack", string(debug.Stack())),
		}
		if name != "" {
			fields = append([]zap.Field{zap.String("routine", name)}, fields...)
		}
		log.Error("goroutine panicked", fields...)
	}
}
