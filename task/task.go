// Package task is the asynchronous result type returned by every public operation.
//
// A Task runs on a routine.Pool, never on the goroutine that created it.
// Callers either Await the result with their own context, select on Done,
// or chain further work with Then. Continuations are scheduled when the
// parent settles, so no pool worker ever blocks waiting on another task.
package task

import (
	"context"
	"sync"

	"github.com/dailyyoga/mongoconfigs/routine"
)

// Task is the eventual result of an asynchronous operation
type Task[T any] struct {
	done chan struct{}

	mu        sync.Mutex
	settled   bool
	val       T
	err       error
	callbacks []func(T, error)
}

func newTask[T any]() *Task[T] {
	return &Task[T]{done: make(chan struct{})}
}

// Go schedules fn on pool and returns its task.
// If ctx is already done when a worker picks fn up, fn is skipped and the task fails with ctx.Err().
func Go[T any](ctx context.Context, pool routine.Pool, fn func(ctx context.Context) (T, error)) *Task[T] {
	t := newTask[T]()
	err := pool.Submit(func() {
		if err := ctx.Err(); err != nil {
			var zero T
			t.settle(zero, err)
			return
		}
		var val T
		err := routine.Safe(func() error {
			var err error
			val, err = fn(ctx)
			return err
		})
		t.settle(val, err)
	})
	if err != nil {
		var zero T
		t.settle(zero, err)
	}
	return t
}

// Completed returns a task that already holds val
func Completed[T any](val T) *Task[T] {
	t := newTask[T]()
	t.settle(val, nil)
	return t
}

// Failed returns a task that already failed with err
func Failed[T any](err error) *Task[T] {
	t := newTask[T]()
	var zero T
	t.settle(zero, err)
	return t
}

// Done is closed once the task has a result
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Await blocks until the task settles or ctx is done.
// Cancelling ctx stops the wait; it does not cancel the underlying work.
func (t *Task[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.val, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Poll returns the result without blocking; done is false while the task is pending
func (t *Task[T]) Poll() (val T, done bool, err error) {
	select {
	case <-t.done:
		return t.val, true, t.err
	default:
		var zero T
		return zero, false, nil
	}
}

// OnComplete registers fn to run once the task settles.
// fn runs on the settling goroutine, or immediately if the task already settled, so it must be quick.
func (t *Task[T]) OnComplete(fn func(T, error)) {
	t.mu.Lock()
	if !t.settled {
		t.callbacks = append(t.callbacks, fn)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	fn(t.val, t.err)
}

func (t *Task[T]) settle(val T, err error) {
	t.mu.Lock()
	if t.settled {
		t.mu.Unlock()
		return
	}
	t.val, t.err = val, err
	t.settled = true
	callbacks := t.callbacks
	t.callbacks = nil
	close(t.done)
	t.mu.Unlock()

	for _, cb := range callbacks {
		cb(val, err)
	}
}

// Then schedules fn on pool after parent succeeds.
// A parent failure is propagated without calling fn.
func Then[T, U any](ctx context.Context, pool routine.Pool, parent *Task[T], fn func(ctx context.Context, val T) (U, error)) *Task[U] {
	t := newTask[U]()
	parent.OnComplete(func(val T, err error) {
		if err != nil {
			var zero U
			t.settle(zero, err)
			return
		}
		next := Go(ctx, pool, func(ctx context.Context) (U, error) {
			return fn(ctx, val)
		})
		next.OnComplete(t.settle)
	})
	return t
}

// Ignore converts a task to one that carries no value
func Ignore[T any](parent *Task[T]) *Task[struct{}] {
	t := newTask[struct{}]()
	parent.OnComplete(func(_ T, err error) {
		t.settle(struct{}{}, err)
	})
	return t
}
