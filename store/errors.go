package store

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no document matches
	ErrNotFound = errors.New("store: document not found")

	// ErrCursorInvalid is returned when a change stream can no longer be resumed,
	// typically because the store truncated the history the resume token points into
	ErrCursorInvalid = errors.New("store: change stream cursor invalid")

	// ErrClosed is returned by operations on a closed client or stream
	ErrClosed = errors.New("store: closed")
)

// UnavailableError reports a transient failure to reach the store
type UnavailableError struct {
	Op         string
	Collection string
	Err        error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store: %s %s: unavailable: %v", e.Op, e.Collection, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// ErrUnavailable wraps err as an UnavailableError
func ErrUnavailable(op, collection string, err error) error {
	return &UnavailableError{Op: op, Collection: collection, Err: err}
}

// TimeoutError reports a store call that did not finish within its deadline
type TimeoutError struct {
	Op         string
	Collection string
	Timeout    time.Duration
	Err        error
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("store: %s %s: timed out after %s", e.Op, e.Collection, e.Timeout)
	}
	return fmt.Sprintf("store: %s %s: timed out", e.Op, e.Collection)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// ErrTimeout wraps err as a TimeoutError
func ErrTimeout(op, collection string, timeout time.Duration, err error) error {
	return &TimeoutError{Op: op, Collection: collection, Timeout: timeout, Err: err}
}

// IsTransient reports whether err may succeed when retried
func IsTransient(err error) bool {
	var unavailable *UnavailableError
	var timeout *TimeoutError
	return errors.As(err, &unavailable) || errors.As(err, &timeout)
}
