package changefeed

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlreadyStarted is returned when Start is called twice
	ErrAlreadyStarted = errors.New("changefeed: listener already started")
	// ErrNotStarted is returned when Stop is called before Start
	ErrNotStarted = errors.New("changefeed: listener not started")
	// ErrNilHandler is returned when a listener is created without a handler
	ErrNilHandler = errors.New("changefeed: handler is required")
)

// ErrInvalidCollection returns an error for an invalid collection name
func ErrInvalidCollection(name string) error {
	return fmt.Errorf("changefeed: invalid collection: %q (must be non-empty)", name)
}

// ErrInvalidMaxReconnectAttempts returns an error for an invalid reconnect budget
func ErrInvalidMaxReconnectAttempts(n int) error {
	return fmt.Errorf("changefeed: invalid max_reconnect_attempts: %d (must be > 0)", n)
}

// ErrInvalidBackoff returns an error for an invalid backoff range
func ErrInvalidBackoff(base, max time.Duration) error {
	return fmt.Errorf("changefeed: invalid backoff: base %v, max %v (base must be > 0 and not above max)", base, max)
}

// ErrInvalidBufferSize returns an error for an invalid buffer size
func ErrInvalidBufferSize(size int) error {
	return fmt.Errorf("changefeed: invalid buffer_size: %d (must be > 0)", size)
}

// ErrInvalidCloseTimeout returns an error for an invalid close timeout
func ErrInvalidCloseTimeout(timeout time.Duration) error {
	return fmt.Errorf("changefeed: invalid close_timeout: %v (must be > 0)", timeout)
}
