package reload

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRegistered is returned for ids without a reloader
	ErrNotRegistered = errors.New("reload: id not registered")
	// ErrNilReloader is returned when registering a nil reloader
	ErrNilReloader = errors.New("reload: reloader is required")
)

// ErrReload wraps the failure of reloading id
func ErrReload(id string, err error) error {
	return fmt.Errorf("reload: %s: %w", id, err)
}

// ErrInvalidMaxConcurrency returns an error for a non-positive concurrency bound
func ErrInvalidMaxConcurrency(n int) error {
	return fmt.Errorf("reload: invalid max_concurrency: %d (must be > 0)", n)
}
