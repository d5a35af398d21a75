package cache

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCacheClosed is returned when operations are attempted on a closed cache
	ErrCacheClosed = errors.New("cache: cache is closed")
	// ErrNotCached is returned by Update when the key has no entry
	ErrNotCached = errors.New("cache: key not cached")
	// ErrNilLoader is returned when a cache is created without a loader
	ErrNilLoader = errors.New("cache: loader is required")
)

// ErrLoad wraps a loader failure for key
func ErrLoad(key Key, err error) error {
	return fmt.Errorf("cache: load %s failed: %w", key, err)
}

// ErrInvalidName returns an error for invalid name
func ErrInvalidName(name string) error {
	return fmt.Errorf("cache: invalid name: %q (must be non-empty)", name)
}

// ErrInvalidTTL returns an error for a non-positive ttl
func ErrInvalidTTL(ttl time.Duration) error {
	return fmt.Errorf("cache: invalid ttl: %v (must be > 0)", ttl)
}

// ErrInvalidRefreshAfterWrite returns an error for a refresh interval that is not positive or not below the ttl
func ErrInvalidRefreshAfterWrite(refresh, ttl time.Duration) error {
	return fmt.Errorf("cache: invalid refresh_after_write: %v (must be > 0 and below ttl %v)", refresh, ttl)
}

// ErrInvalidFetchTimeout returns an error for invalid fetch timeout
func ErrInvalidFetchTimeout(timeout time.Duration) error {
	return fmt.Errorf("cache: invalid fetch timeout: %v (must be > 0)", timeout)
}
