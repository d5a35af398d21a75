package configs

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed engine
	ErrClosed = errors.New("configs: closed")
	// ErrAlreadyStarted is returned when Start is called twice
	ErrAlreadyStarted = errors.New("configs: already started")
	// ErrMissingSection is returned by Validate when a configuration section is nil
	ErrMissingSection = errors.New("configs: missing configuration section")
)

// ErrCollectionInUse is returned when collection is registered both as a message catalog and as an object
func ErrCollectionInUse(collection, as string) error {
	return fmt.Errorf("configs: collection %s is already registered as %s", collection, as)
}
