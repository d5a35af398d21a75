package object

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrNotRegistered is returned for an id that has no registered type
	ErrNotRegistered = errors.New("object: id not registered")
	// ErrInvalidID is returned when registering an empty id
	ErrInvalidID = errors.New("object: id must be non-empty")
)

// ErrTypeMismatch returns an error for an id registered with a different type than requested
func ErrTypeMismatch(id string, registered, requested reflect.Type) error {
	return fmt.Errorf("object: %s is registered as %s, not %s", id, registered, requested)
}

// ErrDecode wraps a failure to decode the stored document of id
func ErrDecode(id string, err error) error {
	return fmt.Errorf("object: decode %s: %w", id, err)
}

// ErrSave wraps a failure to store id
func ErrSave(id string, err error) error {
	return fmt.Errorf("object: save %s: %w", id, err)
}

// ErrReload wraps a reload failure of id
func ErrReload(id string, err error) error {
	return fmt.Errorf("object: reload %s: %w", id, err)
}
