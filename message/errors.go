package message

import (
	"errors"
	"fmt"
)

// ErrNotRegistered is returned for operations on a collection that was never registered
var ErrNotRegistered = errors.New("message: collection not registered")

// MissingMessage is the result of a lookup that found the path in neither the
// requested nor the default language. It is returned as a value, not raised.
type MissingMessage struct {
	Collection string
	Language   string
	Path       string
}

func (m *MissingMessage) Error() string {
	return fmt.Sprintf("message: missing message %s for %s in %s", m.Path, m.Language, m.Collection)
}

// ErrInvalidDefaultLanguage returns an error for an empty default language
func ErrInvalidDefaultLanguage(lang string) error {
	return fmt.Errorf("message: invalid default language: %q (must be non-empty)", lang)
}

// ErrInvalidLanguage returns an error for an invalid supported language
func ErrInvalidLanguage(lang string) error {
	return fmt.Errorf("message: invalid language: %q (must be non-empty)", lang)
}

// ErrInvalidCollection returns an error for an invalid collection name
func ErrInvalidCollection(name string) error {
	return fmt.Errorf("message: invalid collection: %q (must be non-empty)", name)
}

// ErrPathConflict returns an error for a path that is both a value and a parent of other paths
func ErrPathConflict(path string) error {
	return fmt.Errorf("message: path %q is both a message and a section", path)
}

// ErrReload wraps a reload failure of collection
func ErrReload(collection string, err error) error {
	return fmt.Errorf("message: reload %s: %w", collection, err)
}

// ErrSave wraps a failure to save the catalog of collection/language
func ErrSave(collection, language string, err error) error {
	return fmt.Errorf("message: save %s/%s: %w", collection, language, err)
}
