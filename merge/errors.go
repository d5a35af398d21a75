package merge

import (
	"fmt"
	"reflect"
)

// SchemaMismatchError reports a delta value that cannot be converted to its field's type.
// The value the merge was applied to is left unchanged.
type SchemaMismatchError struct {
	// Field is the dotted document path of the offending field
	Field string
	Want  string
	Got   string
	Err   error
}

func (e *SchemaMismatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("merge: field %q: cannot use %s as %s: %v", e.Field, e.Got, e.Want, e.Err)
	}
	return fmt.Sprintf("merge: field %q: cannot use %s as %s", e.Field, e.Got, e.Want)
}

func (e *SchemaMismatchError) Unwrap() error {
	return e.Err
}

func mismatch(field string, want reflect.Type, got any, err error) error {
	return &SchemaMismatchError{
		Field: field,
		Want:  want.String(),
		Got:   fmt.Sprintf("%T", got),
		Err:   err,
	}
}

// ErrUnsupportedType returns an error for a type that cannot be described by a Schema
func ErrUnsupportedType(t reflect.Type) error {
	return fmt.Errorf("merge: unsupported type %s (must be a struct or pointer to struct)", t)
}

// ErrUnsupportedField returns an error for a struct field whose type has no converter
func ErrUnsupportedField(t reflect.Type, field string, fieldType reflect.Type) error {
	return fmt.Errorf("merge: %s.%s: unsupported field type %s", t, field, fieldType)
}
