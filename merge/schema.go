// Package merge applies partial documents onto typed configuration values.
//
// Every type is described once by a Schema: an explicit table of its fields,
// their document names and their kinds. Merge walks that table, never the
// value, so a delta can only touch the fields it names. Nested structs merge
// recursively; slices and maps are replaced wholesale because a partial list
// update has no unambiguous meaning.
package merge

import (
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// FieldKind is the category of a schema field, selecting its converter
type FieldKind int

const (
	KindUnknown FieldKind = iota
	KindString
	KindInt
	KindUint
	KindFloat
	KindBool
	KindTime
	KindDuration
	KindDecimal
	KindStruct
	KindSlice
	KindMap
	KindAny
)

var kindNames = map[FieldKind]string{
	KindUnknown:  "unknown",
	KindString:   "string",
	KindInt:      "int",
	KindUint:     "uint",
	KindFloat:    "float",
	KindBool:     "bool",
	KindTime:     "time",
	KindDuration: "duration",
	KindDecimal:  "decimal",
	KindStruct:   "struct",
	KindSlice:    "slice",
	KindMap:      "map",
	KindAny:      "any",
}

func (k FieldKind) String() string {
	return kindNames[k]
}

var (
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))
	decimalType  = reflect.TypeOf(decimal.Decimal{})
)

// Field describes one struct field of a Schema
type Field struct {
	// Name is the document key, taken from the bson tag or the lowercased Go name
	Name   string
	GoName string
	Index  int
	Type   reflect.Type
	Kind   FieldKind
	// Pointer is set when the field holds a pointer to Type
	Pointer bool
}

// Schema is the field table of a struct type
type Schema struct {
	Type   reflect.Type
	Fields []Field

	byName map[string]int
}

// Field returns the field stored under the document key name
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// UnknownFields returns the top-level delta keys that no field of s accepts, dotted keys included
func (s *Schema) UnknownFields(delta map[string]any) []string {
	var unknown []string
	for key := range delta {
		head, _, _ := strings.Cut(key, ".")
		if _, ok := s.byName[head]; !ok {
			unknown = append(unknown, key)
		}
	}
	return unknown
}

var (
	schemasMu sync.Mutex
	schemas   = make(map[reflect.Type]*Schema)
)

// SchemaOf returns the schema of T, building it on first use.
// T must be a struct or a pointer to a struct.
func SchemaOf[T any]() (*Schema, error) {
	return schemaFor(reflect.TypeOf((*T)(nil)).Elem())
}

func schemaFor(t reflect.Type) (*Schema, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct || isLeafStruct(t) {
		return nil, ErrUnsupportedType(t)
	}

	schemasMu.Lock()
	defer schemasMu.Unlock()
	return buildLocked(t)
}

func buildLocked(t reflect.Type) (*Schema, error) {
	if s, ok := schemas[t]; ok {
		return s, nil
	}

	s := &Schema{Type: t, byName: make(map[string]int)}
	// recursive types see the partially built schema
	schemas[t] = s

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, skip := fieldName(sf)
		if skip {
			continue
		}

		ft := sf.Type
		pointer := false
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
			pointer = true
		}
		kind := kindOf(ft)
		if kind == KindUnknown {
			delete(schemas, t)
			return nil, ErrUnsupportedField(t, sf.Name, sf.Type)
		}
		if err := checkElem(ft); err != nil {
			delete(schemas, t)
			return nil, ErrUnsupportedField(t, sf.Name, sf.Type)
		}
		if kind == KindStruct {
			if _, err := buildLocked(ft); err != nil {
				delete(schemas, t)
				return nil, err
			}
		}

		s.byName[name] = len(s.Fields)
		s.Fields = append(s.Fields, Field{
			Name:    name,
			GoName:  sf.Name,
			Index:   i,
			Type:    ft,
			Kind:    kind,
			Pointer: pointer,
		})
	}
	return s, nil
}

// checkElem rejects slices and maps whose elements cannot be converted
func checkElem(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Slice:
		return checkValueType(t.Elem())
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return ErrUnsupportedType(t)
		}
		return checkValueType(t.Elem())
	}
	return nil
}

func checkValueType(t reflect.Type) error {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	kind := kindOf(t)
	if kind == KindUnknown {
		return ErrUnsupportedType(t)
	}
	if kind == KindStruct {
		if _, err := buildLocked(t); err != nil {
			return err
		}
	}
	return checkElem(t)
}

func fieldName(sf reflect.StructField) (name string, skip bool) {
	tag := sf.Tag.Get("bson")
	if tag == "-" {
		return "", true
	}
	name, _, _ = strings.Cut(tag, ",")
	if name == "" {
		name = strings.ToLower(sf.Name)
	}
	return name, false
}

func kindOf(t reflect.Type) FieldKind {
	switch t {
	case timeType:
		return KindTime
	case durationType:
		return KindDuration
	case decimalType:
		return KindDecimal
	}
	switch t.Kind() {
	case reflect.String:
		return KindString
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return KindInt
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return KindUint
	case reflect.Float32, reflect.Float64:
		return KindFloat
	case reflect.Bool:
		return KindBool
	case reflect.Struct:
		return KindStruct
	case reflect.Slice:
		return KindSlice
	case reflect.Map:
		return KindMap
	case reflect.Interface:
		return KindAny
	}
	return KindUnknown
}

func isLeafStruct(t reflect.Type) bool {
	return t == timeType || t == decimalType
}
