package merge

import (
	"reflect"
	"time"

	"github.com/shopspring/decimal"
)

// Encode renders v as a document using the same field names Merge reads.
// Decimals become strings and durations become nanoseconds so that the result
// stores cleanly and decodes back to v.
func Encode[T any](v T) (map[string]any, error) {
	s, err := SchemaOf[T]()
	if err != nil {
		return nil, err
	}
	rv := reflect.ValueOf(&v).Elem()
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return map[string]any{}, nil
		}
		rv = rv.Elem()
	}
	return encodeStruct(rv, s), nil
}

func encodeStruct(rv reflect.Value, s *Schema) map[string]any {
	out := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		fv := rv.Field(f.Index)
		if f.Pointer {
			if fv.IsNil() {
				out[f.Name] = nil
				continue
			}
			fv = fv.Elem()
		}
		out[f.Name] = encodeValue(fv)
	}
	return out
}

func encodeValue(v reflect.Value) any {
	switch kindOf(v.Type()) {
	case KindString:
		return v.String()
	case KindBool:
		return v.Bool()
	case KindInt:
		return v.Int()
	case KindUint:
		return int64(v.Uint())
	case KindFloat:
		return v.Float()
	case KindTime:
		return v.Interface().(time.Time)
	case KindDuration:
		return v.Int()
	case KindDecimal:
		return v.Interface().(decimal.Decimal).String()
	case KindStruct:
		s, err := schemaFor(v.Type())
		if err != nil {
			return nil
		}
		return encodeStruct(v, s)
	case KindSlice:
		if v.IsNil() {
			return nil
		}
		out := make([]any, v.Len())
		for i := range out {
			out[i] = encodeElem(v.Index(i))
		}
		return out
	case KindMap:
		if v.IsNil() {
			return nil
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = encodeElem(iter.Value())
		}
		return out
	case KindAny:
		if v.IsNil() {
			return nil
		}
		return v.Interface()
	}
	return nil
}

func encodeElem(v reflect.Value) any {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return encodeValue(v)
}
