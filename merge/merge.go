package merge

import (
	"errors"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var errLossy = errors.New("value does not fit without loss")

// patch holds the entries addressed through dotted keys. A map field receiving
// a patch keeps its other entries; a nil entry deletes the key.
type patch map[string]any

// Instantiate returns a blank T. For pointer types it allocates the struct.
func Instantiate[T any]() T {
	var zero T
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() == reflect.Pointer {
		return reflect.New(t.Elem()).Interface().(T)
	}
	return zero
}

// Merge returns a copy of existing with every field named in delta replaced.
// Fields absent from delta keep their values and existing itself is never modified.
// Delta keys may be dotted paths into nested structs. Keys that match no field are ignored.
func Merge[T any](existing T, delta map[string]any) (T, error) {
	s, err := SchemaOf[T]()
	if err != nil {
		return existing, err
	}

	result := existing
	rv := reflect.ValueOf(&result).Elem()
	if rv.Kind() == reflect.Pointer {
		cp := reflect.New(s.Type)
		if !rv.IsNil() {
			cp.Elem().Set(rv.Elem())
		}
		rv.Set(cp)
		rv = cp.Elem()
	}

	if err := mergeStruct(rv, s, delta, ""); err != nil {
		return existing, err
	}
	return result, nil
}

// Decode builds a T from a full document
func Decode[T any](doc map[string]any) (T, error) {
	return Merge(Instantiate[T](), doc)
}

// mergeStruct applies delta to dst, an addressable struct value described by s
func mergeStruct(dst reflect.Value, s *Schema, delta map[string]any, prefix string) error {
	delta = expand(delta)
	keys := make([]string, 0, len(delta))
	for k := range delta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		f, ok := s.Field(key)
		if !ok {
			continue
		}
		fv := dst.Field(f.Index)
		path := joinPath(prefix, key)

		var (
			nv  reflect.Value
			err error
		)
		p, isPatch := delta[key].(patch)
		switch {
		case isPatch && f.Kind == KindMap && !f.Pointer:
			nv, err = patchMap(fv, f.Type, p, path)
		case f.Pointer:
			nv, err = assignPointer(fv, f.Type, delta[key], path)
		default:
			nv, err = assign(fv, f.Type, delta[key], path)
		}
		if err != nil {
			return err
		}
		fv.Set(nv)
	}
	return nil
}

func patchMap(cur reflect.Value, t reflect.Type, p patch, path string) (reflect.Value, error) {
	out := reflect.MakeMapWithSize(t, cur.Len()+len(p))
	iter := cur.MapRange()
	for iter.Next() {
		out.SetMapIndex(iter.Key(), iter.Value())
	}
	for key, v := range p {
		k := reflect.ValueOf(key).Convert(t.Key())
		if v == nil {
			out.SetMapIndex(k, reflect.Value{})
			continue
		}
		ev, err := convertElem(v, t.Elem(), joinPath(path, key))
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetMapIndex(k, ev)
	}
	return out, nil
}

// assign converts v to t. Nested structs start from cur so that fields absent from v survive.
func assign(cur reflect.Value, t reflect.Type, v any, path string) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	if kindOf(t) != KindStruct {
		return convert(v, t, path)
	}

	m, ok := asMap(v)
	if !ok {
		return reflect.Value{}, mismatch(path, t, v, nil)
	}
	s, err := schemaFor(t)
	if err != nil {
		return reflect.Value{}, err
	}
	nv := reflect.New(t).Elem()
	if cur.IsValid() {
		nv.Set(cur)
	}
	if err := mergeStruct(nv, s, m, path); err != nil {
		return reflect.Value{}, err
	}
	return nv, nil
}

// assignPointer is assign for *t fields; the previous pointee is copied, never written
func assignPointer(cur reflect.Value, t reflect.Type, v any, path string) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(reflect.PointerTo(t)), nil
	}
	var elem reflect.Value
	if cur.IsValid() && !cur.IsNil() {
		elem = cur.Elem()
	}
	nv, err := assign(elem, t, v, path)
	if err != nil {
		return reflect.Value{}, err
	}
	p := reflect.New(t)
	p.Elem().Set(nv)
	return p, nil
}

// convert builds a fresh value of type t from a document value
func convert(v any, t reflect.Type, path string) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	switch kindOf(t) {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return reflect.Value{}, mismatch(path, t, v, nil)
		}
		out.SetString(s)

	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return reflect.Value{}, mismatch(path, t, v, nil)
		}
		out.SetBool(b)

	case KindInt:
		n, err := toInt64(v)
		if err != nil || out.OverflowInt(n) {
			return reflect.Value{}, mismatch(path, t, v, lossy(err))
		}
		out.SetInt(n)

	case KindUint:
		n, err := toInt64(v)
		if err != nil || n < 0 || out.OverflowUint(uint64(n)) {
			return reflect.Value{}, mismatch(path, t, v, lossy(err))
		}
		out.SetUint(uint64(n))

	case KindFloat:
		f, ok := toFloat64(v)
		if !ok || out.OverflowFloat(f) {
			return reflect.Value{}, mismatch(path, t, v, nil)
		}
		out.SetFloat(f)

	case KindTime:
		tm, err := toTime(v)
		if err != nil {
			return reflect.Value{}, mismatch(path, t, v, err)
		}
		out.Set(reflect.ValueOf(tm))

	case KindDuration:
		d, err := toDuration(v)
		if err != nil {
			return reflect.Value{}, mismatch(path, t, v, err)
		}
		out.SetInt(int64(d))

	case KindDecimal:
		d, err := toDecimal(v)
		if err != nil {
			return reflect.Value{}, mismatch(path, t, v, err)
		}
		out.Set(reflect.ValueOf(d))

	case KindStruct:
		return assign(reflect.Value{}, t, v, path)

	case KindSlice:
		src := reflect.ValueOf(v)
		if src.Kind() != reflect.Slice && src.Kind() != reflect.Array {
			return reflect.Value{}, mismatch(path, t, v, nil)
		}
		out = reflect.MakeSlice(t, src.Len(), src.Len())
		for i := 0; i < src.Len(); i++ {
			ev, err := convertElem(src.Index(i).Interface(), t.Elem(), indexPath(path, i))
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(ev)
		}

	case KindMap:
		src := reflect.ValueOf(v)
		if src.Kind() != reflect.Map || src.Type().Key().Kind() != reflect.String {
			return reflect.Value{}, mismatch(path, t, v, nil)
		}
		out = reflect.MakeMapWithSize(t, src.Len())
		iter := src.MapRange()
		for iter.Next() {
			key := iter.Key().String()
			ev, err := convertElem(iter.Value().Interface(), t.Elem(), joinPath(path, key))
			if err != nil {
				return reflect.Value{}, err
			}
			out.SetMapIndex(reflect.ValueOf(key).Convert(t.Key()), ev)
		}

	case KindAny:
		src := reflect.ValueOf(v)
		if !src.Type().AssignableTo(t) {
			return reflect.Value{}, mismatch(path, t, v, nil)
		}
		out.Set(src)

	default:
		return reflect.Value{}, mismatch(path, t, v, nil)
	}
	return out, nil
}

func convertElem(v any, t reflect.Type, path string) (reflect.Value, error) {
	if t.Kind() == reflect.Pointer {
		return assignPointer(reflect.Value{}, t.Elem(), v, path)
	}
	if v == nil {
		return reflect.Zero(t), nil
	}
	return convert(v, t, path)
}

// expand rewrites dotted keys into nested maps, without modifying delta
func expand(delta map[string]any) map[string]any {
	var dotted []string
	for k := range delta {
		if strings.Contains(k, ".") {
			dotted = append(dotted, k)
		}
	}
	if len(dotted) == 0 {
		return delta
	}
	sort.Strings(dotted)

	out := make(map[string]any, len(delta))
	for k, v := range delta {
		if !strings.Contains(k, ".") {
			out[k] = v
		}
	}
	for _, k := range dotted {
		head, rest, _ := strings.Cut(k, ".")
		sub := make(patch)
		if existing, ok := asMap(out[head]); ok {
			for ek, ev := range existing {
				sub[ek] = ev
			}
		}
		sub[rest] = delta[k]
		out[head] = sub
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case patch:
		return m, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

func toInt64(v any) (int64, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, errLossy
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, errLossy
		}
		return int64(f), nil
	}
	if d, ok := v.(decimal.Decimal); ok && d.IsInteger() {
		return d.IntPart(), nil
	}
	return 0, errors.New("not a number")
}

func toFloat64(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	if d, ok := v.(decimal.Decimal); ok {
		return d.InexactFloat64(), true
	}
	return 0, false
}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		return time.Parse(time.RFC3339Nano, x)
	}
	return time.Time{}, errors.New("expected time or RFC 3339 string")
}

func toDuration(v any) (time.Duration, error) {
	switch x := v.(type) {
	case time.Duration:
		return x, nil
	case string:
		return time.ParseDuration(x)
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	return time.Duration(n), nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case string:
		return decimal.NewFromString(x)
	case float64:
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	}
	n, err := toInt64(v)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(n), nil
}

func lossy(err error) error {
	if err == nil {
		return errLossy
	}
	return err
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func indexPath(path string, i int) string {
	return path + "[" + strconv.Itoa(i) + "]"
}
