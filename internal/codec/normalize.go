package codec

import (
	"encoding"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strings"
)

var (
	bigIntType   = reflect.TypeOf(big.Int{})
	bigFloatType = reflect.TypeOf(big.Float{})
	bigRatType   = reflect.TypeOf(big.Rat{})
	marshalerT   = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalT = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// Normalize returns a copy of v in which every arbitrary-precision number is
// replaced by its decimal string.
//
// Sequences become []any and keyed structures become map[string]any, so the
// shape is preserved structurally. Structs are walked field by field using
// their json tags. Other values that know how to marshal themselves (e.g.
// time.Time) are kept as leaves.
func Normalize(v any) any {
	if v == nil {
		return nil
	}
	return normalizeValue(reflect.ValueOf(v))
}

func normalizeValue(rv reflect.Value) any {
	if !rv.IsValid() {
		return nil
	}

	// Unwrap pointers and interfaces, stopping at nil.
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		if rv.Kind() == reflect.Pointer {
			if s, ok := bigString(rv); ok {
				return s
			}
		}
		rv = rv.Elem()
	}

	if s, ok := bigString(rv); ok {
		return s
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[mapKey(iter.Key())] = normalizeValue(iter.Value())
		}
		return out

	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Interface()
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = normalizeValue(rv.Index(i))
		}
		return out

	case reflect.Struct:
		if rv.Type().Implements(marshalerT) || rv.Type().Implements(textMarshalT) {
			return rv.Interface()
		}
		if reflect.PointerTo(rv.Type()).Implements(marshalerT) {
			return rv.Interface()
		}
		return normalizeStruct(rv)

	default:
		return rv.Interface()
	}
}

// bigString converts math/big values (or pointers to them) to decimal text.
func bigString(rv reflect.Value) (string, bool) {
	t := rv.Type()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
		if rv.IsNil() {
			return "", false
		}
		rv = rv.Elem()
	}
	if !rv.CanAddr() {
		cp := reflect.New(t).Elem()
		cp.Set(rv)
		rv = cp
	}
	switch t {
	case bigIntType:
		return rv.Addr().Interface().(*big.Int).String(), true
	case bigFloatType:
		return rv.Addr().Interface().(*big.Float).Text('f', -1), true
	case bigRatType:
		return rv.Addr().Interface().(*big.Rat).RatString(), true
	}
	return "", false
}

func normalizeStruct(rv reflect.Value) map[string]any {
	t := rv.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, omitEmpty, skip := jsonField(f)
		if skip {
			continue
		}
		fv := rv.Field(i)
		if omitEmpty && fv.IsZero() {
			continue
		}
		out[name] = normalizeValue(fv)
	}
	return out
}

func jsonField(f reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name = f.Name
	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		name = parts[0]
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
		if b, err := tm.MarshalText(); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(k.Interface())
}
