package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// ErrTrailingData is returned by Decode when the input holds more than one
// JSON document.
var ErrTrailingData = errors.New("schema: trailing data after JSON value")

// Decode parses a single JSON document. Number literals without a fraction
// or exponent decode as ints, all others as floats.
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("schema: decode: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, ErrTrailingData
	}

	return FromAny(raw), nil
}

// FromAny converts a decoded Go value into a Value. Booleans are matched
// before any numeric type, object keys are ordered lexically, and values of
// no JSON kind become Opaque with their Go type name.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case bool:
		return Bool(t)
	case json.Number:
		return fromNumber(t)
	case string:
		return String(t)
	case int:
		return Int(int64(t))
	case int8:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint, uint8, uint16, uint32, uint64:
		return Value{kind: KindInt, number: fmt.Sprint(t)}
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromAny(item)
		}
		return List(items...)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		members := make([]Member, len(keys))
		for i, k := range keys {
			members[i] = Member{Key: k, Value: FromAny(t[k])}
		}
		return Object(members...)
	}

	return fromReflect(reflect.ValueOf(x))
}

func fromNumber(n json.Number) Value {
	literal := n.String()
	if strings.ContainsAny(literal, ".eE") {
		return Value{kind: KindFloat, number: literal}
	}
	return Value{kind: KindInt, number: literal}
}

// fromReflect handles typed slices and string-keyed maps such as []string
// or map[string]int.
func fromReflect(rv reflect.Value) Value {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null()
		}
		return FromAny(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Null()
		}
		items := make([]Value, rv.Len())
		for i := range items {
			items[i] = FromAny(rv.Index(i).Interface())
		}
		return List(items...)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		if rv.IsNil() {
			return Null()
		}
		keys := rv.MapKeys()
		slices.SortFunc(keys, func(a, b reflect.Value) int {
			return strings.Compare(a.String(), b.String())
		})
		members := make([]Member, len(keys))
		for i, k := range keys {
			members[i] = Member{Key: k.String(), Value: FromAny(rv.MapIndex(k).Interface())}
		}
		return Object(members...)
	case reflect.Bool:
		return Bool(rv.Bool())
	case reflect.String:
		return String(rv.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Value{kind: KindInt, number: strconv.FormatUint(rv.Uint(), 10)}
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float())
	}

	return Opaque(rv.Type().String())
}
