package value

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
)

var (
	// ErrUnsupportedValue signals that a Go value has no canonical snapshot form.
	ErrUnsupportedValue = errors.New("value cannot be converted to a snapshot value")
	// ErrUnsupportedKey signals that a map key has no deterministic string form.
	ErrUnsupportedKey = errors.New("map key cannot be converted to a string")
)

// Kind enumerates the shapes a snapshot value may take on the wire.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindDouble
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Value is the canonical JSON-shaped representation of a synced field.
// The zero value is the null value.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

// Null returns the canonical null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Int wraps a 64-bit integer.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Double wraps a 64-bit float.
func Double(v float64) Value { return Value{kind: KindDouble, f: v} }

// String wraps a string.
func String(v string) Value { return Value{kind: KindString, s: v} }

// Array wraps a slice of values without copying.
func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }

// Object wraps a string-keyed map of values without copying.
func Object(fields map[string]Value) Value {
	if fields == nil {
		fields = make(map[string]Value)
	}
	return Value{kind: KindObject, obj: fields}
}

// Kind reports the shape of the value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// BoolValue returns the wrapped boolean and whether the value holds one.
func (v Value) BoolValue() (bool, bool) { return v.b, v.kind == KindBool }

// IntValue returns the wrapped integer and whether the value holds one.
func (v Value) IntValue() (int64, bool) { return v.i, v.kind == KindInt }

// DoubleValue returns the wrapped float and whether the value holds one.
func (v Value) DoubleValue() (float64, bool) { return v.f, v.kind == KindDouble }

// StringValue returns the wrapped string and whether the value holds one.
func (v Value) StringValue() (string, bool) { return v.s, v.kind == KindString }

// Items returns the backing slice for array values, nil otherwise.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.arr
}

// Fields returns the backing map for object values, nil otherwise.
func (v Value) Fields() map[string]Value {
	if v.kind != KindObject {
		return nil
	}
	return v.obj
}

// Field returns the named entry of an object value.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	entry, ok := v.obj[name]
	return entry, ok
}

// FieldNames returns the sorted key set of an object value.
func (v Value) FieldNames() []string {
	if v.kind != KindObject || len(v.obj) == 0 {
		return nil
	}
	names := make([]string, 0, len(v.obj))
	for name := range v.obj {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Equal reports structural equality between two values.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindDouble:
		return v.f == other.f
	case KindString:
		return v.s == other.s
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for idx := range v.arr {
			if !v.arr[idx].Equal(other.arr[idx]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(other.obj) {
			return false
		}
		for key, entry := range v.obj {
			peer, ok := other.obj[key]
			if !ok || !entry.Equal(peer) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Clone returns a deep copy so callers cannot mutate shared containers.
func (v Value) Clone() Value {
	switch v.kind {
	case KindArray:
		items := make([]Value, len(v.arr))
		for idx, item := range v.arr {
			items[idx] = item.Clone()
		}
		return Value{kind: KindArray, arr: items}
	case KindObject:
		fields := make(map[string]Value, len(v.obj))
		for key, entry := range v.obj {
			fields[key] = entry.Clone()
		}
		return Value{kind: KindObject, obj: fields}
	default:
		return v
	}
}

// Projector is implemented by state nodes that project themselves for a viewer.
// An empty viewer requests the broadcast projection.
type Projector interface {
	ProjectValue(viewer string) (Value, error)
}

// FullProjector is implemented by state nodes that can render every field
// without policy filtering, used for persistence snapshots.
type FullProjector interface {
	ProjectFullValue() (Value, error)
}

// Unwrapper is implemented by tracked containers that expose their raw contents.
type Unwrapper interface {
	UnwrapValue() any
}

// FromAny converts a Go value into its canonical broadcast form.
func FromAny(v any) (Value, error) {
	return convert(v, "", false)
}

// FromAnyFor converts a Go value into canonical form for the given viewer.
// State nodes encountered during the walk re-apply their own sync policies.
func FromAnyFor(v any, viewer string) (Value, error) {
	return convert(v, viewer, false)
}

// FromAnyFull converts a Go value without policy filtering, recursing into
// state nodes via their full projection. Intended for persistence only.
func FromAnyFull(v any) (Value, error) {
	return convert(v, "", true)
}

func convert(v any, viewer string, full bool) (Value, error) {
	if v == nil {
		return Null(), nil
	}

	//1.- Let state nodes and tracked containers describe themselves first.
	if full {
		if projector, ok := v.(FullProjector); ok {
			return projector.ProjectFullValue()
		}
	}
	switch typed := v.(type) {
	case Projector:
		if full {
			break
		}
		return typed.ProjectValue(viewer)
	case Unwrapper:
		return convert(typed.UnwrapValue(), viewer, full)
	case Value:
		return typed, nil
	case bool:
		return Bool(typed), nil
	case string:
		return String(typed), nil
	case int:
		return Int(int64(typed)), nil
	case int8:
		return Int(int64(typed)), nil
	case int16:
		return Int(int64(typed)), nil
	case int32:
		return Int(int64(typed)), nil
	case int64:
		return Int(typed), nil
	case uint:
		return uintValue(uint64(typed))
	case uint8:
		return Int(int64(typed)), nil
	case uint16:
		return Int(int64(typed)), nil
	case uint32:
		return Int(int64(typed)), nil
	case uint64:
		return uintValue(typed)
	case float32:
		return Double(float64(typed)), nil
	case float64:
		return Double(typed), nil
	}

	//2.- Fall back to reflection for named types, containers, and pointers.
	return fromReflected(reflect.ValueOf(v), viewer, full)
}

func uintValue(v uint64) (Value, error) {
	if v > math.MaxInt64 {
		return Value{}, fmt.Errorf("%w: uint64 %d overflows int64", ErrUnsupportedValue, v)
	}
	return Int(int64(v)), nil
}

func fromReflected(rv reflect.Value, viewer string, full bool) (Value, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null(), nil
		}
		return convert(rv.Elem().Interface(), viewer, full)
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return uintValue(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return Double(rv.Float()), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Null(), nil
		}
		items := make([]Value, rv.Len())
		for idx := 0; idx < rv.Len(); idx++ {
			item, err := convert(rv.Index(idx).Interface(), viewer, full)
			if err != nil {
				return Value{}, err
			}
			items[idx] = item
		}
		return Value{kind: KindArray, arr: items}, nil
	case reflect.Map:
		if rv.IsNil() {
			return Null(), nil
		}
		fields := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key, err := stringifyKey(iter.Key())
			if err != nil {
				return Value{}, err
			}
			entry, err := convert(iter.Value().Interface(), viewer, full)
			if err != nil {
				return Value{}, err
			}
			fields[key] = entry
		}
		return Value{kind: KindObject, obj: fields}, nil
	case reflect.Struct:
		return structValue(rv, viewer, full)
	default:
		return Value{}, fmt.Errorf("%w: %s", ErrUnsupportedValue, rv.Kind())
	}
}

// stringifyKey materializes map keys as deterministic strings.
func stringifyKey(key reflect.Value) (string, error) {
	switch key.Kind() {
	case reflect.String:
		return key.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(key.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(key.Uint(), 10), nil
	default:
		if stringer, ok := key.Interface().(fmt.Stringer); ok {
			return stringer.String(), nil
		}
		return "", fmt.Errorf("%w: %s", ErrUnsupportedKey, key.Kind())
	}
}

// structValue converts an exported-field struct into an object value.
// Field names honour json tags so wire payloads stay stable.
func structValue(rv reflect.Value, viewer string, full bool) (Value, error) {
	rt := rv.Type()
	fields := make(map[string]Value, rt.NumField())
	for idx := 0; idx < rt.NumField(); idx++ {
		sf := rt.Field(idx)
		if sf.PkgPath != "" {
			continue
		}
		name := sf.Name
		if tag, ok := sf.Tag.Lookup("json"); ok {
			parsed := parseJSONTag(tag)
			if parsed == "-" {
				continue
			}
			if parsed != "" {
				name = parsed
			}
		}
		entry, err := convert(rv.Field(idx).Interface(), viewer, full)
		if err != nil {
			return Value{}, err
		}
		fields[name] = entry
	}
	return Value{kind: KindObject, obj: fields}, nil
}

func parseJSONTag(tag string) string {
	for idx := 0; idx < len(tag); idx++ {
		if tag[idx] == ',' {
			return tag[:idx]
		}
	}
	return tag
}
