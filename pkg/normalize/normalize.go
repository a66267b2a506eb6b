// Package normalize converts producer-specific value shapes into the canonical
// field mapping the rest of the exporter works with.
//
// Device and plot signals frequently deliver named-tuple-like values: a Go
// struct, a type exposing ordered field names and values, a JSON object of the
// form {"_fields": [...], "_values": [...]}, or a positional list whose member
// names are declared by the stream descriptor. All of them become a plain
// map[string]any here, before validation sees them.
package normalize

import (
	"fmt"
	"reflect"
	"strings"
)

// Fielder is implemented by named-tuple-like values with ordered members.
type Fielder interface {
	FieldNames() []string
	FieldValues() []any
}

// Mapper is implemented by values that can present themselves as a field map.
type Mapper interface {
	AsMap() map[string]any
}

const (
	tupleFieldsKey = "_fields"
	tupleValuesKey = "_values"
)

// Payload normalizes an event payload into a field map.
// Nil yields an empty map so that emptiness is judged by the validator.
func Payload(v any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}

	m, ok := asMap(v)
	if !ok {
		return nil, fmt.Errorf("payload of type %T is not a field mapping", v)
	}

	out := make(map[string]any, len(m))
	for k, val := range m {
		out[k] = Value(val)
	}
	return out, nil
}

// Value normalizes a single field value. Tuple-shaped values become maps;
// everything else is returned unchanged apart from nested normalization.
func Value(v any) any {
	switch t := v.(type) {
	case nil, string, bool, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return v
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Value(item)
		}
		return out
	}

	if m, ok := asMap(v); ok {
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = Value(val)
		}
		return out
	}
	return v
}

// WithFields zips a positional value with the member names a descriptor
// declares for it. Values that are not positional, or whose length differs
// from names, are returned through Value unchanged.
func WithFields(v any, names []string) any {
	if len(names) == 0 {
		return Value(v)
	}

	items, ok := v.([]any)
	if !ok {
		rv := reflect.ValueOf(v)
		if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
			return Value(v)
		}
		items = make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
	}

	if len(items) != len(names) {
		return Value(v)
	}

	out := make(map[string]any, len(names))
	for i, name := range names {
		out[name] = Value(items[i])
	}
	return out
}

// IsNull reports whether v carries no data: nil, or a tuple without members.
func IsNull(v any) bool {
	if v == nil {
		return true
	}
	if m, ok := v.(map[string]any); ok {
		for _, item := range m {
			if !IsNull(item) {
				return false
			}
		}
		return true
	}
	return false
}

// Flatten expands nested maps into "<key>/<member>" entries.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	flattenInto(out, "", m)
	return out
}

func flattenInto(out map[string]any, prefix string, m map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "/" + k
		}
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = v
	}
}

// asMap applies the capability checks in priority order.
func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		if tuple, ok := jsonTuple(t); ok {
			return tuple, true
		}
		return t, true
	case Mapper:
		return t.AsMap(), true
	case Fielder:
		names, values := t.FieldNames(), t.FieldValues()
		if len(names) != len(values) {
			return nil, false
		}
		out := make(map[string]any, len(names))
		for i, name := range names {
			out[name] = values[i]
		}
		return out, true
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out, true
	case reflect.Struct:
		return structFields(rv), true
	}
	return nil, false
}

// jsonTuple recognizes {"_fields": [...], "_values": [...]} objects.
func jsonTuple(m map[string]any) (map[string]any, bool) {
	rawNames, ok := m[tupleFieldsKey].([]any)
	if !ok {
		return nil, false
	}
	values, ok := m[tupleValuesKey].([]any)
	if !ok || len(values) != len(rawNames) {
		return nil, false
	}

	out := make(map[string]any, len(rawNames))
	for i, n := range rawNames {
		name, ok := n.(string)
		if !ok || name == "" {
			return nil, false
		}
		out[name] = values[i]
	}
	return out, true
}

func structFields(rv reflect.Value) map[string]any {
	rt := rv.Type()
	out := make(map[string]any, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		out[name] = rv.Field(i).Interface()
	}
	return out
}
