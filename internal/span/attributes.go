package span

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
)

const (
	// MaxObjectStringChars bounds the %v fallback rendering of a value.
	MaxObjectStringChars = 2000

	// MaxSerializedBytes bounds the JSON string produced for a complex value.
	MaxSerializedBytes = 1024 * 1024

	maxDepth = 10
)

// Serialize converts an arbitrary attribute value into a JSON-safe value.
// Scalars and slices of scalars are returned as is; everything else becomes a
// JSON string with depth, cycle and size protection.
func Serialize(v any) any {
	switch val := v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return val
	case float32:
		return safeFloat(float64(val))
	case float64:
		return safeFloat(val)
	case []byte:
		return string(val)
	case []string, []bool, []int64:
		return val
	case []float64:
		out := make([]any, len(val))
		for i, f := range val {
			out[i] = safeFloat(f)
		}
		return out
	case []any:
		if allScalars(val) {
			out := make([]any, len(val))
			for i, item := range val {
				out[i] = Serialize(item)
			}
			return out
		}
	}

	if list, ok := scalarList(reflect.ValueOf(v)); ok {
		return list
	}

	return SafeJSON(v, MaxSerializedBytes)
}

// scalarList returns the elements of a slice or array of scalar kind as a []any.
func scalarList(v reflect.Value) ([]any, bool) {
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, false
	}
	if !isScalarKind(v.Type().Elem().Kind()) {
		return nil, false
	}
	if v.Kind() == reflect.Slice && v.IsNil() {
		return nil, true
	}

	out := make([]any, v.Len())
	for i := 0; i < v.Len(); i++ {
		item := v.Index(i)
		switch item.Kind() {
		case reflect.Float32, reflect.Float64:
			out[i] = safeFloat(item.Float())
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			out[i] = item.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			out[i] = item.Uint()
		case reflect.Bool:
			out[i] = item.Bool()
		default:
			out[i] = item.String()
		}
	}
	return out, true
}

func isScalarKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// SerializeValue converts an OpenTelemetry attribute value into a JSON-safe value.
func SerializeValue(v attribute.Value) any {
	switch v.Type() {
	case attribute.BOOL:
		return v.AsBool()
	case attribute.INT64:
		return v.AsInt64()
	case attribute.FLOAT64:
		return safeFloat(v.AsFloat64())
	case attribute.STRING:
		return v.AsString()
	case attribute.BOOLSLICE:
		return v.AsBoolSlice()
	case attribute.INT64SLICE:
		return v.AsInt64Slice()
	case attribute.FLOAT64SLICE:
		return Serialize(v.AsFloat64Slice())
	case attribute.STRINGSLICE:
		return v.AsStringSlice()
	default:
		return v.Emit()
	}
}

// SafeJSON renders v as a JSON string. Values larger than maxBytes are replaced by a
// placeholder and values that cannot be encoded fall back to SafeString.
func SafeJSON(v any, maxBytes int) string {
	converted := toPlain(reflect.ValueOf(v), make(map[uintptr]bool), 0)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(converted); err != nil {
		return SafeString(v)
	}
	data := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	if len(data) > maxBytes {
		return fmt.Sprintf("<object too large: %d bytes (limit: %d bytes)>", len(data), maxBytes)
	}
	return string(data)
}

// SafeString renders v with %v, truncated to MaxObjectStringChars.
func SafeString(v any) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = fmt.Sprintf("<%T object>", v)
		}
	}()

	s = fmt.Sprintf("%v", v)
	if len(s) > MaxObjectStringChars {
		cut := MaxObjectStringChars
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut] + "... (truncated)"
	}
	return s
}

// toPlain walks v and builds a tree of maps, slices and scalars that encoding/json
// can always encode. visited holds the pointers on the current path.
func toPlain(v reflect.Value, visited map[uintptr]bool, depth int) any {
	if depth > maxDepth {
		return "<max depth exceeded>"
	}
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		if v.IsNil() {
			return nil
		}
	}

	if v.CanInterface() {
		switch val := v.Interface().(type) {
		case time.Time:
			return val.Format(time.RFC3339Nano)
		case error:
			return val.Error()
		}
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		return safeFloat(v.Float())
	case reflect.String:
		return v.String()
	case reflect.Complex64, reflect.Complex128, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return fmt.Sprintf("<%s>", v.Type())
	case reflect.Interface:
		return toPlain(v.Elem(), visited, depth)
	case reflect.Pointer:
		ptr := v.Pointer()
		if visited[ptr] {
			return "<circular reference>"
		}
		visited[ptr] = true
		defer delete(visited, ptr)
		return toPlain(v.Elem(), visited, depth+1)
	case reflect.Map:
		ptr := v.Pointer()
		if visited[ptr] {
			return "<circular reference>"
		}
		visited[ptr] = true
		defer delete(visited, ptr)

		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = toPlain(iter.Value(), visited, depth+1)
		}
		return out
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return string(v.Bytes())
		}
		ptr := v.Pointer()
		if ptr != 0 && visited[ptr] {
			return "<circular reference>"
		}
		if ptr != 0 {
			visited[ptr] = true
			defer delete(visited, ptr)
		}
		return plainList(v, visited, depth)
	case reflect.Array:
		return plainList(v, visited, depth)
	case reflect.Struct:
		out := make(map[string]any)
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			name := field.Name
			if tag, ok := field.Tag.Lookup("json"); ok {
				tagName, _, _ := strings.Cut(tag, ",")
				if tagName == "-" {
					continue
				}
				if tagName != "" {
					name = tagName
				}
			}
			out[name] = toPlain(v.Field(i), visited, depth+1)
		}
		return out
	default:
		return SafeString(v.Interface())
	}
}

func plainList(v reflect.Value, visited map[uintptr]bool, depth int) []any {
	out := make([]any, v.Len())
	for i := 0; i < v.Len(); i++ {
		out[i] = toPlain(v.Index(i), visited, depth+1)
	}
	return out
}

func allScalars(values []any) bool {
	for _, item := range values {
		switch item.(type) {
		case nil, string, bool, int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64, float32, float64:
		default:
			return false
		}
	}
	return true
}

// safeFloat keeps finite floats and renders NaN and infinities as strings,
// which encoding/json refuses to encode.
func safeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Sprintf("%v", f)
	}
	return f
}
