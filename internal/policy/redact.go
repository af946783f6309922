package policy

import (
	"encoding"
	"encoding/json"
	"reflect"
	"strings"
)

// ApplyRedaction returns a copy of payload with fields removed. A dotted
// path ("batch.ingredients.percentages") walks nested objects, descending
// into every element of an array on the way. A plain name is removed at
// every depth. payload itself is not modified.
func ApplyRedaction(payload map[string]any, fields []string) map[string]any {
	if payload == nil {
		return nil
	}
	out, _ := deepCopy(payload).(map[string]any)
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if strings.Contains(f, ".") {
			removePath(out, strings.Split(f, "."))
			continue
		}
		removeEverywhere(out, f)
	}
	return out
}

func removePath(v any, path []string) {
	switch node := v.(type) {
	case map[string]any:
		if len(path) == 1 {
			delete(node, path[0])
			return
		}
		if next, ok := node[path[0]]; ok {
			removePath(next, path[1:])
		}
	case []any:
		for _, el := range node {
			removePath(el, path)
		}
	}
}

func removeEverywhere(v any, name string) {
	switch node := v.(type) {
	case map[string]any:
		delete(node, name)
		for _, child := range node {
			removeEverywhere(child, name)
		}
	case []any:
		for _, el := range node {
			removeEverywhere(el, name)
		}
	}
}

// deepCopy rebuilds v from map[string]any and []any so the removal walkers
// see every nested object, whatever concrete type the caller used.
func deepCopy(v any) any {
	switch node := v.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, el := range node {
			out[i] = deepCopy(el)
		}
		return out
	}
	return normalize(reflect.ValueOf(v))
}

func normalize(rv reflect.Value) any {
	switch rv.Kind() {
	case reflect.Invalid:
		return nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem())
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return rv.Interface()
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = deepCopy(iter.Value().Interface())
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
		for i := range out {
			out[i] = deepCopy(rv.Index(i).Interface())
		}
		return out
	case reflect.Struct:
		return structFields(rv.Interface())
	default:
		return rv.Interface()
	}
}

// structFields turns a struct into its JSON object form. Values with a text
// encoding (time.Time) are scalars and pass through. A struct that cannot be
// encoded is dropped.
func structFields(v any) any {
	if _, ok := v.(encoding.TextMarshaler); ok {
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
