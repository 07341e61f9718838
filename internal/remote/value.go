package remote

import (
	"cmp"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// normalize converts a caller-supplied value into the canonical stored form.
func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string, bool, int64, float64, Timestamp:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case time.Time:
		return NewTimestamp(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return NewTimestamp(*x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = normalize(iter.Value().Interface())
		}
		return out
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Bool:
		return rv.Bool()
	}
	return v
}

// copyValue deep-copies a normalized value.
func copyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return copyMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = copyValue(e)
		}
		return out
	}
	return v
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

// lookup resolves a dotted path.
func lookup(data map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = data
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// assign applies one update at a dotted path, creating intermediate maps.
func assign(data map[string]any, path string, value any) error {
	parts := strings.Split(path, ".")
	m := data
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[p] = next
		}
		m = next
	}
	leaf := parts[len(parts)-1]

	switch x := value.(type) {
	case ArrayUnion:
		arr, _ := m[leaf].([]any)
		for _, e := range x {
			e = normalize(e)
			if !containsValue(arr, e) {
				arr = append(arr, e)
			}
		}
		if arr == nil {
			arr = []any{}
		}
		m[leaf] = arr
	case Increment:
		switch n := m[leaf].(type) {
		case nil:
			m[leaf] = int64(x)
		case int64:
			m[leaf] = n + int64(x)
		case float64:
			m[leaf] = n + float64(x)
		default:
			return fmt.Errorf("increment %s: field is %T", path, n)
		}
	default:
		m[leaf] = normalize(value)
	}
	return nil
}

// merge deep-merges src into dst, as a merge write does.
func merge(dst, src map[string]any) {
	for k, v := range src {
		sm, ok := v.(map[string]any)
		dm, dok := dst[k].(map[string]any)
		if ok && dok {
			merge(dm, sm)
			continue
		}
		dst[k] = copyValue(v)
	}
}

func containsValue(arr []any, v any) bool {
	for _, e := range arr {
		if equalValues(e, v) {
			return true
		}
	}
	return false
}

func equalValues(a, b any) bool {
	a, b = normalize(a), normalize(b)
	switch a.(type) {
	case int64, float64:
		switch b.(type) {
		case int64, float64:
			return compareValues(a, b) == 0
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func matches(data map[string]any, f Filter) bool {
	v, ok := lookup(data, f.Field)
	if !ok {
		return false
	}
	switch f.Op {
	case OpEqual:
		return equalValues(v, f.Value)
	case OpArrayContains:
		arr, ok := v.([]any)
		return ok && containsValue(arr, f.Value)
	}
	return false
}

// compareValues orders values of the same kind. Missing values sort first.
func compareValues(a, b any) int {
	switch x := a.(type) {
	case nil:
		if b == nil {
			return 0
		}
		return -1
	case string:
		if y, ok := b.(string); ok {
			return cmp.Compare(x, y)
		}
	case int64:
		switch y := b.(type) {
		case int64:
			return cmp.Compare(x, y)
		case float64:
			return cmp.Compare(float64(x), y)
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return cmp.Compare(x, float64(y))
		case float64:
			return cmp.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	case Timestamp:
		if y, ok := b.(Timestamp); ok {
			if c := cmp.Compare(x.Seconds, y.Seconds); c != 0 {
				return c
			}
			return cmp.Compare(x.Nanos, y.Nanos)
		}
	}
	if b == nil {
		return 1
	}
	return 0
}
