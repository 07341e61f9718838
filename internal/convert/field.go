package convert

import (
	"strings"
	"time"

	"github.com/matheus3301/ventchat/internal/remote"
)

// Time converts any supported instant representation: time.Time, *time.Time,
// remote.Timestamp, values with a Time() method and RFC 3339 strings. The
// result is in UTC.
func Time(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), !x.IsZero()
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return x.UTC(), !x.IsZero()
	case remote.Timestamp:
		return x.Time(), true
	case interface{ Time() time.Time }:
		return x.Time().UTC(), true
	case string:
		t, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	}
	return time.Time{}, false
}

// fields reads loosely typed values out of a document.
type fields map[string]any

func (f fields) str(key string) string {
	s, _ := f[key].(string)
	return strings.TrimSpace(s)
}

func (f fields) text(key string) string {
	s, _ := f[key].(string)
	return s
}

func (f fields) boolean(key string) bool {
	b, _ := f[key].(bool)
	return b
}

func (f fields) has(key string) bool {
	v, ok := f[key]
	return ok && v != nil
}

func (f fields) float(key string) float64 {
	switch n := f[key].(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

func (f fields) integer(key string) int {
	switch n := f[key].(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func (f fields) instant(key string) time.Time {
	t, _ := Time(f[key])
	return t
}

func (f fields) optInstant(key string) *time.Time {
	t, ok := Time(f[key])
	if !ok {
		return nil
	}
	return &t
}

func (f fields) list(key string) []string {
	switch list := f[key].(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, v := range list {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (f fields) nested(key string) fields {
	m, _ := f[key].(map[string]any)
	return m
}

func (f fields) counters(key string) map[string]int {
	m := f.nested(key)
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]int, len(m))
	for k := range m {
		out[k] = m.integer(k)
	}
	return out
}

func (f fields) flags(key string) map[string]bool {
	m := f.nested(key)
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = m.boolean(k)
	}
	return out
}
