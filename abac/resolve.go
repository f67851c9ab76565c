package abac

import (
	"reflect"
	"strings"
)

// Resolve walks a dotted path through nested maps. ok is false when any
// segment is missing, a non-map is reached before the end, or the final
// value is nil.
//
// Any map with string keys is accepted, so bags decoded from JSON
// (map[string]any) and hand-built ones (map[string]string) both work.
func Resolve(bag map[string]any, path string) (any, bool) {
	if path == "" || bag == nil {
		return nil, false
	}
	var cur any = bag
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, false
		}
		next, ok := lookupKey(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

func lookupKey(container any, key string) (any, bool) {
	switch m := container.(type) {
	case map[string]any:
		v, ok := m[key]
		return v, ok
	case map[string]string:
		v, ok := m[key]
		return v, ok
	}

	rv := reflect.ValueOf(container)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	v := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
	if !v.IsValid() {
		return nil, false
	}
	return v.Interface(), true
}
