package models

// CopyMap returns a deep copy of a decoded JSON object
func CopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return val
	}
}

// MapAt walks nested objects by key and returns the object found at the end of the path
func MapAt(m map[string]any, keys ...string) (map[string]any, bool) {
	current := m
	for _, key := range keys {
		next, ok := current[key].(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, current != nil
}

// SliceAt walks nested objects and returns the list stored under the last key
func SliceAt(m map[string]any, keys ...string) ([]any, bool) {
	if len(keys) == 0 {
		return nil, false
	}
	parent, ok := MapAt(m, keys[:len(keys)-1]...)
	if !ok {
		return nil, false
	}
	items, ok := parent[keys[len(keys)-1]].([]any)
	return items, ok
}
