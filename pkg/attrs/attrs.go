// Package attrs reads values back out of slog-style key/value slices.
package attrs

// ExtractString extracts a string value from a key-value attribute slice.
// The slice should be formatted as [key1, value1, key2, value2, ...].
// Returns empty string if the key is not found or the value is not a string.
func ExtractString(attrs []any, key string) string {
	for i := 0; i < len(attrs)-1; i += 2 {
		k, ok := attrs[i].(string)
		if !ok {
			continue
		}
		if k == key {
			if v, ok := attrs[i+1].(string); ok {
				return v
			}
		}
	}
	return ""
}

// ToMap collects the pairs of a key-value slice into a map, skipping
// non-string keys and any key listed in exclude. Later duplicates win.
func ToMap(attrs []any, exclude ...string) map[string]any {
	skip := make(map[string]struct{}, len(exclude))
	for _, k := range exclude {
		skip[k] = struct{}{}
	}
	out := make(map[string]any)
	for i := 0; i < len(attrs)-1; i += 2 {
		k, ok := attrs[i].(string)
		if !ok {
			continue
		}
		if _, excluded := skip[k]; excluded {
			continue
		}
		out[k] = attrs[i+1]
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
