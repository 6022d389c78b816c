package mapping

import (
	"strconv"
	"strings"
)

// Resolve evaluates a dot-path expression against a decoded JSON record.
// Segments are dot-separated; a segment may carry a bracketed integer
// index ("addresses[0].postcode"), equivalent to a dot-separated numeric
// segment ("addresses.0.postcode").
//
// Resolution yields nil when any intermediate segment is absent, an
// index is out of bounds, or the container is neither map nor sequence.
// That is a valid "field absent" outcome, not an error.
// Parameters:
//   - record: decoded JSON document (map, slice or scalar).
//   - path: dot-path expression.
// Returns:
//   - interface{}: resolved value or nil.
func Resolve(record interface{}, path string) interface{} {
	if path == "" {
		return nil
	}

	current := record
	for _, segment := range splitPath(path) {
		if current == nil {
			return nil
		}
		switch container := current.(type) {
		case map[string]interface{}:
			val, ok := container[segment]
			if !ok {
				return nil
			}
			current = val
		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(container) {
				return nil
			}
			current = container[idx]
		default:
			return nil
		}
	}
	return current
}

// Exists reports whether path addresses a value present in record,
// even when that value is an explicit JSON null. Resolve cannot make
// that distinction since both the null and the absent case yield nil.
func Exists(record interface{}, path string) bool {
	if path == "" {
		return false
	}

	current := record
	for _, segment := range splitPath(path) {
		switch container := current.(type) {
		case map[string]interface{}:
			val, ok := container[segment]
			if !ok {
				return false
			}
			current = val
		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(container) {
				return false
			}
			current = container[idx]
		default:
			return false
		}
	}
	return true
}

// ResolveString resolves a path and coerces the value to its string
// representation; nil resolves to "".
func ResolveString(record interface{}, path string) string {
	return Stringify(Resolve(record, path))
}

// splitPath breaks a dot-path into plain segments, expanding bracketed
// indexes into their own segments.
func splitPath(path string) []string {
	parts := strings.Split(path, ".")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		for {
			open := strings.IndexByte(part, '[')
			if open < 0 {
				segments = append(segments, part)
				break
			}
			closeIdx := strings.IndexByte(part, ']')
			if closeIdx < open {
				// Malformed bracket; treat the remainder as a literal key
				segments = append(segments, part)
				break
			}
			if open > 0 {
				segments = append(segments, part[:open])
			}
			segments = append(segments, part[open+1:closeIdx])
			part = part[closeIdx+1:]
			if part == "" {
				break
			}
			part = strings.TrimPrefix(part, ".")
			if part == "" {
				break
			}
		}
	}
	return segments
}

// Stringify renders a resolved scalar as a string. Composite values are
// handled by Sanitize, not here.
func Stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	default:
		return ""
	}
}
