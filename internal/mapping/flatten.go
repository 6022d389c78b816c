package mapping

import (
	"fmt"
	"sort"
)

// FlattenKeys produces the set of all resolvable leaf paths in a sample
// record, for configuration-time field discovery. Sequences are surfaced
// as "field[]" with the first element expanded one level so the shape is
// visible; this is never used for runtime mapping.
// Parameters:
//   - record: decoded sample item.
// Returns:
//   - []string: sorted leaf paths.
func FlattenKeys(record map[string]interface{}) []string {
	var paths []string
	flattenInto(record, "", &paths)
	sort.Strings(paths)
	return paths
}

func flattenInto(value interface{}, prefix string, paths *[]string) {
	switch v := value.(type) {
	case map[string]interface{}:
		if len(v) == 0 && prefix != "" {
			*paths = append(*paths, prefix)
			return
		}
		for key, child := range v {
			childPath := key
			if prefix != "" {
				childPath = prefix + "." + key
			}
			flattenInto(child, childPath, paths)
		}
	case []interface{}:
		*paths = append(*paths, prefix+"[]")
		if len(v) > 0 {
			if first, ok := v[0].(map[string]interface{}); ok {
				// Expand only the first element, one level deep
				for key := range first {
					*paths = append(*paths, fmt.Sprintf("%s[0].%s", prefix, key))
				}
			}
		}
	default:
		if prefix != "" {
			*paths = append(*paths, prefix)
		}
	}
}
