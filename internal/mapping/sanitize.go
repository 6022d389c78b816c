package mapping

import (
	"encoding/json"
	"html"
	"net/url"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	// htmlPolicy allows a safe markup subset for rich-text fields
	htmlPolicy = bluemonday.UGCPolicy()
	// textPolicy strips all markup
	textPolicy = bluemonday.StrictPolicy()
)

// richTextFieldFragments mark target fields that keep a safe HTML subset.
var richTextFieldFragments = []string{"description", "benefits", "consider"}

// Sanitize canonicalizes a resolved value for storage under the given
// target field. Applied after resolution and any transforms, before the
// record reaches the reconciler.
// Parameters:
//   - targetField: target-field name, drives type-specific handling.
//   - value: resolved value.
// Returns:
//   - string: canonical stored form.
func Sanitize(targetField string, value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case bool:
		if v {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case []interface{}, map[string]interface{}:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	case string:
		return sanitizeString(targetField, v)
	default:
		return ""
	}
}

func sanitizeString(targetField, value string) string {
	lower := strings.ToLower(targetField)

	if strings.Contains(lower, "url") {
		return normalizeURL(value)
	}

	for _, frag := range richTextFieldFragments {
		if strings.Contains(lower, frag) {
			return strings.TrimSpace(htmlPolicy.Sanitize(value))
		}
	}

	// Plain text: strip markup, decode entities re-escaped by the policy
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(value)))
}

// normalizeURL validates and canonicalizes a URL value; invalid URLs
// store as empty.
func normalizeURL(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	u, err := url.Parse(value)
	if err != nil {
		return ""
	}
	if u.Scheme == "" {
		u, err = url.Parse("https://" + value)
		if err != nil {
			return ""
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	if u.Host == "" {
		return ""
	}
	return u.String()
}
