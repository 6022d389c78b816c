package httpclient

import (
	"encoding/json"
	"fmt"
	"strings"
)

// APIError is a non-2xx response surfaced after retries were exhausted
// or skipped (4xx other than 429 is never retried).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// PayloadError is a structurally unusable response: malformed JSON or a
// missing item array. Carries diagnostics for configuration debugging.
type PayloadError struct {
	Reason  string
	Keys    []string // observed top-level response keys
	Snippet string   // truncated raw body
}

func (e *PayloadError) Error() string {
	if len(e.Keys) > 0 {
		return fmt.Sprintf("%s (response keys: %s)", e.Reason, strings.Join(e.Keys, ", "))
	}
	return e.Reason
}

// errorMessageKeys are probed in order against an error response body.
var errorMessageKeys = []string{"message", "error", "error_message", "detail", "title"}

// extractErrorMessage pulls a best-effort human-readable message out of
// an error response body.
func extractErrorMessage(status int, body []byte) string {
	if len(body) > 0 {
		var decoded map[string]interface{}
		if err := json.Unmarshal(body, &decoded); err == nil {
			for _, key := range errorMessageKeys {
				if v, ok := decoded[key].(string); ok && v != "" {
					return v
				}
			}
			// Nested errors array, e.g. {"errors":[{"message":"..."}]}
			if errs, ok := decoded["errors"].([]interface{}); ok && len(errs) > 0 {
				switch first := errs[0].(type) {
				case string:
					return first
				case map[string]interface{}:
					for _, key := range errorMessageKeys {
						if v, ok := first[key].(string); ok && v != "" {
							return v
						}
					}
				}
			}
		}

		trimmed := strings.TrimSpace(string(body))
		if len(trimmed) > 0 && len(trimmed) <= 200 {
			return trimmed
		}
	}
	return fmt.Sprintf("HTTP %d", status)
}

// truncate shortens a raw body for diagnostics.
func truncate(body []byte, max int) string {
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// topLevelKeys lists the keys of a decoded JSON object for diagnostics.
func topLevelKeys(obj map[string]interface{}) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	return keys
}
