package httpclient

import "strings"

// sensitiveKeyFragments mark parameter/header names whose values are
// masked before logging regardless of registered secrets.
var sensitiveKeyFragments = []string{"key", "token", "secret", "password", "authorization"}

// MaskSecret masks all but a short prefix of a sensitive value.
func MaskSecret(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return value[:4] + strings.Repeat("*", len(value)-4)
}

// MaskIfSecret masks a value when its key looks sensitive or when the
// value matches a registered secret.
func MaskIfSecret(key, value string, secrets []string) string {
	for _, s := range secrets {
		if s != "" && value == s {
			return MaskSecret(value)
		}
	}
	lower := strings.ToLower(key)
	for _, frag := range sensitiveKeyFragments {
		if strings.Contains(lower, frag) {
			return MaskSecret(value)
		}
	}
	return value
}
