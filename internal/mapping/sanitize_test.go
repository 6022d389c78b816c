package mapping

import (
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name   string
		target string
		value  interface{}
		want   string
	}{
		{"nil value", "title", nil, ""},
		{"true flag", "is_disability_confident", true, "1"},
		{"false flag", "is_disability_confident", false, "0"},
		{"integer number", "number_of_positions", float64(3), "3"},
		{"decimal number", "wage_amount", 14500.5, "14500.5"},
		{"plain text passthrough", "title", "Engineering Apprentice", "Engineering Apprentice"},
		{"plain text strips markup", "title", "Engineer <script>alert(1)</script>", "Engineer"},
		{"plain text decodes entities", "employer", "Smith &amp; Sons", "Smith & Sons"},
		{"url keeps scheme", "application_url", "https://example.com/apply?id=1", "https://example.com/apply?id=1"},
		{"url gains scheme", "application_url", "example.com/apply", "https://example.com/apply"},
		{"url rejects bad scheme", "application_url", "javascript:alert(1)", ""},
		{"url rejects empty", "application_url", "   ", ""},
		{"composite serialized", "wage", map[string]interface{}{"wageType": "Custom"}, `{"wageType":"Custom"}`},
		{"sequence serialized", "skills", []interface{}{"teamwork"}, `["teamwork"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.target, tt.value); got != tt.want {
				t.Errorf("Sanitize(%q, %v) = %q, want %q", tt.target, tt.value, got, tt.want)
			}
		})
	}
}

func TestSanitize_RichTextFields(t *testing.T) {
	in := `<p>Join our team</p><script>alert(1)</script><b>now</b>`

	got := Sanitize("full_description", in)
	if strings.Contains(got, "script") {
		t.Errorf("rich text sanitization kept script content: %q", got)
	}
	if !strings.Contains(got, "<p>") || !strings.Contains(got, "<b>") {
		t.Errorf("rich text sanitization should keep safe markup, got %q", got)
	}

	// The same input on a plain-text field loses all markup
	plain := Sanitize("title", in)
	if strings.ContainsAny(plain, "<>") {
		t.Errorf("plain text sanitization kept markup: %q", plain)
	}
}
