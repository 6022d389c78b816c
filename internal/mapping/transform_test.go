package mapping

import (
	"testing"
)

func TestParsePipeline_Invalid(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"unknown step", "trim|reverse"},
		{"prefix without argument", "prefix"},
		{"prefix with empty argument", "prefix:"},
		{"replace without separator", "replace:foo"},
		{"date_format without argument", "date_format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePipeline(tt.expr); err == nil {
				t.Errorf("ParsePipeline(%q) expected error, got nil", tt.expr)
			}
		})
	}
}

func TestPipeline_Apply(t *testing.T) {
	tests := []struct {
		name  string
		expr  string
		input string
		want  string
	}{
		{"trim", "trim", "  hello  ", "hello"},
		{"upper", "upper", "abc", "ABC"},
		{"lower", "lower", "ABC", "abc"},
		{"title", "title", "software ENGINEER apprentice", "Software Engineer Apprentice"},
		{"strip html", "strip_html", "<p>Great &amp; exciting role</p>", "Great & exciting role"},
		{"number extraction", "number", "£14,500.50 per year", "14500.50"},
		{"number from plain text", "number", "no digits here", ""},
		{"prefix", "prefix:REF-", "1000123", "REF-1000123"},
		{"suffix", "suffix: (apprenticeship)", "Engineer", "Engineer (apprenticeship)"},
		{"default on empty", "default:Unknown", "", "Unknown"},
		{"default on blank", "trim|default:Unknown", "   ", "Unknown"},
		{"default passthrough", "default:Unknown", "Leeds", "Leeds"},
		{"replace", "replace:Ltd=Limited", "Acme Ltd", "Acme Limited"},
		{"date format from rfc3339", "date_format:02/01/2006", "2026-03-15T00:00:00Z", "15/03/2026"},
		{"date format from plain date", "date_format:Jan 2, 2006", "2026-03-15", "Mar 15, 2026"},
		{"date format passthrough", "date_format:2006-01-02", "not a date", "not a date"},
		{"chained steps", "trim|lower|prefix:ref-", "  ABC123 ", "ref-abc123"},
		{"empty pipeline", "", "unchanged", "unchanged"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePipeline(tt.expr)
			if err != nil {
				t.Fatalf("ParsePipeline(%q) unexpected error: %v", tt.expr, err)
			}
			if got := p.Apply(tt.input); got != tt.want {
				t.Errorf("Apply(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidatePipeline(t *testing.T) {
	if err := ValidatePipeline("trim|upper|suffix:!"); err != nil {
		t.Errorf("unexpected error for valid pipeline: %v", err)
	}
	if err := ValidatePipeline("eval:code"); err == nil {
		t.Error("expected error for unknown step")
	}
}
