package mapping

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// Transforms are declarative per-field value pipelines configured on a
// task: a pipe-separated list of named steps, each optionally carrying
// an argument after a colon, e.g. "trim|upper|prefix:REF-".
//
// Stored code is never evaluated; the step set below is the complete
// vocabulary and pipelines are validated when the task is saved.

// dateInputLayouts are tried in order when parsing date_format input.
var dateInputLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

type transformStep struct {
	name string
	arg  string
}

// Pipeline is a parsed, validated transform chain.
type Pipeline struct {
	steps []transformStep
}

// ParsePipeline parses and validates a transform expression.
// Parameters:
//   - expr: pipe-separated transform list.
// Returns:
//   - *Pipeline: parsed pipeline.
//   - error: non-nil for an unknown step or a step missing its argument.
func ParsePipeline(expr string) (*Pipeline, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &Pipeline{}, nil
	}

	var steps []transformStep
	for _, raw := range strings.Split(expr, "|") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		name, arg, hasArg := strings.Cut(raw, ":")
		name = strings.ToLower(strings.TrimSpace(name))

		switch name {
		case "trim", "upper", "lower", "title", "strip_html", "number":
			// no argument
		case "prefix", "suffix", "default", "date_format", "replace":
			if !hasArg || arg == "" {
				return nil, fmt.Errorf("transform %q requires an argument", name)
			}
			if name == "replace" && !strings.Contains(arg, "=") {
				return nil, fmt.Errorf("transform replace requires old=new argument")
			}
		default:
			return nil, fmt.Errorf("unknown transform %q", name)
		}
		steps = append(steps, transformStep{name: name, arg: arg})
	}
	return &Pipeline{steps: steps}, nil
}

// ValidatePipeline checks a transform expression without applying it.
func ValidatePipeline(expr string) error {
	_, err := ParsePipeline(expr)
	return err
}

// Apply runs the pipeline over a string value.
func (p *Pipeline) Apply(value string) string {
	for _, step := range p.steps {
		value = applyStep(step, value)
	}
	return value
}

func applyStep(step transformStep, value string) string {
	switch step.name {
	case "trim":
		return strings.TrimSpace(value)
	case "upper":
		return strings.ToUpper(value)
	case "lower":
		return strings.ToLower(value)
	case "title":
		return titleCase(value)
	case "strip_html":
		return strings.TrimSpace(html.UnescapeString(bluemonday.StrictPolicy().Sanitize(value)))
	case "number":
		return extractNumber(value)
	case "prefix":
		return step.arg + value
	case "suffix":
		return value + step.arg
	case "default":
		if strings.TrimSpace(value) == "" {
			return step.arg
		}
		return value
	case "replace":
		oldStr, newStr, _ := strings.Cut(step.arg, "=")
		return strings.ReplaceAll(value, oldStr, newStr)
	case "date_format":
		return reformatDate(value, step.arg)
	}
	return value
}

// titleCase uppercases the first letter of each space-separated word.
func titleCase(value string) string {
	words := strings.Fields(strings.ToLower(value))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// extractNumber keeps digits, sign and decimal point; non-numeric input
// yields "".
func extractNumber(value string) string {
	var b strings.Builder
	for _, r := range value {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return ""
	}
	return s
}

// reformatDate parses the value against known layouts and renders it
// with the target layout; unparseable input passes through unchanged.
func reformatDate(value, layout string) string {
	value = strings.TrimSpace(value)
	for _, in := range dateInputLayouts {
		if t, err := time.Parse(in, value); err == nil {
			return t.Format(layout)
		}
	}
	return value
}
