// Package metadata derives structured batch-sheet fields from extracted text.
package metadata

import (
	"regexp"
	"strings"
)

const (
	FieldJobNumber   = "jobNumber"
	FieldFormulaID   = "formulaId"
	FieldProductName = "productName"
)

// Rule finds a single field in text. Implementations must be pure.
type Rule interface {
	Name() string
	Find(text string) (string, bool)
}

// Fields is the derived metadata of one document.
type Fields struct {
	JobNumber   *string `json:"jobNumber"`
	FormulaID   *string `json:"formulaId"`
	ProductName *string `json:"productName"`
}

// RegexRule captures group 1 of the first match in document order.
type RegexRule struct {
	name    string
	pattern *regexp.Regexp
	trim    bool
}

// NewRegexRule compiles pattern; it must contain one capturing group.
func NewRegexRule(name, pattern string, trim bool) *RegexRule {
	return &RegexRule{name: name, pattern: regexp.MustCompile(pattern), trim: trim}
}

func (r *RegexRule) Name() string { return r.name }

func (r *RegexRule) Find(text string) (string, bool) {
	matches := r.pattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return "", false
	}
	// FindAll returns matches left to right, so the first one is the earliest in the text.
	first := matches[0]
	if len(first) < 4 || first[2] < 0 {
		return "", false
	}
	value := text[first[2]:first[3]]
	if r.trim {
		value = strings.TrimSpace(value)
	}
	if value == "" {
		return "", false
	}
	return value, true
}

// DefaultRules returns the batch-sheet rules: job number, formula id, product name.
func DefaultRules() []Rule {
	return []Rule{
		NewRegexRule(FieldJobNumber, `(?i)Job\s*#[\s:]*(\d+)`, false),
		NewRegexRule(FieldFormulaID, `(?i)Formula\s*ID[\s:]*(\d+)`, false),
		NewRegexRule(FieldProductName, `(?i)Name[\s:]*([A-Za-z0-9%\s]+?)(?:\n|Gallons|Pounds)`, true),
	}
}

// Extractor applies an ordered rule set.
type Extractor struct {
	rules []Rule
}

// NewExtractor builds an extractor from rules, falling back to DefaultRules.
func NewExtractor(rules ...Rule) *Extractor {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Extractor{rules: rules}
}

// Extract returns the well-known fields. Rules for other names are ignored here.
func (e *Extractor) Extract(text string) Fields {
	var f Fields
	for _, rule := range e.rules {
		value, ok := rule.Find(text)
		if !ok {
			continue
		}
		v := value
		switch rule.Name() {
		case FieldJobNumber:
			f.JobNumber = &v
		case FieldFormulaID:
			f.FormulaID = &v
		case FieldProductName:
			f.ProductName = &v
		}
	}
	return f
}

// ExtractAll returns every rule's match keyed by rule name.
func (e *Extractor) ExtractAll(text string) map[string]string {
	out := make(map[string]string, len(e.rules))
	for _, rule := range e.rules {
		if value, ok := rule.Find(text); ok {
			out[rule.Name()] = value
		}
	}
	return out
}

var defaultExtractor = NewExtractor()

// Extract runs the default rules over text.
func Extract(text string) Fields {
	return defaultExtractor.Extract(text)
}
