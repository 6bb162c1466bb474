package parse

import (
	"regexp"
	"strings"
)

// RuleTarget names the record destination a matched line feeds.
type RuleTarget string

const (
	// TargetName claims the line as the patient name.
	TargetName RuleTarget = "name"
	// TargetDOB claims the line as the date of birth.
	TargetDOB RuleTarget = "dob"
	// TargetField claims the line as a labeled residual field.
	TargetField RuleTarget = "field"
)

// Rule binds a line pattern to a record destination. Rules are evaluated
// in declaration order and the first match claims the line; a name or dob
// rule yields to later rules once its field is already set.
type Rule struct {
	Name      string
	Pattern   *regexp.Regexp
	Target    RuleTarget
	Normalize normalizeFunc
}

var (
	namePattern = regexp.MustCompile(`(?i)^\s*(?:patient\s+)?name\s*:\s*(\S.*)$`)
	dobPattern  = regexp.MustCompile(`(?i)^\s*(?:dob|date\s+of\s+birth|birth\s*date)\s*:\s*(.*)$`)

	// labeledLinePattern captures "Label: value" lines. The label starts
	// with a letter and never contains a colon.
	labeledLinePattern = regexp.MustCompile(`^([A-Za-z][^:]{0,78}?)\s*:\s*(.*)$`)

	// pageMarkerPattern matches the boundary lines the extractor inserts
	// between pages. Markers are consumed, never stored.
	pageMarkerPattern = regexp.MustCompile(`(?i)^\s*-+\s*page\s+\d+\s*-+\s*$`)
)

// defaultRules builds the prioritized matcher list. The labeled-field rule
// is last so the structured targets always win on their own labels.
func defaultRules(layouts []string) []Rule {
	return []Rule{
		{Name: "patient_name", Pattern: namePattern, Target: TargetName},
		{Name: "patient_dob", Pattern: dobPattern, Target: TargetDOB, Normalize: newDateNormalizer(layouts)},
		{Name: "labeled_field", Pattern: labeledLinePattern, Target: TargetField},
	}
}

// fieldNormalizers maps canonical labels of recognized assessment fields
// to their value normalizers. Labels absent from the map keep the raw
// value; a normalizer that fails also keeps the raw value.
func fieldNormalizers(layouts []string) map[string]normalizeFunc {
	date := newDateNormalizer(layouts)
	difficulty := normalizeScale(0, 5)
	severity := normalizeScale(0, 10)

	m := map[string]normalizeFunc{
		"date":             date,
		"injection":        normalizeCheckbox,
		"exercise therapy": normalizeCheckbox,

		"hr":            normalizeInteger,
		"weight":        normalizeInteger,
		"spo2":          normalizeInteger,
		"blood glucose": normalizeInteger,
		"respirations":  normalizeInteger,
	}

	for _, label := range []string{
		"bending or stooping",
		"putting on shoes",
		"sleeping",
		"standing for an hour",
		"stairs",
		"walking through store",
		"driving",
		"preparing meal",
		"yard work",
		"picking up items",
	} {
		m[label] = difficulty
	}

	for _, label := range []string{
		"pain",
		"numbness",
		"tingling",
		"burning",
		"tightness",
	} {
		m[label] = severity
	}

	return m
}

// multilineLabels holds canonical labels whose values continue across
// indented follow-up lines, such as narrative treatment notes.
var multilineLabels = map[string]bool{
	"patient changes since last treatment":         true,
	"patient changes since the start of treatment": true,
}

// canonicalLabel lowercases a detected label and collapses its internal
// whitespace so registry lookups tolerate OCR spacing noise.
func canonicalLabel(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}
