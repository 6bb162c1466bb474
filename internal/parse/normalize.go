package parse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// defaultDateLayouts is the ordered list of input layouts tried when
// normalizing a date value to ISO-8601. ISO forms are tried first; the
// slash and dash forms read month before day. Two-digit years are not
// accepted because the century cannot be recovered.
var defaultDateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"1/2/2006",
	"1-2-2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
}

// NormalizeDate parses raw against the layout list in order and returns the
// date formatted as 2006-01-02. The second return is false when no layout
// matched; the caller keeps the raw text in that case.
func NormalizeDate(raw string, layouts []string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	if len(layouts) == 0 {
		layouts = defaultDateLayouts
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

// normalizeFunc canonicalizes a raw field value. It returns the normalized
// value and true on success; on failure the raw value is stored unchanged
// so that low quality scans never lose content.
type normalizeFunc func(raw string) (string, bool)

var (
	checkboxPattern = regexp.MustCompile(`(?i)\b(yes|no)\b`)
	integerPattern  = regexp.MustCompile(`\d+`)
)

// normalizeCheckbox reduces a checkbox value to YES or NO.
func normalizeCheckbox(raw string) (string, bool) {
	match := checkboxPattern.FindString(raw)
	if match == "" {
		return "", false
	}
	return strings.ToUpper(match), true
}

// normalizeInteger keeps the first integer found in the value.
func normalizeInteger(raw string) (string, bool) {
	match := integerPattern.FindString(raw)
	if match == "" {
		return "", false
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return "", false
	}
	return strconv.Itoa(n), true
}

// normalizeScale returns a normalizer that accepts the first integer in
// the value when it falls inside [min, max].
func normalizeScale(min, max int) normalizeFunc {
	return func(raw string) (string, bool) {
		match := integerPattern.FindString(raw)
		if match == "" {
			return "", false
		}
		n, err := strconv.Atoi(match)
		if err != nil || n < min || n > max {
			return "", false
		}
		return strconv.Itoa(n), true
	}
}

// newDateNormalizer returns a normalizer that rewrites a date value to
// ISO-8601 using the configured layouts.
func newDateNormalizer(layouts []string) normalizeFunc {
	return func(raw string) (string, bool) {
		return NormalizeDate(raw, layouts)
	}
}
