package parse

import (
	"fmt"
	"strings"
)

// ParserConfig controls parsing behavior.
type ParserConfig struct {
	// DateLayouts overrides the built-in date layout list used to
	// normalize dob and date values. Empty means the defaults.
	DateLayouts []string
}

// Parser converts extracted document text into a Record. Parsing is pure
// and deterministic: the same text always yields the same record, so the
// persisted JSON of two identical documents is byte-identical.
type Parser struct {
	rules       []Rule
	normalizers map[string]normalizeFunc
}

// NewParser builds a parser from the configuration.
func NewParser(cfg ParserConfig) *Parser {
	return &Parser{
		rules:       defaultRules(cfg.DateLayouts),
		normalizers: fieldNormalizers(cfg.DateLayouts),
	}
}

// Parse scans text line by line. Each line is claimed by the first rule
// that matches it; lines no rule claims are stored as line_<n> entries so
// the record retains every piece of extracted content. Page boundary
// markers and blank lines are consumed. Parse fails with
// ErrMissingRequiredField when no line produced a patient name.
func (p *Parser) Parse(text string) (*Record, error) {
	rec := NewRecord()
	lines := strings.Split(text, "\n")

	dobSeen := false
	for i := 0; i < len(lines); i++ {
		lineNo := i + 1
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if pageMarkerPattern.MatchString(trimmed) {
			continue
		}

		claimed := false
		for _, rule := range p.rules {
			m := rule.Pattern.FindStringSubmatch(trimmed)
			if m == nil {
				continue
			}

			switch rule.Target {
			case TargetName:
				if rec.Name != "" {
					continue
				}
				rec.Name = strings.TrimSpace(m[1])

			case TargetDOB:
				if dobSeen {
					continue
				}
				dobSeen = true
				p.resolveDOB(rec, rule, strings.TrimSpace(m[1]), lines, &i)

			case TargetField:
				p.captureField(rec, m[1], m[2], lineNo, lines, &i)
			}

			claimed = true
			break
		}

		if !claimed {
			rec.Fields.Set(fmt.Sprintf("line_%d", lineNo), trimmed)
		}
	}

	if rec.Name == "" {
		return nil, fmt.Errorf("%w: name", ErrMissingRequiredField)
	}
	return rec, nil
}

// resolveDOB normalizes the dob value to ISO-8601. A value that fails to
// normalize is preserved under dob_raw and the dob stays unresolved. When
// the label line carries no value, the next non-empty line is probed and
// consumed only if it parses as a date.
func (p *Parser) resolveDOB(rec *Record, rule Rule, raw string, lines []string, i *int) {
	if raw != "" {
		if iso, ok := rule.Normalize(raw); ok {
			rec.DOB = iso
			return
		}
		rec.Fields.Set("dob_raw", raw)
		return
	}

	for j := *i + 1; j < len(lines); j++ {
		candidate := strings.TrimSpace(lines[j])
		if candidate == "" || pageMarkerPattern.MatchString(candidate) {
			continue
		}
		if iso, ok := rule.Normalize(candidate); ok {
			rec.DOB = iso
			*i = j
		}
		return
	}
}

// captureField stores a labeled residual line. The key is the detected
// label verbatim; when that label already exists the positional line key
// keeps the new entry from overwriting it. Recognized labels get their
// values normalized, and multiline labels absorb indented continuation
// lines.
func (p *Parser) captureField(rec *Record, label, value string, lineNo int, lines []string, i *int) {
	label = strings.TrimSpace(label)
	value = strings.TrimSpace(value)
	canonical := canonicalLabel(label)

	if multilineLabels[canonical] {
		value = collectContinuation(value, lines, i)
	} else if normalize, ok := p.normalizers[canonical]; ok {
		if normalized, ok := normalize(value); ok {
			value = normalized
		}
	}

	key := label
	if rec.Fields.Has(key) {
		key = fmt.Sprintf("line_%d", lineNo)
	}
	rec.Fields.Set(key, value)
}

// collectContinuation appends indented or blank follow-up lines to a
// multiline value. The block ends at the first flush-left line, which is
// left for the main loop.
func collectContinuation(value string, lines []string, i *int) string {
	var parts []string
	if value != "" {
		parts = append(parts, value)
	}

	j := *i + 1
	for ; j < len(lines); j++ {
		line := lines[j]
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if line[0] != ' ' && line[0] != '\t' {
			break
		}
		parts = append(parts, trimmed)
	}
	*i = j - 1

	return strings.Join(parts, "\n")
}
