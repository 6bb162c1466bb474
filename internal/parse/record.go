// Package parse turns raw OCR text into a structured patient record. A
// prioritized list of labeled-field rules claims the known fields; every
// other line is preserved as a residual entry so no OCR content is lost.
package parse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingRequiredField indicates a record lacked a field the pipeline
// cannot proceed without (the patient name).
var ErrMissingRequiredField = errors.New("missing required field")

// Record is the structured result of parsing one document's OCR text.
// DOB is ISO-8601 when resolved and empty when the document carried no
// parseable date of birth; the raw text then lives at Fields["dob_raw"].
type Record struct {
	Name   string    `json:"name"`
	DOB    string    `json:"dob"`
	Fields *FieldMap `json:"fields"`
}

// NewRecord returns an empty record with an initialized field map.
func NewRecord() *Record {
	return &Record{Fields: NewFieldMap()}
}

// FieldMap is a string-to-string mapping that preserves insertion order.
// Its JSON form is a plain object whose keys appear in insertion order, so
// a persisted record round-trips byte-identically.
type FieldMap struct {
	keys   []string
	values map[string]string
}

// NewFieldMap creates an empty ordered field map.
func NewFieldMap() *FieldMap {
	return &FieldMap{values: make(map[string]string)}
}

// Set stores a value under key, appending the key on first sight. Setting
// an existing key overwrites in place without changing its position.
func (m *FieldMap) Set(key, value string) {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value for key.
func (m *FieldMap) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Has reports whether key is present.
func (m *FieldMap) Has(key string) bool {
	_, ok := m.values[key]
	return ok
}

// Len returns the number of entries.
func (m *FieldMap) Len() int {
	return len(m.keys)
}

// Keys returns the keys in insertion order.
func (m *FieldMap) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Equal reports whether two maps hold the same pairs in the same order.
func (m *FieldMap) Equal(other *FieldMap) bool {
	if m.Len() != other.Len() {
		return false
	}
	for i, k := range m.keys {
		if other.keys[i] != k {
			return false
		}
		if m.values[k] != other.values[k] {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the map as a JSON object in insertion order.
func (m *FieldMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving its key order.
func (m *FieldMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("field map: expected JSON object, got %v", tok)
	}

	m.keys = nil
	m.values = make(map[string]string)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("field map: non-string key %v", keyTok)
		}

		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("field map: value for %q: %w", key, err)
		}
		m.Set(key, value)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
