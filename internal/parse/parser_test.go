package parse

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestParser(t *testing.T) *Parser {
	t.Helper()
	return NewParser(ParserConfig{})
}

func TestParseAssessmentForm(t *testing.T) {
	text := strings.Join([]string{
		"Name: Jane Doe",
		"DOB: 1990-05-01",
		"Blood Pressure: 120/80",
	}, "\n")

	rec, err := newTestParser(t).Parse(text)
	require.NoError(t, err)

	assert.Equal(t, "Jane Doe", rec.Name)
	assert.Equal(t, "1990-05-01", rec.DOB)
	require.Equal(t, 1, rec.Fields.Len())

	bp, ok := rec.Fields.Get("Blood Pressure")
	require.True(t, ok)
	assert.Equal(t, "120/80", bp)
}

func TestParseDeterministic(t *testing.T) {
	text := strings.Join([]string{
		"Patient Name: John Smith",
		"DOB: 05/01/1990",
		"Pain: 7",
		"stray handwriting",
		"Clinic: Eastside PT",
	}, "\n")

	p := newTestParser(t)

	first, err := p.Parse(text)
	require.NoError(t, err)
	second, err := p.Parse(text)
	require.NoError(t, err)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)

	assert.Equal(t, string(firstJSON), string(secondJSON))
	assert.True(t, first.Fields.Equal(second.Fields))
}

func TestParseRetainsEveryLine(t *testing.T) {
	text := strings.Join([]string{
		"Name: Jane Doe",
		"",
		"scattered noise",
		"Clinic: Eastside PT",
		"Clinic: Downtown",
	}, "\n")

	rec, err := newTestParser(t).Parse(text)
	require.NoError(t, err)

	assert.Equal(t, []string{"line_3", "Clinic", "line_5"}, rec.Fields.Keys())

	noise, _ := rec.Fields.Get("line_3")
	assert.Equal(t, "scattered noise", noise)
	first, _ := rec.Fields.Get("Clinic")
	assert.Equal(t, "Eastside PT", first)
	second, _ := rec.Fields.Get("line_5")
	assert.Equal(t, "Downtown", second)
}

func TestParseConsumesPageMarkers(t *testing.T) {
	text := strings.Join([]string{
		"Name: Jane Doe",
		"",
		"--- Page 2 ---",
		"",
		"Pain: 7",
	}, "\n")

	rec, err := newTestParser(t).Parse(text)
	require.NoError(t, err)

	assert.Equal(t, []string{"Pain"}, rec.Fields.Keys())
}

func TestParseDOBRawFallback(t *testing.T) {
	rec, err := newTestParser(t).Parse("Name: Jane Doe\nDOB: smudged scan")
	require.NoError(t, err)

	assert.Empty(t, rec.DOB)
	raw, ok := rec.Fields.Get("dob_raw")
	require.True(t, ok)
	assert.Equal(t, "smudged scan", raw)
}

func TestParseDOBOnFollowingLine(t *testing.T) {
	rec, err := newTestParser(t).Parse("Name: Jane Doe\nDOB:\n05/01/1990")
	require.NoError(t, err)

	assert.Equal(t, "1990-05-01", rec.DOB)
	assert.Equal(t, 0, rec.Fields.Len())
}

func TestParseDOBFollowingLineNotADate(t *testing.T) {
	rec, err := newTestParser(t).Parse("Name: Jane Doe\nDOB:\nillegible mark")
	require.NoError(t, err)

	assert.Empty(t, rec.DOB)
	assert.False(t, rec.Fields.Has("dob_raw"))

	mark, ok := rec.Fields.Get("line_3")
	require.True(t, ok)
	assert.Equal(t, "illegible mark", mark)
}

func TestParseMissingName(t *testing.T) {
	rec, err := newTestParser(t).Parse("DOB: 1990-05-01\nPain: 3")

	require.ErrorIs(t, err, ErrMissingRequiredField)
	assert.Nil(t, rec)
}

func TestParseNameLabelVariants(t *testing.T) {
	cases := map[string]string{
		"Name: Jane Doe":         "Jane Doe",
		"Patient Name: Jane Doe": "Jane Doe",
		"NAME:   Jane Doe  ":     "Jane Doe",
	}

	for line, want := range cases {
		rec, err := newTestParser(t).Parse(line)
		require.NoError(t, err, line)
		assert.Equal(t, want, rec.Name, line)
	}
}

func TestNormalizeDateLayouts(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"1990-05-01", "1990-05-01", true},
		{"1990/05/01", "1990-05-01", true},
		{"05/01/1990", "1990-05-01", true},
		{"5/1/1990", "1990-05-01", true},
		{"5-1-1990", "1990-05-01", true},
		{"May 1, 1990", "1990-05-01", true},
		{"1 May 1990", "1990-05-01", true},
		{"31/12/1990", "", false},
		{"05/01/90", "", false},
		{"not a date", "", false},
		{"", "", false},
	}

	for _, tc := range cases {
		got, ok := NormalizeDate(tc.raw, nil)
		assert.Equal(t, tc.ok, ok, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}

func TestParseNormalizesRecognizedFields(t *testing.T) {
	text := strings.Join([]string{
		"Name: Jane Doe",
		"Date: 05/02/2026",
		"INJECTION : YES",
		"Exercise Therapy :  no",
		"Stairs: 4",
		"Sleeping: 9",
		"Pain: 7 out of 10",
		"HR: 72 bpm",
		"SpO2: 98",
		"Blood Pressure: 120/80",
		"Temperature: 98.6 F",
	}, "\n")

	rec, err := newTestParser(t).Parse(text)
	require.NoError(t, err)

	want := map[string]string{
		"Date":             "2026-05-02",
		"INJECTION":        "YES",
		"Exercise Therapy": "NO",
		"Stairs":           "4",
		"Sleeping":         "9",
		"Pain":             "7",
		"HR":               "72",
		"SpO2":             "98",
		"Blood Pressure":   "120/80",
		"Temperature":      "98.6 F",
	}
	for key, value := range want {
		got, ok := rec.Fields.Get(key)
		require.True(t, ok, key)
		assert.Equal(t, value, got, key)
	}
}

func TestParseMultilineNotes(t *testing.T) {
	text := strings.Join([]string{
		"Name: Jane Doe",
		"Patient changes since last treatment: Feeling better",
		"   less pain at night",
		"   sleeping through",
		"Pain: 3",
	}, "\n")

	rec, err := newTestParser(t).Parse(text)
	require.NoError(t, err)

	notes, ok := rec.Fields.Get("Patient changes since last treatment")
	require.True(t, ok)
	assert.Equal(t, "Feeling better\nless pain at night\nsleeping through", notes)

	pain, ok := rec.Fields.Get("Pain")
	require.True(t, ok)
	assert.Equal(t, "3", pain)
}

func TestParseFirstNameWins(t *testing.T) {
	rec, err := newTestParser(t).Parse("Name: First Person\nName: Second Person")
	require.NoError(t, err)

	assert.Equal(t, "First Person", rec.Name)
	second, ok := rec.Fields.Get("Name")
	require.True(t, ok)
	assert.Equal(t, "Second Person", second)
}

func TestRecordJSONShape(t *testing.T) {
	rec, err := newTestParser(t).Parse("Name: Jane Doe\nDOB: 1990-05-01\nBlood Pressure: 120/80")
	require.NoError(t, err)

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	assert.Equal(t,
		`{"name":"Jane Doe","dob":"1990-05-01","fields":{"Blood Pressure":"120/80"}}`,
		string(data))
}

func TestFieldMapRoundTrip(t *testing.T) {
	m := NewFieldMap()
	m.Set("Blood Pressure", "120/80")
	m.Set(`label "quoted"`, "value with\nnewline")
	m.Set("line_7", "residual")

	data, err := json.Marshal(m)
	require.NoError(t, err)

	decoded := NewFieldMap()
	require.NoError(t, json.Unmarshal(data, decoded))
	assert.True(t, m.Equal(decoded))
	assert.Equal(t, m.Keys(), decoded.Keys())

	again, err := json.Marshal(decoded)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestFieldMapRejectsNonObject(t *testing.T) {
	m := NewFieldMap()
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), m))
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), m))
}
