package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func source(url, state, city string, fields map[string]FieldParams) SourceDescriptor {
	all := map[string]FieldParams{
		StateField: {Raw: state},
		CityField:  {Raw: city},
	}
	for k, v := range fields {
		all[k] = v
	}
	return SourceDescriptor{URL: url, FileType: "csv", Fields: all}
}

func testTopic() *Topic {
	return &Topic{
		ID:    "use_of_force",
		Title: "Use of Force",
		Fields: []CanonicalField{
			{Label: StateField, Format: "raw"},
			{Label: CityField, Format: "raw"},
			{Label: "date", Format: "date"},
			{Label: "officer_sex", Format: "sex"},
			{Label: "subject_race", Format: "race"},
			{Label: "x", Format: "number"},
		},
		Sources: []SourceDescriptor{
			source("https://example.org/austin.csv", "TX", "Austin", map[string]FieldParams{
				"officer_sex":  {Index: intp(0)},
				"subject_race": {Index: intp(1)},
				"x":            {Index: intp(2)},
			}),
			source("https://example.org/dallas.csv", "TX", "Dallas", map[string]FieldParams{
				"officer_sex": {Index: intp(0)},
				"date":        {Index: intp(1), Specifier: "%m/%d/%Y"},
			}),
			source("https://example.org/la.csv", "CA", "Los Angeles", map[string]FieldParams{
				"subject_race": {Index: intp(0)},
				"x":            {Index: intp(1)},
			}),
		},
	}
}

func TestSelect_DefaultModeUnionsFields(t *testing.T) {
	sel, err := Select(testTopic(), Constraints{}, NewRegistry())
	require.NoError(t, err)

	assert.Equal(t, Header{"city", "date", "officer_sex", "state", "subject_race", "x"}, sel.Header)
	assert.Equal(t, []string{
		"https://example.org/austin.csv",
		"https://example.org/dallas.csv",
		"https://example.org/la.csv",
	}, sel.URLs())
}

func TestSelect_RequiredFieldExcludesSource(t *testing.T) {
	sel, err := Select(testTopic(), Constraints{Columns: []string{"x"}}, NewRegistry())
	require.NoError(t, err)

	assert.Equal(t, []string{"https://example.org/austin.csv", "https://example.org/la.csv"}, sel.URLs())
	assert.Equal(t, -1, sel.Header.Index("date"), "fields of excluded sources must not appear")
}

func TestSelect_StrictHeaderIsExactlyRequired(t *testing.T) {
	sel, err := Select(testTopic(), Constraints{Columns: []string{"subject_race", "x", "x"}, Strict: true}, NewRegistry())
	require.NoError(t, err)

	assert.Equal(t, Header{"subject_race", "x"}, sel.Header)
	assert.Len(t, sel.Sources, 2)
}

func TestSelect_Scope(t *testing.T) {
	tests := []struct {
		name  string
		scope []string
		want  int
	}{
		{"unconstrained", nil, 3},
		{"state", []string{"TX"}, 2},
		{"state lower case", []string{"tx"}, 2},
		{"agency", []string{"TX-Dallas"}, 1},
		{"state and agency", []string{"CA", "TX-Austin"}, 2},
		{"no match", []string{"NY"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := Select(testTopic(), Constraints{Scope: tt.scope}, NewRegistry())
			require.NoError(t, err)
			assert.Len(t, sel.Sources, tt.want)
		})
	}
}

func TestSelect_WideningScopeNeverShrinks(t *testing.T) {
	reg := NewRegistry()
	scopes := [][]string{{"TX-Austin"}, {"TX"}, {"TX", "CA"}, nil}
	prev := -1
	for _, scope := range scopes {
		sel, err := Select(testTopic(), Constraints{Scope: scope}, reg)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(sel.Sources), prev, "scope %v", scope)
		prev = len(sel.Sources)
	}
}

func TestSelect_NoSourcesIsEmptyHeader(t *testing.T) {
	sel, err := Select(testTopic(), Constraints{Scope: []string{"NY"}}, NewRegistry())
	require.NoError(t, err)
	assert.Empty(t, sel.Header)
	assert.Empty(t, sel.Sources)
}

func TestSelect_UnknownRequiredField(t *testing.T) {
	_, err := Select(testTopic(), Constraints{Columns: []string{"nope"}}, NewRegistry())
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ConfigUnknownField, ce.Kind)
	assert.Equal(t, "nope", ce.Field)
}

func TestSelect_BadParamsFailFast(t *testing.T) {
	topic := testTopic()
	topic.Sources[1].Fields["date"] = FieldParams{Index: intp(1)} // no specifier

	_, err := Select(topic, Constraints{}, NewRegistry())
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ConfigInvalidParam, ce.Kind)
	assert.Equal(t, "https://example.org/dallas.csv", ce.Source)
	assert.Equal(t, "date", ce.Field)
}

func TestValidateTopic(t *testing.T) {
	require.NoError(t, ValidateTopic(testTopic(), NewRegistry()))

	t.Run("unknown format", func(t *testing.T) {
		topic := testTopic()
		topic.Fields[3].Format = "gender"
		var ce *ConfigurationError
		require.ErrorAs(t, ValidateTopic(topic, NewRegistry()), &ce)
		assert.Equal(t, ConfigUnknownFormat, ce.Kind)
	})

	t.Run("source maps undefined field", func(t *testing.T) {
		topic := testTopic()
		topic.Sources[2].Fields["badge"] = FieldParams{Index: intp(4)}
		var ce *ConfigurationError
		require.ErrorAs(t, ValidateTopic(topic, NewRegistry()), &ce)
		assert.Equal(t, ConfigUnknownField, ce.Kind)
		assert.Equal(t, "badge", ce.Field)
	})

	t.Run("duplicate label", func(t *testing.T) {
		topic := testTopic()
		topic.Fields = append(topic.Fields, CanonicalField{Label: "x", Format: "number"})
		var ce *ConfigurationError
		require.ErrorAs(t, ValidateTopic(topic, NewRegistry()), &ce)
		assert.Equal(t, ConfigMalformed, ce.Kind)
	})
}

func TestHarmonize_PadsAbsentFields(t *testing.T) {
	sel, err := Select(testTopic(), Constraints{}, NewRegistry())
	require.NoError(t, err)

	austin := sel.Sources[0]
	row := austin.Harmonize(RawRow{"M", "w", "12"})
	require.Len(t, row, len(sel.Header))

	got := map[string]string{}
	for i, label := range sel.Header {
		got[label] = row[i].String()
	}
	assert.Equal(t, map[string]string{
		"city":         "Austin",
		"date":         "",
		"officer_sex":  "MALE",
		"state":        "TX",
		"subject_race": "WHITE",
		"x":            "12",
	}, got)
	assert.True(t, row[sel.Header.Index("date")].IsNull())
}

func TestHarmonize_ShortRow(t *testing.T) {
	sel, err := Select(testTopic(), Constraints{Strict: true, Columns: []string{"officer_sex", "x"}}, NewRegistry())
	require.NoError(t, err)

	row := sel.Sources[0].Harmonize(RawRow{"F"})
	require.Len(t, row, 2)
	assert.Equal(t, "FEMALE", row[0].String())
	assert.True(t, row[1].IsNull())
}

func TestHarmonize_ScenarioA(t *testing.T) {
	topic := &Topic{
		ID: "a",
		Fields: []CanonicalField{
			{Label: "officer_sex", Format: "sex"},
			{Label: "subject_race", Format: "race"},
		},
		Sources: []SourceDescriptor{{
			URL:    "https://example.org/a.csv",
			Fields: map[string]FieldParams{"officer_sex": {Index: intp(0)}},
		}},
	}
	sel, err := Select(topic, Constraints{}, NewRegistry())
	require.NoError(t, err)
	require.Equal(t, Header{"officer_sex"}, sel.Header)

	assert.Equal(t, "MALE", sel.Sources[0].Harmonize(RawRow{"M"})[0].String())
}
