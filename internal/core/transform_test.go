package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(i int) *int { return &i }

func bind(t *testing.T, format string, p FieldParams) Transform {
	t.Helper()
	tr, err := NewRegistry().Bind(format, p, Jurisdiction{State: "TX", City: "Austin"})
	require.NoError(t, err)
	return tr
}

func TestTransform_Date(t *testing.T) {
	tr := bind(t, "date", FieldParams{Index: intp(0), Specifier: "%m/%d/%Y"})

	tests := []struct {
		cell string
		want string
	}{
		{"01/02/2020 10:00", "2020-01-02"},
		{"01/02/2020", "2020-01-02"},
		{"1/2/2020", "2020-01-02"},
		{"12/31/1999 11:59:59 PM", "1999-12-31"},
		{"not-a-date", ""},
		{"13/45/2020", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.cell, func(t *testing.T) {
			got := tr.Apply(RawRow{tt.cell})
			if tt.want == "" {
				assert.True(t, got.IsNull(), "got %q", got)
				return
			}
			assert.Equal(t, KindDate, got.Kind())
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestTransform_DateISOWithTime(t *testing.T) {
	tr := bind(t, "date", FieldParams{Index: intp(1), Specifier: "%Y-%m-%d"})
	assert.Equal(t, "2021-06-30", tr.Apply(RawRow{"x", "2021-06-30T08:15:00"}).String())
}

func TestTransform_DateMonthName(t *testing.T) {
	tr := bind(t, "date", FieldParams{Index: intp(0), Specifier: "%d-%b-%Y"})
	assert.Equal(t, "2019-10-05", tr.Apply(RawRow{"05-Oct-2019"}).String())
}

func TestTransform_Time(t *testing.T) {
	tests := []struct {
		name      string
		specifier string
		cell      string
		want      string
	}{
		{"24 hour", "", "14:30", "14:30"},
		{"with seconds", "", "14:30:59", "14:30"},
		{"12 hour", "", "2:05 PM", "14:05"},
		{"fraction of day", "", "0.5", "12:00"},
		{"fraction with date part", "", "43831.75", "18:00"},
		{"specifier", "%H%M", "0930", "09:30"},
		{"unparsable", "", "noon", ""},
		{"empty", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := bind(t, "time", FieldParams{Index: intp(0), Specifier: tt.specifier})
			got := tr.Apply(RawRow{tt.cell})
			if tt.want == "" {
				assert.True(t, got.IsNull(), "got %q", got)
				return
			}
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestTransform_TimeUTC(t *testing.T) {
	t.Run("reference date", func(t *testing.T) {
		tr := bind(t, "time", FieldParams{Index: intp(0), UTC: true})
		// America/Chicago in January is UTC-6.
		assert.Equal(t, "16:00:00", tr.Apply(RawRow{"10:00"}).String())
	})

	t.Run("row date observes daylight saving", func(t *testing.T) {
		tr := bind(t, "time", FieldParams{
			Index:         intp(0),
			UTC:           true,
			DateIndex:     intp(1),
			DateSpecifier: "%m/%d/%Y",
		})
		assert.Equal(t, "15:00:00", tr.Apply(RawRow{"10:00", "07/04/2020"}).String())
	})

	t.Run("unknown jurisdiction is UTC", func(t *testing.T) {
		tr, err := NewRegistry().Bind("time", FieldParams{Index: intp(0), UTC: true}, Jurisdiction{})
		require.NoError(t, err)
		assert.Equal(t, "10:00:00", tr.Apply(RawRow{"10:00"}).String())
	})
}

func TestNormalizeRace(t *testing.T) {
	tests := []struct {
		cell string
		want string
	}{
		{"w", "WHITE"},
		{"W", "WHITE"},
		{" b ", "BLACK"},
		{"H", "HISPANIC"},
		{"XX", "XX"},
		{"asian", "ASIAN"},
		{"Black or African American", "BLACK OR AFRICAN AMERICAN"},
		{"Z", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.cell, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeRace(tt.cell).String())
		})
	}
	assert.True(t, NormalizeRace("Z").IsNull())
}

func TestNormalizeEthnicity(t *testing.T) {
	tests := []struct {
		cell   string
		parity bool
		want   string
	}{
		{"N", false, "NON-HISPANIC"},
		{"non-hispanic", false, "NON-HISPANIC"},
		{"H", false, "HISPANIC"},
		{"Hispanic or Latino", false, "HISPANIC"},
		{"unknown", false, ""},
		{"unknown", true, "HISPANIC"},
		{"NH", true, "NON-HISPANIC"},
		{"", true, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeEthnicity(tt.cell, tt.parity).String(), "cell %q parity %v", tt.cell, tt.parity)
	}
}

func TestTransform_EthnicityParityFromRegistry(t *testing.T) {
	reg := NewRegistry(WithEthnicityParity(true))
	tr, err := reg.Bind("ethnicity", FieldParams{Index: intp(0)}, Jurisdiction{})
	require.NoError(t, err)
	assert.Equal(t, "HISPANIC", tr.Apply(RawRow{"?"}).String())
}

func TestNormalizeSex(t *testing.T) {
	assert.Equal(t, "MALE", NormalizeSex("M").String())
	assert.Equal(t, "MALE", NormalizeSex(" male").String())
	assert.Equal(t, "FEMALE", NormalizeSex("f").String())
	assert.Equal(t, "FEMALE", NormalizeSex("Female").String())
	assert.True(t, NormalizeSex("X").IsNull())
	assert.True(t, NormalizeSex("").IsNull())
}

func TestParseBoolean(t *testing.T) {
	tests := []struct {
		cell string
		want string
	}{
		{"Y", "True"},
		{"yes", "True"},
		{" True ", "True"},
		{"t", "True"},
		{"N", "False"},
		{"false", "False"},
		{"0", "False"},
	}
	for _, tt := range tests {
		got := ParseBoolean(tt.cell)
		assert.Equal(t, KindBool, got.Kind(), tt.cell)
		assert.Equal(t, tt.want, got.String(), tt.cell)
	}
	assert.True(t, ParseBoolean("").IsNull())
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		cell     string
		wantKind ValueKind
		want     string
	}{
		{"12", KindInt, "12"},
		{" 007 ", KindInt, "7"},
		{"3.25", KindFloat, "3.25"},
		{"-4", KindFloat, "-4"},
		{"1,234", KindInt, "1234"},
		{"1,234.5", KindFloat, "1234.5"},
		{"$1,200", KindInt, "1200"},
		{"(1,000)", KindInt, "-1000"},
		{"(50.00)", KindFloat, "-50"},
		{"N/A", KindString, "N/A"},
		{"12abc", KindNull, ""},
		{"", KindNull, ""},
	}
	for _, tt := range tests {
		t.Run(tt.cell, func(t *testing.T) {
			got := ParseNumber(tt.cell)
			assert.Equal(t, tt.wantKind, got.Kind())
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestCaseTransforms(t *testing.T) {
	assert.Equal(t, "abc def", Lower("  ABC Def ").String())
	assert.Equal(t, "ABC DEF", Upper(" abc def").String())
	assert.Equal(t, "Hello world", Capitalize("hELLO WORLD ").String())
	assert.Equal(t, "Élan", Capitalize("élan").String())
	assert.Equal(t, "drug use", NormalizeCondition(" Drug USE").String())
	assert.True(t, Lower("   ").IsNull())
	assert.True(t, Capitalize("").IsNull())
}

func TestNormalizeUsState(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Texas", "TX"},
		{"tx", "TX"},
		{"  New York ", "NY"},
		{"district of columbia", "DC"},
		{"Calif.", "CA"},
		{"wash", "WA"},
		{"N.Y.", "NY"},
		{"New", "New"},
		{"Atlantis", "Atlantis"},
		{"Ca", "CA"},
		{"Te", "Te"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeUsState(tt.input); got != tt.want {
				t.Errorf("NormalizeUsState(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTransform_Raw(t *testing.T) {
	tr := bind(t, "raw", FieldParams{Raw: "TX"})
	assert.Equal(t, "TX", tr.Apply(nil).String())
	assert.Equal(t, "TX", tr.Apply(RawRow{""}).String())

	n := bind(t, "raw", FieldParams{Raw: float64(3)})
	assert.Equal(t, KindInt, n.Apply(nil).Kind())
}

func TestTransform_EmptyCellIsTotal(t *testing.T) {
	reg := NewRegistry()
	params := map[string]FieldParams{
		"date": {Index: intp(0), Specifier: "%Y-%m-%d"},
		"time": {Index: intp(0), UTC: true, DateIndex: intp(0), DateSpecifier: "%Y"},
	}
	for _, name := range reg.Names() {
		if name == "raw" {
			continue
		}
		p, ok := params[name]
		if !ok {
			p = FieldParams{Index: intp(0)}
		}
		tr, err := reg.Bind(name, p, Jurisdiction{State: "CA"})
		require.NoError(t, err, name)

		assert.NotPanics(t, func() {
			assert.True(t, tr.Apply(RawRow{""}).IsNull(), "%s on empty cell", name)
			assert.True(t, tr.Apply(RawRow{}).IsNull(), "%s on missing cell", name)
		}, name)
	}
}
