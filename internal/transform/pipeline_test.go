package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granarydata/granary/internal/frame"
	"github.com/granarydata/granary/internal/profile"
)

func fptr(v float64) *float64 { return &v }

func TestSubstituteNaN(t *testing.T) {
	t.Parallel()

	f := frame.FromColumns([]string{"v", "n"}, [][]any{
		{"1.5", "N/A", "-", "2.0"},
		{int64(1), int64(2), int64(3), int64(4)},
	})

	out := NewPipeline(nil).SubstituteNaN(f, []string{"N/A", "-"})

	assert.Nil(t, out.Cell(1, "v"))
	assert.Nil(t, out.Cell(2, "v"))
	assert.Equal(t, "1.5", out.Cell(0, "v"))
	// Non-string column untouched.
	assert.Equal(t, int64(2), out.Cell(1, "n"))
}

func TestCoerceNumeric_KeepsCastBelowNullRate(t *testing.T) {
	t.Parallel()

	f := frame.FromColumns([]string{"mostly_num", "mostly_text"}, [][]any{
		{"1", "2", "3", "oops"},
		{"a", "b", "c", "1"},
	})

	out := NewPipeline(nil).CoerceNumeric(f)

	assert.Equal(t, 1.0, out.Cell(0, "mostly_num"))
	assert.Nil(t, out.Cell(3, "mostly_num"))
	// 75% of values fail: cast abandoned.
	assert.Equal(t, "a", out.Cell(0, "mostly_text"))
}

func TestApplyRowFilters(t *testing.T) {
	t.Parallel()

	f := frame.FromColumns([]string{"v", "tag"}, [][]any{
		{1.0, 5.0, 10.0, nil},
		{"keep", "drop", "keep", "keep"},
	})

	tests := []struct {
		name   string
		filter profile.RowFilter
		want   int
	}{
		{"gt", profile.RowFilter{Column: "v", Op: "gt", Value: 2.0}, 2},
		{"between", profile.RowFilter{Column: "v", Op: "between", Min: fptr(1), Max: fptr(5)}, 2},
		{"equals", profile.RowFilter{Column: "tag", Op: "equals", Value: "keep"}, 3},
		{"is_null", profile.RowFilter{Column: "v", Op: "is_null"}, 1},
		{"is_not_null", profile.RowFilter{Column: "v", Op: "is_not_null"}, 3},
		{"in", profile.RowFilter{Column: "v", Op: "in", Values: []any{1.0, 10.0}}, 2},
		{"not_in", profile.RowFilter{Column: "tag", Op: "not_in", Values: []any{"drop"}}, 3},
		{"contains", profile.RowFilter{Column: "tag", Op: "contains", Value: "ee"}, 3},
		{"missing column is noop", profile.RowFilter{Column: "ghost", Op: "gt", Value: 1}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := NewPipeline(nil).ApplyRowFilters(f, []profile.RowFilter{tt.filter})
			assert.Equal(t, tt.want, out.Height())
		})
	}
}

func TestApplyRowFilters_Idempotent(t *testing.T) {
	t.Parallel()

	f := frame.FromColumns([]string{"v"}, [][]any{{1.0, 5.0, 10.0}})
	filters := []profile.RowFilter{{Column: "v", Op: "gte", Value: 5.0}}

	p := NewPipeline(nil)
	once := p.ApplyRowFilters(f, filters)
	twice := p.ApplyRowFilters(once, filters)
	assert.Equal(t, once.Records(), twice.Records())
}

func TestConvertUnit_DefaultsToNanometers(t *testing.T) {
	t.Parallel()

	f := frame.FromColumns([]string{"cd"}, [][]any{{1.5, 2.0}})
	out := NewPipeline(nil).ConvertUnit(f, "cd", "um", "")

	assert.Equal(t, 1500.0, out.Cell(0, "cd"))
	assert.Equal(t, 2000.0, out.Cell(1, "cd"))
}

func TestConvertUnit_Angstrom(t *testing.T) {
	t.Parallel()

	f := frame.FromColumns([]string{"d"}, [][]any{{10.0}})
	out := NewPipeline(nil).ConvertUnit(f, "d", "angstrom", "")
	assert.Equal(t, 1.0, out.Cell(0, "d"))
}

func TestConvertUnit_UnknownUnitUntouched(t *testing.T) {
	t.Parallel()

	f := frame.FromColumns([]string{"d"}, [][]any{{10.0}})
	out := NewPipeline(nil).ConvertUnit(f, "d", "parsec", "")
	assert.Equal(t, 10.0, out.Cell(0, "d"))
}

func TestNormalizeUnits_CustomMappingMergesOverDefaults(t *testing.T) {
	t.Parallel()

	p := NewPipeline(map[string]profile.UnitMapping{
		"mil": {Canonical: "nm", Factor: 25400000},
	})
	f := frame.FromColumns([]string{"a", "b"}, [][]any{{1.0}, {1.0}})
	out := p.NormalizeUnits(f, map[string]string{"a": "mil", "b": "um"})

	assert.Equal(t, 25400000.0, out.Cell(0, "a"))
	assert.Equal(t, 1000.0, out.Cell(0, "b"))
}

func TestApplyTypeCoercions(t *testing.T) {
	t.Parallel()

	f := frame.FromColumns([]string{"d", "s", "n", "b"}, [][]any{
		{"2024-01-15", "bad"},
		{"  Mixed Case  ", nil},
		{"3.5", "x"},
		{"true", "no"},
	})

	out := NewPipeline(nil).ApplyTypeCoercions(f, []profile.TypeCoercion{
		{Column: "d", ToType: "date", Format: "%Y-%m-%d"},
		{Column: "s", ToType: "string", Strip: true, Uppercase: true},
		{Column: "n", ToType: "float"},
		{Column: "b", ToType: "bool"},
	})

	ts, ok := out.Cell(0, "d").(time.Time)
	require.True(t, ok)
	assert.Equal(t, 2024, ts.Year())
	// Unparseable cell nulls out.
	assert.Nil(t, out.Cell(1, "d"))
	assert.Equal(t, "MIXED CASE", out.Cell(0, "s"))
	assert.Equal(t, 3.5, out.Cell(0, "n"))
	assert.Nil(t, out.Cell(1, "n"))
	assert.Equal(t, true, out.Cell(0, "b"))
	assert.Equal(t, false, out.Cell(1, "b"))
}

func TestMaskPII(t *testing.T) {
	t.Parallel()

	f := frame.FromColumns([]string{"operator", "v"}, [][]any{
		{"alice", "bob\nb", nil},
		{1, 2, 3},
	})

	t.Run("preserve length masks newlines too", func(t *testing.T) {
		t.Parallel()
		out := NewPipeline(nil).MaskPII(f, &profile.Compliance{PIIColumns: []string{"operator"}})
		assert.Equal(t, "*****", out.Cell(0, "operator"))
		assert.Equal(t, "*****", out.Cell(1, "operator"))
		assert.Nil(t, out.Cell(2, "operator"))
	})

	t.Run("fixed length mask", func(t *testing.T) {
		t.Parallel()
		preserve := false
		out := NewPipeline(nil).MaskPII(f, &profile.Compliance{
			PIIColumns:     []string{"operator"},
			MaskChar:       "#",
			PreserveLength: &preserve,
		})
		assert.Equal(t, "########", out.Cell(0, "operator"))
	})
}

func TestApplyCalculatedColumns(t *testing.T) {
	t.Parallel()

	f := frame.FromColumns([]string{"a", "b"}, [][]any{
		{10.0, 20.0, nil},
		{3.0, 6.0, 9.0},
	})

	two := 2
	out := NewPipeline(nil).ApplyCalculatedColumns(f, []profile.CalculatedColumn{
		{Name: "ratio", Expression: "a / b", RoundTo: &two},
		{Name: "scaled", Expression: "a * 100"},
		{Name: "bad", Expression: "a +"},
	})

	assert.InDelta(t, 3.33, out.Cell(0, "ratio").(float64), 1e-9)
	assert.Equal(t, 1000.0, out.Cell(0, "scaled"))
	// Null operand yields null.
	assert.Nil(t, out.Cell(2, "ratio"))
	// Failed expression adds no column.
	assert.False(t, out.HasColumn("bad"))
}

func TestApplyColumnTransforms(t *testing.T) {
	t.Parallel()

	f := frame.FromColumns([]string{"cd_um", "name", "raw"}, [][]any{
		{1.5},
		{" Site A "},
		{3.14159},
	})

	out := NewPipeline(nil).ApplyColumnTransforms(f, []profile.ColumnTransform{
		{Source: "cd_um", Target: "cd_nm", Transform: "unit_convert", Args: map[string]any{"factor": 1000}},
		{Source: "name", Transform: "strip"},
		{Source: "name", Target: "name_uc", Transform: "uppercase"},
		{Source: "raw", Transform: "round", Args: map[string]any{"decimals": 2}},
		{Source: "cd_um", Target: "cd", Transform: "rename"},
		{Source: "ghost", Transform: "strip"},
	})

	assert.Equal(t, 1500.0, out.Cell(0, "cd_nm"))
	assert.Equal(t, "Site A", out.Cell(0, "name"))
	assert.Equal(t, "SITE A", out.Cell(0, "name_uc"))
	assert.Equal(t, 3.14, out.Cell(0, "raw"))
	assert.True(t, out.HasColumn("cd"))
	assert.False(t, out.HasColumn("cd_um"))
}

func TestApply_FullPipelineOrder(t *testing.T) {
	t.Parallel()

	prof := &profile.Profile{
		Meta: profile.Meta{ProfileID: "p", Title: "T"},
		Normalization: profile.Normalization{
			NaNValues:   []string{"N/A"},
			UnitsPolicy: "normalize",
			ColumnUnits: map[string]string{"cd": "um"},
		},
		// Filters run after coercion, so a numeric comparison sees floats.
		RowFilters: []profile.RowFilter{{Column: "cd", Op: "gt", Value: 1.0}},
	}

	f := frame.FromColumns([]string{"cd"}, [][]any{{"2.0", "N/A", "0.5"}})
	out := NewPipeline(nil).Apply(f, prof)

	// "N/A" nulled, "0.5" filtered out, "2.0" coerced then normalized to nm.
	require.Equal(t, 1, out.Height())
	assert.Equal(t, 2000.0, out.Cell(0, "cd"))
}
