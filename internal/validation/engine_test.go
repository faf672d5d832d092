package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granarydata/granary/internal/frame"
	"github.com/granarydata/granary/internal/profile"
)

func fptr(v float64) *float64 { return &v }
func bptr(v bool) *bool       { return &v }

func codes(findings []Finding) []string {
	var out []string
	for _, f := range findings {
		out = append(out, f.Code)
	}
	return out
}

func TestValidateTable_StableColumns(t *testing.T) {
	t.Parallel()

	f := frame.FromColumns([]string{"site", "cd", "surprise"}, [][]any{{1}, {2}, {3}})
	e := NewEngine()

	t.Run("missing column reported", func(t *testing.T) {
		t.Parallel()
		table := &profile.Table{
			ID:                "t",
			StableColumns:     []string{"site", "cd", "depth"},
			StableColumnsMode: "error",
		}
		res := e.ValidateTable(f, table)
		assert.False(t, res.Valid)
		assert.Equal(t, []string{"depth"}, res.MissingColumns)
		assert.Contains(t, codes(res.Findings), CodeStableColumnsMissing)
	})

	t.Run("extra columns only when subset disallowed", func(t *testing.T) {
		t.Parallel()
		table := &profile.Table{
			ID:                  "t",
			StableColumns:       []string{"site", "cd"},
			StableColumnsSubset: bptr(false),
		}
		res := e.ValidateTable(f, table)
		assert.Equal(t, []string{"surprise"}, res.ExtraColumns)
		assert.Contains(t, codes(res.Findings), CodeStableColumnsExtra)
		// Default mode is warn: table stays valid.
		assert.True(t, res.Valid)
	})

	t.Run("subset mode tolerates extras", func(t *testing.T) {
		t.Parallel()
		table := &profile.Table{ID: "t", StableColumns: []string{"site", "cd"}}
		res := e.ValidateTable(f, table)
		assert.Empty(t, res.ExtraColumns)
		assert.Empty(t, res.Findings)
	})

	t.Run("ignore mode suppresses findings", func(t *testing.T) {
		t.Parallel()
		table := &profile.Table{
			ID:                "t",
			StableColumns:     []string{"ghost"},
			StableColumnsMode: "ignore",
		}
		res := e.ValidateTable(f, table)
		assert.Empty(t, res.Findings)
		assert.True(t, res.Valid)
	})
}

func TestValidateTable_ValueConstraints(t *testing.T) {
	t.Parallel()

	f := frame.FromColumns([]string{"cd", "id"}, [][]any{
		{5.0, 50.0, nil},
		{"ab1", "zz", "ab2"},
	})
	e := NewEngine()

	table := &profile.Table{
		ID:                "t",
		StableColumnsMode: "error",
		ValidationConstraints: []profile.ValueConstraint{
			{Column: "cd", Type: "range", Min: fptr(0), Max: fptr(10)},
			{Column: "cd", Type: "not_null"},
			{Column: "id", Type: "regex", Pattern: `^ab\d$`},
		},
	}
	res := e.ValidateTable(f, table)

	assert.False(t, res.Valid)
	assert.ElementsMatch(t, []string{CodeRangeViolation, CodeNotNullViolation, CodeRegexMismatch}, codes(res.Findings))
}

func TestValidateExtraction_SchemaRules(t *testing.T) {
	t.Parallel()

	p := &profile.Profile{
		Meta: profile.Meta{ProfileID: "p", Title: "T"},
		Levels: []profile.Level{{
			Name: "run",
			Tables: []profile.Table{{
				ID:     "t1",
				Select: profile.Select{Strategy: "flat_object", Path: "$"},
			}},
		}},
		SchemaRules: &profile.SchemaRules{
			RequiredColumns: []string{"site", "ghost"},
			ColumnTypes:     map[string]string{"cd": "float", "site": "int"},
			UniqueColumns:   []string{"site"},
		},
	}
	f := frame.FromColumns([]string{"site", "cd"}, [][]any{
		{"a", "a", "b"},
		{1.0, 2.0, 3.0},
	})

	summary := NewEngine().ValidateExtraction(map[string]*frame.Frame{"t1": f}, p)

	got := codes(summary.ProfileFindings)
	assert.Contains(t, got, CodeRequiredColumnMissing)
	assert.Contains(t, got, CodeColumnTypeMismatch) // site is string, not int
	assert.Contains(t, got, CodeDuplicateValues)
	assert.False(t, summary.Valid)
}

func TestValidateExtraction_RowRules(t *testing.T) {
	t.Parallel()

	p := &profile.Profile{
		Meta: profile.Meta{ProfileID: "p", Title: "T"},
		Levels: []profile.Level{{
			Name: "run",
			Tables: []profile.Table{{
				ID:     "t1",
				Select: profile.Select{Strategy: "flat_object", Path: "$"},
			}},
		}},
		RowRules: []profile.RowRule{
			{Name: "positive", Expression: "cd > 0 AND depth > 0", OnFail: "error", Message: "cd and depth must be positive"},
			{Name: "inapplicable", Expression: "ghost > 0", OnFail: "error"},
		},
	}
	f := frame.FromColumns([]string{"cd", "depth"}, [][]any{
		{1.0, -5.0},
		{1.0, 1.0},
	})

	summary := NewEngine().ValidateExtraction(map[string]*frame.Frame{"t1": f}, p)

	require.Len(t, summary.ProfileFindings, 1)
	finding := summary.ProfileFindings[0]
	assert.Equal(t, CodeRowRuleViolation, finding.Code)
	assert.Equal(t, "error", finding.Severity)
	assert.Contains(t, finding.Message, "1 rows")
}

func TestValidateExtraction_AggregateRules(t *testing.T) {
	t.Parallel()

	p := &profile.Profile{
		Meta: profile.Meta{ProfileID: "p", Title: "T"},
		Levels: []profile.Level{{
			Name: "run",
			Tables: []profile.Table{{
				ID:     "t1",
				Select: profile.Select{Strategy: "flat_object", Path: "$"},
			}},
		}},
		AggregateRules: []profile.AggregateRule{
			{Name: "min rows", Type: "row_count", Min: fptr(10), OnFail: "error"},
			{Name: "unique sites", Type: "unique_count", Column: "site", Min: fptr(5)},
			{Name: "null cap", Type: "null_ratio", Column: "cd", Max: fptr(0.2)},
		},
	}
	f := frame.FromColumns([]string{"site", "cd"}, [][]any{
		{"a", "a", "b"},
		{1.0, nil, nil},
	})

	summary := NewEngine().ValidateExtraction(map[string]*frame.Frame{"t1": f}, p)

	got := codes(summary.ProfileFindings)
	assert.Contains(t, got, CodeRowCountLow)
	assert.Contains(t, got, CodeUniqueCountLow)
	assert.Contains(t, got, CodeNullRatioHigh)
	assert.False(t, summary.Valid) // row_count rule is error severity
	assert.Equal(t, 1, summary.ErrorCount())
	assert.Equal(t, 2, summary.WarningCount())
}

func TestValidateExtraction_MissingTableWarns(t *testing.T) {
	t.Parallel()

	p := &profile.Profile{
		Meta: profile.Meta{ProfileID: "p", Title: "T"},
		Levels: []profile.Level{{
			Name: "run",
			Tables: []profile.Table{{
				ID:     "never_extracted",
				Select: profile.Select{Strategy: "flat_object", Path: "$"},
			}},
		}},
	}

	summary := NewEngine().ValidateExtraction(map[string]*frame.Frame{}, p)

	require.Len(t, summary.TableResults, 1)
	assert.True(t, summary.TableResults[0].Valid)
	assert.Equal(t, CodeTableNotExtracted, summary.TableResults[0].Findings[0].Code)
	assert.True(t, summary.Valid)
}
