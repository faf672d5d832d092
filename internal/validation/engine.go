// Package validation checks extracted frames against profile rules:
// stable columns, per-table value constraints, profile-level schema, row,
// and aggregate rules. Validation surfaces every finding in its report and
// never raises; severity follows each table's stable_columns_mode.
package validation

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"

	"github.com/granarydata/granary/internal/frame"
	"github.com/granarydata/granary/internal/profile"
	"github.com/granarydata/granary/internal/transform"
)

// Finding codes.
const (
	CodeStableColumnsMissing  = "STABLE_COLUMNS_MISSING"
	CodeStableColumnsExtra    = "STABLE_COLUMNS_EXTRA"
	CodeRangeViolation        = "RANGE_VIOLATION"
	CodeNotNullViolation      = "NOT_NULL_VIOLATION"
	CodeRegexMismatch         = "REGEX_MISMATCH"
	CodeRequiredColumnMissing = "REQUIRED_COLUMN_MISSING"
	CodeColumnTypeMismatch    = "COLUMN_TYPE_MISMATCH"
	CodeDuplicateValues       = "DUPLICATE_VALUES"
	CodeRowRuleViolation      = "ROW_RULE_VIOLATION"
	CodeRowRuleInvalid        = "ROW_RULE_INVALID"
	CodeRowCountLow           = "ROW_COUNT_LOW"
	CodeRowCountHigh          = "ROW_COUNT_HIGH"
	CodeUniqueCountLow        = "UNIQUE_COUNT_LOW"
	CodeNullRatioHigh         = "NULL_RATIO_HIGH"
	CodeTableNotExtracted     = "TABLE_NOT_EXTRACTED"
)

// Finding is one validation result with a machine code and severity.
type Finding struct {
	TableID  string `json:"table_id,omitempty"`
	Code     string `json:"code"`
	Severity string `json:"severity"` // "error" or "warn"
	Message  string `json:"message"`
}

// TableResult aggregates the findings for one table.
type TableResult struct {
	TableID        string    `json:"table_id"`
	Valid          bool      `json:"valid"`
	Findings       []Finding `json:"findings,omitempty"`
	MissingColumns []string  `json:"missing_columns,omitempty"`
	ExtraColumns   []string  `json:"extra_columns,omitempty"`
}

// Summary is the report for one extraction pass.
type Summary struct {
	ProfileID       string        `json:"profile_id"`
	Valid           bool          `json:"valid"`
	TotalTables     int           `json:"total_tables"`
	ValidTables     int           `json:"valid_tables"`
	TableResults    []TableResult `json:"table_results"`
	ProfileFindings []Finding     `json:"profile_findings,omitempty"`
}

// ErrorCount counts error-severity findings across the report.
func (s *Summary) ErrorCount() int { return s.count("error") }

// WarningCount counts warn-severity findings across the report.
func (s *Summary) WarningCount() int { return s.count("warn") }

func (s *Summary) count(severity string) int {
	n := 0
	for _, tr := range s.TableResults {
		for _, f := range tr.Findings {
			if f.Severity == severity {
				n++
			}
		}
	}
	for _, f := range s.ProfileFindings {
		if f.Severity == severity {
			n++
		}
	}
	return n
}

// Engine validates extracted frames against profile rules.
type Engine struct {
	logger *slog.Logger
}

// NewEngine returns a validation engine.
func NewEngine() *Engine {
	return &Engine{logger: slog.Default().With("component", "validation")}
}

// ValidateExtraction validates every declared table plus the
// profile-level schema, row, and aggregate rules.
func (e *Engine) ValidateExtraction(results map[string]*frame.Frame, p *profile.Profile) *Summary {
	summary := &Summary{ProfileID: p.Meta.ProfileID}

	for _, lt := range p.AllTables() {
		f, extracted := results[lt.Table.ID]
		if !extracted {
			summary.TableResults = append(summary.TableResults, TableResult{
				TableID: lt.Table.ID,
				Valid:   true,
				Findings: []Finding{{
					TableID:  lt.Table.ID,
					Code:     CodeTableNotExtracted,
					Severity: "warn",
					Message:  fmt.Sprintf("table %q was not extracted", lt.Table.ID),
				}},
			})
			continue
		}
		result := e.ValidateTable(f, lt.Table)
		summary.TableResults = append(summary.TableResults, result)
		for _, finding := range result.Findings {
			e.log(finding)
		}
	}

	// Profile-level rules apply to every extracted table, in stable table
	// order.
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		f := results[id]
		if p.SchemaRules != nil {
			summary.ProfileFindings = append(summary.ProfileFindings, e.validateSchemaRules(f, id, p.SchemaRules)...)
		}
		summary.ProfileFindings = append(summary.ProfileFindings, e.validateRowRules(f, id, p.RowRules)...)
		summary.ProfileFindings = append(summary.ProfileFindings, e.validateAggregateRules(f, id, p.AggregateRules)...)
	}
	for _, finding := range summary.ProfileFindings {
		e.log(finding)
	}

	summary.TotalTables = len(summary.TableResults)
	for _, tr := range summary.TableResults {
		if tr.Valid {
			summary.ValidTables++
		}
	}
	summary.Valid = summary.ErrorCount() == 0
	return summary
}

// ValidateTable checks stable columns and value constraints for one
// table. Severity follows the table's stable_columns_mode; mode ignore
// suppresses stable-column findings entirely.
func (e *Engine) ValidateTable(f *frame.Frame, table *profile.Table) TableResult {
	result := TableResult{TableID: table.ID, Valid: true}
	mode := table.Mode()
	severity := "warn"
	if mode == "error" {
		severity = "error"
	}

	if len(table.StableColumns) > 0 && mode != "ignore" {
		actual := map[string]bool{}
		for _, c := range f.Columns() {
			actual[c] = true
		}
		expected := map[string]bool{}
		for _, c := range table.StableColumns {
			expected[c] = true
			if !actual[c] {
				result.MissingColumns = append(result.MissingColumns, c)
			}
		}
		if !table.SubsetAllowed() {
			for _, c := range f.Columns() {
				if !expected[c] {
					result.ExtraColumns = append(result.ExtraColumns, c)
				}
			}
		}

		if len(result.MissingColumns) > 0 {
			result.Findings = append(result.Findings, Finding{
				TableID:  table.ID,
				Code:     CodeStableColumnsMissing,
				Severity: severity,
				Message:  fmt.Sprintf("missing stable columns: %v", result.MissingColumns),
			})
		}
		if len(result.ExtraColumns) > 0 {
			result.Findings = append(result.Findings, Finding{
				TableID:  table.ID,
				Code:     CodeStableColumnsExtra,
				Severity: severity,
				Message:  fmt.Sprintf("unexpected columns: %v", result.ExtraColumns),
			})
		}
	}

	for _, vc := range table.ValidationConstraints {
		if finding := e.checkConstraint(f, table.ID, vc, severity); finding != nil {
			result.Findings = append(result.Findings, *finding)
		}
	}

	for _, finding := range result.Findings {
		if finding.Severity == "error" {
			result.Valid = false
			break
		}
	}
	return result
}

func (e *Engine) checkConstraint(f *frame.Frame, tableID string, vc profile.ValueConstraint, severity string) *Finding {
	if !f.HasColumn(vc.Column) {
		return nil
	}
	col, _ := f.Column(vc.Column)

	switch vc.Type {
	case "range":
		violations := 0
		for _, v := range col {
			n, ok := frame.AsFloat(v)
			if !ok {
				continue
			}
			if (vc.Min != nil && n < *vc.Min) || (vc.Max != nil && n > *vc.Max) {
				violations++
			}
		}
		if violations > 0 {
			return &Finding{
				TableID:  tableID,
				Code:     CodeRangeViolation,
				Severity: severity,
				Message:  fmt.Sprintf("column %q has %d out-of-range values", vc.Column, violations),
			}
		}
	case "not_null":
		if nulls := f.NullCount(vc.Column); nulls > 0 {
			return &Finding{
				TableID:  tableID,
				Code:     CodeNotNullViolation,
				Severity: severity,
				Message:  fmt.Sprintf("column %q has %d null values", vc.Column, nulls),
			}
		}
	case "regex":
		re, err := regexp.Compile(vc.Pattern)
		if err != nil {
			// Loader validates patterns; reaching this means the profile
			// bypassed it.
			return &Finding{
				TableID:  tableID,
				Code:     CodeRegexMismatch,
				Severity: severity,
				Message:  fmt.Sprintf("column %q: invalid pattern %q", vc.Column, vc.Pattern),
			}
		}
		mismatches := 0
		for _, v := range col {
			if v == nil {
				continue
			}
			if !re.MatchString(frame.AsString(v)) {
				mismatches++
			}
		}
		if mismatches > 0 {
			return &Finding{
				TableID:  tableID,
				Code:     CodeRegexMismatch,
				Severity: severity,
				Message:  fmt.Sprintf("column %q has %d values not matching %q", vc.Column, mismatches, vc.Pattern),
			}
		}
	}
	return nil
}

// typeEquivalents is the relaxed expected-type table: "int" matches any
// integer width, "datetime" accepts dates.
var typeEquivalents = map[string][]frame.DType{
	"string":   {frame.TypeString},
	"str":      {frame.TypeString},
	"int":      {frame.TypeInt},
	"integer":  {frame.TypeInt},
	"float":    {frame.TypeFloat, frame.TypeInt},
	"number":   {frame.TypeFloat, frame.TypeInt},
	"bool":     {frame.TypeBool},
	"boolean":  {frame.TypeBool},
	"datetime": {frame.TypeDatetime, frame.TypeDate},
	"date":     {frame.TypeDate, frame.TypeDatetime},
}

func (e *Engine) validateSchemaRules(f *frame.Frame, tableID string, rules *profile.SchemaRules) []Finding {
	var findings []Finding

	for _, col := range rules.RequiredColumns {
		if !f.HasColumn(col) {
			findings = append(findings, Finding{
				TableID:  tableID,
				Code:     CodeRequiredColumnMissing,
				Severity: "error",
				Message:  fmt.Sprintf("required column missing: %s", col),
			})
		}
	}

	cols := make([]string, 0, len(rules.ColumnTypes))
	for col := range rules.ColumnTypes {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		expected := rules.ColumnTypes[col]
		if !f.HasColumn(col) {
			continue
		}
		actual := f.DTypeOf(col)
		if actual == frame.TypeNull {
			continue
		}
		allowed, known := typeEquivalents[expected]
		if !known {
			allowed = []frame.DType{frame.DType(expected)}
		}
		match := false
		for _, a := range allowed {
			if actual == a {
				match = true
				break
			}
		}
		if !match {
			findings = append(findings, Finding{
				TableID:  tableID,
				Code:     CodeColumnTypeMismatch,
				Severity: "error",
				Message:  fmt.Sprintf("column %q type mismatch: expected %s, got %s", col, expected, actual),
			})
		}
	}

	for _, col := range rules.UniqueColumns {
		if !f.HasColumn(col) {
			continue
		}
		total := f.Height() - f.NullCount(col)
		if dupes := total - f.NUnique(col); dupes > 0 {
			findings = append(findings, Finding{
				TableID:  tableID,
				Code:     CodeDuplicateValues,
				Severity: "error",
				Message:  fmt.Sprintf("column %q has %d duplicate values", col, dupes),
			})
		}
	}
	return findings
}

func (e *Engine) validateRowRules(f *frame.Frame, tableID string, rules []profile.RowRule) []Finding {
	var findings []Finding
	for _, rule := range rules {
		severity := rule.OnFail
		if severity == "" {
			severity = "warn"
		}
		expr, err := transform.ParseExpr(rule.Expression)
		if err != nil {
			findings = append(findings, Finding{
				TableID:  tableID,
				Code:     CodeRowRuleInvalid,
				Severity: severity,
				Message:  fmt.Sprintf("row rule %q: %v", rule.Name, err),
			})
			continue
		}

		// A rule over columns the table does not carry is not a violation
		// of that table.
		applicable := true
		for _, col := range expr.Columns() {
			if !f.HasColumn(col) {
				applicable = false
				break
			}
		}
		if !applicable {
			continue
		}

		mask, err := expr.EvalPredicate(f)
		if err != nil {
			findings = append(findings, Finding{
				TableID:  tableID,
				Code:     CodeRowRuleInvalid,
				Severity: severity,
				Message:  fmt.Sprintf("row rule %q: %v", rule.Name, err),
			})
			continue
		}
		violations := 0
		for _, ok := range mask {
			if !ok {
				violations++
			}
		}
		if violations > 0 {
			msg := rule.Message
			if msg == "" {
				msg = fmt.Sprintf("row rule %q failed", rule.Name)
			}
			findings = append(findings, Finding{
				TableID:  tableID,
				Code:     CodeRowRuleViolation,
				Severity: severity,
				Message:  fmt.Sprintf("%s (%d rows)", msg, violations),
			})
		}
	}
	return findings
}

func (e *Engine) validateAggregateRules(f *frame.Frame, tableID string, rules []profile.AggregateRule) []Finding {
	var findings []Finding
	for _, rule := range rules {
		severity := rule.OnFail
		if severity == "" {
			severity = "warn"
		}
		msg := rule.Message
		if msg == "" {
			msg = fmt.Sprintf("aggregate rule %q failed", rule.Name)
		}

		switch rule.Type {
		case "row_count":
			n := float64(f.Height())
			if rule.Min != nil && n < *rule.Min {
				findings = append(findings, Finding{
					TableID:  tableID,
					Code:     CodeRowCountLow,
					Severity: severity,
					Message:  fmt.Sprintf("%s: row count %.0f < min %.0f", msg, n, *rule.Min),
				})
			} else if rule.Max != nil && n > *rule.Max {
				findings = append(findings, Finding{
					TableID:  tableID,
					Code:     CodeRowCountHigh,
					Severity: severity,
					Message:  fmt.Sprintf("%s: row count %.0f > max %.0f", msg, n, *rule.Max),
				})
			}
		case "unique_count":
			if rule.Column == "" || !f.HasColumn(rule.Column) {
				continue
			}
			n := float64(f.NUnique(rule.Column))
			if rule.Min != nil && n < *rule.Min {
				findings = append(findings, Finding{
					TableID:  tableID,
					Code:     CodeUniqueCountLow,
					Severity: severity,
					Message:  fmt.Sprintf("%s: unique count %.0f < min %.0f", msg, n, *rule.Min),
				})
			}
		case "null_ratio":
			if rule.Column == "" || !f.HasColumn(rule.Column) || f.Height() == 0 {
				continue
			}
			ratio := float64(f.NullCount(rule.Column)) / float64(f.Height())
			if rule.Max != nil && ratio > *rule.Max {
				findings = append(findings, Finding{
					TableID:  tableID,
					Code:     CodeNullRatioHigh,
					Severity: severity,
					Message:  fmt.Sprintf("%s: null ratio %.2f > max %.2f", msg, ratio, *rule.Max),
				})
			}
		}
	}
	return findings
}

func (e *Engine) log(f Finding) {
	if f.Severity == "error" {
		e.logger.Error(f.Message, "table_id", f.TableID, "code", f.Code)
	} else {
		e.logger.Warn(f.Message, "table_id", f.TableID, "code", f.Code)
	}
}
