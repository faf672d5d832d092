// Package transform implements the normalization pipeline applied to every
// extracted frame: NaN substitution, numeric coercion, row filters, unit
// normalization, type coercion, renames, PII masking, and calculated
// columns. Every per-column step catches its own failure and logs; the
// pipeline never fails a frame.
package transform

import (
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/granarydata/granary/internal/frame"
	"github.com/granarydata/granary/internal/profile"
)

// defaultUnitMappings maps length units to nanometers.
var defaultUnitMappings = map[string]profile.UnitMapping{
	"nm":       {Canonical: "nm", Factor: 1},
	"um":       {Canonical: "nm", Factor: 1000},
	"μm":       {Canonical: "nm", Factor: 1000},
	"mm":       {Canonical: "nm", Factor: 1e6},
	"m":        {Canonical: "nm", Factor: 1e9},
	"angstrom": {Canonical: "nm", Factor: 0.1},
	"Å":        {Canonical: "nm", Factor: 0.1},
}

// coercionNullRateLimit is the null-introduction rate above which a
// numeric cast is abandoned and the column stays a string.
const coercionNullRateLimit = 0.5

// Pipeline applies profile-declared normalization and transforms.
type Pipeline struct {
	unitMappings map[string]profile.UnitMapping
	logger       *slog.Logger
}

// NewPipeline returns a pipeline with the given unit mappings merged over
// the defaults.
func NewPipeline(unitMappings map[string]profile.UnitMapping) *Pipeline {
	merged := make(map[string]profile.UnitMapping, len(defaultUnitMappings)+len(unitMappings))
	for k, v := range defaultUnitMappings {
		merged[k] = v
	}
	for k, v := range unitMappings {
		merged[k] = v
	}
	return &Pipeline{
		unitMappings: merged,
		logger:       slog.Default().With("component", "transform"),
	}
}

// Apply runs the whole profile-level pipeline in its documented order.
// Numeric coercion runs before row filters, so filters see coerced
// numbers.
func (p *Pipeline) Apply(f *frame.Frame, prof *profile.Profile) *frame.Frame {
	if f.IsEmpty() {
		return f
	}
	norm := &prof.Normalization

	if len(norm.NaNValues) > 0 {
		f = p.SubstituteNaN(f, norm.NaNValues)
	}
	if norm.CoercionEnabled() {
		f = p.CoerceNumeric(f)
	}
	if len(prof.RowFilters) > 0 {
		f = p.ApplyRowFilters(f, prof.RowFilters)
	}
	if norm.UnitsPolicy == "normalize" {
		f = p.NormalizeUnits(f, norm.ColumnUnits)
	}
	if len(prof.TypeCoercions) > 0 {
		f = p.ApplyTypeCoercions(f, prof.TypeCoercions)
	}
	if len(prof.ColumnRenames) > 0 {
		f = f.Rename(prof.ColumnRenames)
	}
	if prof.Governance != nil && prof.Governance.Compliance != nil {
		f = p.MaskPII(f, prof.Governance.Compliance)
	}
	if len(prof.CalculatedColumns) > 0 {
		f = p.ApplyCalculatedColumns(f, prof.CalculatedColumns)
	}
	return f
}

// SubstituteNaN nulls out string cells exactly matching any NaN marker.
func (p *Pipeline) SubstituteNaN(f *frame.Frame, nanValues []string) *frame.Frame {
	markers := map[string]bool{}
	for _, v := range nanValues {
		markers[v] = true
	}
	for _, name := range f.Columns() {
		if f.DTypeOf(name) != frame.TypeString {
			continue
		}
		col, _ := f.Column(name)
		changed := false
		for i, v := range col {
			if s, ok := v.(string); ok && markers[s] {
				col[i] = nil
				changed = true
			}
		}
		if changed {
			f = f.WithColumn(name, col)
		}
	}
	return f
}

// CoerceNumeric attempts a non-strict float cast on each string column,
// keeping the cast only when fewer than half the non-null values fail.
func (p *Pipeline) CoerceNumeric(f *frame.Frame) *frame.Frame {
	for _, name := range f.Columns() {
		if f.DTypeOf(name) != frame.TypeString {
			continue
		}
		nonNull := f.Height() - f.NullCount(name)
		if nonNull == 0 {
			continue
		}
		cast, introduced := f.CastFloat(name)
		if float64(introduced) < float64(nonNull)*coercionNullRateLimit {
			f = f.WithColumn(name, cast)
		}
	}
	return f
}

// ApplyRowFilters applies the filters sequentially. A filter over a
// missing column is skipped.
func (p *Pipeline) ApplyRowFilters(f *frame.Frame, filters []profile.RowFilter) *frame.Frame {
	for _, rf := range filters {
		if !f.HasColumn(rf.Column) {
			continue
		}
		col, _ := f.Column(rf.Column)
		mask := make([]bool, len(col))
		for i, v := range col {
			mask[i] = rowFilterMatch(v, rf)
		}
		f = f.Filter(mask)
	}
	return f
}

func rowFilterMatch(v any, rf profile.RowFilter) bool {
	switch rf.Op {
	case "equals":
		return frame.Equal(v, rf.Value)
	case "not_equals":
		return v != nil && !frame.Equal(v, rf.Value)
	case "gt":
		return v != nil && frame.Compare(v, rf.Value) > 0
	case "gte":
		return v != nil && frame.Compare(v, rf.Value) >= 0
	case "lt":
		return v != nil && frame.Compare(v, rf.Value) < 0
	case "lte":
		return v != nil && frame.Compare(v, rf.Value) <= 0
	case "between":
		if v == nil || rf.Min == nil || rf.Max == nil {
			return false
		}
		n, ok := frame.AsFloat(v)
		return ok && n >= *rf.Min && n <= *rf.Max
	case "in":
		for _, allowed := range rf.Values {
			if frame.Equal(v, allowed) {
				return true
			}
		}
		return false
	case "not_in":
		if v == nil {
			return true
		}
		for _, banned := range rf.Values {
			if frame.Equal(v, banned) {
				return false
			}
		}
		return true
	case "is_null":
		return v == nil
	case "is_not_null":
		return v != nil
	case "contains":
		return v != nil && strings.Contains(frame.AsString(v), frame.AsString(rf.Value))
	case "startswith":
		return v != nil && strings.HasPrefix(frame.AsString(v), frame.AsString(rf.Value))
	case "endswith":
		return v != nil && strings.HasSuffix(frame.AsString(v), frame.AsString(rf.Value))
	default:
		return true
	}
}

// NormalizeUnits converts each column with a known source unit to its
// canonical unit using factor_source / factor_target.
func (p *Pipeline) NormalizeUnits(f *frame.Frame, columnUnits map[string]string) *frame.Frame {
	for col, unit := range columnUnits {
		f = p.ConvertUnit(f, col, unit, "")
	}
	return f
}

// ConvertUnit converts one column from a source unit to a target unit
// (the source's canonical unit when target is empty). Unknown units leave
// the column untouched with a warning.
func (p *Pipeline) ConvertUnit(f *frame.Frame, column, fromUnit, toUnit string) *frame.Frame {
	if !f.HasColumn(column) {
		p.logger.Warn("unit conversion column not found", "column", column)
		return f
	}
	from, ok := p.unitMappings[fromUnit]
	if !ok {
		p.logger.Warn("unknown source unit", "unit", fromUnit)
		return f
	}
	if toUnit == "" {
		toUnit = from.Canonical
		if toUnit == "" {
			toUnit = fromUnit
		}
	}
	to, ok := p.unitMappings[toUnit]
	if !ok {
		p.logger.Warn("unknown target unit", "unit", toUnit)
		return f
	}
	factor := from.Factor / to.Factor
	return p.scaleColumn(f, column, column, factor)
}

func (p *Pipeline) scaleColumn(f *frame.Frame, source, target string, factor float64) *frame.Frame {
	col, _ := f.Column(source)
	out := make([]any, len(col))
	for i, v := range col {
		if n, ok := frame.AsFloat(v); ok {
			out[i] = n * factor
		}
	}
	return f.WithColumn(target, out)
}

// ApplyTypeCoercions casts columns to explicit types. A cast failure on a
// cell nulls the cell; a failure of the whole column logs and leaves the
// column untouched.
func (p *Pipeline) ApplyTypeCoercions(f *frame.Frame, coercions []profile.TypeCoercion) *frame.Frame {
	for _, tc := range coercions {
		if !f.HasColumn(tc.Column) {
			continue
		}
		col, _ := f.Column(tc.Column)
		out := make([]any, len(col))
		nonNull, failed := 0, 0
		for i, v := range col {
			if v == nil {
				continue
			}
			nonNull++
			out[i] = coerceValue(v, tc)
			if out[i] == nil {
				failed++
			}
		}
		if nonNull > 0 && failed == nonNull {
			p.logger.Warn("type coercion failed for every value", "column", tc.Column, "to_type", tc.ToType)
			continue
		}
		f = f.WithColumn(tc.Column, out)
	}
	return f
}

func coerceValue(v any, tc profile.TypeCoercion) any {
	switch tc.ToType {
	case "datetime":
		layout := tc.Format
		if layout == "" {
			layout = "%Y-%m-%d %H:%M:%S"
		}
		if t, err := time.Parse(goLayout(layout), frame.AsString(v)); err == nil {
			return t
		}
		return nil
	case "date":
		layout := tc.Format
		if layout == "" {
			layout = "%Y-%m-%d"
		}
		if t, err := time.Parse(goLayout(layout), frame.AsString(v)); err == nil {
			return t
		}
		return nil
	case "string":
		s := frame.AsString(v)
		if tc.Strip {
			s = strings.TrimSpace(s)
		}
		if tc.Uppercase {
			s = strings.ToUpper(s)
		}
		if tc.Lowercase {
			s = strings.ToLower(s)
		}
		return s
	case "float":
		if n, ok := frame.AsFloat(v); ok {
			return n
		}
		return nil
	case "int":
		if n, ok := frame.AsFloat(v); ok {
			return int64(n)
		}
		return nil
	case "bool":
		switch x := v.(type) {
		case bool:
			return x
		case string:
			switch strings.ToLower(x) {
			case "true", "1", "yes":
				return true
			case "false", "0", "no":
				return false
			}
			return nil
		default:
			if n, ok := frame.AsFloat(v); ok {
				return n != 0
			}
			return nil
		}
	default:
		return v
	}
}

// goLayout converts strftime-style directives to a Go time layout.
var strftimeRepl = strings.NewReplacer(
	"%Y", "2006",
	"%y", "06",
	"%m", "01",
	"%d", "02",
	"%H", "15",
	"%M", "04",
	"%S", "05",
)

func goLayout(format string) string { return strftimeRepl.Replace(format) }

// MaskPII replaces every character of the listed columns with the mask
// character. preserve_length=false replaces values with a fixed 8-char
// mask instead. Newlines mask like any other character.
func (p *Pipeline) MaskPII(f *frame.Frame, c *profile.Compliance) *frame.Frame {
	columns := append(append([]string{}, c.PIIColumns...), c.MaskInPreview...)
	if len(columns) == 0 {
		return f
	}
	maskChar := c.MaskChar
	if maskChar == "" {
		maskChar = "*"
	}
	preserve := true
	if c.PreserveLength != nil {
		preserve = *c.PreserveLength
	}

	seen := map[string]bool{}
	for _, name := range columns {
		if seen[name] || !f.HasColumn(name) {
			seen[name] = true
			continue
		}
		seen[name] = true
		col, _ := f.Column(name)
		out := make([]any, len(col))
		for i, v := range col {
			if v == nil {
				continue
			}
			s := frame.AsString(v)
			if preserve {
				out[i] = strings.Repeat(maskChar, len([]rune(s)))
			} else {
				out[i] = strings.Repeat(maskChar, 8)
			}
		}
		f = f.WithColumn(name, out)
	}
	return f
}

// ApplyCalculatedColumns evaluates each expression into a new column. A
// parse or evaluation failure logs and skips the column.
func (p *Pipeline) ApplyCalculatedColumns(f *frame.Frame, calcs []profile.CalculatedColumn) *frame.Frame {
	for _, calc := range calcs {
		expr, err := ParseExpr(calc.Expression)
		if err != nil {
			p.logger.Error("calculated column parse failed", "name", calc.Name, "error", err)
			continue
		}
		col, err := expr.EvalNumeric(f)
		if err != nil {
			p.logger.Error("calculated column evaluation failed", "name", calc.Name, "error", err)
			continue
		}
		if calc.RoundTo != nil {
			col = roundColumn(col, *calc.RoundTo)
		}
		f = f.WithColumn(calc.Name, col)
	}
	return f
}

func roundColumn(col []any, decimals int) []any {
	scale := math.Pow10(decimals)
	out := make([]any, len(col))
	for i, v := range col {
		if n, ok := v.(float64); ok {
			out[i] = math.Round(n*scale) / scale
		}
	}
	return out
}

// ApplyColumnTransforms runs per-table named transforms: rename,
// unit_convert, uppercase, lowercase, strip, round. Each transform
// catches its own failure; a missing source column logs and is skipped.
func (p *Pipeline) ApplyColumnTransforms(f *frame.Frame, transforms []profile.ColumnTransform) *frame.Frame {
	for _, tr := range transforms {
		if !f.HasColumn(tr.Source) {
			p.logger.Warn("transform source column not found", "column", tr.Source)
			continue
		}
		target := tr.Target
		if target == "" {
			target = tr.Source
		}
		switch tr.Transform {
		case "rename":
			f = f.Rename(map[string]string{tr.Source: target})
		case "unit_convert":
			factor := 1.0
			if tr.Args != nil {
				if n, ok := frame.AsFloat(tr.Args["factor"]); ok {
					factor = n
				}
			}
			f = p.scaleColumn(f, tr.Source, target, factor)
		case "uppercase":
			f = p.mapString(f, tr.Source, target, strings.ToUpper)
		case "lowercase":
			f = p.mapString(f, tr.Source, target, strings.ToLower)
		case "strip":
			f = p.mapString(f, tr.Source, target, strings.TrimSpace)
		case "round":
			decimals := 2
			if tr.Args != nil {
				if n, ok := frame.AsFloat(tr.Args["decimals"]); ok {
					decimals = int(n)
				}
			}
			col, _ := f.Column(tr.Source)
			converted := make([]any, len(col))
			for i, v := range col {
				if n, ok := frame.AsFloat(v); ok {
					converted[i] = n
				}
			}
			f = f.WithColumn(target, roundColumn(converted, decimals))
		default:
			p.logger.Warn("unknown column transform", "transform", tr.Transform)
		}
	}
	return f
}

func (p *Pipeline) mapString(f *frame.Frame, source, target string, fn func(string) string) *frame.Frame {
	col, _ := f.Column(source)
	out := make([]any, len(col))
	for i, v := range col {
		if v == nil {
			continue
		}
		out[i] = fn(frame.AsString(v))
	}
	return f.WithColumn(target, out)
}
