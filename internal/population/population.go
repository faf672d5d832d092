// Package population filters extracted frames down to the row population a
// profile asks for: everything, valid rows only, outliers excluded, or a
// reproducible sample.
package population

import (
	"log/slog"
	"math"
	"strings"

	"github.com/granarydata/granary/internal/frame"
	"github.com/granarydata/granary/internal/profile"
)

// Apply runs the named population strategy over a frame. Unknown strategy
// names pass the frame through with a warning, matching the engine's
// "never fail a frame" posture.
func Apply(f *frame.Frame, name string, params profile.StrategyParams) *frame.Frame {
	if f.IsEmpty() {
		return f
	}
	switch name {
	case "", "all":
		return f
	case "valid_only":
		return validOnly(f, params.ExcludeRules)
	case "outliers_excluded":
		return outliersExcluded(f, params)
	case "sample":
		return sample(f, params)
	default:
		slog.Default().With("component", "population").Warn("unknown population strategy", "strategy", name)
		return f
	}
}

// validOnly drops rows matching any exclusion rule.
func validOnly(f *frame.Frame, rules []profile.ExcludeRule) *frame.Frame {
	for _, rule := range rules {
		if !f.HasColumn(rule.Column) {
			continue
		}
		col, _ := f.Column(rule.Column)
		mask := make([]bool, len(col))
		for i, v := range col {
			mask[i] = !excluded(v, rule)
		}
		f = f.Filter(mask)
	}
	return f
}

func excluded(v any, rule profile.ExcludeRule) bool {
	switch rule.Condition {
	case "", "equals":
		return frame.Equal(v, rule.Value)
	case "not_equals":
		return v != nil && !frame.Equal(v, rule.Value)
	case "is_null":
		return v == nil
	case "contains":
		return v != nil && strings.Contains(frame.AsString(v), frame.AsString(rule.Value))
	default:
		return false
	}
}

// outliersExcluded removes statistical outliers per column using the IQR,
// z-score, or percentile method. Without apply_to it covers every numeric
// column.
func outliersExcluded(f *frame.Frame, params profile.StrategyParams) *frame.Frame {
	method := params.Method
	if method == "" {
		method = "iqr"
	}
	threshold := params.Threshold
	if threshold == 0 {
		threshold = 1.5
	}
	columns := params.ApplyTo
	if len(columns) == 0 {
		columns = f.NumericColumns()
	}

	for _, col := range columns {
		if !f.HasColumn(col) {
			continue
		}
		switch method {
		case "iqr":
			f = excludeIQR(f, col, threshold)
		case "zscore":
			f = excludeZScore(f, col, threshold)
		case "percentile":
			f = excludePercentile(f, col, threshold)
		default:
			slog.Default().With("component", "population").Warn("unknown outlier method", "method", method)
			return f
		}
	}
	return f
}

// excludeIQR keeps rows within [Q1 - k*IQR, Q3 + k*IQR]. Rows without a
// numeric reading survive so non-numeric columns never empty a frame.
func excludeIQR(f *frame.Frame, col string, k float64) *frame.Frame {
	q1, ok1 := f.Quantile(col, 0.25)
	q3, ok3 := f.Quantile(col, 0.75)
	if !ok1 || !ok3 {
		return f
	}
	iqr := q3 - q1
	lo, hi := q1-k*iqr, q3+k*iqr
	return keepInRange(f, col, lo, hi)
}

// excludeZScore keeps rows with |(x-mean)/std| <= k.
func excludeZScore(f *frame.Frame, col string, k float64) *frame.Frame {
	mean, okM := f.Mean(col)
	std, okS := f.Std(col)
	if !okM || !okS || std == 0 {
		return f
	}
	values, _ := f.Column(col)
	mask := make([]bool, len(values))
	for i, v := range values {
		n, ok := frame.AsFloat(v)
		if !ok {
			mask[i] = true
			continue
		}
		mask[i] = math.Abs((n-mean)/std) <= k
	}
	return f.Filter(mask)
}

// excludePercentile drops the bottom and top threshold percent.
func excludePercentile(f *frame.Frame, col string, threshold float64) *frame.Frame {
	loQ := threshold / 100
	hiQ := 1 - loQ
	lo, ok1 := f.Quantile(col, loQ)
	hi, ok2 := f.Quantile(col, hiQ)
	if !ok1 || !ok2 {
		return f
	}
	return keepInRange(f, col, lo, hi)
}

func keepInRange(f *frame.Frame, col string, lo, hi float64) *frame.Frame {
	values, _ := f.Column(col)
	mask := make([]bool, len(values))
	for i, v := range values {
		n, ok := frame.AsFloat(v)
		if !ok {
			mask[i] = true
			continue
		}
		mask[i] = n >= lo && n <= hi
	}
	return f.Filter(mask)
}

// sample reduces the frame to at most size rows. Stratified sampling
// draws proportionally from each stratum with the shared seed; frames at
// or below the target size pass through unchanged.
func sample(f *frame.Frame, params profile.StrategyParams) *frame.Frame {
	size := params.Size
	if size <= 0 {
		size = 1000
	}
	seed := params.Seed
	if seed == 0 {
		seed = 42
	}
	if f.Height() <= size {
		return f
	}

	switch params.Method {
	case "", "random":
		return f.Sample(size, seed)
	case "first_n":
		return f.Head(size)
	case "stratified":
		if params.StratifyBy == "" || !f.HasColumn(params.StratifyBy) {
			return f.Sample(size, seed)
		}
		return stratified(f, params.StratifyBy, size, seed)
	default:
		return f.Sample(size, seed)
	}
}

// stratified samples each stratum proportionally to its share of the
// total, with at least one row per stratum. Stratum order follows first
// appearance so the result is deterministic.
func stratified(f *frame.Frame, by string, size int, seed int64) *frame.Frame {
	values, _ := f.Column(by)
	var order []string
	counts := map[string]int{}
	for _, v := range values {
		key := frame.AsString(v)
		if counts[key] == 0 {
			order = append(order, key)
		}
		counts[key]++
	}

	total := f.Height()
	var parts []*frame.Frame
	for _, key := range order {
		mask := make([]bool, len(values))
		for i, v := range values {
			mask[i] = frame.AsString(v) == key
		}
		stratum := f.Filter(mask)

		stratumSize := int(float64(counts[key]) / float64(total) * float64(size))
		if stratumSize < 1 {
			stratumSize = 1
		}
		if stratum.Height() > stratumSize {
			stratum = stratum.Sample(stratumSize, seed)
		}
		parts = append(parts, stratum)
	}
	return frame.ConcatDiagonal(parts...)
}
