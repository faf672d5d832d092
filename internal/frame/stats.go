package frame

import "sort"

// NullCount returns the number of null cells in the named column.
func (f *Frame) NullCount(name string) int {
	i, ok := f.index[name]
	if !ok {
		return 0
	}
	n := 0
	for _, v := range f.cols[i] {
		if v == nil {
			n++
		}
	}
	return n
}

// NUnique returns the number of distinct non-null values in the column.
func (f *Frame) NUnique(name string) int {
	i, ok := f.index[name]
	if !ok {
		return 0
	}
	seen := map[string]bool{}
	for _, v := range f.cols[i] {
		if v != nil {
			seen[AsString(v)] = true
		}
	}
	return len(seen)
}

// Numeric returns the column's values that have a numeric reading.
func (f *Frame) Numeric(name string) []float64 {
	i, ok := f.index[name]
	if !ok {
		return nil
	}
	var nums []float64
	for _, v := range f.cols[i] {
		if n, ok := AsFloat(v); ok {
			nums = append(nums, n)
		}
	}
	return nums
}

// Mean returns the arithmetic mean of the column's numeric values.
func (f *Frame) Mean(name string) (float64, bool) {
	nums := f.Numeric(name)
	if len(nums) == 0 {
		return 0, false
	}
	return sum(nums) / float64(len(nums)), true
}

// Std returns the sample standard deviation of the column's numeric values.
func (f *Frame) Std(name string) (float64, bool) {
	nums := f.Numeric(name)
	if len(nums) == 0 {
		return 0, false
	}
	return std(nums), true
}

// Quantile returns the q-th quantile (0 <= q <= 1) of the column's numeric
// values using linear interpolation between closest ranks.
func (f *Frame) Quantile(name string, q float64) (float64, bool) {
	nums := f.Numeric(name)
	if len(nums) == 0 {
		return 0, false
	}
	sorted := append([]float64(nil), nums...)
	sort.Float64s(sorted)
	if q <= 0 {
		return sorted[0], true
	}
	if q >= 1 {
		return sorted[len(sorted)-1], true
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	frac := pos - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[lo], true
	}
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac, true
}

// NumericColumns returns the names of columns whose inferred type is
// integer or float.
func (f *Frame) NumericColumns() []string {
	var out []string
	for _, name := range f.names {
		switch f.DTypeOf(name) {
		case TypeInt, TypeFloat:
			out = append(out, name)
		}
	}
	return out
}
