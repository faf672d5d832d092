// Package frame implements the columnar table value exchanged between every
// stage of the extraction pipeline: adapters produce frames, strategies and
// transforms reshape them, the validation engine inspects them, and the
// output builder combines them.
//
// A Frame is value-semantic: every operation returns a new logical frame and
// never mutates its receiver. Cells are stored as `any` with nil meaning
// null, which lets a single column hold the mixed values that arrive from
// loosely-typed sources before coercion settles the type.
package frame

import (
	"fmt"
	"sort"
)

// Frame is a columnar table with named, ordered columns.
type Frame struct {
	names []string
	cols  [][]any
	index map[string]int
}

// New returns an empty frame with no columns and no rows.
func New() *Frame {
	return &Frame{index: map[string]int{}}
}

// FromColumns builds a frame from parallel column slices. Column order
// follows names. All columns must have equal length; shorter columns are
// null-padded to the longest so a ragged input cannot corrupt the frame.
func FromColumns(names []string, cols [][]any) *Frame {
	if len(names) != len(cols) {
		panic(fmt.Sprintf("frame: %d names for %d columns", len(names), len(cols)))
	}
	height := 0
	for _, c := range cols {
		if len(c) > height {
			height = len(c)
		}
	}
	f := New()
	for i, name := range names {
		col := make([]any, height)
		copy(col, cols[i])
		f.appendColumn(name, col)
	}
	return f
}

// FromRecords builds a frame from row-oriented records. The column set is
// the union of keys across all records; missing keys become null. Columns
// are ordered lexicographically so frames built from parsed JSON objects
// (whose key order is not preserved by Go maps) are deterministic.
func FromRecords(records []map[string]any) *Frame {
	if len(records) == 0 {
		return New()
	}
	seen := map[string]bool{}
	var names []string
	for _, rec := range records {
		for k := range rec {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)

	f := New()
	for _, name := range names {
		col := make([]any, len(records))
		for i, rec := range records {
			col[i] = rec[name]
		}
		f.appendColumn(name, col)
	}
	return f
}

// FromRecordsOrdered builds a frame from records with an explicit column
// order. Keys absent from names are dropped; names absent from a record
// become null.
func FromRecordsOrdered(names []string, records []map[string]any) *Frame {
	f := New()
	for _, name := range names {
		col := make([]any, len(records))
		for i, rec := range records {
			col[i] = rec[name]
		}
		f.appendColumn(name, col)
	}
	return f
}

func (f *Frame) appendColumn(name string, col []any) {
	if _, exists := f.index[name]; exists {
		return
	}
	f.index[name] = len(f.names)
	f.names = append(f.names, name)
	f.cols = append(f.cols, col)
}

// Height returns the number of rows.
func (f *Frame) Height() int {
	if len(f.cols) == 0 {
		return 0
	}
	return len(f.cols[0])
}

// Width returns the number of columns.
func (f *Frame) Width() int { return len(f.names) }

// IsEmpty reports whether the frame has no rows.
func (f *Frame) IsEmpty() bool { return f.Height() == 0 }

// Columns returns the column names in order. The slice is a copy.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.names))
	copy(out, f.names)
	return out
}

// HasColumn reports whether the named column exists.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.index[name]
	return ok
}

// Column returns the values of the named column. The returned slice is a
// copy; mutating it does not affect the frame.
func (f *Frame) Column(name string) ([]any, bool) {
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	out := make([]any, len(f.cols[i]))
	copy(out, f.cols[i])
	return out, true
}

// Cell returns the value at (row, column name), or nil when either is out
// of range.
func (f *Frame) Cell(row int, name string) any {
	i, ok := f.index[name]
	if !ok || row < 0 || row >= f.Height() {
		return nil
	}
	return f.cols[i][row]
}

// Row returns row i as a map keyed by column name.
func (f *Frame) Row(i int) map[string]any {
	rec := make(map[string]any, len(f.names))
	for c, name := range f.names {
		rec[name] = f.cols[c][i]
	}
	return rec
}

// Records returns the frame as row-oriented records, preserving row order.
func (f *Frame) Records() []map[string]any {
	out := make([]map[string]any, f.Height())
	for i := range out {
		out[i] = f.Row(i)
	}
	return out
}

// Select returns a frame containing only the named columns, in the given
// order. Unknown names are skipped.
func (f *Frame) Select(names []string) *Frame {
	out := New()
	for _, name := range names {
		if i, ok := f.index[name]; ok {
			out.appendColumn(name, cloneCol(f.cols[i]))
		}
	}
	return out
}

// Drop returns a frame without the named columns.
func (f *Frame) Drop(names []string) *Frame {
	dropped := map[string]bool{}
	for _, n := range names {
		dropped[n] = true
	}
	out := New()
	for i, name := range f.names {
		if !dropped[name] {
			out.appendColumn(name, cloneCol(f.cols[i]))
		}
	}
	return out
}

// Rename returns a frame with columns renamed per the mapping. Names absent
// from the frame are ignored. A rename that would collide with an existing
// column keeps the original name.
func (f *Frame) Rename(renames map[string]string) *Frame {
	out := New()
	for i, name := range f.names {
		newName := name
		if to, ok := renames[name]; ok && to != "" {
			if _, taken := f.index[to]; !taken || to == name {
				newName = to
			}
		}
		out.appendColumn(newName, cloneCol(f.cols[i]))
	}
	return out
}

// WithColumn returns a frame with the named column replaced (or appended)
// by values. Values shorter than the frame height are null-padded.
func (f *Frame) WithColumn(name string, values []any) *Frame {
	height := f.Height()
	if f.Width() == 0 {
		height = len(values)
	}
	col := make([]any, height)
	copy(col, values)

	out := New()
	replaced := false
	for i, n := range f.names {
		if n == name {
			out.appendColumn(n, col)
			replaced = true
		} else {
			out.appendColumn(n, cloneCol(f.cols[i]))
		}
	}
	if !replaced {
		out.appendColumn(name, col)
	}
	return out
}

// WithScalar returns a frame with a new column holding the same value in
// every row.
func (f *Frame) WithScalar(name string, value any) *Frame {
	col := make([]any, f.Height())
	for i := range col {
		col[i] = value
	}
	return f.WithColumn(name, col)
}

// Filter returns the rows for which mask is true. The mask must be at
// least as long as the frame; extra entries are ignored.
func (f *Frame) Filter(mask []bool) *Frame {
	out := New()
	for i, name := range f.names {
		var col []any
		for r, v := range f.cols[i] {
			if r < len(mask) && mask[r] {
				col = append(col, v)
			}
		}
		out.appendColumn(name, col)
	}
	return out
}

// Slice returns length rows starting at offset, clamped to the frame
// bounds.
func (f *Frame) Slice(offset, length int) *Frame {
	h := f.Height()
	if offset < 0 {
		offset = 0
	}
	if offset > h {
		offset = h
	}
	end := offset + length
	if length < 0 || end > h {
		end = h
	}
	out := New()
	for i, name := range f.names {
		out.appendColumn(name, cloneCol(f.cols[i][offset:end]))
	}
	return out
}

// Head returns the first n rows.
func (f *Frame) Head(n int) *Frame { return f.Slice(0, n) }

// ConcatDiagonal concatenates frames vertically using the union of their
// columns. Column order is first-appearance order across the inputs; cells
// for columns a frame does not carry are null. Row order is preserved.
func ConcatDiagonal(frames ...*Frame) *Frame {
	var nonEmpty []*Frame
	for _, fr := range frames {
		if fr != nil && fr.Width() > 0 {
			nonEmpty = append(nonEmpty, fr)
		}
	}
	if len(nonEmpty) == 0 {
		return New()
	}

	var names []string
	seen := map[string]bool{}
	total := 0
	for _, fr := range nonEmpty {
		total += fr.Height()
		for _, n := range fr.names {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}

	out := New()
	for _, name := range names {
		col := make([]any, 0, total)
		for _, fr := range nonEmpty {
			if i, ok := fr.index[name]; ok {
				col = append(col, fr.cols[i]...)
			} else {
				col = append(col, make([]any, fr.Height())...)
			}
		}
		out.appendColumn(name, col)
	}
	return out
}

// SortBy returns the frame with rows stably sorted ascending by the given
// columns. Nulls sort first.
func (f *Frame) SortBy(names []string) *Frame {
	order := make([]int, f.Height())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		for _, name := range names {
			i, ok := f.index[name]
			if !ok {
				continue
			}
			if c := Compare(f.cols[i][order[a]], f.cols[i][order[b]]); c != 0 {
				return c < 0
			}
		}
		return false
	})
	return f.takeRows(order)
}

func (f *Frame) takeRows(order []int) *Frame {
	out := New()
	for i, name := range f.names {
		col := make([]any, len(order))
		for r, idx := range order {
			col[r] = f.cols[i][idx]
		}
		out.appendColumn(name, col)
	}
	return out
}

func cloneCol(col []any) []any {
	out := make([]any, len(col))
	copy(out, col)
	return out
}
