package frame

// Unpivot transforms the frame from wide to long form. Each row of the
// input produces one output row per value variable: the id variables are
// carried through, the value variable's name lands in varName and its cell
// in valueName. Names in idVars or valueVars that do not exist in the frame
// are silently dropped, matching how profiles tolerate schema drift.
func (f *Frame) Unpivot(idVars, valueVars []string, varName, valueName string) *Frame {
	if varName == "" {
		varName = "variable"
	}
	if valueName == "" {
		valueName = "value"
	}

	var ids, values []string
	for _, n := range idVars {
		if f.HasColumn(n) {
			ids = append(ids, n)
		}
	}
	for _, n := range valueVars {
		if f.HasColumn(n) {
			values = append(values, n)
		}
	}
	if len(values) == 0 {
		return f.Select(f.Columns())
	}

	height := f.Height()
	outLen := height * len(values)

	out := New()
	for _, id := range ids {
		src := f.cols[f.index[id]]
		col := make([]any, 0, outLen)
		for range values {
			col = append(col, src...)
		}
		out.appendColumn(id, col)
	}

	varCol := make([]any, 0, outLen)
	valCol := make([]any, 0, outLen)
	for _, vc := range values {
		src := f.cols[f.index[vc]]
		for r := 0; r < height; r++ {
			varCol = append(varCol, vc)
			valCol = append(valCol, src[r])
		}
	}
	out.appendColumn(varName, varCol)
	out.appendColumn(valueName, valCol)
	return out
}
