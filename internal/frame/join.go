package frame

import "fmt"

// JoinHow selects the relational join behavior.
type JoinHow string

const (
	JoinLeft  JoinHow = "left"
	JoinRight JoinHow = "right"
	JoinInner JoinHow = "inner"
	JoinOuter JoinHow = "outer"
)

// Join performs a relational join between f (left) and right on the shared
// key columns. Non-key right columns that collide with left columns are
// suffixed with "_right". Row order follows the left frame for
// left/inner/outer joins, with right-only outer rows appended in right
// order; a right join follows the right frame's row order.
func (f *Frame) Join(right *Frame, on []string, how JoinHow) (*Frame, error) {
	for _, key := range on {
		if !f.HasColumn(key) {
			return nil, fmt.Errorf("join: key %q not in left frame", key)
		}
		if !right.HasColumn(key) {
			return nil, fmt.Errorf("join: key %q not in right frame", key)
		}
	}
	switch how {
	case JoinLeft, JoinRight, JoinInner, JoinOuter:
	case "":
		how = JoinLeft
	default:
		return nil, fmt.Errorf("join: unknown how %q", how)
	}

	if how == JoinRight {
		// A right join is a left join with sides swapped. The result keeps
		// that join's column order (right frame's columns first), and
		// colliding non-key columns of f carry the "_right" suffix.
		swapped, err := right.Join(f, on, JoinLeft)
		if err != nil {
			return nil, err
		}
		return swapped, nil
	}

	rightIndex := map[string][]int{}
	for r := 0; r < right.Height(); r++ {
		rightIndex[joinKey(right, r, on)] = append(rightIndex[joinKey(right, r, on)], r)
	}

	keySet := map[string]bool{}
	for _, k := range on {
		keySet[k] = true
	}
	var rightCols []string
	rightName := map[string]string{}
	for _, name := range right.names {
		if keySet[name] {
			continue
		}
		outName := name
		if f.HasColumn(name) {
			outName = name + "_right"
		}
		rightCols = append(rightCols, name)
		rightName[name] = outName
	}

	type pair struct{ l, r int } // -1 marks the null side
	var pairs []pair
	matchedRight := make([]bool, right.Height())
	for l := 0; l < f.Height(); l++ {
		matches := rightIndex[joinKey(f, l, on)]
		if len(matches) == 0 {
			if how == JoinLeft || how == JoinOuter {
				pairs = append(pairs, pair{l, -1})
			}
			continue
		}
		for _, r := range matches {
			matchedRight[r] = true
			pairs = append(pairs, pair{l, r})
		}
	}
	if how == JoinOuter {
		for r := 0; r < right.Height(); r++ {
			if !matchedRight[r] {
				pairs = append(pairs, pair{-1, r})
			}
		}
	}

	out := New()
	for i, name := range f.names {
		col := make([]any, len(pairs))
		for p, pr := range pairs {
			if pr.l >= 0 {
				col[p] = f.cols[i][pr.l]
			} else if keySet[name] {
				// Outer join: carry the key from the right side.
				if ri, ok := right.index[name]; ok {
					col[p] = right.cols[ri][pr.r]
				}
			}
		}
		out.appendColumn(name, col)
	}
	for _, name := range rightCols {
		ri := right.index[name]
		col := make([]any, len(pairs))
		for p, pr := range pairs {
			if pr.r >= 0 {
				col[p] = right.cols[ri][pr.r]
			}
		}
		out.appendColumn(rightName[name], col)
	}
	return out, nil
}

func joinKey(f *Frame, row int, on []string) string {
	key := ""
	for _, name := range on {
		i := f.index[name]
		v := f.cols[i][row]
		if v == nil {
			key += "\x00\x01"
		} else {
			key += "\x00" + AsString(v)
		}
	}
	return key
}
