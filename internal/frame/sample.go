package frame

import "math/rand"

// Sample returns n rows drawn without replacement using the given seed.
// The same seed over the same frame yields the same rows in the same
// order, which downstream hashing depends on. Frames with at most n rows
// are returned unchanged.
func (f *Frame) Sample(n int, seed int64) *Frame {
	h := f.Height()
	if h <= n {
		return f.Select(f.Columns())
	}
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(h)
	order := perm[:n]
	return f.takeRows(order)
}
