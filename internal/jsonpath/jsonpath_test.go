package jsonpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc() map[string]any {
	return map[string]any{
		"summary": map[string]any{"jobname": "LOT1", "count": 3.0},
		"sites": []any{
			map[string]any{"id": "s0", "cd": 10.0},
			map[string]any{"id": "s1", "cd": 11.0},
		},
	}
}

func TestGet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		path  string
		want  any
		found bool
	}{
		{"root dollar", "$", nil, true},
		{"dot notation", "$.summary.jobname", "LOT1", true},
		{"bracket index", "$.sites[1].id", "s1", true},
		{"missing path", "$.nope.nothing", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v, ok := Get(doc(), tt.path)
			assert.Equal(t, tt.found, ok)
			if tt.want != nil {
				assert.Equal(t, tt.want, v)
			}
		})
	}
}

func TestGet_WildcardReturnsAllMatches(t *testing.T) {
	t.Parallel()

	v, ok := Get(doc(), "$.sites[*].id")
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"s0", "s1"}, v.([]any))
}

func TestGetArray_StripsWildcard(t *testing.T) {
	t.Parallel()

	arr, ok := GetArray(doc(), "$.sites[*]")
	require.True(t, ok)
	assert.Len(t, arr, 2)

	arr, ok = GetArray(doc(), "$.sites")
	require.True(t, ok)
	assert.Len(t, arr, 2)

	_, ok = GetArray(doc(), "$.summary")
	assert.False(t, ok)
}

func TestSubstituteIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		vr   string
		idx  int
		want string
	}{
		{"simple", "$.sites[{i}].data", "i", 2, "$.sites[2].data"},
		{"multiple occurrences", "$.a[{n}].b[{n}]", "n", 0, "$.a[0].b[0]"},
		{"non-identifier untouched", "$.a[{1bad}]", "1bad", 3, "$.a[{1bad}]"},
		{"absent var untouched", "$.a.b", "i", 1, "$.a.b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SubstituteIndex(tt.path, tt.vr, tt.idx))
		})
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	assert.True(t, Valid("$"))
	assert.True(t, Valid("$.a.b[0]"))
	assert.False(t, Valid("$.a[["))
}
