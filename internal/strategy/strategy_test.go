package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goccy/go-json"

	"github.com/granarydata/granary/internal/frame"
	"github.com/granarydata/granary/internal/profile"
)

func parseDoc(t *testing.T, src string) any {
	t.Helper()
	var doc any
	require.NoError(t, json.Unmarshal([]byte(src), &doc))
	return doc
}

func extract(t *testing.T, doc any, sel *profile.Select) *frame.Frame {
	t.Helper()
	f, err := Extract(doc, sel, nil)
	require.NoError(t, err)
	return f
}

func TestFlatObject(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `{"summary": {"jobname": "LOT1", "count": 3, "nested": {"a": 1}}}`)
	f := extract(t, doc, &profile.Select{Strategy: "flat_object", Path: "$.summary"})

	assert.Equal(t, 1, f.Height())
	assert.Equal(t, "LOT1", f.Cell(0, "jobname"))
	// Nested objects encode as JSON strings when flattening is off.
	assert.Equal(t, `{"a":1}`, f.Cell(0, "nested"))
}

func TestFlatObject_Flatten(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `{"summary": {"a": {"b": {"c": 7}}, "list": [1, 2]}}`)
	f := extract(t, doc, &profile.Select{
		Strategy:      "flat_object",
		Path:          "$.summary",
		FlattenNested: true,
	})

	assert.Equal(t, float64(7), f.Cell(0, "a_b_c"))
	assert.Equal(t, "[1,2]", f.Cell(0, "list"))
}

func TestFlatObject_FieldsWhitelist(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `{"summary": {"keep": 1, "drop": 2}}`)
	f := extract(t, doc, &profile.Select{
		Strategy: "flat_object",
		Path:     "$.summary",
		Fields:   []string{"keep"},
	})

	assert.Equal(t, []string{"keep"}, f.Columns())
}

func TestFlatObject_EdgeCases(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `{"arr": [1, 2]}`)

	// Missing path: empty frame.
	f := extract(t, doc, &profile.Select{Strategy: "flat_object", Path: "$.missing"})
	assert.True(t, f.IsEmpty())
	assert.Zero(t, f.Width())

	// Non-object at path: empty frame.
	f = extract(t, doc, &profile.Select{Strategy: "flat_object", Path: "$.arr"})
	assert.True(t, f.IsEmpty())
}

func TestHeadersData(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `{
		"stats": {
			"headers": ["site", "cd", "depth"],
			"rows": [["s0", 10.1, 5.0], ["s1", 10.2], ["s2", 10.3, 5.2, "extra"]]
		}
	}`)
	f := extract(t, doc, &profile.Select{
		Strategy:   "headers_data",
		Path:       "$.stats",
		HeadersKey: "headers",
		DataKey:    "rows",
	})

	assert.Equal(t, []string{"site", "cd", "depth"}, f.Columns())
	assert.Equal(t, 3, f.Height())
	// Short row pads with null.
	assert.Nil(t, f.Cell(1, "depth"))
	// Long row truncates.
	assert.Equal(t, 5.2, f.Cell(2, "depth"))
}

func TestHeadersData_InferHeaders(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `{"stats": {"rows": [[1, 2], [3, 4]]}}`)
	f := extract(t, doc, &profile.Select{
		Strategy:     "headers_data",
		Path:         "$.stats",
		InferHeaders: true,
		DataKey:      "rows",
	})

	assert.Equal(t, []string{"col_0", "col_1"}, f.Columns())
}

func TestHeadersData_DefaultHeaders(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `{"stats": {"rows": [[1, 2]]}}`)
	f := extract(t, doc, &profile.Select{
		Strategy:       "headers_data",
		Path:           "$.stats",
		DefaultHeaders: []string{"a", "b"},
		DataKey:        "rows",
	})

	assert.Equal(t, []string{"a", "b"}, f.Columns())
}

func TestHeadersData_EmptyRowsKeepsSchema(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `{"stats": {"headers": ["a", "b"], "rows": []}}`)
	f := extract(t, doc, &profile.Select{
		Strategy:   "headers_data",
		Path:       "$.stats",
		HeadersKey: "headers",
		DataKey:    "rows",
	})

	assert.Equal(t, []string{"a", "b"}, f.Columns())
	assert.Zero(t, f.Height())
}

func TestArrayOfObjects(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `{"sites": [{"id": "s0", "cd": 10.0}, {"id": "s1", "depth": 4.0}]}`)

	for _, path := range []string{"$.sites", "$.sites[*]"} {
		f := extract(t, doc, &profile.Select{Strategy: "array_of_objects", Path: path})
		assert.Equal(t, 2, f.Height())
		assert.ElementsMatch(t, []string{"cd", "depth", "id"}, f.Columns())
		assert.Nil(t, f.Cell(0, "depth"))
	}
}

func TestArrayOfObjects_EmptyAndMissing(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `{"sites": [], "scalar": 5}`)

	assert.True(t, extract(t, doc, &profile.Select{Strategy: "array_of_objects", Path: "$.sites"}).IsEmpty())
	assert.True(t, extract(t, doc, &profile.Select{Strategy: "array_of_objects", Path: "$.missing"}).IsEmpty())
	assert.True(t, extract(t, doc, &profile.Select{Strategy: "array_of_objects", Path: "$.scalar"}).IsEmpty())
}

func TestUnpivot(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `{"wide": [
		{"site": "s0", "cd": 10.0, "depth": 5.0},
		{"site": "s1", "cd": 11.0, "depth": 6.0}
	]}`)
	f := extract(t, doc, &profile.Select{
		Strategy:  "unpivot",
		Path:      "$.wide",
		IDVars:    []string{"site"},
		ValueVars: []string{"cd", "depth"},
		VarName:   "param",
		ValueName: "reading",
	})

	assert.Equal(t, []string{"site", "param", "reading"}, f.Columns())
	assert.Equal(t, 4, f.Height())
}

func TestUnpivot_MissingValueVarsReturnsWide(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `{"wide": [{"a": 1}]}`)
	f := extract(t, doc, &profile.Select{
		Strategy:  "unpivot",
		Path:      "$.wide",
		ValueVars: []string{"ghost"},
	})

	assert.Equal(t, []string{"a"}, f.Columns())
}

func TestJoin(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `{
		"measurements": [{"site": "s0", "cd": 10.0}, {"site": "s1", "cd": 11.0}],
		"metadata": [{"site_id": "s0", "zone": "edge"}]
	}`)
	f := extract(t, doc, &profile.Select{
		Strategy: "join",
		Left:     &profile.JoinSide{Path: "$.measurements", Key: "site"},
		Right:    &profile.JoinSide{Path: "$.metadata", Key: "site_id"},
		How:      "left",
	})

	assert.Equal(t, 2, f.Height())
	assert.Equal(t, "edge", f.Cell(0, "zone"))
	assert.Nil(t, f.Cell(1, "zone"))
	// Right key was renamed onto the left key; no duplicate column.
	assert.False(t, f.HasColumn("site_id"))
}

func TestJoin_MissingRightKeyReturnsLeft(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `{
		"measurements": [{"site": "s0"}],
		"metadata": [{"other": 1}]
	}`)
	f := extract(t, doc, &profile.Select{
		Strategy: "join",
		Left:     &profile.JoinSide{Path: "$.measurements", Key: "site"},
		Right:    &profile.JoinSide{Path: "$.metadata", Key: "site_id"},
	})

	assert.Equal(t, []string{"site"}, f.Columns())
	assert.Equal(t, 1, f.Height())
}

func TestJoin_EmptyRightReturnsLeft(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `{"measurements": [{"site": "s0"}], "metadata": []}`)
	f := extract(t, doc, &profile.Select{
		Strategy: "join",
		Left:     &profile.JoinSide{Path: "$.measurements", Key: "site"},
		Right:    &profile.JoinSide{Path: "$.metadata", Key: "site"},
	})
	assert.Equal(t, 1, f.Height())
}

func TestRepeatOver(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `{
		"sites": [
			{"id": "s0", "stats": {"headers": ["cd"], "rows": [[10.0], [10.5]]}},
			{"id": "s1", "stats": {"headers": ["cd"], "rows": [[11.0]]}}
		]
	}`)
	f := extract(t, doc, &profile.Select{
		Strategy:   "headers_data",
		Path:       "$.sites[{i}].stats",
		HeadersKey: "headers",
		DataKey:    "rows",
		RepeatOver: &profile.RepeatOver{
			Path:         "$.sites",
			AsVar:        "i",
			InjectFields: map[string]string{"site_id": "$.id"},
		},
	})

	assert.Equal(t, 3, f.Height())
	assert.Equal(t, "s0", f.Cell(0, "site_id"))
	assert.Equal(t, "s0", f.Cell(1, "site_id"))
	assert.Equal(t, "s1", f.Cell(2, "site_id"))
	assert.Equal(t, 10.0, f.Cell(0, "cd"))
	assert.Equal(t, 11.0, f.Cell(2, "cd"))
}

func TestRepeatOver_EmptyArray(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `{"sites": []}`)
	f := extract(t, doc, &profile.Select{
		Strategy:   "flat_object",
		Path:       "$.sites[{i}]",
		RepeatOver: &profile.RepeatOver{Path: "$.sites", AsVar: "i"},
	})
	assert.True(t, f.IsEmpty())
}

func TestRepeatOver_OrderingPreserved(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `{
		"runs": [
			{"name": "r0", "data": {"v": 1}},
			{"name": "r1", "data": {"v": 2}},
			{"name": "r2", "data": {"v": 3}}
		]
	}`)
	f := extract(t, doc, &profile.Select{
		Strategy: "flat_object",
		Path:     "$.runs[{n}].data",
		RepeatOver: &profile.RepeatOver{
			Path:         "$.runs",
			AsVar:        "n",
			InjectFields: map[string]string{"run": "name"},
		},
	})

	require.Equal(t, 3, f.Height())
	for i, want := range []any{float64(1), float64(2), float64(3)} {
		assert.Equal(t, want, f.Cell(i, "v"))
		assert.Equal(t, "r"+string(rune('0'+i)), f.Cell(i, "run"))
	}
}

func TestExtract_UnknownStrategy(t *testing.T) {
	t.Parallel()

	_, err := Extract(map[string]any{}, &profile.Select{Strategy: "transmute"}, nil)
	assert.Error(t, err)
}
