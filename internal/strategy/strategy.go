// Package strategy implements the six extraction strategies that turn
// nested source data into flat frames: flat_object, headers_data,
// array_of_objects, unpivot, join, and the composite repeat_over. The set
// is closed and dispatched at compile time; the adapter registry is the
// designed extension point, not this one.
package strategy

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/granarydata/granary/internal/filecontext"
	"github.com/granarydata/granary/internal/frame"
	"github.com/granarydata/granary/internal/jsonpath"
	"github.com/granarydata/granary/internal/profile"
)

var logger = func() *slog.Logger { return slog.Default().With("component", "strategy") }

// Extract dispatches the strategy declared by the select contract. A
// repeat_over block composes the base strategy over an array regardless of
// the declared strategy name. Missing paths and shape mismatches return an
// empty frame with a warning, never an error; errors are reserved for
// contracts the profile loader should have rejected.
func Extract(data any, sel *profile.Select, ctx filecontext.Context) (*frame.Frame, error) {
	if sel.RepeatOver != nil {
		return repeatOver(data, sel, ctx)
	}
	switch sel.Strategy {
	case "flat_object":
		return flatObject(data, sel), nil
	case "headers_data":
		return headersData(data, sel), nil
	case "array_of_objects":
		return arrayOfObjects(data, sel), nil
	case "unpivot":
		return unpivot(data, sel), nil
	case "join":
		return join(data, sel), nil
	case "repeat_over":
		return nil, fmt.Errorf("repeat_over strategy requires a repeat_over block")
	default:
		return nil, fmt.Errorf("unknown strategy %q", sel.Strategy)
	}
}

// flatObject navigates to an object and emits a single-row frame: keys
// become columns, values the row. Nested objects either flatten with the
// configured separator or encode as JSON-string scalars.
func flatObject(data any, sel *profile.Select) *frame.Frame {
	v, ok := jsonpath.Get(data, sel.Path)
	if !ok {
		logger().Warn("no data at path", "path", sel.Path, "strategy", "flat_object")
		return frame.New()
	}
	obj, ok := v.(map[string]any)
	if !ok {
		logger().Warn("expected object at path", "path", sel.Path, "strategy", "flat_object")
		return frame.New()
	}

	if sel.FlattenNested {
		sep := sel.FlattenSeparator
		if sep == "" {
			sep = "_"
		}
		obj = flattenObject(obj, sep, "")
	} else {
		obj = stringifyNested(obj)
	}
	if len(sel.Fields) > 0 {
		obj = selectFields(obj, sel.Fields)
	}
	return frame.FromRecords([]map[string]any{obj})
}

// headersData navigates to an object carrying a headers list and a rows
// list and builds a frame from them. Short rows pad with null; long rows
// truncate with a warning.
func headersData(data any, sel *profile.Select) *frame.Frame {
	v, ok := jsonpath.Get(data, sel.Path)
	if !ok {
		logger().Warn("no data at path", "path", sel.Path, "strategy", "headers_data")
		return frame.New()
	}
	obj, ok := v.(map[string]any)
	if !ok {
		logger().Warn("expected object at path", "path", sel.Path, "strategy", "headers_data")
		return frame.New()
	}

	headers := resolveHeaders(obj, sel)
	if len(headers) == 0 {
		logger().Warn("no headers resolved", "path", sel.Path)
		return frame.New()
	}
	rows := resolveRows(obj, sel.DataKey)
	if len(rows) == 0 {
		cols := make([][]any, len(headers))
		return frame.FromColumns(headers, cols)
	}

	truncated := 0
	cols := make([][]any, len(headers))
	for i := range cols {
		cols[i] = make([]any, len(rows))
	}
	for r, row := range rows {
		if len(row) > len(headers) {
			truncated++
		}
		for c := range headers {
			if c < len(row) {
				cols[c][r] = row[c]
			}
		}
	}
	if truncated > 0 {
		logger().Warn("rows longer than header truncated", "path", sel.Path, "rows", truncated)
	}
	return frame.FromColumns(headers, cols)
}

func resolveHeaders(obj map[string]any, sel *profile.Select) []string {
	if sel.HeadersKey != "" {
		if raw, ok := obj[sel.HeadersKey].([]any); ok {
			headers := make([]string, len(raw))
			for i, h := range raw {
				headers[i] = frame.AsString(h)
			}
			return headers
		}
	}
	if sel.InferHeaders {
		if rows := resolveRows(obj, sel.DataKey); len(rows) > 0 {
			headers := make([]string, len(rows[0]))
			for i := range headers {
				headers[i] = fmt.Sprintf("col_%d", i)
			}
			return headers
		}
	}
	return sel.DefaultHeaders
}

// resolveRows normalizes every row to a value slice. Object rows
// contribute values ordered by sorted key so frames built from parsed JSON
// stay deterministic.
func resolveRows(obj map[string]any, dataKey string) [][]any {
	if dataKey == "" {
		return nil
	}
	raw, ok := obj[dataKey].([]any)
	if !ok {
		return nil
	}
	rows := make([][]any, 0, len(raw))
	for _, item := range raw {
		switch row := item.(type) {
		case []any:
			rows = append(rows, row)
		case map[string]any:
			keys := make([]string, 0, len(row))
			for k := range row {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			values := make([]any, len(keys))
			for i, k := range keys {
				values[i] = row[k]
			}
			rows = append(rows, values)
		default:
			rows = append(rows, []any{item})
		}
	}
	return rows
}

// arrayOfObjects navigates to a list of objects; each becomes a row and
// the column set is the union of keys. Missing keys are null.
func arrayOfObjects(data any, sel *profile.Select) *frame.Frame {
	arr, ok := jsonpath.GetArray(data, sel.Path)
	if !ok {
		logger().Warn("no array at path", "path", sel.Path, "strategy", "array_of_objects")
		return frame.New()
	}
	if len(arr) == 0 {
		return frame.New()
	}

	records := make([]map[string]any, 0, len(arr))
	for _, item := range arr {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if len(sel.Fields) > 0 {
			obj = selectFields(obj, sel.Fields)
		}
		records = append(records, obj)
	}
	return frame.FromRecords(records)
}

// unpivot coerces the value at path to a frame and pivots wide-to-long
// using the declared id and value variables.
func unpivot(data any, sel *profile.Select) *frame.Frame {
	v, ok := jsonpath.Get(data, jsonpath.StripWildcard(sel.Path))
	if !ok {
		logger().Warn("no data at path", "path", sel.Path, "strategy", "unpivot")
		return frame.New()
	}
	f := coerceFrame(v)
	if f == nil {
		logger().Warn("expected list or object at path", "path", sel.Path, "strategy", "unpivot")
		return frame.New()
	}
	if f.IsEmpty() {
		return f
	}

	hasValueVar := false
	for _, vv := range sel.ValueVars {
		if f.HasColumn(vv) {
			hasValueVar = true
			break
		}
	}
	if !hasValueVar {
		logger().Warn("no value_vars columns found", "path", sel.Path)
		return f
	}
	return f.Unpivot(sel.IDVars, sel.ValueVars, sel.VarName, sel.ValueName)
}

// join extracts the left and right paths as frames and joins them on the
// declared keys. A missing key logs an error and returns the left frame
// unchanged.
func join(data any, sel *profile.Select) *frame.Frame {
	leftVal, ok := jsonpath.Get(data, jsonpath.StripWildcard(sel.Left.Path))
	if !ok {
		logger().Warn("no data at left path", "path", sel.Left.Path, "strategy", "join")
		return frame.New()
	}
	rightVal, ok := jsonpath.Get(data, jsonpath.StripWildcard(sel.Right.Path))
	if !ok {
		logger().Warn("no data at right path", "path", sel.Right.Path, "strategy", "join")
		return frame.New()
	}

	left := coerceFrame(leftVal)
	right := coerceFrame(rightVal)
	if left == nil || left.IsEmpty() {
		return frame.New()
	}
	if right == nil || right.IsEmpty() {
		return left
	}

	if !left.HasColumn(sel.Left.Key) {
		logger().Error("left join key not found", "key", sel.Left.Key)
		return left
	}
	if !right.HasColumn(sel.Right.Key) {
		logger().Error("right join key not found", "key", sel.Right.Key)
		return left
	}

	// Align key names before joining so the join never doubles the key
	// column.
	if sel.Left.Key != sel.Right.Key {
		right = right.Rename(map[string]string{sel.Right.Key: sel.Left.Key})
	}

	how := frame.JoinHow(sel.How)
	if how == "" {
		how = frame.JoinLeft
	}
	joined, err := left.Join(right, []string{sel.Left.Key}, how)
	if err != nil {
		logger().Error("join failed", "error", err)
		return left
	}
	return joined
}

// repeatOver iterates the base strategy over an array: for each element
// the index is substituted into the base path, the base strategy runs, the
// declared parent fields inject into every row, and the per-iteration
// frames concatenate diagonally in order.
func repeatOver(data any, sel *profile.Select, ctx filecontext.Context) (*frame.Frame, error) {
	ro := sel.RepeatOver
	arr, ok := jsonpath.GetArray(data, ro.Path)
	if !ok {
		logger().Warn("no array at repeat_over path", "path", ro.Path)
		return frame.New(), nil
	}
	if len(arr) == 0 {
		return frame.New(), nil
	}

	base := *sel
	base.RepeatOver = nil
	if base.Strategy == "repeat_over" || base.Strategy == "" {
		// The base strategy falls out of the declared fields: an explicit
		// headers/data pair means headers_data, anything else defaults
		// there too.
		base.Strategy = "headers_data"
	}

	var frames []*frame.Frame
	for i, element := range arr {
		iter := base
		iter.Path = jsonpath.SubstituteIndex(sel.Path, ro.AsVar, i)
		f, err := Extract(data, &iter, ctx)
		if err != nil {
			return nil, fmt.Errorf("repeat_over iteration %d: %w", i, err)
		}
		if f.IsEmpty() {
			continue
		}
		if parent, ok := element.(map[string]any); ok {
			for target, sourcePath := range ro.InjectFields {
				if value, found := jsonpath.Get(parent, normalizeInjectPath(sourcePath)); found {
					f = f.WithScalar(target, value)
				} else {
					f = f.WithScalar(target, nil)
				}
			}
		}
		frames = append(frames, f)
	}
	if len(frames) == 0 {
		return frame.New(), nil
	}
	return frame.ConcatDiagonal(frames...), nil
}

func normalizeInjectPath(path string) string {
	if strings.HasPrefix(path, "$") {
		return path
	}
	return "$." + path
}

// coerceFrame converts a list of objects or a single object into a frame.
func coerceFrame(v any) *frame.Frame {
	switch x := v.(type) {
	case []any:
		if len(x) == 0 {
			return frame.New()
		}
		records := make([]map[string]any, 0, len(x))
		for _, item := range x {
			if obj, ok := item.(map[string]any); ok {
				records = append(records, obj)
			}
		}
		return frame.FromRecords(records)
	case map[string]any:
		return frame.FromRecords([]map[string]any{x})
	default:
		return nil
	}
}

// flattenObject recursively flattens nested objects into compound keys.
// Arrays encode as JSON strings.
func flattenObject(obj map[string]any, sep, prefix string) map[string]any {
	out := map[string]any{}
	for key, value := range obj {
		name := key
		if prefix != "" {
			name = prefix + sep + key
		}
		switch v := value.(type) {
		case map[string]any:
			for k, fv := range flattenObject(v, sep, name) {
				out[k] = fv
			}
		case []any:
			out[name] = encodeJSON(v)
		default:
			out[name] = value
		}
	}
	return out
}

// stringifyNested encodes nested objects and arrays as JSON-string
// scalars.
func stringifyNested(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for key, value := range obj {
		switch v := value.(type) {
		case map[string]any, []any:
			out[key] = encodeJSON(v)
		default:
			out[key] = value
		}
	}
	return out
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func selectFields(obj map[string]any, fields []string) map[string]any {
	keep := map[string]bool{}
	for _, f := range fields {
		keep[f] = true
	}
	out := map[string]any{}
	for k, v := range obj {
		if keep[k] {
			out[k] = v
		}
	}
	return out
}
