// Package jsonpath evaluates the JSONPath subset used by extraction
// profiles: `$` root, dot notation, bracket-indexed arrays, and the `[*]`
// wildcard. Evaluation is delegated to ojg; this package fixes the
// single-vs-multiple match semantics profiles rely on and provides the
// iteration-index substitution used by the repeat_over strategy.
package jsonpath

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ohler55/ojg/jp"
)

// identPattern restricts substitution variables to identifier-shaped names
// so a `{...}` occurring inside a literal path segment is never rewritten.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Get navigates to path and returns the value found there. A path of "$"
// or "" returns data unchanged. When the path matches multiple locations
// (wildcards) the result is a []any of every match; a single match returns
// the value itself. The boolean is false when nothing matched.
func Get(data any, path string) (any, bool) {
	if path == "" || path == "$" {
		return data, data != nil
	}
	expr, err := jp.ParseString(path)
	if err != nil {
		return nil, false
	}
	results := expr.Get(data)
	switch len(results) {
	case 0:
		return nil, false
	case 1:
		return results[0], true
	default:
		return results, true
	}
}

// GetArray navigates to a path that is expected to reference a literal
// array. A trailing "[*]" wildcard is stripped first so both spellings of
// an array reference resolve to the array itself.
func GetArray(data any, path string) ([]any, bool) {
	v, ok := Get(data, StripWildcard(path))
	if !ok {
		return nil, false
	}
	arr, ok := v.([]any)
	return arr, ok
}

// StripWildcard removes a trailing "[*]" from a path.
func StripWildcard(path string) string {
	return strings.TrimSuffix(path, "[*]")
}

// SubstituteIndex replaces every `{name}` occurrence in path with the
// decimal index. The variable name must be identifier-shaped; otherwise
// the path is returned unchanged.
func SubstituteIndex(path, name string, index int) string {
	if !identPattern.MatchString(name) {
		return path
	}
	return strings.ReplaceAll(path, "{"+name+"}", fmt.Sprintf("%d", index))
}

// Valid reports whether the path parses.
func Valid(path string) bool {
	if path == "" || path == "$" {
		return true
	}
	_, err := jp.ParseString(path)
	return err == nil
}
