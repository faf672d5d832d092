package profile

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/granarydata/granary/internal/frame"
)

// IsGroup reports whether the node combines children with a logical
// operator rather than testing a field.
func (n *FilterNode) IsGroup() bool {
	return n.Type == "group" || len(n.Children) > 0
}

// MatchFile evaluates the predicate tree against one candidate file. A nil
// tree passes every file. String comparisons are case-insensitive unless
// the predicate sets case: sensitive.
func (n *FilterNode) MatchFile(path string) bool {
	if n == nil {
		return true
	}
	if n.IsGroup() {
		return n.matchGroup(path)
	}
	return n.matchPredicate(path)
}

// FilterFiles returns the candidates accepted by the tree, preserving
// order.
func FilterFiles(files []string, node *FilterNode) []string {
	if node == nil {
		return files
	}
	var out []string
	for _, f := range files {
		if node.MatchFile(f) {
			out = append(out, f)
		}
	}
	return out
}

func (n *FilterNode) matchGroup(path string) bool {
	op := strings.ToUpper(n.Op)
	if len(n.Children) == 0 {
		return true
	}
	switch op {
	case "", "AND":
		for _, child := range n.Children {
			if !child.MatchFile(path) {
				return false
			}
		}
		return true
	case "OR":
		for _, child := range n.Children {
			if child.MatchFile(path) {
				return true
			}
		}
		return false
	case "NOT":
		// NOT applies to the first child only.
		return !n.Children[0].MatchFile(path)
	default:
		slog.Default().With("component", "file-filter").Warn("unknown group op", "op", n.Op)
		return true
	}
}

func (n *FilterNode) matchPredicate(path string) bool {
	fieldValue, ok := filterFieldValue(path, n.Field)
	if !ok {
		return false
	}

	value := n.Value
	if s, isStr := fieldValue.(string); isStr {
		if vs, vIsStr := value.(string); vIsStr && !strings.EqualFold(n.Case, "sensitive") {
			fieldValue = strings.ToLower(s)
			value = strings.ToLower(vs)
		}
	}

	switch n.Op {
	case "", "equals":
		return frame.AsString(fieldValue) == frame.AsString(value)
	case "not_equals":
		return frame.AsString(fieldValue) != frame.AsString(value)
	case "contains":
		return strings.Contains(frame.AsString(fieldValue), frame.AsString(value))
	case "startswith":
		return strings.HasPrefix(frame.AsString(fieldValue), frame.AsString(value))
	case "endswith":
		return strings.HasSuffix(frame.AsString(fieldValue), frame.AsString(value))
	case "matches":
		pattern := frame.AsString(n.Value)
		if !strings.EqualFold(n.Case, "sensitive") {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(frame.AsString(fieldValue))
	case "gt":
		return frame.Compare(fieldValue, value) > 0
	case "gte":
		return frame.Compare(fieldValue, value) >= 0
	case "lt":
		return frame.Compare(fieldValue, value) < 0
	case "lte":
		return frame.Compare(fieldValue, value) <= 0
	case "in":
		for _, v := range n.Values {
			if equalsFold(fieldValue, v, n.Case) {
				return true
			}
		}
		return false
	case "not_in":
		for _, v := range n.Values {
			if equalsFold(fieldValue, v, n.Case) {
				return false
			}
		}
		return true
	default:
		slog.Default().With("component", "file-filter").Warn("unknown predicate op", "op", n.Op)
		return true
	}
}

func equalsFold(fieldValue, v any, caseMode string) bool {
	a, b := frame.AsString(fieldValue), frame.AsString(v)
	if strings.EqualFold(caseMode, "sensitive") {
		return a == b
	}
	return strings.EqualFold(a, b)
}

// filterFieldValue resolves a predicate field against a file path. Size and
// modified_date come from the filesystem; a stat failure fails the
// predicate.
func filterFieldValue(path, field string) (any, bool) {
	switch field {
	case "", "filename":
		return filepath.Base(path), true
	case "extension":
		return filepath.Ext(path), true
	case "path":
		return filepath.Dir(path), true
	case "full_path":
		return path, true
	case "size":
		info, err := os.Stat(path)
		if err != nil {
			return nil, false
		}
		return info.Size(), true
	case "modified_date":
		info, err := os.Stat(path)
		if err != nil {
			return nil, false
		}
		return info.ModTime().Format(time.RFC3339), true
	default:
		return nil, false
	}
}
