package discovery

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// PatternFilter applies include, exclude, and extension-based filtering to
// candidate paths during discovery. The profile's predicate tree runs
// later; this filter is the cheap discovery-level cut.
//
// Filtering rules:
//   - With no include patterns or extension filters, all files pass.
//   - Include patterns and extension filters combine with OR: a file must
//     match at least one of either to be kept.
//   - Exclude patterns win over includes.
//   - Extension matching is case-insensitive.
//   - Patterns use doublestar syntax (e.g. "**/*.parquet").
type PatternFilter struct {
	includes   []string
	excludes   []string
	extensions []string // normalized to lowercase, without leading dot
	logger     *slog.Logger
}

// PatternFilterOptions configures a new PatternFilter.
type PatternFilterOptions struct {
	// Includes is a list of doublestar glob patterns. If any are set, only
	// files matching at least one pattern (or one extension) are kept.
	Includes []string

	// Excludes is a list of doublestar glob patterns. Matching files are
	// removed regardless of include matches.
	Excludes []string

	// Extensions is a list of file extensions without leading dots,
	// case-insensitive.
	Extensions []string
}

// NewPatternFilter builds a filter from the options. Inputs are copied so
// callers cannot mutate the filter afterwards.
func NewPatternFilter(opts PatternFilterOptions) *PatternFilter {
	extensions := make([]string, len(opts.Extensions))
	for i, ext := range opts.Extensions {
		extensions[i] = strings.ToLower(strings.TrimLeft(ext, "."))
	}

	includes := make([]string, len(opts.Includes))
	copy(includes, opts.Includes)
	excludes := make([]string, len(opts.Excludes))
	copy(excludes, opts.Excludes)

	return &PatternFilter{
		includes:   includes,
		excludes:   excludes,
		extensions: extensions,
		logger:     slog.Default().With("component", "pattern-filter"),
	}
}

// Matches reports whether the path (relative, forward slashes) passes the
// filter.
func (f *PatternFilter) Matches(path string) bool {
	normalized := strings.TrimPrefix(filepath.ToSlash(path), "./")
	if normalized == "" {
		return false
	}

	for _, pattern := range f.excludes {
		matched, err := doublestar.Match(pattern, normalized)
		if err != nil {
			f.logger.Debug("invalid exclude pattern", "pattern", pattern, "error", err)
			continue
		}
		if matched {
			return false
		}
	}

	if len(f.includes) == 0 && len(f.extensions) == 0 {
		return true
	}

	for _, pattern := range f.includes {
		matched, err := doublestar.Match(pattern, normalized)
		if err != nil {
			f.logger.Debug("invalid include pattern", "pattern", pattern, "error", err)
			continue
		}
		if matched {
			return true
		}
	}

	if len(f.extensions) > 0 {
		ext := strings.ToLower(strings.TrimLeft(filepath.Ext(normalized), "."))
		for _, want := range f.extensions {
			if ext == want {
				return true
			}
		}
	}
	return false
}

// HasFilters reports whether any filter criteria are configured.
func (f *PatternFilter) HasFilters() bool {
	return len(f.includes) > 0 || len(f.excludes) > 0 || len(f.extensions) > 0
}
