package discovery

import (
	"log/slog"
)

// Ignorer is the interface for ignore-pattern matchers applied during
// candidate discovery. Each implementation evaluates whether a path should
// be excluded before the profile filter ever sees it. Paths are relative
// to the discovery root, using forward slashes; isDir enables
// directory-only patterns.
type Ignorer interface {
	IsIgnored(path string, isDir bool) bool
}

// CompositeIgnorer chains multiple Ignorer implementations and ignores a
// path when ANY source matches. The walker chains the built-in defaults
// first, then the .granaryignore matcher; include and exclude patterns are
// applied separately by PatternFilter.
type CompositeIgnorer struct {
	ignorers []Ignorer
	logger   *slog.Logger
}

// NewCompositeIgnorer chains the provided ignorers. Nil entries are
// silently skipped.
func NewCompositeIgnorer(ignorers ...Ignorer) *CompositeIgnorer {
	filtered := make([]Ignorer, 0, len(ignorers))
	for _, ig := range ignorers {
		if ig != nil {
			filtered = append(filtered, ig)
		}
	}
	return &CompositeIgnorer{
		ignorers: filtered,
		logger:   slog.Default().With("component", "composite-ignorer"),
	}
}

// IsIgnored reports whether any chained ignorer matches the path.
func (c *CompositeIgnorer) IsIgnored(path string, isDir bool) bool {
	for _, ig := range c.ignorers {
		if ig.IsIgnored(path, isDir) {
			return true
		}
	}
	return false
}

// IgnorerCount returns the number of active ignorers in the chain.
func (c *CompositeIgnorer) IgnorerCount() int {
	return len(c.ignorers)
}

var _ Ignorer = (*CompositeIgnorer)(nil)
