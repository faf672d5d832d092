package discovery

import (
	"log/slog"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// DefaultIgnorePatterns contains the built-in ignore patterns discovery
// always applies. They follow gitignore syntax and cover version control
// metadata, editor droppings, Office lock files, and partial transfers —
// files that look like data candidates but never are.
var DefaultIgnorePatterns = []string{
	// Version control and tool directories
	".git/",
	".svn/",
	".granary/",

	// Office lock files and temporaries
	"~$*",
	"*.tmp",
	"*.temp",
	"*.bak",
	"*.swp",

	// Partial transfers
	"*.part",
	"*.crdownload",
	"*.download",

	// OS metadata
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
}

// DefaultIgnoreMatcher compiles DefaultIgnorePatterns into an Ignorer.
type DefaultIgnoreMatcher struct {
	matcher *gitignore.GitIgnore
	logger  *slog.Logger
}

// NewDefaultIgnoreMatcher compiles the default patterns. It cannot fail:
// the patterns are compile-time constants.
func NewDefaultIgnoreMatcher() *DefaultIgnoreMatcher {
	return &DefaultIgnoreMatcher{
		matcher: gitignore.CompileIgnoreLines(DefaultIgnorePatterns...),
		logger:  slog.Default().With("component", "default-ignore"),
	}
}

// IsIgnored reports whether the path matches any default ignore pattern.
func (d *DefaultIgnoreMatcher) IsIgnored(path string, isDir bool) bool {
	normalized := strings.TrimPrefix(filepath.ToSlash(path), "./")
	if normalized == "" || normalized == "." {
		return false
	}
	if isDir && !strings.HasSuffix(normalized, "/") {
		normalized += "/"
	}
	if d.matcher.MatchesPath(normalized) {
		d.logger.Debug("path matched default ignore", "path", normalized)
		return true
	}
	return false
}

// PatternCount returns the number of default ignore patterns.
func (d *DefaultIgnoreMatcher) PatternCount() int {
	return len(DefaultIgnorePatterns)
}

var _ Ignorer = (*DefaultIgnoreMatcher)(nil)
