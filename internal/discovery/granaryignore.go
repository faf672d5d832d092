package discovery

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"
)

// ignoreFileName is the tool-specific ignore file honored at the
// discovery root. It uses gitignore pattern syntax.
const ignoreFileName = ".granaryignore"

// IgnoreFileMatcher loads and evaluates the root .granaryignore file so
// operators can exclude candidate files without touching profiles. A
// missing file yields a matcher that never ignores anything.
type IgnoreFileMatcher struct {
	matcher *gitignore.GitIgnore
	logger  *slog.Logger
}

// NewIgnoreFileMatcher loads .granaryignore from the root directory. A
// missing file is not an error; an unreadable one is.
func NewIgnoreFileMatcher(rootDir string) (*IgnoreFileMatcher, error) {
	logger := slog.Default().With("component", "granaryignore")

	path := filepath.Join(rootDir, ignoreFileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &IgnoreFileMatcher{logger: logger}, nil
	}

	compiled, err := gitignore.CompileIgnoreFile(path)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", path, err)
	}
	logger.Debug("ignore file loaded", "path", path)
	return &IgnoreFileMatcher{matcher: compiled, logger: logger}, nil
}

// IsIgnored reports whether the path matches the loaded ignore rules.
func (m *IgnoreFileMatcher) IsIgnored(path string, isDir bool) bool {
	if m.matcher == nil {
		return false
	}
	normalized := filepath.ToSlash(path)
	if isDir {
		normalized += "/"
	}
	return m.matcher.MatchesPath(normalized)
}

var _ Ignorer = (*IgnoreFileMatcher)(nil)
