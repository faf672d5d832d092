package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func paths(t *testing.T, root string, cfg WalkerConfig) []string {
	t.Helper()
	cfg.Root = root
	result, err := NewWalker().Walk(context.Background(), cfg)
	require.NoError(t, err)
	var out []string
	for _, fd := range result.Files {
		out = append(out, fd.Path)
	}
	return out
}

func TestWalk_SortedDescriptors(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		"runs/b.json": `{"b":1}`,
		"runs/a.json": `{"a":1}`,
		"top.csv":     "x\n1\n",
	})

	got := paths(t, root, WalkerConfig{})
	assert.Equal(t, []string{"runs/a.json", "runs/b.json", "top.csv"}, got)
}

func TestWalk_DefaultIgnores(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		"data.csv":        "x\n",
		".git/config":     "x",
		"~$workbook.xlsx": "lock",
		"partial.part":    "x",
		".DS_Store":       "x",
	})

	got := paths(t, root, WalkerConfig{Defaults: NewDefaultIgnoreMatcher()})
	assert.Equal(t, []string{"data.csv"}, got)
}

func TestWalk_IgnoreFile(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		".granaryignore": "archive/\n*.bak\n",
		"keep.json":      `{}`,
		"archive/a.json": `{}`,
		"old.bak":        "x",
	})

	matcher, err := NewIgnoreFileMatcher(root)
	require.NoError(t, err)

	got := paths(t, root, WalkerConfig{IgnoreFile: matcher})
	assert.Equal(t, []string{".granaryignore", "keep.json"}, got)
}

func TestWalk_SizeThreshold(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		"small.csv": "ab\n",
		"big.csv":   "0123456789012345678901234567890123456789\n",
	})

	result, err := NewWalker().Walk(context.Background(), WalkerConfig{Root: root, SkipLargeFiles: 10})
	require.NoError(t, err)

	require.Len(t, result.Files, 1)
	assert.Equal(t, "small.csv", result.Files[0].Path)
	assert.Equal(t, 1, result.SkipReasons["large_file"])
}

func TestWalk_PatternFilter(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		"a.json": `{}`,
		"b.csv":  "x\n",
		"c.txt":  "x",
	})

	filter := NewPatternFilter(PatternFilterOptions{Extensions: []string{"json", "csv"}})
	got := paths(t, root, WalkerConfig{Filter: filter})
	assert.Equal(t, []string{"a.json", "b.csv"}, got)
}

func TestWalk_ContentHashingAndDuplicates(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		"a.json":      `{"same": true}`,
		"copy/a.json": `{"same": true}`,
		"b.json":      `{"other": true}`,
	})

	cfg := WalkerConfig{Root: root, SkipDuplicates: true}
	result, err := NewWalker().Walk(context.Background(), cfg)
	require.NoError(t, err)

	var got []string
	for _, fd := range result.Files {
		got = append(got, fd.Path)
		assert.NotZero(t, fd.ContentHash)
	}
	// Lexicographically first path survives.
	assert.Equal(t, []string{"a.json", "b.json"}, got)
	assert.Equal(t, 1, result.SkipReasons["duplicate"])
}

func TestWalk_RootErrors(t *testing.T) {
	t.Parallel()

	_, err := NewWalker().Walk(context.Background(), WalkerConfig{Root: "/nonexistent/root"})
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = NewWalker().Walk(context.Background(), WalkerConfig{Root: file})
	assert.Error(t, err)
}

func TestPatternFilter_Matches(t *testing.T) {
	t.Parallel()

	f := NewPatternFilter(PatternFilterOptions{
		Includes: []string{"runs/**/*.json"},
		Excludes: []string{"**/*_draft.json"},
	})

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"include matches", "runs/r1/data.json", true},
		{"exclude wins", "runs/r1/data_draft.json", false},
		{"outside include", "other/data.json", false},
		{"empty path", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, f.Matches(tt.path))
		})
	}

	assert.True(t, f.HasFilters())
	assert.False(t, NewPatternFilter(PatternFilterOptions{}).HasFilters())
}

func TestCompositeIgnorer_NilsSkipped(t *testing.T) {
	t.Parallel()

	c := NewCompositeIgnorer(nil, NewDefaultIgnoreMatcher(), nil)
	assert.Equal(t, 1, c.IgnorerCount())
	assert.True(t, c.IsIgnored(".DS_Store", false))
	assert.False(t, c.IsIgnored("data.csv", false))
}
