package discovery

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/granarydata/granary/internal/pipeline"
)

// WalkerConfig configures candidate file discovery.
type WalkerConfig struct {
	// Root is the directory to walk.
	Root string

	// IgnoreFile handles .granaryignore matching. Nil disables it.
	IgnoreFile Ignorer

	// Defaults handles built-in ignore patterns. Nil disables them.
	Defaults Ignorer

	// Filter applies include/exclude/extension filtering. Nil passes all.
	Filter *PatternFilter

	// SkipLargeFiles is the size threshold in bytes above which files are
	// skipped. Zero disables the check.
	SkipLargeFiles int64

	// HashContent enables XXH3 content hashing of each surviving file,
	// used for duplicate detection. Hashing runs in parallel workers.
	HashContent bool

	// SkipDuplicates drops files whose content hash was already seen.
	// Implies HashContent.
	SkipDuplicates bool

	// Concurrency bounds the parallel hashing workers. Defaults to
	// runtime.NumCPU().
	Concurrency int
}

// Walker enumerates candidate data files under a root, applying ignore
// rules, size limits, and pattern filters, then optionally hashing the
// survivors with bounded concurrency.
type Walker struct {
	logger *slog.Logger
}

// NewWalker returns a walker.
func NewWalker() *Walker {
	return &Walker{logger: slog.Default().With("component", "walker")}
}

// Walk discovers files under cfg.Root and returns them sorted by relative
// path, so downstream accumulation and hashing see a deterministic order
// regardless of filesystem iteration.
func (w *Walker) Walk(ctx context.Context, cfg WalkerConfig) (*pipeline.DiscoveryResult, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving root path %s: %w", cfg.Root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	hash := cfg.HashContent || cfg.SkipDuplicates

	composite := NewCompositeIgnorer(cfg.Defaults, cfg.IgnoreFile)
	result := &pipeline.DiscoveryResult{SkipReasons: map[string]int{}}
	var files []pipeline.FileDescriptor

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if walkErr != nil {
			w.logger.Debug("walk error", "path", path, "error", walkErr)
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		relPath = filepath.ToSlash(relPath)
		if relPath == "." {
			return nil
		}

		isDir := d.IsDir()
		if composite.IsIgnored(relPath, isDir) {
			if isDir {
				result.SkipReasons["ignored_dir"]++
				return fs.SkipDir
			}
			result.TotalFound++
			result.SkipReasons["ignored"]++
			return nil
		}
		if isDir {
			return nil
		}

		result.TotalFound++

		// Symlinks are skipped: a linked file either appears under the
		// root in its own right or is outside the discovery boundary.
		if d.Type()&os.ModeSymlink != 0 {
			result.SkipReasons["symlink"]++
			return nil
		}

		fileInfo, err := os.Stat(path)
		if err != nil {
			w.logger.Debug("stat error", "path", relPath, "error", err)
			result.SkipReasons["stat_error"]++
			return nil
		}
		if cfg.SkipLargeFiles > 0 && fileInfo.Size() > cfg.SkipLargeFiles {
			w.logger.Debug("large file skipped",
				"path", relPath,
				"size", fileInfo.Size(),
				"threshold", cfg.SkipLargeFiles,
			)
			result.SkipReasons["large_file"]++
			return nil
		}
		if cfg.Filter != nil && !cfg.Filter.Matches(relPath) {
			result.SkipReasons["filtered"]++
			return nil
		}

		files = append(files, pipeline.FileDescriptor{
			Path:    relPath,
			AbsPath: path,
			Size:    fileInfo.Size(),
		})
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walking %s: %w", root, walkErr)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	if hash && len(files) > 0 {
		if err := w.hashFiles(ctx, files, cfg.Concurrency); err != nil {
			return nil, err
		}
	}
	if cfg.SkipDuplicates {
		files = w.dropDuplicates(files, result)
	}

	result.Files = files
	result.TotalSkipped = result.TotalFound - len(files)
	w.logger.Debug("discovery complete",
		"found", result.TotalFound,
		"kept", len(files),
		"skipped", result.TotalSkipped,
	)
	return result, nil
}

// hashFiles computes XXH3 content hashes in parallel. Results land by
// index so ordering never depends on scheduling.
func (w *Walker) hashFiles(ctx context.Context, files []pipeline.FileDescriptor, concurrency int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	var mu sync.Mutex

	for i := range files {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			sum, err := hashFile(files[i].AbsPath)
			if err != nil {
				w.logger.Debug("hash error", "path", files[i].Path, "error", err)
				return nil
			}
			mu.Lock()
			files[i].ContentHash = sum
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func hashFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// dropDuplicates removes files whose content hash was already seen. Sorted
// input makes the survivor the lexicographically first path.
func (w *Walker) dropDuplicates(files []pipeline.FileDescriptor, result *pipeline.DiscoveryResult) []pipeline.FileDescriptor {
	seen := map[uint64]string{}
	kept := files[:0]
	for _, fd := range files {
		if fd.ContentHash != 0 {
			if first, dup := seen[fd.ContentHash]; dup {
				w.logger.Debug("duplicate content skipped", "path", fd.Path, "duplicate_of", first)
				result.SkipReasons["duplicate"]++
				continue
			}
			seen[fd.ContentHash] = fd.Path
		}
		kept = append(kept, fd)
	}
	return kept
}
