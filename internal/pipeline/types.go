// Package pipeline defines the data types shared across engine stages:
// discovery descriptors, extraction results, and process exit codes.
// Discovery, filtering, extraction, validation, and output building all
// exchange these DTOs.
//
// This package contains only data types and lightweight helpers; no
// business logic.
package pipeline

import (
	"github.com/granarydata/granary/internal/filecontext"
	"github.com/granarydata/granary/internal/frame"
)

// ExitCode represents the process exit code returned by the granary CLI.
type ExitCode int

const (
	// ExitSuccess indicates the run completed successfully.
	ExitSuccess ExitCode = 0

	// ExitError indicates a fatal error or an error-severity validation
	// outcome.
	ExitError ExitCode = 1

	// ExitPartial indicates partial success: some files failed processing
	// but results were still produced for the rest.
	ExitPartial ExitCode = 2
)

// FileDescriptor describes one candidate file as it flows from discovery
// into the executor:
//
//   - Discovery: sets Path, AbsPath, Size, ContentHash
//   - Profile filter: drops descriptors, never mutates them
//   - Executor: reads the file via its adapter
type FileDescriptor struct {
	// Path is the file path relative to the discovery root, using forward
	// slashes. Used for filtering and deterministic ordering.
	Path string `json:"path"`

	// AbsPath is the absolute filesystem path used for reading.
	AbsPath string `json:"abs_path"`

	// Size is the file size in bytes as reported by the filesystem.
	Size int64 `json:"size"`

	// ContentHash is the XXH3 hash of the file content, used for
	// duplicate detection across candidate sets. Zero when hashing was
	// disabled.
	ContentHash uint64 `json:"content_hash,omitempty"`
}

// IsValid reports whether the descriptor has the minimum required fields.
func (fd *FileDescriptor) IsValid() bool { return fd.Path != "" }

// DiscoveryResult holds the aggregate output of candidate discovery.
type DiscoveryResult struct {
	// Files is the slice of discovered descriptors that passed all
	// discovery-level criteria, sorted by path.
	Files []FileDescriptor `json:"files"`

	// TotalFound counts every file encountered before filtering.
	TotalFound int `json:"total_found"`

	// TotalSkipped counts files removed by discovery-level filters.
	TotalSkipped int `json:"total_skipped"`

	// SkipReasons maps each skip reason (e.g. "ignored", "large_file",
	// "duplicate") to the count of files skipped for it.
	SkipReasons map[string]int `json:"skip_reasons"`
}

// ExtractionResult bundles what one extraction pass produced: accumulated
// frames per table, the run-level context, per-image contexts, and the
// warnings gathered along the way. Contexts are never merged into the
// frames here; that is an explicit output-builder step.
type ExtractionResult struct {
	// Tables maps table id to its accumulated frame.
	Tables map[string]*frame.Frame `json:"-"`

	// RunContext is the context resolved for the run level.
	RunContext filecontext.Context `json:"run_context"`

	// ImageContexts maps image id to its per-image context.
	ImageContexts map[string]filecontext.Context `json:"image_contexts,omitempty"`

	// Warnings collects non-fatal findings: skipped files, missed
	// patterns, dropped tables.
	Warnings []string `json:"warnings,omitempty"`

	// FilesProcessed counts the files that contributed rows.
	FilesProcessed int `json:"files_processed"`

	// FilesSkipped counts the files dropped by context skip signals or
	// per-file errors.
	FilesSkipped int `json:"files_skipped"`
}

// TotalRows sums rows across all accumulated tables.
func (r *ExtractionResult) TotalRows() int {
	total := 0
	for _, f := range r.Tables {
		total += f.Height()
	}
	return total
}
