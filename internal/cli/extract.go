// This file implements `granary extract`, the end-to-end extraction
// command: discover or accept candidate files, execute the profile, run
// validation, build outputs, and write them under the output root.
package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/granarydata/granary/internal/adapter"
	"github.com/granarydata/granary/internal/config"
	"github.com/granarydata/granary/internal/discovery"
	"github.com/granarydata/granary/internal/executor"
	"github.com/granarydata/granary/internal/output"
	"github.com/granarydata/granary/internal/pipeline"
	"github.com/granarydata/granary/internal/profile"
	"github.com/granarydata/granary/internal/validation"
)

var (
	extractTables  []string
	extractOutputs []string
	extractDryRun  bool
)

var extractCmd = &cobra.Command{
	Use:   "extract [file...]",
	Short: "Execute a profile over candidate files and write outputs",
	Long: `Extract runs the full pipeline: candidate files (given as arguments,
or discovered under the configured discovery root), the profile's file
filter, per-table extraction strategies, transforms, validation, and
output building. Outputs are written under the output root in each
output's declared format.

Examples:
  granary extract --profile profiles/metrology.yaml runs/*.json
  granary extract --profile profiles/metrology.yaml --dir /data/runs
  granary extract --profile p.yaml --table sites --output-id site_out`,
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringArrayVar(&extractTables, "table", nil, "restrict extraction to a table id (repeatable)")
	extractCmd.Flags().StringArrayVar(&extractOutputs, "output-id", nil, "restrict output building to an output id (repeatable)")
	extractCmd.Flags().BoolVar(&extractDryRun, "dry-run", false, "run extraction and validation without writing outputs")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	fv := GlobalFlags()
	cfg := Settings()

	if fv.ProfilePath == "" {
		return fmt.Errorf("--profile is required")
	}
	p, err := profile.Load(fv.ProfilePath)
	if err != nil {
		return err
	}

	files := args
	if len(files) == 0 {
		discovered, err := discoverCandidates(cmd, cfg)
		if err != nil {
			return err
		}
		files = discovered
	}
	if len(files) == 0 {
		return pipeline.NewError("no candidate files", nil)
	}

	ex := executor.New(adapter.NewDefaultRegistry())
	result, err := ex.Execute(cmd.Context(), p, files, executor.Options{
		SelectedTables:      extractTables,
		ValidateConcurrency: cfg.Concurrency,
	})
	if err != nil {
		return pipeline.NewError("extraction failed", err)
	}

	summary := validation.NewEngine().ValidateExtraction(result.Tables, p)
	fmt.Printf("extracted %d tables, %d rows from %d files (%d skipped)\n",
		len(result.Tables), result.TotalRows(), result.FilesProcessed, result.FilesSkipped)
	fmt.Printf("validation: %d errors, %d warnings\n", summary.ErrorCount(), summary.WarningCount())

	outputs := output.NewBuilder().BuildOutputs(result, p, output.DefaultContextOptions(), extractOutputs)
	if !extractDryRun {
		now := time.Now()
		for _, out := range append(append([]profile.Output{}, p.Outputs.Defaults...), p.Outputs.Optional...) {
			f, ok := outputs[out.ID]
			if !ok {
				continue
			}
			format := output.FormatOf(out)
			name := output.Filename(p, result.RunContext, out.ID, now)
			path := filepath.Join(cfg.Output.Root, name+"."+extOf(format))
			if err := output.WriteTable(f, path, format); err != nil {
				return pipeline.NewError(fmt.Sprintf("write output %s", out.ID), err)
			}
			fmt.Printf("wrote %s (%d rows)\n", path, f.Height())
		}
	}

	if !summary.Valid {
		return pipeline.NewError("validation reported errors", nil)
	}
	if result.FilesSkipped > 0 {
		return pipeline.NewPartialError(fmt.Sprintf("%d files skipped", result.FilesSkipped), nil)
	}
	return nil
}

// discoverCandidates walks the configured discovery root.
func discoverCandidates(cmd *cobra.Command, cfg *config.Settings) ([]string, error) {
	walker := discovery.NewWalker()
	ignoreFile, err := discovery.NewIgnoreFileMatcher(cfg.Discovery.Root)
	if err != nil {
		return nil, err
	}
	result, err := walker.Walk(cmd.Context(), discovery.WalkerConfig{
		Root:       cfg.Discovery.Root,
		Defaults:   discovery.NewDefaultIgnoreMatcher(),
		IgnoreFile: ignoreFile,
		Filter: discovery.NewPatternFilter(discovery.PatternFilterOptions{
			Includes:   cfg.Discovery.Include,
			Excludes:   cfg.Discovery.Exclude,
			Extensions: cfg.Discovery.Extensions,
		}),
		SkipLargeFiles: cfg.Discovery.SkipLargeFiles,
		SkipDuplicates: cfg.Discovery.SkipDuplicates,
		Concurrency:    cfg.Concurrency,
	})
	if err != nil {
		return nil, err
	}
	files := make([]string, len(result.Files))
	for i, fd := range result.Files {
		files[i] = fd.AbsPath
	}
	return files, nil
}

func extOf(format string) string {
	if format == "" {
		return "parquet"
	}
	return format
}
