// Package executor orchestrates a single extraction pass: pre-flight
// governance, access check, audit, file filtering, adapter loading,
// per-table strategy dispatch, transforms, and population. Per-file and
// per-table failures are recoverable; governance, access, and timeout
// failures abort the pass.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/granarydata/granary/internal/adapter"
	"github.com/granarydata/granary/internal/filecontext"
	"github.com/granarydata/granary/internal/frame"
	"github.com/granarydata/granary/internal/pipeline"
	"github.com/granarydata/granary/internal/population"
	"github.com/granarydata/granary/internal/profile"
	"github.com/granarydata/granary/internal/strategy"
	"github.com/granarydata/granary/internal/transform"
)

// Options shape one extraction pass.
type Options struct {
	// UserOverrides are context overrides, filtered by the profile's
	// allowlist.
	UserOverrides map[string]any

	// SelectedTables restricts extraction to the listed table ids. Empty
	// means every declared table.
	SelectedTables []string

	// Roles are the caller's roles for the access check.
	Roles []string

	// Caller identifies the caller in audit events.
	Caller string

	// ValidateConcurrency bounds the parallel pre-read validation
	// workers. Defaults to 4.
	ValidateConcurrency int
}

// Executor interprets profiles and produces extraction results.
type Executor struct {
	registry *adapter.Registry
	contexts *filecontext.Extractor
	logger   *slog.Logger
}

// New returns an executor over the given adapter registry.
func New(registry *adapter.Registry) *Executor {
	return &Executor{
		registry: registry,
		contexts: filecontext.NewExtractor(),
		logger:   slog.Default().With("component", "executor"),
	}
}

// Execute runs a full extraction pass over the given files, in the given
// order. Rows from the same file appear in source order; rows from
// different files appear in caller-supplied file order.
func (e *Executor) Execute(ctx context.Context, p *profile.Profile, files []string, opts Options) (*pipeline.ExtractionResult, error) {
	limits := limitsOf(p).Effective()

	if err := e.checkLimits(p, files, limits); err != nil {
		return nil, err
	}
	if err := e.checkAccess(p, "read", opts.Roles); err != nil {
		return nil, err
	}

	audit := p.Governance != nil && p.Governance.Audit != nil && p.Governance.Audit.LogAccess
	if audit {
		e.logger.Info("audit: extraction started",
			"profile_id", p.Meta.ProfileID,
			"files", len(files),
			"caller", opts.Caller,
		)
	}

	parseCtx, cancel := context.WithTimeout(ctx, time.Duration(limits.ParseTimeoutSeconds)*time.Second)
	defer cancel()

	filtered := profile.FilterFiles(files, p.Datasource.Filter)
	if len(filtered) < len(files) {
		e.logger.Info("file filter applied", "before", len(files), "after", len(filtered))
	}

	// Cheap pre-read validation runs in parallel; results are indexed so
	// ordering never depends on goroutine scheduling.
	warnings := e.preValidate(parseCtx, filtered, opts.ValidateConcurrency)

	result := &pipeline.ExtractionResult{
		Tables:        map[string]*frame.Frame{},
		ImageContexts: map[string]filecontext.Context{},
		Warnings:      warnings,
	}

	selected := map[string]bool{}
	for _, id := range opts.SelectedTables {
		selected[id] = true
	}

	for _, file := range filtered {
		if err := parseCtx.Err(); err != nil {
			return nil, e.timeoutOrCancel(ctx, err, "parse")
		}
		if err := e.processFile(parseCtx, p, file, opts, selected, result); err != nil {
			if errors.Is(err, filecontext.ErrSkipFile) {
				e.logger.Info("file skipped by context pattern", "file", file)
				result.Warnings = append(result.Warnings, fmt.Sprintf("skipped %s: required pattern", file))
				result.FilesSkipped++
				continue
			}
			if parseCtx.Err() != nil {
				return nil, e.timeoutOrCancel(ctx, parseCtx.Err(), "parse")
			}
			// Per-file errors are recoverable: log and continue.
			e.logger.Error("file processing failed", "file", file, "error", err)
			result.Warnings = append(result.Warnings, fmt.Sprintf("failed %s: %v", file, err))
			result.FilesSkipped++
			continue
		}
		result.FilesProcessed++
	}

	// Profile-level normalization and population run once over the
	// accumulated tables so multi-file accumulation cannot interleave
	// with filtering.
	tp := transform.NewPipeline(p.Normalization.UnitMappings)
	for id, f := range result.Tables {
		f = tp.Apply(f, p)
		if p.Population.DefaultStrategy != "" && p.Population.DefaultStrategy != "all" {
			params := p.Population.Strategies[p.Population.DefaultStrategy]
			f = population.Apply(f, p.Population.DefaultStrategy, params)
		}
		result.Tables[id] = f
	}

	if audit {
		e.logger.Info("audit: extraction completed",
			"profile_id", p.Meta.ProfileID,
			"tables", len(result.Tables),
			"rows", result.TotalRows(),
			"caller", opts.Caller,
		)
	}
	return result, nil
}

// processFile runs the per-file pipeline: adapter selection, document
// load, context resolution, and per-table strategy dispatch.
func (e *Executor) processFile(ctx context.Context, p *profile.Profile, file string, opts Options, selected map[string]bool, result *pipeline.ExtractionResult) error {
	a, err := e.selectAdapter(p, file)
	if err != nil {
		return err
	}

	doc, err := e.loadDocument(ctx, a, p, file)
	if err != nil {
		return err
	}

	fileCtx, ctxWarnings, err := e.contexts.Extract(p, file, doc, opts.UserOverrides)
	if err != nil {
		return err
	}
	result.Warnings = append(result.Warnings, ctxWarnings...)

	if result.RunContext == nil {
		result.RunContext = fileCtx
	}
	e.recordImageContext(p, fileCtx, result)

	tp := transform.NewPipeline(p.Normalization.UnitMappings)
	for _, lt := range p.AllTables() {
		if len(selected) > 0 && !selected[lt.Table.ID] {
			continue
		}
		f, err := strategy.Extract(doc, &lt.Table.Select, fileCtx)
		if err != nil {
			// Per-table errors are recoverable: log, skip the table for
			// this file.
			e.logger.Error("table extraction failed", "table_id", lt.Table.ID, "file", file, "error", err)
			result.Warnings = append(result.Warnings, fmt.Sprintf("table %s: %v", lt.Table.ID, err))
			continue
		}
		if f.IsEmpty() && f.Width() == 0 {
			continue
		}
		if len(lt.Table.ColumnTransforms) > 0 {
			f = tp.ApplyColumnTransforms(f, lt.Table.ColumnTransforms)
		}
		if existing, ok := result.Tables[lt.Table.ID]; ok {
			result.Tables[lt.Table.ID] = frame.ConcatDiagonal(existing, f)
		} else {
			result.Tables[lt.Table.ID] = f
		}
	}
	return nil
}

// selectAdapter prefers the datasource's declared format, falling back to
// extension inference on mismatch.
func (e *Executor) selectAdapter(p *profile.Profile, file string) (adapter.Adapter, error) {
	if format := p.Datasource.Format; format != "" {
		if a, err := e.registry.Get(format); err == nil {
			for _, ext := range a.Metadata().Extensions {
				if strings.EqualFold(ext, filepath.Ext(file)) {
					return a, nil
				}
			}
		}
	}
	return e.registry.SelectFor(file, "")
}

// loadDocument produces the nested value strategies navigate. Document
// formats parse natively; tabular formats wrap their records under a
// "data" key so table paths address them uniformly.
func (e *Executor) loadDocument(ctx context.Context, a adapter.Adapter, p *profile.Profile, file string) (any, error) {
	if dr, ok := a.(adapter.DocumentReader); ok {
		return dr.ReadDocument(ctx, file)
	}

	ropts := &adapter.ReadOptions{}
	dsOpts := p.Datasource.Options
	if dsOpts.CSV.Delimiter != "" {
		ropts.Delimiter = rune(dsOpts.CSV.Delimiter[0])
	}
	ropts.SkipRows = dsOpts.CSV.SkipRows
	ropts.NullValues = dsOpts.CSV.NullList
	ropts.SheetName = dsOpts.Excel.SheetName
	ropts.SheetIndex = dsOpts.Excel.SheetIndex

	f, _, err := a.ReadFrame(ctx, file, ropts)
	if err != nil {
		return nil, err
	}
	records := f.Records()
	rows := make([]any, len(records))
	for i, r := range records {
		rows[i] = r
	}
	return map[string]any{"data": rows}, nil
}

// recordImageContext stores the file's context under the image dimension
// when the profile declares an image-level context with a primary key.
func (e *Executor) recordImageContext(p *profile.Profile, fileCtx filecontext.Context, result *pipeline.ExtractionResult) {
	cc := p.ContextFor("image")
	if cc == nil || len(cc.PrimaryKeys) == 0 {
		return
	}
	key := cc.PrimaryKeys[0]
	if id, ok := fileCtx[key]; ok && id != nil {
		result.ImageContexts[frame.AsString(id)] = fileCtx.Clone()
	}
}

// preValidate runs cheap adapter validation over the files with bounded
// concurrency and returns warnings for invalid files. Validation findings
// never drop a file here; the read path surfaces hard failures itself.
func (e *Executor) preValidate(ctx context.Context, files []string, concurrency int) []string {
	if concurrency <= 0 {
		concurrency = 4
	}
	findings := make([]string, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, file := range files {
		g.Go(func() error {
			a, err := e.registry.SelectFor(file, "")
			if err != nil {
				return nil
			}
			res, err := a.ValidateFile(gctx, file)
			if err != nil || res == nil {
				return nil
			}
			if !res.Valid {
				findings[i] = fmt.Sprintf("validation: %s: %s", file, res.Issues[0].Message)
			}
			return nil
		})
	}
	_ = g.Wait()

	var warnings []string
	for _, f := range findings {
		if f != "" {
			warnings = append(warnings, f)
		}
	}
	return warnings
}

// Probe runs a schema probe for one file under the profile's preview
// timeout.
func (e *Executor) Probe(ctx context.Context, p *profile.Profile, file string) (*adapter.SchemaProbeResult, error) {
	limits := limitsOf(p).Effective()
	probeCtx, cancel := context.WithTimeout(ctx, time.Duration(limits.PreviewTimeoutSeconds)*time.Second)
	defer cancel()

	a, err := e.selectAdapter(p, file)
	if err != nil {
		return nil, err
	}
	res, err := a.ProbeSchema(probeCtx, file, nil)
	if err != nil && probeCtx.Err() != nil {
		return nil, e.timeoutOrCancel(ctx, probeCtx.Err(), "probe")
	}
	return res, err
}

// checkLimits computes file count, per-file size, cumulative size, and
// table count against the governance limits before any file is touched.
func (e *Executor) checkLimits(p *profile.Profile, files []string, limits profile.Limits) error {
	var violations []string

	if len(files) > limits.MaxFilesPerRun {
		violations = append(violations, fmt.Sprintf("file count %d exceeds limit %d", len(files), limits.MaxFilesPerRun))
	}

	var totalBytes int64
	maxFileBytes := int64(limits.MaxFileSizeMB) * 1024 * 1024
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		totalBytes += info.Size()
		if info.Size() > maxFileBytes {
			violations = append(violations, fmt.Sprintf("file %s (%d bytes) exceeds limit %d MB", filepath.Base(file), info.Size(), limits.MaxFileSizeMB))
		}
	}
	if totalBytes > int64(limits.MaxTotalSizeGB)*1024*1024*1024 {
		violations = append(violations, fmt.Sprintf("total size %d bytes exceeds limit %d GB", totalBytes, limits.MaxTotalSizeGB))
	}

	tableCount := len(p.AllTables())
	maxTables := limits.MaxTablesPerLevel * max(len(p.Levels), 1)
	if tableCount > maxTables {
		violations = append(violations, fmt.Sprintf("table count %d exceeds limit %d", tableCount, maxTables))
	}

	if len(violations) > 0 {
		for _, v := range violations {
			e.logger.Error("governance limit violation", "violation", v)
		}
		return &LimitExceededError{Violations: violations}
	}
	return nil
}

// checkAccess requires the caller's role set to intersect the allowed
// roles for the action. An absent access block means open access.
func (e *Executor) checkAccess(p *profile.Profile, action string, roles []string) error {
	if p.Governance == nil || p.Governance.Access == nil {
		return nil
	}
	var allowed []string
	switch action {
	case "read":
		allowed = p.Governance.Access.Read
	case "modify":
		allowed = p.Governance.Access.Modify
	case "delete":
		allowed = p.Governance.Access.Delete
	}
	if len(allowed) == 0 {
		return nil
	}
	for _, a := range allowed {
		if a == "all" {
			return nil
		}
		for _, r := range roles {
			if r == a {
				return nil
			}
		}
	}
	return &AccessDeniedError{Action: action, Allowed: allowed, Roles: roles}
}

// timeoutOrCancel distinguishes a profile deadline from caller
// cancellation: the former is a TimeoutError, the latter propagates as
// the context error so callers receive a cancelled signal.
func (e *Executor) timeoutOrCancel(callerCtx context.Context, err error, stage string) error {
	if callerCtx.Err() != nil {
		return fmt.Errorf("extraction cancelled: %w", callerCtx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Stage: stage}
	}
	return err
}

func limitsOf(p *profile.Profile) *profile.Limits {
	if p.Governance == nil {
		return nil
	}
	return p.Governance.Limits
}
