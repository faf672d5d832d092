// Package output combines extracted tables into named outputs: diagonal
// concatenation per output declaration, context application, aggregations,
// joins, templated filenames, and table writers for parquet, csv, and
// xlsx. Context merging happens here and nowhere else, toggled by the
// caller.
package output

import (
	"log/slog"
	"sort"

	"github.com/granarydata/granary/internal/frame"
	"github.com/granarydata/granary/internal/pipeline"
	"github.com/granarydata/granary/internal/profile"
)

// ContextOptions toggle the deliberate merge of contexts into output
// frames.
type ContextOptions struct {
	// IncludeRunContext adds run-context columns whose keys are not
	// already present. Defaults to true via DefaultContextOptions.
	IncludeRunContext bool

	// IncludeImageContext left-joins image contexts onto frames carrying
	// an image_id column. Defaults to false.
	IncludeImageContext bool

	// RunContextKeys whitelists the run-context keys to add. Empty means
	// all.
	RunContextKeys []string

	// ImageContextKeys whitelists the image-context keys to join. Empty
	// means all.
	ImageContextKeys []string
}

// DefaultContextOptions returns the documented defaults.
func DefaultContextOptions() ContextOptions {
	return ContextOptions{IncludeRunContext: true}
}

// imageIDColumn is the frame column image contexts join on.
const imageIDColumn = "image_id"

// Builder composes outputs from an extraction result.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder returns an output builder.
func NewBuilder() *Builder {
	return &Builder{logger: slog.Default().With("component", "output-builder")}
}

// BuildOutputs builds the named output map: declared outputs (default and
// optional), aggregations, then joins. A selected whitelist restricts
// which declarations run. Empty results are omitted.
func (b *Builder) BuildOutputs(result *pipeline.ExtractionResult, p *profile.Profile, opts ContextOptions, selected []string) map[string]*frame.Frame {
	selectedSet := map[string]bool{}
	for _, id := range selected {
		selectedSet[id] = true
	}
	wanted := func(id string) bool {
		return len(selectedSet) == 0 || selectedSet[id]
	}

	outputs := map[string]*frame.Frame{}

	for _, out := range append(append([]profile.Output{}, p.Outputs.Defaults...), p.Outputs.Optional...) {
		if !wanted(out.ID) {
			continue
		}
		f := b.combineTables(out, result.Tables)
		if f.IsEmpty() && f.Width() == 0 {
			continue
		}
		f = b.applyContext(f, result, opts)
		outputs[out.ID] = f
	}

	for _, agg := range p.Outputs.Aggregations {
		if !wanted(agg.ID) {
			continue
		}
		f := b.buildAggregation(agg, result.Tables)
		if f == nil || f.IsEmpty() {
			continue
		}
		id := agg.OutputTable
		if id == "" {
			id = agg.ID
		}
		outputs[id] = f
	}

	for _, j := range p.Outputs.Joins {
		if !wanted(j.ID) {
			continue
		}
		f := b.buildJoin(j, result.Tables)
		if f == nil || f.IsEmpty() {
			continue
		}
		outputs[j.ID] = f
	}

	return outputs
}

// combineTables diagonally concatenates the declared source tables.
func (b *Builder) combineTables(out profile.Output, tables map[string]*frame.Frame) *frame.Frame {
	var frames []*frame.Frame
	for _, id := range out.FromTables {
		if f, ok := tables[id]; ok {
			frames = append(frames, f)
		} else {
			b.logger.Debug("table not found for output", "output_id", out.ID, "table_id", id)
		}
	}
	if len(frames) == 0 {
		return frame.New()
	}
	return frame.ConcatDiagonal(frames...)
}

// applyContext adds run-context columns not already present and, when
// enabled, left-joins image contexts via the image_id column.
func (b *Builder) applyContext(f *frame.Frame, result *pipeline.ExtractionResult, opts ContextOptions) *frame.Frame {
	if opts.IncludeRunContext && len(result.RunContext) > 0 {
		keys := contextKeys(result.RunContext, opts.RunContextKeys)
		for _, key := range keys {
			if !f.HasColumn(key) {
				f = f.WithScalar(key, result.RunContext[key])
			}
		}
	}

	if opts.IncludeImageContext && len(result.ImageContexts) > 0 && f.HasColumn(imageIDColumn) {
		f = b.joinImageContext(f, result, opts.ImageContextKeys)
	}
	return f
}

func (b *Builder) joinImageContext(f *frame.Frame, result *pipeline.ExtractionResult, whitelist []string) *frame.Frame {
	// Collect the union of context keys across images, in sorted order.
	keySet := map[string]bool{}
	for _, ctx := range result.ImageContexts {
		for k := range ctx {
			keySet[k] = true
		}
	}
	var keys []string
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(whitelist) > 0 {
		allowed := map[string]bool{}
		for _, k := range whitelist {
			allowed[k] = true
		}
		var filtered []string
		for _, k := range keys {
			if allowed[k] {
				filtered = append(filtered, k)
			}
		}
		keys = filtered
	}

	ids, _ := f.Column(imageIDColumn)
	for _, key := range keys {
		if f.HasColumn(key) {
			continue
		}
		col := make([]any, len(ids))
		for i, id := range ids {
			if id == nil {
				continue
			}
			if ctx, ok := result.ImageContexts[frame.AsString(id)]; ok {
				col[i] = ctx[key]
			}
		}
		f = f.WithColumn(key, col)
	}
	return f
}

// buildAggregation groups the source table and computes the declared
// functions. Function names map onto the frame's aggregation set;
// unknown functions are skipped with a warning.
func (b *Builder) buildAggregation(agg profile.Aggregation, tables map[string]*frame.Frame) *frame.Frame {
	src, ok := tables[agg.FromTable]
	if !ok {
		b.logger.Warn("aggregation source table not found", "aggregation_id", agg.ID, "table_id", agg.FromTable)
		return nil
	}

	cols := make([]string, 0, len(agg.Functions))
	for col := range agg.Functions {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var aggs []frame.Agg
	for _, col := range cols {
		fn := frame.AggFunc(agg.Functions[col])
		switch fn {
		case frame.AggMean, frame.AggSum, frame.AggMin, frame.AggMax,
			frame.AggCount, frame.AggStd, frame.AggMedian, frame.AggFirst, frame.AggLast:
			aggs = append(aggs, frame.Agg{Col: col, Func: fn})
		default:
			b.logger.Warn("unknown aggregation function", "function", string(fn), "column", col)
		}
	}
	if len(aggs) == 0 {
		return nil
	}

	out, err := src.GroupBy(agg.GroupBy, aggs)
	if err != nil {
		b.logger.Warn("aggregation failed", "aggregation_id", agg.ID, "error", err)
		return nil
	}
	return out
}

// buildJoin joins two extracted tables, dropping join keys absent from
// either side. A missing right table returns the left unchanged.
func (b *Builder) buildJoin(j profile.JoinOutput, tables map[string]*frame.Frame) *frame.Frame {
	left, ok := tables[j.LeftTable]
	if !ok {
		b.logger.Warn("join left table not found", "join_id", j.ID, "table_id", j.LeftTable)
		return nil
	}
	right, ok := tables[j.RightTable]
	if !ok {
		b.logger.Warn("join right table not found", "join_id", j.ID, "table_id", j.RightTable)
		return left
	}

	var on []string
	for _, key := range j.On {
		if left.HasColumn(key) && right.HasColumn(key) {
			on = append(on, key)
		}
	}
	if len(on) == 0 {
		b.logger.Warn("no valid join keys", "join_id", j.ID)
		return left
	}

	how := frame.JoinHow(j.How)
	if how == "" {
		how = frame.JoinLeft
	}
	out, err := left.Join(right, on, how)
	if err != nil {
		b.logger.Warn("join failed", "join_id", j.ID, "error", err)
		return left
	}
	return out
}

// FormatOf resolves an output's file format, defaulting to parquet.
func FormatOf(out profile.Output) string {
	if out.Format == "" {
		return "parquet"
	}
	return out.Format
}

// CombineAll concatenates every extracted table into one frame with a
// table id marker column, used by preview surfaces.
func (b *Builder) CombineAll(tables map[string]*frame.Frame) *frame.Frame {
	ids := make([]string, 0, len(tables))
	for id := range tables {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var frames []*frame.Frame
	for _, id := range ids {
		f := tables[id]
		if f.IsEmpty() {
			continue
		}
		frames = append(frames, f.WithScalar("__table_id__", id))
	}
	if len(frames) == 0 {
		return frame.New()
	}
	return frame.ConcatDiagonal(frames...)
}
