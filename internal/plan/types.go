// Package plan builds the frozen plan artifacts that gate downstream
// generation: a lookup of filesystem roots and per-partition folders, a
// deduped request graph, and a manifest of SHA-1 hashes over canonical
// serializations. The same logical inputs always produce byte-identical
// hashes, independent of map iteration order, clocks, or transient state.
package plan

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// EnvironmentProfile configures the data source environment the plan is
// built against: filesystem roots plus the job-context taxonomy.
type EnvironmentProfile struct {
	ID        uuid.UUID    `json:"id"`
	Name      string       `json:"name"`
	Source    string       `json:"source"` // filesystem, adls, sql
	Roots     DataRoots    `json:"roots"`
	Contexts  []JobContext `json:"job_contexts"`
	PrimaryKey string      `json:"primary_job_context_key"`
}

// DataRoots holds the root paths the lookup expands.
type DataRoots struct {
	TemplatesRoot string `json:"templates_root"`
	OutputRoot    string `json:"output_root"`

	// DataAggRel is the relative path template expanded per job-context
	// value, e.g. "{run_key}/DataAgg/{category}".
	DataAggRel string `json:"dataagg_rel"`
}

// JobContext is one job-context dimension with its valid values and
// aliases.
type JobContext struct {
	Name    string            `json:"name"`
	Key     string            `json:"key"`
	Values  []string          `json:"values"`
	Aliases map[string]string `json:"aliases,omitempty"`
}

// Resolve maps a raw value through aliases onto a canonical value, or ""
// when unknown.
func (jc *JobContext) Resolve(value string) string {
	for _, v := range jc.Values {
		if v == value {
			return v
		}
	}
	return jc.Aliases[value]
}

// PrimaryContext returns the job context matching the primary key, or
// nil.
func (e *EnvironmentProfile) PrimaryContext() *JobContext {
	for i := range e.Contexts {
		if e.Contexts[i].Key == e.PrimaryKey {
			return &e.Contexts[i]
		}
	}
	return nil
}

// RequiredContext is one context dimension the downstream consumer
// requires.
type RequiredContext struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
}

// RequiredMetric is one metric the downstream consumer requires.
type RequiredMetric struct {
	Name        string `json:"name"`
	Aggregation string `json:"aggregation_type"`
}

// DRM is the derived requirements manifest: the external declaration of
// required metrics and contexts consumed by the plan builder.
type DRM struct {
	TemplateID       uuid.UUID         `json:"template_id"`
	RequiredContexts []RequiredContext `json:"required_contexts"`
	RequiredMetrics  []RequiredMetric  `json:"required_metrics"`
}

// ContextMapping binds a required context onto a source column or
// constant.
type ContextMapping struct {
	ContextName  string `json:"context_name"`
	SourceType   string `json:"source_type"` // column, constant, regex
	SourceColumn string `json:"source_column,omitempty"`
	Constant     string `json:"constant,omitempty"`
}

// MetricMapping binds a required metric onto a source column.
type MetricMapping struct {
	MetricName   string `json:"metric_name"`
	SourceColumn string `json:"source_column"`
	Aggregation  string `json:"aggregation_semantics,omitempty"`
	RenameTo     string `json:"rename_to,omitempty"`
}

// Mappings binds the DRM's requirements onto concrete data columns.
type Mappings struct {
	ProjectID uuid.UUID        `json:"project_id"`
	Contexts  []ContextMapping `json:"context_mappings"`
	Metrics   []MetricMapping  `json:"metrics_mappings"`
}

// Lookup holds the filesystem roots plus per-partition folder paths.
type Lookup struct {
	FSRoot            string            `json:"fs_root"`
	FSDataAgg         string            `json:"fs_dataagg"`
	JobContextFolders map[string]string `json:"job_context_folders"`
}

// Partition is one unit of downstream work, keyed by
// (run_key, job_context_value).
type Partition struct {
	RunKey          string   `json:"run_key"`
	JobContextValue string   `json:"job_context_value"`
	FilePaths       []string `json:"file_paths"`
	Deduped         bool     `json:"deduped"`
}

// Key returns the partition's identity.
func (p *Partition) Key() [2]string { return [2]string{p.RunKey, p.JobContextValue} }

// RequestGraph is the sorted, deduped list of partitions.
type RequestGraph struct {
	Partitions      []Partition `json:"partitions"`
	TotalPartitions int         `json:"total_partitions"`
	DedupedCount    int         `json:"deduped_count"`
}

// Add appends a partition and refreshes the count.
func (g *RequestGraph) Add(p Partition) {
	g.Partitions = append(g.Partitions, p)
	g.TotalPartitions = len(g.Partitions)
}

// Deduplicate collapses partitions sharing (run_key, job_context_value).
// The first occurrence survives; later occurrences are counted and
// dropped.
func (g *RequestGraph) Deduplicate() {
	seen := map[[2]string]bool{}
	kept := g.Partitions[:0]
	for _, p := range g.Partitions {
		if seen[p.Key()] {
			g.DedupedCount++
			continue
		}
		seen[p.Key()] = true
		kept = append(kept, p)
	}
	g.Partitions = kept
	g.TotalPartitions = len(g.Partitions)
}

// SortStable orders partitions lexicographically by
// (run_key, job_context_value).
func (g *RequestGraph) SortStable() {
	sort.SliceStable(g.Partitions, func(i, j int) bool {
		a, b := g.Partitions[i], g.Partitions[j]
		if a.RunKey != b.RunKey {
			return a.RunKey < b.RunKey
		}
		return a.JobContextValue < b.JobContextValue
	})
}

// Manifest pairs the five content hashes with the code version and freeze
// timestamp. FrozenAt is never itself hashed.
type Manifest struct {
	DRMSHA1          string    `json:"drm_sha1"`
	MappingsSHA1     string    `json:"mappings_sha1"`
	EnvironmentSHA1  string    `json:"environment_sha1"`
	LookupSHA1       string    `json:"lookup_sha1"`
	RequestGraphSHA1 string    `json:"request_graph_sha1"`
	CodeVersion      string    `json:"code_version"`
	FrozenAt         time.Time `json:"frozen_at"`
}

// Artifacts is the frozen triple plus identity.
type Artifacts struct {
	ID           uuid.UUID    `json:"id"`
	ProjectID    uuid.UUID    `json:"project_id"`
	Lookup       Lookup       `json:"lookup"`
	RequestGraph RequestGraph `json:"request_graph"`
	Manifest     Manifest     `json:"manifest"`
	CreatedAt    time.Time    `json:"created_at"`
}
