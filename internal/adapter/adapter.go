// Package adapter defines the four-operation file adapter contract and the
// registry that selects adapters by extension or MIME type. Adapters probe
// schemas in bounded time, read bounded frames, stream large files in
// chunks, and run cheap pre-read validation. All operations accept a
// context and honor cancellation between units of work.
package adapter

import (
	"context"
	"time"

	"github.com/granarydata/granary/internal/frame"
)

// Adapter is the contract every file format adapter implements. Adapters
// are stateless; a single instance serves concurrent callers.
type Adapter interface {
	// Metadata describes the adapter for registry selection and listings.
	Metadata() Metadata

	// ProbeSchema discovers the file's schema in O(sample) time regardless
	// of file size.
	ProbeSchema(ctx context.Context, path string, opts *ReadOptions) (*SchemaProbeResult, error)

	// ReadFrame materializes the file (or a bounded slice of it) into a
	// frame plus read metadata.
	ReadFrame(ctx context.Context, path string, opts *ReadOptions) (*frame.Frame, *ReadResult, error)

	// StreamFrame opens a finite, non-restartable chunk stream. Formats
	// without streaming support fail with StreamingNotSupported.
	StreamFrame(ctx context.Context, path string, opts *StreamOptions) (Stream, error)

	// ValidateFile runs cheap checks (existence, emptiness, format header)
	// and returns severity-tagged issues without reading the whole file.
	ValidateFile(ctx context.Context, path string) (*FileValidationResult, error)
}

// DocumentReader is implemented by adapters whose native representation is
// a nested document rather than a table. The executor prefers it when
// loading source data for extraction strategies.
type DocumentReader interface {
	// ReadDocument parses the file into a nested value (maps, slices,
	// scalars) suitable for JSONPath navigation.
	ReadDocument(ctx context.Context, path string) (any, error)
}

// Stream yields frame chunks in offset order. Next returns io.EOF after
// the terminal chunk. Close releases the underlying reader and is safe to
// call more than once.
type Stream interface {
	Next(ctx context.Context) (*frame.Frame, *StreamChunk, error)
	Close() error
}

// Metadata describes an adapter for registration and selection.
type Metadata struct {
	ID           string
	Name         string
	Version      string
	Extensions   []string
	MIMETypes    []string
	Capabilities Capabilities
	Description  string
}

// Capabilities records what an adapter can do, surfaced in registry
// listings so callers can pick operations the format supports.
type Capabilities struct {
	Streaming       bool
	SchemaInference bool
	ColumnSelection bool
	MultipleSheets  bool
}

// ReadOptions bound and shape a read or probe. The zero value means "read
// everything with defaults".
type ReadOptions struct {
	// Columns, when set, restricts the frame to these columns.
	Columns []string

	// ExcludeColumns removes columns after any selection.
	ExcludeColumns []string

	// RowLimit caps the number of data rows returned; 0 means unlimited.
	RowLimit int

	// SkipRows skips leading data rows before the limit applies.
	SkipRows int

	// NullValues are string cell values treated as null on read.
	NullValues []string

	// InferSchemaRows caps the sample used for schema inference.
	// Defaults to 1000.
	InferSchemaRows int

	// Delimiter overrides CSV delimiter detection when non-zero.
	Delimiter rune

	// SheetName selects an Excel sheet by name.
	SheetName string

	// SheetIndex selects an Excel sheet by zero-based index when SheetName
	// is empty. Nil means the first sheet.
	SheetIndex *int
}

func (o *ReadOptions) orDefault() *ReadOptions {
	if o == nil {
		return &ReadOptions{InferSchemaRows: defaultInferRows}
	}
	out := *o
	if out.InferSchemaRows <= 0 {
		out.InferSchemaRows = defaultInferRows
	}
	return &out
}

// StreamOptions shape a chunked stream.
type StreamOptions struct {
	// ChunkSizeRows is the target rows per chunk. Defaults to 10000.
	ChunkSizeRows int

	// Columns, when set, restricts each chunk to these columns.
	Columns []string

	// Delimiter overrides CSV delimiter detection when non-zero.
	Delimiter rune
}

func (o *StreamOptions) orDefault() *StreamOptions {
	if o == nil {
		return &StreamOptions{ChunkSizeRows: defaultChunkRows}
	}
	out := *o
	if out.ChunkSizeRows <= 0 {
		out.ChunkSizeRows = defaultChunkRows
	}
	return &out
}

const (
	defaultInferRows = 1000
	defaultChunkRows = 10000

	// largeFileThreshold is the size above which validation attaches a
	// LARGE_FILE warning.
	largeFileThreshold = 500 * 1024 * 1024

	// exactCountThreshold bounds the file size for which probes compute
	// exact row counts on formats that require a full scan.
	exactCountThreshold = 10 * 1024 * 1024
)

// ColumnInfo describes one probed column.
type ColumnInfo struct {
	Name          string      `json:"name"`
	Position      int         `json:"position"`
	InferredType  frame.DType `json:"inferred_type"`
	Nullable      bool        `json:"nullable"`
	SampleValues  []any       `json:"sample_values"`
	NullCount     int         `json:"null_count"`
	DistinctCount int         `json:"distinct_count_estimate"`
}

// SchemaProbeResult is the outcome of a schema probe.
type SchemaProbeResult struct {
	FilePath          string        `json:"file_path"`
	FileSizeBytes     int64         `json:"file_size_bytes"`
	AdapterID         string        `json:"adapter_id"`
	Columns           []ColumnInfo  `json:"columns"`
	RowCountEstimate  int64         `json:"row_count_estimate"`
	RowCountExact     bool          `json:"row_count_exact"`
	EncodingDetected  string        `json:"encoding_detected,omitempty"`
	DelimiterDetected string        `json:"delimiter_detected,omitempty"`
	HasHeaderRow      bool          `json:"has_header_row"`
	Sheets            []string      `json:"sheets,omitempty"`
	ProbeDuration     time.Duration `json:"probe_duration"`
	SampleRowsRead    int           `json:"sample_rows_read"`
	Warnings          []string      `json:"warnings,omitempty"`
}

// ReadResult carries metadata about a completed read.
type ReadResult struct {
	FilePath     string        `json:"file_path"`
	AdapterID    string        `json:"adapter_id"`
	RowsRead     int           `json:"rows_read"`
	ColumnsRead  int           `json:"columns_read"`
	BytesRead    int64         `json:"bytes_read"`
	ReadDuration time.Duration `json:"read_duration"`
	WasTruncated bool          `json:"was_truncated"`
	Warnings     []string      `json:"warnings,omitempty"`
}

// StreamChunk carries metadata for one streamed chunk.
type StreamChunk struct {
	ChunkIndex      int           `json:"chunk_index"`
	RowsInChunk     int           `json:"rows_in_chunk"`
	TotalRowsSoFar  int64         `json:"total_rows_so_far"`
	IsLastChunk     bool          `json:"is_last_chunk"`
	ChunkDuration   time.Duration `json:"chunk_duration"`
}

// Severity tags a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationIssue is one finding from pre-read file validation.
type ValidationIssue struct {
	Severity   Severity `json:"severity"`
	Code       Code     `json:"code"`
	Message    string   `json:"message"`
	LineNumber int      `json:"line_number,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// FileValidationResult aggregates pre-read validation findings.
type FileValidationResult struct {
	FilePath     string            `json:"file_path"`
	AdapterID    string            `json:"adapter_id"`
	Valid        bool              `json:"valid"`
	Issues       []ValidationIssue `json:"issues"`
	ErrorCount   int               `json:"error_count"`
	WarningCount int               `json:"warning_count"`
}

func buildValidationResult(path, adapterID string, issues []ValidationIssue) *FileValidationResult {
	res := &FileValidationResult{
		FilePath:  path,
		AdapterID: adapterID,
		Issues:    issues,
	}
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityError:
			res.ErrorCount++
		case SeverityWarning:
			res.WarningCount++
		}
	}
	res.Valid = res.ErrorCount == 0
	return res
}
