package adapter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/granarydata/granary/internal/frame"
)

// parquetMagic opens and closes every parquet file.
var parquetMagic = []byte("PAR1")

// ParquetAdapter reads parquet files through footer metadata: schema and
// exact row counts come from the footer with zero data rows read, and
// streaming yields one chunk per row group.
type ParquetAdapter struct {
	meta Metadata
}

// NewParquetAdapter returns the built-in Parquet adapter.
func NewParquetAdapter() *ParquetAdapter {
	return &ParquetAdapter{
		meta: Metadata{
			ID:         "parquet",
			Name:       "Parquet Adapter",
			Version:    "1.0.0",
			Extensions: []string{".parquet"},
			MIMETypes:  []string{"application/vnd.apache.parquet", "application/x-parquet"},
			Capabilities: Capabilities{
				Streaming:       true,
				SchemaInference: true,
				ColumnSelection: true,
			},
			Description: "Parse Parquet files using footer metadata and row-group streaming",
		},
	}
}

// Metadata implements Adapter.
func (a *ParquetAdapter) Metadata() Metadata { return a.meta }

func (a *ParquetAdapter) open(path string) (*os.File, *parquet.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, newError(CodeFileNotFound, a.meta.ID, path, fmt.Sprintf("file not found: %s", path)).withCause(err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, newError(CodeCorruptFile, a.meta.ID, path, fmt.Sprintf("stat: %v", err)).withCause(err)
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		f.Close()
		return nil, nil, newError(CodeInvalidParquet, a.meta.ID, path, fmt.Sprintf("open parquet: %v", err)).withCause(err).
			withSuggestion("Ensure the file is a valid parquet file.")
	}
	return f, pf, nil
}

// ProbeSchema reads the footer only: exact row count, column schema, zero
// data rows.
func (a *ParquetAdapter) ProbeSchema(ctx context.Context, path string, opts *ReadOptions) (*SchemaProbeResult, error) {
	start := time.Now()

	f, pf, err := a.open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, _ := f.Stat()
	fields := pf.Schema().Fields()
	columns := make([]ColumnInfo, 0, len(fields))
	for i, field := range fields {
		columns = append(columns, ColumnInfo{
			Name:         field.Name(),
			Position:     i,
			InferredType: parquetFieldType(field),
			Nullable:     field.Optional(),
		})
	}

	return &SchemaProbeResult{
		FilePath:         path,
		FileSizeBytes:    info.Size(),
		AdapterID:        a.meta.ID,
		Columns:          columns,
		RowCountEstimate: pf.NumRows(),
		RowCountExact:    true,
		HasHeaderRow:     true,
		ProbeDuration:    time.Since(start),
		SampleRowsRead:   0,
	}, nil
}

// ReadFrame materializes the file into a frame.
func (a *ParquetAdapter) ReadFrame(ctx context.Context, path string, opts *ReadOptions) (*frame.Frame, *ReadResult, error) {
	start := time.Now()
	opts = opts.orDefault()

	f, pf, err := a.open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	info, _ := f.Stat()

	names := leafNames(pf)
	limit := 0
	if opts.RowLimit > 0 {
		limit = opts.RowLimit + opts.SkipRows
	}

	var records []map[string]any
	for _, rg := range pf.RowGroups() {
		if limit > 0 && len(records) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("read cancelled: %w", err)
		}
		rgRecords, err := a.readRowGroup(ctx, path, rg, names, limit-len(records))
		if err != nil {
			return nil, nil, err
		}
		records = append(records, rgRecords...)
	}

	if opts.SkipRows > 0 {
		if opts.SkipRows >= len(records) {
			records = nil
		} else {
			records = records[opts.SkipRows:]
		}
	}
	truncated := false
	if opts.RowLimit > 0 && len(records) >= opts.RowLimit {
		records = records[:opts.RowLimit]
		truncated = true
	}

	fr := frame.FromRecordsOrdered(names, records)
	fr = applyColumnSelection(fr, opts)

	result := &ReadResult{
		FilePath:     path,
		AdapterID:    a.meta.ID,
		RowsRead:     fr.Height(),
		ColumnsRead:  fr.Width(),
		BytesRead:    info.Size(),
		ReadDuration: time.Since(start),
		WasTruncated: truncated,
	}
	return fr, result, nil
}

// StreamFrame yields one chunk per row group, which bounds peak memory to
// the largest row group.
func (a *ParquetAdapter) StreamFrame(ctx context.Context, path string, opts *StreamOptions) (Stream, error) {
	opts = opts.orDefault()

	f, pf, err := a.open(path)
	if err != nil {
		return nil, err
	}

	return &parquetStream{
		adapter: a,
		path:    path,
		file:    f,
		pfile:   pf,
		names:   leafNames(pf),
		columns: opts.Columns,
	}, nil
}

// ValidateFile checks existence, emptiness, and the PAR1 magic bytes at
// both ends of the file.
func (a *ParquetAdapter) ValidateFile(ctx context.Context, path string) (*FileValidationResult, error) {
	var issues []ValidationIssue

	info, err := os.Stat(path)
	switch {
	case err != nil:
		issues = append(issues, ValidationIssue{
			Severity:   SeverityError,
			Code:       CodeFileNotFound,
			Message:    fmt.Sprintf("file does not exist: %s", path),
			Suggestion: "Check the file path and ensure the file exists.",
		})
		return buildValidationResult(path, a.meta.ID, issues), nil
	case info.Size() == 0:
		issues = append(issues, ValidationIssue{
			Severity:   SeverityError,
			Code:       CodeEmptyFile,
			Message:    "file is empty",
			Suggestion: "Provide a non-empty parquet file.",
		})
		return buildValidationResult(path, a.meta.ID, issues), nil
	case info.Size() < int64(2*len(parquetMagic)):
		issues = append(issues, ValidationIssue{
			Severity: SeverityError,
			Code:     CodeInvalidParquet,
			Message:  "file is too small to be a parquet file",
		})
		return buildValidationResult(path, a.meta.ID, issues), nil
	}

	if info.Size() > largeFileThreshold {
		issues = append(issues, ValidationIssue{
			Severity: SeverityWarning,
			Code:     CodeLargeFile,
			Message:  fmt.Sprintf("file is %d bytes", info.Size()),
		})
	}

	f, err := os.Open(path)
	if err != nil {
		issues = append(issues, ValidationIssue{
			Severity: SeverityError,
			Code:     CodeCorruptFile,
			Message:  fmt.Sprintf("cannot open: %v", err),
		})
		return buildValidationResult(path, a.meta.ID, issues), nil
	}
	defer f.Close()

	head := make([]byte, len(parquetMagic))
	tail := make([]byte, len(parquetMagic))
	if _, err := io.ReadFull(f, head); err != nil {
		head = nil
	}
	if _, err := f.ReadAt(tail, info.Size()-int64(len(parquetMagic))); err != nil {
		tail = nil
	}
	if !bytes.Equal(head, parquetMagic) || !bytes.Equal(tail, parquetMagic) {
		issues = append(issues, ValidationIssue{
			Severity:   SeverityError,
			Code:       CodeInvalidParquet,
			Message:    "file does not carry the parquet magic bytes",
			Suggestion: "Ensure the file is a valid parquet file.",
		})
	}

	return buildValidationResult(path, a.meta.ID, issues), nil
}

// readRowGroup reads up to limit rows (<=0 means all) from one row group.
func (a *ParquetAdapter) readRowGroup(ctx context.Context, path string, rg parquet.RowGroup, names []string, limit int) ([]map[string]any, error) {
	rows := rg.Rows()
	defer rows.Close()

	buf := make([]parquet.Row, 256)
	var records []map[string]any
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("read cancelled: %w", err)
		}
		n, err := rows.ReadRows(buf)
		for _, row := range buf[:n] {
			records = append(records, parquetRecord(names, row))
			if limit > 0 && len(records) >= limit {
				return records, nil
			}
		}
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, newError(CodeParseError, a.meta.ID, path, fmt.Sprintf("read rows: %v", err)).withCause(err)
		}
		if n == 0 {
			return records, nil
		}
	}
}

// leafNames returns the top-level column names in schema order.
func leafNames(pf *parquet.File) []string {
	fields := pf.Schema().Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name()
	}
	return names
}

// parquetRecord converts one parquet row into a row map using leaf column
// positions.
func parquetRecord(names []string, row parquet.Row) map[string]any {
	rec := make(map[string]any, len(names))
	for _, v := range row {
		col := v.Column()
		if col < 0 || col >= len(names) {
			continue
		}
		rec[names[col]] = parquetValue(v)
	}
	return rec
}

func parquetValue(v parquet.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return v.String()
	}
}

// parquetFieldType maps a parquet schema field to the frame's semantic
// types.
func parquetFieldType(field parquet.Field) frame.DType {
	t := field.Type()
	if lt := t.LogicalType(); lt != nil {
		switch {
		case lt.UTF8 != nil:
			return frame.TypeString
		case lt.Date != nil:
			return frame.TypeDate
		case lt.Timestamp != nil:
			return frame.TypeDatetime
		case lt.Time != nil:
			return frame.TypeTime
		}
	}
	switch t.Kind() {
	case parquet.Boolean:
		return frame.TypeBool
	case parquet.Int32, parquet.Int64, parquet.Int96:
		return frame.TypeInt
	case parquet.Float, parquet.Double:
		return frame.TypeFloat
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return frame.TypeBinary
	default:
		return frame.TypeUnknown
	}
}

// parquetStream yields one chunk per row group.
type parquetStream struct {
	adapter *ParquetAdapter
	path    string
	file    *os.File
	pfile   *parquet.File
	names   []string
	columns []string

	group  int
	index  int
	total  int64
	closed bool
}

func (s *parquetStream) Next(ctx context.Context) (*frame.Frame, *StreamChunk, error) {
	groups := s.pfile.RowGroups()
	if s.group >= len(groups) {
		s.Close()
		return nil, nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		s.Close()
		return nil, nil, fmt.Errorf("stream cancelled: %w", err)
	}
	start := time.Now()

	records, err := s.adapter.readRowGroup(ctx, s.path, groups[s.group], s.names, 0)
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	s.group++

	f := frame.FromRecordsOrdered(s.names, records)
	if len(s.columns) > 0 {
		f = f.Select(s.columns)
	}
	s.total += int64(len(records))
	chunk := &StreamChunk{
		ChunkIndex:     s.index,
		RowsInChunk:    len(records),
		TotalRowsSoFar: s.total,
		IsLastChunk:    s.group >= len(groups),
		ChunkDuration:  time.Since(start),
	}
	s.index++
	if chunk.IsLastChunk {
		s.Close()
	}
	return f, chunk, nil
}

func (s *parquetStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}
