package adapter

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/granarydata/granary/internal/frame"
)

// JSONAdapter reads JSON (array of objects) and JSON Lines files. The two
// layouts are distinguished by extension and, for .json, by inspecting the
// first non-whitespace byte and counting object-start lines. JSON Lines
// streams; a regular JSON array is emitted as a single terminal chunk.
type JSONAdapter struct {
	meta Metadata
}

// NewJSONAdapter returns the built-in JSON/JSONL adapter.
func NewJSONAdapter() *JSONAdapter {
	return &JSONAdapter{
		meta: Metadata{
			ID:         "json",
			Name:       "JSON/JSONL Adapter",
			Version:    "1.0.0",
			Extensions: []string{".json", ".jsonl", ".ndjson"},
			MIMETypes:  []string{"application/json", "application/x-ndjson", "application/jsonl"},
			Capabilities: Capabilities{
				Streaming:       true,
				SchemaInference: true,
				ColumnSelection: true,
			},
			Description: "Parse JSON and JSON Lines files with automatic format detection",
		},
	}
}

// Metadata implements Adapter.
func (a *JSONAdapter) Metadata() Metadata { return a.meta }

// isJSONL reports whether the file is line-delimited. Extensions .jsonl
// and .ndjson decide immediately; for .json the content is inspected.
func isJSONL(path string) bool {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".jsonl") || strings.HasSuffix(lower, ".ndjson") {
		return true
	}
	if !strings.HasSuffix(lower, ".json") {
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, 4096)
	n, _ := io.ReadFull(f, head)
	head = head[:n]
	trimmed := bytes.TrimLeft(head, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] == '[' {
		return false
	}
	if trimmed[0] != '{' {
		return false
	}

	// Multiple lines each starting with '{' suggest NDJSON.
	objectLines := 0
	for i, line := range strings.SplitN(string(head), "\n", 6) {
		if i >= 5 {
			break
		}
		if strings.HasPrefix(strings.TrimSpace(line), "{") {
			objectLines++
		}
	}
	return objectLines > 1
}

// ReadDocument parses the whole file into a nested value for JSONPath
// navigation. JSONL files become a map with a "records" array so document
// strategies can address the rows.
func (a *JSONAdapter) ReadDocument(ctx context.Context, path string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("read cancelled: %w", err)
	}
	if isJSONL(path) {
		records, err := a.readJSONLRecords(ctx, path, 0)
		if err != nil {
			return nil, err
		}
		rows := make([]any, len(records))
		for i, r := range records {
			rows[i] = map[string]any(r)
		}
		return map[string]any{"records": rows}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(CodeFileNotFound, a.meta.ID, path, fmt.Sprintf("file not found: %s", path)).withCause(err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, newError(CodeInvalidJSON, a.meta.ID, path, fmt.Sprintf("invalid JSON: %v", err)).withCause(err).
			withSuggestion("Fix the JSON syntax error.")
	}
	return doc, nil
}

// ProbeSchema infers columns from a bounded sample of records.
func (a *JSONAdapter) ProbeSchema(ctx context.Context, path string, opts *ReadOptions) (*SchemaProbeResult, error) {
	start := time.Now()
	opts = opts.orDefault()

	info, err := os.Stat(path)
	if err != nil {
		return nil, newError(CodeFileNotFound, a.meta.ID, path, fmt.Sprintf("file not found: %s", path)).withCause(err)
	}

	jsonl := isJSONL(path)
	var records []map[string]any
	if jsonl {
		records, err = a.readJSONLRecords(ctx, path, opts.InferSchemaRows)
	} else {
		records, err = a.readArrayRecords(ctx, path)
		if err == nil && len(records) > opts.InferSchemaRows {
			records = records[:opts.InferSchemaRows]
		}
	}
	if err != nil {
		var ae *Error
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, newError(CodeSchemaInferenceFailed, a.meta.ID, path, fmt.Sprintf("probe schema: %v", err)).withCause(err)
	}
	sample := frame.FromRecords(records)

	rowEstimate := int64(len(records))
	exact := !jsonl
	if jsonl {
		if n, err := countNewlines(path); err == nil && n > rowEstimate {
			rowEstimate = n
		}
	}

	return &SchemaProbeResult{
		FilePath:         path,
		FileSizeBytes:    info.Size(),
		AdapterID:        a.meta.ID,
		Columns:          probeColumns(sample),
		RowCountEstimate: rowEstimate,
		RowCountExact:    exact,
		EncodingDetected: encUTF8,
		HasHeaderRow:     true,
		ProbeDuration:    time.Since(start),
		SampleRowsRead:   len(records),
	}, nil
}

// ReadFrame materializes the file into a frame.
func (a *JSONAdapter) ReadFrame(ctx context.Context, path string, opts *ReadOptions) (*frame.Frame, *ReadResult, error) {
	start := time.Now()
	opts = opts.orDefault()

	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, newError(CodeFileNotFound, a.meta.ID, path, fmt.Sprintf("file not found: %s", path)).withCause(err)
	}

	var records []map[string]any
	if isJSONL(path) {
		limit := 0
		if opts.RowLimit > 0 {
			limit = opts.RowLimit + opts.SkipRows
		}
		records, err = a.readJSONLRecords(ctx, path, limit)
	} else {
		records, err = a.readArrayRecords(ctx, path)
	}
	if err != nil {
		return nil, nil, err
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

	f := frame.FromRecords(records)
	f = applyColumnSelection(f, opts)

	result := &ReadResult{
		FilePath:     path,
		AdapterID:    a.meta.ID,
		RowsRead:     f.Height(),
		ColumnsRead:  f.Width(),
		BytesRead:    info.Size(),
		ReadDuration: time.Since(start),
		WasTruncated: truncated,
	}
	return f, result, nil
}

// StreamFrame streams JSONL in chunks. A regular JSON array is emitted as
// a single terminal chunk.
func (a *JSONAdapter) StreamFrame(ctx context.Context, path string, opts *StreamOptions) (Stream, error) {
	opts = opts.orDefault()

	if _, err := os.Stat(path); err != nil {
		return nil, newError(CodeFileNotFound, a.meta.ID, path, fmt.Sprintf("file not found: %s", path)).withCause(err)
	}

	if !isJSONL(path) {
		records, err := a.readArrayRecords(ctx, path)
		if err != nil {
			return nil, err
		}
		f := frame.FromRecords(records)
		if len(opts.Columns) > 0 {
			f = f.Select(opts.Columns)
		}
		return newSingleChunkStream(f), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, newError(CodeParseError, a.meta.ID, path, fmt.Sprintf("open: %v", err)).withCause(err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	return &jsonlStream{
		adapter:   a,
		path:      path,
		file:      f,
		scanner:   scanner,
		chunkSize: opts.ChunkSizeRows,
		columns:   opts.Columns,
	}, nil
}

// ValidateFile checks existence, emptiness, and JSON well-formedness of a
// bounded prefix. Non-tabular shapes are warnings, not errors.
func (a *JSONAdapter) ValidateFile(ctx context.Context, path string) (*FileValidationResult, error) {
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
			Suggestion: "Provide a non-empty JSON file.",
		})
		return buildValidationResult(path, a.meta.ID, issues), nil
	}

	if info.Size() > largeFileThreshold {
		issues = append(issues, ValidationIssue{
			Severity: SeverityWarning,
			Code:     CodeLargeFile,
			Message:  fmt.Sprintf("file is %d bytes; consider streaming", info.Size()),
		})
	}

	if isJSONL(path) {
		f, err := os.Open(path)
		if err != nil {
			return buildValidationResult(path, a.meta.ID, issues), nil
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
		for i := 0; i < 5 && scanner.Scan(); i++ {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var v any
			if err := json.Unmarshal([]byte(line), &v); err != nil {
				issues = append(issues, ValidationIssue{
					Severity:   SeverityError,
					Code:       CodeInvalidJSON,
					Message:    fmt.Sprintf("invalid JSON on line %d: %v", i+1, err),
					LineNumber: i + 1,
					Suggestion: "Fix the JSON syntax error.",
				})
				break
			}
		}
		return buildValidationResult(path, a.meta.ID, issues), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return buildValidationResult(path, a.meta.ID, issues), nil
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		issues = append(issues, ValidationIssue{
			Severity:   SeverityError,
			Code:       CodeInvalidJSON,
			Message:    fmt.Sprintf("invalid JSON syntax: %v", err),
			Suggestion: "Fix the JSON syntax error.",
		})
		return buildValidationResult(path, a.meta.ID, issues), nil
	}
	switch v := doc.(type) {
	case []any:
		if len(v) > 0 {
			if _, ok := v[0].(map[string]any); !ok {
				issues = append(issues, ValidationIssue{
					Severity:   SeverityWarning,
					Code:       CodeNonTabular,
					Message:    "JSON array contains non-object elements",
					Suggestion: "JSON should be an array of objects for tabular data.",
				})
			}
		}
	case map[string]any:
		issues = append(issues, ValidationIssue{
			Severity:   SeverityWarning,
			Code:       CodeSingleObject,
			Message:    "JSON is a single object, not an array",
			Suggestion: "For multiple records, use an array of objects or JSON Lines format.",
		})
	}

	return buildValidationResult(path, a.meta.ID, issues), nil
}

// readArrayRecords parses a regular JSON file and returns its records.
// A top-level object yields a single record.
func (a *JSONAdapter) readArrayRecords(ctx context.Context, path string) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("read cancelled: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(CodeFileNotFound, a.meta.ID, path, fmt.Sprintf("file not found: %s", path)).withCause(err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, newError(CodeInvalidJSON, a.meta.ID, path, fmt.Sprintf("invalid JSON: %v", err)).withCause(err).
			withSuggestion("Fix the JSON syntax error.")
	}

	switch v := doc.(type) {
	case []any:
		records := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if obj, ok := item.(map[string]any); ok {
				records = append(records, obj)
			}
		}
		return records, nil
	case map[string]any:
		return []map[string]any{v}, nil
	default:
		return nil, newError(CodeInvalidFormat, a.meta.ID, path, "JSON root is neither array nor object")
	}
}

// readJSONLRecords parses up to limit lines (0 = all).
func (a *JSONAdapter) readJSONLRecords(ctx context.Context, path string, limit int) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newError(CodeFileNotFound, a.meta.ID, path, fmt.Sprintf("file not found: %s", path)).withCause(err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)

	var records []map[string]any
	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("read cancelled: %w", err)
		}
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			e := newError(CodeInvalidJSON, a.meta.ID, path, fmt.Sprintf("invalid JSON on line %d: %v", lineNo, err)).withCause(err)
			e.LineNumber = lineNo
			return nil, e
		}
		records = append(records, rec)
		if limit > 0 && len(records) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, newError(CodeParseError, a.meta.ID, path, fmt.Sprintf("scan: %v", err)).withCause(err)
	}
	return records, nil
}

// countNewlines counts newline bytes in 1 MiB blocks without parsing, the
// cheap row-count estimate for JSONL files and large CSV files.
func countNewlines(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, 1024*1024)
	var count int64
	for {
		n, err := f.Read(buf)
		count += int64(bytes.Count(buf[:n], []byte{'\n'}))
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// jsonlStream implements Stream over a JSON Lines file with single-line
// lookahead for terminal chunk detection.
type jsonlStream struct {
	adapter   *JSONAdapter
	path      string
	file      *os.File
	scanner   *bufio.Scanner
	chunkSize int
	columns   []string

	pending    map[string]any
	hasPending bool
	index      int
	total      int64
	done       bool
	closed     bool
}

func (s *jsonlStream) Next(ctx context.Context) (*frame.Frame, *StreamChunk, error) {
	if s.done {
		return nil, nil, io.EOF
	}
	start := time.Now()

	var records []map[string]any
	if s.hasPending {
		records = append(records, s.pending)
		s.hasPending = false
	}
	eof := false
	for len(records) < s.chunkSize {
		if err := ctx.Err(); err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("stream cancelled: %w", err)
		}
		rec, ok, err := s.scanLine()
		if err != nil {
			s.Close()
			return nil, nil, err
		}
		if !ok {
			eof = true
			break
		}
		records = append(records, rec)
	}

	if !eof {
		rec, ok, err := s.scanLine()
		if err != nil {
			s.Close()
			return nil, nil, err
		}
		if !ok {
			eof = true
		} else {
			s.pending = rec
			s.hasPending = true
		}
	}

	if len(records) == 0 && eof {
		s.done = true
		s.Close()
		return nil, nil, io.EOF
	}

	f := frame.FromRecords(records)
	if len(s.columns) > 0 {
		f = f.Select(s.columns)
	}
	s.total += int64(len(records))
	chunk := &StreamChunk{
		ChunkIndex:     s.index,
		RowsInChunk:    len(records),
		TotalRowsSoFar: s.total,
		IsLastChunk:    eof && !s.hasPending,
		ChunkDuration:  time.Since(start),
	}
	s.index++
	if chunk.IsLastChunk {
		s.done = true
		s.Close()
	}
	return f, chunk, nil
}

// scanLine returns the next non-blank parsed line, ok=false at EOF.
func (s *jsonlStream) scanLine() (map[string]any, bool, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, false, newError(CodeInvalidJSON, s.adapter.meta.ID, s.path, fmt.Sprintf("invalid JSON line: %v", err)).withCause(err)
		}
		return rec, true, nil
	}
	return nil, false, s.scanner.Err()
}

func (s *jsonlStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

// singleChunkStream emits one terminal chunk, used for formats whose whole
// content materializes at once.
type singleChunkStream struct {
	frame *frame.Frame
	done  bool
}

func newSingleChunkStream(f *frame.Frame) *singleChunkStream {
	return &singleChunkStream{frame: f}
}

func (s *singleChunkStream) Next(ctx context.Context) (*frame.Frame, *StreamChunk, error) {
	if s.done {
		return nil, nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("stream cancelled: %w", err)
	}
	s.done = true
	return s.frame, &StreamChunk{
		ChunkIndex:     0,
		RowsInChunk:    s.frame.Height(),
		TotalRowsSoFar: int64(s.frame.Height()),
		IsLastChunk:    true,
	}, nil
}

func (s *singleChunkStream) Close() error { return nil }
