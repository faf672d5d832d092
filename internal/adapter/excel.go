package adapter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/granarydata/granary/internal/frame"
)

// oleSignature is the compound-file header used by legacy .xls workbooks
// and by encrypted OOXML workbooks.
var oleSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// zipSignature opens every OOXML workbook.
var zipSignature = []byte{0x50, 0x4B, 0x03, 0x04}

// ExcelAdapter reads OOXML workbooks through excelize. Sheets are selected
// by name or zero-based index; the first sheet is the default. Excel has
// no row-oriented layout on disk, so streaming is not supported.
type ExcelAdapter struct {
	meta Metadata
}

// NewExcelAdapter returns the built-in Excel adapter.
func NewExcelAdapter() *ExcelAdapter {
	return &ExcelAdapter{
		meta: Metadata{
			ID:         "excel",
			Name:       "Excel Adapter",
			Version:    "1.0.0",
			Extensions: []string{".xlsx", ".xlsm", ".xls"},
			MIMETypes: []string{
				"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
				"application/vnd.ms-excel",
			},
			Capabilities: Capabilities{
				SchemaInference: true,
				ColumnSelection: true,
				MultipleSheets:  true,
			},
			Description: "Parse Excel workbooks with sheet selection",
		},
	}
}

// Metadata implements Adapter.
func (a *ExcelAdapter) Metadata() Metadata { return a.meta }

// ProbeSchema enumerates sheets and infers columns from a bounded sample
// of the selected sheet, iterating rows so the sample cost is independent
// of sheet size.
func (a *ExcelAdapter) ProbeSchema(ctx context.Context, path string, opts *ReadOptions) (*SchemaProbeResult, error) {
	start := time.Now()
	opts = opts.orDefault()

	info, err := os.Stat(path)
	if err != nil {
		return nil, newError(CodeFileNotFound, a.meta.ID, path, fmt.Sprintf("file not found: %s", path)).withCause(err)
	}

	wb, err := excelize.OpenFile(path)
	if err != nil {
		return nil, a.openError(path, err)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	sheet, err := a.selectSheet(sheets, opts)
	if err != nil {
		return nil, newError(CodeInvalidFormat, a.meta.ID, path, err.Error())
	}

	iter, err := wb.Rows(sheet)
	if err != nil {
		return nil, newError(CodeSchemaInferenceFailed, a.meta.ID, path, fmt.Sprintf("iterate sheet %q: %v", sheet, err)).withCause(err)
	}
	defer iter.Close()

	var header []string
	var rows []map[string]any
	total := int64(0)
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("probe cancelled: %w", err)
		}
		if header == nil {
			header, err = iter.Columns()
			if err != nil {
				return nil, newError(CodeSchemaInferenceFailed, a.meta.ID, path, fmt.Sprintf("read header: %v", err)).withCause(err)
			}
			continue
		}
		total++
		if len(rows) < opts.InferSchemaRows {
			cells, err := iter.Columns()
			if err != nil {
				return nil, newError(CodeSchemaInferenceFailed, a.meta.ID, path, fmt.Sprintf("read row: %v", err)).withCause(err)
			}
			rows = append(rows, excelRecord(header, cells))
		}
	}
	sample := frame.FromRecordsOrdered(header, rows)

	return &SchemaProbeResult{
		FilePath:         path,
		FileSizeBytes:    info.Size(),
		AdapterID:        a.meta.ID,
		Columns:          probeColumns(sample),
		RowCountEstimate: total,
		RowCountExact:    true,
		HasHeaderRow:     true,
		Sheets:           sheets,
		ProbeDuration:    time.Since(start),
		SampleRowsRead:   len(rows),
	}, nil
}

// ReadFrame materializes the selected sheet into a frame.
func (a *ExcelAdapter) ReadFrame(ctx context.Context, path string, opts *ReadOptions) (*frame.Frame, *ReadResult, error) {
	start := time.Now()
	opts = opts.orDefault()

	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, newError(CodeFileNotFound, a.meta.ID, path, fmt.Sprintf("file not found: %s", path)).withCause(err)
	}

	wb, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, a.openError(path, err)
	}
	defer wb.Close()

	sheet, err := a.selectSheet(wb.GetSheetList(), opts)
	if err != nil {
		return nil, nil, newError(CodeInvalidFormat, a.meta.ID, path, err.Error())
	}

	iter, err := wb.Rows(sheet)
	if err != nil {
		return nil, nil, newError(CodeParseError, a.meta.ID, path, fmt.Sprintf("iterate sheet %q: %v", sheet, err)).withCause(err)
	}
	defer iter.Close()

	var header []string
	var rows []map[string]any
	skipped := 0
	truncated := false
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("read cancelled: %w", err)
		}
		cells, err := iter.Columns()
		if err != nil {
			return nil, nil, newError(CodeParseError, a.meta.ID, path, fmt.Sprintf("read row: %v", err)).withCause(err)
		}
		if header == nil {
			header = cells
			continue
		}
		if skipped < opts.SkipRows {
			skipped++
			continue
		}
		if opts.RowLimit > 0 && len(rows) >= opts.RowLimit {
			truncated = true
			break
		}
		rows = append(rows, excelRecord(header, cells))
	}

	f := frame.FromRecordsOrdered(header, rows)
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

// StreamFrame always fails: the workbook format has no row-streaming
// layout. The error is marked non-recoverable so callers fall back to
// ReadFrame instead of retrying.
func (a *ExcelAdapter) StreamFrame(ctx context.Context, path string, opts *StreamOptions) (Stream, error) {
	return nil, newError(CodeStreamingNotSupported, a.meta.ID, path,
		"Excel workbooks do not support streaming; use ReadFrame").notRecoverable().
		withSuggestion("Read the sheet eagerly or convert to CSV/Parquet for streaming.")
}

// ValidateFile checks existence, emptiness, and the workbook signature.
// An OLE compound header on an .xlsx path usually means the workbook is
// password protected.
func (a *ExcelAdapter) ValidateFile(ctx context.Context, path string) (*FileValidationResult, error) {
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
			Suggestion: "Provide a non-empty workbook.",
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

	head := make([]byte, 8)
	n, _ := io.ReadFull(f, head)
	head = head[:n]
	ext := strings.ToLower(path)
	switch {
	case bytes.HasPrefix(head, zipSignature):
		// OOXML container, as expected.
	case bytes.HasPrefix(head, oleSignature):
		if strings.HasSuffix(ext, ".xlsx") || strings.HasSuffix(ext, ".xlsm") {
			issues = append(issues, ValidationIssue{
				Severity:   SeverityError,
				Code:       CodePasswordProtected,
				Message:    "workbook appears to be password protected",
				Suggestion: "Remove the workbook password and retry.",
			})
		}
	default:
		issues = append(issues, ValidationIssue{
			Severity:   SeverityError,
			Code:       CodeInvalidFormat,
			Message:    "file does not carry an Excel workbook signature",
			Suggestion: "Ensure the file is a valid .xlsx workbook.",
		})
	}

	return buildValidationResult(path, a.meta.ID, issues), nil
}

func (a *ExcelAdapter) selectSheet(sheets []string, opts *ReadOptions) (string, error) {
	if len(sheets) == 0 {
		return "", fmt.Errorf("workbook has no sheets")
	}
	if opts.SheetName != "" {
		for _, s := range sheets {
			if s == opts.SheetName {
				return s, nil
			}
		}
		return "", fmt.Errorf("sheet %q not found; available: %s", opts.SheetName, strings.Join(sheets, ", "))
	}
	if opts.SheetIndex != nil {
		i := *opts.SheetIndex
		if i < 0 || i >= len(sheets) {
			return "", fmt.Errorf("sheet index %d out of range (%d sheets)", i, len(sheets))
		}
		return sheets[i], nil
	}
	return sheets[0], nil
}

func (a *ExcelAdapter) openError(path string, err error) *Error {
	msg := err.Error()
	switch {
	case strings.Contains(strings.ToLower(msg), "password"), strings.Contains(msg, "decrypt"):
		return newError(CodePasswordProtected, a.meta.ID, path, "workbook is password protected").withCause(err).
			withSuggestion("Remove the workbook password and retry.")
	default:
		return newError(CodeCorruptFile, a.meta.ID, path, fmt.Sprintf("cannot open workbook: %v", err)).withCause(err)
	}
}

// excelRecord maps one row of sheet cells onto the header, padding short
// rows with null and inferring numeric types from the rendered cells.
func excelRecord(header, cells []string) map[string]any {
	row := make(map[string]any, len(header))
	for i, name := range header {
		if i >= len(cells) {
			row[name] = nil
			continue
		}
		row[name] = parseCell(cells[i], nil)
	}
	return row
}
