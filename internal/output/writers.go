package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/xuri/excelize/v2"

	"github.com/granarydata/granary/internal/frame"
)

// WriteTable writes a frame to path in the given format (parquet, csv, or
// xlsx), creating parent directories as needed.
func WriteTable(f *frame.Frame, path, format string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	switch format {
	case "", "parquet":
		return writeParquet(f, path)
	case "csv":
		return writeCSV(f, path)
	case "xlsx":
		return writeXLSX(f, path)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeCSV(f *frame.Frame, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	names := f.Columns()
	if err := w.Write(names); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for r := 0; r < f.Height(); r++ {
		record := make([]string, len(names))
		for c, name := range names {
			record[c] = frame.AsString(f.Cell(r, name))
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", r, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func writeXLSX(f *frame.Frame, path string) error {
	wb := excelize.NewFile()
	defer wb.Close()

	sheet := wb.GetSheetName(0)
	names := f.Columns()

	header := make([]any, len(names))
	for i, n := range names {
		header[i] = n
	}
	if err := wb.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for r := 0; r < f.Height(); r++ {
		row := make([]any, len(names))
		for c, name := range names {
			row[c] = f.Cell(r, name)
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := wb.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", r, err)
		}
	}
	if err := wb.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// writeParquet writes the frame with a schema derived from inferred
// column types; every column is optional so nulls round-trip.
func writeParquet(f *frame.Frame, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()

	group := parquet.Group{}
	for _, name := range f.Columns() {
		group[name] = parquet.Optional(parquetNode(f.DTypeOf(name)))
	}
	schema := parquet.NewSchema("table", group)

	w := parquet.NewGenericWriter[map[string]any](file, schema)
	names := f.Columns()
	types := map[string]frame.DType{}
	for _, name := range names {
		types[name] = f.DTypeOf(name)
	}
	rows := make([]map[string]any, f.Height())
	for r := range rows {
		row := make(map[string]any, len(names))
		for _, name := range names {
			row[name] = parquetCell(f.Cell(r, name), types[name])
		}
		rows[r] = row
	}
	if len(rows) > 0 {
		if _, err := w.Write(rows); err != nil {
			return fmt.Errorf("write rows: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// parquetCell normalizes a cell onto its column's physical type so the
// writer never sees a mixed representation.
func parquetCell(v any, t frame.DType) any {
	if v == nil {
		return nil
	}
	switch t {
	case frame.TypeInt:
		if n, ok := frame.AsFloat(v); ok {
			return int64(n)
		}
		return nil
	case frame.TypeFloat:
		if n, ok := frame.AsFloat(v); ok {
			return n
		}
		return nil
	case frame.TypeBool:
		if b, ok := v.(bool); ok {
			return b
		}
		return nil
	default:
		return frame.AsString(v)
	}
}

func parquetNode(t frame.DType) parquet.Node {
	switch t {
	case frame.TypeInt:
		return parquet.Int(64)
	case frame.TypeFloat:
		return parquet.Leaf(parquet.DoubleType)
	case frame.TypeBool:
		return parquet.Leaf(parquet.BooleanType)
	default:
		return parquet.String()
	}
}
