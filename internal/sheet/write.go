package sheet

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/segmentio/parquet-go"
	"github.com/xuri/excelize/v2"

	"github.com/raaihank/pii-redactor/internal/batch"
)

// Write stores table at path in the format its extension names. The data is
// written to a temp file in the same directory and renamed into place, so a
// reader never sees a half-written output.
func Write(ctx context.Context, path string, table *batch.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	format := DetectFormat(path)
	if format == FormatUnknown {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	tmp := filepath.Join(filepath.Dir(path), "temp_"+uuid.NewString()+filepath.Ext(path))

	var err error
	switch format {
	case FormatXLSX:
		err = writeXLSX(tmp, table)
	case FormatCSV:
		err = writeCSV(tmp, table)
	case FormatParquet:
		err = writeParquet(tmp, table)
	case FormatJSONL:
		err = writeJSONL(tmp, table)
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

func writeXLSX(path string, table *batch.Table) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ResultSheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(ResultSheetName)
	if err != nil {
		return fmt.Errorf("failed to create stream writer: %w", err)
	}

	header := make([]interface{}, len(table.Columns))
	for i, col := range table.Columns {
		header[i] = col
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	rows := table.NumRows()
	for r := 0; r < rows; r++ {
		cells := make([]interface{}, len(table.Columns))
		for i, col := range table.Columns {
			v := table.Cell(col, r)
			if v == nil {
				continue
			}
			cells[i] = *v
			if !table.Text[col] {
				if n, err := strconv.ParseFloat(strings.TrimSpace(*v), 64); err == nil {
					cells[i] = n
				}
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, cells); err != nil {
			return fmt.Errorf("failed to write row %d: %w", r+1, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush sheet: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func writeCSV(path string, table *batch.Table) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	bw := bufio.NewWriter(file)
	// Excel needs the BOM to open UTF-8 Korean text correctly.
	if _, err := bw.WriteString(utf8BOM); err != nil {
		return err
	}

	w := csv.NewWriter(bw)
	if err := w.Write(table.Columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	rows := table.NumRows()
	record := make([]string, len(table.Columns))
	for r := 0; r < rows; r++ {
		for i, col := range table.Columns {
			record[i] = ""
			if v := table.Cell(col, r); v != nil {
				record[i] = *v
			}
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return file.Close()
}

// writeParquet stores every column as an optional string. Leaf columns are
// ordered by name in the file schema.
func writeParquet(path string, table *batch.Table) error {
	group := make(parquet.Group, len(table.Columns))
	for _, col := range table.Columns {
		group[col] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("redaction", group)

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create Parquet file: %w", err)
	}
	defer file.Close()

	leaves := schema.Columns()
	w := parquet.NewWriter(file, schema)

	rows := table.NumRows()
	batchRows := make([]parquet.Row, 0, 256)
	for r := 0; r < rows; r++ {
		row := make(parquet.Row, len(leaves))
		for idx, leaf := range leaves {
			v := table.Cell(strings.Join(leaf, "."), r)
			if v == nil {
				row[idx] = parquet.NullValue().Level(0, 0, idx)
			} else {
				row[idx] = parquet.ValueOf(*v).Level(0, 1, idx)
			}
		}
		batchRows = append(batchRows, row)

		if len(batchRows) == cap(batchRows) {
			if _, err := w.WriteRows(batchRows); err != nil {
				return fmt.Errorf("failed to write Parquet rows: %w", err)
			}
			batchRows = batchRows[:0]
		}
	}
	if len(batchRows) > 0 {
		if _, err := w.WriteRows(batchRows); err != nil {
			return fmt.Errorf("failed to write Parquet rows: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close Parquet writer: %w", err)
	}
	return file.Close()
}

// writeJSONL writes one object per row in column order. Numeric columns keep
// their values as JSON numbers; absent cells are null.
func writeJSONL(path string, table *batch.Table) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create JSON file: %w", err)
	}
	defer file.Close()

	bw := bufio.NewWriter(file)
	rows := table.NumRows()
	for r := 0; r < rows; r++ {
		bw.WriteByte('{')
		for i, col := range table.Columns {
			if i > 0 {
				bw.WriteByte(',')
			}
			key, _ := json.Marshal(col)
			bw.Write(key)
			bw.WriteByte(':')

			v := table.Cell(col, r)
			switch {
			case v == nil:
				bw.WriteString("null")
			case !table.Text[col] && json.Valid([]byte(strings.TrimSpace(*v))):
				bw.WriteString(strings.TrimSpace(*v))
			default:
				val, _ := json.Marshal(*v)
				bw.Write(val)
			}
		}
		bw.WriteString("}\n")
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write JSON file: %w", err)
	}
	return file.Close()
}
