package sheet

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/segmentio/parquet-go"
	"github.com/xuri/excelize/v2"

	"github.com/raaihank/pii-redactor/internal/batch"
)

const utf8BOM = "\ufeff"

// Read loads the first sheet of path into a table. The first row is the
// header; blank cells become nil.
func Read(ctx context.Context, path string) (*batch.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch DetectFormat(path) {
	case FormatXLSX:
		return readXLSX(ctx, path)
	case FormatCSV:
		return readCSV(ctx, path)
	case FormatParquet:
		return readParquet(ctx, path)
	case FormatJSONL:
		return readJSONL(ctx, path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// builder accumulates rows and derives column types once reading is done.
type builder struct {
	columns []string
	values  [][]*string
}

func newBuilder(header []string) *builder {
	b := &builder{}
	for _, h := range header {
		b.addColumn(h)
	}
	return b
}

// addColumn registers a column and returns its index. Blank names become
// "Unnamed: i" and duplicates get a ".n" suffix.
func (b *builder) addColumn(name string) int {
	idx := len(b.columns)
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("Unnamed: %d", idx)
	}

	unique := name
	for n := 1; b.indexOf(unique) >= 0; n++ {
		unique = fmt.Sprintf("%s.%d", name, n)
	}

	rows := 0
	if idx > 0 {
		rows = len(b.values[0])
	}
	b.columns = append(b.columns, unique)
	b.values = append(b.values, make([]*string, rows))
	return idx
}

func (b *builder) indexOf(name string) int {
	for i, c := range b.columns {
		if c == name {
			return i
		}
	}
	return -1
}

// appendRow adds one row. Cells beyond the header are dropped.
func (b *builder) appendRow(cells []string) {
	for i := range b.columns {
		var v *string
		if i < len(cells) && cells[i] != "" {
			s := cells[i]
			v = &s
		}
		b.values[i] = append(b.values[i], v)
	}
}

func (b *builder) table() *batch.Table {
	t := batch.NewTable()
	for i, name := range b.columns {
		t.AddColumn(name, b.values[i], isText(b.values[i]))
	}
	return t
}

// isText reports whether any non-empty value is not a number.
func isText(values []*string) bool {
	for _, v := range values {
		if v == nil {
			continue
		}
		s := strings.TrimSpace(*v)
		if s == "" {
			continue
		}
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return true
		}
	}
	return false
}

func readXLSX(ctx context.Context, path string) (*batch.Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets: %s", path)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return batch.NewTable(), nil
	}

	b := newBuilder(rows[0])
	for i, row := range rows[1:] {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		b.appendRow(row)
	}
	return b.table(), nil
}

func readCSV(ctx context.Context, path string) (*batch.Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return batch.NewTable(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}

	b := newBuilder(header)
	for n := 0; ; n++ {
		if n%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}
		b.appendRow(record)
	}
	return b.table(), nil
}

func readParquet(ctx context.Context, path string) (*batch.Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Parquet file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(file, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open Parquet file: %w", err)
	}

	var header []string
	for _, p := range pf.Schema().Columns() {
		header = append(header, strings.Join(p, "."))
	}
	b := newBuilder(header)

	buf := make([]parquet.Row, 256)
	cells := make([]string, len(header))
	for _, rg := range pf.RowGroups() {
		rows := rg.Rows()
		for {
			if err := ctx.Err(); err != nil {
				rows.Close()
				return nil, err
			}
			n, err := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				for i := range cells {
					cells[i] = ""
				}
				for _, v := range row {
					if c := v.Column(); c >= 0 && c < len(cells) && !v.IsNull() {
						cells[c] = v.String()
					}
				}
				b.appendRow(cells)
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to read Parquet rows: %w", err)
			}
		}
		rows.Close()
	}
	return b.table(), nil
}

// readJSONL reads one JSON object per line. Columns appear in first-seen key
// order; non-string values keep their JSON text.
func readJSONL(ctx context.Context, path string) (*batch.Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSON file: %w", err)
	}
	defer file.Close()

	b := newBuilder(nil)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)

	for line := 1; scanner.Scan(); line++ {
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		raw := bytes.TrimSpace(scanner.Bytes())
		if line == 1 {
			raw = bytes.TrimPrefix(raw, []byte(utf8BOM))
		}
		if len(raw) == 0 {
			continue
		}

		fields, err := decodeObject(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		cells := make([]string, len(b.columns))
		for _, f := range fields {
			idx := b.indexOf(f.key)
			if idx < 0 {
				idx = b.addColumn(f.key)
				cells = append(cells, "")
			}
			cells[idx] = f.value
		}
		b.appendRow(cells)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read JSON file: %w", err)
	}
	return b.table(), nil
}

type field struct {
	key   string
	value string
}

// decodeObject walks a JSON object keeping key order. null becomes "".
func decodeObject(raw []byte) ([]field, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected JSON object")
	}

	var fields []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key")
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}

		var s string
		switch {
		case string(value) == "null":
		case len(value) > 0 && value[0] == '"':
			if err := json.Unmarshal(value, &s); err != nil {
				return nil, err
			}
		default:
			s = string(value)
		}
		fields = append(fields, field{key: key, value: s})
	}
	return fields, nil
}
