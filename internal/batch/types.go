package batch

import (
	"context"
	"time"

	"github.com/raaihank/pii-redactor/internal/redact"
)

// DefaultTargetColumns are the complaint title, question and answer columns.
var DefaultTargetColumns = []string{"민원제목", "질문내용", "답변내용"}

// DefaultMinValueLength is the shortest trimmed value worth redacting.
const DefaultMinValueLength = 3

// Table is a column-oriented sheet. A nil value is an absent cell.
type Table struct {
	Columns []string
	Values  map[string][]*string
	// Text marks text-typed columns.
	Text map[string]bool
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		Values: make(map[string][]*string),
		Text:   make(map[string]bool),
	}
}

// AddColumn appends a column. Adding an existing name replaces its values.
func (t *Table) AddColumn(name string, values []*string, text bool) {
	if _, ok := t.Values[name]; !ok {
		t.Columns = append(t.Columns, name)
	}
	t.Values[name] = values
	t.Text[name] = text
}

// NumRows returns the length of the longest column.
func (t *Table) NumRows() int {
	n := 0
	for _, col := range t.Columns {
		if l := len(t.Values[col]); l > n {
			n = l
		}
	}
	return n
}

// Cell returns the value at row i of col, or nil.
func (t *Table) Cell(col string, i int) *string {
	vals := t.Values[col]
	if i < 0 || i >= len(vals) {
		return nil
	}
	return vals[i]
}

// ProgressSink receives progress from the driver. Calls are serialized and
// processed counts never decrease.
type ProgressSink interface {
	OnProgress(processed int64, label string)
	OnPIIRemoved(delta int64)
}

// Redactor redacts one value.
type Redactor interface {
	Redact(ctx context.Context, text string) redact.Outcome
}

// Config contains batch driver configuration
type Config struct {
	Workers        int `yaml:"workers" mapstructure:"workers"`
	MinValueLength int `yaml:"min_value_length" mapstructure:"min_value_length"`
}

// Result represents the result of processing a table
type Result struct {
	Columns       []string         `json:"columns"`
	TotalValues   int64            `json:"total_values"`
	Processed     int64            `json:"processed"`
	Redacted      int64            `json:"redacted"`
	Skipped       int64            `json:"skipped"`
	Changed       int64            `json:"changed"`
	Tokens        int64            `json:"tokens"`
	Degraded      int64            `json:"degraded"`
	ColumnChanges map[string]int64 `json:"column_changes"`
	Duration      time.Duration    `json:"duration"`
}

type noopSink struct{}

func (noopSink) OnProgress(int64, string) {}
func (noopSink) OnPIIRemoved(int64)       {}
