package batch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FinalLabel is reported once every value has been handled.
const FinalLabel = "완료"

// SelectColumns returns the allow-listed columns present and text-typed in
// the table, in allow-list order. When none match it returns every
// text-typed column in table order.
func SelectColumns(t *Table, allow []string) []string {
	var cols []string
	for _, name := range allow {
		if _, ok := t.Values[name]; ok && t.Text[name] {
			cols = append(cols, name)
		}
	}
	if len(cols) > 0 {
		return cols
	}
	for _, name := range t.Columns {
		if t.Text[name] {
			cols = append(cols, name)
		}
	}
	return cols
}

// totalSetter is implemented by sinks that want the value count up front.
type totalSetter interface {
	SetTotal(total int64)
}

// Driver redacts table columns with a bounded worker pool
type Driver struct {
	redactor Redactor
	config   Config
	sink     ProgressSink
	logger   *zap.Logger

	processed  atomic.Int64
	progressMu sync.Mutex
}

// NewDriver creates a new batch driver. A nil sink discards progress.
func NewDriver(r Redactor, config Config, sink ProgressSink, logger *zap.Logger) *Driver {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.MinValueLength <= 0 {
		config.MinValueLength = DefaultMinValueLength
	}
	if sink == nil {
		sink = noopSink{}
	}
	return &Driver{
		redactor: r,
		config:   config,
		sink:     sink,
		logger:   logger,
	}
}

// Run redacts every value of columns in place. Values that are nil, blank
// or shorter than MinValueLength count as processed but are left alone.
// Cancellation stops scheduling new values; the partial result is returned
// with the context error.
func (d *Driver) Run(ctx context.Context, table *Table, columns []string) (*Result, error) {
	start := time.Now()
	d.processed.Store(0)

	result := &Result{
		Columns:       columns,
		ColumnChanges: make(map[string]int64, len(columns)),
	}
	for _, col := range columns {
		vals, ok := table.Values[col]
		if !ok {
			return nil, fmt.Errorf("unknown column: %s", col)
		}
		for _, v := range vals {
			if v != nil {
				result.TotalValues++
			}
		}
	}
	if ts, ok := d.sink.(totalSetter); ok {
		ts.SetTotal(result.TotalValues)
	}

	d.logger.Info("Starting batch redaction",
		zap.Strings("columns", columns),
		zap.Int64("total_values", result.TotalValues),
		zap.Int("workers", d.config.Workers))

	var redacted, skipped, changed, tokens, degraded atomic.Int64
	columnChanges := make([]atomic.Int64, len(columns))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.config.Workers)

schedule:
	for ci, col := range columns {
		label := fmt.Sprintf("%s (%d/%d)", col, ci+1, len(columns))
		vals := table.Values[col]
		for i := range vals {
			if vals[i] == nil {
				continue
			}
			if gctx.Err() != nil {
				break schedule
			}

			ci, i := ci, i
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}

				v := *vals[i]
				if utf8.RuneCountInString(strings.TrimSpace(v)) < d.config.MinValueLength {
					skipped.Add(1)
					d.report(label, false)
					return nil
				}

				out := d.redactor.Redact(gctx, v)
				redacted.Add(1)
				if len(out.Failures) > 0 {
					degraded.Add(1)
				}
				isChanged := out.Text != v
				if isChanged {
					text := out.Text
					vals[i] = &text
					changed.Add(1)
					tokens.Add(int64(out.Changes))
					columnChanges[ci].Add(1)
				}
				d.report(label, isChanged)
				return nil
			})
		}
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	result.Processed = d.processed.Load()
	result.Redacted = redacted.Load()
	result.Skipped = skipped.Load()
	result.Changed = changed.Load()
	result.Tokens = tokens.Load()
	result.Degraded = degraded.Load()
	for ci, col := range columns {
		result.ColumnChanges[col] = columnChanges[ci].Load()
	}
	result.Duration = time.Since(start)

	if err != nil {
		d.logger.Warn("Batch redaction stopped",
			zap.Int64("processed", result.Processed),
			zap.Int64("total_values", result.TotalValues),
			zap.Error(err))
		return result, fmt.Errorf("batch cancelled: %w", err)
	}

	d.progressMu.Lock()
	d.sink.OnProgress(result.TotalValues, FinalLabel)
	d.progressMu.Unlock()

	d.logger.Info("Batch redaction completed",
		zap.Int64("processed", result.Processed),
		zap.Int64("changed", result.Changed),
		zap.Int64("tokens", result.Tokens),
		zap.Int64("degraded", result.Degraded),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// report bumps the shared counter and notifies the sink. Holding progressMu
// across both keeps the reported sequence monotonic.
func (d *Driver) report(label string, changed bool) {
	d.progressMu.Lock()
	defer d.progressMu.Unlock()

	n := d.processed.Add(1)
	if changed {
		d.sink.OnPIIRemoved(1)
	}
	d.sink.OnProgress(n, label)
}
