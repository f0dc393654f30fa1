package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/raaihank/pii-redactor/internal/batch"
	"github.com/raaihank/pii-redactor/internal/jobs"
	"github.com/raaihank/pii-redactor/internal/redact"
	"github.com/raaihank/pii-redactor/internal/sheet"
	"github.com/raaihank/pii-redactor/internal/store"
)

var (
	fileOutput  string
	fileMode    string
	fileWorkers int
)

var fileCmd = &cobra.Command{
	Use:   "file <input>",
	Short: "Redact a spreadsheet (xlsx, csv, parquet, jsonl)",
	Example: `  redactor file 민원_1월.xlsx
  redactor file complaints.csv --mode regex -o clean.csv
  redactor file export.parquet --workers 8`,
	Args: cobra.ExactArgs(1),
	RunE: runFile,
}

func init() {
	fileCmd.Flags().StringVarP(&fileOutput, "output", "o", "", "Output path (default: <input>_PII_제거완료_<mode> next to the input)")
	fileCmd.Flags().StringVar(&fileMode, "mode", "llm", "Processing mode: llm or regex")
	fileCmd.Flags().IntVar(&fileWorkers, "workers", 0, "Concurrent values (default: batch.workers)")
	rootCmd.AddCommand(fileCmd)
}

func runFile(cmd *cobra.Command, args []string) error {
	input := args[0]
	if sheet.DetectFormat(input) == sheet.FormatUnknown {
		return fmt.Errorf("%w: %s", sheet.ErrUnsupportedFormat, input)
	}
	mode, err := redact.ParseMode(fileMode)
	if err != nil {
		return err
	}

	dest := fileOutput
	if dest == "" {
		dest = filepath.Join(filepath.Dir(input), sheet.OutputName(filepath.Base(input), mode))
	}
	if sheet.DetectFormat(dest) != sheet.DetectFormat(input) {
		return fmt.Errorf("output %s must have the same format as %s", dest, input)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	js, err := a.openJobs()
	if err != nil {
		a.log.Warn("Job history unavailable, keeping it in memory", zap.Error(err))
		js = store.NewMemoryStore()
	}
	defer js.Close()

	// The output is written next to dest so the final rename stays on one filesystem.
	runner := a.newRunner(js, filepath.Dir(dest), fileWorkers)
	printer := newProgressPrinter(os.Stderr)
	runner.SetListener(printer)

	job, res, err := runner.Run(ctx, jobs.Request{InputPath: input, Mode: mode})
	printer.finish()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("cancelled: %w", err)
		}
		return err
	}

	outPath, _, err := runner.Output(job.ID)
	if err != nil {
		return err
	}
	if err := os.Rename(outPath, dest); err != nil {
		runner.Forget(job.ID)
		return fmt.Errorf("failed to move output: %w", err)
	}
	runner.Forget(job.ID)

	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", dest)
	fmt.Fprintf(cmd.ErrOrStderr(), "columns=%v values=%d changed=%d skipped=%d pii_removed=%d degraded=%d duration=%s\n",
		res.Columns, res.TotalValues, res.Changed, res.Skipped, job.PIIRemoved, res.Degraded, res.Duration.Round(time.Millisecond))
	return nil
}

// progressPrinter renders job progress on a terminal, one line redrawn in
// place, or as plain lines otherwise.
type progressPrinter struct {
	mu   sync.Mutex
	out  *os.File
	tty  bool
	last string
}

func newProgressPrinter(out *os.File) *progressPrinter {
	return &progressPrinter{out: out, tty: term.IsTerminal(int(out.Fd()))}
}

func (p *progressPrinter) line(s batch.Snapshot) string {
	return fmt.Sprintf("%5.1f%% %d/%d %s | 남은 시간 %s | %s | 제거 %d건",
		s.Percentage, s.Processed, s.Total, s.Column, s.ETA, s.Speed, s.PIIRemoved)
}

func (p *progressPrinter) JobProgress(_ string, s batch.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	l := p.line(s)
	if p.tty {
		fmt.Fprintf(p.out, "\r\033[K%s", l)
	} else if s.Column != p.last {
		fmt.Fprintln(p.out, l)
	}
	p.last = s.Column
}

func (p *progressPrinter) JobCompleted(_ *store.Job, s batch.Snapshot) {
	p.JobProgress("", s)
}

func (p *progressPrinter) JobFailed(_ *store.Job, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tty {
		fmt.Fprint(p.out, "\r\033[K")
	}
	fmt.Fprintf(p.out, "처리 중 오류 발생: %v\n", err)
}

func (p *progressPrinter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tty && p.last != "" {
		fmt.Fprintln(p.out)
	}
}
