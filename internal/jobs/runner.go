package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/batch"
	"github.com/raaihank/pii-redactor/internal/metrics"
	"github.com/raaihank/pii-redactor/internal/redact"
	"github.com/raaihank/pii-redactor/internal/sheet"
	"github.com/raaihank/pii-redactor/internal/store"
)

// ErrUnknownJob is returned for job IDs the runner does not track.
var ErrUnknownJob = errors.New("unknown job")

// Engine is a redaction engine owned by a single job.
type Engine interface {
	batch.Redactor
	Close() error
}

// EngineFunc builds the engine for a processing mode.
type EngineFunc func(ctx context.Context, mode redact.Mode) (Engine, error)

// Listener receives job events. Calls may come from worker goroutines.
type Listener interface {
	JobProgress(id string, s batch.Snapshot)
	JobCompleted(job *store.Job, s batch.Snapshot)
	JobFailed(job *store.Job, err error)
}

// Config contains job runner configuration
type Config struct {
	Workers          int
	MinValueLength   int
	TargetColumns    []string
	Retry            sheet.Retry
	OutputDir        string
	ProgressInterval time.Duration
}

// Request describes one file to redact.
type Request struct {
	InputPath    string
	OriginalName string
	Mode         redact.Mode
	// RemoveInput deletes InputPath once the job ends.
	RemoveInput bool
}

func (req Request) normalized() Request {
	if req.OriginalName == "" {
		req.OriginalName = filepath.Base(req.InputPath)
	}
	if req.Mode == "" {
		req.Mode = redact.ModeLLM
	}
	return req
}

type output struct {
	path     string
	name     string
	finished time.Time
}

// Runner executes file redaction jobs and keeps their progress and outputs
type Runner struct {
	newEngine EngineFunc
	store     store.JobStore
	metrics   *metrics.Metrics
	config    Config
	logger    *zap.Logger

	mu        sync.RWMutex
	listener  Listener
	trackers  map[string]*batch.Tracker
	outputs   map[string]output
	latest    string
	baseCtx   context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRunner creates a new job runner. m may be nil.
func NewRunner(newEngine EngineFunc, js store.JobStore, m *metrics.Metrics, config Config, logger *zap.Logger) *Runner {
	config = config.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		newEngine: newEngine,
		store:     js,
		metrics:   m,
		config:    config,
		logger:    logger,
		trackers:  make(map[string]*batch.Tracker),
		outputs:   make(map[string]output),
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

func (c Config) withDefaults() Config {
	if len(c.TargetColumns) == 0 {
		c.TargetColumns = batch.DefaultTargetColumns
	}
	if c.OutputDir == "" {
		c.OutputDir = os.TempDir()
	}
	return c
}

// Reconfigure replaces the settings used by jobs started afterwards.
// Running jobs keep the settings they started with.
func (r *Runner) Reconfigure(config Config) {
	config = config.withDefaults()
	r.mu.Lock()
	r.config = config
	r.mu.Unlock()
}

func (r *Runner) settings() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

// SetListener registers the receiver of job events.
func (r *Runner) SetListener(l Listener) {
	r.mu.Lock()
	r.listener = l
	r.mu.Unlock()
}

// Start records a job and runs it in the background. The job outlives the
// caller's context and stops only on Shutdown.
func (r *Runner) Start(ctx context.Context, req Request) (*store.Job, error) {
	req = req.normalized()
	job, tracker, err := r.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	snapshot := *job
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.execute(r.baseCtx, job, tracker, req)
	}()

	return &snapshot, nil
}

// Run records and executes a job synchronously.
func (r *Runner) Run(ctx context.Context, req Request) (*store.Job, *batch.Result, error) {
	req = req.normalized()
	job, tracker, err := r.prepare(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	res, err := r.execute(ctx, job, tracker, req)
	return job, res, err
}

func (r *Runner) prepare(ctx context.Context, req Request) (*store.Job, *batch.Tracker, error) {
	if _, err := redact.ParseMode(string(req.Mode)); err != nil {
		return nil, nil, err
	}
	job := &store.Job{
		ID:       uuid.NewString(),
		Filename: filepath.Base(req.OriginalName),
		Mode:     string(req.Mode),
	}
	if err := r.store.Create(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("failed to record job: %w", err)
	}

	tracker := batch.NewTracker(req.OriginalName)
	tracker.SetListener(func(s batch.Snapshot) {
		if l := r.currentListener(); l != nil {
			l.JobProgress(job.ID, s)
		}
	}, r.settings().ProgressInterval)

	r.mu.Lock()
	r.trackers[job.ID] = tracker
	r.latest = job.ID
	r.mu.Unlock()

	return job, tracker, nil
}

func (r *Runner) execute(ctx context.Context, job *store.Job, tracker *batch.Tracker, req Request) (*batch.Result, error) {
	logger := r.logger.With(zap.String("job_id", job.ID), zap.String("filename", job.Filename))
	if req.RemoveInput {
		defer removeQuietly(req.InputPath, logger)
	}

	logger.Info("Starting redaction job", zap.String("mode", job.Mode))
	res, outPath, err := r.process(ctx, req, job, tracker, logger)

	// The history must be written even when ctx was cancelled.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	snapshot := tracker.Snapshot()
	job.PIIRemoved = snapshot.PIIRemoved
	if res != nil {
		job.TotalValues = res.TotalValues
		job.ChangedValues = res.Changed
	}

	if err != nil {
		job.Status = store.StatusFailed
		job.Error = err.Error()
		if ferr := r.store.Finish(recordCtx, job); ferr != nil {
			logger.Warn("Failed to record job failure", zap.Error(ferr))
		}
		r.metrics.ObserveJob(string(store.StatusFailed))
		logger.Error("Redaction job failed", zap.Error(err))
		if l := r.currentListener(); l != nil {
			l.JobFailed(job, err)
		}
		return res, err
	}

	job.Status = store.StatusCompleted
	job.OutputName = sheet.OutputName(req.OriginalName, req.Mode)
	if ferr := r.store.Finish(recordCtx, job); ferr != nil {
		logger.Warn("Failed to record job completion", zap.Error(ferr))
	}

	r.mu.Lock()
	r.outputs[job.ID] = output{path: outPath, name: job.OutputName, finished: time.Now()}
	r.mu.Unlock()

	r.metrics.ObserveJob(string(store.StatusCompleted))
	logger.Info("Redaction job completed",
		zap.Int64("total_values", job.TotalValues),
		zap.Int64("changed_values", job.ChangedValues),
		zap.Int64("pii_removed", job.PIIRemoved),
		zap.String("output", job.OutputName))
	if l := r.currentListener(); l != nil {
		l.JobCompleted(job, snapshot)
	}
	return res, nil
}

// process reads, redacts and writes one file, returning the output path.
func (r *Runner) process(ctx context.Context, req Request, job *store.Job, tracker *batch.Tracker, logger *zap.Logger) (*batch.Result, string, error) {
	cfg := r.settings()
	engine, err := r.newEngine(ctx, req.Mode)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create engine: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("Failed to close engine", zap.Error(err))
		}
	}()

	table, err := sheet.ReadWithRetry(ctx, req.InputPath, cfg.Retry, logger)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", job.Filename, err)
	}

	columns := batch.SelectColumns(table, cfg.TargetColumns)
	logger.Info("Selected columns", zap.Strings("columns", columns), zap.Int("rows", table.NumRows()))

	driver := batch.NewDriver(engine, batch.Config{
		Workers:        cfg.Workers,
		MinValueLength: cfg.MinValueLength,
	}, tracker, logger)
	res, err := driver.Run(ctx, table, columns)
	if err != nil {
		return res, "", err
	}

	outPath := filepath.Join(cfg.OutputDir, job.ID+"_"+sheet.OutputName(req.OriginalName, req.Mode))
	if err := sheet.WriteWithRetry(ctx, outPath, table, cfg.Retry, logger); err != nil {
		return res, "", fmt.Errorf("failed to write output: %w", err)
	}
	return res, outPath, nil
}

func (r *Runner) currentListener() Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listener
}

// Progress returns the snapshot of job id.
func (r *Runner) Progress(id string) (batch.Snapshot, bool) {
	r.mu.RLock()
	t, ok := r.trackers[id]
	r.mu.RUnlock()
	if !ok {
		return batch.Snapshot{}, false
	}
	return t.Snapshot(), true
}

// Latest returns the ID and snapshot of the most recently started job.
func (r *Runner) Latest() (string, batch.Snapshot, bool) {
	r.mu.RLock()
	id := r.latest
	r.mu.RUnlock()
	if id == "" {
		return "", batch.Snapshot{}, false
	}
	s, ok := r.Progress(id)
	return id, s, ok
}

// Output returns the file path and download name of a completed job.
func (r *Runner) Output(id string) (path, name string, err error) {
	r.mu.RLock()
	o, ok := r.outputs[id]
	r.mu.RUnlock()
	if !ok {
		return "", "", ErrUnknownJob
	}
	return o.path, o.name, nil
}

// Forget deletes the output of job id and drops its progress.
func (r *Runner) Forget(id string) {
	r.mu.Lock()
	o, ok := r.outputs[id]
	delete(r.outputs, id)
	delete(r.trackers, id)
	if r.latest == id {
		r.latest = ""
	}
	r.mu.Unlock()

	if ok {
		removeQuietly(o.path, r.logger)
	}
}

// Sweep forgets jobs whose output has been waiting longer than retention.
// It returns the number of outputs removed.
func (r *Runner) Sweep(now time.Time, retention time.Duration) int {
	var expired []string
	r.mu.RLock()
	for id, o := range r.outputs {
		if now.Sub(o.finished) > retention {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range expired {
		r.Forget(id)
	}
	if len(expired) > 0 {
		r.logger.Info("Removed expired outputs", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// Shutdown cancels running jobs and waits for them to record their outcome.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.closeOnce.Do(r.cancel)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func removeQuietly(path string, logger *zap.Logger) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to remove temporary file", zap.String("path", path), zap.Error(err))
	}
}
