package main

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/cache"
	"github.com/raaihank/pii-redactor/internal/config"
	"github.com/raaihank/pii-redactor/internal/jobs"
	"github.com/raaihank/pii-redactor/internal/logger"
	"github.com/raaihank/pii-redactor/internal/metrics"
	"github.com/raaihank/pii-redactor/internal/redact"
	"github.com/raaihank/pii-redactor/internal/sheet"
	"github.com/raaihank/pii-redactor/internal/store"
)

// app holds the components shared by every command
type app struct {
	cfg      atomic.Pointer[config.Config]
	log      *logger.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	cache    cache.Store
	factory  *redact.Factory
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{log: log, registry: prometheus.NewRegistry()}
	a.cfg.Store(cfg)
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	if cfg.Cache.Enabled {
		cs, err := cache.New(&cache.Config{
			Enabled:        cfg.Cache.Enabled,
			Backend:        cfg.Cache.Backend,
			RedisURL:       cfg.Cache.RedisURL,
			MaxConnections: cfg.Cache.MaxConnections,
			MinIdleConns:   cfg.Cache.MinIdleConns,
			DefaultTTL:     cfg.Cache.DefaultTTL,
			MaxEntries:     cfg.Cache.MaxEntries,
			KeyPrefix:      cfg.Cache.KeyPrefix,
			BoltPath:       cfg.Cache.BoltPath,
		}, log.Named("cache"))
		if err != nil {
			log.Warn("Result cache unavailable, continuing without it",
				zap.String("backend", cfg.Cache.Backend),
				zap.Error(err))
		} else {
			a.cache = cs
		}
	}

	client := &http.Client{Timeout: cfg.Remote.Timeout}
	a.factory = redact.NewFactory(log.Named("redact"), a.metrics, a.cache, client)
	return a, nil
}

func (a *app) current() *config.Config {
	return a.cfg.Load()
}

// engines builds engines from the current configuration, so a reloaded
// config applies to the next job.
func (a *app) engines() jobs.EngineFunc {
	return func(ctx context.Context, mode redact.Mode) (jobs.Engine, error) {
		return a.factory.Create(ctx, a.current(), mode)
	}
}

func (a *app) openJobs() (store.JobStore, error) {
	return store.New(a.current().Database, a.log.Named("store"))
}

func (a *app) newRunner(js store.JobStore, outputDir string, workers int) *jobs.Runner {
	return jobs.NewRunner(a.engines(), js, a.metrics, a.runnerConfig(outputDir, workers), a.log.Named("jobs"))
}

func (a *app) runnerConfig(outputDir string, workers int) jobs.Config {
	cfg := a.current()
	if workers <= 0 {
		workers = cfg.Batch.Workers
	}
	return jobs.Config{
		Workers:        workers,
		MinValueLength: cfg.Redaction.MinValueLength,
		TargetColumns:  cfg.Redaction.TargetColumns,
		Retry:          sheet.Retry{MaxRetries: cfg.Batch.MaxRetries, Delay: cfg.Batch.RetryDelay},
		OutputDir:      outputDir,
	}
}

// reload installs next as the current configuration. Listener, upload,
// websocket and rate-limit settings keep their startup values. The runner
// picks up batch settings for its next job and cached engines are dropped
// so the next request is built from next.
func (a *app) reload(next *config.Config, runner *jobs.Runner, outputDir string, resetEngines func()) {
	prev := a.current()
	next.Server = prev.Server
	next.Uploads = prev.Uploads
	next.WebSocket = prev.WebSocket
	next.RateLimit = prev.RateLimit
	a.cfg.Store(next)

	runner.Reconfigure(a.runnerConfig(outputDir, 0))
	if resetEngines != nil {
		resetEngines()
	}
}

func (a *app) close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("Failed to close cache", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}
