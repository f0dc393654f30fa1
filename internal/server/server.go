package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/config"
	"github.com/raaihank/pii-redactor/internal/jobs"
	"github.com/raaihank/pii-redactor/internal/logger"
	"github.com/raaihank/pii-redactor/internal/redact"
	"github.com/raaihank/pii-redactor/internal/store"
	"github.com/raaihank/pii-redactor/internal/web"
	"github.com/raaihank/pii-redactor/internal/websocket"
)

// Deps are the collaborators the server routes requests to
type Deps struct {
	Runner   *jobs.Runner
	Jobs     store.JobStore
	Engines  jobs.EngineFunc
	Gatherer prometheus.Gatherer
	Version  string
}

// Server is the upload and redaction HTTP server
type Server struct {
	config    *config.Config
	logger    *logger.Logger
	deps      Deps
	engines   *engineCache
	limiter   *RateLimiter
	router    *mux.Router
	server    *http.Server
	wsHub     *websocket.Hub
	uploadDir string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// UploadDir returns the directory for uploads and outputs, creating it.
func UploadDir(cfg *config.Config) (string, error) {
	dir := cfg.Uploads.TempDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "pii-redactor")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}
	return dir, nil
}

// New creates a new server instance
func New(cfg *config.Config, log *logger.Logger, deps Deps) (*Server, error) {
	if deps.Runner == nil || deps.Jobs == nil || deps.Engines == nil {
		return nil, errors.New("server requires a runner, a job store and an engine factory")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	dir, err := UploadDir(cfg)
	if err != nil {
		return nil, err
	}

	wsHub := websocket.NewHub(websocket.ConfigFrom(cfg.WebSocket), log.WithComponent("websocket").Logger)
	deps.Runner.SetListener(wsHub)

	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("server"),
		deps:      deps,
		engines:   newEngineCache(deps.Engines),
		limiter:   NewRateLimiter(cfg.RateLimit),
		router:    mux.NewRouter(),
		wsHub:     wsHub,
		uploadDir: dir,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods("GET")

	s.router.HandleFunc("/", web.ServeDashboard).Methods("GET")
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods("GET")

	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods("GET")
	}

	s.router.HandleFunc("/progress", s.handleProgress).Methods("GET")
	s.router.HandleFunc("/jobs", s.handleListJobs).Methods("GET")
	s.router.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET")
	s.router.HandleFunc("/download/{id}", s.handleDownload).Methods("GET")

	limited := s.router.NewRoute().Subrouter()
	limited.Use(s.rateLimitMiddleware)
	limited.HandleFunc("/upload", s.handleUpload).Methods("POST")
	limited.HandleFunc("/redact", s.handleRedact).Methods("POST")
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the background routines and the HTTP server. It blocks until
// the server stops.
func (s *Server) Start() error {
	s.logger.Info("Starting PII redaction server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("remote_tier", s.config.Redaction.UseRemoteTier),
		zap.String("model", s.config.Redaction.RemoteModelIdentifier),
		zap.String("upload_dir", s.uploadDir))

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.sweepOutputs(ctx)
	}()
	s.limiter.StartCleanupRoutine(ctx, 30*time.Minute)

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server, running jobs and background routines
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping PII redaction server")

	err := s.server.Shutdown(ctx)
	if jerr := s.deps.Runner.Shutdown(ctx); jerr != nil {
		err = errors.Join(err, fmt.Errorf("jobs did not finish: %w", jerr))
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return errors.Join(err, s.engines.Close())
}

// ResetEngines discards the engines cached for /redact after a
// configuration change.
func (s *Server) ResetEngines() {
	if n := s.engines.Reset(s.logger.Logger); n > 0 {
		s.logger.Info("Discarded cached engines", zap.Int("count", n))
	}
}

// sweepOutputs removes downloads nobody fetched within the retention period
func (s *Server) sweepOutputs(ctx context.Context) {
	interval := s.config.Uploads.SweepInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.deps.Runner.Sweep(now, s.config.Uploads.Retention)
		}
	}
}

// engineCache keeps one engine per mode for single-text requests
type engineCache struct {
	newEngine jobs.EngineFunc
	mu        sync.Mutex
	engines   map[redact.Mode]*cachedEngine
	retired   sync.WaitGroup
}

// cachedEngine counts the requests using an engine so a retired engine is
// closed only after they finish.
type cachedEngine struct {
	engine jobs.Engine
	inUse  sync.WaitGroup
}

func newEngineCache(fn jobs.EngineFunc) *engineCache {
	return &engineCache{newEngine: fn, engines: make(map[redact.Mode]*cachedEngine)}
}

// get returns the engine for mode and a release func the caller must call
// when done with it.
func (c *engineCache) get(ctx context.Context, mode redact.Mode) (jobs.Engine, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ce, ok := c.engines[mode]
	if !ok {
		e, err := c.newEngine(ctx, mode)
		if err != nil {
			return nil, nil, err
		}
		ce = &cachedEngine{engine: e}
		c.engines[mode] = ce
	}
	ce.inUse.Add(1)
	return ce.engine, ce.inUse.Done, nil
}

// drain empties the cache and returns the engines it held
func (c *engineCache) drain() []*cachedEngine {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*cachedEngine, 0, len(c.engines))
	for mode, ce := range c.engines {
		out = append(out, ce)
		delete(c.engines, mode)
	}
	return out
}

// Reset drops the cached engines so the next request builds one from the
// current configuration. Dropped engines close once their requests finish.
func (c *engineCache) Reset(logger *zap.Logger) int {
	old := c.drain()
	for _, ce := range old {
		c.retired.Add(1)
		go func(ce *cachedEngine) {
			defer c.retired.Done()
			ce.inUse.Wait()
			if err := ce.engine.Close(); err != nil {
				logger.Warn("Failed to close retired engine", zap.Error(err))
			}
		}(ce)
	}
	return len(old)
}

func (c *engineCache) Close() error {
	var errs []error
	for _, ce := range c.drain() {
		ce.inUse.Wait()
		errs = append(errs, ce.engine.Close())
	}
	c.retired.Wait()
	return errors.Join(errs...)
}
