package redact

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/raaihank/pii-redactor/internal/cache"
	"github.com/raaihank/pii-redactor/internal/config"
	"github.com/raaihank/pii-redactor/internal/metrics"
	"github.com/raaihank/pii-redactor/internal/privacy"
	"github.com/raaihank/pii-redactor/internal/recognizer"
	"github.com/raaihank/pii-redactor/internal/remote"
	"github.com/raaihank/pii-redactor/internal/vocabulary"
	"go.uber.org/zap"
)

// Mode is the processing mode chosen per job.
type Mode string

const (
	// ModeLLM tries the remote model first when the config enables it.
	ModeLLM Mode = "llm"
	// ModeRegex uses the rewriter and statistical tier only.
	ModeRegex Mode = "regex"
)

// ParseMode validates a mode name. An empty name selects ModeLLM.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeLLM:
		return ModeLLM, nil
	case ModeRegex:
		return ModeRegex, nil
	}
	return "", fmt.Errorf("unknown processing mode: %s (must be llm or regex)", s)
}

// Factory creates engines from configuration
type Factory struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	cache   cache.Store
	client  *http.Client
}

// NewFactory creates a new engine factory. store and m may be nil; a nil
// client selects a default http.Client for the remote tier.
func NewFactory(logger *zap.Logger, m *metrics.Metrics, store cache.Store, client *http.Client) *Factory {
	return &Factory{
		logger:  logger,
		metrics: m,
		cache:   store,
		client:  client,
	}
}

// Create builds an engine for mode. When the remote health check fails the
// engine is built without the remote tier.
func (f *Factory) Create(ctx context.Context, cfg *config.Config, mode Mode) (*Engine, error) {
	policy, err := ParsePolicy(cfg.Redaction.TierPolicy)
	if err != nil {
		return nil, err
	}

	guard, err := vocabulary.NewGuardFromFile(cfg.Redaction.ProtectedTermsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load protected terms: %w", err)
	}

	rewriter := privacy.NewRewriter(privacy.DefaultLibrary(), guard, cfg.Redaction.PassBudget, f.logger.Named("rewriter"))

	rec, closers := f.createRecognizer(cfg.Recognizer)
	statistical := recognizer.NewFallback(rec, guard, cfg.Redaction.ConfidenceThreshold, f.logger.Named("statistical"))

	opts := Options{
		Policy:      policy,
		Rewriter:    rewriter,
		Statistical: statistical,
		Cache:       f.cache,
		Metrics:     f.metrics,
		Logger:      f.logger.Named("engine"),
		Closers:     closers,
	}

	useRemote := mode == ModeLLM && cfg.Redaction.UseRemoteTier
	if useRemote {
		extractor := remote.New(remote.Config{
			Endpoint:          cfg.Remote.Endpoint,
			Model:             cfg.Redaction.RemoteModelIdentifier,
			Timeout:           cfg.Remote.Timeout,
			MinLength:         cfg.Remote.MinLength,
			MaxLength:         cfg.Remote.MaxLength,
			RequestsPerSecond: cfg.Remote.RequestsPerSecond,
			Burst:             cfg.Remote.Burst,
		}, f.client, guard, f.logger.Named("remote"))

		if cfg.Remote.HealthCheck {
			if err := extractor.Ping(ctx); err != nil {
				f.logger.Warn("Remote model unavailable, continuing with pattern tiers",
					zap.String("endpoint", cfg.Remote.Endpoint),
					zap.Error(err))
				useRemote = false
			}
		}
		if useRemote {
			opts.Remote = extractor
		}
	}

	opts.Fingerprint = fmt.Sprintf("policy=%s|remote=%t|model=%s|passes=%d|threshold=%.3f|backend=%s|terms=%d",
		policy, useRemote, cfg.Redaction.RemoteModelIdentifier, rewriter.PassBudget(),
		cfg.Redaction.ConfidenceThreshold, cfg.Recognizer.Backend, guard.Len())

	f.logger.Info("Created redaction engine",
		zap.String("mode", string(mode)),
		zap.String("policy", string(policy)),
		zap.Bool("remote", useRemote),
		zap.String("recognizer", cfg.Recognizer.Backend),
		zap.Bool("cache", f.cache != nil))

	return New(opts), nil
}

// createRecognizer returns the statistical recognizer for the configured
// backend. An unavailable model degrades to the pattern registry.
func (f *Factory) createRecognizer(cfg config.RecognizerConfig) (recognizer.Recognizer, []io.Closer) {
	patterns := recognizer.NewDefaultPatternRecognizer()
	if cfg.Backend != "onnx" {
		return patterns, nil
	}

	backend := recognizer.NewBackend(f.logger.Named("onnx"), recognizer.BackendConfig{
		ModelPath: cfg.ModelPath,
		VocabPath: cfg.VocabPath,
		Labels:    cfg.Labels,
		MaxLength: cfg.MaxLength,
	})
	if backend == nil {
		f.logger.Warn("ONNX recognizer unavailable, using pattern recognizer",
			zap.String("model_path", cfg.ModelPath))
		return patterns, nil
	}

	ner := recognizer.NewNERRecognizer(backend)
	return recognizer.Ensemble{patterns, ner}, []io.Closer{ner}
}
