// Package redact chains the redaction tiers for a single text value: the
// remote extractor, the pattern rewriter and the statistical recognizer.
package redact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/raaihank/pii-redactor/internal/cache"
	"github.com/raaihank/pii-redactor/internal/metrics"
	"github.com/raaihank/pii-redactor/internal/privacy"
	"github.com/raaihank/pii-redactor/internal/remote"
	"github.com/raaihank/pii-redactor/internal/vocabulary"
	"go.uber.org/zap"
)

// TierPolicy decides what happens after the remote tier finds entities.
type TierPolicy string

const (
	// ShortCircuit returns the remote result as soon as it has entities.
	ShortCircuit TierPolicy = "short_circuit"
	// Augment still runs the rewriter and statistical tier over it.
	Augment TierPolicy = "augment"
)

// ParsePolicy validates a policy name. An empty name selects ShortCircuit.
func ParsePolicy(s string) (TierPolicy, error) {
	switch TierPolicy(s) {
	case "", ShortCircuit:
		return ShortCircuit, nil
	case Augment:
		return Augment, nil
	}
	return "", fmt.Errorf("unknown tier policy: %s", s)
}

// State is a step of the per-value state machine.
type State string

const (
	StateStart           State = "START"
	StateRemoteAttempted State = "REMOTE_ATTEMPTED"
	StateRegexPass       State = "REGEX_PASS"
	StateStatisticalPass State = "STATISTICAL_PASS"
	StateDone            State = "DONE"
)

// Path records which tiers produced the final text.
type Path string

const (
	PathNone        Path = "none"
	PathRemote      Path = "remote"
	PathRemoteRegex Path = "remote_regex"
	PathRewrite     Path = "rewrite"
	PathAugmented   Path = "augmented"
	PathRecovered   Path = "recovered"
)

// Tier names used in failures, logs and metrics.
const (
	TierRemote      = "remote"
	TierStatistical = "statistical"
	TierCache       = "cache"
	TierEngine      = "engine"
)

// Failure is a recovered tier error.
type Failure struct {
	Tier string
	Err  error
}

// Outcome is the result of redacting one value.
type Outcome struct {
	Text     string
	Changes  int
	Path     Path
	States   []State
	Failures []Failure
	Cached   bool
}

// Extractor is the remote tier.
type Extractor interface {
	Extract(ctx context.Context, text string) remote.Result
}

// Rewriter is the deterministic pattern tier.
type Rewriter interface {
	RewriteWithStats(text string) privacy.RewriteStats
}

// Statistical is the residual recognizer tier.
type Statistical interface {
	DetectAndRedact(ctx context.Context, text string) (string, error)
}

// Options wires an Engine. Remote, Statistical, Cache and Metrics are
// optional; a nil Rewriter selects the default library and vocabulary.
type Options struct {
	Policy      TierPolicy
	Remote      Extractor
	Rewriter    Rewriter
	Statistical Statistical
	Cache       cache.Store
	Fingerprint string
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	Closers     []io.Closer
}

// Engine redacts text values. It is safe for concurrent use.
type Engine struct {
	policy      TierPolicy
	remote      Extractor
	rewriter    Rewriter
	statistical Statistical
	cache       cache.Store
	fingerprint string
	metrics     *metrics.Metrics
	logger      *zap.Logger
	closers     []io.Closer
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Policy == "" {
		opts.Policy = ShortCircuit
	}
	if opts.Rewriter == nil {
		opts.Rewriter = privacy.NewRewriter(privacy.DefaultLibrary(), vocabulary.NewGuard(), 0, opts.Logger)
	}
	if opts.Fingerprint == "" {
		opts.Fingerprint = fmt.Sprintf("policy=%s|remote=%t", opts.Policy, opts.Remote != nil)
	}
	return &Engine{
		policy:      opts.Policy,
		remote:      opts.Remote,
		rewriter:    opts.Rewriter,
		statistical: opts.Statistical,
		cache:       opts.Cache,
		fingerprint: opts.Fingerprint,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		closers:     opts.Closers,
	}
}

// Policy returns the tier policy.
func (e *Engine) Policy() TierPolicy { return e.policy }

// RemoteEnabled reports whether the remote tier is wired.
func (e *Engine) RemoteEnabled() bool { return e.remote != nil }

// Fingerprint identifies the engine settings that affect output.
func (e *Engine) Fingerprint() string { return e.fingerprint }

// Redact runs the tier chain over text. It never fails: tier errors are
// recorded in Outcome.Failures and a panic returns text unchanged.
func (e *Engine) Redact(ctx context.Context, text string) (out Outcome) {
	out = Outcome{Text: text, Path: PathNone, States: []State{StateStart}}
	if text == "" {
		out.States = append(out.States, StateDone)
		return out
	}

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("%w: %v", ErrPanic, p)
			e.logger.Error("Redaction panicked, returning value unchanged",
				zap.Error(err),
				zap.Int("length", len(text)),
			)
			e.metrics.ObserveFailure(TierEngine, Kind(err))
			out = Outcome{
				Text:     text,
				Path:     PathRecovered,
				States:   []State{StateStart, StateDone},
				Failures: []Failure{{Tier: TierEngine, Err: err}},
			}
		}
	}()

	key := ""
	if e.cache != nil {
		key = cache.Key(e.fingerprint, text)
		if hit, ok := e.lookup(ctx, key); ok {
			out.Text = hit.Text
			out.Changes = hit.Changes
			out.Path = Path(hit.Path)
			out.Cached = true
			out.States = append(out.States, StateDone)
			e.metrics.ObserveValue(string(out.Path), out.Changes)
			return out
		}
	}

	current := text
	changes := 0
	remoteHit := false

	if e.remote != nil {
		out.States = append(out.States, StateRemoteAttempted)
		start := time.Now()
		res := e.remote.Extract(ctx, current)
		e.metrics.ObserveRemote(time.Since(start))

		if res.Err != nil {
			e.fail(&out, TierRemote, res.Err)
		}
		if len(res.Entities) > 0 {
			remoteHit = true
			current = res.Text
			changes = len(res.Entities)
			out.Path = PathRemote
			if res.Source == privacy.SourceRegex {
				out.Path = PathRemoteRegex
			}
		}
	}

	if !remoteHit || e.policy == Augment {
		out.States = append(out.States, StateRegexPass)
		before := privacy.CountTokens(current)
		stats := e.rewriter.RewriteWithStats(current)
		e.metrics.ObservePasses(stats.Passes)
		current = stats.Text

		out.States = append(out.States, StateStatisticalPass)
		if e.statistical != nil {
			redacted, err := e.statistical.DetectAndRedact(ctx, current)
			if err != nil {
				e.fail(&out, TierStatistical, err)
			} else {
				current = redacted
			}
		}

		if added := privacy.CountTokens(current) - before; added > 0 {
			changes += added
		}
		if remoteHit {
			out.Path = PathAugmented
		} else {
			out.Path = PathRewrite
		}
	}

	out.Text = current
	out.Changes = changes
	out.States = append(out.States, StateDone)

	e.metrics.ObserveValue(string(out.Path), out.Changes)
	e.logger.Debug("Value redacted",
		zap.Int("length", len(text)),
		zap.Int("changes", out.Changes),
		zap.String("path", string(out.Path)),
		zap.Int("failures", len(out.Failures)),
	)

	// Degraded results are not cached so a recovered tier gets another chance.
	if e.cache != nil && len(out.Failures) == 0 {
		e.store(ctx, key, out)
	}
	return out
}

// RedactValue redacts an optional value. Nil and empty values are returned
// as they are.
func (e *Engine) RedactValue(ctx context.Context, v *string) *string {
	if v == nil || *v == "" {
		return v
	}
	s := e.Redact(ctx, *v).Text
	return &s
}

// Close releases resources owned by the engine, such as a model backend.
func (e *Engine) Close() error {
	var errs []error
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) fail(out *Outcome, tier string, err error) {
	out.Failures = append(out.Failures, Failure{Tier: tier, Err: err})
	e.metrics.ObserveFailure(tier, Kind(err))
	e.logger.Debug("Tier fell back", zap.String("tier", tier), zap.Error(err))
}

func (e *Engine) lookup(ctx context.Context, key string) (*cache.Entry, bool) {
	hit, ok, err := e.cache.Get(ctx, key)
	switch {
	case err != nil:
		e.metrics.ObserveCache("error")
		e.logger.Warn("Cache lookup failed", zap.Error(err))
		return nil, false
	case !ok:
		e.metrics.ObserveCache("miss")
		return nil, false
	}
	e.metrics.ObserveCache("hit")
	return hit, true
}

func (e *Engine) store(ctx context.Context, key string, out Outcome) {
	err := e.cache.Set(ctx, key, &cache.Entry{Text: out.Text, Changes: out.Changes, Path: string(out.Path)})
	if err != nil {
		e.logger.Warn("Cache store failed", zap.Error(err))
	}
}
