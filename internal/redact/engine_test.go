package redact

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/raaihank/pii-redactor/internal/cache"
	"github.com/raaihank/pii-redactor/internal/config"
	"github.com/raaihank/pii-redactor/internal/metrics"
	"github.com/raaihank/pii-redactor/internal/privacy"
	"github.com/raaihank/pii-redactor/internal/remote"
	"github.com/raaihank/pii-redactor/internal/vocabulary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRemote struct {
	result remote.Result
	calls  atomic.Int32
}

func (f *fakeRemote) Extract(_ context.Context, text string) remote.Result {
	f.calls.Add(1)
	r := f.result
	if r.Text == "" {
		r.Text = text
	}
	return r
}

type fakeStatistical func(text string) (string, error)

func (f fakeStatistical) DetectAndRedact(_ context.Context, text string) (string, error) {
	return f(text)
}

type countingRewriter struct {
	inner Rewriter
	calls atomic.Int32
}

func (c *countingRewriter) RewriteWithStats(text string) privacy.RewriteStats {
	c.calls.Add(1)
	return c.inner.RewriteWithStats(text)
}

type panicRewriter struct{}

func (panicRewriter) RewriteWithStats(string) privacy.RewriteStats { panic("boom") }

func defaultRewriter() Rewriter {
	return privacy.NewRewriter(privacy.DefaultLibrary(), vocabulary.NewGuard(), 0, zap.NewNop())
}

func TestRedactScenarios(t *testing.T) {
	e := New(Options{Rewriter: defaultRewriter()})

	tests := []struct {
		name    string
		input   string
		want    string
		changes int
	}{
		{
			name:    "self introduction with phone",
			input:   "제 이름은 김철수이고 연락처는 010-1234-5678입니다.",
			want:    "제 이름은 [이름]이고 연락처는 [연락처]입니다.",
			changes: 2,
		},
		{
			name:    "organization contact block",
			input:   "한국도로공사 군위지사 교통안전팀 (담당자 정제호 대리, 053-714-6461, hazard72@ex.co.kr)으로 문의하여 주시기 바랍니다.",
			want:    "[기관연락처정보]으로 문의하여 주시기 바랍니다.",
			changes: 1,
		},
		{
			name:    "name with phone",
			input:   "박민수(010-9876-5432)입니다.",
			want:    "[이름]([연락처])입니다.",
			changes: 2,
		},
		{
			name:  "protected term",
			input: "고속도로입니다",
			want:  "고속도로입니다",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := e.Redact(context.Background(), tt.input)
			assert.Equal(t, tt.want, out.Text)
			assert.Equal(t, tt.changes, out.Changes)
			assert.Equal(t, PathRewrite, out.Path)
			assert.Empty(t, out.Failures)
			assert.Equal(t, []State{StateStart, StateRegexPass, StateStatisticalPass, StateDone}, out.States)
		})
	}
}

func TestRedactEmptyInvokesNoTier(t *testing.T) {
	rem := &fakeRemote{}
	rw := &countingRewriter{inner: defaultRewriter()}
	e := New(Options{Remote: rem, Rewriter: rw})

	out := e.Redact(context.Background(), "")
	assert.Equal(t, "", out.Text)
	assert.Equal(t, PathNone, out.Path)
	assert.Equal(t, []State{StateStart, StateDone}, out.States)
	assert.Equal(t, int32(0), rem.calls.Load())
	assert.Equal(t, int32(0), rw.calls.Load())
}

func TestRedactShortCircuitsOnRemoteEntities(t *testing.T) {
	rem := &fakeRemote{result: remote.Result{
		Text: "담당자 [이름]([연락처])입니다.",
		Entities: []privacy.Entity{
			{Kind: privacy.KindPerson, Text: "정제호 대리"},
			{Kind: privacy.KindPhone, Text: "053-714-6461"},
		},
		Source: privacy.SourceRemote,
	}}
	rw := &countingRewriter{inner: defaultRewriter()}
	e := New(Options{Remote: rem, Rewriter: rw})

	out := e.Redact(context.Background(), "담당자 정제호 대리(053-714-6461)입니다.")
	assert.Equal(t, "담당자 [이름]([연락처])입니다.", out.Text)
	assert.Equal(t, 2, out.Changes)
	assert.Equal(t, PathRemote, out.Path)
	assert.Equal(t, []State{StateStart, StateRemoteAttempted, StateDone}, out.States)
	assert.Equal(t, int32(0), rw.calls.Load())
}

func TestRedactRemoteRegexFallback(t *testing.T) {
	rem := &fakeRemote{result: remote.Result{
		Text:     "연락처 [연락처]",
		Entities: []privacy.Entity{{Kind: privacy.KindPhone, Text: "010-1234-5678", Source: privacy.SourceRegex}},
		Source:   privacy.SourceRegex,
		Err:      fmt.Errorf("%w: connection refused", remote.ErrRemoteUnavailable),
	}}
	e := New(Options{Remote: rem})

	out := e.Redact(context.Background(), "연락처 010-1234-5678")
	assert.Equal(t, "연락처 [연락처]", out.Text)
	assert.Equal(t, PathRemoteRegex, out.Path)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, TierRemote, out.Failures[0].Tier)
	assert.ErrorIs(t, out.Failures[0].Err, ErrRemoteUnavailable)
}

func TestRedactFallsThroughWithoutRemoteEntities(t *testing.T) {
	rem := &fakeRemote{result: remote.Result{
		Source: privacy.SourceRegex,
		Err:    fmt.Errorf("%w: timeout", remote.ErrRemoteUnavailable),
	}}
	e := New(Options{Remote: rem})

	out := e.Redact(context.Background(), "박민수(010-9876-5432)입니다.")
	assert.Equal(t, "[이름]([연락처])입니다.", out.Text)
	assert.Equal(t, PathRewrite, out.Path)
	assert.Equal(t, []State{StateStart, StateRemoteAttempted, StateRegexPass, StateStatisticalPass, StateDone}, out.States)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, "remote_unavailable", Kind(out.Failures[0].Err))
}

func TestRedactAugmentRunsRewriterAfterRemote(t *testing.T) {
	rem := &fakeRemote{result: remote.Result{
		Text:     "연락처 [연락처], 정제호 대리입니다.",
		Entities: []privacy.Entity{{Kind: privacy.KindPhone, Text: "010-1234-5678"}},
		Source:   privacy.SourceRemote,
	}}
	e := New(Options{Policy: Augment, Remote: rem})

	out := e.Redact(context.Background(), "연락처 010-1234-5678, 정제호 대리입니다.")
	assert.Equal(t, "연락처 [연락처], [담당자명]입니다.", out.Text)
	assert.Equal(t, 2, out.Changes)
	assert.Equal(t, PathAugmented, out.Path)
}

func TestRedactStatisticalTier(t *testing.T) {
	t.Run("residual contact is redacted", func(t *testing.T) {
		e := New(Options{Statistical: fakeStatistical(func(s string) (string, error) {
			return strings.Replace(s, "+82 10-1234-5678", "[연락처]", 1), nil
		})})

		out := e.Redact(context.Background(), "문의: +82 10-1234-5678")
		assert.Equal(t, "문의: [연락처]", out.Text)
		assert.Equal(t, 1, out.Changes)
		assert.Empty(t, out.Failures)
	})

	t.Run("failure keeps rewriter output", func(t *testing.T) {
		e := New(Options{Statistical: fakeStatistical(func(s string) (string, error) {
			return "garbage", fmt.Errorf("%w: model crashed", ErrRecognizerFailure)
		})})

		out := e.Redact(context.Background(), "박민수(010-9876-5432)입니다.")
		assert.Equal(t, "[이름]([연락처])입니다.", out.Text)
		require.Len(t, out.Failures, 1)
		assert.Equal(t, TierStatistical, out.Failures[0].Tier)
		assert.True(t, errors.Is(out.Failures[0].Err, ErrRecognizerFailure))
	})
}

func TestRedactIsTotal(t *testing.T) {
	e := New(Options{})

	rng := rand.New(rand.NewSource(7))
	runes := make([]rune, 10000)
	for i := range runes {
		runes[i] = rune(rng.Intn(0x10FFFF))
	}
	random := string(runes)

	assert.NotPanics(t, func() {
		out := e.Redact(context.Background(), random)
		assert.NotEqual(t, PathRecovered, out.Path)
	})

	assert.Nil(t, e.RedactValue(context.Background(), nil))

	empty := ""
	assert.Same(t, &empty, e.RedactValue(context.Background(), &empty))

	v := "박민수(010-9876-5432)입니다."
	got := e.RedactValue(context.Background(), &v)
	require.NotNil(t, got)
	assert.Equal(t, "[이름]([연락처])입니다.", *got)
	assert.Equal(t, "박민수(010-9876-5432)입니다.", v)
}

func TestRedactRecoversPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	e := New(Options{Rewriter: panicRewriter{}, Metrics: m})

	out := e.Redact(context.Background(), "박민수(010-9876-5432)입니다.")
	assert.Equal(t, "박민수(010-9876-5432)입니다.", out.Text)
	assert.Equal(t, PathRecovered, out.Path)
	require.Len(t, out.Failures, 1)
	assert.ErrorIs(t, out.Failures[0].Err, ErrPanic)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TierFailures.WithLabelValues(TierEngine, "panic")))
}

func TestRedactUsesCache(t *testing.T) {
	store := cache.NewMemoryStore(10, 0)
	rw := &countingRewriter{inner: defaultRewriter()}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	e := New(Options{Rewriter: rw, Cache: store, Metrics: m})

	first := e.Redact(context.Background(), "박민수(010-9876-5432)입니다.")
	second := e.Redact(context.Background(), "박민수(010-9876-5432)입니다.")

	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, first.Changes, second.Changes)
	assert.Equal(t, PathRewrite, second.Path)
	assert.Equal(t, int32(1), rw.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("miss")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Values.WithLabelValues("rewrite")))
}

func TestRedactDoesNotCacheDegradedResults(t *testing.T) {
	store := cache.NewMemoryStore(10, 0)
	rem := &fakeRemote{result: remote.Result{Err: remote.ErrRemoteUnavailable}}
	e := New(Options{Remote: rem, Cache: store})

	e.Redact(context.Background(), "박민수(010-9876-5432)입니다.")
	out := e.Redact(context.Background(), "박민수(010-9876-5432)입니다.")
	assert.False(t, out.Cached)
	assert.Equal(t, int32(2), rem.calls.Load())
}

func TestParsePolicyAndMode(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, ShortCircuit, p)
	p, err = ParsePolicy("augment")
	require.NoError(t, err)
	assert.Equal(t, Augment, p)
	_, err = ParsePolicy("both")
	assert.Error(t, err)

	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeLLM, m)
	m, err = ParseMode("regex")
	require.NoError(t, err)
	assert.Equal(t, ModeRegex, m)
	_, err = ParseMode("ai")
	assert.Error(t, err)
}

func TestFactoryCreate(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"qwen3:8b"}]}`))
	}))
	defer healthy.Close()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	tests := []struct {
		name       string
		endpoint   string
		mode       Mode
		wantRemote bool
	}{
		{"llm mode with healthy endpoint", healthy.URL, ModeLLM, true},
		{"llm mode with failing endpoint", down.URL, ModeLLM, false},
		{"regex mode", healthy.URL, ModeRegex, false},
	}

	f := NewFactory(zap.NewNop(), nil, nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.GetDefaults()
			cfg.Remote.Endpoint = tt.endpoint

			e, err := f.Create(context.Background(), cfg, tt.mode)
			require.NoError(t, err)
			defer e.Close()

			assert.Equal(t, tt.wantRemote, e.RemoteEnabled())
			assert.Equal(t, ShortCircuit, e.Policy())
			assert.Contains(t, e.Fingerprint(), fmt.Sprintf("remote=%t", tt.wantRemote))

			out := e.Redact(context.Background(), "고속도로입니다")
			assert.Equal(t, "고속도로입니다", out.Text)
		})
	}
}

func TestFactoryRejectsBadPolicy(t *testing.T) {
	cfg := config.GetDefaults()
	cfg.Redaction.TierPolicy = "sometimes"
	_, err := NewFactory(zap.NewNop(), nil, nil, nil).Create(context.Background(), cfg, ModeRegex)
	assert.Error(t, err)
}
