package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/config"
	"github.com/raaihank/pii-redactor/internal/jobs"
	"github.com/raaihank/pii-redactor/internal/logger"
	"github.com/raaihank/pii-redactor/internal/metrics"
	"github.com/raaihank/pii-redactor/internal/redact"
	"github.com/raaihank/pii-redactor/internal/sheet"
	"github.com/raaihank/pii-redactor/internal/store"
)

type fakeEngine struct{}

func (fakeEngine) Redact(_ context.Context, text string) redact.Outcome {
	n := strings.Count(text, "홍길동")
	path := redact.PathNone
	if n > 0 {
		path = redact.PathRewrite
	}
	return redact.Outcome{Text: strings.ReplaceAll(text, "홍길동", "[이름]"), Changes: n, Path: path}
}

func (fakeEngine) Close() error { return nil }

type fixture struct {
	server *Server
	runner *jobs.Runner
	jobs   store.JobStore
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	cfg := config.GetDefaults()
	cfg.Uploads.TempDir = t.TempDir()
	cfg.Uploads.MaxBytes = 1 << 20
	if mutate != nil {
		mutate(cfg)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	js := store.NewMemoryStore()
	engines := func(context.Context, redact.Mode) (jobs.Engine, error) { return fakeEngine{}, nil }
	runner := jobs.NewRunner(engines, js, m, jobs.Config{
		Workers:        2,
		MinValueLength: 3,
		Retry:          sheet.Retry{MaxRetries: 1},
		OutputDir:      cfg.Uploads.TempDir,
	}, zap.NewNop())

	s, err := New(cfg, logger.Nop(), Deps{
		Runner:   runner,
		Jobs:     js,
		Engines:  engines,
		Gatherer: reg,
		Version:  "test",
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runner.Shutdown(ctx)
	})
	return &fixture{server: s, runner: runner, jobs: js}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, name, content, mode string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	if mode != "" {
		require.NoError(t, mw.WriteField("processing_mode", mode))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthAndInfo(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = f.do(httptest.NewRequest(http.MethodGet, "/info", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	info := decode(t, rec)
	assert.Equal(t, "pii-redactor", info["name"])
	assert.Equal(t, "test", info["version"])
}

func TestRequestIDIsPropagated(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := f.do(req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestDashboard(t *testing.T) {
	f := newFixture(t, nil)

	for _, path := range []string{"/", "/dashboard"} {
		rec := f.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, rec.Body.String(), "/upload")
	}
}

func TestUploadProcessAndDownload(t *testing.T) {
	f := newFixture(t, nil)

	csv := "민원제목,번호\n홍길동 민원입니다,1\n도로 파손 신고,2\n"
	rec := f.do(uploadRequest(t, "민원.csv", csv, "regex"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	resp := decode(t, rec)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "민원.csv", resp["filename"])
	assert.Equal(t, "regex", resp["processing_mode"])
	id, _ := resp["job_id"].(string)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		_, _, err := f.runner.Output(id)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/progress?job="+id, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 100, decode(t, rec)["percentage"])

	rec = f.do(httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	job := decode(t, rec)
	assert.Equal(t, string(store.StatusCompleted), job["status"])
	assert.EqualValues(t, 1, job["changed_values"])

	rec = f.do(httptest.NewRequest(http.MethodGet, "/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)
	assert.Len(t, list["jobs"], 1)

	outPath, _, err := f.runner.Output(id)
	require.NoError(t, err)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/download/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "utf-8''")
	assert.Contains(t, rec.Body.String(), "[이름] 민원입니다")
	assert.NotContains(t, rec.Body.String(), "홍길동")

	_, err = os.Stat(outPath)
	assert.True(t, os.IsNotExist(err), "output should be removed after download")

	rec = f.do(httptest.NewRequest(http.MethodGet, "/download/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadRejections(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Uploads.MaxBytes = 512
	})

	rec := f.do(uploadRequest(t, "notes.txt", "hello", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])

	rec = f.do(uploadRequest(t, "data.csv", "a\nb\n", "gpt"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(uploadRequest(t, "big.csv", strings.Repeat("x", 2048), ""))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(""))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	rec = f.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressUnknownJob(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/progress?job=missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/progress", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode(t, rec)["processed"])
}

func TestGetJobNotFound(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/jobs/does-not-exist", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRedactEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	body := `{"text":"담당자 홍길동에게 연락","mode":"regex"}`
	rec := f.do(httptest.NewRequest(http.MethodPost, "/redact", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RedactResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "담당자 [이름]에게 연락", resp.Text)
	assert.Equal(t, 1, resp.Changes)
	assert.Equal(t, string(redact.PathRewrite), resp.Path)

	rec = f.do(httptest.NewRequest(http.MethodPost, "/redact", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodPost, "/redact", strings.NewReader(`{"text":"x","mode":"nope"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitedRoutes(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.RequestsPerMinute = 1
		cfg.RateLimit.Burst = 1
	})

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/redact", strings.NewReader(`{"text":"안녕하세요"}`))
		req.RemoteAddr = "10.0.0.1:5555"
		return f.do(req).Code
	}
	assert.Equal(t, http.StatusOK, send())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/redact", strings.NewReader(`{"text":"안녕하세요"}`))
	req.RemoteAddr = "10.0.0.1:5555"
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// health is not limited
	for i := 0; i < 3; i++ {
		hreq := httptest.NewRequest(http.MethodGet, "/health", nil)
		hreq.RemoteAddr = "10.0.0.1:5555"
		assert.Equal(t, http.StatusOK, f.do(hreq).Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(httptest.NewRequest(http.MethodPost, "/redact", strings.NewReader(`{"text":"홍길동"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 2})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("1.1.1.1"))
	assert.True(t, rl.Allow("1.1.1.1"))
	assert.False(t, rl.Allow("1.1.1.1"))

	now = now.Add(2 * time.Second)
	assert.True(t, rl.Allow("1.1.1.1"))

	now = now.Add(2 * time.Hour)
	rl.Cleanup(time.Hour)
	rl.mu.Lock()
	assert.Empty(t, rl.clients)
	rl.mu.Unlock()

	disabled := NewRateLimiter(config.RateLimitConfig{Enabled: false})
	for i := 0; i < 10; i++ {
		assert.True(t, disabled.Allow("2.2.2.2"))
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", getClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", getClientIP(req))
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(config.GetDefaults(), logger.Nop(), Deps{})
	assert.Error(t, err)
}

type taggedEngine struct {
	tag    string
	closed *atomic.Int32
}

func (e taggedEngine) Redact(_ context.Context, text string) redact.Outcome {
	return redact.Outcome{Text: e.tag + ":" + text, Path: redact.PathNone}
}

func (e taggedEngine) Close() error {
	e.closed.Add(1)
	return nil
}

func TestResetEnginesUsesCurrentSettings(t *testing.T) {
	cfg := config.GetDefaults()
	cfg.Uploads.TempDir = t.TempDir()

	var tag atomic.Value
	tag.Store("v1")
	var built, closed atomic.Int32
	engines := func(context.Context, redact.Mode) (jobs.Engine, error) {
		built.Add(1)
		return taggedEngine{tag: tag.Load().(string), closed: &closed}, nil
	}
	js := store.NewMemoryStore()
	runner := jobs.NewRunner(engines, js, nil, jobs.Config{OutputDir: cfg.Uploads.TempDir}, zap.NewNop())
	s, err := New(cfg, logger.Nop(), Deps{Runner: runner, Jobs: js, Engines: engines})
	require.NoError(t, err)

	redactText := func() string {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/redact", strings.NewReader(`{"text":"본문","mode":"regex"}`)))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp RedactResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp.Text
	}

	assert.Equal(t, "v1:본문", redactText())
	assert.Equal(t, "v1:본문", redactText())
	assert.EqualValues(t, 1, built.Load())

	tag.Store("v2")
	s.ResetEngines()
	assert.Equal(t, "v2:본문", redactText())
	assert.EqualValues(t, 2, built.Load())

	require.Eventually(t, func() bool { return closed.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.EqualValues(t, 2, closed.Load())
}
