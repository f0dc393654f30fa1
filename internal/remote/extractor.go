package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/raaihank/pii-redactor/internal/privacy"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 10 << 20 // 10 MB

// Guard decides whether a candidate is protected vocabulary.
type Guard interface {
	IsProtected(candidate string) bool
}

// Extractor asks a local Ollama-compatible model for PII entities and falls
// back to a small regex extractor when the model cannot answer.
type Extractor struct {
	cfg     Config
	client  *http.Client
	guard   Guard
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates an Extractor. A nil client selects a default http.Client; the
// per-call timeout comes from cfg.Timeout.
func New(cfg Config, client *http.Client, guard Guard, logger *zap.Logger) *Extractor {
	def := DefaultConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = def.MinLength
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = def.MaxLength
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Extractor{
		cfg:     cfg,
		client:  client,
		guard:   guard,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// Model returns the configured model identifier.
func (e *Extractor) Model() string { return e.cfg.Model }

// Ping checks that the endpoint answers /api/tags. A missing model is logged
// but not treated as an error.
func (e *Extractor) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.PingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.Endpoint+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("%w: create request: %w", ErrRemoteUnavailable, err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: tags returned status %d", ErrRemoteUnavailable, resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&tags); err == nil {
		found := false
		for _, m := range tags.Models {
			if m.Name == e.cfg.Model {
				found = true
				break
			}
		}
		if !found {
			e.logger.Warn("Model not listed by remote endpoint", zap.String("model", e.cfg.Model))
		}
	}
	return nil
}

// Extract finds entities in text and returns text with them replaced. It
// never fails: a remote failure yields the regex extractor's result with Err
// set to an ErrRemoteUnavailable.
func (e *Extractor) Extract(ctx context.Context, text string) Result {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < e.cfg.MinLength {
		return Result{Text: text, Source: privacy.SourceRemote}
	}

	start := time.Now()
	raw, err := e.query(ctx, e.promptText(text))
	var entities []privacy.Entity
	if err == nil {
		entities = toEntities(raw, text, e.guard)
		if len(entities) == 0 {
			err = fmt.Errorf("no usable entities in model output")
		}
	}

	if err != nil {
		e.logger.Debug("Remote extraction fell back to regex",
			zap.Error(err),
			zap.Duration("elapsed", time.Since(start)),
		)
		fallback := regexEntities(text, e.guard)
		return Result{
			Text:     applyEntities(text, fallback),
			Entities: fallback,
			Source:   privacy.SourceRegex,
			Err:      fmt.Errorf("%w: %w", ErrRemoteUnavailable, err),
		}
	}

	e.logger.Debug("Remote extraction succeeded",
		zap.Int("entities", len(entities)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return Result{
		Text:     applyEntities(text, entities),
		Entities: entities,
		Source:   privacy.SourceRemote,
	}
}

// promptText truncates text to the configured rune budget.
func (e *Extractor) promptText(text string) string {
	if utf8.RuneCountInString(text) <= e.cfg.MaxLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:e.cfg.MaxLength]) + "..."
}

func buildPrompt(text string) string {
	return "개인정보 찾기. JSON 응답만.\n\n" +
		"텍스트: " + text + "\n\n" +
		"찾기: 이름, 전화번호, 이메일\n" +
		"제외: 지명, 부서명\n\n" +
		`JSON: {"entities":[{"type":"PERSON","text":"이름"}]}`
}

// query performs one generate call. The call is detached from caller
// cancellation and bounded by the configured timeout.
func (e *Extractor) query(ctx context.Context, text string) ([]rawEntity, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.Timeout)
	defer cancel()

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(generateRequest{
		Model:  e.cfg.Model,
		Prompt: buildPrompt(text),
		Stream: false,
		Options: generateOptions{
			Temperature: 0.1,
			NumPredict:  200,
			TopP:        0.9,
			TopK:        40,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generate returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var gen generateResponse
	if err := json.Unmarshal(data, &gen); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return parseEntities(gen.Response)
}
