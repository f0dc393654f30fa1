package recognizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/raaihank/pii-redactor/internal/privacy"
	"go.uber.org/zap"
)

// ErrRecognizerFailure marks a failed statistical pass. The text returned
// alongside it is always the unmodified input.
var ErrRecognizerFailure = errors.New("statistical recognizer failure")

// DefaultThreshold is the minimum confidence a detection needs.
const DefaultThreshold = 0.7

// AllowedKinds are requested from the recognizer.
var AllowedKinds = []EntityKind{PersonName, ContactNumber, OrgInfo, Email, Phone}

// ApplyKinds are the only kinds actually redacted. Person and org detections
// are left alone so already-tokenized names are not masked twice.
var ApplyKinds = []EntityKind{Email, Phone, ContactNumber}

// TermSet reports exact membership in the protected vocabulary.
type TermSet interface {
	Contains(term string) bool
}

// Fallback runs a statistical recognizer over already-rewritten text and
// redacts the residual contact details it finds.
type Fallback struct {
	recognizer Recognizer
	terms      TermSet
	threshold  float64
	apply      map[EntityKind]bool
	logger     *zap.Logger
}

// NewFallback creates the statistical tier. A non-positive threshold selects DefaultThreshold.
func NewFallback(r Recognizer, terms TermSet, threshold float64, logger *zap.Logger) *Fallback {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{
		recognizer: r,
		terms:      terms,
		threshold:  threshold,
		apply:      kindSet(ApplyKinds),
		logger:     logger,
	}
}

// Detect returns the detections that would be redacted, as entities.
func (f *Fallback) Detect(ctx context.Context, text string) (entities []privacy.Entity, err error) {
	if text == "" {
		return nil, nil
	}
	defer func() {
		if p := recover(); p != nil {
			entities = nil
			err = fmt.Errorf("%w: panic: %v", ErrRecognizerFailure, p)
		}
	}()

	if f.recognizer == nil {
		return nil, fmt.Errorf("%w: no recognizer configured", ErrRecognizerFailure)
	}
	results, err := f.recognizer.Analyze(ctx, text, AllowedKinds, f.threshold)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRecognizerFailure, err)
	}

	for _, r := range results {
		if r.Score < f.threshold || !f.apply[r.Kind] {
			continue
		}
		if r.Start < 0 || r.End > len(text) || r.Start >= r.End {
			return nil, fmt.Errorf("%w: span [%d,%d) outside text", ErrRecognizerFailure, r.Start, r.End)
		}
		matched := text[r.Start:r.End]
		if f.terms != nil && f.terms.Contains(matched) {
			continue
		}
		entities = append(entities, privacy.Entity{
			Kind:       privacyKind(r.Kind),
			Text:       matched,
			Start:      r.Start,
			End:        r.End,
			Confidence: r.Score,
			Source:     privacy.SourceStatistical,
		})
	}
	return entities, nil
}

// DetectAndRedact replaces surviving detections with canonical tokens. On any
// failure it returns text unchanged together with an ErrRecognizerFailure.
func (f *Fallback) DetectAndRedact(ctx context.Context, text string) (out string, err error) {
	entities, err := f.Detect(ctx, text)
	if err != nil {
		f.logger.Warn("Statistical pass failed, keeping rewritten text", zap.Error(err))
		return text, err
	}
	if len(entities) == 0 {
		return text, nil
	}

	defer func() {
		if p := recover(); p != nil {
			out = text
			err = fmt.Errorf("%w: panic: %v", ErrRecognizerFailure, p)
		}
	}()

	redacted, err := replaceSpans(text, entities)
	if err != nil {
		f.logger.Warn("Statistical replace failed, keeping rewritten text", zap.Error(err))
		return text, fmt.Errorf("%w: %w", ErrRecognizerFailure, err)
	}

	f.logger.Debug("Statistical pass redacted residual entities", zap.Int("count", len(entities)))
	return redacted, nil
}

// replaceSpans resolves overlaps (higher confidence, then longer span wins)
// and splices tokens back to front.
func replaceSpans(text string, entities []privacy.Entity) (string, error) {
	ordered := make([]privacy.Entity, len(entities))
	copy(ordered, entities)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Confidence != ordered[j].Confidence {
			return ordered[i].Confidence > ordered[j].Confidence
		}
		return ordered[i].End-ordered[i].Start > ordered[j].End-ordered[j].Start
	})

	var kept []privacy.Entity
	for _, e := range ordered {
		if e.Replacement() == "" {
			return "", fmt.Errorf("no token for kind %q", e.Kind)
		}
		if !utf8.RuneStart(text[e.Start]) || (e.End < len(text) && !utf8.RuneStart(text[e.End])) {
			return "", fmt.Errorf("span [%d,%d) splits a character", e.Start, e.End)
		}
		overlaps := false
		for _, k := range kept {
			if e.Start < k.End && k.Start < e.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, e)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Start > kept[j].Start })
	for _, e := range kept {
		text = text[:e.Start] + string(e.Replacement()) + text[e.End:]
	}
	return text, nil
}

func privacyKind(k EntityKind) privacy.Kind {
	switch k {
	case Email:
		return privacy.KindEmail
	case Phone, ContactNumber:
		return privacy.KindPhone
	case PersonName:
		return privacy.KindPerson
	case OrgInfo:
		return privacy.KindOrg
	}
	return ""
}
