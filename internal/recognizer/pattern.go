package recognizer

import (
	"context"
	"regexp"
	"strings"
)

const (
	// DefaultContextBoost is added to a pattern score when a context word
	// precedes the match.
	DefaultContextBoost = 0.35
	// DefaultMinContextScore is the floor for a context-boosted score.
	DefaultMinContextScore = 0.4
	// DefaultContextWindow is how many runes before a match are searched for context words.
	DefaultContextWindow = 24
)

// Pattern is a scored regular expression. Group selects the capture group
// that forms the entity span; zero means the whole match.
type Pattern struct {
	Name     string
	Regex    *regexp.Regexp
	Score    float64
	Group    int
	Validate func(match string) bool
}

// PatternGroup is a named set of patterns detecting one entity kind.
type PatternGroup struct {
	Name     string
	Kind     EntityKind
	Patterns []Pattern
	Context  []string
}

// PatternRecognizer scores regular-expression matches and boosts them when
// context words appear nearby.
type PatternRecognizer struct {
	groups          []PatternGroup
	contextBoost    float64
	minContextScore float64
	contextWindow   int
}

// NewPatternRecognizer builds a recognizer over the given groups.
func NewPatternRecognizer(groups ...PatternGroup) *PatternRecognizer {
	return &PatternRecognizer{
		groups:          groups,
		contextBoost:    DefaultContextBoost,
		minContextScore: DefaultMinContextScore,
		contextWindow:   DefaultContextWindow,
	}
}

// Groups returns the registered pattern groups.
func (p *PatternRecognizer) Groups() []PatternGroup {
	return p.groups
}

// Analyze implements Recognizer.
func (p *PatternRecognizer) Analyze(ctx context.Context, text string, kinds []EntityKind, minScore float64) ([]Result, error) {
	if text == "" {
		return nil, nil
	}
	allowed := kindSet(kinds)

	var results []Result
	for _, g := range p.groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if allowed != nil && !allowed[g.Kind] {
			continue
		}

		for _, pat := range g.Patterns {
			for _, loc := range pat.Regex.FindAllStringSubmatchIndex(text, -1) {
				start, end := loc[0], loc[1]
				if pat.Group > 0 {
					if 2*pat.Group+1 >= len(loc) || loc[2*pat.Group] < 0 {
						continue
					}
					start, end = loc[2*pat.Group], loc[2*pat.Group+1]
				}
				if start == end {
					continue
				}
				if pat.Validate != nil && !pat.Validate(text[start:end]) {
					continue
				}

				score := pat.Score
				if p.hasContext(text, loc[0], g.Context) {
					score = min(score+p.contextBoost, 1.0)
					score = max(score, p.minContextScore)
				}
				if score < minScore {
					continue
				}

				results = append(results, Result{
					Kind:       g.Kind,
					Start:      start,
					End:        end,
					Score:      score,
					Recognizer: g.Name + "/" + pat.Name,
				})
			}
		}
	}

	return dedupe(results), nil
}

// hasContext reports whether any context word occurs in the window before pos.
func (p *PatternRecognizer) hasContext(text string, pos int, words []string) bool {
	if len(words) == 0 {
		return false
	}
	prefix := []rune(text[:pos])
	if len(prefix) > p.contextWindow {
		prefix = prefix[len(prefix)-p.contextWindow:]
	}
	window := strings.ToLower(string(prefix))
	for _, w := range words {
		if strings.Contains(window, strings.ToLower(w)) {
			return true
		}
	}
	return false
}
