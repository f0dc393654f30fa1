package privacy

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// DefaultPassBudget bounds the fixed-point loop.
const DefaultPassBudget = 5

// Guard decides whether a captured candidate is protected vocabulary.
type Guard interface {
	IsProtected(candidate string) bool
}

type noGuard struct{}

func (noGuard) IsProtected(string) bool { return false }

// RewriteStats describes one Rewrite call.
type RewriteStats struct {
	Text      string
	Passes    int
	Converged bool
	Hits      map[string]int
}

// Rewriter applies the rule library repeatedly until the text stops changing.
// It holds no mutable state and is safe for concurrent use.
type Rewriter struct {
	library    *Library
	guard      Guard
	passBudget int
	logger     *zap.Logger
}

// NewRewriter creates a rewriter. A nil library selects DefaultLibrary, a nil
// guard protects nothing, and a non-positive budget selects DefaultPassBudget.
func NewRewriter(library *Library, guard Guard, passBudget int, logger *zap.Logger) *Rewriter {
	if library == nil {
		library = DefaultLibrary()
	}
	if guard == nil {
		guard = noGuard{}
	}
	if passBudget <= 0 {
		passBudget = DefaultPassBudget
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("Pattern rewriter initialized",
		zap.Int("rules", library.Len()),
		zap.Int("pass_budget", passBudget),
	)

	return &Rewriter{
		library:    library,
		guard:      guard,
		passBudget: passBudget,
		logger:     logger,
	}
}

// PassBudget returns the configured pass budget.
func (r *Rewriter) PassBudget() int { return r.passBudget }

// Rewrite returns text with every rule applied to a fixed point or until the
// pass budget runs out.
func (r *Rewriter) Rewrite(text string) string {
	return r.RewriteWithStats(text).Text
}

// RewriteWithStats is Rewrite with pass and rule-hit accounting.
func (r *Rewriter) RewriteWithStats(text string) RewriteStats {
	stats := RewriteStats{Text: text, Hits: map[string]int{}}
	if text == "" {
		stats.Converged = true
		return stats
	}

	current := text
	for pass := 1; pass <= r.passBudget; pass++ {
		snapshot := current
		stats.Passes = pass

		for _, category := range Categories() {
			for _, rule := range r.library.RulesFor(category) {
				var n int
				current, n = r.applyRule(rule, current)
				if n > 0 {
					stats.Hits[rule.Name] += n
					r.logger.Debug("Rule applied",
						zap.String("rule", rule.Name),
						zap.String("category", category.String()),
						zap.Int("pass", pass),
						zap.Int("count", n),
					)
				}
			}
		}

		if current == snapshot {
			stats.Converged = true
			break
		}
	}

	if !stats.Converged {
		r.logger.Debug("Pass budget exhausted before fixed point",
			zap.Int("pass_budget", r.passBudget),
			zap.Int("length", len(text)),
		)
	}

	stats.Text = current
	return stats
}

// applyRule runs one rule over text and returns the result and the number of
// replacements made.
func (r *Rewriter) applyRule(rule DetectionRule, text string) (string, int) {
	if !rule.filtered() {
		locs := rule.Pattern.FindAllStringIndex(text, -1)
		if len(locs) == 0 {
			return text, 0
		}
		return rule.Pattern.ReplaceAllLiteralString(text, string(rule.Replacement.token)), len(locs)
	}

	locs := rule.Pattern.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return text, 0
	}

	// Splice back to front so earlier offsets stay valid.
	count := 0
	for i := len(locs) - 1; i >= 0; i-- {
		loc := locs[i]
		if !r.accept(rule, text, loc) {
			continue
		}
		m := newMatch(text, loc)
		text = text[:loc[0]] + rule.Replacement.Apply(m) + text[loc[1]:]
		count++
	}
	return text, count
}

func (r *Rewriter) accept(rule DetectionRule, text string, loc []int) bool {
	start, end := loc[0], loc[1]
	hasGroup := len(loc) >= 4 && loc[2] >= 0

	if rule.Guarded && hasGroup && r.guard.IsProtected(text[loc[2]:loc[3]]) {
		return false
	}
	if rule.WordStart && hasGroup && loc[2] == start && start > 0 {
		prev, _ := utf8.DecodeLastRuneInString(text[:start])
		if IsHangulSyllable(prev) {
			return false
		}
	}
	if rule.NotFollowedBy != nil && rule.NotFollowedBy.MatchString(text[end:]) {
		return false
	}
	return true
}

func newMatch(text string, loc []int) Match {
	start := loc[0]
	n := len(loc) / 2
	m := Match{
		Text:   text[loc[0]:loc[1]],
		Groups: make([]string, n),
		spans:  make([][2]int, n),
	}
	for g := 0; g < n; g++ {
		s, e := loc[2*g], loc[2*g+1]
		if s < 0 {
			m.spans[g] = [2]int{-1, -1}
			continue
		}
		m.Groups[g] = text[s:e]
		m.spans[g] = [2]int{s - start, e - start}
	}
	return m
}

// IsHangulSyllable reports whether r is a precomposed Hangul syllable.
func IsHangulSyllable(r rune) bool {
	return r >= 0xAC00 && r <= 0xD7A3
}

// CountTokens returns how many canonical tokens appear in text.
func CountTokens(text string) int {
	if !strings.Contains(text, "[") {
		return 0
	}
	n := 0
	for _, t := range Tokens() {
		n += strings.Count(text, string(t))
	}
	return n
}
