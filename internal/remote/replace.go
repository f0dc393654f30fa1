package remote

import (
	"regexp"
	"sort"
	"strings"

	"github.com/raaihank/pii-redactor/internal/privacy"
)

// Placeholders from a private-use plane stand in for tokens while
// replacements are in flight, so a later, shorter entity never matches inside
// an inserted token.
const placeholderBase = 0xF0000

func isPlaceholder(r rune) bool {
	return r >= placeholderBase && r <= 0xFFFFD
}

// applyEntities substitutes entity text with tokens, longest text first.
func applyEntities(text string, entities []privacy.Entity) string {
	ordered := make([]privacy.Entity, len(entities))
	copy(ordered, entities)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].Text) > len(ordered[j].Text)
	})

	direct := strings.ContainsFunc(text, isPlaceholder)
	tokens := make([]string, 0, len(ordered))
	for _, e := range ordered {
		tok := e.Replacement()
		if e.Text == "" || tok == "" {
			continue
		}
		if direct {
			text = strings.ReplaceAll(text, e.Text, string(tok))
			continue
		}
		ph := string(rune(placeholderBase + len(tokens)))
		tokens = append(tokens, string(tok))
		text = strings.ReplaceAll(text, e.Text, ph)
	}
	if direct || len(tokens) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if isPlaceholder(r) && int(r-placeholderBase) < len(tokens) {
			b.WriteString(tokens[r-placeholderBase])
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var (
	fallbackPhone = regexp.MustCompile(`0\d{1,2}[-\s]?\d{3,4}[-\s]?\d{4}`)
	fallbackEmail = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	fallbackStaff = regexp.MustCompile(`([가-힣]{2,4})\s+(?:대리|과장|차장|부장|팀장)`)
)

// regexEntities is the in-process extractor used when the endpoint fails.
// It finds phone numbers, emails and name+title pairs.
func regexEntities(text string, guard Guard) []privacy.Entity {
	seen := map[string]bool{}
	var out []privacy.Entity
	add := func(kind privacy.Kind, token privacy.Token, s string, conf float64) {
		if seen[s] {
			return
		}
		seen[s] = true
		out = append(out, privacy.Entity{
			Kind:       kind,
			Text:       s,
			Start:      -1,
			End:        -1,
			Confidence: conf,
			Source:     privacy.SourceRegex,
			Token:      token,
		})
	}

	for _, m := range fallbackPhone.FindAllString(text, -1) {
		add(privacy.KindPhone, "", m, 0.9)
	}
	for _, m := range fallbackEmail.FindAllString(text, -1) {
		add(privacy.KindEmail, "", m, 0.9)
	}
	for _, m := range fallbackStaff.FindAllStringSubmatch(text, -1) {
		if guard != nil && guard.IsProtected(m[1]) {
			continue
		}
		add(privacy.KindPerson, privacy.TokenStaffName, m[0], 0.8)
	}
	return out
}
