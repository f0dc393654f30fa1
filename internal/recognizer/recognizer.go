package recognizer

import (
	"context"
	"fmt"
	"sort"
)

// EntityKind is the label vocabulary of the statistical recognizers.
type EntityKind string

const (
	PersonName    EntityKind = "PERSON_NAME"
	ContactNumber EntityKind = "CONTACT_NUMBER"
	OrgInfo       EntityKind = "ORG_INFO"
	Email         EntityKind = "EMAIL"
	Phone         EntityKind = "PHONE"
)

// Result is one detection. Start and End are byte offsets into the analyzed text.
type Result struct {
	Kind       EntityKind `json:"kind"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
	Score      float64    `json:"score"`
	Recognizer string     `json:"recognizer"`
}

// Recognizer finds entities of the requested kinds at or above minScore.
type Recognizer interface {
	Analyze(ctx context.Context, text string, kinds []EntityKind, minScore float64) ([]Result, error)
}

// Ensemble runs several recognizers and merges their results.
type Ensemble []Recognizer

// Analyze implements Recognizer. Any member failure fails the whole call.
func (e Ensemble) Analyze(ctx context.Context, text string, kinds []EntityKind, minScore float64) ([]Result, error) {
	var all []Result
	for i, r := range e {
		if r == nil {
			continue
		}
		res, err := r.Analyze(ctx, text, kinds, minScore)
		if err != nil {
			return nil, fmt.Errorf("recognizer %d: %w", i, err)
		}
		all = append(all, res...)
	}
	return dedupe(all), nil
}

// dedupe keeps the best score per (kind, span) and orders results by position.
func dedupe(results []Result) []Result {
	type key struct {
		kind       EntityKind
		start, end int
	}
	best := make(map[key]Result, len(results))
	for _, r := range results {
		k := key{r.Kind, r.Start, r.End}
		if cur, ok := best[k]; !ok || r.Score > cur.Score {
			best[k] = r
		}
	}

	out := make([]Result, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		if out[i].End != out[j].End {
			return out[i].End < out[j].End
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

func kindSet(kinds []EntityKind) map[EntityKind]bool {
	if len(kinds) == 0 {
		return nil
	}
	set := make(map[EntityKind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return set
}
