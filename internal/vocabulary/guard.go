package vocabulary

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Guard answers whether a candidate name-like string is actually domain
// vocabulary and must survive redaction. A Guard is immutable after
// construction and safe for concurrent use.
type Guard struct {
	terms    map[string]struct{}
	suffixes []string
}

// TermsFile is the on-disk shape of an extra protected-terms list.
type TermsFile struct {
	ProtectedTerms []string `yaml:"protected_terms"`
}

// DefaultSuffixes mark modifier phrases ("...하는", "...위한") that are never names.
var DefaultSuffixes = []string{"하는", "되는", "있는", "없는", "같은", "위한"}

// NewGuard builds a guard from the default term set plus any extras.
func NewGuard(extra ...string) *Guard {
	g := &Guard{
		terms:    make(map[string]struct{}, len(defaultTerms)+len(extra)),
		suffixes: DefaultSuffixes,
	}
	for _, t := range defaultTerms {
		g.terms[t] = struct{}{}
	}
	for _, t := range extra {
		if t = strings.TrimSpace(t); t != "" {
			g.terms[t] = struct{}{}
		}
	}
	return g
}

// LoadTermsFile reads extra protected terms from a YAML file.
func LoadTermsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read protected terms file: %w", err)
	}

	var tf TermsFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse protected terms file: %w", err)
	}
	return tf.ProtectedTerms, nil
}

// NewGuardFromFile builds a guard from the defaults and the terms in path.
// An empty path yields the default guard.
func NewGuardFromFile(path string) (*Guard, error) {
	if path == "" {
		return NewGuard(), nil
	}
	extra, err := LoadTermsFile(path)
	if err != nil {
		return nil, err
	}
	return NewGuard(extra...), nil
}

// IsProtected reports whether candidate is a protected term or ends with a
// modifier suffix.
func (g *Guard) IsProtected(candidate string) bool {
	c := strings.TrimSpace(candidate)
	if c == "" {
		return false
	}
	if _, ok := g.terms[c]; ok {
		return true
	}
	for _, s := range g.suffixes {
		if strings.HasSuffix(c, s) {
			return true
		}
	}
	return false
}

// Contains reports exact membership, without suffix matching.
func (g *Guard) Contains(term string) bool {
	_, ok := g.terms[strings.TrimSpace(term)]
	return ok
}

// Len returns the number of protected terms.
func (g *Guard) Len() int {
	return len(g.terms)
}
