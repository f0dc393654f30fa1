package recognizer

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"strings"
)

// Backend runs token-classification inference and returns entity spans.
// Implementations may use ONNX Runtime or another engine.
type Backend interface {
	// Predict returns entities found in text with byte offsets.
	Predict(ctx context.Context, text string) ([]Result, error)
	// IsReady returns whether the backend is initialized and ready.
	IsReady() bool
	// Close releases any native resources.
	Close() error
}

// BackendConfig describes a syllable-level token-classification model.
type BackendConfig struct {
	ModelPath string
	VocabPath string
	Labels    []string // BIO labels in model output order, e.g. O, B-PER, I-PER
	MaxLength int
}

// NERRecognizer adapts a Backend to the Recognizer interface.
type NERRecognizer struct {
	backend Backend
}

// NewNERRecognizer wraps backend.
func NewNERRecognizer(backend Backend) *NERRecognizer {
	return &NERRecognizer{backend: backend}
}

// Analyze implements Recognizer.
func (n *NERRecognizer) Analyze(ctx context.Context, text string, kinds []EntityKind, minScore float64) ([]Result, error) {
	if n.backend == nil || !n.backend.IsReady() {
		return nil, fmt.Errorf("ner backend not ready")
	}
	res, err := n.backend.Predict(ctx, text)
	if err != nil {
		return nil, err
	}

	allowed := kindSet(kinds)
	out := res[:0]
	for _, r := range res {
		if allowed != nil && !allowed[r.Kind] {
			continue
		}
		if r.Score < minScore {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Close releases the backend.
func (n *NERRecognizer) Close() error {
	if n.backend == nil {
		return nil
	}
	return n.backend.Close()
}

const (
	tokenCLS = "[CLS]"
	tokenSEP = "[SEP]"
	tokenUNK = "[UNK]"
	tokenPAD = "[PAD]"
)

// Vocab maps syllable tokens to input ids.
type Vocab map[string]int64

// LoadVocab reads a vocabulary file with one token per line; the line index is the id.
func LoadVocab(path string) (Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocab: %w", err)
	}
	defer f.Close()

	v := Vocab{}
	sc := bufio.NewScanner(f)
	var id int64
	for sc.Scan() {
		v[strings.TrimRight(sc.Text(), "\r")] = id
		id++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocab: %w", err)
	}
	return v, nil
}

func (v Vocab) id(tok string) int64 {
	if id, ok := v[tok]; ok {
		return id
	}
	return v[tokenUNK]
}

// encoded is a tokenized input. offsets[i] is the byte span of token i in the
// source text, or {-1,-1} for special tokens.
type encoded struct {
	ids     []int64
	mask    []int64
	offsets [][2]int
}

// encodeSyllables emits one token per non-space rune, framed by CLS and SEP,
// truncated to maxLength.
func encodeSyllables(text string, vocab Vocab, maxLength int) encoded {
	if maxLength < 3 {
		maxLength = 3
	}
	e := encoded{
		ids:     []int64{vocab.id(tokenCLS)},
		offsets: [][2]int{{-1, -1}},
	}
	for i, r := range text {
		if len(e.ids) >= maxLength-1 {
			break
		}
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		e.ids = append(e.ids, vocab.id(string(r)))
		e.offsets = append(e.offsets, [2]int{i, i + len(string(r))})
	}
	e.ids = append(e.ids, vocab.id(tokenSEP))
	e.offsets = append(e.offsets, [2]int{-1, -1})

	e.mask = make([]int64, len(e.ids))
	for i := range e.mask {
		e.mask[i] = 1
	}
	return e
}

// decodeBIO turns per-token logits into entity spans. logits is a flat
// [seq, len(labels)] slice.
func decodeBIO(logits []float32, labels []string, offsets [][2]int) []Result {
	numLabels := len(labels)
	if numLabels == 0 || len(logits) < len(offsets)*numLabels {
		return nil
	}

	var (
		results []Result
		cur     *Result
		probSum float64
		count   int
	)
	flush := func() {
		if cur != nil && count > 0 {
			cur.Score = probSum / float64(count)
			results = append(results, *cur)
		}
		cur, probSum, count = nil, 0, 0
	}

	for i, off := range offsets {
		if off[0] < 0 {
			flush()
			continue
		}
		label, prob := argmaxSoftmax(logits[i*numLabels:(i+1)*numLabels], labels)
		prefix, tag := splitLabel(label)
		kind, known := labelKind(tag)

		switch {
		case prefix == "B" && known:
			flush()
			cur = &Result{Kind: kind, Start: off[0], End: off[1], Recognizer: "ner/" + tag}
			probSum, count = prob, 1
		case prefix == "I" && known && cur != nil && cur.Kind == kind:
			cur.End = off[1]
			probSum += prob
			count++
		case prefix == "I" && known:
			flush()
			cur = &Result{Kind: kind, Start: off[0], End: off[1], Recognizer: "ner/" + tag}
			probSum, count = prob, 1
		default:
			flush()
		}
	}
	flush()
	return results
}

func argmaxSoftmax(row []float32, labels []string) (string, float64) {
	maxIdx := 0
	for i := range row {
		if row[i] > row[maxIdx] {
			maxIdx = i
		}
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v - row[maxIdx]))
	}
	return labels[maxIdx], 1 / sum
}

func splitLabel(label string) (prefix, tag string) {
	if len(label) > 2 && (label[0] == 'B' || label[0] == 'I') && label[1] == '-' {
		return label[:1], label[2:]
	}
	return "", label
}

func labelKind(tag string) (EntityKind, bool) {
	switch strings.ToUpper(tag) {
	case "PER", "PS", "PERSON":
		return PersonName, true
	case "PHONE", "TEL", "TEL_NO":
		return Phone, true
	case "EMAIL", "MAIL":
		return Email, true
	case "ORG", "OG":
		return OrgInfo, true
	case "CONTACT":
		return ContactNumber, true
	}
	return "", false
}
