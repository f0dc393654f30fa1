package recognizer

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRecognizer struct {
	results []Result
	err     error
	panics  bool
}

func (f fakeRecognizer) Analyze(_ context.Context, _ string, _ []EntityKind, _ float64) ([]Result, error) {
	if f.panics {
		panic("recognizer exploded")
	}
	return f.results, f.err
}

type fakeTerms map[string]bool

func (t fakeTerms) Contains(s string) bool { return t[s] }

func TestPatternRecognizerContactWithContext(t *testing.T) {
	r := NewDefaultPatternRecognizer()
	text := "문의 전화 031-555-1234"

	res, err := r.Analyze(context.Background(), text, []EntityKind{ContactNumber}, 0.7)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, ContactNumber, res[0].Kind)
	assert.Equal(t, "031-555-1234", text[res[0].Start:res[0].End])
	assert.InDelta(t, 1.0, res[0].Score, 1e-9)
}

func TestPatternRecognizerContextBoost(t *testing.T) {
	r := NewDefaultPatternRecognizer()

	res, err := r.Analyze(context.Background(), "번호 1588-2504", []EntityKind{Phone}, 0.7)
	require.NoError(t, err)
	assert.Empty(t, res)

	res, err = r.Analyze(context.Background(), "대표번호 1588-2504", []EntityKind{Phone}, 0.7)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.InDelta(t, 0.75, res[0].Score, 1e-9)
}

func TestPatternRecognizerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDefaultPatternRecognizer().Analyze(ctx, "someone@example.com", nil, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFallbackRedactsResidualPhone(t *testing.T) {
	f := NewFallback(NewDefaultPatternRecognizer(), fakeTerms{}, DefaultThreshold, zap.NewNop())

	out, err := f.DetectAndRedact(context.Background(), "[담당자명] 연락처 +82 10-1234-5678")
	require.NoError(t, err)
	assert.Equal(t, "[담당자명] 연락처 [연락처]", out)
}

func TestFallbackSkipsPersonDetections(t *testing.T) {
	f := NewFallback(NewDefaultPatternRecognizer(), fakeTerms{}, DefaultThreshold, zap.NewNop())

	out, err := f.DetectAndRedact(context.Background(), "담당자 김철수")
	require.NoError(t, err)
	assert.Equal(t, "담당자 김철수", out)
}

func TestFallbackFiltering(t *testing.T) {
	text := "고객 문의 a@b.kr"
	rec := fakeRecognizer{results: []Result{
		{Kind: Email, Start: 0, End: len("고객"), Score: 0.99},
		{Kind: Email, Start: len("고객 문의 "), End: len(text), Score: 0.5},
	}}
	f := NewFallback(rec, fakeTerms{"고객": true}, 0.7, nil)

	ents, err := f.Detect(context.Background(), text)
	require.NoError(t, err)
	assert.Empty(t, ents)
}

func TestFallbackOverlapKeepsHigherScore(t *testing.T) {
	text := "call 010-1234-5678 now"
	rec := fakeRecognizer{results: []Result{
		{Kind: Phone, Start: 5, End: 18, Score: 0.9},
		{Kind: Email, Start: 9, End: 13, Score: 0.8},
	}}
	f := NewFallback(rec, nil, 0.7, nil)

	out, err := f.DetectAndRedact(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, "call [연락처] now", out)
}

func TestFallbackFailuresReturnInput(t *testing.T) {
	text := "연락처 010-1234-5678"

	tests := []struct {
		name string
		rec  Recognizer
	}{
		{"recognizer error", fakeRecognizer{err: errors.New("boom")}},
		{"recognizer panic", fakeRecognizer{panics: true}},
		{"span out of range", fakeRecognizer{results: []Result{{Kind: Phone, Start: 5, End: 500, Score: 0.9}}}},
		{"span splits rune", fakeRecognizer{results: []Result{{Kind: Phone, Start: 1, End: 4, Score: 0.9}}}},
		{"no recognizer", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFallback(tt.rec, nil, 0.7, zap.NewNop())
			out, err := f.DetectAndRedact(context.Background(), text)
			assert.Equal(t, text, out)
			assert.ErrorIs(t, err, ErrRecognizerFailure)
		})
	}
}

func TestFallbackEmptyInput(t *testing.T) {
	f := NewFallback(fakeRecognizer{panics: true}, nil, 0, nil)
	out, err := f.DetectAndRedact(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestEnsembleMerges(t *testing.T) {
	a := fakeRecognizer{results: []Result{{Kind: Phone, Start: 0, End: 4, Score: 0.7}}}
	b := fakeRecognizer{results: []Result{
		{Kind: Phone, Start: 0, End: 4, Score: 0.9},
		{Kind: Email, Start: 5, End: 9, Score: 0.8},
	}}

	res, err := Ensemble{a, nil, b}.Analyze(context.Background(), "x", nil, 0)
	require.NoError(t, err)

	want := []Result{
		{Kind: Phone, Start: 0, End: 4, Score: 0.9},
		{Kind: Email, Start: 5, End: 9, Score: 0.8},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("ensemble results mismatch (-want +got):\n%s", diff)
	}

	_, err = Ensemble{a, fakeRecognizer{err: errors.New("down")}}.Analyze(context.Background(), "x", nil, 0)
	assert.Error(t, err)
}

type fakeBackend struct {
	results []Result
	ready   bool
}

func (f *fakeBackend) Predict(context.Context, string) ([]Result, error) { return f.results, nil }
func (f *fakeBackend) IsReady() bool                                      { return f.ready }
func (f *fakeBackend) Close() error                                       { f.ready = false; return nil }

func TestNERRecognizer(t *testing.T) {
	backend := &fakeBackend{ready: true, results: []Result{
		{Kind: PersonName, Start: 0, End: 9, Score: 0.95},
		{Kind: Phone, Start: 10, End: 20, Score: 0.6},
		{Kind: Email, Start: 21, End: 30, Score: 0.9},
	}}
	n := NewNERRecognizer(backend)

	res, err := n.Analyze(context.Background(), "x", []EntityKind{Phone, Email}, 0.7)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, Email, res[0].Kind)

	require.NoError(t, n.Close())
	_, err = n.Analyze(context.Background(), "x", nil, 0)
	assert.Error(t, err)
}

func TestEncodeSyllables(t *testing.T) {
	vocab := Vocab{"[CLS]": 1, "[SEP]": 2, "[UNK]": 3, "김": 10}

	enc := encodeSyllables("김철수 씨", vocab, 64)
	assert.Equal(t, []int64{1, 10, 3, 3, 3, 2}, enc.ids)
	assert.Equal(t, [][2]int{{-1, -1}, {0, 3}, {3, 6}, {6, 9}, {10, 13}, {-1, -1}}, enc.offsets)
	assert.Equal(t, []int64{1, 1, 1, 1, 1, 1}, enc.mask)

	short := encodeSyllables("김철수 씨", vocab, 4)
	assert.Equal(t, []int64{1, 10, 3, 2}, short.ids)
}

func TestDecodeBIO(t *testing.T) {
	labels := []string{"O", "B-PER", "I-PER"}
	offsets := [][2]int{{-1, -1}, {0, 3}, {3, 6}, {6, 9}, {10, 13}, {-1, -1}}
	logits := []float32{
		10, 0, 0, // CLS
		0, 10, 0, // 김 B-PER
		0, 0, 10, // 철 I-PER
		0, 0, 10, // 수 I-PER
		10, 0, 0, // 씨 O
		10, 0, 0, // SEP
	}

	res := decodeBIO(logits, labels, offsets)
	require.Len(t, res, 1)
	assert.Equal(t, PersonName, res[0].Kind)
	assert.Equal(t, 0, res[0].Start)
	assert.Equal(t, 9, res[0].End)
	assert.Greater(t, res[0].Score, 0.99)

	assert.Nil(t, decodeBIO(logits[:3], labels, offsets))
}
