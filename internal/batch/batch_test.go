package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raaihank/pii-redactor/internal/redact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func strp(s string) *string { return &s }

type fakeRedactor struct {
	calls atomic.Int32
}

func (f *fakeRedactor) Redact(_ context.Context, text string) redact.Outcome {
	f.calls.Add(1)
	n := strings.Count(text, "홍길동")
	return redact.Outcome{
		Text:    strings.ReplaceAll(text, "홍길동", "[이름]"),
		Changes: n,
		Path:    redact.PathRewrite,
	}
}

type recordingSink struct {
	mu        sync.Mutex
	progress  []int64
	labels    []string
	removed   int64
	total     int64
	monotonic bool
}

func newRecordingSink() *recordingSink { return &recordingSink{monotonic: true} }

func (s *recordingSink) SetTotal(total int64) { s.total = total }

func (s *recordingSink) OnProgress(processed int64, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.progress); n > 0 && processed < s.progress[n-1] {
		s.monotonic = false
	}
	s.progress = append(s.progress, processed)
	s.labels = append(s.labels, label)
}

func (s *recordingSink) OnPIIRemoved(delta int64) {
	s.mu.Lock()
	s.removed += delta
	s.mu.Unlock()
}

func sampleTable() *Table {
	t := NewTable()
	t.AddColumn("번호", []*string{strp("1"), strp("2"), strp("3"), strp("4")}, false)
	t.AddColumn("민원제목", []*string{strp("홍길동 민원"), nil, strp("ab"), strp("요금 문의")}, true)
	t.AddColumn("질문내용", []*string{strp("담당 홍길동입니다"), strp("   "), strp("문의드립니다"), nil}, true)
	t.AddColumn("비고", []*string{strp("홍길동"), nil, nil, nil}, true)
	return t
}

func TestSelectColumns(t *testing.T) {
	table := sampleTable()
	assert.Equal(t, []string{"민원제목", "질문내용"}, SelectColumns(table, DefaultTargetColumns))

	assert.Equal(t, []string{"민원제목", "질문내용", "비고"}, SelectColumns(table, []string{"답변내용"}))

	numericOnly := NewTable()
	numericOnly.AddColumn("민원제목", []*string{strp("1")}, false)
	numericOnly.AddColumn("내용", []*string{strp("텍스트")}, true)
	assert.Equal(t, []string{"내용"}, SelectColumns(numericOnly, DefaultTargetColumns))
}

func TestDriverRun(t *testing.T) {
	table := sampleTable()
	sink := newRecordingSink()
	r := &fakeRedactor{}
	d := NewDriver(r, Config{Workers: 3}, sink, zap.NewNop())

	res, err := d.Run(context.Background(), table, []string{"민원제목", "질문내용"})
	require.NoError(t, err)

	assert.Equal(t, int64(6), res.TotalValues)
	assert.Equal(t, int64(6), res.Processed)
	assert.Equal(t, int64(2), res.Skipped)
	assert.Equal(t, int64(4), res.Redacted)
	assert.Equal(t, int64(2), res.Changed)
	assert.Equal(t, int64(2), res.Tokens)
	assert.Equal(t, map[string]int64{"민원제목": 1, "질문내용": 1}, res.ColumnChanges)
	assert.Equal(t, int32(4), r.calls.Load())

	assert.Equal(t, "[이름] 민원", *table.Cell("민원제목", 0))
	assert.Nil(t, table.Cell("민원제목", 1))
	assert.Equal(t, "ab", *table.Cell("민원제목", 2))
	assert.Equal(t, "담당 [이름]입니다", *table.Cell("질문내용", 0))
	assert.Equal(t, "   ", *table.Cell("질문내용", 1))
	// columns outside the selection are untouched
	assert.Equal(t, "홍길동", *table.Cell("비고", 0))

	assert.Equal(t, int64(6), sink.total)
	assert.True(t, sink.monotonic)
	assert.Equal(t, int64(2), sink.removed)
	assert.Equal(t, int64(6), sink.progress[len(sink.progress)-1])
	assert.Equal(t, FinalLabel, sink.labels[len(sink.labels)-1])
	assert.Contains(t, sink.labels, "민원제목 (1/2)")
	assert.Contains(t, sink.labels, "질문내용 (2/2)")
}

func TestDriverManyValuesConcurrently(t *testing.T) {
	const n = 500
	values := make([]*string, n)
	for i := range values {
		values[i] = strp(fmt.Sprintf("%d번 민원 홍길동", i))
	}
	table := NewTable()
	table.AddColumn("답변내용", values, true)

	sink := newRecordingSink()
	d := NewDriver(&fakeRedactor{}, Config{Workers: 8}, sink, zap.NewNop())

	res, err := d.Run(context.Background(), table, []string{"답변내용"})
	require.NoError(t, err)
	assert.Equal(t, int64(n), res.Processed)
	assert.Equal(t, int64(n), res.Changed)
	assert.True(t, sink.monotonic)
	for i := range values {
		assert.Equal(t, fmt.Sprintf("%d번 민원 [이름]", i), *table.Cell("답변내용", i))
	}
}

func TestDriverCancelled(t *testing.T) {
	table := sampleTable()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := newRecordingSink()
	d := NewDriver(&fakeRedactor{}, Config{Workers: 2}, sink, zap.NewNop())
	res, err := d.Run(ctx, table, []string{"민원제목"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, res)
	assert.Less(t, res.Processed, res.TotalValues)
	assert.NotContains(t, sink.labels, FinalLabel)
	assert.Equal(t, "홍길동 민원", *table.Cell("민원제목", 0))
}

func TestDriverUnknownColumn(t *testing.T) {
	d := NewDriver(&fakeRedactor{}, Config{}, nil, zap.NewNop())
	_, err := d.Run(context.Background(), sampleTable(), []string{"없는컬럼"})
	assert.Error(t, err)
}

func TestTrackerSnapshot(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tr := NewTracker("/tmp/uploads/민원.xlsx")
	tr.now = func() time.Time { return now }

	empty := tr.Snapshot()
	assert.Equal(t, "계산 중...", empty.ETA)
	assert.Equal(t, "0 건/초", empty.Speed)
	assert.Equal(t, "민원.xlsx", empty.Filename)

	tr.SetTotal(100)
	now = now.Add(10 * time.Second)
	tr.OnProgress(25, "민원제목 (1/3)")
	tr.OnProgress(20, "민원제목 (1/3)")
	tr.OnPIIRemoved(3)

	s := tr.Snapshot()
	assert.Equal(t, int64(25), s.Processed)
	assert.Equal(t, 25.0, s.Percentage)
	assert.Equal(t, "2.5 건/초", s.Speed)
	assert.Equal(t, "30초", s.ETA)
	assert.Equal(t, "민원제목 (1/3)", s.Column)
	assert.Equal(t, int64(3), s.PIIRemoved)
}

func TestTrackerListenerThrottles(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tr := NewTracker("a.csv")
	tr.now = func() time.Time { return now }

	var got []Snapshot
	tr.SetListener(func(s Snapshot) { got = append(got, s) }, time.Second)
	tr.SetTotal(3)

	tr.OnProgress(1, "c")
	tr.OnProgress(2, "c")
	tr.OnProgress(3, "c")

	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Processed)
	assert.Equal(t, int64(3), got[1].Processed)
	assert.Equal(t, 100.0, got[1].Percentage)
}

func TestFormatETA(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "0초"},
		{59.9, "59초"},
		{61, "1분 1초"},
		{3599, "59분 59초"},
		{3725, "1시간 2분"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatETA(tt.seconds))
	}
}
