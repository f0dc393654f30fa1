package batch

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

const calculating = "계산 중..."

// Snapshot is the progress view shown to users.
type Snapshot struct {
	Percentage     float64 `json:"percentage"`
	Processed      int64   `json:"processed"`
	Total          int64   `json:"total"`
	ETA            string  `json:"eta"`
	Speed          string  `json:"speed"`
	Column         string  `json:"column"`
	Filename       string  `json:"filename"`
	PIIRemoved     int64   `json:"pii_removed"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// Tracker implements ProgressSink and derives percentage, ETA and speed.
type Tracker struct {
	mu         sync.Mutex
	filename   string
	total      int64
	processed  int64
	removed    int64
	label      string
	start      time.Time
	now        func() time.Time
	listener   func(Snapshot)
	interval   time.Duration
	lastNotify time.Time
}

// NewTracker starts tracking a file.
func NewTracker(filename string) *Tracker {
	return &Tracker{
		filename: filepath.Base(filename),
		start:    time.Now(),
		now:      time.Now,
		interval: 500 * time.Millisecond,
	}
}

// SetListener registers fn to receive snapshots, at most once per interval
// plus once on completion.
func (t *Tracker) SetListener(fn func(Snapshot), interval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listener = fn
	if interval > 0 {
		t.interval = interval
	}
}

// SetTotal sets the number of values the run will report.
func (t *Tracker) SetTotal(total int64) {
	t.mu.Lock()
	t.total = total
	t.processed = 0
	t.start = t.now()
	t.mu.Unlock()
}

// OnProgress implements ProgressSink. Lower counts than already seen are ignored.
func (t *Tracker) OnProgress(processed int64, label string) {
	t.mu.Lock()
	if processed > t.processed {
		t.processed = processed
	}
	t.label = label
	fn, snap := t.notifyLocked()
	t.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

// OnPIIRemoved implements ProgressSink.
func (t *Tracker) OnPIIRemoved(delta int64) {
	t.mu.Lock()
	t.removed += delta
	t.mu.Unlock()
}

// Snapshot returns the current progress.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) notifyLocked() (func(Snapshot), Snapshot) {
	if t.listener == nil {
		return nil, Snapshot{}
	}
	now := t.now()
	done := t.total > 0 && t.processed >= t.total
	if !done && now.Sub(t.lastNotify) < t.interval {
		return nil, Snapshot{}
	}
	t.lastNotify = now
	return t.listener, t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	s := Snapshot{
		Processed:  t.processed,
		Total:      t.total,
		Column:     t.label,
		Filename:   t.filename,
		PIIRemoved: t.removed,
		ETA:        calculating,
		Speed:      "0.0 건/초",
	}
	if t.total == 0 {
		s.Speed = "0 건/초"
		return s
	}

	pct := float64(t.processed) / float64(t.total) * 100
	if pct > 100 {
		pct = 100
	}
	s.Percentage = float64(int(pct*10+0.5)) / 10

	elapsed := t.now().Sub(t.start).Seconds()
	s.ElapsedSeconds = elapsed
	if elapsed > 0 && t.processed > 0 {
		speed := float64(t.processed) / elapsed
		remaining := t.total - t.processed
		if remaining < 0 {
			remaining = 0
		}
		s.ETA = FormatETA(float64(remaining) / speed)
		s.Speed = fmt.Sprintf("%.1f 건/초", speed)
	}
	return s
}

// FormatETA renders a remaining time in seconds as 초, 분 or 시간 text.
func FormatETA(seconds float64) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%d초", int(seconds))
	case seconds < 3600:
		return fmt.Sprintf("%d분 %d초", int(seconds)/60, int(seconds)%60)
	default:
		return fmt.Sprintf("%d시간 %d분", int(seconds)/3600, int(seconds)%3600/60)
	}
}
