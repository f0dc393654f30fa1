package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps job history in process. It is used when no database is
// configured, so history is lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string
	now   func() time.Time
}

// NewMemoryStore creates an empty in-process job store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }

func (m *MemoryStore) Create(_ context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = m.now()
	}
	job.Status = StatusRunning

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		m.order = append(m.order, job.ID)
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *MemoryStore) Finish(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	finished := m.now()
	job.FinishedAt = &finished

	stored.Status = job.Status
	stored.OutputName = job.OutputName
	stored.TotalValues = job.TotalValues
	stored.ChangedValues = job.ChangedValues
	stored.PIIRemoved = job.PIIRemoved
	stored.Error = job.Error
	stored.FinishedAt = &finished
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var jobs []*Job
	for i := len(m.order) - 1; i >= 0; i-- {
		if limit > 0 && len(jobs) >= limit {
			break
		}
		cp := *m.jobs[m.order[i]]
		jobs = append(jobs, &cp)
	}
	return jobs, nil
}

func (m *MemoryStore) Stats(context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{TotalJobs: int64(len(m.jobs))}
	for _, job := range m.jobs {
		switch job.Status {
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
		stats.TotalValues += job.TotalValues
		stats.ChangedValues += job.ChangedValues
		stats.PIIRemoved += job.PIIRemoved
	}
	return stats, nil
}

func (m *MemoryStore) Close() error { return nil }
