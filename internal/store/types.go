package store

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a redaction job
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrNotFound is returned by Get for unknown job IDs.
var ErrNotFound = errors.New("job not found")

// Job is one file redaction run
type Job struct {
	ID            string     `db:"id" json:"id"`
	Filename      string     `db:"filename" json:"filename"`
	OutputName    string     `db:"output_name" json:"output_name"`
	Mode          string     `db:"mode" json:"mode"`
	Status        Status     `db:"status" json:"status"`
	TotalValues   int64      `db:"total_values" json:"total_values"`
	ChangedValues int64      `db:"changed_values" json:"changed_values"`
	PIIRemoved    int64      `db:"pii_removed" json:"pii_removed"`
	Error         string     `db:"error" json:"error,omitempty"`
	StartedAt     time.Time  `db:"started_at" json:"started_at"`
	FinishedAt    *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// Stats summarizes the job history
type Stats struct {
	TotalJobs     int64 `db:"total_jobs" json:"total_jobs"`
	Running       int64 `db:"running" json:"running"`
	Completed     int64 `db:"completed" json:"completed"`
	Failed        int64 `db:"failed" json:"failed"`
	TotalValues   int64 `db:"total_values" json:"total_values"`
	ChangedValues int64 `db:"changed_values" json:"changed_values"`
	PIIRemoved    int64 `db:"pii_removed" json:"pii_removed"`
}

// JobStore persists job history.
type JobStore interface {
	Migrate(ctx context.Context) error
	// Create inserts job with status running, assigning an ID when empty.
	Create(ctx context.Context, job *Job) error
	// Finish records the final status, counters and error of job.
	Finish(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// List returns up to limit jobs, newest first.
	List(ctx context.Context, limit int) ([]*Job, error)
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}
