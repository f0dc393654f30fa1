package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS redaction_jobs (
	id             UUID PRIMARY KEY,
	filename       TEXT NOT NULL,
	output_name    TEXT NOT NULL DEFAULT '',
	mode           TEXT NOT NULL,
	status         TEXT NOT NULL,
	total_values   BIGINT NOT NULL DEFAULT 0,
	changed_values BIGINT NOT NULL DEFAULT 0,
	pii_removed    BIGINT NOT NULL DEFAULT 0,
	error          TEXT NOT NULL DEFAULT '',
	started_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	finished_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_redaction_jobs_started_at ON redaction_jobs (started_at DESC);`

const jobColumns = `id, filename, output_name, mode, status, total_values, changed_values,
	pii_removed, error, started_at, finished_at`

// PostgresStore handles job history in PostgreSQL
type PostgresStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// New returns a PostgreSQL store when the database is enabled and an
// in-process store otherwise.
func New(cfg config.DatabaseConfig, logger *zap.Logger) (JobStore, error) {
	if !cfg.Enabled {
		logger.Info("Job history kept in memory")
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(cfg, logger)
}

// NewPostgresStore connects, configures the pool and migrates the schema.
func NewPostgresStore(cfg config.DatabaseConfig, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	s := &PostgresStore{
		db:     db,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Job store initialized successfully",
		zap.String("database_url", maskDatabaseURL(cfg.URL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))

	return s, nil
}

// Migrate creates the jobs table if needed
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create redaction_jobs: %w", err)
	}
	return nil
}

// Create inserts a running job
func (s *PostgresStore) Create(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = StatusRunning

	query := `
		INSERT INTO redaction_jobs (id, filename, mode, status)
		VALUES ($1, $2, $3, $4)
		RETURNING started_at`

	if err := s.db.QueryRowContext(ctx, query, job.ID, job.Filename, job.Mode, job.Status).Scan(&job.StartedAt); err != nil {
		s.logger.Error("Failed to insert job", zap.String("job_id", job.ID), zap.Error(err))
		return fmt.Errorf("failed to insert job: %w", err)
	}

	s.logger.Debug("Job created", zap.String("job_id", job.ID), zap.String("filename", job.Filename))
	return nil
}

// Finish records the outcome of a job
func (s *PostgresStore) Finish(ctx context.Context, job *Job) error {
	query := `
		UPDATE redaction_jobs
		SET status = $2, output_name = $3, total_values = $4, changed_values = $5,
			pii_removed = $6, error = $7, finished_at = NOW()
		WHERE id = $1
		RETURNING finished_at`

	var finished time.Time
	err := s.db.QueryRowContext(ctx, query,
		job.ID,
		job.Status,
		job.OutputName,
		job.TotalValues,
		job.ChangedValues,
		job.PIIRemoved,
		job.Error,
	).Scan(&finished)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	job.FinishedAt = &finished
	return nil
}

// Get returns one job
func (s *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	var job Job
	err := s.db.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM redaction_jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// List returns the most recent jobs
func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}

	var jobs []*Job
	query := `SELECT ` + jobColumns + ` FROM redaction_jobs ORDER BY started_at DESC LIMIT $1`
	if err := s.db.SelectContext(ctx, &jobs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// Stats returns job history statistics
func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	query := `
		SELECT
			COUNT(*) AS total_jobs,
			COUNT(CASE WHEN status = 'running' THEN 1 END) AS running,
			COUNT(CASE WHEN status = 'completed' THEN 1 END) AS completed,
			COUNT(CASE WHEN status = 'failed' THEN 1 END) AS failed,
			COALESCE(SUM(total_values), 0) AS total_values,
			COALESCE(SUM(changed_values), 0) AS changed_values,
			COALESCE(SUM(pii_removed), 0) AS pii_removed
		FROM redaction_jobs`

	var stats Stats
	if err := s.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}
	return &stats, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL hides the password in a database URL for logging
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}
	return u.Redacted()
}
