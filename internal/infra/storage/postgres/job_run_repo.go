package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/careloop/jobs/internal/core/domain"
)

// JobRunRepo implements storage.JobRunRepository using PostgreSQL.
type JobRunRepo struct {
	db *DB
}

// NewJobRunRepo creates a new PostgreSQL job run repository.
func NewJobRunRepo(db *DB) *JobRunRepo {
	return &JobRunRepo{db: db}
}

type jobRunRow struct {
	JobName             string    `db:"job_name"`
	LastRun             time.Time `db:"last_run"`
	LastStatus          string    `db:"last_status"`
	ExecutionCount      int64     `db:"execution_count"`
	ConsecutiveFailures int       `db:"consecutive_failures"`
	LastDurationMs      int64     `db:"last_duration_ms"`
	LastProcessed       int       `db:"last_processed"`
	LastSucceeded       int       `db:"last_succeeded"`
	LastFailed          int       `db:"last_failed"`
	LastError           string    `db:"last_error"`
	NodeID              string    `db:"node_id"`
	UpdatedAt           time.Time `db:"updated_at"`
}

func (r jobRunRow) toDomain() *domain.JobRun {
	return &domain.JobRun{
		JobName:             domain.JobName(r.JobName),
		LastRun:             r.LastRun,
		LastStatus:          domain.RunStatus(r.LastStatus),
		ExecutionCount:      r.ExecutionCount,
		ConsecutiveFailures: r.ConsecutiveFailures,
		LastDuration:        time.Duration(r.LastDurationMs) * time.Millisecond,
		LastProcessed:       r.LastProcessed,
		LastSucceeded:       r.LastSucceeded,
		LastFailed:          r.LastFailed,
		LastError:           r.LastError,
		NodeID:              r.NodeID,
		UpdatedAt:           r.UpdatedAt,
	}
}

const jobRunColumns = `
	job_name, last_run, last_status, execution_count, consecutive_failures,
	last_duration_ms, last_processed, last_succeeded, last_failed, last_error,
	node_id, updated_at
`

// Get returns the execution record for a job, nil if none exists.
func (r *JobRunRepo) Get(ctx context.Context, name domain.JobName) (*domain.JobRun, error) {
	query := `SELECT ` + jobRunColumns + ` FROM job_runs WHERE job_name = $1`

	var row jobRunRow
	err := r.db.GetContext(ctx, &row, query, string(name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job run: %w", err)
	}
	return row.toDomain(), nil
}

// Upsert writes the execution record for a job.
func (r *JobRunRepo) Upsert(ctx context.Context, run *domain.JobRun) error {
	query := `
		INSERT INTO job_runs (` + jobRunColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (job_name) DO UPDATE SET
			last_run = EXCLUDED.last_run,
			last_status = EXCLUDED.last_status,
			execution_count = EXCLUDED.execution_count,
			consecutive_failures = EXCLUDED.consecutive_failures,
			last_duration_ms = EXCLUDED.last_duration_ms,
			last_processed = EXCLUDED.last_processed,
			last_succeeded = EXCLUDED.last_succeeded,
			last_failed = EXCLUDED.last_failed,
			last_error = EXCLUDED.last_error,
			node_id = EXCLUDED.node_id,
			updated_at = NOW()
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		string(run.JobName),
		run.LastRun,
		string(run.LastStatus),
		run.ExecutionCount,
		run.ConsecutiveFailures,
		run.LastDuration.Milliseconds(),
		run.LastProcessed,
		run.LastSucceeded,
		run.LastFailed,
		run.LastError,
		run.NodeID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert job run: %w", err)
	}
	return nil
}

// GetAll returns all execution records.
func (r *JobRunRepo) GetAll(ctx context.Context) ([]*domain.JobRun, error) {
	query := `SELECT ` + jobRunColumns + ` FROM job_runs ORDER BY job_name`

	var rows []jobRunRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to get job runs: %w", err)
	}

	runs := make([]*domain.JobRun, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, row.toDomain())
	}
	return runs, nil
}
