package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
	"cardgen/internal/sqlinline"
)

// JobRepositoryPG records generation jobs in card_jobs.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a job repository on top of a marker-checked executor.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a new job record and assigns job.RecordID when empty.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.GenerationJob) error {
	if job.RecordID == "" {
		job.RecordID = uuid.NewString()
	}
	_, err := r.sql.Exec(ctx, sqlinline.QInsertCardJob,
		job.RecordID,
		job.ID,
		job.Prompt,
		job.Style,
		job.Width,
		job.Height,
		string(job.Status),
		job.ErrorDetail,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repo: insert card job: %w", err)
	}
	return nil
}

// UpdateStatus stores the job's current status, external id and error detail.
func (r *JobRepositoryPG) UpdateStatus(ctx context.Context, job *domain.GenerationJob) error {
	if job.RecordID == "" {
		return fmt.Errorf("repo: update card job: record id is empty")
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdateCardJobStatus,
		job.RecordID,
		string(job.Status),
		job.ID,
		job.ErrorDetail,
	)
	if err != nil {
		return fmt.Errorf("repo: update card job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID fetches a job by its record identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, recordID string) (*domain.GenerationJob, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectCardJob, recordID)
	var (
		job    domain.GenerationJob
		status string
	)
	if err := row.Scan(
		&job.RecordID,
		&job.ID,
		&job.Prompt,
		&job.Style,
		&job.Width,
		&job.Height,
		&status,
		&job.ErrorDetail,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("repo: get card job: %w", err)
	}
	job.Status = domain.JobStatus(status)
	return &job, nil
}

var (
	_ domain.JobRecorder = (*JobRepositoryPG)(nil)
	_ domain.JobReader   = (*JobRepositoryPG)(nil)
)
