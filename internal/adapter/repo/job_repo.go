package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ugcserver/internal/domain"
	"ugcserver/internal/infra"
	"ugcserver/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository on the generation_job table.
type JobRepositoryPG struct {
	db infra.SQLExecutor
}

// NewJobRepository creates a job repository. db is usually an *infra.SQLRunner.
func NewJobRepository(db infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{db: db}
}

// Create inserts a queued job and fills in the generated sequence and
// timestamps.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	request, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	row := r.db.QueryRow(ctx, sqlinline.QJobInsert, job.ID, job.Request.ProjectID, request)
	if err := row.Scan(&job.Seq, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	job.Step = domain.StepInit
	job.Status = domain.JobStatusQueued
	if job.Steps == nil {
		job.Steps = map[domain.Step]domain.StepSnapshot{}
	}
	return nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := scanJob(r.db.QueryRow(ctx, sqlinline.QJobGetByID, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ClaimNext moves the oldest queued job to running.
func (r *JobRepositoryPG) ClaimNext(ctx context.Context) (*domain.Job, error) {
	job, err := scanJob(r.db.QueryRow(ctx, sqlinline.QJobClaimNext))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNoJobAvailable
		}
		return nil, err
	}
	return job, nil
}

// RecordStep stores snapshot under step and advances the job's current step.
func (r *JobRepositoryPG) RecordStep(ctx context.Context, jobID string, step domain.Step, snapshot domain.StepSnapshot) error {
	if !step.Valid() {
		return fmt.Errorf("record step: unknown step %q", step)
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode step snapshot: %w", err)
	}
	tag, err := r.db.Exec(ctx, sqlinline.QJobRecordStep, jobID, string(step), step.Index(), payload)
	if err != nil {
		return fmt.Errorf("record step: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if err := r.mustExist(ctx, jobID); err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s cannot move to %s", domain.ErrStepRegression, jobID, step)
}

// Complete marks a running job completed with result as its return value.
// A job that already reached completed or failed is left as is.
func (r *JobRepositoryPG) Complete(ctx context.Context, jobID string, result json.RawMessage) error {
	tag, err := r.db.Exec(ctx, sqlinline.QJobComplete, jobID, []byte(result))
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if err := r.mustExist(ctx, jobID); err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is no longer running", domain.ErrStepRegression, jobID)
}

// Fail marks the job failed. Completed jobs are left untouched.
func (r *JobRepositoryPG) Fail(ctx context.Context, jobID string, reason string) error {
	tag, err := r.db.Exec(ctx, sqlinline.QJobFail, jobID, reason)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.mustExist(ctx, jobID)
	}
	return nil
}

func (r *JobRepositoryPG) FailStale(ctx context.Context, before time.Time, reason string) (int64, error) {
	tag, err := r.db.Exec(ctx, sqlinline.QJobFailStale, before, reason)
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *JobRepositoryPG) mustExist(ctx context.Context, jobID string) error {
	var exists bool
	if err := r.db.QueryRow(ctx, sqlinline.QJobExists, jobID).Scan(&exists); err != nil {
		return fmt.Errorf("check job: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job     domain.Job
		step    string
		status  string
		request []byte
		steps   []byte
		result  []byte
		reason  *string
	)
	if err := row.Scan(&job.ID, &job.Seq, &step, &status, &request, &steps, &result, &reason, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	job.Step = domain.Step(step)
	job.Status = domain.JobStatus(status)
	if err := json.Unmarshal(request, &job.Request); err != nil {
		return nil, fmt.Errorf("decode job %s request: %w", job.ID, err)
	}
	job.Steps = map[domain.Step]domain.StepSnapshot{}
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &job.Steps); err != nil {
			return nil, fmt.Errorf("decode job %s steps: %w", job.ID, err)
		}
	}
	if len(result) > 0 {
		job.Result = json.RawMessage(result)
	}
	if reason != nil {
		job.FailedReason = *reason
	}
	return &job, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
