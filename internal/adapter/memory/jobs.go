// Package memory holds in-process implementations of the domain stores for
// development and tests. Nothing survives a restart.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ugcserver/internal/domain"
)

// JobStore implements domain.JobRepository.
type JobStore struct {
	mu   sync.Mutex
	seq  int64
	jobs map[string]*domain.Job
	now  func() time.Time
}

func NewJobStore() *JobStore {
	return NewJobStoreWithClock(time.Now)
}

// NewJobStoreWithClock stamps created and updated times with now.
func NewJobStoreWithClock(now func() time.Time) *JobStore {
	return &JobStore{jobs: make(map[string]*domain.Job), now: now}
}

func (s *JobStore) Create(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	now := s.now().UTC()
	job.Seq = s.seq
	job.Step = domain.StepInit
	job.Status = domain.JobStatusQueued
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Steps == nil {
		job.Steps = make(map[domain.Step]domain.StepSnapshot)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *JobStore) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(job), nil
}

// ClaimNext picks the queued job with the lowest sequence number.
func (s *JobStore) ClaimNext(_ context.Context) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next *domain.Job
	for _, job := range s.jobs {
		if job.Status != domain.JobStatusQueued {
			continue
		}
		if next == nil || job.Seq < next.Seq {
			next = job
		}
	}
	if next == nil {
		return nil, domain.ErrNoJobAvailable
	}
	next.Status = domain.JobStatusRunning
	next.UpdatedAt = s.now().UTC()
	return cloneJob(next), nil
}

func (s *JobStore) RecordStep(_ context.Context, jobID string, step domain.Step, snapshot domain.StepSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if !step.Valid() || step.Index() < job.Step.Index() || job.Status.Terminal() {
		return domain.ErrStepRegression
	}
	job.Step = step
	job.Steps[step] = snapshot
	job.UpdatedAt = s.now().UTC()
	return nil
}

func (s *JobStore) Complete(_ context.Context, jobID string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != domain.JobStatusRunning {
		return fmt.Errorf("%w: job %s is %s", domain.ErrStepRegression, jobID, job.Status)
	}
	job.Status = domain.JobStatusCompleted
	job.Step = domain.StepFinalize
	job.Result = append(json.RawMessage(nil), result...)
	job.UpdatedAt = s.now().UTC()
	return nil
}

func (s *JobStore) Fail(_ context.Context, jobID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status == domain.JobStatusCompleted {
		return nil
	}
	job.Status = domain.JobStatusFailed
	job.FailedReason = reason
	job.UpdatedAt = s.now().UTC()
	return nil
}

func (s *JobStore) FailStale(_ context.Context, before time.Time, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, job := range s.jobs {
		if job.Status == domain.JobStatusRunning && job.UpdatedAt.Before(before) {
			job.Status = domain.JobStatusFailed
			job.FailedReason = reason
			job.UpdatedAt = s.now().UTC()
			n++
		}
	}
	return n, nil
}

func cloneJob(j *domain.Job) *domain.Job {
	out := *j
	out.Steps = make(map[domain.Step]domain.StepSnapshot, len(j.Steps))
	for k, v := range j.Steps {
		out.Steps[k] = v
	}
	if j.Result != nil {
		out.Result = append(json.RawMessage(nil), j.Result...)
	}
	if j.Request.Origin != nil {
		origin := *j.Request.Origin
		out.Request.Origin = &origin
	}
	return &out
}

var _ domain.JobRepository = (*JobStore)(nil)
