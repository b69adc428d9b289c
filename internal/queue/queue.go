// Package queue accepts generation requests and dispatches them to the
// pipeline. Jobs are durable rows in the job store; the dispatcher claims
// them in sequence order and runs them on a bounded worker pool.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"ugcserver/internal/domain"
	"ugcserver/internal/infra"
)

// Notifier wakes dispatchers after a job is enqueued.
type Notifier interface {
	Notify(ctx context.Context, jobID string) error
}

// Queue is the submission and lookup side of the job queue.
type Queue struct {
	jobs     domain.JobRepository
	notifier Notifier
	logger   *infra.Logger
	newID    func() string
}

func NewQueue(jobs domain.JobRepository, notifier Notifier, logger *infra.Logger) *Queue {
	return &Queue{
		jobs:     jobs,
		notifier: notifier,
		logger:   infra.LoggerOrDiscard(logger),
		newID:    uuid.NewString,
	}
}

// Submit validates req and stores it as a queued job. Invalid requests are
// rejected with domain.ErrValidation and never stored.
func (q *Queue) Submit(ctx context.Context, req domain.GenerationRequest) (*domain.Job, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	job := &domain.Job{
		ID:      q.newID(),
		Request: req,
		Step:    domain.StepInit,
		Status:  domain.JobStatusQueued,
		Steps:   map[domain.Step]domain.StepSnapshot{},
	}
	if err := q.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("queue: store job: %w", err)
	}
	if q.notifier != nil {
		if err := q.notifier.Notify(ctx, job.ID); err != nil {
			q.logger.Warn().Err(err).Str("job_id", job.ID).Msg("queue: wake-up failed, dispatcher will poll")
		}
	}
	q.logger.Info().
		Str("job_id", job.ID).
		Str("project_id", req.ProjectID).
		Str("source_kind", string(req.SourceKind)).
		Msg("queue: job submitted")
	return job, nil
}

// GetJob returns the current state of a job. Malformed ids are reported as
// not found.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrNotFound
	}
	job, err := q.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("queue: load job: %w", err)
	}
	return job, nil
}

// ChannelNotifier wakes an in-process dispatcher.
type ChannelNotifier struct {
	ch chan struct{}
}

func NewChannelNotifier() *ChannelNotifier {
	return &ChannelNotifier{ch: make(chan struct{}, 1)}
}

// Notify never blocks; pending wake-ups coalesce.
func (n *ChannelNotifier) Notify(context.Context, string) error {
	select {
	case n.ch <- struct{}{}:
	default:
	}
	return nil
}

// C is the wake-up channel to hand to a Dispatcher.
func (n *ChannelNotifier) C() <-chan struct{} {
	return n.ch
}
