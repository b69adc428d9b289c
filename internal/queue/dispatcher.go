package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"ugcserver/internal/domain"
	"ugcserver/internal/domain/jsoncfg"
	"ugcserver/internal/infra"
)

// Runner executes one job to completion.
type Runner interface {
	Run(ctx context.Context, job *domain.Job) (*domain.VideoAsset, error)
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Concurrency  int
	PollInterval time.Duration
	// Wake, when set, short-circuits the idle wait.
	Wake   <-chan struct{}
	Logger *infra.Logger
}

// Dispatcher claims queued jobs and runs each exactly once on an ants pool.
type Dispatcher struct {
	jobs     domain.JobRepository
	runner   Runner
	pool     *ants.Pool
	slots    chan struct{}
	wake     <-chan struct{}
	interval time.Duration
	logger   *infra.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(jobs domain.JobRepository, runner Runner, opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	logger := infra.LoggerOrDiscard(opts.Logger)
	pool, err := ants.NewPool(opts.Concurrency, ants.WithPanicHandler(func(p any) {
		logger.Error().Str("panic", fmt.Sprint(p)).Msg("dispatcher: panic escaped job handler")
	}))
	if err != nil {
		return nil, fmt.Errorf("dispatcher: create worker pool: %w", err)
	}
	return &Dispatcher{
		jobs:     jobs,
		runner:   runner,
		pool:     pool,
		slots:    make(chan struct{}, opts.Concurrency),
		wake:     opts.Wake,
		interval: opts.PollInterval,
		logger:   logger,
	}, nil
}

// Run claims jobs until ctx is cancelled, then waits for in-flight jobs and
// releases the pool. Cancelling ctx also cancels running jobs.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info().Int("concurrency", cap(d.slots)).Msg("dispatcher: started")
	defer func() {
		d.wg.Wait()
		d.pool.Release()
		d.logger.Info().Msg("dispatcher: stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d.slots <- struct{}{}:
		}

		job, err := d.jobs.ClaimNext(ctx)
		if err != nil {
			<-d.slots
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, domain.ErrNoJobAvailable) {
				d.logger.Error().Err(err).Msg("dispatcher: failed to claim job")
			}
			d.idle(ctx)
			continue
		}

		d.wg.Add(1)
		if err := d.pool.Submit(func() { d.handle(ctx, job) }); err != nil {
			d.wg.Done()
			<-d.slots
			d.logger.Error().Err(err).Str("job_id", job.ID).Msg("dispatcher: submit to pool failed")
			d.finish(ctx, job.ID, nil, fmt.Errorf("dispatch: %w", err))
		}
	}
}

// Running returns the number of jobs currently executing.
func (d *Dispatcher) Running() int {
	return d.pool.Running()
}

// ReapInterrupted fails jobs left running by a previous process for longer
// than olderThan. Jobs are never resumed.
func (d *Dispatcher) ReapInterrupted(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := d.jobs.FailStale(ctx, time.Now().Add(-olderThan), "worker interrupted before completion")
	if err != nil {
		return 0, fmt.Errorf("dispatcher: reap interrupted jobs: %w", err)
	}
	if n > 0 {
		d.logger.Warn().Int64("jobs", n).Msg("dispatcher: failed interrupted jobs")
	}
	return n, nil
}

func (d *Dispatcher) idle(ctx context.Context) {
	t := time.NewTimer(d.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-d.wake:
	case <-t.C:
	}
}

func (d *Dispatcher) handle(ctx context.Context, job *domain.Job) {
	defer d.wg.Done()
	defer func() { <-d.slots }()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Str("job_id", job.ID).Str("panic", fmt.Sprint(r)).Msg("dispatcher: job panicked")
			d.finish(ctx, job.ID, nil, fmt.Errorf("panic: %v", r))
		}
	}()

	d.logger.Info().Str("job_id", job.ID).Msg("dispatcher: picked job")
	asset, err := d.runner.Run(ctx, job)
	d.finish(ctx, job.ID, asset, err)
}

func (d *Dispatcher) finish(ctx context.Context, jobID string, asset *domain.VideoAsset, runErr error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if runErr != nil {
		if err := d.jobs.Fail(writeCtx, jobID, runErr.Error()); err != nil {
			d.logger.Error().Err(err).Str("job_id", jobID).Msg("dispatcher: mark failed")
		}
		d.logger.Info().Str("job_id", jobID).Str("step", string(domain.FailedStep(runErr))).Str("reason", runErr.Error()).Msg("dispatcher: job failed")
		return
	}
	if err := d.jobs.Complete(writeCtx, jobID, jsoncfg.Snapshot(asset)); err != nil {
		if errors.Is(err, domain.ErrStepRegression) {
			d.logger.Warn().Err(err).Str("job_id", jobID).Msg("dispatcher: job was failed while running, result dropped")
			return
		}
		d.logger.Error().Err(err).Str("job_id", jobID).Msg("dispatcher: mark completed")
		return
	}
	d.logger.Info().Str("job_id", jobID).Msg("dispatcher: job completed")
}
