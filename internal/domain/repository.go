package domain

import (
	"context"
	"encoding/json"
	"time"
)

// JobRepository is the durable Job Record Store. Each method mutates only the
// row of the job it names.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	// ClaimNext atomically moves the oldest queued job to running. It returns
	// ErrNoJobAvailable when nothing is queued.
	ClaimNext(ctx context.Context) (*Job, error)
	// RecordStep stores a step transition. Moving to an earlier step returns
	// ErrStepRegression.
	RecordStep(ctx context.Context, jobID string, step Step, snapshot StepSnapshot) error
	Complete(ctx context.Context, jobID string, result json.RawMessage) error
	Fail(ctx context.Context, jobID string, reason string) error
	// FailStale fails running jobs not updated since before.
	FailStale(ctx context.Context, before time.Time, reason string) (int64, error)
}

// VideoAssetRepository persists pipeline outputs.
type VideoAssetRepository interface {
	// Create inserts the asset; a second insert for the same ID returns
	// ErrAssetExists.
	Create(ctx context.Context, asset *VideoAsset) error
	GetByID(ctx context.Context, id string) (*VideoAsset, error)
}

// ActorCatalog is the read-only actor/project lookup used by the pipeline.
type ActorCatalog interface {
	ActorByKey(ctx context.Context, key string) (*Actor, error)
	ImageVariantByID(ctx context.Context, id string) (*ImageVariant, error)
}
