package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ugcserver/internal/domain"
	"ugcserver/internal/domain/jsoncfg"
	"ugcserver/internal/events"
	"ugcserver/internal/infra"
	"ugcserver/internal/providers/fal"
	"ugcserver/internal/providers/wavespeed"
)

// SpeechSynthesizer renders a script with a voice.
type SpeechSynthesizer interface {
	SynthesizeSpeech(ctx context.Context, req fal.SpeechRequest) (*fal.Speech, error)
}

// ImageEditor edits an actor image with a prompt.
type ImageEditor interface {
	EditImage(ctx context.Context, req fal.ImageEditRequest) (*fal.EditedImage, error)
}

// LipSyncer renders talking video asynchronously.
type LipSyncer interface {
	CreatePrediction(ctx context.Context, req wavespeed.PredictionRequest) (*wavespeed.Prediction, error)
	GetPrediction(ctx context.Context, id string) (*wavespeed.Prediction, error)
}

// AssetStore copies remote artifacts into durable buckets.
type AssetStore interface {
	Persist(ctx context.Context, bucket, key, remoteURL string) (string, error)
	PublicURL(bucket, key string) string
}

// Dependencies are the collaborators a run needs.
type Dependencies struct {
	Catalog domain.ActorCatalog
	Jobs    domain.JobRepository
	Assets  domain.VideoAssetRepository
	Bus     events.Bus
	Speech  SpeechSynthesizer
	Images  ImageEditor
	LipSync LipSyncer
	Storage AssetStore
}

// Options tunes polling and storage layout.
type Options struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
	AudioBucket  string
	VideoBucket  string
	Logger       *infra.Logger
	// Now and Sleep replace the wall clock in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Orchestrator runs jobs through the Machine.
type Orchestrator struct {
	deps    Dependencies
	machine Machine
	logger  *infra.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(deps Dependencies, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Catalog == nil:
		return nil, errors.New("pipeline: actor catalog is required")
	case deps.Jobs == nil:
		return nil, errors.New("pipeline: job repository is required")
	case deps.Assets == nil:
		return nil, errors.New("pipeline: asset repository is required")
	case deps.Bus == nil:
		return nil, errors.New("pipeline: event bus is required")
	case deps.Speech == nil || deps.Images == nil || deps.LipSync == nil:
		return nil, errors.New("pipeline: generation clients are required")
	case deps.Storage == nil:
		return nil, errors.New("pipeline: asset store is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 10 * time.Minute
	}
	if opts.AudioBucket == "" {
		opts.AudioBucket = "ugc-audio"
	}
	if opts.VideoBucket == "" {
		opts.VideoBucket = "ugc-video"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &Orchestrator{
		deps: deps,
		machine: Machine{
			PollInterval: opts.PollInterval,
			PollTimeout:  opts.PollTimeout,
			AudioBucket:  opts.AudioBucket,
			VideoBucket:  opts.VideoBucket,
		},
		logger: infra.LoggerOrDiscard(opts.Logger),
		now:    opts.Now,
		sleep:  opts.Sleep,
	}, nil
}

// Run drives job to a terminal state and returns the saved asset. On failure
// the error is a *domain.StepError naming the step that failed.
func (o *Orchestrator) Run(ctx context.Context, job *domain.Job) (*domain.VideoAsset, error) {
	state := NewState(job.ID, job.Request)
	key := events.Key(job.Request.ProjectID, job.ID)
	log := o.logger.With().Str("job_id", job.ID).Str("project_id", job.Request.ProjectID).Logger()

	pending := []Event{Started{}}
	for len(pending) > 0 {
		ev := pending[0]
		pending = pending[1:]

		var effects []Effect
		state, effects = o.machine.Transition(state, ev)
		for _, eff := range effects {
			if next := o.apply(ctx, &log, key, state, eff); next != nil {
				pending = append(pending, next)
			}
		}
	}

	if state.Status != domain.JobStatusCompleted {
		err := state.Err
		if err == nil {
			err = fmt.Errorf("pipeline: job ended at step %s without completing", state.Step)
		}
		log.Warn().Err(err).Str("step", string(domain.FailedStep(err))).Msg("pipeline: job failed")
		return nil, err
	}
	log.Info().Str("video_url", state.VideoURL).Int("polls", state.Polls).Msg("pipeline: job completed")
	return state.Asset, nil
}

func (o *Orchestrator) apply(ctx context.Context, log *infra.Logger, key string, s State, eff Effect) Event {
	switch e := eff.(type) {
	case Emit:
		ev := domain.ProgressEvent{JobID: s.JobID, Step: e.Step, Status: e.Status, Extra: e.Extra}
		if err := o.deps.Bus.Publish(ctx, key, ev); err != nil {
			log.Debug().Err(err).Str("step", string(e.Step)).Msg("pipeline: progress publish failed")
		}
		return nil

	case Record:
		snap := domain.StepSnapshot{
			Status:    e.Status,
			Request:   jsoncfg.Snapshot(e.Request),
			Response:  jsoncfg.Snapshot(e.Response),
			UpdatedAt: o.now().UTC(),
		}
		if err := o.deps.Jobs.RecordStep(ctx, s.JobID, e.Step, snap); err != nil {
			log.Warn().Err(err).Str("step", string(e.Step)).Msg("pipeline: record step failed")
		}
		return nil

	case LoadActor:
		actor, err := o.deps.Catalog.ActorByKey(ctx, e.Key)
		if errors.Is(err, domain.ErrNotFound) {
			return ActorLoaded{}
		}
		if err != nil {
			return Failed{Err: fmt.Errorf("load actor %q: %w", e.Key, err)}
		}
		return ActorLoaded{Actor: actor}

	case LoadVariant:
		variant, err := o.deps.Catalog.ImageVariantByID(ctx, e.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return VariantLoaded{}
		}
		if err != nil {
			return Failed{Err: fmt.Errorf("load image variant %q: %w", e.ID, err)}
		}
		return VariantLoaded{Variant: variant}

	case EditImage:
		img, err := o.deps.Images.EditImage(ctx, fal.ImageEditRequest{ImageURL: e.ImageURL, Prompt: e.Prompt})
		if err != nil {
			return Failed{Err: err}
		}
		return ImageEdited{URL: img.URL}

	case SynthesizeSpeech:
		speech, err := o.deps.Speech.SynthesizeSpeech(ctx, fal.SpeechRequest{Text: e.Text, VoiceID: e.VoiceID})
		if err != nil {
			return Failed{Err: err}
		}
		return SpeechSynthesized{RemoteURL: speech.AudioURL, Duration: speech.DurationSeconds}

	case StoreAudio:
		publicURL, err := o.deps.Storage.Persist(ctx, e.Bucket, e.Key, e.RemoteURL)
		if err != nil {
			return Failed{Err: err}
		}
		return AudioStored{PublicURL: publicURL}

	case ResolveAudio:
		return AudioResolved{PublicURL: o.deps.Storage.PublicURL(e.Bucket, e.Key)}

	case SubmitPrediction:
		pred, err := o.deps.LipSync.CreatePrediction(ctx, wavespeed.PredictionRequest{AudioURL: e.AudioURL, ImageURL: e.ImageURL})
		if err != nil {
			return Failed{Err: err}
		}
		log.Debug().Str("prediction_id", pred.ID).Msg("pipeline: lip-sync prediction submitted")
		return PredictionSubmitted{ID: pred.ID, At: o.now()}

	case PollPrediction:
		if e.Delay > 0 {
			if err := o.sleep(ctx, e.Delay); err != nil {
				return Failed{Err: err}
			}
		}
		pred, err := o.deps.LipSync.GetPrediction(ctx, e.ID)
		if err != nil {
			return Failed{Err: err}
		}
		log.Debug().Str("prediction_id", e.ID).Str("status", string(pred.Status)).Msg("pipeline: lip-sync poll")
		return PredictionPolled{
			Status:   pred.Status,
			VideoURL: pred.Output.VideoURL,
			Duration: pred.Output.Duration,
			Error:    pred.Error,
			At:       o.now(),
		}

	case StoreVideo:
		publicURL, err := o.deps.Storage.Persist(ctx, e.Bucket, e.Key, e.RemoteURL)
		if err != nil {
			return Failed{Err: err}
		}
		return VideoStored{PublicURL: publicURL}

	case SaveAsset:
		if err := o.deps.Assets.Create(ctx, e.Asset); err != nil {
			return Failed{Err: fmt.Errorf("save video asset: %w", err)}
		}
		return AssetSaved{Asset: e.Asset}
	}
	return Failed{Err: fmt.Errorf("pipeline: unknown effect %T", eff)}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
