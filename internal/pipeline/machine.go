// Package pipeline drives one generation job through its steps. The step
// logic is a pure transition function over State; the Orchestrator executes
// the effects it returns and feeds the outcomes back in as events.
package pipeline

import (
	"errors"
	"fmt"
	"math"
	"time"

	"ugcserver/internal/domain"
	"ugcserver/internal/providers/wavespeed"
)

// State is everything the pipeline knows about a job in flight.
type State struct {
	JobID   string
	Request domain.GenerationRequest
	Step    domain.Step
	Status  domain.JobStatus

	Actor          *domain.Actor
	ImageURL       string
	AudioURL       string
	SpeechDuration float64

	PredictionID  string
	Deadline      time.Time
	Polls         int
	VideoURL      string
	VideoDuration float64

	Asset *domain.VideoAsset
	Err   error
}

// NewState returns the initial state of a claimed job.
func NewState(jobID string, req domain.GenerationRequest) State {
	return State{JobID: jobID, Request: req, Step: domain.StepInit, Status: domain.JobStatusQueued}
}

// Done reports whether no further events are accepted.
func (s State) Done() bool {
	return s.Status.Terminal()
}

// Event is an outcome fed into Transition.
type Event interface{ event() }

type (
	Started struct{}
	ActorLoaded struct{ Actor *domain.Actor }
	VariantLoaded struct{ Variant *domain.ImageVariant }
	ImageEdited struct{ URL string }
	SpeechSynthesized struct {
		RemoteURL string
		Duration  float64
	}
	AudioStored struct{ PublicURL string }
	AudioResolved struct{ PublicURL string }
	PredictionSubmitted struct {
		ID string
		At time.Time
	}
	PredictionPolled struct {
		Status   wavespeed.Status
		VideoURL string
		Duration float64
		Error    string
		At       time.Time
	}
	VideoStored struct{ PublicURL string }
	AssetSaved struct{ Asset *domain.VideoAsset }
	Failed struct{ Err error }
)

func (Started) event()             {}
func (ActorLoaded) event()         {}
func (VariantLoaded) event()       {}
func (ImageEdited) event()         {}
func (SpeechSynthesized) event()   {}
func (AudioStored) event()         {}
func (AudioResolved) event()       {}
func (PredictionSubmitted) event() {}
func (PredictionPolled) event()    {}
func (VideoStored) event()         {}
func (AssetSaved) event()          {}
func (Failed) event()              {}

// Effect is work requested by Transition. Effects that call a collaborator
// produce exactly one follow-up Event; Emit and Record produce none.
type Effect interface{ effect() }

type (
	Emit struct {
		Step   domain.Step
		Status domain.JobStatus
		Extra  map[string]any
	}
	Record struct {
		Step     domain.Step
		Status   domain.JobStatus
		Request  any
		Response any
	}
	LoadActor struct{ Key string }
	LoadVariant struct{ ID string }
	EditImage struct {
		ImageURL string
		Prompt   string
	}
	SynthesizeSpeech struct {
		Text    string
		VoiceID string
	}
	StoreAudio struct {
		Bucket    string
		Key       string
		RemoteURL string
	}
	ResolveAudio struct {
		Bucket string
		Key    string
	}
	SubmitPrediction struct {
		AudioURL string
		ImageURL string
	}
	PollPrediction struct {
		ID    string
		Delay time.Duration
	}
	StoreVideo struct {
		Bucket    string
		Key       string
		RemoteURL string
	}
	SaveAsset struct{ Asset *domain.VideoAsset }
)

func (Emit) effect()             {}
func (Record) effect()           {}
func (LoadActor) effect()        {}
func (LoadVariant) effect()      {}
func (EditImage) effect()        {}
func (SynthesizeSpeech) effect() {}
func (StoreAudio) effect()       {}
func (ResolveAudio) effect()     {}
func (SubmitPrediction) effect() {}
func (PollPrediction) effect()   {}
func (StoreVideo) effect()       {}
func (SaveAsset) effect()        {}

// Machine holds the fixed parameters of the transition function.
type Machine struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
	AudioBucket  string
	VideoBucket  string
}

// ProviderFailedMessage is the failure reason when the lip-sync provider
// fails a prediction without explaining why.
const ProviderFailedMessage = "WAVESPEED_FAILED"

// ProviderTimeoutMessage prefixes the failure reason when a prediction
// misses its deadline.
const ProviderTimeoutMessage = "WAVESPEED_TIMEOUT"

// Transition applies ev to s. It performs no I/O.
func (m Machine) Transition(s State, ev Event) (State, []Effect) {
	if s.Done() {
		return s, nil
	}
	if f, ok := ev.(Failed); ok {
		return m.fail(s, f.Err)
	}

	switch e := ev.(type) {
	case Started:
		s.Step = domain.StepInit
		s.Status = domain.JobStatusRunning
		effects := []Effect{
			Emit{Step: domain.StepInit, Status: domain.JobStatusRunning},
			Record{Step: domain.StepInit, Status: domain.JobStatusRunning, Request: s.Request},
		}
		if err := s.Request.Validate(); err != nil {
			next, failEffects := m.fail(s, err)
			return next, append(effects, failEffects...)
		}
		return s, append(effects, LoadActor{Key: s.Request.ActorKey})

	case ActorLoaded:
		if e.Actor == nil {
			return m.fail(s, fmt.Errorf("actor %q %w", s.Request.ActorKey, domain.ErrNotFound))
		}
		s.Actor = e.Actor
		switch {
		case s.Request.ImageVariantID != "":
			return s, []Effect{LoadVariant{ID: s.Request.ImageVariantID}}
		case s.Request.ImageEditPrompt != "":
			s.Step = domain.StepImageEdit
			return s, []Effect{
				Emit{Step: domain.StepImageEdit, Status: domain.JobStatusRunning, Extra: map[string]any{"prompt": s.Request.ImageEditPrompt}},
				Record{Step: domain.StepImageEdit, Status: domain.JobStatusRunning, Request: map[string]any{
					"imageUrl": e.Actor.ImageURL,
					"prompt":   s.Request.ImageEditPrompt,
				}},
				EditImage{ImageURL: e.Actor.ImageURL, Prompt: s.Request.ImageEditPrompt},
			}
		default:
			s.ImageURL = e.Actor.ImageURL
			return m.resolveAudio(s, []Effect{
				Record{Step: domain.StepInit, Status: domain.JobStatusCompleted, Response: map[string]any{
					"actorId":  e.Actor.ID,
					"imageUrl": s.ImageURL,
				}},
			})
		}

	case VariantLoaded:
		if e.Variant == nil || e.Variant.OutputImageURL == "" {
			return m.fail(s, fmt.Errorf("image variant %q %w", s.Request.ImageVariantID, domain.ErrNotFound))
		}
		s.ImageURL = e.Variant.OutputImageURL
		return m.resolveAudio(s, []Effect{
			Record{Step: domain.StepInit, Status: domain.JobStatusCompleted, Response: map[string]any{
				"actorId":        s.Actor.ID,
				"imageVariantId": e.Variant.ID,
				"imageUrl":       s.ImageURL,
			}},
		})

	case ImageEdited:
		if e.URL == "" {
			return m.fail(s, errors.New("image edit returned no image"))
		}
		s.ImageURL = e.URL
		return m.resolveAudio(s, []Effect{
			Emit{Step: domain.StepImageEdit, Status: domain.JobStatusCompleted},
			Record{Step: domain.StepImageEdit, Status: domain.JobStatusCompleted, Response: map[string]any{"imageUrl": e.URL}},
		})

	case SpeechSynthesized:
		s.SpeechDuration = e.Duration
		return s, []Effect{StoreAudio{
			Bucket:    m.AudioBucket,
			Key:       s.Request.ProjectID + "/" + s.JobID + ".mp3",
			RemoteURL: e.RemoteURL,
		}}

	case AudioStored:
		s.AudioURL = e.PublicURL
		return m.lipSync(s, []Effect{
			Emit{Step: domain.StepTTS, Status: domain.JobStatusCompleted},
			Record{Step: domain.StepTTS, Status: domain.JobStatusCompleted, Response: map[string]any{
				"audioUrl": e.PublicURL,
				"duration": s.SpeechDuration,
			}},
		})

	case AudioResolved:
		s.AudioURL = e.PublicURL
		return m.lipSync(s, nil)

	case PredictionSubmitted:
		s.PredictionID = e.ID
		s.Deadline = e.At.Add(m.PollTimeout)
		return s, []Effect{PollPrediction{ID: e.ID}}

	case PredictionPolled:
		s.Polls++
		// Every poll rewrites the lip_sync snapshot so the job row stays
		// fresh for the stale-job reaper.
		beat := Record{Step: domain.StepLipSync, Status: domain.JobStatusRunning, Response: map[string]any{
			"predictionId": s.PredictionID,
			"status":       e.Status,
			"polls":        s.Polls,
		}}
		switch e.Status {
		case wavespeed.StatusSucceeded:
			if e.VideoURL == "" {
				return m.fail(s, fmt.Errorf("%w: lip-sync prediction %s succeeded without a video url", domain.ErrProviderRejected, s.PredictionID))
			}
			s.VideoDuration = e.Duration
			return s, []Effect{beat, StoreVideo{
				Bucket:    m.VideoBucket,
				Key:       s.Request.ProjectID + "/" + s.JobID + ".mp4",
				RemoteURL: e.VideoURL,
			}}
		case wavespeed.StatusFailed, wavespeed.StatusCanceled:
			msg := e.Error
			if msg == "" {
				msg = ProviderFailedMessage
			}
			return m.fail(s, &predictionError{msg: msg})
		}
		if e.At.After(s.Deadline) {
			return m.fail(s, fmt.Errorf("%s: lip-sync prediction %s %w after %s", ProviderTimeoutMessage, s.PredictionID, domain.ErrTimeout, m.PollTimeout))
		}
		return s, []Effect{beat, PollPrediction{ID: s.PredictionID, Delay: m.PollInterval}}

	case VideoStored:
		s.VideoURL = e.PublicURL
		s.Step = domain.StepFinalize
		return s, []Effect{
			Emit{Step: domain.StepLipSync, Status: domain.JobStatusCompleted},
			Record{Step: domain.StepLipSync, Status: domain.JobStatusCompleted, Response: map[string]any{
				"predictionId": s.PredictionID,
				"polls":        s.Polls,
				"videoUrl":     e.PublicURL,
			}},
			SaveAsset{Asset: buildAsset(s)},
		}

	case AssetSaved:
		s.Asset = e.Asset
		s.Status = domain.JobStatusCompleted
		return s, []Effect{
			Record{Step: domain.StepFinalize, Status: domain.JobStatusCompleted, Response: e.Asset},
			Emit{Step: domain.StepFinalize, Status: domain.JobStatusCompleted, Extra: map[string]any{"videoUrl": s.VideoURL}},
		}
	}

	return m.fail(s, fmt.Errorf("pipeline: unexpected event %T at step %s", ev, s.Step))
}

func (m Machine) resolveAudio(s State, effects []Effect) (State, []Effect) {
	if s.Request.SourceKind == domain.SourceKindAudio {
		return s, append(effects, ResolveAudio{Bucket: m.AudioBucket, Key: s.Request.AudioUploadID})
	}
	s.Step = domain.StepTTS
	return s, append(effects,
		Emit{Step: domain.StepTTS, Status: domain.JobStatusRunning},
		Record{Step: domain.StepTTS, Status: domain.JobStatusRunning, Request: map[string]any{
			"voiceId": s.Actor.VoiceID,
			"chars":   len([]rune(s.Request.Script)),
		}},
		SynthesizeSpeech{Text: s.Request.Script, VoiceID: s.Actor.VoiceID},
	)
}

func (m Machine) lipSync(s State, effects []Effect) (State, []Effect) {
	s.Step = domain.StepLipSync
	return s, append(effects,
		Emit{Step: domain.StepLipSync, Status: domain.JobStatusRunning},
		Record{Step: domain.StepLipSync, Status: domain.JobStatusRunning, Request: map[string]any{
			"audioUrl": s.AudioURL,
			"imageUrl": s.ImageURL,
		}},
		SubmitPrediction{AudioURL: s.AudioURL, ImageURL: s.ImageURL},
	)
}

func (m Machine) fail(s State, err error) (State, []Effect) {
	if err == nil {
		err = errors.New("pipeline failed")
	}
	s.Status = domain.JobStatusFailed
	s.Err = &domain.StepError{Step: s.Step, Err: err}
	return s, []Effect{
		Emit{Step: s.Step, Status: domain.JobStatusFailed, Extra: map[string]any{"error": err.Error()}},
		Record{Step: s.Step, Status: domain.JobStatusFailed, Response: map[string]any{"error": err.Error()}},
	}
}

// predictionError is a failed or canceled prediction. Its message is the
// provider's own text.
type predictionError struct{ msg string }

func (e *predictionError) Error() string { return e.msg }

func (e *predictionError) Is(target error) bool { return target == domain.ErrProviderRejected }

func buildAsset(s State) *domain.VideoAsset {
	asset := &domain.VideoAsset{
		ID:             s.JobID,
		ProjectID:      s.Request.ProjectID,
		ImageVariantID: s.Request.ImageVariantID,
		SourceType:     s.Request.SourceKind,
		SourceAudioURL: s.AudioURL,
		ImageURL:       s.ImageURL,
		VideoURL:       s.VideoURL,
		Status:         domain.VideoStatusCompleted,
		Meta: map[string]any{
			"wavespeed": map[string]any{"predictionId": s.PredictionID},
		},
	}
	if s.Actor != nil {
		asset.ActorID = s.Actor.ID
	}
	if s.Request.SourceKind == domain.SourceKindText {
		asset.SourceText = s.Request.Script
	}
	duration := s.VideoDuration
	if duration <= 0 {
		duration = s.SpeechDuration
	}
	if duration > 0 {
		d := int(math.Round(duration))
		asset.DurationSeconds = &d
	}
	return asset
}
