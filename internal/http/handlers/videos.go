package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"ugcserver/internal/domain"
	"ugcserver/internal/middleware"
)

const maxBodyBytes = 64 << 10

type createTextVideoRequest struct {
	ActorKey        string `json:"actorKey"`
	Script          string `json:"script"`
	ImageVariantID  string `json:"imageVariantId"`
	ImageEditPrompt string `json:"imageEditPrompt"`
}

type createAudioVideoRequest struct {
	ActorKey        string `json:"actorKey"`
	AudioUploadID   string `json:"audioUploadId"`
	ImageVariantID  string `json:"imageVariantId"`
	ImageEditPrompt string `json:"imageEditPrompt"`
}

type submitResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

func (a *App) CreateTextVideo(w http.ResponseWriter, r *http.Request) {
	var body createTextVideoRequest
	if !a.decode(w, r, &body) {
		return
	}
	a.submit(w, r, domain.GenerationRequest{
		ProjectID:       chi.URLParam(r, "projectId"),
		ActorKey:        body.ActorKey,
		SourceKind:      domain.SourceKindText,
		Script:          body.Script,
		ImageVariantID:  body.ImageVariantID,
		ImageEditPrompt: body.ImageEditPrompt,
	})
}

func (a *App) CreateAudioVideo(w http.ResponseWriter, r *http.Request) {
	var body createAudioVideoRequest
	if !a.decode(w, r, &body) {
		return
	}
	a.submit(w, r, domain.GenerationRequest{
		ProjectID:       chi.URLParam(r, "projectId"),
		ActorKey:        body.ActorKey,
		SourceKind:      domain.SourceKindAudio,
		AudioUploadID:   body.AudioUploadID,
		ImageVariantID:  body.ImageVariantID,
		ImageEditPrompt: body.ImageEditPrompt,
	})
}

// GetVideo returns a finished asset. Assets of other projects are reported
// as missing.
func (a *App) GetVideo(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")
	videoID := chi.URLParam(r, "videoId")
	asset, err := a.Assets.GetByID(r.Context(), videoID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		a.log().Error().Err(err).Str("video_id", videoID).Msg("http: load video asset")
		a.error(w, http.StatusInternalServerError, "INTERNAL", "failed to load video")
		return
	}
	if err != nil || asset.ProjectID != projectID {
		a.error(w, http.StatusNotFound, "VIDEO_NOT_FOUND", "video not found")
		return
	}
	a.json(w, http.StatusOK, asset)
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		a.error(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid JSON body")
		return false
	}
	return true
}

func (a *App) submit(w http.ResponseWriter, r *http.Request, req domain.GenerationRequest) {
	req.Origin = &domain.RequestOrigin{
		RequestID: middleware.RequestIDFromContext(r.Context()),
		Country:   middleware.CountryFromContext(r.Context()),
	}
	job, err := a.Jobs.Submit(r.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			a.error(w, http.StatusBadRequest, "VALIDATION_FAILED", strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": "))
			return
		}
		a.log().Error().Err(err).Str("project_id", req.ProjectID).Msg("http: submit job")
		a.error(w, http.StatusInternalServerError, "INTERNAL", "failed to queue job")
		return
	}
	a.json(w, http.StatusAccepted, submitResponse{JobID: job.ID, Status: string(job.Status)})
}
