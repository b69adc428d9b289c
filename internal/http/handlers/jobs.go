package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ugcserver/internal/domain"
)

type jobResponse struct {
	ID           string                   `json:"id"`
	State        domain.JobStatus         `json:"state"`
	Step         domain.Step              `json:"step"`
	Progress     int                      `json:"progress"`
	Data         domain.GenerationRequest `json:"data"`
	ReturnValue  json.RawMessage          `json:"returnValue,omitempty"`
	FailedReason string                   `json:"failedReason,omitempty"`
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	job, err := a.Jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "JOB_NOT_FOUND", "")
			return
		}
		a.log().Error().Err(err).Str("job_id", jobID).Msg("http: load job")
		a.error(w, http.StatusInternalServerError, "INTERNAL", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, jobResponse{
		ID:           job.ID,
		State:        job.Status,
		Step:         job.Step,
		Progress:     job.Progress(),
		Data:         job.Request,
		ReturnValue:  job.Result,
		FailedReason: job.FailedReason,
	})
}
