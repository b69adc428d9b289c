package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"ugcserver/internal/domain"
	"ugcserver/internal/events"
)

const ndjsonType = "application/x-ndjson"

// StreamVideo relays progress events for one job until a terminal event.
// The default framing is server-sent events; clients accepting NDJSON get one
// JSON object per line instead. Jobs that already finished get a single
// synthesized terminal event.
func (a *App) StreamVideo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectId")
	jobID := chi.URLParam(r, "videoId")
	log := a.log().With().Str("job_id", jobID).Logger()

	if _, ok := a.lookupStreamJob(w, r, projectID, jobID); !ok {
		return
	}
	sub, err := a.Bus.Subscribe(ctx, events.Key(projectID, jobID))
	if err != nil {
		log.Error().Err(err).Msg("http: subscribe to progress")
		a.error(w, http.StatusInternalServerError, "INTERNAL", "failed to subscribe")
		return
	}
	defer sub.Close()

	// Read again after subscribing so a job finishing in between is not missed.
	job, ok := a.lookupStreamJob(w, r, projectID, jobID)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	enc := newStreamEncoder(w, strings.Contains(r.Header.Get("Accept"), ndjsonType))
	w.Header().Set("Content-Type", enc.contentType())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	enc.comment("connected")
	if err := rc.Flush(); err != nil {
		log.Debug().Err(err).Msg("http: stream flush unsupported")
	}

	if job.Status.Terminal() {
		_ = enc.event(terminalEvent(job))
		_ = rc.Flush()
		return
	}

	keepAlive := a.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			enc.comment("keep-alive")
			if err := rc.Flush(); err != nil {
				return
			}
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := enc.event(ev); err != nil {
				log.Debug().Err(err).Msg("http: stream write failed")
				return
			}
			_ = rc.Flush()
			if ev.Terminal() {
				return
			}
		}
	}
}

func (a *App) lookupStreamJob(w http.ResponseWriter, r *http.Request, projectID, jobID string) (*domain.Job, bool) {
	job, err := a.Jobs.GetJob(r.Context(), jobID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		a.log().Error().Err(err).Str("job_id", jobID).Msg("http: load job for stream")
		a.error(w, http.StatusInternalServerError, "INTERNAL", "failed to load job")
		return nil, false
	}
	if err != nil || job.Request.ProjectID != projectID {
		a.error(w, http.StatusNotFound, "JOB_NOT_FOUND", "")
		return nil, false
	}
	return job, true
}

func terminalEvent(job *domain.Job) domain.ProgressEvent {
	if job.Status == domain.JobStatusFailed {
		return domain.ProgressEvent{
			JobID:  job.ID,
			Step:   job.Step,
			Status: domain.JobStatusFailed,
			Extra:  map[string]any{"error": job.FailedReason},
		}
	}
	var result struct {
		VideoURL string `json:"videoUrl"`
	}
	_ = json.Unmarshal(job.Result, &result)
	return domain.ProgressEvent{
		JobID:  job.ID,
		Step:   domain.StepFinalize,
		Status: domain.JobStatusCompleted,
		Extra:  map[string]any{"videoUrl": result.VideoURL},
	}
}

type streamEncoder struct {
	w      io.Writer
	ndjson bool
}

func newStreamEncoder(w io.Writer, ndjson bool) *streamEncoder {
	return &streamEncoder{w: w, ndjson: ndjson}
}

func (e *streamEncoder) contentType() string {
	if e.ndjson {
		return ndjsonType
	}
	return "text/event-stream"
}

func (e *streamEncoder) event(ev domain.ProgressEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if e.ndjson {
		_, err = fmt.Fprintf(e.w, "%s\n", payload)
		return err
	}
	_, err = fmt.Fprintf(e.w, "data: %s\n\n", payload)
	return err
}

// comment writes a line clients ignore. NDJSON readers skip blank lines.
func (e *streamEncoder) comment(text string) {
	if e.ndjson {
		_, _ = io.WriteString(e.w, "\n")
		return
	}
	_, _ = fmt.Fprintf(e.w, ": %s\n\n", text)
}
