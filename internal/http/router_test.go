package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/donovanhide/eventsource"
	"github.com/rs/zerolog"

	"ugcserver/internal/adapter/memory"
	"ugcserver/internal/domain"
	"ugcserver/internal/events"
	"ugcserver/internal/http/handlers"
	"ugcserver/internal/queue"
	"ugcserver/internal/storage"
)

type apiHarness struct {
	srv    *httptest.Server
	jobs   *memory.JobStore
	assets *memory.AssetStore
	hub    *events.Hub
	queue  *queue.Queue
	app    *handlers.App
}

func newAPIHarness(t *testing.T, opts RouterOptions) *apiHarness {
	t.Helper()
	h := &apiHarness{
		jobs:   memory.NewJobStore(),
		assets: memory.NewAssetStore(),
		hub:    events.NewHub(16, nil),
	}
	h.queue = queue.NewQueue(h.jobs, nil, nil)
	h.app = &handlers.App{Jobs: h.queue, Assets: h.assets, Bus: h.hub, KeepAlive: time.Hour}
	opts.Logger = zerolog.Nop()
	h.srv = httptest.NewServer(NewRouter(h.app, opts))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *apiHarness) post(t *testing.T, path, body string, header http.Header) (*http.Response, map[string]any) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, h.srv.URL+path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (h *apiHarness) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(h.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestSubmitTextVideoAndPollJob(t *testing.T) {
	h := newAPIHarness(t, RouterOptions{})
	resp, body := h.post(t, "/api/projects/demo/videos/text", `{"actorKey":"emma_base_01","script":"Hello world"}`, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d body=%v", resp.StatusCode, body)
	}
	jobID, _ := body["jobId"].(string)
	if jobID == "" || body["status"] != "queued" {
		t.Fatalf("unexpected body: %v", body)
	}

	resp, job := h.get(t, "/api/jobs/"+jobID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("job status = %d", resp.StatusCode)
	}
	if job["id"] != jobID || job["state"] != "queued" || job["progress"] != float64(0) {
		t.Fatalf("unexpected job: %v", job)
	}
	data, _ := job["data"].(map[string]any)
	if data["script"] != "Hello world" || data["projectId"] != "demo" || data["sourceKind"] != "text" {
		t.Fatalf("unexpected data: %v", data)
	}
	if _, ok := job["failedReason"]; ok {
		t.Fatalf("queued job should not carry failedReason")
	}
}

func TestSubmitRejectsInvalidBodies(t *testing.T) {
	h := newAPIHarness(t, RouterOptions{})
	cases := []struct {
		name, path, body, contains string
	}{
		{"empty script", "/api/projects/demo/videos/text", `{"actorKey":"emma_base_01","script":"  "}`, "script"},
		{"script too long", "/api/projects/demo/videos/text", `{"actorKey":"a","script":"` + strings.Repeat("x", 1501) + `"}`, "1500"},
		{"missing upload", "/api/projects/demo/videos/audio", `{"actorKey":"a"}`, "audioUploadId"},
		{"bad variant", "/api/projects/demo/videos/text", `{"actorKey":"a","script":"hi","imageVariantId":"nope"}`, "imageVariantId"},
		{"long prompt", "/api/projects/demo/videos/text", `{"actorKey":"a","script":"hi","imageEditPrompt":"` + strings.Repeat("p", 201) + `"}`, "imageEditPrompt"},
		{"malformed json", "/api/projects/demo/videos/text", `{"actorKey":`, "invalid JSON"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := h.post(t, tc.path, tc.body, nil)
			if resp.StatusCode != http.StatusBadRequest || body["code"] != "VALIDATION_FAILED" {
				t.Fatalf("status=%d body=%v", resp.StatusCode, body)
			}
			if msg, _ := body["message"].(string); !strings.Contains(msg, tc.contains) {
				t.Fatalf("message %q does not mention %q", msg, tc.contains)
			}
		})
	}
	if _, err := h.jobs.ClaimNext(context.Background()); !errors.Is(err, domain.ErrNoJobAvailable) {
		t.Fatalf("rejected requests were enqueued")
	}
}

func TestSubmitCapturesOrigin(t *testing.T) {
	h := newAPIHarness(t, RouterOptions{})
	_, body := h.post(t, "/api/projects/demo/videos/audio", `{"actorKey":"emma_base_01","audioUploadId":"uploads/v.mp3"}`, http.Header{
		"Cf-Ipcountry": []string{"fr"},
		"X-Request-Id": []string{"req-42"},
	})
	job, err := h.jobs.GetByID(context.Background(), body["jobId"].(string))
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job.Request.Origin == nil || job.Request.Origin.Country != "FR" || job.Request.Origin.RequestID != "req-42" {
		t.Fatalf("origin = %+v", job.Request.Origin)
	}
	if job.Request.SourceKind != domain.SourceKindAudio || job.Request.AudioUploadID != "uploads/v.mp3" {
		t.Fatalf("request = %+v", job.Request)
	}
}

func TestGetJobNotFound(t *testing.T) {
	h := newAPIHarness(t, RouterOptions{})
	for _, id := range []string{"missing", "5d9c1f8e-2b7a-4c6d-9e0f-1a2b3c4d5e6f"} {
		resp, body := h.get(t, "/api/jobs/"+id)
		if resp.StatusCode != http.StatusNotFound || body["code"] != "JOB_NOT_FOUND" {
			t.Fatalf("id %s: status=%d body=%v", id, resp.StatusCode, body)
		}
	}
}

func TestGetVideoScopedToProject(t *testing.T) {
	h := newAPIHarness(t, RouterOptions{})
	id := "5d9c1f8e-2b7a-4c6d-9e0f-1a2b3c4d5e6f"
	if err := h.assets.Create(context.Background(), &domain.VideoAsset{ID: id, ProjectID: "demo", VideoURL: "https://x/v.mp4", Status: domain.VideoStatusCompleted}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	resp, body := h.get(t, "/api/projects/demo/videos/"+id)
	if resp.StatusCode != http.StatusOK || body["videoUrl"] != "https://x/v.mp4" {
		t.Fatalf("status=%d body=%v", resp.StatusCode, body)
	}
	resp, body = h.get(t, "/api/projects/other/videos/"+id)
	if resp.StatusCode != http.StatusNotFound || body["code"] != "VIDEO_NOT_FOUND" {
		t.Fatalf("cross-project lookup: status=%d body=%v", resp.StatusCode, body)
	}
}

func TestStreamSSEUntilFinalize(t *testing.T) {
	h := newAPIHarness(t, RouterOptions{})
	job := h.submit(t)

	resp, err := http.Get(h.srv.URL + "/api/projects/demo/videos/" + job.ID + "/stream")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}

	key := events.Key("demo", job.ID)
	publish := []domain.ProgressEvent{
		{JobID: job.ID, Step: domain.StepInit, Status: domain.JobStatusRunning},
		{JobID: job.ID, Step: domain.StepTTS, Status: domain.JobStatusCompleted},
		{JobID: job.ID, Step: domain.StepFinalize, Status: domain.JobStatusCompleted, Extra: map[string]any{"videoUrl": "https://x/v.mp4"}},
		{JobID: job.ID, Step: domain.StepFinalize, Status: domain.JobStatusCompleted},
	}
	for _, ev := range publish {
		if err := h.hub.Publish(context.Background(), key, ev); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	dec := eventsource.NewDecoder(resp.Body)
	var got []domain.ProgressEvent
	for {
		ev, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		var pe domain.ProgressEvent
		if err := json.Unmarshal([]byte(ev.Data()), &pe); err != nil {
			t.Fatalf("event data %q: %v", ev.Data(), err)
		}
		got = append(got, pe)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3 (stream must close after finalize): %+v", len(got), got)
	}
	if got[2].Extra["videoUrl"] != "https://x/v.mp4" || got[0].JobID != job.ID {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestStreamNDJSONClosesOnFailure(t *testing.T) {
	h := newAPIHarness(t, RouterOptions{})
	job := h.submit(t)

	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/api/projects/demo/videos/"+job.ID+"/stream", nil)
	req.Header.Set("Accept", "application/x-ndjson")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content-type = %q", ct)
	}

	_ = h.hub.Publish(context.Background(), events.Key("demo", job.ID), domain.ProgressEvent{
		JobID: job.ID, Step: domain.StepTTS, Status: domain.JobStatusFailed, Extra: map[string]any{"error": "quota exceeded"},
	})

	var lines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) != 1 {
		t.Fatalf("lines = %q", lines)
	}
	var pe domain.ProgressEvent
	if err := json.Unmarshal([]byte(lines[0]), &pe); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	if pe.Status != domain.JobStatusFailed || pe.Extra["error"] != "quota exceeded" {
		t.Fatalf("event = %+v", pe)
	}
}

func TestStreamForFinishedJobSendsTerminalEvent(t *testing.T) {
	h := newAPIHarness(t, RouterOptions{})
	job := h.submit(t)
	if _, err := h.jobs.ClaimNext(context.Background()); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if err := h.jobs.Fail(context.Background(), job.ID, "WAVESPEED_FAILED"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	resp, err := http.Get(h.srv.URL + "/api/projects/demo/videos/" + job.ID + "/stream")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()
	ev, err := eventsource.NewDecoder(resp.Body).Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var pe domain.ProgressEvent
	_ = json.Unmarshal([]byte(ev.Data()), &pe)
	if pe.Status != domain.JobStatusFailed || pe.Extra["error"] != "WAVESPEED_FAILED" {
		t.Fatalf("event = %+v", pe)
	}
}

func TestStreamUnknownJob(t *testing.T) {
	h := newAPIHarness(t, RouterOptions{})
	job := h.submit(t)
	resp, body := h.get(t, "/api/projects/other/videos/"+job.ID+"/stream")
	if resp.StatusCode != http.StatusNotFound || body["code"] != "JOB_NOT_FOUND" {
		t.Fatalf("status=%d body=%v", resp.StatusCode, body)
	}
	if n := h.hub.Subscribers(events.Key("other", job.ID)); n != 0 {
		t.Fatalf("dangling subscribers: %d", n)
	}
}

func TestHealth(t *testing.T) {
	h := newAPIHarness(t, RouterOptions{})
	if resp, body := h.get(t, "/health"); resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("status=%d body=%v", resp.StatusCode, body)
	}
	h.app.Ready = func(context.Context) error { return errors.New("db down") }
	if resp, _ := h.get(t, "/health"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestStaticObjectsServedUnderPublicPrefix(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := store.Put(context.Background(), "ugc-audio", "demo/a.mp3", "audio/mpeg", []byte("ID3")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	h := newAPIHarness(t, RouterOptions{Static: store.Handler()})
	resp, err := http.Get(h.srv.URL + storage.PublicPrefix + "ugc-audio/demo/a.mp3")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ID3" {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}
}

func (h *apiHarness) submit(t *testing.T) *domain.Job {
	t.Helper()
	job, err := h.queue.Submit(context.Background(), domain.GenerationRequest{
		ProjectID: "demo", ActorKey: "emma_base_01", SourceKind: domain.SourceKindText, Script: "Hello world",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return job
}
