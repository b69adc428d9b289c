package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/donovanhide/eventsource"
	"github.com/rs/zerolog"

	"ugcserver/internal/adapter/memory"
	"ugcserver/internal/domain"
	"ugcserver/internal/events"
	"ugcserver/internal/http/handlers"
	"ugcserver/internal/pipeline"
	"ugcserver/internal/providers/fal"
	"ugcserver/internal/providers/wavespeed"
	"ugcserver/internal/queue"
	"ugcserver/internal/storage"
)

// fakeProviders imitates fal, Wavespeed and the CDN they return files from.
func fakeProviders(t *testing.T, failPrediction bool) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	var base string
	mux.HandleFunc("/v1/pipelines/fal-ai/tts", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input struct {
				Text    string `json:"text"`
				VoiceID string `json:"voice_id"`
			} `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Input.Text != "Hello world" || body.Input.VoiceID != "emma" {
			http.Error(w, "unexpected tts input", http.StatusUnprocessableEntity)
			return
		}
		_, _ = io.WriteString(w, `{"audio_url":"`+base+`/cdn/speech.mp3","duration":1.6}`)
	})
	mux.HandleFunc("/v1/predictions/Infinitetalk", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"pred-e2e","status":"created"}`)
	})
	mux.HandleFunc("/v1/predictions/pred-e2e", func(w http.ResponseWriter, r *http.Request) {
		n := polls.Add(1)
		switch {
		case n < 2:
			_, _ = io.WriteString(w, `{"id":"pred-e2e","status":"processing"}`)
		case failPrediction:
			_, _ = io.WriteString(w, `{"id":"pred-e2e","status":"failed","error":"no face found"}`)
		default:
			_, _ = io.WriteString(w, `{"id":"pred-e2e","status":"succeeded","output":{"video_url":"`+base+`/cdn/render.mp4","duration":1.6}}`)
		}
	})
	mux.HandleFunc("/cdn/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "bytes:"+strings.TrimPrefix(r.URL.Path, "/cdn/"))
	})
	srv := httptest.NewServer(mux)
	base = srv.URL
	t.Cleanup(srv.Close)
	return srv, &polls
}

type e2eEnv struct {
	api    *httptest.Server
	jobs   *memory.JobStore
	assets *memory.AssetStore
	store  *storage.FileStore
	queue  *queue.Queue
	start  func()
}

func newE2E(t *testing.T, failPrediction bool) (*e2eEnv, *atomic.Int32) {
	t.Helper()
	providers, polls := fakeProviders(t, failPrediction)

	catalog, err := memory.LoadCatalog("../../seed/actors.yaml")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	speech, _ := fal.NewClient(fal.Options{APIKey: "fal-key", BaseURL: providers.URL})
	lipsync, _ := wavespeed.NewClient(wavespeed.Options{APIKey: "ws-key", BaseURL: providers.URL})

	env := &e2eEnv{jobs: memory.NewJobStore(), assets: memory.NewAssetStore(), store: store}
	hub := events.NewHub(32, nil)
	notifier := queue.NewChannelNotifier()
	env.queue = queue.NewQueue(env.jobs, notifier, nil)
	app := &handlers.App{Jobs: env.queue, Assets: env.assets, Bus: hub, KeepAlive: time.Hour}
	env.api = httptest.NewServer(NewRouter(app, RouterOptions{Logger: zerolog.Nop(), Static: store.Handler()}))
	t.Cleanup(env.api.Close)

	orch, err := pipeline.NewOrchestrator(pipeline.Dependencies{
		Catalog: catalog,
		Jobs:    env.jobs,
		Assets:  env.assets,
		Bus:     hub,
		Speech:  speech,
		Images:  speech,
		LipSync: lipsync,
		Storage: storage.NewGateway(store, env.api.URL, nil, nil),
	}, pipeline.Options{PollInterval: 10 * time.Millisecond, PollTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	dispatcher, err := queue.NewDispatcher(env.jobs, orch, queue.DispatcherOptions{Concurrency: 2, PollInterval: 20 * time.Millisecond, Wake: notifier.C()})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	env.start = func() {
		go func() {
			defer close(done)
			_ = dispatcher.Run(ctx)
		}()
	}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	})
	return env, polls
}

// submitAndStream posts a text request, attaches to its stream and only then
// starts the worker so no event is missed.
func (e *e2eEnv) submitAndStream(t *testing.T, body string) (string, []domain.ProgressEvent) {
	t.Helper()
	resp, err := http.Post(e.api.URL+"/api/projects/demo/videos/text", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	var submitted struct {
		JobID string `json:"jobId"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&submitted)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}

	stream, err := http.Get(e.api.URL + "/api/projects/demo/videos/" + submitted.JobID + "/stream")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer stream.Body.Close()
	e.start()

	dec := eventsource.NewDecoder(stream.Body)
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
			t.Fatalf("decode event: %v", err)
		}
		got = append(got, pe)
	}
	return submitted.JobID, got
}

func (e *e2eEnv) waitTerminal(t *testing.T, jobID string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(e.api.URL + "/api/jobs/" + jobID)
		if err != nil {
			t.Fatalf("GET job: %v", err)
		}
		var job map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&job)
		resp.Body.Close()
		if job["state"] == "completed" || job["state"] == "failed" {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", jobID)
	return nil
}

func TestEndToEndHelloWorld(t *testing.T) {
	env, polls := newE2E(t, false)
	jobID, got := env.submitAndStream(t, `{"actorKey":"emma_base_01","script":"Hello world"}`)

	var names []string
	for _, ev := range got {
		names = append(names, string(ev.Step)+"/"+string(ev.Status))
	}
	want := "init/running,tts/running,tts/completed,lip_sync/running,lip_sync/completed,finalize/completed"
	if strings.Join(names, ",") != want {
		t.Fatalf("events = %v", names)
	}
	wantVideo := env.api.URL + storage.PublicPrefix + "ugc-video/demo/" + jobID + ".mp4"
	if got[len(got)-1].Extra["videoUrl"] != wantVideo {
		t.Fatalf("videoUrl = %v, want %s", got[len(got)-1].Extra["videoUrl"], wantVideo)
	}

	job := env.waitTerminal(t, jobID)
	if job["state"] != "completed" || job["progress"] != float64(100) {
		t.Fatalf("job = %v", job)
	}
	ret, _ := job["returnValue"].(map[string]any)
	if ret["videoUrl"] != wantVideo {
		t.Fatalf("returnValue = %v", ret)
	}
	if polls.Load() != 2 {
		t.Fatalf("polls = %d, want 2", polls.Load())
	}

	asset, err := env.assets.GetByID(context.Background(), jobID)
	if err != nil {
		t.Fatalf("asset missing: %v", err)
	}
	if asset.DurationSeconds == nil || *asset.DurationSeconds != 2 || asset.SourceText != "Hello world" {
		t.Fatalf("asset = %+v", asset)
	}

	resp, err := http.Get(wantVideo)
	if err != nil {
		t.Fatalf("GET video: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "bytes:render.mp4" {
		t.Fatalf("stored video: status=%d body=%q", resp.StatusCode, body)
	}
	if audio, err := env.store.Read("ugc-audio", "demo/"+jobID+".mp3"); err != nil || string(audio) != "bytes:speech.mp3" {
		t.Fatalf("stored audio = %q, %v", audio, err)
	}
}

func TestEndToEndUnknownActor(t *testing.T) {
	env, polls := newE2E(t, false)
	jobID, got := env.submitAndStream(t, `{"actorKey":"nobody_01","script":"Hello world"}`)

	if len(got) != 2 || got[0].Step != domain.StepInit || got[1].Status != domain.JobStatusFailed {
		t.Fatalf("events = %+v", got)
	}
	job := env.waitTerminal(t, jobID)
	reason, _ := job["failedReason"].(string)
	if job["state"] != "failed" || !strings.Contains(reason, "nobody_01") {
		t.Fatalf("job = %v", job)
	}
	if _, err := env.assets.GetByID(context.Background(), jobID); err == nil {
		t.Fatalf("failed job produced an asset")
	}
	if polls.Load() != 0 {
		t.Fatalf("lip-sync polled for a job that failed at init")
	}
}

func TestEndToEndPredictionFailure(t *testing.T) {
	env, _ := newE2E(t, true)
	jobID, got := env.submitAndStream(t, `{"actorKey":"emma_base_01","script":"Hello world"}`)

	last := got[len(got)-1]
	if last.Step != domain.StepLipSync || last.Status != domain.JobStatusFailed || last.Extra["error"] != "no face found" {
		t.Fatalf("last event = %+v", last)
	}
	job := env.waitTerminal(t, jobID)
	if job["failedReason"] != "no face found" {
		t.Fatalf("job = %v", job)
	}
}
