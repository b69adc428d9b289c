package repo

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"ugcserver/internal/domain"
	"ugcserver/internal/sqlinline"
)

func TestJobCreateFillsGeneratedColumns(t *testing.T) {
	db := newFakeDB()
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	db.rows[sqlinline.QJobInsert] = func(dest ...any) error {
		*(dest[0].(*int64)) = 42
		*(dest[1].(*time.Time)) = created
		*(dest[2].(*time.Time)) = created
		return nil
	}
	job := &domain.Job{ID: "job-1", Request: domain.GenerationRequest{ProjectID: "p", ActorKey: "a", SourceKind: domain.SourceKindText, Script: "hi"}}
	if err := NewJobRepository(db).Create(context.Background(), job); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if job.Seq != 42 || !job.CreatedAt.Equal(created) || job.Status != domain.JobStatusQueued {
		t.Fatalf("unexpected job: %+v", job)
	}
	args := db.calls[0].args
	if args[0] != "job-1" || args[1] != "p" {
		t.Fatalf("unexpected args: %v", args)
	}
	var stored domain.GenerationRequest
	if err := json.Unmarshal(args[2].([]byte), &stored); err != nil || stored.Script != "hi" {
		t.Fatalf("request payload = %s (%v)", args[2], err)
	}
}

func TestJobGetByIDDecodesColumns(t *testing.T) {
	db := newFakeDB()
	db.rows[sqlinline.QJobGetByID] = func(dest ...any) error {
		*(dest[0].(*string)) = "job-1"
		*(dest[1].(*int64)) = 7
		*(dest[2].(*string)) = "lip_sync"
		*(dest[3].(*string)) = "running"
		*(dest[4].(*[]byte)) = []byte(`{"projectId":"p","actorKey":"a","sourceKind":"text","script":"hi"}`)
		*(dest[5].(*[]byte)) = []byte(`{"tts":{"status":"completed","updatedAt":"2025-01-01T00:00:00Z"}}`)
		reason := "boom"
		*(dest[7].(**string)) = &reason
		return nil
	}
	job, err := NewJobRepository(db).GetByID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if job.Step != domain.StepLipSync || job.Status != domain.JobStatusRunning || job.Request.Script != "hi" {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.Steps[domain.StepTTS].Status != domain.JobStatusCompleted {
		t.Fatalf("steps not decoded: %+v", job.Steps)
	}
	if job.FailedReason != "boom" || job.Result != nil {
		t.Fatalf("reason=%q result=%s", job.FailedReason, job.Result)
	}
}

func TestJobGetByIDNotFound(t *testing.T) {
	if _, err := NewJobRepository(newFakeDB()).GetByID(context.Background(), "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClaimNextEmptyQueue(t *testing.T) {
	if _, err := NewJobRepository(newFakeDB()).ClaimNext(context.Background()); !errors.Is(err, domain.ErrNoJobAvailable) {
		t.Fatalf("expected ErrNoJobAvailable, got %v", err)
	}
}

func TestRecordStepRegression(t *testing.T) {
	db := newFakeDB()
	db.tags[sqlinline.QJobRecordStep] = "UPDATE 0"
	db.rows[sqlinline.QJobExists] = func(dest ...any) error {
		*(dest[0].(*bool)) = true
		return nil
	}
	err := NewJobRepository(db).RecordStep(context.Background(), "job-1", domain.StepTTS, domain.StepSnapshot{Status: domain.JobStatusRunning})
	if !errors.Is(err, domain.ErrStepRegression) {
		t.Fatalf("expected ErrStepRegression, got %v", err)
	}
	args := db.calls[0].args
	if args[1] != "tts" || args[2] != 2 {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestRecordStepUnknownJob(t *testing.T) {
	db := newFakeDB()
	db.tags[sqlinline.QJobRecordStep] = "UPDATE 0"
	db.rows[sqlinline.QJobExists] = func(dest ...any) error {
		*(dest[0].(*bool)) = false
		return nil
	}
	err := NewJobRepository(db).RecordStep(context.Background(), "job-1", domain.StepInit, domain.StepSnapshot{})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFailOnCompletedJobIsNoop(t *testing.T) {
	db := newFakeDB()
	db.tags[sqlinline.QJobFail] = "UPDATE 0"
	db.rows[sqlinline.QJobExists] = func(dest ...any) error {
		*(dest[0].(*bool)) = true
		return nil
	}
	if err := NewJobRepository(db).Fail(context.Background(), "job-1", "late"); err != nil {
		t.Fatalf("Fail returned error: %v", err)
	}
}

func TestCompleteOnFinishedJobIsRejected(t *testing.T) {
	db := newFakeDB()
	db.tags[sqlinline.QJobComplete] = "UPDATE 0"
	db.rows[sqlinline.QJobExists] = func(dest ...any) error {
		*(dest[0].(*bool)) = true
		return nil
	}
	err := NewJobRepository(db).Complete(context.Background(), "job-1", []byte(`{}`))
	if !errors.Is(err, domain.ErrStepRegression) {
		t.Fatalf("expected ErrStepRegression, got %v", err)
	}
	if !strings.Contains(sqlinline.QJobComplete, "status = 'running'") {
		t.Fatalf("complete query does not require a running job")
	}
}

func TestCompleteUnknownJob(t *testing.T) {
	db := newFakeDB()
	db.tags[sqlinline.QJobComplete] = "UPDATE 0"
	db.rows[sqlinline.QJobExists] = func(dest ...any) error {
		*(dest[0].(*bool)) = false
		return nil
	}
	err := NewJobRepository(db).Complete(context.Background(), "job-1", []byte(`{}`))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFailStaleCountsRows(t *testing.T) {
	db := newFakeDB()
	db.tags[sqlinline.QJobFailStale] = "UPDATE 3"
	n, err := NewJobRepository(db).FailStale(context.Background(), time.Now(), "interrupted")
	if err != nil || n != 3 {
		t.Fatalf("FailStale = %d, %v", n, err)
	}
}

func TestAssetCreateDuplicate(t *testing.T) {
	db := newFakeDB()
	err := NewAssetRepository(db).Create(context.Background(), &domain.VideoAsset{ID: "job-1"})
	if !errors.Is(err, domain.ErrAssetExists) {
		t.Fatalf("expected ErrAssetExists, got %v", err)
	}
	args := db.calls[0].args
	if len(args) != 12 || args[10] != "completed" || string(args[11].([]byte)) != "{}" {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestAssetGetByIDDecodesMeta(t *testing.T) {
	db := newFakeDB()
	db.rows[sqlinline.QAssetGetByID] = func(dest ...any) error {
		*(dest[0].(*string)) = "job-1"
		*(dest[4].(*string)) = "text"
		secs := 12
		*(dest[9].(**int)) = &secs
		*(dest[10].(*string)) = "completed"
		*(dest[11].(*[]byte)) = []byte(`{"wavespeed":{"predictionId":"pred-1"}}`)
		return nil
	}
	asset, err := NewAssetRepository(db).GetByID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if asset.SourceType != domain.SourceKindText || *asset.DurationSeconds != 12 {
		t.Fatalf("unexpected asset: %+v", asset)
	}
	ws, _ := asset.Meta["wavespeed"].(map[string]any)
	if ws["predictionId"] != "pred-1" {
		t.Fatalf("meta = %v", asset.Meta)
	}
}

func TestCatalogLookupsMapNoRows(t *testing.T) {
	c := NewCatalogRepository(newFakeDB())
	if _, err := c.ActorByKey(context.Background(), "nobody"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ActorByKey: %v", err)
	}
	if _, err := c.ImageVariantByID(context.Background(), "3b6e1f2a-9c4d-4b7e-8f0a-5d2c1b3a4e9f"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ImageVariantByID: %v", err)
	}
}

func TestCatalogSeedUpsertsEverything(t *testing.T) {
	db := newFakeDB()
	db.tags[sqlinline.QActorUpsert] = "INSERT 0 1"
	db.tags[sqlinline.QImageVariantUpsert] = "INSERT 0 1"
	err := NewCatalogRepository(db).Seed(context.Background(),
		[]domain.Actor{{ID: "a1", Key: "emma"}, {ID: "a2", Key: "liam"}},
		[]domain.ImageVariant{{ID: "v1", ActorID: "a1"}},
	)
	if err != nil {
		t.Fatalf("Seed returned error: %v", err)
	}
	if len(db.calls) != 3 {
		t.Fatalf("calls = %d", len(db.calls))
	}
}
