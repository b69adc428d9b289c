package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"ugcserver/internal/domain"
	"ugcserver/internal/events"
	"ugcserver/internal/infra"
)

// JobService is the queue surface the handlers need.
type JobService interface {
	Submit(ctx context.Context, req domain.GenerationRequest) (*domain.Job, error)
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
}

// App holds the dependencies shared by all handlers.
type App struct {
	Jobs   JobService
	Assets domain.VideoAssetRepository
	Bus    events.Bus
	Logger *infra.Logger
	// KeepAlive is the idle interval after which streams write a comment
	// line. Zero means 15s.
	KeepAlive time.Duration
	// Ready, when set, backs the health check.
	Ready func(ctx context.Context) error
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, errorBody{Code: code, Message: message})
}

func (a *App) log() *infra.Logger {
	return infra.LoggerOrDiscard(a.Logger)
}
