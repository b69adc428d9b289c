package handlers

import (
	"context"
	"net/http"
	"time"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	if a.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.Ready(ctx); err != nil {
			a.log().Warn().Err(err).Msg("health: dependency check failed")
			a.error(w, http.StatusServiceUnavailable, "UNAVAILABLE", "dependency check failed")
			return
		}
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
