package httpapi

import (
	stdhttp "net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"ugcserver/internal/http/handlers"
	"ugcserver/internal/middleware"
	"ugcserver/internal/storage"
)

// RouterOptions configures the cross-cutting parts of the router.
type RouterOptions struct {
	Logger      zerolog.Logger
	CORSOrigins []string
	Country     middleware.CountryLookup
	// Static serves stored objects under storage.PublicPrefix when set.
	Static stdhttp.Handler
}

func NewRouter(app *handlers.App, opts RouterOptions) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSOrigins),
		middleware.Origin(opts.Country),
	)

	r.Get("/health", app.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/projects/{projectId}/videos", func(r chi.Router) {
			r.Post("/text", app.CreateTextVideo)
			r.Post("/audio", app.CreateAudioVideo)
			r.Get("/{videoId}", app.GetVideo)
			r.Get("/{videoId}/stream", app.StreamVideo)
		})
		r.Get("/jobs/{jobId}", app.GetJob)
	})

	if opts.Static != nil {
		mount := strings.TrimSuffix(storage.PublicPrefix, "/")
		r.Handle(storage.PublicPrefix+"*", stdhttp.StripPrefix(mount, opts.Static))
	}

	return r
}
