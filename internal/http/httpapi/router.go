package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"assetslicer/internal/http/handlers"
	"assetslicer/internal/middleware"
)

func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()
	r.Use(
		chimw.RealIP,
		middleware.RequestID,
		middleware.Logger(app.Logger),
		chimw.Recoverer,
	)

	r.Method(http.MethodGet, "/metrics", app.Metrics())

	rateLimit := 30
	if app.Config != nil {
		rateLimit = app.Config.RateLimitPerMin
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Locale(nil))
		r.Get("/healthz", app.Health)
		r.Get("/scene", app.SceneSnapshot)
		r.Get("/placements", app.ListPlacements)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(rateLimit, time.Minute))
			r.Post("/placements", app.CreatePlacement)
			r.Post("/slices", app.CreateSlices)
		})
	})

	return r
}
