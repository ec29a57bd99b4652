package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"cardgen/internal/http/handlers"
	"cardgen/internal/infra"
	"cardgen/internal/middleware"
)

// Options carries the middleware collaborators built in cmd/api.
type Options struct {
	Logger  *infra.Logger
	Counter middleware.Counter
	Country middleware.CountryLookup
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	logger := infra.LoggerOrDiscard(opts.Logger)
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.PeerAddr,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.CORS(app.Config.CORSOrigins),
		middleware.Locale(app.Config.DefaultLocale, opts.Country),
		middleware.Logger(*logger),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/readyz", app.Ready)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)
	r.Get("/v1/jobs/{id}", app.JobStatus)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(opts.Counter, app.Config.RateLimitPerMin, time.Minute, logger))
		r.Post("/improve-prompt", app.ImprovePrompt)
		r.Post("/generate-card", app.GenerateCard)
	})

	return r
}
