package httpapi

import (
	"net/http"
	"time"

	"dreamecho/internal/http/handlers"
	"dreamecho/internal/infra"
	mw "dreamecho/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Options configures the middleware stack around the handlers.
type Options struct {
	JWTSecret      string
	AllowedOrigins []string
	DefaultLocale  string
	CountryLookup  mw.CountryLookup
	RateLimit      int
	RequestTimeout time.Duration
	// ServeArtifacts mounts /static for stores the API can read back.
	ServeArtifacts bool
	Logger         *infra.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r.Use(
		mw.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		mw.Logger(logger),
		mw.CORS(opts.AllowedOrigins),
		mw.I18N(opts.DefaultLocale, opts.CountryLookup),
	)

	// Health
	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/metrics", app.PipelineMetrics)

	// Progress polling is public and rate limited per IP.
	r.Group(func(r chi.Router) {
		r.Use(mw.RateLimit(opts.RateLimit, time.Minute), middleware.Timeout(timeout))
		r.Get("/api/health", app.UpstreamHealth)
		r.Get("/progress/{id}", app.Progress)
		r.Get("/api/progress/{id}", app.Progress)
		if opts.ServeArtifacts {
			r.Get("/static/*", app.Artifact)
		}
	})

	r.Route("/api/dreams", func(r chi.Router) {
		r.Use(mw.AuthJWT(opts.JWTSecret), mw.RateLimit(opts.RateLimit, time.Minute))
		// The event stream outlives the request timeout.
		r.Get("/{id}/events", app.DreamEvents)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(timeout))
			r.Post("/", app.SubmitDream)
			r.Get("/", app.ListDreams)
			r.Get("/{id}", app.GetDream)
			r.Get("/{id}/interpretation", app.DreamInterpretation)
		})
	})

	return r
}
