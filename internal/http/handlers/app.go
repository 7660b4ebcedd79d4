package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dreamecho/internal/domain"
	"dreamecho/internal/infra"
	"dreamecho/internal/middleware"
	"dreamecho/internal/pipeline"
	"dreamecho/internal/progress"
	"dreamecho/internal/storage"

	"github.com/go-chi/chi/v5"
)

// DreamService is the subset of pipeline.Service the handlers call.
type DreamService interface {
	Submit(ctx context.Context, ownerID int64, title, text string) (*domain.Dream, error)
	Get(ctx context.Context, ownerID, dreamID int64) (*domain.Dream, error)
	List(ctx context.Context, ownerID int64, limit, offset int) ([]domain.Dream, error)
	Progress(ctx context.Context, dreamID int64) (progress.Snapshot, error)
}

type pinger interface {
	Ping(ctx context.Context) bool
}

type credentialed interface {
	HasCredentials() bool
}

type App struct {
	Dreams    DreamService
	DeepSeek  pinger
	Tripo     credentialed
	Metrics   *pipeline.Metrics
	Artifacts storage.ArtifactReader
	// ArtifactBaseURL prefixes stored keys in responses. Empty means the
	// API's own /static route.
	ArtifactBaseURL string
	EventInterval   time.Duration
	Logger          *infra.Logger
	Now             func() time.Time
}

// AppDeps wires an App.
type AppDeps struct {
	Dreams          DreamService
	DeepSeek        pinger
	Tripo           credentialed
	Metrics         *pipeline.Metrics
	Artifacts       storage.ArtifactReader
	ArtifactBaseURL string
	EventInterval   time.Duration
	Logger          *infra.Logger
}

func NewApp(deps AppDeps) *App {
	a := &App{
		Dreams:          deps.Dreams,
		DeepSeek:        deps.DeepSeek,
		Tripo:           deps.Tripo,
		Metrics:         deps.Metrics,
		Artifacts:       deps.Artifacts,
		ArtifactBaseURL: strings.TrimRight(deps.ArtifactBaseURL, "/"),
		EventInterval:   deps.EventInterval,
		Logger:          deps.Logger,
		Now:             time.Now,
	}
	if a.EventInterval <= 0 {
		a.EventInterval = 2 * time.Second
	}
	if a.Logger == nil {
		a.Logger = infra.NopLogger()
	}
	return a
}

type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, msg string) {
	a.json(w, status, errorResponse{Success: false, Code: code, Error: msg})
}

// serviceError maps domain errors onto HTTP statuses.
func (a *App) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "dream not found")
	case errors.Is(err, domain.ErrForbidden):
		a.error(w, http.StatusForbidden, "forbidden", "dream belongs to another user")
	case errors.Is(err, domain.ErrAtCapacity):
		w.Header().Set("Retry-After", "30")
		a.error(w, http.StatusServiceUnavailable, "at_capacity", "too many dreams in progress, try again later")
	default:
		a.Logger.Error().Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// dreamID parses the {id} URL parameter, writing a 400 when it is invalid.
func (a *App) dreamID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid dream id")
		return 0, false
	}
	return id, true
}

func (a *App) currentOwner(w http.ResponseWriter, r *http.Request) (int64, bool) {
	ownerID, ok := middleware.OwnerIDFromContext(r.Context())
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return 0, false
	}
	return ownerID, true
}

func (a *App) artifactURL(key string) string {
	if key == "" {
		return ""
	}
	if a.ArtifactBaseURL == "" {
		return "/static/" + key
	}
	return a.ArtifactBaseURL + "/" + key
}
