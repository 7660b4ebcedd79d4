package handlers

import (
	"errors"
	"io"
	"net/http"

	"dreamecho/internal/storage"

	"github.com/go-chi/chi/v5"
)

// PipelineMetrics exposes the in-process pipeline counters.
func (a *App) PipelineMetrics(w http.ResponseWriter, r *http.Request) {
	snap := a.Metrics.Snapshot()
	for _, key := range []string{"submitted", "rejected", "completed", "failed", "in_flight"} {
		if _, ok := snap[key]; !ok {
			snap[key] = 0
		}
	}
	a.json(w, http.StatusOK, snap)
}

// Artifact serves a stored model file by key.
func (a *App) Artifact(w http.ResponseWriter, r *http.Request) {
	if a.Artifacts == nil {
		a.error(w, http.StatusNotFound, "not_found", "artifact not found")
		return
	}
	key := chi.URLParam(r, "*")
	rc, err := a.Artifacts.Open(r.Context(), key)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrArtifactNotFound):
			a.error(w, http.StatusNotFound, "not_found", "artifact not found")
		case errors.Is(err, storage.ErrInvalidKey):
			a.error(w, http.StatusBadRequest, "bad_request", "invalid artifact key")
		default:
			a.serviceError(w, r, err)
		}
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", storage.ContentTypeFor(key))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		a.Logger.Warn().Err(err).Str("key", key).Msg("artifact copy interrupted")
	}
}
