package handlers

import (
	"context"
	"net/http"
	"time"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

// UpstreamHealth reports whether the analysis service answers and whether
// the generation service has credentials.
func (a *App) UpstreamHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	deepseek := "error"
	if a.DeepSeek != nil && a.DeepSeek.Ping(ctx) {
		deepseek = "ok"
	}
	tripo := "error"
	if a.Tripo != nil && a.Tripo.HasCredentials() {
		tripo = "ok"
	}
	a.json(w, http.StatusOK, map[string]string{
		"deepseek": deepseek,
		"tripo":    tripo,
		"time":     a.Now().UTC().Format(time.RFC3339),
	})
}
