package handlers

import (
	"errors"
	"net/http"

	"dreamecho/internal/domain"
	"dreamecho/internal/messages"
	"dreamecho/internal/middleware"
	"dreamecho/internal/progress"
)

type progressResponse struct {
	Success          bool           `json:"success"`
	Stage            progress.Stage `json:"stage"`
	Progress         int            `json:"progress"`
	RemainingMinutes int            `json:"remaining_minutes"`
	Status           string         `json:"status"`
}

type progressFailure struct {
	Success  bool           `json:"success"`
	Stage    progress.Stage `json:"stage"`
	Progress int            `json:"progress"`
	Status   string         `json:"status"`
	Error    string         `json:"error"`
}

// Progress serves the polling contract: 400 for a malformed id, 404 for an
// unknown dream, 500 carrying the failure message once a dream has failed
// and 200 otherwise. It needs no session so that shared links can poll.
func (a *App) Progress(w http.ResponseWriter, r *http.Request) {
	id, ok := a.dreamID(w, r)
	if !ok {
		return
	}
	snap, err := a.Dreams.Progress(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "dream not found")
			return
		}
		a.serviceError(w, r, err)
		return
	}
	status := messages.Localize(middleware.LocaleFromContext(r.Context()), snap.Message)
	if snap.Failed {
		a.json(w, http.StatusInternalServerError, progressFailure{
			Success:  false,
			Stage:    progress.StageFailed,
			Progress: snap.Percent,
			Status:   status,
			Error:    status,
		})
		return
	}
	a.json(w, http.StatusOK, progressResponse{
		Success:          true,
		Stage:            snap.Stage,
		Progress:         snap.Percent,
		RemainingMinutes: snap.RemainingMinutes,
		Status:           status,
	})
}
