package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dreamecho/internal/messages"
	"dreamecho/internal/middleware"
	"dreamecho/internal/progress"
)

type progressEvent struct {
	Stage            progress.Stage `json:"stage"`
	Progress         int            `json:"progress"`
	RemainingMinutes int            `json:"remaining_minutes"`
	Status           string         `json:"status"`
	Failed           bool           `json:"failed,omitempty"`
}

// DreamEvents streams progress snapshots as server-sent events until the
// dream reaches a terminal stage or the client goes away. Only changed
// snapshots are written; a comment line keeps idle connections open.
func (a *App) DreamEvents(w http.ResponseWriter, r *http.Request) {
	d, ok := a.loadOwnedDream(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}
	ctx := r.Context()
	locale := middleware.LocaleFromContext(ctx)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(a.EventInterval)
	defer ticker.Stop()

	var (
		last progressEvent
		seq  int
	)
	for {
		snap, err := a.Dreams.Progress(ctx, d.ID)
		if err != nil {
			if ctx.Err() == nil {
				a.Logger.Warn().Err(err).Int64("dream_id", d.ID).Msg("event stream read failed")
				fmt.Fprintf(w, "event: error\ndata: {\"error\":%q}\n\n", "progress unavailable")
				flusher.Flush()
			}
			return
		}
		ev := progressEvent{
			Stage:            snap.Stage,
			Progress:         snap.Percent,
			RemainingMinutes: snap.RemainingMinutes,
			Status:           messages.Localize(locale, snap.Message),
			Failed:           snap.Failed,
		}
		if seq == 0 || ev != last {
			seq++
			payload, _ := json.Marshal(ev)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", seq, payload)
			last = ev
		} else {
			fmt.Fprint(w, ": keep-alive\n\n")
		}
		flusher.Flush()

		if snap.Failed || snap.Stage == progress.StageComplete {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
