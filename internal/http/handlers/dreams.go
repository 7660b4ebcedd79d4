package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"dreamecho/internal/domain"
	"dreamecho/internal/messages"
	"dreamecho/internal/middleware"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type submitDreamRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type submitDreamResponse struct {
	Success bool   `json:"success"`
	DreamID int64  `json:"dream_id"`
	Status  string `json:"status"`
}

type dreamResponse struct {
	ID                int64     `json:"id"`
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	Status            string    `json:"status"`
	Keywords          []string  `json:"keywords"`
	Symbols           []string  `json:"symbols"`
	Emotions          []string  `json:"emotions"`
	VisualDescription string    `json:"visual_description,omitempty"`
	Interpretation    string    `json:"interpretation,omitempty"`
	ModelURL          string    `json:"model_url,omitempty"`
	Error             string    `json:"error,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type interpretationResponse struct {
	Success    bool     `json:"success"`
	Keywords   []string `json:"keywords"`
	Symbols    []string `json:"symbols"`
	Emotions   []string `json:"emotions"`
	Visuals    string   `json:"visuals"`
	Psychology string   `json:"psychology"`
}

func (a *App) toDreamResponse(d *domain.Dream, locale string) dreamResponse {
	resp := dreamResponse{
		ID:                d.ID,
		Title:             d.Title,
		Description:       d.Text,
		Status:            string(d.Status),
		Keywords:          nonNil(d.Keywords),
		Symbols:           nonNil(d.Symbols),
		Emotions:          nonNil(d.Emotions),
		VisualDescription: d.VisualDescription,
		Interpretation:    d.Interpretation,
		ModelURL:          a.artifactURL(d.ModelPath),
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
	if d.Status == domain.DreamStatusFailed {
		resp.Error = messages.Localize(locale, d.ErrorMessage)
	}
	return resp
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func (a *App) SubmitDream(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := a.currentOwner(w, r)
	if !ok {
		return
	}
	var req submitDreamRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	d, err := a.Dreams.Submit(r.Context(), ownerID, req.Title, req.Description)
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, submitDreamResponse{Success: true, DreamID: d.ID, Status: string(d.Status)})
}

func (a *App) ListDreams(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := a.currentOwner(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	dreams, err := a.Dreams.List(r.Context(), ownerID, limit, offset)
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	locale := middleware.LocaleFromContext(r.Context())
	items := make([]dreamResponse, 0, len(dreams))
	for i := range dreams {
		items = append(items, a.toDreamResponse(&dreams[i], locale))
	}
	a.json(w, http.StatusOK, map[string]any{
		"success": true,
		"dreams":  items,
		"limit":   limit,
		"offset":  offset,
	})
}

func (a *App) GetDream(w http.ResponseWriter, r *http.Request) {
	d, ok := a.loadOwnedDream(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, a.toDreamResponse(d, middleware.LocaleFromContext(r.Context())))
}

func (a *App) DreamInterpretation(w http.ResponseWriter, r *http.Request) {
	d, ok := a.loadOwnedDream(w, r)
	if !ok {
		return
	}
	if !d.Analyzed() {
		a.error(w, http.StatusConflict, "not_ready", "dream has not been analyzed yet")
		return
	}
	a.json(w, http.StatusOK, interpretationResponse{
		Success:    true,
		Keywords:   d.Keywords,
		Symbols:    d.Symbols,
		Emotions:   d.Emotions,
		Visuals:    d.VisualDescription,
		Psychology: d.Interpretation,
	})
}

func (a *App) loadOwnedDream(w http.ResponseWriter, r *http.Request) (*domain.Dream, bool) {
	ownerID, ok := a.currentOwner(w, r)
	if !ok {
		return nil, false
	}
	id, ok := a.dreamID(w, r)
	if !ok {
		return nil, false
	}
	d, err := a.Dreams.Get(r.Context(), ownerID, id)
	if err != nil {
		a.serviceError(w, r, err)
		return nil, false
	}
	return d, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
