package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dreamecho/internal/domain"
	"dreamecho/internal/http/handlers"
	"dreamecho/internal/messages"
	mw "dreamecho/internal/middleware"
	"dreamecho/internal/pipeline"
	"dreamecho/internal/progress"
)

const testSecret = "router-secret"

type fakeDreams struct {
	submittedBy int64
}

func (f *fakeDreams) Submit(_ context.Context, ownerID int64, _, text string) (*domain.Dream, error) {
	f.submittedBy = ownerID
	return &domain.Dream{ID: 11, OwnerID: ownerID, Text: text, Status: domain.DreamStatusPending}, nil
}

func (f *fakeDreams) Get(_ context.Context, ownerID, dreamID int64) (*domain.Dream, error) {
	if dreamID != 11 {
		return nil, domain.ErrNotFound
	}
	return &domain.Dream{ID: 11, OwnerID: ownerID, Status: domain.DreamStatusComplete}, nil
}

func (f *fakeDreams) List(context.Context, int64, int, int) ([]domain.Dream, error) {
	return nil, nil
}

func (f *fakeDreams) Progress(_ context.Context, dreamID int64) (progress.Snapshot, error) {
	if dreamID != 11 {
		return progress.Snapshot{}, domain.ErrNotFound
	}
	return progress.Snapshot{Entry: progress.Entry{Stage: progress.StageAnalyzing, Percent: 20, RemainingMinutes: 15, Message: messages.Analyzing}, Live: true}, nil
}

func newTestRouter(t *testing.T) (http.Handler, *fakeDreams) {
	t.Helper()
	dreams := &fakeDreams{}
	app := handlers.NewApp(handlers.AppDeps{Dreams: dreams, Metrics: pipeline.NewMetrics()})
	return NewRouter(app, Options{
		JWTSecret:      testSecret,
		AllowedOrigins: []string{"https://app.example.com"},
		DefaultLocale:  "en",
		RateLimit:      100,
	}), dreams
}

func token(t *testing.T, sub string) string {
	t.Helper()
	tok, err := mw.SignJWT(testSecret, mw.TokenClaims{Sub: sub, Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	return tok
}

func TestRouterRequiresTokenForDreams(t *testing.T) {
	router, dreams := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/dreams", strings.NewReader(`{"description":"dream"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/dreams", strings.NewReader(`{"description":"dream"}`))
	req.Header.Set("Authorization", "Bearer "+token(t, "42"))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status with token = %d body=%s", rr.Code, rr.Body.String())
	}
	if dreams.submittedBy != 42 {
		t.Fatalf("submitted by %d, want 42", dreams.submittedBy)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}
}

func TestRouterProgressIsPublic(t *testing.T) {
	router, _ := newTestRouter(t)
	for _, path := range []string{"/progress/11", "/api/progress/11"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-Locale", "zh")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "正在提取关键词") {
			t.Fatalf("%s body not localized: %s", path, rr.Body.String())
		}
		if rr.Header().Get("Content-Language") != "zh" {
			t.Fatalf("content language = %q", rr.Header().Get("Content-Language"))
		}
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/dreams", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("allow origin = %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestRouterStaticDisabled(t *testing.T) {
	router, _ := newTestRouter(t)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/static/models/a.glb", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("static status = %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rr.Code)
	}
}
