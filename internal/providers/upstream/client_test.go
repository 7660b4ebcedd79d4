package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCallDecodesOK(t *testing.T) {
	var gotAuth, gotContentType string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewCaller(Options{})
	resp, err := c.Call(context.Background(), Request{
		Method: http.MethodPost,
		URL:    srv.URL,
		Header: http.Header{"Authorization": {"Bearer k"}},
		Body:   map[string]string{"prompt": "x"},
	})
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	var out struct {
		OK bool `json:"ok"`
	}
	if err := resp.Decode(&out); err != nil || !out.OK {
		t.Fatalf("decode = %+v, %v", out, err)
	}
	if gotAuth != "Bearer k" || gotContentType != "application/json" || gotBody["prompt"] != "x" {
		t.Fatalf("request not forwarded: %q %q %v", gotAuth, gotContentType, gotBody)
	}
}

func TestCallNon200IsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewCaller(Options{}).Call(context.Background(), Request{URL: srv.URL})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusTooManyRequests || httpErr.Body != "rate limited" {
		t.Fatalf("HTTPError = %+v", httpErr)
	}
	if Retryable(err) {
		t.Fatalf("HTTP errors must not be retryable")
	}
}

func TestCallConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewCaller(Options{}).Call(context.Background(), Request{URL: url})
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
}

func TestCallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := NewCaller(Options{}).Call(context.Background(), Request{URL: srv.URL, Timeout: 20 * time.Millisecond})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestCallParentCancelNotClassified(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCaller(Options{}).Call(ctx, Request{URL: "http://127.0.0.1:1"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if Retryable(err) {
		t.Fatalf("cancelled calls must not be retryable")
	}
}

func TestStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "model/gltf-binary")
		_, _ = w.Write([]byte("glTF-binary"))
	}))
	defer srv.Close()

	c := NewCaller(Options{})
	s, err := c.Stream(context.Background(), Request{URL: srv.URL + "/model.glb"})
	if err != nil {
		t.Fatalf("Stream error: %v", err)
	}
	body, err := io.ReadAll(s.Body)
	_ = s.Body.Close()
	if err != nil || string(body) != "glTF-binary" {
		t.Fatalf("body = %q, %v", body, err)
	}
	if s.ContentType != "model/gltf-binary" {
		t.Fatalf("ContentType = %q", s.ContentType)
	}

	_, err = c.Stream(context.Background(), Request{URL: srv.URL + "/missing"})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 HTTPError, got %v", err)
	}
}
