package tripo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"dreamecho/internal/providers/upstream"
)

type captureTransport struct {
	responses map[string]responseStub
	lastBody  []byte
	lastAuth  string
	requests  int
}

type responseStub struct {
	status int
	body   []byte
}

func newCaptureTransport() *captureTransport {
	return &captureTransport{responses: map[string]responseStub{}}
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.requests++
	c.lastAuth = req.Header.Get("Authorization")
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		c.lastBody = body
	}
	stub, ok := c.responses[req.Method+" "+req.URL.Path]
	if !ok {
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader("not found"))}, nil
	}
	return &http.Response{
		StatusCode: stub.status,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       io.NopCloser(strings.NewReader(string(stub.body))),
	}, nil
}

func (c *captureTransport) setJSON(method, path string, status int, payload any) {
	body, _ := json.Marshal(payload)
	c.responses[method+" "+path] = responseStub{status: status, body: body}
}

func newTestClient(rt http.RoundTripper) *Client {
	return NewClient(Options{
		APIKey:     "tsk-test",
		BaseURL:    "https://tripo.test/v2/openapi",
		HTTPClient: &http.Client{Transport: rt},
	})
}

func TestCreateTaskPayload(t *testing.T) {
	transport := newCaptureTransport()
	transport.setJSON(http.MethodPost, "/v2/openapi/task", http.StatusOK, map[string]any{
		"code": 0,
		"data": map[string]any{"task_id": "task-123"},
	})
	client := newTestClient(transport)

	taskID, err := client.CreateTask(context.Background(), "a glass city")
	if err != nil {
		t.Fatalf("CreateTask error: %v", err)
	}
	if taskID != "task-123" {
		t.Fatalf("taskID = %q", taskID)
	}
	var payload map[string]any
	if err := json.Unmarshal(transport.lastBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["type"] != "text_to_model" || payload["prompt"] != "a glass city" {
		t.Fatalf("payload = %v", payload)
	}
	if transport.lastAuth != "Bearer tsk-test" {
		t.Fatalf("auth = %q", transport.lastAuth)
	}
}

func TestCreateTaskMissingID(t *testing.T) {
	transport := newCaptureTransport()
	transport.setJSON(http.MethodPost, "/v2/openapi/task", http.StatusOK, map[string]any{"code": 0, "data": map[string]any{}})
	if _, err := newTestClient(transport).CreateTask(context.Background(), "x"); !errors.Is(err, ErrMissingTaskID) {
		t.Fatalf("expected ErrMissingTaskID, got %v", err)
	}
}

func TestCreateTaskNon200(t *testing.T) {
	transport := newCaptureTransport()
	transport.setJSON(http.MethodPost, "/v2/openapi/task", http.StatusForbidden, map[string]any{"code": 2001})
	_, err := newTestClient(transport).CreateTask(context.Background(), "x")
	var httpErr *upstream.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 HTTPError, got %v", err)
	}
}

func TestGetTaskNormalizesStatus(t *testing.T) {
	transport := newCaptureTransport()
	transport.setJSON(http.MethodGet, "/v2/openapi/task/task-9", http.StatusOK, map[string]any{
		"code": 0,
		"data": map[string]any{
			"status":   "SUCCESS",
			"progress": 100,
			"output":   map[string]any{"model": "https://cdn.test/model.glb"},
		},
	})
	task, err := newTestClient(transport).GetTask(context.Background(), "task-9")
	if err != nil {
		t.Fatalf("GetTask error: %v", err)
	}
	if task.Status != TaskStatusSuccess || task.TaskID != "task-9" {
		t.Fatalf("task = %+v", task)
	}
	if task.ModelURL() != "https://cdn.test/model.glb" {
		t.Fatalf("ModelURL = %q", task.ModelURL())
	}
}

func TestGetTaskUndecodableBody(t *testing.T) {
	transport := newCaptureTransport()
	transport.responses[http.MethodGet+" /v2/openapi/task/task-1"] = responseStub{status: http.StatusOK, body: []byte("<html>gateway</html>")}
	client := newTestClient(transport)

	_, err := client.GetTask(context.Background(), "task-1")
	if !errors.Is(err, upstream.ErrDecode) {
		t.Fatalf("GetTask = %v, want ErrDecode", err)
	}
}

func TestMissingKey(t *testing.T) {
	client := NewClient(Options{})
	if _, err := client.CreateTask(context.Background(), "x"); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	if _, err := client.GetTask(context.Background(), "x"); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}
