package tripo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dreamecho/internal/domain"
	"dreamecho/internal/infra"
	"dreamecho/internal/providers/upstream"
)

const (
	defaultBaseURL = "https://api.tripo3d.ai/v2/openapi"
	defaultTimeout = 30 * time.Second
	taskTypeText   = "text_to_model"
)

var (
	// ErrMissingAPIKey indicates that the client was configured without credentials.
	ErrMissingAPIKey = errors.New("tripo: api key is required")
	// ErrMissingTaskID is returned when a submission response has no task id.
	ErrMissingTaskID = errors.New("tripo: response missing task_id")
)

// Options configures the text-to-model client.
type Options struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	Caller     *upstream.Caller
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client submits and inspects text-to-model tasks. It performs no retries.
type Client struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	caller  *upstream.Caller
	logger  *infra.Logger
}

type createTaskRequest struct {
	Type   string `json:"type"`
	Prompt string `json:"prompt"`
}

type envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data"`
}

// NewClient constructs a client with defaults for anything left unset.
func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	caller := opts.Caller
	if caller == nil {
		caller = upstream.NewCaller(upstream.Options{HTTPClient: opts.HTTPClient, Logger: logger})
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:  strings.TrimSpace(opts.APIKey),
		baseURL: baseURL,
		timeout: timeout,
		caller:  caller,
		logger:  logger,
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// CreateTask submits a text-to-model task and returns its id.
func (c *Client) CreateTask(ctx context.Context, prompt string) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("tripo: %w: prompt is required", domain.ErrInvalidInput)
	}
	resp, err := c.caller.Call(ctx, upstream.Request{
		Method:  http.MethodPost,
		URL:     c.baseURL + "/task",
		Header:  c.authHeader(),
		Body:    createTaskRequest{Type: taskTypeText, Prompt: prompt},
		Timeout: c.timeout,
	})
	if err != nil {
		return "", fmt.Errorf("tripo: create task: %w", err)
	}
	var decoded envelope[struct {
		TaskID string `json:"task_id"`
	}]
	if err := resp.Decode(&decoded); err != nil {
		return "", fmt.Errorf("tripo: create task: %w", err)
	}
	taskID := strings.TrimSpace(decoded.Data.TaskID)
	if taskID == "" {
		return "", ErrMissingTaskID
	}
	return taskID, nil
}

// GetTask fetches the current state of a task.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	resp, err := c.caller.Call(ctx, upstream.Request{
		Method:  http.MethodGet,
		URL:     c.baseURL + "/task/" + url.PathEscape(taskID),
		Header:  c.authHeader(),
		Timeout: c.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("tripo: get task %s: %w", taskID, err)
	}
	var decoded envelope[Task]
	if err := resp.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("tripo: get task %s: %w", taskID, err)
	}
	task := decoded.Data
	task.Status = TaskStatus(strings.ToLower(strings.TrimSpace(string(task.Status))))
	if task.TaskID == "" {
		task.TaskID = taskID
	}
	return &task, nil
}

// Download opens a streaming GET for a model URL returned by GetTask.
func (c *Client) Download(ctx context.Context, modelURL string) (*upstream.Stream, error) {
	stream, err := c.caller.Stream(ctx, upstream.Request{
		Method:  http.MethodGet,
		URL:     modelURL,
		Timeout: c.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("tripo: download model: %w", err)
	}
	return stream, nil
}

func (c *Client) authHeader() http.Header {
	return http.Header{"Authorization": {"Bearer " + c.apiKey}}
}
