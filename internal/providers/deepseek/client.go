package deepseek

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"dreamecho/internal/domain"
	"dreamecho/internal/infra"
	"dreamecho/internal/providers/upstream"
)

const (
	defaultBaseURL       = "https://api.deepseek.com/v1"
	defaultModel         = "deepseek-chat"
	defaultTemperature   = 0.3
	defaultTimeout       = 90 * time.Second
	defaultHealthTimeout = 30 * time.Second
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("deepseek: api key is required")

// Options configures the chat-completions client.
type Options struct {
	APIKey        string
	BaseURL       string
	Model         string
	Temperature   float64
	Timeout       time.Duration
	HealthTimeout time.Duration
	Retry         upstream.RetryPolicy
	Caller        *upstream.Caller
	HTTPClient    *http.Client
	Logger        *infra.Logger
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client calls an OpenAI-compatible chat-completions endpoint.
type Client struct {
	apiKey        string
	baseURL       string
	model         string
	temperature   float64
	timeout       time.Duration
	healthTimeout time.Duration
	retry         upstream.RetryPolicy
	caller        *upstream.Caller
	logger        *infra.Logger
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
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
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	healthTimeout := opts.HealthTimeout
	if healthTimeout <= 0 {
		healthTimeout = defaultHealthTimeout
	}
	retry := opts.Retry
	if retry.Attempts <= 0 {
		retry.Attempts = 5
		retry.Delay = 10 * time.Second
	}
	return &Client{
		apiKey:        strings.TrimSpace(opts.APIKey),
		baseURL:       baseURL,
		model:         model,
		temperature:   temperature,
		timeout:       timeout,
		healthTimeout: healthTimeout,
		retry:         retry,
		caller:        caller,
		logger:        logger,
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Complete sends messages and returns the first choice's content. Timeouts
// and connection failures are retried per the configured policy; HTTP
// status errors and empty completions are returned immediately.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	temperature := c.temperature
	payload := chatRequest{Model: c.model, Messages: messages, Temperature: &temperature}

	var resp *upstream.Response
	attempt := 0
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		var callErr error
		resp, callErr = c.caller.Call(ctx, c.request(payload, c.timeout))
		if callErr != nil && upstream.Retryable(callErr) {
			c.logger.Warn().Err(callErr).Int("attempt", attempt).Msg("deepseek: transient failure")
		}
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("deepseek: chat completion: %w", err)
	}

	var decoded chatResponse
	if err := resp.Decode(&decoded); err != nil {
		return "", fmt.Errorf("deepseek: %w: %v", domain.ErrMalformedResponse, err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("deepseek: %w: empty choices", domain.ErrMalformedResponse)
	}
	content := decoded.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("deepseek: %w: empty content (finish_reason=%s)", domain.ErrMalformedResponse, decoded.Choices[0].FinishReason)
	}
	return content, nil
}

// Ping issues a minimal completion and reports whether the service answered
// with 200. It never returns an error.
func (c *Client) Ping(ctx context.Context) bool {
	if !c.HasCredentials() {
		return false
	}
	payload := chatRequest{
		Model:    c.model,
		Messages: []Message{{Role: "user", Content: "test"}},
	}
	if _, err := c.caller.Call(ctx, c.request(payload, c.healthTimeout)); err != nil {
		c.logger.Debug().Err(err).Msg("deepseek: health check failed")
		return false
	}
	return true
}

func (c *Client) request(payload chatRequest, timeout time.Duration) upstream.Request {
	return upstream.Request{
		Method: http.MethodPost,
		URL:    c.baseURL + "/chat/completions",
		Header: http.Header{
			"Authorization": {"Bearer " + c.apiKey},
		},
		Body:    payload,
		Timeout: timeout,
	}
}
