package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"dreamecho/internal/infra"
)

// DefaultTimeout applies to calls that do not set their own.
const DefaultTimeout = 30 * time.Second

var (
	// ErrTimeout marks calls that exceeded their per-call timeout.
	ErrTimeout = errors.New("upstream: timeout")
	// ErrConnection marks transport failures below HTTP (dial, reset, TLS, DNS).
	ErrConnection = errors.New("upstream: connection error")
	// ErrDecode marks a 200 response whose body is not the expected JSON.
	ErrDecode = errors.New("upstream: malformed response body")
)

// HTTPError reports a response whose status was not 200.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream: http status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream: http status %d: %s", e.StatusCode, e.Body)
}

// Request describes one outbound call. Body is JSON-encoded when non-nil.
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Body    any
	Timeout time.Duration
}

// Response is a fully-read 200 response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

// Stream is a 200 response whose body is handed to the caller unread.
// Closing Body releases the request.
type Stream struct {
	Body          io.ReadCloser
	ContentLength int64
	ContentType   string
}

// Options configures a Caller.
type Options struct {
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Caller performs single HTTP exchanges and classifies their failures into
// ErrTimeout, ErrConnection or *HTTPError. It never retries on its own.
type Caller struct {
	httpClient *http.Client
	logger     *infra.Logger
}

func NewCaller(opts Options) *Caller {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Caller{httpClient: httpClient, logger: logger}
}

// Call sends req and reads the whole response. Any status other than 200 is
// returned as *HTTPError.
func (c *Caller) Call(ctx context.Context, req Request) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := c.newRequest(callCtx, req)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		err = classify(ctx, err)
		c.logger.Debug().Err(err).Str("method", httpReq.Method).Str("host", httpReq.URL.Host).Msg("upstream call failed")
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(ctx, err)
	}
	c.logger.Debug().
		Str("method", httpReq.Method).
		Str("host", httpReq.URL.Host).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("upstream call")
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: snippet(body)}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// Stream sends req and returns the unread body of a 200 response. The
// timeout bounds only the wait for response headers so large bodies can
// stream for as long as ctx allows.
func (c *Caller) Stream(ctx context.Context, req Request) (*Stream, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	streamCtx, cancel := context.WithCancel(ctx)
	var timedOut atomic.Bool
	timer := time.AfterFunc(timeout, func() {
		timedOut.Store(true)
		cancel()
	})

	httpReq, err := c.newRequest(streamCtx, req)
	if err != nil {
		timer.Stop()
		cancel()
		return nil, err
	}
	resp, err := c.httpClient.Do(httpReq)
	timer.Stop()
	if err != nil {
		cancel()
		if timedOut.Load() {
			return nil, fmt.Errorf("%w: no response within %s", ErrTimeout, timeout)
		}
		return nil, classify(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		cancel()
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: snippet(body)}
	}
	return &Stream{
		Body:          &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
		ContentLength: resp.ContentLength,
		ContentType:   resp.Header.Get("Content-Type"),
	}, nil
}

func (c *Caller) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("upstream: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// classify maps transport errors onto ErrTimeout or ErrConnection. A
// cancelled parent context is returned as-is so callers stop promptly.
func classify(parent context.Context, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnection, err)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	return s
}
