// Package webdriver is the HTTP transport to a WebDriver backend. It sends JSON
// requests to a fixed base URL and returns raw JSON bodies; it knows nothing
// about windows or focus.
package webdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	. "github.com/roelfdiedericks/tabgate/internal/logging"
	"github.com/roelfdiedericks/tabgate/internal/metrics"
)

// DefaultTimeout bounds a single backend round trip.
const DefaultTimeout = 60 * time.Second

// Client wraps the WebDriver HTTP protocol. It is safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
	metrics *metrics.Recorder
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the pooled default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithMetrics records every round trip.
func WithMetrics(r *metrics.Recorder) Option {
	return func(c *Client) { c.metrics = r }
}

// NewClient creates a client for http://host:port.
func NewClient(host string, port int, opts ...Option) *Client {
	if host == "" {
		host = "127.0.0.1"
	}
	return NewClientURL("http://"+net.JoinHostPort(host, strconv.Itoa(port)), opts...)
}

// NewClientURL creates a client for an arbitrary base URL.
func NewClientURL(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				Proxy:               nil,
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get performs a GET request and returns the raw JSON response.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body. A nil body is sent as {}.
func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	if body == nil {
		body = struct{}{}
	}
	return c.Do(ctx, http.MethodPost, path, body)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodDelete, path, nil)
}

// Do sends one request. Non-2xx answers become *Error; network failures are
// returned wrapped, never retried.
func (c *Client) Do(ctx context.Context, method, path string, body any) (raw json.RawMessage, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveCommand(method, path, time.Since(start), err) }()

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	L_trace("webdriver: request", "method", method, "path", path)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webdriver: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("webdriver: %s %s: failed to read response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseError(method, path, resp.StatusCode, respBody)
	}
	if len(bytes.TrimSpace(respBody)) > 0 && !gjson.ValidBytes(respBody) {
		return nil, fmt.Errorf("webdriver: %s %s: response is not JSON", method, path)
	}

	L_trace("webdriver: response", "method", method, "path", path, "status", resp.StatusCode, "bytes", len(respBody))
	return json.RawMessage(respBody), nil
}

// Status is the decoded GET /status answer.
type Status struct {
	Ready   bool
	Message string
}

// Status queries the backend's readiness.
func (c *Client) Status(ctx context.Context) (Status, error) {
	raw, err := c.Get(ctx, "/status")
	if err != nil {
		return Status{}, err
	}
	v := gjson.GetBytes(raw, "value")
	return Status{
		Ready:   v.Get("ready").Bool(),
		Message: v.Get("message").String(),
	}, nil
}

// WaitReady polls /status until the backend reports ready, the context ends
// or timeout elapses.
func (c *Client) WaitReady(ctx context.Context, timeout, interval time.Duration) error {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for {
		st, err := c.Status(ctx)
		if err == nil && st.Ready {
			return nil
		}
		if err == nil {
			lastErr = fmt.Errorf("backend not ready: %s", st.Message)
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("webdriver: backend at %s not ready after %s: %w", c.baseURL, timeout, lastErr)
		case <-time.After(interval):
		}
	}
}
