package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig configures the HTTP client behavior.
type ClientConfig struct {
	// BaseURL is prefixed to relative request paths.
	BaseURL string

	// Auth is the default authentication; a request may override it.
	Auth AuthConfig

	// Timeout for individual requests (default: 60s). A negative value
	// disables the total timeout, e.g. for large uploads.
	Timeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers once the
	// request has been written. Ignored when Transport is set.
	ResponseHeaderTimeout time.Duration

	// RateLimit requests per second (default: 10).
	RateLimit float64

	// RateBurst maximum burst size (default: 5).
	RateBurst int

	// Headers to add to all requests.
	Headers map[string]string

	// UserAgent string.
	UserAgent string

	// Transport allows injecting a custom HTTP transport (for tests/stubs).
	Transport http.RoundTripper
}

// DefaultClientConfig returns a client config with sensible defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Auth:      NoAuth{},
		Timeout:   60 * time.Second,
		RateLimit: 10.0,
		RateBurst: 5,
		UserAgent: "sync-agent/1.0",
		Headers:   make(map[string]string),
	}
}

// =============================================================================
// HTTP CLIENT
// =============================================================================

// Client is a rate-limited HTTP client shared by every stage of a run.
// It performs exactly one round trip per Do; retry policy belongs to callers
// because each call site has its own attempt budget and failure semantics.
type Client struct {
	config      *ClientConfig
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewClient creates a new HTTP client with the given configuration.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	if config.Auth == nil {
		config.Auth = NoAuth{}
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 10.0
	}
	if config.RateBurst == 0 {
		config.RateBurst = 5
	}
	if config.UserAgent == "" {
		config.UserAgent = "sync-agent/1.0"
	}

	timeout := config.Timeout
	if timeout < 0 {
		timeout = 0
	}
	transport := config.Transport
	if transport == nil && config.ResponseHeaderTimeout > 0 {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.ResponseHeaderTimeout = config.ResponseHeaderTimeout
		transport = t
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
	}
}

// HTTPClient exposes the underlying client, e.g. for OAuth2 token refresh.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// Request represents an HTTP request to be made.
type Request struct {
	Method string
	// Path is relative to BaseURL, or an absolute http(s) URL.
	Path    string
	Query   url.Values
	Headers map[string]string
	Body    io.Reader
	// ContentLength is required for bodies whose size net/http cannot infer (files).
	ContentLength int64
	// Auth overrides the client's default authentication.
	Auth AuthConfig
}

// Response wraps an HTTP response with convenience methods.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON unmarshals the response body into the given target.
func (r *Response) JSON(target any) error {
	return json.Unmarshal(r.Body, target)
}

// IsSuccess returns true if the status code is 2xx.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// =============================================================================
// CLIENT METHODS
// =============================================================================

// Do executes a single request attempt after waiting on the rate limiter.
// Transport failures return a nil response. Responses with status >= 400
// return both the response and an *HTTPError.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	fullURL := c.resolveURL(req)

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, req.Body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if req.ContentLength > 0 && httpReq.ContentLength == 0 {
		httpReq.ContentLength = req.ContentLength
	}

	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	auth := req.Auth
	if auth == nil {
		auth = c.config.Auth
	}
	auth.Apply(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	response := &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}

	if resp.StatusCode >= 400 {
		return response, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
	}

	return response, nil
}

func (c *Client) resolveURL(req *Request) string {
	var fullURL string
	switch {
	case strings.HasPrefix(req.Path, "http://"), strings.HasPrefix(req.Path, "https://"):
		fullURL = req.Path
	case req.Path != "":
		fullURL = strings.TrimSuffix(c.config.BaseURL, "/") + "/" + strings.TrimPrefix(req.Path, "/")
	default:
		fullURL = c.config.BaseURL
	}
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(fullURL, "?") {
			sep = "&"
		}
		fullURL += sep + req.Query.Encode()
	}
	return fullURL
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values, auth AuthConfig) (*Response, error) {
	return c.Do(ctx, &Request{
		Method: http.MethodGet,
		Path:   path,
		Query:  query,
		Auth:   auth,
	})
}

// Post performs a POST request with an optional JSON body.
func (c *Client) Post(ctx context.Context, path string, body any, auth AuthConfig) (*Response, error) {
	return c.sendJSON(ctx, http.MethodPost, path, body, auth)
}

// Patch performs a PATCH request with JSON body.
func (c *Client) Patch(ctx context.Context, path string, body any, auth AuthConfig) (*Response, error) {
	return c.sendJSON(ctx, http.MethodPatch, path, body, auth)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body any, auth AuthConfig) (*Response, error) {
	req := &Request{
		Method: method,
		Path:   path,
		Auth:   auth,
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		req.Body = bytes.NewReader(data)
		req.Headers = map[string]string{"Content-Type": "application/json"}
	}
	return c.Do(ctx, req)
}

// =============================================================================
// ERRORS
// =============================================================================

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// StatusOf returns the HTTP status of a Do result: the response status when
// a response arrived, otherwise zero.
func StatusOf(resp *Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
