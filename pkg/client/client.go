// Package client implements core.Backend over HTTP.
//
// Non-2xx responses are returned as *apierr.StatusError so the orchestrator
// can classify them. Transport failures are returned wrapped and classify
// as network or timeout errors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/leapviz/pkg/apierr"
	"github.com/leapstack-labs/leapviz/pkg/core"
)

// RequestIDHeader carries the per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 64 << 10

// Client talks to a leapviz backend. It is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger
	newID      func() string
}

var _ core.Backend = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. Per-attempt deadlines come
// from the request context, so the client needs no timeout of its own.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend url %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q: missing host", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{},
		logger:     slog.New(slog.DiscardHandler),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Upload sends a CSV file as multipart form field "file", or asks the
// backend to load its demo dataset.
func (c *Client) Upload(ctx context.Context, req core.UploadRequest) (*core.TableInfo, error) {
	var info core.TableInfo
	if req.UseDemo {
		if err := c.do(ctx, http.MethodPost, "/api/upload?demo=true", "", nil, &info); err != nil {
			return nil, err
		}
		return &info, nil
	}
	if req.Content == nil {
		return nil, apierr.New(apierr.KindValidation, "Choose a file to upload.")
	}

	name := req.FileName
	if name == "" {
		name = "upload.csv"
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, req.Content); err != nil {
		return nil, fmt.Errorf("read upload content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	if err := c.do(ctx, http.MethodPost, "/api/upload", mw.FormDataContentType(), &body, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

type translateRequest struct {
	Question string `json:"question"`
}

// Translate asks the backend to turn question into SQL.
func (c *Client) Translate(ctx context.Context, question string) (*core.Translation, error) {
	var out core.Translation
	if err := c.doJSON(ctx, http.MethodPost, "/api/translate", translateRequest{Question: question}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type executeRequest struct {
	SQL      string `json:"sql"`
	Question string `json:"question,omitempty"`
}

// Execute runs sql on the backend. question is sent as context only.
func (c *Client) Execute(ctx context.Context, sql, question string) (*core.QueryResult, error) {
	var out core.QueryResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/execute", executeRequest{SQL: sql, Question: question}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveDashboard creates a dashboard.
func (c *Client) SaveDashboard(ctx context.Context, in core.DashboardInput) (*core.Dashboard, error) {
	var out core.Dashboard
	if err := c.doJSON(ctx, http.MethodPost, "/api/dashboards", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateDashboard replaces the dashboard with the given ID.
func (c *Client) UpdateDashboard(ctx context.Context, id string, in core.DashboardInput) (*core.Dashboard, error) {
	var out core.Dashboard
	if err := c.doJSON(ctx, http.MethodPut, dashboardPath(id), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteDashboard removes the dashboard with the given ID.
func (c *Client) DeleteDashboard(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, dashboardPath(id), "", nil, nil)
}

// ListDashboards returns all saved dashboards.
func (c *Client) ListDashboards(ctx context.Context) ([]core.Dashboard, error) {
	var out []core.Dashboard
	if err := c.do(ctx, http.MethodGet, "/api/dashboards", "", nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []core.Dashboard{}
	}
	return out, nil
}

// GetDashboard fetches one dashboard.
func (c *Client) GetDashboard(ctx context.Context, id string) (*core.Dashboard, error) {
	var out core.Dashboard
	if err := c.do(ctx, http.MethodGet, dashboardPath(id), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks that the backend is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", "", nil, nil)
}

func dashboardPath(id string) string {
	return "/api/dashboards/" + url.PathEscape(id)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, method, path, "application/json", bytes.NewReader(b), out)
}

// do sends one request and decodes a 2xx JSON body into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	target, err := c.baseURL.Parse(c.baseURL.Path + path)
	if err != nil {
		return fmt.Errorf("build url for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	requestID := c.newID()
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "path", path, "request_id", requestID, "error", err)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("request finished",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if id := resp.Header.Get(RequestIDHeader); id != "" {
			requestID = id
		}
		return &apierr.StatusError{Status: resp.StatusCode, Body: b, RequestID: requestID}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		e := apierr.New(apierr.KindServer, "The server returned a response that could not be read.")
		e.Status = resp.StatusCode
		e.Retryable = false
		e.RequestID = requestID
		e.Err = fmt.Errorf("decode %s %s response: %w", method, path, err)
		return e
	}
	return nil
}
