// Package client talks to a worldsim HTTP API: it observes runs through the
// public endpoints and drives them through the admin endpoints.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/worldorder/internal/api"
	"github.com/talgya/worldorder/internal/engine"
	"github.com/talgya/worldorder/internal/report"
	"github.com/talgya/worldorder/internal/world"
)

// APIError is a non-2xx response.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.Path, e.Status, strings.TrimSpace(e.Body))
}

// Client targets one worldsim API.
type Client struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
}

// New creates a Client for baseURL. adminKey may be empty for read-only use.
func New(baseURL, adminKey string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		AdminKey: adminKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Runs lists every run.
func (c *Client) Runs(ctx context.Context) ([]api.RunSummary, error) {
	var out []api.RunSummary
	return out, c.do(ctx, http.MethodGet, "/api/v1/runs", nil, "", &out)
}

// Run fetches one run's summary.
func (c *Client) Run(ctx context.Context, runID string) (api.RunSummary, error) {
	var out api.RunSummary
	return out, c.do(ctx, http.MethodGet, runPath(runID, ""), nil, "", &out)
}

// State fetches the full world state of a run.
func (c *Client) State(ctx context.Context, runID string) (world.State, error) {
	var out world.State
	return out, c.do(ctx, http.MethodGet, runPath(runID, "/state"), nil, "", &out)
}

// Events fetches up to limit of the most recent events, oldest first.
func (c *Client) Events(ctx context.Context, runID string, limit int) ([]world.Event, error) {
	var out []world.Event
	path := runPath(runID, "/events")
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	return out, c.do(ctx, http.MethodGet, path, nil, "", &out)
}

// Report fetches the run report, with the prose chronicle when asked.
func (c *Client) Report(ctx context.Context, runID string, chronicle bool) (report.Report, error) {
	var out report.Report
	path := runPath(runID, "/report")
	if chronicle {
		path += "?chronicle=1"
	}
	return out, c.do(ctx, http.MethodGet, path, nil, "", &out)
}

// Create posts a YAML or JSON scenario and returns the new run.
func (c *Client) Create(ctx context.Context, scenario []byte, start bool) (api.RunSummary, error) {
	var out api.RunSummary
	path := "/api/v1/runs"
	if start {
		path += "?start=1"
	}
	return out, c.do(ctx, http.MethodPost, path, scenario, "application/yaml", &out)
}

// Start begins periodic ticking.
func (c *Client) Start(ctx context.Context, runID string) (api.RunSummary, error) {
	var out api.RunSummary
	return out, c.do(ctx, http.MethodPost, runPath(runID, "/start"), nil, "", &out)
}

// Pause stops periodic ticking.
func (c *Client) Pause(ctx context.Context, runID string) (api.RunSummary, error) {
	var out api.RunSummary
	return out, c.do(ctx, http.MethodPost, runPath(runID, "/pause"), nil, "", &out)
}

// Tick runs one tick now.
func (c *Client) Tick(ctx context.Context, runID string) (engine.TickReport, error) {
	var out engine.TickReport
	return out, c.do(ctx, http.MethodPost, runPath(runID, "/tick"), nil, "", &out)
}

// Delete stops and removes a run.
func (c *Client) Delete(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodDelete, runPath(runID, ""), nil, "", nil)
}

// Watch streams a run's events to fn until ctx ends or the stream closes.
func (c *Client) Watch(ctx context.Context, runID string, fn func(api.Message)) error {
	u, err := url.Parse(c.BaseURL + runPath(runID, "/stream"))
	if err != nil {
		return fmt.Errorf("stream url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var msg api.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
		fn(msg)
	}
}

// WaitReady polls the API with exponential backoff until it answers or ctx
// ends.
func (c *Client) WaitReady(ctx context.Context) error {
	backoff := 2 * time.Second
	maxBackoff := 30 * time.Second

	for {
		if _, err := c.Runs(ctx); err == nil {
			slog.Info("worldsim API is ready")
			return nil
		}
		slog.Info("worldsim not ready, retrying...", "backoff", backoff)
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for API: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func runPath(runID, suffix string) string {
	return "/api/v1/runs/" + url.PathEscape(runID) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string, target any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if method != http.MethodGet {
		if c.AdminKey == "" {
			return errors.New("admin key required for " + method + " " + path)
		}
		req.Header.Set("Authorization", "Bearer "+c.AdminKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: string(respBody)}
	}
	if target == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
