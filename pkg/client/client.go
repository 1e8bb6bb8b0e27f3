// Package client talks to a dperf collection server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/dperf/pkg/run"
)

const (
	defaultTimeout = 30 * time.Second
	statusError    = "error"
)

// APIError is an error envelope returned by the server.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return "server error: " + e.Message
}

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Client is a dperf API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Submit posts a run document.
func (c *Client) Submit(ctx context.Context, doc []byte) error {
	body, err := c.do(ctx, http.MethodPost, "/", bytes.NewReader(doc))
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if env.Status != "ok" {
		return &APIError{Message: env.Message}
	}

	return nil
}

// ListRuns returns run summaries grouped by run name.
func (c *Client) ListRuns(ctx context.Context) (map[string][]run.Summary, error) {
	body, err := c.do(ctx, http.MethodGet, "/runs", nil)
	if err != nil {
		return nil, err
	}

	if apiErr := asAPIError(body); apiErr != nil {
		return nil, apiErr
	}

	var grouped map[string][]run.Summary
	if err := json.Unmarshal(body, &grouped); err != nil {
		return nil, fmt.Errorf("decoding runs: %w", err)
	}

	return grouped, nil
}

// GetRun returns the stored document for runID.
func (c *Client) GetRun(ctx context.Context, runID int64) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, "/run/"+strconv.FormatInt(runID, 10), nil)
	if err != nil {
		return nil, err
	}

	if apiErr := asAPIError(body); apiErr != nil {
		return nil, apiErr
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("decoding run %d: invalid JSON", runID)
	}

	return json.RawMessage(body), nil
}

func (c *Client) do(
	ctx context.Context, method, path string, body io.Reader,
) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var env envelope
		if json.Unmarshal(data, &env) == nil && env.Message != "" {
			return nil, &APIError{Message: env.Message}
		}

		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return data, nil
}

// asAPIError reports an error envelope. Data responses never carry a
// top-level string status, so a decoded "error" status is unambiguous.
func asAPIError(body []byte) *APIError {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}

	if env.Status != statusError {
		return nil
	}

	return &APIError{Message: env.Message}
}
