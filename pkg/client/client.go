// Package client is a Go SDK for the backtester HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"backtester/internal/httpapi"
	"backtester/internal/strategy"
)

// Wire types shared with the server.
type (
	Scenario         = httpapi.ScenarioJSON
	BacktestResponse = httpapi.BacktestResponse
	Quote            = httpapi.QuoteJSON
	IndicatorChoice  = strategy.Choice
)

// ErrNotFound is wrapped by APIError for 404 responses.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backtester api: %d %s", e.Status, e.Message)
}

// Unwrap maps 404 to ErrNotFound.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Client provides a Go SDK for interacting with the backtest-server API.
type Client struct {
	baseURL    string
	owner      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithOwner sets the owner id sent with every request.
func WithOwner(owner string) Option {
	return func(c *Client) { c.owner = owner }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a new backtester API client.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.owner != "" {
		req.Header.Set(httpapi.OwnerHeader, c.owner)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e httpapi.ErrorJSON
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

// RunBacktest runs an unsaved scenario. summaryOnly omits the ledger and
// chart from the response.
func (c *Client) RunBacktest(ctx context.Context, sc Scenario, summaryOnly bool) (*BacktestResponse, error) {
	path := "/api/backtest"
	if summaryOnly {
		path += "?summary=true"
	}
	var out BacktestResponse
	if err := c.do(ctx, http.MethodPost, path, sc, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Quotes returns daily closes for ticker within [start, end].
func (c *Client) Quotes(ctx context.Context, ticker string, start, end time.Time) ([]Quote, error) {
	q := url.Values{}
	q.Set("ticker", ticker)
	q.Set("start", start.Format("2006-01-02"))
	q.Set("end", end.Format("2006-01-02"))
	var out []Quote
	if err := c.do(ctx, http.MethodGet, "/api/quotes?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Indicators lists the indicator types a trigger can use.
func (c *Client) Indicators(ctx context.Context) ([]IndicatorChoice, error) {
	var out []IndicatorChoice
	if err := c.do(ctx, http.MethodGet, "/api/indicators", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DefaultScenario returns the server's starting scenario.
func (c *Client) DefaultScenario(ctx context.Context) (*Scenario, error) {
	var out Scenario
	if err := c.do(ctx, http.MethodGet, "/api/scenarios/default", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListScenarios lists the caller's saved scenarios.
func (c *Client) ListScenarios(ctx context.Context) ([]Scenario, error) {
	var out []Scenario
	if err := c.do(ctx, http.MethodGet, "/api/scenarios", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateScenario saves sc and returns it with its id.
func (c *Client) CreateScenario(ctx context.Context, sc Scenario) (*Scenario, error) {
	var out Scenario
	if err := c.do(ctx, http.MethodPost, "/api/scenarios", sc, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetScenario loads a saved scenario.
func (c *Client) GetScenario(ctx context.Context, id string) (*Scenario, error) {
	var out Scenario
	if err := c.do(ctx, http.MethodGet, "/api/scenarios/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateScenario merges fields into a saved scenario. Keys use the wire
// names, e.g. "startingInvestment".
func (c *Client) UpdateScenario(ctx context.Context, id string, fields map[string]any) (*Scenario, error) {
	var out Scenario
	if err := c.do(ctx, http.MethodPatch, "/api/scenarios/"+url.PathEscape(id), fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteScenario removes a saved scenario.
func (c *Client) DeleteScenario(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/scenarios/"+url.PathEscape(id), nil, nil)
}

// RunScenario runs a saved scenario and stores its summary on the server.
func (c *Client) RunScenario(ctx context.Context, id string, summaryOnly bool) (*BacktestResponse, error) {
	path := "/api/scenarios/" + url.PathEscape(id) + "/run"
	if summaryOnly {
		path += "?summary=true"
	}
	var out BacktestResponse
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
