package ingest

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

	"github.com/hashicorp/go-retryablehttp"
	"github.com/nholik/watchdog-bridge/internal/metrics"
	"github.com/nholik/watchdog-bridge/internal/payload"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout    = 15 * time.Second
	errorBodyLimit    = 1024
	responseBodyLimit = 64 << 10
	apiKeyHeader      = "X-API-Key"
)

// Endpoint is an ingest route.
type Endpoint string

const (
	EndpointDaily    Endpoint = "/v1/ingest/daily"
	EndpointIntraday Endpoint = "/v1/ingest/intraday"
	EndpointDebug    Endpoint = "/v1/ingest/debug"
)

// Label returns the short endpoint name used in logs and metrics.
func (e Endpoint) Label() string {
	return strings.TrimPrefix(string(e), "/v1/ingest/")
}

// Response is the ingest service's acknowledgement body.
type Response struct {
	Status   string  `json:"status"`
	Inserted *bool   `json:"inserted,omitempty"`
	ID       *string `json:"id,omitempty"`
}

// Result describes a completed HTTP exchange. Success is true only for 2xx.
type Result struct {
	StatusCode int
	Success    bool
	ErrorBody  string
	Response   *Response
}

// Client posts payloads to the ingest service with a static API key.
type Client struct {
	logger  zerolog.Logger
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *retryablehttp.Client
	metrics *metrics.Metrics
}

// Option customizes Client behavior.
type Option func(*Client)

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithMetrics records upload outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient constructs a Client for the service at baseURL.
func NewClient(logger zerolog.Logger, baseURL, apiKey string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ingest url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New("invalid ingest url: must include scheme and host")
	}
	if apiKey == "" {
		return nil, errors.New("api key must not be empty")
	}

	c := &Client{
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	// Retries are owned by the sync schedule; one call is one attempt.
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.CheckRetry = func(_ context.Context, _ *http.Response, _ error) (bool, error) {
		return false, nil
	}
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: c.timeout}
	c.client = client

	return c, nil
}

// PostDaily uploads a completed day.
func (c *Client) PostDaily(ctx context.Context, p payload.IngestPayload) (Result, error) {
	return c.post(ctx, EndpointDaily, p)
}

// PostIntraday uploads today's partial day.
func (c *Client) PostIntraday(ctx context.Context, p payload.IngestPayload) (Result, error) {
	return c.post(ctx, EndpointIntraday, p)
}

// PostDebug uploads to the debug sink; the server does not persist it.
func (c *Client) PostDebug(ctx context.Context, p payload.IngestPayload) (Result, error) {
	return c.post(ctx, EndpointDebug, p)
}

func (c *Client) post(ctx context.Context, endpoint Endpoint, p payload.IngestPayload) (Result, error) {
	body, err := payload.Marshal(p)
	if err != nil {
		return Result{}, fmt.Errorf("encode payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+string(endpoint), bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		transportErr := classifyTransport(err)
		c.metrics.IncUploads(endpoint.Label(), string(transportErr.Kind))
		return Result{}, transportErr
	}
	defer resp.Body.Close()

	result := Result{StatusCode: resp.StatusCode}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result.Success = true
		data, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
		var ack Response
		if len(bytes.TrimSpace(data)) > 0 && json.Unmarshal(data, &ack) == nil {
			result.Response = &ack
		}
		c.metrics.IncUploads(endpoint.Label(), "accepted")
		c.logger.Debug().
			Str("endpoint", endpoint.Label()).
			Str("date", p.Date.String()).
			Int("status_code", resp.StatusCode).
			Msg("ingest upload accepted")
		return result, nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	result.ErrorBody = strings.TrimSpace(string(data))
	c.metrics.IncUploads(endpoint.Label(), "rejected")
	c.logger.Warn().
		Str("endpoint", endpoint.Label()).
		Str("date", p.Date.String()).
		Int("status_code", resp.StatusCode).
		Str("error_body", result.ErrorBody).
		Msg("ingest upload rejected")
	return result, nil
}
