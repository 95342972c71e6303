// Package client provides the GRID series-state GraphQL transport: one
// request per call, classified failures, no internal retries.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultEndpoint is the GRID live-data-feed series-state endpoint.
const DefaultEndpoint = "https://api-op.grid.gg/live-data-feed/series-state/graphql"

// Prometheus metrics for GRID client operations.
var (
	gridRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_requests_total",
		Help: "Total GRID GraphQL requests by variant and status",
	}, []string{"variant", "status"})

	gridRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grid_request_duration_seconds",
		Help:    "GRID request duration in seconds by variant",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"variant"})

	gridErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_errors_total",
		Help: "Total GRID request failures by class",
	}, []string{"class"})
)

// Variant selects the query shape of a request.
type Variant string

const (
	// VariantVersion is the lightweight id + version check.
	VariantVersion Variant = "version"

	// VariantFull is the full series-state document for a schema version.
	VariantFull Variant = "full"
)

// Config holds the client configuration.
type Config struct {
	// Endpoint is the GraphQL URL (default: DefaultEndpoint).
	Endpoint string

	// APIKey is sent as x-api-key on every request (REQUIRED).
	APIKey string

	// Timeout bounds a single request including reading the body.
	Timeout time.Duration

	// UserAgent header.
	UserAgent string

	// HTTPClient overrides the transport (for testing).
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		Endpoint:  DefaultEndpoint,
		APIKey:    apiKey,
		Timeout:   30 * time.Second,
		UserAgent: "grid-series-fetcher/1.0",
	}
}

// Request describes one GraphQL call.
type Request struct {
	SeriesID string
	Variant  Variant

	// SchemaVersion selects the full document; ignored for VariantVersion.
	SchemaVersion string
}

// Response is a successful GraphQL response.
type Response struct {
	SeriesID string
	Variant  Variant

	// Raw is the complete response body, as received.
	Raw []byte

	// Version is the schema version reported by seriesState.version.
	Version string

	StatusCode int
	Duration   time.Duration
}

// Client is the GRID GraphQL client.
type Client struct {
	httpClient *http.Client
	config     Config
	operations map[string]string
	logger     zerolog.Logger
}

// New creates a new GRID client. All query documents are parsed up front.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingCredential
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	ops, err := validateDocuments()
	if err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Per-request deadlines come from the context.
		httpClient = &http.Client{}
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
		operations: ops,
		logger:     log.With().Str("component", "grid-client").Logger(),
	}, nil
}

type requestBody struct {
	Query         string            `json:"query"`
	OperationName string            `json:"operationName,omitempty"`
	Variables     map[string]string `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type envelope struct {
	Data *struct {
		SeriesState *struct {
			ID      string  `json:"id"`
			Version *string `json:"version"`
		} `json:"seriesState"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// Do performs exactly one GraphQL request. A cancelled parent context is
// returned unwrapped so callers can tell interruption from failure.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	query := versionQuery
	if req.Variant == VariantFull {
		_, query = SelectQuery(req.SchemaVersion)
	}
	variant := string(req.Variant)

	body, err := sonic.Marshal(requestBody{
		Query:         query,
		OperationName: c.operations[query],
		Variables:     map[string]string{"seriesId": req.SeriesID},
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("x-api-key", c.config.APIKey)
	if c.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("series_id", req.SeriesID).
		Str("variant", variant).
		Str("schema_version", req.SchemaVersion).
		Msg("Executing GRID request")

	startTime := time.Now()
	defer func() {
		gridRequestDuration.WithLabelValues(variant).Observe(time.Since(startTime).Seconds())
	}()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportFailure(ctx, req, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportFailure(ctx, req, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reqErr := &RequestError{
			StatusCode: resp.StatusCode,
			Class:      classifyStatus(resp.StatusCode),
			Message:    resp.Status,
		}
		if reqErr.Class == ErrorClassRateLimited {
			reqErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return nil, c.fail(req, reqErr)
	}

	var env envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return nil, c.fail(req, &RequestError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassNetwork,
			Message:    "malformed response body",
			Err:        err,
		})
	}
	if len(env.Errors) > 0 {
		msg := env.Errors[0].Message
		if msg == "" {
			msg = "unknown GraphQL error"
		}
		return nil, c.fail(req, &RequestError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassGraphQL,
			Message:    msg,
		})
	}
	if env.Data == nil || env.Data.SeriesState == nil {
		return nil, c.fail(req, &RequestError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassGraphQL,
			Message:    "seriesState is null",
		})
	}

	version := DefaultSchemaVersion
	if v := env.Data.SeriesState.Version; v != nil && *v != "" {
		version = *v
	}

	gridRequestsTotal.WithLabelValues(variant, strconv.Itoa(resp.StatusCode)).Inc()

	return &Response{
		SeriesID:   req.SeriesID,
		Variant:    req.Variant,
		Raw:        raw,
		Version:    version,
		StatusCode: resp.StatusCode,
		Duration:   time.Since(startTime),
	}, nil
}

// FetchVersion returns the schema version of a series.
func (c *Client) FetchVersion(ctx context.Context, seriesID string) (string, error) {
	resp, err := c.Do(ctx, Request{SeriesID: seriesID, Variant: VariantVersion})
	if err != nil {
		return "", err
	}
	return resp.Version, nil
}

// FetchSeries fetches the full series state with the document matching schemaVersion.
func (c *Client) FetchSeries(ctx context.Context, seriesID, schemaVersion string) (*Response, error) {
	return c.Do(ctx, Request{SeriesID: seriesID, Variant: VariantFull, SchemaVersion: schemaVersion})
}

// transportFailure classifies an error from the HTTP round trip or body read.
func (c *Client) transportFailure(parent context.Context, req Request, err error) error {
	if parent.Err() != nil {
		gridRequestsTotal.WithLabelValues(string(req.Variant), "cancelled").Inc()
		return parent.Err()
	}

	class := ErrorClassNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		class = ErrorClassTimeout
	}
	return c.fail(req, &RequestError{Class: class, Message: "request failed", Err: err})
}

func (c *Client) fail(req Request, reqErr *RequestError) error {
	status := "network_error"
	if reqErr.StatusCode != 0 {
		status = strconv.Itoa(reqErr.StatusCode)
	}
	gridRequestsTotal.WithLabelValues(string(req.Variant), status).Inc()
	gridErrorsTotal.WithLabelValues(string(reqErr.Class)).Inc()

	c.logger.Debug().
		Str("series_id", req.SeriesID).
		Str("variant", string(req.Variant)).
		Int("status_code", reqErr.StatusCode).
		Str("error_class", string(reqErr.Class)).
		Msg("GRID request failed")

	return reqErr
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
