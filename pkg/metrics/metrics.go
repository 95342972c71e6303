// Package metrics exposes the fetcher's Prometheus metrics over HTTP.
// All metrics are defined in their respective packages (client, ratelimit,
// checkpoint, orchestrator, projector) via promauto, to maintain modularity
// and avoid circular dependencies.
//
// This package serves them and documents what is available.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the /metrics handler for the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server serves /metrics until its context is cancelled.
type Server struct {
	srv      *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

// Listen binds addr (e.g. ":9090") and returns a server ready to Serve.
func Listen(addr string, logger zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return &Server{
		srv:      &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		listener: ln,
		logger:   logger,
	}, nil
}

// Addr is the bound address.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Serve blocks until ctx is done, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.Addr()).Msg("Serving metrics")
		errCh <- s.srv.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - grid_requests_total{variant, status} (Counter): GraphQL requests by variant and HTTP status
//   - grid_request_duration_seconds{variant} (Histogram): Request duration by variant
//   - grid_errors_total{class} (Counter): Errors by class (unauthorized, rate_limited, ...)
//
// Rate Governor Metrics (pkg/ratelimit):
//   - grid_ratelimit_wait_seconds (Histogram): Time spent waiting for a permit
//   - grid_ratelimit_in_flight (Gauge): Permits currently held
//   - grid_ratelimit_penalties_total (Counter): Server-requested pauses applied
//
// Retry Metrics (pkg/orchestrator):
//   - grid_fetch_retries_total{error_class} (Counter): Retry attempts by error class
//   - grid_fetch_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - grid_fetch_outcomes_total{status} (Counter): Terminal outcomes (succeeded, failed)
//
// Checkpoint Metrics (pkg/checkpoint):
//   - grid_checkpoint_writes_total{backend, result} (Counter): Attempt writes (accepted, stale, error)
//   - grid_checkpoint_payload_bytes{backend} (Histogram): Stored payload sizes
//
// Projection Metrics (pkg/projector):
//   - grid_projection_issues_total{kind} (Counter): Data-integrity issues by kind
//
// Example Prometheus Queries:
//
//   # Request Error Rate
//   rate(grid_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(grid_request_duration_seconds_bucket[5m]))
//
//   # Requests Per Minute (should stay under the GRID limit of 20)
//   sum(rate(grid_requests_total[1m])) * 60
