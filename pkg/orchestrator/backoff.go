package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry decisions.
var (
	fetchRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_fetch_retries_total",
		Help: "Total number of scheduled retries by error class",
	}, []string{"error_class"})

	fetchBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grid_fetch_backoff_seconds",
		Help:    "Backoff duration before a retry by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	fetchOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_fetch_outcomes_total",
		Help: "Total number of identifier outcomes by status",
	}, []string{"status"})
)

// RetryConfig holds the backoff schedule between attempts of one identifier.
type RetryConfig struct {
	// MaxAttempts is the attempt ceiling per identifier across all invocations of a run.
	MaxAttempts int

	// InitialBackoff is the wait after the first failed attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// backoff returns the jittered wait after the given (1-based) failed attempt.
// random must return a value in [0, 1).
func (c RetryConfig) backoff(attempt int, random func() float64) time.Duration {
	d := float64(c.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= c.BackoffMultiplier
		if d >= float64(c.MaxBackoff) {
			d = float64(c.MaxBackoff)
			break
		}
	}
	if d > float64(c.MaxBackoff) {
		d = float64(c.MaxBackoff)
	}

	// ±20% jitter
	return time.Duration(d * (0.8 + random()*0.4))
}
