// Package ratelimit implements the request governor for the GRID API: a
// rolling-window request limit, a minimum spacing between consecutive
// requests and a ceiling on concurrent in-flight requests.
//
// Release times are reserved under a lock and then waited for, so callers
// never spin and the window bound holds regardless of how many goroutines
// acquire concurrently.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for the governor.
var (
	gridRateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "grid_ratelimit_wait_seconds",
		Help:    "Time callers waited for a request permit",
		Buckets: []float64{0, 0.5, 1, 3, 5, 10, 30, 60},
	})

	gridRateLimitInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_ratelimit_in_flight",
		Help: "Number of permits currently held",
	})

	gridRateLimitPenaltiesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grid_ratelimit_penalties_total",
		Help: "Number of server-requested pauses (429 Retry-After)",
	})
)

// Config holds the governor limits.
type Config struct {
	// Limit is the maximum number of releases within any Window.
	Limit int

	// Window is the rolling window length.
	Window time.Duration

	// MinSpacing is the minimum gap between consecutive releases.
	MinSpacing time.Duration

	// MaxConcurrent is the ceiling on permits held at once.
	MaxConcurrent int
}

// DefaultConfig returns the GRID published limit: 20 requests per minute,
// with 3.1s spacing between requests.
func DefaultConfig() Config {
	return Config{
		Limit:         20,
		Window:        time.Minute,
		MinSpacing:    3100 * time.Millisecond,
		MaxConcurrent: 2,
	}
}

// Governor gates requests. It is safe for concurrent use.
type Governor struct {
	cfg    Config
	clock  Clock
	logger zerolog.Logger
	slots  chan struct{}

	// spacing is a one-token bucket refilled every MinSpacing; nil without spacing.
	spacing *rate.Limiter

	mu           sync.Mutex
	released     []time.Time // ascending reservations still inside the window
	spacedAt     time.Time   // last time handed to spacing, never decreases
	blockedUntil time.Time
}

// New creates a governor. A nil clock uses SystemClock.
func New(cfg Config, clock Clock, logger zerolog.Logger) *Governor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if clock == nil {
		clock = SystemClock{}
	}
	g := &Governor{
		cfg:    cfg,
		clock:  clock,
		logger: logger,
		slots:  make(chan struct{}, cfg.MaxConcurrent),
	}
	if cfg.MinSpacing > 0 {
		g.spacing = rate.NewLimiter(rate.Every(ceilMicro(cfg.MinSpacing)), 1)
	}
	return g
}

// Permit is one released request slot.
type Permit struct {
	// At is the instant the permit was released for.
	At time.Time

	once sync.Once
	g    *Governor
}

// Release returns the concurrency slot. Safe to call more than once.
func (p *Permit) Release() {
	p.once.Do(func() {
		<-p.g.slots
		gridRateLimitInFlight.Dec()
	})
}

// Acquire suspends the caller until a request may be issued.
func (g *Governor) Acquire(ctx context.Context) (*Permit, error) {
	select {
	case g.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	start := g.clock.Now()
	at := g.reserve(start)

	if wait := at.Sub(start); wait > 0 {
		g.logger.Debug().Dur("wait", wait).Msg("Waiting for rate limit permit")
	}

	if err := g.clock.SleepUntil(ctx, at); err != nil {
		// The reservation is kept.
		<-g.slots
		return nil, err
	}

	gridRateLimitWaitSeconds.Observe(at.Sub(start).Seconds())
	gridRateLimitInFlight.Inc()
	return &Permit{At: at, g: g}, nil
}

// Penalize blocks new releases for d from now.
func (g *Governor) Penalize(d time.Duration) {
	if d <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	until := g.clock.Now().Add(d)
	if until.After(g.blockedUntil) {
		g.blockedUntil = until
		gridRateLimitPenaltiesTotal.Inc()
		g.logger.Warn().Dur("retry_after", d).Msg("Rate limited by server, pausing releases")
	}
}

// reserve computes and records the next release time.
func (g *Governor) reserve(now time.Time) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Entries a full window before now can no longer share a window with any new release.
	drop := 0
	for drop < len(g.released) && now.Sub(g.released[drop]) >= g.cfg.Window {
		drop++
	}
	g.released = g.released[drop:]

	at := now
	if g.cfg.Limit > 0 && len(g.released) >= g.cfg.Limit {
		if next := g.released[len(g.released)-g.cfg.Limit].Add(g.cfg.Window); next.After(at) {
			at = next
		}
	}
	if g.blockedUntil.After(at) {
		at = g.blockedUntil
	}
	if g.spacing != nil {
		at = g.space(at)
	}

	if g.cfg.Limit > 0 {
		g.released = append(g.released, at)
	}
	return at
}

// space takes the spacing token at or after t and returns when it is available.
// Times passed to the limiter are monotonic and microsecond aligned: its float
// arithmetic can truncate a delay by a nanosecond, which the alignment absorbs.
func (g *Governor) space(t time.Time) time.Time {
	if t.Before(g.spacedAt) {
		t = g.spacedAt
	}
	t = ceilMicroTime(t)
	g.spacedAt = t

	r := g.spacing.ReserveN(t, 1)
	return t.Add(ceilMicro(r.DelayFrom(t)))
}

func ceilMicro(d time.Duration) time.Duration {
	if rem := d % time.Microsecond; rem != 0 {
		d += time.Microsecond - rem
	}
	return d
}

func ceilMicroTime(t time.Time) time.Time {
	if c := t.Truncate(time.Microsecond); c.Before(t) {
		return c.Add(time.Microsecond)
	}
	return t
}

// State is a snapshot of the governor for status reporting.
type State struct {
	InFlight     int
	InWindow     int
	BlockedUntil time.Time
}

// State returns a snapshot of the governor.
func (g *Governor) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{
		InFlight:     len(g.slots),
		InWindow:     len(g.released),
		BlockedUntil: g.blockedUntil,
	}
}
