package orchestrator

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Sternrassler/grid-series-fetcher/pkg/ratelimit"
)

// progress logs a line for the first and then every N-th finished identifier
// with rate and ETA.
type progress struct {
	mu        sync.Mutex
	total     int
	done      int
	succeeded int
	started   time.Time
	clock     ratelimit.Clock
	every     rate.Sometimes
	logger    zerolog.Logger
}

func newProgress(total, every int, clock ratelimit.Clock, logger zerolog.Logger) *progress {
	return &progress{
		total:   total,
		started: clock.Now(),
		clock:   clock,
		every:   rate.Sometimes{Every: every},
		logger:  logger,
	}
}

func (p *progress) step(succeeded bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	if succeeded {
		p.succeeded++
	}
	p.every.Do(func() {
		elapsed := p.clock.Now().Sub(p.started)
		perMinute, eta := throughput(p.done, p.total, elapsed)
		p.logger.Info().
			Int("done", p.done).
			Int("total", p.total).
			Int("succeeded", p.succeeded).
			Float64("progress_pct", float64(p.done)/float64(p.total)*100).
			Float64("per_minute", perMinute).
			Dur("eta", eta).
			Msg("Fetch progress")
	})
}

// throughput returns identifiers per minute and the remaining time at that pace.
func throughput(done, total int, elapsed time.Duration) (float64, time.Duration) {
	if done <= 0 || elapsed <= 0 {
		return 0, 0
	}
	perMinute := float64(done) / elapsed.Minutes()
	remaining := total - done
	if remaining <= 0 {
		return perMinute, 0
	}
	eta := time.Duration(float64(elapsed) / float64(done) * float64(remaining))
	return perMinute, eta
}
