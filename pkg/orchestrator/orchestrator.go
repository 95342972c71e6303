// Package orchestrator drives every identifier of a run through the fetch
// state machine:
//
//	pending → in_flight → succeeded
//	                    → retrying → in_flight ...
//	                    → failed
//
// Attempts for one identifier run sequentially in one worker; identifiers run
// in parallel on a bounded pool. Every transition is written to the checkpoint
// store before the next one starts, so an interrupted run resumes where it
// stopped.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/grid-series-fetcher/pkg/checkpoint"
	"github.com/Sternrassler/grid-series-fetcher/pkg/client"
	"github.com/Sternrassler/grid-series-fetcher/pkg/logging"
	"github.com/Sternrassler/grid-series-fetcher/pkg/ratelimit"
)

// ErrCredentialRejected is returned when GRID rejects the API key.
var ErrCredentialRejected = errors.New("GRID rejected the API key")

// Fetcher issues single GraphQL requests. *client.Client implements it.
type Fetcher interface {
	FetchVersion(ctx context.Context, seriesID string) (string, error)
	FetchSeries(ctx context.Context, seriesID, schemaVersion string) (*client.Response, error)
}

// Gate admits requests. *ratelimit.Governor implements it.
type Gate interface {
	Acquire(ctx context.Context) (*ratelimit.Permit, error)
	Penalize(d time.Duration)
}

// Config holds orchestrator configuration.
type Config struct {
	RetryConfig

	// Limit caps the identifiers processed per invocation (0 = all).
	Limit int

	// Offset skips the first pending identifiers.
	Offset int

	// Workers is the pool size; match it to the governor's concurrency ceiling.
	Workers int

	// ProgressEvery logs a progress line every N finished identifiers.
	ProgressEvery int
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		RetryConfig:   DefaultRetryConfig(),
		Workers:       2,
		ProgressEvery: 10,
	}
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the clock used for backoff waits and timings.
func WithClock(c ratelimit.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithRand replaces the jitter source. fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(o *Orchestrator) { o.random = fn }
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// Orchestrator runs fetch batches against a checkpoint store.
type Orchestrator struct {
	fetcher Fetcher
	gate    Gate
	store   checkpoint.Store
	cfg     Config
	clock   ratelimit.Clock
	random  func() float64
	logger  zerolog.Logger

	requests atomic.Int64
}

// New creates an orchestrator.
func New(fetcher Fetcher, gate Gate, store checkpoint.Store, cfg Config, opts ...Option) *Orchestrator {
	defaults := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaults.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaults.MaxBackoff
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = defaults.ProgressEvery
	}

	o := &Orchestrator{
		fetcher: fetcher,
		gate:    gate,
		store:   store,
		cfg:     cfg,
		clock:   ratelimit.SystemClock{},
		random:  rand.Float64,
		logger:  logging.NewLogger("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Summary reports a run after one invocation.
type Summary struct {
	RunID string

	// Run-wide counts after this invocation.
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Pending   int

	// Processed counts identifiers that reached succeeded or failed in this invocation.
	Processed int

	// Requests counts GraphQL requests issued in this invocation.
	Requests int

	// Interrupted is set when the context was cancelled before the batch finished.
	Interrupted bool

	// ErrorClasses is the distribution of last error classes over non-succeeded identifiers.
	ErrorClasses map[string]int

	Duration time.Duration
}

// Selection previews what Run would process.
type Selection struct {
	Selected []string
	Skipped  []string
}

// Select applies offset and limit to the run's pending identifiers.
// Skipped only lists never-attempted identifiers pushed out by the window.
func (o *Orchestrator) Select(run *checkpoint.Run) Selection {
	pending := run.Pending(o.cfg.MaxAttempts)

	start := min(max(o.cfg.Offset, 0), len(pending))
	end := len(pending)
	if o.cfg.Limit > 0 && start+o.cfg.Limit < end {
		end = start + o.cfg.Limit
	}

	sel := Selection{Selected: pending[start:end]}
	for i, id := range pending {
		if i >= start && i < end {
			continue
		}
		if run.Attempt(id).Count == 0 {
			sel.Skipped = append(sel.Skipped, id)
		}
	}
	return sel
}

// outcome is the terminal result of one identifier within an invocation.
type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeFailed
	outcomeLeftPending
)

// Run processes the pending identifiers of runID.
//
// Per-identifier failures never abort the batch. Run returns an error for a
// missing run, a store failure or a rejected credential (ErrCredentialRejected).
// Cancelling ctx stops the batch; unfinished identifiers stay pending.
func (o *Orchestrator) Run(ctx context.Context, runID string) (Summary, error) {
	start := o.clock.Now()
	o.requests.Store(0)

	run, err := o.store.LoadRun(ctx, runID)
	if err != nil {
		return Summary{RunID: runID}, fmt.Errorf("load run: %w", err)
	}
	sel := o.Select(run)

	logger := o.logger.With().Str("run_id", run.ID).Logger()
	logger.Info().
		Int("total", len(run.Identifiers)).
		Int("selected", len(sel.Selected)).
		Int("skipped", len(sel.Skipped)).
		Msg("Starting fetch batch")

	for _, id := range sel.Skipped {
		a := run.Attempt(id)
		if a.Status == checkpoint.StatusSkipped {
			continue
		}
		if err := o.record(ctx, run.ID, checkpoint.Record{Attempt: checkpoint.Attempt{
			SeriesID:  id,
			Status:    checkpoint.StatusSkipped,
			UpdatedAt: o.clock.Now(),
		}}); err != nil {
			return o.summarize(ctx, run.ID, start, 0, false), err
		}
	}

	if len(sel.Selected) == 0 {
		logger.Info().Msg("Nothing to fetch")
		return o.summarize(ctx, run.ID, start, 0, false), nil
	}

	if err := o.preflight(ctx, sel.Selected[0]); err != nil {
		if ctx.Err() != nil {
			return o.summarize(context.WithoutCancel(ctx), run.ID, start, 0, true), nil
		}
		return o.summarize(ctx, run.ID, start, 0, false), err
	}

	processed, err := o.drive(ctx, run, sel.Selected, logger)
	interrupted := ctx.Err() != nil
	summary := o.summarize(context.WithoutCancel(ctx), run.ID, start, processed, interrupted)

	logger.Info().
		Int("processed", summary.Processed).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("pending", summary.Pending).
		Int("requests", summary.Requests).
		Bool("interrupted", summary.Interrupted).
		Dur("duration", summary.Duration).
		Msg("Fetch batch finished")

	return summary, err
}

// preflight issues one version request to verify the credential.
// Failures other than a rejected key are left to the identifier's own attempts.
func (o *Orchestrator) preflight(ctx context.Context, seriesID string) error {
	err := o.withPermit(ctx, func(ctx context.Context) error {
		_, err := o.fetcher.FetchVersion(ctx, seriesID)
		return err
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if client.ClassOf(err).Fatal() {
		return fmt.Errorf("%w: %v", ErrCredentialRejected, err)
	}
	o.logger.Warn().Err(err).Str("series_id", seriesID).Msg("Preflight request failed, continuing")
	return nil
}

// drive runs ids on the worker pool and returns the number of terminal outcomes.
func (o *Orchestrator) drive(ctx context.Context, run *checkpoint.Run, ids []string, logger zerolog.Logger) (int, error) {
	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool, err := ants.NewPool(o.cfg.Workers)
	if err != nil {
		return 0, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var (
		processed atomic.Int32
		abortOnce sync.Once
		abortErr  error
		workers   sync.WaitGroup
	)
	abort := func(err error) {
		abortOnce.Do(func() {
			abortErr = err
			cancel()
		})
	}

	progress := newProgress(len(ids), o.cfg.ProgressEvery, o.clock, logger)

	for _, id := range ids {
		if batchCtx.Err() != nil {
			break
		}
		prior := run.Attempt(id)
		prior.SeriesID = id

		workers.Add(1)
		if err := pool.Submit(func() {
			defer workers.Done()

			result, err := o.process(batchCtx, run.ID, prior)
			if err != nil {
				abort(err)
				return
			}
			switch result {
			case outcomeSucceeded, outcomeFailed:
				processed.Add(1)
				progress.step(result == outcomeSucceeded)
			}
		}); err != nil {
			workers.Done()
			abort(fmt.Errorf("submit to worker pool: %w", err))
			break
		}
	}

	workers.Wait()
	return int(processed.Load()), abortErr
}

// process runs the attempt loop of one identifier. A returned error aborts the batch.
func (o *Orchestrator) process(ctx context.Context, runID string, prior checkpoint.Attempt) (outcome, error) {
	id := prior.SeriesID
	count := prior.Count
	logger := o.logger.With().Str("run_id", runID).Str("series_id", id).Logger()

	for {
		count++
		if err := o.record(ctx, runID, checkpoint.Record{Attempt: checkpoint.Attempt{
			SeriesID:  id,
			Count:     count,
			Status:    checkpoint.StatusInFlight,
			UpdatedAt: o.clock.Now(),
		}}); err != nil {
			return interruptedOrErr(ctx, err)
		}

		resp, err := o.attempt(ctx, id)
		if err == nil {
			fetchOutcomesTotal.WithLabelValues(string(checkpoint.StatusSucceeded)).Inc()
			logger.Debug().Int("attempt", count).Str("schema_version", resp.Version).Msg("Series fetched")
			return outcomeSucceeded, o.record(context.WithoutCancel(ctx), runID, checkpoint.Record{
				Attempt: checkpoint.Attempt{
					SeriesID:      id,
					Count:         count,
					Status:        checkpoint.StatusSucceeded,
					SchemaVersion: resp.Version,
					UpdatedAt:     o.clock.Now(),
				},
				Payload: resp.Raw,
			})
		}

		if ctx.Err() != nil {
			return o.leavePending(ctx, runID, id, count, "", err)
		}

		class := client.ClassOf(err)
		next := checkpoint.Attempt{
			SeriesID:   id,
			Count:      count,
			ErrorClass: string(class),
			LastError:  err.Error(),
			UpdatedAt:  o.clock.Now(),
		}

		switch {
		case class.Fatal():
			logger.Error().Err(err).Msg("Credential rejected, stopping batch")
			if _, err := o.leavePending(ctx, runID, id, count, class, err); err != nil {
				return outcomeLeftPending, err
			}
			return outcomeLeftPending, fmt.Errorf("%w: %v", ErrCredentialRejected, err)

		case !class.Retryable() || count >= o.cfg.MaxAttempts:
			next.Status = checkpoint.StatusFailed
			fetchOutcomesTotal.WithLabelValues(string(checkpoint.StatusFailed)).Inc()
			logger.Warn().
				Err(err).
				Int("attempt", count).
				Str("error_class", string(class)).
				Msg("Series failed")
			return outcomeFailed, o.record(context.WithoutCancel(ctx), runID, checkpoint.Record{Attempt: next})
		}

		next.Status = checkpoint.StatusRetrying
		if err := o.record(ctx, runID, checkpoint.Record{Attempt: next}); err != nil {
			return interruptedOrErr(ctx, err)
		}

		wait := o.cfg.backoff(count, o.random)
		var reqErr *client.RequestError
		if errors.As(err, &reqErr) && reqErr.RetryAfter > 0 {
			o.gate.Penalize(reqErr.RetryAfter)
			wait = max(wait, reqErr.RetryAfter)
		}
		fetchRetriesTotal.WithLabelValues(string(class)).Inc()
		fetchBackoffSeconds.WithLabelValues(string(class)).Observe(wait.Seconds())

		logger.Debug().
			Int("attempt", count).
			Str("error_class", string(class)).
			Dur("backoff", wait).
			Msg("Retrying series after backoff")

		if err := ratelimit.Sleep(ctx, o.clock, wait); err != nil {
			return o.leavePending(ctx, runID, id, count, class, err)
		}
	}
}

// attempt is one version request followed by one full request.
func (o *Orchestrator) attempt(ctx context.Context, seriesID string) (*client.Response, error) {
	var version string
	err := o.withPermit(ctx, func(ctx context.Context) error {
		var err error
		version, err = o.fetcher.FetchVersion(ctx, seriesID)
		return err
	})
	if err != nil {
		return nil, err
	}

	var resp *client.Response
	err = o.withPermit(ctx, func(ctx context.Context) error {
		var err error
		resp, err = o.fetcher.FetchSeries(ctx, seriesID, version)
		return err
	})
	if err != nil {
		return nil, err
	}
	if resp.Version == "" {
		resp.Version = version
	}
	return resp, nil
}

func (o *Orchestrator) withPermit(ctx context.Context, fn func(context.Context) error) error {
	permit, err := o.gate.Acquire(ctx)
	if err != nil {
		return err
	}
	defer permit.Release()

	o.requests.Add(1)
	return fn(ctx)
}

// leavePending records an interrupted or aborted identifier as pending. The
// attempt keeps counting.
func (o *Orchestrator) leavePending(ctx context.Context, runID, seriesID string, count int, class client.ErrorClass, cause error) (outcome, error) {
	a := checkpoint.Attempt{
		SeriesID:   seriesID,
		Count:      count,
		Status:     checkpoint.StatusPending,
		ErrorClass: string(class),
		UpdatedAt:  o.clock.Now(),
	}
	if class != "" && cause != nil {
		a.LastError = cause.Error()
	}
	return outcomeLeftPending, o.record(context.WithoutCancel(ctx), runID, checkpoint.Record{Attempt: a})
}

// interruptedOrErr treats a failed write under cancellation as an interrupt.
// The last written in_flight or retrying state already loads as pending.
func interruptedOrErr(ctx context.Context, err error) (outcome, error) {
	if ctx.Err() != nil {
		return outcomeLeftPending, nil
	}
	return outcomeLeftPending, err
}

func (o *Orchestrator) record(ctx context.Context, runID string, rec checkpoint.Record) error {
	if err := o.store.RecordAttempt(ctx, runID, rec); err != nil {
		return fmt.Errorf("record %s %s: %w", rec.Attempt.SeriesID, rec.Attempt.Status, err)
	}
	return nil
}

func (o *Orchestrator) summarize(ctx context.Context, runID string, start time.Time, processed int, interrupted bool) Summary {
	s := Summary{
		RunID:       runID,
		Processed:   processed,
		Requests:    int(o.requests.Load()),
		Interrupted: interrupted,
		Duration:    o.clock.Now().Sub(start),
	}
	run, err := o.store.LoadRun(ctx, runID)
	if err != nil {
		o.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to reload run for summary")
		return s
	}
	rs := run.Summary()
	s.Total = rs.Total
	s.Succeeded = rs.Succeeded
	s.Failed = rs.Failed
	s.Skipped = rs.Skipped
	s.Pending = rs.Pending
	s.ErrorClasses = rs.ErrorClasses
	return s
}

// Estimate returns the expected wall time for n identifiers: two requests
// each, paced at spacing.
func Estimate(n int, spacing time.Duration) time.Duration {
	return time.Duration(2*n) * spacing
}
