package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/Sternrassler/grid-series-fetcher/pkg/checkpoint"
	"github.com/Sternrassler/grid-series-fetcher/pkg/client"
)

// RefreshSummary reports one refresh pass.
type RefreshSummary struct {
	RunID       string
	Checked     int
	Unchanged   int
	Updated     int
	Errors      int
	Requests    int
	Interrupted bool
	Duration    time.Duration
}

// Refresh re-checks the schema version of every succeeded identifier of runID
// and re-fetches those whose version changed. The stored payload is replaced;
// a failed refresh leaves the previous payload in place.
func (o *Orchestrator) Refresh(ctx context.Context, runID string) (RefreshSummary, error) {
	start := o.clock.Now()
	o.requests.Store(0)

	run, err := o.store.LoadRun(ctx, runID)
	if err != nil {
		return RefreshSummary{RunID: runID}, fmt.Errorf("load run: %w", err)
	}

	var ids []string
	for _, id := range run.Identifiers {
		if run.Attempt(id).Status == checkpoint.StatusSucceeded {
			ids = append(ids, id)
		}
	}
	if o.cfg.Limit > 0 && len(ids) > o.cfg.Limit {
		ids = ids[:o.cfg.Limit]
	}

	logger := o.logger.With().Str("run_id", run.ID).Logger()
	logger.Info().Int("succeeded", len(ids)).Msg("Starting refresh")

	summary := RefreshSummary{RunID: run.ID}
	if len(ids) == 0 {
		summary.Duration = o.clock.Now().Sub(start)
		return summary, nil
	}

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool, err := ants.NewPool(o.cfg.Workers)
	if err != nil {
		return summary, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var (
		unchanged, updated, failed atomic.Int32
		abortOnce                  sync.Once
		abortErr                   error
		workers                    sync.WaitGroup
	)
	abort := func(err error) {
		abortOnce.Do(func() {
			abortErr = err
			cancel()
		})
	}

	for _, id := range ids {
		if batchCtx.Err() != nil {
			break
		}
		prior := run.Attempt(id)
		prior.SeriesID = id

		workers.Add(1)
		if err := pool.Submit(func() {
			defer workers.Done()

			changed, err := o.refreshOne(batchCtx, run.ID, prior)
			switch {
			case err == nil && changed:
				updated.Add(1)
			case err == nil:
				unchanged.Add(1)
			case batchCtx.Err() != nil:
			case client.ClassOf(err).Fatal():
				abort(fmt.Errorf("%w: %v", ErrCredentialRejected, err))
			default:
				failed.Add(1)
				logger.Warn().Err(err).Str("series_id", id).Msg("Refresh failed, keeping stored payload")
			}
		}); err != nil {
			workers.Done()
			abort(fmt.Errorf("submit to worker pool: %w", err))
			break
		}
	}
	workers.Wait()

	summary.Unchanged = int(unchanged.Load())
	summary.Updated = int(updated.Load())
	summary.Errors = int(failed.Load())
	summary.Checked = summary.Unchanged + summary.Updated + summary.Errors
	summary.Requests = int(o.requests.Load())
	summary.Interrupted = ctx.Err() != nil
	summary.Duration = o.clock.Now().Sub(start)

	logger.Info().
		Int("checked", summary.Checked).
		Int("updated", summary.Updated).
		Int("errors", summary.Errors).
		Dur("duration", summary.Duration).
		Msg("Refresh finished")

	return summary, abortErr
}

// refreshOne reports whether a newer payload was stored.
func (o *Orchestrator) refreshOne(ctx context.Context, runID string, prior checkpoint.Attempt) (bool, error) {
	var version string
	err := o.withPermit(ctx, func(ctx context.Context) error {
		var err error
		version, err = o.fetcher.FetchVersion(ctx, prior.SeriesID)
		return err
	})
	if err != nil {
		return false, err
	}
	if version == prior.SchemaVersion {
		return false, nil
	}

	var resp *client.Response
	err = o.withPermit(ctx, func(ctx context.Context) error {
		var err error
		resp, err = o.fetcher.FetchSeries(ctx, prior.SeriesID, version)
		return err
	})
	if err != nil {
		return false, err
	}
	if resp.Version == "" {
		resp.Version = version
	}

	o.logger.Debug().
		Str("series_id", prior.SeriesID).
		Str("from", prior.SchemaVersion).
		Str("to", resp.Version).
		Msg("Schema version changed, payload replaced")

	return true, o.record(context.WithoutCancel(ctx), runID, checkpoint.Record{
		Attempt: checkpoint.Attempt{
			SeriesID:      prior.SeriesID,
			Count:         prior.Count + 1,
			Status:        checkpoint.StatusSucceeded,
			SchemaVersion: resp.Version,
			UpdatedAt:     o.clock.Now(),
		},
		Payload: resp.Raw,
	})
}
