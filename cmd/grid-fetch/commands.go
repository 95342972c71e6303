package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Sternrassler/grid-series-fetcher/internal/config"
	"github.com/Sternrassler/grid-series-fetcher/pkg/checkpoint"
	"github.com/Sternrassler/grid-series-fetcher/pkg/client"
	"github.com/Sternrassler/grid-series-fetcher/pkg/datadragon"
	"github.com/Sternrassler/grid-series-fetcher/pkg/export"
	"github.com/Sternrassler/grid-series-fetcher/pkg/input"
	"github.com/Sternrassler/grid-series-fetcher/pkg/logging"
	"github.com/Sternrassler/grid-series-fetcher/pkg/metrics"
	"github.com/Sternrassler/grid-series-fetcher/pkg/orchestrator"
	"github.com/Sternrassler/grid-series-fetcher/pkg/projector"
	"github.com/Sternrassler/grid-series-fetcher/pkg/ratelimit"
)

const timeLayout = "2006-01-02 15:04:05"

func (a *app) listRuns(ctx context.Context) error {
	runs, err := a.store.ListRuns(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.stdout, "No runs found.")
		return nil
	}

	fmt.Fprintf(a.stdout, "=== Available Runs (%d) ===\n\n", len(runs))
	fmt.Fprintf(a.stdout, "%-20s %-20s %-10s %-10s %-10s %-20s\n", "Run ID", "Created", "Succeeded", "Failed", "Pending", "Last Updated")
	fmt.Fprintln(a.stdout, strings.Repeat("-", 95))
	for _, r := range runs {
		fmt.Fprintf(a.stdout, "%-20s %-20s %-10d %-10d %-10d %-20s\n",
			r.ID, r.CreatedAt.Local().Format(timeLayout), r.Succeeded, r.Failed, r.Pending,
			r.UpdatedAt.Local().Format(timeLayout))
	}
	return nil
}

func (a *app) printStatus(_ context.Context, run *checkpoint.Run) error {
	s := run.Summary()
	w := a.stdout

	fmt.Fprintf(w, "=== Run Status: %s ===\n\n", s.ID)
	fmt.Fprintf(w, "Created:      %s\n", s.CreatedAt.Local().Format(timeLayout))
	fmt.Fprintf(w, "Last update:  %s\n", s.UpdatedAt.Local().Format(timeLayout))
	fmt.Fprintf(w, "Source:       %s\n", s.Source)
	fmt.Fprintf(w, "Identifiers:  %d\n\n", s.Total)
	fmt.Fprintf(w, "Succeeded:    %d\n", s.Succeeded)
	fmt.Fprintf(w, "Failed:       %d\n", s.Failed)
	fmt.Fprintf(w, "Skipped:      %d\n", s.Skipped)
	fmt.Fprintf(w, "Pending:      %d\n", s.Pending)

	printDistribution(a, "Error classes", s.ErrorClasses)
	printDistribution(a, "Version distribution", s.SchemaVersions)

	fmt.Fprintf(w, "\nPayloads saved: %d\n", s.Payloads)
	for _, dir := range []string{"csv", "parquet"} {
		if files, _ := filepath.Glob(filepath.Join(a.runDir(s.ID), dir, "*")); len(files) > 0 {
			fmt.Fprintf(w, "%s exports: %d files\n", strings.ToUpper(dir), len(files))
		}
	}
	return nil
}

func printDistribution(a *app, title string, m map[string]int) {
	if len(m) == 0 {
		return
	}
	fmt.Fprintf(a.stdout, "\n%s:\n", title)
	for _, k := range slices.Sorted(maps.Keys(m)) {
		fmt.Fprintf(a.stdout, "  %s: %d\n", k, m[k])
	}
}

func (a *app) resetRun(ctx context.Context, run *checkpoint.Run) error {
	if !a.opts.yes {
		s := run.Summary()
		a.banner("Reset Preview")
		fmt.Fprintf(a.stdout, "  Run to delete:  %s\n", run.ID)
		fmt.Fprintf(a.stdout, "  Path:           %s\n\n", a.runDir(run.ID))
		fmt.Fprintf(a.stdout, "  Records to delete:\n")
		fmt.Fprintf(a.stdout, "    - %d identifiers (%d payloads)\n", s.Total, s.Payloads)
		fmt.Fprintf(a.stdout, "    - exported files and the run log\n\n")
		fmt.Fprintf(a.stdout, "  This action cannot be undone!\n")
		a.rule()
		if a.opts.dryRun {
			fmt.Fprintln(a.stdout, "Dry run - no changes made.")
			return nil
		}
		if !a.confirm("Delete this run") {
			fmt.Fprintln(a.stdout, "Aborted. Run not deleted.")
			return nil
		}
	}

	if err := a.store.DeleteRun(ctx, run.ID); err != nil {
		return err
	}
	if err := os.RemoveAll(a.runDir(run.ID)); err != nil {
		return fmt.Errorf("remove run directory: %w", err)
	}
	a.logger.Info().Str("run_id", run.ID).Msg("Run deleted")
	fmt.Fprintf(a.stdout, "Deleted run %s.\n", run.ID)
	return nil
}

func (a *app) exportRun(ctx context.Context, run *checkpoint.Run) error {
	result, err := projector.FromStore(ctx, a.store, run.ID)
	if err != nil {
		return err
	}
	if len(result.Series) == 0 {
		fmt.Fprintf(a.stdout, "Run %s has no succeeded series. No data to export!\n", run.ID)
		return errNoSuccess
	}

	dir := a.runDir(run.ID)
	tables := result.Tables()
	if a.opts.champions {
		cat, err := datadragon.New(a.cfg.DataDragonConfig()).Fetch(ctx)
		if err != nil {
			return fmt.Errorf("fetch champion catalog: %w", err)
		}
		raw, err := cat.JSON()
		if err != nil {
			return fmt.Errorf("encode champion catalog: %w", err)
		}
		if err := export.WriteRaw(dir, datadragon.CatalogFile, raw); err != nil {
			return fmt.Errorf("export champion catalog: %w", err)
		}
		fmt.Fprintf(a.stdout, "Data Dragon version %s: %d champions\n", cat.Version, len(cat.Champions))
		tables = append(tables, cat.Tables()...)
	}

	paths, err := a.writeTables(dir, tables)
	if err != nil {
		return err
	}
	if a.opts.raw {
		err := a.store.ForEachPayload(ctx, run.ID, func(seriesID string, payload []byte) error {
			return export.WriteRaw(filepath.Join(dir, "raw"), "series_"+seriesID, payload)
		})
		if err != nil {
			return fmt.Errorf("export raw payloads: %w", err)
		}
	}

	a.logger.Info().
		Str("run_id", run.ID).
		Int("files", len(paths)).
		Int("issues", len(result.Issues)).
		Msg("Export finished")

	fmt.Fprintf(a.stdout, "=== Export Summary: %s ===\n", run.ID)
	fmt.Fprintf(a.stdout, "Output directory: %s\n", dir)
	for _, t := range tables {
		fmt.Fprintf(a.stdout, "  %s: %d\n", t.Name, len(t.Rows))
	}
	return nil
}

// writeTables writes tables in every configured format under dir.
func (a *app) writeTables(dir string, tables []export.Table) ([]string, error) {
	var paths []string
	if a.cfg.Format == config.FormatCSV || a.cfg.Format == config.FormatBoth {
		p, err := export.WriteCSV(filepath.Join(dir, "csv"), tables)
		if err != nil {
			return nil, fmt.Errorf("export csv: %w", err)
		}
		paths = append(paths, p...)
	}
	if a.cfg.Format == config.FormatParquet || a.cfg.Format == config.FormatBoth {
		p, err := export.WriteParquet(filepath.Join(dir, "parquet"), tables)
		if err != nil {
			return nil, fmt.Errorf("export parquet: %w", err)
		}
		paths = append(paths, p...)
	}
	return paths, nil
}

// fetchStack builds the client, governor and orchestrator from configuration.
func (a *app) fetchStack() (*orchestrator.Orchestrator, error) {
	if err := a.cfg.RequireAPIKey(); err != nil {
		return nil, err
	}
	cl, err := client.New(a.cfg.ClientConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}
	gov := ratelimit.New(a.cfg.RateLimitConfig(), nil, logging.NewLogger("ratelimit"))
	return orchestrator.New(cl, gov, a.store, a.orchestratorConfig()), nil
}

func (a *app) orchestratorConfig() orchestrator.Config {
	oc := a.cfg.OrchestratorConfig()
	oc.Limit = a.opts.limit
	oc.Offset = a.opts.offset
	return oc
}

func (a *app) refreshRun(ctx context.Context, run *checkpoint.Run) error {
	stop, err := a.startRunLog(ctx, run.ID)
	if err != nil {
		return err
	}
	defer stop()

	orch, err := a.fetchStack()
	if err != nil {
		return err
	}
	s, err := orch.Refresh(ctx, run.ID)
	fmt.Fprintf(a.stdout, "=== Refresh: %s ===\n", s.RunID)
	fmt.Fprintf(a.stdout, "Checked:   %d\n", s.Checked)
	fmt.Fprintf(a.stdout, "Unchanged: %d\n", s.Unchanged)
	fmt.Fprintf(a.stdout, "Updated:   %d\n", s.Updated)
	fmt.Fprintf(a.stdout, "Errors:    %d\n", s.Errors)
	fmt.Fprintf(a.stdout, "Requests:  %d\n", s.Requests)
	fmt.Fprintf(a.stdout, "Time:      %s\n", s.Duration.Round(time.Second))
	return err
}

// resolveFetchRun returns the run to fetch into and whether it must be created.
func (a *app) resolveFetchRun(ctx context.Context) (*checkpoint.Run, bool, error) {
	name := a.opts.run
	if name != "" {
		run, err := a.store.LoadRun(ctx, name)
		switch {
		case err == nil:
			if a.opts.series != "" || a.opts.input != "" {
				a.logger.Warn().Str("run_id", run.ID).Msg("Run exists, ignoring -series/-input")
			}
			return run, false, nil
		case !errors.Is(err, checkpoint.ErrRunNotFound):
			return nil, false, err
		case name == checkpoint.LatestAlias:
			return nil, false, fmt.Errorf("no existing runs found, create a new run first: %w", err)
		}
	} else {
		name = checkpoint.GenerateRunID(time.Now())
	}

	var (
		ids    []string
		source string
		err    error
	)
	switch {
	case a.opts.series != "":
		ids, err = input.ParseList(a.opts.series)
		source = "explicit_series_ids"
	case a.opts.input != "":
		ids, err = input.LoadFile(a.opts.input)
		source = a.opts.input
	default:
		return nil, false, fmt.Errorf("%w: new runs require -input CSV file or -series IDs", config.ErrConfiguration)
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}
	return checkpoint.NewRun(name, source, ids, time.Now().UTC()), true, nil
}

func (a *app) fetch(ctx context.Context) error {
	run, isNew, err := a.resolveFetchRun(ctx)
	if err != nil {
		return err
	}
	if err := a.cfg.RequireAPIKey(); err != nil {
		return err
	}

	if !a.opts.yes {
		sel := orchestrator.New(nil, nil, a.store, a.orchestratorConfig()).Select(run)
		a.preview(run, isNew, sel)
		if a.opts.dryRun {
			fmt.Fprintln(a.stdout, "Dry run - no changes made.")
			return nil
		}
		if !a.confirm("Start fetching") {
			fmt.Fprintln(a.stdout, "Aborted. Adjust options and try again.")
			return nil
		}
	}

	if isNew {
		if err := a.store.CreateRun(ctx, run); err != nil {
			return err
		}
	}

	stop, err := a.startRunLog(ctx, run.ID)
	if err != nil {
		return err
	}
	defer stop()

	a.logger.Info().Str("run_id", run.ID).Bool("new", isNew).Int("identifiers", len(run.Identifiers)).Msg("GRID series fetch")

	orch, err := a.fetchStack()
	if err != nil {
		return err
	}
	s, err := orch.Run(ctx, run.ID)
	a.printSummary(s)
	if err != nil {
		return err
	}

	if s.Interrupted {
		fmt.Fprintf(a.stdout, "\nInterrupted. Progress has been saved.\nTo resume: grid-fetch -run %s\n", s.RunID)
		return nil
	}
	if s.Total > 0 && s.Succeeded == 0 {
		return errNoSuccess
	}
	fmt.Fprintf(a.stdout, "\nTo export: grid-fetch -export -run %s\n", s.RunID)
	return nil
}

// startRunLog tees logging into the run's fetch.log and starts the metrics
// endpoint when configured. The returned func undoes both.
func (a *app) startRunLog(ctx context.Context, runID string) (func(), error) {
	f, err := logging.OpenRunLog(a.runDir(runID))
	if err != nil {
		return nil, err
	}
	lc := a.cfg.LoggingConfig()
	lc.Output = a.stderr
	lc.File = f
	logging.Setup(lc)
	a.logger = logging.NewLogger("cli")

	serveCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	if a.cfg.MetricsAddr != "" {
		srv, err := metrics.Listen(a.cfg.MetricsAddr, logging.NewLogger("metrics"))
		if err != nil {
			cancel()
			f.Close()
			return nil, fmt.Errorf("metrics endpoint: %w", err)
		}
		go func() {
			defer close(done)
			if err := srv.Serve(serveCtx); err != nil {
				a.logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	} else {
		close(done)
	}

	return func() {
		cancel()
		<-done
		lc.File = nil
		logging.Setup(lc)
		f.Close()
	}, nil
}

func (a *app) printSummary(s orchestrator.Summary) {
	w := a.stdout
	fmt.Fprintf(w, "\n=== Fetch Complete: %s ===\n", s.RunID)
	fmt.Fprintf(w, "Processed:  %d\n", s.Processed)
	fmt.Fprintf(w, "Succeeded:  %d/%d\n", s.Succeeded, s.Total)
	fmt.Fprintf(w, "Failed:     %d\n", s.Failed)
	fmt.Fprintf(w, "Skipped:    %d\n", s.Skipped)
	fmt.Fprintf(w, "Pending:    %d\n", s.Pending)
	fmt.Fprintf(w, "Requests:   %d\n", s.Requests)
	fmt.Fprintf(w, "Total time: %s\n", s.Duration.Round(time.Second))
	printDistribution(a, "Error classes", s.ErrorClasses)
}
