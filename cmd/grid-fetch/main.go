// Command grid-fetch pulls League of Legends series from the GRID series-state
// API into a resumable run and exports them as flat tables.
//
// Usage:
//
//	grid-fetch -series 2616372,2616373           # new timestamped run
//	grid-fetch -input series.csv -run lck -limit 100
//	grid-fetch -run latest                        # resume the newest run
//	grid-fetch -export -run latest -format both
//	grid-fetch -status -run lck
//	grid-fetch -list-runs
//	grid-fetch -reset -run lck -yes
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/grid-series-fetcher/internal/config"
	"github.com/Sternrassler/grid-series-fetcher/pkg/checkpoint"
	"github.com/Sternrassler/grid-series-fetcher/pkg/input"
	"github.com/Sternrassler/grid-series-fetcher/pkg/logging"
	"github.com/Sternrassler/grid-series-fetcher/pkg/orchestrator"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

// errNoSuccess is returned when a command ends without a single usable series.
var errNoSuccess = errors.New("no series succeeded")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// options are the parsed command-line flags.
type options struct {
	run    string
	series string
	input  string
	limit  int
	offset int

	export   bool
	status   bool
	listRuns bool
	reset    bool
	refresh  bool
	yes      bool
	dryRun    bool
	raw       bool
	champions bool

	format      string
	output      string
	apiKey      string
	metricsAddr string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("grid-fetch", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&o.run, "run", "", "run name to create or continue; 'latest' for the newest run")
	fs.StringVar(&o.series, "series", "", "comma-separated series IDs for a new run")
	fs.StringVar(&o.input, "input", "", "CSV file of series IDs (SeriesID column) for a new run")
	fs.IntVar(&o.limit, "limit", 0, "process at most N pending series")
	fs.IntVar(&o.offset, "offset", 0, "skip the first N pending series")

	fs.BoolVar(&o.export, "export", false, "export the run's stored payloads without fetching")
	fs.BoolVar(&o.status, "status", false, "show the status of a run")
	fs.BoolVar(&o.listRuns, "list-runs", false, "list all runs")
	fs.BoolVar(&o.reset, "reset", false, "delete a run and everything stored for it")
	fs.BoolVar(&o.refresh, "refresh", false, "re-fetch succeeded series whose schema version changed")
	fs.BoolVar(&o.yes, "yes", false, "skip confirmation prompts")
	fs.BoolVar(&o.dryRun, "dry-run", false, "show the preview without changing anything")
	fs.BoolVar(&o.raw, "raw", false, "also write raw payloads as JSON on export")
	fs.BoolVar(&o.champions, "champions", false, "also export the Data Dragon champion catalog and GRID name mapping")

	fs.StringVar(&o.format, "format", "", "export format: csv, parquet or both (env GRID_FORMAT)")
	fs.StringVar(&o.output, "output", "", "base output directory (env GRID_OUTPUT_DIR)")
	fs.StringVar(&o.apiKey, "api-key", "", "GRID API key (env GRID_API_KEY)")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (env METRICS_ADDR)")

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("%w: unexpected arguments %v", config.ErrConfiguration, fs.Args())
	}
	if o.limit < 0 || o.offset < 0 {
		return o, fmt.Errorf("%w: -limit and -offset must not be negative", config.ErrConfiguration)
	}
	if o.series != "" && o.input != "" {
		return o, fmt.Errorf("%w: use either -series or -input", config.ErrConfiguration)
	}
	return o, nil
}

// apply overrides cfg with flags that were given.
func (o options) apply(cfg *config.Config) {
	if o.output != "" {
		cfg.OutputDir = o.output
	}
	if o.apiKey != "" {
		cfg.APIKey = o.apiKey
	}
	if o.format != "" {
		cfg.Format = o.format
	}
	if o.metricsAddr != "" {
		cfg.MetricsAddr = o.metricsAddr
	}
}

// app carries what every command needs.
type app struct {
	opts   options
	cfg    config.Config
	store  checkpoint.Store
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	logger zerolog.Logger
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return exitConfig
	}

	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return exitConfig
	}
	opts.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return exitConfig
	}

	lc := cfg.LoggingConfig()
	lc.Output = stderr
	logging.Setup(lc)

	a := &app{
		opts:   opts,
		cfg:    cfg,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		logger: logging.NewLogger("cli"),
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return exitFailed
	}
	a.store = store
	defer store.Close()

	err = a.dispatch(ctx)
	if err != nil && !errors.Is(err, errNoSuccess) {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
	}
	return exitCode(err)
}

func (a *app) dispatch(ctx context.Context) error {
	switch {
	case a.opts.listRuns:
		return a.listRuns(ctx)
	case a.opts.status:
		return a.withRun(ctx, a.printStatus)
	case a.opts.reset:
		return a.withRun(ctx, a.resetRun)
	case a.opts.export:
		return a.withRun(ctx, a.exportRun)
	case a.opts.refresh:
		return a.withRun(ctx, a.refreshRun)
	default:
		return a.fetch(ctx)
	}
}

// withRun loads the run named by -run, which these commands require.
func (a *app) withRun(ctx context.Context, fn func(context.Context, *checkpoint.Run) error) error {
	if a.opts.run == "" {
		return fmt.Errorf("%w: must specify -run <name> or -run latest", config.ErrConfiguration)
	}
	run, err := a.store.LoadRun(ctx, a.opts.run)
	if err != nil {
		return fmt.Errorf("run %q: %w", a.opts.run, err)
	}
	return fn(ctx, run)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, config.ErrConfiguration),
		errors.Is(err, orchestrator.ErrCredentialRejected),
		errors.Is(err, input.ErrNoIdentifiers):
		return exitConfig
	default:
		return exitFailed
	}
}

// openStore opens the configured checkpoint backend.
func openStore(ctx context.Context, cfg config.Config) (checkpoint.Store, error) {
	if cfg.Store == config.StoreRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("%w: REDIS_URL: %v", config.ErrConfiguration, err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		return checkpoint.NewRedisStore(rdb), nil
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	store, err := checkpoint.OpenSQLite(filepath.Join(cfg.OutputDir, checkpoint.DefaultSQLiteName))
	if err != nil {
		return nil, err
	}
	return store, nil
}

// runDir is where a run's exports and log live.
func (a *app) runDir(runID string) string {
	return filepath.Join(a.cfg.OutputDir, runID)
}
