//go:build integration

package orchestrator

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/grid-series-fetcher/internal/testutil"
	"github.com/Sternrassler/grid-series-fetcher/pkg/checkpoint"
	"github.com/Sternrassler/grid-series-fetcher/pkg/client"
	"github.com/Sternrassler/grid-series-fetcher/pkg/projector"
	"github.com/Sternrassler/grid-series-fetcher/pkg/ratelimit"
)

func TestIntegration_RedisEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewRedisStore(testutil.StartRedis(t))

	mock := testutil.NewMockGRID()
	defer mock.Close()
	mock.Script("B", testutil.OpSeries, testutil.NewStatusResponse(http.StatusServiceUnavailable))

	if err := store.CreateRun(ctx, checkpoint.NewRun("e2e", "test", []string{"A", "B", "C"}, epoch)); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	grid, err := client.New(client.Config{Endpoint: mock.URL(), APIKey: "test-key", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	clock := testutil.NewFakeClock(epoch)
	gate := ratelimit.New(ratelimit.Config{Limit: 1000, Window: time.Minute, MaxConcurrent: 2}, clock, zerolog.Nop())
	orch := New(grid, gate, store, DefaultConfig(),
		WithClock(clock),
		WithRand(func() float64 { return 0.5 }),
		WithLogger(zerolog.Nop()))

	summary, err := orch.Run(ctx, checkpoint.LatestAlias)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Succeeded != 2 || summary.Failed != 1 {
		t.Errorf("Summary = %+v, want 2 succeeded, 1 failed", summary)
	}

	run, err := store.LoadRun(ctx, "e2e")
	if err != nil {
		t.Fatalf("LoadRun() error = %v", err)
	}
	if b := run.Attempt("B"); b.Count != 3 || b.ErrorClass != string(client.ErrorClassHTTP5xx) {
		t.Errorf("B = %+v, want count 3 http_5xx", b)
	}

	result, err := projector.FromStore(ctx, store, "e2e")
	if err != nil {
		t.Fatalf("FromStore() error = %v", err)
	}
	if len(result.Series) != 2 {
		t.Errorf("projected %d series, want 2", len(result.Series))
	}

	mock.Reset()
	again, err := orch.Run(ctx, "e2e")
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if mock.RequestCount() != 0 || again.Processed != 0 {
		t.Errorf("resume issued %d requests, processed %d; want none", mock.RequestCount(), again.Processed)
	}
}
