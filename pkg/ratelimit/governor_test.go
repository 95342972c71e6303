package ratelimit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/grid-series-fetcher/internal/testutil"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Limit != 20 {
		t.Errorf("Limit = %d, want 20", cfg.Limit)
	}
	if cfg.Window != time.Minute {
		t.Errorf("Window = %v, want 1m", cfg.Window)
	}
	if cfg.MinSpacing != 3100*time.Millisecond {
		t.Errorf("MinSpacing = %v, want 3.1s", cfg.MinSpacing)
	}
}

func TestGovernor_MinSpacing(t *testing.T) {
	clock := testutil.NewFakeClock(epoch)
	g := New(Config{Limit: 20, Window: time.Minute, MinSpacing: 3100 * time.Millisecond, MaxConcurrent: 1}, clock, zerolog.Nop())

	var times []time.Time
	for i := 0; i < 4; i++ {
		p, err := g.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		times = append(times, p.At)
		p.Release()
	}

	if !times[0].Equal(epoch) {
		t.Errorf("first permit at %v, want immediate release at %v", times[0], epoch)
	}
	for i := 1; i < len(times); i++ {
		if gap := times[i].Sub(times[i-1]); gap != 3100*time.Millisecond {
			t.Errorf("gap %d = %v, want 3.1s", i, gap)
		}
	}
}

func TestGovernor_MinSpacingAfterIdle(t *testing.T) {
	tests := []struct {
		name    string
		start   time.Time
		spacing time.Duration
		idle    []time.Duration
	}{
		{name: "partial refill", start: epoch, spacing: 3100 * time.Millisecond, idle: []time.Duration{time.Second, 1700 * time.Millisecond, 333 * time.Millisecond}},
		{name: "unaligned clock", start: epoch.Add(250 * time.Nanosecond), spacing: 3100 * time.Millisecond, idle: []time.Duration{777 * time.Nanosecond, 2 * time.Second, 0}},
		{name: "idle past spacing", start: epoch, spacing: time.Second, idle: []time.Duration{5 * time.Second, 1500 * time.Millisecond}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := testutil.NewFakeClock(tt.start)
			g := New(Config{MinSpacing: tt.spacing, MaxConcurrent: 1}, clock, zerolog.Nop())

			p, err := g.Acquire(context.Background())
			if err != nil {
				t.Fatalf("Acquire() error = %v", err)
			}
			p.Release()
			prev := p.At

			for i, idle := range tt.idle {
				clock.Advance(idle)
				now := clock.Now()
				p, err := g.Acquire(context.Background())
				if err != nil {
					t.Fatalf("Acquire() error = %v", err)
				}
				p.Release()

				if gap := p.At.Sub(prev); gap < tt.spacing {
					t.Errorf("gap %d = %v, want at least %v", i, gap, tt.spacing)
				}
				if want := prev.Add(tt.spacing); want.After(now) && p.At.Sub(want) > time.Microsecond {
					t.Errorf("permit %d at %v, want about %v", i, p.At.Sub(tt.start), want.Sub(tt.start))
				}
				prev = p.At
			}
		})
	}
}

func TestGovernor_RollingWindowUnderConcurrentLoad(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		callers int
	}{
		{name: "burst without spacing", cfg: Config{Limit: 5, Window: 10 * time.Second, MaxConcurrent: 4}, callers: 40},
		{name: "grid defaults", cfg: Config{Limit: 20, Window: time.Minute, MinSpacing: 3100 * time.Millisecond, MaxConcurrent: 3}, callers: 60},
		{name: "spacing below window share", cfg: Config{Limit: 3, Window: 9 * time.Second, MinSpacing: time.Second, MaxConcurrent: 8}, callers: 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := testutil.NewFakeClock(epoch)
			g := New(tt.cfg, clock, zerolog.Nop())

			var (
				mu    sync.Mutex
				times []time.Time
				wg    sync.WaitGroup
			)
			for i := 0; i < tt.callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					p, err := g.Acquire(context.Background())
					if err != nil {
						t.Errorf("Acquire() error = %v", err)
						return
					}
					mu.Lock()
					times = append(times, p.At)
					mu.Unlock()
					p.Release()
				}()
			}
			wg.Wait()

			if len(times) != tt.callers {
				t.Fatalf("got %d permits, want %d", len(times), tt.callers)
			}
			sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

			// Any window starting at a release contains at most Limit releases.
			for i := range times {
				count := 0
				for j := i; j < len(times) && times[j].Sub(times[i]) < tt.cfg.Window; j++ {
					count++
				}
				if count > tt.cfg.Limit {
					t.Fatalf("window starting %v holds %d releases, limit %d", times[i].Sub(epoch), count, tt.cfg.Limit)
				}
			}
			for i := 1; i < len(times); i++ {
				if gap := times[i].Sub(times[i-1]); gap < tt.cfg.MinSpacing {
					t.Fatalf("gap %v between releases %d and %d is below spacing %v", gap, i-1, i, tt.cfg.MinSpacing)
				}
			}
		})
	}
}

func TestGovernor_MaxConcurrent(t *testing.T) {
	g := New(Config{MaxConcurrent: 2}, SystemClock{}, zerolog.Nop())

	var (
		inFlight int32
		maxSeen  int32
		wg       sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := g.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			defer p.Release()

			n := atomic.AddInt32(&inFlight, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		}()
	}
	wg.Wait()

	if maxSeen > 2 {
		t.Errorf("observed %d concurrent permits, ceiling is 2", maxSeen)
	}
	if g.State().InFlight != 0 {
		t.Errorf("InFlight = %d after all releases, want 0", g.State().InFlight)
	}
}

func TestGovernor_AcquireCancelledWhileWaiting(t *testing.T) {
	g := New(Config{Limit: 10, Window: time.Hour, MinSpacing: time.Hour, MaxConcurrent: 1}, SystemClock{}, zerolog.Nop())

	p, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	p.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = g.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire() error = %v, want deadline exceeded", err)
	}
	if g.State().InFlight != 0 {
		t.Error("a cancelled Acquire must return its concurrency slot")
	}
}

func TestGovernor_AcquireCancelledWhileSlotsFull(t *testing.T) {
	g := New(Config{MaxConcurrent: 1}, testutil.NewFakeClock(epoch), zerolog.Nop())

	held, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := g.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
}

func TestGovernor_Penalize(t *testing.T) {
	clock := testutil.NewFakeClock(epoch)
	g := New(Config{Limit: 20, Window: time.Minute, MinSpacing: time.Second, MaxConcurrent: 1}, clock, zerolog.Nop())

	p, _ := g.Acquire(context.Background())
	p.Release()

	g.Penalize(30 * time.Second)
	g.Penalize(5 * time.Second) // shorter penalty does not shorten the block

	p, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer p.Release()

	if want := epoch.Add(30 * time.Second); p.At.Before(want) {
		t.Errorf("permit released at %v, want not before %v", p.At, want)
	}
	if !g.State().BlockedUntil.Equal(epoch.Add(30 * time.Second)) {
		t.Errorf("BlockedUntil = %v", g.State().BlockedUntil)
	}
}

func TestPermit_ReleaseIsIdempotent(t *testing.T) {
	g := New(Config{MaxConcurrent: 1}, testutil.NewFakeClock(epoch), zerolog.Nop())

	p, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	p.Release()
	p.Release()

	if g.State().InFlight != 0 {
		t.Errorf("InFlight = %d, want 0", g.State().InFlight)
	}
}

func TestSleep(t *testing.T) {
	clock := testutil.NewFakeClock(epoch)

	if err := Sleep(context.Background(), clock, 4*time.Second); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}
	if got := clock.Now().Sub(epoch); got != 4*time.Second {
		t.Errorf("clock advanced %v, want 4s", got)
	}
}
