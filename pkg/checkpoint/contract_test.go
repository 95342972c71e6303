package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

// testStoreContract exercises behavior every Store backend must share.
func testStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	create := func(t *testing.T, s Store, id string, created time.Time, ids ...string) *Run {
		t.Helper()
		run := NewRun(id, "test", ids, created)
		if err := s.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun(%s) error = %v", id, err)
		}
		return run
	}
	record := func(t *testing.T, s Store, runID string, a Attempt, payload string) {
		t.Helper()
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = epoch
		}
		rec := Record{Attempt: a}
		if payload != "" {
			rec.Payload = []byte(payload)
		}
		if err := s.RecordAttempt(ctx, runID, rec); err != nil {
			t.Fatalf("RecordAttempt(%s) error = %v", a.SeriesID, err)
		}
	}

	t.Run("create and load", func(t *testing.T) {
		s := newStore(t)
		create(t, s, "run1", epoch, "C", "A", "B")

		run, err := s.LoadRun(ctx, "run1")
		if err != nil {
			t.Fatalf("LoadRun() error = %v", err)
		}
		if !reflect.DeepEqual(run.Identifiers, []string{"C", "A", "B"}) {
			t.Errorf("Identifiers = %v, want input order", run.Identifiers)
		}
		if !run.CreatedAt.Equal(epoch) {
			t.Errorf("CreatedAt = %v, want %v", run.CreatedAt, epoch)
		}
		if got := run.Pending(3); len(got) != 3 {
			t.Errorf("Pending = %v, want all three", got)
		}
	})

	t.Run("duplicate run rejected", func(t *testing.T) {
		s := newStore(t)
		create(t, s, "run1", epoch, "A")
		if err := s.CreateRun(ctx, NewRun("run1", "again", []string{"B"}, epoch)); !errors.Is(err, ErrRunExists) {
			t.Errorf("CreateRun() error = %v, want ErrRunExists", err)
		}
	})

	t.Run("missing run", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.LoadRun(ctx, "nope"); !errors.Is(err, ErrRunNotFound) {
			t.Errorf("LoadRun() error = %v, want ErrRunNotFound", err)
		}
		if _, err := s.LoadRun(ctx, LatestAlias); !errors.Is(err, ErrRunNotFound) {
			t.Errorf("LoadRun(latest) on empty store error = %v, want ErrRunNotFound", err)
		}
		err := s.RecordAttempt(ctx, "nope", Record{Attempt: Attempt{SeriesID: "A", Count: 1, Status: StatusInFlight}})
		if !errors.Is(err, ErrRunNotFound) {
			t.Errorf("RecordAttempt() error = %v, want ErrRunNotFound", err)
		}
	})

	t.Run("latest resolves by creation time", func(t *testing.T) {
		s := newStore(t)
		create(t, s, "zz_older", epoch, "A")
		create(t, s, "aa_newer", epoch.Add(time.Hour), "B")

		run, err := s.LoadRun(ctx, LatestAlias)
		if err != nil {
			t.Fatalf("LoadRun(latest) error = %v", err)
		}
		if run.ID != "aa_newer" {
			t.Errorf("latest = %s, want aa_newer", run.ID)
		}
	})

	t.Run("succeeded never regresses across replays", func(t *testing.T) {
		s := newStore(t)
		create(t, s, "run1", epoch, "A")

		record(t, s, "run1", Attempt{SeriesID: "A", Count: 1, Status: StatusInFlight}, "")
		record(t, s, "run1", Attempt{SeriesID: "A", Count: 1, Status: StatusSucceeded, SchemaVersion: "3.43"}, `{"data":1}`)
		// Replays after a crash.
		record(t, s, "run1", Attempt{SeriesID: "A", Count: 1, Status: StatusSucceeded, SchemaVersion: "3.43"}, `{"data":1}`)
		record(t, s, "run1", Attempt{SeriesID: "A", Count: 1, Status: StatusInFlight}, "")
		record(t, s, "run1", Attempt{SeriesID: "A", Count: 2, Status: StatusFailed, ErrorClass: "http_5xx"}, "")

		run, err := s.LoadRun(ctx, "run1")
		if err != nil {
			t.Fatalf("LoadRun() error = %v", err)
		}
		a := run.Attempt("A")
		if a.Status != StatusSucceeded || a.Count != 1 || !a.HasPayload {
			t.Errorf("attempt = %+v, want succeeded/1 with payload", a)
		}
		payload, err := s.Payload(ctx, "run1", "A")
		if err != nil || string(payload) != `{"data":1}` {
			t.Errorf("Payload() = %q, %v", payload, err)
		}
	})

	t.Run("stale count ignored", func(t *testing.T) {
		s := newStore(t)
		create(t, s, "run1", epoch, "A")

		record(t, s, "run1", Attempt{SeriesID: "A", Count: 2, Status: StatusRetrying, ErrorClass: "timeout"}, "")
		record(t, s, "run1", Attempt{SeriesID: "A", Count: 1, Status: StatusFailed}, "")

		run, _ := s.LoadRun(ctx, "run1")
		if a := run.Attempt("A"); a.Count != 2 {
			t.Errorf("Count = %d, want 2 (counts never decrease)", a.Count)
		}
	})

	t.Run("interrupted attempts load as pending", func(t *testing.T) {
		s := newStore(t)
		create(t, s, "run1", epoch, "A", "B")

		record(t, s, "run1", Attempt{SeriesID: "A", Count: 1, Status: StatusInFlight}, "")
		record(t, s, "run1", Attempt{SeriesID: "B", Count: 2, Status: StatusRetrying}, "")

		run, _ := s.LoadRun(ctx, "run1")
		for _, id := range []string{"A", "B"} {
			if st := run.Attempt(id).Status; st != StatusPending {
				t.Errorf("%s status = %s, want pending", id, st)
			}
		}
		if run.Attempt("B").Count != 2 {
			t.Error("count must survive the reload")
		}
	})

	t.Run("payload only stored with success", func(t *testing.T) {
		s := newStore(t)
		create(t, s, "run1", epoch, "A")

		record(t, s, "run1", Attempt{SeriesID: "A", Count: 1, Status: StatusFailed}, `{"partial":true}`)

		if _, err := s.Payload(ctx, "run1", "A"); !errors.Is(err, ErrPayloadNotFound) {
			t.Errorf("Payload() error = %v, want ErrPayloadNotFound", err)
		}
	})

	t.Run("payloads iterate in input order", func(t *testing.T) {
		s := newStore(t)
		create(t, s, "run1", epoch, "C", "A", "B")

		record(t, s, "run1", Attempt{SeriesID: "B", Count: 1, Status: StatusSucceeded}, `"b"`)
		record(t, s, "run1", Attempt{SeriesID: "C", Count: 1, Status: StatusSucceeded}, `"c"`)
		record(t, s, "run1", Attempt{SeriesID: "A", Count: 1, Status: StatusFailed}, "")

		var got []string
		err := s.ForEachPayload(ctx, "run1", func(sid string, payload []byte) error {
			got = append(got, sid+"="+string(payload))
			return nil
		})
		if err != nil {
			t.Fatalf("ForEachPayload() error = %v", err)
		}
		if want := []string{`C="c"`, `B="b"`}; !reflect.DeepEqual(got, want) {
			t.Errorf("ForEachPayload order = %v, want %v", got, want)
		}
	})

	t.Run("list runs newest first", func(t *testing.T) {
		s := newStore(t)
		create(t, s, "old", epoch, "A", "B")
		create(t, s, "new", epoch.Add(time.Minute), "C")
		record(t, s, "old", Attempt{SeriesID: "A", Count: 1, Status: StatusSucceeded}, `{}`)

		runs, err := s.ListRuns(ctx)
		if err != nil {
			t.Fatalf("ListRuns() error = %v", err)
		}
		if len(runs) != 2 || runs[0].ID != "new" || runs[1].ID != "old" {
			t.Fatalf("ListRuns() = %+v", runs)
		}
		if runs[1].Succeeded != 1 || runs[1].Pending != 1 {
			t.Errorf("old run summary = %+v", runs[1])
		}
	})

	t.Run("delete run", func(t *testing.T) {
		s := newStore(t)
		create(t, s, "run1", epoch, "A")
		record(t, s, "run1", Attempt{SeriesID: "A", Count: 1, Status: StatusSucceeded}, `{}`)

		if err := s.DeleteRun(ctx, "run1"); err != nil {
			t.Fatalf("DeleteRun() error = %v", err)
		}
		if _, err := s.LoadRun(ctx, "run1"); !errors.Is(err, ErrRunNotFound) {
			t.Errorf("LoadRun() after delete error = %v", err)
		}
		if _, err := s.Payload(ctx, "run1", "A"); !errors.Is(err, ErrPayloadNotFound) {
			t.Errorf("Payload() after delete error = %v", err)
		}
		if err := s.DeleteRun(ctx, "run1"); !errors.Is(err, ErrRunNotFound) {
			t.Errorf("second DeleteRun() error = %v, want ErrRunNotFound", err)
		}
		// The name is free again.
		create(t, s, "run1", epoch, "B")
	})

	t.Run("concurrent writers for distinct identifiers", func(t *testing.T) {
		s := newStore(t)
		ids := make([]string, 20)
		for i := range ids {
			ids[i] = fmt.Sprintf("S%02d", i)
		}
		create(t, s, "run1", epoch, ids...)

		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				for _, st := range []Status{StatusInFlight, StatusSucceeded} {
					err := s.RecordAttempt(ctx, "run1", Record{
						Attempt: Attempt{SeriesID: id, Count: 1, Status: st, UpdatedAt: epoch},
						Payload: []byte(`{"id":"` + id + `"}`),
					})
					if err != nil {
						t.Errorf("RecordAttempt(%s) error = %v", id, err)
					}
				}
			}(id)
		}
		wg.Wait()

		run, err := s.LoadRun(ctx, "run1")
		if err != nil {
			t.Fatalf("LoadRun() error = %v", err)
		}
		if sum := run.Summary(); sum.Succeeded != len(ids) || sum.Payloads != len(ids) {
			t.Errorf("summary = %+v, want all succeeded", sum)
		}
	})
}
