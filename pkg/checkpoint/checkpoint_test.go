package checkpoint

import (
	"reflect"
	"testing"
	"time"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func TestMerge(t *testing.T) {
	tests := []struct {
		name       string
		prev       *Attempt
		next       Attempt
		wantStatus Status
		wantCount  int
		accepted   bool
	}{
		{
			name:       "first record accepted",
			next:       Attempt{Count: 1, Status: StatusInFlight},
			wantStatus: StatusInFlight, wantCount: 1, accepted: true,
		},
		{
			name:       "same count replay accepted",
			prev:       &Attempt{Count: 1, Status: StatusInFlight},
			next:       Attempt{Count: 1, Status: StatusRetrying},
			wantStatus: StatusRetrying, wantCount: 1, accepted: true,
		},
		{
			name:       "stale count ignored",
			prev:       &Attempt{Count: 3, Status: StatusRetrying},
			next:       Attempt{Count: 2, Status: StatusFailed},
			wantStatus: StatusRetrying, wantCount: 3, accepted: false,
		},
		{
			name:       "succeeded never regresses",
			prev:       &Attempt{Count: 1, Status: StatusSucceeded, HasPayload: true},
			next:       Attempt{Count: 2, Status: StatusFailed},
			wantStatus: StatusSucceeded, wantCount: 1, accepted: false,
		},
		{
			name:       "succeeded replaced by refresh",
			prev:       &Attempt{Count: 1, Status: StatusSucceeded, SchemaVersion: "3.30"},
			next:       Attempt{Count: 2, Status: StatusSucceeded, SchemaVersion: "3.43"},
			wantStatus: StatusSucceeded, wantCount: 2, accepted: true,
		},
		{
			name:       "retry overtakes failure",
			prev:       &Attempt{Count: 1, Status: StatusRetrying},
			next:       Attempt{Count: 2, Status: StatusFailed},
			wantStatus: StatusFailed, wantCount: 2, accepted: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Merge(tt.prev, tt.next)
			if ok != tt.accepted {
				t.Errorf("accepted = %v, want %v", ok, tt.accepted)
			}
			if got.Status != tt.wantStatus || got.Count != tt.wantCount {
				t.Errorf("Merge() = %s/%d, want %s/%d", got.Status, got.Count, tt.wantStatus, tt.wantCount)
			}
		})
	}
}

func TestMerge_PayloadFlagOnlyWithSuccess(t *testing.T) {
	got, _ := Merge(nil, Attempt{Count: 1, Status: StatusFailed, HasPayload: true})
	if got.HasPayload {
		t.Error("a failed attempt must not claim a payload")
	}
}

func TestRun_Pending(t *testing.T) {
	run := NewRun("r", "test", []string{"A", "B", "C", "D", "E", "F"}, epoch)
	run.Attempts["A"] = &Attempt{SeriesID: "A", Count: 1, Status: StatusSucceeded}
	run.Attempts["B"] = &Attempt{SeriesID: "B", Count: 1, Status: StatusFailed}
	run.Attempts["C"] = &Attempt{SeriesID: "C", Count: 3, Status: StatusFailed}
	run.Attempts["D"] = &Attempt{SeriesID: "D", Count: 0, Status: StatusSkipped}
	// Interrupted at the ceiling: never finished an attempt, so still pending.
	run.Attempts["F"] = &Attempt{SeriesID: "F", Count: 3, Status: StatusPending}

	tests := []struct {
		maxAttempts int
		want        []string
	}{
		{maxAttempts: 3, want: []string{"B", "D", "E", "F"}},
		{maxAttempts: 1, want: []string{"D", "E", "F"}},
		{maxAttempts: 0, want: []string{"B", "C", "D", "E", "F"}},
	}

	for _, tt := range tests {
		if got := run.Pending(tt.maxAttempts); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Pending(%d) = %v, want %v", tt.maxAttempts, got, tt.want)
		}
	}
}

func TestRun_NormalizeTreatsInterruptedAsPending(t *testing.T) {
	run := NewRun("r", "test", []string{"A", "B", "C"}, epoch)
	run.Attempts["A"] = &Attempt{SeriesID: "A", Count: 2, Status: StatusInFlight}
	run.Attempts["B"] = &Attempt{SeriesID: "B", Count: 1, Status: StatusRetrying}

	run.normalize()

	for _, id := range []string{"A", "B", "C"} {
		if got := run.Attempt(id).Status; got != StatusPending {
			t.Errorf("%s status = %s, want pending", id, got)
		}
	}
	if run.Attempt("A").Count != 2 {
		t.Error("normalize must keep attempt counts")
	}
}

func TestRun_Summary(t *testing.T) {
	run := NewRun("r", "test", []string{"A", "B", "C", "D"}, epoch)
	run.Attempts["A"] = &Attempt{Count: 1, Status: StatusSucceeded, SchemaVersion: "3.43", HasPayload: true}
	run.Attempts["B"] = &Attempt{Count: 1, Status: StatusFailed, ErrorClass: "http_4xx", SchemaVersion: "3.43"}
	run.Attempts["C"] = &Attempt{Count: 0, Status: StatusSkipped}

	s := run.Summary()

	if s.Total != 4 || s.Succeeded != 1 || s.Failed != 1 || s.Skipped != 1 || s.Pending != 1 {
		t.Errorf("Summary() counts = %+v", s)
	}
	if s.Payloads != 1 {
		t.Errorf("Payloads = %d, want 1", s.Payloads)
	}
	if s.ErrorClasses["http_4xx"] != 1 {
		t.Errorf("ErrorClasses = %v", s.ErrorClasses)
	}
	if s.SchemaVersions["3.43"] != 2 {
		t.Errorf("SchemaVersions = %v", s.SchemaVersions)
	}
}

func TestGenerateRunID(t *testing.T) {
	if got := GenerateRunID(time.Date(2025, 3, 9, 7, 5, 4, 0, time.UTC)); got != "20250309_070504" {
		t.Errorf("GenerateRunID() = %q", got)
	}
}

func TestRunKey(t *testing.T) {
	k := runKey("20250101_120000")

	tests := []struct {
		got, want string
	}{
		{k.String(), "grid:run:20250101_120000"},
		{k.identifiers(), "grid:run:20250101_120000:ids"},
		{k.attempt("2616372"), "grid:run:20250101_120000:attempt:2616372"},
		{k.payload("2616372"), "grid:run:20250101_120000:payload:2616372"},
		{runsIndexKey(), "grid:runs"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("key = %q, want %q", tt.got, tt.want)
		}
	}
}
