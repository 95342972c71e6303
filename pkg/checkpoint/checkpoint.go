// Package checkpoint is the durable record of a fetch run: the ordered
// identifier list, one attempt record per identifier and the raw payload of
// every succeeded identifier.
package checkpoint

import (
	"context"
	"errors"
	"sort"
	"time"
)

// LatestAlias resolves to the most recently created run.
const LatestAlias = "latest"

// RunIDLayout is the layout of generated run names (YYYYMMDD_HHMMSS).
const RunIDLayout = "20060102_150405"

var (
	// ErrRunNotFound is returned when a run (or the latest run) does not exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunExists is returned by CreateRun for a name already in use.
	ErrRunExists = errors.New("run already exists")

	// ErrPayloadNotFound is returned when no payload is stored for an identifier.
	ErrPayloadNotFound = errors.New("payload not found")
)

// Status is the state of one identifier within a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInFlight  Status = "in_flight"
	StatusRetrying  Status = "retrying"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Attempt is the latest outcome for one identifier.
type Attempt struct {
	SeriesID      string    `json:"series_id"`
	Count         int       `json:"count"`
	Status        Status    `json:"status"`
	ErrorClass    string    `json:"error_class,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	SchemaVersion string    `json:"schema_version,omitempty"`
	HasPayload    bool      `json:"has_payload"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Record is one write to the store. Payload is only kept with a succeeded attempt.
type Record struct {
	Attempt Attempt
	Payload []byte
}

// Merge applies next on top of prev and reports whether next was accepted.
//
// Rules: a record with a lower count than the stored one is stale; a
// succeeded record is only replaced by another succeeded record (a refresh)
// with at least its count; anything else with count >= stored wins.
func Merge(prev *Attempt, next Attempt) (Attempt, bool) {
	if next.Status != StatusSucceeded {
		next.HasPayload = false
	}
	if prev == nil {
		return next, true
	}
	if next.Count < prev.Count {
		return *prev, false
	}
	if prev.Status == StatusSucceeded && next.Status != StatusSucceeded {
		return *prev, false
	}
	return next, true
}

// Run is the reconstructed state of one run.
type Run struct {
	ID          string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Source      string
	Identifiers []string
	Attempts    map[string]*Attempt
}

// NewRun creates an unsaved run with every identifier pending.
func NewRun(id, source string, identifiers []string, now time.Time) *Run {
	ids := make([]string, len(identifiers))
	copy(ids, identifiers)
	return &Run{
		ID:          id,
		CreatedAt:   now,
		UpdatedAt:   now,
		Source:      source,
		Identifiers: ids,
		Attempts:    make(map[string]*Attempt, len(ids)),
	}
}

// GenerateRunID names a run after its creation time.
func GenerateRunID(now time.Time) string {
	return now.Format(RunIDLayout)
}

// Attempt returns the attempt for seriesID, or a pending zero attempt.
func (r *Run) Attempt(seriesID string) Attempt {
	if a, ok := r.Attempts[seriesID]; ok && a != nil {
		return *a
	}
	return Attempt{SeriesID: seriesID, Status: StatusPending}
}

// Pending returns, in input order, every identifier still to fetch: all but
// succeeded ones and failed ones whose attempt count reached maxAttempts.
// Interrupted identifiers stay pending whatever their count.
func (r *Run) Pending(maxAttempts int) []string {
	var out []string
	for _, id := range r.Identifiers {
		a := r.Attempt(id)
		if a.Status == StatusSucceeded {
			continue
		}
		if a.Status == StatusFailed && maxAttempts > 0 && a.Count >= maxAttempts {
			continue
		}
		out = append(out, id)
	}
	return out
}

// normalize makes interrupted attempts pending again. Counts are kept.
func (r *Run) normalize() {
	for _, id := range r.Identifiers {
		a, ok := r.Attempts[id]
		if !ok || a == nil {
			r.Attempts[id] = &Attempt{SeriesID: id, Status: StatusPending}
			continue
		}
		if a.Status == StatusInFlight || a.Status == StatusRetrying {
			a.Status = StatusPending
		}
	}
}

// RunSummary aggregates a run for listings and status reports.
type RunSummary struct {
	ID             string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Source         string
	Total          int
	Succeeded      int
	Failed         int
	Skipped        int
	Pending        int
	Payloads       int
	ErrorClasses   map[string]int
	SchemaVersions map[string]int
}

// Summary counts statuses over the run's identifiers.
func (r *Run) Summary() RunSummary {
	s := RunSummary{
		ID:             r.ID,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		Source:         r.Source,
		Total:          len(r.Identifiers),
		ErrorClasses:   make(map[string]int),
		SchemaVersions: make(map[string]int),
	}
	for _, id := range r.Identifiers {
		a := r.Attempt(id)
		switch a.Status {
		case StatusSucceeded:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		default:
			s.Pending++
		}
		if a.HasPayload {
			s.Payloads++
		}
		if a.ErrorClass != "" && a.Status != StatusSucceeded {
			s.ErrorClasses[a.ErrorClass]++
		}
		if a.SchemaVersion != "" {
			s.SchemaVersions[a.SchemaVersion]++
		}
	}
	return s
}

// Store persists runs. Implementations are safe for concurrent use; writes
// for one identifier must come from a single goroutine.
type Store interface {
	// CreateRun saves a new run. Returns ErrRunExists if the name is taken.
	CreateRun(ctx context.Context, run *Run) error

	// LoadRun reconstructs a run. LatestAlias resolves to the newest run.
	LoadRun(ctx context.Context, runID string) (*Run, error)

	// ListRuns returns summaries of all runs, newest first.
	ListRuns(ctx context.Context) ([]RunSummary, error)

	// RecordAttempt merges one record into the run (see Merge). Idempotent.
	RecordAttempt(ctx context.Context, runID string, rec Record) error

	// Payload returns the stored raw payload of one identifier.
	Payload(ctx context.Context, runID, seriesID string) ([]byte, error)

	// ForEachPayload calls fn for every stored payload in input order.
	ForEachPayload(ctx context.Context, runID string, fn func(seriesID string, payload []byte) error) error

	// DeleteRun removes a run and everything recorded for it.
	DeleteRun(ctx context.Context, runID string) error

	Close() error
}

// sortSummaries orders newest first, ties broken by id descending.
func sortSummaries(s []RunSummary) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].CreatedAt.After(s[j].CreatedAt)
		}
		return s[i].ID > s[j].ID
	})
}
