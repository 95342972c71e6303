package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const backendSQLite = "sqlite"

// DefaultSQLiteName is the checkpoint database file inside the output directory.
const DefaultSQLiteName = "checkpoint.db"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	source     TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS run_identifiers (
	run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position  INTEGER NOT NULL,
	series_id TEXT NOT NULL,
	PRIMARY KEY (run_id, position)
);
CREATE TABLE IF NOT EXISTS attempts (
	run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	series_id      TEXT NOT NULL,
	count          INTEGER NOT NULL,
	status         TEXT NOT NULL,
	error_class    TEXT NOT NULL DEFAULT '',
	last_error     TEXT NOT NULL DEFAULT '',
	schema_version TEXT NOT NULL DEFAULT '',
	has_payload    INTEGER NOT NULL DEFAULT 0,
	updated_at     INTEGER NOT NULL,
	PRIMARY KEY (run_id, series_id)
);
CREATE TABLE IF NOT EXISTS payloads (
	run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	series_id TEXT NOT NULL,
	payload   BLOB NOT NULL,
	PRIMARY KEY (run_id, series_id)
);
CREATE INDEX IF NOT EXISTS runs_created_at ON runs(created_at);
`

// SQLiteStore is the on-disk Store. Every RecordAttempt is one transaction
// with synchronous=FULL, so a record survives process termination once the
// call returns.
type SQLiteStore struct {
	db *sqlx.DB
}

const attemptColumns = `series_id, count, status, error_class, last_error, schema_version, has_payload, updated_at`

type runRow struct {
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
	Source    string `db:"source"`
}

type attemptRow struct {
	SeriesID      string `db:"series_id"`
	Count         int    `db:"count"`
	Status        string `db:"status"`
	ErrorClass    string `db:"error_class"`
	LastError     string `db:"last_error"`
	SchemaVersion string `db:"schema_version"`
	HasPayload    bool   `db:"has_payload"`
	UpdatedAt     int64  `db:"updated_at"`
}

func (r attemptRow) attempt() *Attempt {
	return &Attempt{
		SeriesID:      r.SeriesID,
		Count:         r.Count,
		Status:        Status(r.Status),
		ErrorClass:    r.ErrorClass,
		LastError:     r.LastError,
		SchemaVersion: r.SchemaVersion,
		HasPayload:    r.HasPayload,
		UpdatedAt:     time.Unix(0, r.UpdatedAt).UTC(),
	}
}

type payloadRow struct {
	SeriesID string `db:"series_id"`
	Payload  []byte `db:"payload"`
}

// OpenSQLite opens (creating if needed) the checkpoint database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create checkpoint directory: %w", err)
		}
	}

	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(FULL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)" +
		"&_txlock=immediate"

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint database: %w", err)
	}
	// SQLite allows one writer; a single connection keeps transactions serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoint schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// CreateRun implements Store.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create run: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.GetContext(ctx, &exists, `SELECT COUNT(*) FROM runs WHERE id = ?`, run.ID); err != nil {
		return fmt.Errorf("check run: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, updated_at, source) VALUES (?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UnixNano(), run.UpdatedAt.UnixNano(), run.Source); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_identifiers (run_id, position, series_id) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare identifiers: %w", err)
	}
	defer stmt.Close()
	for i, id := range run.Identifiers {
		if _, err := stmt.ExecContext(ctx, run.ID, i, id); err != nil {
			return fmt.Errorf("insert identifier %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create run: %w", err)
	}
	return nil
}

// resolve maps LatestAlias to a concrete run id.
func (s *SQLiteStore) resolve(ctx context.Context, runID string) (string, error) {
	if runID != LatestAlias {
		return runID, nil
	}
	var id string
	err := s.db.GetContext(ctx, &id, `SELECT id FROM runs ORDER BY created_at DESC, id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: no runs yet", ErrRunNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("resolve latest run: %w", err)
	}
	return id, nil
}

// LoadRun implements Store.
func (s *SQLiteStore) LoadRun(ctx context.Context, runID string) (*Run, error) {
	id, err := s.resolve(ctx, runID)
	if err != nil {
		return nil, err
	}

	var rr runRow
	err = s.db.GetContext(ctx, &rr, `SELECT created_at, updated_at, source FROM runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	run := &Run{
		ID:        id,
		CreatedAt: time.Unix(0, rr.CreatedAt).UTC(),
		UpdatedAt: time.Unix(0, rr.UpdatedAt).UTC(),
		Source:    rr.Source,
		Attempts:  make(map[string]*Attempt),
	}

	if err := s.db.SelectContext(ctx, &run.Identifiers,
		`SELECT series_id FROM run_identifiers WHERE run_id = ? ORDER BY position`, id); err != nil {
		return nil, fmt.Errorf("load identifiers: %w", err)
	}

	var rows []attemptRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+attemptColumns+` FROM attempts WHERE run_id = ?`, id); err != nil {
		return nil, fmt.Errorf("load attempts: %w", err)
	}
	for _, r := range rows {
		run.Attempts[r.SeriesID] = r.attempt()
	}

	run.normalize()
	return run, nil
}

// ListRuns implements Store.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]RunSummary, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM runs`); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	summaries := make([]RunSummary, 0, len(ids))
	for _, id := range ids {
		run, err := s.LoadRun(ctx, id)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, run.Summary())
	}
	sortSummaries(summaries)
	return summaries, nil
}

// RecordAttempt implements Store.
func (s *SQLiteStore) RecordAttempt(ctx context.Context, runID string, rec Record) (err error) {
	accepted := false
	defer func() { observeWrite(backendSQLite, accepted, err, len(rec.Payload)) }()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.GetContext(ctx, &exists, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID); err != nil {
		return fmt.Errorf("check run: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	var (
		prev *Attempt
		row  attemptRow
	)
	err = tx.GetContext(ctx, &row, `SELECT `+attemptColumns+` FROM attempts WHERE run_id = ? AND series_id = ?`,
		runID, rec.Attempt.SeriesID)
	switch {
	case err == nil:
		prev = row.attempt()
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("load attempt: %w", err)
	}

	next := rec.Attempt
	next.HasPayload = next.Status == StatusSucceeded && (len(rec.Payload) > 0 || (prev != nil && prev.HasPayload))
	merged, ok := Merge(prev, next)
	if !ok {
		return nil
	}
	accepted = true

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attempts (run_id, series_id, count, status, error_class, last_error, schema_version, has_payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, series_id) DO UPDATE SET
			count = excluded.count, status = excluded.status, error_class = excluded.error_class,
			last_error = excluded.last_error, schema_version = excluded.schema_version,
			has_payload = excluded.has_payload, updated_at = excluded.updated_at`,
		runID, merged.SeriesID, merged.Count, string(merged.Status), merged.ErrorClass, merged.LastError,
		merged.SchemaVersion, merged.HasPayload, merged.UpdatedAt.UnixNano()); err != nil {
		return fmt.Errorf("upsert attempt: %w", err)
	}

	if merged.Status == StatusSucceeded && len(rec.Payload) > 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payloads (run_id, series_id, payload) VALUES (?, ?, ?)
			ON CONFLICT (run_id, series_id) DO UPDATE SET payload = excluded.payload`,
			runID, merged.SeriesID, rec.Payload); err != nil {
			return fmt.Errorf("upsert payload: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE runs SET updated_at = MAX(updated_at, ?) WHERE id = ?`,
		merged.UpdatedAt.UnixNano(), runID); err != nil {
		return fmt.Errorf("touch run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

// Payload implements Store.
func (s *SQLiteStore) Payload(ctx context.Context, runID, seriesID string) ([]byte, error) {
	id, err := s.resolve(ctx, runID)
	if err != nil {
		return nil, err
	}
	var payload []byte
	err = s.db.GetContext(ctx, &payload, `SELECT payload FROM payloads WHERE run_id = ? AND series_id = ?`, id, seriesID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrPayloadNotFound, id, seriesID)
	}
	if err != nil {
		return nil, fmt.Errorf("load payload: %w", err)
	}
	return payload, nil
}

// ForEachPayload implements Store.
func (s *SQLiteStore) ForEachPayload(ctx context.Context, runID string, fn func(seriesID string, payload []byte) error) error {
	id, err := s.resolve(ctx, runID)
	if err != nil {
		return err
	}

	// Read everything first; fn may call back into the store on the single connection.
	var rows []payloadRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT i.series_id, p.payload
		FROM run_identifiers i
		JOIN attempts a ON a.run_id = i.run_id AND a.series_id = i.series_id AND a.status = ?
		JOIN payloads p ON p.run_id = i.run_id AND p.series_id = i.series_id
		WHERE i.run_id = ?
		ORDER BY i.position`, string(StatusSucceeded), id); err != nil {
		return fmt.Errorf("load payloads: %w", err)
	}

	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		if seen[r.SeriesID] {
			continue
		}
		seen[r.SeriesID] = true
		if err := fn(r.SeriesID, r.Payload); err != nil {
			return err
		}
	}
	return nil
}

// DeleteRun implements Store.
func (s *SQLiteStore) DeleteRun(ctx context.Context, runID string) error {
	id, err := s.resolve(ctx, runID)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete run: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"payloads", "attempts", "run_identifiers"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id = ?`, id); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete run: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
