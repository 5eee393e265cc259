// Package sqlite provides a SQLite-backed implementation of runlog.Repository.
//
// WAL mode is enabled on Open so that readers never block the writer — the
// migration loop appends rows while the status endpoint may be reading.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/heroku/heroku-pgmigrate/internal/runlog"

	// Register the pure-Go SQLite driver. modernc.org/sqlite avoids CGO,
	// which keeps the CLI a plain static build.
	_ "modernc.org/sqlite"
)

// schema is the DDL executed once on Open.
// The table is append-only: each row is an immutable event in a run's
// lifecycle. The newest row per run_id gives the current state.
const schema = `
CREATE TABLE IF NOT EXISTS migration_runs (
    -- Surrogate primary key, auto-incremented by SQLite.
    id              INTEGER PRIMARY KEY AUTOINCREMENT,

    -- Run identifier (UUID). Not UNIQUE: one row per transition.
    run_id          TEXT        NOT NULL,

    -- Lifecycle state at the time this row was written.
    status          TEXT        NOT NULL,

    -- Step that just completed, for STEP_DONE rows.
    step            TEXT        NOT NULL DEFAULT '',

    -- Free text: app name on STARTED, abort reason on ABORTED.
    detail          TEXT,

    -- JSON array of error strings from failed steps / compensations.
    error_messages  TEXT        NOT NULL DEFAULT '[]',

    -- W3C trace_id of the OTel span active when the row was written.
    trace_id        TEXT        NOT NULL DEFAULT '',

    -- W3C span_id within that trace.
    span_id         TEXT        NOT NULL DEFAULT '',

    -- Wall-clock timestamp (RFC3339 stored as TEXT, SQLite idiom).
    updated_at      TEXT        NOT NULL
);

-- "All events for run X in order" — the status endpoint's query.
CREATE INDEX IF NOT EXISTS idx_migration_runs_run_id ON migration_runs(run_id, updated_at);
`

// Repository is the SQLite implementation of runlog.Repository.
type Repository struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at the given path and applies
// the schema.
//
//	runs, err := sqlite.Open("./pgmigrate.db")
func Open(path string) (*Repository, error) {
	// WAL lets the status endpoint read while the run appends.
	// busy_timeout waits for locks instead of failing immediately.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	// "sqlite", not "sqlite3", for the modernc driver.
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// SQLite performs best with a single writer connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close releases the database connection. Call it with defer in main().
func (r *Repository) Close() error {
	return r.db.Close()
}

// Save appends a new run-log entry.
func (r *Repository) Save(ctx context.Context, entry *runlog.Entry) error {
	const q = `
		INSERT INTO migration_runs
			(run_id, status, step, detail, error_messages, trace_id, span_id, updated_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, q,
		entry.RunID,
		string(entry.Status),
		entry.Step,
		nullableString(entry.Detail),
		entry.ErrorMessages,
		entry.TraceID,
		entry.SpanID,
		entry.UpdatedAt.UTC().Format("2006-01-02T15:04:05.999999999Z"),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save run log for %q: %w", entry.RunID, err)
	}
	return nil
}

// GetLatest returns the most recent entry for a run — what the status
// endpoint serves.
func (r *Repository) GetLatest(ctx context.Context, runID string) (*runlog.Entry, error) {
	const q = `
		SELECT run_id, status, step, COALESCE(detail,''), error_messages,
		       trace_id, span_id, updated_at
		FROM   migration_runs
		WHERE  run_id = ?
		ORDER  BY updated_at DESC, id DESC
		LIMIT  1`

	row := r.db.QueryRowContext(ctx, q, runID)

	var entry runlog.Entry
	var updatedAt string
	err := row.Scan(
		&entry.RunID,
		&entry.Status,
		&entry.Step,
		&entry.Detail,
		&entry.ErrorMessages,
		&entry.TraceID,
		&entry.SpanID,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sqlite: run %q not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get latest for %q: %w", runID, err)
	}

	entry.UpdatedAt, err = parseRFC3339(updatedAt)
	if err != nil {
		return nil, err
	}

	return &entry, nil
}

// nullableString returns nil for empty strings so SQLite stores NULL
// instead of an empty TEXT.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
