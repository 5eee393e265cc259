package runlog

import "context"

// Repository is the port for persisting run-log entries. The executor
// depends on this abstraction, not on SQLite directly, so tests can swap in
// an in-memory implementation.
type Repository interface {
	// Save appends a new entry. The log is append-only, not an upsert.
	Save(ctx context.Context, entry *Entry) error
}
