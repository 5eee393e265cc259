// Package runlog defines the audit trail a migration run leaves behind.
//
// Every state transition of the executor — run started, step done,
// compensation started, and so on — is appended as an immutable row. The
// trail exists for observability only: an operator (or the status endpoint)
// can see exactly where a run is, and correlate a row with a distributed
// trace via its trace_id. A new invocation never resumes from it; every run
// starts from a clean queue.
package runlog

import "time"

// Status is the lifecycle state a run-log entry records.
type Status string

const (
	StatusStarted            Status = "STARTED"
	StatusStepDone           Status = "STEP_DONE"
	StatusAborted            Status = "ABORTED"
	StatusCompensating       Status = "COMPENSATING"
	StatusCompensationFailed Status = "COMPENSATION_FAILED"
	StatusCompleted          Status = "COMPLETED"
	StatusFailed             Status = "FAILED"
)

// Entry is a single row in the migration_runs table: a point-in-time
// snapshot of one run.
type Entry struct {
	// RunID identifies the run this entry belongs to. One run produces
	// many entries.
	RunID string

	// Status is the lifecycle state at the time this entry was written.
	Status Status

	// Step names the step that just completed, for STEP_DONE entries.
	Step string

	// Detail carries free text: the app being migrated on STARTED
	// entries, the abort reason on ABORTED entries.
	Detail string

	// ErrorMessages accumulates failure details as a JSON array, one per
	// failed step or failed compensation.
	ErrorMessages string

	// TraceID and SpanID are the W3C identifiers of the OpenTelemetry
	// span active when the entry was written. Empty when tracing is off.
	TraceID string
	SpanID  string

	// UpdatedAt is the wall-clock time of this entry.
	UpdatedAt time.Time
}
