package runlog

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// NewEntry builds an Entry with the trace identifiers extracted from the
// active OpenTelemetry span in ctx, if there is one. In unit tests and when
// tracing is disabled both identifiers come back empty.
func NewEntry(ctx context.Context, runID string, status Status, step, detail string, errs []string) *Entry {
	errJSON := "[]"
	if len(errs) > 0 {
		if b, err := json.Marshal(errs); err == nil {
			errJSON = string(b)
		}
	}

	entry := &Entry{
		RunID:         runID,
		Status:        status,
		Step:          step,
		Detail:        detail,
		ErrorMessages: errJSON,
		UpdatedAt:     time.Now().UTC(),
	}

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		entry.TraceID = sc.TraceID().String()
		entry.SpanID = sc.SpanID().String()
	}
	return entry
}
