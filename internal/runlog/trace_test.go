package runlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewEntryWithoutActiveSpan(t *testing.T) {
	entry := NewEntry(context.Background(), "run-1", StatusStarted, "", "myapp", nil)

	assert.Equal(t, "run-1", entry.RunID)
	assert.Equal(t, StatusStarted, entry.Status)
	assert.Equal(t, "myapp", entry.Detail)
	assert.Equal(t, "[]", entry.ErrorMessages)
	assert.Empty(t, entry.TraceID)
	assert.Empty(t, entry.SpanID)
	assert.False(t, entry.UpdatedAt.IsZero())
}

func TestNewEntryMarshalsErrors(t *testing.T) {
	entry := NewEntry(context.Background(), "run-1", StatusFailed, "transfer", "",
		[]string{"transfer failed", `compensation of "scale-zero" failed`})

	assert.JSONEq(t, `["transfer failed", "compensation of \"scale-zero\" failed"]`, entry.ErrorMessages)
}
