package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heroku/heroku-pgmigrate/internal/runlog"
)

type fakeRuns struct {
	entries map[string]*runlog.Entry
}

func (f *fakeRuns) GetLatest(_ context.Context, runID string) (*runlog.Entry, error) {
	if e, ok := f.entries[runID]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("run %q not found", runID)
}

func TestGetRun(t *testing.T) {
	runs := &fakeRuns{entries: map[string]*runlog.Entry{
		"run-1": {
			RunID:         "run-1",
			Status:        runlog.StatusStepDone,
			Step:          "scale-zero",
			ErrorMessages: "[]",
			UpdatedAt:     time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		},
	}}
	srv := httptest.NewServer(NewRouter(NewHandler(runs)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/runs/run-1")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got RunResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "STEP_DONE", got.Status)
	assert.Equal(t, "scale-zero", got.Step)
	assert.Empty(t, got.Errors)
}

func TestGetRunNotFound(t *testing.T) {
	srv := httptest.NewServer(NewRouter(NewHandler(&fakeRuns{})))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/runs/nope")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(NewRouter(NewHandler(&fakeRuns{})))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
