package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heroku/heroku-pgmigrate/internal/runlog"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSaveAndGetLatest(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	entries := []*runlog.Entry{
		{RunID: "run-1", Status: runlog.StatusStarted, Detail: "myapp", ErrorMessages: "[]", UpdatedAt: base},
		{RunID: "run-1", Status: runlog.StatusStepDone, Step: "maintenance", ErrorMessages: "[]", UpdatedAt: base.Add(time.Second)},
		{RunID: "run-1", Status: runlog.StatusCompleted, ErrorMessages: "[]", UpdatedAt: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		require.NoError(t, repo.Save(ctx, e))
	}

	latest, err := repo.GetLatest(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, runlog.StatusCompleted, latest.Status)
	assert.Equal(t, base.Add(2*time.Second), latest.UpdatedAt)
}

func TestGetLatestUnknownRun(t *testing.T) {
	repo := openTestRepo(t)

	_, err := repo.GetLatest(context.Background(), "no-such-run")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRunsAreIsolatedByID(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, repo.Save(ctx, &runlog.Entry{
		RunID: "run-a", Status: runlog.StatusStarted, Detail: "app-a", ErrorMessages: "[]", UpdatedAt: now,
	}))
	require.NoError(t, repo.Save(ctx, &runlog.Entry{
		RunID: "run-b", Status: runlog.StatusFailed, ErrorMessages: `["boom"]`, UpdatedAt: now.Add(time.Second),
	}))

	latest, err := repo.GetLatest(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, runlog.StatusStarted, latest.Status)
	assert.Equal(t, "app-a", latest.Detail)
}
