package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dvloznov/receipt-ledger/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "db", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestNewRepository_MigratesTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	repo, err := NewRepository(path)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	repo, err = NewRepository(path)
	require.NoError(t, err)
	require.NoError(t, repo.Close())
}

func TestRepository_StartAndFinish(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	start := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return start }

	id, err := repo.StartRun(ctx, "2025CW_31", 3)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	running, err := repo.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, running.Status)
	assert.Nil(t, running.FinishedAt)
	assert.Equal(t, 3, running.Images)

	result := &domain.AnalysisResult{
		Week:      "2025CW_31",
		Status:    domain.RunCompleted,
		Images:    3,
		Processed: 2,
		Failures: []domain.FileFailure{
			{File: "c.jpg", Stage: domain.StageParse, Err: errors.New("parse error: malformed model response")},
		},
		Summary: domain.Summary{
			TotalFood:     decimal.RequireFromString("12.50"),
			TotalNonFood:  decimal.RequireFromString("3.00"),
			TotalReceipts: 2,
		},
		FinishedAt: start.Add(time.Minute),
	}
	require.NoError(t, repo.FinishRun(ctx, id, result))

	run, err := repo.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, 2, run.Processed)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, "12.50", run.TotalFood.StringFixed(2))
	assert.Equal(t, "3.00", run.TotalNonFood.StringFixed(2))
	assert.True(t, run.StartedAt.Equal(start))
	require.NotNil(t, run.FinishedAt)
	assert.True(t, run.FinishedAt.Equal(start.Add(time.Minute)))
	require.Len(t, run.Failures, 1)
	assert.Equal(t, domain.StageParse, run.Failures[0].Stage)
	assert.Equal(t, "c.jpg", run.Failures[0].File)
}

func TestRepository_FinishUnknownRun(t *testing.T) {
	repo := newTestRepository(t)
	err := repo.FinishRun(context.Background(), "missing", &domain.AnalysisResult{Status: domain.RunFailed})
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRepository_GetUnknownRun(t *testing.T) {
	repo := newTestRepository(t)
	_, err := repo.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRepository_ListRuns(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	base := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)

	var ids []string
	for i, week := range []domain.WeekID{"2025CW_31", "2025CW_32", "2025CW_31"} {
		at := base.Add(time.Duration(i) * time.Hour)
		repo.now = func() time.Time { return at }
		id, err := repo.StartRun(ctx, week, 1)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all, err := repo.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)
	assert.Equal(t, ids[0], all[2].ID)

	week, err := repo.ListRuns(ctx, "2025CW_31", 10)
	require.NoError(t, err)
	require.Len(t, week, 2)
	assert.Equal(t, ids[2], week[0].ID)

	limited, err := repo.ListRuns(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := repo.ListRuns(ctx, "2024CW_01", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
