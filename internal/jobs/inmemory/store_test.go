package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/dvloznov/receipt-ledger/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	job := &jobs.AnalyzeWeekJob{JobID: "a", CalendarWeek: "2025CW_31", Status: jobs.JobStatusPending}
	require.NoError(t, s.SaveJob(ctx, job))

	got, err := s.GetJob(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "2025CW_31", got.CalendarWeek)

	// Stored copies are detached from the caller.
	job.Status = jobs.JobStatusFailed
	got, err = s.GetJob(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, got.Status)
}

func TestStore_CopiesAttempts(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	job := &jobs.AnalyzeWeekJob{
		JobID:    "a",
		Result:   &jobs.JobResult{Processed: 1},
		Attempts: []jobs.JobAttempt{{Number: 1, Result: &jobs.JobResult{Processed: 1}}},
	}
	require.NoError(t, s.SaveJob(ctx, job))

	job.Result.Processed = 9
	job.Attempts[0].Result.Processed = 9
	job.Attempts[0].Error = "changed"

	got, err := s.GetJob(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Result.Processed)
	require.Len(t, got.Attempts, 1)
	assert.Equal(t, 1, got.Attempts[0].Result.Processed)
	assert.Empty(t, got.Attempts[0].Error)
}

func TestStore_SaveRequiresID(t *testing.T) {
	err := NewStore().SaveJob(context.Background(), &jobs.AnalyzeWeekJob{})
	assert.Error(t, err)
}

func TestStore_GetMissing(t *testing.T) {
	_, err := NewStore().GetJob(context.Background(), "nope")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestStore_ListFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveJob(ctx, &jobs.AnalyzeWeekJob{JobID: "1", CalendarWeek: "2025CW_31", Status: jobs.JobStatusCompleted, CreatedAt: base}))
	require.NoError(t, s.SaveJob(ctx, &jobs.AnalyzeWeekJob{JobID: "2", CalendarWeek: "2025CW_32", Status: jobs.JobStatusPending, CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, s.SaveJob(ctx, &jobs.AnalyzeWeekJob{JobID: "3", CalendarWeek: "2025CW_31", Status: jobs.JobStatusPending, CreatedAt: base.Add(2 * time.Minute)}))

	all, err := s.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[0].JobID)
	assert.Equal(t, "1", all[2].JobID)

	week, err := s.ListJobs(ctx, jobs.JobFilter{CalendarWeek: "2025CW_31"})
	require.NoError(t, err)
	assert.Len(t, week, 2)

	pending, err := s.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusPending, Limit: 1})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "3", pending[0].JobID)

	past, err := s.ListJobs(ctx, jobs.JobFilter{Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestStore_UpdateJobStatus(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.SaveJob(ctx, &jobs.AnalyzeWeekJob{JobID: "a"}))

	require.NoError(t, s.UpdateJobStatus(ctx, "a", jobs.JobStatusFailed, "boom"))
	got, err := s.GetJob(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)

	assert.ErrorIs(t, s.UpdateJobStatus(ctx, "b", jobs.JobStatusFailed, ""), jobs.ErrJobNotFound)
}
