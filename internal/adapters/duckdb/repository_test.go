package duckdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mbellgren/dispatchd/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	repo, err := NewRepository(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newJob(name string, status domain.JobStatus, priority domain.JobPriority) *domain.Job {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &domain.Job{
		ID:               domain.JobID(uuid.NewString()),
		Name:             name,
		Status:           status,
		Priority:         priority,
		MaxRetryAttempts: 3,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func newWorker(name string) *domain.WorkerNode {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &domain.WorkerNode{
		ID:            domain.WorkerID(uuid.NewString()),
		Name:          name,
		Endpoint:      "grpc://" + name + ":7070",
		Status:        domain.WorkerStatusActive,
		LastHeartbeat: now,
		Capacity:      5,
		Power:         7,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestRepository_JobRoundtrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	job := newJob("encode", domain.JobStatusPending, domain.PriorityHigh)
	job.Description = "encode the nightly batch"
	job.JobType = "encode"
	msg := "transient failure"
	job.ErrorMessage = &msg
	scheduled := time.Now().UTC().Add(time.Hour).Truncate(time.Millisecond)
	job.ScheduledStartTime = &scheduled

	require.NoError(t, repo.SaveJob(ctx, job))

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Name, got.Name)
	assert.Equal(t, job.Description, got.Description)
	assert.Equal(t, job.Status, got.Status)
	assert.Equal(t, job.Priority, got.Priority)
	assert.Equal(t, job.JobType, got.JobType)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, msg, *got.ErrorMessage)
	require.NotNil(t, got.ScheduledStartTime)
	assert.True(t, got.ScheduledStartTime.Equal(scheduled))
	assert.Nil(t, got.WorkerNodeID)
	assert.Nil(t, got.StartTime)
}

func TestRepository_SaveJobUpserts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	job := newJob("mutable", domain.JobStatusPending, domain.PriorityRegular)
	require.NoError(t, repo.SaveJob(ctx, job))

	job.Status = domain.JobStatusRunning
	job.Progress = 42
	require.NoError(t, repo.SaveJob(ctx, job))

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, got.Status)
	assert.Equal(t, 42, got.Progress)

	all, err := repo.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRepository_GetJobNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetJob(context.Background(), domain.JobID(uuid.NewString()))
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestRepository_ListJobsByStatus(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	pending := newJob("pending", domain.JobStatusPending, domain.PriorityRegular)
	running := newJob("running", domain.JobStatusRunning, domain.PriorityRegular)
	done := newJob("done", domain.JobStatusCompleted, domain.PriorityRegular)
	for _, j := range []*domain.Job{pending, running, done} {
		require.NoError(t, repo.SaveJob(ctx, j))
	}

	got, err := repo.ListJobsByStatus(ctx, domain.JobStatusPending, domain.JobStatusRunning)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, j := range got {
		assert.NotEqual(t, domain.JobStatusCompleted, j.Status)
	}
}

func TestRepository_JobsByWorker(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	worker := newWorker("node-a")
	require.NoError(t, repo.SaveWorker(ctx, worker))

	mine := newJob("mine", domain.JobStatusRunning, domain.PriorityRegular)
	mine.WorkerNodeID = &worker.ID
	other := newJob("other", domain.JobStatusRunning, domain.PriorityRegular)
	finished := newJob("finished", domain.JobStatusCompleted, domain.PriorityRegular)
	finished.WorkerNodeID = &worker.ID
	for _, j := range []*domain.Job{mine, other, finished} {
		require.NoError(t, repo.SaveJob(ctx, j))
	}

	got, err := repo.ListJobsByWorker(ctx, worker.ID, domain.JobStatusRunning)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine.ID, got[0].ID)

	count, err := repo.CountJobsByWorker(ctx, worker.ID, domain.JobStatusRunning, domain.JobStatusPending)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = repo.CountJobsByWorker(ctx, worker.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRepository_DeleteJobCascadesLogs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	job := newJob("doomed", domain.JobStatusFailed, domain.PriorityRegular)
	require.NoError(t, repo.SaveJob(ctx, job))
	require.NoError(t, repo.AppendJobLog(ctx, domain.JobLog{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		Level:     domain.JobLogError,
		Message:   "boom",
		CreatedAt: time.Now().UTC(),
	}))

	require.NoError(t, repo.DeleteJob(ctx, job.ID))

	_, err := repo.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	logs, err := repo.ListJobLogs(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)

	assert.ErrorIs(t, repo.DeleteJob(ctx, job.ID), domain.ErrJobNotFound)
}

func TestRepository_WorkerRoundtrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	worker := newWorker("node-a")
	require.NoError(t, repo.SaveWorker(ctx, worker))

	got, err := repo.GetWorker(ctx, worker.ID)
	require.NoError(t, err)
	assert.Equal(t, worker.Name, got.Name)
	assert.Equal(t, worker.Endpoint, got.Endpoint)
	assert.Equal(t, worker.Status, got.Status)
	assert.Equal(t, worker.Capacity, got.Capacity)
	assert.Equal(t, worker.Power, got.Power)

	byName, err := repo.GetWorkerByName(ctx, "node-a")
	require.NoError(t, err)
	assert.Equal(t, worker.ID, byName.ID)

	_, err = repo.GetWorkerByName(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrWorkerNotFound)
}

func TestRepository_SaveWorkerUpserts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	worker := newWorker("node-a")
	require.NoError(t, repo.SaveWorker(ctx, worker))

	worker.CurrentLoad = 3
	worker.Status = domain.WorkerStatusOffline
	require.NoError(t, repo.SaveWorker(ctx, worker))

	got, err := repo.GetWorker(ctx, worker.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentLoad)
	assert.Equal(t, domain.WorkerStatusOffline, got.Status)

	all, err := repo.ListWorkers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRepository_DeleteWorker(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	worker := newWorker("node-a")
	require.NoError(t, repo.SaveWorker(ctx, worker))
	require.NoError(t, repo.DeleteWorker(ctx, worker.ID))

	_, err := repo.GetWorker(ctx, worker.ID)
	assert.ErrorIs(t, err, domain.ErrWorkerNotFound)
}

func TestRepository_JobLogsOrdered(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	job := newJob("logged", domain.JobStatusRunning, domain.PriorityRegular)
	require.NoError(t, repo.SaveJob(ctx, job))

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, msg := range []string{"started", "halfway", "finished"} {
		require.NoError(t, repo.AppendJobLog(ctx, domain.JobLog{
			ID:        uuid.NewString(),
			JobID:     job.ID,
			Level:     domain.JobLogInfo,
			Message:   msg,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	logs, err := repo.ListJobLogs(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "started", logs[0].Message)
	assert.Equal(t, "finished", logs[2].Message)
}
