package services

import (
	"testing"

	"github.com/mbellgren/dispatchd/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobQueue_PriorityOrdering(t *testing.T) {
	env := newTestEnv(t)

	// Enqueue in scrambled order; dequeue must come back tier by tier.
	low := env.addJob(t, "low", domain.PriorityLow, domain.JobStatusPending)
	critical := env.addJob(t, "critical", domain.PriorityCritical, domain.JobStatusPending)
	regular := env.addJob(t, "regular", domain.PriorityRegular, domain.JobStatusPending)
	high := env.addJob(t, "high", domain.PriorityHigh, domain.JobStatusPending)

	for _, job := range []*domain.Job{low, critical, regular, high} {
		require.NoError(t, env.queue.Enqueue(env.ctx, job))
	}

	var order []string
	for {
		job, err := env.queue.Dequeue(env.ctx)
		require.NoError(t, err)
		if job == nil {
			break
		}
		order = append(order, job.Name)
	}
	assert.Equal(t, []string{"critical", "high", "regular", "low"}, order)
}

func TestJobQueue_FIFOWithinTier(t *testing.T) {
	env := newTestEnv(t)

	first := env.addJob(t, "first", domain.PriorityRegular, domain.JobStatusPending)
	second := env.addJob(t, "second", domain.PriorityRegular, domain.JobStatusPending)
	third := env.addJob(t, "third", domain.PriorityRegular, domain.JobStatusPending)

	for _, job := range []*domain.Job{first, second, third} {
		require.NoError(t, env.queue.Enqueue(env.ctx, job))
	}

	for _, want := range []string{"first", "second", "third"} {
		job, err := env.queue.Dequeue(env.ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, want, job.Name)
	}
}

func TestJobQueue_DequeueEmpty(t *testing.T) {
	env := newTestEnv(t)

	job, err := env.queue.Dequeue(env.ctx)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestJobQueue_DequeueSkipsDeletedJobs(t *testing.T) {
	env := newTestEnv(t)

	gone := env.addJob(t, "gone", domain.PriorityCritical, domain.JobStatusPending)
	kept := env.addJob(t, "kept", domain.PriorityRegular, domain.JobStatusPending)
	require.NoError(t, env.queue.Enqueue(env.ctx, gone))
	require.NoError(t, env.queue.Enqueue(env.ctx, kept))

	require.NoError(t, env.repo.DeleteJob(env.ctx, gone.ID))

	job, err := env.queue.Dequeue(env.ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "kept", job.Name)
}

func TestJobQueue_LengthAndContains(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, 0, env.queue.GetLength())

	job := env.addJob(t, "a", domain.PriorityHigh, domain.JobStatusPending)
	require.NoError(t, env.queue.Enqueue(env.ctx, job))

	assert.Equal(t, 1, env.queue.GetLength())
	assert.True(t, env.queue.Contains(job.ID))
	assert.Equal(t, 1, env.queue.Lengths()[domain.PriorityHigh])

	_, err := env.queue.Dequeue(env.ctx)
	require.NoError(t, err)
	assert.False(t, env.queue.Contains(job.ID))
}

func TestJobQueue_GetPendingAndByPriority(t *testing.T) {
	env := newTestEnv(t)

	a := env.addJob(t, "a", domain.PriorityCritical, domain.JobStatusPending)
	b := env.addJob(t, "b", domain.PriorityLow, domain.JobStatusPending)
	require.NoError(t, env.queue.Enqueue(env.ctx, a))
	require.NoError(t, env.queue.Enqueue(env.ctx, b))

	pending, err := env.queue.GetPending(env.ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	// Dispatch order: critical before low.
	assert.Equal(t, "a", pending[0].Name)

	lows, err := env.queue.GetByPriority(env.ctx, domain.PriorityLow)
	require.NoError(t, err)
	require.Len(t, lows, 1)
	assert.Equal(t, "b", lows[0].Name)
}

func TestJobQueue_RestoreQueueState(t *testing.T) {
	env := newTestEnv(t)

	// Pending jobs in storage, plus noise that must not be restored.
	pending1 := env.addJob(t, "pending-1", domain.PriorityRegular, domain.JobStatusPending)
	pending2 := env.addJob(t, "pending-2", domain.PriorityCritical, domain.JobStatusPending)
	env.addJob(t, "done", domain.PriorityCritical, domain.JobStatusCompleted)
	env.addJob(t, "running", domain.PriorityRegular, domain.JobStatusRunning)

	// Stale queue contents are discarded by restore.
	stale := env.addJob(t, "stale", domain.PriorityLow, domain.JobStatusCompleted)
	require.NoError(t, env.queue.Enqueue(env.ctx, stale))

	require.NoError(t, env.queue.RestoreQueueState(env.ctx))

	assert.Equal(t, 2, env.queue.GetLength())
	assert.True(t, env.queue.Contains(pending1.ID))
	assert.True(t, env.queue.Contains(pending2.ID))
	assert.False(t, env.queue.Contains(stale.ID))

	// Restored contents still dequeue in priority order.
	job, err := env.queue.Dequeue(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, "pending-2", job.Name)
}

func TestJobQueue_EnqueuePersistsUnsavedJob(t *testing.T) {
	env := newTestEnv(t)

	job := &domain.Job{
		Name:     "unsaved",
		Status:   domain.JobStatusPending,
		Priority: domain.PriorityRegular,
	}
	require.NoError(t, env.queue.Enqueue(env.ctx, job))
	require.NotEmpty(t, job.ID)

	stored, err := env.repo.GetJob(env.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "unsaved", stored.Name)
}
