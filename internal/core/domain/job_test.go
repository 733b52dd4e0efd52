package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStateTransitions(t *testing.T) {
	now := time.Now().UTC()
	job := &Job{Status: JobStatusPending}

	job.MarkRunning(now)
	assert.Equal(t, JobStatusRunning, job.Status)
	require.NotNil(t, job.StartTime)
	first := *job.StartTime

	// Re-entering RUNNING keeps the original start time.
	job.MarkRunning(now.Add(time.Minute))
	assert.True(t, job.StartTime.Equal(first))

	job.MarkTerminal(JobStatusCompleted, now.Add(2*time.Minute))
	assert.True(t, job.IsTerminal())
	require.NotNil(t, job.EndTime)
	end := *job.EndTime

	job.MarkTerminal(JobStatusFailed, now.Add(3*time.Minute))
	assert.True(t, job.EndTime.Equal(end), "end time is set once")
}

func TestJobCanRetry(t *testing.T) {
	job := &Job{Status: JobStatusFailed, MaxRetryAttempts: 2}
	assert.True(t, job.CanRetry())

	job.CurrentRetryCount = 2
	assert.False(t, job.CanRetry(), "attempts exhausted")

	job.CurrentRetryCount = 0
	job.Status = JobStatusStopped
	assert.False(t, job.CanRetry(), "only failed jobs retry")
}

func TestJobResetForRetry(t *testing.T) {
	now := time.Now().UTC()
	msg := "boom"
	wid := WorkerID("w1")
	job := &Job{
		Status:       JobStatusFailed,
		Progress:     70,
		ErrorMessage: &msg,
		WorkerNodeID: &wid,
		StartTime:    &now,
		EndTime:      &now,
	}

	job.ResetForRetry(now)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Zero(t, job.Progress)
	assert.Nil(t, job.ErrorMessage)
	assert.Nil(t, job.WorkerNodeID)
	assert.Nil(t, job.StartTime)
	assert.Nil(t, job.EndTime)
}

func TestJobIsDeferred(t *testing.T) {
	now := time.Now().UTC()

	job := &Job{}
	assert.False(t, job.IsDeferred(now), "no schedule means run now")

	past := now.Add(-time.Minute)
	job.ScheduledStartTime = &past
	assert.False(t, job.IsDeferred(now))

	future := now.Add(time.Minute)
	job.ScheduledStartTime = &future
	assert.True(t, job.IsDeferred(now))
}

func TestPriorityRoundtrip(t *testing.T) {
	for _, p := range DispatchOrder() {
		parsed, err := ParsePriority(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}

	_, err := ParsePriority("asap")
	assert.Error(t, err)
}

func TestDispatchOrderMatchesNumericOrder(t *testing.T) {
	order := DispatchOrder()
	for i := 1; i < len(order); i++ {
		assert.Less(t, order[i-1], order[i])
	}
}

func TestWorkerLoadRatio(t *testing.T) {
	w := &WorkerNode{Capacity: 4, CurrentLoad: 1}
	assert.InDelta(t, 0.25, w.LoadRatio(), 1e-9)

	w.Capacity = 0
	assert.Equal(t, 1.0, w.LoadRatio(), "zero capacity never looks idle")
}

func TestWorkerIsAvailable(t *testing.T) {
	now := time.Now().UTC()
	w := &WorkerNode{
		Status:        WorkerStatusActive,
		Capacity:      2,
		CurrentLoad:   1,
		LastHeartbeat: now,
	}
	assert.True(t, w.IsAvailable(now))

	w.CurrentLoad = 2
	assert.False(t, w.IsAvailable(now), "at capacity")

	w.CurrentLoad = 1
	w.Status = WorkerStatusOffline
	assert.False(t, w.IsAvailable(now))

	w.Status = WorkerStatusActive
	w.LastHeartbeat = now.Add(-2 * HeartbeatTimeout)
	assert.False(t, w.IsAvailable(now), "expired heartbeat")
}

func TestClampPower(t *testing.T) {
	assert.Equal(t, MinWorkerPower, ClampPower(-5))
	assert.Equal(t, MinWorkerPower, ClampPower(0))
	assert.Equal(t, 6, ClampPower(6))
	assert.Equal(t, MaxWorkerPower, ClampPower(99))
}
