package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/mbellgren/dispatchd/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerRegistry_RegisterIdempotentByName(t *testing.T) {
	env := newTestEnv(t)

	first, err := env.registry.Register(env.ctx, "node-a", "grpc://a:7070", 5, 8)
	require.NoError(t, err)

	second, err := env.registry.Register(env.ctx, "node-a", "grpc://a:7071", 10, 6)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "re-registering must update, not duplicate")
	assert.Equal(t, "grpc://a:7071", second.Endpoint)
	assert.Equal(t, 10, second.Capacity)
	assert.Equal(t, 6, second.Power)

	all, err := env.registry.GetAll(env.ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestWorkerRegistry_PowerClamped(t *testing.T) {
	env := newTestEnv(t)

	low, err := env.registry.Register(env.ctx, "weak", "grpc://w:7070", 5, -3)
	require.NoError(t, err)
	assert.Equal(t, domain.MinWorkerPower, low.Power)

	high, err := env.registry.Register(env.ctx, "strong", "grpc://s:7070", 5, 99)
	require.NoError(t, err)
	assert.Equal(t, domain.MaxWorkerPower, high.Power)

	updated, err := env.registry.UpdateDetails(env.ctx, low.ID, "grpc://w:7070", 5, 42)
	require.NoError(t, err)
	assert.Equal(t, domain.MaxWorkerPower, updated.Power)
}

func TestWorkerRegistry_AvailabilityPredicate(t *testing.T) {
	env := newTestEnv(t)

	ok := env.addWorker(t, "ok", 5, 5)
	full := env.addWorker(t, "full", 1, 5)
	stale := env.addWorker(t, "stale", 5, 5)
	offline := env.addWorker(t, "offline", 5, 5)

	// Fill "full" to capacity via a real assignment.
	job := env.addJob(t, "filler", domain.PriorityRegular, domain.JobStatusPending)
	require.NoError(t, env.registry.AssignJob(env.ctx, job.ID, full.ID))

	env.expireHeartbeat(t, stale.ID)
	require.NoError(t, env.registry.Deactivate(env.ctx, offline.ID))

	available, err := env.registry.GetAvailable(env.ctx)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, ok.ID, available[0].ID)
}

func TestWorkerRegistry_AssignUnassignLoadInvariant(t *testing.T) {
	env := newTestEnv(t)
	worker := env.addWorker(t, "node", 5, 5)

	j1 := env.addJob(t, "j1", domain.PriorityRegular, domain.JobStatusPending)
	j2 := env.addJob(t, "j2", domain.PriorityRegular, domain.JobStatusPending)

	require.NoError(t, env.registry.AssignJob(env.ctx, j1.ID, worker.ID))
	require.NoError(t, env.registry.AssignJob(env.ctx, j2.ID, worker.ID))

	got, err := env.registry.GetByID(env.ctx, worker.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentLoad)

	require.NoError(t, env.registry.Unassign(env.ctx, j1.ID))
	require.NoError(t, env.registry.Unassign(env.ctx, j1.ID)) // second unassign is a no-op

	got, err = env.registry.GetByID(env.ctx, worker.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentLoad)

	// Load never goes negative however many decrements arrive.
	require.NoError(t, env.registry.DecreaseLoad(env.ctx, worker.ID))
	require.NoError(t, env.registry.DecreaseLoad(env.ctx, worker.ID))
	require.NoError(t, env.registry.DecreaseLoad(env.ctx, worker.ID))

	got, err = env.registry.GetByID(env.ctx, worker.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentLoad)
}

func TestWorkerRegistry_AssignToUnavailableWorkerFails(t *testing.T) {
	env := newTestEnv(t)
	worker := env.addWorker(t, "gone", 5, 5)
	require.NoError(t, env.registry.Deactivate(env.ctx, worker.ID))

	job := env.addJob(t, "j", domain.PriorityRegular, domain.JobStatusPending)
	err := env.registry.AssignJob(env.ctx, job.ID, worker.ID)
	assert.ErrorIs(t, err, domain.ErrWorkerNotAvailable)
}

func TestWorkerRegistry_AssignNonPendingJobRejected(t *testing.T) {
	env := newTestEnv(t)
	worker := env.addWorker(t, "node", 5, 5)

	done := env.addJob(t, "done", domain.PriorityRegular, domain.JobStatusCompleted)
	err := env.registry.AssignJob(env.ctx, done.ID, worker.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotPending)

	got, err := env.registry.GetByID(env.ctx, worker.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentLoad)
}

func TestWorkerRegistry_RecalculateLoadsCorrectsDrift(t *testing.T) {
	env := newTestEnv(t)
	worker := env.addWorker(t, "node", 5, 5)

	j1 := env.addJob(t, "j1", domain.PriorityRegular, domain.JobStatusPending)
	require.NoError(t, env.registry.AssignJob(env.ctx, j1.ID, worker.ID))

	// Introduce drift directly in storage.
	stored, err := env.repo.GetWorker(env.ctx, worker.ID)
	require.NoError(t, err)
	stored.CurrentLoad = 4
	require.NoError(t, env.repo.SaveWorker(env.ctx, stored))

	require.NoError(t, env.registry.RecalculateLoads(env.ctx))

	got, err := env.registry.GetByID(env.ctx, worker.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentLoad, "load must equal the RUNNING/PENDING job count")
}

func TestWorkerRegistry_HeartbeatReactivation(t *testing.T) {
	env := newTestEnv(t)
	worker := env.addWorker(t, "node", 5, 5)

	job := env.addJob(t, "j", domain.PriorityRegular, domain.JobStatusRunning)
	wid := worker.ID
	job.WorkerNodeID = &wid
	require.NoError(t, env.repo.SaveJob(env.ctx, job))

	require.NoError(t, env.registry.Deactivate(env.ctx, worker.ID))

	// Zero out load so reactivation has drift to repair.
	stored, err := env.repo.GetWorker(env.ctx, worker.ID)
	require.NoError(t, err)
	stored.CurrentLoad = 0
	require.NoError(t, env.repo.SaveWorker(env.ctx, stored))

	require.NoError(t, env.registry.Heartbeat(env.ctx, worker.ID))

	got, err := env.registry.GetByID(env.ctx, worker.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerStatusActive, got.Status)
	assert.Equal(t, 1, got.CurrentLoad, "reactivation must resync load from assigned jobs")
	assert.False(t, got.HeartbeatExpired(time.Now().UTC()))
}

func TestWorkerRegistry_CheckInactiveWorkers(t *testing.T) {
	env := newTestEnv(t)

	fresh := env.addWorker(t, "fresh", 5, 5)
	stale := env.addWorker(t, "stale", 5, 5)
	env.expireHeartbeat(t, stale.ID)

	offlined, err := env.registry.CheckInactiveWorkers(env.ctx)
	require.NoError(t, err)
	require.Len(t, offlined, 1)
	assert.Equal(t, stale.ID, offlined[0])

	got, err := env.registry.GetByID(env.ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerStatusOffline, got.Status)

	got, err = env.registry.GetByID(env.ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerStatusActive, got.Status)
}

func TestWorkerRegistry_DeleteRejectedWithRunningJobs(t *testing.T) {
	env := newTestEnv(t)
	worker := env.addWorker(t, "busy", 5, 5)

	job := env.addJob(t, "j", domain.PriorityRegular, domain.JobStatusRunning)
	wid := worker.ID
	job.WorkerNodeID = &wid
	require.NoError(t, env.repo.SaveJob(env.ctx, job))

	err := env.registry.Delete(env.ctx, worker.ID)
	assert.ErrorIs(t, err, domain.ErrWorkerBusy)

	// Finish the job; deletion now passes.
	job.Status = domain.JobStatusCompleted
	require.NoError(t, env.repo.SaveJob(env.ctx, job))
	require.NoError(t, env.registry.Delete(env.ctx, worker.ID))
}

func TestWorkerRegistry_GetOptimalWorkerForJob(t *testing.T) {
	env := newTestEnv(t)

	env.addWorker(t, "weak-idle", 10, 2)
	strong := env.addWorker(t, "strong", 10, 9)

	critical := env.addJob(t, "crit", domain.PriorityCritical, domain.JobStatusPending)
	best, err := env.registry.GetOptimalWorkerForJob(env.ctx, critical)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, strong.ID, best.ID, "critical work goes to the most powerful worker")
}

func TestWorkerRegistry_GetOptimalWorkerBalancedTier(t *testing.T) {
	env := newTestEnv(t)

	// Regular tier scores normalized power against spare capacity: a nearly
	// full power-10 worker (1.0 * 0.2 = 0.2) loses to an idle power-3 one
	// (0.3 * 1.0 = 0.3).
	strong := env.addWorker(t, "strong", 5, 10)
	idle := env.addWorker(t, "idle", 5, 3)

	for i := 0; i < 4; i++ {
		filler := env.addJob(t, fmt.Sprintf("filler-%d", i), domain.PriorityRegular, domain.JobStatusPending)
		require.NoError(t, env.registry.AssignJob(env.ctx, filler.ID, strong.ID))
	}

	regular := env.addJob(t, "reg", domain.PriorityRegular, domain.JobStatusPending)
	best, err := env.registry.GetOptimalWorkerForJob(env.ctx, regular)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, idle.ID, best.ID)
}
