package services

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mbellgren/dispatchd/internal/adapters/memstore"
	"github.com/mbellgren/dispatchd/internal/core/domain"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	ctx      context.Context
	logger   *slog.Logger
	repo     *memstore.Store
	bus      *EventBus
	registry *WorkerRegistry
	queue    *JobQueue
	assigner *Assigner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	repo := memstore.New()
	bus := NewEventBus(logger)
	registry := NewWorkerRegistry(logger, repo, bus)
	queue := NewJobQueue(logger, repo, nil)
	assigner := NewAssigner(logger, repo, registry, queue)

	return &testEnv{
		ctx:      context.Background(),
		logger:   logger,
		repo:     repo,
		bus:      bus,
		registry: registry,
		queue:    queue,
		assigner: assigner,
	}
}

func (e *testEnv) addWorker(t *testing.T, name string, capacity, power int) *domain.WorkerNode {
	t.Helper()

	worker, err := e.registry.Register(e.ctx, name, "grpc://"+name+":7070", capacity, power)
	require.NoError(t, err)
	return worker
}

func (e *testEnv) addJob(t *testing.T, name string, priority domain.JobPriority, status domain.JobStatus) *domain.Job {
	t.Helper()

	now := time.Now().UTC()
	job := &domain.Job{
		ID:               domain.JobID(uuid.NewString()),
		Name:             name,
		Status:           status,
		Priority:         priority,
		MaxRetryAttempts: 3,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, e.repo.SaveJob(e.ctx, job))
	return job
}

// expireHeartbeat backdates a worker's heartbeat past the timeout.
func (e *testEnv) expireHeartbeat(t *testing.T, id domain.WorkerID) {
	t.Helper()

	worker, err := e.repo.GetWorker(e.ctx, id)
	require.NoError(t, err)
	worker.LastHeartbeat = time.Now().UTC().Add(-2 * domain.HeartbeatTimeout)
	require.NoError(t, e.repo.SaveWorker(e.ctx, worker))
}
