package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mbellgren/dispatchd/internal/core/domain"
	"github.com/mbellgren/dispatchd/internal/core/ports"
	"github.com/mbellgren/dispatchd/internal/metrics"
)

// WorkerRegistry owns the set of worker nodes: registration, heartbeats,
// availability and load accounting. Load mutations are serialized per worker
// so concurrent assignment and completion never lose updates.
type WorkerRegistry struct {
	logger *slog.Logger
	repo   ports.Repository
	bus    *EventBus

	mu    sync.Mutex
	locks map[domain.WorkerID]*sync.Mutex
}

func NewWorkerRegistry(logger *slog.Logger, repo ports.Repository, bus *EventBus) *WorkerRegistry {
	return &WorkerRegistry{
		logger: logger,
		repo:   repo,
		bus:    bus,
		locks:  make(map[domain.WorkerID]*sync.Mutex),
	}
}

// lockWorker returns the mutex serializing load mutations for one worker.
func (r *WorkerRegistry) lockWorker(id domain.WorkerID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// Register creates a worker node, or updates the existing one in place when
// the name is already taken. Registration is idempotent by name.
func (r *WorkerRegistry) Register(ctx context.Context, name, endpoint string, capacity, power int) (*domain.WorkerNode, error) {
	now := time.Now().UTC()

	existing, err := r.repo.GetWorkerByName(ctx, name)
	if err != nil && err != domain.ErrWorkerNotFound {
		return nil, fmt.Errorf("lookup worker by name: %w", err)
	}

	if existing != nil {
		existing.Endpoint = endpoint
		existing.Capacity = capacity
		existing.Power = domain.ClampPower(power)
		existing.Status = domain.WorkerStatusActive
		existing.LastHeartbeat = now
		existing.UpdatedAt = now
		if err := r.repo.SaveWorker(ctx, existing); err != nil {
			return nil, fmt.Errorf("update worker: %w", err)
		}
		r.logger.Info("worker re-registered", "worker_id", existing.ID, "name", name)
		r.bus.Emit(domain.EventWorkerRegistered, string(existing.ID), map[string]any{"name": name})
		return existing, nil
	}

	worker := &domain.WorkerNode{
		ID:            domain.WorkerID(uuid.NewString()),
		Name:          name,
		Endpoint:      endpoint,
		Status:        domain.WorkerStatusActive,
		LastHeartbeat: now,
		Capacity:      capacity,
		CurrentLoad:   0,
		Power:         domain.ClampPower(power),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.repo.SaveWorker(ctx, worker); err != nil {
		return nil, fmt.Errorf("create worker: %w", err)
	}

	r.logger.Info("worker registered", "worker_id", worker.ID, "name", name, "capacity", capacity, "power", worker.Power)
	r.bus.Emit(domain.EventWorkerRegistered, string(worker.ID), map[string]any{"name": name})
	return worker, nil
}

func (r *WorkerRegistry) GetByID(ctx context.Context, id domain.WorkerID) (*domain.WorkerNode, error) {
	return r.repo.GetWorker(ctx, id)
}

func (r *WorkerRegistry) GetByName(ctx context.Context, name string) (*domain.WorkerNode, error) {
	return r.repo.GetWorkerByName(ctx, name)
}

func (r *WorkerRegistry) GetAll(ctx context.Context) ([]domain.WorkerNode, error) {
	return r.repo.ListWorkers(ctx)
}

// GetAvailable returns the workers that can accept a job right now. Before
// filtering, each worker's load is reconciled against the actual count of
// its RUNNING/PENDING jobs; drift is corrected, persisted and logged.
func (r *WorkerRegistry) GetAvailable(ctx context.Context) ([]domain.WorkerNode, error) {
	workers, err := r.repo.ListWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}

	now := time.Now().UTC()
	available := make([]domain.WorkerNode, 0, len(workers))

	for i := range workers {
		w := &workers[i]
		if err := r.reconcileLoad(ctx, w); err != nil {
			r.logger.Error("load reconciliation failed", "worker_id", w.ID, "error", err)
			continue
		}
		if w.IsAvailable(now) {
			available = append(available, *w)
		}
	}
	return available, nil
}

// reconcileLoad recomputes a worker's load from its assigned RUNNING/PENDING
// jobs and persists the correction if the stored value drifted.
func (r *WorkerRegistry) reconcileLoad(ctx context.Context, w *domain.WorkerNode) error {
	lock := r.lockWorker(w.ID)
	lock.Lock()
	defer lock.Unlock()

	actual, err := r.repo.CountJobsByWorker(ctx, w.ID, domain.JobStatusRunning, domain.JobStatusPending)
	if err != nil {
		return err
	}
	if actual == w.CurrentLoad {
		return nil
	}

	r.logger.Warn("correcting worker load drift",
		"worker_id", w.ID, "stored", w.CurrentLoad, "actual", actual)
	metrics.LoadCorrectionsTotal.Inc()
	w.CurrentLoad = actual
	w.UpdatedAt = time.Now().UTC()
	if err := r.repo.SaveWorker(ctx, w); err != nil {
		return err
	}
	r.bus.Emit(domain.EventWorkerLoad, string(w.ID), map[string]any{"load": actual})
	return nil
}

// UpdateDetails changes a worker's endpoint, capacity and power. Power is
// re-clamped to its valid range.
func (r *WorkerRegistry) UpdateDetails(ctx context.Context, id domain.WorkerID, endpoint string, capacity, power int) (*domain.WorkerNode, error) {
	worker, err := r.repo.GetWorker(ctx, id)
	if err != nil {
		return nil, err
	}

	worker.Endpoint = endpoint
	worker.Capacity = capacity
	worker.Power = domain.ClampPower(power)
	worker.UpdatedAt = time.Now().UTC()
	if err := r.repo.SaveWorker(ctx, worker); err != nil {
		return nil, fmt.Errorf("update worker: %w", err)
	}
	return worker, nil
}

// Heartbeat refreshes a worker's liveness. A worker that was offline or
// whose heartbeat had expired goes through reactivation: status back to
// active and load resynchronized from its actual assigned jobs.
func (r *WorkerRegistry) Heartbeat(ctx context.Context, id domain.WorkerID) error {
	worker, err := r.repo.GetWorker(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	needsReactivation := worker.Status == domain.WorkerStatusOffline || worker.HeartbeatExpired(now)

	worker.LastHeartbeat = now
	worker.Status = domain.WorkerStatusActive
	worker.UpdatedAt = now

	if !needsReactivation {
		return r.repo.SaveWorker(ctx, worker)
	}

	lock := r.lockWorker(id)
	lock.Lock()
	defer lock.Unlock()

	actual, err := r.repo.CountJobsByWorker(ctx, id, domain.JobStatusRunning, domain.JobStatusPending)
	if err != nil {
		return fmt.Errorf("recompute load on reactivation: %w", err)
	}
	worker.CurrentLoad = actual

	if err := r.repo.SaveWorker(ctx, worker); err != nil {
		return fmt.Errorf("save reactivated worker: %w", err)
	}

	r.logger.Info("worker reactivated", "worker_id", id, "load", actual)
	r.bus.Emit(domain.EventWorkerStatus, string(id), map[string]any{"status": string(worker.Status)})
	r.bus.Emit(domain.EventWorkerLoad, string(id), map[string]any{"load": actual})
	return nil
}

// Deactivate marks a worker offline.
func (r *WorkerRegistry) Deactivate(ctx context.Context, id domain.WorkerID) error {
	worker, err := r.repo.GetWorker(ctx, id)
	if err != nil {
		return err
	}

	worker.Status = domain.WorkerStatusOffline
	worker.UpdatedAt = time.Now().UTC()
	if err := r.repo.SaveWorker(ctx, worker); err != nil {
		return fmt.Errorf("deactivate worker: %w", err)
	}

	r.logger.Info("worker deactivated", "worker_id", id)
	r.bus.Emit(domain.EventWorkerDeactivated, string(id), map[string]any{"status": string(domain.WorkerStatusOffline)})
	return nil
}

// Delete removes a worker. Rejected while the worker still has running jobs.
func (r *WorkerRegistry) Delete(ctx context.Context, id domain.WorkerID) error {
	if _, err := r.repo.GetWorker(ctx, id); err != nil {
		return err
	}

	running, err := r.repo.CountJobsByWorker(ctx, id, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("count running jobs: %w", err)
	}
	if running > 0 {
		return domain.ErrWorkerBusy
	}
	return r.repo.DeleteWorker(ctx, id)
}

// UpdateLoad sets a worker's load directly. Negative values are rejected.
func (r *WorkerRegistry) UpdateLoad(ctx context.Context, id domain.WorkerID, load int) error {
	if load < 0 {
		return fmt.Errorf("load must not be negative, got %d", load)
	}

	lock := r.lockWorker(id)
	lock.Lock()
	defer lock.Unlock()

	worker, err := r.repo.GetWorker(ctx, id)
	if err != nil {
		return err
	}

	worker.CurrentLoad = load
	worker.UpdatedAt = time.Now().UTC()
	if err := r.repo.SaveWorker(ctx, worker); err != nil {
		return fmt.Errorf("save worker load: %w", err)
	}
	r.bus.Emit(domain.EventWorkerLoad, string(id), map[string]any{"load": load})
	return nil
}

// AssignJob links a job to a worker and increments the worker's load. Fails
// if either entity is missing, the job is not pending, or the worker is not
// currently available.
func (r *WorkerRegistry) AssignJob(ctx context.Context, jobID domain.JobID, workerID domain.WorkerID) error {
	job, err := r.repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusPending {
		return domain.ErrJobNotPending
	}

	lock := r.lockWorker(workerID)
	lock.Lock()
	defer lock.Unlock()

	worker, err := r.repo.GetWorker(ctx, workerID)
	if err != nil {
		return err
	}
	if !worker.IsAvailable(time.Now().UTC()) {
		return domain.ErrWorkerNotAvailable
	}

	job.WorkerNodeID = &worker.ID
	job.UpdatedAt = time.Now().UTC()
	if err := r.repo.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("link job to worker: %w", err)
	}

	worker.CurrentLoad++
	worker.UpdatedAt = time.Now().UTC()
	if err := r.repo.SaveWorker(ctx, worker); err != nil {
		return fmt.Errorf("increment worker load: %w", err)
	}

	r.logger.Info("job assigned", "job_id", jobID, "worker_id", workerID, "load", worker.CurrentLoad)
	r.bus.Emit(domain.EventJobAssigned, string(jobID), map[string]any{
		"worker_id":   string(workerID),
		"worker_name": worker.Name,
	})
	r.bus.Emit(domain.EventWorkerLoad, string(workerID), map[string]any{"load": worker.CurrentLoad})
	return nil
}

// Unassign clears a job's worker link and decrements that worker's load,
// floored at zero.
func (r *WorkerRegistry) Unassign(ctx context.Context, jobID domain.JobID) error {
	job, err := r.repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.WorkerNodeID == nil {
		return nil
	}

	workerID := *job.WorkerNodeID
	job.WorkerNodeID = nil
	job.UpdatedAt = time.Now().UTC()
	if err := r.repo.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("clear worker link: %w", err)
	}

	return r.DecreaseLoad(ctx, workerID)
}

// DecreaseLoad drops a worker's load by one, floored at zero.
func (r *WorkerRegistry) DecreaseLoad(ctx context.Context, id domain.WorkerID) error {
	lock := r.lockWorker(id)
	lock.Lock()
	defer lock.Unlock()

	worker, err := r.repo.GetWorker(ctx, id)
	if err != nil {
		if err == domain.ErrWorkerNotFound {
			return nil
		}
		return err
	}

	if worker.CurrentLoad > 0 {
		worker.CurrentLoad--
	}
	worker.UpdatedAt = time.Now().UTC()
	if err := r.repo.SaveWorker(ctx, worker); err != nil {
		return fmt.Errorf("decrement worker load: %w", err)
	}
	r.bus.Emit(domain.EventWorkerLoad, string(id), map[string]any{"load": worker.CurrentLoad})
	return nil
}

// CheckInactiveWorkers marks every non-offline worker with an expired
// heartbeat as offline. Returns the IDs that were transitioned, so the
// caller can trigger reassignment of their jobs.
func (r *WorkerRegistry) CheckInactiveWorkers(ctx context.Context) ([]domain.WorkerID, error) {
	workers, err := r.repo.ListWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}

	now := time.Now().UTC()
	var offlined []domain.WorkerID

	for i := range workers {
		w := &workers[i]
		if w.Status == domain.WorkerStatusOffline || !w.HeartbeatExpired(now) {
			continue
		}

		w.Status = domain.WorkerStatusOffline
		w.UpdatedAt = now
		if err := r.repo.SaveWorker(ctx, w); err != nil {
			r.logger.Error("failed to offline stale worker", "worker_id", w.ID, "error", err)
			continue
		}

		r.logger.Warn("worker heartbeat expired, marked offline",
			"worker_id", w.ID, "last_heartbeat", w.LastHeartbeat)
		r.bus.Emit(domain.EventWorkerStatus, string(w.ID), map[string]any{"status": string(domain.WorkerStatusOffline)})
		offlined = append(offlined, w.ID)
	}
	return offlined, nil
}

// RecalculateLoads is the authoritative consistency repair: every worker's
// load is recomputed from its RUNNING/PENDING job count and corrected when
// it drifted.
func (r *WorkerRegistry) RecalculateLoads(ctx context.Context) error {
	workers, err := r.repo.ListWorkers(ctx)
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}

	for i := range workers {
		if err := r.reconcileLoad(ctx, &workers[i]); err != nil {
			r.logger.Error("load recalculation failed", "worker_id", workers[i].ID, "error", err)
		}
	}
	return nil
}

// GetOptimalWorkerForJob ranks the available workers for a job and returns
// the best one, or nil when none are available. High-urgency tiers prefer
// raw power; the rest balance power against spare capacity.
func (r *WorkerRegistry) GetOptimalWorkerForJob(ctx context.Context, job *domain.Job) (*domain.WorkerNode, error) {
	available, err := r.GetAvailable(ctx)
	if err != nil {
		return nil, err
	}
	if len(available) == 0 {
		return nil, nil
	}

	if powerFirst(job.Priority) {
		sort.SliceStable(available, func(i, j int) bool {
			if available[i].Power != available[j].Power {
				return available[i].Power > available[j].Power
			}
			return available[i].LoadRatio() < available[j].LoadRatio()
		})
	} else {
		// Power is normalized to [0,1] by MaxWorkerPower, the same scale
		// the assigner's weighted score uses.
		sort.SliceStable(available, func(i, j int) bool {
			si := float64(available[i].Power) / float64(domain.MaxWorkerPower) * (1 - available[i].LoadRatio())
			sj := float64(available[j].Power) / float64(domain.MaxWorkerPower) * (1 - available[j].LoadRatio())
			return si > sj
		})
	}
	return &available[0], nil
}

// powerFirst reports whether a tier ranks workers by raw power before load.
func powerFirst(p domain.JobPriority) bool {
	switch p {
	case domain.PriorityImmediate, domain.PriorityCritical, domain.PriorityUrgent, domain.PriorityHigh:
		return true
	}
	return false
}
