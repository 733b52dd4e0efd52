package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mbellgren/dispatchd/internal/core/domain"
	"github.com/mbellgren/dispatchd/internal/core/ports"
	"github.com/mbellgren/dispatchd/internal/metrics"
)

const baseProcessingMinutes = 10.0

// Assigner implements the worker-selection policy: given a pending job it
// picks the best available worker by a priority-weighted score and performs
// the assignment through the registry. Internal errors are logged and
// reported as a failed assignment, never propagated; the job simply stays
// queued for a later tick.
type Assigner struct {
	logger   *slog.Logger
	repo     ports.Repository
	registry *WorkerRegistry
	queue    *JobQueue
}

func NewAssigner(logger *slog.Logger, repo ports.Repository, registry *WorkerRegistry, queue *JobQueue) *Assigner {
	return &Assigner{
		logger:   logger,
		repo:     repo,
		registry: registry,
		queue:    queue,
	}
}

// FindAvailableWorker picks the best available worker for a job, or nil when
// none qualify. Selection depends on the priority tier:
//
//	immediate/critical/urgent: max power, tie-break min load ratio
//	high:                      max 0.7*power + 0.3*(1-loadRatio)
//	regular:                   max 0.5*power + 0.5*(1-loadRatio)
//	low/deferred:              min load ratio, tie-break max power
func (a *Assigner) FindAvailableWorker(ctx context.Context, job *domain.Job) (*domain.WorkerNode, error) {
	available, err := a.registry.GetAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch available workers: %w", err)
	}
	if len(available) == 0 {
		a.logger.Info("no available workers", "job_id", job.ID, "priority", job.Priority.String())
		return nil, nil
	}

	best := &available[0]
	for i := 1; i < len(available); i++ {
		if a.better(job.Priority, &available[i], best) {
			best = &available[i]
		}
	}
	return best, nil
}

// better reports whether candidate c should be preferred over current best b
// for the given priority tier.
func (a *Assigner) better(p domain.JobPriority, c, b *domain.WorkerNode) bool {
	switch p {
	case domain.PriorityImmediate, domain.PriorityCritical, domain.PriorityUrgent:
		if c.Power != b.Power {
			return c.Power > b.Power
		}
		return c.LoadRatio() < b.LoadRatio()
	case domain.PriorityHigh:
		return weightedScore(c, 0.7) > weightedScore(b, 0.7)
	case domain.PriorityLow, domain.PriorityDeferred:
		if c.LoadRatio() != b.LoadRatio() {
			return c.LoadRatio() < b.LoadRatio()
		}
		return c.Power > b.Power
	default:
		return weightedScore(c, 0.5) > weightedScore(b, 0.5)
	}
}

// weightedScore blends normalized power with spare capacity.
func weightedScore(w *domain.WorkerNode, powerWeight float64) float64 {
	power := float64(w.Power) / float64(domain.MaxWorkerPower)
	return powerWeight*power + (1-powerWeight)*(1-w.LoadRatio())
}

// TryAssign attempts to place a job on a worker. Returns false when the job
// is not pending, no worker is available, or the assignment itself fails.
// A job already linked to a currently-available worker is treated as
// assigned (idempotent success); a stale link is cleared first.
func (a *Assigner) TryAssign(ctx context.Context, jobID domain.JobID) bool {
	job, err := a.repo.GetJob(ctx, jobID)
	if err != nil {
		a.logger.Error("assignment lookup failed", "job_id", jobID, "error", err)
		return false
	}

	if job.Status != domain.JobStatusPending {
		a.logger.Info("skipping assignment, job not pending", "job_id", jobID, "status", job.Status)
		return false
	}

	if job.WorkerNodeID != nil {
		worker, err := a.registry.GetByID(ctx, *job.WorkerNodeID)
		if err == nil && worker.IsAvailable(time.Now().UTC()) {
			return true
		}
		// Stale link: the worker vanished or went unavailable since.
		if err := a.registry.Unassign(ctx, jobID); err != nil {
			a.logger.Error("failed to clear stale worker link", "job_id", jobID, "error", err)
			return false
		}
	}

	worker, err := a.FindAvailableWorker(ctx, job)
	if err != nil {
		a.logger.Error("worker selection failed", "job_id", jobID, "error", err)
		return false
	}
	if worker == nil {
		return false
	}

	if err := a.registry.AssignJob(ctx, jobID, worker.ID); err != nil {
		a.logger.Error("assignment failed", "job_id", jobID, "worker_id", worker.ID, "error", err)
		return false
	}

	estimate := EstimateProcessingDuration(worker.Power, job.Priority)
	a.logger.Info("job assigned to worker",
		"job_id", jobID, "worker_id", worker.ID, "worker_power", worker.Power,
		"estimated_duration", estimate)
	return true
}

// EstimateProcessingDuration is the observability-only duration model:
// a 10-minute baseline scaled down by worker power and by priority urgency.
func EstimateProcessingDuration(power int, priority domain.JobPriority) time.Duration {
	power = domain.ClampPower(power)
	minutes := baseProcessingMinutes * (float64(domain.MaxWorkerPower) / float64(power)) * priority.SpeedFactor()
	return time.Duration(minutes * float64(time.Minute))
}

// ReassignFromOfflineWorker pulls every RUNNING/PENDING job off an offline
// worker: each is reset to pending with its link and progress cleared, gets
// a warning log entry if it was actually running, and is immediately offered
// for reassignment. Returns true even when the worker had no jobs.
func (a *Assigner) ReassignFromOfflineWorker(ctx context.Context, workerID domain.WorkerID) bool {
	jobs, err := a.repo.ListJobsByWorker(ctx, workerID, domain.JobStatusRunning, domain.JobStatusPending)
	if err != nil {
		a.logger.Error("failed to list jobs for offline worker", "worker_id", workerID, "error", err)
		return false
	}
	if len(jobs) == 0 {
		return true
	}

	a.logger.Warn("reassigning jobs from offline worker", "worker_id", workerID, "count", len(jobs))

	for i := range jobs {
		job := &jobs[i]
		wasRunning := job.Status == domain.JobStatusRunning
		metrics.JobsReassignedTotal.Inc()

		if err := a.registry.Unassign(ctx, job.ID); err != nil {
			a.logger.Error("failed to unassign job from offline worker", "job_id", job.ID, "error", err)
			continue
		}

		// Re-read: Unassign already persisted the cleared link.
		fresh, err := a.repo.GetJob(ctx, job.ID)
		if err != nil {
			a.logger.Error("failed to reload job during reassignment", "job_id", job.ID, "error", err)
			continue
		}

		fresh.Status = domain.JobStatusPending
		fresh.Progress = 0
		fresh.UpdatedAt = time.Now().UTC()
		if err := a.repo.SaveJob(ctx, fresh); err != nil {
			a.logger.Error("failed to reset job during reassignment", "job_id", job.ID, "error", err)
			continue
		}

		if wasRunning {
			entry := domain.JobLog{
				ID:        uuid.NewString(),
				JobID:     fresh.ID,
				Level:     domain.JobLogWarning,
				Message:   fmt.Sprintf("worker %s went offline mid-run, job requeued", workerID),
				CreatedAt: time.Now().UTC(),
			}
			if err := a.repo.AppendJobLog(ctx, entry); err != nil {
				a.logger.Error("failed to append reassignment log", "job_id", fresh.ID, "error", err)
			}
		}

		// Offer the job to another worker right away, then put it back on
		// the queue either way: the processing loop treats an existing
		// available-worker link as an idempotent assignment and launches
		// execution from there.
		a.TryAssign(ctx, fresh.ID)
		if !a.queue.Contains(fresh.ID) {
			if err := a.queue.Enqueue(ctx, fresh); err != nil {
				a.logger.Error("failed to requeue reassigned job", "job_id", fresh.ID, "error", err)
			}
		}
	}
	return true
}
