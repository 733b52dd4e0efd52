package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mbellgren/dispatchd/internal/core/domain"
	"github.com/mbellgren/dispatchd/internal/core/ports"
	"github.com/mbellgren/dispatchd/internal/metrics"
)

// WorkRunner performs the actual unit of work for an assigned job. report
// persists and publishes a progress value; the runner must observe ctx
// between steps and return ctx.Err() on cancellation.
type WorkRunner interface {
	Run(ctx context.Context, job *domain.Job, worker *domain.WorkerNode, report func(progress int) error) error
}

const defaultWorkerPower = 5

// Executor drives one job execution to a terminal status: RUNNING on entry,
// then COMPLETED, FAILED or STOPPED depending on how the runner returns.
// Whatever the outcome, the assigned worker's load is decremented at the
// end. One job's fault never reaches concurrent executions.
type Executor struct {
	logger   *slog.Logger
	repo     ports.Repository
	registry *WorkerRegistry
	bus      *EventBus
	runner   WorkRunner
}

func NewExecutor(logger *slog.Logger, repo ports.Repository, registry *WorkerRegistry, bus *EventBus, runner WorkRunner) *Executor {
	return &Executor{
		logger:   logger,
		repo:     repo,
		registry: registry,
		bus:      bus,
		runner:   runner,
	}
}

// Execute runs a job to completion. Safe to call in its own goroutine; all
// errors are handled here.
func (e *Executor) Execute(ctx context.Context, jobID domain.JobID) {
	job, err := e.repo.GetJob(ctx, jobID)
	if err != nil {
		e.logger.Error("execution aborted, job not found", "job_id", jobID, "error", err)
		return
	}
	if job.Status != domain.JobStatusPending {
		e.logger.Warn("execution skipped, job not pending", "job_id", jobID, "status", job.Status)
		return
	}

	start := time.Now()
	job.MarkRunning(start)
	if err := e.repo.SaveJob(ctx, job); err != nil {
		e.logger.Error("failed to persist running transition", "job_id", jobID, "error", err)
		return
	}
	e.bus.Emit(domain.EventJobStatus, string(jobID), map[string]any{"status": string(domain.JobStatusRunning)})
	metrics.RunningJobs.Inc()
	defer metrics.RunningJobs.Dec()

	worker := e.resolveWorker(ctx, job)

	runErr := e.runner.Run(ctx, job, worker, func(progress int) error {
		return e.reportProgress(ctx, jobID, progress)
	})

	// Terminal bookkeeping must land even when the run context was cancelled:
	// the Stopped transition and the load decrement write through a context
	// that survives the cancellation.
	finishCtx := context.WithoutCancel(ctx)

	// Re-read the job so progress persisted during the run is not clobbered
	// by the stale pre-run copy.
	fresh, err := e.repo.GetJob(finishCtx, jobID)
	if err != nil {
		e.logger.Error("failed to reload job for terminal transition", "job_id", jobID, "error", err)
		fresh = job
	}

	now := time.Now()
	switch {
	case runErr != nil && errors.Is(runErr, context.Canceled):
		fresh.MarkTerminal(domain.JobStatusStopped, now)
		e.logger.Warn("job execution cancelled", "job_id", jobID)
		e.appendLog(finishCtx, jobID, domain.JobLogWarning, "execution cancelled")
	case runErr != nil:
		msg := runErr.Error()
		fresh.ErrorMessage = &msg
		fresh.MarkTerminal(domain.JobStatusFailed, now)
		e.logger.Error("job execution failed", "job_id", jobID, "error", runErr)
		e.appendLog(finishCtx, jobID, domain.JobLogError, fmt.Sprintf("execution failed: %s", msg))
		e.bus.Emit(domain.EventJobError, string(jobID), map[string]any{"error": msg})
	default:
		fresh.Progress = 100
		fresh.MarkTerminal(domain.JobStatusCompleted, now)
		e.logger.Info("job completed", "job_id", jobID, "duration", now.Sub(start))
		e.appendLog(finishCtx, jobID, domain.JobLogInfo, "execution completed")
	}

	if err := e.repo.SaveJob(finishCtx, fresh); err != nil {
		e.logger.Error("failed to persist terminal status", "job_id", jobID, "status", fresh.Status, "error", err)
	}
	e.bus.Emit(domain.EventJobStatus, string(jobID), map[string]any{"status": string(fresh.Status)})

	metrics.JobsCompletedTotal.WithLabelValues(string(fresh.Status)).Inc()
	metrics.JobDurationSeconds.WithLabelValues(fresh.Priority.String(), string(fresh.Status)).
		Observe(now.Sub(start).Seconds())

	// Always release the worker slot, whatever the outcome.
	if fresh.WorkerNodeID != nil {
		if err := e.registry.DecreaseLoad(finishCtx, *fresh.WorkerNodeID); err != nil {
			e.logger.Error("failed to decrement worker load", "worker_id", *fresh.WorkerNodeID, "error", err)
		}
	}
}

// resolveWorker looks up the assigned worker for its power rating. An
// unresolved worker falls back to a neutral default so execution proceeds.
func (e *Executor) resolveWorker(ctx context.Context, job *domain.Job) *domain.WorkerNode {
	if job.WorkerNodeID != nil {
		if worker, err := e.registry.GetByID(ctx, *job.WorkerNodeID); err == nil {
			return worker
		}
		e.logger.Warn("assigned worker unresolved, using default power", "job_id", job.ID)
	}
	return &domain.WorkerNode{Power: defaultWorkerPower}
}

// reportProgress clamps, persists and publishes one progress update.
// Progress never moves backwards within a run.
func (e *Executor) reportProgress(ctx context.Context, jobID domain.JobID, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	job, err := e.repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if progress < job.Progress {
		progress = job.Progress
	}

	job.Progress = progress
	job.UpdatedAt = time.Now().UTC()
	if err := e.repo.SaveJob(ctx, job); err != nil {
		return err
	}

	e.bus.Emit(domain.EventJobProgress, string(jobID), map[string]any{"progress": progress})
	return nil
}

func (e *Executor) appendLog(ctx context.Context, jobID domain.JobID, level domain.JobLogLevel, msg string) {
	entry := domain.JobLog{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Level:     level,
		Message:   msg,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.repo.AppendJobLog(ctx, entry); err != nil {
		e.logger.Error("failed to append job log", "job_id", jobID, "error", err)
	}
}
