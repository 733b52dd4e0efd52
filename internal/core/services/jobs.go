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

const DefaultMaxRetryAttempts = 3

// CreateJobRequest is the validated input for job creation.
type CreateJobRequest struct {
	Name               string
	Description        string
	Priority           domain.JobPriority
	JobType            string
	ScheduledStartTime *time.Time
	MaxRetryAttempts   int
	// PreferredWorkerID is a hint; when the worker is unavailable or unset,
	// assignment falls back to the automatic policy.
	PreferredWorkerID domain.WorkerID
}

// JobService is the client-facing surface for jobs: creation, retries,
// stops, deletion and progress updates. It mutates the same shared state the
// scheduler uses and triggers the same components.
type JobService struct {
	logger    *slog.Logger
	repo      ports.Repository
	registry  *WorkerRegistry
	queue     *JobQueue
	assigner  *Assigner
	processor *Processor
	bus       *EventBus
}

func NewJobService(logger *slog.Logger, repo ports.Repository, registry *WorkerRegistry, queue *JobQueue, assigner *Assigner, processor *Processor, bus *EventBus) *JobService {
	return &JobService{
		logger:    logger,
		repo:      repo,
		registry:  registry,
		queue:     queue,
		assigner:  assigner,
		processor: processor,
		bus:       bus,
	}
}

// Create validates the request, persists the job in PENDING, honors a
// preferred-worker hint when possible and enqueues the job for dispatch.
// Rejected when no worker nodes exist at all.
func (s *JobService) Create(ctx context.Context, req CreateJobRequest) (*domain.Job, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("job name is required")
	}

	workers, err := s.repo.ListWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	if len(workers) == 0 {
		return nil, domain.ErrNoWorkers
	}

	maxRetries := req.MaxRetryAttempts
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetryAttempts
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:                 domain.JobID(uuid.NewString()),
		Name:               req.Name,
		Description:        req.Description,
		Status:             domain.JobStatusPending,
		Priority:           req.Priority,
		JobType:            req.JobType,
		ScheduledStartTime: req.ScheduledStartTime,
		MaxRetryAttempts:   maxRetries,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	s.logger.Info("job created", "job_id", job.ID, "name", job.Name, "priority", job.Priority.String())
	s.bus.Emit(domain.EventJobCreated, string(job.ID), map[string]any{
		"name":     job.Name,
		"priority": job.Priority.String(),
	})
	metrics.JobsSubmittedTotal.WithLabelValues(job.Priority.String()).Inc()

	// Assign eagerly when we can; the processing loop treats an existing
	// available-worker link as an idempotent success when it dequeues the
	// job and launches execution.
	if !job.IsDeferred(now) {
		s.assignEagerly(ctx, job, req.PreferredWorkerID)
	}

	if err := s.queue.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return s.repo.GetJob(ctx, job.ID)
}

// assignEagerly tries the preferred worker first, then the automatic policy.
// Failure is not an error: the job stays queued for the next tick.
func (s *JobService) assignEagerly(ctx context.Context, job *domain.Job, preferred domain.WorkerID) {
	if preferred != "" {
		worker, err := s.registry.GetByID(ctx, preferred)
		if err == nil && worker.IsAvailable(time.Now().UTC()) {
			if err := s.registry.AssignJob(ctx, job.ID, worker.ID); err == nil {
				return
			}
		}
		s.logger.Info("preferred worker unavailable, falling back to automatic assignment",
			"job_id", job.ID, "preferred_worker", preferred)
	}
	s.assigner.TryAssign(ctx, job.ID)
}

func (s *JobService) Get(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	return s.repo.GetJob(ctx, id)
}

func (s *JobService) List(ctx context.Context) ([]domain.Job, error) {
	return s.repo.ListJobs(ctx)
}

func (s *JobService) Logs(ctx context.Context, id domain.JobID) ([]domain.JobLog, error) {
	if _, err := s.repo.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListJobLogs(ctx, id)
}

// WorkerName resolves the assigned worker's name for client views; empty
// when unassigned or unresolved.
func (s *JobService) WorkerName(ctx context.Context, job *domain.Job) string {
	if job.WorkerNodeID == nil {
		return ""
	}
	worker, err := s.registry.GetByID(ctx, *job.WorkerNodeID)
	if err != nil {
		return ""
	}
	return worker.Name
}

// UpdateProgress sets a job's progress from an external report. Values
// outside [0,100] are rejected.
func (s *JobService) UpdateProgress(ctx context.Context, id domain.JobID, progress int) error {
	if progress < 0 || progress > 100 {
		return domain.ErrInvalidProgress
	}

	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return err
	}

	job.Progress = progress
	job.UpdatedAt = time.Now().UTC()
	if err := s.repo.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	s.bus.Emit(domain.EventJobProgress, string(id), map[string]any{"progress": progress})
	return nil
}

// Stop halts a job. A running job has its execution cancelled (the driver
// transitions it to STOPPED); a pending job is stopped directly and falls
// out of the queue at its next dequeue.
func (s *JobService) Stop(ctx context.Context, id domain.JobID) error {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return err
	}

	switch job.Status {
	case domain.JobStatusRunning:
		if !s.processor.StopJob(id) {
			return fmt.Errorf("job %s is running but has no tracked execution", id)
		}
		return nil
	case domain.JobStatusPending:
		if job.WorkerNodeID != nil {
			if err := s.registry.Unassign(ctx, id); err != nil {
				s.logger.Error("failed to unassign stopped job", "job_id", id, "error", err)
			}
			job, err = s.repo.GetJob(ctx, id)
			if err != nil {
				return err
			}
		}
		job.MarkTerminal(domain.JobStatusStopped, time.Now())
		if err := s.repo.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("save stopped job: %w", err)
		}
		s.bus.Emit(domain.EventJobStatus, string(id), map[string]any{"status": string(domain.JobStatusStopped)})
		return nil
	default:
		return fmt.Errorf("job cannot be stopped in state %s", job.Status)
	}
}

// Retry re-runs a failed job: eligibility is CanRetry (failed, attempts
// left). The job returns to PENDING with progress, timestamps and worker
// link cleared, the retry counter incremented, and is re-enqueued.
func (s *JobService) Retry(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.CanRetry() {
		return nil, domain.ErrJobNotRetryable
	}
	return s.requeueReset(ctx, job, job.CurrentRetryCount+1)
}

// Restart re-runs a failed or stopped job from scratch, resetting the retry
// counter.
func (s *JobService) Restart(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusFailed && job.Status != domain.JobStatusStopped {
		return nil, fmt.Errorf("job cannot be restarted in state %s", job.Status)
	}
	return s.requeueReset(ctx, job, 0)
}

func (s *JobService) requeueReset(ctx context.Context, job *domain.Job, retryCount int) (*domain.Job, error) {
	if job.WorkerNodeID != nil {
		if err := s.registry.Unassign(ctx, job.ID); err != nil {
			s.logger.Error("failed to unassign job before requeue", "job_id", job.ID, "error", err)
		}
		fresh, err := s.repo.GetJob(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		job = fresh
	}

	job.ResetForRetry(time.Now())
	job.CurrentRetryCount = retryCount
	if err := s.repo.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("save reset job: %w", err)
	}

	if err := s.queue.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue reset job: %w", err)
	}

	s.logger.Info("job requeued", "job_id", job.ID, "retry_count", retryCount)
	s.bus.Emit(domain.EventJobStatus, string(job.ID), map[string]any{"status": string(domain.JobStatusPending)})
	return job, nil
}

// Delete removes a job. Rejected while the job is running.
func (s *JobService) Delete(ctx context.Context, id domain.JobID) error {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == domain.JobStatusRunning {
		return domain.ErrJobRunning
	}

	if job.WorkerNodeID != nil {
		if err := s.registry.Unassign(ctx, id); err != nil {
			s.logger.Error("failed to unassign job before delete", "job_id", id, "error", err)
		}
	}
	if err := s.repo.DeleteJob(ctx, id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}

	s.bus.Emit(domain.EventJobDeleted, string(id), nil)
	return nil
}
