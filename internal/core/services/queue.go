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
)

// JobQueue is the in-memory pending-job queue: one FIFO sub-queue per
// priority tier, holding job IDs only. Contents are always reconstructible
// from persisted PENDING jobs, so no durable queue log exists.
type JobQueue struct {
	logger *slog.Logger
	repo   ports.Repository
	snap   ports.Snapshotter // optional; nil disables snapshots

	mu     sync.Mutex
	queues map[domain.JobPriority][]domain.JobID
}

func NewJobQueue(logger *slog.Logger, repo ports.Repository, snap ports.Snapshotter) *JobQueue {
	q := &JobQueue{
		logger: logger,
		repo:   repo,
		snap:   snap,
		queues: make(map[domain.JobPriority][]domain.JobID),
	}
	return q
}

// Enqueue pushes a job onto the sub-queue matching its priority. A job
// without a persisted identity is persisted first.
func (q *JobQueue) Enqueue(ctx context.Context, job *domain.Job) error {
	if job.ID == "" {
		job.ID = domain.JobID(uuid.NewString())
		now := time.Now().UTC()
		job.CreatedAt = now
		job.UpdatedAt = now
		if err := q.repo.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("persist job before enqueue: %w", err)
		}
	}

	q.mu.Lock()
	q.queues[job.Priority] = append(q.queues[job.Priority], job.ID)
	length := q.lengthLocked()
	q.mu.Unlock()

	q.logger.Debug("job enqueued", "job_id", job.ID, "priority", job.Priority.String(), "queue_length", length)
	return nil
}

// Dequeue pops the head of the first non-empty sub-queue, scanning tiers
// from most to least urgent, and resolves it to the full job record.
// Returns nil when every sub-queue is empty.
func (q *JobQueue) Dequeue(ctx context.Context) (*domain.Job, error) {
	q.mu.Lock()
	var id domain.JobID
	for _, p := range domain.DispatchOrder() {
		if ids := q.queues[p]; len(ids) > 0 {
			id = ids[0]
			q.queues[p] = ids[1:]
			break
		}
	}
	q.mu.Unlock()

	if id == "" {
		return nil, nil
	}

	job, err := q.repo.GetJob(ctx, id)
	if err != nil {
		if err == domain.ErrJobNotFound {
			// Deleted while queued; skip to the next entry.
			q.logger.Warn("queued job no longer exists, skipping", "job_id", id)
			return q.Dequeue(ctx)
		}
		return nil, fmt.Errorf("resolve queued job %s: %w", id, err)
	}
	return job, nil
}

// GetPending materializes every queued ID into a job record, across all
// tiers in dispatch order.
func (q *JobQueue) GetPending(ctx context.Context) ([]domain.Job, error) {
	q.mu.Lock()
	var ids []domain.JobID
	for _, p := range domain.DispatchOrder() {
		ids = append(ids, q.queues[p]...)
	}
	q.mu.Unlock()

	return q.resolve(ctx, ids)
}

// GetByPriority materializes one tier's sub-queue.
func (q *JobQueue) GetByPriority(ctx context.Context, p domain.JobPriority) ([]domain.Job, error) {
	q.mu.Lock()
	ids := append([]domain.JobID(nil), q.queues[p]...)
	q.mu.Unlock()

	return q.resolve(ctx, ids)
}

func (q *JobQueue) resolve(ctx context.Context, ids []domain.JobID) ([]domain.Job, error) {
	jobs := make([]domain.Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.repo.GetJob(ctx, id)
		if err != nil {
			if err == domain.ErrJobNotFound {
				continue
			}
			return nil, fmt.Errorf("resolve queued job %s: %w", id, err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

// GetLength is the total number of queued IDs across all tiers.
func (q *JobQueue) GetLength() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lengthLocked()
}

func (q *JobQueue) lengthLocked() int {
	n := 0
	for _, ids := range q.queues {
		n += len(ids)
	}
	return n
}

// Lengths returns the per-tier queue sizes.
func (q *JobQueue) Lengths() map[domain.JobPriority]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[domain.JobPriority]int, len(q.queues))
	for _, p := range domain.DispatchOrder() {
		out[p] = len(q.queues[p])
	}
	return out
}

// Contains reports whether a job ID is currently queued.
func (q *JobQueue) Contains(id domain.JobID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, ids := range q.queues {
		for _, queued := range ids {
			if queued == id {
				return true
			}
		}
	}
	return false
}

// RestoreQueueState clears all sub-queues and re-populates them from
// persisted PENDING jobs, oldest first within each tier. Runs once at
// startup before the processing loop begins.
func (q *JobQueue) RestoreQueueState(ctx context.Context) error {
	pending, err := q.repo.ListJobsByStatus(ctx, domain.JobStatusPending)
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	q.mu.Lock()
	q.queues = make(map[domain.JobPriority][]domain.JobID)
	for _, job := range pending {
		q.queues[job.Priority] = append(q.queues[job.Priority], job.ID)
	}
	length := q.lengthLocked()
	q.mu.Unlock()

	q.logger.Info("queue state restored", "pending_jobs", length)
	return nil
}

// SaveQueueState pushes a snapshot of the current queue contents to the
// configured sink. Purely an optimization hook: restore never reads it.
func (q *JobQueue) SaveQueueState(ctx context.Context) error {
	if q.snap == nil {
		return nil
	}

	q.mu.Lock()
	state := make(map[domain.JobPriority][]domain.JobID, len(q.queues))
	for p, ids := range q.queues {
		state[p] = append([]domain.JobID(nil), ids...)
	}
	q.mu.Unlock()

	if err := q.snap.SaveQueueState(ctx, state); err != nil {
		// Snapshot failures are logged, never propagated: the queue is
		// rebuilt from PENDING jobs on restart regardless.
		q.logger.Warn("queue snapshot failed", "error", err)
	}
	return nil
}
