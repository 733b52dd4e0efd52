package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mbellgren/dispatchd/internal/core/domain"
	"github.com/mbellgren/dispatchd/internal/metrics"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultTickInterval      = 5 * time.Second
	DefaultMaxConcurrentJobs = 10
)

// Processor is the queue processing loop: a recurring dispatch cycle that
// pulls one job per tick, defers future-scheduled jobs, assigns through the
// Assigner and launches execution asynchronously. A tick never fails the
// loop; every error is logged and the job returned to the queue.
type Processor struct {
	logger   *slog.Logger
	queue    *JobQueue
	registry *WorkerRegistry
	assigner *Assigner
	executor *Executor

	interval time.Duration
	sem      *semaphore.Weighted

	mu      sync.Mutex
	running map[domain.JobID]context.CancelFunc
}

// ProcessorConfig bounds the loop's dispatch rate and concurrency.
type ProcessorConfig struct {
	TickInterval      time.Duration
	MaxConcurrentJobs int64
}

func NewProcessor(logger *slog.Logger, queue *JobQueue, registry *WorkerRegistry, assigner *Assigner, executor *Executor, cfg ProcessorConfig) *Processor {
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	limit := cfg.MaxConcurrentJobs
	if limit <= 0 {
		limit = DefaultMaxConcurrentJobs
	}

	return &Processor{
		logger:   logger,
		queue:    queue,
		registry: registry,
		assigner: assigner,
		executor: executor,
		interval: interval,
		sem:      semaphore.NewWeighted(limit),
		running:  make(map[domain.JobID]context.CancelFunc),
	}
}

// Run drives the dispatch loop until ctx is cancelled. The queue is
// restored from persisted PENDING jobs before the first tick; on shutdown
// every in-flight execution is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.queue.RestoreQueueState(ctx); err != nil {
		return err
	}

	p.logger.Info("queue processor started", "tick_interval", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("queue processor stopping")
			p.cancelAll()
			return nil
		case <-ticker.C:
			p.processTick(ctx)
			p.updateQueueMetrics()
		}
	}
}

// processTick handles at most one job: availability pre-check, dequeue,
// deferral, assignment, launch. Any failure re-enqueues the job for a later
// tick.
func (p *Processor) processTick(ctx context.Context) {
	available, err := p.registry.GetAvailable(ctx)
	if err != nil {
		p.logger.Error("tick failed checking worker availability", "error", err)
		return
	}
	metrics.WorkersAvailable.Set(float64(len(available)))
	if len(available) == 0 {
		// Leave the queue untouched rather than churning dequeues.
		return
	}

	job, err := p.queue.Dequeue(ctx)
	if err != nil {
		p.logger.Error("tick failed dequeuing", "error", err)
		return
	}
	if job == nil {
		return
	}

	// Stopped or otherwise no-longer-pending jobs fall out of the queue here.
	if job.Status != domain.JobStatusPending {
		p.logger.Info("dropping dequeued job, no longer pending", "job_id", job.ID, "status", job.Status)
		return
	}

	now := time.Now().UTC()
	if job.IsDeferred(now) {
		p.logger.Debug("deferring scheduled job", "job_id", job.ID, "scheduled_start", job.ScheduledStartTime)
		p.requeue(ctx, job)
		return
	}

	// Availability may have changed since the pre-check; verify per job to
	// avoid over-assignment.
	available, err = p.registry.GetAvailable(ctx)
	if err != nil || len(available) == 0 {
		p.requeue(ctx, job)
		return
	}

	if !p.assigner.TryAssign(ctx, job.ID) {
		p.requeue(ctx, job)
		return
	}

	if !p.launch(ctx, job.ID) {
		p.requeue(ctx, job)
	}
}

// launch starts the job's execution in its own goroutine, tracked by a
// cancellation handle so explicit stops and shutdown reach it.
func (p *Processor) launch(ctx context.Context, jobID domain.JobID) bool {
	if !p.sem.TryAcquire(1) {
		p.logger.Warn("execution slots exhausted, requeueing", "job_id", jobID)
		return false
	}

	jobCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.running[jobID] = cancel
	p.mu.Unlock()

	go func() {
		defer p.sem.Release(1)
		defer func() {
			p.mu.Lock()
			delete(p.running, jobID)
			p.mu.Unlock()
			cancel()
		}()

		p.executor.Execute(jobCtx, jobID)
	}()
	return true
}

func (p *Processor) requeue(ctx context.Context, job *domain.Job) {
	metrics.JobsRequeuedTotal.Inc()
	if err := p.queue.Enqueue(ctx, job); err != nil {
		p.logger.Error("failed to requeue job", "job_id", job.ID, "error", err)
	}
}

// StopJob cancels a tracked in-flight execution. Returns false when the job
// is not currently executing.
func (p *Processor) StopJob(jobID domain.JobID) bool {
	p.mu.Lock()
	cancel, ok := p.running[jobID]
	p.mu.Unlock()

	if !ok {
		return false
	}
	cancel()
	return true
}

// RunningCount is the number of executions currently tracked.
func (p *Processor) RunningCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.running)
}

func (p *Processor) cancelAll() {
	p.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(p.running))
	for _, cancel := range p.running {
		cancels = append(cancels, cancel)
	}
	p.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (p *Processor) updateQueueMetrics() {
	for p2, n := range p.queue.Lengths() {
		metrics.QueueLength.WithLabelValues(p2.String()).Set(float64(n))
	}
}
