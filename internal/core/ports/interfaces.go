package ports

import (
	"context"

	"github.com/mbellgren/dispatchd/internal/core/domain"
)

// Repository abstracts persistent storage for jobs, workers and job logs.
// Lookups that miss return the domain's not-found sentinels rather than
// driver errors.
type Repository interface {
	// Jobs
	SaveJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id domain.JobID) (*domain.Job, error)
	ListJobs(ctx context.Context) ([]domain.Job, error)
	ListJobsByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]domain.Job, error)
	ListJobsByWorker(ctx context.Context, workerID domain.WorkerID, statuses ...domain.JobStatus) ([]domain.Job, error)
	CountJobsByWorker(ctx context.Context, workerID domain.WorkerID, statuses ...domain.JobStatus) (int, error)
	DeleteJob(ctx context.Context, id domain.JobID) error

	// Workers
	SaveWorker(ctx context.Context, worker *domain.WorkerNode) error
	GetWorker(ctx context.Context, id domain.WorkerID) (*domain.WorkerNode, error)
	GetWorkerByName(ctx context.Context, name string) (*domain.WorkerNode, error)
	ListWorkers(ctx context.Context) ([]domain.WorkerNode, error)
	DeleteWorker(ctx context.Context, id domain.WorkerID) error

	// Job execution logs
	AppendJobLog(ctx context.Context, entry domain.JobLog) error
	ListJobLogs(ctx context.Context, jobID domain.JobID) ([]domain.JobLog, error)
}

// Snapshotter is the optional queue-state snapshot sink. Correctness never
// depends on it: queue contents are always rebuilt from PENDING jobs.
type Snapshotter interface {
	SaveQueueState(ctx context.Context, state map[domain.JobPriority][]domain.JobID) error
}
