// Package memstore is an in-memory Repository. It backs the service test
// suite and the --in-memory run mode; data does not survive a restart.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/mbellgren/dispatchd/internal/core/domain"
	"github.com/mbellgren/dispatchd/internal/core/ports"
)

type Store struct {
	mu      sync.RWMutex
	jobs    map[domain.JobID]domain.Job
	workers map[domain.WorkerID]domain.WorkerNode
	logs    map[domain.JobID][]domain.JobLog
}

var _ ports.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		jobs:    make(map[domain.JobID]domain.Job),
		workers: make(map[domain.WorkerID]domain.WorkerNode),
		logs:    make(map[domain.JobID][]domain.JobLog),
	}
}

func (s *Store) SaveJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *Store) GetJob(_ context.Context, id domain.JobID) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	out := job
	return &out, nil
}

func (s *Store) ListJobs(_ context.Context) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sortJobs(jobs)
	return jobs, nil
}

func (s *Store) ListJobsByStatus(_ context.Context, statuses ...domain.JobStatus) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []domain.Job
	for _, job := range s.jobs {
		if matchStatus(job.Status, statuses) {
			jobs = append(jobs, job)
		}
	}
	sortJobs(jobs)
	return jobs, nil
}

func (s *Store) ListJobsByWorker(_ context.Context, workerID domain.WorkerID, statuses ...domain.JobStatus) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []domain.Job
	for _, job := range s.jobs {
		if job.WorkerNodeID != nil && *job.WorkerNodeID == workerID && matchStatus(job.Status, statuses) {
			jobs = append(jobs, job)
		}
	}
	sortJobs(jobs)
	return jobs, nil
}

func (s *Store) CountJobsByWorker(ctx context.Context, workerID domain.WorkerID, statuses ...domain.JobStatus) (int, error) {
	jobs, err := s.ListJobsByWorker(ctx, workerID, statuses...)
	if err != nil {
		return 0, err
	}
	return len(jobs), nil
}

func (s *Store) DeleteJob(_ context.Context, id domain.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return domain.ErrJobNotFound
	}
	delete(s.jobs, id)
	delete(s.logs, id)
	return nil
}

func (s *Store) SaveWorker(_ context.Context, worker *domain.WorkerNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[worker.ID] = *worker
	return nil
}

func (s *Store) GetWorker(_ context.Context, id domain.WorkerID) (*domain.WorkerNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	worker, ok := s.workers[id]
	if !ok {
		return nil, domain.ErrWorkerNotFound
	}
	out := worker
	return &out, nil
}

func (s *Store) GetWorkerByName(_ context.Context, name string) (*domain.WorkerNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, worker := range s.workers {
		if worker.Name == name {
			out := worker
			return &out, nil
		}
	}
	return nil, domain.ErrWorkerNotFound
}

func (s *Store) ListWorkers(_ context.Context) ([]domain.WorkerNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	workers := make([]domain.WorkerNode, 0, len(s.workers))
	for _, worker := range s.workers {
		workers = append(workers, worker)
	}
	sort.SliceStable(workers, func(i, j int) bool {
		return workers[i].CreatedAt.Before(workers[j].CreatedAt)
	})
	return workers, nil
}

func (s *Store) DeleteWorker(_ context.Context, id domain.WorkerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workers[id]; !ok {
		return domain.ErrWorkerNotFound
	}
	delete(s.workers, id)
	return nil
}

func (s *Store) AppendJobLog(_ context.Context, entry domain.JobLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[entry.JobID] = append(s.logs[entry.JobID], entry)
	return nil
}

func (s *Store) ListJobLogs(_ context.Context, jobID domain.JobID) ([]domain.JobLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.JobLog(nil), s.logs[jobID]...), nil
}

func matchStatus(status domain.JobStatus, statuses []domain.JobStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func sortJobs(jobs []domain.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}
