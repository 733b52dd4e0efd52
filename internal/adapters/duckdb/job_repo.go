package duckdb

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/mbellgren/dispatchd/internal/core/domain"
)

const jobColumns = `id, name, description, status, priority, progress, error_message, job_type,
	scheduled_start_time, max_retry_attempts, current_retry_count, worker_node_id,
	start_time, end_time, created_at, updated_at`

func (r *Repository) SaveJob(ctx context.Context, job *domain.Job) error {
	query := `
	INSERT INTO jobs (` + jobColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		name = excluded.name,
		description = excluded.description,
		status = excluded.status,
		priority = excluded.priority,
		progress = excluded.progress,
		error_message = excluded.error_message,
		job_type = excluded.job_type,
		scheduled_start_time = excluded.scheduled_start_time,
		max_retry_attempts = excluded.max_retry_attempts,
		current_retry_count = excluded.current_retry_count,
		worker_node_id = excluded.worker_node_id,
		start_time = excluded.start_time,
		end_time = excluded.end_time,
		updated_at = excluded.updated_at;
	`

	var workerID *string
	if job.WorkerNodeID != nil {
		s := string(*job.WorkerNodeID)
		workerID = &s
	}

	_, err := r.db.ExecContext(ctx, query,
		string(job.ID), job.Name, job.Description, string(job.Status), int(job.Priority),
		job.Progress, job.ErrorMessage, job.JobType, job.ScheduledStartTime,
		job.MaxRetryAttempts, job.CurrentRetryCount, workerID,
		job.StartTime, job.EndTime, job.CreatedAt, job.UpdatedAt,
	)
	return err
}

func (r *Repository) GetJob(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, string(id))

	job, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

func (r *Repository) ListJobs(ctx context.Context) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at ASC`
	return r.queryJobs(ctx, query)
}

func (r *Repository) ListJobsByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]domain.Job, error) {
	if len(statuses) == 0 {
		return r.ListJobs(ctx)
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status IN (` +
		placeholders(len(statuses)) + `) ORDER BY created_at ASC`
	return r.queryJobs(ctx, query, statusArgs(statuses)...)
}

func (r *Repository) ListJobsByWorker(ctx context.Context, workerID domain.WorkerID, statuses ...domain.JobStatus) ([]domain.Job, error) {
	args := []any{string(workerID)}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE worker_node_id = ?`
	if len(statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(statuses)) + `)`
		args = append(args, statusArgs(statuses)...)
	}
	query += ` ORDER BY created_at ASC`
	return r.queryJobs(ctx, query, args...)
}

func (r *Repository) CountJobsByWorker(ctx context.Context, workerID domain.WorkerID, statuses ...domain.JobStatus) (int, error) {
	args := []any{string(workerID)}
	query := `SELECT COUNT(*) FROM jobs WHERE worker_node_id = ?`
	if len(statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(statuses)) + `)`
		args = append(args, statusArgs(statuses)...)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *Repository) DeleteJob(ctx context.Context, id domain.JobID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, string(id))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrJobNotFound
	}
	_, err = r.db.ExecContext(ctx, `DELETE FROM job_logs WHERE job_id = ?`, string(id))
	return err
}

func (r *Repository) queryJobs(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		j              domain.Job
		idStr          string
		statusStr      string
		priorityInt    int
		description    sql.NullString
		errorMessage   sql.NullString
		jobType        sql.NullString
		workerID       sql.NullString
		scheduledStart sql.NullTime
		startTime      sql.NullTime
		endTime        sql.NullTime
	)

	err := row.Scan(
		&idStr, &j.Name, &description, &statusStr, &priorityInt, &j.Progress,
		&errorMessage, &jobType, &scheduledStart, &j.MaxRetryAttempts,
		&j.CurrentRetryCount, &workerID, &startTime, &endTime,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.ID = domain.JobID(idStr)
	j.Status = domain.JobStatus(statusStr)
	j.Priority = domain.JobPriority(priorityInt)
	j.Description = description.String
	j.JobType = jobType.String
	if errorMessage.Valid {
		j.ErrorMessage = &errorMessage.String
	}
	if workerID.Valid {
		wid := domain.WorkerID(workerID.String)
		j.WorkerNodeID = &wid
	}
	j.ScheduledStartTime = nullableTime(scheduledStart)
	j.StartTime = nullableTime(startTime)
	j.EndTime = nullableTime(endTime)
	return &j, nil
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func statusArgs(statuses []domain.JobStatus) []any {
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	return args
}
