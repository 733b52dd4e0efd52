package duckdb

import (
	"context"

	"github.com/mbellgren/dispatchd/internal/core/domain"
)

func (r *Repository) AppendJobLog(ctx context.Context, entry domain.JobLog) error {
	query := `INSERT INTO job_logs (id, job_id, level, message, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		entry.ID, string(entry.JobID), string(entry.Level), entry.Message, entry.CreatedAt)
	return err
}

func (r *Repository) ListJobLogs(ctx context.Context, jobID domain.JobID) ([]domain.JobLog, error) {
	query := `SELECT id, job_id, level, message, created_at FROM job_logs WHERE job_id = ? ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, string(jobID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.JobLog
	for rows.Next() {
		var (
			e        domain.JobLog
			jobIDStr string
			levelStr string
		)
		if err := rows.Scan(&e.ID, &jobIDStr, &levelStr, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.JobID = domain.JobID(jobIDStr)
		e.Level = domain.JobLogLevel(levelStr)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
