package duckdb

import (
	"context"
	"database/sql"

	"github.com/mbellgren/dispatchd/internal/core/domain"
)

const workerColumns = `id, name, endpoint, status, last_heartbeat, capacity, current_load, power, created_at, updated_at`

func (r *Repository) SaveWorker(ctx context.Context, worker *domain.WorkerNode) error {
	// name stays out of the update set: DuckDB rejects assigning to a
	// UNIQUE column in ON CONFLICT DO UPDATE, and workers are never renamed.
	query := `
	INSERT INTO worker_nodes (` + workerColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		endpoint = excluded.endpoint,
		status = excluded.status,
		last_heartbeat = excluded.last_heartbeat,
		capacity = excluded.capacity,
		current_load = excluded.current_load,
		power = excluded.power,
		updated_at = excluded.updated_at;
	`

	_, err := r.db.ExecContext(ctx, query,
		string(worker.ID), worker.Name, worker.Endpoint, string(worker.Status),
		worker.LastHeartbeat, worker.Capacity, worker.CurrentLoad, worker.Power,
		worker.CreatedAt, worker.UpdatedAt,
	)
	return err
}

func (r *Repository) GetWorker(ctx context.Context, id domain.WorkerID) (*domain.WorkerNode, error) {
	query := `SELECT ` + workerColumns + ` FROM worker_nodes WHERE id = ?`
	return r.getWorker(ctx, query, string(id))
}

func (r *Repository) GetWorkerByName(ctx context.Context, name string) (*domain.WorkerNode, error) {
	query := `SELECT ` + workerColumns + ` FROM worker_nodes WHERE name = ?`
	return r.getWorker(ctx, query, name)
}

func (r *Repository) getWorker(ctx context.Context, query string, arg any) (*domain.WorkerNode, error) {
	row := r.db.QueryRowContext(ctx, query, arg)
	worker, err := scanWorker(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrWorkerNotFound
		}
		return nil, err
	}
	return worker, nil
}

func (r *Repository) ListWorkers(ctx context.Context) ([]domain.WorkerNode, error) {
	query := `SELECT ` + workerColumns + ` FROM worker_nodes ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workers []domain.WorkerNode
	for rows.Next() {
		worker, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, *worker)
	}
	return workers, rows.Err()
}

func (r *Repository) DeleteWorker(ctx context.Context, id domain.WorkerID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM worker_nodes WHERE id = ?`, string(id))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrWorkerNotFound
	}
	return nil
}

func scanWorker(row rowScanner) (*domain.WorkerNode, error) {
	var (
		w         domain.WorkerNode
		idStr     string
		statusStr string
	)

	err := row.Scan(
		&idStr, &w.Name, &w.Endpoint, &statusStr, &w.LastHeartbeat,
		&w.Capacity, &w.CurrentLoad, &w.Power, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	w.ID = domain.WorkerID(idStr)
	w.Status = domain.WorkerStatus(statusStr)
	return &w, nil
}
