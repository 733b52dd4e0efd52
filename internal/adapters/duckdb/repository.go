// Package duckdb persists jobs, workers and execution logs in an embedded
// DuckDB database.
package duckdb

import (
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/mbellgren/dispatchd/internal/core/ports"
)

type Repository struct {
	db *sql.DB
}

var _ ports.Repository = (*Repository)(nil)

// NewRepository opens (or creates) the database at path and bootstraps the
// schema. An empty path opens an in-memory database.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return repo, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS worker_nodes (
			id             VARCHAR PRIMARY KEY,
			name           VARCHAR NOT NULL UNIQUE,
			endpoint       VARCHAR NOT NULL,
			status         VARCHAR NOT NULL,
			last_heartbeat TIMESTAMP NOT NULL,
			capacity       INTEGER NOT NULL,
			current_load   INTEGER NOT NULL,
			power          INTEGER NOT NULL,
			created_at     TIMESTAMP NOT NULL,
			updated_at     TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id                   VARCHAR PRIMARY KEY,
			name                 VARCHAR NOT NULL,
			description          VARCHAR,
			status               VARCHAR NOT NULL,
			priority             INTEGER NOT NULL,
			progress             INTEGER NOT NULL,
			error_message        VARCHAR,
			job_type             VARCHAR,
			scheduled_start_time TIMESTAMP,
			max_retry_attempts   INTEGER NOT NULL,
			current_retry_count  INTEGER NOT NULL,
			worker_node_id       VARCHAR,
			start_time           TIMESTAMP,
			end_time             TIMESTAMP,
			created_at           TIMESTAMP NOT NULL,
			updated_at           TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS job_logs (
			id         VARCHAR PRIMARY KEY,
			job_id     VARCHAR NOT NULL,
			level      VARCHAR NOT NULL,
			message    VARCHAR NOT NULL,
			created_at TIMESTAMP NOT NULL
		);`,
	}

	for _, stmt := range schema {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
