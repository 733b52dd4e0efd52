package domain

import (
	"errors"
	"time"
)

type WorkerID string

type WorkerStatus string

const (
	WorkerStatusActive  WorkerStatus = "ACTIVE"
	WorkerStatusIdle    WorkerStatus = "IDLE"
	WorkerStatusOffline WorkerStatus = "OFFLINE"
)

const (
	MinWorkerPower = 1
	MaxWorkerPower = 10

	// HeartbeatTimeout is how stale a heartbeat may be before the worker
	// stops counting as available.
	HeartbeatTimeout = time.Minute
)

// WorkerNode is a registered execution target with a capacity budget and a
// 1-10 power rating.
type WorkerNode struct {
	ID            WorkerID     `json:"id"`
	Name          string       `json:"name"` // unique; registration is idempotent by name
	Endpoint      string       `json:"endpoint"`
	Status        WorkerStatus `json:"status"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	Capacity      int          `json:"capacity"`
	CurrentLoad   int          `json:"current_load"`
	Power         int          `json:"power"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

var (
	ErrWorkerNotFound     = errors.New("worker not found")
	ErrWorkerNotAvailable = errors.New("worker not available")
	ErrWorkerBusy         = errors.New("worker has running jobs")
	ErrNoWorkers          = errors.New("no worker nodes exist")
)

// ClampPower bounds a power rating to [MinWorkerPower, MaxWorkerPower].
func ClampPower(power int) int {
	if power < MinWorkerPower {
		return MinWorkerPower
	}
	if power > MaxWorkerPower {
		return MaxWorkerPower
	}
	return power
}

// LoadRatio is CurrentLoad/Capacity in [0,1]. A zero-capacity worker counts
// as fully loaded.
func (w *WorkerNode) LoadRatio() float64 {
	if w.Capacity <= 0 {
		return 1.0
	}
	return float64(w.CurrentLoad) / float64(w.Capacity)
}

// HeartbeatExpired reports whether the last heartbeat is older than the
// timeout. Both timestamps are normalized to UTC before subtracting.
func (w *WorkerNode) HeartbeatExpired(now time.Time) bool {
	return now.UTC().Sub(w.LastHeartbeat.UTC()) >= HeartbeatTimeout
}

// IsAvailable reports whether the worker can accept another job: active,
// spare capacity, and a fresh heartbeat.
func (w *WorkerNode) IsAvailable(now time.Time) bool {
	return w.Status == WorkerStatusActive &&
		w.CurrentLoad < w.Capacity &&
		!w.HeartbeatExpired(now)
}
