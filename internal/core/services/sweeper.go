package services

import (
	"context"
	"log/slog"
	"time"
)

const DefaultSweepInterval = 30 * time.Second

// Sweeper runs the periodic consistency repairs: workers that silently
// stopped heartbeating are forced offline and their jobs reassigned, then
// every worker's load is recalculated against its actual job counts.
type Sweeper struct {
	logger   *slog.Logger
	registry *WorkerRegistry
	assigner *Assigner
	interval time.Duration
}

func NewSweeper(logger *slog.Logger, registry *WorkerRegistry, assigner *Assigner, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		logger:   logger,
		registry: registry,
		assigner: assigner,
		interval: interval,
	}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("consistency sweeper started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("consistency sweeper stopped")
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one repair pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	offlined, err := s.registry.CheckInactiveWorkers(ctx)
	if err != nil {
		s.logger.Error("inactive worker sweep failed", "error", err)
	}
	for _, workerID := range offlined {
		s.assigner.ReassignFromOfflineWorker(ctx, workerID)
	}

	if err := s.registry.RecalculateLoads(ctx); err != nil {
		s.logger.Error("load recalculation sweep failed", "error", err)
	}
}
