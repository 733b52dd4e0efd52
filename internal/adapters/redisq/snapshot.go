// Package redisq mirrors the in-memory queue state into Redis as an
// observability/snapshot aid. The scheduler never reads it back: queue
// contents are rebuilt from PENDING jobs on every restart.
package redisq

import (
	"context"
	"fmt"

	"github.com/mbellgren/dispatchd/internal/core/domain"
	"github.com/mbellgren/dispatchd/internal/core/ports"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dispatchd:queue:"

type Snapshotter struct {
	rdb *redis.Client
}

var _ ports.Snapshotter = (*Snapshotter)(nil)

func New(addr string) *Snapshotter {
	return &Snapshotter{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// SaveQueueState replaces each per-priority list with the current queued
// job IDs, head first.
func (s *Snapshotter) SaveQueueState(ctx context.Context, state map[domain.JobPriority][]domain.JobID) error {
	pipe := s.rdb.TxPipeline()

	for _, p := range domain.DispatchOrder() {
		key := keyPrefix + p.String()
		pipe.Del(ctx, key)

		ids := state[p]
		if len(ids) == 0 {
			continue
		}
		members := make([]interface{}, len(ids))
		for i, id := range ids {
			members[i] = string(id)
		}
		pipe.RPush(ctx, key, members...)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write queue snapshot: %w", err)
	}
	return nil
}

func (s *Snapshotter) Close() error {
	return s.rdb.Close()
}
