package services

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/mbellgren/dispatchd/internal/core/domain"
)

// SimulatedRunner models a unit of work as a series of timed progress steps.
// Worker power shapes the run: more powerful workers take fewer, shorter
// steps. Each non-final step can draw a random failure, with weaker workers
// failing more often. The constants are product tuning, not contracts.
// One runner serves every concurrent execution; the RNG is mutex-guarded.
type SimulatedRunner struct {
	mu    sync.Mutex
	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error

	// FailureDisabled turns off random failure injection; production
	// deployments replace this runner entirely with a real WorkRunner.
	FailureDisabled bool
}

func NewSimulatedRunner(seed int64) *SimulatedRunner {
	return &SimulatedRunner{
		rng:   rand.New(rand.NewSource(seed)),
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *SimulatedRunner) Run(ctx context.Context, job *domain.Job, worker *domain.WorkerNode, report func(progress int) error) error {
	power := domain.ClampPower(worker.Power)
	steps := stepCount(power)
	increment := 100 / steps

	progress := 0
	for step := 1; step <= steps; step++ {
		delay := s.jitter(stepDelay(power, job.Priority))
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}

		progress += increment
		if step == steps {
			progress = 100
		}
		if err := report(progress); err != nil {
			return fmt.Errorf("report progress: %w", err)
		}

		if !s.FailureDisabled && progress < 90 {
			if s.randFloat()*100 < failureChance(power) {
				return fmt.Errorf("simulated fault at %d%% progress", progress)
			}
		}
	}
	return nil
}

// stepCount: max(5, 25 - 2*power). Power 10 runs in 5 steps, power 1 in 23.
func stepCount(power int) int {
	steps := 25 - 2*power
	if steps < 5 {
		steps = 5
	}
	return steps
}

// stepDelay derives the per-step delay from worker power and priority: a
// 5500ms baseline minus 500ms per power point, scaled by the tier's speed
// factor.
func stepDelay(power int, priority domain.JobPriority) time.Duration {
	base := time.Duration(5500-500*power) * time.Millisecond
	return time.Duration(float64(base) * priority.SpeedFactor())
}

// jitter spreads a delay by +/-20%.
func (s *SimulatedRunner) jitter(d time.Duration) time.Duration {
	factor := 0.8 + s.randFloat()*0.4
	return time.Duration(float64(d) * factor)
}

// randFloat serializes draws from the shared RNG; *rand.Rand is not
// goroutine-safe.
func (s *SimulatedRunner) randFloat() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// failureChance is the per-step failure probability in percent:
// max(0, 5 - power/2).
func failureChance(power int) float64 {
	chance := 5.0 - float64(power)/2.0
	if chance < 0 {
		return 0
	}
	return chance
}
