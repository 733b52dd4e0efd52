package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/mbellgren/dispatchd/internal/adapters/duckdb"
	"github.com/mbellgren/dispatchd/internal/adapters/memstore"
	"github.com/mbellgren/dispatchd/internal/adapters/redisq"
	"github.com/mbellgren/dispatchd/internal/config"
	"github.com/mbellgren/dispatchd/internal/core/ports"
	"github.com/mbellgren/dispatchd/internal/core/services"
	"github.com/mbellgren/dispatchd/pkg/api"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting dispatchd")

	if err := run(logger); err != nil {
		logger.Error("dispatchd startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	cfg := config.Load()

	var repo ports.Repository
	if cfg.InMemory {
		logger.Warn("using in-memory store, state will not survive a restart")
		repo = memstore.New()
	} else {
		dbRepo, err := duckdb.NewRepository(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to init repository: %w", err)
		}
		defer dbRepo.Close()
		repo = dbRepo
	}

	var snap ports.Snapshotter
	if cfg.RedisAddr != "" {
		rs := redisq.New(cfg.RedisAddr)
		defer rs.Close()
		snap = rs
		logger.Info("queue snapshots enabled", "redis_addr", cfg.RedisAddr)
	}

	bus := services.NewEventBus(logger)
	registry := services.NewWorkerRegistry(logger, repo, bus)
	queue := services.NewJobQueue(logger, repo, snap)
	assigner := services.NewAssigner(logger, repo, registry, queue)

	seed := cfg.SimulatorSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	runner := services.NewSimulatedRunner(seed)
	executor := services.NewExecutor(logger, repo, registry, bus, runner)

	processor := services.NewProcessor(logger, queue, registry, assigner, executor, services.ProcessorConfig{
		TickInterval:      cfg.TickInterval,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
	})
	sweeper := services.NewSweeper(logger, registry, assigner, cfg.SweepInterval)
	jobs := services.NewJobService(logger, repo, registry, queue, assigner, processor, bus)

	apiServer := api.NewServer(logger, jobs, registry, queue, bus)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", c.Handler(apiServer.Handler()))

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return processor.Run(gCtx)
	})

	g.Go(func() error {
		return sweeper.Run(gCtx)
	})

	// Periodic queue snapshot, only worth a goroutine when a sink exists.
	if snap != nil {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.TickInterval * 2)
			defer ticker.Stop()
			for {
				select {
				case <-gCtx.Done():
					return nil
				case <-ticker.C:
					_ = queue.SaveQueueState(gCtx)
				}
			}
		})
	}

	g.Go(func() error {
		logger.Info("starting api server", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
