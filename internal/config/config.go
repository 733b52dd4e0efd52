// Package config reads runtime configuration from DISPATCHD_* environment
// variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr        string        // DISPATCHD_LISTEN_ADDR
	DBPath            string        // DISPATCHD_DB_PATH
	InMemory          bool          // DISPATCHD_IN_MEMORY
	RedisAddr         string        // DISPATCHD_REDIS_ADDR (empty disables queue snapshots)
	TickInterval      time.Duration // DISPATCHD_TICK_INTERVAL
	SweepInterval     time.Duration // DISPATCHD_SWEEP_INTERVAL
	MaxConcurrentJobs int64         // DISPATCHD_MAX_CONCURRENT_JOBS
	SimulatorSeed     int64         // DISPATCHD_SIM_SEED (0 = time-based)
	AllowedOrigins    []string      // DISPATCHD_ALLOWED_ORIGINS (comma-separated)
}

func Load() Config {
	return Config{
		ListenAddr:        envString("DISPATCHD_LISTEN_ADDR", ":8080"),
		DBPath:            envString("DISPATCHD_DB_PATH", "dispatchd.db"),
		InMemory:          envBool("DISPATCHD_IN_MEMORY", false),
		RedisAddr:         envString("DISPATCHD_REDIS_ADDR", ""),
		TickInterval:      envDuration("DISPATCHD_TICK_INTERVAL", 5*time.Second),
		SweepInterval:     envDuration("DISPATCHD_SWEEP_INTERVAL", 30*time.Second),
		MaxConcurrentJobs: envInt64("DISPATCHD_MAX_CONCURRENT_JOBS", 10),
		SimulatorSeed:     envInt64("DISPATCHD_SIM_SEED", 0),
		AllowedOrigins:    strings.Split(envString("DISPATCHD_ALLOWED_ORIGINS", "*"), ","),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
