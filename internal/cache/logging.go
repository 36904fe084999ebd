package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"storybook-service/internal/metrics"
	"storybook-service/pkg/logging"
)

// LoggingStore wraps a Store with structured logging and metrics. Backends
// stay silent; every observable event comes out of this decorator, so the
// same wiring works for disk, memory and Redis.
type LoggingStore struct {
	inner Store
}

// NewLoggingStore returns a store that logs and records metrics.
func NewLoggingStore(inner Store) Store {
	return &LoggingStore{inner: inner}
}

func (s *LoggingStore) Get(ctx context.Context, key string) (Result, error) {
	start := time.Now()
	res, err := s.inner.Get(ctx, key)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	logger := logging.L(ctx)

	result := "miss"
	if res.Hit {
		result = "hit"
		metrics.CacheHitsTotal.Inc()
	} else {
		metrics.CacheMissesTotal.WithLabelValues(string(res.Reason)).Inc()
	}

	fields := []zap.Field{
		zap.String("cache_key", key),
		zap.String("cache_result", result),
		zap.Float64("latency_ms", latencyMs),
	}
	if !res.Hit {
		fields = append(fields, zap.String("miss_reason", string(res.Reason)))
	}

	if err != nil {
		// Fail open: the error is log material, not caller material.
		logger.Warn("cache_get", append(fields, zap.Error(err))...)
	} else {
		logger.Info("cache_get", fields...)
	}

	return res, err
}

func (s *LoggingStore) Set(ctx context.Context, key string, payload any) error {
	start := time.Now()
	err := s.inner.Set(ctx, key, payload)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	logger := logging.L(ctx)

	fields := []zap.Field{
		zap.String("cache_key", key),
		zap.Float64("latency_ms", latencyMs),
	}

	if err != nil {
		logger.Warn("cache_set", append(fields, zap.Error(err))...)
	} else {
		logger.Info("cache_set", fields...)
	}

	return err
}

func (s *LoggingStore) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	removed, err := s.inner.Sweep(ctx)

	logger := logging.L(ctx)
	fields := []zap.Field{
		zap.Int("removed", removed),
		zap.Duration("duration", time.Since(start)),
	}

	if err != nil {
		logger.Warn("cache_sweep", append(fields, zap.Error(err))...)
	} else {
		logger.Info("cache_sweep", fields...)
	}

	metrics.CacheSweepRemovedTotal.Add(float64(removed))

	return removed, err
}
