package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/schoolerp/backend/internal/domain/shared"
	"github.com/schoolerp/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// NewIdempotencyStore returns a RedisStore when Redis is enabled and a
// MemoryStore otherwise. An enabled but unreachable Redis is an error unless
// allowFallback is set, in which case the process continues with local state.
func NewIdempotencyStore(ctx context.Context, cfg config.RedisConfig, allowFallback bool, logger *zap.Logger) (shared.IdempotencyStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Info("Redis disabled, webhook dedup keys are process-local")
		return NewMemoryStore(), nil
	}

	store, err := NewRedisStore(ctx, &redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}, DefaultKeyPrefix)
	if err == nil {
		logger.Info("Using Redis for webhook dedup", zap.String("addr", cfg.Addr()))
		return store, nil
	}
	if !allowFallback {
		return nil, fmt.Errorf("redis idempotency store unavailable: %w", err)
	}
	logger.Warn("Redis unreachable, falling back to process-local webhook dedup", zap.Error(err))
	return NewMemoryStore(), nil
}
