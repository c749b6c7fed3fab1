package cache

import (
	"context"
	"fmt"

	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/meschain/syncengine/internal/infrastructure/config"
	"go.uber.org/zap"
)

// DedupStoreFactory creates webhook dedup stores based on configuration
type DedupStoreFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// DedupStoreFactoryOption is a functional option for configuring the factory
type DedupStoreFactoryOption func(*DedupStoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) DedupStoreFactoryOption {
	return func(f *DedupStoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to in-memory store when Redis is unavailable.
// Default is true.
func WithInMemoryFallback(allow bool) DedupStoreFactoryOption {
	return func(f *DedupStoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewDedupStoreFactory creates a new factory
func NewDedupStoreFactory(cfg config.RedisConfig, opts ...DedupStoreFactoryOption) *DedupStoreFactory {
	f := &DedupStoreFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateStore returns a Redis store when Redis is configured and reachable,
// otherwise an in-memory store if fallback is allowed.
func (f *DedupStoreFactory) CreateStore(ctx context.Context) (integration.DedupStore, error) {
	if f.redisConfig.Host == "" {
		f.logger.Info("Redis not configured, using in-memory webhook dedup store")
		return NewInMemoryDedupStore(0), nil
	}

	store, err := NewRedisDedupStore(ctx, RedisConfig{
		Addr:     f.redisConfig.Addr(),
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	if err == nil {
		f.logger.Info("Using Redis webhook dedup store", zap.String("addr", f.redisConfig.Addr()))
		return store, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for webhook dedup but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory webhook dedup store. "+
		"Redeliveries hitting different instances will not be deduplicated.",
		zap.Error(err),
	)
	return NewInMemoryDedupStore(0), nil
}
