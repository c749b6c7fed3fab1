package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/redis/go-redis/v9"
)

const defaultDedupKeyPrefix = "webhook:seen:"

// RedisDedupStore implements integration.DedupStore using Redis, so all
// engine instances behind a load balancer share one dedup window.
type RedisDedupStore struct {
	client    *redis.Client
	keyPrefix string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisDedupStore connects to Redis and verifies the connection
func NewRedisDedupStore(ctx context.Context, cfg RedisConfig) (*RedisDedupStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisDedupStoreWithClient(client, ""), nil
}

// NewRedisDedupStoreWithClient creates a store with an existing Redis client
func NewRedisDedupStoreWithClient(client *redis.Client, keyPrefix string) *RedisDedupStore {
	if keyPrefix == "" {
		keyPrefix = defaultDedupKeyPrefix
	}
	return &RedisDedupStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// MarkSeen uses SET NX with expiry, a single atomic command
func (s *RedisDedupStore) MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.keyPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark webhook event as seen: %w", err)
	}
	return ok, nil
}

// Forget deletes the key
func (s *RedisDedupStore) Forget(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to forget webhook event: %w", err)
	}
	return nil
}

// Ping checks Redis connectivity
func (s *RedisDedupStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisDedupStore) Close() error {
	return s.client.Close()
}

// Ensure RedisDedupStore implements DedupStore
var _ integration.DedupStore = (*RedisDedupStore)(nil)
