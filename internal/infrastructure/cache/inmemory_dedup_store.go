package cache

import (
	"context"
	"time"

	"github.com/meschain/syncengine/internal/domain/integration"
	gocache "github.com/patrickmn/go-cache"
)

// InMemoryDedupStore implements integration.DedupStore on go-cache.
// It is suitable for single-instance deployments and testing.
type InMemoryDedupStore struct {
	items *gocache.Cache
}

// NewInMemoryDedupStore creates a store whose janitor sweeps expired keys every cleanupInterval
func NewInMemoryDedupStore(cleanupInterval time.Duration) *InMemoryDedupStore {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	return &InMemoryDedupStore{
		items: gocache.New(integration.DefaultDedupTTL, cleanupInterval),
	}
}

// MarkSeen adds key unless an unexpired entry exists. go-cache's Add holds
// the cache lock across the check and the write.
func (s *InMemoryDedupStore) MarkSeen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if err := s.items.Add(key, struct{}{}, ttl); err != nil {
		return false, nil
	}
	return true, nil
}

// Forget removes key
func (s *InMemoryDedupStore) Forget(_ context.Context, key string) error {
	s.items.Delete(key)
	return nil
}

// Size returns the number of keys, expired ones included until the next sweep
func (s *InMemoryDedupStore) Size() int {
	return s.items.ItemCount()
}

// Close drops all keys. The janitor goroutine stops when the store is collected.
func (s *InMemoryDedupStore) Close() error {
	s.items.Flush()
	return nil
}

// Ensure InMemoryDedupStore implements DedupStore
var _ integration.DedupStore = (*InMemoryDedupStore)(nil)
