package integration

import (
	"context"
	"time"
)

// DefaultDedupTTL is how long a webhook event ID is remembered.
const DefaultDedupTTL = 24 * time.Hour

// DedupStore remembers webhook event IDs so redeliveries are dropped.
type DedupStore interface {
	// MarkSeen records key for ttl. It returns true only for the first caller
	// to mark key within the window.
	MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Forget removes key so a later delivery is processed again.
	Forget(ctx context.Context, key string) error

	// Close releases resources.
	Close() error
}

// DedupKey scopes an event ID to its marketplace.
func DedupKey(marketplace MarketplaceCode, eventID string) string {
	return string(marketplace) + ":" + eventID
}
