package integration

import (
	"context"
	"errors"
	"time"
)

var ErrLocalProductNotFound = errors.New("integration: local product not found")

// LocalCatalog is the host application's catalog, the source of truth for
// product data, stock and price.
type LocalCatalog interface {
	// ListChangedSince returns products whose product, stock or price data
	// changed after since. A zero since lists everything.
	ListChangedSince(ctx context.Context, since time.Time) ([]Product, error)

	// Get returns one product or ErrLocalProductNotFound.
	Get(ctx context.Context, localProductID string) (*Product, error)
}

// LocalOrderWriter creates and updates orders in the host application.
type LocalOrderWriter interface {
	// CreateOrder creates the local order and returns its ID.
	CreateOrder(ctx context.Context, order *RemoteOrder) (string, error)

	// UpdateOrderStatus applies a remote status to the local order.
	UpdateOrderStatus(ctx context.Context, localOrderID string, status string) error
}

// ---------------------------------------------------------------------------
// Alerts
// ---------------------------------------------------------------------------

// AlertSeverity ranks operator alerts.
type AlertSeverity string

const (
	AlertWarning  AlertSeverity = "warning"
	AlertCritical AlertSeverity = "critical"
)

// Alert is an operator-visible escalation.
type Alert struct {
	Severity    AlertSeverity   `json:"severity"`
	Kind        ErrorKind       `json:"kind"`
	Marketplace MarketplaceCode `json:"marketplace"`
	EntityType  EntityType      `json:"entity_type,omitempty"`
	EntityID    string          `json:"entity_id,omitempty"`
	Message     string          `json:"message"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// AlertPublisher escalates failures that need an operator.
type AlertPublisher interface {
	Publish(ctx context.Context, alert Alert) error
}
