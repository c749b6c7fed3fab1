package integration

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrOrderMappingInvalid  = errors.New("integration: invalid order mapping")
	ErrOrderMappingNotFound = errors.New("integration: order mapping not found")
)

// ---------------------------------------------------------------------------
// OrderMapping Entity
// ---------------------------------------------------------------------------

// OrderMapping binds a remote order to the local order created for it.
// (Marketplace, RemoteOrderID) is the natural idempotency key of ingestion.
type OrderMapping struct {
	ID              uuid.UUID
	Marketplace     MarketplaceCode
	RemoteOrderID   string
	LocalOrderID    string
	RemoteStatus    string
	RemoteUpdatedAt time.Time
	Version         int
	LastSyncedAt    time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewOrderMapping creates a mapping for a newly observed remote order.
// LocalOrderID is bound later by SetLocalOrderID.
func NewOrderMapping(order *RemoteOrder, now time.Time) (*OrderMapping, error) {
	if order == nil || order.RemoteOrderID == "" {
		return nil, ErrOrderMappingInvalid
	}
	if _, err := ParseMarketplaceCode(string(order.Marketplace)); err != nil {
		return nil, err
	}
	return &OrderMapping{
		ID:              uuid.New(),
		Marketplace:     order.Marketplace,
		RemoteOrderID:   order.RemoteOrderID,
		RemoteStatus:    order.Status,
		RemoteUpdatedAt: order.RemoteUpdatedAt,
		Version:         1,
		LastSyncedAt:    now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// HasLocalOrder reports whether the local order has been created.
func (m *OrderMapping) HasLocalOrder() bool {
	return m.LocalOrderID != ""
}

// ShouldApply decides whether an observed remote status supersedes the stored one.
// The higher remote version wins; on equal versions the stored status is kept,
// except that unversioned observations fall back to arrival order.
func (m *OrderMapping) ShouldApply(status string, remoteUpdatedAt time.Time) bool {
	if status == m.RemoteStatus {
		return false
	}
	if remoteUpdatedAt.IsZero() && m.RemoteUpdatedAt.IsZero() {
		return true
	}
	return remoteUpdatedAt.After(m.RemoteUpdatedAt)
}

// ---------------------------------------------------------------------------
// OrderMappingStore Interface
// ---------------------------------------------------------------------------

// OrderMappingStore persists order mappings. All methods are per-row atomic.
type OrderMappingStore interface {
	// FindByRemote returns the mapping or ErrOrderMappingNotFound.
	FindByRemote(ctx context.Context, marketplace MarketplaceCode, remoteOrderID string) (*OrderMapping, error)

	// Claim inserts the mapping if (marketplace, remote_order_id) is unseen.
	// created is true only for the caller whose insert won; otherwise the
	// stored mapping is returned.
	Claim(ctx context.Context, mapping *OrderMapping) (stored *OrderMapping, created bool, err error)

	// SetLocalOrderID binds the local order. Rebinding to a different ID
	// fails with *ConflictError.
	SetLocalOrderID(ctx context.Context, id uuid.UUID, localOrderID string) error

	// CompareAndSetStatus applies a new remote status if the stored row still
	// has expected.Version. It returns false when another writer got there first.
	CompareAndSetStatus(ctx context.Context, expected *OrderMapping, status string, remoteUpdatedAt time.Time) (bool, error)

	// Touch refreshes last_synced_at for an unchanged replay.
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error

	// CountByMarketplace counts mappings for a marketplace.
	CountByMarketplace(ctx context.Context, marketplace MarketplaceCode) (int64, error)
}
