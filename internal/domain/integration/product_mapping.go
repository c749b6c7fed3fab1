package integration

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMappingInvalidProductID = errors.New("integration: invalid local product ID")
	ErrMappingInvalidRemoteID  = errors.New("integration: invalid remote product ID")
	ErrMappingNotFound         = errors.New("integration: product mapping not found")
	ErrCategoryMappingNotFound = errors.New("integration: category mapping not found")
	ErrCategoryMappingInvalid  = errors.New("integration: invalid category mapping")
)

// ---------------------------------------------------------------------------
// SyncStatus
// ---------------------------------------------------------------------------

// SyncStatus is the mapping's sync health.
type SyncStatus string

const (
	SyncStatusActive  SyncStatus = "active"
	SyncStatusPending SyncStatus = "pending"
	SyncStatusError   SyncStatus = "error"
)

func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncStatusActive, SyncStatusPending, SyncStatusError:
		return true
	default:
		return false
	}
}

// ---------------------------------------------------------------------------
// ProductMapping Entity
// ---------------------------------------------------------------------------

// ProductMapping binds a local product to its identity on one marketplace.
// RemoteProductID is immutable once set; only Invalidate (NotFound repair)
// may clear it, and the cleared value is kept in PreviousRemoteID.
type ProductMapping struct {
	ID               uuid.UUID
	LocalProductID   string
	Marketplace      MarketplaceCode
	RemoteProductID  string
	RemoteSKU        string
	PreviousRemoteID string
	SyncStatus       SyncStatus
	LastError        string
	LastSyncedAt     *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewProductMapping creates an active mapping after a successful product push.
func NewProductMapping(localProductID string, marketplace MarketplaceCode, remoteProductID, remoteSKU string) (*ProductMapping, error) {
	if localProductID == "" {
		return nil, ErrMappingInvalidProductID
	}
	if _, err := ParseMarketplaceCode(string(marketplace)); err != nil {
		return nil, err
	}
	if remoteProductID == "" {
		return nil, ErrMappingInvalidRemoteID
	}

	now := time.Now()
	return &ProductMapping{
		ID:              uuid.New(),
		LocalProductID:  localProductID,
		Marketplace:     marketplace,
		RemoteProductID: remoteProductID,
		RemoteSKU:       remoteSKU,
		SyncStatus:      SyncStatusActive,
		LastSyncedAt:    &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Validate validates the product mapping
func (m *ProductMapping) Validate() error {
	if m.LocalProductID == "" {
		return ErrMappingInvalidProductID
	}
	if _, err := ParseMarketplaceCode(string(m.Marketplace)); err != nil {
		return err
	}
	if !m.SyncStatus.IsValid() {
		return errors.New("integration: invalid sync status")
	}
	return nil
}

// IsMapped reports whether the mapping currently carries a remote identity.
func (m *ProductMapping) IsMapped() bool {
	return m.RemoteProductID != ""
}

// CheckIdentity returns a ConflictError if binding remoteID would change an
// already-set remote identity.
func (m *ProductMapping) CheckIdentity(remoteID string) error {
	if m.RemoteProductID != "" && remoteID != "" && m.RemoteProductID != remoteID {
		return &ConflictError{
			Marketplace:      m.Marketplace,
			LocalID:          m.LocalProductID,
			ExistingRemoteID: m.RemoteProductID,
			AttemptedRemote:  remoteID,
		}
	}
	return nil
}

// RecordSyncSuccess records a successful sync
func (m *ProductMapping) RecordSyncSuccess(at time.Time) {
	m.LastSyncedAt = &at
	m.SyncStatus = SyncStatusActive
	m.LastError = ""
	m.UpdatedAt = at
}

// RecordSyncFailure records a failed sync
func (m *ProductMapping) RecordSyncFailure(reason string, at time.Time) {
	m.SyncStatus = SyncStatusError
	m.LastError = reason
	m.UpdatedAt = at
}

// NeedsSync reports whether a local change at changedAt has not been pushed yet.
func (m *ProductMapping) NeedsSync(changedAt time.Time) bool {
	if m.LastSyncedAt == nil {
		return true
	}
	return changedAt.After(*m.LastSyncedAt)
}

// ---------------------------------------------------------------------------
// CategoryMapping Value Object
// ---------------------------------------------------------------------------

// CategoryMapping translates a local category into a marketplace category.
type CategoryMapping struct {
	LocalCategoryID  string
	Marketplace      MarketplaceCode
	RemoteCategoryID string
	UpdatedAt        time.Time
}

// Validate validates the category mapping
func (m *CategoryMapping) Validate() error {
	if m.LocalCategoryID == "" || m.RemoteCategoryID == "" {
		return ErrCategoryMappingInvalid
	}
	_, err := ParseMarketplaceCode(string(m.Marketplace))
	return err
}

// ---------------------------------------------------------------------------
// Mapping Store Interfaces
// ---------------------------------------------------------------------------

// ProductMappingReader defines the read side of the Mapping Store.
type ProductMappingReader interface {
	// Resolve returns the remote ID bound to a local product.
	Resolve(ctx context.Context, localProductID string, marketplace MarketplaceCode) (string, bool, error)

	// ResolveReverse returns the local product bound to a remote ID.
	ResolveReverse(ctx context.Context, remoteProductID string, marketplace MarketplaceCode) (string, bool, error)

	// Get returns the full mapping or ErrMappingNotFound.
	Get(ctx context.Context, localProductID string, marketplace MarketplaceCode) (*ProductMapping, error)

	// FindByMarketplace lists mappings matching the filter.
	FindByMarketplace(ctx context.Context, marketplace MarketplaceCode, filter ProductMappingFilter) ([]ProductMapping, error)
}

// ProductMappingWriter defines the write side of the Mapping Store.
// Every method is a per-row atomic operation.
type ProductMappingWriter interface {
	// Upsert inserts or updates the mapping. Changing an already-set remote
	// identity fails with *ConflictError and leaves the row unchanged.
	Upsert(ctx context.Context, mapping *ProductMapping) error

	// MarkError sets sync_status=error with a reason.
	MarkError(ctx context.Context, localProductID string, marketplace MarketplaceCode, reason string) error

	// Invalidate clears a stale remote identity so the product can be re-created.
	// It is a no-op when the mapping no longer holds staleRemoteID.
	Invalidate(ctx context.Context, localProductID string, marketplace MarketplaceCode, staleRemoteID string) error
}

// MappingStore is the product side of the Mapping Store.
type MappingStore interface {
	ProductMappingReader
	ProductMappingWriter
}

// CategoryMappingStore resolves local categories to marketplace categories.
type CategoryMappingStore interface {
	ResolveCategory(ctx context.Context, localCategoryID string, marketplace MarketplaceCode) (string, bool, error)
	UpsertCategory(ctx context.Context, mapping *CategoryMapping) error
	ListCategories(ctx context.Context, marketplace MarketplaceCode) ([]CategoryMapping, error)
}

// ProductMappingFilter defines filter criteria for product mappings
type ProductMappingFilter struct {
	// Statuses restricts to the given statuses (optional)
	Statuses []SyncStatus
	// LocalProductIDs filters by local product IDs (optional)
	LocalProductIDs []string
}
