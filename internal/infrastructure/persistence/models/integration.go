package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/meschain/syncengine/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// ProductMappingModel
// ---------------------------------------------------------------------------

// ProductMappingModel is the persistence model for local-to-remote product identity.
// The partial unique index keeps one local product per remote ID per marketplace.
type ProductMappingModel struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey"`
	LocalProductID   string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_product_mappings_local_mp,priority:1"`
	MarketplaceCode  string     `gorm:"type:varchar(32);not null;uniqueIndex:idx_product_mappings_local_mp,priority:2;uniqueIndex:idx_product_mappings_mp_remote,priority:1,where:remote_product_id <> ''"`
	RemoteProductID  string     `gorm:"type:varchar(128);not null;default:'';uniqueIndex:idx_product_mappings_mp_remote,priority:2"`
	RemoteSKU        string     `gorm:"column:remote_sku;type:varchar(128);not null;default:''"`
	PreviousRemoteID string     `gorm:"type:varchar(128);not null;default:''"`
	SyncStatus       string     `gorm:"type:varchar(16);not null;default:'pending';index"`
	LastError        string     `gorm:"type:text"`
	LastSyncedAt     *time.Time `gorm:""`
	CreatedAt        time.Time  `gorm:"not null"`
	UpdatedAt        time.Time  `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ProductMappingModel) TableName() string {
	return "product_mappings"
}

// ToDomain converts the persistence model to a domain ProductMapping
func (m *ProductMappingModel) ToDomain() *integration.ProductMapping {
	return &integration.ProductMapping{
		ID:               m.ID,
		LocalProductID:   m.LocalProductID,
		Marketplace:      integration.MarketplaceCode(m.MarketplaceCode),
		RemoteProductID:  m.RemoteProductID,
		RemoteSKU:        m.RemoteSKU,
		PreviousRemoteID: m.PreviousRemoteID,
		SyncStatus:       integration.SyncStatus(m.SyncStatus),
		LastError:        m.LastError,
		LastSyncedAt:     m.LastSyncedAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain ProductMapping
func (m *ProductMappingModel) FromDomain(d *integration.ProductMapping) {
	m.ID = d.ID
	m.LocalProductID = d.LocalProductID
	m.MarketplaceCode = string(d.Marketplace)
	m.RemoteProductID = d.RemoteProductID
	m.RemoteSKU = d.RemoteSKU
	m.PreviousRemoteID = d.PreviousRemoteID
	m.SyncStatus = string(d.SyncStatus)
	m.LastError = d.LastError
	m.LastSyncedAt = d.LastSyncedAt
	m.CreatedAt = d.CreatedAt
	m.UpdatedAt = d.UpdatedAt
}

// ProductMappingModelFromDomain creates a new persistence model from a domain ProductMapping
func ProductMappingModelFromDomain(d *integration.ProductMapping) *ProductMappingModel {
	m := &ProductMappingModel{}
	m.FromDomain(d)
	return m
}

// ---------------------------------------------------------------------------
// CategoryMappingModel
// ---------------------------------------------------------------------------

// CategoryMappingModel maps a local category to a marketplace category.
type CategoryMappingModel struct {
	LocalCategoryID  string    `gorm:"type:varchar(64);primaryKey"`
	MarketplaceCode  string    `gorm:"type:varchar(32);primaryKey"`
	RemoteCategoryID string    `gorm:"type:varchar(128);not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CategoryMappingModel) TableName() string {
	return "category_mappings"
}

// ---------------------------------------------------------------------------
// OrderMappingModel
// ---------------------------------------------------------------------------

// OrderMappingModel is the persistence model for inbound order identity.
// Version is bumped on every status change for optimistic concurrency.
type OrderMappingModel struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	MarketplaceCode string    `gorm:"type:varchar(32);not null;uniqueIndex:idx_order_mappings_mp_remote,priority:1"`
	RemoteOrderID   string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_order_mappings_mp_remote,priority:2"`
	LocalOrderID    string    `gorm:"type:varchar(64);not null;default:''"`
	RemoteStatus    string    `gorm:"type:varchar(64);not null;default:''"`
	RemoteUpdatedAt time.Time `gorm:""`
	Version         int       `gorm:"not null;default:1"`
	LastSyncedAt    time.Time `gorm:"not null"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (OrderMappingModel) TableName() string {
	return "order_mappings"
}

// ToDomain converts the persistence model to a domain OrderMapping
func (m *OrderMappingModel) ToDomain() *integration.OrderMapping {
	return &integration.OrderMapping{
		ID:              m.ID,
		Marketplace:     integration.MarketplaceCode(m.MarketplaceCode),
		RemoteOrderID:   m.RemoteOrderID,
		LocalOrderID:    m.LocalOrderID,
		RemoteStatus:    m.RemoteStatus,
		RemoteUpdatedAt: m.RemoteUpdatedAt,
		Version:         m.Version,
		LastSyncedAt:    m.LastSyncedAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// OrderMappingModelFromDomain creates a new persistence model from a domain OrderMapping
func OrderMappingModelFromDomain(d *integration.OrderMapping) *OrderMappingModel {
	return &OrderMappingModel{
		ID:              d.ID,
		MarketplaceCode: string(d.Marketplace),
		RemoteOrderID:   d.RemoteOrderID,
		LocalOrderID:    d.LocalOrderID,
		RemoteStatus:    d.RemoteStatus,
		RemoteUpdatedAt: d.RemoteUpdatedAt,
		Version:         d.Version,
		LastSyncedAt:    d.LastSyncedAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// ---------------------------------------------------------------------------
// SyncLogEntryModel
// ---------------------------------------------------------------------------

// SyncLogEntryModel is an append-only audit row. The unique index on the
// attempt number serializes concurrent appends for the same entity.
type SyncLogEntryModel struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	MarketplaceCode string    `gorm:"type:varchar(32);not null;uniqueIndex:idx_sync_log_attempt,priority:1;index:idx_sync_log_flow,priority:1"`
	EntityType      string    `gorm:"type:varchar(16);not null;uniqueIndex:idx_sync_log_attempt,priority:2;index:idx_sync_log_flow,priority:2"`
	EntityID        string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_sync_log_attempt,priority:3"`
	AttemptNumber   int       `gorm:"not null;uniqueIndex:idx_sync_log_attempt,priority:4"`
	Operation       string    `gorm:"type:varchar(32);not null;default:''"`
	Status          string    `gorm:"type:varchar(16);not null;index"`
	ErrorKind       string    `gorm:"type:varchar(32);not null;default:''"`
	ErrorDetail     string    `gorm:"type:text"`
	StartedAt       time.Time `gorm:"not null"`
	FinishedAt      time.Time `gorm:"not null;index:idx_sync_log_flow,priority:3"`
}

// TableName returns the table name for GORM
func (SyncLogEntryModel) TableName() string {
	return "sync_log_entries"
}

// ToDomain converts the persistence model to a domain SyncLogEntry
func (m *SyncLogEntryModel) ToDomain() integration.SyncLogEntry {
	return integration.SyncLogEntry{
		ID:            m.ID,
		Marketplace:   integration.MarketplaceCode(m.MarketplaceCode),
		EntityType:    integration.EntityType(m.EntityType),
		EntityID:      m.EntityID,
		Operation:     integration.Operation(m.Operation),
		AttemptNumber: m.AttemptNumber,
		Status:        integration.SyncLogStatus(m.Status),
		ErrorKind:     integration.ErrorKind(m.ErrorKind),
		ErrorDetail:   m.ErrorDetail,
		StartedAt:     m.StartedAt,
		FinishedAt:    m.FinishedAt,
	}
}

// SyncLogEntryModelFromDomain creates a new persistence model from a domain SyncLogEntry
func SyncLogEntryModelFromDomain(d *integration.SyncLogEntry) *SyncLogEntryModel {
	return &SyncLogEntryModel{
		ID:              d.ID,
		MarketplaceCode: string(d.Marketplace),
		EntityType:      string(d.EntityType),
		EntityID:        d.EntityID,
		AttemptNumber:   d.AttemptNumber,
		Operation:       string(d.Operation),
		Status:          string(d.Status),
		ErrorKind:       string(d.ErrorKind),
		ErrorDetail:     d.ErrorDetail,
		StartedAt:       d.StartedAt,
		FinishedAt:      d.FinishedAt,
	}
}
