package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/meschain/syncengine/internal/domain/integration"
)

// PendingSyncEventModel is the persistence model for parked sync events.
// ClaimToken marks the rows a processor instance claimed in one batch.
type PendingSyncEventModel struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey"`
	MarketplaceCode string     `gorm:"type:varchar(32);not null;index:idx_pending_mp_status,priority:1"`
	EntityType      string     `gorm:"type:varchar(16);not null"`
	EntityID        string     `gorm:"type:varchar(128);not null"`
	Operation       string     `gorm:"type:varchar(32);not null"`
	Origin          string     `gorm:"type:varchar(16);not null"`
	Reason          string     `gorm:"type:varchar(32);not null"`
	Payload         []byte     `gorm:"type:jsonb;not null"`
	Status          string     `gorm:"type:varchar(20);not null;default:'PENDING';index:idx_pending_mp_status,priority:2;index:idx_pending_status_retry,priority:1"`
	ClaimToken      *uuid.UUID `gorm:"type:uuid;index"`
	RetryCount      int        `gorm:"not null;default:0"`
	MaxRetries      int        `gorm:"not null;default:8"`
	LastError       string     `gorm:"type:text"`
	NextRetryAt     *time.Time `gorm:"index:idx_pending_status_retry,priority:2"`
	ProcessedAt     *time.Time
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PendingSyncEventModel) TableName() string {
	return "pending_sync_events"
}

// ToDomain converts the persistence model to a domain PendingSyncEvent
func (m *PendingSyncEventModel) ToDomain() *integration.PendingSyncEvent {
	return &integration.PendingSyncEvent{
		ID:          m.ID,
		Marketplace: integration.MarketplaceCode(m.MarketplaceCode),
		EntityType:  integration.EntityType(m.EntityType),
		EntityID:    m.EntityID,
		Operation:   integration.Operation(m.Operation),
		Origin:      integration.Origin(m.Origin),
		Reason:      integration.PendingReason(m.Reason),
		Payload:     m.Payload,
		Status:      integration.PendingStatus(m.Status),
		RetryCount:  m.RetryCount,
		MaxRetries:  m.MaxRetries,
		LastError:   m.LastError,
		NextRetryAt: m.NextRetryAt,
		ProcessedAt: m.ProcessedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain PendingSyncEvent
func (m *PendingSyncEventModel) FromDomain(e *integration.PendingSyncEvent) {
	m.ID = e.ID
	m.MarketplaceCode = string(e.Marketplace)
	m.EntityType = string(e.EntityType)
	m.EntityID = e.EntityID
	m.Operation = string(e.Operation)
	m.Origin = string(e.Origin)
	m.Reason = string(e.Reason)
	m.Payload = e.Payload
	m.Status = string(e.Status)
	m.RetryCount = e.RetryCount
	m.MaxRetries = e.MaxRetries
	m.LastError = e.LastError
	m.NextRetryAt = e.NextRetryAt
	m.ProcessedAt = e.ProcessedAt
	m.CreatedAt = e.CreatedAt
	m.UpdatedAt = e.UpdatedAt
}

// PendingSyncEventModelFromDomain creates a new persistence model from a domain PendingSyncEvent
func PendingSyncEventModelFromDomain(e *integration.PendingSyncEvent) *PendingSyncEventModel {
	m := &PendingSyncEventModel{}
	m.FromDomain(e)
	return m
}
