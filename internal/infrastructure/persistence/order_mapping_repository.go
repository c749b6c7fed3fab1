package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/meschain/syncengine/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormOrderMappingRepository implements integration.OrderMappingStore using GORM
type GormOrderMappingRepository struct {
	db *gorm.DB
}

// NewGormOrderMappingRepository creates a new GormOrderMappingRepository
func NewGormOrderMappingRepository(db *gorm.DB) *GormOrderMappingRepository {
	return &GormOrderMappingRepository{db: db}
}

// FindByRemote finds the mapping for a remote order
func (r *GormOrderMappingRepository) FindByRemote(ctx context.Context, marketplace integration.MarketplaceCode, remoteOrderID string) (*integration.OrderMapping, error) {
	var model models.OrderMappingModel
	err := r.db.WithContext(ctx).
		Where("marketplace_code = ? AND remote_order_id = ?", marketplace, remoteOrderID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrOrderMappingNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Claim inserts the mapping unless the remote order is already known.
// Concurrent callers race on the unique index; exactly one sees created=true.
func (r *GormOrderMappingRepository) Claim(ctx context.Context, mapping *integration.OrderMapping) (*integration.OrderMapping, bool, error) {
	if mapping == nil || mapping.RemoteOrderID == "" {
		return nil, false, integration.ErrOrderMappingInvalid
	}
	if mapping.ID == uuid.Nil {
		mapping.ID = uuid.New()
	}

	model := models.OrderMappingModelFromDomain(mapping)
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "marketplace_code"}, {Name: "remote_order_id"}},
		DoNothing: true,
	}).Create(model)
	if result.Error != nil {
		return nil, false, fmt.Errorf("claim order mapping: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return mapping, true, nil
	}

	stored, err := r.FindByRemote(ctx, mapping.Marketplace, mapping.RemoteOrderID)
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

// SetLocalOrderID binds the local order once. Binding the same ID again is a no-op.
func (r *GormOrderMappingRepository) SetLocalOrderID(ctx context.Context, id uuid.UUID, localOrderID string) error {
	if localOrderID == "" {
		return integration.ErrOrderMappingInvalid
	}
	result := r.db.WithContext(ctx).
		Model(&models.OrderMappingModel{}).
		Where("id = ? AND (local_order_id = '' OR local_order_id = ?)", id, localOrderID).
		Updates(map[string]any{
			"local_order_id": localOrderID,
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var model models.OrderMappingModel
	if err := r.db.WithContext(ctx).Take(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return integration.ErrOrderMappingNotFound
		}
		return err
	}
	return &integration.ConflictError{
		Marketplace:      integration.MarketplaceCode(model.MarketplaceCode),
		LocalID:          model.RemoteOrderID,
		ExistingRemoteID: model.LocalOrderID,
		AttemptedRemote:  localOrderID,
	}
}

// CompareAndSetStatus applies the status only if the row still has expected.Version
func (r *GormOrderMappingRepository) CompareAndSetStatus(ctx context.Context, expected *integration.OrderMapping, status string, remoteUpdatedAt time.Time) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.OrderMappingModel{}).
		Where("id = ? AND version = ?", expected.ID, expected.Version).
		Updates(map[string]any{
			"remote_status":     status,
			"remote_updated_at": remoteUpdatedAt,
			"version":           gorm.Expr("version + 1"),
			"last_synced_at":    now,
			"updated_at":        now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	expected.RemoteStatus = status
	expected.RemoteUpdatedAt = remoteUpdatedAt
	expected.Version++
	expected.LastSyncedAt = now
	expected.UpdatedAt = now
	return true, nil
}

// Touch refreshes last_synced_at
func (r *GormOrderMappingRepository) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderMappingModel{}).
		Where("id = ?", id).
		Update("last_synced_at", at).Error
}

// CountByMarketplace counts order mappings of a marketplace
func (r *GormOrderMappingRepository) CountByMarketplace(ctx context.Context, marketplace integration.MarketplaceCode) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.OrderMappingModel{}).
		Where("marketplace_code = ?", marketplace).
		Count(&count).Error
	return count, err
}

// Ensure GormOrderMappingRepository implements OrderMappingStore
var _ integration.OrderMappingStore = (*GormOrderMappingRepository)(nil)
