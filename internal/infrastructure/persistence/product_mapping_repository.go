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

// identityGuard lets an upsert through only when it leaves the remote identity unchanged.
const identityGuard = "(product_mappings.remote_product_id = '' OR excluded.remote_product_id = '' OR product_mappings.remote_product_id = excluded.remote_product_id)"

// GormProductMappingRepository implements integration.MappingStore and
// integration.CategoryMappingStore using GORM
type GormProductMappingRepository struct {
	db *gorm.DB
}

// NewGormProductMappingRepository creates a new GormProductMappingRepository
func NewGormProductMappingRepository(db *gorm.DB) *GormProductMappingRepository {
	return &GormProductMappingRepository{db: db}
}

// ---------------------------------------------------------------------------
// ProductMappingReader implementation
// ---------------------------------------------------------------------------

// Resolve returns the remote ID bound to a local product
func (r *GormProductMappingRepository) Resolve(ctx context.Context, localProductID string, marketplace integration.MarketplaceCode) (string, bool, error) {
	var model models.ProductMappingModel
	err := r.db.WithContext(ctx).
		Select("remote_product_id").
		Where("local_product_id = ? AND marketplace_code = ?", localProductID, marketplace).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	if model.RemoteProductID == "" {
		return "", false, nil
	}
	return model.RemoteProductID, true, nil
}

// ResolveReverse returns the local product bound to a remote ID
func (r *GormProductMappingRepository) ResolveReverse(ctx context.Context, remoteProductID string, marketplace integration.MarketplaceCode) (string, bool, error) {
	if remoteProductID == "" {
		return "", false, nil
	}
	var model models.ProductMappingModel
	err := r.db.WithContext(ctx).
		Select("local_product_id").
		Where("marketplace_code = ? AND remote_product_id = ?", marketplace, remoteProductID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return model.LocalProductID, true, nil
}

// Get returns the full mapping
func (r *GormProductMappingRepository) Get(ctx context.Context, localProductID string, marketplace integration.MarketplaceCode) (*integration.ProductMapping, error) {
	var model models.ProductMappingModel
	err := r.db.WithContext(ctx).
		Where("local_product_id = ? AND marketplace_code = ?", localProductID, marketplace).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrMappingNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByMarketplace lists mappings for a marketplace matching the filter
func (r *GormProductMappingRepository) FindByMarketplace(ctx context.Context, marketplace integration.MarketplaceCode, filter integration.ProductMappingFilter) ([]integration.ProductMapping, error) {
	query := r.db.WithContext(ctx).
		Model(&models.ProductMappingModel{}).
		Where("marketplace_code = ?", marketplace)

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		query = query.Where("sync_status IN ?", statuses)
	}
	if len(filter.LocalProductIDs) > 0 {
		query = query.Where("local_product_id IN ?", filter.LocalProductIDs)
	}

	var mappingModels []models.ProductMappingModel
	if err := query.Order("local_product_id ASC").Find(&mappingModels).Error; err != nil {
		return nil, err
	}

	mappings := make([]integration.ProductMapping, len(mappingModels))
	for i := range mappingModels {
		mappings[i] = *mappingModels[i].ToDomain()
	}
	return mappings, nil
}

// ---------------------------------------------------------------------------
// ProductMappingWriter implementation
// ---------------------------------------------------------------------------

// Upsert inserts or updates a mapping in a single statement. The conflict
// clause refuses to overwrite a different remote identity, in which case no
// row is affected and a *ConflictError is returned.
func (r *GormProductMappingRepository) Upsert(ctx context.Context, mapping *integration.ProductMapping) error {
	if err := mapping.Validate(); err != nil {
		return err
	}
	now := time.Now()
	if mapping.ID == uuid.Nil {
		mapping.ID = uuid.New()
	}
	if mapping.CreatedAt.IsZero() {
		mapping.CreatedAt = now
	}
	if mapping.UpdatedAt.IsZero() {
		mapping.UpdatedAt = now
	}

	model := models.ProductMappingModelFromDomain(mapping)
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "local_product_id"}, {Name: "marketplace_code"}},
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "remote_product_id"}, Value: gorm.Expr("COALESCE(NULLIF(excluded.remote_product_id, ''), product_mappings.remote_product_id)")},
			{Column: clause.Column{Name: "remote_sku"}, Value: gorm.Expr("COALESCE(NULLIF(excluded.remote_sku, ''), product_mappings.remote_sku)")},
			{Column: clause.Column{Name: "sync_status"}, Value: gorm.Expr("excluded.sync_status")},
			{Column: clause.Column{Name: "last_error"}, Value: gorm.Expr("excluded.last_error")},
			{Column: clause.Column{Name: "last_synced_at"}, Value: gorm.Expr("excluded.last_synced_at")},
			{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr("excluded.updated_at")},
		},
		Where: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: identityGuard}}},
	}).Create(model)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return r.remoteTakenConflict(ctx, mapping)
		}
		return fmt.Errorf("upsert product mapping: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		existing, err := r.Get(ctx, mapping.LocalProductID, mapping.Marketplace)
		if err != nil {
			return fmt.Errorf("load conflicting product mapping: %w", err)
		}
		if conflict := existing.CheckIdentity(mapping.RemoteProductID); conflict != nil {
			return conflict
		}
		return &integration.ConflictError{
			Marketplace:      mapping.Marketplace,
			LocalID:          mapping.LocalProductID,
			ExistingRemoteID: existing.RemoteProductID,
			AttemptedRemote:  mapping.RemoteProductID,
		}
	}
	return nil
}

// remoteTakenConflict reports a remote ID already owned by another local product.
func (r *GormProductMappingRepository) remoteTakenConflict(ctx context.Context, mapping *integration.ProductMapping) error {
	owner, _, err := r.ResolveReverse(ctx, mapping.RemoteProductID, mapping.Marketplace)
	if err != nil {
		return fmt.Errorf("resolve remote owner: %w", err)
	}
	return &integration.ConflictError{
		Marketplace:      mapping.Marketplace,
		LocalID:          owner,
		ExistingRemoteID: mapping.RemoteProductID,
		AttemptedRemote:  mapping.RemoteProductID,
	}
}

// MarkError sets sync_status=error. A product that was never mapped gets an
// unmapped row carrying the error so operators can see it.
func (r *GormProductMappingRepository) MarkError(ctx context.Context, localProductID string, marketplace integration.MarketplaceCode, reason string) error {
	if localProductID == "" {
		return integration.ErrMappingInvalidProductID
	}
	now := time.Now()
	model := &models.ProductMappingModel{
		ID:              uuid.New(),
		LocalProductID:  localProductID,
		MarketplaceCode: string(marketplace),
		SyncStatus:      string(integration.SyncStatusError),
		LastError:       reason,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "local_product_id"}, {Name: "marketplace_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"sync_status", "last_error", "updated_at"}),
	}).Create(model).Error
}

// Invalidate clears a remote identity the marketplace reported as gone
func (r *GormProductMappingRepository) Invalidate(ctx context.Context, localProductID string, marketplace integration.MarketplaceCode, staleRemoteID string) error {
	return r.db.WithContext(ctx).
		Model(&models.ProductMappingModel{}).
		Where("local_product_id = ? AND marketplace_code = ? AND remote_product_id = ?", localProductID, marketplace, staleRemoteID).
		Updates(map[string]any{
			"previous_remote_id": gorm.Expr("remote_product_id"),
			"remote_product_id":  "",
			"sync_status":        string(integration.SyncStatusPending),
			"updated_at":         time.Now(),
		}).Error
}

// ---------------------------------------------------------------------------
// CategoryMappingStore implementation
// ---------------------------------------------------------------------------

// ResolveCategory returns the marketplace category for a local category
func (r *GormProductMappingRepository) ResolveCategory(ctx context.Context, localCategoryID string, marketplace integration.MarketplaceCode) (string, bool, error) {
	var model models.CategoryMappingModel
	err := r.db.WithContext(ctx).
		Where("local_category_id = ? AND marketplace_code = ?", localCategoryID, marketplace).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return model.RemoteCategoryID, true, nil
}

// UpsertCategory creates or replaces a category mapping
func (r *GormProductMappingRepository) UpsertCategory(ctx context.Context, mapping *integration.CategoryMapping) error {
	if err := mapping.Validate(); err != nil {
		return err
	}
	if mapping.UpdatedAt.IsZero() {
		mapping.UpdatedAt = time.Now()
	}
	model := &models.CategoryMappingModel{
		LocalCategoryID:  mapping.LocalCategoryID,
		MarketplaceCode:  string(mapping.Marketplace),
		RemoteCategoryID: mapping.RemoteCategoryID,
		UpdatedAt:        mapping.UpdatedAt,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "local_category_id"}, {Name: "marketplace_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"remote_category_id", "updated_at"}),
	}).Create(model).Error
}

// ListCategories lists the category mappings of a marketplace
func (r *GormProductMappingRepository) ListCategories(ctx context.Context, marketplace integration.MarketplaceCode) ([]integration.CategoryMapping, error) {
	var rows []models.CategoryMappingModel
	if err := r.db.WithContext(ctx).
		Where("marketplace_code = ?", marketplace).
		Order("local_category_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]integration.CategoryMapping, len(rows))
	for i, m := range rows {
		out[i] = integration.CategoryMapping{
			LocalCategoryID:  m.LocalCategoryID,
			Marketplace:      integration.MarketplaceCode(m.MarketplaceCode),
			RemoteCategoryID: m.RemoteCategoryID,
			UpdatedAt:        m.UpdatedAt,
		}
	}
	return out, nil
}

// Ensure GormProductMappingRepository implements the mapping store interfaces
var (
	_ integration.MappingStore         = (*GormProductMappingRepository)(nil)
	_ integration.CategoryMappingStore = (*GormProductMappingRepository)(nil)
)
