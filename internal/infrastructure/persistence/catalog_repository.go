package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/meschain/syncengine/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCatalogRepository reads the host catalog and writes ingested orders.
// It implements integration.LocalCatalog and integration.LocalOrderWriter.
type GormCatalogRepository struct {
	db *gorm.DB
}

// NewGormCatalogRepository creates a new GormCatalogRepository
func NewGormCatalogRepository(db *gorm.DB) *GormCatalogRepository {
	return &GormCatalogRepository{db: db}
}

// ListChangedSince returns products with any change after since
func (r *GormCatalogRepository) ListChangedSince(ctx context.Context, since time.Time) ([]integration.Product, error) {
	query := r.db.WithContext(ctx).Model(&models.CatalogProductModel{})
	if !since.IsZero() {
		query = query.Where("updated_at > ? OR stock_updated_at > ? OR price_updated_at > ?", since, since, since)
	}

	var rows []models.CatalogProductModel
	if err := query.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	products := make([]integration.Product, len(rows))
	for i := range rows {
		products[i] = rows[i].ToDomain()
	}
	return products, nil
}

// Get returns one catalog product
func (r *GormCatalogRepository) Get(ctx context.Context, localProductID string) (*integration.Product, error) {
	var model models.CatalogProductModel
	if err := r.db.WithContext(ctx).Take(&model, "id = ?", localProductID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrLocalProductNotFound
		}
		return nil, err
	}
	p := model.ToDomain()
	return &p, nil
}

// SaveProduct creates or replaces a catalog row. The host application owns
// this table; the engine only writes to it from seeding tools and tests.
func (r *GormCatalogRepository) SaveProduct(ctx context.Context, p integration.Product) error {
	model := &models.CatalogProductModel{
		ID:             p.LocalID,
		SKU:            p.SKU,
		Barcode:        p.Barcode,
		Title:          p.Title,
		Description:    p.Description,
		Brand:          p.Brand,
		CategoryID:     p.CategoryID,
		Price:          p.Price.Amount,
		ListPrice:      p.Price.ListPrice,
		Currency:       p.Price.Currency,
		Stock:          p.Stock,
		VATRate:        p.VATRate,
		Images:         strings.Join(p.Images, "\n"),
		UpdatedAt:      p.UpdatedAt,
		StockUpdatedAt: p.StockUpdatedAt,
		PriceUpdatedAt: p.PriceUpdatedAt,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(model).Error
}

// CreateOrder stores the ingested order and returns its local ID
func (r *GormCatalogRepository) CreateOrder(ctx context.Context, order *integration.RemoteOrder) (string, error) {
	lines, err := json.Marshal(order.Lines)
	if err != nil {
		return "", fmt.Errorf("encode order lines: %w", err)
	}
	now := time.Now()
	model := &models.MarketplaceOrderModel{
		ID:              uuid.New(),
		MarketplaceCode: string(order.Marketplace),
		RemoteOrderID:   order.RemoteOrderID,
		Status:          order.Status,
		Total:           order.Total,
		Currency:        order.Currency,
		CustomerName:    order.CustomerName,
		Lines:           lines,
		PlacedAt:        order.CreatedAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return "", fmt.Errorf("create local order: %w", err)
	}
	return model.ID.String(), nil
}

// UpdateOrderStatus applies a remote status to a local order
func (r *GormCatalogRepository) UpdateOrderStatus(ctx context.Context, localOrderID string, status string) error {
	id, err := uuid.Parse(localOrderID)
	if err != nil {
		return fmt.Errorf("invalid local order id %q: %w", localOrderID, err)
	}
	return r.db.WithContext(ctx).
		Model(&models.MarketplaceOrderModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now()}).Error
}

// Ensure GormCatalogRepository implements the host collaborator interfaces
var (
	_ integration.LocalCatalog     = (*GormCatalogRepository)(nil)
	_ integration.LocalOrderWriter = (*GormCatalogRepository)(nil)
)
