package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/shopspring/decimal"
)

// CatalogProductModel is the engine's read view of the host catalog.
type CatalogProductModel struct {
	ID             string          `gorm:"type:varchar(64);primaryKey"`
	SKU            string          `gorm:"column:sku;type:varchar(128);not null;uniqueIndex"`
	Barcode        string          `gorm:"type:varchar(64);not null;default:''"`
	Title          string          `gorm:"type:varchar(512);not null"`
	Description    string          `gorm:"type:text"`
	Brand          string          `gorm:"type:varchar(128);not null;default:''"`
	CategoryID     string          `gorm:"type:varchar(64);not null;default:''"`
	Price          decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	ListPrice      decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Currency       string          `gorm:"type:varchar(3);not null;default:'TRY'"`
	Stock          int64           `gorm:"not null;default:0"`
	VATRate        int             `gorm:"column:vat_rate;not null;default:0"`
	Images         string          `gorm:"type:text"`
	UpdatedAt      time.Time       `gorm:"not null;index"`
	StockUpdatedAt time.Time       `gorm:"not null;index"`
	PriceUpdatedAt time.Time       `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (CatalogProductModel) TableName() string {
	return "catalog_products"
}

// ToDomain converts the catalog row to the canonical Product
func (m *CatalogProductModel) ToDomain() integration.Product {
	var images []string
	if m.Images != "" {
		images = strings.Split(m.Images, "\n")
	}
	return integration.Product{
		LocalID:     m.ID,
		SKU:         m.SKU,
		Barcode:     m.Barcode,
		Title:       m.Title,
		Description: m.Description,
		Brand:       m.Brand,
		CategoryID:  m.CategoryID,
		Price: integration.Price{
			Amount:    m.Price,
			ListPrice: m.ListPrice,
			Currency:  m.Currency,
		},
		Stock:          m.Stock,
		VATRate:        m.VATRate,
		Images:         images,
		UpdatedAt:      m.UpdatedAt,
		StockUpdatedAt: m.StockUpdatedAt,
		PriceUpdatedAt: m.PriceUpdatedAt,
	}
}

// MarketplaceOrderModel is the local order created for an ingested remote order.
type MarketplaceOrderModel struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey"`
	MarketplaceCode string          `gorm:"type:varchar(32);not null;index"`
	RemoteOrderID   string          `gorm:"type:varchar(128);not null"`
	Status          string          `gorm:"type:varchar(64);not null"`
	Total           decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Currency        string          `gorm:"type:varchar(3);not null;default:''"`
	CustomerName    string          `gorm:"type:varchar(255);not null;default:''"`
	Lines           []byte          `gorm:"type:jsonb"`
	PlacedAt        time.Time       `gorm:""`
	CreatedAt       time.Time       `gorm:"not null"`
	UpdatedAt       time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (MarketplaceOrderModel) TableName() string {
	return "marketplace_orders"
}
