package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormCatalogRepository_ListChangedSince(t *testing.T) {
	ctx := context.Background()
	repo := NewGormCatalogRepository(setupTestDB(t))
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	base := integration.Product{
		SKU: "SKU-1", Title: "Kettle",
		Price:     integration.Price{Amount: decimal.RequireFromString("199.90"), ListPrice: decimal.RequireFromString("249.90"), Currency: "TRY"},
		Stock:     4,
		Images:    []string{"https://cdn.example.com/1.jpg", "https://cdn.example.com/2.jpg"},
		UpdatedAt: t0, StockUpdatedAt: t0, PriceUpdatedAt: t0,
	}
	p1 := base
	p1.LocalID = "P1"
	p2 := base
	p2.LocalID, p2.SKU = "P2", "SKU-2"
	p2.StockUpdatedAt = t0.Add(time.Hour)

	require.NoError(t, repo.SaveProduct(ctx, p1))
	require.NoError(t, repo.SaveProduct(ctx, p2))

	all, err := repo.ListChangedSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	changed, err := repo.ListChangedSince(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "P2", changed[0].LocalID)
	assert.Len(t, changed[0].Images, 2)
	assert.True(t, decimal.RequireFromString("199.90").Equal(changed[0].Price.Amount))

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, integration.ErrLocalProductNotFound)
}

func TestGormCatalogRepository_Orders(t *testing.T) {
	ctx := context.Background()
	repo := NewGormCatalogRepository(setupTestDB(t))

	id, err := repo.CreateOrder(ctx, &integration.RemoteOrder{
		Marketplace:   integration.MarketplaceAmazon,
		RemoteOrderID: "111-222",
		Status:        "Unshipped",
		Total:         decimal.NewFromInt(50),
		Currency:      "EUR",
		Lines:         []integration.OrderLine{{SKU: "SKU-1", Quantity: 2, UnitPrice: decimal.NewFromInt(25)}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, repo.UpdateOrderStatus(ctx, id, "Shipped"))
	assert.Error(t, repo.UpdateOrderStatus(ctx, "not-a-uuid", "Shipped"))
}
