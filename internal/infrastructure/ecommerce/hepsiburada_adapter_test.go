package ecommerce

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestHepsiburadaAdapter(t *testing.T, baseURL string) *HepsiburadaAdapter {
	t.Helper()
	adapter, err := NewHepsiburadaAdapter(&Settings{
		Code:        integration.MarketplaceHepsiburada,
		BaseURL:     baseURL,
		SellerID:    "merchant-1",
		UserAgent:   "meschain_dev",
		Credentials: integration.Credentials{APIKey: "merchant-1", APISecret: "secret"},
	})
	require.NoError(t, err)
	return adapter
}

func TestHepsiburadaAdapter_FetchOrders(t *testing.T) {
	server := createMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/merchantid/merchant-1", r.URL.Path)
		assert.Equal(t, "meschain_dev", r.Header.Get("User-Agent"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))

		resp := HepsiburadaOrderList{TotalCount: 3, Limit: 100}
		switch r.URL.Query().Get("offset") {
		case "0":
			resp.Items = []HepsiburadaOrder{
				{
					OrderNumber:          "HB-1",
					Status:               "Packed",
					TotalPrice:           HepsiburadaMoney{Amount: decimal.RequireFromString("42.00"), Currency: "TRY"},
					Customer:             HepsiburadaCustomer{Name: "Mehmet"},
					LastStatusUpdateDate: "2026-03-01T10:00:00",
					Items:                []HepsiburadaOrderItem{{HepsiburadaSku: "HBV1", MerchantSku: "SKU-1", Quantity: 1, Price: HepsiburadaMoney{Amount: decimal.RequireFromString("42.00")}}},
				},
				{OrderNumber: "HB-2", Status: "Open"},
			}
		case "2":
			resp.Offset = 2
			resp.Items = []HepsiburadaOrder{{OrderNumber: "HB-3", Status: "CancelledByCustomer"}}
		default:
			t.Errorf("unexpected offset %q", r.URL.Query().Get("offset"))
		}
		json.NewEncoder(w).Encode(resp)
	})
	adapter := createTestHepsiburadaAdapter(t, server.URL)

	first, err := adapter.FetchOrders(context.Background(), time.Now().Add(-time.Hour), "")
	require.NoError(t, err)
	require.Len(t, first.Orders, 2)
	assert.Equal(t, "2", first.NextCursor)
	assert.Equal(t, integration.OrderStatusProcessing, first.Orders[0].Status)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), first.Orders[0].RemoteUpdatedAt)
	assert.Equal(t, "HBV1", first.Orders[0].Lines[0].RemoteProductID)

	second, err := adapter.FetchOrders(context.Background(), time.Time{}, first.NextCursor)
	require.NoError(t, err)
	assert.Empty(t, second.NextCursor)
	assert.Equal(t, integration.OrderStatusCancelled, second.Orders[0].Status)
}

func TestHepsiburadaAdapter_UpsertProduct(t *testing.T) {
	product := integration.Product{
		SKU:   "SKU-1",
		Title: "Kettle",
		Price: integration.Price{Amount: decimal.RequireFromString("199.9")},
		Stock: 5,
	}

	t.Run("uses the assigned Hepsiburada SKU", func(t *testing.T) {
		server := createMockServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/product/api/products/import", r.URL.Path)
			var body []HepsiburadaProduct
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Len(t, body, 1)
			assert.Equal(t, "199.90", body[0].Attributes.Price)
			assert.Equal(t, "5", body[0].Attributes.Stock)
			w.Write([]byte(`{"success":true,"data":{"trackingId":"t-1","hepsiburadaSku":"HBV00001"}}`))
		})

		remoteID, err := createTestHepsiburadaAdapter(t, server.URL).UpsertProduct(context.Background(), product)
		require.NoError(t, err)
		assert.Equal(t, "HBV00001", remoteID)
	})

	t.Run("keeps an existing remote id", func(t *testing.T) {
		server := createMockServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"success":true,"data":{"trackingId":"t-2"}}`))
		})
		mapped := product
		mapped.RemoteID = "HBV00001"
		remoteID, err := createTestHepsiburadaAdapter(t, server.URL).UpsertProduct(context.Background(), mapped)
		require.NoError(t, err)
		assert.Equal(t, "HBV00001", remoteID)
	})

	t.Run("unsuccessful import is a validation error", func(t *testing.T) {
		server := createMockServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"success":false,"message":"category attribute missing"}`))
		})
		_, err := createTestHepsiburadaAdapter(t, server.URL).UpsertProduct(context.Background(), product)
		var ve *integration.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "category attribute missing", ve.Detail)
	})
}

func TestHepsiburadaAdapter_StockAndPrice(t *testing.T) {
	paths := make([]string, 0, 2)
	server := createMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	adapter := createTestHepsiburadaAdapter(t, server.URL)

	require.NoError(t, adapter.UpdateStock(context.Background(), "HBV1", 3))
	require.NoError(t, adapter.UpdatePrice(context.Background(), "HBV1", integration.Price{Amount: decimal.NewFromInt(10)}))
	assert.Equal(t, []string{
		"/listings/merchantid/merchant-1/stock-uploads",
		"/listings/merchantid/merchant-1/price-uploads",
	}, paths)
}

func TestHepsiburadaAdapter_FetchCategories(t *testing.T) {
	calls := 0
	server := createMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("page") == "0" {
			w.Write([]byte(`{"success":true,"totalPages":2,"data":[{"categoryId":1,"name":"Home","leaf":false}]}`))
			return
		}
		w.Write([]byte(`{"success":true,"totalPages":2,"data":[{"categoryId":2,"name":"Kitchen","parentCategoryId":1,"leaf":true}]}`))
	})

	cats, err := createTestHepsiburadaAdapter(t, server.URL).FetchCategories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, cats, 2)
	assert.Equal(t, "1", cats[1].ParentID)
	assert.True(t, cats[1].Leaf)
}

func TestHepsiburadaAdapter_DecodeWebhook(t *testing.T) {
	adapter := createTestHepsiburadaAdapter(t, "https://mpop.hepsiburada.com")

	body := []byte(`{"id":"hb-evt-1","type":"StockChanged","createdAt":"2026-03-01T12:00:00Z","hepsiburadaSku":"HBV1"}`)
	n, err := adapter.DecodeWebhook(http.Header{}, body)
	require.NoError(t, err)
	assert.Equal(t, "hb-evt-1", n.EventID)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), n.Timestamp)
	require.Len(t, n.Events, 1)
	assert.Equal(t, integration.EntityInventory, n.Events[0].EntityType)
	assert.Equal(t, "HBV1", n.Events[0].RemoteID)
}
