package ecommerce

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/meschain/syncengine/internal/infrastructure/ratelimit"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestTrendyolAdapter(t *testing.T, baseURL string) *TrendyolAdapter {
	t.Helper()
	adapter, err := NewTrendyolAdapter(&Settings{
		Code:        integration.MarketplaceTrendyol,
		BaseURL:     baseURL,
		SellerID:    "12345",
		Timeout:     time.Second,
		Credentials: integration.Credentials{APIKey: "key", APISecret: "secret"},
	})
	require.NoError(t, err)
	return adapter
}

func TestTrendyolAdapter_FetchOrders(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	server := createMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/suppliers/12345/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "12345 - SelfIntegration", r.Header.Get("User-Agent"))
		assert.Equal(t, "1772323200000", r.URL.Query().Get("startDate"))

		page := r.URL.Query().Get("page")
		resp := TrendyolOrderPage{TotalPages: 2}
		if page == "0" {
			resp.Content = []TrendyolOrder{{
				OrderNumber:           "TY-1",
				ShipmentPackageStatus: "Picking",
				TotalPrice:            decimal.RequireFromString("150.50"),
				CustomerFirstName:     "Ayse",
				CustomerLastName:      "Yilmaz",
				OrderDate:             1772323200000,
				LastModifiedDate:      1772326800000,
				Lines: []TrendyolOrderLine{
					{Barcode: "869000001", MerchantSku: "SKU-1", Quantity: 2, Price: decimal.RequireFromString("75.25")},
				},
			}}
		} else {
			resp.Page = 1
			resp.Content = []TrendyolOrder{{OrderNumber: "TY-2", Status: "Delivered"}}
		}
		json.NewEncoder(w).Encode(resp)
	})

	adapter := createTestTrendyolAdapter(t, server.URL)
	assert.Equal(t, integration.PaginationPageNumber, adapter.PaginationStyle())

	first, err := adapter.FetchOrders(context.Background(), since, "")
	require.NoError(t, err)
	require.Len(t, first.Orders, 1)
	assert.Equal(t, "1", first.NextCursor)

	o := first.Orders[0]
	assert.Equal(t, "TY-1", o.RemoteOrderID)
	assert.Equal(t, integration.OrderStatusProcessing, o.Status)
	assert.Equal(t, "TRY", o.Currency)
	assert.Equal(t, "Ayse Yilmaz", o.CustomerName)
	assert.True(t, o.Total.Equal(decimal.RequireFromString("150.5")))
	assert.Equal(t, time.UnixMilli(1772326800000).UTC(), o.RemoteUpdatedAt)
	require.Len(t, o.Lines, 1)
	assert.Equal(t, "869000001", o.Lines[0].RemoteProductID)
	assert.Equal(t, int64(2), o.Lines[0].Quantity)

	second, err := adapter.FetchOrders(context.Background(), since, first.NextCursor)
	require.NoError(t, err)
	assert.Empty(t, second.NextCursor)
	assert.Equal(t, integration.OrderStatusDelivered, second.Orders[0].Status)

	_, err = adapter.FetchOrders(context.Background(), since, "abc")
	assert.Error(t, err)
}

func TestTrendyolAdapter_UpsertProduct(t *testing.T) {
	product := integration.Product{
		LocalID: "p-1",
		SKU:     "SKU-1",
		Barcode: "869000001",
		Title:   "Kettle",
		Brand:   "Acme",
		Price:   integration.Price{Amount: decimal.RequireFromString("199.90"), Currency: "TRY"},
		Stock:   12,
		VATRate: 20,
		Images:  []string{"https://cdn.example.com/kettle.jpg"},
	}

	t.Run("creates with POST when unmapped", func(t *testing.T) {
		server := createMockServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/suppliers/12345/v2/products", r.URL.Path)

			var body TrendyolProductBatch
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Len(t, body.Items, 1)
			assert.Equal(t, "869000001", body.Items[0].Barcode)
			assert.Equal(t, int64(12), body.Items[0].Quantity)
			assert.True(t, body.Items[0].ListPrice.Equal(body.Items[0].SalePrice))
			json.NewEncoder(w).Encode(TrendyolBatchResponse{BatchRequestID: "batch-1"})
		})

		remoteID, err := createTestTrendyolAdapter(t, server.URL).UpsertProduct(context.Background(), product)
		require.NoError(t, err)
		assert.Equal(t, "869000001", remoteID)
	})

	t.Run("updates with PUT when mapped", func(t *testing.T) {
		server := createMockServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPut, r.Method)
			json.NewEncoder(w).Encode(TrendyolBatchResponse{BatchRequestID: "batch-2"})
		})

		mapped := product
		mapped.RemoteID = "869000001"
		remoteID, err := createTestTrendyolAdapter(t, server.URL).UpsertProduct(context.Background(), mapped)
		require.NoError(t, err)
		assert.Equal(t, "869000001", remoteID)
	})

	t.Run("rejects missing title locally", func(t *testing.T) {
		_, err := createTestTrendyolAdapter(t, "http://127.0.0.1:1").UpsertProduct(context.Background(), integration.Product{SKU: "x"})
		assert.Equal(t, integration.ErrorKindValidation, integration.Classify(err))
	})
}

func TestTrendyolAdapter_StockAndPrice(t *testing.T) {
	var got []TrendyolPriceInventoryItem
	server := createMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/suppliers/12345/products/price-and-inventory", r.URL.Path)
		var body TrendyolPriceInventoryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got = append(got, body.Items...)
		json.NewEncoder(w).Encode(TrendyolBatchResponse{BatchRequestID: "b"})
	})
	adapter := createTestTrendyolAdapter(t, server.URL)

	require.NoError(t, adapter.UpdateStock(context.Background(), "869000001", 0))
	require.NoError(t, adapter.UpdatePrice(context.Background(), "869000001", integration.Price{
		Amount:    decimal.RequireFromString("89.90"),
		ListPrice: decimal.RequireFromString("99.90"),
	}))

	require.Len(t, got, 2)
	require.NotNil(t, got[0].Quantity)
	assert.Equal(t, int64(0), *got[0].Quantity)
	assert.Nil(t, got[0].SalePrice)
	assert.Nil(t, got[1].Quantity)
	assert.True(t, got[1].SalePrice.Equal(decimal.RequireFromString("89.9")))
	assert.True(t, got[1].ListPrice.Equal(decimal.RequireFromString("99.9")))
}

type recordingSyncLog struct {
	mu   sync.Mutex
	rows []integration.SyncLogEntry
}

func (l *recordingSyncLog) Append(_ context.Context, entry *integration.SyncLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.AttemptNumber = len(l.rows) + 1
	l.rows = append(l.rows, *entry)
	return nil
}

func (l *recordingSyncLog) Query(context.Context, integration.SyncLogFilter) ([]integration.SyncLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]integration.SyncLogEntry(nil), l.rows...), nil
}

func TestTrendyolAdapter_SlowMarketplaceIsRetried(t *testing.T) {
	var hits atomic.Int32
	server := createMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-time.After(300 * time.Millisecond):
		case <-r.Context().Done():
		}
	})
	adapter, err := NewTrendyolAdapter(&Settings{
		Code:        integration.MarketplaceTrendyol,
		BaseURL:     server.URL,
		SellerID:    "12345",
		Timeout:     50 * time.Millisecond,
		Credentials: integration.Credentials{APIKey: "key", APISecret: "secret"},
	})
	require.NoError(t, err)

	syncLog := &recordingSyncLog{}
	client := ratelimit.NewClient(&integration.Marketplace{
		Code:      integration.MarketplaceTrendyol,
		RateLimit: integration.RateLimitPolicy{Requests: 1000, Window: time.Second},
		Retry:     integration.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}, syncLog)

	key := ratelimit.AttemptKey{EntityType: integration.EntityInventory, EntityID: "P-1", Operation: integration.OperationUpdateStock}
	err = client.Execute(context.Background(), key, func(ctx context.Context) error {
		return adapter.UpdateStock(ctx, "869000001", 3)
	})
	require.Error(t, err)
	assert.Equal(t, integration.ErrorKindTransient, integration.Classify(err))
	assert.True(t, integration.Classify(err).Retryable())
	assert.Equal(t, int32(3), hits.Load())

	rows, _ := syncLog.Query(context.Background(), integration.SyncLogFilter{})
	require.Len(t, rows, 3)
	assert.Equal(t, integration.SyncLogRetrying, rows[0].Status)
	assert.Equal(t, integration.SyncLogRetrying, rows[1].Status)
	assert.Equal(t, integration.SyncLogFailed, rows[2].Status)
	for _, row := range rows {
		assert.Equal(t, integration.ErrorKindTransient, row.ErrorKind)
	}
}

func TestTrendyolAdapter_FetchCategories(t *testing.T) {
	server := createMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/product-categories", r.URL.Path)
		w.Write([]byte(`{"categories":[{"id":1,"name":"Home","subCategories":[{"id":11,"name":"Kitchen","parentId":1,"subCategories":[]}]}]}`))
	})

	cats, err := createTestTrendyolAdapter(t, server.URL).FetchCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, integration.RemoteCategory{RemoteID: "1", Name: "Home"}, cats[0])
	assert.Equal(t, integration.RemoteCategory{RemoteID: "11", Name: "Kitchen", ParentID: "1", Leaf: true}, cats[1])
}

func TestTrendyolAdapter_DecodeWebhook(t *testing.T) {
	adapter := createTestTrendyolAdapter(t, "https://api.trendyol.com/sapigw")
	assert.Equal(t, "X-Trendyol-Signature", adapter.SignatureHeader())
	assert.Equal(t, "X-Trendyol-Timestamp", adapter.TimestampHeader())

	t.Run("order event with inline order", func(t *testing.T) {
		body := []byte(`{"eventId":"evt-1","eventType":"OrderCreated","timestamp":"2026-03-01T12:00:00Z",
			"order":{"orderNumber":"TY-9","shipmentPackageStatus":"Created","totalPrice":10,"lastModifiedDate":1772366400000}}`)

		n, err := adapter.DecodeWebhook(http.Header{}, body)
		require.NoError(t, err)
		assert.Equal(t, "evt-1", n.EventID)
		require.Len(t, n.Events, 1)
		ev := n.Events[0]
		assert.Equal(t, integration.EventOrderCreated, ev.EventType)
		assert.Equal(t, integration.EntityOrder, ev.EntityType)
		assert.Equal(t, "TY-9", ev.RemoteID)
		require.NotNil(t, ev.Order)
		assert.Equal(t, integration.OrderStatusPending, ev.Order.Status)
	})

	t.Run("event id and type from headers", func(t *testing.T) {
		h := http.Header{}
		h.Set("X-Trendyol-Event-Id", "evt-2")
		h.Set("X-Trendyol-Event", "PriceChanged")
		n, err := adapter.DecodeWebhook(h, []byte(`{"barcode":"869000001"}`))
		require.NoError(t, err)
		assert.Equal(t, "evt-2", n.EventID)
		require.Len(t, n.Events, 1)
		assert.Equal(t, integration.EntityPrice, n.Events[0].EntityType)
		assert.Equal(t, "869000001", n.Events[0].RemoteID)
	})

	t.Run("unknown event types decode to no events", func(t *testing.T) {
		n, err := adapter.DecodeWebhook(http.Header{}, []byte(`{"eventId":"evt-3","eventType":"SellerRatingChanged"}`))
		require.NoError(t, err)
		assert.Empty(t, n.Events)
	})

	t.Run("malformed body", func(t *testing.T) {
		_, err := adapter.DecodeWebhook(http.Header{}, []byte(`{`))
		assert.ErrorIs(t, err, ErrInvalidWebhook)
	})

	t.Run("missing event id is left to the caller", func(t *testing.T) {
		n, err := adapter.DecodeWebhook(http.Header{}, []byte(`{"eventType":"OrderCreated"}`))
		require.NoError(t, err)
		assert.Empty(t, n.EventID)
	})
}

func TestMapTrendyolOrderStatus(t *testing.T) {
	tests := map[string]string{
		"Created":           integration.OrderStatusPending,
		"Invoiced":          integration.OrderStatusProcessing,
		"Shipped":           integration.OrderStatusShipped,
		"Delivered":         integration.OrderStatusDelivered,
		"UnDelivered":       integration.OrderStatusCancelled,
		"Returned":          integration.OrderStatusReturned,
		"AtCollectionPoint": "atcollectionpoint",
	}
	for in, want := range tests {
		assert.Equal(t, want, mapTrendyolOrderStatus(in), in)
	}
}
