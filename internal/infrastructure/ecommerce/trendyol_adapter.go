package ecommerce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/shopspring/decimal"
)

const (
	// TrendyolProductionAPIURL is the production API endpoint
	TrendyolProductionAPIURL = "https://api.trendyol.com/sapigw"
	trendyolPageSize         = 200
)

// TrendyolAdapter talks to the Trendyol supplier API. Products are keyed by
// barcode on the Trendyol side, so the barcode is the remote product ID.
type TrendyolAdapter struct {
	settings *Settings
	http     *transport
	headers  webhookHeaders
}

// NewTrendyolAdapter creates a new Trendyol adapter
func NewTrendyolAdapter(s *Settings) (*TrendyolAdapter, error) {
	if s.BaseURL == "" {
		s.BaseURL = TrendyolProductionAPIURL
	}
	if err := s.requireBasicAuth(); err != nil {
		return nil, err
	}
	if s.UserAgent == "" {
		s.UserAgent = s.SellerID + " - SelfIntegration"
	}
	key, secret := s.Credentials.APIKey, s.Credentials.APISecret
	t, err := newTransport(s, func(_ context.Context, req *http.Request) error {
		req.SetBasicAuth(key, secret)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &TrendyolAdapter{settings: s, http: t, headers: headersFor("Trendyol")}, nil
}

// Code returns the marketplace code this adapter handles
func (a *TrendyolAdapter) Code() integration.MarketplaceCode {
	return a.settings.Code
}

// PaginationStyle returns page-number paging
func (a *TrendyolAdapter) PaginationStyle() integration.PaginationStyle {
	return integration.PaginationPageNumber
}

func (a *TrendyolAdapter) supplierPath(suffix string) string {
	return "/suppliers/" + url.PathEscape(a.settings.SellerID) + suffix
}

// ---------------------------------------------------------------------------
// Order Operations
// ---------------------------------------------------------------------------

// FetchOrders lists shipment packages modified after since. The cursor is
// the zero-based page number.
func (a *TrendyolAdapter) FetchOrders(ctx context.Context, since time.Time, cursor string) (integration.OrderPage, error) {
	page := 0
	if cursor != "" {
		p, err := strconv.Atoi(cursor)
		if err != nil || p < 0 {
			return integration.OrderPage{}, fmt.Errorf("trendyol: invalid page cursor %q", cursor)
		}
		page = p
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("size", strconv.Itoa(trendyolPageSize))
	query.Set("orderByField", "PackageLastModifiedDate")
	query.Set("orderByDirection", "ASC")
	if !since.IsZero() {
		query.Set("startDate", strconv.FormatInt(since.UnixMilli(), 10))
	}

	var resp TrendyolOrderPage
	if err := a.http.doJSON(ctx, http.MethodGet, a.supplierPath("/orders"), query, nil, &resp); err != nil {
		return integration.OrderPage{}, err
	}

	result := integration.OrderPage{Orders: make([]integration.RemoteOrder, 0, len(resp.Content))}
	for i := range resp.Content {
		result.Orders = append(result.Orders, resp.Content[i].toRemoteOrder())
	}
	if page+1 < resp.TotalPages {
		result.NextCursor = strconv.Itoa(page + 1)
	}
	return result, nil
}

// ---------------------------------------------------------------------------
// Product Operations
// ---------------------------------------------------------------------------

// UpsertProduct creates the product when it has no remote ID yet and updates
// it otherwise. Trendyol processes the batch asynchronously.
func (a *TrendyolAdapter) UpsertProduct(ctx context.Context, product integration.Product) (string, error) {
	barcode := product.RemoteID
	if barcode == "" {
		barcode = product.Barcode
	}
	if barcode == "" {
		barcode = product.SKU
	}
	if barcode == "" || product.Title == "" {
		return "", &integration.ValidationError{Marketplace: a.Code(), Detail: "barcode and title are required"}
	}

	item := TrendyolProductItem{
		Barcode:       barcode,
		Title:         product.Title,
		ProductMainID: product.SKU,
		BrandName:     product.Brand,
		CategoryID:    product.CategoryID,
		Quantity:      product.Stock,
		StockCode:     product.SKU,
		Description:   product.Description,
		CurrencyType:  currencyOr(product.Price.Currency, "TRY"),
		ListPrice:     listPriceOf(product.Price),
		SalePrice:     product.Price.Amount,
		VATRate:       product.VATRate,
	}
	for _, img := range product.Images {
		item.Images = append(item.Images, TrendyolProductImage{URL: img})
	}

	method := http.MethodPost
	if product.RemoteID != "" {
		method = http.MethodPut
	}
	var resp TrendyolBatchResponse
	body := TrendyolProductBatch{Items: []TrendyolProductItem{item}}
	if err := a.http.doJSON(ctx, method, a.supplierPath("/v2/products"), nil, body, &resp); err != nil {
		return "", err
	}
	return barcode, nil
}

// UpdateStock sets the sellable quantity of a barcode
func (a *TrendyolAdapter) UpdateStock(ctx context.Context, remoteID string, qty int64) error {
	body := TrendyolPriceInventoryRequest{Items: []TrendyolPriceInventoryItem{{Barcode: remoteID, Quantity: &qty}}}
	return a.http.doJSON(ctx, http.MethodPost, a.supplierPath("/products/price-and-inventory"), nil, body, nil)
}

// UpdatePrice sets the sale and list price of a barcode
func (a *TrendyolAdapter) UpdatePrice(ctx context.Context, remoteID string, price integration.Price) error {
	sale := price.Amount
	list := listPriceOf(price)
	body := TrendyolPriceInventoryRequest{Items: []TrendyolPriceInventoryItem{{Barcode: remoteID, SalePrice: &sale, ListPrice: &list}}}
	return a.http.doJSON(ctx, http.MethodPost, a.supplierPath("/products/price-and-inventory"), nil, body, nil)
}

// FetchCategories returns the flattened category tree
func (a *TrendyolAdapter) FetchCategories(ctx context.Context) ([]integration.RemoteCategory, error) {
	var resp TrendyolCategoryTree
	if err := a.http.doJSON(ctx, http.MethodGet, "/product-categories", nil, nil, &resp); err != nil {
		return nil, err
	}
	return flattenTrendyolCategories(resp.Categories, nil), nil
}

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

// SignatureHeader returns the header carrying the HMAC signature
func (a *TrendyolAdapter) SignatureHeader() string {
	return a.headers.signature
}

// TimestampHeader returns the header carrying the delivery timestamp
func (a *TrendyolAdapter) TimestampHeader() string {
	return a.headers.timestamp
}

// DecodeWebhook parses a Trendyol webhook delivery
func (a *TrendyolAdapter) DecodeWebhook(header http.Header, body []byte) (*integration.WebhookNotification, error) {
	var env TrendyolWebhook
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	n, err := a.headers.notification(header, env.EventID, env.Timestamp)
	if err != nil {
		return nil, err
	}
	eventName := env.EventType
	if eventName == "" {
		eventName = header.Get(a.headers.event)
	}

	var order *integration.RemoteOrder
	if env.Order != nil && env.Order.OrderNumber != "" {
		o := env.Order.toRemoteOrder()
		order = &o
	}
	if ev, ok := webhookEvent(trendyolEventTypes.canonical(eventName), env.Barcode, order); ok {
		n.Events = append(n.Events, ev)
	}
	return n, nil
}

func currencyOr(currency, fallback string) string {
	if currency == "" {
		return fallback
	}
	return currency
}

func listPriceOf(p integration.Price) decimal.Decimal {
	if p.ListPrice.IsZero() {
		return p.Amount
	}
	return p.ListPrice
}

// Ensure TrendyolAdapter implements the adapter ports
var (
	_ integration.MarketplaceAdapter = (*TrendyolAdapter)(nil)
	_ integration.WebhookDecoder     = (*TrendyolAdapter)(nil)
)
