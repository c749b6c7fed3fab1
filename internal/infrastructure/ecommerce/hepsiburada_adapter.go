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
)

const (
	// HepsiburadaProductionAPIURL is the production listing/order gateway
	HepsiburadaProductionAPIURL = "https://mpop.hepsiburada.com"
	hepsiburadaPageSize         = 100
	hepsiburadaCategoryPageSize = 1000
	hepsiburadaMaxCategoryPages = 200
)

// HepsiburadaAdapter talks to the Hepsiburada merchant API. Listings are
// addressed by their Hepsiburada SKU, which is the remote product ID.
type HepsiburadaAdapter struct {
	settings *Settings
	http     *transport
	headers  webhookHeaders
}

// NewHepsiburadaAdapter creates a new Hepsiburada adapter
func NewHepsiburadaAdapter(s *Settings) (*HepsiburadaAdapter, error) {
	if s.BaseURL == "" {
		s.BaseURL = HepsiburadaProductionAPIURL
	}
	if err := s.requireBasicAuth(); err != nil {
		return nil, err
	}
	key, secret := s.Credentials.APIKey, s.Credentials.APISecret
	t, err := newTransport(s, func(_ context.Context, req *http.Request) error {
		req.SetBasicAuth(key, secret)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &HepsiburadaAdapter{settings: s, http: t, headers: headersFor("Hepsiburada")}, nil
}

// Code returns the marketplace code this adapter handles
func (a *HepsiburadaAdapter) Code() integration.MarketplaceCode {
	return a.settings.Code
}

// PaginationStyle returns offset paging, exposed to callers as an opaque cursor
func (a *HepsiburadaAdapter) PaginationStyle() integration.PaginationStyle {
	return integration.PaginationCursor
}

func (a *HepsiburadaAdapter) merchantPath(prefix, suffix string) string {
	return prefix + "/merchantid/" + url.PathEscape(a.settings.SellerID) + suffix
}

// FetchOrders lists orders updated after since. The cursor is the row offset.
func (a *HepsiburadaAdapter) FetchOrders(ctx context.Context, since time.Time, cursor string) (integration.OrderPage, error) {
	offset := 0
	if cursor != "" {
		o, err := strconv.Atoi(cursor)
		if err != nil || o < 0 {
			return integration.OrderPage{}, fmt.Errorf("hepsiburada: invalid offset cursor %q", cursor)
		}
		offset = o
	}

	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(hepsiburadaPageSize))
	if !since.IsZero() {
		query.Set("begindate", since.UTC().Format("2006-01-02 15:04"))
	}

	var resp HepsiburadaOrderList
	if err := a.http.doJSON(ctx, http.MethodGet, a.merchantPath("/orders", ""), query, nil, &resp); err != nil {
		return integration.OrderPage{}, err
	}

	result := integration.OrderPage{Orders: make([]integration.RemoteOrder, 0, len(resp.Items))}
	for i := range resp.Items {
		result.Orders = append(result.Orders, resp.Items[i].toRemoteOrder())
	}
	next := offset + len(resp.Items)
	if len(resp.Items) > 0 && next < resp.TotalCount {
		result.NextCursor = strconv.Itoa(next)
	}
	return result, nil
}

// UpsertProduct imports the product into the catalog. The Hepsiburada SKU
// returned by the import becomes the remote ID; until it is assigned the
// merchant SKU stands in.
func (a *HepsiburadaAdapter) UpsertProduct(ctx context.Context, product integration.Product) (string, error) {
	if product.SKU == "" || product.Title == "" {
		return "", &integration.ValidationError{Marketplace: a.Code(), Detail: "merchant SKU and title are required"}
	}
	item := HepsiburadaProduct{
		MerchantSku: product.SKU,
		CategoryID:  product.CategoryID,
		Attributes: HepsiburadaProductAttrs{
			UrunAdi:      product.Title,
			UrunAciklama: product.Description,
			Marka:        product.Brand,
			Barcode:      product.Barcode,
			Price:        product.Price.Amount.StringFixed(2),
			Stock:        strconv.FormatInt(product.Stock, 10),
			Images:       product.Images,
		},
	}
	if product.VATRate > 0 {
		item.Attributes.KDV = strconv.Itoa(product.VATRate)
	}

	var resp HepsiburadaImportResponse
	if err := a.http.doJSON(ctx, http.MethodPost, "/product/api/products/import", nil, []HepsiburadaProduct{item}, &resp); err != nil {
		return "", err
	}
	if !resp.Success && resp.Message != "" {
		return "", &integration.ValidationError{Marketplace: a.Code(), StatusCode: http.StatusOK, Detail: resp.Message}
	}
	switch {
	case product.RemoteID != "":
		return product.RemoteID, nil
	case resp.Data.HepsiburadaSku != "":
		return resp.Data.HepsiburadaSku, nil
	default:
		return product.SKU, nil
	}
}

// UpdateStock uploads the available stock of a listing
func (a *HepsiburadaAdapter) UpdateStock(ctx context.Context, remoteID string, qty int64) error {
	body := []HepsiburadaStockUpload{{HepsiburadaSku: remoteID, AvailableStock: qty}}
	return a.http.doJSON(ctx, http.MethodPost, a.merchantPath("/listings", "/stock-uploads"), nil, body, nil)
}

// UpdatePrice uploads the price of a listing
func (a *HepsiburadaAdapter) UpdatePrice(ctx context.Context, remoteID string, price integration.Price) error {
	body := []HepsiburadaPriceUpload{{HepsiburadaSku: remoteID, Price: price.Amount}}
	return a.http.doJSON(ctx, http.MethodPost, a.merchantPath("/listings", "/price-uploads"), nil, body, nil)
}

// FetchCategories walks every page of the category listing
func (a *HepsiburadaAdapter) FetchCategories(ctx context.Context) ([]integration.RemoteCategory, error) {
	var out []integration.RemoteCategory
	for page := 0; page < hepsiburadaMaxCategoryPages; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("size", strconv.Itoa(hepsiburadaCategoryPageSize))

		var resp HepsiburadaCategoryPage
		if err := a.http.doJSON(ctx, http.MethodGet, "/product/api/categories/get-all-categories", query, nil, &resp); err != nil {
			return nil, err
		}
		for _, c := range resp.Data {
			rc := integration.RemoteCategory{RemoteID: formatID(c.CategoryID), Name: c.Name, Leaf: c.Leaf}
			if c.ParentCategoryID != 0 {
				rc.ParentID = formatID(c.ParentCategoryID)
			}
			out = append(out, rc)
		}
		if page+1 >= resp.TotalPages || len(resp.Data) == 0 {
			break
		}
	}
	return out, nil
}

// SignatureHeader returns the header carrying the HMAC signature
func (a *HepsiburadaAdapter) SignatureHeader() string {
	return a.headers.signature
}

// TimestampHeader returns the header carrying the delivery timestamp
func (a *HepsiburadaAdapter) TimestampHeader() string {
	return a.headers.timestamp
}

// DecodeWebhook parses a Hepsiburada webhook delivery
func (a *HepsiburadaAdapter) DecodeWebhook(header http.Header, body []byte) (*integration.WebhookNotification, error) {
	var env HepsiburadaWebhook
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	n, err := a.headers.notification(header, env.ID, env.CreatedAt)
	if err != nil {
		return nil, err
	}
	eventName := env.Type
	if eventName == "" {
		eventName = header.Get(a.headers.event)
	}
	var order *integration.RemoteOrder
	if env.Order != nil && env.Order.OrderNumber != "" {
		o := env.Order.toRemoteOrder()
		order = &o
	}
	if ev, ok := webhookEvent(hepsiburadaEventTypes.canonical(eventName), env.Sku, order); ok {
		n.Events = append(n.Events, ev)
	}
	return n, nil
}

// Ensure HepsiburadaAdapter implements the adapter ports
var (
	_ integration.MarketplaceAdapter = (*HepsiburadaAdapter)(nil)
	_ integration.WebhookDecoder     = (*HepsiburadaAdapter)(nil)
)
