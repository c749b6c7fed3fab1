package ecommerce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/meschain/syncengine/internal/domain/integration"
	"golang.org/x/oauth2"
)

const (
	// EbayProductionAPIURL is the production Sell API endpoint
	EbayProductionAPIURL = "https://api.ebay.com"
	// EbayTokenURL is the OAuth token endpoint
	EbayTokenURL = "https://api.ebay.com/identity/v1/oauth2/token"

	ebayDefaultMarketplace = "EBAY_US"
	ebayOrdersPageSize     = "50"
)

var ebayScopes = []string{
	"https://api.ebay.com/oauth/api_scope/sell.inventory",
	"https://api.ebay.com/oauth/api_scope/sell.fulfillment",
}

// EbayAdapter talks to the eBay Sell APIs. Inventory items are addressed by
// SKU, which is the remote product ID.
type EbayAdapter struct {
	settings *Settings
	http     *transport
	headers  webhookHeaders
}

// NewEbayAdapter creates a new eBay adapter
func NewEbayAdapter(s *Settings) (*EbayAdapter, error) {
	if s.BaseURL == "" {
		s.BaseURL = EbayProductionAPIURL
	}
	if s.TokenURL == "" {
		s.TokenURL = EbayTokenURL
	}
	if s.MarketplaceID == "" {
		s.MarketplaceID = ebayDefaultMarketplace
	}
	if err := s.requireOAuth(); err != nil {
		return nil, err
	}

	tokens := refreshTokenSource(s, s.TokenURL, oauth2.AuthStyleInHeader, ebayScopes...)
	code, marketplaceID := s.Code, s.MarketplaceID
	t, err := newTransport(s, func(_ context.Context, req *http.Request) error {
		tok, err := tokens.Token()
		if err != nil {
			return tokenError(code, err)
		}
		tok.SetAuthHeader(req)
		req.Header.Set("X-EBAY-C-MARKETPLACE-ID", marketplaceID)
		req.Header.Set("Content-Language", "en-US")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &EbayAdapter{settings: s, http: t, headers: headersFor("Ebay")}, nil
}

// Code returns the marketplace code this adapter handles
func (a *EbayAdapter) Code() integration.MarketplaceCode {
	return a.settings.Code
}

// PaginationStyle returns cursor paging through the next link
func (a *EbayAdapter) PaginationStyle() integration.PaginationStyle {
	return integration.PaginationCursor
}

// FetchOrders lists orders modified after since. The cursor is the "next"
// link of the previous page, which must point at the configured host.
func (a *EbayAdapter) FetchOrders(ctx context.Context, since time.Time, cursor string) (integration.OrderPage, error) {
	var resp EbayOrderSearch
	if cursor != "" {
		if !a.http.sameHost(cursor) {
			return integration.OrderPage{}, fmt.Errorf("ebay: refusing pagination link to foreign host %q", cursor)
		}
		if err := a.http.doURL(ctx, http.MethodGet, cursor, nil, &resp); err != nil {
			return integration.OrderPage{}, err
		}
	} else {
		query := url.Values{}
		query.Set("limit", ebayOrdersPageSize)
		if !since.IsZero() {
			query.Set("filter", "lastmodifieddate:["+since.UTC().Format("2006-01-02T15:04:05.000Z")+"..]")
		}
		if err := a.http.doJSON(ctx, http.MethodGet, "/sell/fulfillment/v1/order", query, nil, &resp); err != nil {
			return integration.OrderPage{}, err
		}
	}

	result := integration.OrderPage{
		Orders:     make([]integration.RemoteOrder, 0, len(resp.Orders)),
		NextCursor: resp.Next,
	}
	for i := range resp.Orders {
		result.Orders = append(result.Orders, resp.Orders[i].toRemoteOrder())
	}
	return result, nil
}

// UpsertProduct creates or replaces the inventory item for the SKU
func (a *EbayAdapter) UpsertProduct(ctx context.Context, product integration.Product) (string, error) {
	sku := product.RemoteID
	if sku == "" {
		sku = product.SKU
	}
	if sku == "" || product.Title == "" {
		return "", &integration.ValidationError{Marketplace: a.Code(), Detail: "SKU and title are required"}
	}

	var item EbayInventoryItem
	item.Condition = "NEW"
	item.Availability.ShipToLocationAvailability.Quantity = product.Stock
	item.Product = EbayProduct{
		Title:       product.Title,
		Description: product.Description,
		Brand:       product.Brand,
		ImageURLs:   product.Images,
	}
	if product.Barcode != "" {
		item.Product.EAN = []string{product.Barcode}
	}

	path := "/sell/inventory/v1/inventory_item/" + url.PathEscape(sku)
	if err := a.http.doJSON(ctx, http.MethodPut, path, nil, item, nil); err != nil {
		return "", err
	}
	return sku, nil
}

// UpdateStock sets the ship-to-location quantity of a SKU
func (a *EbayAdapter) UpdateStock(ctx context.Context, remoteID string, qty int64) error {
	return a.bulkUpdate(ctx, EbayPriceQuantity{SKU: remoteID, ShipToLocationAvailability: &EbayQuantity{Quantity: qty}})
}

// UpdatePrice looks up the SKU's offer and sets its price
func (a *EbayAdapter) UpdatePrice(ctx context.Context, remoteID string, price integration.Price) error {
	query := url.Values{}
	query.Set("sku", remoteID)
	var offers EbayOffers
	if err := a.http.doJSON(ctx, http.MethodGet, "/sell/inventory/v1/offer", query, nil, &offers); err != nil {
		return err
	}
	if len(offers.Offers) == 0 {
		return &integration.NotFoundError{Marketplace: a.Code(), RemoteID: remoteID}
	}

	prices := make([]EbayOfferPrice, 0, len(offers.Offers))
	for _, o := range offers.Offers {
		prices = append(prices, EbayOfferPrice{
			OfferID: o.OfferID,
			Price:   EbayAmount{Value: price.Amount, Currency: currencyOr(price.Currency, "USD")},
		})
	}
	return a.bulkUpdate(ctx, EbayPriceQuantity{SKU: remoteID, Offers: prices})
}

func (a *EbayAdapter) bulkUpdate(ctx context.Context, req EbayPriceQuantity) error {
	var resp EbayBulkResponse
	body := EbayBulkPriceQuantity{Requests: []EbayPriceQuantity{req}}
	if err := a.http.doJSON(ctx, http.MethodPost, "/sell/inventory/v1/bulk_update_price_quantity", nil, body, &resp); err != nil {
		return err
	}
	for _, r := range resp.Responses {
		switch {
		case r.StatusCode == 0 || r.StatusCode < 300:
			continue
		case r.StatusCode == http.StatusNotFound:
			return &integration.NotFoundError{Marketplace: a.Code(), RemoteID: r.SKU}
		default:
			msgs := make([]string, 0, len(r.Errors))
			for _, e := range r.Errors {
				msgs = append(msgs, e.Message)
			}
			return &integration.ValidationError{Marketplace: a.Code(), StatusCode: r.StatusCode, Detail: strings.Join(msgs, "; ")}
		}
	}
	return nil
}

// FetchCategories resolves the marketplace's default category tree and flattens it
func (a *EbayAdapter) FetchCategories(ctx context.Context) ([]integration.RemoteCategory, error) {
	query := url.Values{}
	query.Set("marketplace_id", a.settings.MarketplaceID)
	var treeID EbayCategoryTreeID
	if err := a.http.doJSON(ctx, http.MethodGet, "/commerce/taxonomy/v1/get_default_category_tree_id", query, nil, &treeID); err != nil {
		return nil, err
	}

	var tree EbayCategoryTree
	path := "/commerce/taxonomy/v1/category_tree/" + url.PathEscape(treeID.CategoryTreeID)
	if err := a.http.doJSON(ctx, http.MethodGet, path, nil, nil, &tree); err != nil {
		return nil, err
	}
	return flattenEbayCategories(tree.RootCategoryNode, "", nil), nil
}

// SignatureHeader returns the header carrying the HMAC signature
func (a *EbayAdapter) SignatureHeader() string {
	return a.headers.signature
}

// TimestampHeader returns the header carrying the delivery timestamp
func (a *EbayAdapter) TimestampHeader() string {
	return a.headers.timestamp
}

// DecodeWebhook parses an eBay notification. Order topics carry only the
// order ID; the order flow fetches the full order.
func (a *EbayAdapter) DecodeWebhook(header http.Header, body []byte) (*integration.WebhookNotification, error) {
	var env EbayNotification
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	ts := env.Notification.PublishDate
	if ts == "" {
		ts = env.Notification.EventDate
	}
	n, err := a.headers.notification(header, env.Notification.NotificationID, ts)
	if err != nil {
		return nil, err
	}
	topic := env.Metadata.Topic
	if topic == "" {
		topic = header.Get(a.headers.event)
	}
	remoteID := env.Notification.Data.SKU
	if env.Notification.Data.OrderID != "" {
		remoteID = env.Notification.Data.OrderID
	}
	if ev, ok := webhookEvent(ebayEventTypes.canonical(topic), remoteID, nil); ok {
		n.Events = append(n.Events, ev)
	}
	return n, nil
}

// Ensure EbayAdapter implements the adapter ports
var (
	_ integration.MarketplaceAdapter = (*EbayAdapter)(nil)
	_ integration.WebhookDecoder     = (*EbayAdapter)(nil)
)
