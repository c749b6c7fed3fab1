package ecommerce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/meschain/syncengine/internal/domain/integration"
	"golang.org/x/oauth2"
)

const (
	// AmazonEUAPIURL is the SP-API endpoint for the EU region
	AmazonEUAPIURL = "https://sellingpartnerapi-eu.amazon.com"
	// AmazonLWATokenURL is the Login with Amazon token endpoint
	AmazonLWATokenURL = "https://api.amazon.com/auth/o2/token"

	amazonDefaultProductType = "PRODUCT"
	amazonOrdersPageSize     = "100"
)

// AmazonAdapter talks to the Selling Partner API. Listings are addressed by
// seller SKU, which is the remote product ID.
type AmazonAdapter struct {
	settings *Settings
	http     *transport
	headers  webhookHeaders
}

// NewAmazonAdapter creates a new Amazon adapter
func NewAmazonAdapter(s *Settings) (*AmazonAdapter, error) {
	if s.BaseURL == "" {
		s.BaseURL = AmazonEUAPIURL
	}
	if s.TokenURL == "" {
		s.TokenURL = AmazonLWATokenURL
	}
	if err := s.requireOAuth(); err != nil {
		return nil, err
	}
	if s.SellerID == "" {
		return nil, fmt.Errorf("%w (%s)", ErrSettingsMissingSellerID, s.Code)
	}
	if s.MarketplaceID == "" {
		return nil, fmt.Errorf("%w (%s)", ErrSettingsMissingMarketplace, s.Code)
	}

	tokens := refreshTokenSource(s, s.TokenURL, oauth2.AuthStyleInParams)
	code := s.Code
	t, err := newTransport(s, func(_ context.Context, req *http.Request) error {
		tok, err := tokens.Token()
		if err != nil {
			return tokenError(code, err)
		}
		req.Header.Set("x-amz-access-token", tok.AccessToken)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &AmazonAdapter{settings: s, http: t, headers: headersFor("Amazon")}, nil
}

// Code returns the marketplace code this adapter handles
func (a *AmazonAdapter) Code() integration.MarketplaceCode {
	return a.settings.Code
}

// PaginationStyle returns time-window paging continued by NextToken
func (a *AmazonAdapter) PaginationStyle() integration.PaginationStyle {
	return integration.PaginationTimeWindow
}

func (a *AmazonAdapter) listingPath(sku string) string {
	return "/listings/2021-08-01/items/" + url.PathEscape(a.settings.SellerID) + "/" + url.PathEscape(sku)
}

func (a *AmazonAdapter) marketplaceQuery() url.Values {
	q := url.Values{}
	q.Set("marketplaceIds", a.settings.MarketplaceID)
	return q
}

// FetchOrders lists orders updated after since. The cursor is the SP-API
// NextToken, which replaces the time window on follow-up pages.
func (a *AmazonAdapter) FetchOrders(ctx context.Context, since time.Time, cursor string) (integration.OrderPage, error) {
	query := url.Values{}
	query.Set("MarketplaceIds", a.settings.MarketplaceID)
	if cursor != "" {
		query.Set("NextToken", cursor)
	} else {
		if since.IsZero() {
			since = time.Now().Add(-24 * time.Hour)
		}
		query.Set("LastUpdatedAfter", since.UTC().Format(time.RFC3339))
		query.Set("MaxResultsPerPage", amazonOrdersPageSize)
	}

	var resp AmazonOrdersResponse
	if err := a.http.doJSON(ctx, http.MethodGet, "/orders/v0/orders", query, nil, &resp); err != nil {
		return integration.OrderPage{}, err
	}
	result := integration.OrderPage{
		Orders:     make([]integration.RemoteOrder, 0, len(resp.Payload.Orders)),
		NextCursor: resp.Payload.NextToken,
	}
	for i := range resp.Payload.Orders {
		result.Orders = append(result.Orders, resp.Payload.Orders[i].toRemoteOrder())
	}
	return result, nil
}

// UpsertProduct puts the full listing for the seller SKU
func (a *AmazonAdapter) UpsertProduct(ctx context.Context, product integration.Product) (string, error) {
	sku := product.RemoteID
	if sku == "" {
		sku = product.SKU
	}
	if sku == "" || product.Title == "" {
		return "", &integration.ValidationError{Marketplace: a.Code(), Detail: "seller SKU and title are required"}
	}
	mid := a.settings.MarketplaceID
	attrs := map[string]any{
		"item_name":                amazonAttr(mid, product.Title),
		"fulfillment_availability": []any{map[string]any{"fulfillment_channel_code": "DEFAULT", "quantity": product.Stock}},
		"purchasable_offer":        amazonOffer(mid, product.Price),
	}
	if product.Brand != "" {
		attrs["brand"] = amazonAttr(mid, product.Brand)
	}
	if product.Description != "" {
		attrs["product_description"] = amazonAttr(mid, product.Description)
	}
	if product.Barcode != "" {
		attrs["externally_assigned_product_identifier"] = []any{map[string]any{"type": "ean", "value": product.Barcode, "marketplace_id": mid}}
	}
	if len(product.Images) > 0 {
		attrs["main_product_image_locator"] = []any{map[string]any{"media_location": product.Images[0], "marketplace_id": mid}}
	}

	body := AmazonListingRequest{
		ProductType:  amazonProductType(product.CategoryID),
		Requirements: "LISTING",
		Attributes:   attrs,
	}
	var resp AmazonListingResponse
	if err := a.http.doJSON(ctx, http.MethodPut, a.listingPath(sku), a.marketplaceQuery(), body, &resp); err != nil {
		return "", err
	}
	if err := a.checkSubmission(resp); err != nil {
		return "", err
	}
	return sku, nil
}

// UpdateStock patches the fulfillment availability of a listing
func (a *AmazonAdapter) UpdateStock(ctx context.Context, remoteID string, qty int64) error {
	return a.patch(ctx, remoteID, AmazonPatch{
		Op:    "replace",
		Path:  "/attributes/fulfillment_availability",
		Value: []any{map[string]any{"fulfillment_channel_code": "DEFAULT", "quantity": qty}},
	})
}

// UpdatePrice patches the purchasable offer of a listing
func (a *AmazonAdapter) UpdatePrice(ctx context.Context, remoteID string, price integration.Price) error {
	return a.patch(ctx, remoteID, AmazonPatch{
		Op:    "replace",
		Path:  "/attributes/purchasable_offer",
		Value: amazonOffer(a.settings.MarketplaceID, price),
	})
}

func (a *AmazonAdapter) patch(ctx context.Context, sku string, p AmazonPatch) error {
	body := AmazonPatchRequest{ProductType: amazonDefaultProductType, Patches: []AmazonPatch{p}}
	var resp AmazonListingResponse
	if err := a.http.doJSON(ctx, http.MethodPatch, a.listingPath(sku), a.marketplaceQuery(), body, &resp); err != nil {
		return err
	}
	return a.checkSubmission(resp)
}

func (a *AmazonAdapter) checkSubmission(resp AmazonListingResponse) error {
	if resp.Status == "INVALID" {
		return &integration.ValidationError{Marketplace: a.Code(), StatusCode: http.StatusOK, Detail: amazonIssues(resp.Issues)}
	}
	return nil
}

// FetchCategories lists the product types available in the marketplace
func (a *AmazonAdapter) FetchCategories(ctx context.Context) ([]integration.RemoteCategory, error) {
	var resp AmazonProductTypes
	if err := a.http.doJSON(ctx, http.MethodGet, "/definitions/2020-09-01/productTypes", a.marketplaceQuery(), nil, &resp); err != nil {
		return nil, err
	}
	out := make([]integration.RemoteCategory, 0, len(resp.ProductTypes))
	for _, pt := range resp.ProductTypes {
		name := pt.DisplayName
		if name == "" {
			name = pt.Name
		}
		out = append(out, integration.RemoteCategory{RemoteID: pt.Name, Name: name, Leaf: true})
	}
	return out, nil
}

// SignatureHeader returns the header carrying the HMAC signature
func (a *AmazonAdapter) SignatureHeader() string {
	return a.headers.signature
}

// TimestampHeader returns the header carrying the delivery timestamp
func (a *AmazonAdapter) TimestampHeader() string {
	return a.headers.timestamp
}

// DecodeWebhook parses a forwarded SP-API notification. Order notifications
// carry only the order ID; the order flow fetches the full order.
func (a *AmazonAdapter) DecodeWebhook(header http.Header, body []byte) (*integration.WebhookNotification, error) {
	var env AmazonNotification
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	ts := env.NotificationMetadata.PublishTime
	if ts == "" {
		ts = env.EventTime
	}
	n, err := a.headers.notification(header, env.NotificationMetadata.NotificationID, ts)
	if err != nil {
		return nil, err
	}
	eventName := env.NotificationType
	if eventName == "" {
		eventName = header.Get(a.headers.event)
	}
	if ev, ok := webhookEvent(amazonEventTypes.canonical(eventName), env.remoteID(), nil); ok {
		n.Events = append(n.Events, ev)
	}
	return n, nil
}

func amazonProductType(categoryID string) string {
	if categoryID == "" {
		return amazonDefaultProductType
	}
	return categoryID
}

func amazonOffer(marketplaceID string, price integration.Price) []any {
	return []any{map[string]any{
		"marketplace_id": marketplaceID,
		"currency":       currencyOr(price.Currency, "EUR"),
		"our_price": []any{map[string]any{
			"schedule": []any{map[string]any{"value_with_tax": price.Amount}},
		}},
	}}
}

// Ensure AmazonAdapter implements the adapter ports
var (
	_ integration.MarketplaceAdapter = (*AmazonAdapter)(nil)
	_ integration.WebhookDecoder     = (*AmazonAdapter)(nil)
)
