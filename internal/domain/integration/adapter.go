package integration

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Canonical entities
// ---------------------------------------------------------------------------

// Price is a canonical price. ListPrice may be zero when the marketplace has
// no separate list price.
type Price struct {
	Amount    decimal.Decimal
	ListPrice decimal.Decimal
	Currency  string
}

// Product is the canonical product pushed to marketplaces. RemoteID is empty
// for a create and set for an update.
type Product struct {
	LocalID        string
	SKU            string
	Barcode        string
	Title          string
	Description    string
	Brand          string
	CategoryID     string
	Price          Price
	Stock          int64
	VATRate        int
	Images         []string
	RemoteID       string
	UpdatedAt      time.Time
	StockUpdatedAt time.Time
	PriceUpdatedAt time.Time
}

// ChangedAt returns the watermark relevant to an outbound flow.
func (p *Product) ChangedAt(et EntityType) time.Time {
	switch et {
	case EntityInventory:
		return p.StockUpdatedAt
	case EntityPrice:
		return p.PriceUpdatedAt
	default:
		return p.UpdatedAt
	}
}

// OrderLine is one line of a remote order.
type OrderLine struct {
	RemoteProductID string
	SKU             string
	Quantity        int64
	UnitPrice       decimal.Decimal
}

// Canonical order statuses. Adapters map marketplace statuses onto these and
// keep unknown ones verbatim.
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
	OrderStatusReturned   = "returned"
)

// RemoteOrder is the canonical form of an order observed on a marketplace.
// RemoteUpdatedAt is the marketplace-side version used for last-write-wins.
type RemoteOrder struct {
	Marketplace     MarketplaceCode
	RemoteOrderID   string
	Status          string
	Total           decimal.Decimal
	Currency        string
	CustomerName    string
	Lines           []OrderLine
	CreatedAt       time.Time
	RemoteUpdatedAt time.Time
}

// OrderPage is one page of FetchOrders. An empty NextCursor ends the listing.
type OrderPage struct {
	Orders     []RemoteOrder
	NextCursor string
}

// RemoteCategory is a marketplace category.
type RemoteCategory struct {
	RemoteID string
	Name     string
	ParentID string
	Leaf     bool
}

// ---------------------------------------------------------------------------
// Adapter ports
// ---------------------------------------------------------------------------

// MarketplaceAdapter translates canonical operations into one logical HTTP
// operation against a marketplace. Adapters never retry, rate-limit or log;
// failures are returned as the typed errors in errors.go.
type MarketplaceAdapter interface {
	Code() MarketplaceCode
	PaginationStyle() PaginationStyle
	FetchOrders(ctx context.Context, since time.Time, cursor string) (OrderPage, error)
	UpsertProduct(ctx context.Context, product Product) (string, error)
	UpdateStock(ctx context.Context, remoteID string, qty int64) error
	UpdatePrice(ctx context.Context, remoteID string, price Price) error
	FetchCategories(ctx context.Context) ([]RemoteCategory, error)
}

// WebhookEvent is one decoded notification inside a webhook delivery.
type WebhookEvent struct {
	EventType  string
	EntityType EntityType
	Operation  Operation
	RemoteID   string
	Order      *RemoteOrder
}

// WebhookNotification is a decoded, marketplace-agnostic webhook delivery.
type WebhookNotification struct {
	EventID   string
	Timestamp time.Time
	Events    []WebhookEvent
}

// WebhookDecoder is implemented by adapters whose marketplace pushes webhooks.
type WebhookDecoder interface {
	SignatureHeader() string
	TimestampHeader() string
	DecodeWebhook(header http.Header, body []byte) (*WebhookNotification, error)
}

// ---------------------------------------------------------------------------
// Credentials
// ---------------------------------------------------------------------------

// Credentials is resolved from a marketplace's CredentialRef at wiring time.
type Credentials struct {
	APIKey        string
	APISecret     string
	ClientID      string
	ClientSecret  string
	RefreshToken  string
	WebhookSecret string
}

// CredentialResolver is the credential-store collaborator.
type CredentialResolver interface {
	Resolve(ctx context.Context, ref string) (Credentials, error)
}

// IngestResult is the outcome of one webhook delivery.
type IngestResult string

const (
	IngestAccepted  IngestResult = "accepted"
	IngestDuplicate IngestResult = "duplicate"
	IngestRejected  IngestResult = "rejected"
	IngestOverflow  IngestResult = "overflow"
	IngestDropped   IngestResult = "dropped"
)
