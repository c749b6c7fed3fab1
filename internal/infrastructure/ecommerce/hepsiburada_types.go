package ecommerce

import (
	"strings"
	"time"

	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Hepsiburada API wire types
// ---------------------------------------------------------------------------

// HepsiburadaMoney is an amount with currency
type HepsiburadaMoney struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// HepsiburadaOrderList is the response of GET /orders/merchantid/{id}
type HepsiburadaOrderList struct {
	TotalCount int                `json:"totalCount"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
	Items      []HepsiburadaOrder `json:"items"`
}

// HepsiburadaOrder is one order
type HepsiburadaOrder struct {
	OrderNumber          string                 `json:"orderNumber"`
	Status               string                 `json:"status"`
	TotalPrice           HepsiburadaMoney       `json:"totalPrice"`
	Customer             HepsiburadaCustomer    `json:"customer"`
	Items                []HepsiburadaOrderItem `json:"items"`
	OrderDate            string                 `json:"orderDate"`
	LastStatusUpdateDate string                 `json:"lastStatusUpdateDate"`
}

// HepsiburadaCustomer is the buyer of an order
type HepsiburadaCustomer struct {
	Name string `json:"name"`
}

// HepsiburadaOrderItem is one line item
type HepsiburadaOrderItem struct {
	HepsiburadaSku string           `json:"hepsiburadaSku"`
	MerchantSku    string           `json:"merchantSku"`
	Quantity       int64            `json:"quantity"`
	Price          HepsiburadaMoney `json:"price"`
}

// HepsiburadaProduct is one catalog import item
type HepsiburadaProduct struct {
	MerchantSku string                  `json:"merchantSku"`
	CategoryID  string                  `json:"categoryId,omitempty"`
	Attributes  HepsiburadaProductAttrs `json:"attributes"`
}

// HepsiburadaProductAttrs are the catalog attributes of a product
type HepsiburadaProductAttrs struct {
	UrunAdi      string   `json:"UrunAdi"`
	UrunAciklama string   `json:"UrunAciklamasi,omitempty"`
	Marka        string   `json:"Marka,omitempty"`
	Barcode      string   `json:"Barcode,omitempty"`
	KDV          string   `json:"tax_vat_rate,omitempty"`
	Price        string   `json:"price"`
	Stock        string   `json:"stock"`
	Images       []string `json:"images,omitempty"`
}

// HepsiburadaImportResponse acknowledges a catalog import
type HepsiburadaImportResponse struct {
	Success bool `json:"success"`
	Data    struct {
		TrackingID     string `json:"trackingId"`
		HepsiburadaSku string `json:"hepsiburadaSku"`
	} `json:"data"`
	Message string `json:"message"`
}

// HepsiburadaStockUpload sets the available stock of a listing
type HepsiburadaStockUpload struct {
	HepsiburadaSku string `json:"hepsiburadaSku"`
	AvailableStock int64  `json:"availableStock"`
}

// HepsiburadaPriceUpload sets the price of a listing
type HepsiburadaPriceUpload struct {
	HepsiburadaSku string          `json:"hepsiburadaSku"`
	Price          decimal.Decimal `json:"price"`
}

// HepsiburadaCategoryPage is one page of GET /product/api/categories/get-all-categories
type HepsiburadaCategoryPage struct {
	Success    bool                  `json:"success"`
	TotalPages int                   `json:"totalPages"`
	Data       []HepsiburadaCategory `json:"data"`
}

// HepsiburadaCategory is a flat category row
type HepsiburadaCategory struct {
	CategoryID       int64  `json:"categoryId"`
	Name             string `json:"name"`
	ParentCategoryID int64  `json:"parentCategoryId"`
	Leaf             bool   `json:"leaf"`
}

// HepsiburadaWebhook is the envelope of a Hepsiburada webhook delivery
type HepsiburadaWebhook struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	CreatedAt string            `json:"createdAt"`
	Order     *HepsiburadaOrder `json:"order,omitempty"`
	Sku       string            `json:"hepsiburadaSku,omitempty"`
}

// ---------------------------------------------------------------------------
// Status mapping
// ---------------------------------------------------------------------------

// mapHepsiburadaOrderStatus maps Hepsiburada order status to the canonical order status
func mapHepsiburadaOrderStatus(status string) string {
	switch strings.ToLower(status) {
	case "open", "unpacked":
		return integration.OrderStatusPending
	case "packed", "readytoship":
		return integration.OrderStatusProcessing
	case "shipped", "intransit":
		return integration.OrderStatusShipped
	case "delivered":
		return integration.OrderStatusDelivered
	case "cancelled", "cancelledbymerchant", "cancelledbycustomer":
		return integration.OrderStatusCancelled
	case "returned", "claimcreated":
		return integration.OrderStatusReturned
	default:
		return strings.ToLower(status)
	}
}

var hepsiburadaEventTypes = eventTypeTable{
	"createorder":    integration.EventOrderCreated,
	"orderupdated":   integration.EventOrderUpdated,
	"cancelorder":    integration.EventOrderCancelled,
	"createclaim":    integration.EventOrderReturned,
	"listingupdated": integration.EventProductUpdated,
	"listingdeleted": integration.EventProductDeleted,
	"stockchanged":   integration.EventInventoryUpdated,
	"pricechanged":   integration.EventPriceUpdated,
}

func (o *HepsiburadaOrder) toRemoteOrder() integration.RemoteOrder {
	order := integration.RemoteOrder{
		Marketplace:   integration.MarketplaceHepsiburada,
		RemoteOrderID: o.OrderNumber,
		Status:        mapHepsiburadaOrderStatus(o.Status),
		Total:         o.TotalPrice.Amount,
		Currency:      currencyOr(o.TotalPrice.Currency, "TRY"),
		CustomerName:  o.Customer.Name,
		Lines:         make([]integration.OrderLine, 0, len(o.Items)),
	}
	order.CreatedAt, _ = parseLooseTime(o.OrderDate)
	order.RemoteUpdatedAt, _ = parseLooseTime(o.LastStatusUpdateDate)
	for _, it := range o.Items {
		order.Lines = append(order.Lines, integration.OrderLine{
			RemoteProductID: it.HepsiburadaSku,
			SKU:             it.MerchantSku,
			Quantity:        it.Quantity,
			UnitPrice:       it.Price.Amount,
		})
	}
	return order
}

// parseLooseTime accepts RFC 3339 with or without a zone designator.
func parseLooseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := parseTimestamp(s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
