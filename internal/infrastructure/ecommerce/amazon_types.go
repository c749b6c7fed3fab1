package ecommerce

import (
	"strings"

	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Amazon SP-API wire types
// ---------------------------------------------------------------------------

// AmazonMoney is an SP-API currency amount
type AmazonMoney struct {
	CurrencyCode string          `json:"CurrencyCode"`
	Amount       decimal.Decimal `json:"Amount"`
}

// AmazonOrdersResponse is the response of GET /orders/v0/orders
type AmazonOrdersResponse struct {
	Payload struct {
		Orders    []AmazonOrder `json:"Orders"`
		NextToken string        `json:"NextToken"`
	} `json:"payload"`
}

// AmazonOrder is one order of the Orders API
type AmazonOrder struct {
	AmazonOrderID  string       `json:"AmazonOrderId"`
	OrderStatus    string       `json:"OrderStatus"`
	OrderTotal     *AmazonMoney `json:"OrderTotal,omitempty"`
	PurchaseDate   string       `json:"PurchaseDate"`
	LastUpdateDate string       `json:"LastUpdateDate"`
	BuyerInfo      struct {
		BuyerName string `json:"BuyerName"`
	} `json:"BuyerInfo"`
}

// AmazonListingRequest is the body of PUT /listings/2021-08-01/items
type AmazonListingRequest struct {
	ProductType  string         `json:"productType"`
	Requirements string         `json:"requirements,omitempty"`
	Attributes   map[string]any `json:"attributes"`
}

// AmazonPatch is one JSON patch of a listing
type AmazonPatch struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value []any  `json:"value"`
}

// AmazonPatchRequest is the body of PATCH /listings/2021-08-01/items
type AmazonPatchRequest struct {
	ProductType string        `json:"productType"`
	Patches     []AmazonPatch `json:"patches"`
}

// AmazonListingResponse is the listings submission result
type AmazonListingResponse struct {
	SKU          string        `json:"sku"`
	Status       string        `json:"status"`
	SubmissionID string        `json:"submissionId"`
	Issues       []AmazonIssue `json:"issues"`
}

// AmazonIssue is a listings validation issue
type AmazonIssue struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// AmazonProductTypes is the response of GET /definitions/2020-09-01/productTypes
type AmazonProductTypes struct {
	ProductTypes []struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	} `json:"productTypes"`
}

// AmazonNotification is an SP-API notification pushed to the webhook endpoint
type AmazonNotification struct {
	NotificationType string `json:"NotificationType"`
	EventTime        string `json:"EventTime"`
	Payload          struct {
		OrderChangeNotification *struct {
			AmazonOrderID string `json:"AmazonOrderId"`
		} `json:"OrderChangeNotification,omitempty"`
		SKU                string `json:"SKU,omitempty"`
		SellerSKU          string `json:"SellerSKU,omitempty"`
		OfferChangeTrigger *struct {
			SellerSKU string `json:"SellerSKU"`
		} `json:"OfferChangeTrigger,omitempty"`
	} `json:"Payload"`
	NotificationMetadata struct {
		NotificationID string `json:"NotificationId"`
		PublishTime    string `json:"PublishTime"`
	} `json:"NotificationMetadata"`
}

// remoteID extracts the entity the notification is about.
func (n *AmazonNotification) remoteID() string {
	p := n.Payload
	switch {
	case p.OrderChangeNotification != nil:
		return p.OrderChangeNotification.AmazonOrderID
	case p.OfferChangeTrigger != nil:
		return p.OfferChangeTrigger.SellerSKU
	case p.SKU != "":
		return p.SKU
	default:
		return p.SellerSKU
	}
}

// ---------------------------------------------------------------------------
// Status mapping
// ---------------------------------------------------------------------------

// mapAmazonOrderStatus maps SP-API order status to the canonical order status
func mapAmazonOrderStatus(status string) string {
	switch status {
	case "Pending", "PendingAvailability":
		return integration.OrderStatusPending
	case "Unshipped", "PartiallyShipped":
		return integration.OrderStatusProcessing
	case "Shipped", "InvoiceUnconfirmed":
		return integration.OrderStatusShipped
	case "Canceled", "Unfulfillable":
		return integration.OrderStatusCancelled
	default:
		return strings.ToLower(status)
	}
}

var amazonEventTypes = eventTypeTable{
	"order_change":                       integration.EventOrderUpdated,
	"order_status_change":                integration.EventOrderUpdated,
	"listings_item_status_change":        integration.EventProductUpdated,
	"listings_item_issues_change":        integration.EventProductRejected,
	"listings_item_deleted":              integration.EventProductDeleted,
	"any_offer_changed":                  integration.EventPriceUpdated,
	"pricing_health":                     integration.EventPriceUpdated,
	"fba_inventory_availability_changes": integration.EventInventoryUpdated,
}

func (o *AmazonOrder) toRemoteOrder() integration.RemoteOrder {
	order := integration.RemoteOrder{
		Marketplace:   integration.MarketplaceAmazon,
		RemoteOrderID: o.AmazonOrderID,
		Status:        mapAmazonOrderStatus(o.OrderStatus),
		CustomerName:  o.BuyerInfo.BuyerName,
	}
	if o.OrderTotal != nil {
		order.Total = o.OrderTotal.Amount
		order.Currency = o.OrderTotal.CurrencyCode
	}
	order.CreatedAt, _ = parseLooseTime(o.PurchaseDate)
	order.RemoteUpdatedAt, _ = parseLooseTime(o.LastUpdateDate)
	return order
}

// amazonAttr wraps a value in the per-marketplace attribute envelope.
func amazonAttr(marketplaceID string, value any) []any {
	return []any{map[string]any{"value": value, "marketplace_id": marketplaceID}}
}

func amazonIssues(issues []AmazonIssue) string {
	var b strings.Builder
	for _, is := range issues {
		if is.Severity != "ERROR" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		b.WriteString(is.Code)
		b.WriteString(": ")
		b.WriteString(is.Message)
	}
	return b.String()
}
