package ecommerce

import (
	"strings"

	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// eBay Sell API wire types
// ---------------------------------------------------------------------------

// EbayAmount is a Sell API amount
type EbayAmount struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

// EbayOrderSearch is the response of GET /sell/fulfillment/v1/order
type EbayOrderSearch struct {
	Total  int         `json:"total"`
	Next   string      `json:"next"`
	Orders []EbayOrder `json:"orders"`
}

// EbayOrder is one fulfillment order
type EbayOrder struct {
	OrderID                string `json:"orderId"`
	OrderFulfillmentStatus string `json:"orderFulfillmentStatus"`
	CancelStatus           struct {
		CancelState string `json:"cancelState"`
	} `json:"cancelStatus"`
	PricingSummary struct {
		Total EbayAmount `json:"total"`
	} `json:"pricingSummary"`
	Buyer struct {
		Username string `json:"username"`
	} `json:"buyer"`
	LineItems        []EbayLineItem `json:"lineItems"`
	CreationDate     string         `json:"creationDate"`
	LastModifiedDate string         `json:"lastModifiedDate"`
}

// EbayLineItem is one order line
type EbayLineItem struct {
	SKU          string     `json:"sku"`
	LegacyItemID string     `json:"legacyItemId"`
	Quantity     int64      `json:"quantity"`
	LineItemCost EbayAmount `json:"lineItemCost"`
}

// EbayInventoryItem is the body of PUT /sell/inventory/v1/inventory_item/{sku}
type EbayInventoryItem struct {
	Availability struct {
		ShipToLocationAvailability struct {
			Quantity int64 `json:"quantity"`
		} `json:"shipToLocationAvailability"`
	} `json:"availability"`
	Condition string      `json:"condition"`
	Product   EbayProduct `json:"product"`
}

// EbayProduct is the catalog part of an inventory item
type EbayProduct struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Brand       string   `json:"brand,omitempty"`
	EAN         []string `json:"ean,omitempty"`
	ImageURLs   []string `json:"imageUrls,omitempty"`
}

// EbayBulkPriceQuantity is the body of bulk_update_price_quantity
type EbayBulkPriceQuantity struct {
	Requests []EbayPriceQuantity `json:"requests"`
}

// EbayPriceQuantity updates one SKU
type EbayPriceQuantity struct {
	SKU                        string           `json:"sku"`
	ShipToLocationAvailability *EbayQuantity    `json:"shipToLocationAvailability,omitempty"`
	Offers                     []EbayOfferPrice `json:"offers,omitempty"`
}

// EbayQuantity is an available quantity
type EbayQuantity struct {
	Quantity int64 `json:"quantity"`
}

// EbayOfferPrice sets the price of one offer
type EbayOfferPrice struct {
	OfferID string     `json:"offerId"`
	Price   EbayAmount `json:"price"`
}

// EbayBulkResponse is the per-SKU result of bulk_update_price_quantity
type EbayBulkResponse struct {
	Responses []struct {
		StatusCode int    `json:"statusCode"`
		SKU        string `json:"sku"`
		Errors     []struct {
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"responses"`
}

// EbayOffers is the response of GET /sell/inventory/v1/offer
type EbayOffers struct {
	Offers []struct {
		OfferID string `json:"offerId"`
	} `json:"offers"`
}

// EbayCategoryTreeID is the response of get_default_category_tree_id
type EbayCategoryTreeID struct {
	CategoryTreeID string `json:"categoryTreeId"`
}

// EbayCategoryTree is the response of GET /commerce/taxonomy/v1/category_tree/{id}
type EbayCategoryTree struct {
	RootCategoryNode EbayCategoryNode `json:"rootCategoryNode"`
}

// EbayCategoryNode is one node of the taxonomy tree
type EbayCategoryNode struct {
	Category struct {
		CategoryID   string `json:"categoryId"`
		CategoryName string `json:"categoryName"`
	} `json:"category"`
	LeafCategoryTreeNode   bool               `json:"leafCategoryTreeNode"`
	ChildCategoryTreeNodes []EbayCategoryNode `json:"childCategoryTreeNodes"`
}

// EbayNotification is an eBay platform notification
type EbayNotification struct {
	Metadata struct {
		Topic string `json:"topic"`
	} `json:"metadata"`
	Notification struct {
		NotificationID string `json:"notificationId"`
		EventDate      string `json:"eventDate"`
		PublishDate    string `json:"publishDate"`
		Data           struct {
			OrderID string `json:"orderId"`
			SKU     string `json:"sku"`
		} `json:"data"`
	} `json:"notification"`
}

// ---------------------------------------------------------------------------
// Status mapping
// ---------------------------------------------------------------------------

// mapEbayOrderStatus maps eBay fulfillment status to the canonical order status
func mapEbayOrderStatus(o *EbayOrder) string {
	if o.CancelStatus.CancelState == "CANCELED" {
		return integration.OrderStatusCancelled
	}
	switch o.OrderFulfillmentStatus {
	case "NOT_STARTED":
		return integration.OrderStatusPending
	case "IN_PROGRESS":
		return integration.OrderStatusProcessing
	case "FULFILLED":
		return integration.OrderStatusShipped
	default:
		return strings.ToLower(o.OrderFulfillmentStatus)
	}
}

var ebayEventTypes = eventTypeTable{
	"item_sold":           integration.EventOrderCreated,
	"order_status_change": integration.EventOrderUpdated,
	"return_created":      integration.EventOrderReturned,
	"item_ended":          integration.EventProductDeleted,
	"item_revised":        integration.EventProductUpdated,
	"item_out_of_stock":   integration.EventInventoryOutOfStock,
	"item_price_revision": integration.EventPriceUpdated,
}

func (o *EbayOrder) toRemoteOrder() integration.RemoteOrder {
	order := integration.RemoteOrder{
		Marketplace:   integration.MarketplaceEbay,
		RemoteOrderID: o.OrderID,
		Status:        mapEbayOrderStatus(o),
		Total:         o.PricingSummary.Total.Value,
		Currency:      o.PricingSummary.Total.Currency,
		CustomerName:  o.Buyer.Username,
		Lines:         make([]integration.OrderLine, 0, len(o.LineItems)),
	}
	order.CreatedAt, _ = parseLooseTime(o.CreationDate)
	order.RemoteUpdatedAt, _ = parseLooseTime(o.LastModifiedDate)
	for _, li := range o.LineItems {
		unit := li.LineItemCost.Value
		if li.Quantity > 1 {
			unit = unit.Div(decimal.NewFromInt(li.Quantity))
		}
		order.Lines = append(order.Lines, integration.OrderLine{
			RemoteProductID: li.SKU,
			SKU:             li.SKU,
			Quantity:        li.Quantity,
			UnitPrice:       unit,
		})
	}
	return order
}

func flattenEbayCategories(node EbayCategoryNode, parentID string, out []integration.RemoteCategory) []integration.RemoteCategory {
	id := node.Category.CategoryID
	// The root node is synthetic and has ID "0".
	if id != "" && id != "0" {
		out = append(out, integration.RemoteCategory{
			RemoteID: id,
			Name:     node.Category.CategoryName,
			ParentID: parentID,
			Leaf:     node.LeafCategoryTreeNode,
		})
	} else {
		id = ""
	}
	for _, child := range node.ChildCategoryTreeNodes {
		out = flattenEbayCategories(child, id, out)
	}
	return out
}
