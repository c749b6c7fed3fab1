package ecommerce

import (
	"strings"

	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Trendyol API wire types
// ---------------------------------------------------------------------------

// TrendyolOrderPage is the response of GET /suppliers/{id}/orders
type TrendyolOrderPage struct {
	Page          int             `json:"page"`
	Size          int             `json:"size"`
	TotalPages    int             `json:"totalPages"`
	TotalElements int             `json:"totalElements"`
	Content       []TrendyolOrder `json:"content"`
}

// TrendyolOrder is one shipment package of a Trendyol order
type TrendyolOrder struct {
	OrderNumber           string              `json:"orderNumber"`
	ShipmentPackageStatus string              `json:"shipmentPackageStatus"`
	Status                string              `json:"status"`
	TotalPrice            decimal.Decimal     `json:"totalPrice"`
	CurrencyCode          string              `json:"currencyCode"`
	CustomerFirstName     string              `json:"customerFirstName"`
	CustomerLastName      string              `json:"customerLastName"`
	OrderDate             int64               `json:"orderDate"`
	LastModifiedDate      int64               `json:"lastModifiedDate"`
	Lines                 []TrendyolOrderLine `json:"lines"`
}

// TrendyolOrderLine is one product line of a shipment package
type TrendyolOrderLine struct {
	Barcode     string          `json:"barcode"`
	MerchantSku string          `json:"merchantSku"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

// TrendyolProductItem is one product of a v2/products batch
type TrendyolProductItem struct {
	Barcode       string                 `json:"barcode"`
	Title         string                 `json:"title"`
	ProductMainID string                 `json:"productMainId"`
	BrandName     string                 `json:"brandName,omitempty"`
	CategoryID    string                 `json:"categoryId,omitempty"`
	Quantity      int64                  `json:"quantity"`
	StockCode     string                 `json:"stockCode"`
	Description   string                 `json:"description"`
	CurrencyType  string                 `json:"currencyType"`
	ListPrice     decimal.Decimal        `json:"listPrice"`
	SalePrice     decimal.Decimal        `json:"salePrice"`
	VATRate       int                    `json:"vatRate"`
	Images        []TrendyolProductImage `json:"images,omitempty"`
}

// TrendyolProductImage is an image reference
type TrendyolProductImage struct {
	URL string `json:"url"`
}

// TrendyolProductBatch is the request body of product create/update
type TrendyolProductBatch struct {
	Items []TrendyolProductItem `json:"items"`
}

// TrendyolBatchResponse is the asynchronous batch acknowledgement
type TrendyolBatchResponse struct {
	BatchRequestID string `json:"batchRequestId"`
}

// TrendyolPriceInventoryItem updates stock and/or price of a barcode
type TrendyolPriceInventoryItem struct {
	Barcode   string           `json:"barcode"`
	Quantity  *int64           `json:"quantity,omitempty"`
	SalePrice *decimal.Decimal `json:"salePrice,omitempty"`
	ListPrice *decimal.Decimal `json:"listPrice,omitempty"`
}

// TrendyolPriceInventoryRequest is the body of price-and-inventory
type TrendyolPriceInventoryRequest struct {
	Items []TrendyolPriceInventoryItem `json:"items"`
}

// TrendyolCategory is a node of the category tree
type TrendyolCategory struct {
	ID            int64              `json:"id"`
	Name          string             `json:"name"`
	ParentID      int64              `json:"parentId"`
	SubCategories []TrendyolCategory `json:"subCategories"`
}

// TrendyolCategoryTree is the response of GET /product-categories
type TrendyolCategoryTree struct {
	Categories []TrendyolCategory `json:"categories"`
}

// TrendyolWebhook is the envelope of a Trendyol webhook delivery
type TrendyolWebhook struct {
	EventID   string         `json:"eventId"`
	EventType string         `json:"eventType"`
	Timestamp string         `json:"timestamp"`
	Order     *TrendyolOrder `json:"order,omitempty"`
	Barcode   string         `json:"barcode,omitempty"`
}

// ---------------------------------------------------------------------------
// Status mapping
// ---------------------------------------------------------------------------

// mapTrendyolOrderStatus maps Trendyol package status to the canonical order status
func mapTrendyolOrderStatus(status string) string {
	switch strings.ToLower(status) {
	case "created", "awaiting":
		return integration.OrderStatusPending
	case "picking", "invoiced":
		return integration.OrderStatusProcessing
	case "shipped":
		return integration.OrderStatusShipped
	case "delivered":
		return integration.OrderStatusDelivered
	case "cancelled", "undelivered", "unsupplied":
		return integration.OrderStatusCancelled
	case "returned":
		return integration.OrderStatusReturned
	default:
		return strings.ToLower(status)
	}
}

var trendyolEventTypes = eventTypeTable{
	"ordercreated":          integration.EventOrderCreated,
	"orderstatuschanged":    integration.EventOrderUpdated,
	"ordercancelled":        integration.EventOrderCancelled,
	"orderreturned":         integration.EventOrderReturned,
	"productapproved":       integration.EventProductApproved,
	"productrejected":       integration.EventProductRejected,
	"productdeleted":        integration.EventProductDeleted,
	"stockupdated":          integration.EventInventoryUpdated,
	"outofstock":            integration.EventInventoryOutOfStock,
	"pricechanged":          integration.EventPriceUpdated,
	"buyboxpricechanged":    integration.EventPriceUpdated,
	"shipmentpackagestatus": integration.EventOrderUpdated,
}

func (o *TrendyolOrder) toRemoteOrder() integration.RemoteOrder {
	status := o.ShipmentPackageStatus
	if status == "" {
		status = o.Status
	}
	order := integration.RemoteOrder{
		Marketplace:     integration.MarketplaceTrendyol,
		RemoteOrderID:   o.OrderNumber,
		Status:          mapTrendyolOrderStatus(status),
		Total:           o.TotalPrice,
		Currency:        o.CurrencyCode,
		CustomerName:    strings.TrimSpace(o.CustomerFirstName + " " + o.CustomerLastName),
		CreatedAt:       millisToTime(o.OrderDate),
		RemoteUpdatedAt: millisToTime(o.LastModifiedDate),
		Lines:           make([]integration.OrderLine, 0, len(o.Lines)),
	}
	if order.Currency == "" {
		order.Currency = "TRY"
	}
	for _, l := range o.Lines {
		order.Lines = append(order.Lines, integration.OrderLine{
			RemoteProductID: l.Barcode,
			SKU:             l.MerchantSku,
			Quantity:        l.Quantity,
			UnitPrice:       l.Price,
		})
	}
	return order
}

func flattenTrendyolCategories(nodes []TrendyolCategory, out []integration.RemoteCategory) []integration.RemoteCategory {
	for _, n := range nodes {
		rc := integration.RemoteCategory{
			RemoteID: formatID(n.ID),
			Name:     n.Name,
			Leaf:     len(n.SubCategories) == 0,
		}
		if n.ParentID != 0 {
			rc.ParentID = formatID(n.ParentID)
		}
		out = append(out, rc)
		out = flattenTrendyolCategories(n.SubCategories, out)
	}
	return out
}
