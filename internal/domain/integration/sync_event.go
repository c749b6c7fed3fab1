package integration

import (
	"strings"
	"time"
)

// Operation names what a sync event asks for.
type Operation string

const (
	OperationUpsertProduct Operation = "upsert_product"
	OperationUpdateStock   Operation = "update_stock"
	OperationUpdatePrice   Operation = "update_price"
	OperationIngestOrder   Operation = "ingest_order"
	OperationFetchOrders   Operation = "fetch_orders"
	OperationRemoteDeleted Operation = "remote_deleted"
	OperationFetchCategory Operation = "fetch_categories"
)

// OperationFor returns the default outbound operation of an entity type.
func OperationFor(et EntityType) Operation {
	switch et {
	case EntityInventory:
		return OperationUpdateStock
	case EntityPrice:
		return OperationUpdatePrice
	case EntityOrder:
		return OperationIngestOrder
	default:
		return OperationUpsertProduct
	}
}

// Origin tells whether an event came from a poller or a webhook.
type Origin string

const (
	OriginPoll    Origin = "poll"
	OriginWebhook Origin = "webhook"
	OriginManual  Origin = "manual"
	OriginReplay  Origin = "replay"
)

// SyncEvent is a transient unit of work. It is never persisted as such:
// it is either processed or promoted to a PendingSyncEvent.
type SyncEvent struct {
	EntityType  EntityType
	Marketplace MarketplaceCode
	// EntityID is the local product ID for outbound flows and the remote
	// order ID for order events.
	EntityID   string
	RemoteID   string
	Operation  Operation
	Order      *RemoteOrder
	Origin     Origin
	ReceivedAt time.Time
}

// FlowKey identifies the flow that must process the event.
func (e SyncEvent) FlowKey() FlowKey {
	return FlowKey{Marketplace: e.Marketplace, EntityType: e.EntityType}
}

// ---------------------------------------------------------------------------
// Webhook event vocabulary
// ---------------------------------------------------------------------------

// Webhook event types shared by every marketplace decoder.
const (
	EventOrderCreated        = "order.created"
	EventOrderUpdated        = "order.updated"
	EventOrderCancelled      = "order.cancelled"
	EventOrderReturned       = "order.returned"
	EventProductCreated      = "product.created"
	EventProductUpdated      = "product.updated"
	EventProductDeleted      = "product.deleted"
	EventProductApproved     = "product.approved"
	EventProductRejected     = "product.rejected"
	EventInventoryUpdated    = "inventory.updated"
	EventInventoryLowStock   = "inventory.low_stock"
	EventInventoryOutOfStock = "inventory.out_of_stock"
	EventPriceUpdated        = "price.updated"
)

// ClassifyEventType maps a webhook event type onto the flow and operation that
// handle it. ok is false for event types the engine ignores.
func ClassifyEventType(eventType string) (EntityType, Operation, bool) {
	eventType = strings.ToLower(strings.TrimSpace(eventType))
	switch eventType {
	case EventProductDeleted:
		return EntityProduct, OperationRemoteDeleted, true
	case EventProductCreated, EventProductUpdated, EventProductApproved, EventProductRejected:
		return EntityProduct, OperationUpsertProduct, true
	case EventInventoryUpdated, EventInventoryLowStock, EventInventoryOutOfStock:
		return EntityInventory, OperationUpdateStock, true
	case EventPriceUpdated:
		return EntityPrice, OperationUpdatePrice, true
	}
	if strings.HasPrefix(eventType, "order.") {
		return EntityOrder, OperationIngestOrder, true
	}
	return "", "", false
}
