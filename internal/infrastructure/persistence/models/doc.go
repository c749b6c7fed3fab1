// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer free
// from ORM concerns.
//
// Structure:
// - integration.go: product, category and order mappings, sync log rows
// - pending_event.go: sync events parked for replay
// - catalog.go: read view of the host catalog and ingested orders
package models

// All lists every model the engine owns, in dependency order.
func All() []any {
	return []any{
		&ProductMappingModel{},
		&CategoryMappingModel{},
		&OrderMappingModel{},
		&SyncLogEntryModel{},
		&PendingSyncEventModel{},
		&CatalogProductModel{},
		&MarketplaceOrderModel{},
	}
}
