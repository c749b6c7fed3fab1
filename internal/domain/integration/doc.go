// Package integration contains the marketplace synchronization bounded context.
// It reconciles the local catalog and order book with remote marketplaces.
//
// Key concepts:
//   - Marketplace: configured remote system with its rate-limit and retry policy
//   - MarketplaceAdapter: port translating canonical operations into marketplace calls
//   - ProductMapping / OrderMapping: local-ID to remote-ID relations
//   - SyncEvent: transient unit of work produced by pollers and webhooks
//   - SyncLogEntry: append-only audit row for every sync attempt
//   - PendingSyncEvent: durable retry row for events that could not be processed in time
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
