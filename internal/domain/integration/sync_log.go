package integration

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrSyncLogInvalidEntry = errors.New("integration: invalid sync log entry")

// SyncLogStatus is the outcome of one recorded attempt.
type SyncLogStatus string

const (
	SyncLogSuccess   SyncLogStatus = "success"
	SyncLogFailed    SyncLogStatus = "failed"
	SyncLogRetrying  SyncLogStatus = "retrying"
	SyncLogAbandoned SyncLogStatus = "abandoned"
)

// SyncLogEntry is an immutable audit row. AttemptNumber is assigned by the
// store on Append and is strictly increasing per (marketplace, entity_type, entity_id).
type SyncLogEntry struct {
	ID            uuid.UUID
	Marketplace   MarketplaceCode
	EntityType    EntityType
	EntityID      string
	Operation     Operation
	AttemptNumber int
	Status        SyncLogStatus
	ErrorKind     ErrorKind
	ErrorDetail   string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Validate validates the entry before it is appended.
func (e *SyncLogEntry) Validate() error {
	if e.Marketplace == "" || !e.EntityType.IsValid() || e.EntityID == "" {
		return ErrSyncLogInvalidEntry
	}
	switch e.Status {
	case SyncLogSuccess, SyncLogFailed, SyncLogRetrying, SyncLogAbandoned:
	default:
		return ErrSyncLogInvalidEntry
	}
	if e.FinishedAt.Before(e.StartedAt) {
		return ErrSyncLogInvalidEntry
	}
	return nil
}

// SyncLogFilter selects rows for Query.
type SyncLogFilter struct {
	Marketplace MarketplaceCode
	EntityType  EntityType
	EntityID    string
	Statuses    []SyncLogStatus
	From        time.Time
	To          time.Time
	Limit       int
}

// SyncLog is the append-only audit trail.
type SyncLog interface {
	// Append stores a new row, assigning ID and AttemptNumber.
	Append(ctx context.Context, entry *SyncLogEntry) error

	// Query returns rows newest first.
	Query(ctx context.Context, filter SyncLogFilter) ([]SyncLogEntry, error)
}
