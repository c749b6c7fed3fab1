package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PendingStatus represents the status of a pending sync event
type PendingStatus string

const (
	PendingStatusPending    PendingStatus = "PENDING"
	PendingStatusProcessing PendingStatus = "PROCESSING"
	PendingStatusSent       PendingStatus = "SENT"
	PendingStatusFailed     PendingStatus = "FAILED"
	PendingStatusDead       PendingStatus = "DEAD"
)

// PendingReason records why an event was parked instead of processed.
type PendingReason string

const (
	PendingReasonQueueFull        PendingReason = "queue_full"
	PendingReasonDeadlineExceeded PendingReason = "deadline_exceeded"
	PendingReasonSuspended        PendingReason = "marketplace_suspended"
	PendingReasonShutdown         PendingReason = "shutdown"
	PendingReasonFailed           PendingReason = "processing_failed"
)

// Default retry configuration
const (
	DefaultPendingMaxRetries  = 8
	DefaultPendingBaseBackoff = 5 * time.Second
	// DefaultPendingProcessingLease is how long a claimed row may stay
	// PROCESSING before another replayer may take it over.
	DefaultPendingProcessingLease = 10 * time.Minute
	maxPendingBackoff         = 30 * time.Minute
)

// PendingSyncEvent is the durable retry row for a SyncEvent that could not be
// handed to or finished by its flow.
type PendingSyncEvent struct {
	ID          uuid.UUID
	Marketplace MarketplaceCode
	EntityType  EntityType
	EntityID    string
	Operation   Operation
	Origin      Origin
	Reason      PendingReason
	Payload     []byte
	Status      PendingStatus
	RetryCount  int
	MaxRetries  int
	LastError   string
	NextRetryAt *time.Time
	ProcessedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// pendingPayload is the serialized SyncEvent.
type pendingPayload struct {
	EntityType  EntityType      `json:"entity_type"`
	Marketplace MarketplaceCode `json:"marketplace"`
	EntityID    string          `json:"entity_id"`
	RemoteID    string          `json:"remote_id,omitempty"`
	Operation   Operation       `json:"operation"`
	Origin      Origin          `json:"origin"`
	Order       *RemoteOrder    `json:"order,omitempty"`
	ReceivedAt  time.Time       `json:"received_at"`
}

// NewPendingSyncEvent parks an event for later replay.
func NewPendingSyncEvent(event SyncEvent, reason PendingReason, now time.Time) (*PendingSyncEvent, error) {
	payload, err := json.Marshal(pendingPayload{
		EntityType:  event.EntityType,
		Marketplace: event.Marketplace,
		EntityID:    event.EntityID,
		RemoteID:    event.RemoteID,
		Operation:   event.Operation,
		Origin:      event.Origin,
		Order:       event.Order,
		ReceivedAt:  event.ReceivedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode pending event: %w", err)
	}
	return &PendingSyncEvent{
		ID:          uuid.New(),
		Marketplace: event.Marketplace,
		EntityType:  event.EntityType,
		EntityID:    event.EntityID,
		Operation:   event.Operation,
		Origin:      event.Origin,
		Reason:      reason,
		Payload:     payload,
		Status:      PendingStatusPending,
		MaxRetries:  DefaultPendingMaxRetries,
		NextRetryAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Event decodes the parked SyncEvent.
func (e *PendingSyncEvent) Event() (SyncEvent, error) {
	var p pendingPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return SyncEvent{}, fmt.Errorf("decode pending event %s: %w", e.ID, err)
	}
	return SyncEvent{
		EntityType:  p.EntityType,
		Marketplace: p.Marketplace,
		EntityID:    p.EntityID,
		RemoteID:    p.RemoteID,
		Operation:   p.Operation,
		Order:       p.Order,
		Origin:      OriginReplay,
		ReceivedAt:  p.ReceivedAt,
	}, nil
}

// CanRetry returns true if the entry can be retried
func (e *PendingSyncEvent) CanRetry() bool {
	return e.Status == PendingStatusFailed && e.RetryCount < e.MaxRetries
}

// MarkProcessing marks the entry as being processed
func (e *PendingSyncEvent) MarkProcessing(now time.Time) error {
	if e.Status != PendingStatusPending && e.Status != PendingStatusFailed {
		return errors.New("can only mark pending or failed entries as processing")
	}
	e.Status = PendingStatusProcessing
	e.UpdatedAt = now
	return nil
}

// MarkSent marks the entry as handed back to its flow.
func (e *PendingSyncEvent) MarkSent(now time.Time) {
	e.Status = PendingStatusSent
	e.ProcessedAt = &now
	e.UpdatedAt = now
}

// MarkFailed records a failed replay and schedules the next one with
// exponential backoff, or moves the entry to DEAD at MaxRetries.
func (e *PendingSyncEvent) MarkFailed(errMsg string, now time.Time) {
	e.RetryCount++
	e.LastError = errMsg
	e.UpdatedAt = now

	if e.RetryCount >= e.MaxRetries {
		e.Status = PendingStatusDead
		e.NextRetryAt = nil
		return
	}
	e.Status = PendingStatusFailed
	backoff := DefaultPendingBaseBackoff * time.Duration(1<<uint(e.RetryCount-1))
	if backoff > maxPendingBackoff {
		backoff = maxPendingBackoff
	}
	next := now.Add(backoff)
	e.NextRetryAt = &next
}

// Defer reschedules without counting a retry, used while the marketplace is suspended.
func (e *PendingSyncEvent) Defer(until time.Time, now time.Time) {
	e.Status = PendingStatusFailed
	e.NextRetryAt = &until
	e.UpdatedAt = now
}

// IsDead returns true if the entry is in dead letter status
func (e *PendingSyncEvent) IsDead() bool {
	return e.Status == PendingStatusDead
}

// PendingEventRepository defines the interface for pending event persistence
type PendingEventRepository interface {
	// Save persists one or more entries
	Save(ctx context.Context, entries ...*PendingSyncEvent) error
	// FindDue retrieves PENDING and FAILED entries whose next retry is due,
	// and PROCESSING entries whose claim lease has expired
	FindDue(ctx context.Context, now time.Time, limit int) ([]*PendingSyncEvent, error)
	// MarkProcessing atomically claims entries and returns the claimed ones
	MarkProcessing(ctx context.Context, ids []uuid.UUID) ([]*PendingSyncEvent, error)
	// Update updates an existing entry
	Update(ctx context.Context, entry *PendingSyncEvent) error
	// DeleteSentBefore deletes SENT entries processed before the given time
	DeleteSentBefore(ctx context.Context, before time.Time) (int64, error)
	// CountByStatus returns count of entries for each status
	CountByStatus(ctx context.Context) (map[PendingStatus]int64, error)
}
