package integration

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingSyncEvent_RoundTripsEvent(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	event := SyncEvent{
		EntityType:  EntityOrder,
		Marketplace: MarketplaceTrendyol,
		EntityID:    "TR-123",
		Operation:   OperationIngestOrder,
		Origin:      OriginWebhook,
		ReceivedAt:  now,
		Order: &RemoteOrder{
			Marketplace:   MarketplaceTrendyol,
			RemoteOrderID: "TR-123",
			Status:        "Created",
			Total:         decimal.RequireFromString("149.90"),
		},
	}

	pending, err := NewPendingSyncEvent(event, PendingReasonQueueFull, now)
	require.NoError(t, err)
	assert.Equal(t, PendingStatusPending, pending.Status)
	assert.Equal(t, PendingReasonQueueFull, pending.Reason)
	require.NotNil(t, pending.NextRetryAt)

	decoded, err := pending.Event()
	require.NoError(t, err)
	assert.Equal(t, OriginReplay, decoded.Origin)
	assert.Equal(t, "TR-123", decoded.EntityID)
	require.NotNil(t, decoded.Order)
	assert.True(t, decoded.Order.Total.Equal(decimal.RequireFromString("149.90")))
}

func TestPendingSyncEvent_MarkFailed(t *testing.T) {
	now := time.Now()
	pending, err := NewPendingSyncEvent(SyncEvent{EntityType: EntityInventory, Marketplace: MarketplaceEbay, EntityID: "P-1"}, PendingReasonDeadlineExceeded, now)
	require.NoError(t, err)
	pending.MaxRetries = 3

	require.NoError(t, pending.MarkProcessing(now))
	pending.MarkFailed("timeout", now)
	assert.Equal(t, PendingStatusFailed, pending.Status)
	assert.Equal(t, now.Add(DefaultPendingBaseBackoff), *pending.NextRetryAt)
	assert.True(t, pending.CanRetry())

	pending.MarkFailed("timeout", now)
	assert.Equal(t, now.Add(2*DefaultPendingBaseBackoff), *pending.NextRetryAt)

	pending.MarkFailed("timeout", now)
	assert.True(t, pending.IsDead())
	assert.False(t, pending.CanRetry())
	assert.Error(t, pending.MarkProcessing(now))
}

func TestPendingSyncEvent_Defer(t *testing.T) {
	now := time.Now()
	pending, err := NewPendingSyncEvent(SyncEvent{EntityType: EntityPrice, Marketplace: MarketplaceAmazon, EntityID: "P-9"}, PendingReasonSuspended, now)
	require.NoError(t, err)

	pending.Defer(now.Add(time.Hour), now)
	assert.Equal(t, 0, pending.RetryCount)
	assert.Equal(t, PendingStatusFailed, pending.Status)
	assert.Equal(t, now.Add(time.Hour), *pending.NextRetryAt)
}
