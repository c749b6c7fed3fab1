package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/meschain/syncengine/internal/infrastructure/ratelimit"
	"go.uber.org/zap"
)

// maxStatusRaces bounds the compare-and-set loop of one status refresh.
const maxStatusRaces = 3

// orderListEntityID is the Sync Log entity ID of order list calls.
const orderListEntityID = "order_list"

// ingestOutcome tells what ingesting one remote order changed.
type ingestOutcome int

const (
	ingestUnchanged ingestOutcome = iota
	ingestCreated
	ingestStatusChanged
)

// syncOrders polls a marketplace for orders changed since the flow watermark
// and ingests every page. The marketplace is authoritative for order status.
func (o *Orchestrator) syncOrders(ctx context.Context, rt *MarketplaceRuntime, f *flowRun, summary *integration.RunSummary) {
	runStart := summary.StartedAt
	watermark, _ := f.snapshot()

	since := runStart.Add(-o.config.OrderLookback)
	if !watermark.IsZero() {
		since = watermark.Add(-o.config.OrderOverlap)
	}

	complete := true
	cursor := ""
	key := ratelimit.AttemptKey{
		EntityType: integration.EntityOrder,
		EntityID:   orderListEntityID,
		Operation:  integration.OperationFetchOrders,
	}

	for page := 0; ; page++ {
		if page >= o.config.MaxOrderPages {
			o.logger.Warn("Order pagination limit reached",
				zap.String("marketplace", string(rt.Code())),
				zap.String("pagination", string(rt.Adapter.PaginationStyle())),
				zap.Int("pages", page))
			complete = false
			break
		}

		var result integration.OrderPage
		err := rt.Client.Execute(ctx, key, func(ctx context.Context) error {
			p, err := rt.Adapter.FetchOrders(ctx, since, cursor)
			result = p
			return err
		})
		if err != nil {
			kind := integration.Classify(err)
			if kind == integration.ErrorKindAuth {
				o.suppress(ctx, f.key, err)
			} else {
				o.logger.Warn("Failed to fetch orders",
					zap.String("marketplace", string(rt.Code())),
					zap.String("cursor", cursor),
					zap.String("error_kind", string(kind)),
					zap.Error(err))
			}
			summary.RecordFailure(kind)
			complete = false
			break
		}

		for i := range result.Orders {
			order := result.Orders[i]
			order.Marketplace = rt.Code()
			outcome, err := o.ingestOrder(ctx, &order)
			switch {
			case err != nil:
				summary.RecordFailure(integration.Classify(err))
				complete = false
			case outcome == ingestUnchanged:
				summary.RecordSkip()
			default:
				summary.RecordSuccess()
			}
		}

		if result.NextCursor == "" || result.NextCursor == cursor {
			break
		}
		cursor = result.NextCursor
		if ctx.Err() != nil {
			complete = false
			break
		}
	}

	f.advance(runStart, complete, nil)
}

// ingestOrder upserts the order mapping keyed by (marketplace, remote order
// ID), creates the local order on first sight and applies status changes.
// Replays of an already applied status only refresh last_synced_at.
func (o *Orchestrator) ingestOrder(ctx context.Context, order *integration.RemoteOrder) (ingestOutcome, error) {
	started := o.clock.Now()
	outcome, err := o.applyOrder(ctx, order, started)
	if err != nil || outcome != ingestUnchanged {
		o.recordIngest(ctx, order, err, started)
	}
	if err != nil {
		fields := []zap.Field{
			zap.String("marketplace", string(order.Marketplace)),
			zap.String("entity_type", string(integration.EntityOrder)),
			zap.String("entity_id", order.RemoteOrderID),
			zap.Error(err),
		}
		if integration.Classify(err) == integration.ErrorKindConflict {
			o.logger.Error("Order mapping identity conflict", fields...)
			o.alert(ctx, integration.Alert{
				Severity:    integration.AlertCritical,
				Kind:        integration.ErrorKindConflict,
				Marketplace: order.Marketplace,
				EntityType:  integration.EntityOrder,
				EntityID:    order.RemoteOrderID,
				Message:     err.Error(),
			})
		} else {
			o.logger.Warn("Order ingestion failed", fields...)
		}
	}
	return outcome, err
}

func (o *Orchestrator) applyOrder(ctx context.Context, order *integration.RemoteOrder, now time.Time) (ingestOutcome, error) {
	candidate, err := integration.NewOrderMapping(order, now)
	if err != nil {
		return ingestUnchanged, err
	}
	stored, created, err := o.orders.Claim(ctx, candidate)
	if err != nil {
		return ingestUnchanged, fmt.Errorf("claim order mapping: %w", err)
	}

	outcome := ingestUnchanged
	if created {
		outcome = ingestCreated
	}
	if !stored.HasLocalOrder() {
		localID, err := o.orderWriter.CreateOrder(ctx, order)
		if err != nil {
			return ingestUnchanged, fmt.Errorf("create local order: %w", err)
		}
		if err := o.orders.SetLocalOrderID(ctx, stored.ID, localID); err != nil {
			return ingestUnchanged, fmt.Errorf("bind local order: %w", err)
		}
		stored.LocalOrderID = localID
		o.logger.Info("Order ingested",
			zap.String("marketplace", string(order.Marketplace)),
			zap.String("entity_id", order.RemoteOrderID),
			zap.String("local_order_id", localID),
			zap.String("status", order.Status))
		outcome = ingestCreated
	}
	if created {
		return outcome, nil
	}

	for race := 0; race < maxStatusRaces; race++ {
		if !stored.ShouldApply(order.Status, order.RemoteUpdatedAt) {
			if err := o.orders.Touch(ctx, stored.ID, now); err != nil {
				return outcome, fmt.Errorf("touch order mapping: %w", err)
			}
			return outcome, nil
		}

		previous := stored.RemoteStatus
		applied, err := o.orders.CompareAndSetStatus(ctx, stored, order.Status, order.RemoteUpdatedAt)
		if err != nil {
			return outcome, fmt.Errorf("update order status: %w", err)
		}
		if applied {
			if err := o.orderWriter.UpdateOrderStatus(ctx, stored.LocalOrderID, order.Status); err != nil {
				return outcome, fmt.Errorf("update local order status: %w", err)
			}
			o.logger.Info("Order status changed",
				zap.String("marketplace", string(order.Marketplace)),
				zap.String("entity_id", order.RemoteOrderID),
				zap.String("from", previous),
				zap.String("to", order.Status))
			if outcome == ingestUnchanged {
				outcome = ingestStatusChanged
			}
			return outcome, nil
		}

		stored, err = o.orders.FindByRemote(ctx, order.Marketplace, order.RemoteOrderID)
		if err != nil {
			return outcome, fmt.Errorf("reload order mapping: %w", err)
		}
	}
	return outcome, errors.New("order status kept changing under concurrent writers")
}

// recordIngest appends the entity-level outcome of an inbound order.
// Outbound attempt rows are written by the rate-limited client.
func (o *Orchestrator) recordIngest(ctx context.Context, order *integration.RemoteOrder, err error, started time.Time) {
	entry := &integration.SyncLogEntry{
		Marketplace: order.Marketplace,
		EntityType:  integration.EntityOrder,
		EntityID:    order.RemoteOrderID,
		Operation:   integration.OperationIngestOrder,
		Status:      integration.SyncLogSuccess,
		ErrorKind:   integration.Classify(err),
		StartedAt:   started,
		FinishedAt:  o.clock.Now(),
	}
	if err != nil {
		entry.Status = integration.SyncLogFailed
		entry.ErrorDetail = errorDetail(err)
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
	defer cancel()
	if appendErr := o.syncLog.Append(writeCtx, entry); appendErr != nil {
		o.logger.Error("Failed to append sync log entry",
			zap.String("marketplace", string(order.Marketplace)),
			zap.String("entity_id", order.RemoteOrderID),
			zap.Error(appendErr))
	}
}
