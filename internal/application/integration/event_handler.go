package integration

import (
	"context"
	"errors"
	"fmt"

	"github.com/meschain/syncengine/internal/domain/integration"
	"go.uber.org/zap"
)

// remoteDeletedReason is stored on a mapping whose remote product was deleted.
const remoteDeletedReason = "remote product deleted by marketplace"

// HandleEvent processes one webhook or replayed event right away, bypassing
// the poll timer but holding the flow's non-reentrancy lock. Processing is
// bounded by the webhook deadline.
//
// A nil error means the event needs no further attention, including
// non-retryable entity failures already recorded on the mapping. Errors are
// ErrMarketplaceSuppressed, deadline errors and retryable failures.
func (o *Orchestrator) HandleEvent(ctx context.Context, event integration.SyncEvent) error {
	rt, ok := o.Runtime(event.Marketplace)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMarketplaceUnknown, event.Marketplace)
	}
	if !rt.Enabled() {
		return fmt.Errorf("%w: %s", ErrMarketplaceDisabled, event.Marketplace)
	}
	if o.IsSuppressed(event.Marketplace) {
		return ErrMarketplaceSuppressed
	}

	ctx, cancel := context.WithTimeout(ctx, o.config.WebhookTimeout)
	defer cancel()

	f := o.flow(event.FlowKey())
	if err := f.acquire(ctx); err != nil {
		return err
	}
	defer f.release()

	switch {
	case event.EntityType == integration.EntityOrder:
		return o.handleOrderEvent(ctx, rt, event)
	case event.Operation == integration.OperationRemoteDeleted:
		return o.handleRemoteDeleted(ctx, event)
	default:
		return o.handleOutboundEvent(ctx, rt, f, event)
	}
}

func (o *Orchestrator) handleOrderEvent(ctx context.Context, rt *MarketplaceRuntime, event integration.SyncEvent) error {
	if event.Order == nil {
		// The notification only named the order; the order flow fetches it.
		_, err := o.Trigger(rt.Code(), integration.EntityOrder, false)
		return err
	}
	order := *event.Order
	order.Marketplace = rt.Code()
	_, err := o.ingestOrder(ctx, &order)
	return err
}

// handleRemoteDeleted marks the mapping of a product the marketplace deleted.
// The row is kept for history.
func (o *Orchestrator) handleRemoteDeleted(ctx context.Context, event integration.SyncEvent) error {
	localID, found, err := o.localProductID(ctx, event)
	if err != nil || !found {
		return err
	}
	if err := o.mappings.MarkError(ctx, localID, event.Marketplace, remoteDeletedReason); err != nil {
		return fmt.Errorf("mark deleted product mapping: %w", err)
	}
	o.logger.Warn("Remote product deleted",
		zap.String("marketplace", string(event.Marketplace)),
		zap.String("entity_id", localID),
		zap.String("remote_id", event.RemoteID))
	return nil
}

// handleOutboundEvent re-pushes local state for the product a webhook named.
// Local state stays authoritative for product data, stock and price.
func (o *Orchestrator) handleOutboundEvent(ctx context.Context, rt *MarketplaceRuntime, f *flowRun, event integration.SyncEvent) error {
	localID, found, err := o.localProductID(ctx, event)
	if err != nil || !found {
		return err
	}
	product, err := o.catalog.Get(ctx, localID)
	if errors.Is(err, integration.ErrLocalProductNotFound) {
		o.logger.Debug("Event for unknown local product ignored",
			zap.String("marketplace", string(event.Marketplace)),
			zap.String("entity_id", localID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load product %s: %w", localID, err)
	}

	if _, err := o.syncEntity(ctx, rt, event.EntityType, product, true); err != nil {
		kind := o.entityFailed(ctx, f.key, localID, err)
		switch {
		case kind == integration.ErrorKindAuth:
			return fmt.Errorf("%w: %v", ErrMarketplaceSuppressed, err)
		case kind == integration.ErrorKindDeadlineExceeded:
			return err
		case kind.Retryable():
			f.addFollowUp(localID)
			return err
		}
	}
	return nil
}

// localProductID resolves the local product an event refers to. Webhooks
// carry the marketplace's identifier; replays and manual events the local one.
func (o *Orchestrator) localProductID(ctx context.Context, event integration.SyncEvent) (string, bool, error) {
	if event.EntityID != "" {
		return event.EntityID, true, nil
	}
	if event.RemoteID == "" {
		return "", false, nil
	}
	localID, found, err := o.mappings.ResolveReverse(ctx, event.RemoteID, event.Marketplace)
	if err != nil {
		return "", false, fmt.Errorf("resolve remote product %s: %w", event.RemoteID, err)
	}
	if !found {
		o.logger.Debug("Event for unmapped remote product ignored",
			zap.String("marketplace", string(event.Marketplace)),
			zap.String("entity_type", string(event.EntityType)),
			zap.String("remote_id", event.RemoteID))
	}
	return localID, found, nil
}
