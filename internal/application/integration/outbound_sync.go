package integration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/meschain/syncengine/internal/infrastructure/ratelimit"
	"go.uber.org/zap"
)

// workItem is one local product an outbound run pushes.
type workItem struct {
	product integration.Product
	// retry lets the item through even if its mapping is in error status.
	retry bool
}

// syncOutbound pushes local product, stock or price changes to a marketplace.
// Local state is authoritative; the marketplace never pushes it back.
func (o *Orchestrator) syncOutbound(ctx context.Context, rt *MarketplaceRuntime, f *flowRun, retryErrors bool, summary *integration.RunSummary) {
	runStart := summary.StartedAt
	watermark, followUps := f.snapshot()

	work, err := o.outboundWorkSet(ctx, rt.Code(), f.key.EntityType, watermark, followUps, retryErrors)
	if err != nil {
		o.logger.Error("Failed to build sync work set",
			zap.String("marketplace", string(rt.Code())),
			zap.String("entity_type", string(f.key.EntityType)),
			zap.Error(err))
		summary.RecordFailure(integration.Classify(err))
		return
	}

	next := make(map[string]struct{})
	complete := true
	for i, item := range work {
		if ctx.Err() != nil {
			remaining := work[i:]
			summary.RecordAbandoned(len(remaining))
			for _, r := range remaining {
				next[r.product.LocalID] = struct{}{}
			}
			complete = false
			o.logger.Warn("Sync run deadline reached",
				zap.String("marketplace", string(rt.Code())),
				zap.String("entity_type", string(f.key.EntityType)),
				zap.Int("abandoned", len(remaining)))
			break
		}

		product := item.product
		synced, err := o.syncEntity(ctx, rt, f.key.EntityType, &product, item.retry)
		if err == nil {
			if synced {
				summary.RecordSuccess()
			} else {
				summary.RecordSkip()
			}
			continue
		}

		kind := o.entityFailed(ctx, f.key, product.LocalID, err)
		switch kind {
		case integration.ErrorKindAuth:
			summary.RecordFailure(kind)
			rest := work[i+1:]
			summary.RecordAbandoned(len(rest))
			next[product.LocalID] = struct{}{}
			for _, r := range rest {
				next[r.product.LocalID] = struct{}{}
			}
			f.advance(runStart, false, next)
			return
		case integration.ErrorKindDeadlineExceeded:
			summary.RecordAbandoned(1)
			next[product.LocalID] = struct{}{}
			complete = false
		default:
			summary.RecordFailure(kind)
			if kind.Retryable() || kind == integration.ErrorKindInternal {
				next[product.LocalID] = struct{}{}
			}
		}
	}

	f.advance(runStart, complete, next)
}

// outboundWorkSet returns the products changed since the flow watermark, the
// follow-ups left by earlier runs and, with retryErrors, every product whose
// mapping is in error status.
func (o *Orchestrator) outboundWorkSet(
	ctx context.Context,
	code integration.MarketplaceCode,
	et integration.EntityType,
	since time.Time,
	followUps map[string]struct{},
	retryErrors bool,
) ([]workItem, error) {
	changed, err := o.catalog.ListChangedSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list changed products: %w", err)
	}

	seen := make(map[string]struct{}, len(changed))
	work := make([]workItem, 0, len(changed)+len(followUps))
	for _, p := range changed {
		if !since.IsZero() && !p.ChangedAt(et).After(since) {
			continue
		}
		_, retry := followUps[p.LocalID]
		work = append(work, workItem{product: p, retry: retry || retryErrors})
		seen[p.LocalID] = struct{}{}
	}

	extra := make([]string, 0, len(followUps))
	for id := range followUps {
		if _, ok := seen[id]; !ok {
			extra = append(extra, id)
			seen[id] = struct{}{}
		}
	}
	if retryErrors {
		errored, err := o.mappings.FindByMarketplace(ctx, code, integration.ProductMappingFilter{
			Statuses: []integration.SyncStatus{integration.SyncStatusError},
		})
		if err != nil {
			return nil, fmt.Errorf("list errored mappings: %w", err)
		}
		for _, m := range errored {
			if _, ok := seen[m.LocalProductID]; !ok {
				extra = append(extra, m.LocalProductID)
				seen[m.LocalProductID] = struct{}{}
			}
		}
	}

	for _, id := range extra {
		p, err := o.catalog.Get(ctx, id)
		if errors.Is(err, integration.ErrLocalProductNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load product %s: %w", id, err)
		}
		work = append(work, workItem{product: *p, retry: true})
	}

	sort.SliceStable(work, func(i, j int) bool {
		return work[i].product.LocalID < work[j].product.LocalID
	})
	return work, nil
}

// syncEntity pushes one product to the marketplace for an outbound flow.
// An unmapped product is created first. A NotFound on a mapped product
// invalidates the mapping, re-creates the product and retries once. It
// returns false when the entity was skipped.
func (o *Orchestrator) syncEntity(ctx context.Context, rt *MarketplaceRuntime, et integration.EntityType, product *integration.Product, retry bool) (bool, error) {
	code := rt.Code()
	mapping, err := o.mappings.Get(ctx, product.LocalID, code)
	switch {
	case errors.Is(err, integration.ErrMappingNotFound):
		mapping = nil
	case err != nil:
		return false, fmt.Errorf("load mapping: %w", err)
	}
	if mapping != nil && !retry {
		if mapping.SyncStatus == integration.SyncStatusError {
			return false, nil
		}
		// Already pushed: the local change predates the last successful sync.
		if mapping.SyncStatus == integration.SyncStatusActive && mapping.RemoteProductID != "" &&
			!mapping.NeedsSync(product.ChangedAt(et)) {
			return false, nil
		}
	}

	remoteID := ""
	if mapping != nil {
		remoteID = mapping.RemoteProductID
	}

	if remoteID == "" {
		remoteID, err = o.createRemote(ctx, rt, product)
		if err != nil {
			return false, err
		}
		if et == integration.EntityProduct {
			return true, o.markSynced(ctx, code, product, remoteID)
		}
	}

	boundID, err := o.push(ctx, rt, et, product, remoteID)
	if integration.IsNotFound(err) {
		o.logger.Warn("Remote product missing, re-creating",
			zap.String("marketplace", string(code)),
			zap.String("entity_type", string(et)),
			zap.String("entity_id", product.LocalID),
			zap.String("remote_id", remoteID))

		if err := o.mappings.Invalidate(ctx, product.LocalID, code, remoteID); err != nil {
			return false, fmt.Errorf("invalidate mapping: %w", err)
		}
		newID, err := o.createRemote(ctx, rt, product)
		if err != nil {
			return false, err
		}
		if et == integration.EntityProduct {
			boundID = newID
		} else {
			boundID, err = o.push(ctx, rt, et, product, newID)
		}
		if err != nil {
			return false, err
		}
	} else if err != nil {
		return false, err
	}

	return true, o.markSynced(ctx, code, product, boundID)
}

// createRemote creates the product on the marketplace and binds the returned
// remote identity as a pending mapping.
func (o *Orchestrator) createRemote(ctx context.Context, rt *MarketplaceRuntime, product *integration.Product) (string, error) {
	p := *product
	p.RemoteID = ""
	p.CategoryID = o.remoteCategory(ctx, rt.Code(), p.CategoryID)

	var remoteID string
	key := ratelimit.AttemptKey{
		EntityType: integration.EntityProduct,
		EntityID:   p.LocalID,
		Operation:  integration.OperationUpsertProduct,
	}
	err := rt.Client.Execute(ctx, key, func(ctx context.Context) error {
		id, err := rt.Adapter.UpsertProduct(ctx, p)
		remoteID = id
		return err
	})
	if err != nil {
		return "", err
	}
	if remoteID == "" {
		return "", &integration.ValidationError{Marketplace: rt.Code(), Detail: "marketplace returned no product identifier"}
	}

	mapping := &integration.ProductMapping{
		LocalProductID:  p.LocalID,
		Marketplace:     rt.Code(),
		RemoteProductID: remoteID,
		RemoteSKU:       p.SKU,
		SyncStatus:      integration.SyncStatusPending,
	}
	if err := o.mappings.Upsert(ctx, mapping); err != nil {
		return "", err
	}
	o.logger.Info("Remote product created",
		zap.String("marketplace", string(rt.Code())),
		zap.String("entity_id", p.LocalID),
		zap.String("remote_id", remoteID))
	return remoteID, nil
}

// push sends the flow's data for an already-mapped product and returns the
// remote identity the marketplace confirmed.
func (o *Orchestrator) push(ctx context.Context, rt *MarketplaceRuntime, et integration.EntityType, product *integration.Product, remoteID string) (string, error) {
	key := ratelimit.AttemptKey{
		EntityType: et,
		EntityID:   product.LocalID,
		Operation:  integration.OperationFor(et),
	}
	switch et {
	case integration.EntityInventory:
		return remoteID, rt.Client.Execute(ctx, key, func(ctx context.Context) error {
			return rt.Adapter.UpdateStock(ctx, remoteID, product.Stock)
		})
	case integration.EntityPrice:
		return remoteID, rt.Client.Execute(ctx, key, func(ctx context.Context) error {
			return rt.Adapter.UpdatePrice(ctx, remoteID, product.Price)
		})
	default:
		p := *product
		p.RemoteID = remoteID
		p.CategoryID = o.remoteCategory(ctx, rt.Code(), p.CategoryID)
		confirmed := remoteID
		err := rt.Client.Execute(ctx, key, func(ctx context.Context) error {
			id, err := rt.Adapter.UpsertProduct(ctx, p)
			if id != "" {
				confirmed = id
			}
			return err
		})
		return confirmed, err
	}
}

// markSynced records a successful push. A remote identity differing from the
// stored one surfaces as *ConflictError from the store.
func (o *Orchestrator) markSynced(ctx context.Context, code integration.MarketplaceCode, product *integration.Product, remoteID string) error {
	mapping := &integration.ProductMapping{
		LocalProductID:  product.LocalID,
		Marketplace:     code,
		RemoteProductID: remoteID,
		RemoteSKU:       product.SKU,
	}
	mapping.RecordSyncSuccess(o.clock.Now())
	return o.mappings.Upsert(ctx, mapping)
}

// remoteCategory translates a local category through the category mapping,
// keeping the local ID when no mapping exists.
func (o *Orchestrator) remoteCategory(ctx context.Context, code integration.MarketplaceCode, localCategoryID string) string {
	if localCategoryID == "" || o.categories == nil {
		return localCategoryID
	}
	remote, found, err := o.categories.ResolveCategory(ctx, localCategoryID, code)
	if err != nil {
		o.logger.Warn("Failed to resolve category mapping",
			zap.String("marketplace", string(code)),
			zap.String("category_id", localCategoryID),
			zap.Error(err))
		return localCategoryID
	}
	if !found {
		return localCategoryID
	}
	return remote
}

// entityFailed applies the failure policy for one entity and returns the
// error kind. Deadline failures leave the mapping untouched so the entity is
// simply retried.
func (o *Orchestrator) entityFailed(ctx context.Context, key integration.FlowKey, localID string, err error) integration.ErrorKind {
	kind := integration.Classify(err)
	fields := []zap.Field{
		zap.String("marketplace", string(key.Marketplace)),
		zap.String("entity_type", string(key.EntityType)),
		zap.String("entity_id", localID),
		zap.String("error_kind", string(kind)),
		zap.Error(err),
	}

	switch kind {
	case integration.ErrorKindDeadlineExceeded:
		o.logger.Warn("Entity sync cut short by deadline", fields...)
		return kind
	case integration.ErrorKindAuth:
		o.suppress(ctx, key, err)
		return kind
	case integration.ErrorKindConflict:
		o.logger.Error("Product mapping identity conflict", fields...)
		o.alert(ctx, integration.Alert{
			Severity:    integration.AlertCritical,
			Kind:        kind,
			Marketplace: key.Marketplace,
			EntityType:  key.EntityType,
			EntityID:    localID,
			Message:     err.Error(),
		})
	default:
		o.logger.Warn("Entity sync failed", fields...)
	}

	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
	defer cancel()
	if markErr := o.mappings.MarkError(markCtx, localID, key.Marketplace, errorDetail(err)); markErr != nil {
		o.logger.Error("Failed to mark mapping error", append(fields, zap.NamedError("mark_error", markErr))...)
	}
	return kind
}
