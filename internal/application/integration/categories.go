package integration

import (
	"context"
	"fmt"

	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/meschain/syncengine/internal/infrastructure/ratelimit"
	"go.uber.org/zap"
)

// FetchCategories lists the marketplace's categories through its
// rate-limited client.
func (o *Orchestrator) FetchCategories(ctx context.Context, code integration.MarketplaceCode) ([]integration.RemoteCategory, error) {
	rt, ok := o.Runtime(code)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketplaceUnknown, code)
	}
	if !rt.Enabled() {
		return nil, fmt.Errorf("%w: %s", ErrMarketplaceDisabled, code)
	}
	if o.IsSuppressed(code) {
		return nil, fmt.Errorf("%w: %s", ErrMarketplaceSuppressed, code)
	}

	var categories []integration.RemoteCategory
	key := ratelimit.AttemptKey{
		EntityType: integration.EntityProduct,
		EntityID:   "categories",
		Operation:  integration.OperationFetchCategory,
	}
	err := rt.Client.Execute(ctx, key, func(ctx context.Context) error {
		var err error
		categories, err = rt.Adapter.FetchCategories(ctx)
		return err
	})
	if err != nil {
		if integration.IsAuth(err) {
			o.suppress(ctx, integration.FlowKey{Marketplace: code, EntityType: integration.EntityProduct}, err)
		}
		return nil, fmt.Errorf("fetch categories from %s: %w", code, err)
	}
	return categories, nil
}

// MapCategory binds a local category to a marketplace category. Later
// product pushes send the remote category.
func (o *Orchestrator) MapCategory(ctx context.Context, mapping *integration.CategoryMapping) error {
	if _, ok := o.Runtime(mapping.Marketplace); !ok {
		return fmt.Errorf("%w: %s", ErrMarketplaceUnknown, mapping.Marketplace)
	}
	if err := mapping.Validate(); err != nil {
		return err
	}
	mapping.UpdatedAt = o.clock.Now()
	if err := o.categories.UpsertCategory(ctx, mapping); err != nil {
		return fmt.Errorf("upsert category mapping: %w", err)
	}
	o.logger.Info("Category mapping saved",
		zap.String("marketplace", string(mapping.Marketplace)),
		zap.String("local_category_id", mapping.LocalCategoryID),
		zap.String("remote_category_id", mapping.RemoteCategoryID))
	return nil
}

// CategoryMappings lists the marketplace's category mappings.
func (o *Orchestrator) CategoryMappings(ctx context.Context, code integration.MarketplaceCode) ([]integration.CategoryMapping, error) {
	if _, ok := o.Runtime(code); !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketplaceUnknown, code)
	}
	return o.categories.ListCategories(ctx, code)
}
