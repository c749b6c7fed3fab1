package main

import (
	"context"

	"go.uber.org/zap"

	appintegration "github.com/meschain/syncengine/internal/application/integration"
	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/meschain/syncengine/internal/infrastructure/config"
	"github.com/meschain/syncengine/internal/infrastructure/ecommerce"
	"github.com/meschain/syncengine/internal/infrastructure/ratelimit"
)

// runtimeBuilder turns the [[marketplaces]] tables into orchestrator
// runtimes. It runs at startup and on every configuration reload.
type runtimeBuilder struct {
	credentials integration.CredentialResolver
	syncLog     integration.SyncLog
	observer    ratelimit.Observer
	logger      *zap.Logger
}

// Build returns one runtime per configured marketplace. A marketplace whose
// credentials or adapter cannot be set up is kept but carries no adapter,
// so it reports as disabled instead of failing the whole reload.
func (b *runtimeBuilder) Build(ctx context.Context, cfg *config.Config) []*appintegration.MarketplaceRuntime {
	runtimes := make([]*appintegration.MarketplaceRuntime, 0, len(cfg.Marketplaces))
	for i := range cfg.Marketplaces {
		mc := &cfg.Marketplaces[i]
		mp, err := mc.ToMarketplace()
		if err != nil {
			b.logger.Error("Marketplace configuration rejected", zap.String("marketplace", mc.Code), zap.Error(err))
			continue
		}
		rt := &appintegration.MarketplaceRuntime{Marketplace: mp}
		runtimes = append(runtimes, rt)
		if !mp.Enabled {
			b.logger.Info("Marketplace disabled", zap.String("marketplace", string(mp.Code)))
			continue
		}

		if err := b.connect(ctx, mc, rt); err != nil {
			b.logger.Error("Marketplace unavailable",
				zap.String("marketplace", string(mp.Code)),
				zap.String("credential_ref", mp.CredentialRef),
				zap.Error(err))
			continue
		}
		b.logger.Info("Marketplace ready",
			zap.String("marketplace", string(mp.Code)),
			zap.Int("rate_limit", mp.RateLimit.Requests),
			zap.Duration("rate_window", mp.RateLimit.Window),
			zap.Bool("webhooks", rt.Decoder != nil && rt.WebhookSecret != ""))
	}
	return runtimes
}

func (b *runtimeBuilder) connect(ctx context.Context, mc *config.MarketplaceConfig, rt *appintegration.MarketplaceRuntime) error {
	creds, err := b.credentials.Resolve(ctx, rt.Marketplace.CredentialRef)
	if err != nil {
		return err
	}
	settings, err := ecommerce.NewSettings(mc, creds)
	if err != nil {
		return err
	}
	adapter, err := ecommerce.NewAdapter(settings)
	if err != nil {
		return err
	}

	rt.Adapter = adapter
	rt.Client = ratelimit.NewClient(rt.Marketplace, b.syncLog,
		ratelimit.WithLogger(b.logger),
		ratelimit.WithObserver(b.observer),
	)
	if decoder, ok := adapter.(integration.WebhookDecoder); ok {
		rt.Decoder = decoder
	}
	rt.WebhookSecret = creds.WebhookSecret
	return nil
}
