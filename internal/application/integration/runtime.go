package integration

import (
	"context"
	"time"

	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/meschain/syncengine/internal/infrastructure/ratelimit"
)

// CallExecutor runs one logical marketplace call under the marketplace's
// rate limit and retry policy. *ratelimit.Client implements it.
type CallExecutor interface {
	Execute(ctx context.Context, key ratelimit.AttemptKey, op func(ctx context.Context) error) error
}

// MarketplaceRuntime bundles what the engine needs to talk to one marketplace.
// A disabled marketplace carries only its configuration.
type MarketplaceRuntime struct {
	Marketplace   *integration.Marketplace
	Adapter       integration.MarketplaceAdapter
	Client        CallExecutor
	Decoder       integration.WebhookDecoder
	WebhookSecret string
}

// Code returns the marketplace code.
func (r *MarketplaceRuntime) Code() integration.MarketplaceCode {
	return r.Marketplace.Code
}

// Enabled reports whether flows may run against the marketplace.
func (r *MarketplaceRuntime) Enabled() bool {
	return r.Marketplace.Enabled && r.Adapter != nil && r.Client != nil
}

// RunObserver receives flow and webhook measurements.
type RunObserver interface {
	FlowFinished(key integration.FlowKey, summary integration.RunSummary)
	WebhookResult(marketplace integration.MarketplaceCode, result IngestResult)
	QueueDepth(marketplace integration.MarketplaceCode, depth int)
}

type nopRunObserver struct{}

func (nopRunObserver) FlowFinished(integration.FlowKey, integration.RunSummary) {}
func (nopRunObserver) WebhookResult(integration.MarketplaceCode, IngestResult) {}
func (nopRunObserver) QueueDepth(integration.MarketplaceCode, int) {}

// Config tunes the orchestrator.
type Config struct {
	// WebhookTimeout bounds processing of one webhook event, lock wait included.
	WebhookTimeout time.Duration
	// ManualRunTimeout bounds triggered runs of flows that are not polled.
	ManualRunTimeout time.Duration
	// OrderLookback is how far back the first order poll looks.
	OrderLookback time.Duration
	// OrderOverlap re-reads this much of the previous order window.
	OrderOverlap time.Duration
	// DefaultQueueSize sizes each flow's webhook queue when the marketplace sets none.
	DefaultQueueSize int
	// MaxOrderPages stops a runaway pagination loop.
	MaxOrderPages int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		WebhookTimeout:   10 * time.Second,
		ManualRunTimeout: 5 * time.Minute,
		OrderLookback:    24 * time.Hour,
		OrderOverlap:     time.Minute,
		DefaultQueueSize: 256,
		MaxOrderPages:    1000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WebhookTimeout <= 0 {
		c.WebhookTimeout = d.WebhookTimeout
	}
	if c.ManualRunTimeout <= 0 {
		c.ManualRunTimeout = d.ManualRunTimeout
	}
	if c.OrderLookback <= 0 {
		c.OrderLookback = d.OrderLookback
	}
	if c.OrderOverlap < 0 {
		c.OrderOverlap = 0
	}
	if c.DefaultQueueSize <= 0 {
		c.DefaultQueueSize = d.DefaultQueueSize
	}
	if c.MaxOrderPages <= 0 {
		c.MaxOrderPages = d.MaxOrderPages
	}
	return c
}
