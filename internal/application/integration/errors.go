package integration

import (
	"errors"

	"github.com/meschain/syncengine/internal/domain/integration"
)

var (
	// ErrMarketplaceUnknown is returned for a marketplace code that is not configured
	ErrMarketplaceUnknown = errors.New("sync: unknown marketplace")

	// ErrMarketplaceSuppressed is returned while a marketplace is suspended after an authentication failure
	ErrMarketplaceSuppressed = integration.ErrMarketplaceSuppressed

	// ErrMarketplaceDisabled is returned for a configured but disabled marketplace
	ErrMarketplaceDisabled = errors.New("sync: marketplace disabled")

	// ErrQueueFull is returned when a flow's webhook queue cannot take another event
	ErrQueueFull = errors.New("sync: event queue full")

	// ErrWebhooksUnsupported is returned when a marketplace has no webhook decoder
	ErrWebhooksUnsupported = errors.New("sync: marketplace does not push webhooks")

	// ErrWebhookUnauthorized is returned for deliveries that fail authentication
	ErrWebhookUnauthorized = errors.New("sync: webhook authentication failed")
)
