package telemetry

import (
	"context"
	"time"

	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/meschain/syncengine/internal/infrastructure/ratelimit"
)

// SyncObserver fans engine measurements out to the OpenTelemetry instruments
// and the Prometheus registry. It satisfies the orchestrator's run observer
// and the rate-limited client's observer. Either side may be nil.
type SyncObserver struct {
	otel *SyncMetrics
	prom *PromMetrics
}

// NewSyncObserver creates an observer.
func NewSyncObserver(otel *SyncMetrics, prom *PromMetrics) *SyncObserver {
	return &SyncObserver{otel: otel, prom: prom}
}

// FlowFinished records a finished flow run.
func (o *SyncObserver) FlowFinished(key integration.FlowKey, summary integration.RunSummary) {
	if o.otel != nil {
		o.otel.RecordRun(context.Background(), key, summary)
	}
}

// WebhookResult counts a webhook delivery.
func (o *SyncObserver) WebhookResult(marketplace integration.MarketplaceCode, result integration.IngestResult) {
	if o.prom != nil {
		o.prom.WebhookDelivered(marketplace, result)
	}
}

// QueueDepth records the event queue depth.
func (o *SyncObserver) QueueDepth(marketplace integration.MarketplaceCode, depth int) {
	if o.prom != nil {
		o.prom.SetQueueDepth(marketplace, depth)
	}
}

// TokenWait records time spent waiting for a token.
func (o *SyncObserver) TokenWait(marketplace integration.MarketplaceCode, wait time.Duration) {
	if o.prom != nil {
		o.prom.TokenWaited(marketplace, wait)
	}
}

// Attempt records one marketplace call attempt.
func (o *SyncObserver) Attempt(marketplace integration.MarketplaceCode, key ratelimit.AttemptKey, status integration.SyncLogStatus, latency time.Duration) {
	if o.otel != nil {
		o.otel.RecordAttempt(context.Background(), marketplace, key, status, latency)
	}
}

var _ ratelimit.Observer = (*SyncObserver)(nil)
