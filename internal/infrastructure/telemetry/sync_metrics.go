package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/meschain/syncengine/internal/infrastructure/ratelimit"
)

// SyncMetrics holds the OpenTelemetry instruments of the sync engine.
type SyncMetrics struct {
	attempts        metric.Int64Counter
	attemptDuration metric.Float64Histogram
	runs            metric.Int64Counter
	runDuration     metric.Float64Histogram
	runEntities     metric.Int64Counter
	lastRunSize     metric.Int64Gauge
}

// NewSyncMetrics creates the sync instruments on meter.
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	b := &instruments{meter: meter}
	m := &SyncMetrics{
		attempts: b.counter("sync_attempts_total",
			"Marketplace call attempts by outcome", "{attempt}"),
		attemptDuration: b.seconds("sync_attempt_duration_seconds",
			"Marketplace call attempt latency", CallDurationBuckets),
		runs: b.counter("sync_runs_total",
			"Finished flow runs by terminal state", "{run}"),
		runDuration: b.seconds("sync_run_duration_seconds",
			"Flow run duration", RunDurationBuckets),
		runEntities: b.counter("sync_run_entities_total",
			"Entities handled by flow runs by result", "{entity}"),
		lastRunSize: b.gauge("sync_last_run_entities",
			"Size of the work set of the last run per flow", "{entity}"),
	}
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

// RecordAttempt records one marketplace call attempt.
func (m *SyncMetrics) RecordAttempt(ctx context.Context, marketplace integration.MarketplaceCode, key ratelimit.AttemptKey, status integration.SyncLogStatus, latency time.Duration) {
	m.attempts.Add(ctx, 1, metric.WithAttributes(
		AttrMarketplace.String(string(marketplace)),
		AttrEntityType.String(string(key.EntityType)),
		AttrOperation.String(string(key.Operation)),
		AttrStatus.String(string(status))))
	m.attemptDuration.Record(ctx, latency.Seconds(), metric.WithAttributes(
		AttrMarketplace.String(string(marketplace)),
		AttrOperation.String(string(key.Operation))))
}

// RecordRun records a finished flow run.
func (m *SyncMetrics) RecordRun(ctx context.Context, key integration.FlowKey, summary integration.RunSummary) {
	mp := AttrMarketplace.String(string(key.Marketplace))
	et := AttrEntityType.String(string(key.EntityType))
	flow := metric.WithAttributes(mp, et)

	m.runs.Add(ctx, 1, metric.WithAttributes(mp, et, AttrOutcome.String(string(summary.Outcome()))))
	if !summary.FinishedAt.IsZero() {
		m.runDuration.Record(ctx, summary.FinishedAt.Sub(summary.StartedAt).Seconds(), flow)
	}
	m.lastRunSize.Record(ctx, int64(summary.Succeeded+summary.Failed+summary.Skipped+summary.Abandoned), flow)
	for result, n := range map[string]int{
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
		"abandoned": summary.Abandoned,
	} {
		if n > 0 {
			m.runEntities.Add(ctx, int64(n), metric.WithAttributes(mp, et, AttrResult.String(result)))
		}
	}
}
