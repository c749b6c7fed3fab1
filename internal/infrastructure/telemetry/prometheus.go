package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meschain/syncengine/internal/domain/integration"
)

const promNamespace = "syncengine"

// PromMetrics holds the metrics scraped from /metrics.
type PromMetrics struct {
	registry   *prometheus.Registry
	webhooks   *prometheus.CounterVec
	tokenWait  *prometheus.HistogramVec
	queueDepth *prometheus.GaugeVec
}

// NewPromMetrics registers the collectors on a fresh registry, together with
// the Go runtime and process collectors.
func NewPromMetrics() *PromMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PromMetrics{
		registry: reg,
		webhooks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook deliveries by marketplace and result",
		}, []string{"marketplace", "result"}),
		tokenWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: promNamespace,
			Name:      "limiter_wait_seconds",
			Help:      "Time spent waiting for a rate limit token",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"marketplace"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Name:      "event_queue_depth",
			Help:      "Buffered webhook events per marketplace",
		}, []string{"marketplace"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PromMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Registry returns the underlying registry.
func (p *PromMetrics) Registry() *prometheus.Registry {
	return p.registry
}

// WebhookDelivered counts one webhook delivery.
func (p *PromMetrics) WebhookDelivered(marketplace integration.MarketplaceCode, result integration.IngestResult) {
	p.webhooks.WithLabelValues(string(marketplace), string(result)).Inc()
}

// TokenWaited observes time spent in the token bucket.
func (p *PromMetrics) TokenWaited(marketplace integration.MarketplaceCode, wait time.Duration) {
	p.tokenWait.WithLabelValues(string(marketplace)).Observe(wait.Seconds())
}

// SetQueueDepth sets the buffered event count of a marketplace.
func (p *PromMetrics) SetQueueDepth(marketplace integration.MarketplaceCode, depth int) {
	p.queueDepth.WithLabelValues(string(marketplace)).Set(float64(depth))
}
