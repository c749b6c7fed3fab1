package integration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/meschain/syncengine/internal/infrastructure/logger"
	"github.com/meschain/syncengine/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const storeWriteTimeout = 5 * time.Second

// Dependencies are the collaborators the orchestrator is built from.
type Dependencies struct {
	Mappings    integration.MappingStore
	Categories  integration.CategoryMappingStore
	Orders      integration.OrderMappingStore
	Catalog     integration.LocalCatalog
	OrderWriter integration.LocalOrderWriter
	SyncLog     integration.SyncLog
	Pending     integration.PendingEventRepository
	Alerts      integration.AlertPublisher
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock used for run timestamps and watermarks.
func WithClock(clock clockwork.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithObserver sets the metrics observer.
func WithObserver(observer RunObserver) Option {
	return func(o *Orchestrator) {
		o.observer = observer
	}
}

// Orchestrator runs the product, inventory, price and order flows of every
// configured marketplace. Each (marketplace, entity_type) flow is
// non-reentrant; concurrent triggers are coalesced into one re-run.
type Orchestrator struct {
	mappings    integration.MappingStore
	categories  integration.CategoryMappingStore
	orders      integration.OrderMappingStore
	catalog     integration.LocalCatalog
	orderWriter integration.LocalOrderWriter
	syncLog     integration.SyncLog
	pending     integration.PendingEventRepository
	alerts      integration.AlertPublisher

	config   Config
	clock    clockwork.Clock
	logger   *zap.Logger
	observer RunObserver

	mu         sync.RWMutex
	runtimes   map[integration.MarketplaceCode]*MarketplaceRuntime
	suppressed map[integration.MarketplaceCode]time.Time
	flows      map[integration.FlowKey]*flowRun
	queues     map[integration.MarketplaceCode]*eventQueue

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewOrchestrator creates an orchestrator with no marketplaces; call Reload
// to install them.
func NewOrchestrator(deps Dependencies, config Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		mappings:    deps.Mappings,
		categories:  deps.Categories,
		orders:      deps.Orders,
		catalog:     deps.Catalog,
		orderWriter: deps.OrderWriter,
		syncLog:     deps.SyncLog,
		pending:     deps.Pending,
		alerts:      deps.Alerts,
		config:      config.withDefaults(),
		clock:       clockwork.NewRealClock(),
		logger:      zap.NewNop(),
		observer:    nopRunObserver{},
		runtimes:    make(map[integration.MarketplaceCode]*MarketplaceRuntime),
		suppressed:  make(map[integration.MarketplaceCode]time.Time),
		flows:       make(map[integration.FlowKey]*flowRun),
		queues:      make(map[integration.MarketplaceCode]*eventQueue),
		baseCtx:     context.Background(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Start launches one webhook-queue consumer per enabled marketplace.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return
	}
	o.baseCtx, o.cancel = context.WithCancel(ctx)
	o.started = true
	for code, q := range o.queues {
		if q.isStopped() {
			q = newEventQueue(code, cap(q.product))
			o.queues[code] = q
		}
		o.startConsumerLocked(q)
	}
	o.logger.Info("Sync orchestrator started", zap.Int("marketplaces", len(o.runtimes)))
}

// Stop stops the consumers, parks queued events as pending rows and waits
// for in-flight runs until ctx expires.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = false
	cancel := o.cancel
	o.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.logger.Info("Sync orchestrator stopped")
		return nil
	case <-ctx.Done():
		o.logger.Warn("Sync orchestrator stop timed out")
		return ctx.Err()
	}
}

// Reload installs a new set of marketplaces. It lifts every authentication
// suppression and returns flows left Failed by one to Idle. Queues of
// marketplaces that disappeared are drained into pending rows.
func (o *Orchestrator) Reload(runtimes []*MarketplaceRuntime) {
	o.mu.Lock()
	defer o.mu.Unlock()

	next := make(map[integration.MarketplaceCode]*MarketplaceRuntime, len(runtimes))
	for _, rt := range runtimes {
		next[rt.Code()] = rt
	}

	for code, q := range o.queues {
		if rt, ok := next[code]; !ok || !rt.Enabled() {
			q.stop()
			if !o.started {
				// No consumer is left to drain it.
				o.parkAll(q, integration.PendingReasonShutdown)
			}
			delete(o.queues, code)
		}
	}
	for code, rt := range next {
		if !rt.Enabled() {
			continue
		}
		if _, ok := o.queues[code]; ok {
			continue
		}
		size := rt.Marketplace.QueueSize
		if size <= 0 {
			size = o.config.DefaultQueueSize
		}
		q := newEventQueue(code, size)
		o.queues[code] = q
		if o.started {
			o.startConsumerLocked(q)
		}
	}

	lifted := len(o.suppressed)
	o.suppressed = make(map[integration.MarketplaceCode]time.Time)
	for _, f := range o.flows {
		f.reset()
	}
	o.runtimes = next

	o.logger.Info("Marketplaces reloaded",
		zap.Int("marketplaces", len(next)),
		zap.Int("suppressions_lifted", lifted))
}

// ---------------------------------------------------------------------------
// Lookups
// ---------------------------------------------------------------------------

// Runtime returns the runtime of a configured marketplace.
func (o *Orchestrator) Runtime(code integration.MarketplaceCode) (*MarketplaceRuntime, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rt, ok := o.runtimes[code]
	return rt, ok
}

// Marketplaces returns the configured marketplaces ordered by code.
func (o *Orchestrator) Marketplaces() []*integration.Marketplace {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*integration.Marketplace, 0, len(o.runtimes))
	for _, rt := range o.runtimes {
		out = append(out, rt.Marketplace)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// IsSuppressed reports whether the marketplace is suspended after an
// authentication failure.
func (o *Orchestrator) IsSuppressed(code integration.MarketplaceCode) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.suppressed[code]
	return ok
}

func (o *Orchestrator) flow(key integration.FlowKey) *flowRun {
	o.mu.RLock()
	f, ok := o.flows[key]
	o.mu.RUnlock()
	if ok {
		return f
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if f, ok := o.flows[key]; ok {
		return f
	}
	f = newFlowRun(key)
	o.flows[key] = f
	return f
}

// suppress stops polling a marketplace until the next configuration reload
// and alerts the operator once.
func (o *Orchestrator) suppress(ctx context.Context, key integration.FlowKey, cause error) {
	o.mu.Lock()
	_, already := o.suppressed[key.Marketplace]
	if !already {
		o.suppressed[key.Marketplace] = o.clock.Now()
	}
	o.mu.Unlock()
	if already {
		return
	}

	o.logger.Error("Marketplace suppressed after authentication failure",
		zap.String("marketplace", string(key.Marketplace)),
		zap.String("entity_type", string(key.EntityType)),
		zap.Error(cause))
	o.alert(ctx, integration.Alert{
		Severity:    integration.AlertCritical,
		Kind:        integration.ErrorKindAuth,
		Marketplace: key.Marketplace,
		EntityType:  key.EntityType,
		Message:     "Credentials rejected; polling suspended until configuration reload: " + cause.Error(),
	})
}

func (o *Orchestrator) alert(ctx context.Context, alert integration.Alert) {
	if o.alerts == nil {
		return
	}
	alert.OccurredAt = o.clock.Now()
	if err := o.alerts.Publish(context.WithoutCancel(ctx), alert); err != nil {
		o.logger.Error("Failed to publish alert",
			zap.String("marketplace", string(alert.Marketplace)),
			zap.String("kind", string(alert.Kind)),
			zap.Error(err))
	}
}

// ---------------------------------------------------------------------------
// Triggers
// ---------------------------------------------------------------------------

// FlowTrigger is the result of triggering one flow.
type FlowTrigger struct {
	Key    integration.FlowKey
	Result integration.TriggerResult
}

// Poll runs a flow for the scheduler and waits for it, coalesced re-runs
// included. A flow already running is coalesced and Poll returns at once.
func (o *Orchestrator) Poll(ctx context.Context, key integration.FlowKey) integration.TriggerResult {
	result, _ := o.RunNow(ctx, key, false)
	return result
}

// RunNow runs a flow synchronously and returns the summary of the last run.
// Each run gets the flow's deadline.
func (o *Orchestrator) RunNow(ctx context.Context, key integration.FlowKey, retryErrors bool) (integration.TriggerResult, integration.RunSummary) {
	result, f := o.tryBegin(key, retryErrors)
	if result != integration.TriggerStarted {
		return result, integration.RunSummary{}
	}
	return result, o.runFlow(ctx, f, retryErrors)
}

// Trigger starts an out-of-band run of one flow, or of every flow of the
// marketplace when entityType is empty. Runs proceed in the background.
func (o *Orchestrator) Trigger(code integration.MarketplaceCode, entityType integration.EntityType, retryErrors bool) ([]FlowTrigger, error) {
	rt, ok := o.Runtime(code)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketplaceUnknown, code)
	}
	types := integration.AllEntityTypes
	if entityType != "" {
		if !entityType.IsValid() {
			return nil, fmt.Errorf("%w: %q", integration.ErrEntityTypeInvalid, entityType)
		}
		types = []integration.EntityType{entityType}
	}

	results := make([]FlowTrigger, 0, len(types))
	for _, et := range types {
		key := integration.FlowKey{Marketplace: rt.Code(), EntityType: et}
		result, f := o.tryBegin(key, retryErrors)
		if result == integration.TriggerStarted {
			o.goRun(f, retryErrors)
		}
		o.logger.Info("Sync flow triggered",
			zap.String("marketplace", string(code)),
			zap.String("entity_type", string(et)),
			zap.String("result", string(result)),
			zap.Bool("retry_errors", retryErrors))
		results = append(results, FlowTrigger{Key: key, Result: result})
	}
	return results, nil
}

func (o *Orchestrator) tryBegin(key integration.FlowKey, retryErrors bool) (integration.TriggerResult, *flowRun) {
	rt, ok := o.Runtime(key.Marketplace)
	if !ok || !rt.Enabled() {
		return integration.TriggerDisabled, nil
	}
	if o.IsSuppressed(key.Marketplace) {
		return integration.TriggerSuppressed, nil
	}
	f := o.flow(key)
	if !f.begin(retryErrors, o.clock.Now()) {
		return integration.TriggerCoalesced, f
	}
	return integration.TriggerStarted, f
}

func (o *Orchestrator) goRun(f *flowRun, retryErrors bool) {
	o.mu.RLock()
	ctx := o.baseCtx
	o.mu.RUnlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runFlow(ctx, f, retryErrors)
	}()
}

// runDeadline is the per-run deadline: the poll interval minus a safety
// margin for polled flows, ManualRunTimeout otherwise.
func (o *Orchestrator) runDeadline(key integration.FlowKey) time.Duration {
	if rt, ok := o.Runtime(key.Marketplace); ok {
		if d := integration.PollDeadline(rt.Marketplace.PollInterval(key.EntityType)); d > 0 {
			return d
		}
	}
	return o.config.ManualRunTimeout
}

func (o *Orchestrator) runFlow(ctx context.Context, f *flowRun, retryErrors bool) integration.RunSummary {
	for {
		runCtx, cancel := context.WithTimeout(ctx, o.runDeadline(f.key))
		summary := o.runOnce(runCtx, f, retryErrors)
		cancel()

		again, rerunRetry := f.finish(summary)
		o.observer.FlowFinished(f.key, summary)
		o.logRun(f.key, summary)
		if !again || ctx.Err() != nil {
			if again {
				// Shutdown cut the coalesced re-run short.
				f.finish(summary)
			}
			return summary
		}
		retryErrors = rerunRetry
	}
}

func (o *Orchestrator) runOnce(ctx context.Context, f *flowRun, retryErrors bool) integration.RunSummary {
	summary := integration.RunSummary{StartedAt: o.clock.Now()}
	defer func() {
		summary.FinishedAt = o.clock.Now()
	}()

	// Every marketplace call of the run carries the run ID as its request ID.
	ctx, _ = logger.WithRequestID(ctx, o.logger, "run-"+uuid.NewString())
	ctx, span := telemetry.StartSpan(ctx, "sync.run", trace.WithAttributes(
		attribute.String("marketplace", string(f.key.Marketplace)),
		attribute.String("entity_type", string(f.key.EntityType)),
		attribute.Bool("retry_errors", retryErrors),
	))
	defer func() {
		span.SetAttributes(
			attribute.String("outcome", string(summary.Outcome())),
			attribute.Int("succeeded", summary.Succeeded),
			attribute.Int("failed", summary.Failed),
			attribute.Int("abandoned", summary.Abandoned),
		)
		span.End()
	}()

	rt, ok := o.Runtime(f.key.Marketplace)
	if !ok || !rt.Enabled() {
		return summary
	}
	if err := f.acquire(ctx); err != nil {
		summary.RecordFailure(integration.ErrorKindDeadlineExceeded)
		return summary
	}
	defer f.release()

	if f.key.EntityType == integration.EntityOrder {
		o.syncOrders(ctx, rt, f, &summary)
	} else {
		o.syncOutbound(ctx, rt, f, retryErrors, &summary)
	}
	return summary
}

func (o *Orchestrator) logRun(key integration.FlowKey, s integration.RunSummary) {
	fields := []zap.Field{
		zap.String("marketplace", string(key.Marketplace)),
		zap.String("entity_type", string(key.EntityType)),
		zap.String("outcome", string(s.Outcome())),
		zap.Int("total", s.Total),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("failed", s.Failed),
		zap.Int("skipped", s.Skipped),
		zap.Int("abandoned", s.Abandoned),
		zap.Duration("duration", s.FinishedAt.Sub(s.StartedAt)),
	}
	switch s.Outcome() {
	case integration.FlowCompleted:
		o.logger.Info("Sync run completed", fields...)
	case integration.FlowPartiallyFailed:
		o.logger.Warn("Sync run partially failed", append(fields, zap.String("last_error_kind", string(s.LastError)))...)
	default:
		o.logger.Error("Sync run failed", append(fields, zap.String("last_error_kind", string(s.LastError)))...)
	}
}

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

// FlowReport is a flow's state with its most recent Sync Log rows.
type FlowReport struct {
	Status integration.FlowStatus
	Recent []integration.SyncLogEntry
}

// StatusFilter selects flows for Status.
type StatusFilter struct {
	Marketplace integration.MarketplaceCode
	EntityType  integration.EntityType
	Limit       int
}

// Status reports every configured flow matching the filter.
func (o *Orchestrator) Status(ctx context.Context, filter StatusFilter) ([]FlowReport, error) {
	if filter.Marketplace != "" {
		if _, ok := o.Runtime(filter.Marketplace); !ok {
			return nil, fmt.Errorf("%w: %s", ErrMarketplaceUnknown, filter.Marketplace)
		}
	}

	var reports []FlowReport
	for _, mp := range o.Marketplaces() {
		if filter.Marketplace != "" && mp.Code != filter.Marketplace {
			continue
		}
		suppressed := o.IsSuppressed(mp.Code)
		for _, et := range integration.AllEntityTypes {
			if filter.EntityType != "" && et != filter.EntityType {
				continue
			}
			key := integration.FlowKey{Marketplace: mp.Code, EntityType: et}
			status := o.flow(key).status(suppressed)
			if !mp.Enabled {
				status.State = integration.FlowIdle
			}

			recent, err := o.syncLog.Query(ctx, integration.SyncLogFilter{
				Marketplace: mp.Code,
				EntityType:  et,
				Limit:       filter.Limit,
			})
			if err != nil {
				return nil, fmt.Errorf("query sync log for %s: %w", key, err)
			}
			reports = append(reports, FlowReport{Status: status, Recent: recent})
		}
	}
	return reports, nil
}

// errorDetail trims an error message for storage on a mapping row.
func errorDetail(err error) string {
	return integration.ErrorDetail(err)
}

func isDeadline(err error) bool {
	return integration.Classify(err) == integration.ErrorKindDeadlineExceeded ||
		errors.Is(err, context.DeadlineExceeded)
}
