package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/meschain/syncengine/internal/infrastructure/ratelimit"
)

// ---------------------------------------------------------------------------
// Mapping Store
// ---------------------------------------------------------------------------

type mappingKey struct {
	local       string
	marketplace integration.MarketplaceCode
}

type fakeMappingStore struct {
	mu   sync.Mutex
	rows map[mappingKey]*integration.ProductMapping
}

func newFakeMappingStore() *fakeMappingStore {
	return &fakeMappingStore{rows: make(map[mappingKey]*integration.ProductMapping)}
}

func (s *fakeMappingStore) seed(m integration.ProductMapping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	s.rows[mappingKey{m.LocalProductID, m.Marketplace}] = &m
}

func (s *fakeMappingStore) get(local string, code integration.MarketplaceCode) (integration.ProductMapping, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[mappingKey{local, code}]
	if !ok {
		return integration.ProductMapping{}, false
	}
	return *m, true
}

func (s *fakeMappingStore) Resolve(_ context.Context, localProductID string, marketplace integration.MarketplaceCode) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[mappingKey{localProductID, marketplace}]
	if !ok || m.RemoteProductID == "" {
		return "", false, nil
	}
	return m.RemoteProductID, true, nil
}

func (s *fakeMappingStore) ResolveReverse(_ context.Context, remoteProductID string, marketplace integration.MarketplaceCode) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, m := range s.rows {
		if k.marketplace == marketplace && m.RemoteProductID == remoteProductID {
			return m.LocalProductID, true, nil
		}
	}
	return "", false, nil
}

func (s *fakeMappingStore) Get(_ context.Context, localProductID string, marketplace integration.MarketplaceCode) (*integration.ProductMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[mappingKey{localProductID, marketplace}]
	if !ok {
		return nil, integration.ErrMappingNotFound
	}
	out := *m
	return &out, nil
}

func (s *fakeMappingStore) FindByMarketplace(_ context.Context, marketplace integration.MarketplaceCode, filter integration.ProductMappingFilter) ([]integration.ProductMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []integration.ProductMapping
	for k, m := range s.rows {
		if k.marketplace != marketplace {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, m.SyncStatus) {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalProductID < out[j].LocalProductID })
	return out, nil
}

func containsStatus(statuses []integration.SyncStatus, s integration.SyncStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

// Upsert mirrors the SQL guard: a set remote identity never changes.
func (s *fakeMappingStore) Upsert(_ context.Context, mapping *integration.ProductMapping) error {
	if err := mapping.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := mappingKey{mapping.LocalProductID, mapping.Marketplace}
	existing, ok := s.rows[k]
	if !ok {
		row := *mapping
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
		s.rows[k] = &row
		return nil
	}
	if err := existing.CheckIdentity(mapping.RemoteProductID); err != nil {
		return err
	}
	if mapping.RemoteProductID != "" {
		existing.RemoteProductID = mapping.RemoteProductID
	}
	if mapping.RemoteSKU != "" {
		existing.RemoteSKU = mapping.RemoteSKU
	}
	existing.SyncStatus = mapping.SyncStatus
	existing.LastError = mapping.LastError
	existing.LastSyncedAt = mapping.LastSyncedAt
	existing.UpdatedAt = mapping.UpdatedAt
	return nil
}

func (s *fakeMappingStore) MarkError(_ context.Context, localProductID string, marketplace integration.MarketplaceCode, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := mappingKey{localProductID, marketplace}
	m, ok := s.rows[k]
	if !ok {
		m = &integration.ProductMapping{ID: uuid.New(), LocalProductID: localProductID, Marketplace: marketplace}
		s.rows[k] = m
	}
	m.SyncStatus = integration.SyncStatusError
	m.LastError = reason
	return nil
}

func (s *fakeMappingStore) Invalidate(_ context.Context, localProductID string, marketplace integration.MarketplaceCode, staleRemoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[mappingKey{localProductID, marketplace}]
	if !ok || m.RemoteProductID != staleRemoteID {
		return nil
	}
	m.PreviousRemoteID = m.RemoteProductID
	m.RemoteProductID = ""
	m.SyncStatus = integration.SyncStatusPending
	return nil
}

// ---------------------------------------------------------------------------
// Category mappings
// ---------------------------------------------------------------------------

type fakeCategoryStore struct {
	mu   sync.Mutex
	rows map[mappingKey]integration.CategoryMapping
}

func newFakeCategoryStore() *fakeCategoryStore {
	return &fakeCategoryStore{rows: make(map[mappingKey]integration.CategoryMapping)}
}

func (s *fakeCategoryStore) ResolveCategory(_ context.Context, localCategoryID string, marketplace integration.MarketplaceCode) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[mappingKey{localCategoryID, marketplace}]
	return m.RemoteCategoryID, ok, nil
}

func (s *fakeCategoryStore) UpsertCategory(_ context.Context, mapping *integration.CategoryMapping) error {
	if err := mapping.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[mappingKey{mapping.LocalCategoryID, mapping.Marketplace}] = *mapping
	return nil
}

func (s *fakeCategoryStore) ListCategories(_ context.Context, marketplace integration.MarketplaceCode) ([]integration.CategoryMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []integration.CategoryMapping
	for k, m := range s.rows {
		if k.marketplace == marketplace {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalCategoryID < out[j].LocalCategoryID })
	return out, nil
}

// ---------------------------------------------------------------------------
// Order mappings
// ---------------------------------------------------------------------------

type orderKey struct {
	marketplace integration.MarketplaceCode
	remoteID    string
}

type fakeOrderMappingStore struct {
	mu   sync.Mutex
	rows map[orderKey]*integration.OrderMapping
}

func newFakeOrderMappingStore() *fakeOrderMappingStore {
	return &fakeOrderMappingStore{rows: make(map[orderKey]*integration.OrderMapping)}
}

func (s *fakeOrderMappingStore) get(code integration.MarketplaceCode, remoteID string) (integration.OrderMapping, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[orderKey{code, remoteID}]
	if !ok {
		return integration.OrderMapping{}, false
	}
	return *m, true
}

func (s *fakeOrderMappingStore) byID(id uuid.UUID) *integration.OrderMapping {
	for _, m := range s.rows {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (s *fakeOrderMappingStore) FindByRemote(_ context.Context, marketplace integration.MarketplaceCode, remoteOrderID string) (*integration.OrderMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[orderKey{marketplace, remoteOrderID}]
	if !ok {
		return nil, integration.ErrOrderMappingNotFound
	}
	out := *m
	return &out, nil
}

func (s *fakeOrderMappingStore) Claim(_ context.Context, mapping *integration.OrderMapping) (*integration.OrderMapping, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := orderKey{mapping.Marketplace, mapping.RemoteOrderID}
	if m, ok := s.rows[k]; ok {
		out := *m
		return &out, false, nil
	}
	row := *mapping
	s.rows[k] = &row
	out := row
	return &out, true, nil
}

func (s *fakeOrderMappingStore) SetLocalOrderID(_ context.Context, id uuid.UUID, localOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.byID(id)
	if m == nil {
		return integration.ErrOrderMappingNotFound
	}
	if m.LocalOrderID != "" && m.LocalOrderID != localOrderID {
		return &integration.ConflictError{Marketplace: m.Marketplace, LocalID: m.RemoteOrderID, ExistingRemoteID: m.LocalOrderID, AttemptedRemote: localOrderID}
	}
	m.LocalOrderID = localOrderID
	return nil
}

func (s *fakeOrderMappingStore) CompareAndSetStatus(_ context.Context, expected *integration.OrderMapping, status string, remoteUpdatedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.byID(expected.ID)
	if m == nil || m.Version != expected.Version {
		return false, nil
	}
	m.RemoteStatus = status
	m.RemoteUpdatedAt = remoteUpdatedAt
	m.Version++
	return true, nil
}

func (s *fakeOrderMappingStore) Touch(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.byID(id); m != nil {
		m.LastSyncedAt = at
	}
	return nil
}

func (s *fakeOrderMappingStore) CountByMarketplace(_ context.Context, marketplace integration.MarketplaceCode) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.rows {
		if k.marketplace == marketplace {
			n++
		}
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Host application
// ---------------------------------------------------------------------------

type fakeCatalog struct {
	mu       sync.Mutex
	products map[string]integration.Product
}

func newFakeCatalog(products ...integration.Product) *fakeCatalog {
	c := &fakeCatalog{products: make(map[string]integration.Product)}
	for _, p := range products {
		c.products[p.LocalID] = p
	}
	return c
}

func (c *fakeCatalog) put(p integration.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.LocalID] = p
}

func (c *fakeCatalog) ListChangedSince(_ context.Context, since time.Time) ([]integration.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []integration.Product
	for _, p := range c.products {
		if since.IsZero() || p.UpdatedAt.After(since) || p.StockUpdatedAt.After(since) || p.PriceUpdatedAt.After(since) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalID < out[j].LocalID })
	return out, nil
}

func (c *fakeCatalog) Get(_ context.Context, localProductID string) (*integration.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[localProductID]
	if !ok {
		return nil, integration.ErrLocalProductNotFound
	}
	return &p, nil
}

type fakeOrderWriter struct {
	mu       sync.Mutex
	created  []integration.RemoteOrder
	statuses map[string][]string
}

func newFakeOrderWriter() *fakeOrderWriter {
	return &fakeOrderWriter{statuses: make(map[string][]string)}
}

func (w *fakeOrderWriter) CreateOrder(_ context.Context, order *integration.RemoteOrder) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.created = append(w.created, *order)
	return "LO-" + order.RemoteOrderID, nil
}

func (w *fakeOrderWriter) UpdateOrderStatus(_ context.Context, localOrderID string, status string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.statuses[localOrderID] = append(w.statuses[localOrderID], status)
	return nil
}

func (w *fakeOrderWriter) createdCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.created)
}

func (w *fakeOrderWriter) statusUpdates(localOrderID string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.statuses[localOrderID]...)
}

// ---------------------------------------------------------------------------
// Sync Log and pending events
// ---------------------------------------------------------------------------

type fakeSyncLog struct {
	mu      sync.Mutex
	entries []integration.SyncLogEntry
	queries []integration.SyncLogFilter
}

func (l *fakeSyncLog) Append(_ context.Context, entry *integration.SyncLogEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	attempt := 1
	for _, e := range l.entries {
		if e.Marketplace == entry.Marketplace && e.EntityType == entry.EntityType && e.EntityID == entry.EntityID {
			attempt++
		}
	}
	entry.ID = uuid.New()
	entry.AttemptNumber = attempt
	l.entries = append(l.entries, *entry)
	return nil
}

func (l *fakeSyncLog) Query(_ context.Context, filter integration.SyncLogFilter) ([]integration.SyncLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries = append(l.queries, filter)
	var out []integration.SyncLogEntry
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if filter.Marketplace != "" && e.Marketplace != filter.Marketplace {
			continue
		}
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && e.EntityID != filter.EntityID {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (l *fakeSyncLog) count(entityID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.EntityID == entityID {
			n++
		}
	}
	return n
}

type fakePendingRepo struct {
	mu   sync.Mutex
	rows []*integration.PendingSyncEvent
}

func (r *fakePendingRepo) Save(_ context.Context, entries ...*integration.PendingSyncEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, entries...)
	return nil
}

func (r *fakePendingRepo) FindDue(_ context.Context, now time.Time, limit int) ([]*integration.PendingSyncEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*integration.PendingSyncEvent
	for _, e := range r.rows {
		if (e.Status == integration.PendingStatusPending || e.Status == integration.PendingStatusFailed) &&
			e.NextRetryAt != nil && !e.NextRetryAt.After(now) {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakePendingRepo) MarkProcessing(_ context.Context, ids []uuid.UUID) ([]*integration.PendingSyncEvent, error) {
	return nil, nil
}

func (r *fakePendingRepo) Update(_ context.Context, _ *integration.PendingSyncEvent) error {
	return nil
}

func (r *fakePendingRepo) DeleteSentBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (r *fakePendingRepo) CountByStatus(_ context.Context) (map[integration.PendingStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[integration.PendingStatus]int64)
	for _, e := range r.rows {
		out[e.Status]++
	}
	return out, nil
}

func (r *fakePendingRepo) all() []integration.PendingSyncEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]integration.PendingSyncEvent, 0, len(r.rows))
	for _, e := range r.rows {
		out = append(out, *e)
	}
	return out
}

// MockAlertPublisher is a mock implementation of AlertPublisher
type MockAlertPublisher struct {
	mock.Mock
}

func (m *MockAlertPublisher) Publish(ctx context.Context, alert integration.Alert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

// ---------------------------------------------------------------------------
// Marketplace side
// ---------------------------------------------------------------------------

type stockCall struct {
	remoteID string
	qty      int64
}

type priceCall struct {
	remoteID string
	price    integration.Price
}

// fakeAdapter records every call. Behavior hooks are set before a run starts.
type fakeAdapter struct {
	code integration.MarketplaceCode

	upsertFn   func(p integration.Product) (string, error)
	stockFn    func(remoteID string, qty int64) error
	priceFn    func(remoteID string, price integration.Price) error
	ordersFn   func(since time.Time, cursor string) (integration.OrderPage, error)
	categories []integration.RemoteCategory

	mu         sync.Mutex
	created    int
	upserts    []integration.Product
	stocks     []stockCall
	prices     []priceCall
	orderSince []time.Time
}

func newFakeAdapter(code integration.MarketplaceCode) *fakeAdapter {
	return &fakeAdapter{code: code}
}

func (a *fakeAdapter) Code() integration.MarketplaceCode { return a.code }

func (a *fakeAdapter) PaginationStyle() integration.PaginationStyle {
	return integration.PaginationCursor
}

func (a *fakeAdapter) FetchOrders(_ context.Context, since time.Time, cursor string) (integration.OrderPage, error) {
	a.mu.Lock()
	a.orderSince = append(a.orderSince, since)
	fn := a.ordersFn
	a.mu.Unlock()
	if fn == nil {
		return integration.OrderPage{}, nil
	}
	return fn(since, cursor)
}

func (a *fakeAdapter) UpsertProduct(_ context.Context, product integration.Product) (string, error) {
	a.mu.Lock()
	a.upserts = append(a.upserts, product)
	fn := a.upsertFn
	if fn == nil && product.RemoteID == "" {
		a.created++
	}
	n := a.created
	a.mu.Unlock()

	if fn != nil {
		return fn(product)
	}
	if product.RemoteID != "" {
		return product.RemoteID, nil
	}
	return fmt.Sprintf("%s-R%d", product.LocalID, n), nil
}

func (a *fakeAdapter) UpdateStock(_ context.Context, remoteID string, qty int64) error {
	a.mu.Lock()
	a.stocks = append(a.stocks, stockCall{remoteID: remoteID, qty: qty})
	fn := a.stockFn
	a.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(remoteID, qty)
}

func (a *fakeAdapter) UpdatePrice(_ context.Context, remoteID string, price integration.Price) error {
	a.mu.Lock()
	a.prices = append(a.prices, priceCall{remoteID: remoteID, price: price})
	fn := a.priceFn
	a.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(remoteID, price)
}

func (a *fakeAdapter) FetchCategories(_ context.Context) ([]integration.RemoteCategory, error) {
	return a.categories, nil
}

func (a *fakeAdapter) stockCalls() []stockCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]stockCall(nil), a.stocks...)
}

func (a *fakeAdapter) upsertCalls() []integration.Product {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]integration.Product(nil), a.upserts...)
}

func (a *fakeAdapter) orderSinces() []time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]time.Time(nil), a.orderSince...)
}

// directExecutor runs calls without rate limiting or retries.
type directExecutor struct {
	mu   sync.Mutex
	keys []ratelimit.AttemptKey
}

func (e *directExecutor) Execute(ctx context.Context, key ratelimit.AttemptKey, op func(ctx context.Context) error) error {
	e.mu.Lock()
	e.keys = append(e.keys, key)
	e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", integration.ErrDeadlineExceeded, err)
	}
	return op(ctx)
}

func (e *directExecutor) attemptKeys() []ratelimit.AttemptKey {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ratelimit.AttemptKey(nil), e.keys...)
}

type fakeObserver struct {
	mu       sync.Mutex
	finished map[integration.FlowKey][]integration.RunSummary
	webhooks []IngestResult
	depths   []int
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{finished: make(map[integration.FlowKey][]integration.RunSummary)}
}

func (o *fakeObserver) FlowFinished(key integration.FlowKey, summary integration.RunSummary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished[key] = append(o.finished[key], summary)
}

func (o *fakeObserver) WebhookResult(_ integration.MarketplaceCode, result IngestResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.webhooks = append(o.webhooks, result)
}

func (o *fakeObserver) QueueDepth(_ integration.MarketplaceCode, depth int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.depths = append(o.depths, depth)
}

func (o *fakeObserver) runs(key integration.FlowKey) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.finished[key])
}

func (o *fakeObserver) results() []IngestResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]IngestResult(nil), o.webhooks...)
}

// ---------------------------------------------------------------------------
// Test environment
// ---------------------------------------------------------------------------

var testEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	clock      *clockwork.FakeClock
	mappings   *fakeMappingStore
	categories *fakeCategoryStore
	orders     *fakeOrderMappingStore
	catalog    *fakeCatalog
	writer     *fakeOrderWriter
	syncLog    *fakeSyncLog
	pending    *fakePendingRepo
	alerts     *MockAlertPublisher
	adapter    *fakeAdapter
	executor   *directExecutor
	observer   *fakeObserver
	market     *integration.Marketplace
	orch       *Orchestrator
}

func newTestEnv(t *testing.T, products ...integration.Product) *testEnv {
	t.Helper()
	env := &testEnv{
		clock:      clockwork.NewFakeClockAt(testEpoch),
		mappings:   newFakeMappingStore(),
		categories: newFakeCategoryStore(),
		orders:     newFakeOrderMappingStore(),
		catalog:    newFakeCatalog(products...),
		writer:     newFakeOrderWriter(),
		syncLog:    &fakeSyncLog{},
		pending:    &fakePendingRepo{},
		alerts:     &MockAlertPublisher{},
		adapter:    newFakeAdapter(integration.MarketplaceTrendyol),
		executor:   &directExecutor{},
		observer:   newFakeObserver(),
		market:     testMarketplace(integration.MarketplaceTrendyol, true),
	}
	env.orch = NewOrchestrator(Dependencies{
		Mappings:    env.mappings,
		Categories:  env.categories,
		Orders:      env.orders,
		Catalog:     env.catalog,
		OrderWriter: env.writer,
		SyncLog:     env.syncLog,
		Pending:     env.pending,
		Alerts:      env.alerts,
	}, Config{
		WebhookTimeout:   5 * time.Second,
		ManualRunTimeout: 30 * time.Second,
		OrderLookback:    24 * time.Hour,
		OrderOverlap:     time.Minute,
		DefaultQueueSize: 8,
	}, WithClock(env.clock), WithObserver(env.observer))
	env.orch.Reload([]*MarketplaceRuntime{env.runtime()})
	return env
}

func testMarketplace(code integration.MarketplaceCode, enabled bool) *integration.Marketplace {
	return &integration.Marketplace{
		Code:      code,
		BaseURL:   "https://api." + string(code) + ".test",
		RateLimit: integration.RateLimitPolicy{Requests: 10, Window: time.Second},
		Enabled:   enabled,
	}
}

func (e *testEnv) runtime() *MarketplaceRuntime {
	return &MarketplaceRuntime{Marketplace: e.market, Adapter: e.adapter, Client: e.executor}
}

// start launches the queue consumers and stops them when the test ends.
func (e *testEnv) start(t *testing.T) {
	t.Helper()
	e.orch.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, e.orch.Stop(ctx))
	})
}

// allowAlerts accepts any alert for tests that do not assert on them.
func (e *testEnv) allowAlerts() {
	e.alerts.On("Publish", mock.Anything, mock.Anything).Return(nil).Maybe()
}

func (e *testEnv) key(et integration.EntityType) integration.FlowKey {
	return integration.FlowKey{Marketplace: e.market.Code, EntityType: et}
}

func (e *testEnv) status(t *testing.T, et integration.EntityType) integration.FlowStatus {
	t.Helper()
	reports, err := e.orch.Status(context.Background(), StatusFilter{Marketplace: e.market.Code, EntityType: et, Limit: 5})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	return reports[0].Status
}

func testProduct(id string, stock int64, changed time.Time) integration.Product {
	return integration.Product{
		LocalID:        id,
		SKU:            "SKU-" + id,
		Title:          "Product " + id,
		Price:          integration.Price{Amount: decimal.NewFromInt(100), Currency: "TRY"},
		Stock:          stock,
		UpdatedAt:      changed,
		StockUpdatedAt: changed,
		PriceUpdatedAt: changed,
	}
}

func testOrder(id, status string, updated time.Time) integration.RemoteOrder {
	return integration.RemoteOrder{
		RemoteOrderID:   id,
		Status:          status,
		Total:           decimal.NewFromInt(250),
		Currency:        "TRY",
		CreatedAt:       updated,
		RemoteUpdatedAt: updated,
	}
}
