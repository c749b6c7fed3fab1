package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meschain/syncengine/internal/domain/integration"
)

const (
	testWebhookSecret = "whsec-test"
	testSigHeader     = "X-Test-Signature"
	testTSHeader      = "X-Test-Timestamp"
)

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

type testDelivery struct {
	ID        string `json:"id,omitempty"`
	Timestamp int64  `json:"ts,omitempty"`
	Events    []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"events"`
}

// jsonDecoder decodes the small JSON envelope used by these tests.
type jsonDecoder struct{}

func (jsonDecoder) SignatureHeader() string { return testSigHeader }
func (jsonDecoder) TimestampHeader() string { return testTSHeader }

func (jsonDecoder) DecodeWebhook(_ http.Header, body []byte) (*integration.WebhookNotification, error) {
	var d testDelivery
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, err
	}
	n := &integration.WebhookNotification{EventID: d.ID}
	if d.Timestamp > 0 {
		n.Timestamp = time.Unix(d.Timestamp, 0).UTC()
	}
	for _, ev := range d.Events {
		et, op, ok := integration.ClassifyEventType(ev.Type)
		if !ok {
			continue
		}
		we := integration.WebhookEvent{EventType: ev.Type, EntityType: et, Operation: op, RemoteID: ev.ID}
		if et == integration.EntityOrder {
			we.Order = &integration.RemoteOrder{RemoteOrderID: ev.ID, Status: integration.OrderStatusPending}
		}
		n.Events = append(n.Events, we)
	}
	return n, nil
}

type fakeSink struct {
	runtimes map[integration.MarketplaceCode]*MarketplaceRuntime
	parked   bool
	err      error

	mu     sync.Mutex
	events []integration.SyncEvent
}

func (s *fakeSink) Runtime(code integration.MarketplaceCode) (*MarketplaceRuntime, bool) {
	rt, ok := s.runtimes[code]
	return rt, ok
}

func (s *fakeSink) Submit(_ context.Context, event integration.SyncEvent) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.parked, nil
}

func (s *fakeSink) submitted() []integration.SyncEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]integration.SyncEvent(nil), s.events...)
}

type fakeDedup struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{seen: make(map[string]bool)}
}

func (d *fakeDedup) MarkSeen(_ context.Context, key string, _ time.Duration) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

func (d *fakeDedup) Forget(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}

func (d *fakeDedup) Close() error { return nil }

type ingestEnv struct {
	clock    *clockwork.FakeClock
	sink     *fakeSink
	dedup    *fakeDedup
	observer *fakeObserver
	ingestor *WebhookIngestor
}

func newIngestEnv(t *testing.T) *ingestEnv {
	t.Helper()
	webhookRuntime := func(code integration.MarketplaceCode, secret string) *MarketplaceRuntime {
		return &MarketplaceRuntime{
			Marketplace:   testMarketplace(code, true),
			Adapter:       newFakeAdapter(code),
			Client:        &directExecutor{},
			Decoder:       jsonDecoder{},
			WebhookSecret: secret,
		}
	}
	env := &ingestEnv{
		clock: clockwork.NewFakeClockAt(testEpoch),
		sink: &fakeSink{runtimes: map[integration.MarketplaceCode]*MarketplaceRuntime{
			integration.MarketplaceTrendyol:    webhookRuntime(integration.MarketplaceTrendyol, testWebhookSecret),
			integration.MarketplaceHepsiburada: webhookRuntime(integration.MarketplaceHepsiburada, testWebhookSecret),
			integration.MarketplaceEbay:        webhookRuntime(integration.MarketplaceEbay, ""),
			integration.MarketplaceAmazon: {
				Marketplace: testMarketplace(integration.MarketplaceAmazon, true),
				Adapter:     newFakeAdapter(integration.MarketplaceAmazon),
				Client:      &directExecutor{},
			},
		}},
		dedup:    newFakeDedup(),
		observer: newFakeObserver(),
	}
	env.ingestor = NewWebhookIngestor(env.sink, env.dedup, DefaultWebhookConfig(), zap.NewNop(),
		WithWebhookClock(env.clock),
		WithWebhookObserver(env.observer),
	)
	return env
}

func deliveryBody(t *testing.T, id string, ts time.Time, events ...string) []byte {
	t.Helper()
	d := testDelivery{ID: id}
	if !ts.IsZero() {
		d.Timestamp = ts.Unix()
	}
	for _, ev := range events {
		typ, remoteID, _ := strings.Cut(ev, ":")
		d.Events = append(d.Events, struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		}{Type: typ, ID: remoteID})
	}
	body, err := json.Marshal(d)
	require.NoError(t, err)
	return body
}

func signedHeader(signature string) http.Header {
	h := http.Header{}
	if signature != "" {
		h.Set(testSigHeader, signature)
	}
	return h
}

func (e *ingestEnv) ingest(t *testing.T, marketplace string, body []byte) (IngestResult, error) {
	t.Helper()
	return e.ingestor.Ingest(context.Background(), marketplace, signedHeader(Sign(testWebhookSecret, body)), body)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestWebhookIngestor_AcceptsSignedDelivery(t *testing.T) {
	env := newIngestEnv(t)
	body := deliveryBody(t, "evt-1", testEpoch, "order.created:TR-123", "inventory.updated:R-9")

	result, err := env.ingest(t, "trendyol", body)

	require.NoError(t, err)
	assert.Equal(t, IngestAccepted, result)

	events := env.sink.submitted()
	require.Len(t, events, 2)
	order := events[0]
	assert.Equal(t, integration.EntityOrder, order.EntityType)
	assert.Equal(t, "TR-123", order.EntityID)
	assert.Equal(t, integration.OriginWebhook, order.Origin)
	assert.Equal(t, testEpoch, order.ReceivedAt)
	require.NotNil(t, order.Order)
	assert.Equal(t, integration.MarketplaceTrendyol, order.Order.Marketplace)

	stock := events[1]
	assert.Equal(t, integration.EntityInventory, stock.EntityType)
	assert.Equal(t, integration.OperationUpdateStock, stock.Operation)
	assert.Equal(t, "R-9", stock.RemoteID)
	assert.Empty(t, stock.EntityID)

	assert.Equal(t, []IngestResult{IngestAccepted}, env.observer.results())
}

func TestWebhookIngestor_SignatureFormats(t *testing.T) {
	tests := []struct {
		name   string
		format func(sig string) string
	}{
		{"bare hex", func(sig string) string { return sig }},
		{"prefixed", func(sig string) string { return "sha256=" + sig }},
		{"upper case", strings.ToUpper},
		{"padded", func(sig string) string { return "  " + sig + " " }},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newIngestEnv(t)
			body := deliveryBody(t, "evt-"+string(rune('a'+i)), time.Time{}, "price.updated:R-1")

			result, err := env.ingestor.Ingest(context.Background(), "trendyol",
				signedHeader(tt.format(Sign(testWebhookSecret, body))), body)

			require.NoError(t, err)
			assert.Equal(t, IngestAccepted, result)
		})
	}
}

func TestWebhookIngestor_RejectsUnauthenticated(t *testing.T) {
	body := deliveryBody(t, "evt-1", time.Time{}, "order.created:TR-1")
	tampered := []byte(strings.Replace(string(body), "TR-1", "TR-2", 1))

	tests := []struct {
		name        string
		marketplace string
		signature   string
		body        []byte
	}{
		{"missing signature", "trendyol", "", body},
		{"wrong secret", "trendyol", Sign("other-secret", body), body},
		{"tampered body", "trendyol", Sign(testWebhookSecret, body), tampered},
		{"malformed signature", "trendyol", "not-hex", body},
		{"unknown marketplace", "etsy", Sign(testWebhookSecret, body), body},
		{"invalid marketplace code", "trend/yol", Sign(testWebhookSecret, body), body},
		{"no webhook secret", "ebay", Sign("", body), body},
		{"no webhook decoder", "amazon", Sign(testWebhookSecret, body), body},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newIngestEnv(t)

			result, err := env.ingestor.Ingest(context.Background(), tt.marketplace, signedHeader(tt.signature), tt.body)

			assert.ErrorIs(t, err, ErrWebhookUnauthorized)
			assert.Equal(t, IngestRejected, result)
			assert.Empty(t, env.sink.submitted())
			assert.Equal(t, []IngestResult{IngestRejected}, env.observer.results())
		})
	}
}

func TestWebhookIngestor_ReplayWindow(t *testing.T) {
	tests := []struct {
		name   string
		offset time.Duration
		want   IngestResult
	}{
		{"fresh", -time.Minute, IngestAccepted},
		{"slightly in the future", 4 * time.Minute, IngestAccepted},
		{"at the edge", -5 * time.Minute, IngestAccepted},
		{"too old", -6 * time.Minute, IngestRejected},
		{"too far ahead", 10 * time.Minute, IngestRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newIngestEnv(t)
			body := deliveryBody(t, "evt-1", testEpoch.Add(tt.offset), "order.updated:TR-1")

			result, err := env.ingest(t, "trendyol", body)

			assert.Equal(t, tt.want, result)
			if tt.want == IngestRejected {
				assert.ErrorIs(t, err, ErrWebhookUnauthorized)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWebhookIngestor_DropsDuplicates(t *testing.T) {
	env := newIngestEnv(t)
	body := deliveryBody(t, "evt-dup", testEpoch, "order.created:TR-123")

	first, err := env.ingest(t, "trendyol", body)
	require.NoError(t, err)
	env.clock.Advance(time.Second)
	second, err := env.ingest(t, "trendyol", body)
	require.NoError(t, err)

	assert.Equal(t, IngestAccepted, first)
	assert.Equal(t, IngestDuplicate, second)
	assert.Len(t, env.sink.submitted(), 1)

	// Event IDs are scoped to their marketplace.
	result, err := env.ingest(t, "hepsiburada", body)
	require.NoError(t, err)
	assert.Equal(t, IngestAccepted, result)
}

func TestWebhookIngestor_DedupsOnBodyWithoutEventID(t *testing.T) {
	env := newIngestEnv(t)
	body := deliveryBody(t, "", time.Time{}, "product.updated:R-1")

	first, err := env.ingest(t, "trendyol", body)
	require.NoError(t, err)
	second, err := env.ingest(t, "trendyol", body)
	require.NoError(t, err)

	assert.Equal(t, IngestAccepted, first)
	assert.Equal(t, IngestDuplicate, second)
}

func TestWebhookIngestor_DedupOutageStillProcesses(t *testing.T) {
	env := newIngestEnv(t)
	env.dedup.err = errors.New("redis down")

	result, err := env.ingest(t, "trendyol", deliveryBody(t, "evt-1", time.Time{}, "order.created:TR-1"))

	require.NoError(t, err)
	assert.Equal(t, IngestAccepted, result)
	assert.Len(t, env.sink.submitted(), 1)
}

func TestWebhookIngestor_Overflow(t *testing.T) {
	env := newIngestEnv(t)
	env.sink.parked = true

	result, err := env.ingest(t, "trendyol", deliveryBody(t, "evt-1", time.Time{}, "inventory.low_stock:R-1"))

	require.NoError(t, err)
	assert.Equal(t, IngestOverflow, result)
	assert.Equal(t, []IngestResult{IngestOverflow}, env.observer.results())
}

func TestWebhookIngestor_AcknowledgesWhatItCannotUse(t *testing.T) {
	t.Run("undecodable payload", func(t *testing.T) {
		env := newIngestEnv(t)
		result, err := env.ingest(t, "trendyol", []byte("not json"))
		require.NoError(t, err)
		assert.Equal(t, IngestDropped, result)
	})

	t.Run("no actionable events", func(t *testing.T) {
		env := newIngestEnv(t)
		result, err := env.ingest(t, "trendyol", deliveryBody(t, "evt-1", time.Time{}, "seller.updated:S-1"))
		require.NoError(t, err)
		assert.Equal(t, IngestDropped, result)
		assert.Empty(t, env.sink.submitted())
	})

	t.Run("hand-off failure", func(t *testing.T) {
		env := newIngestEnv(t)
		env.sink.err = errors.New("pending store unavailable")
		result, err := env.ingest(t, "trendyol", deliveryBody(t, "evt-1", time.Time{}, "order.created:TR-1"))
		require.NoError(t, err)
		assert.Equal(t, IngestDropped, result)
	})
}

func TestWebhookIngestor_RedeliveryAfterHandoffFailureIsProcessed(t *testing.T) {
	env := newIngestEnv(t)
	body := deliveryBody(t, "evt-7", time.Time{}, "order.created:TR-7")

	env.sink.err = errors.New("pending store unavailable")
	result, err := env.ingest(t, "trendyol", body)
	require.NoError(t, err)
	assert.Equal(t, IngestDropped, result)
	assert.Empty(t, env.sink.submitted())

	env.sink.err = nil
	result, err = env.ingest(t, "trendyol", body)
	require.NoError(t, err)
	assert.Equal(t, IngestAccepted, result)
	require.Len(t, env.sink.submitted(), 1)
	assert.Equal(t, "TR-7", env.sink.submitted()[0].RemoteID)

	// Once handed off the event is remembered again.
	result, err = env.ingest(t, "trendyol", body)
	require.NoError(t, err)
	assert.Equal(t, IngestDuplicate, result)
}

func TestWebhookIngestor_FeedsOrchestrator(t *testing.T) {
	env := newTestEnv(t)
	env.allowAlerts()
	rt := env.runtime()
	rt.Decoder = jsonDecoder{}
	rt.WebhookSecret = testWebhookSecret
	env.orch.Reload([]*MarketplaceRuntime{rt})
	env.start(t)

	ingestor := NewWebhookIngestor(env.orch, newFakeDedup(), WebhookConfig{}, zap.NewNop(), WithWebhookClock(env.clock))
	body := deliveryBody(t, "evt-42", testEpoch, "order.created:TR-42")

	for i := 0; i < 2; i++ {
		_, err := ingestor.Ingest(context.Background(), "trendyol", signedHeader(Sign(testWebhookSecret, body)), body)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return env.writer.createdCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	count, err := env.orders.CountByMarketplace(context.Background(), integration.MarketplaceTrendyol)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"id":"1"}`)
	sig := Sign("secret", body)

	assert.Len(t, sig, 64)
	assert.NoError(t, VerifySignature("secret", sig, body))
	assert.NoError(t, VerifySignature("secret", "sha256="+sig, body))
	assert.Error(t, VerifySignature("secret", "", body))
	assert.Error(t, VerifySignature("secret", "zz", body))
	assert.Error(t, VerifySignature("other", sig, body))
	assert.Error(t, VerifySignature("secret", sig, []byte(`{"id":"2"}`)))
}
