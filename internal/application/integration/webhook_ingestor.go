package integration

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/meschain/syncengine/internal/domain/integration"
	"go.uber.org/zap"
)

// IngestResult is the outcome of one webhook delivery.
type IngestResult = integration.IngestResult

const (
	IngestAccepted  = integration.IngestAccepted
	IngestDuplicate = integration.IngestDuplicate
	IngestRejected  = integration.IngestRejected
	IngestOverflow  = integration.IngestOverflow
	IngestDropped   = integration.IngestDropped
)

const signaturePrefix = "sha256="

// EventSink is where the ingestor hands verified events. *Orchestrator implements it.
type EventSink interface {
	Runtime(code integration.MarketplaceCode) (*MarketplaceRuntime, bool)
	Submit(ctx context.Context, event integration.SyncEvent) (parked bool, err error)
}

// WebhookConfig tunes the ingestor.
type WebhookConfig struct {
	// DedupTTL is how long an event ID is remembered.
	DedupTTL time.Duration
	// TimestampTolerance is the accepted clock skew of a signed timestamp.
	TimestampTolerance time.Duration
}

// DefaultWebhookConfig returns a 24h seen-set and a 5 minute replay window.
func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{
		DedupTTL:           integration.DefaultDedupTTL,
		TimestampTolerance: 5 * time.Minute,
	}
}

// WebhookIngestor authenticates, deduplicates and converts marketplace
// webhook deliveries into SyncEvents. It never calls a marketplace and never
// waits for an event to be processed.
type WebhookIngestor struct {
	sink     EventSink
	dedup    integration.DedupStore
	config   WebhookConfig
	clock    clockwork.Clock
	logger   *zap.Logger
	security *zap.Logger
	observer RunObserver
}

// WebhookOption configures a WebhookIngestor.
type WebhookOption func(*WebhookIngestor)

// WithWebhookClock sets the clock used for replay checks and event timestamps.
func WithWebhookClock(clock clockwork.Clock) WebhookOption {
	return func(w *WebhookIngestor) {
		w.clock = clock
	}
}

// WithWebhookObserver sets the metrics observer.
func WithWebhookObserver(observer RunObserver) WebhookOption {
	return func(w *WebhookIngestor) {
		w.observer = observer
	}
}

// NewWebhookIngestor creates an ingestor. Security events are logged on a
// child logger named "security".
func NewWebhookIngestor(sink EventSink, dedup integration.DedupStore, config WebhookConfig, logger *zap.Logger, opts ...WebhookOption) *WebhookIngestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := DefaultWebhookConfig()
	if config.DedupTTL <= 0 {
		config.DedupTTL = d.DedupTTL
	}
	if config.TimestampTolerance <= 0 {
		config.TimestampTolerance = d.TimestampTolerance
	}
	w := &WebhookIngestor{
		sink:     sink,
		dedup:    dedup,
		config:   config,
		clock:    clockwork.NewRealClock(),
		logger:   logger.Named("webhook"),
		security: logger.Named("security"),
		observer: nopRunObserver{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Ingest handles one delivery. It returns ErrWebhookUnauthorized when the
// delivery fails authentication; every other outcome, duplicates and
// undecodable payloads included, is acknowledged.
func (w *WebhookIngestor) Ingest(ctx context.Context, marketplace string, header http.Header, body []byte) (IngestResult, error) {
	code, err := integration.ParseMarketplaceCode(marketplace)
	if err != nil {
		return w.reject("", "invalid marketplace code", err)
	}
	rt, ok := w.sink.Runtime(code)
	if !ok {
		return w.reject(code, "unknown marketplace", nil)
	}
	if rt.Decoder == nil {
		return w.reject(code, "marketplace does not push webhooks", ErrWebhooksUnsupported)
	}
	if rt.WebhookSecret == "" {
		return w.reject(code, "no webhook secret configured", nil)
	}
	if err := VerifySignature(rt.WebhookSecret, header.Get(rt.Decoder.SignatureHeader()), body); err != nil {
		return w.reject(code, "signature mismatch", err)
	}

	notification, err := rt.Decoder.DecodeWebhook(header, body)
	if err != nil {
		w.logger.Warn("Undecodable webhook payload dropped",
			zap.String("marketplace", string(code)),
			zap.Int("body_bytes", len(body)),
			zap.Error(err))
		return w.finish(code, IngestDropped), nil
	}

	now := w.clock.Now()
	if !notification.Timestamp.IsZero() {
		skew := now.Sub(notification.Timestamp)
		if skew < 0 {
			skew = -skew
		}
		if skew > w.config.TimestampTolerance {
			return w.reject(code, "timestamp outside replay window",
				fmt.Errorf("timestamp %s is %s away from now", notification.Timestamp.Format(time.RFC3339), skew))
		}
	}

	eventID := notification.EventID
	if eventID == "" {
		sum := sha256.Sum256(body)
		eventID = hex.EncodeToString(sum[:])
	}
	dedupKey := integration.DedupKey(code, eventID)
	first, err := w.dedup.MarkSeen(ctx, dedupKey, w.config.DedupTTL)
	marked := err == nil
	if err != nil {
		// Ingestion is idempotent downstream, so a dedup outage only costs duplicate work.
		w.logger.Error("Webhook dedup check failed, processing delivery",
			zap.String("marketplace", string(code)),
			zap.String("event_id", eventID),
			zap.Error(err))
		first = true
	}
	if !first {
		w.logger.Debug("Duplicate webhook delivery dropped",
			zap.String("marketplace", string(code)),
			zap.String("event_id", eventID))
		return w.finish(code, IngestDuplicate), nil
	}

	if len(notification.Events) == 0 {
		w.logger.Debug("Webhook carried no actionable events",
			zap.String("marketplace", string(code)),
			zap.String("event_id", eventID))
		return w.finish(code, IngestDropped), nil
	}

	result := IngestAccepted
	handoffFailed := false
	for _, ev := range notification.Events {
		event := toSyncEvent(code, ev, now)
		parked, err := w.sink.Submit(ctx, event)
		if err != nil {
			w.logger.Error("Failed to hand off webhook event",
				zap.String("marketplace", string(code)),
				zap.String("event_id", eventID),
				zap.String("event_type", ev.EventType),
				zap.Error(err))
			result = IngestDropped
			handoffFailed = true
			continue
		}
		if parked && result == IngestAccepted {
			result = IngestOverflow
		}
	}

	// A redelivery of an event that was never handed off must not be dropped
	// as a duplicate.
	if handoffFailed && marked {
		if err := w.dedup.Forget(context.WithoutCancel(ctx), dedupKey); err != nil {
			w.logger.Error("Failed to forget webhook dedup key",
				zap.String("marketplace", string(code)),
				zap.String("event_id", eventID),
				zap.Error(err))
		}
	}

	w.logger.Info("Webhook accepted",
		zap.String("marketplace", string(code)),
		zap.String("event_id", eventID),
		zap.Int("events", len(notification.Events)),
		zap.String("result", string(result)))
	return w.finish(code, result), nil
}

func (w *WebhookIngestor) reject(code integration.MarketplaceCode, reason string, cause error) (IngestResult, error) {
	fields := []zap.Field{
		zap.String("marketplace", string(code)),
		zap.String("reason", reason),
	}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	w.security.Warn("Webhook rejected", fields...)
	w.observer.WebhookResult(code, IngestRejected)
	return IngestRejected, ErrWebhookUnauthorized
}

func (w *WebhookIngestor) finish(code integration.MarketplaceCode, result IngestResult) IngestResult {
	w.observer.WebhookResult(code, result)
	return result
}

// toSyncEvent converts a decoded notification into the internal event.
// Order events are keyed by remote order ID; product events carry the remote
// product ID and are resolved to a local product when processed.
func toSyncEvent(code integration.MarketplaceCode, ev integration.WebhookEvent, now time.Time) integration.SyncEvent {
	event := integration.SyncEvent{
		EntityType:  ev.EntityType,
		Marketplace: code,
		RemoteID:    ev.RemoteID,
		Operation:   ev.Operation,
		Order:       ev.Order,
		Origin:      integration.OriginWebhook,
		ReceivedAt:  now,
	}
	if ev.EntityType == integration.EntityOrder {
		event.EntityID = ev.RemoteID
		if event.Order != nil {
			event.Order.Marketplace = code
		}
	}
	return event
}

// VerifySignature checks a lower-case hex HMAC-SHA256 of body, optionally
// prefixed "sha256=", in constant time.
func VerifySignature(secret, signature string, body []byte) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return errors.New("missing signature")
	}
	signature = strings.TrimPrefix(signature, signaturePrefix)
	got, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return fmt.Errorf("malformed signature: %w", err)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return errors.New("signature does not match payload")
	}
	return nil
}

// Sign returns the signature VerifySignature accepts. Marketplace simulators
// and tests use it.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
