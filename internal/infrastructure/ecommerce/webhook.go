package ecommerce

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/meschain/syncengine/internal/domain/integration"
)

// webhookHeaders names the headers a marketplace signs its deliveries with.
type webhookHeaders struct {
	signature string
	timestamp string
	event     string
	eventID   string
}

func headersFor(prefix string) webhookHeaders {
	return webhookHeaders{
		signature: "X-" + prefix + "-Signature",
		timestamp: "X-" + prefix + "-Timestamp",
		event:     "X-" + prefix + "-Event",
		eventID:   "X-" + prefix + "-Event-Id",
	}
}

// eventTypeTable maps marketplace event names onto the shared vocabulary.
type eventTypeTable map[string]string

// canonical returns the shared event type, passing unknown names through lowercased.
func (t eventTypeTable) canonical(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if mapped, ok := t[key]; ok {
		return mapped
	}
	return key
}

// notification assembles a WebhookNotification, taking the event ID and
// timestamp from the body first and the headers second. The event ID stays
// empty when neither carries one.
func (h webhookHeaders) notification(header http.Header, eventID, timestamp string) (*integration.WebhookNotification, error) {
	if eventID == "" {
		eventID = header.Get(h.eventID)
	}
	if timestamp == "" {
		timestamp = header.Get(h.timestamp)
	}
	n := &integration.WebhookNotification{EventID: eventID}
	if timestamp != "" {
		ts, err := parseTimestamp(timestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: bad timestamp %q", ErrInvalidWebhook, timestamp)
		}
		n.Timestamp = ts
	}
	return n, nil
}

// webhookEvent classifies a canonical event type into a WebhookEvent.
func webhookEvent(eventType, remoteID string, order *integration.RemoteOrder) (integration.WebhookEvent, bool) {
	entity, op, ok := integration.ClassifyEventType(eventType)
	if !ok {
		return integration.WebhookEvent{}, false
	}
	if order != nil && remoteID == "" {
		remoteID = order.RemoteOrderID
	}
	return integration.WebhookEvent{
		EventType:  eventType,
		EntityType: entity,
		Operation:  op,
		RemoteID:   remoteID,
		Order:      order,
	}, true
}

// millisToTime converts a unix-millisecond field, keeping zero as the zero time.
func millisToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
