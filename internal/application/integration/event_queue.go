package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/meschain/syncengine/internal/domain/integration"
	"go.uber.org/zap"
)

// eventQueue holds one bounded channel per (marketplace, entity_type) flow.
// A single consumer per marketplace drains all four.
type eventQueue struct {
	marketplace integration.MarketplaceCode
	product     chan integration.SyncEvent
	inventory   chan integration.SyncEvent
	price       chan integration.SyncEvent
	order       chan integration.SyncEvent

	// mu orders offers against stop so nothing lands after the final drain.
	mu      sync.RWMutex
	stopped bool
	done    chan struct{}
}

func newEventQueue(code integration.MarketplaceCode, size int) *eventQueue {
	return &eventQueue{
		marketplace: code,
		product:     make(chan integration.SyncEvent, size),
		inventory:   make(chan integration.SyncEvent, size),
		price:       make(chan integration.SyncEvent, size),
		order:       make(chan integration.SyncEvent, size),
		done:        make(chan struct{}),
	}
}

func (q *eventQueue) channel(et integration.EntityType) chan integration.SyncEvent {
	switch et {
	case integration.EntityProduct:
		return q.product
	case integration.EntityInventory:
		return q.inventory
	case integration.EntityPrice:
		return q.price
	case integration.EntityOrder:
		return q.order
	default:
		return nil
	}
}

// offer hands an event over without blocking.
func (q *eventQueue) offer(event integration.SyncEvent) error {
	ch := q.channel(event.EntityType)
	if ch == nil {
		return fmt.Errorf("%w: %q", integration.ErrEntityTypeInvalid, event.EntityType)
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return ErrQueueFull
	}
	select {
	case ch <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *eventQueue) isStopped() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.stopped
}

func (q *eventQueue) depth() int {
	return len(q.product) + len(q.inventory) + len(q.price) + len(q.order)
}

// stop closes the queue. Once it returns no offer succeeds, so the consumer's
// drain after done sees every accepted event.
func (q *eventQueue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.stopped = true
	close(q.done)
}

// drain returns every event still buffered.
func (q *eventQueue) drain() []integration.SyncEvent {
	var events []integration.SyncEvent
	for _, ch := range []chan integration.SyncEvent{q.product, q.inventory, q.price, q.order} {
		for {
			select {
			case ev := <-ch:
				events = append(events, ev)
				continue
			default:
			}
			break
		}
	}
	return events
}

// ---------------------------------------------------------------------------
// Submission and consumption
// ---------------------------------------------------------------------------

// Submit hands a webhook event to its flow's queue without blocking. When the
// queue is full the event is persisted as a pending row instead and parked is
// true. An error means the event could be neither queued nor parked.
func (o *Orchestrator) Submit(ctx context.Context, event integration.SyncEvent) (parked bool, err error) {
	rt, ok := o.Runtime(event.Marketplace)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrMarketplaceUnknown, event.Marketplace)
	}
	if !rt.Enabled() {
		return false, fmt.Errorf("%w: %s", ErrMarketplaceDisabled, event.Marketplace)
	}

	o.mu.RLock()
	q := o.queues[event.Marketplace]
	o.mu.RUnlock()

	if q != nil {
		err := q.offer(event)
		if err == nil {
			o.observer.QueueDepth(event.Marketplace, q.depth())
			return false, nil
		}
		if !errors.Is(err, ErrQueueFull) {
			return false, err
		}
	}

	o.logger.Warn("Sync event queue full, parking event",
		zap.String("marketplace", string(event.Marketplace)),
		zap.String("entity_type", string(event.EntityType)),
		zap.String("entity_id", eventEntity(event)))
	if err := o.park(ctx, event, integration.PendingReasonQueueFull); err != nil {
		return false, err
	}
	return true, nil
}

// startConsumerLocked launches the queue consumer. o.mu must be held.
func (o *Orchestrator) startConsumerLocked(q *eventQueue) {
	ctx := o.baseCtx
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.consume(ctx, q)
	}()
}

func (o *Orchestrator) consume(ctx context.Context, q *eventQueue) {
	logger := o.logger.With(zap.String("marketplace", string(q.marketplace)))
	logger.Debug("Sync event consumer started")

	for {
		var event integration.SyncEvent
		select {
		case <-ctx.Done():
			q.stop()
			o.parkAll(q, integration.PendingReasonShutdown)
			return
		case <-q.done:
			o.parkAll(q, integration.PendingReasonShutdown)
			return
		case event = <-q.product:
		case event = <-q.inventory:
		case event = <-q.price:
		case event = <-q.order:
		}
		o.observer.QueueDepth(q.marketplace, q.depth())
		o.consumeOne(ctx, event)
	}
}

// consumeOne processes a queued event and parks it when it could not finish.
func (o *Orchestrator) consumeOne(ctx context.Context, event integration.SyncEvent) {
	err := o.HandleEvent(ctx, event)
	if err == nil {
		return
	}

	var reason integration.PendingReason
	switch {
	case errors.Is(err, ErrMarketplaceSuppressed):
		reason = integration.PendingReasonSuspended
	case isDeadline(err):
		reason = integration.PendingReasonDeadlineExceeded
	case event.EntityType == integration.EntityOrder:
		reason = integration.PendingReasonFailed
	default:
		// Outbound entities failed retryably are picked up by the next poll.
		return
	}
	if parkErr := o.park(ctx, event, reason); parkErr != nil {
		o.logger.Error("Failed to park sync event",
			zap.String("marketplace", string(event.Marketplace)),
			zap.String("entity_type", string(event.EntityType)),
			zap.String("entity_id", eventEntity(event)),
			zap.Error(parkErr))
	}
}

func (o *Orchestrator) parkAll(q *eventQueue, reason integration.PendingReason) {
	events := q.drain()
	for _, ev := range events {
		if err := o.park(context.Background(), ev, reason); err != nil {
			o.logger.Error("Failed to park sync event",
				zap.String("marketplace", string(ev.Marketplace)),
				zap.String("entity_id", eventEntity(ev)),
				zap.Error(err))
		}
	}
	if len(events) > 0 {
		o.logger.Info("Parked queued sync events",
			zap.String("marketplace", string(q.marketplace)),
			zap.Int("events", len(events)),
			zap.String("reason", string(reason)))
	}
}

// park persists the event as a pending retry row.
func (o *Orchestrator) park(ctx context.Context, event integration.SyncEvent, reason integration.PendingReason) error {
	if o.pending == nil {
		return fmt.Errorf("park %s event: no pending event store", event.EntityType)
	}
	row, err := integration.NewPendingSyncEvent(event, reason, o.clock.Now())
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
	defer cancel()
	if err := o.pending.Save(writeCtx, row); err != nil {
		return fmt.Errorf("save pending event: %w", err)
	}
	return nil
}

func eventEntity(event integration.SyncEvent) string {
	if event.EntityID != "" {
		return event.EntityID
	}
	return event.RemoteID
}
