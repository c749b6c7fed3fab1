// Package event replays parked sync events and publishes operator alerts.
package event

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/meschain/syncengine/internal/domain/integration"
	"go.uber.org/zap"
)

// EventHandler processes a replayed sync event. *integration.Orchestrator
// from the application layer implements it.
type EventHandler interface {
	HandleEvent(ctx context.Context, event integration.SyncEvent) error
}

// PendingReplayerConfig holds configuration for the pending event replayer
type PendingReplayerConfig struct {
	BatchSize        int
	PollInterval     time.Duration
	MaxRetries       int
	SuspendedBackoff time.Duration
	CleanupEnabled   bool
	CleanupRetention time.Duration
	CleanupInterval  time.Duration
}

// DefaultPendingReplayerConfig returns default configuration
func DefaultPendingReplayerConfig() PendingReplayerConfig {
	return PendingReplayerConfig{
		BatchSize:        100,
		PollInterval:     10 * time.Second,
		MaxRetries:       integration.DefaultPendingMaxRetries,
		SuspendedBackoff: 5 * time.Minute,
		CleanupEnabled:   true,
		CleanupRetention: 7 * 24 * time.Hour, // 7 days
		CleanupInterval:  1 * time.Hour,
	}
}

// PendingReplayer feeds parked events back into the orchestrator: events that
// overflowed a queue, ran past their deadline or arrived while the
// marketplace was suspended.
type PendingReplayer struct {
	repo    integration.PendingEventRepository
	handler EventHandler
	config  PendingReplayerConfig
	clock   clockwork.Clock
	logger  *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPendingReplayer creates a new pending event replayer
func NewPendingReplayer(
	repo integration.PendingEventRepository,
	handler EventHandler,
	config PendingReplayerConfig,
	clock clockwork.Clock,
	logger *zap.Logger,
) *PendingReplayer {
	d := DefaultPendingReplayerConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = d.BatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = d.PollInterval
	}
	if config.SuspendedBackoff <= 0 {
		config.SuspendedBackoff = d.SuspendedBackoff
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = d.CleanupInterval
	}
	if config.CleanupRetention <= 0 {
		config.CleanupRetention = d.CleanupRetention
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PendingReplayer{
		repo:    repo,
		handler: handler,
		config:  config,
		clock:   clock,
		logger:  logger,
	}
}

// Start starts the background processing
func (p *PendingReplayer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.processLoop(ctx)

	if p.config.CleanupEnabled {
		p.wg.Add(1)
		go p.cleanupLoop(ctx)
	}

	p.logger.Info("Pending event replayer started",
		zap.Int("batch_size", p.config.BatchSize),
		zap.Duration("poll_interval", p.config.PollInterval),
	)
	return nil
}

// Stop gracefully stops the replayer
func (p *PendingReplayer) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Pending event replayer stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PendingReplayer) processLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := p.clock.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch replays one batch of due entries and returns how many were claimed.
func (p *PendingReplayer) ProcessBatch(ctx context.Context) int {
	due, err := p.repo.FindDue(ctx, p.clock.Now(), p.config.BatchSize)
	if err != nil {
		p.logger.Error("Failed to find due pending events", zap.Error(err))
		return 0
	}
	if len(due) == 0 {
		return 0
	}

	ids := make([]uuid.UUID, len(due))
	for i, e := range due {
		ids[i] = e.ID
	}

	// Atomically claim entries
	claimed, err := p.repo.MarkProcessing(ctx, ids)
	if err != nil {
		p.logger.Error("Failed to claim pending events", zap.Error(err))
		return 0
	}

	for _, entry := range claimed {
		p.processEntry(ctx, entry)
	}
	return len(claimed)
}

func (p *PendingReplayer) processEntry(ctx context.Context, entry *integration.PendingSyncEvent) {
	if p.config.MaxRetries > 0 {
		entry.MaxRetries = p.config.MaxRetries
	}
	fields := []zap.Field{
		zap.String("pending_id", entry.ID.String()),
		zap.String("marketplace", string(entry.Marketplace)),
		zap.String("entity_type", string(entry.EntityType)),
		zap.String("entity_id", entry.EntityID),
		zap.String("reason", string(entry.Reason)),
	}

	event, err := entry.Event()
	if err == nil {
		err = p.handler.HandleEvent(ctx, event)
	}

	now := p.clock.Now()
	switch {
	case err == nil:
		entry.MarkSent(now)
		p.logger.Debug("Pending event replayed", fields...)
	case errors.Is(err, integration.ErrMarketplaceSuppressed):
		entry.Defer(now.Add(p.config.SuspendedBackoff), now)
		p.logger.Debug("Pending event deferred, marketplace suppressed", fields...)
	default:
		entry.MarkFailed(err.Error(), now)
		if entry.IsDead() {
			p.logger.Warn("Pending event moved to dead letter",
				append(fields,
					zap.Int("retry_count", entry.RetryCount),
					zap.String("last_error", entry.LastError))...)
		} else {
			p.logger.Info("Pending event replay failed",
				append(fields,
					zap.Int("retry_count", entry.RetryCount),
					zap.Error(err))...)
		}
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if updateErr := p.repo.Update(writeCtx, entry); updateErr != nil {
		p.logger.Error("Failed to update pending event", append(fields, zap.Error(updateErr))...)
	}
}

func (p *PendingReplayer) cleanupLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := p.clock.NewTicker(p.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.Cleanup(ctx)
		}
	}
}

// Cleanup removes replayed entries older than the retention period.
func (p *PendingReplayer) Cleanup(ctx context.Context) int64 {
	cutoff := p.clock.Now().Add(-p.config.CleanupRetention)
	deleted, err := p.repo.DeleteSentBefore(ctx, cutoff)
	if err != nil {
		p.logger.Error("Failed to clean up pending events", zap.Error(err))
		return 0
	}
	if deleted > 0 {
		p.logger.Info("Cleaned up replayed pending events",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	return deleted
}
