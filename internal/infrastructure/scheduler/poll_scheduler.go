package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/meschain/syncengine/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// Poller Interface
// ---------------------------------------------------------------------------

// Poller runs sync flows. *integration.Orchestrator from the application
// layer implements it.
type Poller interface {
	// Poll runs one flow and waits for it. A flow already running is coalesced.
	Poll(ctx context.Context, key integration.FlowKey) integration.TriggerResult
	// Marketplaces returns the configured marketplaces.
	Marketplaces() []*integration.Marketplace
}

// ---------------------------------------------------------------------------
// PollSchedulerConfig
// ---------------------------------------------------------------------------

// PollSchedulerConfig holds configuration for the poll scheduler
type PollSchedulerConfig struct {
	// Enabled indicates if the scheduler is enabled
	Enabled bool
	// MinInterval is the smallest poll interval the scheduler accepts
	MinInterval time.Duration
	// InitialPoll runs every flow once right after (re)start
	InitialPoll bool
}

// DefaultPollSchedulerConfig returns default configuration
func DefaultPollSchedulerConfig() PollSchedulerConfig {
	return PollSchedulerConfig{
		Enabled:     true,
		MinInterval: 10 * time.Second,
		InitialPoll: true,
	}
}

// Validate validates the configuration
func (c *PollSchedulerConfig) Validate() error {
	if c.MinInterval <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// ---------------------------------------------------------------------------
// PollScheduler
// ---------------------------------------------------------------------------

// PollScheduler ticks one goroutine per (marketplace, entity_type) flow at the
// flow's configured interval. A flow with no interval is never polled and
// runs only on webhooks and manual triggers.
type PollScheduler struct {
	config PollSchedulerConfig
	poller Poller
	clock  clockwork.Clock
	logger *zap.Logger

	mu        sync.Mutex
	isRunning bool
	baseCtx   context.Context
	cancel    context.CancelFunc // cancels the current set of flow loops
	wg        sync.WaitGroup
	active    map[integration.FlowKey]time.Duration
}

// NewPollScheduler creates a new poll scheduler
func NewPollScheduler(config PollSchedulerConfig, poller Poller, clock clockwork.Clock, logger *zap.Logger) (*PollScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PollScheduler{
		config: config,
		poller: poller,
		clock:  clock,
		logger: logger,
		active: make(map[integration.FlowKey]time.Duration),
	}, nil
}

// Start starts one poll loop per configured flow
func (s *PollScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	if !s.config.Enabled {
		s.logger.Info("Poll scheduler disabled")
		return nil
	}
	s.isRunning = true
	s.baseCtx = ctx
	s.startLoopsLocked()

	s.logger.Info("Poll scheduler started", zap.Int("flows", len(s.active)))
	return nil
}

// Reload restarts the poll loops against the poller's current marketplaces.
// Call it after the orchestrator installed a new configuration.
func (s *PollScheduler) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}
	s.stopLoopsLocked()
	s.startLoopsLocked()
	s.logger.Info("Poll scheduler reloaded", zap.Int("flows", len(s.active)))
}

// Stop gracefully stops the scheduler
func (s *PollScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Poll scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Poll scheduler stop timed out")
		return ctx.Err()
	}
}

// ActiveFlows returns the polled flows and their intervals.
func (s *PollScheduler) ActiveFlows() map[integration.FlowKey]time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[integration.FlowKey]time.Duration, len(s.active))
	for k, v := range s.active {
		out[k] = v
	}
	return out
}

func (s *PollScheduler) stopLoopsLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.active = make(map[integration.FlowKey]time.Duration)
}

func (s *PollScheduler) startLoopsLocked() {
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.cancel = cancel

	for _, mp := range s.poller.Marketplaces() {
		if !mp.Enabled {
			continue
		}
		for _, et := range integration.AllEntityTypes {
			interval := mp.PollInterval(et)
			if interval <= 0 {
				continue
			}
			key := integration.FlowKey{Marketplace: mp.Code, EntityType: et}
			if interval < s.config.MinInterval {
				s.logger.Warn("Poll interval below minimum, clamping",
					zap.String("marketplace", string(mp.Code)),
					zap.String("entity_type", string(et)),
					zap.Duration("interval", interval),
					zap.Duration("min_interval", s.config.MinInterval))
				interval = s.config.MinInterval
			}
			s.active[key] = interval
			s.wg.Add(1)
			go s.loop(ctx, key, interval)
		}
	}
}

// loop polls one flow. Poll blocks for the whole run and the run deadline is
// shorter than the interval, so ticks missed while running are dropped.
func (s *PollScheduler) loop(ctx context.Context, key integration.FlowKey, interval time.Duration) {
	defer s.wg.Done()

	logger := s.logger.With(
		zap.String("marketplace", string(key.Marketplace)),
		zap.String("entity_type", string(key.EntityType)))
	logger.Debug("Poll loop started", zap.Duration("interval", interval))

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	if s.config.InitialPoll {
		s.poll(ctx, key, logger)
	}
	for {
		select {
		case <-ctx.Done():
			logger.Debug("Poll loop stopping")
			return
		case <-ticker.Chan():
			s.poll(ctx, key, logger)
		}
	}
}

func (s *PollScheduler) poll(ctx context.Context, key integration.FlowKey, logger *zap.Logger) {
	if ctx.Err() != nil {
		return
	}
	result := s.poller.Poll(ctx, key)
	switch result {
	case integration.TriggerStarted:
		logger.Debug("Poll finished")
	case integration.TriggerSuppressed:
		logger.Debug("Poll skipped, marketplace suppressed")
	default:
		logger.Debug("Poll skipped", zap.String("result", string(result)))
	}
}
