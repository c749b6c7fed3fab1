package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/meschain/syncengine/internal/domain/integration"
	"go.uber.org/zap"
)

const auditWriteTimeout = 5 * time.Second

// AttemptKey identifies the entity an outbound call is made for.
type AttemptKey struct {
	EntityType integration.EntityType
	EntityID   string
	Operation  integration.Operation
}

// Observer receives limiter and attempt measurements.
type Observer interface {
	TokenWait(marketplace integration.MarketplaceCode, wait time.Duration)
	Attempt(marketplace integration.MarketplaceCode, key AttemptKey, status integration.SyncLogStatus, latency time.Duration)
}

type nopObserver struct{}

func (nopObserver) TokenWait(integration.MarketplaceCode, time.Duration) {}
func (nopObserver) Attempt(integration.MarketplaceCode, AttemptKey, integration.SyncLogStatus, time.Duration) {
}

// Client wraps every outbound call to one marketplace with the token bucket
// and the bounded retry policy. It is the only writer of attempt-level
// Sync Log rows.
type Client struct {
	marketplace integration.MarketplaceCode
	bucket      *TokenBucket
	policy      integration.RetryPolicy
	syncLog     integration.SyncLog
	clock       clockwork.Clock
	logger      *zap.Logger
	observer    Observer
	jitter      func(time.Duration) time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithClock sets the clock used for token waits, backoff sleeps and row timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithObserver sets the metrics observer.
func WithObserver(observer Observer) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// WithJitter replaces the jitter function applied to computed backoff delays.
func WithJitter(jitter func(time.Duration) time.Duration) Option {
	return func(c *Client) {
		c.jitter = jitter
	}
}

// NewClient creates the rate-limited client for a marketplace.
func NewClient(marketplace *integration.Marketplace, syncLog integration.SyncLog, opts ...Option) *Client {
	c := &Client{
		marketplace: marketplace.Code,
		policy:      marketplace.Retry.WithDefaults(),
		syncLog:     syncLog,
		clock:       clockwork.NewRealClock(),
		logger:      zap.NewNop(),
		observer:    nopObserver{},
		jitter:      equalJitter,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.bucket = NewTokenBucket(marketplace.RateLimit, c.clock)
	c.logger = c.logger.With(zap.String("marketplace", string(marketplace.Code)))
	return c
}

// Marketplace returns the marketplace the client talks to.
func (c *Client) Marketplace() integration.MarketplaceCode {
	return c.marketplace
}

// Bucket exposes the limiter for status reporting.
func (c *Client) Bucket() *TokenBucket {
	return c.bucket
}

// Policy returns the effective retry policy.
func (c *Client) Policy() integration.RetryPolicy {
	return c.policy
}

// Execute runs op under the limiter, retrying RateLimited and Transient
// failures up to MaxAttempts. Each attempt appends one Sync Log row. The
// returned error is the last typed error from op, or ErrDeadlineExceeded
// when ctx ends the loop first.
func (c *Client) Execute(ctx context.Context, key AttemptKey, op func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		waitStart := c.clock.Now()
		waited, err := c.bucket.Wait(ctx)
		if err != nil {
			c.record(ctx, key, integration.SyncLogAbandoned, err, waitStart, c.clock.Now())
			return err
		}
		c.observer.TokenWait(c.marketplace, waited)

		started := c.clock.Now()
		err = op(ctx)
		finished := c.clock.Now()
		c.observer.Attempt(c.marketplace, key, statusOf(err, attempt, c.policy.MaxAttempts), finished.Sub(started))

		if err == nil {
			c.record(ctx, key, integration.SyncLogSuccess, nil, started, finished)
			return nil
		}

		kind := integration.Classify(err)
		switch {
		case kind == integration.ErrorKindDeadlineExceeded:
			c.record(ctx, key, integration.SyncLogAbandoned, err, started, finished)
			return err
		case !kind.Retryable() || attempt >= c.policy.MaxAttempts:
			c.record(ctx, key, integration.SyncLogFailed, err, started, finished)
			if kind.Retryable() {
				c.logger.Warn("Retries exhausted",
					zap.String("entity_type", string(key.EntityType)),
					zap.String("entity_id", key.EntityID),
					zap.String("operation", string(key.Operation)),
					zap.Int("attempts", attempt),
					zap.Error(err))
			}
			return err
		}

		c.record(ctx, key, integration.SyncLogRetrying, err, started, finished)
		delay := c.Backoff(attempt, err)
		c.logger.Debug("Retrying marketplace call",
			zap.String("entity_id", key.EntityID),
			zap.String("operation", string(key.Operation)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("error_kind", string(kind)))

		if err := c.sleep(ctx, delay); err != nil {
			now := c.clock.Now()
			c.record(ctx, key, integration.SyncLogAbandoned, err, now, now)
			return err
		}
	}
}

// Backoff returns the delay before the attempt following attempt. A
// server-suggested Retry-After replaces the computed exponential delay.
func (c *Client) Backoff(attempt int, err error) time.Duration {
	if retryAfter, ok := integration.RetryAfter(err); ok {
		return retryAfter
	}
	delay := c.policy.BaseDelay
	for i := 1; i < attempt && delay < c.policy.MaxDelay; i++ {
		delay *= 2
	}
	delay = min(delay, c.policy.MaxDelay)
	return min(c.jitter(delay), c.policy.MaxDelay)
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-c.clock.After(d):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: backing off: %v", integration.ErrDeadlineExceeded, ctx.Err())
	}
}

func (c *Client) record(ctx context.Context, key AttemptKey, status integration.SyncLogStatus, err error, started, finished time.Time) {
	entry := &integration.SyncLogEntry{
		Marketplace: c.marketplace,
		EntityType:  key.EntityType,
		EntityID:    key.EntityID,
		Operation:   key.Operation,
		Status:      status,
		ErrorKind:   integration.Classify(err),
		StartedAt:   started,
		FinishedAt:  finished,
	}
	if err != nil {
		entry.ErrorDetail = integration.ErrorDetail(err)
	}

	// The row must be written even when the caller's deadline is what ended the attempt.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	if appendErr := c.syncLog.Append(writeCtx, entry); appendErr != nil {
		c.logger.Error("Failed to append sync log entry",
			zap.String("entity_type", string(key.EntityType)),
			zap.String("entity_id", key.EntityID),
			zap.String("status", string(status)),
			zap.Error(appendErr))
	}
}

func statusOf(err error, attempt, maxAttempts int) integration.SyncLogStatus {
	if err == nil {
		return integration.SyncLogSuccess
	}
	kind := integration.Classify(err)
	if kind.Retryable() && attempt < maxAttempts {
		return integration.SyncLogRetrying
	}
	return integration.SyncLogFailed
}

// equalJitter keeps half the delay and randomizes the other half.
func equalJitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + rand.N(d-half)
}
