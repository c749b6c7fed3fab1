// Package ratelimit provides the per-marketplace token bucket and the
// bounded-retry client every outbound marketplace call goes through.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/meschain/syncengine/internal/domain/integration"
	"golang.org/x/time/rate"
)

// TokenBucket is a token-bucket limiter backed by golang.org/x/time/rate.
// It starts empty so a restarted process never bursts above the remote quota.
//
// Thread Safety: Safe for concurrent use. Reservations are serialized by the
// underlying limiter, so concurrent waiters are granted tokens in order.
type TokenBucket struct {
	limiter  *rate.Limiter
	clock    clockwork.Clock
	capacity int
	refill   float64
}

// NewTokenBucket creates an empty bucket sized from the policy.
func NewTokenBucket(policy integration.RateLimitPolicy, clock clockwork.Clock) *TokenBucket {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	capacity := max(1, policy.Capacity())
	refill := policy.RefillPerSecond()
	if refill <= 0 {
		refill = 1
	}

	limiter := rate.NewLimiter(rate.Limit(refill), capacity)
	limiter.AllowN(clock.Now(), capacity)

	return &TokenBucket{
		limiter:  limiter,
		clock:    clock,
		capacity: capacity,
		refill:   refill,
	}
}

// Wait blocks until a token is available or ctx is done. It returns how long
// the caller waited. A cancelled wait returns its reservation to the bucket.
func (b *TokenBucket) Wait(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", integration.ErrDeadlineExceeded, err)
	}

	now := b.clock.Now()
	reservation := b.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return 0, fmt.Errorf("ratelimit: reservation exceeds bucket capacity %d", b.capacity)
	}
	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return 0, nil
	}

	select {
	case <-b.clock.After(delay):
		return delay, nil
	case <-ctx.Done():
		reservation.CancelAt(b.clock.Now())
		return 0, fmt.Errorf("%w: waiting for rate limit token: %v", integration.ErrDeadlineExceeded, ctx.Err())
	}
}

// TryAcquire takes a token without blocking.
func (b *TokenBucket) TryAcquire() bool {
	return b.limiter.AllowN(b.clock.Now(), 1)
}

// Tokens returns the currently available tokens, clamped to [0, capacity].
func (b *TokenBucket) Tokens() float64 {
	tokens := b.limiter.TokensAt(b.clock.Now())
	if tokens < 0 {
		return 0
	}
	return min(tokens, float64(b.capacity))
}

// Capacity returns the bucket size.
func (b *TokenBucket) Capacity() int {
	return b.capacity
}

// RefillRate returns tokens added per second.
func (b *TokenBucket) RefillRate() float64 {
	return b.refill
}
