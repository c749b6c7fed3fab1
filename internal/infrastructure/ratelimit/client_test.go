package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memorySyncLog numbers attempts per entity like the gorm store does.
type memorySyncLog struct {
	mu      sync.Mutex
	entries []integration.SyncLogEntry
}

func (l *memorySyncLog) Append(_ context.Context, entry *integration.SyncLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := 1
	for _, e := range l.entries {
		if e.Marketplace == entry.Marketplace && e.EntityType == entry.EntityType && e.EntityID == entry.EntityID {
			next = e.AttemptNumber + 1
		}
	}
	entry.AttemptNumber = next
	l.entries = append(l.entries, *entry)
	return nil
}

func (l *memorySyncLog) Query(context.Context, integration.SyncLogFilter) ([]integration.SyncLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]integration.SyncLogEntry(nil), l.entries...), nil
}

func (l *memorySyncLog) all() []integration.SyncLogEntry {
	entries, _ := l.Query(context.Background(), integration.SyncLogFilter{})
	return entries
}

// autoAdvance moves the fake clock forward whenever the client is waiting on it.
func autoAdvance(t *testing.T, clock *clockwork.FakeClock, step time.Duration) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if err := clock.BlockUntilContext(ctx, 1); err != nil {
				return
			}
			clock.Advance(step)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func newTestClient(clock clockwork.Clock, syncLog integration.SyncLog, retry integration.RetryPolicy) *Client {
	marketplace := &integration.Marketplace{
		Code:      integration.MarketplaceTrendyol,
		BaseURL:   "http://trendyol.test",
		RateLimit: integration.RateLimitPolicy{Requests: 1000, Window: time.Second},
		Retry:     retry,
	}
	return NewClient(marketplace, syncLog,
		WithClock(clock),
		WithJitter(func(d time.Duration) time.Duration { return d }))
}

var inventoryKey = AttemptKey{EntityType: integration.EntityInventory, EntityID: "P-1", Operation: integration.OperationUpdateStock}

func TestClient_SuccessWritesOneRow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	syncLog := &memorySyncLog{}
	client := newTestClient(clock, syncLog, integration.RetryPolicy{})
	stop := autoAdvance(t, clock, time.Millisecond)
	defer stop()

	calls := 0
	err := client.Execute(context.Background(), inventoryKey, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	rows := syncLog.all()
	require.Len(t, rows, 1)
	assert.Equal(t, integration.SyncLogSuccess, rows[0].Status)
	assert.Equal(t, 1, rows[0].AttemptNumber)
	assert.Equal(t, integration.OperationUpdateStock, rows[0].Operation)
}

func TestClient_BoundedRetries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	syncLog := &memorySyncLog{}
	client := newTestClient(clock, syncLog, integration.RetryPolicy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond})
	stop := autoAdvance(t, clock, time.Millisecond)
	defer stop()

	calls := 0
	err := client.Execute(context.Background(), inventoryKey, func(context.Context) error {
		calls++
		return &integration.TransientError{Marketplace: integration.MarketplaceTrendyol, StatusCode: 503, Err: errors.New("unavailable")}
	})
	require.Error(t, err)
	assert.Equal(t, integration.ErrorKindTransient, integration.Classify(err))
	assert.Equal(t, 5, calls)

	rows := syncLog.all()
	require.Len(t, rows, 5)
	for i, row := range rows {
		assert.Equal(t, i+1, row.AttemptNumber)
		assert.Equal(t, integration.ErrorKindTransient, row.ErrorKind)
	}
	for _, row := range rows[:4] {
		assert.Equal(t, integration.SyncLogRetrying, row.Status)
	}
	assert.Equal(t, integration.SyncLogFailed, rows[4].Status)
}

func TestClient_NonRetryableErrorsStopImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"auth", &integration.AuthError{Marketplace: integration.MarketplaceTrendyol, Message: "revoked"}},
		{"validation", &integration.ValidationError{Marketplace: integration.MarketplaceTrendyol, StatusCode: 400, Detail: "bad"}},
		{"not found", &integration.NotFoundError{Marketplace: integration.MarketplaceTrendyol, RemoteID: "X"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := clockwork.NewFakeClock()
			syncLog := &memorySyncLog{}
			client := newTestClient(clock, syncLog, integration.RetryPolicy{})
			stop := autoAdvance(t, clock, time.Millisecond)
			defer stop()

			calls := 0
			err := client.Execute(context.Background(), inventoryKey, func(context.Context) error {
				calls++
				return tt.err
			})
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, 1, calls)

			rows := syncLog.all()
			require.Len(t, rows, 1)
			assert.Equal(t, integration.SyncLogFailed, rows[0].Status)
		})
	}
}

func TestClient_RetryAfterOverridesBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	syncLog := &memorySyncLog{}
	client := newTestClient(clock, syncLog, integration.RetryPolicy{})
	stop := autoAdvance(t, clock, 10*time.Millisecond)
	defer stop()

	var attemptTimes []time.Time
	err := client.Execute(context.Background(), inventoryKey, func(context.Context) error {
		attemptTimes = append(attemptTimes, clock.Now())
		if len(attemptTimes) == 1 {
			return &integration.RateLimitedError{Marketplace: integration.MarketplaceTrendyol, RetryAfter: 2 * time.Second}
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, attemptTimes, 2)

	gap := attemptTimes[1].Sub(attemptTimes[0])
	assert.GreaterOrEqual(t, gap, 2*time.Second)
	assert.Less(t, gap, 2*time.Second+100*time.Millisecond, "default backoff must not be added")
}

func TestClient_Backoff(t *testing.T) {
	client := newTestClient(clockwork.NewFakeClock(), &memorySyncLog{}, integration.RetryPolicy{})
	transient := &integration.TransientError{Err: errors.New("reset")}

	assert.Equal(t, 500*time.Millisecond, client.Backoff(1, transient))
	assert.Equal(t, time.Second, client.Backoff(2, transient))
	assert.Equal(t, 2*time.Second, client.Backoff(3, transient))
	assert.Equal(t, 30*time.Second, client.Backoff(10, transient))

	jittered := NewClient(&integration.Marketplace{
		Code:      integration.MarketplaceEbay,
		RateLimit: integration.RateLimitPolicy{Requests: 1, Window: time.Second},
	}, &memorySyncLog{}, WithClock(clockwork.NewFakeClock()))
	for attempt := 1; attempt <= 8; attempt++ {
		d := jittered.Backoff(attempt, transient)
		assert.LessOrEqual(t, d, 30*time.Second)
		assert.Positive(t, d)
	}
}

func TestClient_DeadlineDuringBackoffAbandons(t *testing.T) {
	clock := clockwork.NewFakeClock()
	syncLog := &memorySyncLog{}
	client := newTestClient(clock, syncLog, integration.RetryPolicy{BaseDelay: time.Hour, MaxDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	clock.Advance(time.Second)

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Execute(ctx, inventoryKey, func(context.Context) error {
			return &integration.TransientError{Err: errors.New("timeout")}
		})
	}()

	blockCtx, blockCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer blockCancel()
	require.NoError(t, clock.BlockUntilContext(blockCtx, 1))
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, integration.ErrDeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("execute ignored cancellation")
	}

	rows := syncLog.all()
	require.Len(t, rows, 2)
	assert.Equal(t, integration.SyncLogRetrying, rows[0].Status)
	assert.Equal(t, integration.SyncLogAbandoned, rows[1].Status)
	assert.Equal(t, integration.ErrorKindDeadlineExceeded, rows[1].ErrorKind)
}
