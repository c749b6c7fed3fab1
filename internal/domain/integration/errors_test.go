package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ErrorKindNone},
		{"auth", &AuthError{Marketplace: MarketplaceTrendyol, Message: "bad key"}, ErrorKindAuth},
		{"rate limited", &RateLimitedError{Marketplace: MarketplaceTrendyol}, ErrorKindRateLimited},
		{"transient", &TransientError{Marketplace: MarketplaceTrendyol, StatusCode: 503, Err: errors.New("unavailable")}, ErrorKindTransient},
		{"validation", &ValidationError{Marketplace: MarketplaceTrendyol, StatusCode: 400, Detail: "bad barcode"}, ErrorKindValidation},
		{"not found", &NotFoundError{Marketplace: MarketplaceTrendyol, RemoteID: "X"}, ErrorKindNotFound},
		{"conflict", &ConflictError{Marketplace: MarketplaceTrendyol}, ErrorKindConflict},
		{"wrapped auth", fmt.Errorf("push: %w", &AuthError{Marketplace: MarketplaceEbay}), ErrorKindAuth},
		{"deadline", ErrDeadlineExceeded, ErrorKindDeadlineExceeded},
		{"context deadline", context.DeadlineExceeded, ErrorKindDeadlineExceeded},
		{"transient wrapping deadline", &TransientError{Err: context.DeadlineExceeded}, ErrorKindDeadlineExceeded},
		{"unknown", errors.New("boom"), ErrorKindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestErrorKind_Retryable(t *testing.T) {
	assert.True(t, ErrorKindRateLimited.Retryable())
	assert.True(t, ErrorKindTransient.Retryable())
	assert.False(t, ErrorKindAuth.Retryable())
	assert.False(t, ErrorKindValidation.Retryable())
	assert.False(t, ErrorKindNotFound.Retryable())
	assert.False(t, ErrorKindConflict.Retryable())
}

func TestRetryAfter(t *testing.T) {
	d, ok := RetryAfter(&RateLimitedError{RetryAfter: 2 * time.Second})
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, d)

	_, ok = RetryAfter(&RateLimitedError{})
	assert.False(t, ok)

	_, ok = RetryAfter(&TransientError{Err: errors.New("x")})
	assert.False(t, ok)
}

func TestErrorDetail(t *testing.T) {
	assert.Empty(t, ErrorDetail(nil))
	assert.Equal(t, "boom", ErrorDetail(errors.New("boom")))

	// A two-byte rune straddles the limit and must not be split.
	msg := strings.Repeat("a", MaxErrorDetail-1) + "ş geçersiz ürün"
	got := ErrorDetail(errors.New(msg))
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), MaxErrorDetail)
	assert.Equal(t, strings.Repeat("a", MaxErrorDetail-1), got)

	assert.True(t, utf8.ValidString(ErrorDetail(errors.New("bad \xc5 byte"))))
}
