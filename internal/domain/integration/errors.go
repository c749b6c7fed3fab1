package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

// ErrorKind is the stable, operator-visible classification of a sync failure.
type ErrorKind string

const (
	ErrorKindNone             ErrorKind = ""
	ErrorKindAuth             ErrorKind = "auth"
	ErrorKindRateLimited      ErrorKind = "rate_limited"
	ErrorKindTransient        ErrorKind = "transient"
	ErrorKindValidation       ErrorKind = "validation"
	ErrorKindNotFound         ErrorKind = "not_found"
	ErrorKindConflict         ErrorKind = "conflict"
	ErrorKindDeadlineExceeded ErrorKind = "deadline_exceeded"
	ErrorKindInternal         ErrorKind = "internal"
)

// Retryable reports whether the client may retry an error of this kind.
func (k ErrorKind) Retryable() bool {
	return k == ErrorKindRateLimited || k == ErrorKindTransient
}

// ErrDeadlineExceeded is returned when a caller deadline expires while waiting
// for a token or between retries.
var ErrDeadlineExceeded = errors.New("integration: deadline exceeded")

// ErrMarketplaceSuppressed is returned while a marketplace is suspended after
// an authentication failure. It clears on configuration reload.
var ErrMarketplaceSuppressed = errors.New("integration: marketplace suppressed until configuration reload")

// AuthError means the marketplace rejected our credentials.
type AuthError struct {
	Marketplace MarketplaceCode
	Message     string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %s", e.Marketplace, e.Message)
}

// RateLimitedError is an HTTP 429 (or equivalent). RetryAfter is zero when the
// marketplace did not suggest a delay.
type RateLimitedError struct {
	Marketplace MarketplaceCode
	RetryAfter  time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Marketplace, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Marketplace)
}

// TransientError covers 5xx responses, timeouts and connection resets.
type TransientError struct {
	Marketplace MarketplaceCode
	StatusCode  int
	Err         error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: transient failure (HTTP %d): %v", e.Marketplace, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Marketplace, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// ValidationError is a 4xx rejection of our payload.
type ValidationError struct {
	Marketplace MarketplaceCode
	StatusCode  int
	Detail      string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: payload rejected (HTTP %d): %s", e.Marketplace, e.StatusCode, e.Detail)
}

// NotFoundError means the remote entity does not exist.
type NotFoundError struct {
	Marketplace MarketplaceCode
	RemoteID    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: remote entity %q not found", e.Marketplace, e.RemoteID)
}

// ConflictError is a Mapping Store identity violation: a mapping already holds
// a different remote identity. It is never auto-resolved.
type ConflictError struct {
	Marketplace      MarketplaceCode
	LocalID          string
	ExistingRemoteID string
	AttemptedRemote  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: mapping conflict for %q: bound to %q, attempted %q",
		e.Marketplace, e.LocalID, e.ExistingRemoteID, e.AttemptedRemote)
}

// Classify maps any error onto an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	var (
		authErr       *AuthError
		rateErr       *RateLimitedError
		transientErr  *TransientError
		validationErr *ValidationError
		notFoundErr   *NotFoundError
		conflictErr   *ConflictError
	)
	switch {
	case errors.As(err, &authErr):
		return ErrorKindAuth
	case errors.As(err, &rateErr):
		return ErrorKindRateLimited
	case errors.As(err, &validationErr):
		return ErrorKindValidation
	case errors.As(err, &notFoundErr):
		return ErrorKindNotFound
	case errors.As(err, &conflictErr):
		return ErrorKindConflict
	case errors.Is(err, ErrDeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return ErrorKindDeadlineExceeded
	case errors.As(err, &transientErr):
		return ErrorKindTransient
	default:
		return ErrorKindInternal
	}
}

// MaxErrorDetail bounds the error text stored on sync log rows and mappings.
const MaxErrorDetail = 500

// ErrorDetail renders err for storage: valid UTF-8, at most MaxErrorDetail
// bytes, never cut inside a multi-byte character.
func ErrorDetail(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToValidUTF8(err.Error(), "\uFFFD")
	if len(msg) <= MaxErrorDetail {
		return msg
	}
	n := MaxErrorDetail
	for n > 0 && !utf8.RuneStart(msg[n]) {
		n--
	}
	return msg[:n]
}

// RetryAfter returns the server-suggested delay carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var rateErr *RateLimitedError
	if errors.As(err, &rateErr) && rateErr.RetryAfter > 0 {
		return rateErr.RetryAfter, true
	}
	return 0, false
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	return Classify(err) == ErrorKindAuth
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	return Classify(err) == ErrorKindNotFound
}
