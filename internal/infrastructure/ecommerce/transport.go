package ecommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/meschain/syncengine/internal/infrastructure/logger"
	"github.com/meschain/syncengine/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// maxResponseSize is the maximum allowed response size from a marketplace API (10MB)
const maxResponseSize = 10 * 1024 * 1024

// maxErrorDetail bounds how much of a rejected response body ends up in a ValidationError.
const maxErrorDetail = 512

// authorizeFunc decorates an outgoing request with marketplace credentials.
type authorizeFunc func(ctx context.Context, req *http.Request) error

// transport performs one HTTP exchange and maps the outcome onto the typed
// integration errors. It never retries.
type transport struct {
	code       integration.MarketplaceCode
	baseURL    *url.URL
	httpClient *http.Client
	userAgent  string
	authorize  authorizeFunc
}

func newTransport(s *Settings, authorize authorizeFunc) (*transport, error) {
	base, err := url.Parse(strings.TrimRight(s.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrSettingsInvalidBaseURL, s.BaseURL)
	}
	client := s.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: s.Timeout}
	}
	return &transport{
		code:       s.Code,
		baseURL:    base,
		httpClient: client,
		userAgent:  s.UserAgent,
		authorize:  authorize,
	}, nil
}

// endpoint resolves an already escaped path relative to the base URL.
func (t *transport) endpoint(path string, query url.Values) string {
	target := t.baseURL.String() + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return target
}

// sameHost reports whether an absolute URL handed back by the marketplace
// (for example a pagination link) points at the configured host.
func (t *transport) sameHost(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, t.baseURL.Host) && u.Scheme == t.baseURL.Scheme
}

// doJSON sends body (if non-nil) as JSON to path and decodes the response into out (if non-nil).
func (t *transport) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	return t.doURL(ctx, method, t.endpoint(path, query), body, out)
}

func (t *transport) doURL(ctx context.Context, method, target string, body, out any) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "marketplace "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("marketplace", string(t.code)),
			attribute.String("http.request.method", method),
			attribute.String("url.path", urlPath(target)),
		))
	defer func() { telemetry.EndSpan(span, err) }()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", t.code, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", t.code, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	req.Header.Set(requestIDHeader, outboundRequestID(ctx))
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	if t.authorize != nil {
		if err := t.authorize(ctx, req); err != nil {
			return err
		}
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return t.transportError(ctx, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &integration.TransientError{Marketplace: t.code, StatusCode: resp.StatusCode, Err: err}
	}

	if err := t.statusError(resp, respBody, target); err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &integration.TransientError{
			Marketplace: t.code,
			StatusCode:  resp.StatusCode,
			Err:         fmt.Errorf("%w: %v", ErrInvalidResponse, err),
		}
	}
	return nil
}

// requestIDHeader correlates a marketplace call with the request or run
// that caused it.
const requestIDHeader = "X-Request-ID"

// outboundRequestID reuses the inbound request ID, or mints one for calls
// made outside a request such as scheduled polls.
func outboundRequestID(ctx context.Context) string {
	if id := logger.GetRequestID(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}

// urlPath drops the query, which may carry credentials.
func urlPath(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	return u.Path
}

// transportError classifies a failure that produced no HTTP response. Only
// the caller's own deadline is a deadline; a client timeout while ctx is
// still live is transient, so its chain must not unwrap to
// context.DeadlineExceeded.
func (t *transport) transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", t.code, ctxErr)
	}
	return &integration.TransientError{Marketplace: t.code, Err: fmt.Errorf("%w: %v", ErrRequestFailed, err)}
}

// statusError maps a non-2xx response onto the typed error taxonomy.
func (t *transport) statusError(resp *http.Response, body []byte, target string) error {
	status := resp.StatusCode
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &integration.AuthError{Marketplace: t.code, Message: fmt.Sprintf("HTTP %d", status)}
	case status == http.StatusTooManyRequests:
		return &integration.RateLimitedError{
			Marketplace: t.code,
			RetryAfter:  parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	case status == http.StatusNotFound:
		return &integration.NotFoundError{Marketplace: t.code, RemoteID: remoteIDFromURL(target)}
	case status == http.StatusRequestTimeout || status >= 500:
		return &integration.TransientError{
			Marketplace: t.code,
			StatusCode:  status,
			Err:         fmt.Errorf("%w: HTTP %d", ErrRequestFailed, status),
		}
	default:
		return &integration.ValidationError{Marketplace: t.code, StatusCode: status, Detail: truncate(string(body), maxErrorDetail)}
	}
}

// parseRetryAfter reads a Retry-After header in either delta-seconds or
// HTTP-date form. Unparseable or past values yield zero.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func remoteIDFromURL(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	path := strings.TrimRight(u.EscapedPath(), "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		id, _ := url.PathUnescape(path[i+1:])
		return id
	}
	return path
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(strings.TrimSpace(s), "\uFFFD")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ParseDecimal parses a string to decimal, returning zero on error
func ParseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// parseTimestamp accepts RFC 3339 strings and unix seconds or milliseconds.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return unixAuto(n), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// unixAuto treats values beyond year 2286 in seconds as milliseconds.
func unixAuto(n int64) time.Time {
	if n > 1e10 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
