package integration

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMarketplaceInvalidCode    = errors.New("integration: invalid marketplace code")
	ErrMarketplaceNotConfigured  = errors.New("integration: marketplace not configured")
	ErrMarketplaceNotEnabled     = errors.New("integration: marketplace not enabled")
	ErrMarketplaceInvalidPolicy  = errors.New("integration: invalid rate limit policy")
	ErrMarketplaceInvalidBaseURL = errors.New("integration: marketplace base URL is required")
	ErrEntityTypeInvalid         = errors.New("integration: invalid entity type")
)

// ---------------------------------------------------------------------------
// MarketplaceCode
// ---------------------------------------------------------------------------

// MarketplaceCode identifies a remote marketplace, e.g. "trendyol".
type MarketplaceCode string

const (
	MarketplaceTrendyol    MarketplaceCode = "trendyol"
	MarketplaceHepsiburada MarketplaceCode = "hepsiburada"
	MarketplaceAmazon      MarketplaceCode = "amazon"
	MarketplaceEbay        MarketplaceCode = "ebay"
)

// ParseMarketplaceCode normalizes a code taken from a URL or config file.
func ParseMarketplaceCode(s string) (MarketplaceCode, error) {
	code := MarketplaceCode(strings.ToLower(strings.TrimSpace(s)))
	if code == "" || strings.ContainsAny(string(code), " /:") {
		return "", fmt.Errorf("%w: %q", ErrMarketplaceInvalidCode, s)
	}
	return code, nil
}

func (c MarketplaceCode) String() string {
	return string(c)
}

// DisplayName returns a human-readable name for well-known marketplaces.
func (c MarketplaceCode) DisplayName() string {
	switch c {
	case MarketplaceTrendyol:
		return "Trendyol"
	case MarketplaceHepsiburada:
		return "Hepsiburada"
	case MarketplaceAmazon:
		return "Amazon"
	case MarketplaceEbay:
		return "eBay"
	default:
		return string(c)
	}
}

// ---------------------------------------------------------------------------
// EntityType
// ---------------------------------------------------------------------------

// EntityType is the kind of entity a sync flow moves.
type EntityType string

const (
	EntityProduct   EntityType = "product"
	EntityInventory EntityType = "inventory"
	EntityPrice     EntityType = "price"
	EntityOrder     EntityType = "order"
)

// AllEntityTypes lists the flows run for every marketplace.
var AllEntityTypes = []EntityType{EntityProduct, EntityInventory, EntityPrice, EntityOrder}

// ParseEntityType validates an entity type string.
func ParseEntityType(s string) (EntityType, error) {
	et := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if !et.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrEntityTypeInvalid, s)
	}
	return et, nil
}

func (e EntityType) IsValid() bool {
	switch e {
	case EntityProduct, EntityInventory, EntityPrice, EntityOrder:
		return true
	default:
		return false
	}
}

// IsOutbound reports whether local state is authoritative for the entity.
func (e EntityType) IsOutbound() bool {
	return e == EntityProduct || e == EntityInventory || e == EntityPrice
}

func (e EntityType) String() string {
	return string(e)
}

// ---------------------------------------------------------------------------
// PaginationStyle
// ---------------------------------------------------------------------------

// PaginationStyle describes how an adapter pages through remote order lists.
// The orchestrator only needs to pass the returned cursor back until it is empty.
type PaginationStyle string

const (
	PaginationCursor     PaginationStyle = "cursor"
	PaginationPageNumber PaginationStyle = "page_number"
	PaginationTimeWindow PaginationStyle = "time_window"
)

// ---------------------------------------------------------------------------
// Policies
// ---------------------------------------------------------------------------

// RateLimitPolicy allows Requests calls per Window with an optional burst.
type RateLimitPolicy struct {
	Requests int
	Window   time.Duration
	Burst    int
}

// Validate checks the policy is usable.
func (p RateLimitPolicy) Validate() error {
	if p.Requests <= 0 || p.Window <= 0 || p.Burst < 0 {
		return fmt.Errorf("%w: %d requests per %s, burst %d", ErrMarketplaceInvalidPolicy, p.Requests, p.Window, p.Burst)
	}
	return nil
}

// Capacity is the bucket size: the burst when set, otherwise one window's worth of requests.
func (p RateLimitPolicy) Capacity() int {
	if p.Burst > 0 {
		return p.Burst
	}
	return p.Requests
}

// RefillPerSecond is the steady-state token refill rate.
func (p RateLimitPolicy) RefillPerSecond() float64 {
	return float64(p.Requests) / p.Window.Seconds()
}

// RetryPolicy bounds the client's retry loop.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns 5 attempts, 500ms base, 30s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

// WithDefaults fills zero fields from DefaultRetryPolicy.
func (p RetryPolicy) WithDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// ---------------------------------------------------------------------------
// Marketplace
// ---------------------------------------------------------------------------

// Marketplace is the configured view of one remote marketplace.
// It is built from configuration and only replaced on configuration reload.
type Marketplace struct {
	Code          MarketplaceCode
	DisplayName   string
	BaseURL       string
	CredentialRef string
	SellerID      string
	RateLimit     RateLimitPolicy
	Retry         RetryPolicy
	PollIntervals map[EntityType]time.Duration
	QueueSize     int
	Enabled       bool
}

// Validate checks the marketplace can be wired.
func (m *Marketplace) Validate() error {
	if _, err := ParseMarketplaceCode(string(m.Code)); err != nil {
		return err
	}
	if m.BaseURL == "" {
		return fmt.Errorf("%w: %s", ErrMarketplaceInvalidBaseURL, m.Code)
	}
	if err := m.RateLimit.Validate(); err != nil {
		return fmt.Errorf("%s: %w", m.Code, err)
	}
	return nil
}

// PollInterval returns the interval for an entity type, or zero when polling is disabled.
func (m *Marketplace) PollInterval(et EntityType) time.Duration {
	if m.PollIntervals == nil {
		return 0
	}
	return m.PollIntervals[et]
}
