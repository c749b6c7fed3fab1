package config

import (
	"fmt"
	"time"

	"github.com/meschain/syncengine/internal/domain/integration"
)

// MarketplaceConfig is one [[marketplaces]] table of config.toml.
type MarketplaceConfig struct {
	Code          string              `mapstructure:"code" validate:"required"`
	DisplayName   string              `mapstructure:"display_name"`
	Enabled       bool                `mapstructure:"enabled"`
	BaseURL       string              `mapstructure:"base_url" validate:"required,url"`
	TokenURL      string              `mapstructure:"token_url" validate:"omitempty,url"`
	CredentialRef string              `mapstructure:"credential_ref"`
	SellerID      string              `mapstructure:"seller_id"`
	MarketplaceID string              `mapstructure:"marketplace_id"`
	UserAgent     string              `mapstructure:"user_agent"`
	Timeout       time.Duration       `mapstructure:"timeout"`
	QueueSize     int                 `mapstructure:"queue_size" validate:"gte=0"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Retry         RetryConfig         `mapstructure:"retry"`
	PollIntervals PollIntervalsConfig `mapstructure:"poll_intervals"`
}

// RateLimitConfig allows Requests calls per Window.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests" validate:"gt=0"`
	Window   time.Duration `mapstructure:"window" validate:"gt=0"`
	Burst    int           `mapstructure:"burst" validate:"gte=0"`
}

// RetryConfig bounds the retry loop. Zero values take the engine defaults.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=0,lte=20"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// PollIntervalsConfig sets the poll interval per flow. Zero disables polling.
type PollIntervalsConfig struct {
	Product   time.Duration `mapstructure:"product"`
	Inventory time.Duration `mapstructure:"inventory"`
	Price     time.Duration `mapstructure:"price"`
	Order     time.Duration `mapstructure:"order"`
}

func (m *MarketplaceConfig) applyDefaults(queueSize int) {
	if m.CredentialRef == "" {
		m.CredentialRef = m.Code
	}
	if m.Timeout == 0 {
		m.Timeout = 30 * time.Second
	}
	if m.QueueSize == 0 {
		m.QueueSize = queueSize
	}
	if m.RateLimit.Window == 0 {
		m.RateLimit.Window = time.Second
	}
}

// ToMarketplace builds the domain view of the marketplace.
func (m *MarketplaceConfig) ToMarketplace() (*integration.Marketplace, error) {
	code, err := integration.ParseMarketplaceCode(m.Code)
	if err != nil {
		return nil, err
	}
	mp := &integration.Marketplace{
		Code:          code,
		DisplayName:   m.DisplayName,
		BaseURL:       m.BaseURL,
		CredentialRef: m.CredentialRef,
		SellerID:      m.SellerID,
		RateLimit: integration.RateLimitPolicy{
			Requests: m.RateLimit.Requests,
			Window:   m.RateLimit.Window,
			Burst:    m.RateLimit.Burst,
		},
		Retry: integration.RetryPolicy{
			MaxAttempts: m.Retry.MaxAttempts,
			BaseDelay:   m.Retry.BaseDelay,
			MaxDelay:    m.Retry.MaxDelay,
		}.WithDefaults(),
		PollIntervals: map[integration.EntityType]time.Duration{
			integration.EntityProduct:   m.PollIntervals.Product,
			integration.EntityInventory: m.PollIntervals.Inventory,
			integration.EntityPrice:     m.PollIntervals.Price,
			integration.EntityOrder:     m.PollIntervals.Order,
		},
		QueueSize: m.QueueSize,
		Enabled:   m.Enabled,
	}
	if mp.DisplayName == "" {
		mp.DisplayName = code.DisplayName()
	}
	if err := mp.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return mp, nil
}

// EnabledMarketplaces converts every enabled marketplace.
func (c *Config) EnabledMarketplaces() ([]*integration.Marketplace, error) {
	out := make([]*integration.Marketplace, 0, len(c.Marketplaces))
	for i := range c.Marketplaces {
		if !c.Marketplaces[i].Enabled {
			continue
		}
		mp, err := c.Marketplaces[i].ToMarketplace()
		if err != nil {
			return nil, err
		}
		out = append(out, mp)
	}
	return out, nil
}

// MarketplaceByCode returns the raw config of a marketplace.
func (c *Config) MarketplaceByCode(code integration.MarketplaceCode) (*MarketplaceConfig, bool) {
	for i := range c.Marketplaces {
		if c.Marketplaces[i].Code == string(code) {
			return &c.Marketplaces[i], true
		}
	}
	return nil, false
}
