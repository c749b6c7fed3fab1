package ecommerce

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/meschain/syncengine/internal/infrastructure/config"
)

// Errors for adapter settings and responses
var (
	ErrSettingsInvalidBaseURL     = errors.New("ecommerce: invalid base URL")
	ErrSettingsMissingSellerID    = errors.New("ecommerce: seller ID is required")
	ErrSettingsMissingAPIKey      = errors.New("ecommerce: API key and secret are required")
	ErrSettingsMissingOAuthClient = errors.New("ecommerce: OAuth client ID, secret and refresh token are required")
	ErrSettingsMissingMarketplace = errors.New("ecommerce: marketplace ID is required")
	ErrUnsupportedMarketplace     = errors.New("ecommerce: no adapter for marketplace")
	ErrInvalidResponse            = errors.New("ecommerce: invalid response")
	ErrRequestFailed              = errors.New("ecommerce: request failed")
	ErrInvalidWebhook             = errors.New("ecommerce: invalid webhook payload")
)

// Settings is everything an adapter needs to talk to one marketplace.
type Settings struct {
	Code          integration.MarketplaceCode
	BaseURL       string
	TokenURL      string
	SellerID      string
	MarketplaceID string
	UserAgent     string
	Timeout       time.Duration
	Credentials   integration.Credentials
	// HTTPClient overrides the client built from Timeout; tests point it at httptest servers.
	HTTPClient *http.Client
}

// NewSettings combines a marketplace's configuration with its resolved credentials.
func NewSettings(mc *config.MarketplaceConfig, creds integration.Credentials) (*Settings, error) {
	code, err := integration.ParseMarketplaceCode(mc.Code)
	if err != nil {
		return nil, err
	}
	s := &Settings{
		Code:          code,
		BaseURL:       mc.BaseURL,
		TokenURL:      mc.TokenURL,
		SellerID:      mc.SellerID,
		MarketplaceID: mc.MarketplaceID,
		UserAgent:     mc.UserAgent,
		Timeout:       mc.Timeout,
		Credentials:   creds,
	}
	if s.Timeout == 0 {
		s.Timeout = 30 * time.Second
	}
	return s, nil
}

func (s *Settings) requireBasicAuth() error {
	if s.SellerID == "" {
		return fmt.Errorf("%w (%s)", ErrSettingsMissingSellerID, s.Code)
	}
	if s.Credentials.APIKey == "" || s.Credentials.APISecret == "" {
		return fmt.Errorf("%w (%s)", ErrSettingsMissingAPIKey, s.Code)
	}
	return nil
}

func (s *Settings) requireOAuth() error {
	c := s.Credentials
	if c.ClientID == "" || c.ClientSecret == "" || c.RefreshToken == "" {
		return fmt.Errorf("%w (%s)", ErrSettingsMissingOAuthClient, s.Code)
	}
	return nil
}
