package ecommerce

import (
	"context"
	"errors"
	"net/http"

	"github.com/meschain/syncengine/internal/domain/integration"
	"golang.org/x/oauth2"
)

// refreshTokenSource exchanges the long-lived refresh token for access
// tokens, caching each until it expires.
func refreshTokenSource(s *Settings, tokenURL string, style oauth2.AuthStyle, scopes ...string) oauth2.TokenSource {
	conf := &oauth2.Config{
		ClientID:     s.Credentials.ClientID,
		ClientSecret: s.Credentials.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: style},
		Scopes:       scopes,
	}
	ctx := context.Background()
	if s.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.HTTPClient)
	}
	return conf.TokenSource(ctx, &oauth2.Token{RefreshToken: s.Credentials.RefreshToken})
}

// tokenError maps a failed token refresh onto the typed error taxonomy. A
// rejected refresh token is an AuthError so the marketplace gets suspended.
func tokenError(code integration.MarketplaceCode, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		switch status := re.Response.StatusCode; {
		case status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden:
			msg := re.ErrorCode
			if msg == "" {
				msg = "token refresh rejected"
			}
			return &integration.AuthError{Marketplace: code, Message: msg}
		case status == http.StatusTooManyRequests:
			return &integration.RateLimitedError{Marketplace: code}
		default:
			return &integration.TransientError{Marketplace: code, StatusCode: status, Err: err}
		}
	}
	return &integration.TransientError{Marketplace: code, Err: err}
}
