package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/spf13/viper"
)

// CredentialResolver reads marketplace secrets from the [credentials.<ref>]
// tables of the config file or from SYNC_CREDENTIALS_<REF>_<FIELD>
// environment variables.
type CredentialResolver struct {
	v *viper.Viper
}

// NewCredentialResolver creates a resolver over the loader's viper instance.
func NewCredentialResolver(v *viper.Viper) *CredentialResolver {
	return &CredentialResolver{v: v}
}

// Resolve returns the credentials stored under ref.
func (r *CredentialResolver) Resolve(_ context.Context, ref string) (integration.Credentials, error) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if ref == "" {
		return integration.Credentials{}, fmt.Errorf("%w: empty credential reference", ErrInvalidConfig)
	}
	get := func(field string) string {
		return r.v.GetString("credentials." + ref + "." + field)
	}
	creds := integration.Credentials{
		APIKey:        get("api_key"),
		APISecret:     get("api_secret"),
		ClientID:      get("client_id"),
		ClientSecret:  get("client_secret"),
		RefreshToken:  get("refresh_token"),
		WebhookSecret: get("webhook_secret"),
	}
	if creds == (integration.Credentials{}) {
		return creds, fmt.Errorf("%w: no credentials found for %q", ErrInvalidConfig, ref)
	}
	return creds, nil
}

var _ integration.CredentialResolver = (*CredentialResolver)(nil)
