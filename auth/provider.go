package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// ProviderConfig describes the identity provider and this client's
// registration with it. It is not modified after NewClient.
type ProviderConfig struct {
	AuthorizationEndpoint string
	TokenEndpoint         string
	UserinfoEndpoint      string
	EndSessionEndpoint    string

	RedirectURI           string
	PostLogoutRedirectURI string
	Scopes                []string

	ClientID     string
	ClientSecret string
}

// Validate returns ErrConfigurationMissing naming the first empty field.
func (pc *ProviderConfig) Validate() error {
	if pc == nil {
		return fmt.Errorf("%w: provider config", ErrConfigurationMissing)
	}
	fields := []struct{ name, value string }{
		{"authorization endpoint", pc.AuthorizationEndpoint},
		{"token endpoint", pc.TokenEndpoint},
		{"userinfo endpoint", pc.UserinfoEndpoint},
		{"end session endpoint", pc.EndSessionEndpoint},
		{"redirect URI", pc.RedirectURI},
		{"post logout redirect URI", pc.PostLogoutRedirectURI},
		{"client ID", pc.ClientID},
		{"client secret", pc.ClientSecret},
	}
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("%w: %s", ErrConfigurationMissing, f.name)
		}
	}
	if len(pc.Scopes) == 0 {
		return fmt.Errorf("%w: scopes", ErrConfigurationMissing)
	}
	return nil
}

// oauth2Config returns the oauth2 configuration for the authorization and
// token requests. Client credentials go in a Basic Authorization header.
func (pc *ProviderConfig) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   pc.AuthorizationEndpoint,
			TokenURL:  pc.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
		RedirectURL: pc.RedirectURI,
		Scopes:      append([]string(nil), pc.Scopes...),
	}
}

// oidcProvider returns a go-oidc provider built from the static endpoints.
// Only its userinfo support is used; ID token signatures are not verified.
func (pc *ProviderConfig) oidcProvider(ctx context.Context) *oidc.Provider {
	return (&oidc.ProviderConfig{
		AuthURL:     pc.AuthorizationEndpoint,
		TokenURL:    pc.TokenEndpoint,
		UserInfoURL: pc.UserinfoEndpoint,
	}).NewProvider(ctx)
}

// Discover fetches issuer's OpenID configuration and replaces the endpoint
// fields of pc with the advertised ones. Endpoints the provider does not
// advertise are left as they are.
func Discover(ctx context.Context, issuer string, pc *ProviderConfig) error {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return fmt.Errorf("failed to query provider %q: %w", issuer, err)
	}
	var extra struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&extra); err != nil {
		return fmt.Errorf("decoding discovery document: %w", err)
	}

	ep := provider.Endpoint()
	replace(&pc.AuthorizationEndpoint, ep.AuthURL)
	replace(&pc.TokenEndpoint, ep.TokenURL)
	replace(&pc.UserinfoEndpoint, provider.UserInfoEndpoint())
	replace(&pc.EndSessionEndpoint, extra.EndSessionEndpoint)
	return nil
}

func replace(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
