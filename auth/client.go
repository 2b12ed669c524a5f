package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// DefaultTimeout bounds each request to the provider.
const DefaultTimeout = 10 * time.Second

// idTokenAlgs are the signature algorithms accepted when reading the nonce
// out of an id_token.
var idTokenAlgs = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
}

// Client runs the authorization code flow with PKCE against one provider.
// It is safe for concurrent use; per-user state lives in the Store passed to
// each call.
type Client struct {
	cfg        ProviderConfig
	oauth      *oauth2.Config
	provider   *oidc.Provider
	endSession *url.URL
	httpClient *http.Client
	timeout    time.Duration
	attemptTTL time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the client used for token and userinfo requests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout bounds each outbound request.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithAttemptTTL sets how long a login attempt stays valid.
func WithAttemptTTL(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.attemptTTL = d
		}
	}
}

// NewClient validates cfg and returns a Client. cfg is copied.
func NewClient(cfg *ProviderConfig, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	endSession, err := url.Parse(cfg.EndSessionEndpoint)
	if err != nil {
		return nil, fmt.Errorf("auth: end session endpoint: %w", err)
	}

	c := &Client{
		cfg:        *cfg,
		endSession: endSession,
		timeout:    DefaultTimeout,
		attemptTTL: DefaultAttemptTTL,
	}
	c.cfg.Scopes = append([]string(nil), cfg.Scopes...)
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	c.oauth = c.cfg.oauth2Config()
	c.provider = c.cfg.oidcProvider(oidc.ClientContext(context.Background(), c.httpClient))
	return c, nil
}

// LoginURL starts a login: it stores a new LoginAttempt in store and returns
// the provider authorization URL carrying its state, nonce and PKCE
// challenge. No URL is returned if the attempt cannot be stored.
func (c *Client) LoginURL(ctx context.Context, store Store) (string, error) {
	attempt := NewLoginAttempt(c.attemptTTL)
	if err := store.SaveAttempt(ctx, attempt); err != nil {
		return "", fmt.Errorf("auth: saving login attempt: %w", err)
	}
	zerolog.Ctx(ctx).Debug().Time("expires_at", attempt.ExpiresAt).Msg("login started")

	return c.oauth.AuthCodeURL(attempt.State,
		oidc.Nonce(attempt.Nonce),
		oauth2.SetAuthURLParam("code_challenge", GenerateCodeChallenge(attempt.CodeVerifier)),
		oauth2.SetAuthURLParam("code_challenge_method", CodeChallengeMethod),
	), nil
}

// CallbackParams are the query parameters of the redirect back from the provider.
type CallbackParams struct {
	Code             string `query:"code"`
	State            string `query:"state"`
	Error            string `query:"error"`
	ErrorDescription string `query:"error_description"`
}

// HandleCallback completes a login and returns the local URL to redirect
// the user to.
//
// A provider-reported error is returned as *ProviderError without touching
// store or the network. Otherwise the stored attempt is consumed, the state
// checked, the code exchanged and the userinfo fetched; the identity is
// stored only when every step succeeded.
func (c *Client) HandleCallback(ctx context.Context, store Store, params CallbackParams) (string, error) {
	log := zerolog.Ctx(ctx)

	if params.Error != "" {
		log.Warn().
			Str("provider_error", params.Error).
			Str("provider_error_description", params.ErrorDescription).
			Msg("provider reported error")
		return "", &ProviderError{
			Code:        params.Error,
			Description: params.ErrorDescription,
			State:       params.State,
		}
	}

	attempt, ok, err := store.TakeAttempt(ctx)
	if err != nil {
		return "", fmt.Errorf("auth: consuming login attempt: %w", err)
	}
	if !ok || !attempt.Matches(params.State) {
		log.Warn().Bool("attempt_found", ok).Msg("callback state rejected")
		return "", ErrInvalidState
	}

	tok, err := c.exchange(ctx, params.Code, attempt)
	if err != nil {
		log.Error().Err(err).Msg("token exchange failed")
		return "", err
	}

	id, err := c.userinfo(ctx, tok)
	if err != nil {
		log.Error().Err(err).Msg("userinfo failed")
		return "", err
	}

	// A fresh session ID on login keeps a pre-login ID from carrying the
	// authenticated identity.
	if err := store.Invalidate(ctx); err != nil {
		return "", fmt.Errorf("%w: %w", ErrSessionCommit, err)
	}
	if err := store.SaveIdentity(ctx, id); err != nil {
		return "", fmt.Errorf("%w: %w", ErrSessionCommit, err)
	}
	log.Info().Msg("login completed")
	return "/", nil
}

func (c *Client) exchange(ctx context.Context, code string, attempt LoginAttempt) (*oauth2.Token, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: callback has no code", ErrTokenExchange)
	}
	ctx, cancel := context.WithTimeout(oidc.ClientContext(ctx, c.httpClient), c.timeout)
	defer cancel()

	tok, err := c.oauth.Exchange(ctx, code, oauth2.VerifierOption(attempt.CodeVerifier))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenExchange, err)
	}
	if err := checkNonce(tok, attempt.Nonce); err != nil {
		return nil, err
	}
	return tok, nil
}

// checkNonce compares the nonce claim of the id_token, if the token response
// has one, with the nonce sent in the authorization request. The token's
// signature is not verified.
func checkNonce(tok *oauth2.Token, nonce string) error {
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return nil
	}
	parsed, err := jwt.ParseSigned(raw, idTokenAlgs)
	if err != nil {
		return fmt.Errorf("%w: parsing id_token: %w", ErrNonceMismatch, err)
	}
	var claims struct {
		Nonce string `json:"nonce"`
	}
	if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return fmt.Errorf("%w: reading id_token claims: %w", ErrNonceMismatch, err)
	}
	if claims.Nonce == "" || subtle.ConstantTimeCompare([]byte(claims.Nonce), []byte(nonce)) != 1 {
		return ErrNonceMismatch
	}
	return nil
}

func (c *Client) userinfo(ctx context.Context, tok *oauth2.Token) (*Identity, error) {
	ctx, cancel := context.WithTimeout(oidc.ClientContext(ctx, c.httpClient), c.timeout)
	defer cancel()

	info, err := c.provider.UserInfo(ctx, oauth2.StaticTokenSource(tok))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUserinfo, err)
	}
	var id Identity
	if err := info.Claims(&id); err != nil {
		return nil, fmt.Errorf("%w: decoding claims: %w", ErrUserinfo, err)
	}
	if id.Subject == "" {
		return nil, fmt.Errorf("%w: response has no sub claim", ErrUserinfo)
	}
	return &id, nil
}

// Logout invalidates the session and returns the provider end-session URL
// carrying post_logout_redirect_uri. No URL is returned if the session
// cannot be invalidated.
func (c *Client) Logout(ctx context.Context, store Store) (string, error) {
	if err := store.Invalidate(ctx); err != nil {
		return "", fmt.Errorf("auth: invalidating session: %w", err)
	}
	u := *c.endSession
	q := u.Query()
	q.Set("post_logout_redirect_uri", c.cfg.PostLogoutRedirectURI)
	u.RawQuery = q.Encode()
	zerolog.Ctx(ctx).Info().Msg("logged out")
	return u.String(), nil
}

// User returns the logged-in identity. A stored identity that cannot be
// decoded is logged and reported as absent.
func (c *Client) User(ctx context.Context, store Store) (*Identity, bool) {
	id, err := store.Identity()
	if errors.Is(err, ErrNoIdentity) {
		return nil, false
	}
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("discarding unreadable identity")
		return nil, false
	}
	return id, true
}
