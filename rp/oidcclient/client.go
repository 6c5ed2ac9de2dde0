package oidcclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-uuid"
	"golang.org/x/oauth2"

	"github.com/corvid-labs/rpsession/rp"
	"github.com/corvid-labs/rpsession/rp/internal/strutils"
)

// DefaultPendingTTL is how long an issued state/nonce pair stays valid while
// the user completes the provider round-trip.
const DefaultPendingTTL = 10 * time.Minute

// pendingAuth tracks one outstanding login attempt between AuthURL and the
// callback.
type pendingAuth struct {
	state     string
	nonce     string
	expiresAt time.Time
}

// Client implements rp.Client for a discovered OpenID Connect provider.
// It is safe for concurrent use.
type Client struct {
	config   *Config
	provider *oidc.Provider

	mu      sync.Mutex
	pending map[string]*pendingAuth // keyed by state
	byNonce map[string]*pendingAuth
}

var _ rp.Client = (*Client)(nil)

// New creates and initializes a Client.  Initializing includes an http
// request to the provider's issuer for discovery.
func New(ctx context.Context, c *Config) (*Client, error) {
	const op = "oidcclient.New"
	if c == nil {
		return nil, fmt.Errorf("%s: client config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: client config is invalid: %w", op, err)
	}
	httpClient, err := c.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), c.Issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to discover provider: %w", op, err)
	}
	return &Client{
		config:   c,
		provider: provider,
		pending:  map[string]*pendingAuth{},
		byNonce:  map[string]*pendingAuth{},
	}, nil
}

// AuthURL generates a provider authorization URL for a fresh login attempt.
// The state and nonce it embeds are remembered (for DefaultPendingTTL) so
// the callback and the id_token can be tied back to this attempt.
func (c *Client) AuthURL(ctx context.Context) (string, error) {
	const op = "Client.AuthURL"
	state, err := newID("st")
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate state: %w", op, err)
	}
	nonce, err := newID("n")
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate nonce: %w", op, err)
	}
	c.registerPending(state, nonce)

	authCodeOpts := []oauth2.AuthCodeOption{
		oidc.Nonce(nonce),
	}
	return c.oauth2Config().AuthCodeURL(state, authCodeOpts...), nil
}

// ValidateCallback checks the raw callback parameters: no provider error
// response, and a state this client issued that has not expired.
func (c *Client) ValidateCallback(params url.Values) error {
	const op = "Client.ValidateCallback"
	if e := params.Get("error"); e != "" {
		return fmt.Errorf("%s: %s (%s): %w", op, e, params.Get("error_description"), ErrProviderError)
	}
	state := params.Get("state")
	if state == "" {
		return fmt.Errorf("%s: state parameter is empty: %w", op, ErrInvalidParameter)
	}
	if !c.hasPending(state) {
		return fmt.Errorf("%s: %w", op, ErrUnknownState)
	}
	return nil
}

// AuthorizationCode extracts the authorization code from validated callback
// parameters.
func (c *Client) AuthorizationCode(params url.Values) (string, error) {
	const op = "Client.AuthorizationCode"
	code := params.Get("code")
	if code == "" {
		return "", fmt.Errorf("%s: %w", op, ErrMissingCode)
	}
	return code, nil
}

// Exchange trades an authorization code for tokens at the provider's token
// endpoint.
func (c *Client) Exchange(ctx context.Context, code string) (*rp.TokenResponse, error) {
	const op = "Client.Exchange"
	oidcCtx, err := c.httpContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	tok, err := c.oauth2Config().Exchange(oidcCtx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to exchange auth code with provider: %w", op, err)
	}
	return decodeToken(tok), nil
}

// ExchangeRefreshToken trades a refresh token for a new token response.
// When the provider does not rotate, the original refresh token is carried
// forward so the session keeps its ability to refresh.
func (c *Client) ExchangeRefreshToken(ctx context.Context, t rp.RefreshToken) (*rp.TokenResponse, error) {
	const op = "Client.ExchangeRefreshToken"
	if t == "" {
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	oidcCtx, err := c.httpContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ts := c.oauth2Config().TokenSource(oidcCtx, &oauth2.Token{RefreshToken: string(t)})
	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to exchange refresh token with provider: %w", op, err)
	}
	tr := decodeToken(tok)
	if tr.RefreshToken == "" {
		tr.RefreshToken = t
	}
	return tr, nil
}

// ValidateTokenResponse checks the structural fields the session controller
// relies on.
func (c *Client) ValidateTokenResponse(t *rp.TokenResponse) error {
	const op = "Client.ValidateTokenResponse"
	if t == nil {
		return fmt.Errorf("%s: token response is nil: %w", op, ErrNilParameter)
	}
	if t.AccessToken == "" {
		return fmt.Errorf("%s: %w", op, ErrMissingAccessToken)
	}
	if t.IDToken == "" {
		return fmt.Errorf("%s: %w", op, ErrMissingIDToken)
	}
	if t.ExpiresIn <= 0 {
		return fmt.Errorf("%s: %w", op, ErrMissingExpiry)
	}
	return nil
}

// IDTokenClaims verifies the response's id_token (signature, issuer,
// audience, expiry) and returns its decoded claims.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
func (c *Client) IDTokenClaims(ctx context.Context, t *rp.TokenResponse) (*rp.IDTokenClaims, error) {
	const op = "Client.IDTokenClaims"
	if t == nil {
		return nil, fmt.Errorf("%s: token response is nil: %w", op, ErrNilParameter)
	}
	if t.IDToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingIDToken)
	}
	verifier := c.provider.Verifier(&oidc.Config{
		ClientID:             c.config.ClientID,
		SupportedSigningAlgs: c.config.SupportedSigningAlgs,
	})
	idToken, err := verifier.Verify(ctx, string(t.IDToken))
	if err != nil {
		return nil, fmt.Errorf("%s: id_token failed verification: %w", op, err)
	}
	var claims rp.IDTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%s: unable to decode id_token claims: %w", op, err)
	}
	return &claims, nil
}

// ValidateIDTokenClaims checks the decoded claims against this client's
// pending login attempts (nonce) and the configured audiences.  The nonce
// is consumed: a second validation with the same nonce fails, which blocks
// replayed callbacks.
func (c *Client) ValidateIDTokenClaims(claims *rp.IDTokenClaims) error {
	const op = "Client.ValidateIDTokenClaims"
	if claims == nil {
		return fmt.Errorf("%s: claims are nil: %w", op, ErrNilParameter)
	}
	if claims.Subject == "" {
		return fmt.Errorf("%s: subject is empty: %w", op, ErrInvalidSubject)
	}
	if !claims.Expiry.IsZero() && claims.Expiry.Before(time.Now()) {
		return fmt.Errorf("%s: %w", op, ErrExpiredIDToken)
	}
	if claims.Nonce == "" || !c.consumeNonce(claims.Nonce) {
		return fmt.Errorf("%s: %w", op, ErrInvalidNonce)
	}
	if len(c.config.Audiences) > 0 {
		found := false
		for _, a := range c.config.Audiences {
			if strutils.StrListContains(claims.Audience, a) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%s: %w", op, ErrInvalidAudience)
		}
	}
	return nil
}

// UserClaims decodes the user-describing claims from the id_token payload.
// The payload was already signature-verified via IDTokenClaims; this only
// re-reads it through the user-claims lens.
func (c *Client) UserClaims(_ context.Context, t *rp.TokenResponse) (*rp.UserClaims, error) {
	const op = "Client.UserClaims"
	if t == nil {
		return nil, fmt.Errorf("%s: token response is nil: %w", op, ErrNilParameter)
	}
	payload, err := decodeJWTPayload(string(t.IDToken))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to decode id_token payload: %w", op, err)
	}
	var claims rp.UserClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%s: unable to decode user claims: %w", op, err)
	}
	return &claims, nil
}

// ValidateUserClaims cross-checks the user claims against the id_token
// claims.
func (c *Client) ValidateUserClaims(uc *rp.UserClaims, idc *rp.IDTokenClaims) error {
	const op = "Client.ValidateUserClaims"
	if uc == nil || idc == nil {
		return fmt.Errorf("%s: claims are nil: %w", op, ErrNilParameter)
	}
	if uc.Subject == "" {
		return fmt.Errorf("%s: user claim subject is empty: %w", op, ErrInvalidSubject)
	}
	if uc.Subject != idc.Subject {
		return fmt.Errorf("%s: user claim subject does not match id_token subject: %w", op, ErrInvalidSubject)
	}
	return nil
}

// Userinfo fetches the raw userinfo document using the access token.
func (c *Client) Userinfo(ctx context.Context, accessToken rp.AccessToken) ([]byte, error) {
	const op = "Client.Userinfo"
	if accessToken == "" {
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}
	oidcCtx, err := c.httpContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: string(accessToken),
		TokenType:   "Bearer",
	})
	info, err := c.provider.UserInfo(oidcCtx, ts)
	if err != nil {
		return nil, fmt.Errorf("%s: provider userinfo request failed: %v: %w", op, err, ErrUserInfoFailed)
	}
	var raw json.RawMessage
	if err := info.Claims(&raw); err != nil {
		return nil, fmt.Errorf("%s: unable to read userinfo claims: %w", op, err)
	}
	return raw, nil
}

func (c *Client) oauth2Config() *oauth2.Config {
	// the "openid" scope is required for oidc flows
	scopes := append([]string{oidc.ScopeOpenID}, c.config.Scopes...)
	return &oauth2.Config{
		ClientID:     c.config.ClientID,
		ClientSecret: string(c.config.ClientSecret),
		RedirectURL:  c.config.RedirectURL,
		Endpoint:     c.provider.Endpoint(),
		Scopes:       scopes,
	}
}

func (c *Client) httpContext(ctx context.Context) (context.Context, error) {
	httpClient, err := c.config.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create http client: %w", err)
	}
	return oidc.ClientContext(ctx, httpClient), nil
}

func (c *Client) registerPending(state, nonce string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	p := &pendingAuth{
		state:     state,
		nonce:     nonce,
		expiresAt: time.Now().Add(DefaultPendingTTL),
	}
	c.pending[state] = p
	c.byNonce[nonce] = p
}

func (c *Client) hasPending(state string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	_, ok := c.pending[state]
	return ok
}

func (c *Client) consumeNonce(nonce string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	p, ok := c.byNonce[nonce]
	if !ok {
		return false
	}
	delete(c.byNonce, p.nonce)
	delete(c.pending, p.state)
	return true
}

func (c *Client) pruneLocked() {
	now := time.Now()
	for state, p := range c.pending {
		if p.expiresAt.Before(now) {
			delete(c.pending, state)
			delete(c.byNonce, p.nonce)
		}
	}
}

func decodeToken(t *oauth2.Token) *rp.TokenResponse {
	tr := &rp.TokenResponse{
		AccessToken:  rp.AccessToken(t.AccessToken),
		RefreshToken: rp.RefreshToken(t.RefreshToken),
	}
	if idt, ok := t.Extra("id_token").(string); ok {
		tr.IDToken = rp.IDToken(idt)
	}
	if !t.Expiry.IsZero() {
		tr.ExpiresIn = time.Until(t.Expiry).Round(time.Second)
	}
	extra := map[string]interface{}{}
	if t.TokenType != "" {
		extra["token_type"] = t.TokenType
	}
	if scope, ok := t.Extra("scope").(string); ok && scope != "" {
		extra["scope"] = scope
	}
	if len(extra) > 0 {
		tr.Extra = extra
	}
	return tr
}

// decodeJWTPayload returns the claims segment of a compact-serialized JWT.
// It performs no signature checks.
func decodeJWTPayload(raw string) ([]byte, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed jwt: %w", ErrInvalidParameter)
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("malformed jwt payload: %w", err)
	}
	return payload, nil
}

// newID generates an ID with a prefix, suitable for a state or nonce.
func newID(prefix string) (string, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("unable to generate id: %w", ErrIDGeneratorFailed)
	}
	return fmt.Sprintf("%s_%s", prefix, id), nil
}
