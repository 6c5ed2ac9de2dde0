package rp

import (
	"context"
	"net/url"
)

// Client is the OAuth2/OIDC wire client the Authenticator drives.  It owns
// everything cryptographic and protocol-level: building the authorization
// URL, exchanging codes and refresh tokens, verifying id_token signatures,
// issuer, audience, expiry and nonce, and calling the userinfo endpoint.
// This core only sequences the calls and inspects the verdicts.
//
// The oidcclient package provides a production implementation on top of
// coreos/go-oidc.
type Client interface {
	// AuthURL returns a provider authorization URL for a fresh login
	// attempt, with a state and nonce the client will recognize when the
	// callback returns.
	AuthURL(ctx context.Context) (string, error)

	// ValidateCallback checks the raw callback parameters against OAuth2
	// requirements: no provider error response, and a state the client
	// issued and has not expired.
	ValidateCallback(params url.Values) error

	// AuthorizationCode extracts the authorization code from validated
	// callback parameters.
	AuthorizationCode(params url.Values) (string, error)

	// Exchange trades an authorization code for tokens at the provider's
	// token endpoint.
	Exchange(ctx context.Context, code string) (*TokenResponse, error)

	// ExchangeRefreshToken trades a refresh token for a new TokenResponse.
	// The returned response may carry a rotated refresh token.
	ExchangeRefreshToken(ctx context.Context, t RefreshToken) (*TokenResponse, error)

	// ValidateTokenResponse checks that the structural fields this core
	// relies on (access token, id_token, expiry) are present.
	ValidateTokenResponse(t *TokenResponse) error

	// IDTokenClaims verifies the response's id_token (signature, issuer,
	// audience, expiry) and returns its decoded claims.
	IDTokenClaims(ctx context.Context, t *TokenResponse) (*IDTokenClaims, error)

	// ValidateIDTokenClaims checks the decoded claims against the pending
	// login attempt, most importantly the nonce.
	ValidateIDTokenClaims(c *IDTokenClaims) error

	// UserClaims decodes the user-describing claims from the token
	// response.
	UserClaims(ctx context.Context, t *TokenResponse) (*UserClaims, error)

	// ValidateUserClaims cross-checks the user claims against the id_token
	// claims (subject presence and equality).
	ValidateUserClaims(uc *UserClaims, idc *IDTokenClaims) error

	// Userinfo fetches the raw userinfo document using the access token.
	// The resolver calls it only when the user claims lack an email.
	Userinfo(ctx context.Context, accessToken AccessToken) ([]byte, error)
}
