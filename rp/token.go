package rp

import (
	"encoding/json"
	"time"
)

// AccessToken is an oauth access_token
type AccessToken string

// RedactedAccessToken is the redacted string or json for an oauth access_token
const RedactedAccessToken = "[REDACTED: access_token]"

// String will redact the token
func (t AccessToken) String() string {
	return RedactedAccessToken
}

// MarshalJSON will redact the token
func (t AccessToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedAccessToken)
}

// RefreshToken is an oauth refresh_token
type RefreshToken string

// RedactedRefreshToken is the redacted string or json for an oauth refresh_token
const RedactedRefreshToken = "[REDACTED: refresh_token]"

// String will redact the token
func (t RefreshToken) String() string {
	return RedactedRefreshToken
}

// MarshalJSON will redact the token
func (t RefreshToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedRefreshToken)
}

// IDToken is an oidc id_token in its raw compact-serialized form
type IDToken string

// RedactedIDToken is the redacted string or json for an oidc id_token
const RedactedIDToken = "[REDACTED: id_token]"

// String will redact the token
func (t IDToken) String() string {
	return RedactedIDToken
}

// MarshalJSON will redact the token
func (t IDToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIDToken)
}

// TokenResponse is the provider token-endpoint result from an
// authorization-code or refresh-token exchange.  It is transient: the session
// issuer persists a snapshot as account metadata (with credential fields
// redacted by their types' marshalers), but the tokens themselves live only
// for the request that obtained them.
type TokenResponse struct {
	AccessToken AccessToken `json:"access_token"`

	// RefreshToken may be empty when the provider did not grant one; such a
	// session can never silently refresh.
	RefreshToken RefreshToken `json:"refresh_token,omitempty"`

	IDToken IDToken `json:"id_token"`

	// ExpiresIn is the access token lifetime granted by the provider.
	ExpiresIn time.Duration `json:"expires_in"`

	// Extra carries opaque provider-specific fields this core stores but
	// never interprets.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// HasRefreshToken reports whether the provider granted a refresh token.
func (t *TokenResponse) HasRefreshToken() bool {
	return t != nil && t.RefreshToken != ""
}
