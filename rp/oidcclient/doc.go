// Package oidcclient is the production rp.Client implementation: an OpenID
// Connect wire client for the 3-legged authorization code flow, built on
// coreos/go-oidc and golang.org/x/oauth2.  It owns discovery, the
// authorization URL with state and nonce, code and refresh-token exchange,
// id_token verification (signature, issuer, audience, expiry, nonce) and the
// userinfo endpoint.  The rp package drives it and never touches the wire
// itself.
package oidcclient
