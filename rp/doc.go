// Package rp is the relying-party session controller for an OpenID Connect
// login flow.  It turns an authorization-code callback into a local,
// persistent user session and thereafter keeps that session's access
// credentials fresh without forcing re-authentication.
//
// The package is deliberately boundary-heavy: the OAuth2/OIDC wire client
// (Client), the host's account store (AccountStore), plain cookie transport
// (CookieJar) and the host session (SessionManager) are collaborators
// supplied by the caller.  What lives here is the sequencing and the state:
// the strict fail-fast callback pipeline, identity resolution and
// collision-safe provisioning, and the per-user-encrypted refresh cookie
// that is decided fresh-or-due on every authenticated request without any
// server-held refresh state.
//
// A minimal host wires it up like this:
//
//	settings := &rp.Settings{
//		IdentityKey: "preferred_username",
//		HomeURL:     "https://example.com/",
//		LoginURL:    "https://example.com/login",
//	}
//	auth, err := rp.New(settings, client, accounts, rp.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	// on the callback route:
//	redirect, err := auth.Callback(ctx, req)
//	// on every authenticated request:
//	err = auth.RefreshIfDue(ctx, req)
//
// See the callback package for ready-made http.HandlerFunc adapters and the
// oidcclient package for a production Client.
package rp
