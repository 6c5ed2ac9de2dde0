// Package callback provides ready-made http.HandlerFunc adapters over an
// rp.Authenticator: the authorization-code callback endpoint (reachable as a
// dedicated route or via a query-parameter flag on a shared route), a login
// redirect handler, and a middleware that runs the per-request freshness
// check.  How the host binds cookies and sessions to an HTTP request stays
// the host's business: every handler takes a RequestFunc that builds the
// rp.Request for one inbound request.
package callback
