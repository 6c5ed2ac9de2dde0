package rp

import "net/url"

// Cookie names owned by this core.  Expiry, domain, path and secure flags
// are host policy; only the content is defined here.
const (
	// RefreshCookieName holds the encrypted RefreshState (see
	// refresh_state.go).
	RefreshCookieName = "rpsession-refresh"

	// ReturnToCookieName holds the location to send the user back to after
	// a successful login, when Settings.RedirectUserBack is set.
	ReturnToCookieName = "rpsession-return-to"
)

// CookieJar reads and writes named cookie values for the current request.
// Implementations wrap the host's cookie transport; this core only defines
// the values it stores.
type CookieJar interface {
	// Get returns the value of the named cookie and whether it was present.
	Get(name string) (string, bool)

	// Set stores a value under the named cookie for the response.
	Set(name, value string)

	// Clear removes the named cookie.
	Clear(name string)
}

// SessionManager is the host's authenticated-session surface for the
// current request.
type SessionManager interface {
	// AccountID returns the id of the authenticated account, if any.
	AccountID() (string, bool)

	// SignIn marks the request's session as authenticated for the account.
	// remember selects the host's extended session lifetime; this core
	// always passes false.
	SignIn(accountID string, remember bool) error

	// SignOut terminates the current session.
	SignOut()
}

// Request bundles the per-request ambient state the Authenticator entry
// points need: callback parameters, cookie access and the host session.
// Threading it explicitly (instead of reading globals) keeps the flow
// deterministic under test.
type Request struct {
	// Params are the raw callback parameters.  Only Callback reads them.
	Params url.Values

	Cookies CookieJar
	Session SessionManager
}
