package callback

import (
	"context"
	"net/http"

	"github.com/corvid-labs/rpsession/rp"
)

// AlternateRouteParam is the query parameter marking a request on a shared
// route as an authorization-code callback, for hosts that cannot register a
// dedicated endpoint.
const AlternateRouteParam = "rpsession-callback"

// RequestFunc builds the rp.Request (cookie and session surfaces) for one
// inbound HTTP request.  Implementations wrap the host's cookie and session
// handling.
type RequestFunc func(w http.ResponseWriter, req *http.Request) (*rp.Request, error)

// SuccessResponseFunc is used to create a response when the callback
// succeeds.  redirectURL is where the authenticator wants the user agent
// sent next.
type SuccessResponseFunc func(redirectURL string, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc is used to create a response when the callback fails.
// redirectURL is the login surface carrying the error code and message; e is
// the underlying error for logging or content decisions.
type ErrorResponseFunc func(redirectURL string, e error, w http.ResponseWriter, req *http.Request)

// AuthCode creates the authorization-code callback handler.  It binds the
// inbound request with newRequest, hands the merged body/query parameters to
// the authenticator's callback pipeline, and responds via sFn or eFn.
func AuthCode(ctx context.Context, a *rp.Authenticator, newRequest RequestFunc, sFn SuccessResponseFunc, eFn ErrorResponseFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := req.ParseForm(); err != nil {
			eFn(a.ErrorRedirectURL(err), err, w, req)
			return
		}
		r, err := newRequest(w, req)
		if err != nil {
			eFn(a.ErrorRedirectURL(err), err, w, req)
			return
		}
		// get parameters from either the body or query parameters
		r.Params = req.Form

		redirectURL, err := a.Callback(ctx, r)
		if err != nil {
			eFn(redirectURL, err, w, req)
			return
		}
		sFn(redirectURL, w, req)
	}
}

// Login creates a handler for the host's login action: it records the
// optional return-to location and redirects the user agent to the provider's
// authorization URL.
func Login(ctx context.Context, a *rp.Authenticator, newRequest RequestFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r, err := newRequest(w, req)
		if err != nil {
			http.Redirect(w, req, a.ErrorRedirectURL(err), http.StatusFound)
			return
		}
		if returnTo := req.URL.Query().Get("return-to"); returnTo != "" && a.Settings().RedirectUserBack {
			r.Cookies.Set(rp.ReturnToCookieName, returnTo)
		}
		authURL, err := a.AuthURL(ctx)
		if err != nil {
			http.Redirect(w, req, a.ErrorRedirectURL(err), http.StatusFound)
			return
		}
		http.Redirect(w, req, authURL, http.StatusFound)
	}
}

// Refresh creates a middleware running the freshness check before every
// request.  When the check forces a logout the user agent is redirected to
// the login surface instead of reaching next.  Unauthenticated requests are
// sent to the provider when AutoLogin is set, to the login surface when
// EnforcePrivacy is set, and pass through otherwise.  The login and
// callback routes must be mounted outside this middleware.
func Refresh(ctx context.Context, a *rp.Authenticator, newRequest RequestFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r, err := newRequest(w, req)
		if err != nil {
			http.Redirect(w, req, a.ErrorRedirectURL(err), http.StatusFound)
			return
		}
		if _, ok := r.Session.AccountID(); !ok {
			switch {
			case a.Settings().AutoLogin:
				if a.Settings().RedirectUserBack {
					r.Cookies.Set(rp.ReturnToCookieName, req.URL.RequestURI())
				}
				authURL, err := a.AuthURL(ctx)
				if err != nil {
					http.Redirect(w, req, a.ErrorRedirectURL(err), http.StatusFound)
					return
				}
				http.Redirect(w, req, authURL, http.StatusFound)
			case a.Settings().EnforcePrivacy:
				http.Redirect(w, req, a.Settings().LoginURL, http.StatusFound)
			default:
				next.ServeHTTP(w, req)
			}
			return
		}
		if err := a.RefreshIfDue(ctx, r); err != nil {
			http.Redirect(w, req, a.ErrorRedirectURL(err), http.StatusFound)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// AltRoute diverts requests flagged with AlternateRouteParam to the callback
// handler and passes everything else to next.  It lets hosts without
// dedicated routing serve the callback from an existing endpoint.  The
// diversion is active only when AlternateRedirectURI is set.
func AltRoute(a *rp.Authenticator, cb http.HandlerFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if a.Settings().AlternateRedirectURI && IsAltRoute(req) {
			cb(w, req)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// IsAltRoute reports whether the request carries the alternate-route flag.
func IsAltRoute(req *http.Request) bool {
	return req.URL.Query().Get(AlternateRouteParam) == "1"
}

// RedirectSuccess returns a SuccessResponseFunc that issues a plain 302.
func RedirectSuccess() SuccessResponseFunc {
	return func(redirectURL string, w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, redirectURL, http.StatusFound)
	}
}

// RedirectError returns an ErrorResponseFunc that issues a plain 302 to the
// login surface.
func RedirectError() ErrorResponseFunc {
	return func(redirectURL string, _ error, w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, redirectURL, http.StatusFound)
	}
}
