package rp

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Authenticator is the top-level driver of the login flow.  Callback runs
// the authorization-code callback pipeline, RefreshIfDue is the per-request
// freshness check, and Logout is the cleanup entry point.  It owns the
// fail-fast error policy: the first failing stage aborts the flow and is
// converted, exactly once, into a logged error plus a login-surface
// redirect carrying only the error code and message.
type Authenticator struct {
	settings *Settings
	client   Client
	accounts AccountStore
	hooks    Hooks
	logger   hclog.Logger
	now      func() time.Time

	keys     *keyStore
	resolver *resolver
	issuer   *sessionIssuer
}

// New creates an Authenticator over the wire client and the host's account
// store.
// Supported options:
//
//	WithLogger
//	WithHooks
//	WithNow
func New(settings *Settings, client Client, accounts AccountStore, opt ...Option) (*Authenticator, error) {
	const op = "rp.New"
	if client == nil {
		return nil, fmt.Errorf("%s: client is nil", op)
	}
	if accounts == nil {
		return nil, fmt.Errorf("%s: account store is nil", op)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getAuthenticatorOpts(opt...)

	a := &Authenticator{
		settings: settings,
		client:   client,
		accounts: accounts,
		hooks:    opts.withHooks,
		logger:   opts.withLogger,
		now:      opts.withNow,
	}
	a.keys = &keyStore{accounts: accounts, logger: a.logger}
	a.resolver = &resolver{
		settings: settings,
		accounts: accounts,
		client:   client,
		hooks:    a.hooks,
		logger:   a.logger,
	}
	a.issuer = &sessionIssuer{
		accounts: accounts,
		keys:     a.keys,
		logger:   a.logger,
		now:      a.now,
	}
	return a, nil
}

// AuthURL returns the provider authorization URL for a fresh login attempt.
func (a *Authenticator) AuthURL(ctx context.Context) (string, error) {
	return a.client.AuthURL(ctx)
}

// Settings returns the authenticator's configuration.
func (a *Authenticator) Settings() *Settings {
	return a.settings
}

// Callback handles an inbound authorization-code callback.  It returns the
// URL the user agent should be redirected to next.  On failure the returned
// URL is the login surface with the error code and message appended, the
// error has already been logged, any session has been terminated, and the
// error itself is returned for host inspection.
func (a *Authenticator) Callback(ctx context.Context, req *Request) (string, error) {
	redirect, err := a.callback(ctx, req)
	if err != nil {
		return a.failLogin(req, err), err
	}
	return redirect, nil
}

// callback is the strict sequential pipeline: each stage consumes the
// previous stage's output and the first error stops everything.
func (a *Authenticator) callback(ctx context.Context, req *Request) (string, error) {
	if err := a.client.ValidateCallback(req.Params); err != nil {
		return "", asError(err, KindInvalidCallback, "callback parameters failed validation")
	}
	code, err := a.client.AuthorizationCode(req.Params)
	if err != nil {
		return "", asError(err, KindMissingCode, "callback carries no authorization code")
	}
	t, err := a.client.Exchange(ctx, code)
	if err != nil {
		return "", asError(err, KindTokenExchangeFailed, "unable to exchange authorization code")
	}
	if err := a.client.ValidateTokenResponse(t); err != nil {
		return "", asError(err, KindInvalidTokenResponse, "token response failed validation")
	}
	idc, err := a.client.IDTokenClaims(ctx, t)
	if err != nil {
		return "", asError(err, KindInvalidIDTokenClaim, "unable to decode id_token claims")
	}
	if err := a.client.ValidateIDTokenClaims(idc); err != nil {
		return "", asError(err, KindInvalidIDTokenClaim, "id_token claims failed validation")
	}
	uc, err := a.client.UserClaims(ctx, t)
	if err != nil {
		return "", asError(err, KindInvalidUserClaim, "unable to decode user claims")
	}
	if err := a.client.ValidateUserClaims(uc, idc); err != nil {
		return "", asError(err, KindInvalidUserClaim, "user claims failed validation")
	}
	sub := idc.Subject
	if sub == "" {
		return "", NewError(KindInvalidIDTokenClaim, WithMsg("id_token claims carry no subject"))
	}
	acct, err := a.resolver.resolveOrCreate(ctx, sub, uc, t)
	if err != nil {
		return "", err
	}
	// The account must be real and fetchable before a session is issued
	// for it.
	if acct.ID == "" {
		return "", NewError(KindInvalidUser, WithMsg("resolver returned an account without an id"))
	}
	if _, err := a.accounts.GetByID(ctx, acct.ID); err != nil {
		return "", NewError(KindInvalidUser, WithMsg("resolved account does not exist"), WithWrap(err), WithContext("account_id", acct.ID))
	}
	if err := a.issuer.issue(ctx, req, acct, t, idc, uc); err != nil {
		return "", asError(err, KindInvalidUser, "unable to issue session")
	}

	redirect := a.settings.HomeURL
	if a.settings.RedirectUserBack {
		if loc, ok := req.Cookies.Get(ReturnToCookieName); ok && loc != "" {
			redirect = loc
			// Re-arm the cookie so the host's expiry window restarts.
			req.Cookies.Set(ReturnToCookieName, loc)
		}
	}
	return a.hooks.RedirectURL(redirect), nil
}

// RefreshIfDue is invoked on every authenticated request.  The common path
// is one decrypt plus one time comparison; network I/O happens only at the
// expiry boundary.  Two concurrent requests may both observe a due cookie
// and both refresh; that race is accepted rather than guarded with shared
// server state.
func (a *Authenticator) RefreshIfDue(ctx context.Context, req *Request) error {
	accountID, ok := req.Session.AccountID()
	if !ok {
		return nil
	}
	linked, ok, err := a.accounts.Metadata(ctx, accountID, MetaProviderLinked)
	if err != nil {
		return fmt.Errorf("rp.RefreshIfDue: unable to read provider link: %w", err)
	}
	if !ok || linked != "true" {
		// The session was not established via this provider.
		return nil
	}

	cookie, present := req.Cookies.Get(RefreshCookieName)
	if !present {
		return a.forceLogout(req, accountID, NewError(KindRefreshCookieMissing, WithMsg("session has no refresh cookie")))
	}
	key, err := a.keys.getOrCreate(ctx, accountID)
	if err != nil {
		return a.forceLogout(req, accountID, NewError(KindRefreshCookieInvalid, WithMsg("unable to obtain session key"), WithWrap(err)))
	}
	st, err := decodeRefreshState(cookie, key)
	if err != nil {
		return a.forceLogout(req, accountID, asError(err, KindRefreshCookieInvalid, "refresh cookie failed validation"))
	}
	if a.now().Before(st.NextRefreshAt) {
		return nil
	}
	if st.RefreshToken == "" {
		return a.forceLogout(req, accountID, NewError(KindAccessExpired, WithMsg("access expired and the session cannot silently refresh")))
	}

	t, err := a.client.ExchangeRefreshToken(ctx, st.RefreshToken)
	if err != nil {
		return a.forceLogout(req, accountID, asError(err, KindTokenExchangeFailed, "unable to exchange refresh token"))
	}
	next, err := encodeRefreshState(RefreshState{
		NextRefreshAt: a.now().Add(t.ExpiresIn).UTC(),
		RefreshToken:  t.RefreshToken,
	}, key)
	if err != nil {
		return a.forceLogout(req, accountID, NewError(KindRefreshCookieInvalid, WithMsg("unable to re-issue refresh cookie"), WithWrap(err)))
	}
	req.Cookies.Set(RefreshCookieName, next)
	a.logger.Debug("refreshed session credentials", "account_id", accountID)
	return nil
}

// Logout clears the refresh cookie and, when configured, resets the
// provider-linked flag so the account can subsequently authenticate with a
// local password.
func (a *Authenticator) Logout(ctx context.Context, req *Request) error {
	req.Cookies.Clear(RefreshCookieName)
	accountID, ok := req.Session.AccountID()
	if !ok {
		return nil
	}
	if a.settings.UnlinkOnLogout {
		if err := a.accounts.SetMetadata(ctx, accountID, MetaProviderLinked, "false", false); err != nil {
			return fmt.Errorf("rp.Logout: unable to reset provider link: %w", err)
		}
	}
	a.hooks.LoggedOut(accountID)
	return nil
}

// ErrorRedirectURL renders the login-surface redirect for err: the login
// URL with the error code and message as query parameters.  Raw claim or
// token content never reaches the query string.
func (a *Authenticator) ErrorRedirectURL(err error) string {
	e := asError(err, KindInvalidCallback, "login failed")
	u, parseErr := url.Parse(a.settings.LoginURL)
	if parseErr != nil {
		return a.settings.LoginURL
	}
	q := u.Query()
	q.Set("login-error", string(e.Kind))
	if e.Msg != "" {
		q.Set("message", e.Msg)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// failLogin is the single conversion point between pipeline errors and
// user-facing behavior: log the full signal, terminate any session, and
// compute the error redirect.
func (a *Authenticator) failLogin(req *Request, err error) string {
	e := asError(err, KindInvalidCallback, "login failed")
	a.logger.Error("login failed", "kind", e.Kind, "msg", e.Msg, "err", e.Wrapped, "context", e.Context)
	if req.Session != nil {
		if accountID, ok := req.Session.AccountID(); ok {
			req.Session.SignOut()
			a.hooks.LoggedOut(accountID)
		}
	}
	return a.ErrorRedirectURL(e)
}

// forceLogout terminates the session after a failed freshness check and
// returns the causing error for the host to act on (typically via
// ErrorRedirectURL).
func (a *Authenticator) forceLogout(req *Request, accountID string, e *Error) error {
	a.logger.Error("session refresh failed", "kind", e.Kind, "msg", e.Msg, "err", e.Wrapped, "account_id", accountID)
	req.Cookies.Clear(RefreshCookieName)
	req.Session.SignOut()
	a.hooks.LoggedOut(accountID)
	return e
}

// authenticatorOptions is the set of available options for New
type authenticatorOptions struct {
	withLogger hclog.Logger
	withHooks  Hooks
	withNow    func() time.Time
}

func authenticatorDefaults() authenticatorOptions {
	return authenticatorOptions{
		withLogger: hclog.NewNullLogger(),
		withHooks:  NoopHooks{},
		withNow:    time.Now,
	}
}

func getAuthenticatorOpts(opt ...Option) authenticatorOptions {
	opts := authenticatorDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
