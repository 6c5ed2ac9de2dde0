package rp

// Hooks are the extension points hosts may implement to observe or steer
// the flow.  They are injected at construction time (see WithHooks); the
// default is NoopHooks.  Implementations must not retain the claim pointers
// past the call.
type Hooks interface {
	// AuthorizeCreate may veto account provisioning for a claim.  Returning
	// false fails the login with a not-authorized signal.
	AuthorizeCreate(claims *UserClaims) bool

	// AccountCreated is notified after a new account was provisioned.
	AccountCreated(acct Account, claims *UserClaims)

	// AccountUpdated is notified when an existing account was resolved or
	// linked, so external logic can sync state from the current claim.
	AccountUpdated(acct Account, claims *UserClaims)

	// RedirectURL may override the post-login redirect target.
	RedirectURL(current string) string

	// LoggedOut is notified after a session for the account was terminated,
	// whether by explicit logout or a failed freshness check.
	LoggedOut(accountID string)
}

// NoopHooks is the default Hooks implementation: it authorizes every
// creation and observes nothing.
type NoopHooks struct{}

var _ Hooks = NoopHooks{}

func (NoopHooks) AuthorizeCreate(*UserClaims) bool    { return true }
func (NoopHooks) AccountCreated(Account, *UserClaims) {}
func (NoopHooks) AccountUpdated(Account, *UserClaims) {}
func (NoopHooks) RedirectURL(current string) string   { return current }
func (NoopHooks) LoggedOut(string)                    {}
