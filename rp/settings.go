package rp

import (
	"fmt"
	"net/url"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-multierror"
)

// Settings is the immutable per-deployment configuration for the login
// flow.  It is read-only to this core; hosts build it directly or load it
// from the environment with SettingsFromEnv.
type Settings struct {
	// IdentityKey names the user claim preferred as the username source.
	IdentityKey string `env:"RPSESSION_IDENTITY_KEY" envDefault:"preferred_username"`

	// AutoLogin sends unauthenticated users straight to the provider
	// instead of showing a local login surface.  callback.Refresh honors
	// it.
	AutoLogin bool `env:"RPSESSION_AUTO_LOGIN"`

	// EnforcePrivacy requires authentication for every request: the
	// callback.Refresh middleware redirects unauthenticated users to the
	// login surface (or, with AutoLogin, to the provider) instead of
	// passing them through.
	EnforcePrivacy bool `env:"RPSESSION_ENFORCE_PRIVACY"`

	// AlternateRedirectURI serves the provider callback from a shared
	// route flagged with callback.AlternateRouteParam instead of a
	// dedicated endpoint.  callback.AltRoute honors it.
	AlternateRedirectURI bool `env:"RPSESSION_ALTERNATE_REDIRECT_URI"`

	// LinkExistingUsers links a pre-existing account with a matching email
	// to the provider identity instead of creating a new account.
	LinkExistingUsers bool `env:"RPSESSION_LINK_EXISTING_USERS"`

	// RedirectUserBack sends the user to the location recorded in the
	// return-to cookie after login, when one is present.
	RedirectUserBack bool `env:"RPSESSION_REDIRECT_USER_BACK"`

	// UnlinkOnLogout resets the provider-linked flag on logout so the
	// account can subsequently authenticate with a local password.
	UnlinkOnLogout bool `env:"RPSESSION_UNLINK_ON_LOGOUT"`

	// HomeURL is the default post-login redirect target.
	HomeURL string `env:"RPSESSION_HOME_URL"`

	// LoginURL is the login surface users are redirected to on failure,
	// with the error code and message appended as query parameters.
	LoginURL string `env:"RPSESSION_LOGIN_URL"`
}

// SettingsFromEnv loads Settings from RPSESSION_* environment variables and
// validates them.
func SettingsFromEnv() (*Settings, error) {
	const op = "rp.SettingsFromEnv"
	var s Settings
	if err := env.Parse(&s); err != nil {
		return nil, fmt.Errorf("%s: unable to parse environment: %w", op, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &s, nil
}

// Validate reports every configuration problem at once.
func (s *Settings) Validate() error {
	const op = "Settings.Validate"
	if s == nil {
		return fmt.Errorf("%s: settings are nil", op)
	}
	var result *multierror.Error
	if s.IdentityKey == "" {
		result = multierror.Append(result, fmt.Errorf("identity key is empty"))
	}
	if err := validURL("home URL", s.HomeURL); err != nil {
		result = multierror.Append(result, err)
	}
	if err := validURL("login URL", s.LoginURL); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func validURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is empty", name)
	}
	if _, err := url.Parse(raw); err != nil {
		return fmt.Errorf("%s is invalid: %w", name, err)
	}
	return nil
}
