package oidcclient

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"

	"github.com/corvid-labs/rpsession/rp/internal/strutils"
)

type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// Config represents the configuration for the wire client's 3-legged OIDC
// authorization code flow.
type Config struct {
	// ClientID is the relying party id
	ClientID string

	// ClientSecret is the relying party secret
	ClientSecret ClientSecret

	// Issuer is a case-sensitive URL using the https scheme that the
	// provider's discovery document is fetched from.
	Issuer string

	// RedirectURL is the URL the provider sends the authorization response
	// to.
	RedirectURL string

	// Scopes is a list of additional oidc scopes to request of the
	// provider.  The required "openid" scope is always requested.
	Scopes []string

	// Audiences is an optional list of case-sensitive strings accepted when
	// verifying an id_token's "aud" claim, beyond the client id.
	Audiences []string

	// SupportedSigningAlgs restricts the id_token signing algorithms
	// accepted during verification.  Empty means the verifier's defaults.
	SupportedSigningAlgs []string

	// ProviderCA is an optional CA cert to use when sending requests to the
	// provider.
	ProviderCA string

	// InsecureSkipVerify disables TLS certificate verification on outgoing
	// requests.  Never enable it outside of development setups.
	InsecureSkipVerify bool

	// Timeout bounds every outgoing request to the provider.
	Timeout time.Duration

	// Logger is an optional logger
	Logger hclog.Logger
}

// NewConfig composes a new wire-client config.
// Supported options:
//
//	WithScopes
//	WithAudiences
//	WithSigningAlgs
//	WithProviderCA
//	WithInsecureTLS
//	WithTimeout
//	WithConfigLogger
func NewConfig(issuer, clientID string, clientSecret ClientSecret, redirectURL string, opt ...Option) (*Config, error) {
	const op = "oidcclient.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:               issuer,
		ClientID:             clientID,
		ClientSecret:         clientSecret,
		RedirectURL:          redirectURL,
		Scopes:               opts.withScopes,
		Audiences:            opts.withAudiences,
		SupportedSigningAlgs: opts.withSigningAlgs,
		ProviderCA:           opts.withProviderCA,
		InsecureSkipVerify:   opts.withInsecureTLS,
		Timeout:              opts.withTimeout,
		Logger:               opts.withLogger,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid client config: %w", op, err)
	}
	return c, nil
}

// Validate the client configuration.  It verifies the issuer parses and uses
// an http(s) scheme but does not verify the issuer is discoverable via an
// http request.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("%s: client secret is empty: %w", op, ErrInvalidParameter)
	}
	if c.Issuer == "" {
		return fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(c.Issuer)
	if err != nil {
		return fmt.Errorf("%s: issuer %s is invalid: %w", op, c.Issuer, err)
	}
	if !strutils.StrListContains([]string{"https", "http"}, u.Scheme) {
		return fmt.Errorf("%s: issuer %s scheme is not http or https: %w", op, c.Issuer, ErrInvalidParameter)
	}
	return nil
}

// HTTPClient creates a new http client for the configured provider, using
// the optional CA certificate PEM if provided and otherwise the installed
// system CA chain.
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	tr := cleanhttp.DefaultPooledTransport()

	if c.ProviderCA != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(c.ProviderCA)); !ok {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs: certPool,
		}
	}
	if c.InsecureSkipVerify {
		if tr.TLSClientConfig == nil {
			tr.TLSClientConfig = &tls.Config{}
		}
		tr.TLSClientConfig.InsecureSkipVerify = true
	}

	return &http.Client{
		Transport: tr,
		Timeout:   c.Timeout,
	}, nil
}

// configOptions is the set of available options for NewConfig
type configOptions struct {
	withScopes      []string
	withAudiences   []string
	withSigningAlgs []string
	withProviderCA  string
	withInsecureTLS bool
	withTimeout     time.Duration
	withLogger      hclog.Logger
}

func configDefaults() configOptions {
	return configOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithScopes provides an optional list of scopes for the client's config
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithAudiences provides an optional list of audiences for the client's config
func WithAudiences(auds ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAudiences = auds
		}
	}
}

// WithSigningAlgs restricts the accepted id_token signing algorithms
func WithSigningAlgs(algs ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSigningAlgs = algs
		}
	}
}

// WithProviderCA provides an optional CA cert for the client's config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithInsecureTLS disables TLS verification on outgoing requests
func WithInsecureTLS() Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withInsecureTLS = true
		}
	}
}

// WithTimeout bounds outgoing provider requests
func WithTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withTimeout = d
		}
	}
}

// WithConfigLogger provides an optional logger for the client's config
func WithConfigLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withLogger = l
		}
	}
}
