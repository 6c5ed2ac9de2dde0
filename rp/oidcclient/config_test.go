package oidcclient

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		issuer       string
		clientID     string
		clientSecret ClientSecret
		redirectURL  string
		opt          []Option
		wantErr      bool
		wantIsErr    error
	}{
		{
			name:         "valid-with-defaults",
			issuer:       "https://provider.example.com",
			clientID:     "client-id",
			clientSecret: "client-secret",
			redirectURL:  "https://rp.example.com/callback",
		},
		{
			name:         "valid-with-options",
			issuer:       "https://provider.example.com",
			clientID:     "client-id",
			clientSecret: "client-secret",
			redirectURL:  "https://rp.example.com/callback",
			opt: []Option{
				WithScopes("profile", "email"),
				WithAudiences("aud1"),
				WithSigningAlgs("ES256"),
				WithTimeout(5 * time.Second),
			},
		},
		{
			name:         "empty-client-id",
			issuer:       "https://provider.example.com",
			clientSecret: "client-secret",
			redirectURL:  "https://rp.example.com/callback",
			wantErr:      true,
			wantIsErr:    ErrInvalidParameter,
		},
		{
			name:        "empty-client-secret",
			issuer:      "https://provider.example.com",
			clientID:    "client-id",
			redirectURL: "https://rp.example.com/callback",
			wantErr:     true,
			wantIsErr:   ErrInvalidParameter,
		},
		{
			name:         "empty-issuer",
			clientID:     "client-id",
			clientSecret: "client-secret",
			redirectURL:  "https://rp.example.com/callback",
			wantErr:      true,
			wantIsErr:    ErrInvalidParameter,
		},
		{
			name:         "empty-redirect-url",
			issuer:       "https://provider.example.com",
			clientID:     "client-id",
			clientSecret: "client-secret",
			wantErr:      true,
			wantIsErr:    ErrInvalidParameter,
		},
		{
			name:         "bad-issuer-scheme",
			issuer:       "ldap://provider.example.com",
			clientID:     "client-id",
			clientSecret: "client-secret",
			redirectURL:  "https://rp.example.com/callback",
			wantErr:      true,
			wantIsErr:    ErrInvalidParameter,
		},
		{
			name:         "unparsable-issuer",
			issuer:       "://provider.example.com",
			clientID:     "client-id",
			clientSecret: "client-secret",
			redirectURL:  "https://rp.example.com/callback",
			wantErr:      true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := NewConfig(tt.issuer, tt.clientID, tt.clientSecret, tt.redirectURL, tt.opt...)
			if tt.wantErr {
				require.Error(err)
				if tt.wantIsErr != nil {
					assert.ErrorIs(err, tt.wantIsErr)
				}
				return
			}
			require.NoError(err)
			assert.Equal(tt.issuer, got.Issuer)
			assert.Equal(tt.clientID, got.ClientID)
			assert.Equal(tt.clientSecret, got.ClientSecret)
			assert.Equal(tt.redirectURL, got.RedirectURL)
			assert.NotNil(got.Logger)
		})
	}
	t.Run("nil-config-validate", func(t *testing.T) {
		t.Parallel()
		var c *Config
		assert.ErrorIs(t, c.Validate(), ErrNilParameter)
	})
}

func TestConfig_HTTPClient(t *testing.T) {
	t.Parallel()
	t.Run("default", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		c, err := NewConfig("https://provider.example.com", "client-id", "client-secret", "https://rp.example.com/callback")
		require.NoError(err)
		hc, err := c.HTTPClient()
		require.NoError(err)
		assert.NotNil(hc.Transport)
	})
	t.Run("valid-provider-ca", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		c, err := NewConfig("https://provider.example.com", "client-id", "client-secret", "https://rp.example.com/callback",
			WithProviderCA(p.CACert()))
		require.NoError(err)
		hc, err := c.HTTPClient()
		require.NoError(err)
		assert.NotNil(hc.Transport)
	})
	t.Run("invalid-provider-ca", func(t *testing.T) {
		t.Parallel()
		require := require.New(t)
		c, err := NewConfig("https://provider.example.com", "client-id", "client-secret", "https://rp.example.com/callback",
			WithProviderCA("not a pem block"))
		require.NoError(err)
		_, err = c.HTTPClient()
		require.ErrorIs(err, ErrInvalidCACert)
	})
	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		c, err := NewConfig("https://provider.example.com", "client-id", "client-secret", "https://rp.example.com/callback",
			WithTimeout(3*time.Second))
		require.NoError(err)
		hc, err := c.HTTPClient()
		require.NoError(err)
		assert.Equal(3*time.Second, hc.Timeout)
	})
}

func TestClientSecret_redacts(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	secret := ClientSecret("super-secret")
	assert.Equal(RedactedClientSecret, secret.String())
	assert.Equal(RedactedClientSecret, fmt.Sprintf("%s", secret))

	got, err := json.Marshal(struct {
		Secret ClientSecret
	}{Secret: secret})
	require.NoError(err)
	assert.NotContains(string(got), "super-secret")
	assert.Contains(string(got), "REDACTED")
}
