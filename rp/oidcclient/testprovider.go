package oidcclient

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// TestProvider is a local in-process OpenID Connect provider for tests.  It
// serves discovery, JWKS, authorization, token (authorization_code and
// refresh_token grants) and userinfo endpoints over TLS.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string
	jwks       *jose.JSONWebKeySet

	mu                   sync.Mutex
	clientID             string
	clientSecret         string
	expectedAuthCode     string
	expectedRefreshToken string
	replyRefreshToken    string
	replySubject         string
	replyNonce           string
	replyExpiresIn       time.Duration
	replyUserinfo        map[string]interface{}
	customClaims         map[string]interface{}
	customAudience       string
	omitIDToken          bool
	omitRefreshToken     bool
	disableUserInfo      bool

	signingKey *ecdsa.PrivateKey

	t *testing.T
}

// StartTestProvider creates and starts a disposable TestProvider.  It is
// stopped via t.Cleanup.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)

	p := &TestProvider{
		t:              t,
		signingKey:     key,
		replySubject:   "sub_default",
		replyExpiresIn: 1 * time.Hour,
		replyUserinfo: map[string]interface{}{
			"sub":   "sub_default",
			"email": "default@example.com",
		},
	}
	p.jwks = &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{Key: key.Public()},
		},
	}

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()
	var buf bytes.Buffer
	err = pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Addr returns the provider's issuer URL.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the provider's TLS
// endpoints.
func (p *TestProvider) CACert() string { return p.caCert }

// SetClientCreds configures the client credentials the token endpoint
// accepts.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the only authorization code the token
// endpoint will accept.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetExpectedRefreshToken configures the only refresh token the token
// endpoint will accept for the refresh_token grant.
func (p *TestProvider) SetExpectedRefreshToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedRefreshToken = token
}

// SetReplyRefreshToken configures the refresh token returned by the token
// endpoint.  Empty leaves the field out of the response entirely.
func (p *TestProvider) SetReplyRefreshToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyRefreshToken = token
}

// SetReplySubject configures the sub claim of issued id_tokens.
func (p *TestProvider) SetReplySubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = sub
}

// SetReplyNonce configures the nonce claim of issued id_tokens.
func (p *TestProvider) SetReplyNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyNonce = nonce
}

// SetReplyExpiresIn configures the expires_in of token responses.
func (p *TestProvider) SetReplyExpiresIn(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyExpiresIn = d
}

// SetReplyUserinfo configures the userinfo endpoint's response document.
func (p *TestProvider) SetReplyUserinfo(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserinfo = claims
}

// SetCustomClaims configures additional claims for issued id_tokens, for
// example email or preferred_username.
func (p *TestProvider) SetCustomClaims(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = claims
}

// SetCustomAudience overrides the aud claim of issued id_tokens, which by
// default is the configured client ID.
func (p *TestProvider) SetCustomAudience(aud string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = aud
}

// OmitIDTokens makes the token endpoint leave out the id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// OmitRefreshTokens makes the token endpoint leave out the refresh token.
func (p *TestProvider) OmitRefreshTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefreshToken = true
}

// DisableUserInfo removes the userinfo endpoint from discovery and makes it
// return 404.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) {
	p.t.Helper()
	enc := json.NewEncoder(w)
	require.NoError(p.t, enc.Encode(out))
}

func (p *TestProvider) writeTokenError(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) {
	p.t.Helper()
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	w.WriteHeader(statusCode)
	p.writeJSON(w, &body)
}

// signIDToken issues an id_token signed with the provider's ES256 key.
func (p *TestProvider) signIDToken() string {
	p.t.Helper()
	require := require.New(p.t)

	now := time.Now()
	stdClaims := jwt.Claims{
		Subject:   p.replySubject,
		Issuer:    p.Addr(),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(now.Add(p.replyExpiresIn)),
		Audience:  jwt.Audience{p.clientID},
	}
	if p.customAudience != "" {
		stdClaims.Audience = jwt.Audience{p.customAudience}
	}
	privateClaims := map[string]interface{}{}
	for k, v := range p.customClaims {
		privateClaims[k] = v
	}
	if p.replyNonce != "" {
		privateClaims["nonce"] = p.replyNonce
	}

	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.ES256, Key: p.signingKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(err)

	raw, err := jwt.Signed(sig).
		Claims(stdClaims).
		Claims(privateClaims).
		CompactSerialize()
	require.NoError(err)

	return raw
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reply := struct {
			Issuer           string `json:"issuer"`
			AuthEndpoint     string `json:"authorization_endpoint"`
			TokenEndpoint    string `json:"token_endpoint"`
			JWKSURI          string `json:"jwks_uri"`
			UserinfoEndpoint string `json:"userinfo_endpoint,omitempty"`
		}{
			Issuer:           p.Addr(),
			AuthEndpoint:     p.Addr() + "/auth",
			TokenEndpoint:    p.Addr() + "/token",
			JWKSURI:          p.Addr() + "/certs",
			UserinfoEndpoint: p.Addr() + "/userinfo",
		}
		if p.disableUserInfo {
			reply.UserinfoEndpoint = ""
		}
		p.writeJSON(w, &reply)

	case "/auth":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()
		state := qv.Get("state")
		redirectURI := qv.Get("redirect_uri")
		if state == "" || redirectURI == "" || p.expectedAuthCode == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		redirectURI += "?state=" + url.QueryEscape(state) +
			"&code=" + url.QueryEscape(p.expectedAuthCode)
		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "/certs":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.writeJSON(w, p.jwks)

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		switch req.FormValue("grant_type") {
		case "authorization_code":
			if req.FormValue("code") != p.expectedAuthCode {
				p.writeTokenError(w, http.StatusUnauthorized, "invalid_grant", "unexpected auth code")
				return
			}
		case "refresh_token":
			if req.FormValue("refresh_token") != p.expectedRefreshToken {
				p.writeTokenError(w, http.StatusUnauthorized, "invalid_grant", "unexpected refresh token")
				return
			}
		default:
			p.writeTokenError(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
			return
		}

		reply := struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token,omitempty"`
			IDToken      string `json:"id_token,omitempty"`
			TokenType    string `json:"token_type"`
			ExpiresIn    int64  `json:"expires_in"`
		}{
			AccessToken:  "at_" + p.expectedAuthCode,
			RefreshToken: p.replyRefreshToken,
			IDToken:      p.signIDToken(),
			TokenType:    "Bearer",
			ExpiresIn:    int64(p.replyExpiresIn.Seconds()),
		}
		if p.omitIDToken {
			reply.IDToken = ""
		}
		if p.omitRefreshToken {
			reply.RefreshToken = ""
		}
		p.writeJSON(w, &reply)

	case "/userinfo":
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.writeJSON(w, p.replyUserinfo)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
