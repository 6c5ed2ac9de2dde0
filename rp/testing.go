package rp

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// TestAccountStore is an in-memory AccountStore for tests.  It is
// concurrently safe.
type TestAccountStore struct {
	mu       sync.Mutex
	nextID   int
	accounts map[string]Account
	meta     map[string]map[string]string

	// CreateErr, when set, is returned by Create.
	CreateErr error
}

// NewTestAccountStore creates an empty in-memory store.
func NewTestAccountStore() *TestAccountStore {
	return &TestAccountStore{
		accounts: map[string]Account{},
		meta:     map[string]map[string]string{},
	}
}

// AddAccount seeds an account and returns it.
func (s *TestAccountStore) AddAccount(username, email string) Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(username, email)
}

func (s *TestAccountStore) add(username, email string) Account {
	s.nextID++
	acct := Account{
		ID:       fmt.Sprintf("acct-%d", s.nextID),
		Username: username,
		Email:    email,
	}
	s.accounts[acct.ID] = acct
	s.meta[acct.ID] = map[string]string{}
	return acct
}

func (s *TestAccountStore) FindByMetadata(_ context.Context, key, value string) ([]Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Account
	for id, m := range s.meta {
		if m[key] == value && value != "" {
			out = append(out, s.accounts[id])
		}
	}
	return out, nil
}

func (s *TestAccountStore) Create(_ context.Context, username, password, email string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return Account{}, s.CreateErr
	}
	if password == "" {
		return Account{}, fmt.Errorf("empty password")
	}
	for _, acct := range s.accounts {
		if acct.Username == username {
			return Account{}, fmt.Errorf("username %q is taken", username)
		}
	}
	return s.add(username, email), nil
}

func (s *TestAccountStore) GetByID(_ context.Context, id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return Account{}, fmt.Errorf("account %q not found", id)
	}
	return acct, nil
}

func (s *TestAccountStore) Metadata(_ context.Context, accountID, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meta[accountID]
	if !ok {
		return "", false, fmt.Errorf("account %q not found", accountID)
	}
	v, ok := m[key]
	return v, ok, nil
}

func (s *TestAccountStore) SetMetadata(_ context.Context, accountID, key, value string, ifNotExists bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meta[accountID]
	if !ok {
		return fmt.Errorf("account %q not found", accountID)
	}
	if _, exists := m[key]; exists && ifNotExists {
		return nil
	}
	m[key] = value
	return nil
}

func (s *TestAccountStore) UsernameExists(_ context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acct := range s.accounts {
		if acct.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (s *TestAccountStore) EmailOwner(_ context.Context, email string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, acct := range s.accounts {
		if acct.Email == email && email != "" {
			return id, true, nil
		}
	}
	return "", false, nil
}

// Count returns the number of accounts in the store.
func (s *TestAccountStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

// TestCookieJar is an in-memory CookieJar for tests.
type TestCookieJar struct {
	Values map[string]string
}

func NewTestCookieJar() *TestCookieJar {
	return &TestCookieJar{Values: map[string]string{}}
}

func (j *TestCookieJar) Get(name string) (string, bool) {
	v, ok := j.Values[name]
	return v, ok
}

func (j *TestCookieJar) Set(name, value string) {
	j.Values[name] = value
}

func (j *TestCookieJar) Clear(name string) {
	delete(j.Values, name)
}

// TestSessionManager is an in-memory SessionManager for tests.
type TestSessionManager struct {
	Current   string
	Remember  bool
	SignedOut bool
	SignInErr error
}

func (m *TestSessionManager) AccountID() (string, bool) {
	return m.Current, m.Current != ""
}

func (m *TestSessionManager) SignIn(accountID string, remember bool) error {
	if m.SignInErr != nil {
		return m.SignInErr
	}
	m.Current = accountID
	m.Remember = remember
	m.SignedOut = false
	return nil
}

func (m *TestSessionManager) SignOut() {
	m.Current = ""
	m.SignedOut = true
}

// NewTestRequest bundles fresh test cookie and session fakes into a
// Request.
func NewTestRequest() (*Request, *TestCookieJar, *TestSessionManager) {
	jar := NewTestCookieJar()
	sess := &TestSessionManager{}
	return &Request{Params: url.Values{}, Cookies: jar, Session: sess}, jar, sess
}

// TestClient is a scriptable Client for tests.  Each func field defaults to
// a success verdict; Calls records the order stages were invoked in.
type TestClient struct {
	Calls []string

	AuthURLFn            func(ctx context.Context) (string, error)
	ValidateCallbackFn   func(params url.Values) error
	AuthorizationCodeFn  func(params url.Values) (string, error)
	ExchangeFn           func(ctx context.Context, code string) (*TokenResponse, error)
	ExchangeRefreshFn    func(ctx context.Context, t RefreshToken) (*TokenResponse, error)
	ValidateTokenFn      func(t *TokenResponse) error
	IDTokenClaimsFn      func(ctx context.Context, t *TokenResponse) (*IDTokenClaims, error)
	ValidateIDTokenFn    func(c *IDTokenClaims) error
	UserClaimsFn         func(ctx context.Context, t *TokenResponse) (*UserClaims, error)
	ValidateUserClaimsFn func(uc *UserClaims, idc *IDTokenClaims) error
	UserinfoFn           func(ctx context.Context, accessToken AccessToken) ([]byte, error)
}

// NewTestClient returns a TestClient whose defaults mimic a provider
// returning the given subject and user claims.
func NewTestClient(sub Subject, uc UserClaims) *TestClient {
	c := &TestClient{}
	c.ExchangeFn = func(context.Context, string) (*TokenResponse, error) {
		return &TokenResponse{
			AccessToken:  "at-test",
			RefreshToken: "rt-test",
			IDToken:      "idt-test",
			ExpiresIn:    time.Hour,
		}, nil
	}
	c.IDTokenClaimsFn = func(context.Context, *TokenResponse) (*IDTokenClaims, error) {
		return &IDTokenClaims{Subject: sub, Nonce: "n_test"}, nil
	}
	c.UserClaimsFn = func(context.Context, *TokenResponse) (*UserClaims, error) {
		claims := uc
		return &claims, nil
	}
	return c
}

func (c *TestClient) record(stage string) {
	c.Calls = append(c.Calls, stage)
}

func (c *TestClient) AuthURL(ctx context.Context) (string, error) {
	c.record("auth-url")
	if c.AuthURLFn != nil {
		return c.AuthURLFn(ctx)
	}
	return "https://provider.example.com/authorize?state=st_test", nil
}

func (c *TestClient) ValidateCallback(params url.Values) error {
	c.record("validate-callback")
	if c.ValidateCallbackFn != nil {
		return c.ValidateCallbackFn(params)
	}
	return nil
}

func (c *TestClient) AuthorizationCode(params url.Values) (string, error) {
	c.record("authorization-code")
	if c.AuthorizationCodeFn != nil {
		return c.AuthorizationCodeFn(params)
	}
	if code := params.Get("code"); code != "" {
		return code, nil
	}
	return "", fmt.Errorf("no code parameter")
}

func (c *TestClient) Exchange(ctx context.Context, code string) (*TokenResponse, error) {
	c.record("exchange")
	return c.ExchangeFn(ctx, code)
}

func (c *TestClient) ExchangeRefreshToken(ctx context.Context, t RefreshToken) (*TokenResponse, error) {
	c.record("exchange-refresh")
	if c.ExchangeRefreshFn != nil {
		return c.ExchangeRefreshFn(ctx, t)
	}
	return c.ExchangeFn(ctx, "")
}

func (c *TestClient) ValidateTokenResponse(t *TokenResponse) error {
	c.record("validate-token")
	if c.ValidateTokenFn != nil {
		return c.ValidateTokenFn(t)
	}
	return nil
}

func (c *TestClient) IDTokenClaims(ctx context.Context, t *TokenResponse) (*IDTokenClaims, error) {
	c.record("id-token-claims")
	return c.IDTokenClaimsFn(ctx, t)
}

func (c *TestClient) ValidateIDTokenClaims(claims *IDTokenClaims) error {
	c.record("validate-id-token")
	if c.ValidateIDTokenFn != nil {
		return c.ValidateIDTokenFn(claims)
	}
	return nil
}

func (c *TestClient) UserClaims(ctx context.Context, t *TokenResponse) (*UserClaims, error) {
	c.record("user-claims")
	return c.UserClaimsFn(ctx, t)
}

func (c *TestClient) ValidateUserClaims(uc *UserClaims, idc *IDTokenClaims) error {
	c.record("validate-user-claims")
	if c.ValidateUserClaimsFn != nil {
		return c.ValidateUserClaimsFn(uc, idc)
	}
	return nil
}

func (c *TestClient) Userinfo(ctx context.Context, accessToken AccessToken) ([]byte, error) {
	c.record("userinfo")
	if c.UserinfoFn != nil {
		return c.UserinfoFn(ctx, accessToken)
	}
	return []byte(`{}`), nil
}

var _ Client = (*TestClient)(nil)
var _ AccountStore = (*TestAccountStore)(nil)
var _ CookieJar = (*TestCookieJar)(nil)
var _ SessionManager = (*TestSessionManager)(nil)
