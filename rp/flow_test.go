package rp

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	tassert "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Unix(1700000000, 0).UTC()

func testAuthenticator(t *testing.T, store *TestAccountStore, client Client, opt ...Option) *Authenticator {
	t.Helper()
	opt = append([]Option{
		WithLogger(hclog.NewNullLogger()),
		WithNow(func() time.Time { return testNow }),
	}, opt...)
	a, err := New(testSettings(), client, store, opt...)
	require.NoError(t, err)
	return a
}

func callbackParams() url.Values {
	return url.Values{
		"state": []string{"st_test"},
		"code":  []string{"authcode-1"},
	}
}

func TestNew(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	_, err := New(testSettings(), nil, NewTestAccountStore())
	require.Error(err)

	_, err = New(testSettings(), NewTestClient("s", UserClaims{}), nil)
	require.Error(err)

	_, err = New(&Settings{}, NewTestClient("s", UserClaims{}), NewTestAccountStore())
	require.Error(err)
}

func TestAuthenticator_Callback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("first-login-provisions-and-issues", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store := NewTestAccountStore()
		client := NewTestClient("sub-123", UserClaims{
			Subject: "sub-123",
			Email:   "a@example.com",
			Name:    "Alice",
		})
		a := testAuthenticator(t, store, client)
		req, jar, sess := NewTestRequest()
		req.Params = callbackParams()

		redirect, err := a.Callback(ctx, req)
		require.NoError(err)
		assert.Equal("https://example.com/", redirect)

		// exactly one new account, username derived from the name claim
		require.Equal(1, store.Count())
		acctID, ok := sess.AccountID()
		require.True(ok)
		acct, err := store.GetByID(ctx, acctID)
		require.NoError(err)
		assert.Equal("alice", acct.Username)
		assert.Equal("a@example.com", acct.Email)

		sub, _, err := store.Metadata(ctx, acct.ID, MetaSubject)
		require.NoError(err)
		assert.Equal("sub-123", sub)
		linked, _, err := store.Metadata(ctx, acct.ID, MetaProviderLinked)
		require.NoError(err)
		assert.Equal("true", linked)

		// the refresh cookie decrypts and is due at now + expires_in
		cookie, ok := jar.Get(RefreshCookieName)
		require.True(ok)
		key, err := a.keys.getOrCreate(ctx, acct.ID)
		require.NoError(err)
		st, err := decodeRefreshState(cookie, key)
		require.NoError(err)
		assert.Equal(testNow.Add(time.Hour), st.NextRefreshAt)
	})

	t.Run("second-login-reuses-account", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store := NewTestAccountStore()
		client := NewTestClient("sub-123", UserClaims{Subject: "sub-123", Email: "a@example.com", Name: "Alice"})
		hooks := &recordingHooks{}
		a := testAuthenticator(t, store, client, WithHooks(hooks))

		req, _, sess := NewTestRequest()
		req.Params = callbackParams()
		_, err := a.Callback(ctx, req)
		require.NoError(err)
		firstID, _ := sess.AccountID()

		req2, _, sess2 := NewTestRequest()
		req2.Params = callbackParams()
		_, err = a.Callback(ctx, req2)
		require.NoError(err)
		secondID, _ := sess2.AccountID()

		assert.Equal(firstID, secondID)
		assert.Equal(1, store.Count())
		assert.Len(hooks.created, 1)
		assert.Len(hooks.updated, 1)
	})

	t.Run("short-circuits-on-id-token-failure", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store := NewTestAccountStore()
		client := NewTestClient("sub-123", UserClaims{Subject: "sub-123", Email: "a@example.com"})
		client.IDTokenClaimsFn = func(context.Context, *TokenResponse) (*IDTokenClaims, error) {
			return nil, NewError(KindInvalidIDTokenClaim, WithMsg("signature rejected"))
		}
		a := testAuthenticator(t, store, client)
		req, _, _ := NewTestRequest()
		req.Params = callbackParams()

		redirect, err := a.Callback(ctx, req)
		require.Error(err)
		require.True(IsKind(err, KindInvalidIDTokenClaim))

		// stages after the failure never ran and nothing was provisioned
		c := client
		assert.Equal([]string{"validate-callback", "authorization-code", "exchange", "validate-token", "id-token-claims"}, c.Calls)
		assert.Equal(0, store.Count())

		// the user lands on the login surface with only code and message
		u, parseErr := url.Parse(redirect)
		require.NoError(parseErr)
		assert.Equal("/login", u.Path)
		assert.Equal("invalid-id-token-claim", u.Query().Get("login-error"))
		assert.Equal("signature rejected", u.Query().Get("message"))
	})

	t.Run("missing-code-error-kind", func(t *testing.T) {
		require := require.New(t)
		store := NewTestAccountStore()
		client := NewTestClient("sub-123", UserClaims{Subject: "sub-123", Email: "a@example.com"})
		a := testAuthenticator(t, store, client)
		req, _, _ := NewTestRequest()
		req.Params = url.Values{"state": []string{"st_test"}} // no code

		_, err := a.Callback(ctx, req)
		require.True(IsKind(err, KindMissingCode))
	})

	t.Run("failure-terminates-existing-session", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store := NewTestAccountStore()
		acct := store.AddAccount("bob", "b@example.com")
		client := NewTestClient("sub-123", UserClaims{})
		client.ValidateCallbackFn = func(url.Values) error {
			return NewError(KindInvalidCallback, WithMsg("state mismatch"))
		}
		a := testAuthenticator(t, store, client)
		req, _, sess := NewTestRequest()
		require.NoError(sess.SignIn(acct.ID, false))

		_, err := a.Callback(ctx, req)
		require.Error(err)
		assert.True(sess.SignedOut)
	})

	t.Run("redirects-back-when-enabled", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		settings := testSettings()
		settings.RedirectUserBack = true
		store := NewTestAccountStore()
		client := NewTestClient("sub-123", UserClaims{Subject: "sub-123", Email: "a@example.com", Name: "Alice"})
		a, err := New(settings, client, store, WithNow(func() time.Time { return testNow }))
		require.NoError(err)

		req, jar, _ := NewTestRequest()
		req.Params = callbackParams()
		jar.Set(ReturnToCookieName, "https://example.com/deep/page")

		redirect, err := a.Callback(ctx, req)
		require.NoError(err)
		assert.Equal("https://example.com/deep/page", redirect)
		// the return-to cookie was re-armed, not cleared
		v, ok := jar.Get(ReturnToCookieName)
		require.True(ok)
		assert.Equal("https://example.com/deep/page", v)
	})

	t.Run("redirect-hook-overrides", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store := NewTestAccountStore()
		client := NewTestClient("sub-123", UserClaims{Subject: "sub-123", Email: "a@example.com", Name: "Alice"})
		hooks := &redirectHooks{target: "https://example.com/welcome"}
		a := testAuthenticator(t, store, client, WithHooks(hooks))
		req, _, _ := NewTestRequest()
		req.Params = callbackParams()

		redirect, err := a.Callback(ctx, req)
		require.NoError(err)
		assert.Equal("https://example.com/welcome", redirect)
	})

	t.Run("missing-subject-fails", func(t *testing.T) {
		require := require.New(t)
		store := NewTestAccountStore()
		client := NewTestClient("", UserClaims{Email: "a@example.com"})
		a := testAuthenticator(t, store, client)
		req, _, _ := NewTestRequest()
		req.Params = callbackParams()

		_, err := a.Callback(ctx, req)
		require.True(IsKind(err, KindInvalidIDTokenClaim))
	})
}

type redirectHooks struct {
	NoopHooks
	target string
}

func (h *redirectHooks) RedirectURL(string) string { return h.target }

func loggedInSession(t *testing.T, ctx context.Context, a *Authenticator, store *TestAccountStore, st RefreshState) (*Request, *TestCookieJar, *TestSessionManager, Account) {
	t.Helper()
	require := require.New(t)
	acct := store.AddAccount("alice", "a@example.com")
	require.NoError(store.SetMetadata(ctx, acct.ID, MetaProviderLinked, "true", false))
	req, jar, sess := NewTestRequest()
	require.NoError(sess.SignIn(acct.ID, false))

	key, err := a.keys.getOrCreate(ctx, acct.ID)
	require.NoError(err)
	cookie, err := encodeRefreshState(st, key)
	require.NoError(err)
	jar.Set(RefreshCookieName, cookie)
	return req, jar, sess, acct
}

func TestAuthenticator_RefreshIfDue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("not-yet-due-is-a-cheap-no-op", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store := NewTestAccountStore()
		client := NewTestClient("sub-123", UserClaims{})
		a := testAuthenticator(t, store, client)
		req, jar, _, _ := loggedInSession(t, ctx, a, store, RefreshState{
			NextRefreshAt: testNow.Add(time.Minute),
			RefreshToken:  "rt-old",
		})
		before, _ := jar.Get(RefreshCookieName)

		require.NoError(a.RefreshIfDue(ctx, req))

		// no network call, cookie untouched
		assert.NotContains(client.Calls, "exchange-refresh")
		after, _ := jar.Get(RefreshCookieName)
		assert.Equal(before, after)
	})

	t.Run("due-with-token-refreshes-once", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store := NewTestAccountStore()
		client := NewTestClient("sub-123", UserClaims{})
		refreshCalls := 0
		client.ExchangeRefreshFn = func(_ context.Context, rt RefreshToken) (*TokenResponse, error) {
			refreshCalls++
			assert.Equal(RefreshToken("rt-old"), rt)
			return &TokenResponse{
				AccessToken:  "at-new",
				RefreshToken: "rt-rotated",
				IDToken:      "idt-new",
				ExpiresIn:    30 * time.Minute,
			}, nil
		}
		a := testAuthenticator(t, store, client)
		due := RefreshState{NextRefreshAt: testNow.Add(-time.Minute), RefreshToken: "rt-old"}
		req, jar, _, acct := loggedInSession(t, ctx, a, store, due)

		require.NoError(a.RefreshIfDue(ctx, req))
		require.Equal(1, refreshCalls)

		// the cookie now carries the rotated token and a strictly later due time
		cookie, ok := jar.Get(RefreshCookieName)
		require.True(ok)
		key, err := a.keys.getOrCreate(ctx, acct.ID)
		require.NoError(err)
		st, err := decodeRefreshState(cookie, key)
		require.NoError(err)
		assert.Equal(RefreshToken("rt-rotated"), st.RefreshToken)
		assert.True(st.NextRefreshAt.After(due.NextRefreshAt))
		assert.Equal(testNow.Add(30*time.Minute), st.NextRefreshAt)
	})

	t.Run("due-without-token-forces-logout", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store := NewTestAccountStore()
		client := NewTestClient("sub-123", UserClaims{})
		a := testAuthenticator(t, store, client)
		req, jar, sess, _ := loggedInSession(t, ctx, a, store, RefreshState{
			NextRefreshAt: testNow.Add(-time.Minute),
		})

		err := a.RefreshIfDue(ctx, req)
		require.True(IsKind(err, KindAccessExpired))
		assert.NotContains(client.Calls, "exchange-refresh")
		assert.True(sess.SignedOut)
		_, ok := jar.Get(RefreshCookieName)
		assert.False(ok)
	})

	t.Run("missing-cookie-forces-logout", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store := NewTestAccountStore()
		client := NewTestClient("sub-123", UserClaims{})
		a := testAuthenticator(t, store, client)
		req, jar, sess, _ := loggedInSession(t, ctx, a, store, RefreshState{NextRefreshAt: testNow})
		jar.Clear(RefreshCookieName)

		err := a.RefreshIfDue(ctx, req)
		require.True(IsKind(err, KindRefreshCookieMissing))
		assert.True(sess.SignedOut)
	})

	t.Run("undecryptable-cookie-forces-logout", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store := NewTestAccountStore()
		client := NewTestClient("sub-123", UserClaims{})
		a := testAuthenticator(t, store, client)
		req, jar, sess, _ := loggedInSession(t, ctx, a, store, RefreshState{NextRefreshAt: testNow})
		jar.Set(RefreshCookieName, "garbage-cookie")

		err := a.RefreshIfDue(ctx, req)
		require.True(IsKind(err, KindRefreshCookieInvalid))
		assert.True(sess.SignedOut)
	})

	t.Run("refresh-exchange-failure-forces-logout", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store := NewTestAccountStore()
		client := NewTestClient("sub-123", UserClaims{})
		client.ExchangeRefreshFn = func(context.Context, RefreshToken) (*TokenResponse, error) {
			return nil, tassert.AnError
		}
		a := testAuthenticator(t, store, client)
		req, _, sess, _ := loggedInSession(t, ctx, a, store, RefreshState{
			NextRefreshAt: testNow.Add(-time.Minute),
			RefreshToken:  "rt-old",
		})

		err := a.RefreshIfDue(ctx, req)
		require.True(IsKind(err, KindTokenExchangeFailed))
		assert.True(sess.SignedOut)
	})

	t.Run("unauthenticated-request-is-no-op", func(t *testing.T) {
		require := require.New(t)
		store := NewTestAccountStore()
		client := NewTestClient("sub-123", UserClaims{})
		a := testAuthenticator(t, store, client)
		req, _, _ := NewTestRequest()

		require.NoError(a.RefreshIfDue(ctx, req))
		require.Empty(client.Calls)
	})

	t.Run("non-provider-session-is-no-op", func(t *testing.T) {
		require := require.New(t)
		store := NewTestAccountStore()
		acct := store.AddAccount("bob", "b@example.com")
		client := NewTestClient("sub-123", UserClaims{})
		a := testAuthenticator(t, store, client)
		req, _, sess := NewTestRequest()
		require.NoError(sess.SignIn(acct.ID, false))

		require.NoError(a.RefreshIfDue(ctx, req))
		require.Empty(client.Calls)
	})
}

func TestAuthenticator_Logout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("clears-refresh-cookie", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store := NewTestAccountStore()
		acct := store.AddAccount("alice", "a@example.com")
		require.NoError(store.SetMetadata(ctx, acct.ID, MetaProviderLinked, "true", false))
		hooks := &recordingHooks{}
		a := testAuthenticator(t, store, NewTestClient("sub-123", UserClaims{}), WithHooks(hooks))
		req, jar, sess := NewTestRequest()
		require.NoError(sess.SignIn(acct.ID, false))
		jar.Set(RefreshCookieName, "whatever")

		require.NoError(a.Logout(ctx, req))
		_, ok := jar.Get(RefreshCookieName)
		assert.False(ok)
		assert.Equal([]string{acct.ID}, hooks.loggedOut)

		// flag untouched by default
		linked, _, err := store.Metadata(ctx, acct.ID, MetaProviderLinked)
		require.NoError(err)
		assert.Equal("true", linked)
	})

	t.Run("unlink-on-logout-resets-flag", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		settings := testSettings()
		settings.UnlinkOnLogout = true
		store := NewTestAccountStore()
		acct := store.AddAccount("alice", "a@example.com")
		require.NoError(store.SetMetadata(ctx, acct.ID, MetaProviderLinked, "true", false))
		a, err := New(settings, NewTestClient("sub-123", UserClaims{}), store)
		require.NoError(err)
		req, _, sess := NewTestRequest()
		require.NoError(sess.SignIn(acct.ID, false))

		require.NoError(a.Logout(ctx, req))
		linked, _, err := store.Metadata(ctx, acct.ID, MetaProviderLinked)
		require.NoError(err)
		assert.Equal("false", linked)
	})
}

func TestAuthenticator_ErrorRedirectURL(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	store := NewTestAccountStore()
	a := testAuthenticator(t, store, NewTestClient("sub-123", UserClaims{}))

	got := a.ErrorRedirectURL(NewError(KindAccessExpired, WithMsg("session can no longer refresh"), WithContext("refresh_token", "raw-secret")))
	u, err := url.Parse(got)
	require.NoError(err)
	assert.Equal("access-expired", u.Query().Get("login-error"))
	assert.Equal("session can no longer refresh", u.Query().Get("message"))
	assert.NotContains(got, "raw-secret")
}
