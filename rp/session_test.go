package rp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionIssuer_Issue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	newIssuer := func(store *TestAccountStore) *sessionIssuer {
		return &sessionIssuer{
			accounts: store,
			keys:     &keyStore{accounts: store, logger: hclog.NewNullLogger()},
			logger:   hclog.NewNullLogger(),
			now:      func() time.Time { return now },
		}
	}

	t.Run("issues-cookie-and-session", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store := NewTestAccountStore()
		acct := store.AddAccount("alice", "a@example.com")
		req, jar, sess := NewTestRequest()

		tr := testTokenResponse()
		idc := &IDTokenClaims{Subject: "sub-123", Issuer: "https://issuer"}
		uc := &UserClaims{Subject: "sub-123", Email: "a@example.com"}
		require.NoError(newIssuer(store).issue(ctx, req, acct, tr, idc, uc))

		// non-remember-me session for the account
		current, ok := sess.AccountID()
		require.True(ok)
		assert.Equal(acct.ID, current)
		assert.False(sess.Remember)

		// the cookie decrypts under the account's key and is due at
		// now + expires_in
		cookie, ok := jar.Get(RefreshCookieName)
		require.True(ok)
		key, err := (&keyStore{accounts: store, logger: hclog.NewNullLogger()}).getOrCreate(ctx, acct.ID)
		require.NoError(err)
		st, err := decodeRefreshState(cookie, key)
		require.NoError(err)
		assert.Equal(now.Add(time.Hour), st.NextRefreshAt)
		assert.Equal(RefreshToken("rt-test"), st.RefreshToken)
	})

	t.Run("persists-snapshots-and-link-flag", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store := NewTestAccountStore()
		acct := store.AddAccount("alice", "a@example.com")
		req, _, _ := NewTestRequest()

		idc := &IDTokenClaims{Subject: "sub-123", Issuer: "https://issuer", Extra: map[string]interface{}{}}
		uc := &UserClaims{Subject: "sub-123", Email: "a@example.com", Extra: map[string]interface{}{}}
		require.NoError(newIssuer(store).issue(ctx, req, acct, testTokenResponse(), idc, uc))

		linked, ok, err := store.Metadata(ctx, acct.ID, MetaProviderLinked)
		require.NoError(err)
		require.True(ok)
		assert.Equal("true", linked)

		snap, ok, err := store.Metadata(ctx, acct.ID, MetaLastIDTokenClaims)
		require.NoError(err)
		require.True(ok)
		var gotIDC IDTokenClaims
		require.NoError(json.Unmarshal([]byte(snap), &gotIDC))
		assert.Equal(*idc, gotIDC)

		// token snapshot exists but never stores raw credentials
		snap, ok, err = store.Metadata(ctx, acct.ID, MetaLastTokenResponse)
		require.NoError(err)
		require.True(ok)
		assert.NotContains(snap, "at-test")
		assert.NotContains(snap, "rt-test")
	})

	t.Run("snapshots-overwritten-each-login", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store := NewTestAccountStore()
		acct := store.AddAccount("alice", "a@example.com")
		issuer := newIssuer(store)

		first := &UserClaims{Subject: "sub-123", Name: "Old Name", Extra: map[string]interface{}{}}
		req, _, _ := NewTestRequest()
		require.NoError(issuer.issue(ctx, req, acct, testTokenResponse(), &IDTokenClaims{Subject: "sub-123"}, first))

		second := &UserClaims{Subject: "sub-123", Name: "New Name", Extra: map[string]interface{}{}}
		req2, _, _ := NewTestRequest()
		require.NoError(issuer.issue(ctx, req2, acct, testTokenResponse(), &IDTokenClaims{Subject: "sub-123"}, second))

		snap, _, err := store.Metadata(ctx, acct.ID, MetaLastUserClaims)
		require.NoError(err)
		assert.Contains(snap, "New Name")
		assert.NotContains(snap, "Old Name")
	})

	t.Run("sign-in-failure-is-fatal", func(t *testing.T) {
		require := require.New(t)
		store := NewTestAccountStore()
		acct := store.AddAccount("alice", "a@example.com")
		req, _, sess := NewTestRequest()
		sess.SignInErr = assert.AnError

		err := newIssuer(store).issue(ctx, req, acct, testTokenResponse(), &IDTokenClaims{}, &UserClaims{})
		require.Error(err)
	})
}
