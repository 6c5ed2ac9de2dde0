package rp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
)

// sessionIssuer turns a resolved account plus validated provider payloads
// into an authenticated host session: it records claim snapshots, marks the
// account provider-linked, mints the encrypted refresh cookie and signs the
// host session in.
type sessionIssuer struct {
	accounts AccountStore
	keys     *keyStore
	logger   hclog.Logger
	now      func() time.Time
}

// issue persists the login and emits the cookies.  Any failure here is
// fatal for the whole callback.  The snapshots are overwritten each login
// and carry redacted credential fields; they exist for audit and downstream
// consumption, not for security decisions.
func (s *sessionIssuer) issue(ctx context.Context, req *Request, acct Account, t *TokenResponse, idc *IDTokenClaims, uc *UserClaims) error {
	const op = "sessionIssuer.issue"
	snapshots := []struct {
		key   string
		value interface{}
	}{
		{MetaLastTokenResponse, t},
		{MetaLastIDTokenClaims, idc},
		{MetaLastUserClaims, uc},
	}
	for _, snap := range snapshots {
		encoded, err := json.Marshal(snap.value)
		if err != nil {
			return fmt.Errorf("%s: unable to serialize %s snapshot: %w", op, snap.key, err)
		}
		if err := s.accounts.SetMetadata(ctx, acct.ID, snap.key, string(encoded), false); err != nil {
			return fmt.Errorf("%s: unable to persist %s snapshot: %w", op, snap.key, err)
		}
	}
	if err := s.accounts.SetMetadata(ctx, acct.ID, MetaProviderLinked, "true", false); err != nil {
		return fmt.Errorf("%s: unable to persist provider link: %w", op, err)
	}

	key, err := s.keys.getOrCreate(ctx, acct.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	cookie, err := encodeRefreshState(RefreshState{
		NextRefreshAt: s.now().Add(t.ExpiresIn).UTC(),
		RefreshToken:  t.RefreshToken,
	}, key)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Cookies.Set(RefreshCookieName, cookie)

	// Standard session lifetime, never the extended remember-me one.
	if err := req.Session.SignIn(acct.ID, false); err != nil {
		return fmt.Errorf("%s: unable to sign session in: %w", op, err)
	}
	s.logger.Debug("issued session", "account_id", acct.ID)
	return nil
}
