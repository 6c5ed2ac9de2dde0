package rp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"

	"github.com/corvid-labs/rpsession/rp/internal/strutils"
)

// resolver maps a provider subject onto a local account, provisioning or
// linking one when no account carries the subject yet.
type resolver struct {
	settings *Settings
	accounts AccountStore
	client   Client
	hooks    Hooks
	logger   hclog.Logger
}

// resolveOrCreate returns the local account for sub.  Calling it twice with
// the same subject and no intervening metadata change returns the same
// account.  The token response is only needed for the userinfo re-fetch
// when the user claims lack an email.
func (r *resolver) resolveOrCreate(ctx context.Context, sub Subject, uc *UserClaims, t *TokenResponse) (Account, error) {
	matches, err := r.accounts.FindByMetadata(ctx, MetaSubject, string(sub))
	if err != nil {
		return Account{}, NewError(KindInvalidUser, WithMsg("subject lookup failed"), WithWrap(err))
	}
	if len(matches) > 0 {
		// More than one match means the host failed to enforce subject
		// uniqueness; the first match wins.
		acct := matches[0]
		r.hooks.AccountUpdated(acct, uc)
		return acct, nil
	}
	return r.provision(ctx, sub, uc, t)
}

func (r *resolver) provision(ctx context.Context, sub Subject, uc *UserClaims, t *TokenResponse) (Account, error) {
	email, err := r.email(ctx, uc, t)
	if err != nil {
		return Account{}, err
	}
	username, err := r.deriveUsername(ctx, uc)
	if err != nil {
		return Account{}, err
	}

	if r.settings.LinkExistingUsers {
		ownerID, ok, err := r.accounts.EmailOwner(ctx, email)
		if err != nil {
			return Account{}, NewError(KindInvalidUser, WithMsg("email lookup failed"), WithWrap(err))
		}
		if ok {
			return r.link(ctx, ownerID, sub, uc)
		}
	}

	if !r.hooks.AuthorizeCreate(uc) {
		return Account{}, NewError(KindNotAuthorized, WithMsg("account creation was vetoed for this claim"), WithContext("subject", string(sub)))
	}

	password, err := randomPassword()
	if err != nil {
		return Account{}, NewError(KindAccountCreateFailed, WithMsg("unable to generate password"), WithWrap(err))
	}
	acct, err := r.accounts.Create(ctx, username, password, email)
	if err != nil {
		return Account{}, NewError(KindAccountCreateFailed, WithMsg("unable to create account"), WithWrap(err), WithContext("username", username))
	}
	if err := r.attachSubject(ctx, acct.ID, sub); err != nil {
		return Account{}, err
	}
	r.logger.Info("provisioned account for provider identity", "account_id", acct.ID, "username", username)
	r.hooks.AccountCreated(acct, uc)
	return acct, nil
}

// link marks a pre-existing account (matched by email) as provider-linked
// and attaches the subject, without creating a new account.
func (r *resolver) link(ctx context.Context, accountID string, sub Subject, uc *UserClaims) (Account, error) {
	acct, err := r.accounts.GetByID(ctx, accountID)
	if err != nil {
		return Account{}, NewError(KindInvalidUser, WithMsg("linked account does not exist"), WithWrap(err))
	}
	if err := r.attachSubject(ctx, acct.ID, sub); err != nil {
		return Account{}, err
	}
	r.logger.Info("linked existing account to provider identity", "account_id", acct.ID)
	r.hooks.AccountUpdated(acct, uc)
	return acct, nil
}

// attachSubject persists the subject (first-write-wins) and the
// provider-linked flag.
func (r *resolver) attachSubject(ctx context.Context, accountID string, sub Subject) error {
	if err := r.accounts.SetMetadata(ctx, accountID, MetaSubject, string(sub), true); err != nil {
		return NewError(KindInvalidUser, WithMsg("unable to persist subject"), WithWrap(err))
	}
	if err := r.accounts.SetMetadata(ctx, accountID, MetaProviderLinked, "true", false); err != nil {
		return NewError(KindInvalidUser, WithMsg("unable to persist provider link"), WithWrap(err))
	}
	return nil
}

// email prefers the email claim and falls back to re-fetching userinfo with
// the access token.
func (r *resolver) email(ctx context.Context, uc *UserClaims, t *TokenResponse) (string, error) {
	if uc.Email != "" {
		return uc.Email, nil
	}
	raw, err := r.client.Userinfo(ctx, t.AccessToken)
	if err != nil {
		return "", NewError(KindIncompleteUserClaim, WithMsg("claim has no email and userinfo fetch failed"), WithWrap(err))
	}
	var info struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return "", NewError(KindIncompleteUserClaim, WithMsg("userinfo response is not valid json"), WithWrap(err))
	}
	if info.Email == "" {
		return "", NewError(KindIncompleteUserClaim, WithMsg("claim and userinfo both lack an email"))
	}
	return info.Email, nil
}

// deriveUsername picks a candidate from the claims (configured identity
// claim first, then preferred_username, name, and the email local-part),
// normalizes it, and probes the store for a free name, appending integer
// suffixes starting at 2.  The probe loop is unbounded; terminating is the
// host store's responsibility in practice.
func (r *resolver) deriveUsername(ctx context.Context, uc *UserClaims) (string, error) {
	candidate := r.usernameCandidate(uc)
	base := strutils.NormalizeUsername(candidate)
	if base == "" {
		return "", NewError(KindNoUsername, WithMsg("no usable username claim"), WithContext("candidate", candidate))
	}
	name := base
	for i := 2; ; i++ {
		taken, err := r.accounts.UsernameExists(ctx, name)
		if err != nil {
			return "", NewError(KindNoUsername, WithMsg("username probe failed"), WithWrap(err))
		}
		if !taken {
			return name, nil
		}
		name = fmt.Sprintf("%s%d", base, i)
	}
}

func (r *resolver) usernameCandidate(uc *UserClaims) string {
	if v, ok := uc.StringClaim(r.settings.IdentityKey); ok {
		return v
	}
	if uc.PreferredUsername != "" {
		return uc.PreferredUsername
	}
	if uc.Name != "" {
		return uc.Name
	}
	return strutils.EmailLocalPart(uc.Email)
}

// randomPassword generates the throwaway local credential for provisioned
// accounts.  It is never surfaced; authentication stays provider-delegated.
func randomPassword() (string, error) {
	b, err := uuid.GenerateRandomBytes(32)
	if err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(b), nil
}
