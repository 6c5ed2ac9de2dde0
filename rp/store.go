package rp

import "context"

// Metadata keys this core writes under an account.  MetaSubject and
// MetaProviderLinked are the durable link between a provider identity and a
// local account; MetaUserKey holds the per-user cookie encryption key; the
// MetaLast* keys hold per-login snapshots for audit and downstream
// consumption.
const (
	MetaSubject           = "rpsession-subject"
	MetaProviderLinked    = "rpsession-provider-linked"
	MetaUserKey           = "rpsession-user-key"
	MetaLastTokenResponse = "rpsession-last-token-response"
	MetaLastIDTokenClaims = "rpsession-last-id-token-claims"
	MetaLastUserClaims    = "rpsession-last-user-claims"
)

// Account is the host's user entity as seen by this core.
type Account struct {
	// ID uniquely identifies the account in the host's store.
	ID string

	Username string
	Email    string
}

// AccountStore is the host's user account store.  All mutable shared state
// (accounts, metadata, the per-user key) lives behind it; this core assumes
// read-your-writes consistency per account and nothing stronger.
type AccountStore interface {
	// FindByMetadata returns every account whose metadata under key equals
	// value exactly.  More than one match is a data-integrity condition the
	// host must prevent; callers take the first.
	FindByMetadata(ctx context.Context, key, value string) ([]Account, error)

	// Create provisions a new account.  The password is random and never
	// surfaced, since authentication is provider-delegated.
	Create(ctx context.Context, username, password, email string) (Account, error)

	// GetByID returns the account or an error when it does not exist.
	GetByID(ctx context.Context, id string) (Account, error)

	// Metadata returns the value stored under key for the account, and
	// whether one was present.
	Metadata(ctx context.Context, accountID, key string) (string, bool, error)

	// SetMetadata stores value under key.  With ifNotExists set, an
	// existing value is left untouched and the call succeeds; the resolver
	// relies on this first-write-wins behavior for the subject link.
	SetMetadata(ctx context.Context, accountID, key, value string, ifNotExists bool) error

	// UsernameExists reports whether a login name is taken.
	UsernameExists(ctx context.Context, username string) (bool, error)

	// EmailOwner returns the id of the account holding email, if any.
	EmailOwner(ctx context.Context, email string) (string, bool, error)
}
