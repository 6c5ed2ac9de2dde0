package rp

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
)

// userKeySize is the AES-256 key length used to seal refresh cookies.
const userKeySize = 32

// keyStore obtains or lazily provisions the symmetric key bound to one
// account, persisted as account metadata in a fixed-length base64 encoding.
// A corrupted stored key is treated as absent and silently regenerated,
// which invalidates any previously issued cookie for that account and
// forces that session to re-authenticate.  Key material never reaches the
// logger.
type keyStore struct {
	accounts AccountStore
	logger   hclog.Logger
}

// getOrCreate returns the account's key, generating and persisting a fresh
// one on first use or when the stored value cannot be decoded.
func (s *keyStore) getOrCreate(ctx context.Context, accountID string) ([]byte, error) {
	const op = "keyStore.getOrCreate"
	encoded, ok, err := s.accounts.Metadata(ctx, accountID, MetaUserKey)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read stored key: %w", op, err)
	}
	if ok {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err == nil && len(key) == userKeySize {
			return key, nil
		}
		s.logger.Warn("stored session key is unusable, regenerating", "account_id", accountID)
	}

	key, err := uuid.GenerateRandomBytes(userKeySize)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate key: %w", op, err)
	}
	if err := s.accounts.SetMetadata(ctx, accountID, MetaUserKey, base64.StdEncoding.EncodeToString(key), false); err != nil {
		return nil, fmt.Errorf("%s: unable to persist key: %w", op, err)
	}
	return key, nil
}
