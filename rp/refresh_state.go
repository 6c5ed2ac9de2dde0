package rp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// RefreshState is the decrypted content of the refresh cookie: when the
// access credentials next need refreshing, and the refresh token to do it
// with.  An empty RefreshToken means the session can never silently refresh
// and must re-authenticate when due.  Times are stored with second
// granularity.
type RefreshState struct {
	NextRefreshAt time.Time
	RefreshToken  RefreshToken
}

// refreshStateWire is the serialized cookie payload.  Pointer fields let
// decoding distinguish an absent field from a zero value, so partial or
// corrupted payloads are never accepted.  The refresh token is written as a
// plain string on purpose: the RefreshToken type redacts itself when
// marshaled.
type refreshStateWire struct {
	NextRefreshAt *int64  `json:"nr"`
	RefreshToken  *string `json:"rt"`
}

// encodeRefreshState serializes and seals a RefreshState under the
// account's key, producing the cookie value.
func encodeRefreshState(st RefreshState, key []byte) (string, error) {
	const op = "rp.encodeRefreshState"
	at := st.NextRefreshAt.UTC().Unix()
	rt := string(st.RefreshToken)
	plaintext, err := json.Marshal(refreshStateWire{
		NextRefreshAt: &at,
		RefreshToken:  &rt,
	})
	if err != nil {
		return "", fmt.Errorf("%s: unable to serialize: %w", op, err)
	}
	sealed, err := seal(key, plaintext)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return sealed, nil
}

// decodeRefreshState opens and deserializes a cookie value.  Every failure
// mode (bad base64, truncation, authentication failure, missing fields) is
// reported as refresh-cookie-invalid.
func decodeRefreshState(cookie string, key []byte) (RefreshState, error) {
	plaintext, err := open(key, cookie)
	if err != nil {
		return RefreshState{}, NewError(KindRefreshCookieInvalid, WithMsg("unable to decrypt refresh cookie"), WithWrap(err))
	}
	var wire refreshStateWire
	if err := json.Unmarshal(plaintext, &wire); err != nil {
		return RefreshState{}, NewError(KindRefreshCookieInvalid, WithMsg("unable to deserialize refresh cookie"), WithWrap(err))
	}
	if wire.NextRefreshAt == nil || wire.RefreshToken == nil {
		return RefreshState{}, NewError(KindRefreshCookieInvalid, WithMsg("refresh cookie payload is incomplete"))
	}
	return RefreshState{
		NextRefreshAt: time.Unix(*wire.NextRefreshAt, 0).UTC(),
		RefreshToken:  RefreshToken(*wire.RefreshToken),
	}, nil
}

// seal encrypts plaintext with AES-256-GCM and returns nonce || ciphertext
// in raw base64, suitable for a cookie value.
func seal(key, plaintext []byte) (string, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}
	// GCM requires a unique nonce per encryption under the same key.
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("unable to read nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	return base64.RawStdEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

// open decrypts a value produced by seal.
func open(key []byte, sealed string) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	payload, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("unable to decode sealed value: %w", err)
	}
	if len(payload) < aead.NonceSize() {
		return nil, fmt.Errorf("sealed value is too short")
	}
	nonce, ciphertext := payload[:aead.NonceSize()], payload[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to decrypt sealed value: %w", err)
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("unable to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("unable to create gcm: %w", err)
	}
	return aead, nil
}
