package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// SecretSize is the size in bytes of an access token secret.
	SecretSize = 16

	// MinSessionKeySize and MaxSessionKeySize bound derived session keys.
	MinSessionKeySize = 16
	MaxSessionKeySize = 64

	saltSize = 16
)

// NewSecret returns SecretSize cryptographically secure random bytes.
func NewSecret() ([]byte, error) {
	b := make([]byte, SecretSize)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRandomSource, err)
	}
	return b, nil
}

// DeriveSessionKey derives a size-byte session key from the token secret.
// The info string binds the key to one session; a fresh random salt is drawn per call.
func DeriveSessionKey(secret []byte, info string, size int) ([]byte, error) {
	if len(secret) != SecretSize {
		return nil, ErrSecretSize
	}
	if size < MinSessionKeySize || size > MaxSessionKeySize {
		return nil, ErrKeySize
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRandomSource, err)
	}

	key := make([]byte, size)
	r := hkdf.New(sha256.New, secret, salt, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Fingerprint returns the first 12 hex chars of SHA-256(s).
func Fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:6])
}
