package token

import "errors"

// Public, stable errors for callers.
var (
	ErrSecretSize   = errors.New("token secret has invalid size")
	ErrKeySize      = errors.New("session key size out of range")
	ErrRandomSource = errors.New("random source failed")
)
