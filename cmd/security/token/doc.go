// Package token provides key material primitives for access tokens.
//
// It is the single source of truth for:
// - Access token secrets: fixed-size random keys stored with the token record.
// - Session keys: per-session keys derived from the token secret with HKDF-SHA256
//   and a random salt, so two sessions of one token never share a key.
// - Fingerprints: short SHA-256 hex prefixes safe to put in logs instead of ids/secrets.
package token
