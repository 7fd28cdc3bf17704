// Package ids provides the id primitives used for access tokens.
//
// Token ids double as storage keys (file names), so anything that did not
// come out of NewTokenID must pass ParseTokenID before it reaches the disk.
// New tokens get ULIDs; tokens migrated from the v1 format keep their UUIDs.
package ids

import (
	"crypto/rand"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ErrInvalidID is returned when a string is not a canonical token id.
var ErrInvalidID = errors.New("invalid id")

// NewTokenID returns a new lowercase ULID (26 chars).
func NewTokenID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return strings.ToLower(id.String()), nil
}

// ParseTokenID validates s and returns its canonical lowercase form.
// It accepts ULIDs and, for migrated v1 tokens, UUIDs.
func ParseTokenID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) == ulid.EncodedSize {
		id, err := ulid.ParseStrict(strings.ToUpper(s))
		if err != nil {
			return "", ErrInvalidID
		}
		return strings.ToLower(id.String()), nil
	}

	// uuid.Parse also takes urn and braced forms; only the plain 36-char form is a valid key.
	if len(s) != 36 {
		return "", ErrInvalidID
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", ErrInvalidID
	}
	return u.String(), nil
}
