package access

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a token record does not exist (or the id is malformed).
	ErrNotFound = errors.New("access token not found")

	// ErrInvalidInput is returned for invalid create/update arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCorrupt is returned when a record file parses but does not describe the token it is named after.
	ErrCorrupt = errors.New("corrupt token record")
)

// OpError is a typed store error with a stable Op + Kind contract for callers/tests.
// Kind is one of the sentinel errors above or the underlying I/O error.
type OpError struct {
	Op      string
	TokenID string
	Kind    error
}

func (e OpError) Error() string {
	if e.TokenID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.TokenID, e.Kind)
}

func (e OpError) Unwrap() error { return e.Kind }

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func notFound(op, tokenID string) error {
	return OpError{Op: op, TokenID: tokenID, Kind: ErrNotFound}
}
