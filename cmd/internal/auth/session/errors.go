package session

import "errors"

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("invalid config")
