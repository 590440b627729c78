package errors

import (
	"errors"
	"fmt"
)

// Authorization errors. ErrNoToken wraps ErrUnauthorized so callers only
// need to check the latter.
var (
	ErrUnauthorized = errors.New("not authorized")
	ErrNoToken      = fmt.Errorf("%w: no cached token", ErrUnauthorized)
)

// Server/transport errors.
var (
	ErrAPIRequest  = errors.New("API request failed")
	ErrAPIResponse = errors.New("unexpected API response")
)

// Sync engine errors.
var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrRetriesExhausted  = errors.New("authorization retries exhausted")
	ErrInvalidDocument   = errors.New("invalid checklist document")
	ErrInvalidName       = errors.New("invalid document name")
)
