package drive

import (
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"google.golang.org/api/googleapi"

	apperrors "github.com/alexjbarnes/checklist-sync/internal/errors"
)

// TransientError wraps an error that is likely temporary. The engine
// still fails the pass on it; Client logs the distinction.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side condition.
func isTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// rateLimitReasons are the Drive error reasons that come back as 403 but
// mean "slow down", not "not allowed".
var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
}

// statusError maps a failed Drive response to the error taxonomy the
// engine understands.
func statusError(op string, code int, body []byte) error {
	msg := errorMessage(body)
	reason := gjson.GetBytes(body, "error.errors.0.reason").String()

	switch {
	case code == http.StatusForbidden && rateLimitReasons[reason]:
		return &TransientError{Err: fmt.Errorf("%s: %w (%d %s): %s", op, apperrors.ErrAPIResponse, code, reason, msg)}

	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%s: %w (%d): %s", op, apperrors.ErrUnauthorized, code, msg)

	case isTransientStatus(code):
		return &TransientError{Err: fmt.Errorf("%s: %w (%d): %s", op, apperrors.ErrAPIResponse, code, msg)}
	}

	return fmt.Errorf("%s: %w (%d): %s", op, apperrors.ErrAPIResponse, code, msg)
}

// wrapError classifies an error returned by the Drive service or the
// HTTP stack.
func wrapError(op string, err error) error {
	if errors.Is(err, apperrors.ErrUnauthorized) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		body := []byte(gerr.Body)
		if len(body) == 0 {
			body = []byte(gerr.Message)
		}

		return statusError(op, gerr.Code, body)
	}

	// Network errors (timeouts, connection refused, DNS failures) are
	// transient by nature.
	return &TransientError{Err: fmt.Errorf("%s: %w: %w", op, apperrors.ErrAPIRequest, err)}
}

// errorMessage extracts error.message from a Google JSON error body,
// falling back to the sanitized raw body.
func errorMessage(body []byte) string {
	if m := gjson.GetBytes(body, "error.message"); m.Exists() {
		return sanitizeResponseBody([]byte(m.String()))
	}

	return sanitizeResponseBody(body)
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}
