package syncer

import (
	"errors"

	apperrors "github.com/alexjbarnes/checklist-sync/internal/errors"
)

// DefaultMaxAuthRetries bounds consecutive authorization failures before
// the engine gives up and reports FAILED.
const DefaultMaxAuthRetries = 3

// Class is the recovery class of a pass failure.
type Class int

const (
	// ClassFatal failures end the pass in FAILED.
	ClassFatal Class = iota
	// ClassReauthenticate failures are cured by a fresh token.
	ClassReauthenticate
)

// Classify maps an error to its recovery class. Only authorization
// failures are recoverable.
func Classify(err error) Class {
	if errors.Is(err, apperrors.ErrUnauthorized) {
		return ClassReauthenticate
	}

	return ClassFatal
}

// Verdict is what the engine does after a failed pass.
type Verdict int

const (
	VerdictFatal Verdict = iota
	VerdictReauthenticate
	VerdictExhausted
)

func (v Verdict) String() string {
	switch v {
	case VerdictReauthenticate:
		return "reauthenticate"
	case VerdictExhausted:
		return "exhausted"
	}

	return "fatal"
}

// RetryPolicy counts consecutive authorization failures. It is owned by
// the engine and only touched from the goroutine running a pass.
type RetryPolicy struct {
	max      int
	failures int
}

// NewRetryPolicy returns a policy allowing max authorization failures.
// Non-positive values fall back to DefaultMaxAuthRetries.
func NewRetryPolicy(max int) *RetryPolicy {
	if max <= 0 {
		max = DefaultMaxAuthRetries
	}

	return &RetryPolicy{max: max}
}

// Observe records a failed pass and returns the verdict for it.
func (p *RetryPolicy) Observe(err error) Verdict {
	if Classify(err) != ClassReauthenticate {
		return VerdictFatal
	}

	p.failures++

	if p.failures >= p.max {
		return VerdictExhausted
	}

	return VerdictReauthenticate
}

// Failures returns the current consecutive authorization failure count.
func (p *RetryPolicy) Failures() int {
	return p.failures
}

// Reset clears the counter. Call only after a fully successful pass.
func (p *RetryPolicy) Reset() {
	p.failures = 0
}
