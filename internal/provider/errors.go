package provider

import (
	"errors"
	"fmt"
)

// Dispatch error classes. The dispatcher retries differently per class, so
// adapters must map provider responses onto exactly one of these.
var (
	// ErrConcurrencyLimit: the account's active-call ceiling is exceeded.
	ErrConcurrencyLimit = errors.New("provider: concurrency limit exceeded")

	// ErrRateLimited: HTTP 429 or equivalent on the API itself.
	ErrRateLimited = errors.New("provider: rate limited")
)

// CallError is a terminal provider failure; the dispatcher does not retry it.
type CallError struct {
	StatusCode int
	Message    string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("provider: call failed (status %d): %s", e.StatusCode, e.Message)
}

func IsConcurrencyLimit(err error) bool { return errors.Is(err, ErrConcurrencyLimit) }

func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }
