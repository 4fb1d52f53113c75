package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingCredential is returned at startup when a required credential
// environment variable is absent. It is fatal: the process must exit non-zero.
var ErrMissingCredential = errors.New("missing credential")

// ErrorKind classifies a failure from an external API so callers can decide
// whether retrying makes sense.
type ErrorKind string

const (
	// KindNetwork covers connection failures and timeouts. Retryable.
	KindNetwork ErrorKind = "network"
	// KindServer covers 5xx responses. Retryable.
	KindServer ErrorKind = "server"
	// KindRateLimited covers 429 responses. Retryable with a longer backoff
	// that honors the server's retry hint when one was provided.
	KindRateLimited ErrorKind = "rate_limited"
	// KindAuth covers 401/403 responses (bad credentials). Terminal.
	KindAuth ErrorKind = "auth"
	// KindInvalidRequest covers 4xx responses for malformed requests. Terminal.
	KindInvalidRequest ErrorKind = "invalid_request"
	// KindDelivery marks a failure to deliver an outbound message to the
	// chat platform. Terminal: logged, never retried by the relay.
	KindDelivery ErrorKind = "delivery"
)

// APIError is a classified failure from an external API (the model provider
// or the chat platform).
type APIError struct {
	Kind       ErrorKind
	Provider   string
	Status     int           // HTTP status, 0 for transport failures
	RetryAfter time.Duration // rate-limit hint, 0 when the server gave none
	Message    string
	Err        error // underlying cause, may be nil
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %s", e.Provider, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is expected to resolve on retry.
func (e *APIError) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindServer, KindRateLimited:
		return true
	}
	return false
}

// Retryable reports whether err is a transient APIError. Errors that carry
// no classification are treated as terminal.
func Retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}

// RetryHint extracts the rate-limit retry hint from err, or 0.
func RetryHint(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}
