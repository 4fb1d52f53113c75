package provider

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"mootbot/internal/domain"
)

// classifyStatus maps an HTTP error status to a domain.APIError so the
// relay can tell retryable failures from terminal ones.
func classifyStatus(providerName string, status int, body string, retryAfter time.Duration) *domain.APIError {
	kind := domain.KindInvalidRequest
	switch {
	case status == http.StatusTooManyRequests:
		kind = domain.KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = domain.KindAuth
	case status >= 500:
		kind = domain.KindServer
	}
	return &domain.APIError{
		Kind:       kind,
		Provider:   providerName,
		Status:     status,
		RetryAfter: retryAfter,
		Message:    body,
	}
}

// classifyTransport wraps a transport-level failure (DNS, connect, timeout)
// as a retryable network error. Only when the caller's own context has
// ended does the error pass through unchanged, so abandonment stays
// distinguishable from failure. A client-side timeout also surfaces as
// context.DeadlineExceeded, but with the caller's context still live it is
// an ordinary network failure and must stay retryable.
func classifyTransport(ctx context.Context, providerName string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &domain.APIError{
		Kind:     domain.KindNetwork,
		Provider: providerName,
		Message:  err.Error(),
		Err:      err,
	}
}

// parseRetryAfter reads a Retry-After header value in seconds, or 0.
func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
